package eventbus

import "github.com/fieldgraph/engine/runtime/state"

// SwapMode names how a newly compiled program replaced the running one
// (spec §6): soft keeps frame continuity (SessionState survives), hard
// discards it.
type SwapMode string

const (
	SwapSoft SwapMode = "soft"
	SwapHard SwapMode = "hard"
)

// GraphCommitted is emitted when a patch edit is committed, before any
// compile is triggered.
type GraphCommitted struct {
	PatchID       string
	PatchRevision int
	Reason        string
	DiffSummary   string
}

// CompileBegin is emitted when Compile starts running against a committed
// patch revision.
type CompileBegin struct {
	CompileID     string
	PatchID       string
	PatchRevision int
	Trigger       string
}

// CompileEnd is emitted when Compile returns, successfully or not.
type CompileEnd struct {
	CompileID     string
	PatchID       string
	PatchRevision int
	Status        string // "ok" or "error"
	DurationMs    float64
	Diagnostics   []string
}

// ProgramSwapped is emitted after RuntimeState.Swap installs a newly
// compiled program.
type ProgramSwapped struct {
	PatchID       string
	PatchRevision int
	CompileID     string
	SwapMode      SwapMode
}

// RuntimeHealthSnapshot mirrors state.HealthState at one point in time,
// published periodically by a host rather than every frame (spec §7).
type RuntimeHealthSnapshot struct {
	TMs          float64
	FrameBudget  FrameBudget
	EvalStats    EvalStats
}

// FrameBudget is RuntimeHealthSnapshot's frameBudget sub-object.
type FrameBudget struct {
	FPSEstimate float64
	AvgFrameMs  float64
}

// EvalStats is RuntimeHealthSnapshot's evalStats sub-object.
type EvalStats struct {
	FieldMaterializations uint64
	NaNCount              uint64
	InfCount              uint64
}

// HealthSnapshotFromState converts a runtime HealthState into the wire
// event shape, stamping it with the frame time it was observed at.
func HealthSnapshotFromState(tMs float64, h state.HealthState) RuntimeHealthSnapshot {
	return RuntimeHealthSnapshot{
		TMs: tMs,
		FrameBudget: FrameBudget{
			FPSEstimate: h.FPSEstimate,
			AvgFrameMs:  h.AvgFrameMs,
		},
		EvalStats: EvalStats{
			FieldMaterializations: h.FieldMaterializations,
			NaNCount:              h.NaNCount,
			InfCount:              h.InfCount,
		},
	}
}
