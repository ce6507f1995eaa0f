package state

import (
	"sync"

	"github.com/fieldgraph/engine/core/ids"
	"github.com/fieldgraph/engine/core/program"
	"github.com/fieldgraph/engine/core/schedule"
	"github.com/fieldgraph/engine/core/types"
)

// RuntimeState is SessionState ⊕ ProgramState (spec §3): the session half
// survives a hot-swap, the program half is rebuilt by every successful
// compile and swapped in atomically by Swap. Compiled mirrors the
// sessionRuntime lock/defer-unlock idiom: the mutex only ever guards the
// swap itself, never a frame's worth of evaluation.
type RuntimeState struct {
	mu        sync.Mutex
	session   *SessionState
	compiled  *program.CompiledProgram
	prg       *ProgramState
	mappings  map[ids.StableStateId]StateMapping
	initials  map[ids.StableStateId]float64
}

// New creates a RuntimeState with no compiled program yet; Swap must be
// called with a first successful compile before frames can run.
func New() *RuntimeState {
	return &RuntimeState{session: NewSessionState()}
}

// Snapshot is the program+state pair the executor reads at frame start,
// taken under RuntimeState's lock so a concurrent Swap can never hand the
// executor a ProgramState that doesn't match its CompiledProgram.
type Snapshot struct {
	Session  *SessionState
	Compiled *program.CompiledProgram
	Program  *ProgramState
}

// Current returns the session state and the most recently swapped-in
// compiled program and program state, or ok=false if no compile has
// succeeded yet.
func (rs *RuntimeState) Current() (Snapshot, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.compiled == nil {
		return Snapshot{}, false
	}
	return Snapshot{Session: rs.session, Compiled: rs.compiled, Program: rs.prg}, true
}

// Swap installs a newly compiled program, migrating persistent state by
// StableStateId from the previous program (if any) and leaving
// SessionState untouched (spec §3 ownership rules, §4.6 hot-swap). It is
// the only write path for rs.compiled/rs.prg, so a failed compile (which
// never reaches Swap) leaves the previously running program exposed
// unchanged (spec §7 atomicity).
func (rs *RuntimeState) Swap(compiled *program.CompiledProgram, initialValues map[ids.StableStateId]float64) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	// Size the value store so every stepped slot has room for its full stride.
	valueSlotCount := len(compiled.SlotMeta)
	for _, step := range compiled.Schedule.Steps {
		if step.Slot == nil {
			continue
		}
		end := int(*step.Slot) + 1
		if s := compiled.ValueExprs[step.Expr].Type.Payload.Stride(); s > 1 {
			end = int(*step.Slot) + s
		}
		if end > valueSlotCount {
			valueSlotCount = end
		}
	}
	newMappings := toLocalMappings(compiled.Schedule.StateMappings)

	next := NewProgramState(valueSlotCount, compiled.Schedule.StateSlotCount, compiled.Schedule.EventSlotCount, len(compiled.ValueExprs))
	if rs.prg != nil {
		next.State = Migrate(rs.prg.State, rs.mappings, newMappings, compiled.Schedule.StateSlotCount, initialValues)
	} else {
		next.State = Migrate(nil, nil, newMappings, compiled.Schedule.StateSlotCount, initialValues)
	}

	rs.compiled = compiled
	rs.prg = next
	rs.mappings = newMappings
	rs.initials = initialValues
}

func toLocalMappings(in map[ids.StableStateId]schedule.StateMapping) map[ids.StableStateId]StateMapping {
	out := make(map[ids.StableStateId]StateMapping, len(in))
	for k, v := range in {
		out[k] = StateMapping{SlotIndex: v.SlotIndex}
	}
	return out
}

// InitialValueOf extracts a float64 out of a types.ConstValue for seeding
// newly introduced persistent state; persistent state cells are always
// scalar f64 (spec §3 `state:f64[]`), so only the first lane is kept.
func InitialValueOf(v types.ConstValue) float64 {
	lanes := v.Lanes()
	if len(lanes) == 0 {
		return 0
	}
	return lanes[0]
}
