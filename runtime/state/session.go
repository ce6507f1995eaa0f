// Package state implements RuntimeState = SessionState ⊕ ProgramState: the
// session-scoped storage that survives a hot-swap (time, external input
// double buffer, health, continuity) and the per-compile storage the frame
// executor mutates (value slots, caches, persistent state cells).
package state

import (
	"math"
	"sync"

	"github.com/fieldgraph/engine/core/schedule"
)

// TimeState is the session-scoped clock driving resolve_time across
// recompiles: a hot-swap never resets progress or the last-seen tAbsMs.
type TimeState struct {
	lastTMs float64
	started bool
}

// FrameTime is the resolved set of time channels a frame's `time{which}`
// nodes read.
type FrameTime struct {
	TMs      float64
	Dt       float64
	PhaseA   float64
	PhaseB   float64
	Pulse    float64
	Energy   float64
	Progress float64
}

// ResolveTime derives this frame's FrameTime from tAbsMs and the compiled
// program's TimeModel, advancing ts in place. Finite models clamp Progress
// to [0, duration] (§5 ordering guarantee 4); infinite and cyclic models
// leave Progress at 0. PhaseA/PhaseB wrap into [0,1) against the model's
// configured periods; Pulse and Energy have no richer derivation specified
// than "driven by the frame policy" (§4.8), so they are left at the
// zero-crossing/zero defaults documented in DESIGN.md as a simplification.
func (ts *TimeState) ResolveTime(tAbsMs float64, model schedule.TimeModel) FrameTime {
	dt := 0.0
	if ts.started {
		dt = tAbsMs - ts.lastTMs
	}
	ts.lastTMs = tAbsMs
	ts.started = true

	tMs := tAbsMs
	progress := 0.0
	if model.Kind == schedule.TimeFinite && model.Duration > 0 {
		progress = clamp(tAbsMs, 0, model.Duration)
	}

	phaseA := wrapPhase(tMs, model.PeriodA)
	phaseB := wrapPhase(tMs, model.PeriodB)

	return FrameTime{TMs: tMs, Dt: dt, PhaseA: phaseA, PhaseB: phaseB, Progress: progress}
}

func wrapPhase(tMs float64, period *float64) float64 {
	if period == nil || *period == 0 {
		return 0
	}
	p := math.Mod(tMs / *period, 1)
	if p < 0 {
		p += 1
	}
	return p
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ExternalChannels is the double-buffered external-input boundary: writers
// call Stage at any time; the executor calls Commit exactly once at frame
// start, copying staging into committed so every read during evaluation
// sees one consistent snapshot for the whole frame (§5, invariant 12).
// The mutex guards both maps the same way the teacher's sessionRuntime
// guards its session map — a single lock around the small staging/commit
// critical sections, not around evaluation reads (Get reads only from the
// already-committed map under its own short lock).
type ExternalChannels struct {
	mu        sync.Mutex
	staging   map[string]float64
	committed map[string]float64
}

// NewExternalChannels creates an empty double buffer.
func NewExternalChannels() *ExternalChannels {
	return &ExternalChannels{staging: map[string]float64{}, committed: map[string]float64{}}
}

// Stage records value for name in the staging map, visible only after the
// next Commit.
func (c *ExternalChannels) Stage(name string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staging[name] = value
}

// Commit copies staging into committed. Called exactly once per frame, at
// frame start, before any signal evaluation.
func (c *ExternalChannels) Commit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.staging {
		c.committed[k] = v
	}
}

// Get returns the committed value for name, or 0 for an unknown channel
// (§5: "get(name) returns 0 for unknown channels").
func (c *ExternalChannels) Get(name string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed[name]
}

// HealthState is the aggregated, per-frame-window health snapshot fed into
// RuntimeHealthSnapshot events — aggregated, not per-occurrence (§7).
type HealthState struct {
	FPSEstimate          float64
	AvgFrameMs           float64
	FieldMaterializations uint64
	NaNCount              uint64
	InfCount              uint64
}

// ContinuityConfig configures the continuity engine's smoothing policy.
type ContinuityConfig struct {
	DefaultPolicy string
}

// InstanceDomain records the last-seen shape of one field instance, for
// continuityMapBuild to detect a domain-size or identity change against.
type InstanceDomain struct {
	Count  int
	Region string
}

// ContinuityState is the session-scoped continuity clock and per-instance
// domain history (§5 "Continuity engine").
type ContinuityState struct {
	Clock       uint64
	PrevDomains map[string]InstanceDomain
}

// NewContinuityState creates an empty continuity state.
func NewContinuityState() *ContinuityState {
	return &ContinuityState{PrevDomains: map[string]InstanceDomain{}}
}

// Tap is an optional session-scoped observer hook (e.g. a step debugger)
// invoked by the executor; nil when no tap is attached.
type Tap interface {
	OnFrame(frameID uint64)
}

// SessionState is the part of RuntimeState that survives a hot-swap
// (spec §3): the clock, the external input double buffer, the aggregated
// health snapshot, and the continuity engine's cross-frame memory.
type SessionState struct {
	Time             TimeState
	External         *ExternalChannels
	Health           HealthState
	Continuity       *ContinuityState
	ContinuityConfig ContinuityConfig
	Tap              Tap
}

// NewSessionState creates a fresh session, the state a new RuntimeState
// starts with before its first compile.
func NewSessionState() *SessionState {
	return &SessionState{
		External:   NewExternalChannels(),
		Continuity: NewContinuityState(),
	}
}
