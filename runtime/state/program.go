package state

import "github.com/fieldgraph/engine/core/ids"

// Shape2DRecord is the fixed 8-word packed record a shape2d storage slot
// holds (spec §3 SlotMeta): topologyId, pointsFieldSlot, pointsCount,
// styleRef, flags, and three reserved words kept for forward-compatible
// packing without reshaping every shape2d buffer.
type Shape2DRecord struct {
	TopologyID      uint32
	PointsFieldSlot ids.ValueSlot
	PointsCount     uint32
	StyleRef        uint32
	Flags           uint32
	Reserved        [3]uint32
}

// ValueStore is the ValueSlot-indexed storage backing one ProgramState:
// one dense array per SlotMeta.Storage kind (spec §3 `values{f64, objects,
// shape2d}`). F32/I32/U32 share the Objects array boxed by the
// materializer, since only f64 and shape2d see wide enough traffic to
// warrant a dedicated array.
type ValueStore struct {
	F64     []float64
	Objects []any
	Shape2D []Shape2DRecord
}

// EvalCache memoizes per-frame evalValue results by ValueExprId, stamped
// with the frame they were computed in so a stale read from a previous
// frame is never mistaken for this frame's value (spec §4.6/§4.7).
type EvalCache struct {
	FrameID     uint64
	SigValues   map[ids.ValueExprId]float64
	SigStamps   map[ids.ValueExprId]uint64
	FieldBuffers map[ids.ValueExprId]any
	FieldStamps  map[ids.ValueExprId]uint64
}

// NewEvalCache creates an empty cache for frame 0.
func NewEvalCache() EvalCache {
	return EvalCache{
		SigValues:    map[ids.ValueExprId]float64{},
		SigStamps:    map[ids.ValueExprId]uint64{},
		FieldBuffers: map[ids.ValueExprId]any{},
		FieldStamps:  map[ids.ValueExprId]uint64{},
	}
}

// EventOccurrence is one {key, value} pair recorded against an event slot
// this frame.
type EventOccurrence struct {
	Key   string
	Value float64
}

// ProgramState is the per-compile storage the frame executor owns
// exclusively (spec §3): value slots, the per-frame eval cache, the
// persistent state array, and the event machinery. It is recreated on
// every successful compile; only the values named by a StableStateId
// present in both the old and new program survive, via Migrate.
type ProgramState struct {
	Values ValueStore
	Cache  EvalCache

	// State holds one f64 per StateSlot, migrated across recompiles by
	// StableStateId (spec §4.6 hot-swap rule, invariant 11).
	State []float64

	// EventPrevPredicate/EventCycleDetection are one byte per ValueExprId
	// (spec §4.8's "per-expression tripwire"), sized to the arena rather
	// than to EventSlotCount: most expressions never touch them, but every
	// ExprEvent node's id must address a valid cell. EventPrevPredicate
	// carries the previous frame's wrap predicate forward for edge
	// detection; EventCycleDetection is set to 1 on entry to Eval and
	// cleared on exit, raising CycleInEventEval on re-entry.
	EventPrevPredicate  []byte
	EventCycleDetection []byte

	// EventScalars is one byte per EventSlot — this frame's fired/not-fired
	// flag for each reserved event-read slot.
	EventScalars []byte

	// Events holds this frame's combine{any,all} occurrence lists, keyed by
	// EventSlot; cleared at the start of every frame (spec §4.6 step 2).
	Events map[ids.EventSlot][]EventOccurrence
}

// NewProgramState allocates a ProgramState sized for a freshly compiled
// program: valueSlotCount value slots, stateSlotCount persistent-state
// cells, eventSlotCount event-read slots, and arenaLen ValueExpr nodes
// (for the per-expression event tripwire/predicate arrays).
func NewProgramState(valueSlotCount, stateSlotCount, eventSlotCount, arenaLen int) *ProgramState {
	return &ProgramState{
		Values: ValueStore{
			F64:     make([]float64, valueSlotCount),
			Objects: make([]any, valueSlotCount),
			Shape2D: make([]Shape2DRecord, valueSlotCount),
		},
		Cache: NewEvalCache(),
		State:  make([]float64, stateSlotCount),

		EventScalars:        make([]byte, eventSlotCount),
		EventPrevPredicate:  make([]byte, arenaLen),
		EventCycleDetection: make([]byte, arenaLen),
		Events:              map[ids.EventSlot][]EventOccurrence{},
	}
}

// ResetFrame clears the per-frame-only fields at frame start (spec §4.6
// step 2: "resolve_time / clear eventScalars+events"). EventPrevPredicate
// is deliberately untouched — it carries last frame's predicate forward
// for edge detection.
func (ps *ProgramState) ResetFrame(frameID uint64) {
	ps.Cache.FrameID = frameID
	for i := range ps.EventScalars {
		ps.EventScalars[i] = 0
	}
	for k := range ps.Events {
		delete(ps.Events, k)
	}
}

// StateMapping is the local form of schedule.StateMapping that Migrate
// takes: only the state slot index. Swap converts the compiled schedule's
// mappings to it with toLocalMappings.
type StateMapping struct {
	SlotIndex ids.StateSlot
}

// Migrate builds the State array for a newly compiled program from an old
// program's state, copying forward every StableStateId present in both
// oldMappings and newMappings; ids.StableStateId entries only in
// newMappings are left at their initialValue, and entries only in
// oldMappings are dropped (spec §4.6 hot-swap rule, invariant 11).
func Migrate(old []float64, oldMappings, newMappings map[ids.StableStateId]StateMapping, newStateSlotCount int, initialValues map[ids.StableStateId]float64) []float64 {
	next := make([]float64, newStateSlotCount)
	for id, init := range initialValues {
		if m, ok := newMappings[id]; ok {
			next[m.SlotIndex] = init
		}
	}
	for id, newM := range newMappings {
		if oldM, ok := oldMappings[id]; ok && int(oldM.SlotIndex) < len(old) {
			next[newM.SlotIndex] = old[oldM.SlotIndex]
		}
	}
	return next
}
