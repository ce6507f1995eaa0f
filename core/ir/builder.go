package ir

import (
	"fmt"
	"sort"

	"github.com/fieldgraph/engine/core/ids"
	"github.com/fieldgraph/engine/core/invariant"
	"github.com/fieldgraph/engine/core/types"
)

// Builder owns the dense, append-only ValueExpr arena plus the value-slot
// and state-slot allocators. All constructors are content-addressable:
// identical (kind, operands, type) always returns the same id.
type Builder struct {
	arena []ValueExpr
	dedup map[string]ids.ValueExprId

	nextSlot ids.ValueSlot

	stateSlots   map[ids.StableStateId]ids.StateSlot
	stateInitial map[ids.StateSlot]types.ConstValue
	nextState    ids.StateSlot

	// pendingState holds, per StableStateId, the ExprState node a block's
	// lower() created to read its own not-yet-bound state. The binding
	// pass patches these to a real StateSlot once one is assigned.
	pendingState map[ids.StableStateId]ids.ValueExprId

	nextEventSlot ids.EventSlot
}

// NewBuilder creates an empty arena.
func NewBuilder() *Builder {
	return &Builder{
		dedup:        map[string]ids.ValueExprId{},
		stateSlots:   map[ids.StableStateId]ids.StateSlot{},
		stateInitial: map[ids.StateSlot]types.ConstValue{},
	}
}

// Arena returns the backing node slice by index (read-only view for the
// lowering/scheduling passes). Index i corresponds to ids.ValueExprId(i).
func (b *Builder) Arena() []ValueExpr { return b.arena }

// Node returns the node at id, for callers (scheduler, executor, tests)
// that already hold a ValueExprId.
func (b *Builder) Node(id ids.ValueExprId) ValueExpr {
	invariant.Precondition(int(id) < len(b.arena), "value expr id %d out of range", id)
	return b.arena[id]
}

func (b *Builder) intern(key string, node ValueExpr) ids.ValueExprId {
	if existing, ok := b.dedup[key]; ok {
		return existing
	}
	id := ids.ValueExprId(len(b.arena))
	node.ID = id
	b.arena = append(b.arena, node)
	b.dedup[key] = id
	return id
}

// Constant creates (or reuses) a const node. Fails invariant I3 if value's
// payload tag does not match t.Payload.
func (b *Builder) Constant(value types.ConstValue, t types.CanonicalType) (ids.ValueExprId, error) {
	if err := value.Validate(t.Payload); err != nil {
		return 0, fmt.Errorf("ir.Constant: %w", err)
	}
	key := fmt.Sprintf("const|%v|%v", t, value)
	return b.intern(key, ValueExpr{Kind: ExprConst, Type: t, ConstValue: value}), nil
}

// Intrinsic creates a property-kind intrinsic node (index, normalizedIndex,
// randomId).
func (b *Builder) Intrinsic(prop Property, t types.CanonicalType) ids.ValueExprId {
	key := fmt.Sprintf("intrinsic|prop|%v|%v", prop, t)
	return b.intern(key, ValueExpr{Kind: ExprIntrinsic, Type: t, IntrinsicKind: IntrinsicProperty, Property: prop})
}

// Placement creates a placement-kind intrinsic node (uv/rank/seed via a
// chosen basis).
func (b *Builder) Placement(field PlacementField, basis PlacementBasis, t types.CanonicalType) ids.ValueExprId {
	key := fmt.Sprintf("intrinsic|placement|%v|%v|%v", field, basis, t)
	return b.intern(key, ValueExpr{
		Kind: ExprIntrinsic, Type: t, IntrinsicKind: IntrinsicPlacement,
		PlacementField: field, PlacementBasis: basis,
	})
}

// Map creates a unary kernel{map} node.
func (b *Builder) Map(input ids.ValueExprId, fn PureFn, t types.CanonicalType) ids.ValueExprId {
	return b.kernelNode(KernelMap, []ids.ValueExprId{input}, fn, t)
}

// Zip creates an n-ary kernel{zip} node over field-extent operands.
func (b *Builder) Zip(inputs []ids.ValueExprId, fn PureFn, t types.CanonicalType) ids.ValueExprId {
	return b.kernelNode(KernelZip, inputs, fn, t)
}

// ZipSig creates a kernel{zipSig} node mixing field and signal operands.
func (b *Builder) ZipSig(inputs []ids.ValueExprId, fn PureFn, t types.CanonicalType) ids.ValueExprId {
	return b.kernelNode(KernelZipSig, inputs, fn, t)
}

// Broadcast creates a kernel{broadcast} node lifting a signal into field
// extent (or, evaluated in a signal context, simply yields the signal
// value unchanged — see runtime semantics).
func (b *Builder) Broadcast(signal ids.ValueExprId, t types.CanonicalType) ids.ValueExprId {
	return b.kernelNode(KernelBroadcast, []ids.ValueExprId{signal}, PureFn{}, t)
}

// Reduce creates a kernel{reduce} node folding a field down to a signal.
func (b *Builder) Reduce(field ids.ValueExprId, fn PureFn, t types.CanonicalType) ids.ValueExprId {
	return b.kernelNode(KernelReduce, []ids.ValueExprId{field}, fn, t)
}

// PathDerivative creates a kernel{pathDerivative} node (tangent or
// arc-length) over a field bound to topologyID.
func (b *Builder) PathDerivative(op PathDerivativeOp, field ids.ValueExprId, topologyID string, t types.CanonicalType) ids.ValueExprId {
	key := fmt.Sprintf("kernel|pathDerivative|%v|%d|%s|%v", op, field, topologyID, t)
	return b.intern(key, ValueExpr{
		Kind: ExprKernel, Type: t, KernelOp: KernelPathDerivative,
		Operands: []ids.ValueExprId{field}, PathOp: op, TopologyID: topologyID,
	})
}

func (b *Builder) kernelNode(op KernelOp, operands []ids.ValueExprId, fn PureFn, t types.CanonicalType) ids.ValueExprId {
	key := fmt.Sprintf("kernel|%v|%v|%v|%v", op, operands, fn, t)
	return b.intern(key, ValueExpr{Kind: ExprKernel, Type: t, KernelOp: op, Operands: append([]ids.ValueExprId{}, operands...), Fn: fn})
}

// Construct creates a construct node. The component count must equal the
// target type's payload stride.
func (b *Builder) Construct(components []ids.ValueExprId, t types.CanonicalType) (ids.ValueExprId, error) {
	if len(components) != t.Payload.Stride() {
		return 0, fmt.Errorf("ir.Construct: payload %s has stride %d, got %d components", t.Payload, t.Payload.Stride(), len(components))
	}
	key := fmt.Sprintf("construct|%v|%v", components, t)
	return b.intern(key, ValueExpr{Kind: ExprConstruct, Type: t, Components: append([]ids.ValueExprId{}, components...)}), nil
}

// Extract creates an extract node. componentIndex must be within the
// input's payload stride.
func (b *Builder) Extract(input ids.ValueExprId, componentIndex int, t types.CanonicalType) (ids.ValueExprId, error) {
	invariant.Precondition(int(input) < len(b.arena), "extract: input %d out of range", input)
	inStride := b.arena[input].Type.Payload.Stride()
	if componentIndex < 0 || componentIndex >= inStride {
		return 0, fmt.Errorf("ir.Extract: componentIndex %d out of bounds for stride %d", componentIndex, inStride)
	}
	key := fmt.Sprintf("extract|%v|%d|%v", input, componentIndex, t)
	return b.intern(key, ValueExpr{Kind: ExprExtract, Type: t, Input: input, ComponentIndex: componentIndex}), nil
}

// HslToRgb creates a per-lane HSL->RGB conversion node.
func (b *Builder) HslToRgb(input ids.ValueExprId, t types.CanonicalType) ids.ValueExprId {
	key := fmt.Sprintf("hslToRgb|%v|%v", input, t)
	return b.intern(key, ValueExpr{Kind: ExprHslToRgb, Type: t, Input: input})
}

// SlotRead creates a node reading a value-slot directly.
func (b *Builder) SlotRead(slot ids.ValueSlot, t types.CanonicalType) ids.ValueExprId {
	key := fmt.Sprintf("slotRead|%v|%v", slot, t)
	return b.intern(key, ValueExpr{Kind: ExprSlotRead, Type: t, Slot: slot})
}

// State creates a node reading a persistent state cell.
func (b *Builder) State(slot ids.StateSlot, t types.CanonicalType) ids.ValueExprId {
	key := fmt.Sprintf("state|%v|%v", slot, t)
	return b.intern(key, ValueExpr{Kind: ExprState, Type: t, StateSlot: slot})
}

// External creates a node reading an external input channel by name.
func (b *Builder) External(channel string, t types.CanonicalType) ids.ValueExprId {
	key := fmt.Sprintf("external|%s|%v", channel, t)
	return b.intern(key, ValueExpr{Kind: ExprExternal, Type: t, Channel: channel})
}

// Time creates a node reading one of the reserved time channels.
func (b *Builder) Time(which TimeWhich, t types.CanonicalType) ids.ValueExprId {
	key := fmt.Sprintf("time|%v|%v", which, t)
	return b.intern(key, ValueExpr{Kind: ExprTime, Type: t, TimeWhich: which})
}

// EventConstNode creates event{const{fired}}.
func (b *Builder) EventConstNode(fired bool) ids.ValueExprId {
	t := types.CanonicalEvent()
	key := fmt.Sprintf("event|const|%v", fired)
	return b.intern(key, ValueExpr{Kind: ExprEvent, Type: t, EventKind: EventConst, EventFired: fired})
}

// EventNeverNode creates event{never}.
func (b *Builder) EventNeverNode() ids.ValueExprId {
	t := types.CanonicalEvent()
	return b.intern("event|never", ValueExpr{Kind: ExprEvent, Type: t, EventKind: EventNever})
}

// EventPulseNode creates event{pulse{source}}.
func (b *Builder) EventPulseNode(source ids.ValueExprId) ids.ValueExprId {
	t := types.CanonicalEvent()
	key := fmt.Sprintf("event|pulse|%v", source)
	return b.intern(key, ValueExpr{Kind: ExprEvent, Type: t, EventKind: EventPulse, PulseSource: source})
}

// EventCombineNode creates event{combine{mode, inputs}}.
func (b *Builder) EventCombineNode(mode CombineMode, inputs []ids.ValueExprId) ids.ValueExprId {
	t := types.CanonicalEvent()
	key := fmt.Sprintf("event|combine|%v|%v", mode, inputs)
	return b.intern(key, ValueExpr{Kind: ExprEvent, Type: t, EventKind: EventCombine, CombineMode: mode, CombineInputs: append([]ids.ValueExprId{}, inputs...)})
}

// EventWrapNode creates event{wrap{input}}.
func (b *Builder) EventWrapNode(input ids.ValueExprId) ids.ValueExprId {
	t := types.CanonicalEvent()
	key := fmt.Sprintf("event|wrap|%v", input)
	return b.intern(key, ValueExpr{Kind: ExprEvent, Type: t, EventKind: EventWrap, WrapInput: input})
}

// EventRead creates a node reading an event slot's scalar for this frame.
func (b *Builder) EventRead(slot ids.EventSlot) ids.ValueExprId {
	t := types.CanonicalEvent()
	key := fmt.Sprintf("eventRead|%v", slot)
	return b.intern(key, ValueExpr{Kind: ExprEventRead, Type: t, EventSlot: slot})
}

// ShapeRef creates a node referencing a named shape topology, optionally
// with a field of control points.
func (b *Builder) ShapeRef(topologyID string, controlPoints *ids.ValueExprId, t types.CanonicalType) ids.ValueExprId {
	cp := ids.ValueExprId(0)
	has := false
	if controlPoints != nil {
		cp = *controlPoints
		has = true
	}
	key := fmt.Sprintf("shapeRef|%s|%v|%v|%v", topologyID, has, cp, t)
	node := ValueExpr{Kind: ExprShapeRef, Type: t, TopologyID: topologyID}
	if has {
		node.ControlPointField = &cp
	}
	return b.intern(key, node)
}

// AllocSlot allocates a fresh, never-reused value slot.
func (b *Builder) AllocSlot() ids.ValueSlot {
	s := b.nextSlot
	b.nextSlot++
	return s
}

// FindStateSlot looks up a previously declared state slot.
func (b *Builder) FindStateSlot(id ids.StableStateId) (ids.StateSlot, bool) {
	s, ok := b.stateSlots[id]
	return s, ok
}

// DeclareState allocates (or returns the existing) state slot for id, with
// initialValue used by the scheduler to seed the slot when no prior
// runtime state exists for it.
func (b *Builder) DeclareState(id ids.StableStateId, initialValue types.ConstValue) ids.StateSlot {
	if s, ok := b.stateSlots[id]; ok {
		return s
	}
	s := b.nextState
	b.nextState++
	b.stateSlots[id] = s
	b.stateInitial[s] = initialValue
	return s
}

// DeclareStateAt registers id at an explicit slot carried over from a prior
// compile's stateMap, so StableStateIds keep their slot number across
// recompiles. It bumps the allocator so later DeclareState calls never
// collide with it.
func (b *Builder) DeclareStateAt(id ids.StableStateId, slot ids.StateSlot, initialValue types.ConstValue) {
	if _, ok := b.stateSlots[id]; ok {
		return
	}
	b.stateSlots[id] = slot
	b.stateInitial[slot] = initialValue
	if slot >= b.nextState {
		b.nextState = slot + 1
	}
}

// PendingState creates (or reuses) an ExprState node for id before its real
// slot is known. The binding pass resolves id to a slot and patches every
// such node via PatchStateSlot.
func (b *Builder) PendingState(id ids.StableStateId, t types.CanonicalType) ids.ValueExprId {
	key := fmt.Sprintf("pendingState|%s|%v", id, t)
	exprID := b.intern(key, ValueExpr{Kind: ExprState, Type: t})
	if b.pendingState == nil {
		b.pendingState = map[ids.StableStateId]ids.ValueExprId{}
	}
	b.pendingState[id] = exprID
	return exprID
}

// PendingStateRef returns the node PendingState created for id, if any.
func (b *Builder) PendingStateRef(id ids.StableStateId) (ids.ValueExprId, bool) {
	exprID, ok := b.pendingState[id]
	return exprID, ok
}

// PatchStateSlot overwrites an ExprState node's slot in place once the
// binding pass has resolved it.
func (b *Builder) PatchStateSlot(exprID ids.ValueExprId, slot ids.StateSlot) {
	invariant.Precondition(int(exprID) < len(b.arena), "patch state slot: expr %d out of range", exprID)
	invariant.Precondition(b.arena[exprID].Kind == ExprState, "patch state slot: expr %d is not a state node", exprID)
	b.arena[exprID].StateSlot = slot
}

// AllocEventSlot allocates a fresh event slot.
func (b *Builder) AllocEventSlot() ids.EventSlot {
	s := b.nextEventSlot
	b.nextEventSlot++
	return s
}

// StateSlotCount returns the number of state slots allocated so far.
func (b *Builder) StateSlotCount() int { return int(b.nextState) }

// EventSlotCount returns the number of event slots allocated so far.
func (b *Builder) EventSlotCount() int { return int(b.nextEventSlot) }

// ValueSlotCount returns the number of value slots allocated so far.
func (b *Builder) ValueSlotCount() int { return int(b.nextSlot) }

// StateInitialValues returns a copy of the initial values declared so far,
// keyed by state slot, for the scheduler to seed a fresh ProgramState. The
// result is a map; it carries no iteration order.
func (b *Builder) StateInitialValues() map[ids.StateSlot]types.ConstValue {
	out := make(map[ids.StateSlot]types.ConstValue, len(b.stateInitial))
	for k, v := range b.stateInitial {
		out[k] = v
	}
	return out
}

// StateMappings returns the StableStateId -> StateSlot table, for
// publishing into ScheduleIR.stateMappings.
func (b *Builder) StateMappings() map[ids.StableStateId]ids.StateSlot {
	out := make(map[ids.StableStateId]ids.StateSlot, len(b.stateSlots))
	for k, v := range b.stateSlots {
		out[k] = v
	}
	return out
}

// SortedStateIds returns every declared StableStateId in lexical order —
// the determinism rule the binding pass depends on.
func (b *Builder) SortedStateIds() []ids.StableStateId {
	out := make([]ids.StableStateId, 0, len(b.stateSlots))
	for k := range b.stateSlots {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
