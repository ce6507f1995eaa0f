// Package schedule assembles a deterministic two-phase frame program
// (ScheduleIR) from a program's bound outputs, state writes, and render
// roots: Phase 1 steps (evalValue/materialize/render) run in dependency
// order; Phase 2 steps (stateWrite/fieldStateWrite) always run last.
package schedule

import (
	"fmt"
	"sort"

	"github.com/fieldgraph/engine/core/fgerr"
	"github.com/fieldgraph/engine/core/ids"
	"github.com/fieldgraph/engine/core/ir"
	"github.com/fieldgraph/engine/core/types"
)

// StepKind discriminates one ScheduleIR step.
type StepKind int

const (
	StepEvalValue StepKind = iota
	StepSlotWriteStrided
	StepMaterialize
	StepStateWrite
	StepFieldStateWrite
	StepContinuityMapBuild
	StepContinuityApply
	StepRender
)

func (k StepKind) String() string {
	names := [...]string{
		"evalValue", "slotWriteStrided", "materialize", "stateWrite",
		"fieldStateWrite", "continuityMapBuild", "continuityApply", "render",
	}
	if int(k) >= 0 && int(k) < len(names) {
		return names[k]
	}
	return fmt.Sprintf("StepKind(%d)", int(k))
}

// EvalStrategy selects how the executor evaluates an evalValue step.
type EvalStrategy int

const (
	StrategyContinuousScalar EvalStrategy = 0
	StrategyContinuousField  EvalStrategy = 1
	StrategyDiscreteScalar   EvalStrategy = 2
	StrategyDiscreteField    EvalStrategy = 3
)

// Step is one entry of ScheduleIR.Steps.
type Step struct {
	Kind       StepKind
	BlockID    string
	PortID     string
	Index      int
	Expr       ids.ValueExprId
	Slot       *ids.ValueSlot
	StateSlot  *ids.StateSlot
	Strategy   EvalStrategy
	InstanceID string
	Count      int
}

// StateKind discriminates a StateMapping entry.
type StateKind string

const (
	StateScalar StateKind = "scalar"
	StateField  StateKind = "field"
)

// StateMapping records where one StableStateId lives in runtime state.
type StateMapping struct {
	Kind      StateKind
	SlotIndex ids.StateSlot // scalar
	SlotStart ids.StateSlot // field
	LaneCount int           // field
}

// TimeModelKind discriminates TimeModel.
type TimeModelKind string

const (
	TimeInfinite TimeModelKind = "infinite"
	TimeCyclic   TimeModelKind = "cyclic"
	TimeFinite   TimeModelKind = "finite"
)

// TimeModel describes how tAbsMs maps to the program's time channels.
type TimeModel struct {
	Kind     TimeModelKind
	Duration float64
	PeriodA  *float64
	PeriodB  *float64
}

// OutputRequest asks the scheduler to emit an evalValue/materialize step
// for a bound output port.
type OutputRequest struct {
	BlockID    string
	PortID     string
	Expr       ids.ValueExprId
	Slot       *ids.ValueSlot
	InstanceID string // non-empty for field-extent (materialize) outputs
	Count      int
}

// StateWriteRequest asks the scheduler to emit a stateWrite/fieldStateWrite
// step for one resolved binding-pass write.
type StateWriteRequest struct {
	BlockID  string
	PortID   string
	StateKey ids.StableStateId
	Slot     ids.StateSlot
	Value    ids.ValueExprId
	Field    bool
	Count    int
}

// RenderRequest asks the scheduler to emit a render step.
type RenderRequest struct {
	BlockID string
	PortID  string
	Expr    ids.ValueExprId
}

// Input is everything Build needs to assemble a ScheduleIR.
type Input struct {
	Arena          []ir.ValueExpr
	Outputs        []OutputRequest
	StateWrites    []StateWriteRequest
	Renders        []RenderRequest
	Instances      []string
	StateMappings  map[ids.StableStateId]StateMapping
	StateSlotCount int
	EventSlotCount int
	EventCount     int
	TimeModel      TimeModel
}

// ScheduleIR is the scheduler's output: the frame executor iterates Steps
// exactly twice per frame — once skipping state writes, once running only
// state writes (see runtime/executor).
type ScheduleIR struct {
	Steps          []Step
	Instances      []string
	StateMappings  map[ids.StableStateId]StateMapping
	StateSlotCount int
	EventSlotCount int
	EventCount     int
	TimeModel      TimeModel
}

type stepRequest struct {
	blockID    string
	portID     string
	kind       StepKind
	expr       ids.ValueExprId
	slot       *ids.ValueSlot
	stateSlot  *ids.StateSlot
	instanceID string
	count      int
}

// Build assembles a ScheduleIR. It returns an error if the output/render
// dependency graph (via shared slot reads) contains a genuine cycle — the
// only intentional cycle shape, a state read feeding back into that same
// state's write, is excluded by construction (state reads never create a
// Phase-1 dependency edge; all writes are deferred to Phase 2).
func Build(in Input) (ScheduleIR, error) {
	phase1 := make([]stepRequest, 0, len(in.Outputs)+len(in.Renders))
	for _, o := range in.Outputs {
		phase1 = append(phase1, stepRequest{
			blockID: o.BlockID, portID: o.PortID, expr: o.Expr, slot: o.Slot,
			instanceID: o.InstanceID, count: o.Count,
			kind: evalKind(in.Arena, o.Expr, o.InstanceID),
		})
	}
	for _, r := range in.Renders {
		phase1 = append(phase1, stepRequest{blockID: r.BlockID, portID: r.PortID, expr: r.Expr, kind: StepRender})
	}
	sort.Slice(phase1, func(i, j int) bool { return lessRequest(phase1[i], phase1[j]) })

	steps := make([]Step, len(phase1))
	slotProducer := map[ids.ValueSlot]int{}
	for i, r := range phase1 {
		steps[i] = Step{
			Kind: r.kind, BlockID: r.blockID, PortID: r.portID, Index: i,
			Expr: r.expr, Slot: r.slot, InstanceID: r.instanceID, Count: r.count,
			Strategy: strategyFor(in.Arena, r.expr, r.kind),
		}
		if r.slot != nil {
			slotProducer[*r.slot] = i
		}
	}

	adj := make([][]int, len(steps))
	indeg := make([]int, len(steps))
	for i, s := range steps {
		deps := slotDependencies(in.Arena, s.Expr, slotProducer)
		for _, d := range deps {
			if d == i {
				continue
			}
			adj[d] = append(adj[d], i)
			indeg[i]++
		}
	}

	if scc := largestCycle(adj); len(scc) > 1 {
		return ScheduleIR{}, fgerr.New(fgerr.CodeScheduleCycle, "cyclic dependency among phase-1 steps").
			WithContext("cycle", scc)
	}

	order, err := topoSort(steps, adj, indeg)
	if err != nil {
		return ScheduleIR{}, err
	}
	ordered := make([]Step, len(order))
	for i, idx := range order {
		ordered[i] = steps[idx]
	}
	ordered = interleaveContinuity(ordered, in.Instances)

	phase2 := make([]stepRequest, 0, len(in.StateWrites))
	for _, w := range in.StateWrites {
		kind := StepStateWrite
		if w.Field {
			kind = StepFieldStateWrite
		}
		slot := w.Slot
		phase2 = append(phase2, stepRequest{
			blockID: w.BlockID, portID: w.PortID, kind: kind, expr: w.Value,
			count: w.Count, stateSlot: &slot,
		})
	}
	sort.Slice(phase2, func(i, j int) bool { return lessRequest(phase2[i], phase2[j]) })

	for i, r := range phase2 {
		ordered = append(ordered, Step{
			Kind: r.kind, BlockID: r.blockID, PortID: r.portID, Index: len(ordered) + i,
			Expr: r.expr, Count: r.count, StateSlot: r.stateSlot,
		})
	}

	instances := append([]string{}, in.Instances...)
	sort.Strings(instances)

	stateMappings := in.StateMappings
	if stateMappings == nil {
		stateMappings = map[ids.StableStateId]StateMapping{}
	}

	return ScheduleIR{
		Steps:          ordered,
		Instances:      instances,
		StateMappings:  stateMappings,
		StateSlotCount: in.StateSlotCount,
		EventSlotCount: in.EventSlotCount,
		EventCount:     in.EventCount,
		TimeModel:      in.TimeModel,
	}, nil
}

func lessRequest(a, b stepRequest) bool {
	if a.blockID != b.blockID {
		return a.blockID < b.blockID
	}
	return a.portID < b.portID
}

func evalKind(arena []ir.ValueExpr, expr ids.ValueExprId, instanceID string) StepKind {
	if instanceID != "" {
		return StepMaterialize
	}
	n := arena[expr]
	if n.Type.Extent.IsField() {
		return StepMaterialize
	}
	return StepEvalValue
}

func strategyFor(arena []ir.ValueExpr, expr ids.ValueExprId, kind StepKind) EvalStrategy {
	n := arena[expr]
	field := n.Type.Extent.Cardinality.Kind == types.CardinalityMany
	switch {
	case n.Type.Extent.IsEvent() && field:
		return StrategyDiscreteField
	case n.Type.Extent.IsEvent():
		return StrategyDiscreteScalar
	case kind == StepMaterialize:
		return StrategyContinuousField
	default:
		return StrategyContinuousScalar
	}
}

// slotDependencies walks expr's operand closure collecting every step
// index that produces a ValueSlot this subtree reads via slotRead. State
// reads are deliberately not walked into producers: a value this frame
// reads from state always sees the pre-frame value, never this frame's
// (Phase 2) write, so no Phase-1 edge is ever appropriate for them.
func slotDependencies(arena []ir.ValueExpr, root ids.ValueExprId, slotProducer map[ids.ValueSlot]int) []int {
	seen := map[ids.ValueExprId]bool{}
	var deps []int
	var walk func(id ids.ValueExprId)
	walk = func(id ids.ValueExprId) {
		if seen[id] {
			return
		}
		seen[id] = true
		n := arena[id]
		if n.Kind == ir.ExprSlotRead {
			if idx, ok := slotProducer[n.Slot]; ok {
				deps = append(deps, idx)
			}
		}
		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(root)
	return deps
}

func topoSort(steps []Step, adj [][]int, indeg []int) ([]int, error) {
	indegCopy := append([]int{}, indeg...)
	ready := []int{}
	for i, d := range indegCopy {
		if d == 0 {
			ready = append(ready, i)
		}
	}
	less := func(i, j int) bool {
		if steps[i].BlockID != steps[j].BlockID {
			return steps[i].BlockID < steps[j].BlockID
		}
		if steps[i].PortID != steps[j].PortID {
			return steps[i].PortID < steps[j].PortID
		}
		return steps[i].Index < steps[j].Index
	}
	sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })

	var order []int
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)
		for _, next := range adj[cur] {
			indegCopy[next]--
			if indegCopy[next] == 0 {
				ready = append(ready, next)
				sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
			}
		}
	}
	if len(order) != len(steps) {
		return nil, fgerr.New(fgerr.CodeScheduleCycle, "dependency cycle prevented a full topological order").
			WithContext("ordered", len(order)).
			WithContext("total", len(steps))
	}
	return order, nil
}

// largestCycle runs Tarjan's SCC algorithm and returns the biggest
// component found (size 1 means no real cycle).
func largestCycle(adj [][]int) []int {
	n := len(adj)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	var stack []int
	counter := 0
	var best []int

	var strongconnect func(v int)
	strongconnect = func(v int) {
		index[v] = counter
		low[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if index[w] == -1 {
				strongconnect(w)
				if low[w] < low[v] {
					low[v] = low[w]
				}
			} else if onStack[w] {
				if index[w] < low[v] {
					low[v] = index[w]
				}
			}
		}

		if low[v] == index[v] {
			var comp []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			if len(comp) > len(best) {
				best = comp
			}
		}
	}

	for v := 0; v < n; v++ {
		if index[v] == -1 {
			strongconnect(v)
		}
	}
	return best
}

// interleaveContinuity inserts one continuityMapBuild immediately before an
// instance's first materialize step, and one continuityApply immediately
// after the whole Phase-1 run (the natural boundary between a field
// producer and its Phase-2 stateful consumer).
func interleaveContinuity(ordered []Step, instances []string) []Step {
	sorted := append([]string{}, instances...)
	sort.Strings(sorted)

	firstMaterialize := map[string]int{}
	hasMaterialize := map[string]bool{}
	for i, s := range ordered {
		if s.Kind == StepMaterialize && s.InstanceID != "" {
			if !hasMaterialize[s.InstanceID] {
				firstMaterialize[s.InstanceID] = i
				hasMaterialize[s.InstanceID] = true
			}
		}
	}

	out := make([]Step, 0, len(ordered)+2*len(sorted))
	inserted := map[string]bool{}
	for i, s := range ordered {
		for _, inst := range sorted {
			if hasMaterialize[inst] && firstMaterialize[inst] == i && !inserted[inst] {
				out = append(out, Step{Kind: StepContinuityMapBuild, InstanceID: inst, Index: len(out)})
				inserted[inst] = true
			}
		}
		out = append(out, s)
	}
	for _, inst := range sorted {
		if hasMaterialize[inst] {
			out = append(out, Step{Kind: StepContinuityApply, InstanceID: inst, Index: len(out)})
		}
	}
	for i := range out {
		out[i].Index = i
	}
	return out
}
