// Package lower defines the contract blocks implement (BlockDef.lower) and
// the explicit, startup-built block registry replacing runtime-reflective
// registration (see DESIGN.md, source pattern re-architecture notes).
package lower

import (
	"fmt"
	"sort"

	"github.com/fieldgraph/engine/core/ids"
	"github.com/fieldgraph/engine/core/ir"
	"github.com/fieldgraph/engine/core/types"
)

// Form distinguishes primitive blocks (directly lowered) from composite
// blocks (expanded into a sub-graph of primitives before lowering; that
// expansion is a block-library concern, out of core's scope).
type Form string

const (
	FormPrimitive Form = "primitive"
	FormComposite Form = "composite"
)

// Capability names what a block needs from the runtime beyond pure
// computation.
type Capability string

const (
	CapabilityPure     Capability = "pure"
	CapabilityStateful Capability = "stateful"
	CapabilityTime     Capability = "time"
)

// LoweringPurity states whether a block's outputs may be left slot-less for
// the binding pass to allocate (pure) or must arrive pre-allocated via
// SlotRequests (impure: stateful or otherwise side-effecting).
type LoweringPurity string

const (
	PurityPure   LoweringPurity = "pure"
	PurityImpure LoweringPurity = "impure"
)

// CardinalityMode documents how a block's output cardinality relates to
// its input cardinality.
type CardinalityMode string

const (
	CardinalityPreserve CardinalityMode = "preserve"
	CardinalityReduce   CardinalityMode = "reduce"
	CardinalityExpand   CardinalityMode = "expand"
)

// LaneCoupling documents whether a field-extent block processes lanes
// independently or needs cross-lane context.
type LaneCoupling string

const (
	LaneLocal  LaneCoupling = "laneLocal"
	LaneGlobal LaneCoupling = "laneGlobal"
)

// BroadcastPolicy documents whether a block accepts a zipSig-style mix of
// field and signal operands.
type BroadcastPolicy string

const (
	BroadcastForbidden  BroadcastPolicy = "forbidden"
	BroadcastAllowZipSig BroadcastPolicy = "allowZipSig"
)

// CardinalityPolicy is the cardinality-related metadata a block declares.
type CardinalityPolicy struct {
	Mode            CardinalityMode
	LaneCoupling    LaneCoupling
	BroadcastPolicy BroadcastPolicy
}

// PortDef describes one input or output port.
type PortDef struct {
	Label         string
	Type          types.InferenceCanonicalType
	DefaultSource *types.ConstValue // inputs only; nil if no default
	UIHint        string
}

// BlockDef is the opaque record core treats every block as: inputs,
// outputs, declared form/capability/cardinality policy, and a lower
// function. The concrete block library that builds these values is an
// external collaborator (see spec §1).
type BlockDef struct {
	Type           string
	Label          string
	Category       string
	Form           Form
	Capability     Capability
	LoweringPurity LoweringPurity
	Cardinality    CardinalityPolicy
	Inputs         map[string]PortDef
	Outputs        map[string]PortDef
	Lower          func(ctx *Context) (LowerResult, error)
}

// SortedInputPortIDs returns input port ids in lexical order, for
// deterministic constraint emission during inference.
func (d BlockDef) SortedInputPortIDs() []string { return sortedKeys(d.Inputs) }

// SortedOutputPortIDs returns output port ids in lexical order.
func (d BlockDef) SortedOutputPortIDs() []string { return sortedKeys(d.Outputs) }

func sortedKeys(m map[string]PortDef) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LoweredInput is an already-lowered input: a ValueExprId with its resolved
// canonical type, handed to Context for the block's lower() to consume.
type LoweredInput struct {
	ID   ids.ValueExprId
	Type types.CanonicalType
}

// Context is what a block's lower() receives: the shared IR builder,
// this block's identity, its already-lowered inputs, its resolved output
// types (from inference finalize), and the compiler-wide inference pass
// cap a block's own types.Solver (via RunWithMaxPasses) should respect if
// it runs one.
type Context struct {
	Builder            *ir.Builder
	BlockID            string
	Inputs             map[string]LoweredInput
	OutputTypes        map[string]types.CanonicalType
	MaxInferencePasses int
}

// Output is one entry of LowerResult.outputsById. Slot is nil for pure
// blocks whose output slot is allocated later by the binding pass.
type Output struct {
	ID     ids.ValueExprId
	Slot   *ids.ValueSlot
	Type   types.CanonicalType
	Stride int
}

// StateDecl declares one piece of persistent state this block needs.
// BlockID is empty as returned by Lower; the compiler entry point stamps
// it in after the call, so block authors never set it themselves.
type StateDecl struct {
	BlockID      string
	Key          ids.StableStateId
	InitialValue types.ConstValue
}

// StepRequestKind discriminates an Effects.StepRequests entry.
type StepRequestKind string

const StepRequestStateWrite StepRequestKind = "stateWrite"

// StepRequest asks the binding pass to enqueue a schedule step. BlockID is
// stamped in by the compiler entry point, like StateDecl.BlockID.
type StepRequest struct {
	BlockID  string
	Kind     StepRequestKind
	StateKey ids.StableStateId
	Value    ids.ValueExprId
}

// SlotRequest asks the binding pass to allocate (or look up) a slot for an
// impure block's output port. BlockID is stamped in by the compiler entry
// point, like StateDecl.BlockID, so two blocks' same-named ports never
// collide in the binding pass's slot map.
type SlotRequest struct {
	BlockID string
	PortID  string
	Type    types.CanonicalType
}

// Effects is everything a block's lower() asks the binding pass to do
// beyond returning its own outputs.
type Effects struct {
	StateDecls   []StateDecl
	StepRequests []StepRequest
	SlotRequests []SlotRequest
}

// LowerResult is what BlockDef.Lower returns.
type LowerResult struct {
	OutputsByID map[string]Output
	Effects     Effects
}

// ValidateResult enforces that impure blocks populate a slot for every
// declared output (MissingSlotForImpureBlock). Results of pure blocks are
// not checked; it returns nil for them.
func (d BlockDef) ValidateResult(r LowerResult) error {
	if d.LoweringPurity != PurityImpure {
		return nil
	}
	requested := map[string]bool{}
	for _, sr := range r.Effects.SlotRequests {
		requested[sr.PortID] = true
	}
	for portID, out := range r.OutputsByID {
		if out.Slot == nil && !requested[portID] {
			return fmt.Errorf("MissingSlotForImpureBlock: block %q port %q has no slot and no slot request", d.Type, portID)
		}
	}
	return nil
}
