// Package ir implements the unified ValueExpr table: a single flat,
// append-only arena whose nodes span signal-extent, field-extent, and
// event-extent semantics. Every node carries a resolved CanonicalType;
// constructors enforce well-formedness and content-addressing.
package ir

import (
	"fmt"

	"github.com/fieldgraph/engine/core/ids"
	"github.com/fieldgraph/engine/core/types"
)

// ExprKind discriminates the ValueExpr union.
type ExprKind int

const (
	ExprConst ExprKind = iota
	ExprIntrinsic
	ExprKernel
	ExprConstruct
	ExprExtract
	ExprHslToRgb
	ExprSlotRead
	ExprState
	ExprExternal
	ExprTime
	ExprEvent
	ExprEventRead
	ExprShapeRef
)

func (k ExprKind) String() string {
	names := [...]string{
		"const", "intrinsic", "kernel", "construct", "extract", "hslToRgb",
		"slotRead", "state", "external", "time", "event", "eventRead", "shapeRef",
	}
	if int(k) >= 0 && int(k) < len(names) {
		return names[k]
	}
	return fmt.Sprintf("ExprKind(%d)", int(k))
}

// IntrinsicKind distinguishes the two intrinsic shapes.
type IntrinsicKind int

const (
	IntrinsicProperty IntrinsicKind = iota
	IntrinsicPlacement
)

// Property names a per-lane derived scalar.
type Property int

const (
	PropIndex Property = iota
	PropNormalizedIndex
	PropRandomID
)

func (p Property) String() string {
	switch p {
	case PropIndex:
		return "index"
	case PropNormalizedIndex:
		return "normalizedIndex"
	case PropRandomID:
		return "randomId"
	default:
		return fmt.Sprintf("Property(%d)", int(p))
	}
}

// PlacementField names which placement output a placement intrinsic writes.
type PlacementField int

const (
	FieldUV PlacementField = iota
	FieldRank
	FieldSeed
)

func (f PlacementField) String() string {
	switch f {
	case FieldUV:
		return "uv"
	case FieldRank:
		return "rank"
	case FieldSeed:
		return "seed"
	default:
		return fmt.Sprintf("PlacementField(%d)", int(f))
	}
}

// PlacementBasis names the distribution basis for a placement intrinsic.
type PlacementBasis int

const (
	BasisGrid PlacementBasis = iota
	BasisHalton2D
	BasisSpiral
	BasisRandom
)

func (b PlacementBasis) String() string {
	switch b {
	case BasisGrid:
		return "grid"
	case BasisHalton2D:
		return "halton2D"
	case BasisSpiral:
		return "spiral"
	case BasisRandom:
		return "random"
	default:
		return fmt.Sprintf("PlacementBasis(%d)", int(b))
	}
}

// KernelOp discriminates the kernel family.
type KernelOp int

const (
	KernelMap KernelOp = iota
	KernelZip
	KernelZipSig
	KernelBroadcast
	KernelPathDerivative
	KernelReduce
)

func (k KernelOp) String() string {
	switch k {
	case KernelMap:
		return "map"
	case KernelZip:
		return "zip"
	case KernelZipSig:
		return "zipSig"
	case KernelBroadcast:
		return "broadcast"
	case KernelPathDerivative:
		return "pathDerivative"
	case KernelReduce:
		return "reduce"
	default:
		return fmt.Sprintf("KernelOp(%d)", int(k))
	}
}

// PathDerivativeOp selects tangent or arc-length computation for a
// pathDerivative kernel.
type PathDerivativeOp int

const (
	PathTangent PathDerivativeOp = iota
	PathArcLength
)

// Opcode is the closed arithmetic/transcendental/clamping/selection set a
// PureFn may reference directly.
type Opcode int

const (
	OpAdd Opcode = iota
	OpSub
	OpMul
	OpDiv
	OpNeg
	OpMod
	OpAbs
	OpMin
	OpMax
	OpClamp
	OpMix
	OpSelect
	OpSin
	OpCos
	OpSqrt
	OpPow
	OpFloor
	OpCeil
)

// KernelUnitSignature documents the expected input/output units of a named
// kernel function, for validation purposes only (it does not drive
// inference).
type KernelUnitSignature struct {
	InputUnits []types.Unit
	OutputUnit types.Unit
}

// PureFnKind discriminates a PureFn's three possible shapes.
type PureFnKind int

const (
	PureFnOpcode PureFnKind = iota
	PureFnKernel
	PureFnExpr
)

// PureFn is the function a map/zip/zipSig/reduce kernel applies per lane.
type PureFn struct {
	Kind       PureFnKind
	Opcode     Opcode
	KernelName string
	UnitSig    *KernelUnitSignature
	Expr       ids.ValueExprId // PureFnExpr: sub-expression tree, args read via ExprSlotRead placeholders
}

func OpcodeFn(op Opcode) PureFn { return PureFn{Kind: PureFnOpcode, Opcode: op} }
func KernelFn(name string, sig *KernelUnitSignature) PureFn {
	return PureFn{Kind: PureFnKernel, KernelName: name, UnitSig: sig}
}
func ExprFn(expr ids.ValueExprId) PureFn { return PureFn{Kind: PureFnExpr, Expr: expr} }

// EventKind discriminates the event-extent node's nested union.
type EventKind int

const (
	EventConst EventKind = iota
	EventNever
	EventPulse
	EventCombine
	EventWrap
)

// CombineMode selects short-circuit OR (any) or AND (all).
type CombineMode int

const (
	CombineAny CombineMode = iota
	CombineAll
)

// ValueExpr is one node of the unified IR arena. Every node carries a
// resolved CanonicalType (Type). Only the fields relevant to Kind are
// meaningful; all others are zero.
type ValueExpr struct {
	ID   ids.ValueExprId
	Kind ExprKind
	Type types.CanonicalType

	// const
	ConstValue types.ConstValue

	// intrinsic
	IntrinsicKind     IntrinsicKind
	Property          Property
	PlacementField    PlacementField
	PlacementBasis    PlacementBasis

	// kernel
	KernelOp         KernelOp
	Operands         []ids.ValueExprId
	Fn               PureFn
	PathOp           PathDerivativeOp
	TopologyID       string

	// construct
	Components []ids.ValueExprId

	// extract
	Input          ids.ValueExprId
	ComponentIndex int

	// hslToRgb reuses Input

	// slotRead
	Slot ids.ValueSlot

	// state
	StateSlot ids.StateSlot

	// external
	Channel string

	// time
	TimeWhich TimeWhich

	// event
	EventKind    EventKind
	EventFired   bool            // EventConst
	PulseSource  ids.ValueExprId // EventPulse
	CombineMode  CombineMode     // EventCombine
	CombineInputs []ids.ValueExprId
	WrapInput    ids.ValueExprId // EventWrap

	// eventRead
	EventSlot ids.EventSlot

	// shapeRef
	ControlPointField *ids.ValueExprId
}

// Children returns every ValueExprId this node directly references,
// regardless of Kind. Used by dependency walks (scheduling) and recursive
// evaluation (runtime); it never descends into slot/state/event-slot
// indirection, only direct arena-to-arena operand references.
func (n ValueExpr) Children() []ids.ValueExprId {
	switch n.Kind {
	case ExprKernel:
		return append([]ids.ValueExprId{}, n.Operands...)
	case ExprConstruct:
		return append([]ids.ValueExprId{}, n.Components...)
	case ExprExtract, ExprHslToRgb:
		return []ids.ValueExprId{n.Input}
	case ExprEvent:
		switch n.EventKind {
		case EventPulse:
			return []ids.ValueExprId{n.PulseSource}
		case EventCombine:
			return append([]ids.ValueExprId{}, n.CombineInputs...)
		case EventWrap:
			return []ids.ValueExprId{n.WrapInput}
		default:
			return nil
		}
	case ExprShapeRef:
		if n.ControlPointField != nil {
			return []ids.ValueExprId{*n.ControlPointField}
		}
		return nil
	default:
		// const, intrinsic, slotRead, state, external, time, eventRead:
		// leaves with no arena-internal operands.
		return nil
	}
}

// TimeWhich names the reserved time-channel slot a `time` node reads.
type TimeWhich int

const (
	TMs TimeWhich = iota
	TDt
	TPhaseA
	TPhaseB
	TPulse
	TEnergy
	TPalette
)

func (w TimeWhich) String() string {
	names := [...]string{"tMs", "dt", "phaseA", "phaseB", "pulse", "energy", "palette"}
	if int(w) >= 0 && int(w) < len(names) {
		return names[w]
	}
	return fmt.Sprintf("TimeWhich(%d)", int(w))
}
