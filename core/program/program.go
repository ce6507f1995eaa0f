package program

import (
	"github.com/fieldgraph/engine/core/ids"
	"github.com/fieldgraph/engine/core/ir"
	"github.com/fieldgraph/engine/core/lower"
	"github.com/fieldgraph/engine/core/schedule"
	"github.com/fieldgraph/engine/core/types"
)

// StorageKind names the runtime buffer kind backing one ValueSlot.
type StorageKind string

const (
	StorageF64    StorageKind = "f64"
	StorageObject StorageKind = "object"
	StorageShape2D StorageKind = "shape2d"
	StorageF32    StorageKind = "f32"
	StorageI32    StorageKind = "i32"
	StorageU32    StorageKind = "u32"
)

// SlotMeta describes one ValueSlot's runtime storage.
type SlotMeta struct {
	Slot    ids.ValueSlot
	Storage StorageKind
	Offset  int
	Stride  int
	Type    types.CanonicalType
}

// DebugIndex maps compiled-program internals back to patch-authored
// identifiers, for tooling (inspectors, breakpoints) outside core's scope.
type DebugIndex struct {
	StepToBlock       map[int]string
	SlotToBlock       map[ids.ValueSlot]string
	SlotToPort        map[ids.ValueSlot]string
	BlockMap          map[string]string // blockID -> block type
	BlockDisplayNames map[string]string // blockID -> label
}

// CompiledProgram is the immutable result of a successful Compile. It is
// never mutated after construction; a new compile produces a new value,
// swapped in atomically by the caller (see spec §3 ownership rules).
type CompiledProgram struct {
	ValueExprs       []ir.ValueExpr
	Schedule         schedule.ScheduleIR
	SlotMeta         map[ids.ValueSlot]SlotMeta
	FieldSlotRegistry map[ids.ValueSlot]string // slot -> instanceId
	Outputs          map[string]lower.Output   // "blockId:portId" -> Output
	DebugIndex       DebugIndex
}

// InputSource describes where one patch block's input port gets its
// value: from another block's output, or from a literal default.
type InputSource struct {
	FromBlock string
	FromPort  string
	Default   *types.ConstValue
}

// PatchBlock is one node of a user-authored patch.
type PatchBlock struct {
	ID     string
	Type   string
	Inputs map[string]InputSource
}

// Patch is the structural graph Compile consumes: blocks and their wiring.
// There is no textual form — patches are authored structurally, never
// parsed (see spec §1 Non-goals).
type Patch struct {
	ID       string
	Revision int
	Blocks   []PatchBlock
}

// CompileResult is Compile's result sum: either a program, or a non-empty
// diagnostics list — never both (see spec §7 atomicity).
type CompileResult struct {
	Kind    string // "ok" | "error"
	Program *CompiledProgram
	Errors  []Diagnostic
}
