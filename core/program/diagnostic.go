// Package program defines the compiled-program value, the diagnostic and
// patch shapes at the library's outer boundary, and the Compile entry
// point that drives lowering, binding, and scheduling end to end.
package program

import (
	"fmt"

	"github.com/fieldgraph/engine/core/fgerr"
	"github.com/fieldgraph/engine/core/types"
)

// Severity classifies a Diagnostic per the error taxonomy: fatal
// invariants the pipeline must not violate, user-fixable compile errors,
// suspicious-but-runnable warnings, and explanatory info/hints.
type Severity string

const (
	SeverityFatal Severity = "fatal"
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
	SeverityInfo  Severity = "info"
	SeverityHint  Severity = "hint"
)

// TargetKind discriminates TargetRef's tagged union.
type TargetKind string

const (
	TargetBlock     TargetKind = "block"
	TargetPort      TargetKind = "port"
	TargetBus       TargetKind = "bus"
	TargetBinding   TargetKind = "binding"
	TargetTimeRoot  TargetKind = "timeRoot"
	TargetGraphSpan TargetKind = "graphSpan"
	TargetComposite TargetKind = "composite"
)

// TargetRef names what a Diagnostic is about.
type TargetRef struct {
	Kind    TargetKind
	BlockID string
	PortID  string
}

func BlockTarget(blockID string) TargetRef { return TargetRef{Kind: TargetBlock, BlockID: blockID} }
func PortTarget(blockID, portID string) TargetRef {
	return TargetRef{Kind: TargetPort, BlockID: blockID, PortID: portID}
}
func BindingTarget() TargetRef { return TargetRef{Kind: TargetBinding} }

// Provenance threads a diagnostic back to the authoring-time origin that
// produced it: the block/port it targets, and — when the failure is an
// unresolved inference variable — which axis and variable id never
// resolved.
type Provenance struct {
	BlockID string
	PortID  string
	VarKind types.VarKind
	VarID   types.VarID
}

// Diagnostic is one compiler- or runtime-reported problem.
type Diagnostic struct {
	ID             string
	Code           string
	Severity       Severity
	Title          string
	Message        string
	PrimaryTarget  TargetRef
	Provenance     Provenance
	SourceLocation string
}

// diag builds a Diagnostic whose Code is code by default, unless err (the
// failure that produced format/args, when wrapped as "%s") is an
// *fgerr.Error carrying its own stable code — an internal pass (core/bind,
// core/schedule) reporting a specific failure takes precedence over the
// call site's generic label.
func diag(code string, sev Severity, target TargetRef, format string, args ...any) Diagnostic {
	for _, a := range args {
		if fe, ok := a.(error); ok {
			if structured, ok := fe.(*fgerr.Error); ok {
				code = structured.Code
			}
			break
		}
	}
	return Diagnostic{
		Code:          code,
		Severity:      sev,
		Title:         code,
		Message:       fmt.Sprintf(format, args...),
		PrimaryTarget: target,
		Provenance:    Provenance{BlockID: target.BlockID, PortID: target.PortID},
	}
}
