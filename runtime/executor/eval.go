// Package executor implements the frame executor (spec §4.6): the
// per-frame driver that runs a CompiledProgram's ScheduleIR against a
// RuntimeState, producing a render.RenderFrameIR.
package executor

import (
	"fmt"

	"github.com/fieldgraph/engine/core/ids"
	"github.com/fieldgraph/engine/core/ir"
	"github.com/fieldgraph/engine/runtime/event"
	"github.com/fieldgraph/engine/runtime/materialize"
	"github.com/fieldgraph/engine/runtime/state"
)

// evalCtx bundles everything signal-extent evaluation needs for one
// frame: the arena, the mutable program state it reads/writes, the
// session's external channels and resolved time, and the current
// frame id for cache-stamp comparison.
type evalCtx struct {
	arena   []ir.ValueExpr
	prg     *state.ProgramState
	session *state.SessionState
	time    state.FrameTime
	frameID uint64
}

// evalSignal evaluates a signal- or event-read-extent ValueExpr,
// returning its lane values (almost always a single lane; multi-lane
// results occur only for construct/extract/hslToRgb subtrees over a
// payload with stride > 1). Memoization (spec §4.6 "recursive descent
// with memoization via cache.sigStamps == frameId") only applies to
// stride-1 results, since ProgramState.Cache.SigValues stores one
// float64 per ValueExprId; a multi-lane node is cheap pure recomputation
// and is simply not cached, a documented simplification.
func (ec *evalCtx) evalSignal(id ids.ValueExprId) ([]float64, error) {
	n := ec.arena[id]
	stride := n.Type.Payload.Stride()
	if stride == 0 {
		stride = 1
	}

	if stride == 1 && ec.prg.Cache.SigStamps[id] == ec.frameID {
		if v, ok := ec.prg.Cache.SigValues[id]; ok {
			return []float64{v}, nil
		}
	}

	lanes, err := ec.evalUncached(id, n)
	if err != nil {
		return nil, err
	}
	if stride == 1 && len(lanes) == 1 {
		ec.prg.Cache.SigValues[id] = lanes[0]
		ec.prg.Cache.SigStamps[id] = ec.frameID
	}
	return lanes, nil
}

// Scalar adapts evalSignal to materialize.ScalarEval, for kernel{broadcast}
// materialization (spec §4.7: "evaluates the signal once").
func (ec *evalCtx) Scalar(id ids.ValueExprId) (float64, error) {
	lanes, err := ec.evalSignal(id)
	if err != nil {
		return 0, err
	}
	if len(lanes) == 0 {
		return 0, fmt.Errorf("signal expr %d produced no lanes", id)
	}
	return lanes[0], nil
}

func (ec *evalCtx) evalUncached(id ids.ValueExprId, n ir.ValueExpr) ([]float64, error) {
	switch n.Kind {
	case ir.ExprConst:
		return append([]float64{}, n.ConstValue.Lanes()...), nil

	case ir.ExprSlotRead:
		stride := n.Type.Payload.Stride()
		if stride == 0 {
			stride = 1
		}
		start := int(n.Slot)
		return append([]float64{}, ec.prg.Values.F64[start:start+stride]...), nil

	case ir.ExprState:
		return []float64{ec.prg.State[n.StateSlot]}, nil

	case ir.ExprExternal:
		return []float64{ec.session.External.Get(n.Channel)}, nil

	case ir.ExprTime:
		return []float64{ec.timeChannel(n.TimeWhich)}, nil

	case ir.ExprEventRead:
		return []float64{float64(ec.prg.EventScalars[n.EventSlot])}, nil

	case ir.ExprKernel:
		return ec.evalKernel(n)

	case ir.ExprConstruct:
		out := make([]float64, 0, len(n.Components))
		for _, c := range n.Components {
			lanes, err := ec.evalSignal(c)
			if err != nil {
				return nil, err
			}
			if len(lanes) == 0 {
				return nil, fmt.Errorf("construct component %d produced no lanes", c)
			}
			out = append(out, lanes[0])
		}
		return out, nil

	case ir.ExprExtract:
		in, err := ec.evalSignal(n.Input)
		if err != nil {
			return nil, err
		}
		if n.ComponentIndex < 0 || n.ComponentIndex >= len(in) {
			return nil, fmt.Errorf("extract componentIndex %d out of range for %d lanes", n.ComponentIndex, len(in))
		}
		return []float64{in[n.ComponentIndex]}, nil

	case ir.ExprHslToRgb:
		in, err := ec.evalSignal(n.Input)
		if err != nil {
			return nil, err
		}
		if len(in) < 4 {
			return nil, fmt.Errorf("hslToRgb expects 4 input lanes, got %d", len(in))
		}
		r, g, b := materialize.HslToRgb(in[0], in[1], in[2])
		return []float64{r, g, b, in[3]}, nil

	case ir.ExprIntrinsic, ir.ExprShapeRef:
		return nil, fmt.Errorf("%s expr %d is field-extent only, not evaluable as a signal", n.Kind, id)

	case ir.ExprEvent:
		return nil, fmt.Errorf("event expr %d must be evaluated by the event evaluator, not evalSignal", id)

	default:
		return nil, fmt.Errorf("evalSignal: unhandled expr kind %s", n.Kind)
	}
}

func (ec *evalCtx) timeChannel(which ir.TimeWhich) float64 {
	switch which {
	case ir.TMs:
		return ec.time.TMs
	case ir.TDt:
		return ec.time.Dt
	case ir.TPhaseA:
		return ec.time.PhaseA
	case ir.TPhaseB:
		return ec.time.PhaseB
	case ir.TPulse:
		return ec.time.Pulse
	case ir.TEnergy:
		return ec.time.Energy
	case ir.TPalette:
		return 0
	default:
		return 0
	}
}

// evalKernel handles the kernel ops that make sense at signal extent:
// map/zip (pure-function combination of already-scalar operands),
// broadcast (passthrough, per spec §4.6), and reduce (folding an
// already-materialized field from this frame's field cache).
// zipSig and pathDerivative are field-only and rejected here.
func (ec *evalCtx) evalKernel(n ir.ValueExpr) ([]float64, error) {
	switch n.KernelOp {
	case ir.KernelMap, ir.KernelZip:
		lanes := make([]float64, len(n.Operands))
		for i, op := range n.Operands {
			v, err := ec.Scalar(op)
			if err != nil {
				return nil, err
			}
			lanes[i] = v
		}
		v, err := materialize.ApplyPureFn(n.Fn, lanes)
		if err != nil {
			return nil, err
		}
		return []float64{v}, nil

	case ir.KernelBroadcast:
		if len(n.Operands) != 1 {
			return nil, fmt.Errorf("kernel{broadcast} expects exactly one operand, got %d", len(n.Operands))
		}
		return ec.evalSignal(n.Operands[0])

	case ir.KernelReduce:
		if len(n.Operands) != 1 {
			return nil, fmt.Errorf("kernel{reduce} expects exactly one field operand")
		}
		fieldID := n.Operands[0]
		if ec.prg.Cache.FieldStamps[fieldID] != ec.frameID {
			return nil, fmt.Errorf("kernel{reduce} operand %d was not materialized earlier this frame", fieldID)
		}
		buf, ok := ec.prg.Cache.FieldBuffers[fieldID].(*materialize.TypedBuffer)
		if !ok || buf == nil || buf.Count == 0 {
			return nil, fmt.Errorf("kernel{reduce} operand %d has no usable field buffer", fieldID)
		}
		acc := buf.Data[0]
		for i := 1; i < buf.Count; i++ {
			v, err := materialize.ApplyPureFn(n.Fn, []float64{acc, buf.Data[i*buf.Stride]})
			if err != nil {
				return nil, err
			}
			acc = v
		}
		return []float64{acc}, nil

	case ir.KernelZipSig, ir.KernelPathDerivative:
		return nil, fmt.Errorf("kernel op %s is field-extent only, not evaluable as a signal", n.KernelOp)

	default:
		return nil, fmt.Errorf("unknown kernel op %d", n.KernelOp)
	}
}

// evalEvent evaluates an event-extent node via the event package, wiring
// its tripwire/predicate arrays and a ReadSignal hook back into this
// frame's evalCtx for wrap{} predicates that depend on an already
// Phase-1-evaluated signal.
func (ec *evalCtx) evalEvent(id ids.ValueExprId) (bool, error) {
	st := &event.State{
		CycleDetection: ec.prg.EventCycleDetection,
		PrevPredicate:  ec.prg.EventPrevPredicate,
		ReadSignal: func(sig ids.ValueExprId) float64 {
			v, err := ec.Scalar(sig)
			if err != nil {
				return 0
			}
			return v
		},
	}
	return event.Eval(ec.arena, id, st)
}
