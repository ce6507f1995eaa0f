package materialize

import (
	"fmt"
	"math"

	"github.com/dchest/siphash"

	"github.com/fieldgraph/engine/core/ids"
	"github.com/fieldgraph/engine/core/ir"
	"github.com/fieldgraph/engine/core/types"
	"github.com/fieldgraph/engine/runtime/state"
)

// ScalarEval evaluates a signal-extent ValueExpr to a single float64 —
// the materializer's hook back into the frame's scalar evaluator, needed
// for kernel{broadcast} (spec §4.7: "evaluates the signal once and
// replicates").
type ScalarEval func(id ids.ValueExprId) (float64, error)

// Context bundles everything Materialize needs beyond the expression
// itself: the arena it indexes into, the field's instance identity and
// lane count, persistent state for state{} reads, the pool to allocate
// from, and the scalar evaluator for broadcast.
type Context struct {
	Arena      []ir.ValueExpr
	InstanceID string
	Count      int
	Program    *state.ProgramState
	Pool       *Pool
	Scalar     ScalarEval
}

func formatFor(t types.CanonicalType) Format {
	switch t.Payload.Stride() {
	case 1:
		return FormatF32
	case 2:
		return FormatVec2F32
	case 3:
		return FormatVec3F32
	case 4:
		return FormatRGBA8
	default:
		return FormatF32
	}
}

// Materialize evaluates a field-extent ValueExpr into a pooled
// TypedBuffer (spec §4.7). It dispatches on the node's Kind; shapeRef and
// any event/time/external node at field extent are rejected, matching
// spec §4.7's explicit error cases.
func Materialize(exprID ids.ValueExprId, ctx Context) (*TypedBuffer, error) {
	n := ctx.Arena[exprID]
	stride := n.Type.Payload.Stride()
	if stride == 0 {
		stride = 1
	}

	switch n.Kind {
	case ir.ExprConst:
		buf := ctx.Pool.Alloc(formatFor(n.Type), ctx.Count, stride)
		lanes := n.ConstValue.Lanes()
		for i := 0; i < ctx.Count; i++ {
			copy(buf.Data[i*stride:(i+1)*stride], lanes)
		}
		return buf, nil

	case ir.ExprIntrinsic:
		return materializeIntrinsic(n, ctx)

	case ir.ExprKernel:
		return materializeKernel(n, ctx)

	case ir.ExprConstruct:
		return materializeConstruct(n, ctx)

	case ir.ExprExtract:
		return materializeExtract(n, ctx)

	case ir.ExprHslToRgb:
		return materializeHslToRgb(n, ctx)

	case ir.ExprSlotRead:
		buf := ctx.Pool.Alloc(formatFor(n.Type), ctx.Count, stride)
		copy(buf.Data, ctx.Program.Values.F64[int(n.Slot):int(n.Slot)+ctx.Count*stride])
		return buf, nil

	case ir.ExprState:
		buf := ctx.Pool.Alloc(formatFor(n.Type), ctx.Count, stride)
		v := ctx.Program.State[n.StateSlot]
		for i := range buf.Data {
			buf.Data[i] = v
		}
		return buf, nil

	case ir.ExprShapeRef:
		return nil, fmt.Errorf("shapeRef expr %d is never materialized as a field", exprID)

	case ir.ExprEvent, ir.ExprEventRead, ir.ExprTime, ir.ExprExternal:
		return nil, fmt.Errorf("%s expr %d cannot be materialized at field extent", n.Kind, exprID)

	default:
		return nil, fmt.Errorf("materialize: unhandled expr kind %s", n.Kind)
	}
}

func materializeIntrinsic(n ir.ValueExpr, ctx Context) (*TypedBuffer, error) {
	switch n.IntrinsicKind {
	case ir.IntrinsicProperty:
		return materializeProperty(n, ctx)
	case ir.IntrinsicPlacement:
		return materializePlacement(n, ctx)
	default:
		return nil, fmt.Errorf("unknown intrinsic kind %d", n.IntrinsicKind)
	}
}

func materializeProperty(n ir.ValueExpr, ctx Context) (*TypedBuffer, error) {
	buf := ctx.Pool.Alloc(FormatF32, ctx.Count, 1)
	switch n.Property {
	case ir.PropIndex:
		for i := 0; i < ctx.Count; i++ {
			buf.Data[i] = float64(i)
		}
	case ir.PropNormalizedIndex:
		denom := float64(ctx.Count - 1)
		for i := 0; i < ctx.Count; i++ {
			if denom <= 0 {
				buf.Data[i] = 0
				continue
			}
			buf.Data[i] = float64(i) / denom
		}
	case ir.PropRandomID:
		for i := 0; i < ctx.Count; i++ {
			buf.Data[i] = stableUnitHash(ctx.InstanceID, i, 0)
		}
	default:
		return nil, fmt.Errorf("unknown intrinsic property %d", n.Property)
	}
	return buf, nil
}

// stableUnitHash returns a deterministic pseudo-random value in [0,1) for
// (instanceID, lane, seed), used by both randomId and the random
// placement basis (spec §4.7: "stable hash of (instanceId, i, seed)").
func stableUnitHash(instanceID string, lane int, seed uint64) float64 {
	k0 := seed
	k1 := uint64(lane)
	h := siphash.Hash(k0, k1, []byte(instanceID))
	return float64(h>>11) / float64(1<<53)
}

func materializePlacement(n ir.ValueExpr, ctx Context) (*TypedBuffer, error) {
	switch n.PlacementField {
	case ir.FieldUV:
		buf := ctx.Pool.Alloc(FormatVec2F32, ctx.Count, 2)
		for i := 0; i < ctx.Count; i++ {
			u, v := placementUV(n.PlacementBasis, i, ctx.Count, ctx.InstanceID)
			buf.Data[i*2], buf.Data[i*2+1] = u, v
		}
		return buf, nil
	case ir.FieldRank:
		buf := ctx.Pool.Alloc(FormatF32, ctx.Count, 1)
		for i := 0; i < ctx.Count; i++ {
			buf.Data[i] = float64(i)
		}
		return buf, nil
	case ir.FieldSeed:
		buf := ctx.Pool.Alloc(FormatF32, ctx.Count, 1)
		for i := 0; i < ctx.Count; i++ {
			buf.Data[i] = stableUnitHash(ctx.InstanceID, i, 1)
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("unknown placement field %d", n.PlacementField)
	}
}

// placementUV computes the (u,v) pair for lane i under basis, count total
// lanes (spec §4.7: grid/halton2D/spiral/random bases).
func placementUV(basis ir.PlacementBasis, i, count int, instanceID string) (float64, float64) {
	switch basis {
	case ir.BasisGrid:
		cols := int(math.Ceil(math.Sqrt(float64(count))))
		if cols == 0 {
			return 0, 0
		}
		rows := int(math.Ceil(float64(count) / float64(cols)))
		col, row := i%cols, i/cols
		u := (float64(col) + 0.5) / float64(cols)
		v := (float64(row) + 0.5) / float64(rows)
		return u, v
	case ir.BasisHalton2D:
		return haltonSequence(i+1, 2), haltonSequence(i+1, 3)
	case ir.BasisSpiral:
		const goldenAngle = 2.39996322972865332 // 2*pi*(1 - 1/phi), radians
		r := math.Sqrt(float64(i) + 0.5)
		theta := float64(i) * goldenAngle
		u := 0.5 + r*math.Cos(theta)/(2*math.Sqrt(float64(count)))
		v := 0.5 + r*math.Sin(theta)/(2*math.Sqrt(float64(count)))
		return u, v
	case ir.BasisRandom:
		return stableUnitHash(instanceID, i, 2), stableUnitHash(instanceID, i, 3)
	default:
		return 0, 0
	}
}

// haltonSequence computes the i-th term of the Halton low-discrepancy
// sequence in the given prime base.
func haltonSequence(i, base int) float64 {
	f, r := 1.0, 0.0
	for i > 0 {
		f /= float64(base)
		r += f * float64(i%base)
		i /= base
	}
	return r
}

func materializeConstruct(n ir.ValueExpr, ctx Context) (*TypedBuffer, error) {
	comps := make([]*TypedBuffer, len(n.Components))
	for i, c := range n.Components {
		cb, err := Materialize(c, ctx)
		if err != nil {
			return nil, err
		}
		comps[i] = cb
	}
	stride := len(n.Components)
	out := ctx.Pool.Alloc(formatFor(n.Type), ctx.Count, stride)
	for i := 0; i < ctx.Count; i++ {
		for c := range comps {
			out.Data[i*stride+c] = comps[c].Data[i*comps[c].Stride]
		}
	}
	return out, nil
}

func materializeExtract(n ir.ValueExpr, ctx Context) (*TypedBuffer, error) {
	in, err := Materialize(n.Input, ctx)
	if err != nil {
		return nil, err
	}
	out := ctx.Pool.Alloc(FormatF32, ctx.Count, 1)
	for i := 0; i < ctx.Count; i++ {
		out.Data[i] = in.Data[i*in.Stride+n.ComponentIndex]
	}
	return out, nil
}

func materializeHslToRgb(n ir.ValueExpr, ctx Context) (*TypedBuffer, error) {
	in, err := Materialize(n.Input, ctx)
	if err != nil {
		return nil, err
	}
	out := ctx.Pool.Alloc(FormatRGBA8, ctx.Count, 4)
	for i := 0; i < ctx.Count; i++ {
		h, s, l, a := in.Data[i*in.Stride], in.Data[i*in.Stride+1], in.Data[i*in.Stride+2], in.Data[i*in.Stride+3]
		r, g, b := hslToRgb(h, s, l)
		out.Data[i*4], out.Data[i*4+1], out.Data[i*4+2], out.Data[i*4+3] = r, g, b, a
	}
	return out, nil
}

// hslToRgb is the standard per-channel HSL->RGB conversion; h in [0,1)
// turns, s/l in [0,1].
func hslToRgb(h, s, l float64) (r, g, b float64) {
	return HslToRgb(h, s, l)
}

// HslToRgb is hslToRgb's exported form, reused by the scalar evaluator
// (runtime/executor) so an hslToRgb node converts identically at signal
// and field extent.
func HslToRgb(h, s, l float64) (r, g, b float64) {
	if s == 0 {
		return l, l, l
	}
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return hueToRGB(p, q, h+1.0/3), hueToRGB(p, q, h), hueToRGB(p, q, h-1.0/3)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 1.0/2:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	default:
		return p
	}
}
