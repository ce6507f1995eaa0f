package materialize

import (
	"fmt"
	"math"

	"github.com/fieldgraph/engine/core/ir"
)

func materializeKernel(n ir.ValueExpr, ctx Context) (*TypedBuffer, error) {
	switch n.KernelOp {
	case ir.KernelMap, ir.KernelZip:
		return materializeMapZip(n, ctx)
	case ir.KernelZipSig:
		return materializeZipSig(n, ctx)
	case ir.KernelBroadcast:
		return materializeBroadcast(n, ctx)
	case ir.KernelPathDerivative:
		return materializePathDerivative(n, ctx)
	case ir.KernelReduce:
		return nil, fmt.Errorf("kernel{reduce} folds a field to a signal; it is evaluated by the scalar evaluator, not materialized")
	default:
		return nil, fmt.Errorf("unknown kernel op %d", n.KernelOp)
	}
}

// materializeMapZip handles both unary map and n-ary zip: each operand is
// materialized, then fn is applied per lane across all operands' matching
// components.
func materializeMapZip(n ir.ValueExpr, ctx Context) (*TypedBuffer, error) {
	operands := make([]*TypedBuffer, len(n.Operands))
	for i, op := range n.Operands {
		b, err := Materialize(op, ctx)
		if err != nil {
			return nil, err
		}
		operands[i] = b
	}
	stride := n.Type.Payload.Stride()
	if stride == 0 {
		stride = 1
	}
	out := ctx.Pool.Alloc(formatFor(n.Type), ctx.Count, stride)
	for i := 0; i < ctx.Count; i++ {
		for c := 0; c < stride; c++ {
			lanes := make([]float64, len(operands))
			for o, buf := range operands {
				lanes[o] = buf.Data[i*buf.Stride+c%buf.Stride]
			}
			v, err := applyPureFn(n.Fn, lanes)
			if err != nil {
				return nil, err
			}
			out.Data[i*stride+c] = v
		}
	}
	return out, nil
}

// materializeZipSig mixes a field-extent leading operand with one or more
// signal-extent operands evaluated once and broadcast across every lane.
func materializeZipSig(n ir.ValueExpr, ctx Context) (*TypedBuffer, error) {
	if len(n.Operands) == 0 {
		return nil, fmt.Errorf("kernel{zipSig} requires at least one operand")
	}
	field, err := Materialize(n.Operands[0], ctx)
	if err != nil {
		return nil, err
	}
	sigVals := make([]float64, len(n.Operands)-1)
	for i, op := range n.Operands[1:] {
		v, err := ctx.Scalar(op)
		if err != nil {
			return nil, err
		}
		sigVals[i] = v
	}

	stride := n.Type.Payload.Stride()
	if stride == 0 {
		stride = 1
	}
	out := ctx.Pool.Alloc(formatFor(n.Type), ctx.Count, stride)
	for i := 0; i < ctx.Count; i++ {
		for c := 0; c < stride; c++ {
			lanes := append([]float64{field.Data[i*field.Stride+c%field.Stride]}, sigVals...)
			v, err := applyPureFn(n.Fn, lanes)
			if err != nil {
				return nil, err
			}
			out.Data[i*stride+c] = v
		}
	}
	return out, nil
}

// materializeBroadcast evaluates the signal operand once and replicates it
// across every lane (spec §4.7).
func materializeBroadcast(n ir.ValueExpr, ctx Context) (*TypedBuffer, error) {
	if len(n.Operands) != 1 {
		return nil, fmt.Errorf("kernel{broadcast} expects exactly one operand, got %d", len(n.Operands))
	}
	v, err := ctx.Scalar(n.Operands[0])
	if err != nil {
		return nil, err
	}
	stride := n.Type.Payload.Stride()
	if stride == 0 {
		stride = 1
	}
	out := ctx.Pool.Alloc(formatFor(n.Type), ctx.Count, stride)
	for i := range out.Data {
		out.Data[i] = v
	}
	return out, nil
}

func materializePathDerivative(n ir.ValueExpr, ctx Context) (*TypedBuffer, error) {
	if len(n.Operands) != 1 {
		return nil, fmt.Errorf("kernel{pathDerivative} expects exactly one field operand")
	}
	field, err := Materialize(n.Operands[0], ctx)
	if err != nil {
		return nil, err
	}
	switch n.PathOp {
	case ir.PathTangent:
		return pathTangent(field, ctx.Pool)
	case ir.PathArcLength:
		return pathArcLength(field, ctx.Pool)
	default:
		return nil, fmt.Errorf("unknown path derivative op %d", n.PathOp)
	}
}

// pathTangent applies a central-difference tangent per lane, wrapping at
// the closed-path boundary (spec §4.7).
func pathTangent(field *TypedBuffer, pool *Pool) (*TypedBuffer, error) {
	n := field.Count
	stride := field.Stride
	out := pool.Alloc(field.Format, n, stride)
	for i := 0; i < n; i++ {
		prev := (i - 1 + n) % n
		next := (i + 1) % n
		for c := 0; c < stride; c++ {
			dv := field.Data[next*stride+c] - field.Data[prev*stride+c]
			out.Data[i*stride+c] = dv / 2
		}
	}
	normalizeTangents(out)
	return out, nil
}

func normalizeTangents(buf *TypedBuffer) {
	if buf.Stride < 2 {
		return
	}
	for i := 0; i < buf.Count; i++ {
		base := i * buf.Stride
		sumSq := 0.0
		for c := 0; c < buf.Stride; c++ {
			v := buf.Data[base+c]
			sumSq += v * v
		}
		mag := math.Sqrt(sumSq)
		if mag == 0 {
			continue
		}
		for c := 0; c < buf.Stride; c++ {
			buf.Data[base+c] /= mag
		}
	}
}

// pathArcLength computes the running Euclidean prefix-sum arc length per
// lane (spec §4.7).
func pathArcLength(field *TypedBuffer, pool *Pool) (*TypedBuffer, error) {
	n := field.Count
	stride := field.Stride
	out := pool.Alloc(FormatF32, n, 1)
	running := 0.0
	for i := 0; i < n; i++ {
		if i > 0 {
			sumSq := 0.0
			for c := 0; c < stride; c++ {
				d := field.Data[i*stride+c] - field.Data[(i-1)*stride+c]
				sumSq += d * d
			}
			running += math.Sqrt(sumSq)
		}
		out.Data[i] = running
	}
	return out, nil
}

// applyPureFn evaluates fn against one lane's operand scalars.
// PureFnKernel (a named builtin kernel function) and PureFnExpr (an
// inline sub-expression tree) are out of scope here: the block library
// that would define named kernels and author such sub-expressions is an
// external collaborator per spec §1, so only the closed Opcode set is
// evaluated directly.
func applyPureFn(fn ir.PureFn, lanes []float64) (float64, error) {
	return ApplyPureFn(fn, lanes)
}

// ApplyPureFn is applyPureFn's exported form, reused by the scalar
// evaluator (runtime/executor) so a pure function gives the same result in
// field materialization (kernel{map|zip|zipSig}) and in signal-extent
// evaluation (kernel{map|zip|reduce}).
func ApplyPureFn(fn ir.PureFn, lanes []float64) (float64, error) {
	switch fn.Kind {
	case ir.PureFnOpcode:
		return ApplyOpcode(fn.Opcode, lanes)
	default:
		return 0, fmt.Errorf("pure function kind %d is not evaluable by core materialization (named kernels/sub-expression trees belong to the block library)", fn.Kind)
	}
}

// ApplyOpcode is applyOpcode's exported form.
func ApplyOpcode(op ir.Opcode, a []float64) (float64, error) {
	arg := func(i int) float64 {
		if i < len(a) {
			return a[i]
		}
		return 0
	}
	switch op {
	case ir.OpAdd:
		return arg(0) + arg(1), nil
	case ir.OpSub:
		return arg(0) - arg(1), nil
	case ir.OpMul:
		return arg(0) * arg(1), nil
	case ir.OpDiv:
		return arg(0) / arg(1), nil
	case ir.OpNeg:
		return -arg(0), nil
	case ir.OpMod:
		return math.Mod(arg(0), arg(1)), nil
	case ir.OpAbs:
		return math.Abs(arg(0)), nil
	case ir.OpMin:
		return math.Min(arg(0), arg(1)), nil
	case ir.OpMax:
		return math.Max(arg(0), arg(1)), nil
	case ir.OpClamp:
		return math.Min(math.Max(arg(0), arg(1)), arg(2)), nil
	case ir.OpMix:
		t := arg(2)
		return arg(0)*(1-t) + arg(1)*t, nil
	case ir.OpSelect:
		if arg(0) != 0 {
			return arg(1), nil
		}
		return arg(2), nil
	case ir.OpSin:
		return math.Sin(arg(0)), nil
	case ir.OpCos:
		return math.Cos(arg(0)), nil
	case ir.OpSqrt:
		return math.Sqrt(arg(0)), nil
	case ir.OpPow:
		return math.Pow(arg(0), arg(1)), nil
	case ir.OpFloor:
		return math.Floor(arg(0)), nil
	case ir.OpCeil:
		return math.Ceil(arg(0)), nil
	default:
		return 0, fmt.Errorf("unknown opcode %d", op)
	}
}
