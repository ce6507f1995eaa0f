package executor

import (
	"testing"

	"github.com/fieldgraph/engine/core/ids"
	"github.com/fieldgraph/engine/core/ir"
	"github.com/fieldgraph/engine/core/lower"
	"github.com/fieldgraph/engine/core/program"
	"github.com/fieldgraph/engine/core/schedule"
	"github.com/fieldgraph/engine/core/types"
	"github.com/fieldgraph/engine/runtime/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func colorSignal() types.CanonicalType {
	return types.CanonicalSignal(types.PayloadColor, types.NoneUnit(), types.ContractNone)
}

func vec3Signal() types.CanonicalType {
	return types.CanonicalSignal(types.PayloadVec3, types.NoneUnit(), types.ContractNone)
}

// wrapHue builds mod(h, 1) — the wraparound every hue-bearing color node
// applies to its h channel before it ever reaches a slot.
func wrapHue(b *ir.Builder, h ids.ValueExprId) ids.ValueExprId {
	one, _ := b.Constant(types.ConstFloat(1), floatSignal())
	return b.Zip([]ids.ValueExprId{h, one}, ir.OpcodeFn(ir.OpMod), floatSignal())
}

// clampUnit builds clamp(x, 0, 1).
func clampUnit(b *ir.Builder, x ids.ValueExprId) ids.ValueExprId {
	zero, _ := b.Constant(types.ConstFloat(0), floatSignal())
	one, _ := b.Constant(types.ConstFloat(1), floatSignal())
	return b.Zip([]ids.ValueExprId{x, zero, one}, ir.OpcodeFn(ir.OpClamp), floatSignal())
}

func runOneFrame(t *testing.T, b *ir.Builder, out ids.ValueExprId) []float64 {
	t.Helper()
	slot := b.AllocSlot()

	sched, err := schedule.Build(schedule.Input{
		Arena:     b.Arena(),
		Outputs:   []schedule.OutputRequest{{BlockID: "b", PortID: "out", Expr: out, Slot: &slot}},
		TimeModel: schedule.TimeModel{Kind: schedule.TimeInfinite},
	})
	require.NoError(t, err)

	stride := b.Node(out).Type.Payload.Stride()
	compiled := &program.CompiledProgram{
		ValueExprs: b.Arena(),
		Schedule:   sched,
		SlotMeta:   map[ids.ValueSlot]program.SlotMeta{slot: {Slot: slot, Storage: program.StorageF64}},
		Outputs:    map[string]lower.Output{"b:out": {ID: out, Slot: &slot, Type: b.Node(out).Type, Stride: stride}},
	}

	rt := state.New()
	rt.Swap(compiled, nil)

	ex := New(WithBufferPoolCap(16))
	_, err = ex.RunFrame(rt, 0)
	require.NoError(t, err)

	snap, ok := rt.Current()
	require.True(t, ok)
	return append([]float64{}, snap.Program.Values.F64[slot:int(slot)+stride]...)
}

// A color-authoring node that wraps its hue channel and clamps lightness
// into [0,1] produces exactly the color it was given when every channel is
// already in range, wraps an out-of-range hue back into [0,1), and clamps
// an out-of-range lightness to its nearest bound.
func TestRunFrameColorNodeWrapsHueClampsLightness(t *testing.T) {
	build := func(h, s, l, a float64) []float64 {
		b := ir.NewBuilder()
		hRaw, _ := b.Constant(types.ConstFloat(h), floatSignal())
		sRaw, _ := b.Constant(types.ConstFloat(s), floatSignal())
		lRaw, _ := b.Constant(types.ConstFloat(l), floatSignal())
		aRaw, _ := b.Constant(types.ConstFloat(a), floatSignal())

		hOut := wrapHue(b, hRaw)
		lOut := clampUnit(b, lRaw)
		color, err := b.Construct([]ids.ValueExprId{hOut, sRaw, lOut, aRaw}, colorSignal())
		require.NoError(t, err)
		return runOneFrame(t, b, color)
	}

	assert.Equal(t, []float64{0.25, 1.0, 0.5, 1.0}, build(0.25, 1.0, 0.5, 1.0))
	assert.Equal(t, []float64{0.25, 1.0, 0.5, 1.0}, build(1.25, 1.0, 0.5, 1.0), "out-of-range hue must wrap")
	assert.Equal(t, []float64{0.25, 1.0, 1.0, 1.0}, build(1.25, 1.0, 1.5, 1.0), "out-of-range lightness must clamp")
}

// Shifting hue by a constant amount wraps the sum back into [0,1), even
// when the shift alone would push the result past 1.
func TestRunFrameHueShiftWrapsAroundOne(t *testing.T) {
	build := func(h, shift float64) float64 {
		b := ir.NewBuilder()
		hRaw, _ := b.Constant(types.ConstFloat(h), floatSignal())
		shiftRaw, _ := b.Constant(types.ConstFloat(shift), floatSignal())
		sum := b.Zip([]ids.ValueExprId{hRaw, shiftRaw}, ir.OpcodeFn(ir.OpAdd), floatSignal())
		wrapped := wrapHue(b, sum)
		out := runOneFrame(t, b, wrapped)
		return out[0]
	}

	assert.InDelta(t, 0.9, build(0.1, 0.8), 1e-9)
	assert.InDelta(t, 0.05, build(0.1, 0.95), 1e-9)
}

// A three-component construct built from polar-to-cartesian trigonometry,
// then rewritten to replace only its z channel, keeps x and y untouched.
func TestRunFramePolarToCartesianThenReplaceZ(t *testing.T) {
	b := ir.NewBuilder()
	angle, _ := b.Constant(types.ConstFloat(0), floatSignal())
	radius, _ := b.Constant(types.ConstFloat(1), floatSignal())
	centerX, _ := b.Constant(types.ConstFloat(0.5), floatSignal())
	centerY, _ := b.Constant(types.ConstFloat(0.5), floatSignal())
	z, _ := b.Constant(types.ConstFloat(99), floatSignal())

	cosA := b.Map(angle, ir.OpcodeFn(ir.OpCos), floatSignal())
	sinA := b.Map(angle, ir.OpcodeFn(ir.OpSin), floatSignal())
	dx := b.Zip([]ids.ValueExprId{radius, cosA}, ir.OpcodeFn(ir.OpMul), floatSignal())
	dy := b.Zip([]ids.ValueExprId{radius, sinA}, ir.OpcodeFn(ir.OpMul), floatSignal())
	x := b.Zip([]ids.ValueExprId{centerX, dx}, ir.OpcodeFn(ir.OpAdd), floatSignal())
	y := b.Zip([]ids.ValueExprId{centerY, dy}, ir.OpcodeFn(ir.OpAdd), floatSignal())

	point, err := b.Construct([]ids.ValueExprId{x, y, z}, vec3Signal())
	require.NoError(t, err)

	out := runOneFrame(t, b, point)
	require.Len(t, out, 3)
	assert.InDelta(t, 1.5, out[0], 1e-9)
	assert.InDelta(t, 0.5, out[1], 1e-9)
	assert.Equal(t, 99.0, out[2])
}
