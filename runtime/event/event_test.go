package event

import (
	"math"
	"testing"

	"github.com/fieldgraph/engine/core/ids"
	"github.com/fieldgraph/engine/core/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newState(n int) *State {
	return &State{
		CycleDetection: make([]byte, n),
		PrevPredicate:  make([]byte, n),
		ReadSignal:     func(ids.ValueExprId) float64 { return 0 },
	}
}

func TestEvalConstAndNever(t *testing.T) {
	b := ir.NewBuilder()
	fired := b.EventConstNode(true)
	never := b.EventNeverNode()
	arena := b.Arena()
	st := newState(len(arena))

	ok, err := Eval(arena, fired, st)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Eval(arena, never, st)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalCombineAnyShortCircuits(t *testing.T) {
	b := ir.NewBuilder()
	a := b.EventConstNode(false)
	c := b.EventConstNode(true)
	any := b.EventCombineNode(ir.CombineAny, []ids.ValueExprId{a, c})
	all := b.EventCombineNode(ir.CombineAll, []ids.ValueExprId{a, c})
	arena := b.Arena()
	st := newState(len(arena))

	ok, err := Eval(arena, any, st)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Eval(arena, all, st)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalWrapFiresOnRisingEdgeOnly(t *testing.T) {
	b := ir.NewBuilder()
	signalID := ids.ValueExprId(999) // arbitrary id read via ReadSignal, not materialized into the arena
	wrap := b.EventWrapNode(signalID)
	arena := b.Arena()

	value := 0.0
	st := newState(len(arena))
	st.ReadSignal = func(id ids.ValueExprId) float64 { return value }

	value = 0.2
	ok, err := Eval(arena, wrap, st)
	require.NoError(t, err)
	assert.False(t, ok, "below 0.5 threshold never fires")

	value = 0.7
	ok, err = Eval(arena, wrap, st)
	require.NoError(t, err)
	assert.True(t, ok, "0->1 edge fires")

	ok, err = Eval(arena, wrap, st)
	require.NoError(t, err)
	assert.False(t, ok, "holding high does not refire")

	value = 0.1
	_, err = Eval(arena, wrap, st)
	require.NoError(t, err)

	value = 0.9
	ok, err = Eval(arena, wrap, st)
	require.NoError(t, err)
	assert.True(t, ok, "falling then rising again refires")
}

func TestEvalWrapTreatsNaNAsLowAndAllowsRefire(t *testing.T) {
	b := ir.NewBuilder()
	signalID := ids.ValueExprId(999)
	wrap := b.EventWrapNode(signalID)
	arena := b.Arena()

	value := 1.0
	st := newState(len(arena))
	st.ReadSignal = func(id ids.ValueExprId) float64 { return value }

	ok, err := Eval(arena, wrap, st)
	require.NoError(t, err)
	assert.True(t, ok, "rising edge from the zero-valued predicate fires")

	ok, err = Eval(arena, wrap, st)
	require.NoError(t, err)
	assert.False(t, ok, "holding high does not refire")

	value = math.NaN()
	ok, err = Eval(arena, wrap, st)
	require.NoError(t, err)
	assert.False(t, ok, "NaN is treated as below threshold, never as high")

	value = 1.0
	ok, err = Eval(arena, wrap, st)
	require.NoError(t, err)
	assert.True(t, ok, "returning to a high value after the NaN dip re-fires")
}

func TestEvalDetectsCycle(t *testing.T) {
	b := ir.NewBuilder()
	// Pre-mark a single node's tripwire, simulating re-entry through a
	// compiler-level cycle the runtime safety net must still catch.
	a := b.EventNeverNode()
	arena := b.Arena()
	st := newState(len(arena))
	st.CycleDetection[a] = 1

	_, err := Eval(arena, a, st)
	require.Error(t, err)
	var cycleErr *CycleError
	assert.ErrorAs(t, err, &cycleErr)
}
