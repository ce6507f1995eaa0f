package ir

import (
	"testing"

	"github.com/fieldgraph/engine/core/ids"
	"github.com/fieldgraph/engine/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatSignal() types.CanonicalType {
	return types.CanonicalSignal(types.PayloadFloat, types.NoneUnit(), types.ContractNone)
}

func TestContentAddressing(t *testing.T) {
	b := NewBuilder()
	t1 := floatSignal()
	id1, err := b.Constant(types.ConstFloat(3), t1)
	require.NoError(t, err)
	id2, err := b.Constant(types.ConstFloat(3), t1)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "identical (kind, operands, type) must share an id")

	id3, err := b.Constant(types.ConstFloat(4), t1)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestConstantInvariantI3(t *testing.T) {
	b := NewBuilder()
	_, err := b.Constant(types.ConstInt(3), floatSignal())
	require.Error(t, err)
}

func TestConstructStride(t *testing.T) {
	b := NewBuilder()
	t1 := floatSignal()
	x, _ := b.Constant(types.ConstFloat(1), t1)
	y, _ := b.Constant(types.ConstFloat(2), t1)

	vec2T := types.CanonicalSignal(types.PayloadVec2, types.NoneUnit(), types.ContractNone)
	id, err := b.Construct([]ids.ValueExprId{x, y}, vec2T)
	require.NoError(t, err)
	assert.Equal(t, 2, len(b.Node(id).Components))

	_, err = b.Construct([]ids.ValueExprId{x}, vec2T)
	require.Error(t, err)
}

func TestExtractBounds(t *testing.T) {
	b := NewBuilder()
	vec2T := types.CanonicalSignal(types.PayloadVec2, types.NoneUnit(), types.ContractNone)
	x, _ := b.Constant(types.ConstFloat(1), floatSignal())
	y, _ := b.Constant(types.ConstFloat(2), floatSignal())
	v, _ := b.Construct([]ids.ValueExprId{x, y}, vec2T)

	_, err := b.Extract(v, 1, floatSignal())
	require.NoError(t, err)
	_, err = b.Extract(v, 2, floatSignal())
	require.Error(t, err)
	_, err = b.Extract(v, -1, floatSignal())
	require.Error(t, err)
}

func TestStateDeclarationDeterministic(t *testing.T) {
	b := NewBuilder()
	idA := ids.StableStateId("B:s")
	idB := ids.StableStateId("A:s")
	idC := ids.StableStateId("C:s")
	b.DeclareState(idA, types.ConstFloat(0))
	b.DeclareState(idB, types.ConstFloat(0))
	b.DeclareState(idC, types.ConstFloat(0))

	sorted := b.SortedStateIds()
	require.Len(t, sorted, 3)
	assert.Equal(t, []ids.StableStateId{"A:s", "B:s", "C:s"}, sorted)
}

func TestDeclareStateIdempotent(t *testing.T) {
	b := NewBuilder()
	id := ids.StableStateId("A:counter")
	s1 := b.DeclareState(id, types.ConstFloat(0))
	s2 := b.DeclareState(id, types.ConstFloat(99)) // second call ignores new initial
	assert.Equal(t, s1, s2)
	assert.Equal(t, types.ConstFloat(0), b.StateInitialValues()[s1])
}
