package bind

import (
	"testing"

	"github.com/fieldgraph/engine/core/ids"
	"github.com/fieldgraph/engine/core/ir"
	"github.com/fieldgraph/engine/core/lower"
	"github.com/fieldgraph/engine/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatSignal() types.CanonicalType {
	return types.CanonicalSignal(types.PayloadFloat, types.NoneUnit(), types.ContractNone)
}

func TestBindEffectsAllocatesStateInKeyOrder(t *testing.T) {
	b := ir.NewBuilder()
	effects := lower.Effects{
		StateDecls: []lower.StateDecl{
			{Key: ids.StableStateId("B:s"), InitialValue: types.ConstFloat(0)},
			{Key: ids.StableStateId("A:s"), InitialValue: types.ConstFloat(0)},
		},
	}
	result := BindEffects(Input{Effects: effects}, b)

	assert.Equal(t, ids.StateSlot(0), result.StateMap[ids.StableStateId("A:s")])
	assert.Equal(t, ids.StateSlot(1), result.StateMap[ids.StableStateId("B:s")])
}

func TestBindEffectsReusesExistingState(t *testing.T) {
	b := ir.NewBuilder()
	key := ids.StableStateId("osc1:phase")
	effects := lower.Effects{StateDecls: []lower.StateDecl{{Key: key, InitialValue: types.ConstFloat(0)}}}

	existing := map[ids.StableStateId]ids.StateSlot{key: 7}
	result := BindEffects(Input{Effects: effects, ExistingState: existing}, b)

	assert.Equal(t, ids.StateSlot(7), result.StateMap[key])
	// A fresh, unrelated decl must not collide with the reused slot.
	b2 := BindEffects(Input{Effects: lower.Effects{StateDecls: []lower.StateDecl{
		{Key: ids.StableStateId("other:x"), InitialValue: types.ConstFloat(0)},
	}}, ExistingState: existing}, b)
	assert.NotEqual(t, ids.StateSlot(7), b2.StateMap[ids.StableStateId("other:x")])
}

func TestBindEffectsFlagsUnknownStepRequestKey(t *testing.T) {
	b := ir.NewBuilder()
	effects := lower.Effects{
		StepRequests: []lower.StepRequest{{Kind: lower.StepRequestStateWrite, StateKey: ids.StableStateId("ghost")}},
	}
	result := BindEffects(Input{Effects: effects}, b)
	require.Len(t, result.Diagnostics, 1)
}

func TestApplyBindingPatchesPendingStateRead(t *testing.T) {
	b := ir.NewBuilder()
	key := ids.StableStateId("osc1:phase")
	node := b.PendingState(key, floatSignal())

	effects := lower.Effects{StateDecls: []lower.StateDecl{{Key: key, InitialValue: types.ConstFloat(0)}}}
	result := BindEffects(Input{Effects: effects}, b)
	require.Len(t, result.ExprPatches, 1)

	ApplyBinding(b, result, effects)
	assert.Equal(t, result.StateMap[key], b.Node(node).StateSlot)
}

func TestApplyBindingResolvesStateWrites(t *testing.T) {
	b := ir.NewBuilder()
	key := ids.StableStateId("osc1:phase")
	val, _ := b.Constant(types.ConstFloat(1), floatSignal())
	effects := lower.Effects{
		StateDecls:   []lower.StateDecl{{Key: key, InitialValue: types.ConstFloat(0)}},
		StepRequests: []lower.StepRequest{{Kind: lower.StepRequestStateWrite, StateKey: key, Value: val}},
	}
	result := BindEffects(Input{Effects: effects}, b)
	writes := ApplyBinding(b, result, effects)

	require.Len(t, writes, 1)
	assert.Equal(t, result.StateMap[key], writes[0].Slot)
	assert.Equal(t, val, writes[0].Value)
}

func TestBindOutputsRequiresSlotForImpureBlock(t *testing.T) {
	outputs := map[string]lower.Output{"out": {Type: floatSignal()}}
	_, err := BindOutputs(outputs, map[string]ids.ValueSlot{}, "osc1", lower.PurityImpure)
	require.Error(t, err)

	slotMap := map[string]ids.ValueSlot{"osc1:out": 4}
	bound, err := BindOutputs(outputs, slotMap, "osc1", lower.PurityImpure)
	require.NoError(t, err)
	require.NotNil(t, bound["out"].Slot)
	assert.Equal(t, ids.ValueSlot(4), *bound["out"].Slot)
}

func TestBindEffectsQualifiesSlotsByBlock(t *testing.T) {
	b := ir.NewBuilder()
	effects := lower.Effects{
		SlotRequests: []lower.SlotRequest{
			{BlockID: "osc1", PortID: "out", Type: floatSignal()},
			{BlockID: "osc2", PortID: "out", Type: floatSignal()},
		},
	}
	result := BindEffects(Input{Effects: effects}, b)
	assert.NotEqual(t, result.SlotMap["osc1:out"], result.SlotMap["osc2:out"])
}

func TestBindOutputsLeavesPureUnslotted(t *testing.T) {
	outputs := map[string]lower.Output{"out": {Type: floatSignal()}}
	bound, err := BindOutputs(outputs, map[string]ids.ValueSlot{}, "add1", lower.PurityPure)
	require.NoError(t, err)
	assert.Nil(t, bound["out"].Slot)
}
