package program

import (
	"testing"

	"github.com/fieldgraph/engine/core/ids"
	"github.com/fieldgraph/engine/core/lower"
	"github.com/fieldgraph/engine/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatSignal() types.CanonicalType {
	return types.CanonicalSignal(types.PayloadFloat, types.NoneUnit(), types.ContractNone)
}

func constBlockDef() lower.BlockDef {
	sig := types.CanonicalToInference(floatSignal())
	return lower.BlockDef{
		Type:           "const.float",
		LoweringPurity: lower.PurityPure,
		Outputs:        map[string]lower.PortDef{"value": {Type: sig}},
		Lower: func(ctx *lower.Context) (lower.LowerResult, error) {
			id, err := ctx.Builder.Constant(types.ConstFloat(1), ctx.OutputTypes["value"])
			if err != nil {
				return lower.LowerResult{}, err
			}
			return lower.LowerResult{OutputsByID: map[string]lower.Output{
				"value": {ID: id, Type: ctx.OutputTypes["value"]},
			}}, nil
		},
	}
}

// sinkBlockDef is impure and requests a slot for its single output, so it
// always shows up as a scheduled step.
func sinkBlockDef() lower.BlockDef {
	sig := types.CanonicalToInference(floatSignal())
	return lower.BlockDef{
		Type:           "sink",
		LoweringPurity: lower.PurityImpure,
		Inputs:         map[string]lower.PortDef{"in": {Type: sig}},
		Outputs:        map[string]lower.PortDef{"out": {Type: sig}},
		Lower: func(ctx *lower.Context) (lower.LowerResult, error) {
			return lower.LowerResult{
				OutputsByID: map[string]lower.Output{"out": {ID: ctx.Inputs["in"].ID, Type: ctx.OutputTypes["out"]}},
				Effects: lower.Effects{
					SlotRequests: []lower.SlotRequest{{PortID: "out", Type: ctx.OutputTypes["out"]}},
				},
			}, nil
		},
	}
}

// badSinkBlockDef is impure but never requests a slot for its output,
// exercising MissingSlotForImpureBlock.
func badSinkBlockDef() lower.BlockDef {
	sig := types.CanonicalToInference(floatSignal())
	return lower.BlockDef{
		Type:           "badSink",
		LoweringPurity: lower.PurityImpure,
		Inputs:         map[string]lower.PortDef{"in": {Type: sig}},
		Outputs:        map[string]lower.PortDef{"out": {Type: sig}},
		Lower: func(ctx *lower.Context) (lower.LowerResult, error) {
			return lower.LowerResult{
				OutputsByID: map[string]lower.Output{"out": {ID: ctx.Inputs["in"].ID, Type: ctx.OutputTypes["out"]}},
			}, nil
		},
	}
}

// ghostStateBlockDef requests a state write against a state key nobody
// declared, exercising UnknownStateKey.
func ghostStateBlockDef() lower.BlockDef {
	sig := types.CanonicalToInference(floatSignal())
	return lower.BlockDef{
		Type:           "ghostState",
		LoweringPurity: lower.PurityImpure,
		Inputs:         map[string]lower.PortDef{"in": {Type: sig}},
		Outputs:        map[string]lower.PortDef{"out": {Type: sig}},
		Lower: func(ctx *lower.Context) (lower.LowerResult, error) {
			return lower.LowerResult{
				OutputsByID: map[string]lower.Output{"out": {ID: ctx.Inputs["in"].ID, Type: ctx.OutputTypes["out"]}},
				Effects: lower.Effects{
					SlotRequests: []lower.SlotRequest{{PortID: "out", Type: ctx.OutputTypes["out"]}},
					StepRequests: []lower.StepRequest{{Kind: lower.StepRequestStateWrite, StateKey: ids.StableStateId("ghost"), Value: ctx.Inputs["in"].ID}},
				},
			}, nil
		},
	}
}

func registryWith(defs ...lower.BlockDef) *lower.Registry {
	r := lower.NewRegistry()
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

func TestCompileSimpleLinearPatch(t *testing.T) {
	r := registryWith(constBlockDef(), sinkBlockDef())
	patch := Patch{ID: "p1", Blocks: []PatchBlock{
		{ID: "c1", Type: "const.float"},
		{ID: "s1", Type: "sink", Inputs: map[string]InputSource{
			"in": {FromBlock: "c1", FromPort: "value"},
		}},
	}}

	result := Compile(patch, r, nil, NewCompilerConfig())
	require.Equal(t, "ok", result.Kind, "unexpected diagnostics: %v", result.Errors)
	require.NotNil(t, result.Program)
	require.Len(t, result.Program.Schedule.Steps, 1)
	assert.Equal(t, "s1", result.Program.Schedule.Steps[0].BlockID)
	assert.Equal(t, "out", result.Program.Schedule.Steps[0].PortID)
	assert.Contains(t, result.Program.Outputs, "s1:out")
	assert.Len(t, result.Program.SlotMeta, 1)
}

func TestCompileUnknownBlockType(t *testing.T) {
	r := registryWith(constBlockDef())
	patch := Patch{Blocks: []PatchBlock{{ID: "c1", Type: "nonexistent"}}}

	result := Compile(patch, r, nil, NewCompilerConfig())
	require.Equal(t, "error", result.Kind)
	require.Nil(t, result.Program)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, "UnknownBlockType", result.Errors[0].Code)
}

func TestCompileMissingInputConnection(t *testing.T) {
	r := registryWith(sinkBlockDef())
	patch := Patch{Blocks: []PatchBlock{{ID: "s1", Type: "sink"}}}

	result := Compile(patch, r, nil, NewCompilerConfig())
	require.Equal(t, "error", result.Kind)
	require.NotEmpty(t, result.Errors)
	found := false
	for _, d := range result.Errors {
		if d.Code == "MissingInputConnection" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCompileGraphCycle(t *testing.T) {
	r := registryWith(sinkBlockDef())
	patch := Patch{Blocks: []PatchBlock{
		{ID: "a", Type: "sink", Inputs: map[string]InputSource{"in": {FromBlock: "b", FromPort: "out"}}},
		{ID: "b", Type: "sink", Inputs: map[string]InputSource{"in": {FromBlock: "a", FromPort: "out"}}},
	}}

	result := Compile(patch, r, nil, NewCompilerConfig())
	require.Equal(t, "error", result.Kind)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "GraphCycle", result.Errors[0].Code)
}

func TestCompileMissingSlotForImpureBlock(t *testing.T) {
	r := registryWith(constBlockDef(), badSinkBlockDef())
	patch := Patch{Blocks: []PatchBlock{
		{ID: "c1", Type: "const.float"},
		{ID: "s1", Type: "badSink", Inputs: map[string]InputSource{"in": {FromBlock: "c1", FromPort: "value"}}},
	}}

	result := Compile(patch, r, nil, NewCompilerConfig())
	require.Equal(t, "error", result.Kind)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, "MissingSlotForImpureBlock", result.Errors[0].Code)
}

func TestCompileUnknownStateKey(t *testing.T) {
	r := registryWith(constBlockDef(), ghostStateBlockDef())
	patch := Patch{Blocks: []PatchBlock{
		{ID: "c1", Type: "const.float"},
		{ID: "s1", Type: "ghostState", Inputs: map[string]InputSource{"in": {FromBlock: "c1", FromPort: "value"}}},
	}}

	result := Compile(patch, r, nil, NewCompilerConfig())
	require.Equal(t, "error", result.Kind)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, "UnknownStateKey", result.Errors[0].Code)
}
