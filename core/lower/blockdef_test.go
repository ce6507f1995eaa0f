package lower

import (
	"testing"

	"github.com/fieldgraph/engine/core/ids"
	"github.com/fieldgraph/engine/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	def := BlockDef{Type: "const.color", Form: FormPrimitive, Capability: CapabilityPure}
	require.NoError(t, r.Register(def))
	err := r.Register(def)
	require.Error(t, err)

	got, ok := r.Lookup("const.color")
	require.True(t, ok)
	assert.Equal(t, def.Type, got.Type)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestValidateResultMissingSlotForImpureBlock(t *testing.T) {
	d := BlockDef{Type: "osc", LoweringPurity: PurityImpure}
	out := Output{Type: types.CanonicalSignal(types.PayloadFloat, types.NoneUnit(), types.ContractNone)}
	r := LowerResult{OutputsByID: map[string]Output{"out": out}}
	err := d.ValidateResult(r)
	require.Error(t, err)

	slot := ids.ValueSlot(3)
	out.Slot = &slot
	r.OutputsByID["out"] = out
	require.NoError(t, d.ValidateResult(r))
}

func TestSortedPortIDs(t *testing.T) {
	d := BlockDef{Inputs: map[string]PortDef{"b": {}, "a": {}, "c": {}}}
	assert.Equal(t, []string{"a", "b", "c"}, d.SortedInputPortIDs())
}
