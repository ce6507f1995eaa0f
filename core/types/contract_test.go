package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContractsCompatible(t *testing.T) {
	// Property 3.
	for _, c := range []ValueContract{ContractNone, ContractClamp01, ContractWrap01, ContractClamp11} {
		assert.True(t, ContractsCompatible(c, c), "contracts_compatible(%s,%s)", c, c)
		assert.True(t, ContractsCompatible(c, ContractNone), "contracts_compatible(%s,none)", c)
	}
	for _, c := range []ValueContract{ContractClamp01, ContractWrap01, ContractClamp11} {
		assert.False(t, ContractsCompatible(ContractNone, c), "contracts_compatible(none,%s)", c)
	}
	assert.False(t, ContractsCompatible(ContractClamp01, ContractWrap01))
}

func TestCardinalityAccepts(t *testing.T) {
	assert.True(t, CardinalityAccepts(OneCardinality(), ZeroCardinality()))
	inst := InstanceRef{DomainTypeID: "pts", InstanceID: "x"}
	assert.True(t, CardinalityAccepts(ManyCardinality(inst), ZeroCardinality()))
	assert.False(t, CardinalityAccepts(OneCardinality(), ManyCardinality(inst)))
	assert.True(t, CardinalityAccepts(OneCardinality(), OneCardinality()))
}
