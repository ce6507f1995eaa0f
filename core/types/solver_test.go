package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolverEqualityPropagation(t *testing.T) {
	s := NewSolver()
	a := VarRef{Kind: VarPayload, ID: 1}
	b := VarRef{Kind: VarPayload, ID: 2}
	s.Add(EqualityConstraint{A: a, B: b})
	s.Add(AssignConstraint{Var: a, Value: PayloadFloat})

	sub, diags := s.Run()
	assert.Empty(t, diags)
	require.Contains(t, sub.Payload, VarID(1))
	require.Contains(t, sub.Payload, VarID(2))
	assert.Equal(t, PayloadFloat, sub.Payload[1])
	assert.Equal(t, PayloadFloat, sub.Payload[2])
}

func TestSolverChoiceNarrowsToSingleton(t *testing.T) {
	s := NewSolver()
	v := VarRef{Kind: VarUnit, ID: 1}
	s.Add(ChoiceConstraint{Var: v, Allowed: []interface{}{NoneUnit(), CountUnit()}})
	s.Add(ChoiceConstraint{Var: v, Allowed: []interface{}{CountUnit()}})

	sub, diags := s.Run()
	assert.Empty(t, diags)
	require.Contains(t, sub.Unit, VarID(1))
	assert.True(t, sub.Unit[1].Equal(CountUnit()))
}

func TestSolverDeterministicIterationOrder(t *testing.T) {
	// Deterministic iteration order: sort vars by id. Running twice from
	// scratch with identical constraints yields identical substitutions.
	build := func() Substitution {
		s := NewSolver()
		s.Add(AssignConstraint{Var: VarRef{Kind: VarPayload, ID: 3}, Value: PayloadInt})
		s.Add(AssignConstraint{Var: VarRef{Kind: VarPayload, ID: 1}, Value: PayloadFloat})
		s.Add(EqualityConstraint{A: VarRef{Kind: VarPayload, ID: 2}, B: VarRef{Kind: VarPayload, ID: 1}})
		sub, _ := s.Run()
		return sub
	}
	a := build()
	b := build()
	assert.Equal(t, a.Payload, b.Payload)
}

func TestSolverUnresolvedDiagnostics(t *testing.T) {
	s := NewSolver()
	v := VarRef{Kind: VarPayload, ID: 9}
	s.Add(ChoiceConstraint{Var: v, Allowed: []interface{}{PayloadFloat, PayloadInt}, Provenance: Provenance{BlockID: "b", PortID: "p"}})
	_, _ = s.Run()
	diags := s.Diagnostics()
	require.Len(t, diags, 1)
	var uerr *UnresolvedVarError
	require.ErrorAs(t, diags[0], &uerr)
	assert.Equal(t, "b", uerr.Provenance.BlockID)
}
