package types

import "github.com/fieldgraph/engine/core/invariant"

// Var is an inference-time value that is either resolved (Inst) or still a
// variable awaiting unification (Var). T is the resolved value's type.
type Var[T any] struct {
	IsVar bool
	ID    VarID
	Value T // meaningful only when !IsVar
}

// Inst builds a resolved Var holding v.
func Inst[T any](v T) Var[T] { return Var[T]{IsVar: false, Value: v} }

// VarOf builds an unresolved Var with the given id.
func VarOf[T any](id VarID) Var[T] { return Var[T]{IsVar: true, ID: id} }

// InferenceExtent mirrors Extent but permits each axis to be a Var.
type InferenceExtent struct {
	Cardinality Var[Cardinality]
	Temporality Var[TemporalityKind]
	Binding     Var[BindingKind]
	Perspective Var[Perspective]
	Branch      Var[Branch]
}

// InferenceCanonicalType mirrors CanonicalType but permits Payload, Unit,
// and each extent axis to be an inference-time variable. Contract is
// always concrete — contracts are declared, never inferred.
type InferenceCanonicalType struct {
	Payload  Var[Payload]
	Unit     Var[Unit]
	Extent   InferenceExtent
	Contract ValueContract
}

// CanonicalToInference lifts a fully resolved CanonicalType into inference
// space with every axis already Inst. Used to prove testable property 1:
// finalize(canonical_type(ct), EMPTY_SUBSTITUTION) == ct.
func CanonicalToInference(ct CanonicalType) InferenceCanonicalType {
	return InferenceCanonicalType{
		Payload: Inst(ct.Payload),
		Unit:    Inst(ct.Unit),
		Extent: InferenceExtent{
			Cardinality: Inst(ct.Extent.Cardinality),
			Temporality: Inst(ct.Extent.Temporality),
			Binding:     Inst(ct.Extent.Binding),
			Perspective: Inst(ct.Extent.Perspective),
			Branch:      Inst(ct.Extent.Branch),
		},
		Contract: ct.Contract,
	}
}

// Substitution is a partial mapping from inference-time variables, one map
// per namespace (VarKind), to their resolved values.
type Substitution struct {
	Payload     map[VarID]Payload
	Unit        map[VarID]Unit
	Cardinality map[VarID]Cardinality
	Temporality map[VarID]TemporalityKind
	Binding     map[VarID]BindingKind
	Perspective map[VarID]Perspective
	Branch      map[VarID]Branch
}

// EmptySubstitution returns a Substitution with no resolved variables.
func EmptySubstitution() Substitution {
	return Substitution{
		Payload:     map[VarID]Payload{},
		Unit:        map[VarID]Unit{},
		Cardinality: map[VarID]Cardinality{},
		Temporality: map[VarID]TemporalityKind{},
		Binding:     map[VarID]BindingKind{},
		Perspective: map[VarID]Perspective{},
		Branch:      map[VarID]Branch{},
	}
}

func resolveVar[T any](v Var[T], table map[VarID]T) (T, bool) {
	if !v.IsVar {
		return v.Value, true
	}
	val, ok := table[v.ID]
	return val, ok
}

// TryFinalize attempts partial application of a substitution to an
// InferenceCanonicalType, returning (type, true) only if every axis
// resolves; otherwise (zero, false). Used for fixpoint progress tracking
// without raising an error on each pass.
func TryFinalize(ict InferenceCanonicalType, subst Substitution) (CanonicalType, bool) {
	payload, ok := resolveVar(ict.Payload, subst.Payload)
	if !ok {
		return CanonicalType{}, false
	}
	unit, ok := resolveVar(ict.Unit, subst.Unit)
	if !ok {
		return CanonicalType{}, false
	}
	card, ok := resolveVar(ict.Extent.Cardinality, subst.Cardinality)
	if !ok {
		return CanonicalType{}, false
	}
	temp, ok := resolveVar(ict.Extent.Temporality, subst.Temporality)
	if !ok {
		return CanonicalType{}, false
	}
	bind, ok := resolveVar(ict.Extent.Binding, subst.Binding)
	if !ok {
		return CanonicalType{}, false
	}
	persp, ok := resolveVar(ict.Extent.Perspective, subst.Perspective)
	if !ok {
		return CanonicalType{}, false
	}
	branch, ok := resolveVar(ict.Extent.Branch, subst.Branch)
	if !ok {
		return CanonicalType{}, false
	}
	return CanonicalType{
		Payload: payload,
		Unit:    unit,
		Extent: Extent{
			Cardinality: card,
			Temporality: temp,
			Binding:     bind,
			Perspective: persp,
			Branch:      branch,
		},
		Contract: ict.Contract,
	}, true
}

// Finalize converts an InferenceCanonicalType to a CanonicalType under the
// given substitution, failing with the specific unresolved variable (kind,
// id) and its provenance if any axis cannot be resolved.
func Finalize(ict InferenceCanonicalType, subst Substitution, prov Provenance) (CanonicalType, error) {
	if ct, ok := TryFinalize(ict, subst); ok {
		return ct, nil
	}
	// Identify exactly which axis failed, in a fixed, deterministic order,
	// so the first reported failure is always the same for the same input.
	if v := ict.Payload; v.IsVar {
		if _, ok := subst.Payload[v.ID]; !ok {
			return CanonicalType{}, &UnresolvedVarError{Var: VarRef{Kind: VarPayload, ID: v.ID}, Provenance: prov}
		}
	}
	if v := ict.Unit; v.IsVar {
		if _, ok := subst.Unit[v.ID]; !ok {
			return CanonicalType{}, &UnresolvedVarError{Var: VarRef{Kind: VarUnit, ID: v.ID}, Provenance: prov}
		}
	}
	if v := ict.Extent.Cardinality; v.IsVar {
		if _, ok := subst.Cardinality[v.ID]; !ok {
			return CanonicalType{}, &UnresolvedVarError{Var: VarRef{Kind: VarCardinality, ID: v.ID}, Provenance: prov}
		}
	}
	if v := ict.Extent.Temporality; v.IsVar {
		if _, ok := subst.Temporality[v.ID]; !ok {
			return CanonicalType{}, &UnresolvedVarError{Var: VarRef{Kind: VarTemporality, ID: v.ID}, Provenance: prov}
		}
	}
	if v := ict.Extent.Binding; v.IsVar {
		if _, ok := subst.Binding[v.ID]; !ok {
			return CanonicalType{}, &UnresolvedVarError{Var: VarRef{Kind: VarBinding, ID: v.ID}, Provenance: prov}
		}
	}
	if v := ict.Extent.Perspective; v.IsVar {
		if _, ok := subst.Perspective[v.ID]; !ok {
			return CanonicalType{}, &UnresolvedVarError{Var: VarRef{Kind: VarPerspective, ID: v.ID}, Provenance: prov}
		}
	}
	if v := ict.Extent.Branch; v.IsVar {
		if _, ok := subst.Branch[v.ID]; !ok {
			return CanonicalType{}, &UnresolvedVarError{Var: VarRef{Kind: VarBranch, ID: v.ID}, Provenance: prov}
		}
	}
	// TryFinalize failed, so by the checks above some axis must have been
	// unresolved; reaching here means the two functions disagree.
	invariant.Invariant(false, "finalize: TryFinalize rejected %v but every axis resolved under inspection", ict)
	return CanonicalType{}, &UnresolvedVarError{Var: VarRef{Kind: VarPayload}, Provenance: prov}
}

// IsInferenceCanonicalizable reports whether ict finalizes successfully
// under subst — testable property 2.
func IsInferenceCanonicalizable(ict InferenceCanonicalType, subst Substitution) bool {
	_, ok := TryFinalize(ict, subst)
	return ok
}
