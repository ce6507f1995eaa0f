package types

import "fmt"

// CanonicalType is a fully resolved type: every axis is an Inst, never a
// Var. Invariant I1 (no vars in canonical form) is structural — the Go
// type itself carries no Var representation, so I1 holds by construction
// once a value of this type exists.
type CanonicalType struct {
	Payload  Payload
	Unit     Unit
	Extent   Extent
	Contract ValueContract
}

// Validate checks invariants I2 (legal payload/unit pair) against this
// type. I1 holds by construction; I3 is checked where ConstValues are
// attached to a const node, not on the type alone.
func (t CanonicalType) Validate() error {
	if !t.Payload.Valid() {
		return fmt.Errorf("invalid payload %v", t.Payload)
	}
	if !PayloadUnitLegal(t.Payload, t.Unit) {
		return &PayloadUnitIllegalError{Payload: t.Payload, Unit: t.Unit}
	}
	return nil
}

func (t CanonicalType) String() string {
	return fmt.Sprintf("%s<%s>%s[%s]", t.Payload, t.Unit, t.Extent, t.Contract)
}

// TypesEqual is a total, deep structural equality over canonical types. It
// never accepts a type carrying an unresolved var — callers must finalize
// first.
func TypesEqual(a, b CanonicalType) bool {
	return a.Payload == b.Payload &&
		a.Unit.Equal(b.Unit) &&
		a.Extent.Equal(b.Extent) &&
		a.Contract == b.Contract
}

// CanonicalSignal builds a one-cardinality, continuous-temporality
// canonical type: payload/unit/contract are declared directly, all other
// axes take their default ("no special binding/perspective/branch").
func CanonicalSignal(p Payload, u Unit, contract ValueContract) CanonicalType {
	return CanonicalType{
		Payload: p,
		Unit:    u,
		Extent: Extent{
			Cardinality: OneCardinality(),
			Temporality: TemporalityContinuous,
			Binding:     BindingUnbound,
			Perspective: DefaultPerspective(),
			Branch:      DefaultBranch(),
		},
		Contract: contract,
	}
}

// CanonicalField builds a many-cardinality, continuous-temporality
// canonical type bound to the given instance.
func CanonicalField(p Payload, u Unit, instance InstanceRef, contract ValueContract) CanonicalType {
	return CanonicalType{
		Payload: p,
		Unit:    u,
		Extent: Extent{
			Cardinality: ManyCardinality(instance),
			Temporality: TemporalityContinuous,
			Binding:     BindingStrong,
			Perspective: DefaultPerspective(),
			Branch:      DefaultBranch(),
		},
		Contract: contract,
	}
}

// CanonicalEvent builds a discrete-temporality, one-cardinality canonical
// type. Events carry no payload contract of interest beyond bool-like
// firing semantics, so payload is fixed to PayloadBool/UnitNone/ContractNone.
func CanonicalEvent() CanonicalType {
	return CanonicalType{
		Payload: PayloadBool,
		Unit:    NoneUnit(),
		Extent: Extent{
			Cardinality: OneCardinality(),
			Temporality: TemporalityDiscrete,
			Binding:     BindingUnbound,
			Perspective: DefaultPerspective(),
			Branch:      DefaultBranch(),
		},
		Contract: ContractNone,
	}
}

// CanonicalConst builds a zero-cardinality canonical type: the universal
// donor, readable from any consumer context regardless of its own
// cardinality/temporality.
func CanonicalConst(p Payload, u Unit, contract ValueContract) CanonicalType {
	return CanonicalType{
		Payload: p,
		Unit:    u,
		Extent: Extent{
			Cardinality: ZeroCardinality(),
			Temporality: TemporalityContinuous,
			Binding:     BindingUnbound,
			Perspective: DefaultPerspective(),
			Branch:      DefaultBranch(),
		},
		Contract: contract,
	}
}
