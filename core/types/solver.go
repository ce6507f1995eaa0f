package types

import (
	"fmt"
	"sort"

	"github.com/fieldgraph/engine/core/invariant"
)

// Constraint is one fact a block contributes about its ports' inference
// variables. The solver supports the three shapes named in the type
// specification: equality between two variables, a concrete assignment
// from a default, and a choice from a restricted set.
type Constraint interface {
	constraint()
}

// EqualityConstraint asserts that A and B name the same resolved value.
// Both must be variables in the same VarKind namespace.
type EqualityConstraint struct {
	A, B       VarRef
	Provenance Provenance
}

func (EqualityConstraint) constraint() {}

// AssignConstraint asserts Var resolves to Value (a default). Value's
// dynamic type must match Var.Kind's resolved type (Payload, Unit,
// Cardinality, TemporalityKind, BindingKind, Perspective, or Branch).
type AssignConstraint struct {
	Var        VarRef
	Value      interface{}
	Provenance Provenance
}

func (AssignConstraint) constraint() {}

// ChoiceConstraint restricts Var to one of Allowed. The solver resolves a
// choice once its allowed set (intersected across every ChoiceConstraint
// seen for that variable, and against any Assign) narrows to exactly one
// value.
type ChoiceConstraint struct {
	Var        VarRef
	Allowed    []interface{}
	Provenance Provenance
}

func (ChoiceConstraint) constraint() {}

// unionFind implements union-by-rank with path compression over VarRef
// keys. Each VarKind namespace is disjoint, so the map key embeds Kind.
type unionFind struct {
	parent map[VarRef]VarRef
	rank   map[VarRef]int
}

func newUnionFind() *unionFind {
	return &unionFind{parent: map[VarRef]VarRef{}, rank: map[VarRef]int{}}
}

func (u *unionFind) find(x VarRef) VarRef {
	p, ok := u.parent[x]
	if !ok {
		u.parent[x] = x
		return x
	}
	if p == x {
		return x
	}
	root := u.find(p)
	u.parent[x] = root // path compression
	return root
}

func (u *unionFind) union(a, b VarRef) VarRef {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return ra
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
	return ra
}

// Solver runs the fixpoint unification described in the type
// specification: each pass applies every constraint, updates the
// substitution, and records newly resolved facts; the pass terminates
// when no fact changes.
type Solver struct {
	uf          *unionFind
	assigned    map[VarRef]interface{}
	choices     map[VarRef][]interface{}
	provenance  map[VarRef]Provenance
	constraints []Constraint
	diagnostics []error
}

// NewSolver creates an empty solver.
func NewSolver() *Solver {
	return &Solver{
		uf:         newUnionFind(),
		assigned:   map[VarRef]interface{}{},
		choices:    map[VarRef][]interface{}{},
		provenance: map[VarRef]Provenance{},
	}
}

// Add registers a constraint contributed by a block. Constraints are
// applied during Run in the order added, in every pass; only the
// singleton-choice promotion and the final substitution walk variables in
// sorted VarRef order.
func (s *Solver) Add(c Constraint) {
	invariant.NotNil(c, "constraint")
	s.constraints = append(s.constraints, c)
}

func (s *Solver) recordProvenance(v VarRef, p Provenance) {
	if _, ok := s.provenance[v]; !ok {
		s.provenance[v] = p
	}
}

// defaultMaxPasses bounds Run's fixpoint loop against a constraint set
// that somehow never stabilizes; a correct constraint set converges in far
// fewer passes than this.
const defaultMaxPasses = 1000

// Run executes the fixpoint to termination (capped at defaultMaxPasses)
// and returns the resulting Substitution plus any conflict diagnostics
// observed along the way (conflicting assignments are non-fatal to the
// pass — the solver keeps the first assignment and records a diagnostic,
// so every block's error is discovered in one pass rather than aborting
// early).
func (s *Solver) Run() (Substitution, []error) {
	return s.RunWithMaxPasses(defaultMaxPasses)
}

// RunWithMaxPasses is Run with an explicit pass cap — the knob
// CompilerConfig.MaxInferencePasses threads down to, via lower.Context, for
// a block whose own lower() runs a solver over its port constraints.
func (s *Solver) RunWithMaxPasses(maxPasses int) (Substitution, []error) {
	for i := 0; maxPasses <= 0 || i < maxPasses; i++ {
		changed := s.pass()
		if !changed {
			break
		}
	}
	return s.buildSubstitution(), s.diagnostics
}

func (s *Solver) pass() bool {
	changed := false

	// Deterministic iteration: process constraints in a stable order.
	// Equality constraints union roots first so later assign/choice
	// constraints see the merged class.
	for _, c := range s.constraints {
		switch k := c.(type) {
		case EqualityConstraint:
			s.recordProvenance(k.A, k.Provenance)
			s.recordProvenance(k.B, k.Provenance)
			ra, rb := s.uf.find(k.A), s.uf.find(k.B)
			if ra != rb {
				root := s.uf.union(k.A, k.B)
				changed = true
				// Merge assigned/choices onto the new root, detecting conflicts.
				av, aok := s.assigned[ra]
				bv, bok := s.assigned[rb]
				switch {
				case aok && bok:
					if !equalDynamic(av, bv) {
						s.diagnostics = append(s.diagnostics, fmt.Errorf("conflicting assignments for %v and %v: %v vs %v", k.A, k.B, av, bv))
					}
					s.assigned[root] = av
				case aok:
					s.assigned[root] = av
				case bok:
					s.assigned[root] = bv
				}
				ca, cb := s.choices[ra], s.choices[rb]
				if ca != nil && cb != nil {
					s.choices[root] = intersectDynamic(ca, cb)
				} else if ca != nil {
					s.choices[root] = ca
				} else if cb != nil {
					s.choices[root] = cb
				}
			}
		}
	}

	for _, c := range s.constraints {
		switch k := c.(type) {
		case AssignConstraint:
			s.recordProvenance(k.Var, k.Provenance)
			root := s.uf.find(k.Var)
			if existing, ok := s.assigned[root]; ok {
				if !equalDynamic(existing, k.Value) {
					s.diagnostics = append(s.diagnostics, fmt.Errorf("conflicting assignments for %v: %v vs %v", k.Var, existing, k.Value))
				}
				continue
			}
			s.assigned[root] = k.Value
			changed = true
		case ChoiceConstraint:
			s.recordProvenance(k.Var, k.Provenance)
			root := s.uf.find(k.Var)
			if existing, ok := s.choices[root]; ok {
				merged := intersectDynamic(existing, k.Allowed)
				if len(merged) != len(existing) {
					s.choices[root] = merged
					changed = true
				}
			} else {
				s.choices[root] = append([]interface{}{}, k.Allowed...)
				changed = true
			}
		}
	}

	// Promote singleton choices to assignments.
	roots := make([]VarRef, 0, len(s.choices))
	for r := range s.choices {
		roots = append(roots, r)
	}
	sort.Slice(roots, func(i, j int) bool { return lessVarRef(roots[i], roots[j]) })
	for _, root := range roots {
		if _, ok := s.assigned[root]; ok {
			continue
		}
		allowed := s.choices[root]
		if len(allowed) == 1 {
			s.assigned[root] = allowed[0]
			changed = true
		}
	}

	return changed
}

func lessVarRef(a, b VarRef) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.ID < b.ID
}

func equalDynamic(a, b interface{}) bool {
	switch av := a.(type) {
	case Payload:
		bv, ok := b.(Payload)
		return ok && av == bv
	case Unit:
		bv, ok := b.(Unit)
		return ok && av.Equal(bv)
	case Cardinality:
		bv, ok := b.(Cardinality)
		return ok && av.Equal(bv)
	case TemporalityKind:
		bv, ok := b.(TemporalityKind)
		return ok && av == bv
	case BindingKind:
		bv, ok := b.(BindingKind)
		return ok && av == bv
	case Perspective:
		bv, ok := b.(Perspective)
		return ok && av.Equal(bv)
	case Branch:
		bv, ok := b.(Branch)
		return ok && av.Equal(bv)
	default:
		return a == b
	}
}

func intersectDynamic(a, b []interface{}) []interface{} {
	var out []interface{}
	for _, x := range a {
		for _, y := range b {
			if equalDynamic(x, y) {
				out = append(out, x)
				break
			}
		}
	}
	return out
}

// buildSubstitution materializes the per-kind maps the rest of the package
// consumes (Finalize/TryFinalize), resolving each variable to its union-find
// root's assigned value. Iteration is sorted by VarRef for determinism.
func (s *Solver) buildSubstitution() Substitution {
	sub := EmptySubstitution()
	vars := make([]VarRef, 0, len(s.uf.parent))
	for v := range s.uf.parent {
		vars = append(vars, v)
	}
	sort.Slice(vars, func(i, j int) bool { return lessVarRef(vars[i], vars[j]) })

	for _, v := range vars {
		root := s.uf.find(v)
		val, ok := s.assigned[root]
		if !ok {
			continue
		}
		switch v.Kind {
		case VarPayload:
			sub.Payload[v.ID] = val.(Payload)
		case VarUnit:
			sub.Unit[v.ID] = val.(Unit)
		case VarCardinality:
			sub.Cardinality[v.ID] = val.(Cardinality)
		case VarTemporality:
			sub.Temporality[v.ID] = val.(TemporalityKind)
		case VarBinding:
			sub.Binding[v.ID] = val.(BindingKind)
		case VarPerspective:
			sub.Perspective[v.ID] = val.(Perspective)
		case VarBranch:
			sub.Branch[v.ID] = val.(Branch)
		}
	}
	return sub
}

// Diagnostics returns unresolved-variable diagnostics for every variable
// touched by a constraint that never received an assignment after the
// fixpoint terminated (one diagnostic per unresolved variable, as required
// by §4.1's failure policy).
func (s *Solver) Diagnostics() []error {
	out := append([]error{}, s.diagnostics...)
	vars := make([]VarRef, 0, len(s.provenance))
	for v := range s.provenance {
		vars = append(vars, v)
	}
	sort.Slice(vars, func(i, j int) bool { return lessVarRef(vars[i], vars[j]) })
	for _, v := range vars {
		root := s.uf.find(v)
		if _, ok := s.assigned[root]; !ok {
			out = append(out, &UnresolvedVarError{Var: v, Provenance: s.provenance[v]})
		}
	}
	return out
}
