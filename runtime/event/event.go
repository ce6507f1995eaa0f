// Package event implements the event-extent evaluator (spec §4.8): a
// small recursive interpreter over ir.ValueExpr's event union, isolated
// from the scalar evaluator because of its cycle-detection tripwire.
package event

import (
	"fmt"
	"math"

	"github.com/fieldgraph/engine/core/ids"
	"github.com/fieldgraph/engine/core/ir"
)

// CycleError is raised when an event expression re-enters itself during
// evaluation — a runtime safety net, since the compiler must never
// introduce a genuine cycle among event nodes.
type CycleError struct {
	ExprID ids.ValueExprId
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("CycleInEventEval: expr %d re-entered during event evaluation", e.ExprID)
}

// State is the subset of ProgramState the event evaluator reads and
// writes: the per-expression cycle tripwire, the previous frame's wrap
// predicate, and a scalar reader for the signal inputs wrap/combine may
// depend on indirectly (e.g. a pulse source already evaluated in this
// frame's evalValue pass).
type State struct {
	CycleDetection []byte
	PrevPredicate  []byte
	ReadSignal     func(id ids.ValueExprId) float64
}

// Eval evaluates an event-extent node, returning whether it fired this
// frame. It is not memoized across a frame the way scalar evaluation is:
// spec §4.8 specifies no per-frame event cache, only the cycle tripwire
// and the carried-forward predicate.
func Eval(arena []ir.ValueExpr, id ids.ValueExprId, st *State) (bool, error) {
	if st.CycleDetection[id] == 1 {
		return false, &CycleError{ExprID: id}
	}
	st.CycleDetection[id] = 1
	defer func() { st.CycleDetection[id] = 0 }()

	n := arena[id]
	switch n.Kind {
	case ir.ExprEvent:
		return evalEventKind(arena, n, st)
	case ir.ExprEventRead:
		return false, fmt.Errorf("eventRead{%d} is a read-only slot reference, not an evaluable event node", n.EventSlot)
	default:
		return false, fmt.Errorf("expr %d is not an event-extent node (kind %s)", id, n.Kind)
	}
}

func evalEventKind(arena []ir.ValueExpr, n ir.ValueExpr, st *State) (bool, error) {
	switch n.EventKind {
	case ir.EventConst:
		return n.EventFired, nil

	case ir.EventNever:
		return false, nil

	case ir.EventPulse:
		return true, nil

	case ir.EventCombine:
		switch n.CombineMode {
		case ir.CombineAny:
			for _, in := range n.CombineInputs {
				fired, err := Eval(arena, in, st)
				if err != nil {
					return false, err
				}
				if fired {
					return true, nil
				}
			}
			return false, nil
		case ir.CombineAll:
			for _, in := range n.CombineInputs {
				fired, err := Eval(arena, in, st)
				if err != nil {
					return false, err
				}
				if !fired {
					return false, nil
				}
			}
			return true, nil
		default:
			return false, fmt.Errorf("unknown combine mode %d", n.CombineMode)
		}

	case ir.EventWrap:
		x := st.ReadSignal(n.WrapInput)
		predicate := byte(0)
		if !math.IsNaN(x) && !math.IsInf(x, 0) && x >= 0.5 {
			predicate = 1
		}
		prev := st.PrevPredicate[n.ID]
		fired := predicate == 1 && prev == 0
		st.PrevPredicate[n.ID] = predicate
		return fired, nil

	default:
		return false, fmt.Errorf("unknown event kind %d", n.EventKind)
	}
}
