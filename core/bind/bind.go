// Package bind implements the binding pass: it turns the Effects a block's
// lower() returned into committed IR builder state — state slots, output
// slots, and patched state-read nodes — deterministically.
package bind

import (
	"sort"

	"github.com/fieldgraph/engine/core/fgerr"
	"github.com/fieldgraph/engine/core/ids"
	"github.com/fieldgraph/engine/core/ir"
	"github.com/fieldgraph/engine/core/lower"
)

// Input is everything BindEffects needs: the accumulated effects from one
// or more blocks, plus the previous compile's stateMap (if any) so
// StableStateIds keep their slot across recompiles.
type Input struct {
	Effects       lower.Effects
	ExistingState map[ids.StableStateId]ids.StateSlot
}

// ExprPatch names one ExprState node PendingState created that must be
// rewritten to Slot once binding resolves it.
type ExprPatch struct {
	Expr ids.ValueExprId
	Slot ids.StateSlot
}

// Result is what BindEffects produces: the resolved state and slot maps,
// the patches ApplyBinding must commit, and any diagnostics.
type Result struct {
	StateMap    map[ids.StableStateId]ids.StateSlot
	SlotMap     map[string]ids.ValueSlot
	ExprPatches []ExprPatch
	Diagnostics []error
}

// BindEffects allocates state slots (stateDecls, sorted by key, existing
// entries reused first) and output slots (slotRequests, sorted by portId),
// then validates stepRequests reference known state keys. It does not
// mutate the builder's arena beyond what DeclareState/DeclareStateAt/
// AllocSlot already do — node patching happens in ApplyBinding.
func BindEffects(in Input, b *ir.Builder) Result {
	result := Result{
		StateMap: map[ids.StableStateId]ids.StateSlot{},
		SlotMap:  map[string]ids.ValueSlot{},
	}

	decls := append([]lower.StateDecl{}, in.Effects.StateDecls...)
	sort.Slice(decls, func(i, j int) bool { return decls[i].Key < decls[j].Key })
	// Two passes: keys found in ExistingState claim their slots first, so a
	// fresh allocation in the second pass can never land on a reused slot.
	for pass := 0; pass < 2; pass++ {
		for _, d := range decls {
			if _, ok := result.StateMap[d.Key]; ok {
				continue
			}
			var slot ids.StateSlot
			existing, isExisting := in.ExistingState[d.Key]
			if isExisting != (pass == 0) {
				continue
			}
			if isExisting {
				b.DeclareStateAt(d.Key, existing, d.InitialValue)
				slot = existing
			} else {
				slot = b.DeclareState(d.Key, d.InitialValue)
			}
			result.StateMap[d.Key] = slot
			if exprID, ok := b.PendingStateRef(d.Key); ok {
				result.ExprPatches = append(result.ExprPatches, ExprPatch{Expr: exprID, Slot: slot})
			}
		}
	}

	reqs := append([]lower.SlotRequest{}, in.Effects.SlotRequests...)
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].BlockID != reqs[j].BlockID {
			return reqs[i].BlockID < reqs[j].BlockID
		}
		return reqs[i].PortID < reqs[j].PortID
	})
	for _, r := range reqs {
		key := slotKey(r.BlockID, r.PortID)
		if _, ok := result.SlotMap[key]; ok {
			continue
		}
		result.SlotMap[key] = b.AllocSlot()
	}

	for _, sr := range in.Effects.StepRequests {
		if sr.Kind != lower.StepRequestStateWrite {
			continue
		}
		if _, ok := result.StateMap[sr.StateKey]; !ok {
			err := fgerr.New(fgerr.CodeUnknownStateKey, "stepRequest references unknown state key").
				WithContext("blockId", sr.BlockID).
				WithContext("stateKey", string(sr.StateKey))
			result.Diagnostics = append(result.Diagnostics, err)
		}
	}

	return result
}

// PendingStateWrite is a stepRequest resolved to a concrete slot, ready for
// the scheduler to turn into a schedule step.
type PendingStateWrite struct {
	BlockID  string
	StateKey ids.StableStateId
	Slot     ids.StateSlot
	Value    ids.ValueExprId
}

// ApplyBinding commits result into b — patching every pending state-read
// node to its resolved slot — and returns the resolved state-write
// requests for the scheduler to enqueue as steps. Requests referencing an
// unknown state key (already reported in result.Diagnostics) are dropped.
func ApplyBinding(b *ir.Builder, result Result, effects lower.Effects) []PendingStateWrite {
	for _, p := range result.ExprPatches {
		b.PatchStateSlot(p.Expr, p.Slot)
	}
	var writes []PendingStateWrite
	for _, sr := range effects.StepRequests {
		if sr.Kind != lower.StepRequestStateWrite {
			continue
		}
		if slot, ok := result.StateMap[sr.StateKey]; ok {
			writes = append(writes, PendingStateWrite{BlockID: sr.BlockID, StateKey: sr.StateKey, Slot: slot, Value: sr.Value})
		}
	}
	return writes
}

// BindOutputs resolves every output's slot: an impure block's output must
// already carry a Slot or have a matching slotRequest allocation
// (MissingSlotForImpureBlock otherwise); a pure block's output with no
// slot and no slotRequest allocation is returned unslotted, and no later
// pass allocates a slot for it.
func BindOutputs(outputsByID map[string]lower.Output, slotMap map[string]ids.ValueSlot, blockID string, purity lower.LoweringPurity) (map[string]lower.Output, error) {
	out := make(map[string]lower.Output, len(outputsByID))
	ports := make([]string, 0, len(outputsByID))
	for p := range outputsByID {
		ports = append(ports, p)
	}
	sort.Strings(ports)

	for _, portID := range ports {
		o := outputsByID[portID]
		if o.Slot == nil {
			if slot, ok := slotMap[slotKey(blockID, portID)]; ok {
				s := slot
				o.Slot = &s
			} else if purity == lower.PurityImpure {
				err := fgerr.New(fgerr.CodeMissingSlotForImpureBlock, "impure block output has no slot").
					WithContext("blockId", blockID).
					WithContext("portId", portID)
				return nil, err
			}
		}
		out[portID] = o
	}
	return out, nil
}

// slotKey qualifies a slot-map entry by block so same-named ports on two
// different blocks never collide.
func slotKey(blockID, portID string) string { return blockID + ":" + portID }
