package program

import (
	"fmt"
	"sort"

	"github.com/fieldgraph/engine/core/bind"
	"github.com/fieldgraph/engine/core/ids"
	"github.com/fieldgraph/engine/core/ir"
	"github.com/fieldgraph/engine/core/lower"
	"github.com/fieldgraph/engine/core/schedule"
	"github.com/fieldgraph/engine/core/types"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Compile walks patch, lowering every block through registry, binds the
// accumulated effects, and schedules a two-phase frame program. On any
// error, no CompiledProgram is exposed (see spec §7): the whole pass fails
// atomically and every collected diagnostic is returned together. cfg
// bounds the compiler's internal passes (see CompilerConfig).
func Compile(patch Patch, registry *lower.Registry, existingState map[ids.StableStateId]ids.StateSlot, cfg CompilerConfig) CompileResult {
	var diags []Diagnostic

	byID := map[string]PatchBlock{}
	order := make([]string, 0, len(patch.Blocks))
	for _, b := range patch.Blocks {
		if _, dup := byID[b.ID]; dup {
			diags = append(diags, diag("DuplicateBlockID", SeverityFatal, BlockTarget(b.ID), "block id %q declared more than once", b.ID))
			continue
		}
		byID[b.ID] = b
		order = append(order, b.ID)
	}

	lowerOrder, cycleErr := topoSortBlocks(byID, order)
	if cycleErr != nil {
		diags = append(diags, diag("GraphCycle", SeverityFatal, TargetRef{Kind: TargetGraphSpan}, "%s", cycleErr))
		return CompileResult{Kind: "error", Errors: diags}
	}

	b := ir.NewBuilder()
	produced := map[string]lower.LoweredInput{} // "blockId:portId" -> LoweredInput
	lowerResults := map[string]lower.LowerResult{}
	blockDefs := map[string]lower.BlockDef{}
	var allEffects lower.Effects

	for _, blockID := range lowerOrder {
		pb := byID[blockID]
		def, ok := registry.Lookup(pb.Type)
		if !ok {
			msg := fmt.Sprintf("block %q references unknown type %q", blockID, pb.Type)
			if suggestion := closestBlockType(pb.Type, registry.Types()); suggestion != "" {
				msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
			}
			diags = append(diags, diag("UnknownBlockType", SeverityError, BlockTarget(blockID), "%s", msg))
			continue
		}
		blockDefs[blockID] = def

		ctx := &lower.Context{
			Builder:            b,
			BlockID:            blockID,
			Inputs:             map[string]lower.LoweredInput{},
			OutputTypes:        map[string]types.CanonicalType{},
			MaxInferencePasses: cfg.MaxInferencePasses,
		}
		ok = true
		for _, portID := range def.SortedInputPortIDs() {
			li, err := resolveInput(b, pb, def, portID, produced)
			if err != nil {
				diags = append(diags, diag("MissingInputConnection", SeverityError, PortTarget(blockID, portID), "%s", err))
				ok = false
				continue
			}
			ctx.Inputs[portID] = li
		}
		for _, portID := range def.SortedOutputPortIDs() {
			ct, finalErr := types.Finalize(def.Outputs[portID].Type, types.EmptySubstitution(), types.Provenance{BlockID: blockID, PortID: portID})
			if finalErr != nil {
				d := diag("UnresolvedTypeVar", SeverityError, PortTarget(blockID, portID), "%s", finalErr)
				if uv, ok := finalErr.(*types.UnresolvedVarError); ok {
					d.Provenance.VarKind = uv.Var.Kind
					d.Provenance.VarID = uv.Var.ID
				}
				diags = append(diags, d)
				ok = false
				continue
			}
			ctx.OutputTypes[portID] = ct
		}
		if !ok {
			continue
		}

		result, err := def.Lower(ctx)
		if err != nil {
			diags = append(diags, diag("LowerFailed", SeverityError, BlockTarget(blockID), "%s", err))
			continue
		}
		if err := def.ValidateResult(result); err != nil {
			diags = append(diags, diag("MissingSlotForImpureBlock", SeverityError, BlockTarget(blockID), "%s", err))
			continue
		}

		for portID, out := range result.OutputsByID {
			produced[blockID+":"+portID] = lower.LoweredInput{ID: out.ID, Type: out.Type}
		}
		lowerResults[blockID] = result

		for _, d := range result.Effects.StateDecls {
			d.BlockID = blockID
			allEffects.StateDecls = append(allEffects.StateDecls, d)
		}
		for _, sr := range result.Effects.StepRequests {
			sr.BlockID = blockID
			allEffects.StepRequests = append(allEffects.StepRequests, sr)
		}
		for _, sr := range result.Effects.SlotRequests {
			sr.BlockID = blockID
			allEffects.SlotRequests = append(allEffects.SlotRequests, sr)
		}
	}

	if hasBlockingDiagnostic(diags) {
		return CompileResult{Kind: "error", Errors: diags}
	}

	bindResult := bind.BindEffects(bind.Input{Effects: allEffects, ExistingState: existingState}, b)
	for _, err := range bindResult.Diagnostics {
		diags = append(diags, diag("UnknownStateKey", SeverityError, BindingTarget(), "%s", err))
	}
	if hasBlockingDiagnostic(diags) {
		return CompileResult{Kind: "error", Errors: diags}
	}

	outputs := map[string]lower.Output{}
	for _, blockID := range lowerOrder {
		result, ok := lowerResults[blockID]
		if !ok {
			continue
		}
		bound, err := bind.BindOutputs(result.OutputsByID, bindResult.SlotMap, blockID, blockDefs[blockID].LoweringPurity)
		if err != nil {
			diags = append(diags, diag("MissingSlotForImpureBlock", SeverityError, BlockTarget(blockID), "%s", err))
			continue
		}
		for portID, out := range bound {
			outputs[blockID+":"+portID] = out
		}
	}
	if hasBlockingDiagnostic(diags) {
		return CompileResult{Kind: "error", Errors: diags}
	}

	writes := bind.ApplyBinding(b, bindResult, allEffects)

	schedInput := schedule.Input{Arena: b.Arena()}
	instanceSet := map[string]bool{}
	debugSlotToBlock := map[ids.ValueSlot]string{}
	debugSlotToPort := map[ids.ValueSlot]string{}

	outKeys := make([]string, 0, len(outputs))
	for k := range outputs {
		outKeys = append(outKeys, k)
	}
	sort.Strings(outKeys)
	for _, key := range outKeys {
		out := outputs[key]
		if out.Slot == nil {
			continue
		}
		blockID, portID := splitKey(key)
		instanceID := ""
		if out.Type.Extent.Cardinality.Kind == types.CardinalityMany {
			instanceID = out.Type.Extent.Cardinality.Instance.InstanceID
			instanceSet[instanceID] = true
		}
		schedInput.Outputs = append(schedInput.Outputs, schedule.OutputRequest{
			BlockID: blockID, PortID: portID, Expr: out.ID, Slot: out.Slot, InstanceID: instanceID,
		})
		debugSlotToBlock[*out.Slot] = blockID
		debugSlotToPort[*out.Slot] = portID
	}

	for _, w := range writes {
		schedInput.StateWrites = append(schedInput.StateWrites, schedule.StateWriteRequest{
			BlockID: w.BlockID, PortID: string(w.StateKey), StateKey: w.StateKey, Slot: w.Slot, Value: w.Value,
		})
	}

	instances := make([]string, 0, len(instanceSet))
	for inst := range instanceSet {
		instances = append(instances, inst)
	}
	sort.Strings(instances)
	schedInput.Instances = instances

	schedInput.StateMappings = map[ids.StableStateId]schedule.StateMapping{}
	for stableID, slot := range b.StateMappings() {
		schedInput.StateMappings[stableID] = schedule.StateMapping{Kind: schedule.StateScalar, SlotIndex: slot}
	}
	schedInput.StateSlotCount = b.StateSlotCount()
	schedInput.EventSlotCount = b.EventSlotCount()
	schedInput.EventCount = countEventNodes(b.Arena())
	schedInput.TimeModel = schedule.TimeModel{Kind: schedule.TimeInfinite}

	sched, err := schedule.Build(schedInput)
	if err != nil {
		diags = append(diags, diag("ScheduleCycle", SeverityFatal, TargetRef{Kind: TargetGraphSpan}, "%s", err))
		return CompileResult{Kind: "error", Errors: diags}
	}

	slotMeta := map[ids.ValueSlot]SlotMeta{}
	fieldSlots := map[ids.ValueSlot]string{}
	for _, key := range outKeys {
		out := outputs[key]
		if out.Slot == nil {
			continue
		}
		storage := StorageF64
		if out.Type.Extent.IsField() {
			storage = StorageObject
			fieldSlots[*out.Slot] = out.Type.Extent.Cardinality.Instance.InstanceID
		}
		slotMeta[*out.Slot] = SlotMeta{Slot: *out.Slot, Storage: storage, Stride: out.Type.Payload.Stride(), Type: out.Type}
	}

	debugIndex := DebugIndex{
		StepToBlock:       map[int]string{},
		SlotToBlock:       debugSlotToBlock,
		SlotToPort:        debugSlotToPort,
		BlockMap:          map[string]string{},
		BlockDisplayNames: map[string]string{},
	}
	for i, s := range sched.Steps {
		if s.BlockID != "" {
			debugIndex.StepToBlock[i] = s.BlockID
		}
	}
	for blockID, pb := range byID {
		debugIndex.BlockMap[blockID] = pb.Type
		if def, ok := blockDefs[blockID]; ok {
			debugIndex.BlockDisplayNames[blockID] = def.Label
		}
	}

	return CompileResult{
		Kind: "ok",
		Program: &CompiledProgram{
			ValueExprs:        b.Arena(),
			Schedule:          sched,
			SlotMeta:          slotMeta,
			FieldSlotRegistry: fieldSlots,
			Outputs:           outputs,
			DebugIndex:        debugIndex,
		},
	}
}

func hasBlockingDiagnostic(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityFatal || d.Severity == SeverityError {
			return true
		}
	}
	return false
}

func splitKey(key string) (blockID, portID string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

func countEventNodes(arena []ir.ValueExpr) int {
	n := 0
	for _, node := range arena {
		if node.Kind == ir.ExprEvent {
			n++
		}
	}
	return n
}

// resolveInput finds the already-lowered value feeding portID, preferring
// an explicit patch wire, then the patch-level default, then the block's
// own declared default.
func resolveInput(b *ir.Builder, pb PatchBlock, def lower.BlockDef, portID string, produced map[string]lower.LoweredInput) (lower.LoweredInput, error) {
	if src, ok := pb.Inputs[portID]; ok {
		if src.FromBlock != "" {
			li, ok := produced[src.FromBlock+":"+src.FromPort]
			if !ok {
				return lower.LoweredInput{}, fmt.Errorf("port %q references %s:%s, which was never produced", portID, src.FromBlock, src.FromPort)
			}
			return li, nil
		}
		if src.Default != nil {
			return constInput(b, def, portID, *src.Default)
		}
	}
	if def.Inputs[portID].DefaultSource != nil {
		return constInput(b, def, portID, *def.Inputs[portID].DefaultSource)
	}
	return lower.LoweredInput{}, fmt.Errorf("port %q has no connection and no default", portID)
}

func constInput(b *ir.Builder, def lower.BlockDef, portID string, value types.ConstValue) (lower.LoweredInput, error) {
	ct, err := types.Finalize(def.Inputs[portID].Type, types.EmptySubstitution(), types.Provenance{PortID: portID})
	if err != nil {
		return lower.LoweredInput{}, err
	}
	id, err := b.Constant(value, ct)
	if err != nil {
		return lower.LoweredInput{}, err
	}
	return lower.LoweredInput{ID: id, Type: ct}, nil
}

// topoSortBlocks orders blocks so every producer lowers before its
// consumers, with a deterministic (lexical blockId) ready-set tie-break.
func topoSortBlocks(byID map[string]PatchBlock, order []string) ([]string, error) {
	indeg := map[string]int{}
	adj := map[string][]string{}
	for _, id := range order {
		indeg[id] = 0
	}
	for _, id := range order {
		for _, src := range byID[id].Inputs {
			if src.FromBlock == "" {
				continue
			}
			if _, ok := byID[src.FromBlock]; !ok {
				continue // unknown producer reported separately by resolveInput
			}
			adj[src.FromBlock] = append(adj[src.FromBlock], id)
			indeg[id]++
		}
	}

	ready := []string{}
	for _, id := range order {
		if indeg[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var result []string
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		result = append(result, cur)
		for _, next := range adj[cur] {
			indeg[next]--
			if indeg[next] == 0 {
				ready = append(ready, next)
				sort.Strings(ready)
			}
		}
	}
	if len(result) != len(order) {
		return nil, fmt.Errorf("cyclic block dependency among %d block(s)", len(order)-len(result))
	}
	return result, nil
}

// closestBlockType fuzzy-matches an unrecognized type name against every
// registered block type, for the "did you mean" hint on UnknownBlockType
// diagnostics. Returns "" if candidates is empty or nothing ranks.
func closestBlockType(target string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	ranks := fuzzy.RankFindFold(target, candidates)
	if len(ranks) == 0 {
		return ""
	}
	return ranks[0].Target
}
