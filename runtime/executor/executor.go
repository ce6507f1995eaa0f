package executor

import (
	"fmt"
	"math"

	"github.com/fieldgraph/engine/core/ids"
	"github.com/fieldgraph/engine/core/invariant"
	"github.com/fieldgraph/engine/core/ir"
	"github.com/fieldgraph/engine/core/program"
	"github.com/fieldgraph/engine/core/schedule"
	"github.com/fieldgraph/engine/runtime/materialize"
	"github.com/fieldgraph/engine/runtime/render"
	"github.com/fieldgraph/engine/runtime/state"
)

// Executor runs a RuntimeState's currently-compiled program one frame at a
// time (spec §4.6). It owns the buffer pool across frames so steady-state
// frames allocate nothing (spec §4.7); everything else it touches belongs
// to the RuntimeState it is handed each call.
type Executor struct {
	Pool *materialize.Pool
}

// ExecutorConfig bounds the executor's own resources, built
// functional-options style like CompilerConfig.
type ExecutorConfig struct {
	// BufferPoolCap is the distinct format:count key cap handed to
	// materialize.NewPool.
	BufferPoolCap int
}

// ExecutorOption mutates an ExecutorConfig under construction.
type ExecutorOption func(*ExecutorConfig)

// WithBufferPoolCap overrides the default buffer pool key cap.
func WithBufferPoolCap(n int) ExecutorOption {
	return func(c *ExecutorConfig) { c.BufferPoolCap = n }
}

const defaultBufferPoolCap = 64

// New creates an Executor with a fresh buffer pool, capped at
// defaultBufferPoolCap distinct format:count keys unless overridden by
// WithBufferPoolCap.
func New(opts ...ExecutorOption) *Executor {
	cfg := ExecutorConfig{BufferPoolCap: defaultBufferPoolCap}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Executor{Pool: materialize.NewPool(cfg.BufferPoolCap)}
}

// RunFrame executes one frame of rt's currently-swapped-in program at
// tAbsMs, following spec §4.6's six-step per-frame protocol, and returns
// the resulting RenderFrameIR.
func (ex *Executor) RunFrame(rt *state.RuntimeState, tAbsMs float64) (render.RenderFrameIR, error) {
	invariant.NotNil(ex.Pool, "executor pool")

	snap, ok := rt.Current()
	if !ok {
		return render.RenderFrameIR{}, fmt.Errorf("executor: no compiled program swapped in")
	}

	prg := snap.Program
	sched := snap.Compiled.Schedule

	// Step 1: frameId++, commit external channel double buffer.
	frameID := prg.Cache.FrameID + 1
	invariant.Invariant(frameID > prg.Cache.FrameID, "frame id must strictly increase: next %d, previous %d", frameID, prg.Cache.FrameID)
	snap.Session.External.Commit()

	// Step 2: resolve_time; clear eventScalars/events (ResetFrame does
	// both the frameId stamp bump and the per-frame event clears).
	frameTime := snap.Session.Time.ResolveTime(tAbsMs, sched.TimeModel)
	prg.ResetFrame(frameID)

	ec := &evalCtx{arena: snap.Compiled.ValueExprs, prg: prg, session: snap.Session, time: frameTime, frameID: frameID}
	fr := &frameRun{ex: ex, compiled: snap.Compiled, prg: prg, session: snap.Session, ec: ec}

	var renderSteps []schedule.Step
	var materializedCount uint64

	// Step 3: Phase 1 — iterate steps in order, skipping state writes.
	for _, step := range sched.Steps {
		switch step.Kind {
		case schedule.StepStateWrite, schedule.StepFieldStateWrite:
			continue
		case schedule.StepRender:
			renderSteps = append(renderSteps, step)
		case schedule.StepContinuityMapBuild:
			fr.continuityMapBuild(step.InstanceID)
		case schedule.StepContinuityApply:
			// policy=none (the only policy threaded through this schedule) is
			// an in-place passthrough — nothing to do until a real policy
			// reaches ScheduleIR (see DESIGN.md).
		case schedule.StepEvalValue:
			if err := fr.dispatchEvalValue(step); err != nil {
				return render.RenderFrameIR{}, err
			}
		case schedule.StepSlotWriteStrided:
			if err := fr.dispatchSlotWriteStrided(step); err != nil {
				return render.RenderFrameIR{}, err
			}
		case schedule.StepMaterialize:
			if err := fr.dispatchMaterialize(step); err != nil {
				return render.RenderFrameIR{}, err
			}
			materializedCount++
		default:
			return render.RenderFrameIR{}, fmt.Errorf("executor: unhandled phase-1 step kind %s", step.Kind)
		}
	}

	// Step 4: phase boundary — render assembly over the collected render
	// steps, with every Phase-1 buffer now available.
	inputs, err := fr.collectRenderInputs(renderSteps)
	if err != nil {
		return render.RenderFrameIR{}, err
	}
	frameIR, err := render.Assemble(inputs)
	if err != nil {
		return render.RenderFrameIR{}, err
	}

	// Step 5: Phase 2 — state writes only, in schedule order.
	for _, step := range sched.Steps {
		switch step.Kind {
		case schedule.StepStateWrite:
			if err := fr.dispatchStateWrite(step); err != nil {
				return render.RenderFrameIR{}, err
			}
		case schedule.StepFieldStateWrite:
			if err := fr.dispatchFieldStateWrite(step); err != nil {
				return render.RenderFrameIR{}, err
			}
		}
	}

	// Step 6: post-frame — finalize continuity, update the health
	// snapshot, release pooled buffers back for next frame.
	snap.Session.Continuity.Clock++
	fr.updateHealth(frameTime, materializedCount)
	ex.Pool.ReleaseAll()

	if snap.Session.Tap != nil {
		snap.Session.Tap.OnFrame(frameID)
	}

	return frameIR, nil
}

// frameRun bundles the state one RunFrame call threads through its
// dispatch helpers.
type frameRun struct {
	ex       *Executor
	compiled *program.CompiledProgram
	prg      *state.ProgramState
	session  *state.SessionState
	ec       *evalCtx
}

func (fr *frameRun) dispatchEvalValue(step schedule.Step) error {
	switch step.Strategy {
	case schedule.StrategyDiscreteScalar, schedule.StrategyDiscreteField:
		fired, err := fr.ec.evalEvent(step.Expr)
		if err != nil {
			return err
		}
		if fired && step.Slot != nil {
			fr.prg.EventScalars[ids.EventSlot(*step.Slot)] = 1
		}
		return nil

	default: // StrategyContinuousScalar (and the rarely-reached ContinuousField case)
		lanes, err := fr.ec.evalSignal(step.Expr)
		if err != nil {
			return err
		}
		if step.Slot != nil {
			start := int(*step.Slot)
			for i := 0; i < len(lanes) && start+i < len(fr.prg.Values.F64); i++ {
				fr.prg.Values.F64[start+i] = lanes[i]
			}
		}
		return nil
	}
}

// dispatchSlotWriteStrided evaluates step.Expr and writes its lanes
// component-by-component starting at *step.Slot — spec §4.6's
// "inputs.len() must equal slot.stride" strided-write step. The current
// scheduler never emits this step kind (every field-extent output routes
// through StepMaterialize instead); it is implemented defensively in case
// a future scheduler revision reintroduces it.
func (fr *frameRun) dispatchSlotWriteStrided(step schedule.Step) error {
	if step.Slot == nil {
		return fmt.Errorf("slotWriteStrided step has no target slot")
	}
	lanes, err := fr.ec.evalSignal(step.Expr)
	if err != nil {
		return err
	}
	start := int(*step.Slot)
	for i, v := range lanes {
		if start+i >= len(fr.prg.Values.F64) {
			break
		}
		fr.prg.Values.F64[start+i] = v
	}
	return nil
}

func (fr *frameRun) dispatchMaterialize(step schedule.Step) error {
	ctx := materialize.Context{
		Arena:      fr.ec.arena,
		InstanceID: step.InstanceID,
		Count:      step.Count,
		Program:    fr.prg,
		Pool:       fr.ex.Pool,
		Scalar:     fr.ec.Scalar,
	}
	buf, err := materialize.Materialize(step.Expr, ctx)
	if err != nil {
		return err
	}
	if step.Slot != nil {
		fr.prg.Values.Objects[*step.Slot] = buf
	}
	fr.prg.Cache.FieldBuffers[step.Expr] = buf
	fr.prg.Cache.FieldStamps[step.Expr] = fr.ec.frameID
	return nil
}

// dispatchStateWrite/dispatchFieldStateWrite run only in Phase 2, so they
// may freely read any value this frame already computed in Phase 1 (spec
// §4.6 step 5).
func (fr *frameRun) dispatchStateWrite(step schedule.Step) error {
	lanes, err := fr.ec.evalSignal(step.Expr)
	if err != nil {
		return err
	}
	if step.StateSlot == nil || len(lanes) == 0 {
		return fmt.Errorf("stateWrite step missing target slot or value")
	}
	invariant.InRange(int(*step.StateSlot), 0, len(fr.prg.State)-1, "state write slot")
	fr.prg.State[*step.StateSlot] = lanes[0]
	return nil
}

func (fr *frameRun) dispatchFieldStateWrite(step schedule.Step) error {
	if step.StateSlot == nil {
		return fmt.Errorf("fieldStateWrite step has no target state slot")
	}
	ctx := materialize.Context{
		Arena:      fr.ec.arena,
		InstanceID: step.InstanceID,
		Count:      step.Count,
		Program:    fr.prg,
		Pool:       fr.ex.Pool,
		Scalar:     fr.ec.Scalar,
	}
	buf, err := materialize.Materialize(step.Expr, ctx)
	if err != nil {
		return err
	}
	start := int(*step.StateSlot)
	for i := 0; i < buf.Count; i++ {
		if start+i >= len(fr.prg.State) {
			break
		}
		fr.prg.State[start+i] = buf.Data[i*buf.Stride]
	}
	return nil
}

// continuityMapBuild runs at most once per instance per frame (spec §5):
// it records the instance's current buffer count in the session's
// continuity history. It does not compare that count with the previously
// recorded domain and installs no mapping; no smoothing policy beyond
// "none" reaches ScheduleIR in this compiler — see DESIGN.md.
func (fr *frameRun) continuityMapBuild(instanceID string) {
	if instanceID == "" {
		return
	}
	count := 0
	if buf, ok := fr.latestInstanceBuffer(instanceID); ok {
		count = buf.Count
	}
	fr.session.Continuity.PrevDomains[instanceID] = state.InstanceDomain{Count: count}
}

func (fr *frameRun) latestInstanceBuffer(instanceID string) (*materialize.TypedBuffer, bool) {
	for slot, instance := range fr.compiled.FieldSlotRegistry {
		if instance != instanceID {
			continue
		}
		if buf, ok := fr.prg.Values.Objects[slot].(*materialize.TypedBuffer); ok {
			return buf, true
		}
	}
	return nil, false
}

// updateHealth folds this frame's timing and materialization counters into
// the session's aggregated health snapshot (spec §7 RuntimeHealthSnapshot)
// — an exponential moving average over frame time, not a raw per-frame
// value, since the event is emitted as a periodic aggregate rather than
// once per frame.
func (fr *frameRun) updateHealth(t state.FrameTime, materializedCount uint64) {
	const emaWeight = 0.1
	h := &fr.session.Health
	if h.AvgFrameMs == 0 {
		h.AvgFrameMs = t.Dt
	} else {
		h.AvgFrameMs = h.AvgFrameMs*(1-emaWeight) + t.Dt*emaWeight
	}
	if h.AvgFrameMs > 0 {
		h.FPSEstimate = 1000 / h.AvgFrameMs
	}
	h.FieldMaterializations += materializedCount

	for _, v := range fr.prg.Cache.FieldBuffers {
		buf, ok := v.(*materialize.TypedBuffer)
		if !ok {
			continue
		}
		for _, x := range buf.Data {
			if math.IsNaN(x) {
				h.NaNCount++
			} else if math.IsInf(x, 0) {
				h.InfCount++
			}
		}
	}
}

// collectRenderInputs builds one render.StepInput per render step. It
// runs after every Phase-1 step has executed, so every field buffer a
// render step references is already sitting in Values.Objects regardless
// of the render step's own position in schedule order (spec §4.9 groups
// by a buffer *identity*, not by a dependency edge on the render step
// itself — ShapeRef nodes carry no position/color operands of their
// own). Sibling buffers are looked up by convention: the position/color/
// size/scale2/rotation (or path points/fillColor/fillRule) output ports
// of the same block that owns the render-bound ShapeRef (see DESIGN.md).
func (fr *frameRun) collectRenderInputs(steps []schedule.Step) ([]render.StepInput, error) {
	var inputs []render.StepInput
	for _, step := range steps {
		n := fr.ec.arena[step.Expr]
		if n.Kind != ir.ExprShapeRef {
			return nil, fmt.Errorf("render step %s:%s does not reference a shapeRef node", step.BlockID, step.PortID)
		}

		shape := render.ShapePrimitive
		if n.ControlPointField != nil {
			shape = render.ShapePath
		}

		si := render.StepInput{TopologyID: n.TopologyID, Shape: shape}
		position := fr.siblingField(step.BlockID, "position")
		if position != nil {
			si.Position, si.Count = position, position.Count
		}
		si.Color = fr.siblingField(step.BlockID, "color")
		si.Size = fr.siblingField(step.BlockID, "size")
		if si.Size == nil {
			si.Size = fr.siblingField(step.BlockID, "scale2")
		}
		si.Rotation = fr.siblingField(step.BlockID, "rotation")

		if shape == render.ShapePath {
			points := fr.siblingField(step.BlockID, "points")
			if points != nil {
				si.Points = points
				si.PointsCount = points.Count
			}
			if c, ok := fr.siblingColor(step.BlockID, "fillColor"); ok {
				si.FillColor = c
			}
			si.FillRule = "nonzero"
		}

		inputs = append(inputs, si)
	}
	return inputs, nil
}

func (fr *frameRun) siblingField(blockID, port string) *materialize.TypedBuffer {
	out, ok := fr.compiled.Outputs[blockID+":"+port]
	if !ok || out.Slot == nil {
		return nil
	}
	buf, _ := fr.prg.Values.Objects[*out.Slot].(*materialize.TypedBuffer)
	return buf
}

func (fr *frameRun) siblingColor(blockID, port string) ([4]float64, bool) {
	out, ok := fr.compiled.Outputs[blockID+":"+port]
	if !ok {
		return [4]float64{}, false
	}
	lanes, err := fr.ec.evalSignal(out.ID)
	if err != nil || len(lanes) < 4 {
		return [4]float64{}, false
	}
	return [4]float64{lanes[0], lanes[1], lanes[2], lanes[3]}, true
}
