// Package render implements render assembly (spec §4.9): converting the
// Phase-1 render steps' collected buffers into a pure, comparable
// RenderFrameIR value, without mutating any runtime state.
package render

import (
	"fmt"
	"sort"

	"github.com/fieldgraph/engine/runtime/materialize"
	"github.com/fieldgraph/engine/runtime/state"
)

// ShapeKind discriminates a render step's shape selector: a fixed
// primitive topology, or a dynamic path topology driven by parameter
// signals.
type ShapeKind int

const (
	ShapePrimitive ShapeKind = iota
	ShapePath
)

// StepInput is everything one Phase-1 render step contributes (spec
// §4.9 "Inputs per step"): an instance id with its element count, the
// position/color buffers every draw needs, and the optional extras a
// primitive or path draw may carry.
type StepInput struct {
	InstanceID string
	Count      int
	Shape      ShapeKind
	TopologyID string

	Position *materialize.TypedBuffer
	Color    *materialize.TypedBuffer
	Size     *materialize.TypedBuffer // optional: scalar or vec2 (scale2)
	Rotation *materialize.TypedBuffer // optional: scalar

	// Path-only fields.
	Verbs       []byte
	Points      *materialize.TypedBuffer
	PointsCount int
	FillColor   [4]float64
	FillRule    string

	// PointsFieldSlot groups instances sharing the same underlying
	// shape2d buffer identity (spec §4.9 dispatch key).
	PointsFieldSlot *state.Shape2DRecord
}

// Instances is one topology/position/color/size/rotation group, emitted
// as a single DrawPrimitiveInstancesOp.
type Instances struct {
	Position []float64 // interleaved vec2/vec3, per instance
	Color    []float64 // interleaved rgba, per instance
	Size     []float64 // optional, per instance (omitted if nil)
	Scale2   []float64 // optional, per instance
	Rotation []float64 // optional, per instance
}

// DrawPrimitiveInstancesOp draws Count instances of one primitive
// topology.
type DrawPrimitiveInstancesOp struct {
	TopologyID string
	Instances  Instances
}

// PathGeometry is the path-draw payload: verbs + packed point data.
type PathGeometry struct {
	TopologyID  string
	Verbs       []byte
	Points      []float64
	PointsCount int
	Flags       uint32
}

// PathStyle is the fill styling for a DrawPathInstancesOp.
type PathStyle struct {
	FillColor [4]float64
	FillRule  string
}

// DrawPathInstancesOp draws instances of a dynamic path topology.
type DrawPathInstancesOp struct {
	Geometry  PathGeometry
	Instances Instances
	Style     PathStyle
}

// Op is the sum type RenderFrameIR.Ops holds: exactly one of Primitive or
// Path is non-nil.
type Op struct {
	Primitive *DrawPrimitiveInstancesOp
	Path      *DrawPathInstancesOp
}

// RenderFrameIR is the pure, comparable result of render assembly (spec
// §4.9): a version tag plus an ordered op list.
type RenderFrameIR struct {
	Version int
	Ops     []Op
}

const frameIRVersion = 1

// groupKey is the (topologyId, pointsFieldSlot-identity) dispatch key
// spec §4.9 groups render steps by.
type groupKey struct {
	topologyID string
	slotIdent  *state.Shape2DRecord
}

// Assemble groups inputs by (topologyId, pointsFieldSlot) and emits one
// draw op per group, in topologyId order for determinism (spec §4.9:
// RenderFrameIR must be cacheable and comparable, which requires a
// stable op order run to run).
func Assemble(inputs []StepInput) (RenderFrameIR, error) {
	groups := map[groupKey][]StepInput{}
	var order []groupKey
	for _, in := range inputs {
		k := groupKey{topologyID: in.TopologyID, slotIdent: in.PointsFieldSlot}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], in)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].topologyID != order[j].topologyID {
			return order[i].topologyID < order[j].topologyID
		}
		return fmt.Sprintf("%p", order[i].slotIdent) < fmt.Sprintf("%p", order[j].slotIdent)
	})

	var ops []Op
	for _, k := range order {
		group := groups[k]
		op, err := assembleGroup(k.topologyID, group)
		if err != nil {
			return RenderFrameIR{}, err
		}
		ops = append(ops, op)
	}
	return RenderFrameIR{Version: frameIRVersion, Ops: ops}, nil
}

func assembleGroup(topologyID string, group []StepInput) (Op, error) {
	shape := group[0].Shape
	for _, g := range group {
		if g.Shape != shape {
			return Op{}, fmt.Errorf("render group %q mixes primitive and path shapes", topologyID)
		}
	}
	switch shape {
	case ShapePrimitive:
		return Op{Primitive: assemblePrimitive(topologyID, group)}, nil
	case ShapePath:
		return Op{Path: assemblePath(topologyID, group)}, nil
	default:
		return Op{}, fmt.Errorf("unknown shape kind %d", shape)
	}
}

func assemblePrimitive(topologyID string, group []StepInput) *DrawPrimitiveInstancesOp {
	out := &DrawPrimitiveInstancesOp{TopologyID: topologyID}
	for _, in := range group {
		appendInstances(&out.Instances, in)
	}
	return out
}

func assemblePath(topologyID string, group []StepInput) *DrawPathInstancesOp {
	first := group[0]
	out := &DrawPathInstancesOp{
		Geometry: PathGeometry{
			TopologyID:  topologyID,
			Verbs:       first.Verbs,
			PointsCount: first.PointsCount,
		},
		Style: PathStyle{FillColor: first.FillColor, FillRule: first.FillRule},
	}
	if first.Points != nil {
		out.Geometry.Points = append([]float64{}, first.Points.Data...)
	}
	for _, in := range group {
		appendInstances(&out.Instances, in)
	}
	return out
}

func appendInstances(dst *Instances, in StepInput) {
	if in.Position != nil {
		dst.Position = append(dst.Position, in.Position.Data...)
	}
	if in.Color != nil {
		dst.Color = append(dst.Color, in.Color.Data...)
	}
	if in.Size != nil {
		if in.Size.Stride >= 2 {
			dst.Scale2 = append(dst.Scale2, in.Size.Data...)
		} else {
			dst.Size = append(dst.Size, in.Size.Data...)
		}
	}
	if in.Rotation != nil {
		dst.Rotation = append(dst.Rotation, in.Rotation.Data...)
	}
}
