package types

import "fmt"

// ConstValue is a discriminated union with one variant per payload kind.
// Tuple variants carry fixed-arity readonly arrays matching the payload's
// stride (invariant I3: a constant's payload tag must match its declared
// payload).
type ConstValue struct {
	Payload Payload
	Float   float64    // PayloadFloat
	Int     int64      // PayloadInt
	Bool    bool       // PayloadBool
	Vec2    [2]float64 // PayloadVec2
	Vec3    [3]float64 // PayloadVec3
	Color   [4]float64 // PayloadColor (r,g,b,a or h,s,l,a depending on unit)
	Camera  [1]float64 // PayloadCameraProjection, opaque scalar handle
}

func ConstFloat(v float64) ConstValue { return ConstValue{Payload: PayloadFloat, Float: v} }
func ConstInt(v int64) ConstValue     { return ConstValue{Payload: PayloadInt, Int: v} }
func ConstBool(v bool) ConstValue     { return ConstValue{Payload: PayloadBool, Bool: v} }
func ConstVec2(x, y float64) ConstValue {
	return ConstValue{Payload: PayloadVec2, Vec2: [2]float64{x, y}}
}
func ConstVec3(x, y, z float64) ConstValue {
	return ConstValue{Payload: PayloadVec3, Vec3: [3]float64{x, y, z}}
}
func ConstColor(a, b, c, d float64) ConstValue {
	return ConstValue{Payload: PayloadColor, Color: [4]float64{a, b, c, d}}
}

// Lanes returns the scalar components of the constant in stride order,
// regardless of which variant is active. Used by construct/extract and by
// the materializer to fill a field buffer from a zero-cardinality donor.
func (c ConstValue) Lanes() []float64 {
	switch c.Payload {
	case PayloadFloat:
		return []float64{c.Float}
	case PayloadInt:
		return []float64{float64(c.Int)}
	case PayloadBool:
		if c.Bool {
			return []float64{1}
		}
		return []float64{0}
	case PayloadVec2:
		return []float64{c.Vec2[0], c.Vec2[1]}
	case PayloadVec3:
		return []float64{c.Vec3[0], c.Vec3[1], c.Vec3[2]}
	case PayloadColor:
		return []float64{c.Color[0], c.Color[1], c.Color[2], c.Color[3]}
	case PayloadCameraProjection:
		return []float64{c.Camera[0]}
	default:
		return nil
	}
}

// Validate checks invariant I3: the constant's payload tag matches its
// declared payload, and the lane count matches the payload's stride.
func (c ConstValue) Validate(declared Payload) error {
	if c.Payload != declared {
		return fmt.Errorf("const payload tag %s does not match declared payload %s", c.Payload, declared)
	}
	if len(c.Lanes()) != declared.Stride() {
		return fmt.Errorf("const value for payload %s has %d lanes, want stride %d", declared, len(c.Lanes()), declared.Stride())
	}
	return nil
}

func (c ConstValue) String() string {
	return fmt.Sprintf("const<%s>%v", c.Payload, c.Lanes())
}
