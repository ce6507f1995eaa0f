// Package types implements the canonical type system: the payload x unit x
// extent x contract algebra described in the engine's type specification,
// and the fixpoint inference solver that resolves block ports from
// inference-time variables down to concrete canonical types.
package types

import "fmt"

// Payload is the closed union of value shapes a ValueExpr can carry.
type Payload int

const (
	PayloadInvalid Payload = iota
	PayloadFloat
	PayloadInt
	PayloadBool
	PayloadVec2
	PayloadVec3
	PayloadColor
	PayloadCameraProjection
)

var payloadNames = [...]string{
	PayloadInvalid:          "invalid",
	PayloadFloat:            "float",
	PayloadInt:              "int",
	PayloadBool:             "bool",
	PayloadVec2:             "vec2",
	PayloadVec3:             "vec3",
	PayloadColor:            "color",
	PayloadCameraProjection: "cameraProjection",
}

func (p Payload) String() string {
	if int(p) >= 0 && int(p) < len(payloadNames) && payloadNames[p] != "" {
		return payloadNames[p]
	}
	return fmt.Sprintf("Payload(%d)", int(p))
}

// Stride returns the number of scalar lanes the payload occupies. Stride is
// always derived from the payload tag, never stored separately.
func (p Payload) Stride() int {
	switch p {
	case PayloadFloat, PayloadInt, PayloadBool, PayloadCameraProjection:
		return 1
	case PayloadVec2:
		return 2
	case PayloadVec3:
		return 3
	case PayloadColor:
		return 4
	default:
		return 0
	}
}

// Valid reports whether p is one of the closed union's declared members.
func (p Payload) Valid() bool {
	return p >= PayloadFloat && p <= PayloadCameraProjection
}
