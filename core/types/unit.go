package types

import "fmt"

// UnitKind discriminates the closed union of structured unit kinds. Units
// are semantic annotations, never representational — two values with the
// same payload and different units are not implicitly convertible.
type UnitKind int

const (
	UnitNone UnitKind = iota
	UnitCount
	UnitAngle
	UnitTime
	UnitSpace
	UnitColor
)

func (k UnitKind) String() string {
	switch k {
	case UnitNone:
		return "none"
	case UnitCount:
		return "count"
	case UnitAngle:
		return "angle"
	case UnitTime:
		return "time"
	case UnitSpace:
		return "space"
	case UnitColor:
		return "color"
	default:
		return fmt.Sprintf("UnitKind(%d)", int(k))
	}
}

// AngleMode selects the winding representation for UnitAngle.
type AngleMode int

const (
	AngleRadians AngleMode = iota
	AngleDegrees
	AngleTurns
)

func (m AngleMode) String() string {
	switch m {
	case AngleRadians:
		return "radians"
	case AngleDegrees:
		return "degrees"
	case AngleTurns:
		return "turns"
	default:
		return fmt.Sprintf("AngleMode(%d)", int(m))
	}
}

// TimeMode selects the time-unit representation for UnitTime.
type TimeMode int

const (
	TimeMs TimeMode = iota
	TimeSeconds
)

func (m TimeMode) String() string {
	switch m {
	case TimeMs:
		return "ms"
	case TimeSeconds:
		return "seconds"
	default:
		return fmt.Sprintf("TimeMode(%d)", int(m))
	}
}

// SpaceRealm selects the coordinate frame for UnitSpace.
type SpaceRealm int

const (
	SpaceNDC SpaceRealm = iota
	SpaceWorld
	SpaceView
)

func (r SpaceRealm) String() string {
	switch r {
	case SpaceNDC:
		return "ndc"
	case SpaceWorld:
		return "world"
	case SpaceView:
		return "view"
	default:
		return fmt.Sprintf("SpaceRealm(%d)", int(r))
	}
}

// ColorMode selects the channel interpretation for UnitColor.
type ColorMode int

const (
	ColorRGBA01 ColorMode = iota
	ColorHSL
)

func (m ColorMode) String() string {
	switch m {
	case ColorRGBA01:
		return "rgba01"
	case ColorHSL:
		return "hsl"
	default:
		return fmt.Sprintf("ColorMode(%d)", int(m))
	}
}

// Unit is the closed union of unit kinds, carrying only the fields that
// apply to its Kind. Zero value is UnitNone, the default "no unit".
type Unit struct {
	Kind       UnitKind
	Angle      AngleMode
	Time       TimeMode
	SpaceRealm SpaceRealm
	SpaceDims  int // 2 or 3, only meaningful when Kind == UnitSpace
	Color      ColorMode
}

// NoneUnit is the zero unit.
func NoneUnit() Unit { return Unit{Kind: UnitNone} }

// CountUnit is a distinct unit kind permitted for int payloads; count is
// not aliased to none.
func CountUnit() Unit { return Unit{Kind: UnitCount} }

func AngleUnit(mode AngleMode) Unit { return Unit{Kind: UnitAngle, Angle: mode} }
func TimeUnit(mode TimeMode) Unit   { return Unit{Kind: UnitTime, Time: mode} }
func SpaceUnit(realm SpaceRealm, dims int) Unit {
	return Unit{Kind: UnitSpace, SpaceRealm: realm, SpaceDims: dims}
}
func ColorUnit(mode ColorMode) Unit { return Unit{Kind: UnitColor, Color: mode} }

// Equal reports deep structural equality, restricted to the fields that
// apply to the shared Kind (so e.g. two UnitNone values are always equal
// regardless of the other zeroed fields).
func (u Unit) Equal(o Unit) bool {
	if u.Kind != o.Kind {
		return false
	}
	switch u.Kind {
	case UnitAngle:
		return u.Angle == o.Angle
	case UnitTime:
		return u.Time == o.Time
	case UnitSpace:
		return u.SpaceRealm == o.SpaceRealm && u.SpaceDims == o.SpaceDims
	case UnitColor:
		return u.Color == o.Color
	default:
		return true
	}
}

func (u Unit) String() string {
	switch u.Kind {
	case UnitAngle:
		return fmt.Sprintf("angle{%s}", u.Angle)
	case UnitTime:
		return fmt.Sprintf("time{%s}", u.Time)
	case UnitSpace:
		return fmt.Sprintf("space{%s,%dd}", u.SpaceRealm, u.SpaceDims)
	case UnitColor:
		return fmt.Sprintf("color{%s}", u.Color)
	default:
		return u.Kind.String()
	}
}

// payloadUnitLegal is the validation table restricting which (payload, unit
// kind) pairs may co-occur in a canonical type (invariant I2).
var payloadUnitLegal = map[Payload]map[UnitKind]bool{
	PayloadFloat:            {UnitNone: true, UnitAngle: true, UnitTime: true},
	PayloadInt:              {UnitNone: true, UnitCount: true},
	PayloadBool:             {UnitNone: true},
	PayloadVec2:             {UnitNone: true, UnitSpace: true},
	PayloadVec3:             {UnitNone: true, UnitSpace: true},
	PayloadColor:            {UnitColor: true},
	PayloadCameraProjection: {UnitNone: true},
}

// PayloadUnitLegal reports whether (payload, unit) is a legal pair under the
// validation table (invariant I2). An illegal payload always reports false.
func PayloadUnitLegal(p Payload, u Unit) bool {
	kinds, ok := payloadUnitLegal[p]
	if !ok {
		return false
	}
	return kinds[u.Kind]
}
