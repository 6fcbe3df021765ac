package gvm

import "math"

// Value is a 64-bit NaN-boxed word. Doubles are stored as their raw IEEE-754
// bit pattern. Every other type is tagged by reserving the *signalling* NaN
// half of the double space: the FPU never produces a signalling NaN from an
// ordinary arithmetic op (0/0, inf-inf, ... all quiet themselves), so a
// pattern with the exponent field all-ones, the quiet bit (bit 51) clear and
// the boxed marker (bit 50) set can never collide with a double actually computed at runtime, while every
// quiet NaN - including one built by hand with math.Float64frombits - still
// round-trips through Value bit for bit.
type Value uint64

type ValueType uint8

const (
	TypeNil ValueType = iota
	TypeBool
	TypeInt
	TypeDouble
	TypeObject
)

func (t ValueType) String() string {
	switch t {
	case TypeNil:
		return "nil"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeDouble:
		return "double"
	case TypeObject:
		return "object"
	default:
		return "?unknown?"
	}
}

const (
	expMask     uint64 = 0x7FF << 52
	quietBit    uint64 = 1 << 51
	boxedMarker uint64 = 1 << 50 // forces mantissa != 0 so we never alias +/-Inf
	tagShift           = 48
	tagBits     uint64 = 0x3
	payloadMask uint64 = (1 << 48) - 1

	tagNil    uint64 = 0
	tagBool   uint64 = 1
	tagInt    uint64 = 2
	tagObject uint64 = 3

	// boxedPrefix marks the signalling-NaN region we reserve for tags.
	boxedPrefix uint64 = expMask | boxedMarker

	// probeMask/tagged* let Type()-adjacent checks collapse to one compare.
	probeMask   uint64 = expMask | quietBit | boxedMarker | (tagBits << tagShift)
	taggedNil   uint64 = boxedPrefix
	taggedBool  uint64 = boxedPrefix | (tagBool << tagShift)
	taggedInt   uint64 = boxedPrefix | (tagInt << tagShift)
	taggedObj   uint64 = boxedPrefix | (tagObject << tagShift)
)

func box(tag, payload uint64) Value {
	return Value(boxedPrefix | (tag << tagShift) | (payload & payloadMask))
}

// isBoxed reports whether bits fall in the reserved signalling-NaN region.
func isBoxed(bits uint64) bool {
	return bits&(expMask|quietBit|boxedMarker) == boxedPrefix
}

// Nil is the singleton nil value.
var Nil = box(tagNil, 0)

// Bool boxes a boolean.
func Bool(b bool) Value {
	if b {
		return box(tagBool, 1)
	}
	return box(tagBool, 0)
}

// Int boxes a signed 32-bit integer, sign bits preserved in the payload.
func Int(n int32) Value {
	return box(tagInt, uint64(uint32(n)))
}

// Double boxes a float64 by storing its bit pattern unmodified. Passing a
// signalling NaN is out of contract (see the type comment); every other
// double, including every quiet NaN and both infinities, round-trips
// bit-identically through Double/AsDouble.
func Double(f float64) Value {
	return Value(math.Float64bits(f))
}

// objectValue boxes a handle (index into a Heap's object table).
func objectValue(idx uint32) Value {
	return box(tagObject, uint64(idx))
}

// Type reports the dynamic type tag of v.
func (v Value) Type() ValueType {
	bits := uint64(v)
	if !isBoxed(bits) {
		return TypeDouble
	}
	switch bits & probeMask {
	case taggedNil:
		return TypeNil
	case taggedBool:
		return TypeBool
	case taggedInt:
		return TypeInt
	default:
		return TypeObject
	}
}

// IsNil is a single-mask equality check, per the Value contract in spec §3.
func (v Value) IsNil() bool { return uint64(v)&probeMask == taggedNil }

// IsBool is a single-mask equality check.
func (v Value) IsBool() bool { return uint64(v)&probeMask == taggedBool }

// IsInt is a single-mask equality check.
func (v Value) IsInt() bool { return uint64(v)&probeMask == taggedInt }

// IsObject is a single-mask equality check.
func (v Value) IsObject() bool { return uint64(v)&probeMask == taggedObj }

// IsDouble reports whether v stores a raw float64 bit pattern.
func (v Value) IsDouble() bool { return !isBoxed(uint64(v)) }

// IsTruthy follows the language's branch semantics: nil and false are
// falsey, everything else (including 0 and 0.0) is truthy.
func (v Value) IsTruthy() bool {
	if v.IsNil() {
		return false
	}
	if v.IsBool() {
		return v.AsBool()
	}
	return true
}

// AsBool unboxes a bool value. Undefined if !v.IsBool().
func (v Value) AsBool() bool { return uint64(v)&payloadMask != 0 }

// AsInt unboxes an int32 value. UnboxInt(BoxInt(n)) == n for every int32 n.
func (v Value) AsInt() int32 { return int32(uint32(uint64(v) & payloadMask)) }

// AsDouble unboxes a float64 value bit-for-bit.
func (v Value) AsDouble() float64 { return math.Float64frombits(uint64(v)) }

// AsNumber widens an Int or Double value to float64, for mixed arithmetic.
func (v Value) AsNumber() float64 {
	if v.IsInt() {
		return float64(v.AsInt())
	}
	return v.AsDouble()
}

func (v Value) objectIndex() uint32 { return uint32(uint64(v) & payloadMask) }
