package wasmplugin

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EffectParameterType tags the wire form of an EffectParameterValue.
type EffectParameterType uint8

const (
	EffectParameterBool EffectParameterType = iota
	EffectParameterInt32
	EffectParameterFloat32
	EffectParameterVector4
)

func (t EffectParameterType) String() string {
	switch t {
	case EffectParameterBool:
		return "bool"
	case EffectParameterInt32:
		return "int"
	case EffectParameterFloat32:
		return "float"
	case EffectParameterVector4:
		return "vec4"
	default:
		return fmt.Sprintf("EffectParameterType(%d)", uint8(t))
	}
}

// EffectParameterValue is one of BoolValue, Int32Value, Float32Value or
// Vector4Value. Its wire form is the type tag followed by the little-endian
// payload.
type EffectParameterValue interface {
	Type() EffectParameterType
	// AppendTo appends the wire form to b.
	AppendTo(b []byte) []byte

	sealed()
}

type (
	BoolValue    bool
	Int32Value   int32
	Float32Value float32
	Vector4Value [4]float32
)

func (BoolValue) Type() EffectParameterType    { return EffectParameterBool }
func (Int32Value) Type() EffectParameterType   { return EffectParameterInt32 }
func (Float32Value) Type() EffectParameterType { return EffectParameterFloat32 }
func (Vector4Value) Type() EffectParameterType { return EffectParameterVector4 }

func (BoolValue) sealed()    {}
func (Int32Value) sealed()   {}
func (Float32Value) sealed() {}
func (Vector4Value) sealed() {}

func (v BoolValue) AppendTo(b []byte) []byte {
	var payload byte
	if v {
		payload = 1
	}
	return append(b, byte(EffectParameterBool), payload)
}

func (v Int32Value) AppendTo(b []byte) []byte {
	return binary.LittleEndian.AppendUint32(append(b, byte(EffectParameterInt32)), uint32(v))
}

func (v Float32Value) AppendTo(b []byte) []byte {
	return binary.LittleEndian.AppendUint32(append(b, byte(EffectParameterFloat32)), math.Float32bits(float32(v)))
}

func (v Vector4Value) AppendTo(b []byte) []byte {
	b = append(b, byte(EffectParameterVector4))
	for _, f := range v {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
	}
	return b
}

// EncodeEffectParameterValue returns the wire form of v.
func EncodeEffectParameterValue(v EffectParameterValue) []byte {
	return v.AppendTo(nil)
}

// DecodeEffectParameterValue parses one value and returns the bytes after it.
func DecodeEffectParameterValue(b []byte) (EffectParameterValue, []byte, error) {
	if len(b) == 0 {
		return nil, nil, fmt.Errorf("wasm: empty effect parameter: %w", ErrMarshal)
	}
	t, payload := EffectParameterType(b[0]), b[1:]
	need := map[EffectParameterType]int{
		EffectParameterBool:    1,
		EffectParameterInt32:   4,
		EffectParameterFloat32: 4,
		EffectParameterVector4: 16,
	}
	n, ok := need[t]
	if !ok {
		return nil, nil, fmt.Errorf("wasm: unknown effect parameter tag %d: %w", b[0], ErrMarshal)
	}
	if len(payload) < n {
		return nil, nil, fmt.Errorf("wasm: %s effect parameter needs %d bytes, got %d: %w", t, n, len(payload), ErrMarshal)
	}
	rest := payload[n:]
	switch t {
	case EffectParameterBool:
		return BoolValue(payload[0] != 0), rest, nil
	case EffectParameterInt32:
		return Int32Value(int32(binary.LittleEndian.Uint32(payload))), rest, nil
	case EffectParameterFloat32:
		return Float32Value(math.Float32frombits(binary.LittleEndian.Uint32(payload))), rest, nil
	default:
		var v Vector4Value
		for i := range v {
			v[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
		}
		return v, rest, nil
	}
}
