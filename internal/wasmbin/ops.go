package wasmbin

const (
	opUnreachable = 0x00
	opIf          = 0x04
	opElse        = 0x05
	opEnd         = 0x0b
	opDrop        = 0x1a
	opLocalGet    = 0x20
	opLocalSet    = 0x21
	opGlobalGet   = 0x23
	opGlobalSet   = 0x24
	opI32Load     = 0x28
	opI32Store    = 0x36
	opI32Store8   = 0x3a
	opI32Const    = 0x41
	opI32Add      = 0x6a
	opI32And      = 0x71
	opPrefixFC    = 0xfc
	opMemoryCopy  = 0x0a
)

// Code concatenates instruction fragments.
func Code(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func LocalGet(i uint32) []byte  { return append([]byte{opLocalGet}, ULEB128(i)...) }
func LocalSet(i uint32) []byte  { return append([]byte{opLocalSet}, ULEB128(i)...) }
func GlobalGet(i uint32) []byte { return append([]byte{opGlobalGet}, ULEB128(i)...) }
func GlobalSet(i uint32) []byte { return append([]byte{opGlobalSet}, ULEB128(i)...) }
func I32Const(v int32) []byte   { return append([]byte{opI32Const}, SLEB128(v)...) }

func I32Add() []byte      { return []byte{opI32Add} }
func I32And() []byte      { return []byte{opI32And} }
func Drop() []byte        { return []byte{opDrop} }
func Unreachable() []byte { return []byte{opUnreachable} }

// I32Load loads with natural alignment from the address on the stack plus offset.
func I32Load(offset uint32) []byte {
	return append([]byte{opI32Load, 0x02}, ULEB128(offset)...)
}

// I32Store stores with natural alignment.
func I32Store(offset uint32) []byte {
	return append([]byte{opI32Store, 0x02}, ULEB128(offset)...)
}

// I32Store8 stores the low byte.
func I32Store8(offset uint32) []byte {
	return append([]byte{opI32Store8, 0x00}, ULEB128(offset)...)
}

// MemoryCopy copies within memory 0: (dst, src, len) -> ().
func MemoryCopy() []byte { return []byte{opPrefixFC, opMemoryCopy, 0x00, 0x00} }

// IfElseI32 picks between two i32-producing branches on the condition on
// the stack.
func IfElseI32(then, els []byte) []byte {
	out := []byte{opIf, byte(I32)}
	out = append(out, then...)
	out = append(out, opElse)
	out = append(out, els...)
	return append(out, opEnd)
}

// ULEB128 encodes v as unsigned LEB128.
func ULEB128(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// SLEB128 encodes v as signed LEB128.
func SLEB128(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
