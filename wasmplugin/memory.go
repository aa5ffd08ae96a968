package wasmplugin

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"go.uber.org/multierr"

	"github.com/nanoem/pluginwasm/runtime"
)

// cellSize is the width of a status or size cell.
const cellSize = 4

// guestMemory moves values between the host and the linear memory of one
// module instance through the guest's allocate/release pair. Pointers and
// lengths are 32-bit regardless of the host.
type guestMemory struct {
	memory runtime.Memory
	call   func(ctx context.Context, name string, params ...uint64) ([]uint64, error)
}

// AllocateBytes reserves n uninitialised bytes in the guest.
func (g *guestMemory) AllocateBytes(ctx context.Context, n uint32) (uint32, error) {
	res, err := g.call(ctx, allocateFunction, uint64(n))
	if err != nil {
		return 0, err
	}
	if len(res) != 1 {
		return 0, fmt.Errorf("wasm: %s returned %d values: %w", allocateFunction, len(res), ErrMarshal)
	}
	ptr := uint32(res[0])
	if ptr == 0 && n > 0 {
		// Keep allocate/release balanced even for a failed allocation.
		_ = g.Release(ctx, ptr)
		return 0, fmt.Errorf("wasm: %s(%d) returned null: %w", allocateFunction, n, ErrMarshal)
	}
	if uint64(ptr)+uint64(n) > uint64(g.memory.Size()) {
		_ = g.Release(ctx, ptr)
		return 0, fmt.Errorf("wasm: %s(%d) returned %#x outside memory of %d bytes: %w", allocateFunction, n, ptr, g.memory.Size(), ErrMarshal)
	}
	return ptr, nil
}

// AllocateBytesWithData reserves len(data) bytes and copies data into them.
func (g *guestMemory) AllocateBytesWithData(ctx context.Context, data []byte) (uint32, error) {
	ptr, err := g.AllocateBytes(ctx, uint32(len(data)))
	if err != nil {
		return 0, err
	}
	if !g.memory.Write(ptr, data) {
		_ = g.Release(ctx, ptr)
		return 0, fmt.Errorf("wasm: writing %d bytes at %#x: %w", len(data), ptr, ErrMarshal)
	}
	return ptr, nil
}

// AllocateCell reserves a 4-byte status or size cell initialised to 0.
func (g *guestMemory) AllocateCell(ctx context.Context) (uint32, error) {
	ptr, err := g.AllocateBytes(ctx, cellSize)
	if err != nil {
		return 0, err
	}
	if !g.memory.WriteUint32Le(ptr, 0) {
		_ = g.Release(ctx, ptr)
		return 0, fmt.Errorf("wasm: clearing cell at %#x: %w", ptr, ErrMarshal)
	}
	return ptr, nil
}

// ReadUTF8String copies the NUL-terminated string starting at ptr.
func (g *guestMemory) ReadUTF8String(ptr uint32) (string, error) {
	size := g.memory.Size()
	if ptr >= size {
		return "", fmt.Errorf("wasm: string at %#x starts outside memory: %w: %w", ptr, ErrMalformedString, ErrMarshal)
	}
	buf, ok := g.memory.Read(ptr, size-ptr)
	if !ok {
		return "", fmt.Errorf("wasm: reading string at %#x: %w", ptr, ErrMarshal)
	}
	n := bytes.IndexByte(buf, 0)
	if n < 0 {
		return "", fmt.Errorf("wasm: string at %#x is not NUL-terminated: %w: %w", ptr, ErrMalformedString, ErrMarshal)
	}
	if !utf8.Valid(buf[:n]) {
		return "", fmt.Errorf("wasm: string at %#x is not valid UTF-8: %w: %w", ptr, ErrMalformedString, ErrMarshal)
	}
	return string(buf[:n]), nil
}

// ReadUint32 reads a little-endian cell.
func (g *guestMemory) ReadUint32(ptr uint32) (uint32, error) {
	v, ok := g.memory.ReadUint32Le(ptr)
	if !ok {
		return 0, fmt.Errorf("wasm: reading cell at %#x: %w", ptr, ErrMarshal)
	}
	return v, nil
}

// ReadBytes copies n bytes out of the guest.
func (g *guestMemory) ReadBytes(ptr, n uint32) ([]byte, error) {
	buf, ok := g.memory.Read(ptr, n)
	if !ok {
		return nil, fmt.Errorf("wasm: reading %d bytes at %#x: %w", n, ptr, ErrMarshal)
	}
	return bytes.Clone(buf), nil
}

// Release hands ptr back to the guest allocator.
func (g *guestMemory) Release(ctx context.Context, ptr uint32) error {
	_, err := g.call(ctx, releaseFunction, uint64(ptr))
	return err
}

func (g *guestMemory) scope(ctx context.Context) *allocScope {
	return &allocScope{ctx: ctx, mem: g}
}

// allocScope tracks the allocations of one host call frame. release frees
// them newest first and must be deferred by the frame that opened the scope.
type allocScope struct {
	ctx  context.Context
	mem  *guestMemory
	ptrs []uint32
}

func (s *allocScope) track(ptr uint32, err error) (uint32, error) {
	if err != nil {
		return 0, err
	}
	s.ptrs = append(s.ptrs, ptr)
	return ptr, nil
}

func (s *allocScope) bytes(n uint32) (uint32, error) {
	return s.track(s.mem.AllocateBytes(s.ctx, n))
}

func (s *allocScope) data(b []byte) (uint32, error) {
	return s.track(s.mem.AllocateBytesWithData(s.ctx, b))
}

func (s *allocScope) cstring(v string) (uint32, error) {
	b := make([]byte, 0, len(v)+1)
	b = append(b, v...)
	return s.data(append(b, 0))
}

func (s *allocScope) cell() (uint32, error) {
	return s.track(s.mem.AllocateCell(s.ctx))
}

func (s *allocScope) release() error {
	var err error
	for i := len(s.ptrs) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.mem.Release(s.ctx, s.ptrs[i]))
	}
	s.ptrs = nil
	return err
}

func int32sToBytes(values []int32) []byte {
	out := make([]byte, 0, len(values)*4)
	for _, v := range values {
		out = binary.LittleEndian.AppendUint32(out, uint32(v))
	}
	return out
}

func uint32sToBytes(values []uint32) []byte {
	out := make([]byte, 0, len(values)*4)
	for _, v := range values {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	return out
}
