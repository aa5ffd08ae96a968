// Package wasmplugintest provides a scripted guest that implements the
// runtime interfaces in process, so plugin hosts can be tested without
// compiling WebAssembly.
//
// The guest keeps a trace of every entry point call, an allocator log and
// the arguments each setter received.
package wasmplugintest

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nanoem/pluginwasm/runtime"
)

const (
	memorySize = 1 << 20
	staticBase = 16
	alignment  = 8
)

// ErrTrap is returned by entry points configured to trap.
var ErrTrap = errors.New("wasm error: unreachable")

// Call is one entry point invocation, excluding the allocator.
type Call struct {
	Export string
	Suffix string
	Params []uint64
}

// AllocEvent is one allocator invocation.
type AllocEvent struct {
	Op   string
	Ptr  uint32
	Size uint32
}

// Recorded holds what a setter received.
type Recorded struct {
	Data []byte
	// RawName is the name argument including its terminator.
	RawName []byte
	// Length is the element count or byte length argument.
	Length uint32
	// InitialStatus is the status cell content before the guest wrote it.
	InitialStatus int32
}

// Guest scripts one plugin. Configure it before the host instantiates it;
// every instantiation gets fresh memory and trace.
type Guest struct {
	Prefix             string
	Handle             uint32
	Name               string
	Version            string
	Description        string
	FailureReason      string
	RecoverySuggestion string
	Functions          []string
	ABIVersion         uint32
	Output             []byte
	UILayout           []byte
	Reload             bool

	// Statuses are written into status cells by export suffix.
	Statuses map[string]int32
	// Traps makes the entry points with these suffixes trap. "allocate"
	// and "release" trap the allocator.
	Traps map[string]bool
	// Omit drops exports by suffix, or by full name for "memory",
	// "allocate" and "release".
	Omit map[string]bool
	// Override replaces export signatures by suffix or full name.
	Override map[string]runtime.FunctionDefinition
	// NullAllocations makes allocate return 0.
	NullAllocations bool
	// InvalidUTF8Name makes GetName return a non UTF-8 string.
	InvalidUTF8Name bool
	// Journal, when set, records "Name.Suffix" for every entry point call.
	// Guests sharing a journal show the order calls crossed them.
	Journal *Journal

	mu        sync.Mutex
	instances []*Instance
}

// NewGuest returns a guest with the given prefix that passes validation,
// offers two functions and reports success everywhere.
func NewGuest(prefix string) *Guest {
	return &Guest{
		Prefix:             prefix,
		Handle:             1,
		Name:               "fake",
		Version:            "1.0.0",
		Description:        "scripted guest",
		FailureReason:      "Failure Reason",
		RecoverySuggestion: "Recovery Suggestion",
		Functions:          []string{"function0", "function1"},
		ABIVersion:         2 << 16,
		Statuses:           map[string]int32{},
		Traps:              map[string]bool{},
		Omit:               map[string]bool{},
		Override:           map[string]runtime.FunctionDefinition{},
	}
}

// Instances returns every instance created from g, oldest first.
func (g *Guest) Instances() []*Instance {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Instance(nil), g.instances...)
}

// Last returns the most recent instance, or nil.
func (g *Guest) Last() *Instance {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.instances) == 0 {
		return nil
	}
	return g.instances[len(g.instances)-1]
}

func (g *Guest) instantiate() *Instance {
	inst := &Instance{
		guest:   g,
		mem:     &Memory{buf: make([]byte, memorySize)},
		strings: map[string]uint32{},
		data:    map[string]Recorded{},
		next:    staticBase,
	}
	add := func(key, s string) {
		if s == "" {
			return
		}
		inst.strings[key] = inst.static(append([]byte(s), 0))
	}
	add("GetName", g.Name)
	add("GetVersion", g.Version)
	add("GetDescription", g.Description)
	add("GetFailureReason", g.FailureReason)
	add("GetRecoverySuggestion", g.RecoverySuggestion)
	for i, fn := range g.Functions {
		add(fmt.Sprintf("GetFunctionName/%d", i), fn)
	}
	if g.InvalidUTF8Name {
		inst.strings["GetName"] = inst.static([]byte{0xff, 0xfe, 0})
	}
	inst.heap = align(inst.next)

	g.mu.Lock()
	g.instances = append(g.instances, inst)
	g.mu.Unlock()
	return inst
}

func align(v uint32) uint32 {
	return (v + alignment - 1) &^ (alignment - 1)
}

// Instance is one instantiation of a Guest. It implements
// runtime.ModuleInstance.
type Instance struct {
	guest   *Guest
	mem     *Memory
	strings map[string]uint32
	next    uint32
	heap    uint32

	mu       sync.Mutex
	calls    []Call
	allocLog []AllocEvent
	live     map[uint32]uint32
	data     map[string]Recorded
	language int32
	selected int32
	closed   bool
}

var _ runtime.ModuleInstance = (*Instance)(nil)

func (i *Instance) static(b []byte) uint32 {
	ptr := i.next
	copy(i.mem.buf[ptr:], b)
	i.next += uint32(len(b))
	return ptr
}

// Function implements runtime.ModuleInstance.
func (i *Instance) Function(name string) runtime.FunctionInstance {
	g := i.guest
	if name == "allocate" || name == "release" {
		if g.Omit[name] {
			return nil
		}
		def := sig(1, 1)
		if name == "release" {
			def = sig(1, 0)
		}
		return i.function(name, name, def)
	}
	suffix, ok := strings.CutPrefix(name, g.Prefix)
	if !ok || g.Omit[suffix] {
		return nil
	}
	shape, ok := signaturesFor(g.Prefix)[suffix]
	if !ok {
		return nil
	}
	return i.function(name, suffix, sig(shape[0], shape[1]))
}

func (i *Instance) function(name, suffix string, def runtime.FunctionDefinition) runtime.FunctionInstance {
	if o, ok := i.guest.Override[suffix]; ok {
		def = o
	} else if o, ok := i.guest.Override[name]; ok {
		def = o
	}
	def.Name = name
	return &function{inst: i, suffix: suffix, def: def}
}

// ExportedMemory implements runtime.ModuleInstance.
func (i *Instance) ExportedMemory(name string) runtime.Memory {
	if name != "memory" || i.guest.Omit["memory"] {
		return nil
	}
	return i.mem
}

// Close implements runtime.ModuleInstance.
func (i *Instance) Close(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	return nil
}

// Closed reports whether the host closed the instance.
func (i *Instance) Closed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

// Calls returns the entry point trace.
func (i *Instance) Calls() []Call {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Call(nil), i.calls...)
}

// Suffixes returns the export suffixes of Calls in order.
func (i *Instance) Suffixes() []string {
	calls := i.Calls()
	out := make([]string, len(calls))
	for n, c := range calls {
		out[n] = c.Suffix
	}
	return out
}

// AllocatorLog returns every allocate and release in order.
func (i *Instance) AllocatorLog() []AllocEvent {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]AllocEvent(nil), i.allocLog...)
}

// Allocs and Releases count allocator calls.
func (i *Instance) Allocs() int   { return i.count("allocate") }
func (i *Instance) Releases() int { return i.count("release") }

func (i *Instance) count(op string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := 0
	for _, e := range i.allocLog {
		if e.Op == op {
			n++
		}
	}
	return n
}

// Live returns the number of allocations not yet released.
func (i *Instance) Live() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.live)
}

// Recorded returns what the setter with the given suffix last received.
func (i *Instance) Recorded(suffix string) (Recorded, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	r, ok := i.data[suffix]
	return r, ok
}

// Language returns the last language set.
func (i *Instance) Language() int32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.language
}

// Selected returns the last function index set.
func (i *Instance) Selected() int32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.selected
}

// Memory returns the instance memory.
func (i *Instance) Memory() *Memory { return i.mem }

type function struct {
	inst   *Instance
	suffix string
	def    runtime.FunctionDefinition
}

func (f *function) Definition() runtime.FunctionDefinition { return f.def }

func (f *function) Call(_ context.Context, params ...uint64) ([]uint64, error) {
	return f.inst.dispatch(f.def.Name, f.suffix, params)
}

func (i *Instance) dispatch(name, suffix string, params []uint64) ([]uint64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	g := i.guest

	switch suffix {
	case "allocate":
		if g.Traps["allocate"] {
			return nil, ErrTrap
		}
		size := uint32(params[0])
		ptr := uint32(0)
		if !g.NullAllocations {
			ptr = i.heap
			i.heap = align(i.heap + size)
			if i.live == nil {
				i.live = map[uint32]uint32{}
			}
			i.live[ptr] = size
		}
		i.allocLog = append(i.allocLog, AllocEvent{Op: "allocate", Ptr: ptr, Size: size})
		return []uint64{uint64(ptr)}, nil
	case "release":
		if g.Traps["release"] {
			return nil, ErrTrap
		}
		ptr := uint32(params[0])
		i.allocLog = append(i.allocLog, AllocEvent{Op: "release", Ptr: ptr, Size: i.live[ptr]})
		delete(i.live, ptr)
		return nil, nil
	}

	i.calls = append(i.calls, Call{Export: name, Suffix: suffix, Params: append([]uint64(nil), params...)})
	if g.Journal != nil {
		g.Journal.add(g.Name + "." + suffix)
	}
	if g.Traps[suffix] {
		return nil, fmt.Errorf("%s: %w", name, ErrTrap)
	}
	arg := func(n int) uint32 { return uint32(params[n]) }

	switch suffix {
	case "Initialize", "Terminate", "Destroy":
		return nil, nil
	case "Create":
		return []uint64{uint64(g.Handle)}, nil
	case "GetABIVersion":
		return []uint64{uint64(g.ABIVersion)}, nil
	case "GetName", "GetVersion", "GetDescription", "GetFailureReason", "GetRecoverySuggestion":
		return []uint64{uint64(i.strings[suffix])}, nil
	case "GetFunctionName":
		return []uint64{uint64(i.strings[fmt.Sprintf("GetFunctionName/%d", int32(arg(1)))])}, nil
	case "CountAllFunctions":
		return []uint64{uint64(len(g.Functions))}, nil
	case "SetLanguage":
		i.language = int32(arg(1))
		return nil, nil
	case "SetFunction":
		i.selected = int32(arg(1))
		i.writeStatus(suffix, arg(2))
		return nil, nil
	case "Execute", "LoadUIWindowLayout":
		i.writeStatus(suffix, arg(1))
		return nil, nil
	case "GetOutputModelDataSize", "GetOutputMotionDataSize":
		i.mem.WriteUint32Le(arg(1), uint32(len(g.Output)))
		return nil, nil
	case "GetUIWindowLayoutDataSize":
		i.mem.WriteUint32Le(arg(1), uint32(len(g.UILayout)))
		return nil, nil
	case "GetOutputModelData", "GetOutputMotionData":
		i.copyOut(g.Output, arg(1), arg(2))
		i.writeStatus(suffix, arg(3))
		return nil, nil
	case "GetUIWindowLayoutData":
		i.copyOut(g.UILayout, arg(1), arg(2))
		i.writeStatus(suffix, arg(3))
		return nil, nil
	case "SetUIComponentLayoutData":
		r := Recorded{
			RawName: i.cstring(arg(1)),
			Length:  arg(3),
		}
		r.Data, _ = i.mem.Read(arg(2), arg(3))
		r.Data = bytes.Clone(r.Data)
		r.InitialStatus = i.status(arg(5))
		i.data[suffix] = r
		var reload uint32
		if g.Reload {
			reload = 1
		}
		i.mem.WriteUint32Le(arg(4), reload)
		i.writeStatus(suffix, arg(5))
		return nil, nil
	case "SetAllNamedSelectedBoneKeyframes", "SetAllNamedSelectedMorphKeyframes":
		r := Recorded{RawName: i.cstring(arg(1)), Length: arg(3)}
		r.Data, _ = i.mem.Read(arg(2), arg(3)*4)
		r.Data = bytes.Clone(r.Data)
		r.InitialStatus = i.status(arg(4))
		i.data[suffix] = r
		i.writeStatus(suffix, arg(4))
		return nil, nil
	}

	// (handle, ptr, count, status) setters.
	r := Recorded{Length: arg(2)}
	r.Data, _ = i.mem.Read(arg(1), arg(2)*stride(suffix))
	r.Data = bytes.Clone(r.Data)
	r.InitialStatus = i.status(arg(3))
	i.data[suffix] = r
	i.writeStatus(suffix, arg(3))
	return nil, nil
}

func (i *Instance) status(ptr uint32) int32 {
	v, _ := i.mem.ReadUint32Le(ptr)
	return int32(v)
}

func (i *Instance) writeStatus(suffix string, ptr uint32) {
	i.mem.WriteUint32Le(ptr, uint32(i.guest.Statuses[suffix]))
}

func (i *Instance) copyOut(src []byte, ptr, size uint32) {
	if uint32(len(src)) < size {
		size = uint32(len(src))
	}
	i.mem.Write(ptr, src[:size])
}

func (i *Instance) cstring(ptr uint32) []byte {
	buf := i.mem.buf[ptr:]
	n := bytes.IndexByte(buf, 0)
	if n < 0 {
		return bytes.Clone(buf)
	}
	return bytes.Clone(buf[:n+1])
}

// Journal is a call log shared between guests.
type Journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *Journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

// Entries returns the recorded calls in order.
func (j *Journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// Filter returns the entries ending in "."+suffix.
func (j *Journal) Filter(suffix string) []string {
	var out []string
	for _, e := range j.Entries() {
		if strings.HasSuffix(e, "."+suffix) {
			out = append(out, e)
		}
	}
	return out
}

// Memory is a flat little-endian linear memory.
type Memory struct {
	buf []byte
}

var _ runtime.Memory = (*Memory)(nil)

func (m *Memory) Size() uint32 { return uint32(len(m.buf)) }

func (m *Memory) Read(offset, size uint32) ([]byte, bool) {
	if uint64(offset)+uint64(size) > uint64(len(m.buf)) {
		return nil, false
	}
	return m.buf[offset : offset+size], true
}

func (m *Memory) Write(offset uint32, data []byte) bool {
	if uint64(offset)+uint64(len(data)) > uint64(len(m.buf)) {
		return false
	}
	copy(m.buf[offset:], data)
	return true
}

func (m *Memory) ReadUint32Le(offset uint32) (uint32, bool) {
	b, ok := m.Read(offset, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

func (m *Memory) WriteUint32Le(offset, v uint32) bool {
	b, ok := m.Read(offset, 4)
	if !ok {
		return false
	}
	binary.LittleEndian.PutUint32(b, v)
	return true
}
