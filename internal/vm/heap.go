package vm

import (
	"github.com/lla-lang/lla/internal/bytecode"
)

// Handle is an index into the VM's object arena. Handles are stable for
// the lifetime of the object; slots are recycled through the free list
// only after a sweep proves the object unreachable.
type Handle int

// ObjKind discriminates heap object payloads.
type ObjKind int

const (
	ObjString ObjKind = iota
	ObjArray
	ObjRecord
	ObjClosure
	ObjUpvalue
	ObjNative
)

// Object is one arena slot. Payload pointers stay valid across arena
// growth; only the Object headers themselves live in the backing slice.
type Object struct {
	Kind    ObjKind
	Str     string
	Arr     []Value
	Fields  map[string]Value
	Closure *Closure
	Up      *upvalue
	Native  *Native

	marked bool
	live   bool
	size   int
}

// Closure pairs a compiled prototype with its captured cells.
type Closure struct {
	Proto    *bytecode.Prototype
	Upvalues []Handle
}

// NativeFunc is a host-provided callable.
type NativeFunc func(*VM, []Value) (Value, error)

// Native is a host function exposed to scripts through a global binding.
// Arity < 0 accepts any argument count.
type Native struct {
	Name  string
	Arity int
	Fn    NativeFunc
}

// Heap is the handle-indexed object arena.
type Heap struct {
	objects []Object
	free    []Handle
	bytes   int
	nextGC  int
	growth  float64
	floor   int
	sweeps  uint64
}

const (
	defaultGCThreshold = 1 << 20
	defaultGCGrowth    = 2.0
)

func newHeap(threshold int, growth float64) *Heap {
	if threshold <= 0 {
		threshold = defaultGCThreshold
	}
	if growth < 1.25 {
		growth = defaultGCGrowth
	}
	return &Heap{
		nextGC: threshold,
		growth: growth,
		floor:  threshold,
	}
}

// insert places an object into the arena and returns its handle. Garbage
// collection decisions happen in the caller before insertion.
func (h *Heap) insert(o Object, size int) Handle {
	o.live = true
	o.marked = false
	o.size = size
	h.bytes += size

	if n := len(h.free); n > 0 {
		hd := h.free[n-1]
		h.free = h.free[:n-1]
		h.objects[hd] = o
		return hd
	}
	h.objects = append(h.objects, o)
	return Handle(len(h.objects) - 1)
}

// get returns the object header for a handle. The pointer is only valid
// until the next insertion.
func (h *Heap) get(hd Handle) *Object {
	return &h.objects[hd]
}

// sweep reclaims every unmarked live object and clears surviving marks.
// It returns the number of objects and bytes freed.
func (h *Heap) sweep() (int, int) {
	freedObjects := 0
	freedBytes := 0
	for i := range h.objects {
		o := &h.objects[i]
		if !o.live {
			continue
		}
		if o.marked {
			o.marked = false
			continue
		}
		freedObjects++
		freedBytes += o.size
		h.bytes -= o.size
		h.objects[i] = Object{}
		h.free = append(h.free, Handle(i))
	}
	h.sweeps++

	next := int(float64(h.bytes) * h.growth)
	if next < h.floor {
		next = h.floor
	}
	h.nextGC = next
	return freedObjects, freedBytes
}

// liveCount returns the number of live objects (for stats and tests).
func (h *Heap) liveCount() int {
	n := 0
	for i := range h.objects {
		if h.objects[i].live {
			n++
		}
	}
	return n
}

// Approximate per-object sizes used for GC accounting. Exact byte counts
// do not matter; the trigger only needs a monotonic allocation measure.
const objHeaderSize = 48

func stringSize(s string) int       { return objHeaderSize + len(s) }
func arraySize(n int) int           { return objHeaderSize + 16*n }
func recordSize(n int) int          { return objHeaderSize + 48*n }
func closureSize(upvals int) int    { return objHeaderSize + 8*upvals }
func cellSize() int                 { return objHeaderSize }
func nativeSize(name string) int    { return objHeaderSize + len(name) }
