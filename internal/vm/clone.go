package vm

// Duplicate returns a new VM with copied configuration and a deep copy of
// the global environment. Heap objects reachable from globals are cloned
// into the duplicate's arena; prototypes and native handlers are shared,
// both being immutable after construction. Execution state is not copied.
func (vm *VM) Duplicate() *VM {
	if vm == nil {
		return nil
	}
	dup := NewWithConfig(Config{
		MaxStack:    vm.maxStack,
		MaxFrames:   vm.maxFrames,
		GCThreshold: vm.heap.floor,
		GCGrowth:    vm.heap.growth,
		DebugChecks: vm.debugChecks,
		Out:         vm.out,
	})
	dup.traceHook = vm.traceHook

	clone := &cloneState{
		src:     vm,
		dst:     dup,
		handles: make(map[Handle]Handle),
	}
	for name, val := range vm.globals {
		dup.globals[name] = clone.cloneValue(val)
	}
	return dup
}

// cloneState maps source handles to destination handles so shared and
// cyclic structures keep their shape in the copy.
type cloneState struct {
	src     *VM
	dst     *VM
	handles map[Handle]Handle
}

func (cs *cloneState) cloneValue(v Value) Value {
	if v.Kind != KindRef {
		return v
	}
	return ref(cs.cloneObject(v.Ref))
}

// cloneObject inserts straight into the destination arena, bypassing the
// GC trigger: half-built clones are only reachable through the handle map,
// which a collection in the destination would not see.
func (cs *cloneState) cloneObject(h Handle) Handle {
	if mapped, ok := cs.handles[h]; ok {
		return mapped
	}
	src := cs.src.heap.get(h)
	switch src.Kind {
	case ObjString:
		nh := cs.dst.heap.insert(Object{Kind: ObjString, Str: src.Str}, stringSize(src.Str))
		cs.handles[h] = nh
		return nh
	case ObjNative:
		nh := cs.dst.heap.insert(Object{Kind: ObjNative, Native: src.Native}, nativeSize(src.Native.Name))
		cs.handles[h] = nh
		return nh
	case ObjArray:
		elems := make([]Value, len(src.Arr))
		nh := cs.dst.heap.insert(Object{Kind: ObjArray, Arr: elems}, arraySize(len(elems)))
		// record the mapping before recursing to break cycles
		cs.handles[h] = nh
		for i, el := range src.Arr {
			elems[i] = cs.cloneValue(el)
		}
		return nh
	case ObjRecord:
		fields := make(map[string]Value, len(src.Fields))
		nh := cs.dst.heap.insert(Object{Kind: ObjRecord, Fields: fields}, recordSize(len(fields)))
		cs.handles[h] = nh
		for k, el := range src.Fields {
			fields[k] = cs.cloneValue(el)
		}
		return nh
	case ObjClosure:
		ups := make([]Handle, len(src.Closure.Upvalues))
		nh := cs.dst.heap.insert(Object{
			Kind:    ObjClosure,
			Closure: &Closure{Proto: src.Closure.Proto, Upvalues: ups},
		}, closureSize(len(ups)))
		cs.handles[h] = nh
		for i, up := range src.Closure.Upvalues {
			ups[i] = cs.cloneObject(up)
		}
		return nh
	case ObjUpvalue:
		// cells reachable from globals are closed; frames are gone
		cell := &upvalue{}
		nh := cs.dst.heap.insert(Object{Kind: ObjUpvalue, Up: cell}, cellSize())
		cs.handles[h] = nh
		cell.closed = cs.cloneValue(src.Up.get())
		return nh
	default:
		nh := cs.dst.heap.insert(Object{}, objHeaderSize)
		cs.handles[h] = nh
		return nh
	}
}
