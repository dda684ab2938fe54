package vm

import "time"

// collectGarbage runs a full stop-the-world mark and sweep. Roots are the
// globals table, the operand stack, every live frame's locals and closure,
// the open upvalue cells, and host-pinned values.
func (vm *VM) collectGarbage() {
	start := time.Now()

	for _, v := range vm.globals {
		vm.markValue(v)
	}
	for i := range vm.stack {
		vm.markValue(vm.stack[i])
	}
	for i := range vm.frames {
		fr := &vm.frames[i]
		vm.markObject(fr.h)
		for j := range fr.locals {
			vm.markValue(fr.locals[j])
		}
	}
	for _, h := range vm.openUpvalues {
		vm.markObject(h)
	}
	for _, v := range vm.pinned {
		vm.markValue(v)
	}

	objects, bytes := vm.heap.sweep()
	vm.log.Debugf("gc: swept %d objects (%d bytes) in %s, live=%d bytes, next threshold=%d",
		objects, bytes, time.Since(start), vm.heap.bytes, vm.heap.nextGC)
}

func (vm *VM) markValue(v Value) {
	if v.Kind == KindRef {
		vm.markObject(v.Ref)
	}
}

func (vm *VM) markObject(h Handle) {
	o := vm.heap.get(h)
	if !o.live || o.marked {
		return
	}
	o.marked = true
	switch o.Kind {
	case ObjArray:
		for _, el := range o.Arr {
			vm.markValue(el)
		}
	case ObjRecord:
		for _, el := range o.Fields {
			vm.markValue(el)
		}
	case ObjClosure:
		for _, up := range o.Closure.Upvalues {
			vm.markObject(up)
		}
	case ObjUpvalue:
		// an open cell points into frame locals, which are roots of
		// their own; the closed value must be traced here
		if o.Up.location == nil {
			vm.markValue(o.Up.closed)
		}
	}
}
