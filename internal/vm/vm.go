package vm

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/lla-lang/lla/internal/bytecode"
)

// State tracks where a VM is in its run lifecycle.
type State int

const (
	StateReady State = iota
	StateRunning
	StateHalted
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

type frame struct {
	cl     *Closure
	h      Handle
	ip     int
	locals []Value
	base   int
	lastOp int
}

// Config tunes a VM instance. Zero values select the defaults.
type Config struct {
	MaxStack    int
	MaxFrames   int
	GCThreshold int
	GCGrowth    float64
	DebugChecks bool
	Out         io.Writer
}

// VM is a stack-based bytecode interpreter with its own garbage-collected
// object heap. A VM is not safe for concurrent use; run several instances
// for parallelism.
type VM struct {
	stack        []Value
	frames       []frame
	globals      map[string]Value
	openUpvalues []Handle
	pinned       []Value
	heap         *Heap
	maxStack     int
	maxFrames    int
	out          io.Writer
	traceHook    TraceHook
	debugChecks  bool
	state        State
	log          commonlog.Logger
}

const (
	defaultMaxStack  = 1024
	defaultMaxFrames = 256
)

// New constructs a VM with default configuration.
func New() *VM {
	return NewWithConfig(Config{})
}

// NewWithConfig constructs a VM with explicit limits.
func NewWithConfig(cfg Config) *VM {
	if cfg.MaxStack <= 0 {
		cfg.MaxStack = defaultMaxStack
	}
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = defaultMaxFrames
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &VM{
		stack:       make([]Value, 0, 256),
		frames:      make([]frame, 0, 16),
		globals:     make(map[string]Value),
		heap:        newHeap(cfg.GCThreshold, cfg.GCGrowth),
		maxStack:    cfg.MaxStack,
		maxFrames:   cfg.MaxFrames,
		out:         cfg.Out,
		debugChecks: cfg.DebugChecks,
		state:       StateReady,
		log:         commonlog.GetLogger("lla.vm"),
	}
}

// State reports the lifecycle state of the last run.
func (vm *VM) State() State { return vm.state }

// SetTraceHook registers a callback for instruction-level tracing.
func (vm *VM) SetTraceHook(h TraceHook) { vm.traceHook = h }

// SetOutput redirects print statements.
func (vm *VM) SetOutput(w io.Writer) {
	if w != nil {
		vm.out = w
	}
}

// DefineGlobal binds a value into the global environment.
func (vm *VM) DefineGlobal(name string, v Value) {
	vm.globals[name] = v
}

// Global reads a global binding.
func (vm *VM) Global(name string) (Value, bool) {
	v, ok := vm.globals[name]
	return v, ok
}

// NewNative wraps a host function as a callable value.
func (vm *VM) NewNative(name string, arity int, fn NativeFunc) Value {
	h := vm.allocObject(Object{
		Kind:   ObjNative,
		Native: &Native{Name: name, Arity: arity, Fn: fn},
	}, nativeSize(name))
	return ref(h)
}

// RegisterNative exposes a host function as a global. arity < 0 accepts
// any argument count.
func (vm *VM) RegisterNative(name string, arity int, fn NativeFunc) {
	vm.globals[name] = vm.NewNative(name, arity, fn)
}

// resetTransient clears execution state while keeping globals and the heap.
func (vm *VM) resetTransient() {
	// a faulted run can leave cells open; the frame locals they point
	// into are discarded here, so promote the values into the cells first
	for _, h := range vm.openUpvalues {
		vm.heap.get(h).Up.close()
	}
	vm.stack = vm.stack[:0]
	vm.frames = vm.frames[:0]
	vm.openUpvalues = vm.openUpvalues[:0]
}

// RunProgram executes a compiled program from its top-level function and
// returns the program value.
func (vm *VM) RunProgram(prog *bytecode.Program) (Value, error) {
	if prog == nil || prog.Main == nil || prog.Main.Chunk == nil {
		return vm.failf(nil, ErrInternal, "program has no entry function")
	}
	vm.resetTransient()
	vm.state = StateRunning
	h := vm.allocObject(Object{
		Kind:    ObjClosure,
		Closure: &Closure{Proto: prog.Main},
	}, closureSize(0))
	vm.pushFrame(h, nil)
	val, err := vm.run()
	if err != nil {
		vm.state = StateFaulted
		return Nil(), err
	}
	vm.state = StateHalted
	return val, nil
}

// CallGlobal invokes a global function by name with the given arguments.
func (vm *VM) CallGlobal(name string, args []Value) (Value, error) {
	callee, ok := vm.globals[name]
	if !ok {
		return vm.failf(nil, ErrUndefinedGlobal, "undefined global '%s'", name)
	}
	if callee.Kind != KindRef {
		return vm.failf(nil, ErrType, "%s is not callable", vm.TypeName(callee))
	}
	vm.resetTransient()
	vm.state = StateRunning

	obj := vm.heap.get(callee.Ref)
	switch obj.Kind {
	case ObjClosure:
		cl := obj.Closure
		if len(args) != cl.Proto.NumParams {
			vm.state = StateFaulted
			_, err := vm.failf(nil, ErrArity, "%s expects %d arguments, got %d",
				functionLabel(cl.Proto.Name), cl.Proto.NumParams, len(args))
			return Nil(), err
		}
		vm.pushFrame(callee.Ref, args)
		val, err := vm.run()
		if err != nil {
			vm.state = StateFaulted
			return Nil(), err
		}
		vm.state = StateHalted
		return val, nil
	case ObjNative:
		nat := obj.Native
		if nat.Arity >= 0 && len(args) != nat.Arity {
			vm.state = StateFaulted
			_, err := vm.failf(nil, ErrArity, "%s expects %d arguments, got %d",
				functionLabel(nat.Name), nat.Arity, len(args))
			return Nil(), err
		}
		val, err := nat.Fn(vm, args)
		if err != nil {
			vm.state = StateFaulted
			return Nil(), vm.wrapNativeError(nil, err)
		}
		vm.state = StateHalted
		return val, nil
	default:
		vm.state = StateFaulted
		_, err := vm.failf(nil, ErrType, "%s is not callable", vm.TypeName(callee))
		return Nil(), err
	}
}

func (vm *VM) run() (Value, error) {
	for len(vm.frames) > 0 {
		fr := vm.currentFrame()
		fr.lastOp = fr.ip
		code := fr.cl.Proto.Chunk.Code
		if fr.ip >= len(code) {
			ret, done := vm.finishFrame(Nil())
			if done {
				return ret, nil
			}
			continue
		}
		if len(vm.stack) >= vm.maxStack {
			return vm.failf(fr, ErrStackOverflow, "operand stack overflow")
		}
		op := code[fr.ip]
		fr.ip++
		vm.trace(fr, op)

		switch op {
		case bytecode.OP_NOP:
			// no-op
		case bytecode.OP_CONST:
			idx := vm.readU16(fr)
			v, err := vm.constValue(fr, fr.cl.Proto.Chunk.Consts[idx])
			if err != nil {
				return Nil(), err
			}
			vm.push(v)
		case bytecode.OP_NIL:
			vm.push(Nil())
		case bytecode.OP_TRUE:
			vm.push(Bool(true))
		case bytecode.OP_FALSE:
			vm.push(Bool(false))
		case bytecode.OP_POP:
			vm.pop()
		case bytecode.OP_DUP:
			vm.push(vm.peek())

		case bytecode.OP_ADD:
			b := vm.peekAt(0)
			a := vm.peekAt(1)
			switch {
			case a.Kind == KindNumber && b.Kind == KindNumber:
				vm.popN(2)
				vm.push(Number(a.Num + b.Num))
			case vm.isString(a) && vm.isString(b):
				s := vm.heap.get(a.Ref).Str + vm.heap.get(b.Ref).Str
				// allocate while both operands are still rooted on the stack
				h := vm.allocString(s)
				vm.popN(2)
				vm.push(ref(h))
			default:
				return vm.failf(fr, ErrType, "cannot add %s and %s", vm.TypeName(a), vm.TypeName(b))
			}
		case bytecode.OP_SUB, bytecode.OP_MUL, bytecode.OP_DIV, bytecode.OP_MOD:
			b := vm.pop()
			a := vm.pop()
			if a.Kind != KindNumber || b.Kind != KindNumber {
				return vm.failf(fr, ErrType, "cannot apply '%s' to %s and %s",
					opSymbol(op), vm.TypeName(a), vm.TypeName(b))
			}
			switch op {
			case bytecode.OP_SUB:
				vm.push(Number(a.Num - b.Num))
			case bytecode.OP_MUL:
				vm.push(Number(a.Num * b.Num))
			case bytecode.OP_DIV:
				vm.push(Number(a.Num / b.Num))
			case bytecode.OP_MOD:
				vm.push(Number(math.Mod(a.Num, b.Num)))
			}
		case bytecode.OP_LT, bytecode.OP_LTE, bytecode.OP_GT, bytecode.OP_GTE:
			b := vm.pop()
			a := vm.pop()
			if a.Kind != KindNumber || b.Kind != KindNumber {
				return vm.failf(fr, ErrType, "cannot compare %s and %s",
					vm.TypeName(a), vm.TypeName(b))
			}
			switch op {
			case bytecode.OP_LT:
				vm.push(Bool(a.Num < b.Num))
			case bytecode.OP_LTE:
				vm.push(Bool(a.Num <= b.Num))
			case bytecode.OP_GT:
				vm.push(Bool(a.Num > b.Num))
			case bytecode.OP_GTE:
				vm.push(Bool(a.Num >= b.Num))
			}
		case bytecode.OP_EQ:
			b := vm.pop()
			a := vm.pop()
			vm.push(Bool(vm.valuesEqual(a, b)))
		case bytecode.OP_NEQ:
			b := vm.pop()
			a := vm.pop()
			vm.push(Bool(!vm.valuesEqual(a, b)))
		case bytecode.OP_NEG:
			v := vm.pop()
			if v.Kind != KindNumber {
				return vm.failf(fr, ErrType, "cannot negate %s", vm.TypeName(v))
			}
			vm.push(Number(-v.Num))
		case bytecode.OP_NOT:
			v := vm.pop()
			if v.Kind != KindBool {
				return vm.failf(fr, ErrType, "operand of '!' must be a boolean, got %s", vm.TypeName(v))
			}
			vm.push(Bool(!v.B))

		case bytecode.OP_GET_LOCAL:
			slot := vm.readU8(fr)
			if int(slot) >= len(fr.locals) {
				return vm.failf(fr, ErrInternal, "local slot out of range")
			}
			vm.push(fr.locals[slot])
		case bytecode.OP_SET_LOCAL:
			slot := vm.readU8(fr)
			if int(slot) >= len(fr.locals) {
				return vm.failf(fr, ErrInternal, "local slot out of range")
			}
			fr.locals[slot] = vm.pop()
		case bytecode.OP_GET_UPVALUE:
			slot := vm.readU8(fr)
			if int(slot) >= len(fr.cl.Upvalues) {
				return vm.failf(fr, ErrInternal, "upvalue slot out of range")
			}
			vm.push(vm.heap.get(fr.cl.Upvalues[slot]).Up.get())
		case bytecode.OP_SET_UPVALUE:
			slot := vm.readU8(fr)
			if int(slot) >= len(fr.cl.Upvalues) {
				return vm.failf(fr, ErrInternal, "upvalue slot out of range")
			}
			vm.heap.get(fr.cl.Upvalues[slot]).Up.set(vm.pop())
		case bytecode.OP_GET_GLOBAL:
			name, err := vm.constString(fr)
			if err != nil {
				return Nil(), err
			}
			v, exists := vm.globals[name]
			if !exists {
				return vm.failf(fr, ErrUndefinedGlobal, "undefined global '%s'", name)
			}
			vm.push(v)
		case bytecode.OP_SET_GLOBAL:
			name, err := vm.constString(fr)
			if err != nil {
				return Nil(), err
			}
			if _, exists := vm.globals[name]; !exists {
				return vm.failf(fr, ErrUndefinedGlobal, "undefined global '%s'", name)
			}
			vm.globals[name] = vm.pop()
		case bytecode.OP_DEFINE_GLOBAL:
			name, err := vm.constString(fr)
			if err != nil {
				return Nil(), err
			}
			vm.globals[name] = vm.pop()

		case bytecode.OP_ARRAY:
			count := vm.readU16(fr)
			h := vm.allocObject(Object{Kind: ObjArray, Arr: make([]Value, count)}, arraySize(count))
			copy(vm.heap.get(h).Arr, vm.stack[len(vm.stack)-count:])
			vm.popN(count)
			vm.push(ref(h))
		case bytecode.OP_RECORD:
			count := vm.readU16(fr)
			h := vm.allocObject(Object{Kind: ObjRecord, Fields: make(map[string]Value, count)}, recordSize(count))
			fields := vm.heap.get(h).Fields
			base := len(vm.stack) - 2*count
			for i := 0; i < count; i++ {
				key, ok := vm.StringValue(vm.stack[base+2*i])
				if !ok {
					return vm.failf(fr, ErrInternal, "record key is not a string")
				}
				fields[key] = vm.stack[base+2*i+1]
			}
			vm.popN(2 * count)
			vm.push(ref(h))
		case bytecode.OP_INDEX_GET:
			index := vm.pop()
			target := vm.pop()
			val, err := vm.indexGet(fr, target, index)
			if err != nil {
				return Nil(), err
			}
			vm.push(val)
		case bytecode.OP_INDEX_SET:
			val := vm.pop()
			index := vm.pop()
			target := vm.pop()
			if err := vm.indexSet(fr, target, index, val); err != nil {
				return Nil(), err
			}
			// assignment is an expression; its value stays on the stack
			vm.push(val)
		case bytecode.OP_GET_FIELD:
			name, err := vm.constString(fr)
			if err != nil {
				return Nil(), err
			}
			target := vm.pop()
			fields, err := vm.expectRecord(fr, target)
			if err != nil {
				return Nil(), err
			}
			val, ok := fields[name]
			if !ok {
				return vm.failf(fr, ErrType, "undefined field '%s'", name)
			}
			vm.push(val)
		case bytecode.OP_SET_FIELD:
			name, err := vm.constString(fr)
			if err != nil {
				return Nil(), err
			}
			val := vm.pop()
			target := vm.pop()
			if _, err := vm.expectRecord(fr, target); err != nil {
				return Nil(), err
			}
			vm.recordSet(target.Ref, name, val)
			vm.push(val)

		case bytecode.OP_JUMP:
			fr.ip = vm.readU16(fr)
		case bytecode.OP_JUMP_IF_FALSE:
			off := vm.readU16(fr)
			cond := vm.pop()
			if cond.Kind != KindBool {
				return vm.failf(fr, ErrType, "condition must be a boolean, got %s", vm.TypeName(cond))
			}
			if !cond.B {
				fr.ip = off
			}

		case bytecode.OP_CALL:
			argc := int(vm.readU8(fr))
			if len(vm.stack) < argc+1 {
				return vm.failf(fr, ErrInternal, "stack underflow on call")
			}
			callee := vm.peekAt(argc)
			if callee.Kind != KindRef {
				return vm.failf(fr, ErrType, "%s is not callable", vm.TypeName(callee))
			}
			obj := vm.heap.get(callee.Ref)
			switch obj.Kind {
			case ObjClosure:
				cl := obj.Closure
				if argc != cl.Proto.NumParams {
					return vm.failf(fr, ErrArity, "%s expects %d arguments, got %d",
						functionLabel(cl.Proto.Name), cl.Proto.NumParams, argc)
				}
				if len(vm.frames) >= vm.maxFrames {
					return vm.failf(fr, ErrStackOverflow, "call stack overflow")
				}
				args := make([]Value, argc)
				copy(args, vm.stack[len(vm.stack)-argc:])
				vm.popN(argc + 1)
				vm.pushFrame(callee.Ref, args)
			case ObjNative:
				nat := obj.Native
				if nat.Arity >= 0 && argc != nat.Arity {
					return vm.failf(fr, ErrArity, "%s expects %d arguments, got %d",
						functionLabel(nat.Name), nat.Arity, argc)
				}
				args := make([]Value, argc)
				copy(args, vm.stack[len(vm.stack)-argc:])
				// arguments stay rooted on the stack while the host runs
				res, err := nat.Fn(vm, args)
				if err != nil {
					return Nil(), vm.wrapNativeError(fr, err)
				}
				vm.popN(argc + 1)
				vm.push(res)
			default:
				return vm.failf(fr, ErrType, "%s is not callable", vm.TypeName(callee))
			}

		case bytecode.OP_RETURN:
			ret := Nil()
			if len(vm.stack) > fr.base {
				ret = vm.pop()
			}
			if vm.debugChecks && len(vm.stack) != fr.base {
				return vm.failf(fr, ErrInternal, "stack imbalance on return: depth %d, frame base %d",
					len(vm.stack), fr.base)
			}
			result, done := vm.finishFrame(ret)
			if done {
				return result, nil
			}

		case bytecode.OP_CLOSURE:
			idx := vm.readU16(fr)
			upcount := int(vm.readU8(fr))
			c := fr.cl.Proto.Chunk.Consts[idx]
			if c.Kind != bytecode.ConstProto || c.Proto == nil {
				return vm.failf(fr, ErrInternal, "closure constant is not a prototype")
			}
			h := vm.allocObject(Object{
				Kind:    ObjClosure,
				Closure: &Closure{Proto: c.Proto, Upvalues: make([]Handle, 0, upcount)},
			}, closureSize(upcount))
			// push first so the closure stays rooted while cells allocate
			vm.push(ref(h))
			cl := vm.heap.get(h).Closure
			for i := 0; i < upcount; i++ {
				isLocal := vm.readU8(fr)
				slot := vm.readU8(fr)
				if isLocal == 1 {
					if int(slot) >= len(fr.locals) {
						return vm.failf(fr, ErrInternal, "upvalue local slot out of range")
					}
					cl.Upvalues = append(cl.Upvalues, vm.captureUpvalue(&fr.locals[slot]))
				} else {
					if int(slot) >= len(fr.cl.Upvalues) {
						return vm.failf(fr, ErrInternal, "upvalue index out of range")
					}
					cl.Upvalues = append(cl.Upvalues, fr.cl.Upvalues[slot])
				}
			}

		case bytecode.OP_PRINT:
			v := vm.pop()
			fmt.Fprintln(vm.out, vm.Display(v))

		default:
			return vm.failf(fr, ErrInternal, "unknown opcode %d", op)
		}
	}

	return Nil(), nil
}

// pushFrame assumes arity and frame-capacity checks already happened.
func (vm *VM) pushFrame(h Handle, args []Value) {
	cl := vm.heap.get(h).Closure
	locals := make([]Value, cl.Proto.MaxLocals)
	copy(locals, args)
	vm.frames = append(vm.frames, frame{
		cl:     cl,
		h:      h,
		ip:     0,
		locals: locals,
		base:   len(vm.stack),
		lastOp: -1,
	})
}

// finishFrame pops the current frame, promoting any upvalues that still
// point into its locals.
func (vm *VM) finishFrame(ret Value) (Value, bool) {
	fr := vm.currentFrame()
	vm.closeUpvalues(fr.locals)
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.stack = vm.stack[:fr.base]
	if len(vm.frames) == 0 {
		return ret, true
	}
	vm.push(ret)
	return ret, false
}

func (vm *VM) currentFrame() *frame {
	return &vm.frames[len(vm.frames)-1]
}

func (vm *VM) push(v Value) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() Value {
	if len(vm.stack) == 0 {
		return Nil()
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) popN(n int) {
	vm.stack = vm.stack[:len(vm.stack)-n]
}

func (vm *VM) peek() Value {
	if len(vm.stack) == 0 {
		return Nil()
	}
	return vm.stack[len(vm.stack)-1]
}

func (vm *VM) peekAt(depth int) Value {
	return vm.stack[len(vm.stack)-1-depth]
}

func (vm *VM) readU16(fr *frame) int {
	code := fr.cl.Proto.Chunk.Code
	hi := code[fr.ip]
	lo := code[fr.ip+1]
	fr.ip += 2
	return int(hi)<<8 | int(lo)
}

func (vm *VM) readU8(fr *frame) byte {
	b := fr.cl.Proto.Chunk.Code[fr.ip]
	fr.ip++
	return b
}

// captureUpvalue returns the open cell for a local slot, creating one on
// first capture.
func (vm *VM) captureUpvalue(slot *Value) Handle {
	for _, h := range vm.openUpvalues {
		if vm.heap.get(h).Up.location == slot {
			return h
		}
	}
	h := vm.allocObject(Object{Kind: ObjUpvalue, Up: &upvalue{location: slot}}, cellSize())
	vm.openUpvalues = append(vm.openUpvalues, h)
	return h
}

func (vm *VM) closeUpvalues(locals []Value) {
	if len(locals) == 0 || len(vm.openUpvalues) == 0 {
		return
	}
	filtered := vm.openUpvalues[:0]
	for _, h := range vm.openUpvalues {
		uv := vm.heap.get(h).Up
		if containsSlot(locals, uv.location) {
			uv.close()
			continue
		}
		filtered = append(filtered, h)
	}
	vm.openUpvalues = filtered
}

func containsSlot(locals []Value, slot *Value) bool {
	for i := range locals {
		if &locals[i] == slot {
			return true
		}
	}
	return false
}

// constValue materializes a constant pool entry. Strings allocate a fresh
// heap object; equality compares contents, so sharing is unnecessary.
func (vm *VM) constValue(fr *frame, c bytecode.Const) (Value, error) {
	switch c.Kind {
	case bytecode.ConstNil:
		return Nil(), nil
	case bytecode.ConstBool:
		return Bool(c.B), nil
	case bytecode.ConstNumber:
		return Number(c.Num), nil
	case bytecode.ConstString:
		return ref(vm.allocString(c.Str)), nil
	default:
		_, err := vm.failf(fr, ErrInternal, "unexpected constant kind %d", c.Kind)
		return Nil(), err
	}
}

// constString reads a u16 constant index operand and resolves it to a
// string constant (a name, not a heap string).
func (vm *VM) constString(fr *frame) (string, error) {
	idx := vm.readU16(fr)
	c := fr.cl.Proto.Chunk.Consts[idx]
	if c.Kind != bytecode.ConstString {
		_, err := vm.failf(fr, ErrInternal, "name constant is not a string")
		return "", err
	}
	return c.Str, nil
}

func (vm *VM) indexGet(fr *frame, target, index Value) (Value, error) {
	if target.Kind != KindRef {
		return vm.failf(fr, ErrType, "%s is not indexable", vm.TypeName(target))
	}
	o := vm.heap.get(target.Ref)
	switch o.Kind {
	case ObjArray:
		i, err := vm.arrayIndex(fr, index, len(o.Arr))
		if err != nil {
			return Nil(), err
		}
		return o.Arr[i], nil
	case ObjRecord:
		key, ok := vm.StringValue(index)
		if !ok {
			return vm.failf(fr, ErrType, "record key must be a string, got %s", vm.TypeName(index))
		}
		val, exists := o.Fields[key]
		if !exists {
			return vm.failf(fr, ErrType, "undefined field '%s'", key)
		}
		return val, nil
	default:
		return vm.failf(fr, ErrType, "%s is not indexable", vm.TypeName(target))
	}
}

func (vm *VM) indexSet(fr *frame, target, index, val Value) error {
	if target.Kind != KindRef {
		_, err := vm.failf(fr, ErrType, "%s is not indexable", vm.TypeName(target))
		return err
	}
	o := vm.heap.get(target.Ref)
	switch o.Kind {
	case ObjArray:
		i, err := vm.arrayIndex(fr, index, len(o.Arr))
		if err != nil {
			return err
		}
		o.Arr[i] = val
		return nil
	case ObjRecord:
		key, ok := vm.StringValue(index)
		if !ok {
			_, err := vm.failf(fr, ErrType, "record key must be a string, got %s", vm.TypeName(index))
			return err
		}
		vm.recordSet(target.Ref, key, val)
		return nil
	default:
		_, err := vm.failf(fr, ErrType, "%s is not indexable", vm.TypeName(target))
		return err
	}
}

func (vm *VM) arrayIndex(fr *frame, index Value, length int) (int, error) {
	if index.Kind != KindNumber {
		_, err := vm.failf(fr, ErrType, "array index must be a number, got %s", vm.TypeName(index))
		return 0, err
	}
	i := int(index.Num)
	if float64(i) != index.Num {
		_, err := vm.failf(fr, ErrType, "array index must be an integer")
		return 0, err
	}
	if i < 0 || i >= length {
		_, err := vm.failf(fr, ErrType, "array index out of bounds: %d (length %d)", i, length)
		return 0, err
	}
	return i, nil
}

func (vm *VM) expectRecord(fr *frame, target Value) (map[string]Value, error) {
	if target.Kind == KindRef {
		if o := vm.heap.get(target.Ref); o.Kind == ObjRecord {
			return o.Fields, nil
		}
	}
	_, err := vm.failf(fr, ErrType, "field access on %s", vm.TypeName(target))
	return nil, err
}

// recordSet updates a field, growing the GC accounting when the key is new.
func (vm *VM) recordSet(h Handle, key string, val Value) {
	o := vm.heap.get(h)
	if _, exists := o.Fields[key]; !exists {
		o.size += 48
		vm.heap.bytes += 48
	}
	o.Fields[key] = val
}

func (vm *VM) valuesEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNil:
		return true
	case KindBool:
		return a.B == b.B
	case KindNumber:
		return a.Num == b.Num
	case KindRef:
		if a.Ref == b.Ref {
			return true
		}
		oa := vm.heap.get(a.Ref)
		ob := vm.heap.get(b.Ref)
		if oa.Kind == ObjString && ob.Kind == ObjString {
			return oa.Str == ob.Str
		}
		return false
	default:
		return false
	}
}

func (vm *VM) isString(v Value) bool {
	return v.Kind == KindRef && vm.heap.get(v.Ref).Kind == ObjString
}

// allocObject runs a collection when the pending allocation would cross
// the threshold, then inserts. Callers must keep every reachable operand
// rooted (stack, locals, globals) before calling.
func (vm *VM) allocObject(o Object, size int) Handle {
	if vm.heap.bytes+size > vm.heap.nextGC {
		vm.collectGarbage()
	}
	return vm.heap.insert(o, size)
}

func (vm *VM) allocString(s string) Handle {
	return vm.allocObject(Object{Kind: ObjString, Str: s}, stringSize(s))
}

// NewString allocates a heap string for host code.
func (vm *VM) NewString(s string) Value {
	return ref(vm.allocString(s))
}

// NewArray allocates an array holding copies of the given elements.
func (vm *VM) NewArray(elems []Value) Value {
	h := vm.allocObject(Object{Kind: ObjArray, Arr: make([]Value, len(elems))}, arraySize(len(elems)))
	copy(vm.heap.get(h).Arr, elems)
	return ref(h)
}

// NewRecord allocates a record holding copies of the given fields.
func (vm *VM) NewRecord(fields map[string]Value) Value {
	h := vm.allocObject(Object{Kind: ObjRecord, Fields: make(map[string]Value, len(fields))}, recordSize(len(fields)))
	m := vm.heap.get(h).Fields
	for k, v := range fields {
		m[k] = v
	}
	return ref(h)
}

// Pin roots a value against collection until Unpin. Host code pins values
// it builds outside a run, since nothing on the VM reaches them yet.
func (vm *VM) Pin(v Value) {
	if v.Kind == KindRef {
		vm.pinned = append(vm.pinned, v)
	}
}

// Unpin releases one pin of the given value.
func (vm *VM) Unpin(v Value) {
	if v.Kind != KindRef {
		return
	}
	for i := len(vm.pinned) - 1; i >= 0; i-- {
		if vm.pinned[i].Ref == v.Ref {
			vm.pinned = append(vm.pinned[:i], vm.pinned[i+1:]...)
			return
		}
	}
}

// StringValue extracts string contents if v is a heap string.
func (vm *VM) StringValue(v Value) (string, bool) {
	if !vm.isString(v) {
		return "", false
	}
	return vm.heap.get(v.Ref).Str, true
}

// ArrayValues returns the live element slice of an array value. The slice
// aliases VM memory; callers that retain it must copy.
func (vm *VM) ArrayValues(v Value) ([]Value, bool) {
	if v.Kind != KindRef {
		return nil, false
	}
	o := vm.heap.get(v.Ref)
	if o.Kind != ObjArray {
		return nil, false
	}
	return o.Arr, true
}

// RecordValues returns a copy of a record's fields.
func (vm *VM) RecordValues(v Value) (map[string]Value, bool) {
	if v.Kind != KindRef {
		return nil, false
	}
	o := vm.heap.get(v.Ref)
	if o.Kind != ObjRecord {
		return nil, false
	}
	out := make(map[string]Value, len(o.Fields))
	for k, val := range o.Fields {
		out[k] = val
	}
	return out, true
}

// IsFunction reports whether v is callable (closure or native).
func (vm *VM) IsFunction(v Value) bool {
	if v.Kind != KindRef {
		return false
	}
	k := vm.heap.get(v.Ref).Kind
	return k == ObjClosure || k == ObjNative
}

// TypeName names a value's runtime type for diagnostics.
func (vm *VM) TypeName(v Value) string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindRef:
		switch vm.heap.get(v.Ref).Kind {
		case ObjString:
			return "string"
		case ObjArray:
			return "array"
		case ObjRecord:
			return "record"
		case ObjClosure, ObjNative:
			return "function"
		case ObjUpvalue:
			return "upvalue"
		}
	}
	return "unknown"
}

// Display renders a value the way print shows it.
func (vm *VM) Display(v Value) string {
	return vm.display(v, false)
}

func (vm *VM) display(v Value, nested bool) string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindBool:
		return strconv.FormatBool(v.B)
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindRef:
		o := vm.heap.get(v.Ref)
		switch o.Kind {
		case ObjString:
			if nested {
				return strconv.Quote(o.Str)
			}
			return o.Str
		case ObjArray:
			var sb strings.Builder
			sb.WriteByte('[')
			for i, el := range o.Arr {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(vm.display(el, true))
			}
			sb.WriteByte(']')
			return sb.String()
		case ObjRecord:
			keys := make([]string, 0, len(o.Fields))
			for k := range o.Fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			var sb strings.Builder
			sb.WriteByte('{')
			for i, k := range keys {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(k)
				sb.WriteString(": ")
				sb.WriteString(vm.display(o.Fields[k], true))
			}
			sb.WriteByte('}')
			return sb.String()
		case ObjClosure:
			return functionLabel(o.Closure.Proto.Name)
		case ObjNative:
			return "<native " + o.Native.Name + ">"
		case ObjUpvalue:
			return "<upvalue>"
		}
	}
	return "<unknown>"
}

func functionLabel(name string) string {
	if name == "" {
		return "<func>"
	}
	return "<func " + name + ">"
}

func opSymbol(op byte) string {
	switch op {
	case bytecode.OP_ADD:
		return "+"
	case bytecode.OP_SUB:
		return "-"
	case bytecode.OP_MUL:
		return "*"
	case bytecode.OP_DIV:
		return "/"
	case bytecode.OP_MOD:
		return "%"
	default:
		return "?"
	}
}

// HeapStats summarizes heap occupancy for monitoring and tests.
type HeapStats struct {
	Objects       int
	LiveBytes     int
	Sweeps        uint64
	NextThreshold int
}

// Stats reports current heap occupancy.
func (vm *VM) Stats() HeapStats {
	return HeapStats{
		Objects:       vm.heap.liveCount(),
		LiveBytes:     vm.heap.bytes,
		Sweeps:        vm.heap.sweeps,
		NextThreshold: vm.heap.nextGC,
	}
}

// ForceGC runs an immediate collection.
func (vm *VM) ForceGC() {
	vm.collectGarbage()
}
