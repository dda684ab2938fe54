package lla

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/lla-lang/lla/internal/bytecode"
	"github.com/lla-lang/lla/internal/compiler"
	"github.com/lla-lang/lla/internal/lexer"
	"github.com/lla-lang/lla/internal/parser"
	"github.com/lla-lang/lla/internal/vm"
)

// Program is a compiled script ready for execution.
type Program struct {
	prog *bytecode.Program
}

// Compile turns source text into an executable Program. The name is used
// in diagnostics (a filename or a synthetic label). The returned error is
// a *LexError, *ParseError or *CompileError.
func Compile(name, source string) (*Program, error) {
	prog, err := parser.New(lexer.New(source)).ParseProgram()
	if err != nil {
		return nil, convertStageError(err)
	}
	compiled, err := compiler.Compile(prog, name)
	if err != nil {
		return nil, convertStageError(err)
	}
	return &Program{prog: compiled}, nil
}

// CompileFile reads and compiles a script from a filesystem path.
func CompileFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Compile(path, string(data))
}

// Source returns the diagnostic name the program was compiled under.
func (p *Program) Source() string {
	return p.prog.Source
}

// Encode serializes the program into a portable binary image.
func (p *Program) Encode() ([]byte, error) {
	return bytecode.EncodeProgram(p.prog)
}

// DecodeProgram restores a program from an Encode image.
func DecodeProgram(data []byte) (*Program, error) {
	prog, err := bytecode.DecodeProgram(data)
	if err != nil {
		return nil, err
	}
	return &Program{prog: prog}, nil
}

// Disassemble writes a human-readable listing of the program's bytecode.
func (p *Program) Disassemble(w io.Writer) error {
	return bytecode.NewDisassembler(w).DisassembleProgram(p.prog)
}

// LexError is a tokenization failure at a source position.
type LexError struct {
	Line    int
	Column  int
	Message string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("lex error at %d:%d: %s", e.Line, e.Column, e.Message)
}

// ParseError is a syntax failure at a source position.
type ParseError struct {
	Line    int
	Column  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d:%d: %s", e.Line, e.Column, e.Message)
}

// CompileError is a lowering failure (duplicate declaration, invalid
// assignment target, misplaced return/break/continue, overflow limits).
type CompileError struct {
	Line    int
	Column  int
	Message string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile error at %d:%d: %s", e.Line, e.Column, e.Message)
}

func convertStageError(err error) error {
	var le *lexer.Error
	if errors.As(err, &le) {
		return &LexError{Line: le.Pos.Line, Column: le.Pos.Column, Message: le.Msg}
	}
	var pe *parser.Error
	if errors.As(err, &pe) {
		msg := pe.Msg
		if pe.Expected != "" {
			msg = fmt.Sprintf("expected %s, found %s", pe.Expected, pe.Found)
		}
		return &ParseError{Line: pe.Pos.Line, Column: pe.Pos.Column, Message: msg}
	}
	var ce *compiler.Error
	if errors.As(err, &ce) {
		return &CompileError{Line: ce.Pos.Line, Column: ce.Pos.Column, Message: ce.Msg}
	}
	return err
}

// ValueKind mirrors the runtime kinds for convenient inspection.
type ValueKind int

const (
	ValueNil ValueKind = iota
	ValueBool
	ValueNumber
	ValueString
	ValueArray
	ValueRecord
	ValueFunction
)

func kindName(k ValueKind) string {
	switch k {
	case ValueNil:
		return "nil"
	case ValueBool:
		return "boolean"
	case ValueNumber:
		return "number"
	case ValueString:
		return "string"
	case ValueArray:
		return "array"
	case ValueRecord:
		return "record"
	case ValueFunction:
		return "function"
	default:
		return "unknown"
	}
}

// Value wraps a runtime value. Heap-backed values (strings, arrays,
// records, functions) remain tied to the VM that owns them.
type Value struct {
	v     vm.Value
	owner *vm.VM
}

// Kind reports the underlying value kind.
func (v Value) Kind() ValueKind {
	switch v.v.Kind {
	case vm.KindBool:
		return ValueBool
	case vm.KindNumber:
		return ValueNumber
	case vm.KindRef:
		if v.owner == nil {
			return ValueNil
		}
		switch v.owner.TypeName(v.v) {
		case "string":
			return ValueString
		case "array":
			return ValueArray
		case "record":
			return ValueRecord
		case "function":
			return ValueFunction
		}
	}
	return ValueNil
}

// IsNil reports whether the value is nil.
func (v Value) IsNil() bool {
	return v.v.Kind == vm.KindNil
}

// Bool returns the boolean value when the kind matches.
func (v Value) Bool() (bool, bool) {
	if v.v.Kind != vm.KindBool {
		return false, false
	}
	return v.v.B, true
}

// Number returns the numeric value when the kind matches.
func (v Value) Number() (float64, bool) {
	if v.v.Kind != vm.KindNumber {
		return 0, false
	}
	return v.v.Num, true
}

// String returns the string contents when the kind matches.
func (v Value) String() (string, bool) {
	if v.owner == nil {
		return "", false
	}
	return v.owner.StringValue(v.v)
}

// Array unwraps an array into Values when the kind matches.
func (v Value) Array() ([]Value, bool) {
	if v.owner == nil {
		return nil, false
	}
	elems, ok := v.owner.ArrayValues(v.v)
	if !ok {
		return nil, false
	}
	out := make([]Value, len(elems))
	for i, el := range elems {
		out[i] = Value{v: el, owner: v.owner}
	}
	return out, true
}

// Record unwraps a record into Values when the kind matches.
func (v Value) Record() (map[string]Value, bool) {
	if v.owner == nil {
		return nil, false
	}
	fields, ok := v.owner.RecordValues(v.v)
	if !ok {
		return nil, false
	}
	out := make(map[string]Value, len(fields))
	for k, el := range fields {
		out[k] = Value{v: el, owner: v.owner}
	}
	return out, true
}

// Display renders the value the way the print statement shows it.
func (v Value) Display() string {
	if v.owner != nil {
		return v.owner.Display(v.v)
	}
	switch v.v.Kind {
	case vm.KindBool:
		return strconv.FormatBool(v.v.B)
	case vm.KindNumber:
		return strconv.FormatFloat(v.v.Num, 'f', -1, 64)
	default:
		return "nil"
	}
}

// NumberValue wraps a Go float as a script number.
func NumberValue(n float64) Value {
	return Value{v: vm.Number(n)}
}

// BoolValue wraps a Go bool as a script boolean.
func BoolValue(b bool) Value {
	return Value{v: vm.Bool(b)}
}

// NilValue is the script nil.
func NilValue() Value {
	return Value{v: vm.Nil()}
}

// ErrorKind classifies runtime failures surfaced as *RuntimeError.
type ErrorKind int

const (
	ErrTypeError ErrorKind = iota
	ErrArityError
	ErrUndefinedGlobal
	ErrStackOverflow
	ErrNativeError
	ErrInternal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTypeError:
		return "type error"
	case ErrArityError:
		return "arity error"
	case ErrUndefinedGlobal:
		return "undefined global"
	case ErrStackOverflow:
		return "stack overflow"
	case ErrNativeError:
		return "native error"
	default:
		return "internal error"
	}
}

// FrameTrace describes a single frame in a runtime error or trace.
type FrameTrace struct {
	Function string
	Source   string
	Line     int
	IP       int
}

// RuntimeError is a source-aware execution error surfaced from the VM.
type RuntimeError struct {
	Kind    ErrorKind
	Message string
	Frame   FrameTrace
	Stack   []FrameTrace
	Cause   error
}

func (e *RuntimeError) Error() string {
	parts := []string{}
	if e.Frame.Source != "" {
		if e.Frame.Line > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", e.Frame.Source, e.Frame.Line))
		} else {
			parts = append(parts, e.Frame.Source)
		}
	} else if e.Frame.Line > 0 {
		parts = append(parts, fmt.Sprintf("line %d", e.Frame.Line))
	}
	if e.Frame.Function != "" {
		parts = append(parts, fmt.Sprintf("in %s", e.Frame.Function))
	}
	loc := strings.Join(parts, " ")
	if loc != "" {
		return fmt.Sprintf("%s: %s", loc, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying cause (if any) for errors.Is/As.
func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

// TraceInfo captures execution steps for debug hooks.
type TraceInfo struct {
	Op       byte
	Function string
	Source   string
	Line     int
	IP       int
}

// TraceHook observes instruction dispatch for debugging/profiling.
type TraceHook func(TraceInfo)

func convertRuntimeError(err error) error {
	if err == nil {
		return nil
	}
	var rte *vm.RuntimeError
	if errors.As(err, &rte) {
		return &RuntimeError{
			Kind:    errorKindFromVM(rte.Kind),
			Message: rte.Message,
			Frame:   frameTraceFromVM(rte.Frame),
			Stack:   stackTraceFromVM(rte.Stack),
			Cause:   rte.Cause,
		}
	}
	return err
}

func errorKindFromVM(k vm.ErrKind) ErrorKind {
	switch k {
	case vm.ErrType:
		return ErrTypeError
	case vm.ErrArity:
		return ErrArityError
	case vm.ErrUndefinedGlobal:
		return ErrUndefinedGlobal
	case vm.ErrStackOverflow:
		return ErrStackOverflow
	case vm.ErrNative:
		return ErrNativeError
	default:
		return ErrInternal
	}
}

func frameTraceFromVM(info vm.FrameInfo) FrameTrace {
	return FrameTrace{
		Function: info.Function,
		Source:   info.Source,
		Line:     info.Line,
		IP:       info.IP,
	}
}

func stackTraceFromVM(stack []vm.FrameInfo) []FrameTrace {
	if len(stack) == 0 {
		return nil
	}
	out := make([]FrameTrace, len(stack))
	for i, fr := range stack {
		out[i] = frameTraceFromVM(fr)
	}
	return out
}

// HostFunc is the Go-side implementation of a script-callable native.
type HostFunc func(rt *VM, args []Value) (Value, error)

// HeapStats summarizes heap occupancy.
type HeapStats struct {
	Objects       int
	LiveBytes     int
	Sweeps        uint64
	NextThreshold int
}

// VM is the embedding surface: it owns one interpreter core and its heap.
// Methods are safe against concurrent misuse (a busy VM rejects overlapping
// executions), but a single execution always runs on one goroutine.
type VM struct {
	core *vm.VM
	mu   sync.Mutex
	busy bool
}

// NewVM constructs a VM with default options.
func NewVM() *VM {
	return NewVMWithOptions(DefaultOptions())
}

// NewVMWithOptions constructs a VM from explicit options.
func NewVMWithOptions(opts Options) *VM {
	return &VM{
		core: vm.NewWithConfig(vm.Config{
			MaxStack:    opts.StackCapacity,
			MaxFrames:   opts.FrameCapacity,
			GCThreshold: opts.GCThreshold,
			GCGrowth:    opts.GCGrowthFactor,
			DebugChecks: opts.DebugChecks,
		}),
	}
}

func (vmc *VM) acquire() error {
	vmc.mu.Lock()
	defer vmc.mu.Unlock()
	if vmc.busy {
		return errors.New("VM is busy; concurrent execution not allowed")
	}
	vmc.busy = true
	return nil
}

func (vmc *VM) releaseBusy() {
	vmc.mu.Lock()
	vmc.busy = false
	vmc.mu.Unlock()
}

// Execute runs a compiled program and returns the program value. The
// returned value stays rooted until Release.
func (vmc *VM) Execute(prog *Program) (Value, error) {
	if vmc == nil || vmc.core == nil {
		return Value{}, errors.New("nil VM")
	}
	if prog == nil || prog.prog == nil {
		return Value{}, errors.New("nil program")
	}
	if err := vmc.acquire(); err != nil {
		return Value{}, err
	}
	defer vmc.releaseBusy()
	val, err := vmc.core.RunProgram(prog.prog)
	if err != nil {
		return Value{}, convertRuntimeError(err)
	}
	vmc.core.Pin(val)
	return Value{v: val, owner: vmc.core}, nil
}

// ExecuteSource compiles and runs source text in one step.
func (vmc *VM) ExecuteSource(name, source string) (Value, error) {
	prog, err := Compile(name, source)
	if err != nil {
		return Value{}, err
	}
	return vmc.Execute(prog)
}

// Call invokes a global function by name. The returned value stays rooted
// until Release.
func (vmc *VM) Call(name string, args ...Value) (Value, error) {
	if vmc == nil || vmc.core == nil {
		return Value{}, errors.New("nil VM")
	}
	if err := vmc.acquire(); err != nil {
		return Value{}, err
	}
	defer vmc.releaseBusy()
	argVals := make([]vm.Value, len(args))
	for i, a := range args {
		argVals[i] = a.v
	}
	val, err := vmc.core.CallGlobal(name, argVals)
	if err != nil {
		return Value{}, convertRuntimeError(err)
	}
	vmc.core.Pin(val)
	return Value{v: val, owner: vmc.core}, nil
}

// CallResult is the outcome of an asynchronous call.
type CallResult struct {
	Value Value
	Err   error
}

// CallFuture represents an in-flight asynchronous call.
type CallFuture struct {
	ch <-chan CallResult
}

// Await waits for completion or context cancellation.
func (f CallFuture) Await(ctx context.Context) (Value, error) {
	select {
	case <-ctx.Done():
		return Value{}, ctx.Err()
	case res := <-f.ch:
		return res.Value, res.Err
	}
}

// CallAsync invokes a global function on a background goroutine. Only one
// execution may be in flight per VM.
func (vmc *VM) CallAsync(ctx context.Context, name string, args []Value) CallFuture {
	ch := make(chan CallResult, 1)
	if err := vmc.acquire(); err != nil {
		ch <- CallResult{Err: err}
		close(ch)
		return CallFuture{ch: ch}
	}
	go func() {
		defer close(ch)
		defer vmc.releaseBusy()
		select {
		case <-ctx.Done():
			ch <- CallResult{Err: ctx.Err()}
			return
		default:
		}
		argVals := make([]vm.Value, len(args))
		for i, a := range args {
			argVals[i] = a.v
		}
		val, err := vmc.core.CallGlobal(name, argVals)
		if err != nil {
			ch <- CallResult{Err: convertRuntimeError(err)}
			return
		}
		vmc.core.Pin(val)
		ch <- CallResult{Value: Value{v: val, owner: vmc.core}}
	}()
	return CallFuture{ch: ch}
}

// RegisterNative exposes a host function as a global. arity < 0 accepts
// any argument count. Errors returned by fn surface as native runtime
// errors with the script-side frame trace attached.
func (vmc *VM) RegisterNative(name string, arity int, fn HostFunc) {
	vmc.core.RegisterNative(name, arity, func(core *vm.VM, args []vm.Value) (vm.Value, error) {
		wrapped := make([]Value, len(args))
		for i, a := range args {
			wrapped[i] = Value{v: a, owner: core}
		}
		res, err := fn(vmc, wrapped)
		if err != nil {
			return vm.Nil(), err
		}
		return res.v, nil
	})
}

// DefineGlobal binds a value to a global name.
func (vmc *VM) DefineGlobal(name string, v Value) {
	vmc.core.DefineGlobal(name, v.v)
}

// Global reads a global binding.
func (vmc *VM) Global(name string) (Value, bool) {
	v, ok := vmc.core.Global(name)
	return Value{v: v, owner: vmc.core}, ok
}

// NewString allocates a script string. The value stays rooted until Release.
func (vmc *VM) NewString(s string) Value {
	v := vmc.core.NewString(s)
	vmc.core.Pin(v)
	return Value{v: v, owner: vmc.core}
}

// NewArray allocates a script array. The value stays rooted until Release.
func (vmc *VM) NewArray(elems ...Value) Value {
	vals := make([]vm.Value, len(elems))
	for i, el := range elems {
		vals[i] = el.v
	}
	v := vmc.core.NewArray(vals)
	vmc.core.Pin(v)
	return Value{v: v, owner: vmc.core}
}

// NewRecord allocates a script record. The value stays rooted until Release.
func (vmc *VM) NewRecord(fields map[string]Value) Value {
	m := make(map[string]vm.Value, len(fields))
	for k, el := range fields {
		m[k] = el.v
	}
	v := vmc.core.NewRecord(m)
	vmc.core.Pin(v)
	return Value{v: v, owner: vmc.core}
}

// Release drops the root pin of a host-held value, allowing the garbage
// collector to reclaim it once the VM no longer reaches it.
func (vmc *VM) Release(v Value) {
	vmc.core.Unpin(v.v)
}

// Duplicate clones the VM configuration and global state into a new
// instance with independent memory and no in-flight execution state.
func (vmc *VM) Duplicate() (*VM, error) {
	if vmc == nil || vmc.core == nil {
		return nil, errors.New("nil VM")
	}
	if err := vmc.acquire(); err != nil {
		return nil, err
	}
	defer vmc.releaseBusy()
	core := vmc.core.Duplicate()
	if core == nil {
		return nil, errors.New("VM duplicate failed")
	}
	return &VM{core: core}, nil
}

// SetOutput redirects print statements.
func (vmc *VM) SetOutput(w io.Writer) {
	vmc.core.SetOutput(w)
}

// SetTraceHook attaches a debug hook that observes instruction dispatch.
func (vmc *VM) SetTraceHook(h TraceHook) {
	if h == nil {
		vmc.core.SetTraceHook(nil)
		return
	}
	vmc.core.SetTraceHook(func(info vm.TraceInfo) {
		h(TraceInfo{
			Op:       info.Op,
			Function: info.Function,
			Source:   info.Source,
			Line:     info.Line,
			IP:       info.IP,
		})
	})
}

// Stats reports heap occupancy.
func (vmc *VM) Stats() HeapStats {
	s := vmc.core.Stats()
	return HeapStats{
		Objects:       s.Objects,
		LiveBytes:     s.LiveBytes,
		Sweeps:        s.Sweeps,
		NextThreshold: s.NextThreshold,
	}
}

// ForceGC runs an immediate collection.
func (vmc *VM) ForceGC() {
	vmc.core.ForceGC()
}

// State reports the lifecycle state of the last run.
func (vmc *VM) State() string {
	return vmc.core.State().String()
}
