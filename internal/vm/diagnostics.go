package vm

import (
	"fmt"
	"strings"

	"github.com/lla-lang/lla/internal/bytecode"
)

// TraceInfo describes a single instruction dispatch for debugging/tracing.
type TraceInfo struct {
	Op       byte
	Function string
	Source   string
	Line     int
	IP       int
}

// TraceHook observes instruction dispatch for debugging/profiling.
type TraceHook func(TraceInfo)

// FrameInfo captures the call frame at the time of an error or trace event.
type FrameInfo struct {
	Function string
	Source   string
	Line     int
	IP       int
}

// ErrKind classifies runtime failures.
type ErrKind int

const (
	ErrType ErrKind = iota
	ErrArity
	ErrUndefinedGlobal
	ErrStackOverflow
	ErrNative
	ErrInternal
)

func (k ErrKind) String() string {
	switch k {
	case ErrType:
		return "type error"
	case ErrArity:
		return "arity error"
	case ErrUndefinedGlobal:
		return "undefined global"
	case ErrStackOverflow:
		return "stack overflow"
	case ErrNative:
		return "native error"
	default:
		return "internal error"
	}
}

// RuntimeError carries source/stack information for VM failures. The
// machine does not recover from these; the run faults.
type RuntimeError struct {
	Kind    ErrKind
	Message string
	Frame   FrameInfo
	Stack   []FrameInfo
	Cause   error
}

func (e *RuntimeError) Error() string {
	locParts := []string{}
	if e.Frame.Source != "" {
		if e.Frame.Line > 0 {
			locParts = append(locParts, fmt.Sprintf("%s:%d", e.Frame.Source, e.Frame.Line))
		} else {
			locParts = append(locParts, e.Frame.Source)
		}
	} else if e.Frame.Line > 0 {
		locParts = append(locParts, fmt.Sprintf("line %d", e.Frame.Line))
	}
	if e.Frame.Function != "" {
		locParts = append(locParts, fmt.Sprintf("in %s", e.Frame.Function))
	}
	loc := strings.Join(locParts, " ")
	if loc != "" {
		return fmt.Sprintf("%s: %s", loc, e.Message)
	}
	return e.Message
}

// Unwrap exposes the original error, if any.
func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

func (vm *VM) failf(fr *frame, kind ErrKind, format string, args ...interface{}) (Value, error) {
	msg := fmt.Sprintf(format, args...)
	return Nil(), vm.newRuntimeError(fr, kind, vm.offsetForFrame(fr), msg, nil)
}

// wrapNativeError converts a host error into a runtime error with the
// current frame trace, passing already-built runtime errors through.
func (vm *VM) wrapNativeError(fr *frame, err error) error {
	if rt, ok := err.(*RuntimeError); ok {
		return rt
	}
	return vm.newRuntimeError(fr, ErrNative, vm.offsetForFrame(fr), err.Error(), err)
}

func (vm *VM) newRuntimeError(fr *frame, kind ErrKind, offset int, msg string, cause error) *RuntimeError {
	return &RuntimeError{
		Kind:    kind,
		Message: msg,
		Frame:   vm.frameInfo(fr, offset),
		Stack:   vm.stackTrace(fr, offset),
		Cause:   cause,
	}
}

func (vm *VM) trace(fr *frame, op byte) {
	if vm.traceHook == nil {
		return
	}
	info := vm.frameInfo(fr, vm.offsetForFrame(fr))
	vm.traceHook(TraceInfo{
		Op:       op,
		Function: info.Function,
		Source:   info.Source,
		Line:     info.Line,
		IP:       info.IP,
	})
}

// stackTrace walks the live frames newest-first.
func (vm *VM) stackTrace(current *frame, offset int) []FrameInfo {
	if len(vm.frames) == 0 {
		return nil
	}
	trace := make([]FrameInfo, 0, len(vm.frames))
	for i := len(vm.frames) - 1; i >= 0; i-- {
		fr := &vm.frames[i]
		off := fr.lastOp
		if fr == current && offset >= 0 {
			off = offset
		}
		trace = append(trace, vm.frameInfo(fr, off))
	}
	return trace
}

func (vm *VM) frameInfo(fr *frame, offset int) FrameInfo {
	if fr == nil || fr.cl == nil || fr.cl.Proto == nil {
		return FrameInfo{}
	}
	proto := fr.cl.Proto
	name := proto.Name
	if name == "" {
		name = "<anon>"
	}
	return FrameInfo{
		Function: name,
		Source:   proto.Source,
		Line:     lineForOffset(proto.Chunk, offset),
		IP:       offset,
	}
}

func (vm *VM) offsetForFrame(fr *frame) int {
	if fr == nil {
		return -1
	}
	if fr.lastOp >= 0 {
		return fr.lastOp
	}
	return fr.ip
}

func lineForOffset(chunk *bytecode.Chunk, offset int) int {
	if chunk == nil || offset < 0 {
		return 0
	}
	line := 0
	for _, info := range chunk.Lines {
		if offset < info.Offset {
			break
		}
		line = info.Line
	}
	return line
}
