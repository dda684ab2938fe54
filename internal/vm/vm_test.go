package vm_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/lla-lang/lla/internal/bytecode"
	"github.com/lla-lang/lla/internal/compiler"
	"github.com/lla-lang/lla/internal/lexer"
	"github.com/lla-lang/lla/internal/parser"
	"github.com/lla-lang/lla/internal/vm"
)

func compileSource(t *testing.T, src string) *bytecode.Program {
	t.Helper()
	parsed, err := parser.New(lexer.New(src)).ParseProgram()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	prog, err := compiler.Compile(parsed, "test")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	return prog
}

func run(t *testing.T, src string) (vm.Value, *vm.VM) {
	t.Helper()
	machine := vm.New()
	val, err := machine.RunProgram(compileSource(t, src))
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	return val, machine
}

func runError(t *testing.T, src string) *vm.RuntimeError {
	t.Helper()
	machine := vm.New()
	_, err := machine.RunProgram(compileSource(t, src))
	if err == nil {
		t.Fatalf("expected runtime error for %q", src)
	}
	var rte *vm.RuntimeError
	if !errors.As(err, &rte) {
		t.Fatalf("expected *RuntimeError, got %T: %v", err, err)
	}
	return rte
}

func wantNumber(t *testing.T, val vm.Value, want float64) {
	t.Helper()
	if val.Kind != vm.KindNumber || val.Num != want {
		t.Fatalf("expected %g, got %#v", want, val)
	}
}

func TestVMArithmetic(t *testing.T) {
	val, _ := run(t, "1 + 2 * 3")
	wantNumber(t, val, 7)
}

func TestVMModuloAndDivision(t *testing.T) {
	val, _ := run(t, "10 % 3 + 9 / 2")
	wantNumber(t, val, 5.5)
}

func TestVMUnary(t *testing.T) {
	val, _ := run(t, "-(2 + 3)")
	wantNumber(t, val, -5)

	val, _ = run(t, "!false")
	if val.Kind != vm.KindBool || !val.B {
		t.Fatalf("expected true, got %#v", val)
	}
}

func TestVMStringConcat(t *testing.T) {
	val, machine := run(t, `"foo" + "bar"`)
	s, ok := machine.StringValue(val)
	if !ok || s != "foobar" {
		t.Fatalf("expected foobar, got %#v", val)
	}
}

func TestVMComparisons(t *testing.T) {
	cases := []struct {
		src  string
		want bool
	}{
		{"1 < 2", true},
		{"2 <= 2", true},
		{"3 > 4", false},
		{"4 >= 5", false},
		{"1 == 1", true},
		{`"a" == "a"`, true},
		{`"a" == "b"`, false},
		{"1 == \"1\"", false},
		{"nil == nil", true},
		{"1 != 2", true},
	}
	for _, tc := range cases {
		val, _ := run(t, tc.src)
		if val.Kind != vm.KindBool || val.B != tc.want {
			t.Fatalf("%s: expected %v, got %#v", tc.src, tc.want, val)
		}
	}
}

func TestVMGlobalsAndCall(t *testing.T) {
	src := `
func add(a, b) {
  return a + b
}
add(2, 3)
`
	val, machine := run(t, src)
	wantNumber(t, val, 5)

	val, err := machine.CallGlobal("add", []vm.Value{vm.Number(40), vm.Number(2)})
	if err != nil {
		t.Fatalf("call error: %v", err)
	}
	wantNumber(t, val, 42)
}

func TestVMConditionals(t *testing.T) {
	src := `
func classify(n) {
  if (n < 0) {
    return "negative"
  } elif (n == 0) {
    return "zero"
  } else {
    return "positive"
  }
}
classify(0)
`
	val, machine := run(t, src)
	s, _ := machine.StringValue(val)
	if s != "zero" {
		t.Fatalf("expected zero, got %q", s)
	}
	res, err := machine.CallGlobal("classify", []vm.Value{vm.Number(-3)})
	if err != nil {
		t.Fatalf("call error: %v", err)
	}
	s, _ = machine.StringValue(res)
	if s != "negative" {
		t.Fatalf("expected negative, got %q", s)
	}
}

func TestVMLoopSum(t *testing.T) {
	src := `
let sum = 0
let i = 0
loop (i < 10) {
  sum = sum + i
  i = i + 1
}
sum
`
	val, _ := run(t, src)
	wantNumber(t, val, 45)
}

func TestVMLoopBreakContinue(t *testing.T) {
	src := `
let sum = 0
let i = 0
loop {
  i = i + 1
  if (i > 10) {
    break
  }
  if (i % 2 == 0) {
    continue
  }
  sum = sum + i
}
sum
`
	val, _ := run(t, src)
	wantNumber(t, val, 25) // 1+3+5+7+9
}

func TestVMClosureCounter(t *testing.T) {
	src := `
func makeCounter() {
  let n = 0
  return func () {
    n = n + 1
    return n
  }
}
let counter = makeCounter()
counter()
`
	val, machine := run(t, src)
	wantNumber(t, val, 1)

	// the upvalue cell was promoted when makeCounter returned; later
	// calls keep mutating the same cell
	for want := 2.0; want <= 4; want++ {
		res, err := machine.CallGlobal("counter", nil)
		if err != nil {
			t.Fatalf("call error: %v", err)
		}
		wantNumber(t, res, want)
	}
}

func TestVMSharedUpvalue(t *testing.T) {
	src := `
func makePair() {
  let n = 0
  let inc = func () {
    n = n + 1
    return n
  }
  let get = func () {
    return n
  }
  return [inc, get]
}
let pair = makePair()
pair[0]()
pair[0]()
pair[1]()
`
	val, _ := run(t, src)
	wantNumber(t, val, 2)
}

func TestVMRecursion(t *testing.T) {
	src := `
func fib(n) {
  if (n < 2) {
    return n
  }
  return fib(n - 1) + fib(n - 2)
}
fib(10)
`
	val, _ := run(t, src)
	wantNumber(t, val, 55)
}

func TestVMArrays(t *testing.T) {
	src := `
let a = [1, 2, 3]
a[1] = 5
a[1] + a[2]
`
	val, _ := run(t, src)
	wantNumber(t, val, 8)
}

func TestVMRecords(t *testing.T) {
	src := `
let r = {x: 1}
r.y = 2
r["z"] = 3
r.x + r["y"] + r.z
`
	val, _ := run(t, src)
	wantNumber(t, val, 6)
}

func TestVMAssignmentIsExpression(t *testing.T) {
	src := `
let a = 0
let b = (a = 7)
a + b
`
	val, _ := run(t, src)
	wantNumber(t, val, 14)
}

func TestVMLogicalShortCircuit(t *testing.T) {
	// the right side must not be evaluated; it would fault on an
	// undefined global
	val, _ := run(t, "false and missing()")
	if val.Kind != vm.KindBool || val.B {
		t.Fatalf("expected false, got %#v", val)
	}
	val, _ = run(t, "true or missing()")
	if val.Kind != vm.KindBool || !val.B {
		t.Fatalf("expected true, got %#v", val)
	}
}

func TestVMLogicalOperandTypeErrors(t *testing.T) {
	// both operands must be booleans, including the right side that
	// becomes the expression result
	for _, src := range []string{
		"1 and true",
		"true and 5",
		`nil or false`,
		`false or "x"`,
	} {
		rte := runError(t, src)
		if rte.Kind != vm.ErrType {
			t.Fatalf("%s: expected type error, got %v", src, rte.Kind)
		}
		if !strings.Contains(rte.Message, "condition must be a boolean") {
			t.Fatalf("%s: unexpected message: %q", src, rte.Message)
		}
	}
}

func TestVMLogicalResults(t *testing.T) {
	cases := []struct {
		src  string
		want bool
	}{
		{"true and true", true},
		{"true and false", false},
		{"false or false", false},
		{"false or true", true},
	}
	for _, tc := range cases {
		val, _ := run(t, tc.src)
		if val.Kind != vm.KindBool || val.B != tc.want {
			t.Fatalf("%s: expected %v, got %#v", tc.src, tc.want, val)
		}
	}
}

func TestVMPrint(t *testing.T) {
	src := `
print "hi"
print [1, "a"]
print {b: 2, a: 1}
print nil
`
	var buf bytes.Buffer
	machine := vm.NewWithConfig(vm.Config{Out: &buf})
	if _, err := machine.RunProgram(compileSource(t, src)); err != nil {
		t.Fatalf("run error: %v", err)
	}
	want := "hi\n[1, \"a\"]\n{a: 1, b: 2}\nnil\n"
	if buf.String() != want {
		t.Fatalf("expected %q, got %q", want, buf.String())
	}
}

func TestVMAddTypeError(t *testing.T) {
	rte := runError(t, `1 + "a"`)
	if rte.Kind != vm.ErrType {
		t.Fatalf("expected type error, got %v", rte.Kind)
	}
	if !strings.Contains(rte.Message, "cannot add number and string") {
		t.Fatalf("unexpected message: %q", rte.Message)
	}
}

func TestVMConditionTypeError(t *testing.T) {
	rte := runError(t, "if (1) { print 1 }")
	if rte.Kind != vm.ErrType {
		t.Fatalf("expected type error, got %v", rte.Kind)
	}
	if !strings.Contains(rte.Message, "condition must be a boolean, got number") {
		t.Fatalf("unexpected message: %q", rte.Message)
	}
}

func TestVMCompareTypeError(t *testing.T) {
	rte := runError(t, `"a" < "b"`)
	if rte.Kind != vm.ErrType || !strings.Contains(rte.Message, "cannot compare string and string") {
		t.Fatalf("unexpected error: %v %q", rte.Kind, rte.Message)
	}
}

func TestVMArityError(t *testing.T) {
	rte := runError(t, `
func one(a) {
  return a
}
one(1, 2)
`)
	if rte.Kind != vm.ErrArity {
		t.Fatalf("expected arity error, got %v", rte.Kind)
	}
	if !strings.Contains(rte.Message, "expects 1 arguments, got 2") {
		t.Fatalf("unexpected message: %q", rte.Message)
	}
}

func TestVMUndefinedGlobal(t *testing.T) {
	rte := runError(t, "missing + 1")
	if rte.Kind != vm.ErrUndefinedGlobal {
		t.Fatalf("expected undefined global, got %v", rte.Kind)
	}
	if rte.Message != "undefined global 'missing'" {
		t.Fatalf("unexpected message: %q", rte.Message)
	}
}

func TestVMIndexErrors(t *testing.T) {
	rte := runError(t, "[1, 2][5]")
	if rte.Kind != vm.ErrType || !strings.Contains(rte.Message, "out of bounds") {
		t.Fatalf("unexpected error: %v %q", rte.Kind, rte.Message)
	}
	rte = runError(t, "[1][0.5]")
	if !strings.Contains(rte.Message, "must be an integer") {
		t.Fatalf("unexpected message: %q", rte.Message)
	}
	rte = runError(t, "let r = {x: 1}\nr.y")
	if !strings.Contains(rte.Message, "undefined field 'y'") {
		t.Fatalf("unexpected message: %q", rte.Message)
	}
	rte = runError(t, "1[0]")
	if !strings.Contains(rte.Message, "not indexable") {
		t.Fatalf("unexpected message: %q", rte.Message)
	}
}

func TestVMNotCallable(t *testing.T) {
	rte := runError(t, "let x = 1\nx()")
	if rte.Kind != vm.ErrType || !strings.Contains(rte.Message, "not callable") {
		t.Fatalf("unexpected error: %v %q", rte.Kind, rte.Message)
	}
}

func TestVMFrameOverflow(t *testing.T) {
	machine := vm.NewWithConfig(vm.Config{MaxFrames: 16})
	_, err := machine.RunProgram(compileSource(t, `
func f() {
  return f()
}
f()
`))
	var rte *vm.RuntimeError
	if !errors.As(err, &rte) || rte.Kind != vm.ErrStackOverflow {
		t.Fatalf("expected stack overflow, got %v", err)
	}
	if machine.State() != vm.StateFaulted {
		t.Fatalf("expected faulted state, got %v", machine.State())
	}
}

func TestVMOperandStackOverflow(t *testing.T) {
	machine := vm.NewWithConfig(vm.Config{MaxStack: 8})
	_, err := machine.RunProgram(compileSource(t, "[1, 2, 3, 4, 5, 6, 7, 8, 9, 10]"))
	var rte *vm.RuntimeError
	if !errors.As(err, &rte) || rte.Kind != vm.ErrStackOverflow {
		t.Fatalf("expected stack overflow, got %v", err)
	}
}

func TestVMErrorTrace(t *testing.T) {
	rte := runError(t, `
func inner() {
  return 1 + "x"
}
func outer() {
  return inner()
}
outer()
`)
	if len(rte.Stack) < 3 {
		t.Fatalf("expected at least 3 frames, got %d: %+v", len(rte.Stack), rte.Stack)
	}
	if rte.Stack[0].Function != "inner" || rte.Stack[1].Function != "outer" {
		t.Fatalf("unexpected trace order: %+v", rte.Stack)
	}
	if rte.Frame.Source != "test" || rte.Frame.Line != 3 {
		t.Fatalf("unexpected frame: %+v", rte.Frame)
	}
	if !strings.Contains(rte.Error(), "test:3 in inner") {
		t.Fatalf("unexpected error string: %q", rte.Error())
	}
}

func TestVMNativeFunction(t *testing.T) {
	machine := vm.New()
	machine.RegisterNative("double", 1, func(rt *vm.VM, args []vm.Value) (vm.Value, error) {
		if args[0].Kind != vm.KindNumber {
			return vm.Nil(), fmt.Errorf("double wants a number, got %s", rt.TypeName(args[0]))
		}
		return vm.Number(args[0].Num * 2), nil
	})
	val, err := machine.RunProgram(compileSource(t, "double(21)"))
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	wantNumber(t, val, 42)
}

func TestVMNativeVariadic(t *testing.T) {
	machine := vm.New()
	machine.RegisterNative("sum", -1, func(rt *vm.VM, args []vm.Value) (vm.Value, error) {
		total := 0.0
		for _, a := range args {
			total += a.Num
		}
		return vm.Number(total), nil
	})
	val, err := machine.RunProgram(compileSource(t, "sum(1, 2, 3, 4)"))
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	wantNumber(t, val, 10)
}

func TestVMNativeError(t *testing.T) {
	sentinel := errors.New("boom")
	machine := vm.New()
	machine.RegisterNative("explode", 0, func(rt *vm.VM, args []vm.Value) (vm.Value, error) {
		return vm.Nil(), sentinel
	})
	_, err := machine.RunProgram(compileSource(t, "explode()"))
	var rte *vm.RuntimeError
	if !errors.As(err, &rte) || rte.Kind != vm.ErrNative {
		t.Fatalf("expected native error, got %v", err)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected cause to unwrap to sentinel")
	}
}

func TestVMNativeArity(t *testing.T) {
	machine := vm.New()
	machine.RegisterNative("pair", 2, func(rt *vm.VM, args []vm.Value) (vm.Value, error) {
		return rt.NewArray(args), nil
	})
	_, err := machine.RunProgram(compileSource(t, "pair(1)"))
	var rte *vm.RuntimeError
	if !errors.As(err, &rte) || rte.Kind != vm.ErrArity {
		t.Fatalf("expected arity error, got %v", err)
	}
}

func TestVMCallGlobalUndefined(t *testing.T) {
	machine := vm.New()
	_, err := machine.CallGlobal("nope", nil)
	var rte *vm.RuntimeError
	if !errors.As(err, &rte) || rte.Kind != vm.ErrUndefinedGlobal {
		t.Fatalf("expected undefined global, got %v", err)
	}
}

func TestVMTraceHook(t *testing.T) {
	machine := vm.New()
	steps := 0
	sawMain := false
	machine.SetTraceHook(func(info vm.TraceInfo) {
		steps++
		if info.Function == "<main>" {
			sawMain = true
		}
	})
	if _, err := machine.RunProgram(compileSource(t, "1 + 2")); err != nil {
		t.Fatalf("run error: %v", err)
	}
	if steps == 0 || !sawMain {
		t.Fatalf("trace hook not invoked: steps=%d sawMain=%v", steps, sawMain)
	}
}

func TestVMDebugChecks(t *testing.T) {
	machine := vm.NewWithConfig(vm.Config{DebugChecks: true})
	val, err := machine.RunProgram(compileSource(t, `
func f(x) {
  return x * 2
}
f(3) + f(4)
`))
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	wantNumber(t, val, 14)
}

func TestVMStateLifecycle(t *testing.T) {
	machine := vm.New()
	if machine.State() != vm.StateReady {
		t.Fatalf("expected ready, got %v", machine.State())
	}
	if _, err := machine.RunProgram(compileSource(t, "1")); err != nil {
		t.Fatalf("run error: %v", err)
	}
	if machine.State() != vm.StateHalted {
		t.Fatalf("expected halted, got %v", machine.State())
	}
	_, _ = machine.RunProgram(compileSource(t, "missing"))
	if machine.State() != vm.StateFaulted {
		t.Fatalf("expected faulted, got %v", machine.State())
	}
}

func TestVMDisplay(t *testing.T) {
	val, machine := run(t, `let d = {name: "x", nums: [1, 2.5], ok: true, none: nil}
d`)
	got := machine.Display(val)
	want := `{name: "x", none: nil, nums: [1, 2.5], ok: true}`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestVMDuplicateIsolation(t *testing.T) {
	src := `
func makeCounter() {
  let n = 0
  return func () {
    n = n + 1
    return n
  }
}
let counter = makeCounter()
counter()
`
	_, machine := run(t, src)

	dup := machine.Duplicate()
	res, err := dup.CallGlobal("counter", nil)
	if err != nil {
		t.Fatalf("dup call error: %v", err)
	}
	wantNumber(t, res, 2)
	res, err = dup.CallGlobal("counter", nil)
	if err != nil {
		t.Fatalf("dup call error: %v", err)
	}
	wantNumber(t, res, 3)

	// the original still has its own cell at 1
	res, err = machine.CallGlobal("counter", nil)
	if err != nil {
		t.Fatalf("call error: %v", err)
	}
	wantNumber(t, res, 2)
}

func TestVMDuplicateSharesStructure(t *testing.T) {
	src := `
let shared = [1, 2]
let holder = {a: shared, b: shared}
func mutate() {
  holder.a[0] = 9
  return holder.b[0]
}
mutate()
`
	val, machine := run(t, src)
	wantNumber(t, val, 9)

	dup := machine.Duplicate()
	res, err := dup.CallGlobal("mutate", nil)
	if err != nil {
		t.Fatalf("dup call error: %v", err)
	}
	// aliasing must survive the clone: a and b still point at one array
	wantNumber(t, res, 9)
}
