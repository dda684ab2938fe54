package compiler

import (
	"errors"
	"strings"
	"testing"

	"github.com/lla-lang/lla/internal/bytecode"
	"github.com/lla-lang/lla/internal/lexer"
	"github.com/lla-lang/lla/internal/parser"
)

func compile(t *testing.T, src string) *bytecode.Program {
	t.Helper()
	parsed, err := parser.New(lexer.New(src)).ParseProgram()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	prog, err := Compile(parsed, "test")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	return prog
}

func compileError(t *testing.T, src string) *Error {
	t.Helper()
	parsed, err := parser.New(lexer.New(src)).ParseProgram()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	_, err = Compile(parsed, "test")
	if err == nil {
		t.Fatalf("expected compile error for %q", src)
	}
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	return ce
}

func findProto(t *testing.T, chunk *bytecode.Chunk, name string) *bytecode.Prototype {
	t.Helper()
	for _, c := range chunk.Consts {
		if c.Kind == bytecode.ConstProto && c.Proto.Name == name {
			return c.Proto
		}
	}
	t.Fatalf("prototype %q not found in constant pool", name)
	return nil
}

func TestCompileArithmeticExpression(t *testing.T) {
	prog := compile(t, "1 + 2 * 3")

	want := []byte{
		OP_CONST, 0x00, 0x00,
		OP_CONST, 0x00, 0x01,
		OP_CONST, 0x00, 0x02,
		OP_MUL,
		OP_ADD,
		OP_RETURN,
	}
	code := prog.Main.Chunk.Code
	if len(code) != len(want) {
		t.Fatalf("expected %d bytes, got %d: %v", len(want), len(code), code)
	}
	for i, b := range want {
		if code[i] != b {
			t.Fatalf("byte %d: expected 0x%02X, got 0x%02X (code=%v)", i, b, code[i], code)
		}
	}
	consts := prog.Main.Chunk.Consts
	if len(consts) != 3 || consts[0].Num != 1 || consts[1].Num != 2 || consts[2].Num != 3 {
		t.Fatalf("unexpected constant pool: %v", consts)
	}
}

func TestCompileConstDeduplication(t *testing.T) {
	prog := compile(t, `let a = 1 + 1
let b = "s"
let c = "s"`)
	numbers := 0
	strs := 0
	for _, c := range prog.Main.Chunk.Consts {
		switch c.Kind {
		case bytecode.ConstNumber:
			numbers++
		case bytecode.ConstString:
			if c.Str == "s" {
				strs++
			}
		}
	}
	if numbers != 1 {
		t.Fatalf("expected 1 deduped number constant, got %d", numbers)
	}
	if strs != 1 {
		t.Fatalf("expected 1 deduped string constant, got %d", strs)
	}
}

func TestCompileProgramValue(t *testing.T) {
	prog := compile(t, "40 + 2")
	code := prog.Main.Chunk.Code
	if code[len(code)-1] != OP_RETURN {
		t.Fatalf("expected trailing OP_RETURN, got %v", code)
	}
	if code[len(code)-2] == OP_NIL {
		t.Fatalf("program value should not be replaced by nil: %v", code)
	}

	prog = compile(t, "let a = 1")
	code = prog.Main.Chunk.Code
	n := len(code)
	if code[n-2] != OP_NIL || code[n-1] != OP_RETURN {
		t.Fatalf("expected OP_NIL OP_RETURN tail, got %v", code)
	}
}

func TestCompileTopLevelBindsGlobals(t *testing.T) {
	prog := compile(t, `let a = 1
func f() { return a }`)
	sawDefine := 0
	code := prog.Main.Chunk.Code
	for i := 0; i < len(code); i++ {
		if code[i] == OP_DEFINE_GLOBAL {
			sawDefine++
			i += 2
		}
	}
	if sawDefine != 2 {
		t.Fatalf("expected 2 global definitions, got %d (code=%v)", sawDefine, code)
	}
}

func TestCompileFunctionPrototype(t *testing.T) {
	prog := compile(t, `
func add(a, b) {
  return a + b
}
`)
	proto := findProto(t, prog.Main.Chunk, "add")
	if proto.NumParams != 2 {
		t.Fatalf("expected 2 params, got %d", proto.NumParams)
	}
	if proto.MaxLocals < 2 {
		t.Fatalf("expected at least 2 local slots, got %d", proto.MaxLocals)
	}
	code := proto.Chunk.Code
	want := []byte{OP_GET_LOCAL, 0, OP_GET_LOCAL, 1, OP_ADD, OP_RETURN}
	if len(code) != len(want) {
		t.Fatalf("unexpected body: %v", code)
	}
	for i, b := range want {
		if code[i] != b {
			t.Fatalf("byte %d: expected 0x%02X, got 0x%02X", i, b, code[i])
		}
	}
}

func TestCompileImplicitReturn(t *testing.T) {
	prog := compile(t, `func noop() { let x = 1 }`)
	proto := findProto(t, prog.Main.Chunk, "noop")
	code := proto.Chunk.Code
	n := len(code)
	if n < 2 || code[n-2] != OP_NIL || code[n-1] != OP_RETURN {
		t.Fatalf("expected implicit nil return, got %v", code)
	}
}

func TestCompileUpvalueCapture(t *testing.T) {
	prog := compile(t, `
func makeCounter() {
  let n = 0
  return func () {
    n = n + 1
    return n
  }
}
`)
	outer := findProto(t, prog.Main.Chunk, "makeCounter")
	inner := findProto(t, outer.Chunk, "")
	if len(inner.Upvalues) != 1 {
		t.Fatalf("expected 1 upvalue, got %v", inner.Upvalues)
	}
	if !inner.Upvalues[0].IsLocal || inner.Upvalues[0].Index != 0 {
		t.Fatalf("expected local capture of slot 0, got %+v", inner.Upvalues[0])
	}
}

func TestCompileTransitiveUpvalue(t *testing.T) {
	prog := compile(t, `
func outer(x) {
  return func () {
    return func () {
      return x
    }
  }
}
`)
	outer := findProto(t, prog.Main.Chunk, "outer")
	mid := findProto(t, outer.Chunk, "")
	if len(mid.Upvalues) != 1 || !mid.Upvalues[0].IsLocal {
		t.Fatalf("expected mid to capture the local, got %v", mid.Upvalues)
	}
	inner := findProto(t, mid.Chunk, "")
	if len(inner.Upvalues) != 1 || inner.Upvalues[0].IsLocal {
		t.Fatalf("expected inner to capture through an upvalue, got %v", inner.Upvalues)
	}
}

func TestCompileJumpTargets(t *testing.T) {
	prog := compile(t, `
if (true) {
  print 1
} else {
  print 2
}
`)
	code := prog.Main.Chunk.Code
	for i := 0; i < len(code); i++ {
		switch code[i] {
		case OP_JUMP, OP_JUMP_IF_FALSE:
			target := int(code[i+1])<<8 | int(code[i+2])
			if target == 0xffff {
				t.Fatalf("unpatched jump at %d: %v", i, code)
			}
			if target > len(code) {
				t.Fatalf("jump at %d targets %d beyond code length %d", i, target, len(code))
			}
			i += 2
		case OP_CONST, OP_GET_GLOBAL, OP_SET_GLOBAL, OP_DEFINE_GLOBAL, OP_GET_FIELD, OP_SET_FIELD:
			i += 2
		case OP_GET_LOCAL, OP_SET_LOCAL, OP_GET_UPVALUE, OP_SET_UPVALUE, OP_CALL:
			i++
		}
	}
}

func TestCompileLoopBackJump(t *testing.T) {
	prog := compile(t, `
let i = 0
loop (i < 3) {
  i = i + 1
}
`)
	code := prog.Main.Chunk.Code
	// the loop closes with an absolute jump back to the condition
	found := false
	for i := 0; i+2 < len(code); i++ {
		if code[i] == OP_JUMP {
			target := int(code[i+1])<<8 | int(code[i+2])
			if target < i {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected a backward jump, got %v", code)
	}
}

func TestCompileDuplicateDeclaration(t *testing.T) {
	ce := compileError(t, `
func f() {
  let a = 1
  let a = 2
}
`)
	if !strings.Contains(ce.Msg, "duplicate declaration") {
		t.Fatalf("unexpected message: %q", ce.Msg)
	}
}

func TestCompileShadowingInNestedBlockAllowed(t *testing.T) {
	compile(t, `
func f() {
  let a = 1
  {
    let a = 2
  }
}
`)
}

func TestCompileReturnOutsideFunction(t *testing.T) {
	ce := compileError(t, "return 1")
	if !strings.Contains(ce.Msg, "return outside function") {
		t.Fatalf("unexpected message: %q", ce.Msg)
	}
}

func TestCompileBreakOutsideLoop(t *testing.T) {
	ce := compileError(t, "break")
	if !strings.Contains(ce.Msg, "break outside loop") {
		t.Fatalf("unexpected message: %q", ce.Msg)
	}
}

func TestCompileContinueOutsideLoop(t *testing.T) {
	ce := compileError(t, "continue")
	if !strings.Contains(ce.Msg, "continue outside loop") {
		t.Fatalf("unexpected message: %q", ce.Msg)
	}
}

func TestCompileLineInfo(t *testing.T) {
	prog := compile(t, `let a = 1
let b = 2`)
	lines := prog.Main.Chunk.Lines
	if len(lines) == 0 {
		t.Fatalf("expected line info")
	}
	sawLine2 := false
	for _, info := range lines {
		if info.Line == 2 {
			sawLine2 = true
		}
	}
	if !sawLine2 {
		t.Fatalf("expected an entry for line 2, got %v", lines)
	}
}
