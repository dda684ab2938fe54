package compiler

import (
	"fmt"
	"strconv"

	"github.com/lla-lang/lla/internal/ast"
	"github.com/lla-lang/lla/internal/bytecode"
	"github.com/lla-lang/lla/internal/token"
)

// Error is a compile-time error with its source position. Compilation is
// all-or-nothing: the first error aborts and no program is produced.
type Error struct {
	Pos token.Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

func errAt(pos token.Position, format string, args ...any) error {
	return &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Compile lowers a parsed program into an executable Program. Top-level
// let and func bind globals; the value of a final top-level expression
// statement becomes the program result.
func Compile(prog *ast.Program, source string) (*bytecode.Program, error) {
	fc := newFuncCompiler(source)
	fc.isScript = true

	last := len(prog.Statements) - 1
	returned := false
	for i, stmt := range prog.Statements {
		if i == last {
			if es, ok := stmt.(*ast.ExprStmt); ok {
				fc.setLine(es.Pos().Line)
				if err := fc.compileExpr(es.Expression); err != nil {
					return nil, err
				}
				fc.emitByte(OP_RETURN)
				returned = true
				continue
			}
		}
		if err := fc.compileStmt(stmt); err != nil {
			return nil, err
		}
	}
	if !returned {
		fc.emitByte(OP_NIL)
		fc.emitByte(OP_RETURN)
	}
	if fc.err != nil {
		return nil, fc.err
	}

	main := &Prototype{
		Name:      "<main>",
		Source:    source,
		NumParams: 0,
		Chunk:     fc.chunk,
		MaxLocals: fc.scope.nextLoc,
	}
	return &bytecode.Program{Source: source, Main: main}, nil
}

type funcCompiler struct {
	chunk    *Chunk
	scope    *scope
	line     int
	source   string
	isScript bool
	consts   map[constKey]uint16
	loops    []loopInfo
	err      error
}

// constKey identifies a deduplicatable constant (prototypes are excluded).
type constKey struct {
	kind bytecode.ConstKind
	num  float64
	str  string
	b    bool
}

type loopInfo struct {
	start  int
	breaks []int
}

func newFuncCompiler(source string) *funcCompiler {
	return &funcCompiler{
		chunk:  &Chunk{},
		scope:  newScope(nil),
		source: source,
		consts: make(map[constKey]uint16),
	}
}

func newFuncCompilerWithScope(parent *scope, source string) *funcCompiler {
	fc := newFuncCompiler(source)
	fc.scope = newScope(parent)
	return fc
}

func (fc *funcCompiler) lastOp() byte {
	if len(fc.chunk.Code) == 0 {
		return OP_NOP
	}
	return fc.chunk.Code[len(fc.chunk.Code)-1]
}

// atTopLevel reports whether a declaration here binds a global.
func (fc *funcCompiler) atTopLevel() bool {
	return fc.isScript && fc.scope.depth == 0
}

func (fc *funcCompiler) compileStmt(stmt ast.Statement) error {
	fc.setLine(stmt.Pos().Line)
	switch s := stmt.(type) {
	case *ast.ExprStmt:
		if err := fc.compileExpr(s.Expression); err != nil {
			return err
		}
		fc.emitByte(OP_POP)
	case *ast.BlockStmt:
		return fc.compileBlock(s)
	case *ast.LetStmt:
		return fc.compileLet(s)
	case *ast.FuncDecl:
		return fc.compileFuncDecl(s)
	case *ast.ReturnStmt:
		if fc.isScript {
			return errAt(s.Return, "return outside function")
		}
		if s.Value != nil {
			if err := fc.compileExpr(s.Value); err != nil {
				return err
			}
		} else {
			fc.emitByte(OP_NIL)
		}
		fc.emitByte(OP_RETURN)
	case *ast.PrintStmt:
		if err := fc.compileExpr(s.Value); err != nil {
			return err
		}
		fc.emitByte(OP_PRINT)
	case *ast.IfStmt:
		return fc.compileIf(s)
	case *ast.LoopStmt:
		return fc.compileLoop(s)
	case *ast.BreakStmt:
		if len(fc.loops) == 0 {
			return errAt(s.BreakPos, "break outside loop")
		}
		pos := fc.emitJump(OP_JUMP)
		cur := &fc.loops[len(fc.loops)-1]
		cur.breaks = append(cur.breaks, pos)
	case *ast.ContinueStmt:
		if len(fc.loops) == 0 {
			return errAt(s.ContinuePos, "continue outside loop")
		}
		fc.emitLoop(fc.loops[len(fc.loops)-1].start)
	default:
		return errAt(stmt.Pos(), "unsupported statement type %T", stmt)
	}
	return nil
}

func (fc *funcCompiler) compileBlock(block *ast.BlockStmt) error {
	fc.scope.begin()
	defer fc.scope.end()
	for _, stmt := range block.Statements {
		if err := fc.compileStmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (fc *funcCompiler) compileLet(s *ast.LetStmt) error {
	if s.Value != nil {
		if err := fc.compileExpr(s.Value); err != nil {
			return err
		}
	} else {
		fc.emitByte(OP_NIL)
	}
	if fc.atTopLevel() {
		fc.emitGlobalDefine(s.Name)
		return nil
	}
	slot, err := fc.scope.declare(s.Name)
	if err != nil {
		return errAt(s.NamePos, "%s", err)
	}
	fc.emitBytes(OP_SET_LOCAL, slot)
	return nil
}

func (fc *funcCompiler) compileFuncDecl(s *ast.FuncDecl) error {
	if fc.atTopLevel() {
		if err := fc.emitClosure(s.Name, s.Params, s.Body, s.Pos()); err != nil {
			return err
		}
		fc.emitGlobalDefine(s.Name)
		return nil
	}
	// declare before compiling the body so the function can recurse
	// through an upvalue on its own slot
	slot, err := fc.scope.declare(s.Name)
	if err != nil {
		return errAt(s.NamePos, "%s", err)
	}
	if err := fc.emitClosure(s.Name, s.Params, s.Body, s.Pos()); err != nil {
		return err
	}
	fc.emitBytes(OP_SET_LOCAL, slot)
	return nil
}

func (fc *funcCompiler) compileIf(stmt *ast.IfStmt) error {
	var endJumps []int

	if err := fc.compileExpr(stmt.Condition); err != nil {
		return err
	}
	jFalse := fc.emitJump(OP_JUMP_IF_FALSE)
	if err := fc.compileBlock(stmt.Conseq); err != nil {
		return err
	}
	endJumps = append(endJumps, fc.emitJump(OP_JUMP))
	fc.patchJump(jFalse)

	for _, clause := range stmt.Elifs {
		fc.setLine(clause.Pos.Line)
		if err := fc.compileExpr(clause.Condition); err != nil {
			return err
		}
		jf := fc.emitJump(OP_JUMP_IF_FALSE)
		if err := fc.compileBlock(clause.Conseq); err != nil {
			return err
		}
		endJumps = append(endJumps, fc.emitJump(OP_JUMP))
		fc.patchJump(jf)
	}

	if stmt.Alt != nil {
		if err := fc.compileBlock(stmt.Alt); err != nil {
			return err
		}
	}
	for _, j := range endJumps {
		fc.patchJump(j)
	}
	return nil
}

func (fc *funcCompiler) compileLoop(stmt *ast.LoopStmt) error {
	loopStart := len(fc.chunk.Code)
	exitJump := -1
	if stmt.Condition != nil {
		if err := fc.compileExpr(stmt.Condition); err != nil {
			return err
		}
		exitJump = fc.emitJump(OP_JUMP_IF_FALSE)
	}

	fc.loops = append(fc.loops, loopInfo{start: loopStart})
	if err := fc.compileBlock(stmt.Body); err != nil {
		return err
	}
	fc.emitLoop(loopStart)
	loop := fc.loops[len(fc.loops)-1]
	fc.loops = fc.loops[:len(fc.loops)-1]

	if exitJump >= 0 {
		fc.patchJump(exitJump)
	}
	for _, br := range loop.breaks {
		fc.patchJump(br)
	}
	return nil
}

func (fc *funcCompiler) compileExpr(expr ast.Expression) error {
	fc.setLine(expr.Pos().Line)
	switch e := expr.(type) {
	case *ast.NumberLiteral:
		num, err := strconv.ParseFloat(e.Value, 64)
		if err != nil {
			return errAt(e.PosT, "invalid number %q", e.Value)
		}
		fc.emitConst(bytecode.NumberConst(num))
	case *ast.StringLiteral:
		fc.emitConst(bytecode.StringConst(e.Value))
	case *ast.BoolLiteral:
		if e.Value {
			fc.emitByte(OP_TRUE)
		} else {
			fc.emitByte(OP_FALSE)
		}
	case *ast.NilLiteral:
		fc.emitByte(OP_NIL)
	case *ast.ArrayLiteral:
		if len(e.Elements) > 0xffff {
			return errAt(e.PosT, "array literal too large")
		}
		for _, el := range e.Elements {
			if err := fc.compileExpr(el); err != nil {
				return err
			}
		}
		fc.emitBytes(OP_ARRAY, byte(len(e.Elements)>>8), byte(len(e.Elements)))
	case *ast.RecordLiteral:
		if len(e.Fields) > 0xffff {
			return errAt(e.PosT, "record literal too large")
		}
		for _, f := range e.Fields {
			fc.emitConst(bytecode.StringConst(f.Key))
			if err := fc.compileExpr(f.Value); err != nil {
				return err
			}
		}
		fc.emitBytes(OP_RECORD, byte(len(e.Fields)>>8), byte(len(e.Fields)))
	case *ast.Identifier:
		if slot, ok := fc.scope.resolveLocal(e.Name); ok {
			fc.emitBytes(OP_GET_LOCAL, slot)
		} else if up, ok := fc.scope.resolveUpvalue(e.Name); ok {
			fc.emitBytes(OP_GET_UPVALUE, up.Index)
		} else {
			fc.emitGlobalGet(e.Name)
		}
	case *ast.UnaryExpr:
		if err := fc.compileExpr(e.Right); err != nil {
			return err
		}
		switch e.Operator {
		case token.Minus:
			fc.emitByte(OP_NEG)
		case token.Bang:
			fc.emitByte(OP_NOT)
		default:
			return errAt(e.PosT, "unsupported unary op %s", e.Operator)
		}
	case *ast.BinaryExpr:
		if e.Operator == token.And || e.Operator == token.Or {
			return fc.compileLogical(e)
		}
		if err := fc.compileExpr(e.Left); err != nil {
			return err
		}
		if err := fc.compileExpr(e.Right); err != nil {
			return err
		}
		switch e.Operator {
		case token.Plus:
			fc.emitByte(OP_ADD)
		case token.Minus:
			fc.emitByte(OP_SUB)
		case token.Star:
			fc.emitByte(OP_MUL)
		case token.Slash:
			fc.emitByte(OP_DIV)
		case token.Percent:
			fc.emitByte(OP_MOD)
		case token.Equal:
			fc.emitByte(OP_EQ)
		case token.NotEqual:
			fc.emitByte(OP_NEQ)
		case token.Less:
			fc.emitByte(OP_LT)
		case token.LessEqual:
			fc.emitByte(OP_LTE)
		case token.Greater:
			fc.emitByte(OP_GT)
		case token.GreaterEqual:
			fc.emitByte(OP_GTE)
		default:
			return errAt(e.PosT, "unsupported binary op %s", e.Operator)
		}
	case *ast.AssignExpr:
		return fc.compileAssign(e)
	case *ast.CallExpr:
		if len(e.Arguments) > 255 {
			return errAt(e.PosT, "too many call arguments")
		}
		if err := fc.compileExpr(e.Callee); err != nil {
			return err
		}
		for _, arg := range e.Arguments {
			if err := fc.compileExpr(arg); err != nil {
				return err
			}
		}
		fc.emitBytes(OP_CALL, byte(len(e.Arguments)))
	case *ast.FieldExpr:
		if err := fc.compileExpr(e.Left); err != nil {
			return err
		}
		idx := fc.addConst(bytecode.StringConst(e.Field))
		fc.emitBytes(OP_GET_FIELD, byte(idx>>8), byte(idx))
	case *ast.IndexExpr:
		if err := fc.compileExpr(e.Left); err != nil {
			return err
		}
		if err := fc.compileExpr(e.Index); err != nil {
			return err
		}
		fc.emitByte(OP_INDEX_GET)
	case *ast.FuncExpr:
		return fc.emitClosure("", e.Params, e.Body, e.FuncPos)
	default:
		return errAt(expr.Pos(), "unsupported expression type %T", expr)
	}
	return nil
}

// compileLogical lowers and/or with jumps. Every evaluated operand passes
// through a conditional jump, which enforces the boolean requirement on
// both sides; the result is re-materialized as a literal.
func (fc *funcCompiler) compileLogical(e *ast.BinaryExpr) error {
	if err := fc.compileExpr(e.Left); err != nil {
		return err
	}
	switch e.Operator {
	case token.And:
		jLeft := fc.emitJump(OP_JUMP_IF_FALSE)
		if err := fc.compileExpr(e.Right); err != nil {
			return err
		}
		jRight := fc.emitJump(OP_JUMP_IF_FALSE)
		fc.emitByte(OP_TRUE)
		jEnd := fc.emitJump(OP_JUMP)
		fc.patchJump(jLeft)
		fc.patchJump(jRight)
		fc.emitByte(OP_FALSE)
		fc.patchJump(jEnd)
	case token.Or:
		jRight := fc.emitJump(OP_JUMP_IF_FALSE)
		fc.emitByte(OP_TRUE)
		jEndLeft := fc.emitJump(OP_JUMP)
		fc.patchJump(jRight)
		if err := fc.compileExpr(e.Right); err != nil {
			return err
		}
		jFalse := fc.emitJump(OP_JUMP_IF_FALSE)
		fc.emitByte(OP_TRUE)
		jEndRight := fc.emitJump(OP_JUMP)
		fc.patchJump(jFalse)
		fc.emitByte(OP_FALSE)
		fc.patchJump(jEndLeft)
		fc.patchJump(jEndRight)
	default:
		return errAt(e.PosT, "unsupported logical op %s", e.Operator)
	}
	return nil
}

// compileAssign leaves the assigned value on the stack; assignment is an
// expression.
func (fc *funcCompiler) compileAssign(e *ast.AssignExpr) error {
	switch lhs := e.Left.(type) {
	case *ast.Identifier:
		if err := fc.compileExpr(e.Value); err != nil {
			return err
		}
		fc.emitByte(OP_DUP)
		if slot, ok := fc.scope.resolveLocal(lhs.Name); ok {
			fc.emitBytes(OP_SET_LOCAL, slot)
		} else if up, ok := fc.scope.resolveUpvalue(lhs.Name); ok {
			fc.emitBytes(OP_SET_UPVALUE, up.Index)
		} else {
			fc.emitGlobalSet(lhs.Name)
		}
	case *ast.FieldExpr:
		if err := fc.compileExpr(lhs.Left); err != nil {
			return err
		}
		idx := fc.addConst(bytecode.StringConst(lhs.Field))
		if err := fc.compileExpr(e.Value); err != nil {
			return err
		}
		fc.emitBytes(OP_SET_FIELD, byte(idx>>8), byte(idx))
	case *ast.IndexExpr:
		if err := fc.compileExpr(lhs.Left); err != nil {
			return err
		}
		if err := fc.compileExpr(lhs.Index); err != nil {
			return err
		}
		if err := fc.compileExpr(e.Value); err != nil {
			return err
		}
		fc.emitByte(OP_INDEX_SET)
	default:
		return errAt(e.PosT, "invalid assignment target %T", e.Left)
	}
	return nil
}

// emitClosure compiles a nested function and emits the closure
// instruction with its capture descriptors.
func (fc *funcCompiler) emitClosure(name string, params []ast.Param, body *ast.BlockStmt, pos token.Position) error {
	proto, err := fc.compilePrototype(name, params, body, pos)
	if err != nil {
		return err
	}
	idx := fc.addConst(bytecode.ProtoConst(proto))
	fc.emitBytes(OP_CLOSURE, byte(idx>>8), byte(idx), byte(len(proto.Upvalues)))
	for _, uv := range proto.Upvalues {
		isLocal := byte(0)
		if uv.IsLocal {
			isLocal = 1
		}
		fc.emitBytes(isLocal, uv.Index)
	}
	return nil
}

func (fc *funcCompiler) compilePrototype(name string, params []ast.Param, body *ast.BlockStmt, pos token.Position) (*Prototype, error) {
	if len(params) > 255 {
		return nil, errAt(pos, "too many parameters")
	}
	child := newFuncCompilerWithScope(fc.scope, fc.source)
	for _, p := range params {
		if _, err := child.scope.declare(p.Name); err != nil {
			return nil, errAt(p.Pos, "%s", err)
		}
	}
	if err := child.compileBlock(body); err != nil {
		return nil, err
	}
	if len(body.Statements) == 0 || child.lastOp() != OP_RETURN {
		child.emitByte(OP_NIL)
		child.emitByte(OP_RETURN)
	}
	if child.err != nil {
		return nil, child.err
	}
	return &Prototype{
		Name:      name,
		Source:    fc.source,
		NumParams: len(params),
		Chunk:     child.chunk,
		Upvalues:  child.scope.upvalues,
		MaxLocals: child.scope.nextLoc,
	}, nil
}

func (fc *funcCompiler) emitConst(c Const) {
	idx := fc.addConst(c)
	fc.emitBytes(OP_CONST, byte(idx>>8), byte(idx))
}

// addConst appends to the constant pool, deduplicating everything except
// prototypes.
func (fc *funcCompiler) addConst(c Const) uint16 {
	if c.Kind != bytecode.ConstProto {
		key := constKey{kind: c.Kind, num: c.Num, str: c.Str, b: c.B}
		if idx, ok := fc.consts[key]; ok {
			return idx
		}
		idx := fc.appendConst(c)
		fc.consts[key] = idx
		return idx
	}
	return fc.appendConst(c)
}

func (fc *funcCompiler) appendConst(c Const) uint16 {
	if len(fc.chunk.Consts) > 0xffff && fc.err == nil {
		fc.err = errAt(token.Position{Line: fc.line}, "too many constants")
	}
	fc.chunk.Consts = append(fc.chunk.Consts, c)
	return uint16(len(fc.chunk.Consts) - 1)
}

func (fc *funcCompiler) emitGlobalGet(name string) {
	idx := fc.addConst(bytecode.StringConst(name))
	fc.emitBytes(OP_GET_GLOBAL, byte(idx>>8), byte(idx))
}

func (fc *funcCompiler) emitGlobalSet(name string) {
	idx := fc.addConst(bytecode.StringConst(name))
	fc.emitBytes(OP_SET_GLOBAL, byte(idx>>8), byte(idx))
}

func (fc *funcCompiler) emitGlobalDefine(name string) {
	idx := fc.addConst(bytecode.StringConst(name))
	fc.emitBytes(OP_DEFINE_GLOBAL, byte(idx>>8), byte(idx))
}

func (fc *funcCompiler) emitByte(b byte) {
	fc.recordLine()
	fc.chunk.Code = append(fc.chunk.Code, b)
}

func (fc *funcCompiler) emitBytes(b ...byte) {
	fc.recordLine()
	fc.chunk.Code = append(fc.chunk.Code, b...)
}

func (fc *funcCompiler) emitJump(op byte) int {
	fc.emitByte(op)
	// placeholder for u16
	fc.emitByte(0xff)
	fc.emitByte(0xff)
	return len(fc.chunk.Code) - 2
}

func (fc *funcCompiler) patchJump(pos int) {
	offset := len(fc.chunk.Code)
	if offset > 0xffff && fc.err == nil {
		fc.err = errAt(token.Position{Line: fc.line}, "jump too large")
	}
	fc.chunk.Code[pos] = byte(offset >> 8)
	fc.chunk.Code[pos+1] = byte(offset)
}

func (fc *funcCompiler) emitLoop(start int) {
	fc.emitByte(OP_JUMP)
	fc.emitByte(byte(start >> 8))
	fc.emitByte(byte(start))
}

func (fc *funcCompiler) setLine(line int) {
	if line > 0 {
		fc.line = line
	}
}

func (fc *funcCompiler) recordLine() {
	if fc.line == 0 {
		return
	}
	off := len(fc.chunk.Code)
	if len(fc.chunk.Lines) == 0 || fc.chunk.Lines[len(fc.chunk.Lines)-1].Offset != off {
		fc.chunk.Lines = append(fc.chunk.Lines, LineInfo{Offset: off, Line: fc.line})
	}
}
