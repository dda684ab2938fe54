package ast

import "github.com/lla-lang/lla/internal/token"

// Node represents any AST node.
type Node interface {
	Pos() token.Position
	Span() token.Span
}

// Statement is an executable node.
type Statement interface {
	Node
	stmtNode()
}

// Expression produces a value.
type Expression interface {
	Node
	exprNode()
}

// Program is the root node.
type Program struct {
	Statements []Statement
	NodeSpan   token.Span
}

func (p *Program) Pos() token.Position {
	if len(p.Statements) == 0 {
		return token.Position{}
	}
	return p.Statements[0].Pos()
}
func (p *Program) Span() token.Span { return p.NodeSpan }

// Statements

type BlockStmt struct {
	LBrace     token.Position
	Statements []Statement
	BlockSpan  token.Span
}

func (b *BlockStmt) Pos() token.Position { return b.LBrace }
func (b *BlockStmt) Span() token.Span    { return b.BlockSpan }
func (b *BlockStmt) stmtNode()           {}

type ExprStmt struct {
	Expression Expression
	Start      token.Position
	StmtSpan   token.Span
}

func (e *ExprStmt) Pos() token.Position { return e.Start }
func (e *ExprStmt) Span() token.Span    { return e.StmtSpan }
func (e *ExprStmt) stmtNode()           {}

// LetStmt declares a binding. Value is nil when the declaration has no
// initializer.
type LetStmt struct {
	LetPos   token.Position
	Name     string
	NamePos  token.Position
	Value    Expression
	StmtSpan token.Span
}

func (l *LetStmt) Pos() token.Position { return l.LetPos }
func (l *LetStmt) Span() token.Span    { return l.StmtSpan }
func (l *LetStmt) stmtNode()           {}

type ReturnStmt struct {
	Return   token.Position
	Value    Expression
	StmtSpan token.Span
}

func (r *ReturnStmt) Pos() token.Position { return r.Return }
func (r *ReturnStmt) Span() token.Span    { return r.StmtSpan }
func (r *ReturnStmt) stmtNode()           {}

type PrintStmt struct {
	PrintPos token.Position
	Value    Expression
	StmtSpan token.Span
}

func (p *PrintStmt) Pos() token.Position { return p.PrintPos }
func (p *PrintStmt) Span() token.Span    { return p.StmtSpan }
func (p *PrintStmt) stmtNode()           {}

type IfStmt struct {
	IfPos     token.Position
	Condition Expression
	Conseq    *BlockStmt
	Elifs     []ElifClause
	Alt       *BlockStmt
	IfSpan    token.Span
}

func (i *IfStmt) Pos() token.Position { return i.IfPos }
func (i *IfStmt) Span() token.Span    { return i.IfSpan }
func (i *IfStmt) stmtNode()           {}

type ElifClause struct {
	Condition Expression
	Conseq    *BlockStmt
	Pos       token.Position
	Span      token.Span
}

// LoopStmt repeats its body. Condition is nil for an infinite loop;
// otherwise it is tested before each iteration.
type LoopStmt struct {
	LoopPos   token.Position
	Condition Expression
	Body      *BlockStmt
	NodeSpan  token.Span
}

func (l *LoopStmt) Pos() token.Position { return l.LoopPos }
func (l *LoopStmt) Span() token.Span    { return l.NodeSpan }
func (l *LoopStmt) stmtNode()           {}

type BreakStmt struct {
	BreakPos token.Position
	StmtSpan token.Span
}

func (b *BreakStmt) Pos() token.Position { return b.BreakPos }
func (b *BreakStmt) Span() token.Span    { return b.StmtSpan }
func (b *BreakStmt) stmtNode()           {}

type ContinueStmt struct {
	ContinuePos token.Position
	StmtSpan    token.Span
}

func (c *ContinueStmt) Pos() token.Position { return c.ContinuePos }
func (c *ContinueStmt) Span() token.Span    { return c.StmtSpan }
func (c *ContinueStmt) stmtNode()           {}

type FuncDecl struct {
	FuncPos  token.Position
	Name     string
	NamePos  token.Position
	Params   []Param
	Body     *BlockStmt
	NodeSpan token.Span
}

func (f *FuncDecl) Pos() token.Position { return f.FuncPos }
func (f *FuncDecl) Span() token.Span    { return f.NodeSpan }
func (f *FuncDecl) stmtNode()           {}

// Expressions

type Identifier struct {
	Name string
	PosT token.Position
	Sp   token.Span
}

func (i *Identifier) Pos() token.Position { return i.PosT }
func (i *Identifier) Span() token.Span    { return i.Sp }
func (i *Identifier) exprNode()           {}

type NumberLiteral struct {
	Value string
	PosT  token.Position
	Sp    token.Span
}

func (n *NumberLiteral) Pos() token.Position { return n.PosT }
func (n *NumberLiteral) Span() token.Span    { return n.Sp }
func (n *NumberLiteral) exprNode()           {}

type StringLiteral struct {
	Value string
	PosT  token.Position
	Sp    token.Span
}

func (s *StringLiteral) Pos() token.Position { return s.PosT }
func (s *StringLiteral) Span() token.Span    { return s.Sp }
func (s *StringLiteral) exprNode()           {}

type BoolLiteral struct {
	Value bool
	PosT  token.Position
	Sp    token.Span
}

func (b *BoolLiteral) Pos() token.Position { return b.PosT }
func (b *BoolLiteral) Span() token.Span    { return b.Sp }
func (b *BoolLiteral) exprNode()           {}

type NilLiteral struct {
	PosT token.Position
	Sp   token.Span
}

func (n *NilLiteral) Pos() token.Position { return n.PosT }
func (n *NilLiteral) Span() token.Span    { return n.Sp }
func (n *NilLiteral) exprNode()           {}

type ArrayLiteral struct {
	Elements []Expression
	PosT     token.Position
	Sp       token.Span
}

func (a *ArrayLiteral) Pos() token.Position { return a.PosT }
func (a *ArrayLiteral) Span() token.Span    { return a.Sp }
func (a *ArrayLiteral) exprNode()           {}

type RecordLiteral struct {
	Fields []RecordField
	PosT   token.Position
	Sp     token.Span
}

func (r *RecordLiteral) Pos() token.Position { return r.PosT }
func (r *RecordLiteral) Span() token.Span    { return r.Sp }
func (r *RecordLiteral) exprNode()           {}

// RecordField is a key/value pair; keys are identifiers or string literals
// and are resolved to plain strings at parse time.
type RecordField struct {
	Key    string
	KeyPos token.Position
	Value  Expression
}

type IndexExpr struct {
	Left  Expression
	Index Expression
	PosT  token.Position
	Sp    token.Span
}

func (i *IndexExpr) Pos() token.Position { return i.PosT }
func (i *IndexExpr) Span() token.Span    { return i.Sp }
func (i *IndexExpr) exprNode()           {}

type FieldExpr struct {
	Left  Expression
	Field string
	PosT  token.Position
	Sp    token.Span
}

func (f *FieldExpr) Pos() token.Position { return f.PosT }
func (f *FieldExpr) Span() token.Span    { return f.Sp }
func (f *FieldExpr) exprNode()           {}

type CallExpr struct {
	Callee    Expression
	Arguments []Expression
	PosT      token.Position
	Sp        token.Span
}

func (c *CallExpr) Pos() token.Position { return c.PosT }
func (c *CallExpr) Span() token.Span    { return c.Sp }
func (c *CallExpr) exprNode()           {}

type AssignExpr struct {
	Left  Expression
	Value Expression
	PosT  token.Position
	Sp    token.Span
}

func (a *AssignExpr) Pos() token.Position { return a.PosT }
func (a *AssignExpr) Span() token.Span    { return a.Sp }
func (a *AssignExpr) exprNode()           {}

type BinaryExpr struct {
	Left     Expression
	Operator token.Type
	Right    Expression
	PosT     token.Position
	Sp       token.Span
}

func (b *BinaryExpr) Pos() token.Position { return b.PosT }
func (b *BinaryExpr) Span() token.Span    { return b.Sp }
func (b *BinaryExpr) exprNode()           {}

type UnaryExpr struct {
	Operator token.Type
	Right    Expression
	PosT     token.Position
	Sp       token.Span
}

func (u *UnaryExpr) Pos() token.Position { return u.PosT }
func (u *UnaryExpr) Span() token.Span    { return u.Sp }
func (u *UnaryExpr) exprNode()           {}

type FuncExpr struct {
	FuncPos token.Position
	Params  []Param
	Body    *BlockStmt
	Sp      token.Span
}

func (f *FuncExpr) Pos() token.Position { return f.FuncPos }
func (f *FuncExpr) Span() token.Span    { return f.Sp }
func (f *FuncExpr) exprNode()           {}

type Param struct {
	Name string
	Pos  token.Position
	Sp   token.Span
}
