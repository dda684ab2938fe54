package parser

import (
	"fmt"

	"github.com/lla-lang/lla/internal/ast"
	"github.com/lla-lang/lla/internal/lexer"
	"github.com/lla-lang/lla/internal/token"
)

// Error is a syntax error at a specific source position. Parsing stops at
// the first error; Expected/Found are set when a specific token was required.
type Error struct {
	Pos      token.Position
	Expected token.Type
	Found    token.Type
	Msg      string
}

func (e *Error) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("%d:%d: expected %s, found %s", e.Pos.Line, e.Pos.Column, e.Expected, e.Found)
	}
	return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

type Parser struct {
	l         *lexer.Lexer
	curToken  token.Token
	peekToken token.Token
	prevToken token.Token
	err       error
}

func New(l *lexer.Lexer) *Parser {
	p := &Parser{l: l}
	// Read two tokens, so curToken and peekToken are set
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.prevToken = p.curToken
	p.curToken = p.peekToken
	tok, err := p.l.NextToken()
	if err != nil {
		if p.err == nil {
			p.err = err
		}
		tok = token.Token{Type: token.EOF, Pos: p.curToken.Pos}
	}
	p.peekToken = tok
}

func (p *Parser) failed() bool { return p.err != nil }

// ParseProgram consumes the whole token stream. The returned error is the
// first lexical or syntax error encountered; the program is nil on failure.
func (p *Parser) ParseProgram() (*ast.Program, error) {
	prog := &ast.Program{}

	for p.curToken.Type != token.EOF && !p.failed() {
		p.skipNewlines()
		if p.curToken.Type == token.EOF {
			break
		}
		stmt := p.parseStatement()
		if p.failed() {
			break
		}
		if stmt != nil {
			prog.Statements = append(prog.Statements, stmt)
		}
		p.skipNewlines()
	}
	if p.err != nil {
		return nil, p.err
	}
	if len(prog.Statements) > 0 {
		prog.NodeSpan = token.Span{Start: prog.Statements[0].Span().Start, End: prog.Statements[len(prog.Statements)-1].Span().End}
	}
	return prog, nil
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.curToken.Type {
	case token.Let:
		return p.parseLet()
	case token.Func:
		return p.parseFuncDecl()
	case token.Return:
		return p.parseReturn()
	case token.Print:
		return p.parsePrint()
	case token.If:
		return p.parseIf()
	case token.Loop:
		return p.parseLoop()
	case token.Break:
		stmt := &ast.BreakStmt{BreakPos: p.curToken.Pos, StmtSpan: token.Span{Start: p.curToken.Pos, End: p.curToken.Pos}}
		p.nextToken()
		return stmt
	case token.Continue:
		stmt := &ast.ContinueStmt{ContinuePos: p.curToken.Pos, StmtSpan: token.Span{Start: p.curToken.Pos, End: p.curToken.Pos}}
		p.nextToken()
		return stmt
	case token.LBrace:
		return p.parseBlock()
	default:
		return p.parseExprStatement()
	}
}

func (p *Parser) parseBlock() ast.Statement {
	block := p.parseBraceBlock()
	if block == nil {
		return nil
	}
	p.nextToken() // move past '}'
	return block
}

// parseBraceBlock parses a brace-delimited statement list and leaves
// curToken on the closing '}', like every expression primary. Statement
// contexts consume the brace themselves.
func (p *Parser) parseBraceBlock() *ast.BlockStmt {
	block := &ast.BlockStmt{LBrace: p.curToken.Pos}
	if p.curToken.Type != token.LBrace {
		p.expectedError(token.LBrace, p.curToken)
		return nil
	}
	p.nextToken()
	p.skipNewlines()
	for p.curToken.Type != token.RBrace && p.curToken.Type != token.EOF && !p.failed() {
		stmt := p.parseStatement()
		if p.failed() {
			return nil
		}
		if stmt != nil {
			block.Statements = append(block.Statements, stmt)
		}
		p.skipNewlines()
	}
	if p.curToken.Type != token.RBrace {
		p.expectedError(token.RBrace, p.curToken)
		return nil
	}
	block.BlockSpan = token.Span{Start: block.LBrace, End: p.curToken.Pos}
	return block
}

func (p *Parser) parseLet() ast.Statement {
	stmt := &ast.LetStmt{LetPos: p.curToken.Pos}
	if !p.expectPeek(token.Ident) {
		return nil
	}
	p.nextToken()
	stmt.Name = p.curToken.Literal
	stmt.NamePos = p.curToken.Pos
	end := p.curToken.Pos

	if p.peekToken.Type == token.Assign {
		p.nextToken() // move to '='
		p.nextToken() // move to value start
		stmt.Value = p.parseExpression(lowest)
		if stmt.Value == nil {
			return nil
		}
		end = stmt.Value.Span().End
	}
	stmt.StmtSpan = token.Span{Start: stmt.LetPos, End: end}
	if p.curToken.Type != token.EOF {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseReturn() ast.Statement {
	ret := &ast.ReturnStmt{Return: p.curToken.Pos}
	if !p.isEndOfStatement(p.peekToken.Type) {
		p.nextToken()
		ret.Value = p.parseExpression(lowest)
		if ret.Value == nil {
			return nil
		}
	}
	end := ret.Return
	if ret.Value != nil {
		end = ret.Value.Span().End
	}
	ret.StmtSpan = token.Span{Start: ret.Return, End: end}
	if p.curToken.Type != token.EOF {
		p.nextToken()
	}
	return ret
}

func (p *Parser) parsePrint() ast.Statement {
	stmt := &ast.PrintStmt{PrintPos: p.curToken.Pos}
	p.nextToken()
	stmt.Value = p.parseExpression(lowest)
	if stmt.Value == nil {
		return nil
	}
	stmt.StmtSpan = token.Span{Start: stmt.PrintPos, End: stmt.Value.Span().End}
	if p.curToken.Type != token.EOF {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseIf() ast.Statement {
	stmt := &ast.IfStmt{IfPos: p.curToken.Pos}
	stmt.Condition = p.parseParenCondition()
	if stmt.Condition == nil {
		return nil
	}
	stmt.Conseq = p.parseClauseBlock()
	if stmt.Conseq == nil {
		return nil
	}

	p.skipNewlines()
	for p.curToken.Type == token.Elif {
		clause := ast.ElifClause{Pos: p.curToken.Pos}
		clause.Condition = p.parseParenCondition()
		if clause.Condition == nil {
			return nil
		}
		clause.Conseq = p.parseClauseBlock()
		if clause.Conseq == nil {
			return nil
		}
		clause.Span = token.Span{Start: clause.Pos, End: clause.Conseq.Span().End}
		stmt.Elifs = append(stmt.Elifs, clause)
		p.skipNewlines()
	}

	if p.curToken.Type == token.Else {
		p.nextToken()
		p.skipNewlines()
		stmt.Alt = p.parseClauseBlock()
		if stmt.Alt == nil {
			return nil
		}
	}
	end := stmt.Conseq.Span().End
	if stmt.Alt != nil {
		end = stmt.Alt.Span().End
	} else if len(stmt.Elifs) > 0 {
		end = stmt.Elifs[len(stmt.Elifs)-1].Span.End
	}
	stmt.IfSpan = token.Span{Start: stmt.IfPos, End: end}
	return stmt
}

func (p *Parser) parseLoop() ast.Statement {
	stmt := &ast.LoopStmt{LoopPos: p.curToken.Pos}
	if p.peekToken.Type == token.LParen {
		stmt.Condition = p.parseParenCondition()
		if stmt.Condition == nil {
			return nil
		}
	} else {
		p.nextToken()
	}
	body := p.parseClauseBlock()
	if body == nil {
		return nil
	}
	stmt.Body = body
	stmt.NodeSpan = token.Span{Start: stmt.LoopPos, End: stmt.Body.Span().End}
	return stmt
}

// parseParenCondition consumes a parenthesized condition following the
// keyword under curToken and leaves curToken past the ')'.
func (p *Parser) parseParenCondition() ast.Expression {
	if !p.expectPeek(token.LParen) {
		return nil
	}
	p.nextToken() // move to '('
	p.nextToken() // move to condition start
	cond := p.parseExpression(lowest)
	if cond == nil {
		return nil
	}
	if !p.expectPeek(token.RParen) {
		return nil
	}
	p.nextToken() // move to ')'
	p.nextToken() // move past ')'
	return cond
}

// parseClauseBlock skips newlines before a brace-delimited clause body and
// consumes past the closing '}'.
func (p *Parser) parseClauseBlock() *ast.BlockStmt {
	p.skipNewlines()
	if p.curToken.Type != token.LBrace {
		p.expectedError(token.LBrace, p.curToken)
		return nil
	}
	body := p.parseBraceBlock()
	if body == nil {
		return nil
	}
	p.nextToken() // move past '}'
	return body
}

func (p *Parser) parseFuncDecl() ast.Statement {
	decl := &ast.FuncDecl{FuncPos: p.curToken.Pos}
	if !p.expectPeek(token.Ident) {
		return nil
	}
	p.nextToken()
	decl.Name = p.curToken.Literal
	decl.NamePos = p.curToken.Pos
	if !p.expectPeek(token.LParen) {
		return nil
	}
	p.nextToken() // move to '('
	p.nextToken() // move to first param or ')'
	decl.Params = p.parseParamList()
	if p.failed() {
		return nil
	}
	p.nextToken() // move past ')'
	p.skipNewlines()
	body := p.parseClauseBlock()
	if body == nil {
		return nil
	}
	decl.Body = body
	decl.NodeSpan = token.Span{Start: decl.FuncPos, End: body.Span().End}
	return decl
}

func (p *Parser) parseExprStatement() ast.Statement {
	stmt := &ast.ExprStmt{Start: p.curToken.Pos}
	stmt.Expression = p.parseExpression(lowest)
	if stmt.Expression == nil {
		return nil
	}
	stmt.StmtSpan = token.Span{Start: stmt.Start, End: stmt.Expression.Span().End}
	// move past the end of the expression to allow outer loop to progress
	if p.curToken.Type != token.EOF {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseExpression(precedence int) ast.Expression {
	var left ast.Expression

	switch p.curToken.Type {
	case token.Ident:
		left = &ast.Identifier{Name: p.curToken.Literal, PosT: p.curToken.Pos, Sp: token.Span{Start: p.curToken.Pos, End: p.curToken.Pos}}
	case token.Number:
		left = &ast.NumberLiteral{Value: p.curToken.Literal, PosT: p.curToken.Pos, Sp: token.Span{Start: p.curToken.Pos, End: p.curToken.Pos}}
	case token.String:
		left = &ast.StringLiteral{Value: p.curToken.Literal, PosT: p.curToken.Pos, Sp: token.Span{Start: p.curToken.Pos, End: p.curToken.Pos}}
	case token.True:
		left = &ast.BoolLiteral{Value: true, PosT: p.curToken.Pos, Sp: token.Span{Start: p.curToken.Pos, End: p.curToken.Pos}}
	case token.False:
		left = &ast.BoolLiteral{Value: false, PosT: p.curToken.Pos, Sp: token.Span{Start: p.curToken.Pos, End: p.curToken.Pos}}
	case token.Nil:
		left = &ast.NilLiteral{PosT: p.curToken.Pos, Sp: token.Span{Start: p.curToken.Pos, End: p.curToken.Pos}}
	case token.Func:
		left = p.parseFuncExpr()
	case token.LParen:
		p.nextToken()
		left = p.parseExpression(lowest)
		if left == nil {
			return nil
		}
		if !p.expectPeek(token.RParen) {
			return nil
		}
		p.nextToken()
	case token.LBracket:
		left = p.parseArrayLiteral()
	case token.LBrace:
		left = p.parseRecordLiteral()
	case token.Bang, token.Minus:
		left = p.parsePrefixExpression()
	default:
		p.errorf(p.curToken.Pos, "unexpected token %s", p.curToken.Type)
		return nil
	}

	if left == nil {
		return nil
	}

	for !p.isEndOfExpression(p.peekToken.Type) && precedence < p.peekPrecedence() && !p.failed() {
		op := p.peekToken.Type
		p.nextToken()
		switch op {
		case token.Assign:
			left = p.parseAssignExpression(left)
		case token.Plus, token.Minus, token.Star, token.Slash, token.Percent,
			token.Equal, token.NotEqual,
			token.Less, token.LessEqual, token.Greater, token.GreaterEqual,
			token.And, token.Or:
			left = p.parseInfixExpression(left)
		case token.LParen:
			left = p.parseCallExpression(left)
		case token.Dot:
			left = p.parseFieldExpression(left)
		case token.LBracket:
			left = p.parseIndexExpression(left)
		default:
			return left
		}
		if left == nil {
			return nil
		}
	}

	return left
}

func (p *Parser) parsePrefixExpression() ast.Expression {
	expr := &ast.UnaryExpr{
		Operator: p.curToken.Type,
		PosT:     p.curToken.Pos,
	}
	p.nextToken()
	expr.Right = p.parseExpression(prefixPrecedence)
	if expr.Right == nil {
		return nil
	}
	expr.Sp = token.Span{Start: expr.PosT, End: expr.Right.Span().End}
	return expr
}

func (p *Parser) parseInfixExpression(left ast.Expression) ast.Expression {
	expr := &ast.BinaryExpr{
		Left:     left,
		Operator: p.curToken.Type,
		PosT:     p.curToken.Pos,
	}
	precedence := p.curPrecedence()
	p.nextToken()
	expr.Right = p.parseExpression(precedence)
	if expr.Right == nil {
		return nil
	}
	expr.Sp = token.Span{Start: left.Span().Start, End: expr.Right.Span().End}
	return expr
}

func (p *Parser) parseAssignExpression(left ast.Expression) ast.Expression {
	switch left.(type) {
	case *ast.Identifier, *ast.IndexExpr, *ast.FieldExpr:
	default:
		p.errorf(left.Pos(), "invalid assignment target")
		return nil
	}
	expr := &ast.AssignExpr{
		Left: left,
		PosT: p.curToken.Pos,
	}
	p.nextToken()
	// right-associative: parse at one below assignment precedence
	expr.Value = p.parseExpression(assignPrecedence - 1)
	if expr.Value == nil {
		return nil
	}
	expr.Sp = token.Span{Start: left.Span().Start, End: expr.Value.Span().End}
	return expr
}

func (p *Parser) parseCallExpression(callee ast.Expression) ast.Expression {
	expr := &ast.CallExpr{
		Callee: callee,
		PosT:   p.curToken.Pos,
	}
	p.nextToken()
	expr.Arguments = p.parseExpressionList(token.RParen)
	if p.failed() {
		return nil
	}
	end := expr.PosT
	if p.curToken.Type == token.RParen {
		end = p.curToken.Pos
	} else if len(expr.Arguments) > 0 {
		end = expr.Arguments[len(expr.Arguments)-1].Span().End
	}
	expr.Sp = token.Span{Start: callee.Span().Start, End: end}
	return expr
}

func (p *Parser) parseFieldExpression(left ast.Expression) ast.Expression {
	pos := p.curToken.Pos
	if !p.expectPeek(token.Ident) {
		return nil
	}
	p.nextToken()
	return &ast.FieldExpr{
		Left:  left,
		Field: p.curToken.Literal,
		PosT:  pos,
		Sp:    token.Span{Start: left.Span().Start, End: p.curToken.Pos},
	}
}

func (p *Parser) parseIndexExpression(left ast.Expression) ast.Expression {
	pos := p.curToken.Pos
	p.nextToken()
	index := p.parseExpression(lowest)
	if index == nil {
		return nil
	}
	if !p.expectPeek(token.RBracket) {
		return nil
	}
	p.nextToken()
	return &ast.IndexExpr{
		Left:  left,
		Index: index,
		PosT:  pos,
		Sp:    token.Span{Start: left.Span().Start, End: p.curToken.Pos},
	}
}

func (p *Parser) parseArrayLiteral() ast.Expression {
	startPos := p.curToken.Pos
	p.nextToken()
	if p.curToken.Type == token.RBracket {
		arr := &ast.ArrayLiteral{PosT: startPos, Sp: token.Span{Start: startPos, End: p.curToken.Pos}}
		return arr
	}

	elements := p.parseExpressionList(token.RBracket)
	if p.failed() {
		return nil
	}
	return &ast.ArrayLiteral{Elements: elements, PosT: startPos, Sp: token.Span{Start: startPos, End: p.curToken.Pos}}
}

func (p *Parser) parseRecordLiteral() ast.Expression {
	rec := &ast.RecordLiteral{PosT: p.curToken.Pos}
	p.nextToken()
	p.skipNewlines()
	if p.curToken.Type == token.RBrace {
		rec.Sp = token.Span{Start: rec.PosT, End: p.curToken.Pos}
		return rec
	}
	for {
		p.skipNewlines()
		field := ast.RecordField{}
		switch p.curToken.Type {
		case token.Ident, token.String:
			field.Key = p.curToken.Literal
			field.KeyPos = p.curToken.Pos
		default:
			p.errorf(p.curToken.Pos, "invalid record key %s", p.curToken.Type)
			return nil
		}
		if !p.expectPeek(token.Colon) {
			return nil
		}
		p.nextToken() // move to ':'
		p.nextToken() // move to value start
		field.Value = p.parseExpression(lowest)
		if field.Value == nil {
			return nil
		}
		rec.Fields = append(rec.Fields, field)
		p.skipPeekNewlines()
		if p.peekToken.Type == token.RBrace {
			p.nextToken()
			break
		}
		if !p.expectPeek(token.Comma) {
			return nil
		}
		p.nextToken() // move to ','
		p.skipPeekNewlines()
		p.nextToken() // move to next key or '}'
		p.skipNewlines()
		if p.curToken.Type == token.RBrace {
			break
		}
	}
	rec.Sp = token.Span{Start: rec.PosT, End: p.curToken.Pos}
	return rec
}

func (p *Parser) parseExpressionList(end token.Type) []ast.Expression {
	list := []ast.Expression{}
	if p.curToken.Type == end {
		return list
	}
	for {
		exp := p.parseExpression(lowest)
		if exp == nil {
			return nil
		}
		list = append(list, exp)
		if p.peekToken.Type == token.Comma {
			p.nextToken() // move to comma
			p.nextToken() // move to next expression start
			if p.curToken.Type == end {
				p.errorf(p.curToken.Pos, "expected expression")
				return nil
			}
			continue
		}
		if !p.expectPeek(end) {
			return nil
		}
		p.nextToken() // move to end
		break
	}
	return list
}

func (p *Parser) parseParamList() []ast.Param {
	params := []ast.Param{}
	if p.curToken.Type == token.RParen {
		return params
	}
	if p.curToken.Type != token.Ident {
		p.expectedError(token.Ident, p.curToken)
		return nil
	}
	params = append(params, ast.Param{Name: p.curToken.Literal, Pos: p.curToken.Pos, Sp: token.Span{Start: p.curToken.Pos, End: p.curToken.Pos}})
	for p.peekToken.Type == token.Comma {
		p.nextToken()
		p.nextToken()
		if p.curToken.Type != token.Ident {
			p.expectedError(token.Ident, p.curToken)
			return nil
		}
		params = append(params, ast.Param{Name: p.curToken.Literal, Pos: p.curToken.Pos, Sp: token.Span{Start: p.curToken.Pos, End: p.curToken.Pos}})
	}
	if !p.expectPeek(token.RParen) {
		return nil
	}
	p.nextToken() // move to ')'
	return params
}

func (p *Parser) parseFuncExpr() ast.Expression {
	fn := &ast.FuncExpr{FuncPos: p.curToken.Pos}
	if !p.expectPeek(token.LParen) {
		return nil
	}
	p.nextToken() // move to '('
	p.nextToken() // move to first param or ')'
	fn.Params = p.parseParamList()
	if p.failed() {
		return nil
	}
	p.nextToken() // move past ')'
	p.skipNewlines()
	if p.curToken.Type != token.LBrace {
		p.expectedError(token.LBrace, p.curToken)
		return nil
	}
	// leave curToken on the closing '}' so the expression loop sees the
	// token after the literal in peek, like every other primary
	body := p.parseBraceBlock()
	if body == nil {
		return nil
	}
	fn.Body = body
	fn.Sp = token.Span{Start: fn.FuncPos, End: body.Span().End}
	return fn
}

func (p *Parser) expectPeek(t token.Type) bool {
	if p.peekToken.Type == t {
		return true
	}
	p.expectedError(t, p.peekToken)
	return false
}

func (p *Parser) peekPrecedence() int {
	if prec, ok := precedences[p.peekToken.Type]; ok {
		return prec
	}
	return lowest
}

func (p *Parser) curPrecedence() int {
	if prec, ok := precedences[p.curToken.Type]; ok {
		return prec
	}
	return lowest
}

func (p *Parser) skipNewlines() {
	for p.curToken.Type == token.Newline {
		p.nextToken()
	}
}

func (p *Parser) skipPeekNewlines() {
	for p.peekToken.Type == token.Newline {
		p.nextToken()
	}
}

func (p *Parser) isEndOfExpression(t token.Type) bool {
	switch t {
	case token.Newline, token.RBrace, token.EOF, token.Comma, token.RParen, token.RBracket, token.Colon:
		return true
	default:
		return false
	}
}

func (p *Parser) isEndOfStatement(t token.Type) bool {
	switch t {
	case token.Newline, token.RBrace, token.EOF:
		return true
	default:
		return false
	}
}

func (p *Parser) errorf(pos token.Position, format string, args ...any) {
	if p.err != nil {
		return
	}
	p.err = &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *Parser) expectedError(want token.Type, got token.Token) {
	if p.err != nil {
		return
	}
	p.err = &Error{Pos: got.Pos, Expected: want, Found: got.Type}
}

const (
	lowest = iota + 1
	assignPrecedence
	orPrecedence
	andPrecedence
	equalPrecedence
	lessGreaterPrecedence
	sumPrecedence
	productPrecedence
	prefixPrecedence
	callPrecedence
)

var precedences = map[token.Type]int{
	token.Assign:       assignPrecedence,
	token.Or:           orPrecedence,
	token.And:          andPrecedence,
	token.Equal:        equalPrecedence,
	token.NotEqual:     equalPrecedence,
	token.Less:         lessGreaterPrecedence,
	token.LessEqual:    lessGreaterPrecedence,
	token.Greater:      lessGreaterPrecedence,
	token.GreaterEqual: lessGreaterPrecedence,
	token.Plus:         sumPrecedence,
	token.Minus:        sumPrecedence,
	token.Star:         productPrecedence,
	token.Slash:        productPrecedence,
	token.Percent:      productPrecedence,
	token.LParen:       callPrecedence,
	token.LBracket:     callPrecedence,
	token.Dot:          callPrecedence,
}
