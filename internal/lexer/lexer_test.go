package lexer

import (
	"errors"
	"testing"

	"github.com/lla-lang/lla/internal/token"
)

func nextToken(t *testing.T, l *Lexer) token.Token {
	t.Helper()
	tok, err := l.NextToken()
	if err != nil {
		t.Fatalf("unexpected lexer error: %v", err)
	}
	return tok
}

func TestLexerBasicTokens(t *testing.T) {
	input := `
func add(a, b) {
  let c = a + b
  if (c >= 10 and a != b) {
    return c
  }
}
`

	tests := []token.Token{
		{Type: token.Func, Literal: "func"},
		{Type: token.Ident, Literal: "add"},
		{Type: token.LParen, Literal: "("},
		{Type: token.Ident, Literal: "a"},
		{Type: token.Comma, Literal: ","},
		{Type: token.Ident, Literal: "b"},
		{Type: token.RParen, Literal: ")"},
		{Type: token.LBrace, Literal: "{"},
		{Type: token.Let, Literal: "let"},
		{Type: token.Ident, Literal: "c"},
		{Type: token.Assign, Literal: "="},
		{Type: token.Ident, Literal: "a"},
		{Type: token.Plus, Literal: "+"},
		{Type: token.Ident, Literal: "b"},
		{Type: token.Newline},
		{Type: token.If, Literal: "if"},
		{Type: token.LParen, Literal: "("},
		{Type: token.Ident, Literal: "c"},
		{Type: token.GreaterEqual, Literal: ">="},
		{Type: token.Number, Literal: "10"},
		{Type: token.And, Literal: "and"},
		{Type: token.Ident, Literal: "a"},
		{Type: token.NotEqual, Literal: "!="},
		{Type: token.Ident, Literal: "b"},
		{Type: token.RParen, Literal: ")"},
		{Type: token.LBrace, Literal: "{"},
		{Type: token.Return, Literal: "return"},
		{Type: token.Ident, Literal: "c"},
		{Type: token.Newline},
		{Type: token.RBrace, Literal: "}"},
		{Type: token.Newline},
		{Type: token.RBrace, Literal: "}"},
		{Type: token.Newline},
		{Type: token.EOF},
	}

	l := New(input)
	for i, expected := range tests {
		tok := nextToken(t, l)
		if tok.Type != expected.Type || tok.Literal != expected.Literal {
			t.Fatalf("token %d: expected %v %q, got %v %q", i, expected.Type, expected.Literal, tok.Type, tok.Literal)
		}
	}
}

func TestLexerNewlineSuppression(t *testing.T) {
	input := `let a = (
  1 +
  2)
let b = [1,
 2]
print b
`

	expected := []token.Type{
		token.Let, token.Ident, token.Assign, token.LParen, token.Number, token.Plus, token.Number, token.RParen, token.Newline,
		token.Let, token.Ident, token.Assign, token.LBracket, token.Number, token.Comma, token.Number, token.RBracket, token.Newline,
		token.Print, token.Ident, token.Newline,
		token.EOF,
	}

	l := New(input)
	for i, typ := range expected {
		tok := nextToken(t, l)
		if tok.Type != typ {
			t.Fatalf("token %d: expected %v, got %v (%q)", i, typ, tok.Type, tok.Literal)
		}
	}
}

func TestLexerComments(t *testing.T) {
	input := `# leading comment
let a = 1 # trailing comment
let b = 2`

	expected := []token.Type{
		token.Let, token.Ident, token.Assign, token.Number, token.Newline,
		token.Let, token.Ident, token.Assign, token.Number, token.EOF,
	}

	l := New(input)
	for i, typ := range expected {
		tok := nextToken(t, l)
		if tok.Type != typ {
			t.Fatalf("token %d: expected %v, got %v (%q)", i, typ, tok.Type, tok.Literal)
		}
	}
}

func TestLexerStringEscapes(t *testing.T) {
	input := `"a\"b\\c\n\t\r"`

	l := New(input)
	tok := nextToken(t, l)
	if tok.Type != token.String {
		t.Fatalf("expected string token, got %v", tok.Type)
	}
	want := "a\"b\\c\n\t\r"
	if tok.Literal != want {
		t.Fatalf("expected literal %q, got %q", want, tok.Literal)
	}
}

func TestLexerNumbers(t *testing.T) {
	input := `12 3.25 0.5`

	wants := []string{"12", "3.25", "0.5"}
	l := New(input)
	for i, want := range wants {
		tok := nextToken(t, l)
		if tok.Type != token.Number || tok.Literal != want {
			t.Fatalf("number %d: expected %q, got %v %q", i, want, tok.Type, tok.Literal)
		}
	}
}

func TestLexerUnterminatedString(t *testing.T) {
	l := New("\"abc\nlet x = 1")
	_, err := l.NextToken()
	var lexErr *Error
	if !errors.As(err, &lexErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if lexErr.Msg != "unterminated string" {
		t.Fatalf("unexpected message: %q", lexErr.Msg)
	}
	if lexErr.Pos.Line != 1 || lexErr.Pos.Column != 1 {
		t.Fatalf("expected error at 1:1, got %d:%d", lexErr.Pos.Line, lexErr.Pos.Column)
	}
}

func TestLexerInvalidEscape(t *testing.T) {
	l := New(`"a\qb"`)
	_, err := l.NextToken()
	var lexErr *Error
	if !errors.As(err, &lexErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if lexErr.Msg != `invalid escape sequence '\q'` {
		t.Fatalf("unexpected message: %q", lexErr.Msg)
	}
}

func TestLexerUnexpectedCharacter(t *testing.T) {
	l := New("let a = 1 @ 2")
	var err error
	for i := 0; i < 8; i++ {
		if _, err = l.NextToken(); err != nil {
			break
		}
	}
	var lexErr *Error
	if !errors.As(err, &lexErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
}

func TestLexerPositions(t *testing.T) {
	input := "let abc = 42"
	l := New(input)

	tok := nextToken(t, l) // let
	if tok.Pos.Line != 1 || tok.Pos.Column != 1 {
		t.Fatalf("let: expected 1:1, got %d:%d", tok.Pos.Line, tok.Pos.Column)
	}
	tok = nextToken(t, l) // abc
	if tok.Pos.Line != 1 || tok.Pos.Column != 5 || tok.Pos.Offset != 4 {
		t.Fatalf("abc: expected 1:5 offset 4, got %d:%d offset %d", tok.Pos.Line, tok.Pos.Column, tok.Pos.Offset)
	}
	tok = nextToken(t, l) // =
	if tok.Pos.Column != 9 {
		t.Fatalf("=: expected column 9, got %d", tok.Pos.Column)
	}
	tok = nextToken(t, l) // 42
	if tok.Pos.Column != 11 {
		t.Fatalf("42: expected column 11, got %d", tok.Pos.Column)
	}
}

func TestLexerReset(t *testing.T) {
	l := New("let a")
	first := nextToken(t, l)
	nextToken(t, l)
	l.Reset()
	again := nextToken(t, l)
	if first.Type != again.Type || first.Literal != again.Literal {
		t.Fatalf("reset did not rewind: %v %q vs %v %q", first.Type, first.Literal, again.Type, again.Literal)
	}
}
