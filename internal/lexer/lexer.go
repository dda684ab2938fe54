package lexer

import (
	"fmt"
	"strings"

	"github.com/lla-lang/lla/internal/token"
)

// Error is a lexical error at a specific source position. Any error makes
// the whole scan fail; there is no recovery.
type Error struct {
	Pos token.Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

// Lexer converts source text into a stream of tokens.
type Lexer struct {
	input        string
	pos          int  // current position in bytes
	readPos      int  // next read position
	ch           byte // current char
	line         int
	column       int
	parenDepth   int
	bracketDepth int
	lastToken    token.Type
}

// New creates a lexer for the provided source text.
func New(input string) *Lexer {
	l := &Lexer{input: input}
	l.Reset()
	return l
}

// Reset rewinds the lexer to the start of its input.
func (l *Lexer) Reset() {
	l.pos = 0
	l.readPos = 0
	l.line = 1
	l.column = 0
	l.parenDepth = 0
	l.bracketDepth = 0
	l.lastToken = token.Newline // treat start as newline boundary
	l.readChar()
}

// NextToken returns the next token from the input. After EOF it keeps
// returning EOF; after an error the stream is invalid.
func (l *Lexer) NextToken() (token.Token, error) {
	for {
		l.skipWhitespace()

		if l.ch == '\n' {
			if tok, ok := l.consumeNewline(); ok {
				return tok, nil
			}
			continue
		}

		if l.ch == 0 {
			return l.makeToken(token.EOF, ""), nil
		}

		if l.ch == '#' {
			l.skipLineComment()
			continue
		}

		switch l.ch {
		case '=':
			if l.peekChar() == '=' {
				return l.makeTwoCharToken(token.Equal), nil
			}
			return l.makeOneCharToken(token.Assign), nil
		case '+':
			return l.makeOneCharToken(token.Plus), nil
		case '-':
			return l.makeOneCharToken(token.Minus), nil
		case '*':
			return l.makeOneCharToken(token.Star), nil
		case '/':
			return l.makeOneCharToken(token.Slash), nil
		case '%':
			return l.makeOneCharToken(token.Percent), nil
		case '!':
			if l.peekChar() == '=' {
				return l.makeTwoCharToken(token.NotEqual), nil
			}
			return l.makeOneCharToken(token.Bang), nil
		case '<':
			if l.peekChar() == '=' {
				return l.makeTwoCharToken(token.LessEqual), nil
			}
			return l.makeOneCharToken(token.Less), nil
		case '>':
			if l.peekChar() == '=' {
				return l.makeTwoCharToken(token.GreaterEqual), nil
			}
			return l.makeOneCharToken(token.Greater), nil
		case ':':
			return l.makeOneCharToken(token.Colon), nil
		case '.':
			return l.makeOneCharToken(token.Dot), nil
		case ',':
			return l.makeOneCharToken(token.Comma), nil
		case '(':
			tok := l.makeOneCharToken(token.LParen)
			l.parenDepth++
			return tok, nil
		case ')':
			tok := l.makeOneCharToken(token.RParen)
			if l.parenDepth > 0 {
				l.parenDepth--
			}
			return tok, nil
		case '[':
			tok := l.makeOneCharToken(token.LBracket)
			l.bracketDepth++
			return tok, nil
		case ']':
			tok := l.makeOneCharToken(token.RBracket)
			if l.bracketDepth > 0 {
				l.bracketDepth--
			}
			return tok, nil
		case '{':
			return l.makeOneCharToken(token.LBrace), nil
		case '}':
			return l.makeOneCharToken(token.RBrace), nil
		case '"':
			return l.readString()
		default:
			if isLetter(l.ch) {
				return l.readIdentifier(), nil
			}
			if isDigit(l.ch) {
				return l.readNumber(), nil
			}

			err := l.errorf("unexpected character %q", l.ch)
			l.readChar()
			return token.Token{}, err
		}
	}
}

func (l *Lexer) makeToken(t token.Type, lit string) token.Token {
	return token.Token{
		Type:    t,
		Literal: lit,
		Pos: token.Position{
			Offset: l.pos,
			Line:   l.line,
			Column: l.column,
		},
	}
}

func (l *Lexer) makeOneCharToken(t token.Type) token.Token {
	tok := l.makeToken(t, string(l.ch))
	l.readChar()
	return l.finishToken(tok)
}

func (l *Lexer) makeTwoCharToken(t token.Type) token.Token {
	first := l.ch
	l.readChar()
	tok := l.makeToken(t, string(first)+string(l.ch))
	tok.Pos.Offset--
	tok.Pos.Column--
	l.readChar()
	return l.finishToken(tok)
}

func (l *Lexer) finishToken(tok token.Token) token.Token {
	l.lastToken = tok.Type
	return tok
}

func (l *Lexer) errorf(format string, args ...interface{}) error {
	return &Error{
		Pos: token.Position{Offset: l.pos, Line: l.line, Column: l.column},
		Msg: fmt.Sprintf(format, args...),
	}
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\r' {
		l.readChar()
	}
}

func (l *Lexer) consumeNewline() (token.Token, bool) {
	pos := l.makeToken(token.Newline, "")
	l.readChar()

	if l.parenDepth == 0 && l.bracketDepth == 0 && newlineEligible(l.lastToken) {
		l.lastToken = token.Newline
		return pos, true
	}
	return token.Token{}, false
}

func (l *Lexer) skipLineComment() {
	for l.ch != 0 && l.ch != '\n' {
		l.readChar()
	}
}

func (l *Lexer) readIdentifier() token.Token {
	start := l.makeToken(token.Ident, "")
	var sb strings.Builder
	for isLetter(l.ch) || isDigit(l.ch) {
		sb.WriteByte(l.ch)
		l.readChar()
	}
	lit := sb.String()
	start.Type = token.LookupIdent(lit)
	start.Literal = lit
	return l.finishToken(start)
}

func (l *Lexer) readNumber() token.Token {
	start := l.makeToken(token.Number, "")
	var sb strings.Builder
	for isDigit(l.ch) {
		sb.WriteByte(l.ch)
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		sb.WriteByte(l.ch)
		l.readChar()
		for isDigit(l.ch) {
			sb.WriteByte(l.ch)
			l.readChar()
		}
	}
	start.Literal = sb.String()
	return l.finishToken(start)
}

// readString scans a single-line string literal. Strings may not contain
// raw newlines, and only a fixed escape set is accepted.
func (l *Lexer) readString() (token.Token, error) {
	start := l.makeToken(token.String, "")
	var sb strings.Builder

	for {
		l.readChar()
		if l.ch == 0 || l.ch == '\n' {
			return token.Token{}, &Error{Pos: start.Pos, Msg: "unterminated string"}
		}
		if l.ch == '"' {
			l.readChar()
			break
		}
		if l.ch == '\\' {
			l.readChar()
			switch l.ch {
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case '0':
				sb.WriteByte(0)
			case 0, '\n':
				return token.Token{}, &Error{Pos: start.Pos, Msg: "unterminated string"}
			default:
				return token.Token{}, l.errorf("invalid escape sequence '\\%c'", l.ch)
			}
			continue
		}
		sb.WriteByte(l.ch)
	}

	start.Literal = sb.String()
	return l.finishToken(start), nil
}

func newlineEligible(t token.Type) bool {
	switch t {
	case token.Ident, token.Number, token.String,
		token.True, token.False, token.Nil,
		token.RParen, token.RBracket, token.RBrace,
		token.Return, token.Break, token.Continue:
		return true
	default:
		return false
	}
}

func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.pos = l.readPos
		l.ch = 0
		return
	}

	l.ch = l.input[l.readPos]
	l.pos = l.readPos
	l.readPos++

	if l.ch == '\n' {
		l.line++
		l.column = 0
	} else {
		l.column++
	}
}
