package token

// Type identifies the category of a token.
type Type string

// Token carries the lexical item along with its source position.
type Token struct {
	Type    Type
	Literal string
	Pos     Position
}

// Position describes a byte offset and 1-based line/column.
type Position struct {
	Offset int
	Line   int
	Column int
}

// Span represents an inclusive start and end position for a node.
type Span struct {
	Start Position
	End   Position
}

const (
	Illegal Type = "ILLEGAL"
	EOF     Type = "EOF"
	Newline Type = "NEWLINE"

	// identifiers and literals
	Ident  Type = "IDENT"
	Number Type = "NUMBER"
	String Type = "STRING"

	// keywords
	Let      Type = "LET"
	Func     Type = "FUNC"
	Return   Type = "RETURN"
	If       Type = "IF"
	Elif     Type = "ELIF"
	Else     Type = "ELSE"
	And      Type = "AND"
	Or       Type = "OR"
	Loop     Type = "LOOP"
	Break    Type = "BREAK"
	Continue Type = "CONTINUE"
	Print    Type = "PRINT"
	True     Type = "TRUE"
	False    Type = "FALSE"
	Nil      Type = "NIL"

	// operators
	Assign       Type = "ASSIGN"       // =
	Plus         Type = "PLUS"         // +
	Minus        Type = "MINUS"        // -
	Star         Type = "STAR"         // *
	Slash        Type = "SLASH"        // /
	Percent      Type = "PERCENT"      // %
	Bang         Type = "BANG"         // !
	Equal        Type = "EQUAL"        // ==
	NotEqual     Type = "NOTEQUAL"     // !=
	Less         Type = "LESS"         // <
	LessEqual    Type = "LESSEQUAL"    // <=
	Greater      Type = "GREATER"      // >
	GreaterEqual Type = "GREATEREQUAL" // >=

	// delimiters
	Comma    Type = "COMMA"
	Colon    Type = "COLON"
	Dot      Type = "DOT"
	LParen   Type = "LPAREN"
	RParen   Type = "RPAREN"
	LBrace   Type = "LBRACE"
	RBrace   Type = "RBRACE"
	LBracket Type = "LBRACKET"
	RBracket Type = "RBRACKET"
)

var keywords = map[string]Type{
	"let":      Let,
	"func":     Func,
	"return":   Return,
	"if":       If,
	"elif":     Elif,
	"else":     Else,
	"and":      And,
	"or":       Or,
	"loop":     Loop,
	"break":    Break,
	"continue": Continue,
	"print":    Print,
	"true":     True,
	"false":    False,
	"nil":      Nil,
}

// LookupIdent returns the keyword token type or Ident.
func LookupIdent(ident string) Type {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return Ident
}
