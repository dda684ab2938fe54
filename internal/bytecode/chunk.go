package bytecode

// ConstKind discriminates constant pool entries.
type ConstKind byte

const (
	ConstNil ConstKind = iota
	ConstBool
	ConstNumber
	ConstString
	ConstProto
)

// Const is one constant pool entry. Exactly one payload field is
// meaningful, selected by Kind.
type Const struct {
	Kind  ConstKind  `cbor:"k"`
	B     bool       `cbor:"b,omitempty"`
	Num   float64    `cbor:"n,omitempty"`
	Str   string     `cbor:"s,omitempty"`
	Proto *Prototype `cbor:"p,omitempty"`
}

// NumberConst builds a number constant.
func NumberConst(n float64) Const { return Const{Kind: ConstNumber, Num: n} }

// StringConst builds a string constant.
func StringConst(s string) Const { return Const{Kind: ConstString, Str: s} }

// BoolConst builds a boolean constant.
func BoolConst(b bool) Const { return Const{Kind: ConstBool, B: b} }

// ProtoConst builds a function prototype constant.
func ProtoConst(p *Prototype) Const { return Const{Kind: ConstProto, Proto: p} }

// Chunk is a compiled bytecode sequence with its constant pool.
type Chunk struct {
	Code   []byte     `cbor:"c"`
	Consts []Const    `cbor:"k"`
	Lines  []LineInfo `cbor:"l"`
}

// Prototype represents a compiled function.
type Prototype struct {
	Name      string    `cbor:"name"`
	Source    string    `cbor:"src"`
	NumParams int       `cbor:"arity"`
	Chunk     *Chunk    `cbor:"chunk"`
	Upvalues  []Upvalue `cbor:"ups,omitempty"`
	MaxLocals int       `cbor:"locals"`
}

// Program is the compiled form of a source file: the implicit top-level
// function plus the source name it was compiled from. Nested prototypes
// hang off the constant pools.
type Program struct {
	Source string     `cbor:"src"`
	Main   *Prototype `cbor:"main"`
}

// Upvalue describes a captured variable.
type Upvalue struct {
	IsLocal bool  `cbor:"l"`
	Index   uint8 `cbor:"i"`
}

// LineInfo maps bytecode offsets to source lines (start-inclusive).
type LineInfo struct {
	Offset int `cbor:"o"`
	Line   int `cbor:"n"`
}
