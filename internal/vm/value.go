package vm

// Kind discriminates the immediate value representations. Everything
// heap-allocated is carried as a handle into the VM's arena.
type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindRef
)

// Value is the tagged union flowing through the stack, locals, globals
// and constants. Ref is only meaningful when Kind is KindRef.
type Value struct {
	Kind Kind
	B    bool
	Num  float64
	Ref  Handle
}

func Nil() Value { return Value{Kind: KindNil} }

func Bool(b bool) Value {
	return Value{Kind: KindBool, B: b}
}

func Number(n float64) Value {
	return Value{Kind: KindNumber, Num: n}
}

func ref(h Handle) Value {
	return Value{Kind: KindRef, Ref: h}
}

// IsNil reports whether v is the nil value.
func (v Value) IsNil() bool { return v.Kind == KindNil }
