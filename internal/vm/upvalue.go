package vm

// upvalue is the payload of an upvalue cell object. It points to a live
// local slot until the owning frame is popped, after which the value is
// stored in closed.
type upvalue struct {
	location *Value
	closed   Value
}

func (uv *upvalue) get() Value {
	if uv == nil {
		return Nil()
	}
	if uv.location != nil {
		return *uv.location
	}
	return uv.closed
}

func (uv *upvalue) set(v Value) {
	if uv == nil {
		return
	}
	if uv.location != nil {
		*uv.location = v
		return
	}
	uv.closed = v
}

func (uv *upvalue) close() {
	if uv.location != nil {
		uv.closed = *uv.location
		uv.location = nil
	}
}
