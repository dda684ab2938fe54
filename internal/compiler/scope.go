package compiler

import "fmt"

// local is one declared binding in the function being compiled.
type local struct {
	name  string
	depth int
	slot  uint8
}

// scope tracks locals and upvalues for nested functions. Slots are handed
// out monotonically and never reused, so a captured slot cannot be aliased
// by a declaration in a later block.
type scope struct {
	enclosing *scope
	locals    []local
	upvalues  []Upvalue
	depth     int
	nextLoc   int
}

func newScope(enclosing *scope) *scope {
	return &scope{enclosing: enclosing}
}

func (s *scope) begin() { s.depth++ }

func (s *scope) end() {
	for len(s.locals) > 0 && s.locals[len(s.locals)-1].depth == s.depth {
		s.locals = s.locals[:len(s.locals)-1]
	}
	s.depth--
}

// declare reserves a slot for a local variable, rejecting a duplicate name
// within the same block.
func (s *scope) declare(name string) (uint8, error) {
	for i := len(s.locals) - 1; i >= 0; i-- {
		if s.locals[i].depth != s.depth {
			break
		}
		if s.locals[i].name == name {
			return 0, fmt.Errorf("duplicate declaration of '%s'", name)
		}
	}
	if s.nextLoc > 255 {
		return 0, fmt.Errorf("too many local variables")
	}
	slot := uint8(s.nextLoc)
	s.locals = append(s.locals, local{name: name, depth: s.depth, slot: slot})
	s.nextLoc++
	return slot, nil
}

// resolveLocal returns the slot of the innermost binding of name.
func (s *scope) resolveLocal(name string) (uint8, bool) {
	for i := len(s.locals) - 1; i >= 0; i-- {
		if s.locals[i].name == name {
			return s.locals[i].slot, true
		}
	}
	return 0, false
}

// resolveUpvalue walks enclosing scopes to find a name, capturing it if needed.
func (s *scope) resolveUpvalue(name string) (Upvalue, bool) {
	if s.enclosing == nil {
		return Upvalue{}, false
	}
	if slot, ok := s.enclosing.resolveLocal(name); ok {
		idx := s.addUpvalue(Upvalue{IsLocal: true, Index: slot})
		return Upvalue{IsLocal: false, Index: idx}, true
	}
	if up, ok := s.enclosing.resolveUpvalue(name); ok {
		idx := s.addUpvalue(up)
		return Upvalue{IsLocal: false, Index: idx}, true
	}
	return Upvalue{}, false
}

// addUpvalue appends a capture descriptor, reusing an existing identical one.
func (s *scope) addUpvalue(up Upvalue) uint8 {
	for i, existing := range s.upvalues {
		if existing == up {
			return uint8(i)
		}
	}
	s.upvalues = append(s.upvalues, up)
	return uint8(len(s.upvalues) - 1)
}
