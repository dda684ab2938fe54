package compiler

import "github.com/lla-lang/lla/internal/bytecode"

type Chunk = bytecode.Chunk
type Const = bytecode.Const
type Prototype = bytecode.Prototype
type Program = bytecode.Program
type Upvalue = bytecode.Upvalue
type LineInfo = bytecode.LineInfo
