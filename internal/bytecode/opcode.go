package bytecode

// OpCode enumerates bytecode operations. Operands are big-endian; jump
// targets are absolute chunk offsets.
const (
	OP_CONST byte = iota
	OP_NIL
	OP_TRUE
	OP_FALSE
	OP_POP
	OP_DUP
	_ // reserved
	_ // reserved

	OP_ADD
	OP_SUB
	OP_MUL
	OP_DIV
	OP_MOD
	OP_NEG
	OP_NOT
	_ // reserved

	OP_EQ
	OP_NEQ
	OP_LT
	OP_LTE
	OP_GT
	OP_GTE
	_ // reserved
	_ // reserved

	OP_GET_GLOBAL
	OP_SET_GLOBAL
	OP_DEFINE_GLOBAL
	_ // reserved
	_ // reserved
	_ // reserved
	_ // reserved
	_ // reserved

	OP_GET_LOCAL
	OP_SET_LOCAL
	OP_GET_UPVALUE
	OP_SET_UPVALUE
	_ // reserved
	_ // reserved
	_ // reserved
	_ // reserved

	OP_ARRAY
	OP_RECORD
	OP_INDEX_GET
	OP_INDEX_SET
	OP_GET_FIELD
	OP_SET_FIELD
	_ // reserved
	_ // reserved

	OP_JUMP
	OP_JUMP_IF_FALSE
	_ // reserved
	_ // reserved
	_ // reserved
	_ // reserved
	_ // reserved
	_ // reserved

	OP_CALL
	OP_RETURN
	OP_CLOSURE
	OP_PRINT
	_ // reserved
	_ // reserved
	_ // reserved
	_ // reserved
)

const (
	OP_NOP byte = 0x40
)
