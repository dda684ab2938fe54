package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode holds CBOR encoding options with canonical mode for
// deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// EncodeProgram serializes a compiled program to CBOR bytes.
func EncodeProgram(p *Program) ([]byte, error) {
	if p == nil || p.Main == nil {
		return nil, fmt.Errorf("bytecode: encode nil program")
	}
	return cborEncMode.Marshal(p)
}

// DecodeProgram deserializes a compiled program from CBOR bytes.
func DecodeProgram(data []byte) (*Program, error) {
	var p Program
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal program: %w", err)
	}
	if p.Main == nil || p.Main.Chunk == nil {
		return nil, fmt.Errorf("bytecode: image has no entry function")
	}
	return &p, nil
}
