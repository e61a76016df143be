package journal

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode encodes canonically so equal passes encode to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("journal: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalPass serializes a Pass to CBOR bytes.
func MarshalPass(p *Pass) ([]byte, error) {
	return cborEncMode.Marshal(p)
}

// UnmarshalPass deserializes a Pass from CBOR bytes.
func UnmarshalPass(data []byte) (*Pass, error) {
	var p Pass
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("journal: unmarshal pass: %w", err)
	}
	return &p, nil
}
