package wire

import "github.com/fxamacker/cbor/v2"

// cborMarshaller is the default Marshaller. CBOR fits because entries-blob/
// error-blob are explicitly opaque and schema-less from the loader's
// point of view: it encodes arbitrary Go values without a fixed field
// layout, unlike a hand-rolled binary format that only works for a
// message with a fixed, known set of optional fields.
type cborMarshaller struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORMarshaller returns the default Marshaller implementation.
func NewCBORMarshaller() Marshaller {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err) // CanonicalEncOptions() is a constant, valid option set
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return &cborMarshaller{enc: enc, dec: dec}
}

func (m *cborMarshaller) Marshal(v any) ([]byte, error) {
	return m.enc.Marshal(v)
}

func (m *cborMarshaller) Unmarshal(data []byte, v any) error {
	return m.dec.Unmarshal(data, v)
}
