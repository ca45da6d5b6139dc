package bridge

import (
	"github.com/tomyedwab/dbbridge/answer"
)

// ConceptDocumentToJSON encodes the document as JSON text owned by the
// caller. A document that cannot be encoded yields NullHandle and sets the
// last error.
func (b *Bridge) ConceptDocumentToJSON(h Handle, opts ...answer.EncodeOption) Handle {
	data, err := Borrow[*answer.ConceptDocument](b.handles, h).FormatJSON(opts...)
	if err != nil {
		b.setError(err)
		return NullHandle
	}
	return b.ReleaseString(string(data))
}

// ConceptDocumentToYAML is ConceptDocumentToJSON for YAML.
func (b *Bridge) ConceptDocumentToYAML(h Handle, opts ...answer.EncodeOption) Handle {
	data, err := Borrow[*answer.ConceptDocument](b.handles, h).FormatYAML(opts...)
	if err != nil {
		b.setError(err)
		return NullHandle
	}
	return b.ReleaseString(string(data))
}

func (b *Bridge) ConceptDocumentFree(h Handle) {
	if h == NullHandle {
		return
	}
	Take[*answer.ConceptDocument](b.handles, h)
}
