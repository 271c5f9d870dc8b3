package cehttp

import (
	"github.com/primaryrutabaga/ruby-gateway/pkg/schemas"
)

// Decode extracts every CloudEvent carried by req. Binary mode and single
// structured events yield one element; batches yield one element per array
// entry, in order. On error no events are returned.
func Decode(req Request) ([]schemas.CloudEvent, error) {
	ct, _ := req.Lookup(headerContentType)
	switch ModeOf(ct) {
	case ModeStructured:
		return DecodeStructured(req.Body(), false)
	case ModeBatch:
		return DecodeStructured(req.Body(), true)
	}

	ce, err := DecodeBinary(req)
	if err != nil {
		return nil, err
	}
	return []schemas.CloudEvent{ce}, nil
}
