// Package cehttp decodes CloudEvents from HTTP requests in binary and
// structured content modes.
package cehttp

import "net/http"

// Request is the part of an inbound HTTP request the decoders read.
type Request interface {
	// Lookup returns a header value by case-insensitive name.
	Lookup(name string) (string, bool)
	// Body returns the full request body, possibly empty.
	Body() []byte
}

type headerRequest struct {
	header http.Header
	body   []byte
}

// NewRequest adapts net/http headers and an already read body.
func NewRequest(header http.Header, body []byte) Request {
	return headerRequest{header: header, body: body}
}

func (r headerRequest) Lookup(name string) (string, bool) {
	v, ok := r.header[http.CanonicalHeaderKey(name)]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

func (r headerRequest) Body() []byte { return r.body }
