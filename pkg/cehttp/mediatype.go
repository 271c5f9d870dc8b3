package cehttp

import "strings"

const (
	MediaTypeStructured = "application/cloudevents+json"
	MediaTypeBatch      = "application/cloudevents-batch+json"
)

// Mode is a CloudEvents HTTP content mode.
type Mode int

const (
	ModeBinary Mode = iota
	ModeStructured
	ModeBatch
)

func (m Mode) String() string {
	switch m {
	case ModeStructured:
		return "structured"
	case ModeBatch:
		return "batch"
	default:
		return "binary"
	}
}

// ModeOf picks the content mode for a content-type header value. Anything
// other than the two CloudEvents JSON media types is binary.
func ModeOf(contentType string) Mode {
	switch mediaType(contentType) {
	case MediaTypeStructured:
		return ModeStructured
	case MediaTypeBatch:
		return ModeBatch
	default:
		return ModeBinary
	}
}

// mediaType strips parameters and folds case. It is only used for mode
// selection; data content types are passed through raw.
func mediaType(v string) string {
	mt, _, _ := strings.Cut(v, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
