package cehttp

import (
	"errors"
	"fmt"

	"github.com/primaryrutabaga/ruby-gateway/pkg/schemas"
)

// MissingAttributeError is returned when id, source or type is absent.
type MissingAttributeError = schemas.MissingAttributeError

// ConflictingContentTypeError is returned when content-type and
// ce-datacontenttype are both set to different values.
type ConflictingContentTypeError struct {
	Header    string
	Attribute string
}

func (e *ConflictingContentTypeError) Error() string {
	return fmt.Sprintf("content-type %q conflicts with ce-datacontenttype %q", e.Header, e.Attribute)
}

// MalformedTimestampError is returned for a time attribute that is not RFC 3339.
type MalformedTimestampError struct {
	Raw string
	Err error
}

func (e *MalformedTimestampError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("malformed timestamp %q", e.Raw)
	}
	return fmt.Sprintf("malformed timestamp %q: %v", e.Raw, e.Err)
}

func (e *MalformedTimestampError) Unwrap() error { return e.Err }

// MalformedJSONError is returned when a structured body is not valid JSON.
type MalformedJSONError struct {
	Detail string
	Err    error
}

func (e *MalformedJSONError) Error() string {
	return "malformed json: " + e.Detail
}

func (e *MalformedJSONError) Unwrap() error { return e.Err }

// UnexpectedJSONShapeError is returned when valid JSON has the wrong kind of
// value, e.g. an array where an object was expected.
type UnexpectedJSONShapeError struct {
	Expected string
	Got      string
	Path     string
}

func (e *UnexpectedJSONShapeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("expected json %s, got %s", e.Expected, e.Got)
	}
	return fmt.Sprintf("expected json %s at %s, got %s", e.Expected, e.Path, e.Got)
}

// IsDecodeError reports whether err came from malformed client input.
func IsDecodeError(err error) bool {
	return Reason(err) != ""
}

// Reason classifies a decode error into a short label, or "" when err is not
// a decode error.
func Reason(err error) string {
	var (
		missing  *MissingAttributeError
		conflict *ConflictingContentTypeError
		ts       *MalformedTimestampError
		syntax   *MalformedJSONError
		shape    *UnexpectedJSONShapeError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &missing):
		return "missing_attribute"
	case errors.As(err, &conflict):
		return "conflicting_content_type"
	case errors.As(err, &ts):
		return "malformed_timestamp"
	case errors.As(err, &syntax):
		return "malformed_json"
	case errors.As(err, &shape):
		return "unexpected_json_shape"
	}
	return ""
}
