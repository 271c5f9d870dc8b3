package cehttp

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/primaryrutabaga/ruby-gateway/pkg/schemas"
)

// DecodeStructured parses a structured-mode body. With batch set the body must
// be a JSON array of events, otherwise a single JSON object.
func DecodeStructured(body []byte, batch bool) ([]schemas.CloudEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &MalformedJSONError{Detail: "empty body"}
	}
	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &MalformedJSONError{Detail: err.Error(), Err: err}
	}

	if !batch {
		ce, err := decodeObject(raw, "")
		if err != nil {
			return nil, err
		}
		return []schemas.CloudEvent{ce}, nil
	}

	if k := jsonKind(raw); k != "array" {
		return nil, &UnexpectedJSONShapeError{Expected: "array", Got: k}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &MalformedJSONError{Detail: err.Error(), Err: err}
	}

	events := make([]schemas.CloudEvent, 0, len(items))
	for i, item := range items {
		ce, err := decodeObject(item, fmt.Sprintf("[%d]", i))
		if err != nil {
			return nil, fmt.Errorf("batch element %d: %w", i, err)
		}
		events = append(events, ce)
	}
	return events, nil
}

func decodeObject(raw json.RawMessage, path string) (schemas.CloudEvent, error) {
	if k := jsonKind(raw); k != "object" {
		return schemas.CloudEvent{}, &UnexpectedJSONShapeError{Expected: "object", Got: k, Path: path}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return schemas.CloudEvent{}, &MalformedJSONError{Detail: err.Error(), Err: err}
	}
	obj := jsonObject{fields: fields, path: path}

	var a schemas.Attributes
	for _, f := range []struct {
		attr string
		dst  *string
	}{
		{schemas.AttrID, &a.ID},
		{schemas.AttrSource, &a.Source},
		{schemas.AttrType, &a.Type},
	} {
		v, err := obj.str(f.attr)
		if err != nil {
			return schemas.CloudEvent{}, err
		}
		s, ok := v.Get()
		if !ok {
			return schemas.CloudEvent{}, &MissingAttributeError{Attribute: f.attr}
		}
		*f.dst = s
	}

	specVersion, err := obj.str(schemas.AttrSpecVersion)
	if err != nil {
		return schemas.CloudEvent{}, err
	}
	a.SpecVersion = specVersion.ValueOr("")

	if a.DataContentType, err = obj.str(schemas.AttrDataContentType); err != nil {
		return schemas.CloudEvent{}, err
	}
	if a.DataSchema, err = obj.str(schemas.AttrDataSchema); err != nil {
		return schemas.CloudEvent{}, err
	}
	if a.Subject, err = obj.str(schemas.AttrSubject); err != nil {
		return schemas.CloudEvent{}, err
	}

	rawTime, err := obj.str(schemas.AttrTime)
	if err != nil {
		return schemas.CloudEvent{}, err
	}
	if v, ok := rawTime.Get(); ok {
		t, err := ParseTime(v)
		if err != nil {
			return schemas.CloudEvent{}, err
		}
		a.Time = schemas.Some(t)
	}

	if a.Data, err = obj.data(); err != nil {
		return schemas.CloudEvent{}, err
	}

	return schemas.NewCloudEvent(a)
}

type jsonObject struct {
	fields map[string]json.RawMessage
	path   string
}

// str returns a string member. Missing and null members are absent; any other
// non-string value is a shape error.
func (o jsonObject) str(name string) (schemas.Optional[string], error) {
	raw, ok := o.fields[name]
	if !ok {
		return schemas.None[string](), nil
	}
	switch k := jsonKind(raw); k {
	case "null":
		return schemas.None[string](), nil
	case "string":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return schemas.None[string](), &MalformedJSONError{Detail: err.Error(), Err: err}
		}
		return schemas.Some(s), nil
	default:
		return schemas.None[string](), &UnexpectedJSONShapeError{Expected: "string", Got: k, Path: o.path + "." + name}
	}
}

// data resolves the payload from either data or data_base64. Non-string JSON
// payloads are kept as compact JSON text.
func (o jsonObject) data() (schemas.Optional[string], error) {
	b64, err := o.str(schemas.AttrDataBase64)
	if err != nil {
		return schemas.None[string](), err
	}
	raw, hasData := o.fields[schemas.AttrData]
	if hasData && jsonKind(raw) == "null" {
		hasData = false
	}

	if enc, ok := b64.Get(); ok {
		if hasData {
			return schemas.None[string](), &MalformedJSONError{Detail: "both data and data_base64 are present"}
		}
		b, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return schemas.None[string](), &MalformedJSONError{Detail: "data_base64: " + err.Error(), Err: err}
		}
		return schemas.Some(string(b)), nil
	}
	if !hasData {
		return schemas.None[string](), nil
	}

	if jsonKind(raw) == "string" {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return schemas.None[string](), &MalformedJSONError{Detail: err.Error(), Err: err}
		}
		return schemas.Some(s), nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return schemas.None[string](), &MalformedJSONError{Detail: err.Error(), Err: err}
	}
	return schemas.Some(buf.String()), nil
}

func jsonKind(raw []byte) string {
	raw = bytes.TrimLeft(raw, " \t\r\n")
	if len(raw) == 0 {
		return "empty"
	}
	switch raw[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
