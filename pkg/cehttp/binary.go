package cehttp

import (
	"github.com/primaryrutabaga/ruby-gateway/pkg/schemas"
)

const (
	headerPrefix      = "ce-"
	headerContentType = "content-type"
)

// DecodeBinary reads a binary-mode CloudEvent: attributes from ce- headers,
// payload from the body.
func DecodeBinary(req Request) (schemas.CloudEvent, error) {
	var a schemas.Attributes

	for _, f := range []struct {
		attr string
		dst  *string
	}{
		{schemas.AttrID, &a.ID},
		{schemas.AttrSource, &a.Source},
		{schemas.AttrType, &a.Type},
	} {
		v, ok := req.Lookup(headerPrefix + f.attr)
		if !ok {
			return schemas.CloudEvent{}, &MissingAttributeError{Attribute: f.attr}
		}
		*f.dst = v
	}

	if v, ok := req.Lookup(headerPrefix + schemas.AttrSpecVersion); ok {
		a.SpecVersion = v
	}

	ct, err := dataContentType(req)
	if err != nil {
		return schemas.CloudEvent{}, err
	}
	a.DataContentType = ct

	a.DataSchema = lookupOptional(req, headerPrefix+schemas.AttrDataSchema)
	a.Subject = lookupOptional(req, headerPrefix+schemas.AttrSubject)

	if raw, ok := req.Lookup(headerPrefix + schemas.AttrTime); ok {
		t, err := ParseTime(raw)
		if err != nil {
			return schemas.CloudEvent{}, err
		}
		a.Time = schemas.Some(t)
	}

	if body := req.Body(); len(body) > 0 {
		a.Data = schemas.Some(string(body))
	}

	return schemas.NewCloudEvent(a)
}

// dataContentType reconciles ce-datacontenttype with content-type. The raw
// values must match exactly when both are present.
func dataContentType(req Request) (schemas.Optional[string], error) {
	attr, hasAttr := req.Lookup(headerPrefix + schemas.AttrDataContentType)
	header, hasHeader := req.Lookup(headerContentType)
	switch {
	case hasAttr && hasHeader:
		if attr != header {
			return schemas.None[string](), &ConflictingContentTypeError{Header: header, Attribute: attr}
		}
		return schemas.Some(attr), nil
	case hasAttr:
		return schemas.Some(attr), nil
	case hasHeader:
		return schemas.Some(header), nil
	}
	return schemas.None[string](), nil
}

func lookupOptional(req Request, name string) schemas.Optional[string] {
	if v, ok := req.Lookup(name); ok {
		return schemas.Some(v)
	}
	return schemas.None[string]()
}
