package schemas

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

const (
	CloudEventsSpecVersion = "1.0"

	// DefaultSpecVersion is used when an inbound event does not carry one.
	DefaultSpecVersion = CloudEventsSpecVersion
)

// Attribute names as they appear in structured JSON. Binary mode prefixes
// them with "ce-".
const (
	AttrID              = "id"
	AttrSource          = "source"
	AttrType            = "type"
	AttrSpecVersion     = "specversion"
	AttrDataContentType = "datacontenttype"
	AttrDataSchema      = "dataschema"
	AttrSubject         = "subject"
	AttrTime            = "time"
	AttrData            = "data"
	AttrDataBase64      = "data_base64"
)

// MissingAttributeError reports a required attribute that was absent or empty.
type MissingAttributeError struct {
	Attribute string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("missing required attribute %q", e.Attribute)
}

// Attributes is the input to NewCloudEvent.
type Attributes struct {
	ID              string
	Source          string
	Type            string
	SpecVersion     string
	DataContentType Optional[string]
	DataSchema      Optional[string]
	Subject         Optional[string]
	Time            Optional[time.Time]
	Data            Optional[string]
}

// CloudEvent is a decoded CloudEvent. It cannot be modified once built.
type CloudEvent struct {
	id              string
	source          string
	typ             string
	specVersion     string
	dataContentType Optional[string]
	dataSchema      Optional[string]
	subject         Optional[string]
	time            Optional[time.Time]
	data            Optional[string]
}

// NewCloudEvent validates the required attributes and builds an event.
func NewCloudEvent(a Attributes) (CloudEvent, error) {
	switch {
	case a.ID == "":
		return CloudEvent{}, &MissingAttributeError{Attribute: AttrID}
	case a.Source == "":
		return CloudEvent{}, &MissingAttributeError{Attribute: AttrSource}
	case a.Type == "":
		return CloudEvent{}, &MissingAttributeError{Attribute: AttrType}
	}

	specVersion := a.SpecVersion
	if specVersion == "" {
		specVersion = DefaultSpecVersion
	}

	ts := a.Time
	if t, ok := ts.Get(); ok {
		ts = Some(t.UTC())
	}

	return CloudEvent{
		id:              a.ID,
		source:          a.Source,
		typ:             a.Type,
		specVersion:     specVersion,
		dataContentType: a.DataContentType,
		dataSchema:      a.DataSchema,
		subject:         a.Subject,
		time:            ts,
		data:            a.Data,
	}, nil
}

func (e CloudEvent) ID() string                        { return e.id }
func (e CloudEvent) Source() string                    { return e.source }
func (e CloudEvent) Type() string                      { return e.typ }
func (e CloudEvent) SpecVersion() string               { return e.specVersion }
func (e CloudEvent) DataContentType() Optional[string] { return e.dataContentType }
func (e CloudEvent) DataSchema() Optional[string]      { return e.dataSchema }
func (e CloudEvent) Subject() Optional[string]         { return e.subject }
func (e CloudEvent) Time() Optional[time.Time]         { return e.time }
func (e CloudEvent) Data() Optional[string]            { return e.data }

// Equal reports whether both events carry the same attributes and data.
func (e CloudEvent) Equal(o CloudEvent) bool {
	if e.id != o.id || e.source != o.source || e.typ != o.typ || e.specVersion != o.specVersion {
		return false
	}
	if e.dataContentType != o.dataContentType || e.dataSchema != o.dataSchema ||
		e.subject != o.subject || e.data != o.data {
		return false
	}
	t1, ok1 := e.time.Get()
	t2, ok2 := o.time.Get()
	return ok1 == ok2 && t1.Equal(t2)
}

func (e CloudEvent) String() string {
	return fmt.Sprintf("CloudEvent{id=%s source=%s type=%s specversion=%s}", e.id, e.source, e.typ, e.specVersion)
}

// MarshalJSON renders the event in the CloudEvents JSON format.
func (e CloudEvent) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		AttrSpecVersion: e.specVersion,
		AttrID:          e.id,
		AttrSource:      e.source,
		AttrType:        e.typ,
	}
	if v, ok := e.dataContentType.Get(); ok {
		m[AttrDataContentType] = v
	}
	if v, ok := e.dataSchema.Get(); ok {
		m[AttrDataSchema] = v
	}
	if v, ok := e.subject.Get(); ok {
		m[AttrSubject] = v
	}
	if v, ok := e.time.Get(); ok {
		m[AttrTime] = v.Format(time.RFC3339Nano)
	}
	if v, ok := e.data.Get(); ok {
		ct := e.dataContentType.ValueOr("")
		switch {
		case isJSONContentType(ct) && json.Valid([]byte(v)):
			m[AttrData] = json.RawMessage(v)
		case isTextContentType(ct) && utf8.ValidString(v):
			m[AttrData] = v
		default:
			m[AttrDataBase64] = base64.StdEncoding.EncodeToString([]byte(v))
		}
	}
	return json.Marshal(m)
}

// isTextContentType reports whether a payload of this type can travel as a
// JSON string. Everything else is carried as data_base64.
func isTextContentType(ct string) bool {
	if isJSONContentType(ct) {
		return true
	}
	mt, _, _ := strings.Cut(ct, ";")
	mt = strings.ToLower(strings.TrimSpace(mt))
	return strings.HasPrefix(mt, "text/") || mt == "application/xml" || strings.HasSuffix(mt, "+xml")
}

// isJSONContentType treats an absent content type as JSON, as the CloudEvents
// JSON format does.
func isJSONContentType(ct string) bool {
	if ct == "" {
		return true
	}
	mt, _, _ := strings.Cut(ct, ";")
	mt = strings.ToLower(strings.TrimSpace(mt))
	return mt == "application/json" || mt == "text/json" || strings.HasSuffix(mt, "+json")
}

