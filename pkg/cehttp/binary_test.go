package cehttp

import (
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/primaryrutabaga/ruby-gateway/pkg/schemas"
)

func testHeader() http.Header {
	h := http.Header{}
	h.Set("ce-type", "com.example.someevent")
	h.Set("ce-source", "/mycontext")
	h.Set("ce-id", "A234-1234-1234")
	return h
}

func TestDecodeBinary_Basic(t *testing.T) {
	ce, err := DecodeBinary(NewRequest(testHeader(), nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := []string{ce.ID(), ce.Source(), ce.Type(), ce.SpecVersion()}
	want := []string{"A234-1234-1234", "/mycontext", "com.example.someevent", schemas.DefaultSpecVersion}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("attributes mismatch (-want +got):\n%s", diff)
	}
	if ce.DataContentType().IsSet() || ce.DataSchema().IsSet() || ce.Subject().IsSet() || ce.Time().IsSet() {
		t.Errorf("optional attributes should be absent: %v", ce)
	}
}

func TestDecodeBinary_WithSpecVersion(t *testing.T) {
	h := testHeader()
	h.Set("ce-specversion", "1.1")
	ce, err := DecodeBinary(NewRequest(h, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ce.SpecVersion() != "1.1" {
		t.Errorf("SpecVersion() = %q, want 1.1", ce.SpecVersion())
	}
}

func TestDecodeBinary_MissingRequiredFields(t *testing.T) {
	testCases := []struct {
		header string
		attr   string
	}{
		{"ce-type", schemas.AttrType},
		{"ce-source", schemas.AttrSource},
		{"ce-id", schemas.AttrID},
	}

	for _, tc := range testCases {
		t.Run(tc.header, func(t *testing.T) {
			h := testHeader()
			h.Del(tc.header)
			_, err := DecodeBinary(NewRequest(h, nil))
			var missing *MissingAttributeError
			if !errors.As(err, &missing) {
				t.Fatalf("error = %v, want MissingAttributeError", err)
			}
			if missing.Attribute != tc.attr {
				t.Errorf("Attribute = %q, want %q", missing.Attribute, tc.attr)
			}
		})
	}
}

func TestDecodeBinary_EmptyRequiredField(t *testing.T) {
	h := testHeader()
	h.Set("ce-id", "")
	_, err := DecodeBinary(NewRequest(h, nil))
	var missing *MissingAttributeError
	if !errors.As(err, &missing) || missing.Attribute != schemas.AttrID {
		t.Errorf("error = %v, want missing id", err)
	}
}

func TestDecodeBinary_ContentTypes(t *testing.T) {
	testCases := []struct {
		name         string
		attr         string
		header       string
		want         string
		wantAbsent   bool
		wantConflict bool
	}{
		{name: "ce-datacontenttype only", attr: "text/plain", want: "text/plain"},
		{name: "content-type only", header: "text/plain", want: "text/plain"},
		{name: "both equal", attr: "text/plain", header: "text/plain", want: "text/plain"},
		{name: "raw value kept", header: "application/json; charset=utf-8", want: "application/json; charset=utf-8"},
		{name: "mismatch", attr: "text/plain", header: "application/json", wantConflict: true},
		{name: "neither", wantAbsent: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := testHeader()
			if tc.attr != "" {
				h.Set("ce-datacontenttype", tc.attr)
			}
			if tc.header != "" {
				h.Set("content-type", tc.header)
			}
			ce, err := DecodeBinary(NewRequest(h, nil))
			if tc.wantConflict {
				var conflict *ConflictingContentTypeError
				if !errors.As(err, &conflict) {
					t.Fatalf("error = %v, want ConflictingContentTypeError", err)
				}
				if conflict.Header != tc.header || conflict.Attribute != tc.attr {
					t.Errorf("conflict = %+v", conflict)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got, ok := ce.DataContentType().Get()
			if tc.wantAbsent {
				if ok {
					t.Errorf("DataContentType() = %q, want absent", got)
				}
				return
			}
			if got != tc.want {
				t.Errorf("DataContentType() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDecodeBinary_PassThroughAttributes(t *testing.T) {
	h := testHeader()
	h.Set("ce-dataschema", "test-dataschema")
	h.Set("ce-subject", "test-subject")
	ce, err := DecodeBinary(NewRequest(h, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ce.DataSchema().ValueOr(""); got != "test-dataschema" {
		t.Errorf("DataSchema() = %q, want test-dataschema", got)
	}
	if got := ce.Subject().ValueOr(""); got != "test-subject" {
		t.Errorf("Subject() = %q, want test-subject", got)
	}
}

func TestDecodeBinary_WithTime(t *testing.T) {
	// date -u --date='2018-04-05T17:31:05Z' +%s
	const wantUnix = 1522949465

	h := testHeader()
	h.Set("ce-time", "2018-04-05T17:31:05Z")
	ce, err := DecodeBinary(NewRequest(h, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tp, ok := ce.Time().Get()
	if !ok {
		t.Fatal("Time() should be present")
	}
	if tp.Unix() != wantUnix {
		t.Errorf("Time().Unix() = %d, want %d", tp.Unix(), wantUnix)
	}
}

func TestDecodeBinary_MalformedTime(t *testing.T) {
	h := testHeader()
	h.Set("ce-time", "yesterday")
	_, err := DecodeBinary(NewRequest(h, nil))
	var ts *MalformedTimestampError
	if !errors.As(err, &ts) {
		t.Fatalf("error = %v, want MalformedTimestampError", err)
	}
	if ts.Raw != "yesterday" {
		t.Errorf("Raw = %q, want yesterday", ts.Raw)
	}
}

func TestDecodeBinary_Data(t *testing.T) {
	t.Run("with data", func(t *testing.T) {
		ce, err := DecodeBinary(NewRequest(testHeader(), []byte("Hello World\n")))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := ce.Data().ValueOr(""); got != "Hello World\n" {
			t.Errorf("Data() = %q, want %q", got, "Hello World\n")
		}
	})

	t.Run("without data", func(t *testing.T) {
		ce, err := DecodeBinary(NewRequest(testHeader(), []byte{}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ce.Data().IsSet() {
			t.Error("Data() should be absent for an empty body")
		}
	})
}

func TestNewRequest_CaseInsensitiveLookup(t *testing.T) {
	h := http.Header{}
	h.Set("CE-ID", "1")
	h["Ce-Subject"] = []string{""}
	req := NewRequest(h, nil)

	if v, ok := req.Lookup("ce-id"); !ok || v != "1" {
		t.Errorf("Lookup(ce-id) = (%q, %v), want (1, true)", v, ok)
	}
	if _, ok := req.Lookup("ce-subject"); !ok {
		t.Error("header present with empty value should be found")
	}
	if _, ok := req.Lookup("ce-time"); ok {
		t.Error("absent header should not be found")
	}
}
