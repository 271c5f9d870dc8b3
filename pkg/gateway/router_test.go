package gateway

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/primaryrutabaga/ruby-gateway/pkg/natsx"
	"github.com/primaryrutabaga/ruby-gateway/pkg/schemas"
)

const rulesYAML = `
schemaVersion: "1.0"
rules:
  - name: lights
    trigger: {source: /ha, type: com.example.light}
    conditions:
      - {type: subject_prefix, value: living}
    actions:
      - {type: publish, params: {source: ha, type: light, id: $subject, action: state_changed}}
      - {type: journal}
  - name: audit lights
    trigger: {type: com.example.light}
    actions:
      - {type: publish, params: {source: ha, class: audit, type: light}}
  - name: noise
    trigger: {source: /noisy}
    actions:
      - {type: drop}
  - name: typeless
    trigger: {source: /typeless}
    actions:
      - {type: publish, params: {source: ha}}
`

func event(t *testing.T, a schemas.Attributes) schemas.CloudEvent {
	t.Helper()
	ce, err := schemas.NewCloudEvent(a)
	if err != nil {
		t.Fatalf("NewCloudEvent: %v", err)
	}
	return ce
}

func newRouter(t *testing.T, rules *schemas.RuleFile) *Router {
	t.Helper()
	r, err := NewRouter(rules, "ruby_gateway")
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return r
}

func TestRouter(t *testing.T) {
	rules, err := schemas.ParseRuleFile([]byte(rulesYAML))
	if err != nil {
		t.Fatalf("ParseRuleFile: %v", err)
	}
	router := newRouter(t, rules)

	testCases := []struct {
		name  string
		attrs schemas.Attributes
		want  Route
	}{
		{
			name:  "both rules match",
			attrs: schemas.Attributes{ID: "1", Source: "/ha", Type: "com.example.light", Subject: schemas.Some("living room")},
			want: Route{
				Subjects: []string{"ha.events.light.living_room.state_changed", "ha.audit.light"},
				Journal:  true,
			},
		},
		{
			name:  "condition fails, second rule still matches",
			attrs: schemas.Attributes{ID: "1", Source: "/ha", Type: "com.example.light", Subject: schemas.Some("kitchen")},
			want:  Route{Subjects: []string{"ha.audit.light"}},
		},
		{
			name:  "no rule matches takes default route",
			attrs: schemas.Attributes{ID: "1", Source: "/mycontext", Type: "com.example.someevent"},
			want:  Route{Subjects: []string{"ruby_gateway.events.com_example_someevent"}, Journal: true},
		},
		{
			name:  "drop",
			attrs: schemas.Attributes{ID: "1", Source: "/noisy", Type: "com.example.light"},
			want:  Route{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := router.Route(event(t, tc.attrs))
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("route mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRouterDeadLetter(t *testing.T) {
	rules, err := schemas.ParseRuleFile([]byte(rulesYAML))
	if err != nil {
		t.Fatalf("ParseRuleFile: %v", err)
	}

	testCases := []struct {
		name   string
		router *Router
		attrs  schemas.Attributes
	}{
		{
			name:   "default route, type with no usable characters",
			router: newRouter(t, nil),
			attrs:  schemas.Attributes{ID: "1", Source: "/x", Type: "..."},
		},
		{
			name:   "rule without type param, type with no usable characters",
			router: newRouter(t, rules),
			attrs:  schemas.Attributes{ID: "1", Source: "/typeless", Type: "!!"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.router.Route(event(t, tc.attrs))
			if !errors.Is(got.Err, natsx.ErrInvalidToken) {
				t.Errorf("Err = %v, want %v", got.Err, natsx.ErrInvalidToken)
			}
			if diff := cmp.Diff([]string{"dlq.ruby_gateway.router"}, got.Subjects); diff != "" {
				t.Errorf("subjects mismatch (-want +got):\n%s", diff)
			}
			if !got.Journal {
				t.Error("dead-lettered events should be journaled")
			}
		})
	}
}

func TestNewRouter_InvalidRules(t *testing.T) {
	testCases := []struct {
		name          string
		params        string
		defaultSource string
		wantErr       error
	}{
		{"missing source", "{class: events}", "ruby_gateway", natsx.ErrInvalidToken},
		{"class not allowed", "{source: ha, class: bogus}", "ruby_gateway", natsx.ErrInvalidClass},
		{"invalid type", "{source: ha, type: Light.Bulb}", "ruby_gateway", natsx.ErrInvalidToken},
		{"invalid literal id", "{source: ha, id: kitchen-1}", "ruby_gateway", natsx.ErrInvalidToken},
		{"invalid action", "{source: ha, action: turned on}", "ruby_gateway", natsx.ErrInvalidToken},
		{"invalid default source", "{source: ha}", "ruby.gateway", natsx.ErrInvalidToken},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rules, err := schemas.ParseRuleFile([]byte(`
schemaVersion: "1.0"
rules:
  - name: lights
    trigger: {type: com.example.light}
    actions:
      - {type: publish, params: ` + tc.params + `}
`))
			if err != nil {
				t.Fatalf("ParseRuleFile: %v", err)
			}
			_, err = NewRouter(rules, tc.defaultSource)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestNewRouter_SubjectPlaceholderIsValid(t *testing.T) {
	rules, err := schemas.ParseRuleFile([]byte(rulesYAML))
	if err != nil {
		t.Fatalf("ParseRuleFile: %v", err)
	}
	if _, err := NewRouter(rules, "ruby_gateway"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
