package schemas

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	RulesSchemaVersionV1 = "1.0"
)

// Condition types.
const (
	ConditionSubjectPrefix   = "subject_prefix"
	ConditionDataContentType = "datacontenttype"
	ConditionDataSchema      = "dataschema"
	ConditionHasData         = "has_data"
)

// Action types.
const (
	ActionPublish = "publish"
	ActionJournal = "journal"
	ActionDrop    = "drop"
)

// ErrInvalidRules is wrapped by every rule file validation error.
var ErrInvalidRules = errors.New("invalid rules")

// RuleFile represents the top-level YAML file.
type RuleFile struct {
	SchemaVersion string `yaml:"schemaVersion"`
	Rules         []Rule `yaml:"rules"`
}

type Rule struct {
	Name       string      `yaml:"name"`
	Trigger    Trigger     `yaml:"trigger"`
	Conditions []Condition `yaml:"conditions,omitempty"`
	Actions    []Action    `yaml:"actions"`
}

// Trigger selects events by their context attributes. Empty fields match
// anything.
type Trigger struct {
	Source string `yaml:"source"`
	Type   string `yaml:"type"`
	ID     string `yaml:"id,omitempty"`
}

type Condition struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value,omitempty"`
}

type Action struct {
	Type   string            `yaml:"type"`
	Params map[string]string `yaml:"params,omitempty"`
}

// LoadRuleFile reads and validates a rules file from disk.
func LoadRuleFile(path string) (*RuleFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	rf, err := ParseRuleFile(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rf, nil
}

// ParseRuleFile decodes and validates YAML rules. Unknown keys are rejected.
func ParseRuleFile(b []byte) (*RuleFile, error) {
	var rf RuleFile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse rules: %v: %w", err, ErrInvalidRules)
	}
	if err := rf.Validate(); err != nil {
		return nil, err
	}
	return &rf, nil
}

// Validate checks the schema version, rule names and the known condition and
// action types.
func (f *RuleFile) Validate() error {
	if f.SchemaVersion != RulesSchemaVersionV1 {
		return fmt.Errorf("unsupported schemaVersion %q: %w", f.SchemaVersion, ErrInvalidRules)
	}
	seen := make(map[string]struct{}, len(f.Rules))
	for i, r := range f.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule %d has no name: %w", i, ErrInvalidRules)
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("duplicate rule %q: %w", r.Name, ErrInvalidRules)
		}
		seen[r.Name] = struct{}{}

		for _, c := range r.Conditions {
			switch c.Type {
			case ConditionSubjectPrefix, ConditionDataContentType, ConditionDataSchema, ConditionHasData:
			default:
				return fmt.Errorf("rule %q: unknown condition %q: %w", r.Name, c.Type, ErrInvalidRules)
			}
		}
		if len(r.Actions) == 0 {
			return fmt.Errorf("rule %q has no actions: %w", r.Name, ErrInvalidRules)
		}
		for _, a := range r.Actions {
			switch a.Type {
			case ActionPublish, ActionJournal, ActionDrop:
			default:
				return fmt.Errorf("rule %q: unknown action %q: %w", r.Name, a.Type, ErrInvalidRules)
			}
		}
	}
	return nil
}

// Match returns every rule that applies to ce, in file order.
func (f *RuleFile) Match(ce CloudEvent) []Rule {
	var out []Rule
	for _, r := range f.Rules {
		if r.Matches(ce) {
			out = append(out, r)
		}
	}
	return out
}

// Matches reports whether the trigger and all conditions hold for ce.
func (r Rule) Matches(ce CloudEvent) bool {
	if r.Trigger.Source != "" && r.Trigger.Source != ce.Source() {
		return false
	}
	if r.Trigger.Type != "" && r.Trigger.Type != ce.Type() {
		return false
	}
	if r.Trigger.ID != "" && r.Trigger.ID != ce.ID() {
		return false
	}
	for _, c := range r.Conditions {
		if !c.holds(ce) {
			return false
		}
	}
	return true
}

func (c Condition) holds(ce CloudEvent) bool {
	switch c.Type {
	case ConditionSubjectPrefix:
		s, ok := ce.Subject().Get()
		return ok && strings.HasPrefix(s, c.Value)
	case ConditionDataContentType:
		ct, ok := ce.DataContentType().Get()
		if !ok {
			return false
		}
		mt, _, _ := strings.Cut(ct, ";")
		return strings.EqualFold(strings.TrimSpace(mt), c.Value)
	case ConditionDataSchema:
		s, ok := ce.DataSchema().Get()
		return ok && s == c.Value
	case ConditionHasData:
		return ce.Data().IsSet() == (c.Value != "false")
	}
	return false
}
