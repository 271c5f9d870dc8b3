package gateway

import (
	"fmt"

	"github.com/primaryrutabaga/ruby-gateway/pkg/natsx"
	"github.com/primaryrutabaga/ruby-gateway/pkg/schemas"
)

const (
	subjectParam = "$subject"

	// deadLetterConsumer names the dead-letter subject of unroutable events.
	deadLetterConsumer = "router"
)

// Route is where one accepted event goes.
type Route struct {
	Subjects []string
	Journal  bool
	// Err is set when the event could not be routed; Subjects then holds the
	// dead-letter subject only.
	Err error
}

// Router turns events into routes using the rules file. Without rules, and for
// events no rule matches, every event is journaled and published to
// <defaultSource>.events.<type>.
type Router struct {
	rules         *schemas.RuleFile
	defaultSource string
	deadLetter    string
}

// NewRouter creates a Router. rules may be nil. Publish parameters that do not
// depend on the event are checked here so that a bad rules file fails at
// startup.
func NewRouter(rules *schemas.RuleFile, defaultSource string) (*Router, error) {
	deadLetter, err := natsx.BuildDLQSubject(defaultSource, deadLetterConsumer)
	if err != nil {
		return nil, fmt.Errorf("default source %q: %w", defaultSource, err)
	}
	if rules != nil {
		for _, rule := range rules.Rules {
			for _, a := range rule.Actions {
				if a.Type != schemas.ActionPublish {
					continue
				}
				if err := validatePublish(a.Params); err != nil {
					return nil, fmt.Errorf("rule %s: %w", rule.Name, err)
				}
			}
		}
	}
	return &Router{rules: rules, defaultSource: defaultSource, deadLetter: deadLetter}, nil
}

// Route resolves the subjects and journaling of ce. A matching drop action
// wins over everything else. Events whose subject cannot be built are
// journaled and sent to the dead-letter subject.
func (r *Router) Route(ce schemas.CloudEvent) Route {
	route, err := r.route(ce)
	if err != nil {
		return Route{Subjects: []string{r.deadLetter}, Journal: true, Err: err}
	}
	return route
}

func (r *Router) route(ce schemas.CloudEvent) (Route, error) {
	var matched []schemas.Rule
	if r.rules != nil {
		matched = r.rules.Match(ce)
	}
	if len(matched) == 0 {
		subject, err := natsx.BuildSubject(r.defaultSource, "events", natsx.Sanitize(ce.Type()), "", "")
		if err != nil {
			return Route{}, fmt.Errorf("default route for %s: %w", ce.ID(), err)
		}
		return Route{Subjects: []string{subject}, Journal: true}, nil
	}

	var route Route
	seen := make(map[string]struct{})
	for _, rule := range matched {
		for _, a := range rule.Actions {
			switch a.Type {
			case schemas.ActionDrop:
				return Route{}, nil
			case schemas.ActionJournal:
				route.Journal = true
			case schemas.ActionPublish:
				subject, err := publishSubject(a.Params, ce)
				if err != nil {
					return Route{}, fmt.Errorf("rule %s: %w", rule.Name, err)
				}
				if _, dup := seen[subject]; dup {
					continue
				}
				seen[subject] = struct{}{}
				route.Subjects = append(route.Subjects, subject)
			}
		}
	}
	return route, nil
}

func publishSubject(params map[string]string, ce schemas.CloudEvent) (string, error) {
	typ := params["type"]
	if typ == "" {
		typ = natsx.Sanitize(ce.Type())
	}
	id := params["id"]
	if id == subjectParam {
		id = natsx.Sanitize(ce.Subject().ValueOr(""))
	}
	return natsx.BuildSubject(params["source"], classParam(params), typ, id, params["action"])
}

// validatePublish builds a subject with stand-ins for the tokens taken from
// the event, which checks every literal parameter.
func validatePublish(params map[string]string) error {
	typ := params["type"]
	if typ == "" {
		typ = "event_type"
	}
	id := params["id"]
	if id == subjectParam {
		id = ""
	}
	_, err := natsx.BuildSubject(params["source"], classParam(params), typ, id, params["action"])
	return err
}

func classParam(params map[string]string) string {
	if c := params["class"]; c != "" {
		return c
	}
	return "events"
}
