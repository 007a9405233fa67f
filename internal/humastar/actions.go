package humastar

import "fmt"

// Action is a state-dependent hypermedia action link.
// Response bodies implement the Actor interface to emit conditional
// RFC 8288 Link headers with method and title extension parameters.
//
// Example Link header output:
//
//	</api/v1/views/42/drawing/enable>; rel="enable"; method="POST"; title="Start drawing"
type Action struct {
	Rel    string
	Href   string
	Method string
	Title  string
}

// Actor is implemented by response bodies that provide state-dependent actions.
type Actor interface {
	Actions() []Action
}

// LinkHeader formats the action as an RFC 8288 Link header value.
func (a Action) LinkHeader() string {
	h := fmt.Sprintf(`<%s>; rel="%s"`, a.Href, a.Rel)
	if a.Method != "" {
		h += fmt.Sprintf(`; method="%s"`, a.Method)
	}
	if a.Title != "" {
		h += fmt.Sprintf(`; title="%s"`, a.Title)
	}
	return h
}

// ActionDef is a reusable action template. Pattern uses a single %s verb for
// the resource ID.
type ActionDef struct {
	Rel     string
	Pattern string
	Method  string
	Title   string
}

// ActionsFor generates concrete actions from defs for a resource ID.
func ActionsFor(id string, defs ...ActionDef) []Action {
	actions := make([]Action, len(defs))
	for i, d := range defs {
		actions[i] = Action{
			Rel:    d.Rel,
			Href:   fmt.Sprintf(d.Pattern, id),
			Method: d.Method,
			Title:  d.Title,
		}
	}
	return actions
}
