// Package view mounts the pages of the app onto map surfaces and keeps each
// browser tab's page in step with its events.
package view

import (
	"strings"

	"github.com/joeblew999/forest-sync/internal/viewstate"
)

// Kind is the page a route selects. It doubles as the body class of the page.
type Kind string

const (
	KindMap   Kind = viewstate.Prefix
	KindSink  Kind = "carbon-sink"
	KindOwner Kind = "owner"
)

// Route is a parsed fragment path.
type Route struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id,omitempty"`
	// Fragment is the path as given, without '#'. The map page reads its
	// camera from it.
	Fragment string `json:"fragment,omitempty"`
}

// ParseRoute selects a page from a fragment path. carbon-sink/<id> and
// owner/<id> select detail pages; anything else, including those prefixes
// with no id, selects the map.
func ParseRoute(path string) Route {
	path = strings.TrimPrefix(path, "#")
	head, rest, _ := strings.Cut(path, "/")
	id, _, _ := strings.Cut(rest, "/")
	switch Kind(head) {
	case KindSink, KindOwner:
		if id != "" {
			return Route{Kind: Kind(head), ID: id, Fragment: path}
		}
	}
	return Route{Kind: KindMap, Fragment: path}
}

// Path returns the fragment path for the route, without '#'.
func (r Route) Path() string {
	if r.Kind == KindMap {
		return r.Fragment
	}
	return string(r.Kind) + "/" + r.ID
}
