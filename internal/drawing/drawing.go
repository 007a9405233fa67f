// Package drawing holds the freehand polygon a user draws on the map.
//
// A Session is a value. Apply computes the next session from the previous one
// and an event and never mutates its input, so observers can compare old and
// new sessions freely.
package drawing

import (
	"fmt"
	"slices"

	"github.com/joeblew999/forest-sync/internal/geometry"
)

// Mode is the drawing state.
type Mode int

const (
	Idle Mode = iota
	Drawing
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Drawing:
		return "drawing"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// EventType names a drawing event.
type EventType string

const (
	Enable     EventType = "enable"
	Disable    EventType = "disable"
	Click      EventType = "click"
	RemoveLast EventType = "remove-last"
)

// ParseEventType validates an event name received from the client.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case Enable, Disable, Click, RemoveLast:
		return t, nil
	default:
		return "", fmt.Errorf("unknown drawing event %q", s)
	}
}

// Event is an input to the state machine. Point is only read for Click.
type Event struct {
	Type  EventType
	Point geometry.GeoPoint
}

// Session is the polygon in progress.
type Session struct {
	Mode   Mode
	Points geometry.Polygon
}

// New returns an empty idle session, as created when a map view mounts.
func New() Session {
	return Session{Mode: Idle}
}

type transition func(s Session, e Event) Session

// transitions lists what each event does in each mode. Events missing from a
// mode are ignored.
var transitions = map[Mode]map[EventType]transition{
	Idle: {
		Enable:  start,
		Disable: stop,
	},
	Drawing: {
		Enable:     start,
		Disable:    stop,
		Click:      appendPoint,
		RemoveLast: removeLast,
	},
}

// Apply returns the session that results from e.
func Apply(s Session, e Event) Session {
	if fn, ok := transitions[s.Mode][e.Type]; ok {
		return fn(s, e)
	}
	return s
}

// Allowed returns the events that change a session in the given mode, in a
// stable order. The map view uses it to decide which controls to offer.
func Allowed(m Mode) []EventType {
	var out []EventType
	for _, t := range []EventType{Enable, Disable, Click, RemoveLast} {
		if _, ok := transitions[m][t]; ok {
			out = append(out, t)
		}
	}
	return out
}

func start(Session, Event) Session {
	return Session{Mode: Drawing}
}

func stop(Session, Event) Session {
	return Session{Mode: Idle}
}

func appendPoint(s Session, e Event) Session {
	points := make(geometry.Polygon, len(s.Points), len(s.Points)+1)
	copy(points, s.Points)
	return Session{Mode: s.Mode, Points: append(points, e.Point)}
}

func removeLast(s Session, _ Event) Session {
	if len(s.Points) == 0 {
		return s
	}
	return Session{Mode: s.Mode, Points: slices.Clone(s.Points[:len(s.Points)-1])}
}

// Len returns the number of points drawn so far.
func (s Session) Len() int {
	return len(s.Points)
}

// Polygon returns a copy of the drawn points.
func (s Session) Polygon() geometry.Polygon {
	return slices.Clone(s.Points)
}

// Equal reports whether two sessions have the same mode and points.
func (s Session) Equal(o Session) bool {
	return s.Mode == o.Mode && slices.Equal(s.Points, o.Points)
}
