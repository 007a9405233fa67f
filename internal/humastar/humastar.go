// Package humastar bridges Huma (REST/OpenAPI) with Datastar (SSE/hypermedia).
//
// It provides:
//   - SSE: Huma streaming to the Datastar SSE protocol via [SSE] and [NewSSE]
//   - Signals: typed access to Datastar signals via [Signals] and [SignalsInput]
//   - Handler: an embeddable base with fragment rendering via [Handler]
package humastar

import (
	"encoding/json"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/joeblew999/forest-sync/internal/service"
	"github.com/joeblew999/forest-sync/internal/templates"
)

// MapOpEvent is the browser event that carries one map surface op.
const MapOpEvent = "map-op"

// Handler is an embeddable base for Huma handlers that produce Datastar SSE
// responses.
type Handler struct {
	Templates *templates.Renderer
	Log       *slog.Logger
}

// Stream returns a Huma StreamResponse that calls fn with a ready SSE helper.
func (h *Handler) Stream(fn func(sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			fn(NewSSE(humaCtx))
		},
	}
}

// Render renders a fragment. Failures are logged and yield an empty string
// so one broken fragment does not end the stream.
func (h *Handler) Render(name string, data any) string {
	html, err := h.Templates.Render(name, data)
	if err != nil {
		h.Logger().Error("fragment render failed", "template", name, "error", err)
		return ""
	}
	return html
}

// Logger returns the handler's logger, or the default one.
func (h *Handler) Logger() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}

// SSE wraps a Datastar SSE generator with the patterns the views use.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// NewSSE creates a Datastar SSE helper from a Huma streaming context.
func NewSSE(ctx huma.Context) SSE {
	r, w := humago.Unwrap(ctx)
	return SSE{datastar.NewSSE(w, r)}
}

// Patch sends HTML to replace inner content at a CSS selector.
func (s SSE) Patch(html, selector string) error {
	return s.PatchElements(html,
		datastar.WithSelector(selector),
		datastar.WithModeInner(),
	)
}

// Replace replaces outer HTML at a CSS selector.
func (s SSE) Replace(html, selector string) error {
	return s.PatchElements(html,
		datastar.WithSelector(selector),
		datastar.WithModeOuter(),
	)
}

// Error sends an error signal to the UI.
func (s SSE) Error(msg string) error {
	return s.MarshalAndPatchSignals(map[string]any{"error": msg})
}

// Signals sends arbitrary signals to the UI.
func (s SSE) Signals(signals map[string]any) error {
	return s.MarshalAndPatchSignals(signals)
}

// MapOps dispatches each op as a map-op event. The page script applies them
// to its map in order.
func (s SSE) MapOps(ops ...service.Op) error {
	for _, op := range ops {
		if err := s.DispatchCustomEvent(MapOpEvent, op); err != nil {
			return err
		}
	}
	return nil
}

// Signals provides type-safe access to Datastar signal values.
// Datastar sends all signals as a flat JSON object in the request body.
type Signals map[string]any

// ParseSignals parses Datastar signals from a raw request body.
func ParseSignals(body []byte) (Signals, error) {
	var signals Signals
	if err := json.Unmarshal(body, &signals); err != nil {
		return nil, err
	}
	return signals, nil
}

// String returns a string signal value, or empty string if not found.
func (s Signals) String(key string) string {
	if v, ok := s[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return ""
}

// EmptyInput is a shared input struct for handlers with no parameters.
type EmptyInput struct{}

// SignalsInput is an input struct for handlers that receive Datastar signals.
type SignalsInput struct {
	RawBody []byte
}

// MustParse parses signals or returns a Huma 400 error.
func (i *SignalsInput) MustParse() (Signals, error) {
	signals, err := ParseSignals(i.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid request data: " + err.Error())
	}
	return signals, nil
}
