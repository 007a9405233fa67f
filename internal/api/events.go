package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/forest-sync/internal/humastar"
	"github.com/joeblew999/forest-sync/internal/service"
)

// EventHandler streams registry change events to the Datastar UI via SSE.
type EventHandler struct {
	humastar.Handler
	bus   *service.EventBus[service.Event]
	sinks *service.SinkService
}

// NewEventHandler creates a new event handler.
func NewEventHandler(bus *service.EventBus[service.Event], sinks *service.SinkService) *EventHandler {
	return &EventHandler{bus: bus, sinks: sinks}
}

func (h *EventHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/events", h.Events,
		huma.OperationTags("datastar"),
	)
}

func (h *EventHandler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		ch := h.bus.Subscribe()
		defer h.bus.Unsubscribe(ch)

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
				signals := map[string]any{}
				if ev.Resource == "sinks" {
					snap := h.sinks.Snapshot()
					signals["sinks"] = len(snap.CarbonSinks)
					signals["owners"] = len(snap.Owners)
				}
				if len(signals) > 0 {
					_ = sse.Signals(signals)
				}
				err := sse.DispatchCustomEvent("resource-changed", map[string]any{
					"resource": ev.Resource,
					"action":   ev.Action,
					"id":       ev.ID,
				})
				if err != nil {
					return
				}
			}
		}
	}), nil
}
