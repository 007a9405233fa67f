// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/forest-sync/internal/format"
	"github.com/joeblew999/forest-sync/internal/geometry"
	"github.com/joeblew999/forest-sync/internal/humastar"
	"github.com/joeblew999/forest-sync/internal/service"
	"github.com/joeblew999/forest-sync/internal/source"
)

// Version is reported by /health and /api/v1/info.
const Version = "0.1.0"

// Services holds the service dependencies for API handlers.
type Services struct {
	Sinks *service.SinkService
	// Refresher is nil when the feed is not polled, e.g. while exporting the
	// OpenAPI document.
	Refresher *source.Refresher
	Now       func() time.Time
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Resource ID" example:"c5e6bc75-aa93-41e3-9899-f1de5222e564"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
}

// SinkBody is a carbon sink with the values derived from it.
type SinkBody struct {
	service.CarbonSink
	PlantedOn    string                   `json:"plantedOn" format:"date" doc:"Planting date"`
	CO2Tons      float64                  `json:"co2Tons" doc:"Stored CO2, or the estimate when none is recorded"`
	CO2Estimated bool                     `json:"co2Estimated" doc:"Whether co2Tons is an estimate"`
	Metrics      *geometry.DerivedMetrics `json:"metrics,omitempty" doc:"Label point and area of the boundary"`
}

// OwnerBody is a landowner with their sinks.
type OwnerBody struct {
	service.Owner
	Sinks   []SinkBody `json:"sinks" doc:"Carbon sinks of the owner"`
	CO2Tons float64    `json:"co2Tons" doc:"CO2 across all sinks of the owner"`
}

type SinkListInput struct {
	humastar.PageInput
	Owner string `query:"owner" doc:"Only sinks of this owner ID"`
}

type MetricsInput struct {
	Body struct {
		Polygon geometry.Polygon `json:"polygon" minItems:"3" doc:"Boundary points, not closed"`
	}
}

type MetricsBody struct {
	geometry.DerivedMetrics
	Label string `json:"label" doc:"Area label as drawn on the map" example:"124.26 ha"`
}

type FeedBody struct {
	source.Status
	Sinks     int       `json:"sinks" doc:"Carbon sinks in the current snapshot"`
	Owners    int       `json:"owners" doc:"Owners in the current snapshot"`
	FetchedAt time.Time `json:"fetchedAt" doc:"When the current snapshot was read"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	if svc.Now == nil {
		svc.Now = time.Now
	}
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterSinks registers carbon sink routes.
func (h *APIHandler) RegisterSinks(api huma.API) {
	huma.Get(api, "/api/v1/sinks", h.ListSinks, huma.OperationTags("sinks"))
	huma.Get(api, "/api/v1/sinks/{id}", h.GetSink, huma.OperationTags("sinks"))
}

// RegisterOwners registers landowner routes.
func (h *APIHandler) RegisterOwners(api huma.API) {
	huma.Get(api, "/api/v1/owners", h.ListOwners, huma.OperationTags("owners"))
	huma.Get(api, "/api/v1/owners/{id}", h.GetOwner, huma.OperationTags("owners"))
}

// RegisterGeometry registers geometry helpers.
func (h *APIHandler) RegisterGeometry(api huma.API) {
	huma.Post(api, "/api/v1/geometry/metrics", h.PolygonMetrics, huma.OperationTags("geometry"))
}

// RegisterFeed registers feed status and refresh routes.
func (h *APIHandler) RegisterFeed(api huma.API) {
	huma.Get(api, "/api/v1/feed", h.GetFeed, huma.OperationTags("feed"))
	huma.Post(api, "/api/v1/feed/refresh", h.RefreshFeed, huma.OperationTags("feed"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) ListSinks(ctx context.Context, input *SinkListInput) (*struct {
	Body humastar.PageBody[SinkBody]
}, error) {
	sinks := h.svc.Sinks.List()
	if input.Owner != "" {
		sinks = h.svc.Sinks.SinksOf(input.Owner)
	}
	page := humastar.Paginate(sinks, input.PageInput)
	body := humastar.PageBody[SinkBody]{Total: page.Total, Offset: page.Offset, Limit: page.Limit, Data: h.sinkBodies(page.Data)}
	return &struct {
		Body humastar.PageBody[SinkBody]
	}{Body: body}, nil
}

func (h *APIHandler) GetSink(ctx context.Context, input *IDInput) (*struct{ Body SinkBody }, error) {
	sink, ok := h.svc.Sinks.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("carbon sink not found")
	}
	return &struct{ Body SinkBody }{Body: h.sinkBody(sink)}, nil
}

func (h *APIHandler) ListOwners(ctx context.Context, input *humastar.PageInput) (*struct {
	Body humastar.PageBody[service.Owner]
}, error) {
	return &struct {
		Body humastar.PageBody[service.Owner]
	}{Body: humastar.Paginate(h.svc.Sinks.Owners(), *input)}, nil
}

func (h *APIHandler) GetOwner(ctx context.Context, input *IDInput) (*struct{ Body OwnerBody }, error) {
	owner, ok := h.svc.Sinks.Owner(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("owner not found")
	}
	body := OwnerBody{Owner: owner, Sinks: h.sinkBodies(h.svc.Sinks.SinksOf(owner.ID))}
	for _, s := range body.Sinks {
		body.CO2Tons += s.CO2Tons
	}
	return &struct{ Body OwnerBody }{Body: body}, nil
}

func (h *APIHandler) PolygonMetrics(ctx context.Context, input *MetricsInput) (*struct{ Body MetricsBody }, error) {
	for i, p := range input.Body.Polygon {
		if !p.Valid() {
			return nil, huma.Error422UnprocessableEntity("invalid coordinate", &huma.ErrorDetail{
				Location: "body.polygon[" + strconv.Itoa(i) + "]", Message: "out of range", Value: p,
			})
		}
	}
	m, err := geometry.Metrics(input.Body.Polygon)
	if errors.Is(err, geometry.ErrDegenerateGeometry) {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("metrics failed", err)
	}
	return &struct{ Body MetricsBody }{Body: MetricsBody{DerivedMetrics: m, Label: format.AreaLabel(m.AreaHectares)}}, nil
}

func (h *APIHandler) GetFeed(ctx context.Context, input *struct{}) (*struct{ Body FeedBody }, error) {
	return &struct{ Body FeedBody }{Body: h.feedBody()}, nil
}

func (h *APIHandler) RefreshFeed(ctx context.Context, input *struct{}) (*struct{ Body FeedBody }, error) {
	if h.svc.Refresher == nil {
		return nil, huma.Error503ServiceUnavailable("feed refresh not configured")
	}
	if err := h.svc.Refresher.Refresh(ctx); err != nil {
		if errors.Is(err, source.ErrDataUnavailable) {
			return nil, huma.Error502BadGateway(err.Error())
		}
		return nil, huma.Error500InternalServerError("refresh failed", err)
	}
	return &struct{ Body FeedBody }{Body: h.feedBody()}, nil
}

func (h *APIHandler) feedBody() FeedBody {
	snap := h.svc.Sinks.Snapshot()
	body := FeedBody{Sinks: len(snap.CarbonSinks), Owners: len(snap.Owners), FetchedAt: snap.FetchedAt}
	if h.svc.Refresher != nil {
		body.Status = h.svc.Refresher.Status()
	}
	return body
}

func (h *APIHandler) sinkBody(s service.CarbonSink) SinkBody {
	body := SinkBody{
		CarbonSink:   s,
		PlantedOn:    s.Planted().Format(time.DateOnly),
		CO2Tons:      s.CO2(h.svc.Now()),
		CO2Estimated: s.CO2StoredTons == nil,
	}
	if m, err := geometry.Metrics(s.Polygon); err == nil {
		body.Metrics = &m
	}
	return body
}

func (h *APIHandler) sinkBodies(sinks []service.CarbonSink) []SinkBody {
	out := make([]SinkBody, len(sinks))
	for i, s := range sinks {
		out[i] = h.sinkBody(s)
	}
	return out
}
