package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/forest-sync/internal/db"
)

// DBHandler handles the SQL catalog endpoints.
type DBHandler struct {
	catalog *db.Catalog
}

// NewDBHandler creates a new database handler. catalog may be nil when
// DuckDB could not be opened.
func NewDBHandler(catalog *db.Catalog) *DBHandler {
	return &DBHandler{catalog: catalog}
}

// RegisterRoutes registers database routes with Huma.
func (h *DBHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/tables", h.ListTables, huma.OperationTags("catalog"))
	huma.Post(api, "/api/v1/query", h.Query, huma.OperationTags("catalog"))
}

// TablesOutput is the response for listing tables.
type TablesOutput struct {
	Body struct {
		Tables []string `json:"tables" doc:"List of table names"`
	}
}

// ListTables returns all DuckDB tables.
func (h *DBHandler) ListTables(ctx context.Context, input *struct{}) (*TablesOutput, error) {
	if h.catalog == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	tables, err := h.catalog.Tables(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}

	out := &TablesOutput{}
	out.Body.Tables = tables
	return out, nil
}

// QueryInput is the input for SQL queries.
type QueryInput struct {
	Body struct {
		Query string `json:"query" required:"true" minLength:"1" doc:"Read-only SQL statement" example:"SELECT name, co2_tons FROM carbon_sinks ORDER BY co2_tons DESC"`
		Limit int    `json:"limit,omitempty" minimum:"0" maximum:"10000" default:"1000" doc:"Maximum rows returned"`
	}
}

// QueryOutput is the response for SQL queries.
type QueryOutput struct {
	Body struct {
		Columns []string         `json:"columns" doc:"Column names"`
		Rows    []map[string]any `json:"rows" doc:"Query results"`
		Count   int              `json:"count" doc:"Number of rows returned"`
	}
}

// Query executes a read-only SQL statement against the catalog.
func (h *DBHandler) Query(ctx context.Context, input *QueryInput) (*QueryOutput, error) {
	if h.catalog == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	res, err := h.catalog.Query(ctx, input.Body.Query, input.Body.Limit)
	if errors.Is(err, db.ErrNotReadOnly) {
		return nil, huma.Error403Forbidden(err.Error())
	}
	if err != nil {
		return nil, huma.Error400BadRequest("Query failed: " + err.Error())
	}

	out := &QueryOutput{}
	out.Body.Columns = res.Columns
	out.Body.Rows = res.Rows
	out.Body.Count = len(res.Rows)
	return out, nil
}
