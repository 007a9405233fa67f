package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	dataDir string
	dbOK    bool
	mapKey  string
}

// NewInfoHandler creates the info handler. mapKey is the MapTiler key; only
// its presence is reported.
func NewInfoHandler(dataDir string, dbOK bool, mapKey string) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, dbOK: dbOK, mapKey: mapKey}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	DataDir  string   `json:"data_dir" doc:"Data directory path"`
	DB       bool     `json:"db" doc:"Whether the SQL catalog is available"`
	MapStyle bool     `json:"map_style" doc:"Whether a map style key is configured"`
	Features []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := []string{"carbon-sinks", "drawing", "datastar"}
	if h.dbOK {
		features = append(features, "duckdb")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "forest-sync",
		Version:  Version,
		DataDir:  h.dataDir,
		DB:       h.dbOK,
		MapStyle: h.mapKey != "",
		Features: features,
	}}, nil
}
