// Package server wires the registry, the feed, the per-tab views and the
// HTTP surface together.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/joeblew999/forest-sync/internal/api"
	"github.com/joeblew999/forest-sync/internal/config"
	"github.com/joeblew999/forest-sync/internal/db"
	"github.com/joeblew999/forest-sync/internal/metrics"
	"github.com/joeblew999/forest-sync/internal/overlay"
	"github.com/joeblew999/forest-sync/internal/service"
	"github.com/joeblew999/forest-sync/internal/source"
	"github.com/joeblew999/forest-sync/internal/templates"
	"github.com/joeblew999/forest-sync/internal/tiles"
	"github.com/joeblew999/forest-sync/internal/view"
)

//go:embed web
var web embed.FS

const (
	// TabIdle is how long a tab may go without requests or a connected ops
	// stream before it is closed.
	TabIdle = 10 * time.Minute
	// SweepSchedule is when idle tabs are looked for.
	SweepSchedule = "@every 1m"
)

// Server is the forest-sync HTTP server.
type Server struct {
	cfg *config.Config
	log *slog.Logger

	mux     *http.ServeMux
	humaAPI huma.API

	sinks     *service.SinkService
	manager   *view.Manager
	fetcher   *source.Fetcher
	refresher *source.Refresher
	catalog   *db.Catalog
}

// New creates a server. Nothing runs until Start.
func New(cfg *config.Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("forest-sync API", api.Version)
	humaConfig.Info.Description = "Carbon sink registry and map engine."
	humaConfig.Servers = []*huma.Server{
		{URL: "http://" + displayAddr(cfg.Server), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	s := &Server{
		cfg:     cfg,
		log:     log,
		mux:     mux,
		humaAPI: humago.New(mux, humaConfig),
		sinks:   service.NewSinkService(cfg.DataDir, service.DefaultBus),
	}

	fetcher, err := source.NewFetcher(cfg.Feed.IndexURL, &http.Client{Timeout: cfg.Feed.Timeout}, log.With("component", "feed"))
	if err != nil {
		return nil, err
	}
	s.fetcher = fetcher
	s.refresher = source.NewRefresher(fetcher, s.sinks, cfg.Feed.Refresh, cfg.Feed.Timeout, log.With("component", "refresh"))

	// The catalog is optional; the map works without it.
	catalog, err := db.Open(db.Config{Path: cfg.DB.Path}, log.With("component", "catalog"))
	if err != nil {
		log.Warn("SQL catalog unavailable", "error", err)
	} else {
		s.catalog = catalog
		if err := catalog.LoadSnapshot(context.Background(), s.sinks.Snapshot()); err != nil {
			log.Warn("cached snapshot not loaded into catalog", "error", err)
		}
	}

	planner := overlay.NewPlanner(cfg.Map.BaseURL)
	planner.Log = log.With("component", "overlay")
	ops := service.NewEventBus[service.Op]()
	s.manager = view.NewManager(view.Deps{
		Registry:      s.sinks,
		Bus:           ops,
		Planner:       planner,
		DefaultCamera: cfg.Map.Camera(),
		DetailZoom:    cfg.Map.DetailZoom,
		Log:           log.With("component", "view"),
	})

	s.refresher.OnRefresh(func(ctx context.Context, snap service.Snapshot) {
		s.manager.Refresh(ctx)
		if s.catalog != nil {
			if err := s.catalog.LoadSnapshot(ctx, snap); err != nil {
				s.log.ErrorContext(ctx, "catalog load failed", "error", err)
			}
		}
	})
	if err := s.refresher.Schedule(SweepSchedule, "tab sweep", func(context.Context) {
		if n := s.manager.Sweep(TabIdle); n > 0 {
			s.log.Info("closed idle tabs", "count", n)
		}
	}); err != nil {
		return nil, err
	}

	s.routes(ops)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// API returns the Huma API.
func (s *Server) API() huma.API { return s.humaAPI }

// OpenAPI returns the OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI { return s.humaAPI.OpenAPI() }

// Start begins polling the feed and sweeping idle tabs.
func (s *Server) Start(ctx context.Context) error {
	return s.refresher.Start(ctx)
}

// Close stops the scheduler, closes every tab and releases the catalog.
func (s *Server) Close() error {
	s.refresher.Stop()
	s.manager.CloseAll()
	if s.catalog != nil {
		return s.catalog.Close()
	}
	return nil
}

func (s *Server) routes(ops *service.EventBus[service.Op]) {
	huma.AutoRegister(s.humaAPI, api.NewAPIHandler(&api.Services{Sinks: s.sinks, Refresher: s.refresher}))
	huma.AutoRegister(s.humaAPI, api.NewInfoHandler(s.cfg.DataDir, s.catalog != nil, s.cfg.Map.MapTilerKey))
	huma.AutoRegister(s.humaAPI, api.NewDBHandler(s.catalog))
	huma.AutoRegister(s.humaAPI, api.NewViewHandler(s.manager, ops, templates.Default(), s.cfg.Map.BaseURL, s.log.With("component", "views")))
	huma.AutoRegister(s.humaAPI, api.NewEventHandler(service.DefaultBus, s.sinks))

	s.mux.Handle("GET /metrics", metrics.Handler())
	s.mux.HandleFunc("GET /map/config", s.handleMapConfig)
	s.mux.Handle("GET /tiles/sinks/{z}/{x}/{y}", tiles.New(s.sinks, s.log.With("component", "tiles")).Handler())

	static, err := fs.Sub(web, "web")
	if err != nil {
		panic(err)
	}
	s.mux.Handle("GET /", http.FileServerFS(static))
}

// MapConfig is what the page script needs to create its map.
type MapConfig struct {
	StyleURL string       `json:"styleUrl"`
	Scale    ScaleControl `json:"scale"`
}

// ScaleControl configures the map's scale bar.
type ScaleControl struct {
	MaxWidth int    `json:"maxWidth"`
	Unit     string `json:"unit"`
}

func (s *Server) handleMapConfig(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Map.MapTilerKey == "" {
		s.log.Warn("map style requested without a MapTiler key")
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(MapConfig{
		StyleURL: s.cfg.Map.Style(),
		Scale:    ScaleControl{MaxWidth: 80, Unit: "metric"},
	})
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Server.Addr(), Handler: s}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// displayAddr returns the address a browser on this machine would use.
func displayAddr(c config.ServerConfig) string {
	host := c.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

// BaseURL returns the URL the server is reachable at locally.
func (s *Server) BaseURL() string {
	return "http://" + displayAddr(s.cfg.Server)
}
