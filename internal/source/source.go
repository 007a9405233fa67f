// Package source reads the carbon sink registry feed: an index document that
// links to one JSON document per sheet.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/forest-sync/internal/geometry"
	"github.com/joeblew999/forest-sync/internal/metrics"
	"github.com/joeblew999/forest-sync/internal/service"
)

// Sheet titles in the index.
const (
	SheetCarbonSinks = "carbon sink"
	SheetOwners      = "landowner"
)

// ErrDataUnavailable marks a feed that is missing, empty or unreadable.
var ErrDataUnavailable = errors.New("data unavailable")

// IndexEntry links a sheet to its document.
type IndexEntry struct {
	SheetID int    `json:"sheetId" validate:"gte=0"`
	Title   string `json:"title" validate:"required"`
	Link    string `json:"link" validate:"required"`
}

// Fetcher reads snapshots from the feed.
type Fetcher struct {
	index    *url.URL
	client   *http.Client
	validate *validator.Validate
	log      *slog.Logger
	now      func() time.Time
}

// NewFetcher returns a fetcher for the index at indexURL. client may be nil.
func NewFetcher(indexURL string, client *http.Client, log *slog.Logger) (*Fetcher, error) {
	u, err := url.Parse(indexURL)
	if err != nil {
		return nil, fmt.Errorf("index url: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("index url %q is not absolute", indexURL)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{index: u, client: client, validate: NewValidator(), log: log, now: time.Now}, nil
}

// NewValidator returns a validator that also checks every GeoPoint it meets
// lies within latitude and longitude bounds.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		p := sl.Current().Interface().(geometry.GeoPoint)
		if !p.Valid() {
			sl.ReportError(p.Lat, "Lat", "lat", "geopoint", p.String())
		}
	}, geometry.GeoPoint{})
	return v
}

// Fetch reads the index and then both sheets concurrently. A sheet missing
// from the index yields an empty list. Records that fail validation are
// dropped and logged. Any transport or decoding error fails the whole fetch
// so the caller can keep its previous snapshot.
func (f *Fetcher) Fetch(ctx context.Context) (service.Snapshot, error) {
	start := time.Now()
	defer func() { metrics.FeedFetchDuration.Observe(time.Since(start).Seconds()) }()

	var index []IndexEntry
	if err := f.getJSON(ctx, "index", f.index, &index); err != nil {
		return service.Snapshot{}, err
	}
	if len(index) == 0 {
		return service.Snapshot{}, fmt.Errorf("%w: index %s lists no sheets", ErrDataUnavailable, f.index)
	}

	snap := service.Snapshot{CarbonSinks: []service.CarbonSink{}, Owners: []service.Owner{}}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sinks, err := fetchSheet[service.CarbonSink](gctx, f, index, SheetCarbonSinks)
		snap.CarbonSinks = sinks
		return err
	})
	g.Go(func() error {
		owners, err := fetchSheet[service.Owner](gctx, f, index, SheetOwners)
		snap.Owners = owners
		return err
	})
	if err := g.Wait(); err != nil {
		return service.Snapshot{}, err
	}

	snap.FetchedAt = f.now()
	metrics.FeedRecords.WithLabelValues(SheetCarbonSinks).Set(float64(len(snap.CarbonSinks)))
	metrics.FeedRecords.WithLabelValues(SheetOwners).Set(float64(len(snap.Owners)))
	return snap, nil
}

// Lookup returns the index entry with the given title.
func Lookup(index []IndexEntry, title string) (IndexEntry, bool) {
	for _, e := range index {
		if e.Title == title {
			return e, true
		}
	}
	return IndexEntry{}, false
}

func fetchSheet[T any](ctx context.Context, f *Fetcher, index []IndexEntry, title string) ([]T, error) {
	entry, ok := Lookup(index, title)
	if !ok {
		f.log.WarnContext(ctx, "sheet not in index", "sheet", title, "error", ErrDataUnavailable)
		metrics.FeedFetches.WithLabelValues(title, "missing").Inc()
		return []T{}, nil
	}
	if err := f.validate.Struct(entry); err != nil {
		f.log.WarnContext(ctx, "invalid index entry", "sheet", title, "error", err)
		metrics.FeedFetches.WithLabelValues(title, "missing").Inc()
		return []T{}, nil
	}
	link, err := f.index.Parse(entry.Link)
	if err != nil {
		return nil, fmt.Errorf("%w: sheet %q link %q: %v", ErrDataUnavailable, title, entry.Link, err)
	}

	var raw []T
	if err := f.getJSON(ctx, title, link, &raw); err != nil {
		return nil, err
	}

	out := make([]T, 0, len(raw))
	for i, rec := range raw {
		if err := f.validate.Struct(rec); err != nil {
			f.log.WarnContext(ctx, "record dropped", "sheet", title, "index", i, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *Fetcher) getJSON(ctx context.Context, sheet string, u *url.URL, dst any) (err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.FeedFetches.WithLabelValues(sheet, result).Inc()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: get %s: %v", ErrDataUnavailable, u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: get %s: %s", ErrDataUnavailable, u, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrDataUnavailable, u, err)
	}
	return nil
}
