// Package db keeps a DuckDB copy of the registry so it can be explored with
// SQL. The tables are rebuilt from every snapshot the feed delivers.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/forest-sync/internal/geometry"
	"github.com/joeblew999/forest-sync/internal/service"
)

// ErrNotReadOnly is returned by Query for statements that could modify the
// catalog.
var ErrNotReadOnly = errors.New("only read-only statements are allowed")

// Table names.
const (
	TableCarbonSinks = "carbon_sinks"
	TableOwners      = "owners"
)

// Config holds database configuration.
type Config struct {
	// Path of the database file. Empty keeps the catalog in memory.
	Path string
	// Extensions are installed and loaded on open, e.g. "spatial".
	Extensions []string
}

// Catalog is the DuckDB connection plus the registry tables.
type Catalog struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

// Open opens (or creates) the catalog.
func Open(cfg Config, log *slog.Logger) (*Catalog, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	for _, ext := range cfg.Extensions {
		if _, err := conn.Exec(fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			// Offline hosts cannot install; the catalog works without them.
			log.Warn("duckdb extension not loaded", "extension", ext, "error", err)
		}
	}

	c := &Catalog{db: conn, log: log, now: time.Now}
	if err := c.LoadSnapshot(context.Background(), service.Snapshot{}); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// DB returns the underlying connection.
func (c *Catalog) DB() *sql.DB { return c.db }

// Close closes the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

const createSinks = `CREATE OR REPLACE TABLE carbon_sinks (
	id              VARCHAR PRIMARY KEY,
	name            VARCHAR NOT NULL,
	owner           VARCHAR,
	owner_id        VARCHAR,
	country         VARCHAR,
	size_ha         DOUBLE,
	planted_date    DATE,
	co2_stored_tons DOUBLE,
	co2_tons        DOUBLE,
	lat             DOUBLE,
	lng             DOUBLE,
	area_ha         DOUBLE,
	boundary        VARCHAR
)`

const createOwners = `CREATE OR REPLACE TABLE owners (
	id      VARCHAR PRIMARY KEY,
	name    VARCHAR NOT NULL,
	country VARCHAR
)`

// LoadSnapshot replaces both registry tables with the snapshot contents in
// one transaction. co2_tons holds the stored value or the estimate as of now;
// boundary holds the parcel as GeoJSON so ST_GeomFromGeoJSON can read it when
// the spatial extension is loaded.
func (c *Catalog) LoadSnapshot(ctx context.Context, snap service.Snapshot) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{createSinks, createOwners} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
	}

	insertSink, err := tx.PrepareContext(ctx,
		`INSERT INTO carbon_sinks VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	defer insertSink.Close()

	now := c.now()
	seen := make(map[string]bool, len(snap.CarbonSinks))
	for _, s := range snap.CarbonSinks {
		if seen[s.ID] {
			c.log.WarnContext(ctx, "duplicate sink id skipped", "id", s.ID)
			continue
		}
		seen[s.ID] = true

		var stored any
		if s.CO2StoredTons != nil {
			stored = *s.CO2StoredTons
		}
		area, boundary := parcel(s.Polygon)
		_, err := insertSink.ExecContext(ctx,
			s.ID, s.Name, s.Owner, s.OwnerID, s.Country, s.SizeHa,
			s.Planted(), stored, s.CO2(now),
			s.Geolocation.Lat, s.Geolocation.Lng, area, boundary,
		)
		if err != nil {
			return fmt.Errorf("insert sink %s: %w", s.ID, err)
		}
	}

	insertOwner, err := tx.PrepareContext(ctx, `INSERT INTO owners VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	defer insertOwner.Close()

	clear(seen)
	for _, o := range snap.Owners {
		if seen[o.ID] {
			c.log.WarnContext(ctx, "duplicate owner id skipped", "id", o.ID)
			continue
		}
		seen[o.ID] = true
		if _, err := insertOwner.ExecContext(ctx, o.ID, o.Name, o.Country); err != nil {
			return fmt.Errorf("insert owner %s: %w", o.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	c.log.DebugContext(ctx, "catalog loaded", "sinks", len(snap.CarbonSinks), "owners", len(snap.Owners))
	return nil
}

// parcel returns the boundary area and GeoJSON, or nils when there is no
// usable boundary.
func parcel(p geometry.Polygon) (area, boundary any) {
	if len(p) < geometry.MinVertices {
		return nil, nil
	}
	if ha, err := geometry.AreaHectares(p); err == nil {
		area = ha
	}
	raw, err := geojson.NewGeometry(orb.Polygon{p.Ring()}).MarshalJSON()
	if err == nil {
		boundary = string(raw)
	}
	return area, boundary
}

// Tables returns the table names in the catalog.
func (c *Catalog) Tables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Result is the outcome of Query.
type Result struct {
	Columns []string
	Rows    []map[string]any
}

var readOnlyVerbs = []string{"SELECT", "WITH", "FROM", "SHOW", "DESCRIBE", "SUMMARIZE", "EXPLAIN"}

// ReadOnly reports whether q starts with a statement that only reads.
// Multiple statements are rejected.
func ReadOnly(q string) bool {
	q = strings.TrimSpace(q)
	q = strings.TrimSuffix(q, ";")
	if strings.Contains(q, ";") {
		return false
	}
	fields := strings.Fields(q)
	if len(fields) == 0 {
		return false
	}
	verb := strings.ToUpper(fields[0])
	for _, v := range readOnlyVerbs {
		if verb == v {
			return true
		}
	}
	return false
}

// Query runs a read-only statement and returns at most limit rows. A limit
// of zero or less returns every row.
func (c *Catalog) Query(ctx context.Context, q string, limit int) (Result, error) {
	if !ReadOnly(q) {
		return Result{}, ErrNotReadOnly
	}

	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}

	res := Result{Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		if limit > 0 && len(res.Rows) >= limit {
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		res.Rows = append(res.Rows, row)
	}
	return res, rows.Err()
}
