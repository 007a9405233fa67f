// Package config loads forest-sync settings from an optional YAML file, the
// environment and a .env file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/joeblew999/forest-sync/internal/viewstate"
)

// EnvPrefix prefixes every environment override: FORESTSYNC_FEED_INDEX_URL
// sets feed.index_url.
const EnvPrefix = "FORESTSYNC"

// Config holds all application configuration.
type Config struct {
	// DataDir holds the cached feed snapshot.
	DataDir string       `mapstructure:"data_dir"`
	Server  ServerConfig `mapstructure:"server"`
	Feed    FeedConfig   `mapstructure:"feed"`
	Map     MapConfig    `mapstructure:"map"`
	Log     LogConfig    `mapstructure:"log"`
	DB      DBConfig     `mapstructure:"db"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type FeedConfig struct {
	IndexURL string        `mapstructure:"index_url"`
	Refresh  string        `mapstructure:"refresh"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type MapConfig struct {
	MapTilerKey string  `mapstructure:"maptiler_key"`
	StyleURL    string  `mapstructure:"style_url"`
	BaseURL     string  `mapstructure:"base_url"`
	Lat         float64 `mapstructure:"lat"`
	Lng         float64 `mapstructure:"lng"`
	Zoom        float64 `mapstructure:"zoom"`
	DetailZoom  float64 `mapstructure:"detail_zoom"`
}

// Style returns the map style URL with the MapTiler key filled in.
func (m MapConfig) Style() string {
	return strings.ReplaceAll(m.StyleURL, "{key}", url.QueryEscape(m.MapTilerKey))
}

// Camera returns the configured default camera.
func (m MapConfig) Camera() viewstate.CameraState {
	return viewstate.CameraState{Lat: m.Lat, Lng: m.Lng, Zoom: m.Zoom}
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DBConfig struct {
	// Path of the DuckDB file. Empty keeps the catalog in memory.
	Path string `mapstructure:"path"`
}

// Load reads configuration. path names an explicit config file; when empty,
// config.yaml is looked up in . and ./configs and may be absent.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // OK if missing

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The key is shared with the frontend build, which reads it unprefixed.
	_ = v.BindEnv("map.maptiler_key", EnvPrefix+"_MAP_MAPTILER_KEY", "MAPTILER_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", ".data")
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8086)
	v.SetDefault("feed.index_url", "https://forestsync.github.io/mvp-data/")
	v.SetDefault("feed.refresh", "@every 15m")
	v.SetDefault("feed.timeout", 30*time.Second)
	v.SetDefault("map.style_url", "https://api.maptiler.com/maps/satellite/style.json?key={key}")
	v.SetDefault("map.base_url", "/")
	v.SetDefault("map.lat", viewstate.Default.Lat)
	v.SetDefault("map.lng", viewstate.Default.Lng)
	v.SetDefault("map.zoom", viewstate.Default.Zoom)
	v.SetDefault("map.detail_zoom", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("db.path", "")
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if u, err := url.Parse(c.Feed.IndexURL); err != nil || !u.IsAbs() {
		errs = append(errs, fmt.Sprintf("feed.index_url must be an absolute URL, got %q", c.Feed.IndexURL))
	}
	if c.Feed.Refresh != "" {
		if _, err := cron.ParseStandard(c.Feed.Refresh); err != nil {
			errs = append(errs, fmt.Sprintf("feed.refresh: %v", err))
		}
	}
	if c.Feed.Timeout <= 0 {
		errs = append(errs, "feed.timeout must be positive")
	}
	if c.Map.Lat < -90 || c.Map.Lat > 90 {
		errs = append(errs, fmt.Sprintf("map.lat must be within [-90, 90], got %v", c.Map.Lat))
	}
	if c.Map.Lng < -180 || c.Map.Lng > 180 {
		errs = append(errs, fmt.Sprintf("map.lng must be within [-180, 180], got %v", c.Map.Lng))
	}
	if c.Map.DetailZoom < 0 {
		errs = append(errs, "map.detail_zoom must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
