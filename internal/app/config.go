package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config mirrors the reference implementation's config.toml shape:
// [http], [mpd], [storage] sections. Loaded once at startup; nothing
// currently supports reloading it.
type Config struct {
	HTTP    HTTPConfig    `toml:"http"`
	MPD     MPDConfig     `toml:"mpd"`
	Storage StorageConfig `toml:"storage"`

	LogLevel  string `toml:"-"`
	LogFormat string `toml:"-"`
}

type HTTPConfig struct {
	Listen      string `toml:"listen"`
	InternalURL string `toml:"internal_url"`
	ExternalURL string `toml:"external_url"`
}

type MPDConfig struct {
	Socket string `toml:"socket"`
}

type StorageConfig struct {
	Archive string `toml:"archive"`
	Working string `toml:"working"`
}

// Load reads config.toml from the current working directory, or from
// the path named by HAILSPLAY_CONFIG if set. Log level/format stay
// env-var driven, matching the teacher's getEnv fallback style, since
// the reference implementation's config.toml carries no logging
// section at all.
func Load() (Config, error) {
	path := getEnv("HAILSPLAY_CONFIG", "")
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("get working directory: %w", err)
		}
		path = filepath.Join(cwd, "config.toml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}

	cfg.LogLevel = strings.ToLower(getEnv("HAILSPLAY_LOG_LEVEL", "info"))
	cfg.LogFormat = strings.ToLower(getEnv("HAILSPLAY_LOG_FORMAT", "text"))

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
