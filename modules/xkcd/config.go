package xkcd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config configures the xkcd module.
type Config struct {
	// BaseURL is the comic site root.
	BaseURL string
	// CacheTTL is how long a fetched comic stays fresh.
	CacheTTL time.Duration
	// ViewTimeout is how long reply buttons stay attached.
	ViewTimeout time.Duration
	// RequestTimeout bounds one comic fetch.
	RequestTimeout time.Duration
	// RequestInterval is the steady-state spacing between comic fetches.
	RequestInterval time.Duration
	// RequestBurst is how many fetches may run back to back.
	RequestBurst int
}

type fileConfig struct {
	BaseURL         string `json:"base_url"`
	CacheTTL        string `json:"cache_ttl"`
	ViewTimeout     string `json:"view_timeout"`
	RequestTimeout  string `json:"request_timeout"`
	RequestInterval string `json:"request_interval"`
	RequestBurst    int    `json:"request_burst"`
}

// DefaultConfig returns the configuration used when no document is supplied.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://xkcd.com",
		CacheTTL:        12 * time.Hour,
		ViewTimeout:     time.Hour,
		RequestTimeout:  10 * time.Second,
		RequestInterval: time.Second,
		RequestBurst:    5,
	}
}

// ParseConfig decodes a JSON module document over DefaultConfig and validates it.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Config{}, fmt.Errorf("parse xkcd config: %w", err)
	}

	if baseURL := strings.TrimSpace(parsed.BaseURL); baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	if parsed.RequestBurst != 0 {
		cfg.RequestBurst = parsed.RequestBurst
	}

	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{field: "cache_ttl", raw: parsed.CacheTTL, dst: &cfg.CacheTTL},
		{field: "view_timeout", raw: parsed.ViewTimeout, dst: &cfg.ViewTimeout},
		{field: "request_timeout", raw: parsed.RequestTimeout, dst: &cfg.RequestTimeout},
		{field: "request_interval", raw: parsed.RequestInterval, dst: &cfg.RequestInterval},
	}
	for _, duration := range durations {
		raw := strings.TrimSpace(duration.raw)
		if raw == "" {
			continue
		}
		value, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse xkcd config %s: %w", duration.field, err)
		}
		*duration.dst = value
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks xkcd config coherence.
func (cfg Config) Validate() error {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("validate xkcd config: base_url %q is not an absolute url", cfg.BaseURL)
	}

	switch {
	case cfg.CacheTTL <= 0:
		return fmt.Errorf("validate xkcd config: cache_ttl must be > 0")
	case cfg.ViewTimeout <= 0:
		return fmt.Errorf("validate xkcd config: view_timeout must be > 0")
	case cfg.RequestTimeout <= 0:
		return fmt.Errorf("validate xkcd config: request_timeout must be > 0")
	case cfg.RequestInterval < 0:
		return fmt.Errorf("validate xkcd config: request_interval must be >= 0")
	case cfg.RequestBurst <= 0:
		return fmt.Errorf("validate xkcd config: request_burst must be > 0")
	}

	return nil
}
