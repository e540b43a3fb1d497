package mentions

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	defaultOrg              = "ghostty-org"
	defaultOwnerTTL         = time.Hour
	defaultEntityTTL        = 30 * time.Minute
	defaultViewTimeout      = 30 * time.Second
	defaultFreezeEmoji      = "📌"
	defaultMaxMessageLength = 4096
	mainRepoKey             = "main"
)

// Config configures the mentions module.
type Config struct {
	// Org is the owner used for bare and aliased references.
	Org string
	// Repos maps short repository keys to repository names under Org.
	// The "main" key is required and serves bare #123 references.
	Repos map[string]string
	// Aliases maps additional names onto Repos keys.
	Aliases map[string]string
	// OwnerTTL is how long a resolved repository owner stays fresh.
	OwnerTTL time.Duration
	// EntityTTL is how long fetched issue and pull request details stay fresh.
	EntityTTL time.Duration
	// ViewTimeout is how long reply buttons stay attached.
	ViewTimeout time.Duration
	// FreezeEmoji stops edit propagation when added to a reply.
	FreezeEmoji string
	// MaxMessageLength bounds the rendered reply in code points.
	MaxMessageLength int
	// GitHub configures the REST client.
	GitHub GitHubConfig
}

// GitHubConfig configures GitHub REST access.
type GitHubConfig struct {
	// Token is an optional personal access token.
	Token string
	// BaseURL overrides the REST endpoint, mainly for GitHub Enterprise and tests.
	BaseURL string
	// Timeout bounds each REST request.
	Timeout time.Duration
}

type fileConfig struct {
	Org              string            `json:"org"`
	Repos            map[string]string `json:"repos"`
	Aliases          map[string]string `json:"aliases"`
	OwnerTTL         string            `json:"owner_ttl"`
	EntityTTL        string            `json:"entity_ttl"`
	ViewTimeout      string            `json:"view_timeout"`
	FreezeEmoji      *string           `json:"freeze_emoji"`
	MaxMessageLength int               `json:"max_message_length"`
	GitHub           fileGitHubConfig  `json:"github"`
}

type fileGitHubConfig struct {
	Token   string `json:"token"`
	BaseURL string `json:"base_url"`
	Timeout string `json:"timeout"`
}

// DefaultConfig returns the configuration used when no document is supplied.
func DefaultConfig() Config {
	return Config{
		Org: defaultOrg,
		Repos: map[string]string{
			mainRepoKey: "ghostty",
			"web":       "website",
			"bot":       "discord-bot",
		},
		Aliases: map[string]string{
			"ghostty":     mainRepoKey,
			"website":     "web",
			"discord-bot": "bot",
			"bobr":        "bot",
		},
		OwnerTTL:         defaultOwnerTTL,
		EntityTTL:        defaultEntityTTL,
		ViewTimeout:      defaultViewTimeout,
		FreezeEmoji:      defaultFreezeEmoji,
		MaxMessageLength: defaultMaxMessageLength,
		GitHub: GitHubConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// ParseConfig decodes a JSON module document over DefaultConfig and validates it.
//
// Empty input yields the defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Config{}, fmt.Errorf("parse mentions config: %w", err)
	}

	if org := strings.TrimSpace(parsed.Org); org != "" {
		cfg.Org = org
	}
	if len(parsed.Repos) > 0 {
		cfg.Repos = normalizeKeys(parsed.Repos)
	}
	if parsed.Aliases != nil {
		cfg.Aliases = normalizeKeys(parsed.Aliases)
	}
	if parsed.FreezeEmoji != nil {
		cfg.FreezeEmoji = strings.TrimSpace(*parsed.FreezeEmoji)
	}
	if parsed.MaxMessageLength != 0 {
		cfg.MaxMessageLength = parsed.MaxMessageLength
	}
	cfg.GitHub.Token = strings.TrimSpace(parsed.GitHub.Token)
	cfg.GitHub.BaseURL = strings.TrimSpace(parsed.GitHub.BaseURL)

	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{field: "owner_ttl", raw: parsed.OwnerTTL, dst: &cfg.OwnerTTL},
		{field: "entity_ttl", raw: parsed.EntityTTL, dst: &cfg.EntityTTL},
		{field: "view_timeout", raw: parsed.ViewTimeout, dst: &cfg.ViewTimeout},
		{field: "github.timeout", raw: parsed.GitHub.Timeout, dst: &cfg.GitHub.Timeout},
	}
	for _, duration := range durations {
		raw := strings.TrimSpace(duration.raw)
		if raw == "" {
			continue
		}
		value, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse mentions config %s: %w", duration.field, err)
		}
		*duration.dst = value
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks mentions config coherence.
func (cfg Config) Validate() error {
	if cfg.Org == "" {
		return fmt.Errorf("validate mentions config: org is required")
	}
	if cfg.Repos[mainRepoKey] == "" {
		return fmt.Errorf("validate mentions config: repos.%s is required", mainRepoKey)
	}
	for alias, key := range cfg.Aliases {
		if _, exists := cfg.Repos[key]; !exists {
			return fmt.Errorf("validate mentions config: alias %s points to unknown repo key %q", alias, key)
		}
	}
	switch {
	case cfg.OwnerTTL <= 0:
		return fmt.Errorf("validate mentions config: owner_ttl must be > 0")
	case cfg.EntityTTL <= 0:
		return fmt.Errorf("validate mentions config: entity_ttl must be > 0")
	case cfg.ViewTimeout <= 0:
		return fmt.Errorf("validate mentions config: view_timeout must be > 0")
	case cfg.GitHub.Timeout <= 0:
		return fmt.Errorf("validate mentions config: github.timeout must be > 0")
	case cfg.MaxMessageLength < len(omissionNote)+1:
		return fmt.Errorf("validate mentions config: max_message_length %d is too small", cfg.MaxMessageLength)
	}
	if cfg.GitHub.BaseURL != "" {
		parsed, err := url.Parse(cfg.GitHub.BaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("validate mentions config: github.base_url %q is not an absolute url", cfg.GitHub.BaseURL)
		}
	}

	return nil
}

// lookupRepo resolves a short repository name through Aliases and Repos.
func (cfg Config) lookupRepo(name string) (string, bool) {
	key := strings.ToLower(name)
	if aliased, ok := cfg.Aliases[key]; ok {
		key = aliased
	}
	repo, ok := cfg.Repos[key]

	return repo, ok
}

func normalizeKeys(values map[string]string) map[string]string {
	normalized := make(map[string]string, len(values))
	for key, value := range values {
		normalized[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	return normalized
}
