package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"ex-hermes/internal/driver"
	"ex-hermes/modules/mentions"
	"ex-hermes/modules/xkcd"
)

const (
	envConfigFile             = "HERMES_CONFIG_FILE"
	defaultConfigFilePath     = "config/bot.json"
	alternateConfigFilePath   = "bin/config/bot.json"
	defaultModuleHookTimeout  = 3 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultHandlerTimeout     = 30 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 2
)

type appConfig struct {
	logLevel slog.Level

	moduleHookTimeout   time.Duration
	shutdownTimeout     time.Duration
	handlerTimeout      time.Duration
	subscriptionBuffer  int
	subscriptionWorkers int

	drivers []driver.Definition

	mentionsEnabled bool
	mentions        mentions.Config
	xkcdEnabled     bool
	xkcd            xkcd.Config
}

type fileConfig struct {
	LogLevel string            `json:"log_level"`
	Kernel   fileKernelConfig  `json:"kernel"`
	Drivers  []fileDriverEntry `json:"drivers"`
	Modules  fileModulesConfig `json:"modules"`
}

type fileKernelConfig struct {
	ModuleHookTimeout   string `json:"module_hook_timeout"`
	ShutdownTimeout     string `json:"shutdown_timeout"`
	HandlerTimeout      string `json:"handler_timeout"`
	SubscriptionBuffer  *int   `json:"subscription_buffer"`
	SubscriptionWorkers *int   `json:"subscription_workers"`
}

type fileDriverEntry struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

type fileModulesConfig struct {
	Mentions json.RawMessage `json:"mentions"`
	XKCD     json.RawMessage `json:"xkcd"`
}

// fileModuleSwitch reads the enabled flag that sits next to a module's own keys.
type fileModuleSwitch struct {
	Enabled *bool `json:"enabled"`
}

func loadConfig(registry *driver.Registry) (appConfig, error) {
	configFile, err := resolveConfigFilePath()
	if err != nil {
		return appConfig{}, err
	}

	cfg := defaultAppConfig()
	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}
	if err := validateAppConfig(cfg, registry); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath() (string, error) {
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set %s",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel: slog.LevelInfo,

		moduleHookTimeout:   defaultModuleHookTimeout,
		shutdownTimeout:     defaultShutdownTimeout,
		handlerTimeout:      defaultHandlerTimeout,
		subscriptionBuffer:  defaultSubscriptionBuffer,
		subscriptionWorkers: defaultSubscriptionWorker,

		drivers: make([]driver.Definition, 0),

		mentionsEnabled: true,
		mentions:        mentions.DefaultConfig(),
		xkcdEnabled:     true,
		xkcd:            xkcd.DefaultConfig(),
	}
}

// normalizeConfigDocument converts YAML and TOML documents into JSON so that
// every section, including raw driver and module payloads, is parsed one way.
func normalizeConfigDocument(path string, data []byte) ([]byte, error) {
	var document map[string]any

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &document); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &document); err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
	default:
		return data, nil
	}

	normalized, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("encode normalized json: %w", err)
	}

	return normalized, nil
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	data, err = normalizeConfigDocument(path, data)
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}

	if err := applyKernelConfig(cfg, parsed.Kernel); err != nil {
		return err
	}

	if cfg.drivers, err = parseDriverEntries(parsed.Drivers); err != nil {
		return err
	}

	return applyModuleSections(cfg, parsed.Modules)
}

func parseDriverEntries(entries []fileDriverEntry) ([]driver.Definition, error) {
	definitions := make([]driver.Definition, 0, len(entries))
	for index, entry := range entries {
		if len(entry.Config) == 0 {
			return nil, fmt.Errorf("parse drivers[%d].config: required", index)
		}
		definitions = append(definitions, driver.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Type:    strings.TrimSpace(entry.Type),
			Enabled: entry.Enabled == nil || *entry.Enabled,
			Config:  append([]byte(nil), entry.Config...),
		})
	}

	return definitions, nil
}

// applyModuleSections parses the config of every enabled module. A disabled
// module's remaining keys are ignored.
func applyModuleSections(cfg *appConfig, modules fileModulesConfig) error {
	sections := []struct {
		field   string
		raw     json.RawMessage
		enabled *bool
		parse   func(json.RawMessage) error
	}{
		{
			field:   "modules.mentions",
			raw:     modules.Mentions,
			enabled: &cfg.mentionsEnabled,
			parse: func(raw json.RawMessage) (err error) {
				cfg.mentions, err = mentions.ParseConfig(raw)
				return err
			},
		},
		{
			field:   "modules.xkcd",
			raw:     modules.XKCD,
			enabled: &cfg.xkcdEnabled,
			parse: func(raw json.RawMessage) (err error) {
				cfg.xkcd, err = xkcd.ParseConfig(raw)
				return err
			},
		},
	}

	for _, section := range sections {
		enabled, err := moduleEnabled(section.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", section.field, err)
		}
		*section.enabled = enabled
		if !enabled {
			continue
		}
		if err := section.parse(section.raw); err != nil {
			return fmt.Errorf("parse %s: %w", section.field, err)
		}
	}

	return nil
}

func applyKernelConfig(cfg *appConfig, parsed fileKernelConfig) error {
	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{field: "kernel.module_hook_timeout", raw: parsed.ModuleHookTimeout, dst: &cfg.moduleHookTimeout},
		{field: "kernel.shutdown_timeout", raw: parsed.ShutdownTimeout, dst: &cfg.shutdownTimeout},
		{field: "kernel.handler_timeout", raw: parsed.HandlerTimeout, dst: &cfg.handlerTimeout},
	}
	for _, duration := range durations {
		raw := strings.TrimSpace(duration.raw)
		if raw == "" {
			continue
		}
		value, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", duration.field, err)
		}
		if value <= 0 {
			return fmt.Errorf("parse %s: must be > 0", duration.field)
		}
		*duration.dst = value
	}

	if parsed.SubscriptionBuffer != nil {
		if *parsed.SubscriptionBuffer <= 0 {
			return fmt.Errorf("parse kernel.subscription_buffer: must be > 0")
		}
		cfg.subscriptionBuffer = *parsed.SubscriptionBuffer
	}
	if parsed.SubscriptionWorkers != nil {
		if *parsed.SubscriptionWorkers <= 0 {
			return fmt.Errorf("parse kernel.subscription_workers: must be > 0")
		}
		cfg.subscriptionWorkers = *parsed.SubscriptionWorkers
	}

	return nil
}

func moduleEnabled(raw json.RawMessage) (bool, error) {
	if len(raw) == 0 {
		return true, nil
	}

	var parsed fileModuleSwitch
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return false, err
	}

	return parsed.Enabled == nil || *parsed.Enabled, nil
}

func validateAppConfig(cfg appConfig, registry *driver.Registry) error {
	if registry == nil {
		return fmt.Errorf("nil driver registry")
	}

	enabled := 0
	seen := make(map[string]struct{}, len(cfg.drivers))
	for _, definition := range cfg.drivers {
		if definition.Name == "" {
			return fmt.Errorf("drivers[].name is required")
		}
		if definition.Type == "" {
			return fmt.Errorf("drivers[%s].type is required", definition.Name)
		}
		if _, exists := seen[definition.Name]; exists {
			return fmt.Errorf("drivers[%s]: duplicate name", definition.Name)
		}
		seen[definition.Name] = struct{}{}
		if !definition.Enabled {
			continue
		}
		if _, err := registry.PlatformForType(definition.Type); err != nil {
			return fmt.Errorf("drivers[%s].type: %w", definition.Name, err)
		}
		enabled++
	}
	if enabled == 0 {
		return fmt.Errorf("at least one enabled driver is required")
	}

	if !cfg.mentionsEnabled && !cfg.xkcdEnabled {
		return fmt.Errorf("at least one module must be enabled")
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}
