package telegram

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ex-hermes/internal/msgstore"
	"ex-hermes/pkg/hermes"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

const (
	defaultRuntimeSessionFile  = ".cache/telegram/session.json"
	defaultRuntimePublishDelay = 2 * time.Second
	defaultRuntimeAuthTimeout  = 3 * time.Minute
	defaultRuntimeUpdateBuffer = 256
)

type runtimeConfig struct {
	AppID            int    `json:"app_id"`
	AppHash          string `json:"app_hash"`
	BotToken         string `json:"bot_token"`
	PublishTimeout   string `json:"publish_timeout"`
	UpdateBuffer     int    `json:"update_buffer"`
	AuthTimeout      string `json:"auth_timeout"`
	Code             string `json:"code"`
	Phone            string `json:"phone"`
	Password         string `json:"password"`
	SessionFile      string `json:"session_file"`
	SnapshotCapacity int    `json:"snapshot_capacity"`
	SnapshotTTL      string `json:"snapshot_ttl"`
}

type parsedRuntimeConfig struct {
	appID            int
	appHash          string
	botToken         string
	publishTimeout   time.Duration
	updateBuffer     int
	authTimeout      time.Duration
	code             string
	phone            string
	password         string
	sessionFile      string
	snapshotCapacity int
	snapshotTTL      time.Duration
}

// BuildRuntimeFromConfig builds one telegram driver runtime from config payload.
//
// The driver and the sink dispatcher share one snapshot store, so replies
// the bot sends are known when Telegram later reports them deleted.
func BuildRuntimeFromConfig(
	name string,
	logger *slog.Logger,
	rawConfig []byte,
) (hermes.EventSource, hermes.Driver, hermes.SinkDispatcher, error) {
	cfg, err := parseRuntimeConfig(rawConfig)
	if err != nil {
		return hermes.EventSource{}, nil, nil, fmt.Errorf("parse telegram runtime config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	sessionStorage, err := newGotdSessionStorage(cfg.sessionFile)
	if err != nil {
		return hermes.EventSource{}, nil, nil, fmt.Errorf("new gotd session storage: %w", err)
	}

	updateChannel := NewGotdUpdateChannel(cfg.updateBuffer)
	client := gotdtelegram.NewClient(cfg.appID, cfg.appHash, gotdtelegram.Options{
		UpdateHandler:  updateChannel,
		SessionStorage: sessionStorage,
	})

	peers := NewPeerCache()
	store := msgstore.New(cfg.snapshotCapacity, cfg.snapshotTTL)

	source, err := newGotdSource(
		gotdAuthenticatedClient{
			client: client,
			authenticate: func(ctx context.Context) error {
				return authenticateGotdClient(ctx, logger, client, cfg)
			},
		},
		updateChannel,
		peers,
		logger,
	)
	if err != nil {
		return hermes.EventSource{}, nil, nil, fmt.Errorf("new gotd source: %w", err)
	}

	driver, err := NewDriver(
		source,
		store,
		WithName(name),
		WithPublishTimeout(cfg.publishTimeout),
		WithDriverLogger(logger),
	)
	if err != nil {
		return hermes.EventSource{}, nil, nil, fmt.Errorf("new telegram driver: %w", err)
	}

	sink, err := NewOutboundDispatcher(
		client,
		peers,
		store,
		WithOutboundTimeout(cfg.publishTimeout),
		WithOutboundLogger(logger),
		WithSinkRef(hermes.EventSink{Platform: DriverPlatform, ID: name}),
	)
	if err != nil {
		return hermes.EventSource{}, nil, nil, fmt.Errorf("new telegram sink dispatcher: %w", err)
	}

	return hermes.EventSource{Platform: DriverPlatform, ID: name}, driver, sink, nil
}

func parseRuntimeConfig(raw []byte) (parsedRuntimeConfig, error) {
	if len(raw) == 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("missing config")
	}

	var parsed runtimeConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return parsedRuntimeConfig{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg := parsedRuntimeConfig{
		appID:            parsed.AppID,
		appHash:          strings.TrimSpace(parsed.AppHash),
		botToken:         strings.TrimSpace(parsed.BotToken),
		publishTimeout:   defaultRuntimePublishDelay,
		updateBuffer:     parsed.UpdateBuffer,
		authTimeout:      defaultRuntimeAuthTimeout,
		code:             strings.TrimSpace(parsed.Code),
		phone:            strings.TrimSpace(parsed.Phone),
		password:         strings.TrimSpace(parsed.Password),
		sessionFile:      strings.TrimSpace(parsed.SessionFile),
		snapshotCapacity: parsed.SnapshotCapacity,
	}

	if cfg.updateBuffer <= 0 {
		cfg.updateBuffer = defaultRuntimeUpdateBuffer
	}
	if cfg.sessionFile == "" {
		cfg.sessionFile = defaultRuntimeSessionFile
	}
	if cfg.snapshotCapacity < 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("snapshot_capacity must be >= 0")
	}

	durations := []struct {
		field  string
		raw    string
		target *time.Duration
	}{
		{field: "publish_timeout", raw: parsed.PublishTimeout, target: &cfg.publishTimeout},
		{field: "auth_timeout", raw: parsed.AuthTimeout, target: &cfg.authTimeout},
		{field: "snapshot_ttl", raw: parsed.SnapshotTTL, target: &cfg.snapshotTTL},
	}
	for _, duration := range durations {
		value := strings.TrimSpace(duration.raw)
		if value == "" {
			continue
		}
		parsedDuration, err := time.ParseDuration(value)
		if err != nil {
			return parsedRuntimeConfig{}, fmt.Errorf("parse %s: %w", duration.field, err)
		}
		if parsedDuration <= 0 {
			return parsedRuntimeConfig{}, fmt.Errorf("parse %s: must be > 0", duration.field)
		}
		*duration.target = parsedDuration
	}

	if cfg.appID <= 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("app_id must be > 0")
	}
	if cfg.appHash == "" {
		return parsedRuntimeConfig{}, fmt.Errorf("app_hash is required")
	}
	if cfg.botToken != "" && cfg.phone != "" {
		return parsedRuntimeConfig{}, fmt.Errorf("bot_token and phone are mutually exclusive")
	}

	return cfg, nil
}

func newGotdSessionStorage(path string) (*session.FileStorage, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty session file path")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve session file %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	return &session.FileStorage{Path: absPath}, nil
}

// gotdAuthenticatedClient runs fn inside the gotd client once the session is
// authorized.
type gotdAuthenticatedClient struct {
	client       *gotdtelegram.Client
	authenticate func(ctx context.Context) error
}

func (c gotdAuthenticatedClient) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	switch {
	case c.client == nil:
		return fmt.Errorf("run gotd client: nil client")
	case c.authenticate == nil:
		return fmt.Errorf("run gotd client: nil authenticate callback")
	case fn == nil:
		return fmt.Errorf("run gotd client: nil run callback")
	}

	err := c.client.Run(ctx, func(runCtx context.Context) error {
		if err := c.authenticate(runCtx); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
		return fn(runCtx)
	})
	if err != nil {
		return fmt.Errorf("run gotd client: %w", err)
	}

	return nil
}

func authenticateGotdClient(
	ctx context.Context,
	logger *slog.Logger,
	client *gotdtelegram.Client,
	cfg parsedRuntimeConfig,
) error {
	if client == nil {
		return fmt.Errorf("authenticate gotd client: nil client")
	}

	if cfg.authTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.authTimeout)
		defer cancel()
	}

	status, err := client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}

	method := "session"
	switch {
	case status.Authorized:
	case cfg.botToken != "":
		method = "bot_token"
		if _, err := client.Auth().Bot(ctx, cfg.botToken); err != nil {
			return fmt.Errorf("authenticate bot: %w", err)
		}
	case cfg.phone != "":
		method = "user"
		if err := client.Auth().IfNecessary(ctx, userAuthFlow(cfg)); err != nil {
			return fmt.Errorf("authenticate user: %w", err)
		}
	default:
		return fmt.Errorf("telegram login needs bot_token or phone")
	}

	logger.Info("telegram authorized", "method", method, "session_file", cfg.sessionFile)

	return nil
}

// userAuthFlow logs in with phone and code, adding the 2FA password when one
// is configured.
func userAuthFlow(cfg parsedRuntimeConfig) auth.Flow {
	codePrompt := auth.CodeAuthenticatorFunc(func(_ context.Context, _ *tg.AuthSentCode) (string, error) {
		return telegramAuthCode(cfg.code)
	})

	var authenticator auth.UserAuthenticator = auth.CodeOnly(cfg.phone, codePrompt)
	if cfg.password != "" {
		authenticator = auth.Constant(cfg.phone, cfg.password, codePrompt)
	}

	return auth.NewFlow(authenticator, auth.SendCodeOptions{})
}

// telegramAuthCode returns the configured login code or reads one from an
// interactive stdin.
func telegramAuthCode(configuredCode string) (string, error) {
	if code := strings.TrimSpace(configuredCode); code != "" {
		return code, nil
	}

	info, err := os.Stdin.Stat()
	if err != nil {
		return "", fmt.Errorf("stat stdin: %w", err)
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return "", fmt.Errorf("no login code configured and stdin is not a terminal")
	}

	fmt.Fprint(os.Stdout, "Telegram login code: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read login code: %w", err)
	}
	if code := strings.TrimSpace(line); code != "" {
		return code, nil
	}

	return "", fmt.Errorf("empty login code")
}
