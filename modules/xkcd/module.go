// Package xkcd replies to xkcd#<number> references with the referenced comics
// and keeps that reply in sync with the referencing message.
package xkcd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"ex-hermes/pkg/hermes"
	"ex-hermes/pkg/linker"
	"ex-hermes/pkg/reaction"
	"ex-hermes/pkg/ttrcache"
)

const (
	moduleName     = "xkcd"
	maxViewButtons = 5
)

// ComicFetcher loads one comic.
type ComicFetcher interface {
	Fetch(ctx context.Context, number int) (Comic, error)
}

// Module is the xkcd mentions feature.
type Module struct {
	cfg     Config
	fetcher ComicFetcher
	logger  *slog.Logger

	comics   *ttrcache.Cache[int, Comic]
	registry *linker.Registry
	pipeline *reaction.Pipeline
}

// Option mutates module construction settings.
type Option func(*Module)

// WithFetcher replaces the HTTP comic client.
func WithFetcher(fetcher ComicFetcher) Option {
	return func(m *Module) {
		m.fetcher = fetcher
	}
}

// New creates an xkcd module. Dependencies are resolved in OnRegister.
func New(cfg Config, options ...Option) *Module {
	module := &Module{cfg: cfg}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return moduleName
}

// Spec declares one ordered handler for message lifecycle events.
func (m *Module) Spec() hermes.ModuleSpec {
	return hermes.ModuleSpec{
		Handlers: []hermes.ModuleHandler{
			{
				Capability: hermes.Capability{
					Name:        "xkcd-mentions",
					Description: "posts referenced xkcd comics and keeps the post in sync",
					Interest: hermes.InterestSet{
						Kinds: []hermes.EventKind{
							hermes.EventKindMessageCreated,
							hermes.EventKindMessageEdited,
							hermes.EventKindMessageRetracted,
						},
					},
					RequiredServices: []string{hermes.ServiceSinkDispatcher},
				},
				Subscription: hermes.NewOrderedSubscriptionSpec("xkcd-messages"),
				Handler:      m.handleEvent,
			},
		},
	}
}

// OnRegister resolves services and builds the comic cache and pipeline.
func (m *Module) OnRegister(_ context.Context, runtime hermes.ModuleRuntime) error {
	if err := m.cfg.Validate(); err != nil {
		return fmt.Errorf("xkcd register: %w", err)
	}

	logger, err := hermes.ResolveAs[*slog.Logger](runtime.Services(), hermes.ServiceLogger)
	if err != nil {
		logger = slog.Default()
	}
	m.logger = logger.With("module", moduleName)

	dispatcher, err := hermes.ResolveAs[hermes.SinkDispatcher](runtime.Services(), hermes.ServiceSinkDispatcher)
	if err != nil {
		return fmt.Errorf("xkcd resolve sink dispatcher: %w", err)
	}

	if m.fetcher == nil {
		m.fetcher = NewClient(m.cfg)
	}
	m.comics, err = ttrcache.New[int, Comic](m.cfg.CacheTTL, m.fetcher.Fetch,
		ttrcache.WithFetchTimeout[int, Comic](m.cfg.RequestTimeout))
	if err != nil {
		return fmt.Errorf("xkcd register: %w", err)
	}

	m.registry = linker.New()
	m.pipeline, err = reaction.New(reaction.Config{
		Name:        moduleName,
		Registry:    m.registry,
		Dispatcher:  dispatcher,
		Processor:   reaction.ProcessorFunc(m.process),
		Interactor:  reaction.InteractorFunc(m.interact),
		Views:       reaction.LinkButtons(maxViewButtons),
		ViewTimeout: m.cfg.ViewTimeout,
	}, reaction.WithLogger(m.logger))
	if err != nil {
		return fmt.Errorf("xkcd register: %w", err)
	}

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops pending reply view expiries.
func (m *Module) OnShutdown(_ context.Context) error {
	if m.pipeline != nil {
		m.pipeline.Close()
	}

	return nil
}

func (m *Module) handleEvent(ctx context.Context, event *hermes.Event) error {
	if m.pipeline == nil {
		return fmt.Errorf("xkcd handle event: module not registered")
	}

	return m.pipeline.HandleEvent(ctx, event)
}

// interact posts the first reply. A failed send is logged, not retried.
func (m *Module) interact(ctx context.Context, message reaction.Message) error {
	if err := m.pipeline.Reply(ctx, message); err != nil {
		m.logger.WarnContext(ctx, "xkcd reply failed",
			"conversation", message.Ref.ConversationID,
			"message_id", message.Ref.MessageID,
			"error", err,
		)
	}

	return nil
}

// process fetches every referenced comic and renders them in reference order.
func (m *Module) process(ctx context.Context, message reaction.Message) (reaction.ProcessedContent, error) {
	numbers, omitted := comicNumbers(message.Content.Text)
	if len(numbers) == 0 {
		return reaction.ProcessedContent{}, nil
	}

	results := make([]*Comic, len(numbers))
	var wg sync.WaitGroup
	for index, number := range numbers {
		wg.Go(func() {
			comic, err := m.comics.Get(ctx, number)
			if err != nil {
				m.logger.DebugContext(ctx, "comic skipped", "number", number, "error", err)
				return
			}
			results[index] = &comic
		})
	}
	wg.Wait()

	var (
		comics []Comic
		links  []reaction.Link
	)
	for _, comic := range results {
		if comic == nil {
			continue
		}
		comics = append(comics, *comic)
		if comic.Available() {
			links = append(links, reaction.Link{Text: "xkcd #" + strconv.Itoa(comic.Number), URL: comic.URL})
		}
	}
	if len(comics) == 0 {
		return reaction.ProcessedContent{}, nil
	}

	rendered := renderComics(comics, omitted)

	return reaction.ProcessedContent{
		Text:      rendered.String(),
		Entities:  rendered.Entities(),
		ItemCount: len(comics),
		Links:     links,
	}, nil
}
