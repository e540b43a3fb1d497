// Package mentions replies to GitHub issue, pull request and discussion
// references with a summary of each referenced entity, and keeps that reply in
// sync while the referencing message is edited or deleted.
package mentions

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"ex-hermes/pkg/hermes"
	"ex-hermes/pkg/linker"
	"ex-hermes/pkg/reaction"
)

const (
	moduleName      = "mentions"
	githubSiteURL   = "https://github.com"
	maxViewButtons  = 5
	fetchConcurrent = 4
)

// Module is the entity mentions feature.
type Module struct {
	cfg      Config
	searcher RepositorySearcher
	fetcher  EntityFetcher
	logger   *slog.Logger

	parser   *Parser
	entities *EntityStore
	registry *linker.Registry
	freezer  *reaction.Freezer
	pipeline *reaction.Pipeline
}

// Option mutates module construction settings.
type Option func(*Module)

// WithGitHub replaces the REST client used for searches and entity fetches.
func WithGitHub(searcher RepositorySearcher, fetcher EntityFetcher) Option {
	return func(m *Module) {
		m.searcher = searcher
		m.fetcher = fetcher
	}
}

// New creates a mentions module. Dependencies are resolved in OnRegister.
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

// Spec declares one ordered handler for message lifecycle and reaction events.
func (m *Module) Spec() hermes.ModuleSpec {
	return hermes.ModuleSpec{
		Handlers: []hermes.ModuleHandler{
			{
				Capability: hermes.Capability{
					Name:        "entity-mentions",
					Description: "summarizes referenced GitHub entities and keeps the summary in sync",
					Interest: hermes.InterestSet{
						Kinds: []hermes.EventKind{
							hermes.EventKindMessageCreated,
							hermes.EventKindMessageEdited,
							hermes.EventKindMessageRetracted,
							hermes.EventKindReactionAdded,
						},
					},
					RequiredServices: []string{hermes.ServiceSinkDispatcher},
				},
				Subscription: hermes.NewOrderedSubscriptionSpec("mentions-messages"),
				Handler:      m.handleEvent,
			},
		},
	}
}

// OnRegister resolves services and builds caches, the link registry and the pipeline.
func (m *Module) OnRegister(ctx context.Context, runtime hermes.ModuleRuntime) error {
	if err := m.cfg.Validate(); err != nil {
		return fmt.Errorf("mentions register: %w", err)
	}

	logger, err := hermes.ResolveAs[*slog.Logger](runtime.Services(), hermes.ServiceLogger)
	if err != nil {
		logger = slog.Default()
	}
	m.logger = logger.With("module", moduleName)

	dispatcher, err := hermes.ResolveAs[hermes.SinkDispatcher](runtime.Services(), hermes.ServiceSinkDispatcher)
	if err != nil {
		return fmt.Errorf("mentions resolve sink dispatcher: %w", err)
	}

	if m.searcher == nil || m.fetcher == nil {
		client, err := newGitHubClient(ctx, m.cfg.GitHub)
		if err != nil {
			return fmt.Errorf("mentions register: %w", err)
		}
		if m.searcher == nil {
			m.searcher = client
		}
		if m.fetcher == nil {
			m.fetcher = client
		}
	}

	owners, err := NewOwnerResolver(m.searcher, m.cfg.OwnerTTL)
	if err != nil {
		return fmt.Errorf("mentions register: %w", err)
	}
	m.entities, err = NewEntityStore(m.fetcher, m.cfg.EntityTTL, githubSiteURL)
	if err != nil {
		return fmt.Errorf("mentions register: %w", err)
	}
	m.parser = NewParser(m.cfg, owners, m.logger)

	m.freezer = reaction.NewFreezer()
	m.registry = linker.New(linker.WithUnlinkHook(m.freezer.Thaw))
	m.pipeline, err = reaction.New(reaction.Config{
		Name:        moduleName,
		Registry:    m.registry,
		Dispatcher:  dispatcher,
		Processor:   reaction.ProcessorFunc(m.process),
		Views:       reaction.LinkButtons(maxViewButtons),
		ViewTimeout: m.cfg.ViewTimeout,
		Freezer:     m.freezer,
		FreezeEmoji: m.cfg.FreezeEmoji,
	}, reaction.WithLogger(m.logger))
	if err != nil {
		return fmt.Errorf("mentions register: %w", err)
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
		return fmt.Errorf("mentions handle event: module not registered")
	}

	return m.pipeline.HandleEvent(ctx, event)
}

// process resolves every reference in message and renders the found entities.
func (m *Module) process(ctx context.Context, message reaction.Message) (reaction.ProcessedContent, error) {
	scan := m.parser.Parse(ctx, stripCode(message.Content.Text, message.Content.Entities))

	var signatures []Signature
	seen := make(map[string]int)
	for signature := range scan.Signatures() {
		if index, duplicate := seen[signature.String()]; duplicate {
			signatures[index].Discussion = signatures[index].Discussion || signature.Discussion
			continue
		}
		seen[signature.String()] = len(signatures)
		signatures = append(signatures, signature)
	}
	if len(signatures) == 0 {
		return reaction.ProcessedContent{}, nil
	}

	entities := m.fetchEntities(ctx, signatures)
	if len(entities) == 0 {
		return reaction.ProcessedContent{}, nil
	}

	rendered, shown := renderEntities(entities, m.cfg.MaxMessageLength)
	content := reaction.ProcessedContent{
		Text:               rendered.String(),
		Entities:           rendered.Entities(),
		ItemCount:          len(shown),
		DisableLinkPreview: scan.SiteLinked(),
	}
	for _, entity := range shown {
		content.Links = append(content.Links, reaction.Link{
			Text: fmt.Sprintf("%s/%s#%d", entity.Owner, entity.Repo, entity.Number),
			URL:  entity.URL,
		})
	}

	return content, nil
}

// fetchEntities loads signatures concurrently, dropping failures and keeping order.
func (m *Module) fetchEntities(ctx context.Context, signatures []Signature) []Entity {
	results := make([]*Entity, len(signatures))

	// Failures are logged per entity; the group only bounds concurrency.
	var group errgroup.Group
	group.SetLimit(fetchConcurrent)
	for index, signature := range signatures {
		group.Go(func() error {
			entity, err := m.entities.Get(ctx, signature)
			if err != nil {
				m.logger.DebugContext(ctx, "entity skipped", "signature", signature.String(), "error", err)
				return nil
			}
			results[index] = &entity
			return nil
		})
	}
	_ = group.Wait()

	entities := make([]Entity, 0, len(results))
	for _, entity := range results {
		if entity != nil {
			entities = append(entities, *entity)
		}
	}

	return entities
}
