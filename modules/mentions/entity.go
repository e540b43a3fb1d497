package mentions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ex-hermes/pkg/ttrcache"
)

// EntityKind names the type of a referenced entity.
type EntityKind string

const (
	// EntityKindIssue is a GitHub issue.
	EntityKindIssue EntityKind = "Issue"
	// EntityKindPullRequest is a GitHub pull request.
	EntityKindPullRequest EntityKind = "Pull Request"
	// EntityKindDiscussion is a GitHub discussion.
	EntityKindDiscussion EntityKind = "Discussion"
)

// Entity is the rendered subset of an issue, pull request or discussion.
type Entity struct {
	Kind   EntityKind
	Owner  string
	Repo   string
	Number int
	Title  string
	URL    string

	Author    string
	AuthorURL string
	CreatedAt time.Time

	Closed      bool
	StateReason string
	Labels      []string

	Draft        bool
	Merged       bool
	Additions    int
	Deletions    int
	ChangedFiles int
}

// LinkOnly reports whether only the entity location is known.
func (e Entity) LinkOnly() bool {
	return e.Title == ""
}

// EntityFetcher loads one entity by signature.
type EntityFetcher interface {
	FetchEntity(ctx context.Context, signature Signature) (Entity, error)
}

// EntityStore caches fetched entities.
type EntityStore struct {
	cache   *ttrcache.Cache[Signature, Entity]
	siteURL string
}

// NewEntityStore creates a store whose entries stay fresh for ttl.
//
// siteURL is the web root used for link-only discussion entities.
func NewEntityStore(
	fetcher EntityFetcher,
	ttl time.Duration,
	siteURL string,
	options ...ttrcache.Option[Signature, Entity],
) (*EntityStore, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("new entity store: nil fetcher")
	}

	store := &EntityStore{siteURL: strings.TrimSuffix(siteURL, "/")}
	options = append([]ttrcache.Option[Signature, Entity]{
		ttrcache.WithKeyString[Signature, Entity](Signature.cacheKey),
	}, options...)
	cache, err := ttrcache.New(ttl, func(ctx context.Context, signature Signature) (Entity, error) {
		return store.fetch(ctx, fetcher, signature)
	}, options...)
	if err != nil {
		return nil, fmt.Errorf("new entity store: %w", err)
	}
	store.cache = cache

	return store, nil
}

// Get returns the entity for signature.
func (s *EntityStore) Get(ctx context.Context, signature Signature) (Entity, error) {
	return s.cache.Get(ctx, signature)
}

// fetch treats a missing issue behind a discussions link as a discussion.
// Discussions have no REST endpoint, so those entities carry only a link.
func (s *EntityStore) fetch(ctx context.Context, fetcher EntityFetcher, signature Signature) (Entity, error) {
	entity, err := fetcher.FetchEntity(ctx, signature)
	if err == nil {
		return entity, nil
	}
	if !signature.Discussion || !errors.Is(err, ErrNotFound) {
		return Entity{}, err
	}

	return Entity{
		Kind:   EntityKindDiscussion,
		Owner:  signature.Owner,
		Repo:   signature.Repo,
		Number: signature.Number,
		URL:    fmt.Sprintf("%s/%s/%s/discussions/%d", s.siteURL, signature.Owner, signature.Repo, signature.Number),
	}, nil
}
