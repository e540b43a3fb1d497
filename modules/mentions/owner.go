package mentions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ex-hermes/pkg/ttrcache"
)

// ErrNotFound reports a reference that does not resolve to anything.
//
// It is a normal outcome of resolution, not a failure.
var ErrNotFound = errors.New("mentions: not found")

// ownerSearchLimit is how many search results are checked for an exact name.
const ownerSearchLimit = 20

// Repository is one repository search hit.
type Repository struct {
	Name  string
	Owner string
}

// RepositorySearcher searches public repositories ordered by stars, descending.
type RepositorySearcher interface {
	SearchRepositories(ctx context.Context, query string, limit int) ([]Repository, error)
}

// OwnerResolver caches repository name to owner login lookups.
type OwnerResolver struct {
	cache *ttrcache.Cache[string, string]
}

// NewOwnerResolver creates a resolver whose answers stay fresh for ttl.
func NewOwnerResolver(
	searcher RepositorySearcher,
	ttl time.Duration,
	options ...ttrcache.Option[string, string],
) (*OwnerResolver, error) {
	if searcher == nil {
		return nil, fmt.Errorf("new owner resolver: nil searcher")
	}

	cache, err := ttrcache.New(ttl, func(ctx context.Context, name string) (string, error) {
		return findRepoOwner(ctx, searcher, name)
	}, options...)
	if err != nil {
		return nil, fmt.Errorf("new owner resolver: %w", err)
	}

	return &OwnerResolver{cache: cache}, nil
}

// Resolve returns the owner of the most starred repository named repo.
//
// Names compare case-insensitively. The error wraps ErrNotFound when no
// search hit carries exactly that name.
func (r *OwnerResolver) Resolve(ctx context.Context, repo string) (string, error) {
	owner, err := r.cache.Get(ctx, strings.ToLower(repo))
	if err != nil {
		return "", fmt.Errorf("resolve owner of %s: %w", repo, err)
	}

	return owner, nil
}

func findRepoOwner(ctx context.Context, searcher RepositorySearcher, name string) (string, error) {
	hits, err := searcher.SearchRepositories(ctx, name, ownerSearchLimit)
	if err != nil {
		return "", err
	}
	for _, hit := range hits {
		if hit.Owner != "" && strings.EqualFold(hit.Name, name) {
			return hit.Owner, nil
		}
	}

	return "", fmt.Errorf("repository %s: %w", name, ErrNotFound)
}
