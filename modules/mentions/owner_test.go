package mentions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ex-hermes/pkg/ttrcache"
)

type stubSearcher struct {
	hits  []Repository
	err   error
	calls atomic.Int32
	limit atomic.Int32
}

func (s *stubSearcher) SearchRepositories(_ context.Context, _ string, limit int) ([]Repository, error) {
	s.calls.Add(1)
	s.limit.Store(int32(limit))
	if s.err != nil {
		return nil, s.err
	}

	return s.hits, nil
}

func TestOwnerResolverResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		hits         []Repository
		searchErr    error
		repo         string
		wantOwner    string
		wantNotFound bool
		wantErr      bool
	}{
		{
			name: "first exact match wins",
			hits: []Repository{
				{Name: "uv-extra", Owner: "someone"},
				{Name: "UV", Owner: "astral-sh"},
				{Name: "uv", Owner: "fork"},
			},
			repo:      "uv",
			wantOwner: "astral-sh",
		},
		{
			name:         "no exact match",
			hits:         []Repository{{Name: "uvloop", Owner: "magic"}},
			repo:         "uv",
			wantNotFound: true,
			wantErr:      true,
		},
		{
			name:         "no results",
			repo:         "uv",
			wantNotFound: true,
			wantErr:      true,
		},
		{
			name:      "search failure",
			searchErr: errors.New("boom"),
			repo:      "uv",
			wantErr:   true,
		},
		{
			name:         "hit without owner is ignored",
			hits:         []Repository{{Name: "uv"}},
			repo:         "uv",
			wantNotFound: true,
			wantErr:      true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			searcher := &stubSearcher{hits: testCase.hits, err: testCase.searchErr}
			resolver, err := NewOwnerResolver(searcher, time.Hour)
			if err != nil {
				t.Fatalf("NewOwnerResolver() error = %v", err)
			}

			owner, err := resolver.Resolve(context.Background(), testCase.repo)
			if (err != nil) != testCase.wantErr {
				t.Fatalf("Resolve() error = %v, wantErr %v", err, testCase.wantErr)
			}
			if got := errors.Is(err, ErrNotFound); got != testCase.wantNotFound {
				t.Fatalf("errors.Is(err, ErrNotFound) = %v, want %v", got, testCase.wantNotFound)
			}
			if owner != testCase.wantOwner {
				t.Fatalf("owner = %q, want %q", owner, testCase.wantOwner)
			}
			if limit := searcher.limit.Load(); limit != ownerSearchLimit {
				t.Fatalf("search limit = %d, want %d", limit, ownerSearchLimit)
			}
		})
	}
}

func TestOwnerResolverCachesAndDeduplicates(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}

	searcher := &stubSearcher{hits: []Repository{{Name: "uv", Owner: "astral-sh"}}}
	resolver, err := NewOwnerResolver(searcher, time.Hour, ttrcache.WithClock[string, string](clock))
	if err != nil {
		t.Fatalf("NewOwnerResolver() error = %v", err)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := resolver.Resolve(context.Background(), "UV"); err != nil {
				t.Errorf("Resolve() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if _, err := resolver.Resolve(context.Background(), "uv"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if calls := searcher.calls.Load(); calls != 1 {
		t.Fatalf("searches = %d, want 1", calls)
	}

	clockMu.Lock()
	now = now.Add(time.Hour)
	clockMu.Unlock()
	if _, err := resolver.Resolve(context.Background(), "uv"); err != nil {
		t.Fatalf("Resolve() after expiry error = %v", err)
	}
	if calls := searcher.calls.Load(); calls != 2 {
		t.Fatalf("searches after expiry = %d, want 2", calls)
	}
}

func TestNewOwnerResolverValidates(t *testing.T) {
	t.Parallel()

	if _, err := NewOwnerResolver(nil, time.Hour); err == nil {
		t.Fatal("NewOwnerResolver(nil) error = nil, want error")
	}
	if _, err := NewOwnerResolver(&stubSearcher{}, 0); err == nil {
		t.Fatal("NewOwnerResolver(ttl 0) error = nil, want error")
	}
}
