package mentions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"
)

type (
	searchService interface {
		Repositories(
			ctx context.Context,
			query string,
			opts *github.SearchOptions,
		) (*github.RepositoriesSearchResult, *github.Response, error)
	}

	issueService interface {
		Get(ctx context.Context, owner string, repo string, number int) (*github.Issue, *github.Response, error)
	}

	pullRequestService interface {
		Get(ctx context.Context, owner string, repo string, number int) (*github.PullRequest, *github.Response, error)
	}

	// gitHubClient adapts go-github to the lookups this module needs.
	gitHubClient struct {
		searchService      searchService
		issueService       issueService
		pullRequestService pullRequestService
	}
)

// newGitHubClient builds a REST client, authenticated when cfg carries a token.
func newGitHubClient(ctx context.Context, cfg GitHubConfig) (*gitHubClient, error) {
	httpClient := &http.Client{}
	if cfg.Token != "" {
		tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(ctx, tokenSource)
	}
	httpClient.Timeout = cfg.Timeout

	client := github.NewClient(httpClient)
	if cfg.BaseURL != "" {
		baseURL, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("new github client base url: %w", err)
		}
		client.BaseURL = baseURL
	}

	return &gitHubClient{
		searchService:      client.Search,
		issueService:       client.Issues,
		pullRequestService: client.PullRequests,
	}, nil
}

// SearchRepositories returns repositories matching query, most starred first.
func (c *gitHubClient) SearchRepositories(ctx context.Context, query string, limit int) ([]Repository, error) {
	result, _, err := c.searchService.Repositories(ctx, query, &github.SearchOptions{
		Sort:        "stars",
		Order:       "desc",
		ListOptions: github.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, fmt.Errorf("search repositories %q: %w", query, mapGitHubError(err))
	}

	hits := make([]Repository, 0, len(result.Repositories))
	for _, repository := range result.Repositories {
		hits = append(hits, Repository{
			Name:  repository.GetName(),
			Owner: repository.GetOwner().GetLogin(),
		})
	}

	return hits, nil
}

// FetchEntity loads an issue, following up with pull request details when
// the issue is a pull request.
func (c *gitHubClient) FetchEntity(ctx context.Context, signature Signature) (Entity, error) {
	issue, _, err := c.issueService.Get(ctx, signature.Owner, signature.Repo, signature.Number)
	if err != nil {
		return Entity{}, fmt.Errorf("get issue %s: %w", signature, mapGitHubError(err))
	}

	entity := Entity{
		Kind:        EntityKindIssue,
		Owner:       signature.Owner,
		Repo:        signature.Repo,
		Number:      issue.GetNumber(),
		Title:       issue.GetTitle(),
		URL:         issue.GetHTMLURL(),
		Author:      issue.GetUser().GetLogin(),
		AuthorURL:   issue.GetUser().GetHTMLURL(),
		CreatedAt:   issue.GetCreatedAt().Time,
		Closed:      issue.GetState() == "closed",
		StateReason: issue.GetStateReason(),
	}
	for _, label := range issue.Labels {
		entity.Labels = append(entity.Labels, label.GetName())
	}
	if !issue.IsPullRequest() {
		return entity, nil
	}

	pull, _, err := c.pullRequestService.Get(ctx, signature.Owner, signature.Repo, signature.Number)
	if err != nil {
		return Entity{}, fmt.Errorf("get pull request %s: %w", signature, mapGitHubError(err))
	}
	entity.Kind = EntityKindPullRequest
	entity.Draft = pull.GetDraft()
	entity.Merged = pull.GetMerged()
	entity.Additions = pull.GetAdditions()
	entity.Deletions = pull.GetDeletions()
	entity.ChangedFiles = pull.GetChangedFiles()
	if htmlURL := pull.GetHTMLURL(); htmlURL != "" {
		entity.URL = htmlURL
	}

	return entity, nil
}

// mapGitHubError marks 404 responses with ErrNotFound.
func mapGitHubError(err error) error {
	var responseErr *github.ErrorResponse
	if errors.As(err, &responseErr) &&
		responseErr.Response != nil &&
		responseErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	return err
}
