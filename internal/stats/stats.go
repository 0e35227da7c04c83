package stats

import (
	"context"
	"fmt"
	"time"
)

// CommitInfo describes one commit inside the requested window.
type CommitInfo struct {
	SHA       string `json:"sha"`
	Message   string `json:"message"`
	Author    string `json:"author"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// Churn is the total line movement of a commit.
func (c CommitInfo) Churn() int {
	return c.Additions + c.Deletions
}

// RepoStats aggregates activity over a time window of a repository.
type RepoStats struct {
	Commits       int          `json:"commits"`
	Additions     int          `json:"additions"`
	Deletions     int          `json:"deletions"`
	Contributors  []string     `json:"contributors"`
	CommitDetails []CommitInfo `json:"commit_details"`
}

// Fetcher retrieves repository activity from a hosting provider.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, repo string, since, until time.Time) (*RepoStats, error)
}

// UpstreamFetchError wraps a provider failure with enough context to
// decide whether retrying makes sense.
type UpstreamFetchError struct {
	Provider   string
	Repo       string
	StatusCode int
	Err        error
}

func (e *UpstreamFetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s fetch for %s failed with status %d: %v", e.Provider, e.Repo, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s fetch for %s failed: %v", e.Provider, e.Repo, e.Err)
}

func (e *UpstreamFetchError) Unwrap() error {
	return e.Err
}

// NewFetcher returns the fetcher for a provider name.
func NewFetcher(provider, token, baseURL string) (Fetcher, error) {
	switch provider {
	case "github":
		return NewGitHubFetcher(token), nil
	case "gitlab":
		return NewGitLabFetcher(token, baseURL)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
