package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/shipnotes/internal/retry"
)

const githubAPIBase = "https://api.github.com"

// GitHubFetcher pulls commit activity through the GitHub REST API.
type GitHubFetcher struct {
	token       string
	apiBase     string
	client      *http.Client
	rateLimiter *rate.Limiter
}

func NewGitHubFetcher(token string) *GitHubFetcher {
	log.Printf("[DEBUG] NewGitHubFetcher called with token length: %d", len(token))
	return &GitHubFetcher{
		token:   token,
		apiBase: githubAPIBase,
		client:  &http.Client{Timeout: 30 * time.Second},
		// Stay under GitHub's secondary rate limits.
		rateLimiter: rate.NewLimiter(rate.Every(1*time.Second), 5),
	}
}

func (f *GitHubFetcher) Name() string {
	return "github"
}

type githubCommitListItem struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string `json:"name"`
		} `json:"author"`
	} `json:"commit"`
	Author *struct {
		Login string `json:"login"`
	} `json:"author"`
}

type githubCommitDetail struct {
	SHA   string `json:"sha"`
	Stats struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
	} `json:"stats"`
}

// Fetch lists commits in [since, until] and resolves per-commit line
// stats with one detail request per commit.
func (f *GitHubFetcher) Fetch(ctx context.Context, repo string, since, until time.Time) (*RepoStats, error) {
	log.Printf("[DEBUG] GitHubFetcher.Fetch called for repo=%s since=%s until=%s",
		repo, since.Format(time.RFC3339), until.Format(time.RFC3339))

	if strings.Count(repo, "/") != 1 {
		return nil, fmt.Errorf("invalid GitHub repo format: expected 'owner/repo', got '%s'", repo)
	}

	var items []githubCommitListItem
	page := 1
	for {
		listURL := fmt.Sprintf("%s/repos/%s/commits?since=%s&until=%s&per_page=100&page=%d",
			f.apiBase, repo,
			url.QueryEscape(since.Format(time.RFC3339)),
			url.QueryEscape(until.Format(time.RFC3339)),
			page)

		var pageItems []githubCommitListItem
		if err := f.getJSON(ctx, repo, listURL, &pageItems); err != nil {
			return nil, err
		}
		items = append(items, pageItems...)

		if len(pageItems) < 100 {
			break
		}
		page++
	}

	log.Printf("[DEBUG] GitHub returned %d commits for %s", len(items), repo)

	result := &RepoStats{Commits: len(items)}
	seen := make(map[string]bool)

	for _, item := range items {
		detailURL := fmt.Sprintf("%s/repos/%s/commits/%s", f.apiBase, repo, item.SHA)
		var detail githubCommitDetail
		if err := f.getJSON(ctx, repo, detailURL, &detail); err != nil {
			return nil, err
		}

		author := item.Commit.Author.Name
		if item.Author != nil && item.Author.Login != "" {
			author = item.Author.Login
		}
		if author != "" && !seen[author] {
			seen[author] = true
			result.Contributors = append(result.Contributors, author)
		}

		result.Additions += detail.Stats.Additions
		result.Deletions += detail.Stats.Deletions
		result.CommitDetails = append(result.CommitDetails, CommitInfo{
			SHA:       item.SHA,
			Message:   item.Commit.Message,
			Author:    author,
			Additions: detail.Stats.Additions,
			Deletions: detail.Stats.Deletions,
		})
	}

	return result, nil
}

// getJSON performs one authenticated GET with rate limiting and
// bounded retries on transient status codes.
func (f *GitHubFetcher) getJSON(ctx context.Context, repo, requestURL string, target interface{}) error {
	operation := func() error {
		if err := f.rateLimiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "token "+f.token)
		req.Header.Set("Accept", "application/vnd.github.v3+json")

		resp, err := f.client.Do(req)
		if err != nil {
			return &UpstreamFetchError{Provider: "github", Repo: repo, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			// The status code inside the message lets the retry loop
			// tell transient failures from permanent client errors.
			err := fmt.Errorf("GitHub API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			return &UpstreamFetchError{Provider: "github", Repo: repo, StatusCode: resp.StatusCode, Err: err}
		}

		return json.NewDecoder(resp.Body).Decode(target)
	}

	result := retry.RetryWithBackoff(ctx, retry.HTTPRetryConfig(), operation, nil)
	if !result.Success {
		return result.LastError
	}
	return nil
}
