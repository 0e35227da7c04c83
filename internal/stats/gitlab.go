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

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/shipnotes/internal/retry"
)

// GitLabFetcher pulls commit activity through the GitLab REST API.
// The official client handles base URL resolution; raw requests go
// through a plain HTTP client because the commits-with-stats endpoint
// is simpler to consume directly.
type GitLabFetcher struct {
	client  *gitlab.Client
	baseURL string
	token   string
	http    *http.Client
}

func NewGitLabFetcher(token, baseURL string) (*GitLabFetcher, error) {
	if baseURL == "" {
		baseURL = "https://gitlab.com"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	client := gitlab.NewClient(nil, token)
	if err := client.SetBaseURL(fmt.Sprintf("%s/api/v4", baseURL)); err != nil {
		return nil, fmt.Errorf("failed to set GitLab API base URL: %w", err)
	}

	log.Printf("[DEBUG] Initialized GitLab fetcher with URL: %s", baseURL)

	return &GitLabFetcher{
		client:  client,
		baseURL: fmt.Sprintf("%s/api/v4", baseURL),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (f *GitLabFetcher) Name() string {
	return "gitlab"
}

type gitlabCommit struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	AuthorName string `json:"author_name"`
	Stats      *struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
	} `json:"stats"`
}

// Fetch lists commits in [since, until] with line stats included.
func (f *GitLabFetcher) Fetch(ctx context.Context, repo string, since, until time.Time) (*RepoStats, error) {
	log.Printf("[DEBUG] GitLabFetcher.Fetch called for repo=%s since=%s until=%s",
		repo, since.Format(time.RFC3339), until.Format(time.RFC3339))

	var commits []gitlabCommit
	page := 1
	for {
		requestURL := fmt.Sprintf("%s/projects/%s/repository/commits?since=%s&until=%s&with_stats=true&per_page=100&page=%d",
			f.baseURL,
			url.PathEscape(repo),
			url.QueryEscape(since.Format(time.RFC3339)),
			url.QueryEscape(until.Format(time.RFC3339)),
			page)

		var pageCommits []gitlabCommit
		if err := f.getJSON(ctx, repo, requestURL, &pageCommits); err != nil {
			return nil, err
		}
		commits = append(commits, pageCommits...)

		if len(pageCommits) < 100 {
			break
		}
		page++
	}

	log.Printf("[DEBUG] GitLab returned %d commits for %s", len(commits), repo)

	result := &RepoStats{Commits: len(commits)}
	seen := make(map[string]bool)

	for _, commit := range commits {
		if commit.AuthorName != "" && !seen[commit.AuthorName] {
			seen[commit.AuthorName] = true
			result.Contributors = append(result.Contributors, commit.AuthorName)
		}

		var additions, deletions int
		if commit.Stats != nil {
			additions = commit.Stats.Additions
			deletions = commit.Stats.Deletions
		}

		result.Additions += additions
		result.Deletions += deletions
		result.CommitDetails = append(result.CommitDetails, CommitInfo{
			SHA:       commit.ID,
			Message:   commit.Message,
			Author:    commit.AuthorName,
			Additions: additions,
			Deletions: deletions,
		})
	}

	return result, nil
}

func (f *GitLabFetcher) getJSON(ctx context.Context, repo, requestURL string, target interface{}) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
		if err != nil {
			return err
		}
		req.Header.Add("PRIVATE-TOKEN", f.token)

		resp, err := f.http.Do(req)
		if err != nil {
			return &UpstreamFetchError{Provider: "gitlab", Repo: repo, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("GitLab API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			return &UpstreamFetchError{Provider: "gitlab", Repo: repo, StatusCode: resp.StatusCode, Err: err}
		}

		return json.NewDecoder(resp.Body).Decode(target)
	}

	result := retry.RetryWithBackoff(ctx, retry.HTTPRetryConfig(), operation, nil)
	if !result.Success {
		return result.LastError
	}
	return nil
}
