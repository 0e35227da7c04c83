package summarize

import (
	"context"
	"fmt"

	"github.com/shipnotes/internal/connectors"
	"github.com/shipnotes/internal/llm"
	"github.com/shipnotes/internal/logging"
	"github.com/shipnotes/internal/retry"
	"github.com/shipnotes/internal/stats"
	"github.com/shipnotes/pkg/models"
)

// Summarizer turns raw commit activity into human-readable prose.
type Summarizer interface {
	// SummarizeCommits produces a one-or-two sentence summary per commit.
	SummarizeCommits(ctx context.Context, repo string, commits []stats.CommitInfo) ([]models.CommitSummary, error)

	// SummarizeOverall produces a short narrative covering the whole window.
	SummarizeOverall(ctx context.Context, repo string, repoStats *stats.RepoStats, summaries []models.CommitSummary) (string, error)
}

// SummarizationError wraps a model failure. Callers degrade to the
// deterministic template instead of failing the run.
type SummarizationError struct {
	Operation string
	Err       error
}

func (e *SummarizationError) Error() string {
	return fmt.Sprintf("summarization failed during %s: %v", e.Operation, e.Err)
}

func (e *SummarizationError) Unwrap() error {
	return e.Err
}

// LangchainSummarizer runs summarization through a model connector.
type LangchainSummarizer struct {
	connector *connectors.Connector
}

func NewLangchainSummarizer(connector *connectors.Connector) *LangchainSummarizer {
	return &LangchainSummarizer{connector: connector}
}

type commitSummaryResponse struct {
	Summaries []struct {
		SHA     string `json:"sha"`
		Summary string `json:"summary"`
	} `json:"summaries"`
}

func (s *LangchainSummarizer) SummarizeCommits(ctx context.Context, repo string, commits []stats.CommitInfo) ([]models.CommitSummary, error) {
	if len(commits) == 0 {
		return nil, nil
	}

	logger := logging.GetCurrentLogger()
	if logger != nil {
		logger.Log("Summarizing %d commits for %s via %s", len(commits), repo, s.connector.GetModel())
	}

	prompt := buildCommitPrompt(repo, commits)

	raw, err := s.callWithRetry(ctx, prompt)
	if err != nil {
		return nil, &SummarizationError{Operation: "commit summaries", Err: err}
	}

	var parsed commitSummaryResponse
	if _, err := llm.ProcessResponse(raw, &parsed); err != nil {
		return nil, &SummarizationError{Operation: "commit summaries", Err: err}
	}

	bySHA := make(map[string]string, len(parsed.Summaries))
	for _, item := range parsed.Summaries {
		bySHA[item.SHA] = item.Summary
	}

	result := make([]models.CommitSummary, 0, len(commits))
	for _, commit := range commits {
		summary := bySHA[commit.SHA]
		if summary == "" {
			// Model skipped a commit; fall back to its subject line.
			summary = firstLine(commit.Message)
		}
		result = append(result, models.CommitSummary{
			SHA:       commit.SHA,
			Message:   commit.Message,
			Additions: commit.Additions,
			Deletions: commit.Deletions,
			Summary:   summary,
		})
	}

	return result, nil
}

type overallResponse struct {
	Narrative string `json:"narrative"`
}

func (s *LangchainSummarizer) SummarizeOverall(ctx context.Context, repo string, repoStats *stats.RepoStats, summaries []models.CommitSummary) (string, error) {
	logger := logging.GetCurrentLogger()
	if logger != nil {
		logger.Log("Generating overall narrative for %s", repo)
	}

	prompt := buildOverallPrompt(repo, repoStats, summaries)

	raw, err := s.callWithRetry(ctx, prompt)
	if err != nil {
		return "", &SummarizationError{Operation: "overall narrative", Err: err}
	}

	var parsed overallResponse
	if _, err := llm.ProcessResponse(raw, &parsed); err != nil {
		return "", &SummarizationError{Operation: "overall narrative", Err: err}
	}
	if parsed.Narrative == "" {
		return "", &SummarizationError{Operation: "overall narrative", Err: fmt.Errorf("model returned empty narrative")}
	}

	return parsed.Narrative, nil
}

func (s *LangchainSummarizer) callWithRetry(ctx context.Context, prompt string) (string, error) {
	var raw string
	operation := func() error {
		var err error
		raw, err = s.connector.Call(ctx, prompt)
		return err
	}

	result := retry.RetryWithBackoff(ctx, retry.AIRetryConfig(), operation, logging.GetCurrentLogger())
	if !result.Success {
		return "", result.LastError
	}
	return raw, nil
}
