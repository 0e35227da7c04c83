package pipeline

import (
	"fmt"
	"strings"

	"github.com/shipnotes/internal/stats"
	"github.com/shipnotes/pkg/models"
)

// assembleContent builds the final changelog text: the overall
// narrative followed by one section per commit summary. Deterministic
// given its inputs.
func assembleContent(overall string, summaries []models.CommitSummary) string {
	var sb strings.Builder

	sb.WriteString(strings.TrimSpace(overall))
	sb.WriteString("\n")

	for _, summary := range summaries {
		sb.WriteString("\n## ")
		sb.WriteString(subjectLine(summary.Message))
		sb.WriteString("\n\n")
		if summary.Summary != "" {
			sb.WriteString(strings.TrimSpace(summary.Summary))
			sb.WriteString("\n\n")
		}
		sb.WriteString(fmt.Sprintf("+%d −%d lines\n", summary.Additions, summary.Deletions))
	}

	return sb.String()
}

// fallbackNarrative is the deterministic template used when the
// summarizer is unavailable. It carries the literal aggregate numbers
// and the contributor list so the changelog stays informative.
func fallbackNarrative(repo string, repoStats *stats.RepoStats) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s saw %d commits in this period: %d lines added and %d lines removed.",
		repo, repoStats.Commits, repoStats.Additions, repoStats.Deletions))

	if len(repoStats.Contributors) > 0 {
		sb.WriteString(fmt.Sprintf(" Contributors: %s.", strings.Join(repoStats.Contributors, ", ")))
	}

	return sb.String()
}

// fallbackSummaries turns commits into summaries using their subject
// lines, without any AI involvement.
func fallbackSummaries(commits []stats.CommitInfo) []models.CommitSummary {
	result := make([]models.CommitSummary, 0, len(commits))
	for _, commit := range commits {
		result = append(result, models.CommitSummary{
			SHA:       commit.SHA,
			Message:   commit.Message,
			Additions: commit.Additions,
			Deletions: commit.Deletions,
			Summary:   subjectLine(commit.Message),
		})
	}
	return result
}

func subjectLine(message string) string {
	if idx := strings.IndexByte(message, '\n'); idx != -1 {
		message = message[:idx]
	}
	return strings.TrimSpace(message)
}
