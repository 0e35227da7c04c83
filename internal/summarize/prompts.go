package summarize

import (
	"fmt"
	"strings"

	"github.com/shipnotes/internal/stats"
	"github.com/shipnotes/pkg/models"
)

func buildCommitPrompt(repo string, commits []stats.CommitInfo) string {
	var sb strings.Builder

	sb.WriteString("You are writing a changelog for the repository ")
	sb.WriteString(repo)
	sb.WriteString(".\n\n")
	sb.WriteString("Summarize each commit below in one or two plain sentences aimed at users of the project. ")
	sb.WriteString("Focus on the effect of the change, not the mechanics.\n\nCommits:\n")

	for i, commit := range commits {
		sb.WriteString(fmt.Sprintf("%d. sha=%s (+%d -%d)\n%s\n\n", i+1, commit.SHA, commit.Additions, commit.Deletions, commit.Message))
	}

	sb.WriteString("Respond with JSON only, in this exact shape:\n")
	sb.WriteString(`{"summaries": [{"sha": "<commit sha>", "summary": "<one or two sentences>"}]}`)
	sb.WriteString("\nInclude every commit listed above.")

	return sb.String()
}

func buildOverallPrompt(repo string, repoStats *stats.RepoStats, summaries []models.CommitSummary) string {
	var sb strings.Builder

	sb.WriteString("You are writing the opening paragraph of a changelog for the repository ")
	sb.WriteString(repo)
	sb.WriteString(".\n\n")
	sb.WriteString(fmt.Sprintf("The period covered %d commits with %d lines added and %d lines removed, by %d contributors.\n\n",
		repoStats.Commits, repoStats.Additions, repoStats.Deletions, len(repoStats.Contributors)))

	if len(summaries) > 0 {
		sb.WriteString("Commit summaries:\n")
		for _, summary := range summaries {
			sb.WriteString("- ")
			sb.WriteString(summary.Summary)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Write two to four sentences describing the overall direction of this period. ")
	sb.WriteString("Respond with JSON only: ")
	sb.WriteString(`{"narrative": "<the paragraph>"}`)

	return sb.String()
}

// firstLine returns the subject line of a commit message.
func firstLine(message string) string {
	if idx := strings.IndexByte(message, '\n'); idx != -1 {
		return strings.TrimSpace(message[:idx])
	}
	return strings.TrimSpace(message)
}
