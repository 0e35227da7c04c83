package highlight

import (
	"context"
	"fmt"
	"strings"

	"github.com/shipnotes/internal/connectors"
	"github.com/shipnotes/internal/llm"
	"github.com/shipnotes/internal/retry"
	"github.com/shipnotes/pkg/models"
)

// LangchainExtractor extracts highlights with a model connector.
type LangchainExtractor struct {
	connector *connectors.Connector
}

func NewLangchainExtractor(connector *connectors.Connector) *LangchainExtractor {
	return &LangchainExtractor{connector: connector}
}

type narrativeResponse struct {
	TopHighlights []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"top_highlights"`
	ScrollingChanges []string `json:"scrolling_changes"`
}

func (e *LangchainExtractor) FromContent(ctx context.Context, content string) (*models.VideoNarrative, error) {
	prompt := buildExtractionPrompt("the changelog below", content)
	return e.extract(ctx, prompt)
}

func (e *LangchainExtractor) FromSummaries(ctx context.Context, summaries []models.CommitSummary) (*models.VideoNarrative, error) {
	var sb strings.Builder
	for _, summary := range summaries {
		sb.WriteString("- ")
		if summary.Summary != "" {
			sb.WriteString(summary.Summary)
		} else {
			sb.WriteString(summary.Message)
		}
		sb.WriteString("\n")
	}
	prompt := buildExtractionPrompt("the commit summaries below", sb.String())
	return e.extract(ctx, prompt)
}

func (e *LangchainExtractor) extract(ctx context.Context, prompt string) (*models.VideoNarrative, error) {
	var raw string
	operation := func() error {
		var err error
		raw, err = e.connector.Call(ctx, prompt)
		return err
	}

	result := retry.RetryWithBackoff(ctx, retry.AIRetryConfig(), operation, nil)
	if !result.Success {
		return nil, fmt.Errorf("highlight extraction call failed: %w", result.LastError)
	}

	var parsed narrativeResponse
	if _, err := llm.ProcessResponse(raw, &parsed); err != nil {
		return nil, fmt.Errorf("highlight extraction parse failed: %w", err)
	}

	narrative := &models.VideoNarrative{
		ScrollingChanges: parsed.ScrollingChanges,
	}
	for _, h := range parsed.TopHighlights {
		if strings.TrimSpace(h.Title) == "" {
			continue
		}
		narrative.TopHighlights = append(narrative.TopHighlights, models.Highlight{
			Title:       h.Title,
			Description: h.Description,
		})
	}

	return narrative, nil
}

func buildExtractionPrompt(sourceLabel, body string) string {
	var sb strings.Builder

	sb.WriteString("Pick the three most important changes from ")
	sb.WriteString(sourceLabel)
	sb.WriteString(" and build a short scrolling list of all changes.\n\n")
	sb.WriteString(body)
	sb.WriteString("\n\nRespond with JSON only:\n")
	sb.WriteString(`{"top_highlights": [{"title": "<short title>", "description": "<one sentence>"}], "scrolling_changes": ["<one line per change>"]}`)

	return sb.String()
}
