package highlight

import (
	"context"
	"log"

	"github.com/shipnotes/internal/logging"
	"github.com/shipnotes/pkg/models"
)

const (
	// MaxTitleLen bounds top-highlight titles.
	MaxTitleLen = 60
	// MaxScrollingLen bounds scrolling-change entries.
	MaxScrollingLen = 50

	// minContentLength is the cutoff below which assembled content is
	// too thin to extract meaningful highlights from.
	minContentLength = 100
)

// Extractor pulls highlights out of text with a model.
type Extractor interface {
	FromContent(ctx context.Context, content string) (*models.VideoNarrative, error)
	FromSummaries(ctx context.Context, summaries []models.CommitSummary) (*models.VideoNarrative, error)
}

// Derive picks the best available highlight source in strict priority
// order: a manual override wins outright, then AI extraction from the
// assembled content, then AI extraction from the raw summaries, then
// an empty narrative. The result is always formatted, never nil.
func Derive(ctx context.Context, extractor Extractor, manual *models.VideoNarrative, content string, summaries []models.CommitSummary) *models.VideoNarrative {
	logger := logging.GetCurrentLogger()

	if manual != nil && !manual.IsEmpty() {
		if logger != nil {
			logger.Log("Using manual highlight override (%d highlights)", len(manual.TopHighlights))
		}
		result := &models.VideoNarrative{
			TopHighlights:    manual.TopHighlights,
			ScrollingChanges: manual.ScrollingChanges,
		}
		if len(result.ScrollingChanges) == 0 {
			result.ScrollingChanges = scrollingFromSummaries(summaries)
		}
		return format(result)
	}

	if extractor != nil && len(content) >= minContentLength {
		narrative, err := extractor.FromContent(ctx, content)
		if err == nil && narrative != nil && !narrative.IsEmpty() {
			return format(narrative)
		}
		if err != nil {
			log.Printf("[DEBUG] highlight extraction from content failed: %v", err)
			if logger != nil {
				logger.LogError("highlight extraction from content", err)
			}
		}
	}

	if extractor != nil && len(summaries) > 0 {
		narrative, err := extractor.FromSummaries(ctx, summaries)
		if err == nil && narrative != nil && !narrative.IsEmpty() {
			return format(narrative)
		}
		if err != nil {
			log.Printf("[DEBUG] highlight extraction from summaries failed: %v", err)
			if logger != nil {
				logger.LogError("highlight extraction from summaries", err)
			}
		}
	}

	return &models.VideoNarrative{}
}

// format enforces the narrative size bounds in place and returns it.
func format(n *models.VideoNarrative) *models.VideoNarrative {
	if len(n.TopHighlights) > 3 {
		n.TopHighlights = n.TopHighlights[:3]
	}
	for i := range n.TopHighlights {
		n.TopHighlights[i].Title = Truncate(n.TopHighlights[i].Title, MaxTitleLen)
	}
	for i := range n.ScrollingChanges {
		n.ScrollingChanges[i] = Truncate(n.ScrollingChanges[i], MaxScrollingLen)
	}
	return n
}

// Truncate shortens s to at most max characters, ellipsis included.
// Limits count runes, not bytes, so multi-byte text never gets split
// mid-character.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

func scrollingFromSummaries(summaries []models.CommitSummary) []string {
	entries := make([]string, 0, len(summaries))
	for _, summary := range summaries {
		text := summary.Summary
		if text == "" {
			text = summary.Message
		}
		entries = append(entries, text)
	}
	return entries
}
