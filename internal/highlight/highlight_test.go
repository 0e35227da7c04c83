package highlight

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	"github.com/shipnotes/pkg/models"
)

type fakeExtractor struct {
	fromContent    *models.VideoNarrative
	fromContentErr error

	fromSummaries    *models.VideoNarrative
	fromSummariesErr error

	contentCalls   int
	summariesCalls int
}

func (f *fakeExtractor) FromContent(ctx context.Context, content string) (*models.VideoNarrative, error) {
	f.contentCalls++
	return f.fromContent, f.fromContentErr
}

func (f *fakeExtractor) FromSummaries(ctx context.Context, summaries []models.CommitSummary) (*models.VideoNarrative, error) {
	f.summariesCalls++
	return f.fromSummaries, f.fromSummariesErr
}

var longContent = strings.Repeat("The scheduler was reworked for fairness. ", 10)

func TestDerive_ManualOverrideWins(t *testing.T) {
	extractor := &fakeExtractor{
		fromContent: &models.VideoNarrative{
			TopHighlights: []models.Highlight{{Title: "AI pick", Description: "from content"}},
		},
	}
	manual := &models.VideoNarrative{
		TopHighlights: []models.Highlight{{Title: "Manual pick", Description: "hand edited"}},
	}
	summaries := []models.CommitSummary{{SHA: "abc", Summary: "Reworked scheduler."}}

	got := Derive(context.Background(), extractor, manual, longContent, summaries)

	if extractor.contentCalls != 0 || extractor.summariesCalls != 0 {
		t.Error("manual override must not invoke the extractor")
	}
	if got.TopHighlights[0].Title != "Manual pick" {
		t.Errorf("expected manual highlight, got %q", got.TopHighlights[0].Title)
	}
	if diff := cmp.Diff([]string{"Reworked scheduler."}, got.ScrollingChanges); diff != "" {
		t.Errorf("scrolling changes mismatch (-want +got):\n%s", diff)
	}
}

func TestDerive_EmptyManualFallsThrough(t *testing.T) {
	extractor := &fakeExtractor{
		fromContent: &models.VideoNarrative{
			TopHighlights: []models.Highlight{{Title: "AI pick"}},
		},
	}

	got := Derive(context.Background(), extractor, &models.VideoNarrative{}, longContent, nil)

	if extractor.contentCalls != 1 {
		t.Errorf("expected content extraction, calls=%d", extractor.contentCalls)
	}
	if got.TopHighlights[0].Title != "AI pick" {
		t.Errorf("unexpected title: %q", got.TopHighlights[0].Title)
	}
}

func TestDerive_ShortContentUsesSummaries(t *testing.T) {
	extractor := &fakeExtractor{
		fromSummaries: &models.VideoNarrative{
			TopHighlights: []models.Highlight{{Title: "From summaries"}},
		},
	}
	summaries := []models.CommitSummary{{SHA: "abc", Summary: "Fixed login."}}

	got := Derive(context.Background(), extractor, nil, "too short", summaries)

	if extractor.contentCalls != 0 {
		t.Error("short content must not be sent for extraction")
	}
	if extractor.summariesCalls != 1 {
		t.Errorf("expected summaries extraction, calls=%d", extractor.summariesCalls)
	}
	if got.TopHighlights[0].Title != "From summaries" {
		t.Errorf("unexpected title: %q", got.TopHighlights[0].Title)
	}
}

func TestDerive_ContentFailureFallsBackToSummaries(t *testing.T) {
	extractor := &fakeExtractor{
		fromContentErr: errors.New("model unavailable"),
		fromSummaries: &models.VideoNarrative{
			TopHighlights: []models.Highlight{{Title: "From summaries"}},
		},
	}
	summaries := []models.CommitSummary{{SHA: "abc", Summary: "Fixed login."}}

	got := Derive(context.Background(), extractor, nil, longContent, summaries)

	if extractor.contentCalls != 1 || extractor.summariesCalls != 1 {
		t.Errorf("expected both sources attempted, content=%d summaries=%d", extractor.contentCalls, extractor.summariesCalls)
	}
	if got.TopHighlights[0].Title != "From summaries" {
		t.Errorf("unexpected title: %q", got.TopHighlights[0].Title)
	}
}

func TestDerive_AllSourcesEmpty(t *testing.T) {
	extractor := &fakeExtractor{
		fromContentErr:   errors.New("model unavailable"),
		fromSummariesErr: errors.New("model unavailable"),
	}

	got := Derive(context.Background(), extractor, nil, longContent, []models.CommitSummary{{SHA: "a"}})

	if got == nil {
		t.Fatal("Derive must never return nil")
	}
	if !got.IsEmpty() {
		t.Error("expected empty narrative when every source fails")
	}
}

func TestDerive_NilExtractor(t *testing.T) {
	got := Derive(context.Background(), nil, nil, longContent, nil)
	if !got.IsEmpty() {
		t.Error("expected empty narrative without an extractor")
	}
}

func TestDerive_FormatsResult(t *testing.T) {
	longTitle := strings.Repeat("x", 80)
	longEntry := strings.Repeat("y", 70)

	extractor := &fakeExtractor{
		fromContent: &models.VideoNarrative{
			TopHighlights: []models.Highlight{
				{Title: longTitle}, {Title: "b"}, {Title: "c"}, {Title: "dropped"},
			},
			ScrollingChanges: []string{longEntry, "short"},
		},
	}

	got := Derive(context.Background(), extractor, nil, longContent, nil)

	if len(got.TopHighlights) != 3 {
		t.Errorf("expected highlights capped at 3, got %d", len(got.TopHighlights))
	}
	if len(got.TopHighlights[0].Title) != MaxTitleLen {
		t.Errorf("title not truncated to %d: len=%d", MaxTitleLen, len(got.TopHighlights[0].Title))
	}
	if !strings.HasSuffix(got.TopHighlights[0].Title, "...") {
		t.Error("truncated title must end with ellipsis")
	}
	if len(got.ScrollingChanges[0]) != MaxScrollingLen {
		t.Errorf("scrolling entry not truncated to %d: len=%d", MaxScrollingLen, len(got.ScrollingChanges[0]))
	}
	if got.ScrollingChanges[1] != "short" {
		t.Error("short entries must pass through unchanged")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 60); got != "short" {
		t.Errorf("unexpected: %q", got)
	}
	got := Truncate(strings.Repeat("a", 100), 60)
	if len(got) != 60 || !strings.HasSuffix(got, "...") {
		t.Errorf("unexpected truncation: %q (len=%d)", got, len(got))
	}

	accented := strings.Repeat("a", 56) + "éé…"
	got = Truncate(accented, 58)
	if !utf8.ValidString(got) {
		t.Errorf("truncation produced invalid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 58 {
		t.Errorf("expected 58 runes, got %d: %q", n, got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("missing ellipsis: %q", got)
	}
}
