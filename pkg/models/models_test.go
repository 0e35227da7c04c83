package models

import (
	"strings"
	"testing"
)

func TestStageTransitions(t *testing.T) {
	cases := []struct {
		from    Stage
		to      Stage
		allowed bool
	}{
		{StagePending, StageFetchingStats, true},
		{StageFetchingStats, StageAnalyzingCommits, true},
		{StageAnalyzingCommits, StageGeneratingContent, true},
		{StageGeneratingContent, StageGeneratingVideo, true},
		{StageGeneratingVideo, StageCompleted, true},

		// skips are not allowed
		{StagePending, StageAnalyzingCommits, false},
		{StageFetchingStats, StageCompleted, false},

		// no going backwards
		{StageGeneratingContent, StageFetchingStats, false},

		// failed is reachable from any non-terminal stage
		{StagePending, StageFailed, true},
		{StageGeneratingVideo, StageFailed, true},

		// terminal stages admit nothing
		{StageCompleted, StageFailed, false},
		{StageFailed, StagePending, false},
		{StageFailed, StageFetchingStats, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.allowed {
			t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestStageIsTerminal(t *testing.T) {
	for _, s := range []Stage{StagePending, StageFetchingStats, StageAnalyzingCommits, StageGeneratingContent, StageGeneratingVideo} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []Stage{StageCompleted, StageFailed} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestTruncateError(t *testing.T) {
	short := "upstream returned status 404"
	if got := TruncateError(short); got != short {
		t.Errorf("short message changed: %q", got)
	}

	long := strings.Repeat("x", MaxErrorMessageLen+200)
	got := TruncateError(long)
	if len(got) != MaxErrorMessageLen {
		t.Errorf("truncated length = %d, want %d", len(got), MaxErrorMessageLen)
	}

	exact := strings.Repeat("y", MaxErrorMessageLen)
	if got := TruncateError(exact); got != exact {
		t.Error("message at the limit should be untouched")
	}
}

func TestVideoNarrativeIsEmpty(t *testing.T) {
	var nilNarrative *VideoNarrative
	if !nilNarrative.IsEmpty() {
		t.Error("nil narrative should be empty")
	}
	if !(&VideoNarrative{}).IsEmpty() {
		t.Error("zero narrative should be empty")
	}
	if (&VideoNarrative{ScrollingChanges: []string{"Fix bug"}}).IsEmpty() {
		t.Error("narrative with scrolling changes should not be empty")
	}
	if (&VideoNarrative{TopHighlights: []Highlight{{Title: "Add feature"}}}).IsEmpty() {
		t.Error("narrative with highlights should not be empty")
	}
}

func TestKnownJobType(t *testing.T) {
	for _, jt := range []JobType{JobTypeProcessRecord, JobTypeRenderVideo, JobTypeExtractHighlights} {
		if !KnownJobType(jt) {
			t.Errorf("%s should be known", jt)
		}
	}
	if KnownJobType(JobType("make-coffee")) {
		t.Error("unknown type accepted")
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if JobStatusQueued.IsTerminal() || JobStatusProcessing.IsTerminal() {
		t.Error("queued and processing are not terminal")
	}
}
