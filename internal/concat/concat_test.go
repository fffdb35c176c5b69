package concat

import (
	"testing"

	"github.com/bobarin/reelforge/internal/job"
)

func TestAllCutEdgesTrueWhenNoTransitions(t *testing.T) {
	clips := []job.IntermediateClip{
		{SegmentID: "a"},
		{SegmentID: "b"},
	}
	if !allCutEdges(clips) {
		t.Error("expected all-cut edges to report true for transition-free clips")
	}
}

func TestAllCutEdgesFalseWhenAnyTransitionApplied(t *testing.T) {
	clips := []job.IntermediateClip{
		{SegmentID: "a"},
		{SegmentID: "b", TransitionInApplied: true},
	}
	if allCutEdges(clips) {
		t.Error("expected a single applied transition to rule out stream-copy concat")
	}
}

func TestSafeJobIDFallsBackWhenEmpty(t *testing.T) {
	if got := safeJobID(&job.Job{}); got != "job" {
		t.Errorf("expected fallback job id, got %q", got)
	}
	if got := safeJobID(&job.Job{ID: "abc"}); got != "abc" {
		t.Errorf("expected job id to be preserved, got %q", got)
	}
}
