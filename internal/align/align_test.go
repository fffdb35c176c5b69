package align

import (
	"context"
	"strings"
	"testing"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/job"
	"github.com/bobarin/reelforge/internal/metrics"
	"github.com/bobarin/reelforge/internal/scope"
)

func TestDeterministicSplitRespectsSizeRule(t *testing.T) {
	transcripts := []string{
		"Hello world this is a fairly long transcript sentence to split into captions",
		// 8 words, no punctuation: a naive split leaves a 1-word trailing
		// span that a straight merge cannot absorb within the word bound.
		"one two three four five six seven eight",
	}
	for _, transcript := range transcripts {
		spans := deterministicSplit(transcript)
		if len(spans) == 0 {
			t.Fatalf("expected at least one span for %q", transcript)
		}
		for _, s := range spans {
			words := strings.Fields(s)
			if len(words) < minSpanWords || len(words) > maxSpanWords {
				t.Errorf("span %q has %d words, want %d..%d", s, len(words), minSpanWords, maxSpanWords)
			}
			if len(s) > maxSpanChars {
				t.Errorf("span %q has %d chars, want <= %d", s, len(s), maxSpanChars)
			}
		}
	}
}

func TestMapSpansToWordsIsMonotonicAndNonOverlapping(t *testing.T) {
	spans := []string{"hello world", "this is fine"}
	words := []WordTimestamp{
		{Word: "hello", Start: 0, End: 0.3},
		{Word: "world", Start: 0.3, End: 0.6},
		{Word: "this", Start: 0.6, End: 0.8},
		{Word: "is", Start: 0.8, End: 0.9},
		{Word: "fine", Start: 0.9, End: 1.2},
	}
	overlays, err := mapSpansToWords(spans, words)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(overlays) != 2 {
		t.Fatalf("expected 2 overlays, got %d", len(overlays))
	}
	for i := 1; i < len(overlays); i++ {
		if overlays[i].Start < overlays[i-1].End {
			t.Errorf("overlay %d overlaps previous: start=%v prevEnd=%v", i, overlays[i].Start, overlays[i-1].End)
		}
	}
}

type failingAligner struct{}

func (failingAligner) Align(ctx context.Context, audioPath, transcript string) ([]WordTimestamp, error) {
	return nil, context.DeadlineExceeded
}

func TestAlignerFallsBackToUniformDistributionOnOutage(t *testing.T) {
	sc, err := scope.New(t.TempDir(), "job")
	if err != nil {
		t.Fatal(err)
	}
	defer sc.Release()
	pc := job.NewContext(sc)

	j := &job.Job{Segments: []job.Segment{{
		ID:        "a",
		VoiceOver: &job.AudioRef{Content: "Hello world foo", DurationSec: 3.0},
	}}}

	a := New(&config.Settings{PerformanceMaxConcurrentSegments: 2}, failingAligner{}, nil)
	if err := a.Run(context.Background(), metrics.NewCollector(), pc, j); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(j.Segments[0].TextOver) == 0 {
		t.Fatal("expected uniform-fallback text_over spans")
	}
	warnings := pc.Warnings()
	found := false
	for _, w := range warnings {
		if w.Kind == "AlignerUnavailable" {
			found = true
		}
	}
	if !found {
		t.Error("expected an AlignerUnavailable warning")
	}
}
