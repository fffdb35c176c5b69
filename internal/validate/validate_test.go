package validate

import (
	"testing"

	"github.com/bobarin/reelforge/internal/job"
)

func TestValidJobPasses(t *testing.T) {
	j := &job.Job{Segments: []job.Segment{
		{ID: "a", Image: &job.ImageRef{URL: "http://ex/a.jpg"}},
	}}
	r := Run(j)
	if !r.OK {
		t.Fatalf("expected valid job to pass, got errors: %v", r.Errors)
	}
}

func TestEmptySegmentsFails(t *testing.T) {
	r := Run(&job.Job{})
	if r.OK {
		t.Fatal("expected job with no segments to fail")
	}
}

func TestDuplicateSegmentIDsFails(t *testing.T) {
	j := &job.Job{Segments: []job.Segment{
		{ID: "a", Image: &job.ImageRef{URL: "http://ex/a.jpg"}},
		{ID: "a", Image: &job.ImageRef{URL: "http://ex/b.jpg"}},
	}}
	r := Run(j)
	if r.OK {
		t.Fatal("expected duplicate segment ids to fail validation")
	}
}

func TestSegmentWithoutVisualFails(t *testing.T) {
	j := &job.Job{Segments: []job.Segment{{ID: "a"}}}
	r := Run(j)
	if r.OK {
		t.Fatal("expected segment without image or video to fail")
	}
}

func TestUnsupportedTransitionWarnsNotFails(t *testing.T) {
	j := &job.Job{Segments: []job.Segment{
		{ID: "a", Image: &job.ImageRef{URL: "http://ex/a.jpg"}, TransitionOut: &job.Transition{Type: "slide", Duration: 0.5}},
	}}
	r := Run(j)
	if !r.OK {
		t.Fatalf("unsupported transition type must degrade, not fail: %v", r.Errors)
	}
	if len(r.Warnings) == 0 {
		t.Fatal("expected a warning for the unsupported transition type")
	}
}

func TestTextOverlayWindowMustBeOrdered(t *testing.T) {
	j := &job.Job{Segments: []job.Segment{
		{ID: "a", Image: &job.ImageRef{URL: "http://ex/a.jpg"}, TextOver: []job.TextOverlay{{Text: "hi", Start: 2, End: 1}}},
	}}
	r := Run(j)
	if r.OK {
		t.Fatal("expected end <= start text overlay to fail validation")
	}
}

func TestBackgroundMusicVolumeRange(t *testing.T) {
	j := &job.Job{
		Segments:        []job.Segment{{ID: "a", Image: &job.ImageRef{URL: "http://ex/a.jpg"}}},
		BackgroundMusic: &job.BackgroundMusic{Volume: 3},
	}
	r := Run(j)
	if r.OK {
		t.Fatal("expected background_music.volume outside [0,2] to fail")
	}
}
