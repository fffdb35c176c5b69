package imagefix

import (
	"context"
	"testing"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/job"
	"github.com/bobarin/reelforge/internal/metrics"
	"github.com/bobarin/reelforge/internal/scope"
)

type fakeSearch struct {
	urls []string
	err  error
}

func (f *fakeSearch) Search(ctx context.Context, keyword string) ([]string, error) {
	return f.urls, f.err
}

func TestFixerSubstitutesMissingImage(t *testing.T) {
	sc, err := scope.New(t.TempDir(), "job")
	if err != nil {
		t.Fatal(err)
	}
	defer sc.Release()

	pc := job.NewContext(sc)
	j := &job.Job{Segments: []job.Segment{{ID: "a"}}} // no image at all
	fixer := New(&config.Settings{PerformanceMaxConcurrentSegments: 2}, &fakeSearch{urls: []string{"http://ex/found.jpg"}}, nil, "http://ex/placeholder.jpg")

	redownloaded := false
	err = fixer.Run(context.Background(), metrics.NewCollector(), pc, j, func(ctx context.Context, ref *job.ImageRef) error {
		redownloaded = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Segments[0].Image == nil || j.Segments[0].Image.URL != "http://ex/found.jpg" {
		t.Fatalf("expected substitute image url, got %+v", j.Segments[0].Image)
	}
	if !redownloaded {
		t.Error("expected redownload callback to be invoked")
	}
}

func TestFixerFallsBackToPlaceholderOnSearchFailure(t *testing.T) {
	sc, err := scope.New(t.TempDir(), "job")
	if err != nil {
		t.Fatal(err)
	}
	defer sc.Release()

	pc := job.NewContext(sc)
	j := &job.Job{Segments: []job.Segment{{ID: "a"}}}
	fixer := New(&config.Settings{PerformanceMaxConcurrentSegments: 2}, &fakeSearch{err: context.DeadlineExceeded}, nil, "http://ex/placeholder.jpg")

	if err := fixer.Run(context.Background(), metrics.NewCollector(), pc, j, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Segments[0].Image.URL != "http://ex/placeholder.jpg" {
		t.Fatalf("expected placeholder fallback, got %+v", j.Segments[0].Image)
	}
}

func TestFixerSubstitutesImageWhoseDownloadFailed(t *testing.T) {
	sc, err := scope.New(t.TempDir(), "job")
	if err != nil {
		t.Fatal(err)
	}
	defer sc.Release()

	pc := job.NewContext(sc)
	// URL present but LocalPath empty: the downloader could not fetch it.
	j := &job.Job{Segments: []job.Segment{{ID: "a", Image: &job.ImageRef{URL: "http://ex/404.jpg"}}}}
	fixer := New(&config.Settings{PerformanceMaxConcurrentSegments: 2}, &fakeSearch{urls: []string{"http://ex/found.jpg"}}, nil, "http://ex/placeholder.jpg")

	if err := fixer.Run(context.Background(), metrics.NewCollector(), pc, j, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Segments[0].Image.URL != "http://ex/found.jpg" {
		t.Fatalf("expected substitute for the failed download, got %+v", j.Segments[0].Image)
	}
	var substituted bool
	for _, w := range pc.Warnings() {
		if w.Kind == "ImageSubstituted" {
			substituted = true
		}
	}
	if !substituted {
		t.Error("expected an ImageSubstituted warning naming the original and substitute URLs")
	}
}

func TestFixerSkipsVideoSegments(t *testing.T) {
	sc, err := scope.New(t.TempDir(), "job")
	if err != nil {
		t.Fatal(err)
	}
	defer sc.Release()

	pc := job.NewContext(sc)
	j := &job.Job{Segments: []job.Segment{{ID: "a", Video: &job.VideoRef{URL: "http://ex/v.mp4"}}}}
	fixer := New(&config.Settings{PerformanceMaxConcurrentSegments: 2}, &fakeSearch{}, nil, "http://ex/placeholder.jpg")

	if err := fixer.Run(context.Background(), metrics.NewCollector(), pc, j, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Segments[0].Image != nil {
		t.Error("expected video segment to be left untouched")
	}
}
