package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/job"
	"github.com/bobarin/reelforge/internal/metrics"
	"github.com/bobarin/reelforge/internal/scope"
)

func testSettings() *config.Settings {
	return &config.Settings{
		DownloadMaxConcurrent:  4,
		DownloadTimeoutSeconds: 5,
		DownloadMaxSizeBytes:   1 << 20,
		RetryMaxAttempts:       1,
	}
}

func TestDownloaderDedupsByURL(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	sc, err := scope.New(dir, "job1")
	if err != nil {
		t.Fatal(err)
	}
	defer sc.Release()

	j := &job.Job{Segments: []job.Segment{
		{ID: "a", Image: &job.ImageRef{URL: srv.URL + "/x.jpg"}},
		{ID: "b", Image: &job.ImageRef{URL: srv.URL + "/x.jpg"}},
	}}

	d := New(testSettings())
	collector := metrics.NewCollector()
	pc := job.NewContext(sc)
	if err := d.Run(context.Background(), collector, pc, j, sc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if hits != 1 {
		t.Errorf("expected exactly one HTTP fetch for the duplicated URL, got %d", hits)
	}
	if j.Segments[0].Image.LocalPath == "" || j.Segments[1].Image.LocalPath == "" {
		t.Fatal("expected both segments to have a local_path assigned")
	}
	if j.Segments[0].Image.LocalPath != j.Segments[1].Image.LocalPath {
		t.Errorf("expected both segments to resolve to the same local path")
	}
}

func TestDownloaderLocalPassthrough(t *testing.T) {
	dir := t.TempDir()
	localFile := filepath.Join(dir, "local.jpg")
	if err := os.WriteFile(localFile, []byte("bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	sc, err := scope.New(dir, "job2")
	if err != nil {
		t.Fatal(err)
	}
	defer sc.Release()

	j := &job.Job{Segments: []job.Segment{{ID: "a", Image: &job.ImageRef{URL: localFile}}}}
	d := New(testSettings())
	collector := metrics.NewCollector()
	pc := job.NewContext(sc)
	if err := d.Run(context.Background(), collector, pc, j, sc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Segments[0].Image.LocalPath != localFile {
		t.Errorf("expected local passthrough to keep the same path, got %s", j.Segments[0].Image.LocalPath)
	}
}

func TestDownloaderRequiredAssetFailureIsIsolated(t *testing.T) {
	dir := t.TempDir()
	sc, err := scope.New(dir, "job3")
	if err != nil {
		t.Fatal(err)
	}
	defer sc.Release()

	j := &job.Job{Segments: []job.Segment{{ID: "a", Image: &job.ImageRef{URL: "http://127.0.0.1:1/missing.jpg"}}}}
	d := New(testSettings())
	collector := metrics.NewCollector()
	pc := job.NewContext(sc)
	if err := d.Run(context.Background(), collector, pc, j, sc); err != nil {
		t.Fatalf("unexpected fatal error for an isolated asset failure: %v", err)
	}
	if len(pc.Warnings()) == 0 {
		t.Fatal("expected a warning to be recorded for the unreachable required asset")
	}
}

func TestDownloaderOptionalAssetFailureIsNonFatal(t *testing.T) {
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	sc, err := scope.New(dir, "job4")
	if err != nil {
		t.Fatal(err)
	}
	defer sc.Release()

	j := &job.Job{Segments: []job.Segment{{
		ID:        "a",
		Image:     &job.ImageRef{URL: srv.URL + "/x.jpg"},
		VoiceOver: &job.AudioRef{URL: "http://127.0.0.1:1/missing.mp3"},
	}}}
	d := New(testSettings())
	collector := metrics.NewCollector()
	pc := job.NewContext(sc)
	if err := d.Run(context.Background(), collector, pc, j, sc); err != nil {
		t.Fatalf("expected optional asset failure to be non-fatal, got %v", err)
	}
	if j.Segments[0].VoiceOver.LocalPath != "" {
		t.Errorf("expected missing optional asset to keep an empty local_path")
	}
}
