package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/job"
	"github.com/bobarin/reelforge/internal/metrics"
	"github.com/bobarin/reelforge/internal/scope"
)

func testSettings(t *testing.T) *config.Settings {
	return &config.Settings{
		TempBaseDir:      t.TempDir(),
		RetryMaxAttempts: 1,
		AlignmentEnabled: false,
		UploadEnabled:    false,
	}
}

func TestEngineStopsAtValidationFailure(t *testing.T) {
	settings := testSettings(t)
	e := New(settings, metrics.NewCollector(), Components{})

	j := &job.Job{ID: "job-1"} // no segments: fails "at least one segment" rule

	pc, err := e.Run(context.Background(), j)
	if err == nil {
		t.Fatal("expected a validation error for a segment-free job")
	}
	pe, ok := err.(*job.PipelineError)
	if !ok {
		t.Fatalf("expected a *job.PipelineError, got %T", err)
	}
	if pe.Stage != "validate" || pe.Kind != job.KindValidation {
		t.Errorf("unexpected error shape: stage=%q kind=%q", pe.Stage, pe.Kind)
	}
	if pc == nil {
		t.Fatal("expected a context to be returned even on failure")
	}
	if !pc.Has(job.KeyValidation) {
		t.Error("expected the validation result to have been recorded before the stage failed")
	}
}

func TestEngineSkipsConditionalStagesWhenDisabled(t *testing.T) {
	settings := testSettings(t)
	e := New(settings, metrics.NewCollector(), Components{})

	var names []string
	for _, s := range e.stages {
		names = append(names, s.Name)
	}
	found := map[string]bool{}
	for _, n := range names {
		found[n] = true
	}
	for _, want := range []string{"validate", "download", "image_auto", "align_text", "render_segments", "concatenate", "upload"} {
		if !found[want] {
			t.Errorf("expected stage %q to be present in the engine's sequence", want)
		}
	}

	pc := job.NewContext(nil)
	alignStage := e.stages[3]
	if alignStage.Name != "align_text" {
		t.Fatalf("expected stage index 3 to be align_text, got %q", alignStage.Name)
	}
	if alignStage.Condition(pc) {
		t.Error("expected align_text to be gated off when AlignmentEnabled is false")
	}

	uploadStage := e.stages[6]
	if uploadStage.Name != "upload" {
		t.Fatalf("expected stage index 6 to be upload, got %q", uploadStage.Name)
	}
	if uploadStage.Condition(pc) {
		t.Error("expected upload to be gated off when UploadEnabled is false")
	}
}

func TestRunJobReturnsMetricsAndWarningsOnFailure(t *testing.T) {
	settings := testSettings(t)
	e := New(settings, metrics.NewCollector(), Components{})

	res, err := e.RunJob(context.Background(), &job.Job{ID: "job-1"})
	if err == nil {
		t.Fatal("expected a validation error for a segment-free job")
	}
	if res.Metrics.Total == 0 {
		t.Error("expected the validate invocation to appear in the metric summary")
	}
	if res.URL != "" {
		t.Errorf("expected no upload url on failure, got %q", res.URL)
	}
}

func TestRetainFinalClipMovesFileOutOfScope(t *testing.T) {
	settings := testSettings(t)
	e := New(settings, metrics.NewCollector(), Components{})

	sc, err := scope.New(settings.TempBaseDir, "job-keep")
	if err != nil {
		t.Fatal(err)
	}
	pc := job.NewContext(sc)

	finalPath := sc.TempFilePath("final.mp4")
	if err := os.WriteFile(finalPath, []byte("mp4"), 0o644); err != nil {
		t.Fatal(err)
	}
	sc.TrackFile(finalPath)
	if err := pc.Set("concatenate", job.KeyFinalClipPath, finalPath); err != nil {
		t.Fatal(err)
	}

	e.retainFinalClip(pc, &job.Job{ID: "job-keep"})
	sc.Release()

	raw, ok := pc.GetMetadata("retained_clip_path")
	if !ok {
		t.Fatal("expected a retained_clip_path metadata entry")
	}
	retained, _ := raw.(string)
	if filepath.Dir(retained) != settings.TempBaseDir {
		t.Errorf("expected the retained file outside the scope root, got %q", retained)
	}
	if _, err := os.Stat(retained); err != nil {
		t.Fatalf("expected the retained file to survive scope release: %v", err)
	}
}

func TestEngineCancellationStopsBeforeNextStage(t *testing.T) {
	settings := testSettings(t)
	e := New(settings, metrics.NewCollector(), Components{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j := &job.Job{ID: "job-1"}
	_, err := e.Run(ctx, j)
	if err == nil {
		t.Fatal("expected cancellation to surface as an error")
	}
	pe, ok := err.(*job.PipelineError)
	if !ok {
		t.Fatalf("expected a *job.PipelineError, got %T", err)
	}
	if pe.Kind != job.KindCancelled {
		t.Errorf("expected KindCancelled, got %q", pe.Kind)
	}
}
