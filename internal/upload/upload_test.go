package upload

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/job"
	"github.com/bobarin/reelforge/internal/metrics"
	"github.com/bobarin/reelforge/internal/scope"
)

type fakeSink struct {
	failures int
	calls    int
}

func (f *fakeSink) Put(ctx context.Context, localPath, key string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", fmt.Errorf("simulated transient failure")
	}
	return "https://blob.example/" + key, nil
}

func settingsForTest() *config.Settings {
	return &config.Settings{
		RetryMaxAttempts: 3,
		RetryBaseDelayMS: 1,
		RetryJitterFrac:  0,
		StorageKeyPattern: "renders/%s/%d.mp4",
	}
}

func TestUploaderSucceedsAfterTransientFailures(t *testing.T) {
	sc, err := scope.New(t.TempDir(), "job")
	if err != nil {
		t.Fatal(err)
	}
	defer sc.Release()
	pc := job.NewContext(sc)
	if err := pc.Set("render", job.KeyFinalClipPath, "/tmp/final.mp4"); err != nil {
		t.Fatal(err)
	}

	sink := &fakeSink{failures: 2}
	u := New(settingsForTest(), sink)
	j := &job.Job{ID: "job-1"}

	if err := u.Run(context.Background(), metrics.NewCollector(), pc, j); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw, ok := pc.Get(job.KeyUploadURL)
	if !ok {
		t.Fatal("expected an upload url to be set")
	}
	url, _ := raw.(string)
	if !strings.Contains(url, "renders/job-1/") {
		t.Errorf("expected storage key to include the job id, got %q", url)
	}
	if sink.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", sink.calls)
	}
}

func TestUploaderFailsWithoutFinalClip(t *testing.T) {
	sc, err := scope.New(t.TempDir(), "job")
	if err != nil {
		t.Fatal(err)
	}
	defer sc.Release()
	pc := job.NewContext(sc)

	u := New(settingsForTest(), &fakeSink{})
	if err := u.Run(context.Background(), metrics.NewCollector(), pc, &job.Job{}); err == nil {
		t.Fatal("expected an error when no final clip path is present")
	}
}
