package scope

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewCreatesRootDir(t *testing.T) {
	base := t.TempDir()
	s, err := New(base, "job1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Release()

	if _, err := os.Stat(s.Root()); err != nil {
		t.Fatalf("expected root dir to exist: %v", err)
	}
	if filepath.Dir(s.Root()) != base {
		t.Errorf("root %q not under base %q", s.Root(), base)
	}
}

func TestNewEmptyJobIDDefaultsToJob(t *testing.T) {
	base := t.TempDir()
	s, err := New(base, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Release()

	if filepath.Base(s.Root())[:3] != "job" {
		t.Errorf("expected root to start with 'job', got %q", s.Root())
	}
}

func TestReleaseRunsCallbacksInLIFOOrder(t *testing.T) {
	base := t.TempDir()
	s, err := New(base, "job2")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var order []int
	s.Track(func() error { order = append(order, 1); return nil })
	s.Track(func() error { order = append(order, 2); return nil })
	s.Track(func() error { order = append(order, 3); return nil })

	s.Release()

	want := []int{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestReleaseRemovesRootDirectory(t *testing.T) {
	base := t.TempDir()
	s, err := New(base, "job3")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	root := s.Root()

	s.Release()

	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatalf("expected root dir to be removed, stat err = %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	base := t.TempDir()
	s, err := New(base, "job4")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	calls := 0
	s.Track(func() error { calls++; return nil })

	s.Release()
	s.Release()
	s.Release()

	if calls != 1 {
		t.Errorf("expected callback to run exactly once across repeated Release calls, ran %d times", calls)
	}
}

func TestReleaseToleratesCallbackErrors(t *testing.T) {
	base := t.TempDir()
	s, err := New(base, "job5")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ran := false
	s.Track(func() error { return errors.New("boom") })
	s.Track(func() error { ran = true; return nil })

	// Must not panic and must still run every callback despite one failing.
	s.Release()

	if !ran {
		t.Errorf("expected later callback to still run after an earlier one errored")
	}
}

func TestTrackAfterReleaseRunsImmediately(t *testing.T) {
	base := t.TempDir()
	s, err := New(base, "job6")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Release()

	ran := false
	s.Track(func() error { ran = true; return nil })

	if !ran {
		t.Errorf("expected Track called after Release to run its callback immediately")
	}
}

func TestTrackFileRemovesFileOnRelease(t *testing.T) {
	base := t.TempDir()
	s, err := New(base, "job7")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path := s.TempFilePath("tracked.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	s.TrackFile(path)

	s.Release()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected tracked file to be removed, stat err = %v", err)
	}
}

func TestAcquireTempCreatesSubdir(t *testing.T) {
	base := t.TempDir()
	s, err := New(base, "job8")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Release()

	sub, err := s.AcquireTemp("downloads")
	if err != nil {
		t.Fatalf("AcquireTemp: %v", err)
	}
	if _, err := os.Stat(sub); err != nil {
		t.Fatalf("expected subdir to exist: %v", err)
	}
	if filepath.Dir(sub) != s.Root() {
		t.Errorf("subdir %q not under root %q", sub, s.Root())
	}
}

func TestTwoScopesDoNotCollide(t *testing.T) {
	base := t.TempDir()
	s1, err := New(base, "same-id")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s1.Release()
	s2, err := New(base, "same-id")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s2.Release()

	if s1.Root() == s2.Root() {
		t.Errorf("expected distinct roots for two scopes with the same job id, got %q twice", s1.Root())
	}
}
