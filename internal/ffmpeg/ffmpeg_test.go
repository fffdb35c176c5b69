package ffmpeg

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestEscapeFilterPath(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "/tmp/clip.mp4", "/tmp/clip.mp4"},
		{"colon", "C:/tmp/clip.mp4", `C\:/tmp/clip.mp4`},
		{"backslash", `C:\tmp\clip.mp4`, `C\:\\tmp\\clip.mp4`},
		{"single quote", "/tmp/o'brien.mp4", `/tmp/o'\''brien.mp4`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := EscapeFilterPath(c.in)
			if got != c.want {
				t.Errorf("EscapeFilterPath(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestLastLinesUnderLimit(t *testing.T) {
	in := "a\nb\nc"
	got := lastLines(in, 20)
	if got != in {
		t.Errorf("lastLines under limit should be unchanged: got %q want %q", got, in)
	}
}

func TestLastLinesTruncates(t *testing.T) {
	lines := make([]string, 30)
	for i := range lines {
		lines[i] = "line"
	}
	in := strings.Join(lines, "\n")
	got := lastLines(in, 5)
	gotLines := strings.Split(got, "\n")
	if len(gotLines) != 5 {
		t.Errorf("expected 5 lines, got %d: %q", len(gotLines), got)
	}
}

func TestContextWithExpectedAppliesFloor(t *testing.T) {
	ctx, cancel := ContextWithExpected(context.Background(), 0.1, 10)
	defer cancel()
	dl, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected a deadline")
	}
	if time.Until(dl) < 25*time.Second {
		t.Errorf("expected the floor to apply for a short clip, deadline in %v", time.Until(dl))
	}
}

func TestContextWithExpectedScalesWithDuration(t *testing.T) {
	ctx, cancel := ContextWithExpected(context.Background(), 60, 10)
	defer cancel()
	dl, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected a deadline")
	}
	if remaining := time.Until(dl); remaining < 9*time.Minute {
		t.Errorf("expected roughly 10x the expected duration, deadline in %v", remaining)
	}
}

func TestNewRunnerDefaultsQuiet(t *testing.T) {
	r := New()
	if r.Verbose {
		t.Errorf("expected new Runner to default Verbose=false")
	}
}
