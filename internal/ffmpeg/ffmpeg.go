// Package ffmpeg is a thin wrapper around invoking the external media
// tool and waiting for its exit, plus probing input duration via ffprobe.
// Every component shares this one subprocess runner instead of shelling
// out independently.
package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

type Runner struct {
	// Verbose, when true, streams ffmpeg/ffprobe stdout/stderr to the
	// process's own stdout/stderr (useful for local debugging); otherwise
	// output is only captured for error messages.
	Verbose bool
}

func New() *Runner {
	return &Runner{}
}

// RunFFmpeg invokes ffmpeg with args, waiting for exit. A non-zero exit is
// surfaced as a plain error; callers wrap it in the typed ProcessingError.
func (r *Runner) RunFFmpeg(ctx context.Context, args ...string) error {
	return r.run(ctx, "ffmpeg", args...)
}

func (r *Runner) run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var combined strings.Builder
	if r.Verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stdout = &combined
		cmd.Stderr = &combined
	}
	if err := cmd.Run(); err != nil {
		// A killed subprocess reports "signal: killed"; surface the deadline
		// instead so callers can classify the failure as a timeout.
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s timed out: %w", name, context.DeadlineExceeded)
		}
		if r.Verbose {
			return fmt.Errorf("%s failed: %w", name, err)
		}
		return fmt.Errorf("%s failed: %w: %s", name, err, lastLines(combined.String(), 20))
	}
	return nil
}

// ProbeDuration returns the duration of a media file in seconds via
// ffprobe.
func (r *Runner) ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	var duration float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &duration); err != nil {
		return 0, fmt.Errorf("parse ffprobe duration: %w", err)
	}
	return duration, nil
}

// ContextWithExpected bounds ctx to multiplier times the expected media
// duration, so a wedged subprocess can't stall a stage forever. A floor
// keeps very short clips from hair-trigger timeouts.
func ContextWithExpected(ctx context.Context, expectedSec, multiplier float64) (context.Context, context.CancelFunc) {
	if multiplier <= 0 {
		multiplier = 10
	}
	d := time.Duration(expectedSec * multiplier * float64(time.Second))
	const floor = 30 * time.Second
	if d < floor {
		d = floor
	}
	return context.WithTimeout(ctx, d)
}

// EscapeFilterPath escapes a path for embedding inside an ffmpeg filter
// string (colons, backslashes, and quotes are filter-syntax metacharacters).
func EscapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "\\\\")
	path = strings.ReplaceAll(path, ":", "\\:")
	path = strings.ReplaceAll(path, "'", "'\\''")
	return path
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
