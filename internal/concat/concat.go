// Package concat joins the ordered intermediate clips produced by the
// renderer into one track and overlays the global background-music bed,
// choosing between stream-copy concat (all-cut edges, uniform format) and
// a re-encoding concat filter graph per job.
package concat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/ffmpeg"
	"github.com/bobarin/reelforge/internal/job"
	"github.com/bobarin/reelforge/internal/metrics"
	"github.com/bobarin/reelforge/internal/scope"
)

const stageName = "concatenate"

type Concatenator struct {
	settings *config.Settings
	ff       *ffmpeg.Runner
}

func New(settings *config.Settings) *Concatenator {
	return &Concatenator{settings: settings, ff: ffmpeg.New()}
}

// Run joins every clip in KeySegmentClips, in order, mixes in the job's
// background music if present, and writes the final path to
// KeyFinalClipPath. Concatenation fails fast — it is the one stage with no
// per-item isolation, because a join failure leaves no usable partial
// output.
func (c *Concatenator) Run(ctx context.Context, collector *metrics.Collector, pc *job.Context, j *job.Job, sc *scope.Scope) error {
	raw, ok := pc.Get(job.KeySegmentClips)
	if !ok {
		return job.NewPipelineError(stageName, job.KindConcatenation, fmt.Errorf("no rendered segment clips available"))
	}
	clips, ok := raw.([]job.IntermediateClip)
	if !ok || len(clips) == 0 {
		return job.NewPipelineError(stageName, job.KindConcatenation, fmt.Errorf("no rendered segment clips available"))
	}

	var totalDuration float64
	for _, clip := range clips {
		totalDuration += clip.DurationSec
	}
	cctx, cancel := ffmpeg.ContextWithExpected(ctx, totalDuration, c.settings.SubprocessTimeoutMultiplier)
	defer cancel()

	joinedPath := sc.TempFilePath(fmt.Sprintf("joined_%s.mp4", safeJobID(j)))
	var err error
	if allCutEdges(clips) {
		err = c.streamCopyConcat(cctx, clips, joinedPath, sc)
	} else {
		err = c.filterGraphConcat(cctx, clips, joinedPath)
	}
	if err != nil {
		collector.RecordItems(stageName, 0, len(clips))
		return job.NewPipelineError(stageName, joinErrorKind(err), fmt.Errorf("join clips: %w", err))
	}
	sc.TrackFile(joinedPath)

	finalPath := joinedPath
	if j.BackgroundMusic != nil && j.BackgroundMusic.LocalPath != "" {
		mixedPath := sc.TempFilePath(fmt.Sprintf("final_%s.mp4", safeJobID(j)))
		if err := c.mixBackgroundMusic(cctx, joinedPath, j.BackgroundMusic, mixedPath); err != nil {
			collector.RecordItems(stageName, 0, len(clips))
			return job.NewPipelineError(stageName, joinErrorKind(err), fmt.Errorf("mix background music: %w", err))
		}
		sc.TrackFile(mixedPath)
		finalPath = mixedPath
	}

	collector.RecordItems(stageName, len(clips), 0)
	return pc.Set(stageName, job.KeyFinalClipPath, finalPath)
}

// allCutEdges reports whether every internal join edge is a transition-free
// cut and every clip shares the normalized format — the only condition
// under which stream-copy concat is safe. The renderer always
// targets the same normalized format, so format uniformity reduces to
// checking the edges.
func allCutEdges(clips []job.IntermediateClip) bool {
	for i, clip := range clips {
		if (i > 0 && clip.TransitionInApplied) || (i < len(clips)-1 && clip.TransitionOutApplied) {
			return false
		}
	}
	return true
}

func (c *Concatenator) streamCopyConcat(ctx context.Context, clips []job.IntermediateClip, outputPath string, sc *scope.Scope) error {
	listPath := sc.TempFilePath("concat_list.txt")
	var b strings.Builder
	for _, clip := range clips {
		fmt.Fprintf(&b, "file '%s'\n", ffmpeg.EscapeFilterPath(clip.Path))
	}
	if err := os.WriteFile(listPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	sc.TrackFile(listPath)

	return c.ff.RunFFmpeg(ctx,
		"-y", "-f", "concat", "-safe", "0", "-i", listPath,
		"-c", "copy",
		outputPath,
	)
}

// filterGraphConcat re-encodes every clip through the concat filter. This
// path runs whenever any edge carries a fade, so pixel-level continuity
// across the join matters more than speed.
func (c *Concatenator) filterGraphConcat(ctx context.Context, clips []job.IntermediateClip, outputPath string) error {
	args := []string{"-y"}
	for _, clip := range clips {
		args = append(args, "-i", clip.Path)
	}

	var filter strings.Builder
	for i := range clips {
		fmt.Fprintf(&filter, "[%d:v][%d:a]", i, i)
	}
	fmt.Fprintf(&filter, "concat=n=%d:v=1:a=1[vout][aout]", len(clips))

	args = append(args,
		"-filter_complex", filter.String(),
		"-map", "[vout]", "-map", "[aout]",
		"-c:v", c.settings.VideoCodec,
		"-pix_fmt", c.settings.VideoPixFmt,
		"-c:a", c.settings.AudioCodec,
		"-b:a", "192k",
		"-r", fmt.Sprintf("%d", c.settings.VideoFPS),
		outputPath,
	)
	return c.ff.RunFFmpeg(ctx, args...)
}

// mixBackgroundMusic overlays the BGM bed under the joined narration track:
// volume scaled, faded in/out, looped or truncated so the mixed bed always
// matches the video's duration exactly.
func (c *Concatenator) mixBackgroundMusic(ctx context.Context, videoPath string, bgm *job.BackgroundMusic, outputPath string) error {
	volume := bgm.Volume
	if volume <= 0 {
		volume = c.settings.AudioBGMVolumeDefault
	}

	musicFilter := fmt.Sprintf("volume=%.3f", volume)
	if bgm.FadeIn > 0 {
		musicFilter += fmt.Sprintf(",afade=t=in:st=0:d=%.3f", bgm.FadeIn)
	}
	if bgm.FadeOut > 0 {
		videoDuration, err := c.ff.ProbeDuration(ctx, videoPath)
		if err != nil {
			return fmt.Errorf("probe joined video duration: %w", err)
		}
		fadeStart := videoDuration - bgm.FadeOut
		if fadeStart < 0 {
			fadeStart = 0
		}
		musicFilter += fmt.Sprintf(",afade=t=out:st=%.3f:d=%.3f", fadeStart, bgm.FadeOut)
	}

	filterComplex := fmt.Sprintf(
		"[0:a]volume=1.0[narration];[1:a]%s[music];[narration][music]amix=inputs=2:duration=first:dropout_transition=3[aout]",
		musicFilter,
	)

	return c.ff.RunFFmpeg(ctx,
		"-y",
		"-i", videoPath,
		"-stream_loop", "-1", "-i", bgm.LocalPath,
		"-filter_complex", filterComplex,
		"-map", "0:v", "-map", "[aout]",
		"-c:v", "copy",
		"-c:a", c.settings.AudioCodec,
		"-b:a", "192k",
		"-shortest",
		outputPath,
	)
}

// joinErrorKind distinguishes a wedged subprocess from an actual join
// failure so callers see TimeoutError rather than ConcatenationError for
// deadline exhaustion.
func joinErrorKind(err error) job.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return job.KindTimeout
	}
	return job.KindConcatenation
}

func safeJobID(j *job.Job) string {
	if j.ID == "" {
		return "job"
	}
	return j.ID
}
