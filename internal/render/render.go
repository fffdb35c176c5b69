// Package render turns one downloaded, auto-fixed, aligned Segment into
// an IntermediateClip — normalized video+audio, motion or freeze-frame,
// burned-in captions, and its own transition padding — in isolation from
// every other segment.
package render

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/ffmpeg"
	"github.com/bobarin/reelforge/internal/job"
	"github.com/bobarin/reelforge/internal/metrics"
	"github.com/bobarin/reelforge/internal/processor"
	"github.com/bobarin/reelforge/internal/scope"
)

const (
	stageName               = "render_segments"
	defaultImageDurationSec = 4.0
)

// MotionProvider is the optional AI-video enrichment hook: given an
// image-only segment, it may produce a short generated video clip to use
// instead of the Ken Burns pan. The clip is written inside the job's own
// scope so concurrent jobs reusing a segment id never share a path. It is
// strictly opt-in and must fail soft — Renderer falls back to the
// image+motion path on any error or when nil.
type MotionProvider interface {
	GenerateClip(ctx context.Context, sc *scope.Scope, seg *job.Segment, imagePath string, durationSec float64) (videoPath string, err error)
}

type Renderer struct {
	settings *config.Settings
	ff       *ffmpeg.Runner
	motion   MotionProvider
}

func New(settings *config.Settings, motion MotionProvider) *Renderer {
	return &Renderer{settings: settings, ff: ffmpeg.New(), motion: motion}
}

// Run renders every segment independently and writes the ordered clip list
// to KeySegmentClips. A single segment's render failure is recorded as a
// warning and that segment is dropped from the output rather than failing
// the whole job; Run only returns an error if every segment failed.
func (r *Renderer) Run(ctx context.Context, collector *metrics.Collector, pc *job.Context, j *job.Job, sc *scope.Scope) error {
	type indexed struct {
		idx int
		seg *job.Segment
	}
	items := make([]indexed, len(j.Segments))
	for i := range j.Segments {
		items[i] = indexed{idx: i, seg: &j.Segments[i]}
	}

	results, err := processor.RunBatch(ctx, collector, stageName, items, r.settings.PerformanceMaxConcurrentSegments, processor.BatchPolicy{},
		func(ctx context.Context, it indexed) (*job.IntermediateClip, error) {
			clip, renderErr := r.renderSegment(ctx, it.seg, sc)
			if renderErr != nil {
				pc.AddWarning("SegmentRenderFailed", fmt.Sprintf("segment %q: %v", it.seg.ID, renderErr))
				return nil, renderErr
			}
			return clip, nil
		})
	if err != nil {
		return job.NewPipelineError(stageName, job.KindProcessing, err)
	}

	clips := make([]job.IntermediateClip, 0, len(results))
	for _, res := range results {
		if res.Err != nil || res.Output == nil {
			continue
		}
		clips = append(clips, *res.Output)
	}
	if len(clips) == 0 {
		return job.NewPipelineError(stageName, job.KindProcessing, fmt.Errorf("every segment failed to render"))
	}

	return pc.Set(stageName, job.KeySegmentClips, clips)
}

func (r *Renderer) renderSegment(ctx context.Context, seg *job.Segment, sc *scope.Scope) (*job.IntermediateClip, error) {
	w, h, _ := r.settings.VideoWidth, r.settings.VideoHeight, r.settings.VideoFPS

	transitionIn := normalizeTransition(seg.TransitionIn)
	transitionOut := normalizeTransition(seg.TransitionOut)

	// The two halves of one segment's prep are independent until the
	// ffmpeg invocation itself: probing the source media's duration is a
	// subprocess round trip, writing the ASS caption file is disk I/O.
	// Running them as two errgroup goroutines lets a slow probe overlap
	// with subtitle writing instead of paying both costs serially, and
	// cancels the other half the moment either fails.
	var (
		contentDuration float64
		subtitlePath    string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := r.contentDuration(gctx, seg)
		if err != nil {
			return fmt.Errorf("determine content duration: %w", err)
		}
		contentDuration = d
		return nil
	})
	g.Go(func() error {
		if len(seg.TextOver) == 0 {
			return nil
		}
		path := sc.TempFilePath(fmt.Sprintf("subs_%s.ass", seg.ID))
		// Spans are authored relative to voice-over start, so they must be
		// shifted by both the transition-in padding and the narration's own
		// start_delay, or captions desync from the delayed narration.
		textOffset := transitionIn.Duration
		if seg.VoiceOver != nil {
			textOffset += math.Max(seg.VoiceOver.StartDelay, 0)
		}
		shifted := shiftOverlays(seg.TextOver, textOffset)
		if err := writeASS(shifted, path, w, h); err != nil {
			return fmt.Errorf("write subtitles: %w", err)
		}
		sc.TrackFile(path)
		subtitlePath = path
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	effectiveDuration := transitionIn.Duration + contentDuration + transitionOut.Duration

	outputPath := sc.TempFilePath(fmt.Sprintf("clip_%s.mp4", seg.ID))

	var renderErr error
	switch seg.VisualKind() {
	case "video":
		renderErr = r.renderVideoSegment(ctx, seg, contentDuration, transitionIn, transitionOut, subtitlePath, outputPath)
	default:
		renderErr = r.renderImageWithMotion(ctx, seg, contentDuration, transitionIn, transitionOut, subtitlePath, outputPath, sc)
	}
	if renderErr != nil {
		return nil, renderErr
	}
	sc.TrackFile(outputPath)

	return &job.IntermediateClip{
		SegmentID:            seg.ID,
		Path:                 outputPath,
		DurationSec:          effectiveDuration,
		HasAudio:             seg.VoiceOver != nil,
		TransitionInApplied:  transitionIn.Type != job.TransitionCut,
		TransitionOutApplied: transitionOut.Type != job.TransitionCut,
		TransitionInType:     transitionIn.Type,
		TransitionOutType:    transitionOut.Type,
	}, nil
}

// contentDuration is the segment's own runtime before transition padding:
// voice-over length (plus its start_delay/end_delay padding) when present,
// otherwise the visual's native length (video) or a fixed still-image
// duration. Folding start_delay/end_delay in here, rather than leaving them
// for the caller, keeps every downstream consumer of contentDuration (clip
// duration, audio delay, caption offset) built on one consistent number
// instead of three call sites each re-deriving it, which keeps the
// rendered clip at least voice-over + delays + transitions long.
func (r *Renderer) contentDuration(ctx context.Context, seg *job.Segment) (float64, error) {
	if seg.VoiceOver != nil && seg.VoiceOver.LocalPath != "" {
		var voDuration float64
		if seg.VoiceOver.DurationSec > 0 {
			voDuration = seg.VoiceOver.DurationSec
		} else {
			d, err := r.ff.ProbeDuration(ctx, seg.VoiceOver.LocalPath)
			if err != nil {
				return 0, fmt.Errorf("probe voice-over duration: %w", err)
			}
			seg.VoiceOver.DurationSec = d
			voDuration = d
		}
		startDelay := math.Max(seg.VoiceOver.StartDelay, 0)
		endDelay := math.Max(seg.VoiceOver.EndDelay, 0)
		return voDuration + startDelay + endDelay, nil
	}
	if seg.VisualKind() == "video" && seg.Video != nil && seg.Video.LocalPath != "" {
		d, err := r.ff.ProbeDuration(ctx, seg.Video.LocalPath)
		if err != nil {
			return 0, fmt.Errorf("probe video duration: %w", err)
		}
		return d, nil
	}
	return defaultImageDurationSec, nil
}

// normalizeTransition degrades an unsupported transition type to fade
// rather than failing the segment; validation already warned about it, so
// the renderer must still produce something reasonable.
func normalizeTransition(t *job.Transition) job.Transition {
	if t == nil {
		return job.Transition{Type: job.TransitionCut, Duration: 0}
	}
	if !t.Type.Supported() {
		return job.Transition{Type: job.TransitionFade, Duration: t.Duration}
	}
	return *t
}

// shiftOverlays offsets text_over windows, which are authored relative to
// voice-over start, by offset; the caller passes the transition-in padding
// plus the voice-over start_delay.
func shiftOverlays(overlays []job.TextOverlay, offset float64) []job.TextOverlay {
	if offset == 0 {
		return overlays
	}
	out := make([]job.TextOverlay, len(overlays))
	for i, o := range overlays {
		o.Start += offset
		o.End += offset
		out[i] = o
	}
	return out
}

// renderImageWithMotion tries the optional AI motion provider first:
// when configured, a generated video takes the Ken Burns pan's place as the
// segment's visual. Any provider error, or a nil provider, falls back to
// the deterministic zoompan path without failing the segment.
func (r *Renderer) renderImageWithMotion(ctx context.Context, seg *job.Segment, contentDuration float64, in, out job.Transition, subtitlePath, outputPath string, sc *scope.Scope) error {
	if r.motion != nil {
		imagePath := seg.Image.LocalPath
		if imagePath != "" {
			videoPath, err := r.motion.GenerateClip(ctx, sc, seg, imagePath, contentDuration)
			if err == nil && videoPath != "" {
				sc.TrackFile(videoPath)
				if renderErr := r.renderFromVideoFile(ctx, seg, videoPath, contentDuration, in, out, subtitlePath, outputPath); renderErr == nil {
					return nil
				}
				// Fall through to the Ken Burns path on a render failure too —
				// a bad generated clip shouldn't sink the whole segment.
			}
		}
	}
	return r.renderImageSegment(ctx, seg, contentDuration, in, out, subtitlePath, outputPath)
}

func (r *Renderer) renderImageSegment(ctx context.Context, seg *job.Segment, contentDuration float64, in, out job.Transition, subtitlePath, outputPath string) error {
	imagePath := seg.Image.LocalPath
	if imagePath == "" {
		return job.NewPipelineError(stageName, job.KindAsset, fmt.Errorf("image segment has no downloaded asset")).WithSegment(seg.ID)
	}

	w, h, fps := r.settings.VideoWidth, r.settings.VideoHeight, r.settings.VideoFPS
	clipDuration := in.Duration + contentDuration + out.Duration
	effect := EffectForSegment(seg.ID)
	// zoompan generates the whole clip's frames from the single image input,
	// so it must cover the transition padding too, not just the content.
	motionFilter := buildMotionFilter(effect, int(clipDuration*1000), w, h, fps)

	videoFilter := motionFilter
	videoFilter = applyFadeFilters(videoFilter, in, out, contentDuration, fps)
	if subtitlePath != "" {
		videoFilter += fmt.Sprintf(",subtitles='%s'", ffmpeg.EscapeFilterPath(subtitlePath))
	}

	args := []string{"-y", "-i", imagePath}
	audioArgs, audioFilter, _ := r.audioInputArgs(seg, clipDuration, in.Duration)
	args = append(args, audioArgs...)

	filterComplex := fmt.Sprintf("[0:v]%s[vout];%s", videoFilter, audioFilter)
	maps := []string{"-map", "[vout]", "-map", "[aout]"}

	args = append(args, "-filter_complex", filterComplex)
	args = append(args, maps...)
	args = append(args,
		"-t", fmt.Sprintf("%.3f", clipDuration),
		"-c:v", r.settings.VideoCodec,
		"-pix_fmt", r.settings.VideoPixFmt,
		"-c:a", r.settings.AudioCodec,
		"-b:a", "192k",
		"-r", fmt.Sprintf("%d", fps),
		"-shortest",
		outputPath,
	)
	cctx, cancel := ffmpeg.ContextWithExpected(ctx, clipDuration, r.settings.SubprocessTimeoutMultiplier)
	defer cancel()
	return r.ff.RunFFmpeg(cctx, args...)
}

func (r *Renderer) renderVideoSegment(ctx context.Context, seg *job.Segment, contentDuration float64, in, out job.Transition, subtitlePath, outputPath string) error {
	videoPath := seg.Video.LocalPath
	if videoPath == "" {
		return job.NewPipelineError(stageName, job.KindAsset, fmt.Errorf("video segment has no downloaded asset")).WithSegment(seg.ID)
	}
	return r.renderFromVideoFile(ctx, seg, videoPath, contentDuration, in, out, subtitlePath, outputPath)
}

// renderFromVideoFile is the shared video-input render path used both for
// segments whose visual is already a video and for image segments where
// the AI motion provider produced a generated clip to stand in for the
// Ken Burns pan.
func (r *Renderer) renderFromVideoFile(ctx context.Context, seg *job.Segment, videoPath string, contentDuration float64, in, out job.Transition, subtitlePath, outputPath string) error {
	w, h, fps := r.settings.VideoWidth, r.settings.VideoHeight, r.settings.VideoFPS

	nativeDuration, err := r.ff.ProbeDuration(ctx, videoPath)
	if err != nil {
		return fmt.Errorf("probe source video: %w", err)
	}

	clipDuration := in.Duration + contentDuration + out.Duration
	videoFilter := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=%d",
		w, h, w, h, fps)
	// The source starts after the transition-in pad, like the narration, and
	// its last frame is held until the clip's full additive duration.
	if in.Duration > 0 {
		videoFilter += fmt.Sprintf(",tpad=start_mode=clone:start_duration=%.3f", in.Duration)
	}
	if tail := clipDuration - in.Duration - nativeDuration; tail > 0 {
		videoFilter += fmt.Sprintf(",tpad=stop_mode=clone:stop_duration=%.3f", tail)
	}
	videoFilter = applyFadeFilters(videoFilter, in, out, contentDuration, fps)
	if subtitlePath != "" {
		videoFilter += fmt.Sprintf(",subtitles='%s'", ffmpeg.EscapeFilterPath(subtitlePath))
	}

	args := []string{"-y", "-i", videoPath}
	audioArgs, audioFilter, _ := r.audioInputArgs(seg, clipDuration, in.Duration)
	args = append(args, audioArgs...)

	// The source clip's own audio track is never mapped: narration (or
	// silence) always wins over a source video's or generated clip's
	// native audio.
	filterComplex := fmt.Sprintf("[0:v]%s[vout];%s", videoFilter, audioFilter)
	maps := []string{"-map", "[vout]", "-map", "[aout]"}

	args = append(args, "-filter_complex", filterComplex)
	args = append(args, maps...)
	args = append(args,
		"-t", fmt.Sprintf("%.3f", clipDuration),
		"-c:v", r.settings.VideoCodec,
		"-pix_fmt", r.settings.VideoPixFmt,
		"-c:a", r.settings.AudioCodec,
		"-b:a", "192k",
		"-r", fmt.Sprintf("%d", fps),
		"-shortest",
		outputPath,
	)
	cctx, cancel := ffmpeg.ContextWithExpected(ctx, clipDuration, r.settings.SubprocessTimeoutMultiplier)
	defer cancel()
	return r.ff.RunFFmpeg(cctx, args...)
}

// audioInputArgs returns the extra ffmpeg input args for this segment's
// narration, plus the filter_complex fragment that produces the [aout]
// label, offset by both start_delay and the transition-in padding
// prepended to the clip's own timeline; the transition pad shifts the
// audio track exactly as it does the video. Every clip gets an audio
// stream, even a silent one generated via
// aevalsrc when there is no voice-over, so every IntermediateClip has a
// uniform audio layout the concatenator can join without branching per clip.
func (r *Renderer) audioInputArgs(seg *job.Segment, clipDuration, transitionInDuration float64) (args []string, filter string, hasAudio bool) {
	channelLayout := "stereo"
	if r.settings.AudioChannels == 1 {
		channelLayout = "mono"
	}

	if seg.VoiceOver == nil || seg.VoiceOver.LocalPath == "" {
		filter = fmt.Sprintf(
			"aevalsrc=0:d=%.3f:s=%d,aformat=sample_rates=%d:channel_layouts=%s[aout]",
			clipDuration, r.settings.AudioSampleRate, r.settings.AudioSampleRate, channelLayout,
		)
		return nil, filter, false
	}

	startDelay := math.Max(seg.VoiceOver.StartDelay, 0) + math.Max(transitionInDuration, 0)
	delayMs := int(startDelay * 1000)
	volume := seg.VoiceOver.Volume
	if volume <= 0 {
		volume = 1.0
	}

	filter = fmt.Sprintf(
		"[1:a]adelay=%d|%d,apad,volume=%.3f,aformat=sample_rates=%d:channel_layouts=%s[aout]",
		delayMs, delayMs, volume, r.settings.AudioSampleRate, channelLayout,
	)
	return []string{"-i", seg.VoiceOver.LocalPath}, filter, true
}

// applyFadeFilters layers video fade-in/fade-out onto the base filter
// chain for non-cut transitions. fade=black and fade=white map to ffmpeg's
// fade filter with an explicit color; plain "fade" degrades to black,
// matching common player behavior when no color is specified.
func applyFadeFilters(base string, in, out job.Transition, contentDuration float64, fps int) string {
	chain := base
	if in.Type != job.TransitionCut && in.Duration > 0 {
		chain += fmt.Sprintf(",fade=t=in:st=0:d=%.3f:color=%s", in.Duration, fadeColor(in.Type))
	}
	if out.Type != job.TransitionCut && out.Duration > 0 {
		start := in.Duration + contentDuration
		chain += fmt.Sprintf(",fade=t=out:st=%.3f:d=%.3f:color=%s", start, out.Duration, fadeColor(out.Type))
	}
	return chain
}

func fadeColor(t job.TransitionType) string {
	switch t {
	case job.TransitionFadeWhite:
		return "white"
	default:
		return "black"
	}
}
