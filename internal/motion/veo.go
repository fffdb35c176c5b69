// Package motion implements the optional AI-motion enrichment hook
// (render.MotionProvider): given a still image, generate a short video
// clip to stand in for the deterministic Ken Burns pan. Both providers
// fail soft — any error falls back to the pan, never aborting a segment.
package motion

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/job"
	"github.com/bobarin/reelforge/internal/scope"
)

const (
	defaultModel    = "veo-3.1-generate-preview"
	pollInterval    = 10 * time.Second
	maxPollDuration = 5 * time.Minute
)

// VeoProvider generates a motion clip per segment via Google's Veo model.
// It is strictly opt-in: constructed only when Settings.AIVideoEnabled is
// true and an API key is present, and every failure is returned as a plain
// error so the renderer can fall back to Ken Burns without aborting.
type VeoProvider struct {
	apiKey string
	model  string
	width  int
	height int
}

func NewVeoProvider(settings *config.Settings) *VeoProvider {
	model := settings.AIModel
	if model == "" {
		model = defaultModel
	}
	return &VeoProvider{
		apiKey: settings.GeminiKey,
		model:  model,
		width:  settings.VideoWidth,
		height: settings.VideoHeight,
	}
}

func (p *VeoProvider) aspectRatio() string {
	if p.height > p.width {
		return "9:16"
	}
	return "16:9"
}

// GenerateClip asks Veo to animate imagePath for roughly durationSec and
// writes the resulting MP4 into the job's scope, returning its path.
func (p *VeoProvider) GenerateClip(ctx context.Context, sc *scope.Scope, seg *job.Segment, imagePath string, durationSec float64) (string, error) {
	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read source image: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("create genai client: %w", err)
	}

	prompt := motionPrompt(seg)
	firstFrame := &genai.Image{ImageBytes: imageData, MIMEType: "image/png"}
	cfg := &genai.GenerateVideosConfig{
		AspectRatio:      p.aspectRatio(),
		Resolution:       "1080p",
		PersonGeneration: "allow_adult",
		NumberOfVideos:   1,
	}

	operation, err := client.Models.GenerateVideos(ctx, p.model, prompt, firstFrame, cfg)
	if err != nil {
		return "", fmt.Errorf("start video generation: %w", err)
	}

	deadline := time.Now().Add(maxPollDuration)
	for !operation.Done {
		if time.Now().After(deadline) {
			return "", fmt.Errorf("video generation timed out after %v", maxPollDuration)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}
		operation, err = client.Operations.GetVideosOperation(ctx, operation, nil)
		if err != nil {
			return "", fmt.Errorf("poll operation: %w", err)
		}
	}

	if operation.Error != nil && len(operation.Error) > 0 {
		errJSON, _ := json.Marshal(operation.Error)
		return "", fmt.Errorf("operation failed: %s", string(errJSON))
	}
	if operation.Response == nil || len(operation.Response.GeneratedVideos) == 0 {
		return "", fmt.Errorf("no videos in completed operation")
	}
	if operation.Response.RAIMediaFilteredCount > 0 {
		return "", fmt.Errorf("video blocked by safety filters: %s", strings.Join(operation.Response.RAIMediaFilteredReasons, ", "))
	}

	video := operation.Response.GeneratedVideos[0]
	if video.Video == nil {
		return "", fmt.Errorf("generated video object is nil")
	}

	downloadURI := genai.NewDownloadURIFromVideo(video.Video)
	videoBytes, err := client.Files.Download(ctx, downloadURI, nil)
	if err != nil {
		return "", fmt.Errorf("download generated video: %w", err)
	}
	if len(videoBytes) == 0 {
		return "", fmt.Errorf("downloaded video is empty")
	}

	outPath := sc.TempFilePath(fmt.Sprintf("motion_%s.mp4", seg.ID))
	if err := os.WriteFile(outPath, videoBytes, 0o644); err != nil {
		return "", fmt.Errorf("write generated video: %w", err)
	}
	return outPath, nil
}

// motionPrompt builds a Veo prompt from the segment's own text, falling
// back to a generic gentle-motion instruction when the segment has no
// voice-over transcript to draw from.
func motionPrompt(seg *job.Segment) string {
	subject := "the scene in the source image"
	if seg.VoiceOver != nil && seg.VoiceOver.Content != "" {
		subject = seg.VoiceOver.Content
	}
	return fmt.Sprintf(`Animate the source image with subtle, natural, realistic movement appropriate to: %s

Favor gentle, grounded motion: a slow push-in, drifting light or particles, soft fabric or hair movement. Avoid sudden or exaggerated motion, style changes, or morphing. No generated audio — silent video only.`, subject)
}
