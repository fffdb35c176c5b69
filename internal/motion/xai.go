// xAI Grok Imagine Video alternative to the Veo motion provider:
// submit a generation request, poll with backoff, download the result.
// The API takes image inputs only by public URL and this pipeline's source
// images are local temp files, so generation here is prompt-only.
package motion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/job"
	"github.com/bobarin/reelforge/internal/scope"
)

const (
	xaiBaseURL           = "https://api.x.ai/v1"
	xaiVideoModel        = "grok-imagine-video"
	xaiInitialDelay      = 15 * time.Second
	xaiPollMinInterval   = 5 * time.Second
	xaiPollMaxInterval   = 20 * time.Second
	xaiPollBackoffFactor = 1.5
	xaiMaxPollDuration   = 5 * time.Minute
	xaiMinDuration       = 1
	xaiMaxDuration       = 15
	xaiDefaultResolution = "720p"
)

type XAIProvider struct {
	apiKey      string
	client      *http.Client
	aspectRatio string
}

func NewXAIProvider(settings *config.Settings) *XAIProvider {
	aspect := "16:9"
	if settings.VideoHeight > settings.VideoWidth {
		aspect = "9:16"
	}
	return &XAIProvider{
		apiKey:      settings.XAIAPIKey,
		client:      &http.Client{Timeout: 30 * time.Second},
		aspectRatio: aspect,
	}
}

type xaiGenerationRequest struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model"`
	Duration    int    `json:"duration,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
}

type xaiGenerationResponse struct {
	RequestID string `json:"request_id"`
}

type xaiVideoResult struct {
	Status string          `json:"status"`
	Video  *xaiVideoOutput `json:"video,omitempty"`
	Error  string          `json:"error"`
}

type xaiVideoOutput struct {
	URL      string `json:"url"`
	Duration int    `json:"duration"`
}

func (p *XAIProvider) GenerateClip(ctx context.Context, sc *scope.Scope, seg *job.Segment, imagePath string, durationSec float64) (string, error) {
	duration := int(durationSec)
	if duration < xaiMinDuration {
		duration = xaiMinDuration
	}
	if duration > xaiMaxDuration {
		duration = xaiMaxDuration
	}

	reqBody := xaiGenerationRequest{
		Prompt:      motionPrompt(seg),
		Model:       xaiVideoModel,
		Duration:    duration,
		AspectRatio: p.aspectRatio,
		Resolution:  xaiDefaultResolution,
	}

	requestID, err := p.submit(ctx, reqBody)
	if err != nil {
		return "", fmt.Errorf("submit generation: %w", err)
	}

	result, err := p.poll(ctx, requestID)
	if err != nil {
		return "", err
	}

	data, err := p.download(ctx, result.Video.URL)
	if err != nil {
		return "", fmt.Errorf("download generated video: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("downloaded video is empty")
	}

	outPath := sc.TempFilePath(fmt.Sprintf("motion_%s.mp4", seg.ID))
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write generated video: %w", err)
	}
	return outPath, nil
}

func (p *XAIProvider) submit(ctx context.Context, body xaiGenerationRequest) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, xaiBaseURL+"/videos/generations", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}

	var gen xaiGenerationResponse
	if err := json.Unmarshal(respBody, &gen); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if gen.RequestID == "" {
		return "", fmt.Errorf("no request_id in response")
	}
	return gen.RequestID, nil
}

func (p *XAIProvider) poll(ctx context.Context, requestID string) (*xaiVideoResult, error) {
	deadline := time.Now().Add(xaiMaxPollDuration)
	interval := xaiPollMinInterval

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(xaiInitialDelay):
	}

	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("generation timed out after %v", xaiMaxPollDuration)
		}

		result, err := p.fetch(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if result.Video != nil && result.Video.URL != "" {
			return result, nil
		}
		if result.Status == "failed" {
			if result.Error == "" {
				result.Error = "unknown error"
			}
			return nil, fmt.Errorf("generation failed: %s", result.Error)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		next := time.Duration(float64(interval) * xaiPollBackoffFactor)
		if next > xaiPollMaxInterval {
			next = xaiPollMaxInterval
		}
		interval = next
	}
}

func (p *XAIProvider) fetch(ctx context.Context, requestID string) (*xaiVideoResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/videos/%s", xaiBaseURL, requestID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	var result xaiVideoResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}
	return &result, nil
}

func (p *XAIProvider) download(ctx context.Context, videoURL string) ([]byte, error) {
	client := &http.Client{Timeout: 120 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
