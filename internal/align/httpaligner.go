package align

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

// HTTPForcedAligner is the concrete ForcedAligner client for the remote
// alignment service.
type HTTPForcedAligner struct {
	baseURL string
	client  *http.Client
}

func NewHTTPForcedAligner(baseURL string, timeout time.Duration) *HTTPForcedAligner {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPForcedAligner{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

type alignerWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Case  string  `json:"case"`
}

type alignerResponse struct {
	Words []alignerWord `json:"words"`
}

func (h *HTTPForcedAligner) Align(ctx context.Context, audioPath, transcript string) ([]WordTimestamp, error) {
	if h.baseURL == "" {
		return nil, fmt.Errorf("forced aligner not configured")
	}

	audioFile, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open voice-over audio: %w", err)
	}
	defer audioFile.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("audio", audioPath)
	if err != nil {
		return nil, fmt.Errorf("create multipart audio field: %w", err)
	}
	if _, err := io.Copy(part, audioFile); err != nil {
		return nil, fmt.Errorf("copy audio into request: %w", err)
	}
	if err := writer.WriteField("transcript", transcript); err != nil {
		return nil, fmt.Errorf("write transcript field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL, &body)
	if err != nil {
		return nil, fmt.Errorf("build aligner request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aligner request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aligner returned status %d", resp.StatusCode)
	}

	var parsed alignerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode aligner response: %w", err)
	}

	words := make([]WordTimestamp, len(parsed.Words))
	for i, w := range parsed.Words {
		words[i] = WordTimestamp{Word: w.Word, Start: w.Start, End: w.End}
	}
	return words, nil
}
