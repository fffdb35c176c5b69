// Package upload pushes the final concatenated MP4 to object storage and
// returns its public URL. The storage backend sits behind the BlobSink
// interface so the pipeline isn't tied to one provider; transient sink
// failures retry under the shared backoff policy.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/job"
	"github.com/bobarin/reelforge/internal/metrics"
	"github.com/bobarin/reelforge/internal/retry"
)

const stageName = "upload"

// BlobSink is the object-storage collaborator: given a local file and a
// destination key, it returns the object's retrievable URL. Put is
// idempotent by key.
type BlobSink interface {
	Put(ctx context.Context, localPath, key string) (url string, err error)
}

type Uploader struct {
	settings *config.Settings
	sink     BlobSink
}

func New(settings *config.Settings, sink BlobSink) *Uploader {
	return &Uploader{settings: settings, sink: sink}
}

// Run uploads the final clip at KeyFinalClipPath and writes the resulting
// URL to KeyUploadURL. On permanent failure the local file is left in
// place so a retry pass or manual recovery still has something to work
// with.
func (u *Uploader) Run(ctx context.Context, collector *metrics.Collector, pc *job.Context, j *job.Job) error {
	raw, ok := pc.Get(job.KeyFinalClipPath)
	if !ok {
		return job.NewPipelineError(stageName, job.KindUpload, fmt.Errorf("no final clip to upload"))
	}
	finalPath, ok := raw.(string)
	if !ok || finalPath == "" {
		return job.NewPipelineError(stageName, job.KindUpload, fmt.Errorf("invalid final clip path"))
	}

	key := storageKey(u.settings, j)

	policy := retry.Policy{
		MaxAttempts: u.settings.RetryMaxAttempts,
		BaseDelay:   time.Duration(u.settings.RetryBaseDelayMS) * time.Millisecond,
		JitterFrac:  u.settings.RetryJitterFrac,
	}

	var uploadURL string
	err := retry.Do(ctx, policy, retry.AlwaysRetryable, func(ctx context.Context) error {
		url, err := u.sink.Put(ctx, finalPath, key)
		if err != nil {
			return err
		}
		uploadURL = url
		return nil
	})
	if err != nil {
		collector.RecordItems(stageName, 0, 1)
		return job.NewPipelineError(stageName, job.KindUpload, fmt.Errorf("upload %s: %w", finalPath, err))
	}

	collector.RecordItems(stageName, 1, 0)
	return pc.Set(stageName, job.KeyUploadURL, uploadURL)
}

func storageKey(settings *config.Settings, j *job.Job) string {
	id := j.ID
	if id == "" {
		id = "job"
	}
	pattern := settings.StorageKeyPattern
	if pattern == "" {
		pattern = "renders/%s/%d.mp4"
	}
	return fmt.Sprintf(pattern, id, time.Now().Unix())
}

// HTTPBlobSink is a concrete BlobSink for a simple PUT-based object
// store.
type HTTPBlobSink struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPBlobSink(baseURL, apiKey string) *HTTPBlobSink {
	return &HTTPBlobSink{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 180 * time.Second},
	}
}

func (h *HTTPBlobSink) Put(ctx context.Context, localPath, key string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", localPath, err)
	}

	url := fmt.Sprintf("%s/%s", h.baseURL, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "video/mp4")
	req.Header.Set("Content-Length", fmt.Sprintf("%d", len(data)))
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
	req.Header.Set("x-upsert", "true")

	resp, err := h.client.Do(req)
	if err != nil {
		if retry.RetryableHTTPError(err) {
			return "", err
		}
		return "", fmt.Errorf("non-retryable upload failure: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return url, nil
	}
	if retry.RetryableStatus(resp.StatusCode) {
		return "", fmt.Errorf("upload returned retryable status %d", resp.StatusCode)
	}
	return "", fmt.Errorf("upload failed with status %d", resp.StatusCode)
}
