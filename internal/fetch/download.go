// Package fetch materializes every asset reference in a job: concurrent
// HTTP fetch with URL dedup, size/media-type validation, and local-path
// pass-through, all through one shared client and the common retry
// policy.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/job"
	"github.com/bobarin/reelforge/internal/metrics"
	"github.com/bobarin/reelforge/internal/processor"
	"github.com/bobarin/reelforge/internal/retry"
	"github.com/bobarin/reelforge/internal/scope"
)

type Downloader struct {
	settings *config.Settings
	client   *http.Client

	mu       sync.Mutex
	byURL    map[string]string // (scope root, url) -> local path; the same URL is fetched once per job
}

func New(settings *config.Settings) *Downloader {
	return &Downloader{
		settings: settings,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		byURL: make(map[string]string),
	}
}

// asset is one (url or local path) -> local_path assignment the downloader
// must resolve. assign is called with the final local path on success.
type asset struct {
	ref        string
	required   bool
	kind       string
	segmentID  string
	assign     func(localPath string)
}

// Run resolves every AssetRef in j, writing local_path via each asset's
// assign callback; the Job is mutated in place.
//
// Per-asset failures are isolated rather than aborting the whole download
// stage: a required visual that fails to fetch is recorded on pc (so the
// Image Auto-Fixer can attempt a substitute, or the renderer can fail that
// one segment in isolation) instead of failing every other segment's
// download. A segment whose only image 404s must still reach the fixer, so
// even an all-assets-failed batch is not fatal here — only cancellation is.
func (d *Downloader) Run(ctx context.Context, collector *metrics.Collector, pc *job.Context, j *job.Job, sc *scope.Scope) error {
	assets := collectAssets(j)
	if len(assets) == 0 {
		return nil
	}

	// Assets that share a reference share one batch item, so a URL used by
	// several segments is fetched once even when they would run concurrently.
	slot := make([]int, len(assets))
	first := make(map[string]int)
	var unique []asset
	for i, a := range assets {
		k, ok := first[a.ref]
		if !ok {
			k = len(unique)
			first[a.ref] = k
			unique = append(unique, a)
		}
		slot[i] = k
	}

	policy := processor.BatchPolicy{}
	results, _ := processor.RunBatch(ctx, collector, "download", unique, d.settings.DownloadMaxConcurrent, policy,
		func(ctx context.Context, a asset) (string, error) {
			return d.resolve(ctx, a, sc)
		})
	if err := ctx.Err(); err != nil {
		return job.NewPipelineError("download", job.KindCancelled, err)
	}

	for i, a := range assets {
		r := results[slot[i]]
		if r.Err != nil {
			kind := "DownloadFailed"
			if a.required {
				kind = "RequiredAssetDownloadFailed"
			}
			pc.AddWarning(kind, fmt.Sprintf("%s asset for segment %q failed to download (%s): %v", a.kind, a.segmentID, a.ref, r.Err))
			continue
		}
		a.assign(r.Output)
	}
	return nil
}

func collectAssets(j *job.Job) []asset {
	var assets []asset
	for i := range j.Segments {
		seg := &j.Segments[i]
		if seg.HasVideo() {
			v := seg.Video
			assets = append(assets, asset{ref: v.URL, required: true, kind: "video", segmentID: seg.ID, assign: func(p string) { v.LocalPath = p }})
		} else if seg.Image != nil {
			im := seg.Image
			assets = append(assets, asset{ref: im.URL, required: true, kind: "image", segmentID: seg.ID, assign: func(p string) { im.LocalPath = p }})
		}
		if seg.VoiceOver != nil {
			vo := seg.VoiceOver
			assets = append(assets, asset{ref: vo.URL, required: false, kind: "voice_over", segmentID: seg.ID, assign: func(p string) { vo.LocalPath = p }})
		}
	}
	if j.BackgroundMusic != nil {
		bgm := j.BackgroundMusic
		assets = append(assets, asset{ref: bgm.URL, required: false, kind: "background_music", segmentID: "", assign: func(p string) { bgm.LocalPath = p }})
	}
	return assets
}

// DownloadOne resolves a single URL or local path outside of a batch run,
// sharing the same dedup map and retry policy as Run. Used by the Image
// Auto-Fixer's redownload callback, which needs to fetch a single
// substitute image without re-running the whole asset batch.
func (d *Downloader) DownloadOne(ctx context.Context, ref string, sc *scope.Scope) (string, error) {
	return d.resolve(ctx, asset{ref: ref, kind: "image"}, sc)
}

func (d *Downloader) resolve(ctx context.Context, a asset, sc *scope.Scope) (string, error) {
	if a.ref == "" {
		return "", fmt.Errorf("empty asset reference")
	}
	if !isHTTPURL(a.ref) {
		return d.resolveLocal(a.ref)
	}

	key := sc.Root() + "\x00" + a.ref
	d.mu.Lock()
	if existing, ok := d.byURL[key]; ok {
		d.mu.Unlock()
		return existing, nil
	}
	d.mu.Unlock()

	policy := retry.Policy{
		MaxAttempts: d.settings.RetryMaxAttempts,
		BaseDelay:   time.Duration(d.settings.RetryBaseDelayMS) * time.Millisecond,
		JitterFrac:  d.settings.RetryJitterFrac,
	}
	var localPath string
	err := retry.Do(ctx, policy, retry.RetryableHTTPError, func(ctx context.Context) error {
		p, err := d.download(ctx, a.ref, sc)
		if err != nil {
			return err
		}
		localPath = p
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("download %s: %w", a.ref, err)
	}

	d.mu.Lock()
	d.byURL[key] = localPath
	d.mu.Unlock()
	return localPath, nil
}

func (d *Downloader) download(ctx context.Context, rawURL string, sc *scope.Scope) (string, error) {
	dlCtx, cancel := context.WithTimeout(ctx, time.Duration(d.settings.DownloadTimeoutSeconds)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if retry.RetryableStatus(resp.StatusCode) {
			return "", fmt.Errorf("status %d (retryable)", resp.StatusCode)
		}
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	if len(d.settings.DownloadAllowedTypes) > 0 {
		ct := resp.Header.Get("Content-Type")
		if !contentTypeAllowed(ct, d.settings.DownloadAllowedTypes) {
			return "", fmt.Errorf("disallowed content-type %q", ct)
		}
	}

	name := sha256Name(rawURL) + extFromURL(rawURL)
	localPath := sc.TempFilePath(filepath.Join("downloads", name))
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	f, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	sc.TrackFile(localPath)

	limited := io.LimitReader(resp.Body, d.settings.DownloadMaxSizeBytes+1)
	n, err := io.Copy(f, limited)
	closeErr := f.Close()
	if err != nil {
		return "", fmt.Errorf("write body: %w", err)
	}
	if closeErr != nil {
		return "", fmt.Errorf("close file: %w", closeErr)
	}
	if n > d.settings.DownloadMaxSizeBytes {
		return "", fmt.Errorf("asset exceeds max size of %d bytes", d.settings.DownloadMaxSizeBytes)
	}

	return localPath, nil
}

func (d *Downloader) resolveLocal(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("local asset not readable: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("local asset %q is a directory", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("local asset not readable: %w", err)
	}
	f.Close()
	return path, nil
}

func isHTTPURL(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func sha256Name(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func extFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := filepath.Ext(u.Path)
	if len(ext) > 8 || strings.ContainsAny(ext, "?&=") {
		return ""
	}
	return ext
}

func contentTypeAllowed(ct string, allowed []string) bool {
	ct = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	for _, a := range allowed {
		if strings.ToLower(a) == ct {
			return true
		}
	}
	return false
}
