// Package imagefix detects segments whose image is missing, unreadable,
// or heuristically invalid, derives a keyword prompt from segment
// context, searches an external provider for a replacement, and falls
// back to a deterministic placeholder when the search fails. Every failure is isolated per segment — this stage never
// aborts the pipeline.
package imagefix

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/job"
	"github.com/bobarin/reelforge/internal/llm"
	"github.com/bobarin/reelforge/internal/metrics"
	"github.com/bobarin/reelforge/internal/processor"
)

// SearchProvider is the external image-search collaborator. The first
// valid URL in the result list is used.
type SearchProvider interface {
	Search(ctx context.Context, keyword string) ([]string, error)
}

// Keywords is the typed record an optional LLM call extracts: one to
// five short keywords.
type Keywords struct {
	Keywords []string `json:"keywords"`
}

func (k Keywords) valid() bool {
	if len(k.Keywords) == 0 || len(k.Keywords) > 5 {
		return false
	}
	for _, kw := range k.Keywords {
		if strings.TrimSpace(kw) == "" {
			return false
		}
	}
	return true
}

type Fixer struct {
	settings       *config.Settings
	search         SearchProvider
	llmClient      *llm.Client
	placeholderURL string
}

func New(settings *config.Settings, search SearchProvider, llmClient *llm.Client, placeholderURL string) *Fixer {
	return &Fixer{settings: settings, search: search, llmClient: llmClient, placeholderURL: placeholderURL}
}

// candidate is a segment whose image needs replacing; its keyword prompt
// is derived later, in substitute.
type candidate struct {
	segment *job.Segment
}

// Run scans j for segments needing a replacement image and substitutes a
// search result or the deterministic placeholder. redownload is called for
// any segment whose image URL changed, so the caller can re-run the
// downloader for just that asset.
func (f *Fixer) Run(ctx context.Context, collector *metrics.Collector, pc *job.Context, j *job.Job, redownload func(ctx context.Context, ref *job.ImageRef) error) error {
	var candidates []candidate
	for i := range j.Segments {
		seg := &j.Segments[i]
		if seg.HasVideo() {
			continue // video wins over image; nothing to fix
		}
		if needsFix(seg.Image) {
			candidates = append(candidates, candidate{segment: seg})
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	_, _ = processor.RunBatch(ctx, collector, "image_auto", candidates, f.settings.PerformanceMaxConcurrentSegments, processor.BatchPolicy{},
		func(ctx context.Context, c candidate) (struct{}, error) {
			originalURL := ""
			if c.segment.Image != nil {
				originalURL = c.segment.Image.URL
			}
			newURL, err := f.substitute(ctx, c.segment, j)
			if err != nil {
				pc.AddWarning("ImageFixFailed", fmt.Sprintf("segment %q: %v", c.segment.ID, err))
				return struct{}{}, err
			}
			if c.segment.Image == nil {
				c.segment.Image = &job.ImageRef{}
			}
			c.segment.Image.URL = newURL
			c.segment.Image.LocalPath = ""
			pc.AddWarning("ImageSubstituted", fmt.Sprintf("segment %q: original=%q substitute=%q", c.segment.ID, originalURL, newURL))

			if redownload != nil {
				if err := redownload(ctx, c.segment.Image); err != nil {
					pc.AddWarning("ImageRedownloadFailed", fmt.Sprintf("segment %q: %v", c.segment.ID, err))
				}
			}
			return struct{}{}, nil
		})
	// Per-segment failures are isolated above; this stage never aborts the
	// pipeline even if every fix attempt failed — each affected segment
	// simply keeps lacking a usable image and is caught, in isolation, at
	// render time.
	return nil
}

func needsFix(ref *job.ImageRef) bool {
	if ref == nil || ref.URL == "" {
		return true
	}
	if ref.LocalPath == "" {
		return true // download failed upstream; try a substitute
	}
	return !isPlausibleImage(ref.LocalPath)
}

// isPlausibleImage applies the size/aspect heuristic: the file must
// decode as an image and have a sane aspect ratio.
func isPlausibleImage(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() < 256 {
		return false
	}

	cfg, _, err := image.DecodeConfig(f)
	if err != nil || cfg.Width == 0 || cfg.Height == 0 {
		return false
	}
	ratio := float64(cfg.Width) / float64(cfg.Height)
	return ratio > 0.2 && ratio < 5.0
}

func (f *Fixer) substitute(ctx context.Context, seg *job.Segment, j *job.Job) (string, error) {
	keyword := f.keywordFor(ctx, seg, j)

	if f.search != nil {
		urls, err := f.search.Search(ctx, keyword)
		if err == nil && len(urls) > 0 {
			return urls[0], nil
		}
	}

	if f.placeholderURL == "" {
		return "", fmt.Errorf("no search result and no placeholder configured")
	}
	return f.placeholderURL, nil
}

// keywordFor derives a search prompt from segment transcript, niche and
// keywords; uses an optional LLM extraction step when configured, falling
// back to a deterministic heuristic on any failure.
func (f *Fixer) keywordFor(ctx context.Context, seg *job.Segment, j *job.Job) string {
	transcript := ""
	if seg.VoiceOver != nil {
		transcript = seg.VoiceOver.Content
	}

	if f.llmClient.Enabled() {
		systemPrompt := "Extract 1 to 5 short, concrete search keywords (nouns or noun phrases) describing a suitable stock image for this video segment. Respond as JSON: {\"keywords\": [\"...\"]}."
		userPrompt := fmt.Sprintf("Niche: %s\nKeywords: %s\nSegment transcript: %s", j.Niche, strings.Join(j.Keywords, ", "), transcript)

		var kw Keywords
		if err := f.llmClient.CallJSON(ctx, systemPrompt, userPrompt, &kw); err == nil && kw.valid() {
			return strings.Join(kw.Keywords, " ")
		}
	}

	return heuristicKeyword(transcript, j)
}

// heuristicKeyword is the deterministic fallback: first few meaningful
// words of the transcript, or the job's niche/keywords.
func heuristicKeyword(transcript string, j *job.Job) string {
	words := strings.Fields(transcript)
	const maxWords = 5
	if len(words) > maxWords {
		words = words[:maxWords]
	}
	if len(words) > 0 {
		return strings.Join(words, " ")
	}
	if len(j.Keywords) > 0 {
		return strings.Join(j.Keywords, " ")
	}
	if j.Niche != "" {
		return j.Niche
	}
	return "abstract background"
}
