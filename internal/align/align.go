// Package align turns a segment's voice-over audio plus its transcript
// into timed text_over spans: the transcript is chunked into display-sized
// caption spans, the forced-aligner service timestamps each word, and the
// spans inherit their windows from the bounding words.
package align

import (
	"context"
	"fmt"
	"strings"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/job"
	"github.com/bobarin/reelforge/internal/llm"
	"github.com/bobarin/reelforge/internal/metrics"
	"github.com/bobarin/reelforge/internal/processor"
)

// WordTimestamp is one word in the forced-aligner's response; unknown
// response fields are ignored.
type WordTimestamp struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ForcedAligner is the remote alignment service: POST multipart
// {audio, transcript} -> {words: [...]}.
type ForcedAligner interface {
	Align(ctx context.Context, audioPath, transcript string) ([]WordTimestamp, error)
}

type Aligner struct {
	settings  *config.Settings
	forced    ForcedAligner
	llmClient *llm.Client
}

func New(settings *config.Settings, forced ForcedAligner, llmClient *llm.Client) *Aligner {
	return &Aligner{settings: settings, forced: forced, llmClient: llmClient}
}

// Run populates TextOver for every segment whose voice_over carries
// content text. Any failure of the remote aligner or LLM falls back to a
// uniform time distribution across spans; the pipeline always continues.
func (a *Aligner) Run(ctx context.Context, collector *metrics.Collector, pc *job.Context, j *job.Job) error {
	var targets []*job.Segment
	for i := range j.Segments {
		seg := &j.Segments[i]
		if seg.VoiceOver != nil && strings.TrimSpace(seg.VoiceOver.Content) != "" {
			targets = append(targets, seg)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	_, err := processor.RunBatch(ctx, collector, "align_text", targets, a.settings.PerformanceMaxConcurrentSegments, processor.BatchPolicy{},
		func(ctx context.Context, seg *job.Segment) (struct{}, error) {
			overlays, warn := a.alignSegment(ctx, seg)
			seg.TextOver = overlays
			if warn != "" {
				pc.AddWarning("AlignerUnavailable", fmt.Sprintf("segment %q: %s", seg.ID, warn))
			}
			return struct{}{}, nil
		})
	return err
}

// alignSegment never returns an error: any failure degrades to the uniform
// fallback. The returned string, when non-empty, is a warning to surface.
func (a *Aligner) alignSegment(ctx context.Context, seg *job.Segment) ([]job.TextOverlay, string) {
	spans := a.splitSpans(ctx, seg.VoiceOver.Content)
	if len(spans) == 0 {
		return nil, ""
	}

	voDuration := seg.VoiceOver.DurationSec
	if voDuration <= 0 {
		return uniformDistribution(spans, 0), "voice-over duration unknown, cannot align"
	}

	if a.forced == nil {
		return uniformDistribution(spans, voDuration), "forced aligner not configured"
	}

	words, err := a.forced.Align(ctx, seg.VoiceOver.LocalPath, seg.VoiceOver.Content)
	if err != nil || len(words) == 0 {
		return uniformDistribution(spans, voDuration), fmt.Sprintf("forced aligner call failed: %v", err)
	}

	overlays, err := mapSpansToWords(spans, words)
	if err != nil {
		return uniformDistribution(spans, voDuration), fmt.Sprintf("span/word mapping failed: %v", err)
	}
	return overlays, ""
}

// splitSpans produces display-sized spans: 2-7 words, <=35 chars,
// non-overlapping, monotonic. An LLM, when configured, proposes the
// split; a deterministic rule checker always validates and repairs it, so
// the rest of the pipeline never depends on the LLM's output being
// well-formed.
func (a *Aligner) splitSpans(ctx context.Context, transcript string) []string {
	if a.llmClient.Enabled() {
		var resp struct {
			Segments []string `json:"segments"`
		}
		systemPrompt := "Split the transcript into short display spans for on-screen captions. Each span must have 2 to 7 words and at most 35 characters, preserving compound words. Respond as JSON: {\"segments\": [\"...\"]}."
		if err := a.llmClient.CallJSON(ctx, systemPrompt, transcript, &resp); err == nil && len(resp.Segments) > 0 {
			if repaired := repairSpans(resp.Segments); len(repaired) > 0 {
				return repaired
			}
		}
	}
	return deterministicSplit(transcript)
}

const (
	minSpanWords = 2
	maxSpanWords = 7
	maxSpanChars = 35
)

// deterministicSplit is the rule-based splitter used when no LLM is
// configured, or as ground truth to repair against.
func deterministicSplit(transcript string) []string {
	words := strings.Fields(transcript)
	var spans []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			spans = append(spans, strings.Join(current, " "))
			current = nil
		}
	}

	for _, w := range words {
		candidate := append(append([]string{}, current...), w)
		if len(candidate) > maxSpanWords || len(strings.Join(candidate, " ")) > maxSpanChars {
			flush()
			current = []string{w}
			continue
		}
		current = candidate
		if len(current) >= minSpanWords && strings.ContainsAny(w, ".!?") {
			flush()
		}
	}
	flush()

	// A trailing span smaller than minSpanWords merges into its predecessor
	// when that stays within bounds; otherwise the two spans' words are
	// rebalanced across a new boundary, so the last span is never a
	// dangling single word.
	if len(spans) >= 2 {
		last := strings.Fields(spans[len(spans)-1])
		if len(last) < minSpanWords {
			combined := append(strings.Fields(spans[len(spans)-2]), last...)
			merged := strings.Join(combined, " ")
			if len(combined) <= maxSpanWords && len(merged) <= maxSpanChars {
				spans = append(spans[:len(spans)-2], merged)
			} else if head, tail, ok := rebalance(combined); ok {
				spans = append(spans[:len(spans)-2], head, tail)
			}
		}
	}
	return spans
}

// rebalance splits words at the boundary nearest the middle that keeps
// both halves within the span bounds. Used when a straight merge of the
// last two spans would exceed them.
func rebalance(words []string) (head, tail string, ok bool) {
	mid := len(words) / 2
	for offset := 0; offset <= mid; offset++ {
		for _, k := range []int{mid - offset, mid + offset} {
			if k < minSpanWords || len(words)-k < minSpanWords ||
				k > maxSpanWords || len(words)-k > maxSpanWords {
				continue
			}
			head = strings.Join(words[:k], " ")
			tail = strings.Join(words[k:], " ")
			if len(head) <= maxSpanChars && len(tail) <= maxSpanChars {
				return head, tail, true
			}
		}
	}
	return "", "", false
}

// repairSpans validates LLM-proposed spans against the size rule and
// re-splits any span that violates it, using the same deterministic rule.
func repairSpans(proposed []string) []string {
	var out []string
	for _, s := range proposed {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		words := strings.Fields(s)
		if len(words) >= minSpanWords && len(words) <= maxSpanWords && len(s) <= maxSpanChars {
			out = append(out, s)
			continue
		}
		out = append(out, deterministicSplit(s)...)
	}
	return out
}

// mapSpansToWords maps spans to word-index ranges positionally: each span
// was derived from the same transcript word sequence as the forced
// aligner's word list, so consuming len(fields(span)) words per span in
// order is the deterministic longest-match the design calls for — no
// fuzzy text matching is needed because the partition is already ordered
// and exhaustive.
func mapSpansToWords(spans []string, words []WordTimestamp) ([]job.TextOverlay, error) {
	overlays := make([]job.TextOverlay, 0, len(spans))
	cursor := 0
	for _, span := range spans {
		n := len(strings.Fields(span))
		if n == 0 {
			continue
		}
		end := cursor + n
		if end > len(words) {
			end = len(words)
		}
		if cursor >= end {
			break
		}
		overlays = append(overlays, job.TextOverlay{
			Text:  span,
			Start: words[cursor].Start,
			End:   words[end-1].End,
		})
		cursor = end
	}
	if len(overlays) == 0 {
		return nil, fmt.Errorf("no spans mapped to words")
	}
	return overlays, nil
}

// uniformDistribution is the aligner-outage fallback: spans spread evenly
// across the voice-over duration.
func uniformDistribution(spans []string, duration float64) []job.TextOverlay {
	if duration <= 0 {
		duration = float64(len(spans)) // degrade to 1s/span if duration is unknown
	}
	per := duration / float64(len(spans))
	overlays := make([]job.TextOverlay, len(spans))
	for i, span := range spans {
		overlays[i] = job.TextOverlay{
			Text:  span,
			Start: float64(i) * per,
			End:   float64(i+1) * per,
		}
	}
	return overlays
}
