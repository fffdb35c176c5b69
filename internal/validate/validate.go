// Package validate is a two-phase structural-then-semantic check of the
// job document, producing a Result rather than failing on the first
// problem found — so every error and warning in the document surfaces in
// one pass.
package validate

import (
	"fmt"
	"net/url"

	"github.com/bobarin/reelforge/internal/job"
)

// Result is the validation outcome: fatal errors plus non-fatal warnings.
type Result struct {
	OK       bool
	Errors   []string
	Warnings []string
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.OK = false
}

func (r *Result) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Run validates j and returns a Result; it never mutates j.
func Run(j *job.Job) Result {
	r := Result{OK: true}
	structural(j, &r)
	if r.OK {
		semantic(j, &r)
	}
	return r
}

func structural(j *job.Job, r *Result) {
	if len(j.Segments) == 0 {
		r.addError("job must contain at least one segment")
		return
	}

	seen := make(map[string]bool, len(j.Segments))
	for i := range j.Segments {
		seg := &j.Segments[i]
		prefix := fmt.Sprintf("segment[%d]", i)

		if seg.ID == "" {
			r.addError("%s: id must not be empty", prefix)
		} else if seen[seg.ID] {
			r.addError("%s: duplicate segment id %q", prefix, seg.ID)
		}
		seen[seg.ID] = true

		if seg.Image == nil && seg.Video == nil {
			r.addError("%s (%s): at least one of image or video is required", prefix, seg.ID)
		}

		if seg.VoiceOver != nil {
			if seg.VoiceOver.StartDelay < 0 {
				r.addError("%s (%s): voice_over.start_delay must be >= 0", prefix, seg.ID)
			}
			if seg.VoiceOver.EndDelay < 0 {
				r.addError("%s (%s): voice_over.end_delay must be >= 0", prefix, seg.ID)
			}
		}

		for ti, t := range []*job.Transition{seg.TransitionIn, seg.TransitionOut} {
			if t == nil {
				continue
			}
			name := "transition_in"
			if ti == 1 {
				name = "transition_out"
			}
			if t.Duration < 0 {
				r.addError("%s (%s): %s.duration must be >= 0", prefix, seg.ID, name)
			}
			if !t.Type.Supported() {
				r.addWarning("%s (%s): %s.type %q is not in the supported set, will degrade to fade at render time", prefix, seg.ID, name, t.Type)
			}
		}

		for oi, o := range seg.TextOver {
			if !(o.End > o.Start && o.Start >= 0) {
				r.addError("%s (%s): text_over[%d] requires end > start >= 0", prefix, seg.ID, oi)
			}
		}
	}

	if j.BackgroundMusic != nil {
		if j.BackgroundMusic.Volume < 0 || j.BackgroundMusic.Volume > 2 {
			r.addError("background_music.volume must be within [0, 2]")
		}
		if j.BackgroundMusic.FadeIn < 0 || j.BackgroundMusic.FadeOut < 0 {
			r.addError("background_music fade_in/fade_out must be >= 0")
		}
	}
}

func semantic(j *job.Job, r *Result) {
	for i := range j.Segments {
		seg := &j.Segments[i]
		prefix := fmt.Sprintf("segment[%d]", i)

		if ref := assetURL(seg); ref != "" && !isSyntacticallyValidRef(ref) {
			r.addError("%s (%s): visual reference %q is not a syntactically valid URL or path", prefix, seg.ID, ref)
		}
		if seg.VoiceOver != nil && seg.VoiceOver.URL != "" && !isSyntacticallyValidRef(seg.VoiceOver.URL) {
			r.addError("%s (%s): voice_over url %q is not syntactically valid", prefix, seg.ID, seg.VoiceOver.URL)
		}

		// Transition durations sum must stay within a sane bound relative to
		// the declared voice-over window; at validation time the rendered
		// content duration isn't known yet (download hasn't run), so this is
		// a coarse sanity check, not the duration floor the renderer itself
		// enforces once it knows the real durations.
		transitionBudget := transitionDuration(seg.TransitionIn) + transitionDuration(seg.TransitionOut)
		if seg.VoiceOver != nil {
			declaredFloor := seg.VoiceOver.StartDelay + seg.VoiceOver.EndDelay
			if transitionBudget > 0 && declaredFloor > 0 && transitionBudget > 10*declaredFloor {
				r.addWarning("%s (%s): transition durations (%.2fs total) look disproportionate to the declared voice_over delays (%.2fs)", prefix, seg.ID, transitionBudget, declaredFloor)
			}
		}

		for oi, o := range seg.TextOver {
			if seg.VoiceOver != nil && seg.VoiceOver.DurationSec > 0 {
				contentEnd := seg.VoiceOver.StartDelay + seg.VoiceOver.DurationSec + seg.VoiceOver.EndDelay
				if o.End > contentEnd+0.01 {
					r.addWarning("%s (%s): text_over[%d] end %.2fs extends past the estimated segment content duration %.2fs", prefix, seg.ID, oi, o.End, contentEnd)
				}
			}
		}
	}

	if j.BackgroundMusic != nil && j.BackgroundMusic.URL != "" && !isSyntacticallyValidRef(j.BackgroundMusic.URL) {
		r.addError("background_music url %q is not syntactically valid", j.BackgroundMusic.URL)
	}
}

func assetURL(seg *job.Segment) string {
	if seg.HasVideo() {
		return seg.Video.URL
	}
	if seg.Image != nil {
		return seg.Image.URL
	}
	return ""
}

func isSyntacticallyValidRef(ref string) bool {
	if ref == "" {
		return false
	}
	if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return u.Host != ""
	}
	// Not a URL: treat as a local path reference, valid as long as it parses
	// as a path at all (existence is checked later by the downloader).
	return true
}

func transitionDuration(t *job.Transition) float64 {
	if t == nil {
		return 0
	}
	return t.Duration
}
