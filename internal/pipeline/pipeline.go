// Package pipeline drives one job through an ordered list of named
// stages, each declaring the context keys it requires and produces, with
// a metric span per stage, cancellation observed between stages, and the
// resource scope released on exit regardless of outcome.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/bobarin/reelforge/internal/align"
	"github.com/bobarin/reelforge/internal/concat"
	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/fetch"
	"github.com/bobarin/reelforge/internal/imagefix"
	"github.com/bobarin/reelforge/internal/job"
	"github.com/bobarin/reelforge/internal/metrics"
	"github.com/bobarin/reelforge/internal/render"
	"github.com/bobarin/reelforge/internal/scope"
	"github.com/bobarin/reelforge/internal/upload"
	"github.com/bobarin/reelforge/internal/validate"
)

// StageFunc is the uniform shape every stage runs behind, regardless of
// whether it wraps a processor batch or a plain function over the
// context.
type StageFunc func(ctx context.Context, pc *job.Context, j *job.Job) error

// Stage declares one pipeline step: its name, the context keys it expects
// present before running, an optional condition gating whether it runs at
// all, and the function to invoke.
type Stage struct {
	Name               string
	RequiredInputKeys  []job.Key
	ProducedOutputKeys []job.Key
	Condition          func(pc *job.Context) bool
	Run                StageFunc
}

// Engine owns the fixed stage sequence validate -> download -> image_auto
// -> align_text -> render_segments -> concatenate -> upload, wired to one
// concrete implementation of each component.
type Engine struct {
	settings  *config.Settings
	collector *metrics.Collector
	stages    []Stage
}

// Components groups every concrete collaborator the engine wires into its
// fixed stage sequence. Alignment and upload may be left nil when their
// Settings toggle is off.
type Components struct {
	Downloader   *fetch.Downloader
	Fixer        *imagefix.Fixer
	Aligner      *align.Aligner
	Renderer     *render.Renderer
	Concatenator *concat.Concatenator
	Uploader     *upload.Uploader
}

func New(settings *config.Settings, collector *metrics.Collector, c Components) *Engine {
	e := &Engine{settings: settings, collector: collector}
	e.stages = []Stage{
		e.validateStage(),
		e.downloadStage(c.Downloader),
		e.imageAutoStage(c.Downloader, c.Fixer),
		e.alignStage(c.Aligner),
		e.renderStage(c.Renderer),
		e.concatenateStage(c.Concatenator),
		e.uploadStage(c.Uploader),
	}
	return e
}

// Run drives j through every stage in order, validating each stage's
// required context keys before invoking it, wrapping any error in a
// PipelineError, and always releasing the scope on exit. It returns the
// PipelineContext so the caller can read KeyUploadURL and Warnings().
func (e *Engine) Run(ctx context.Context, j *job.Job) (*job.Context, error) {
	sc, err := scope.New(e.settings.TempBaseDir, j.ID)
	if err != nil {
		return nil, job.NewPipelineError("scope", job.KindResource, fmt.Errorf("acquire resource scope: %w", err))
	}
	defer sc.Release()

	pc := job.NewContext(sc)

	for _, stage := range e.stages {
		if err := ctx.Err(); err != nil {
			return pc, job.NewPipelineError(stage.Name, job.KindCancelled, err)
		}
		if stage.Condition != nil && !stage.Condition(pc) {
			continue
		}
		for _, key := range stage.RequiredInputKeys {
			if !pc.Has(key) {
				return pc, job.NewPipelineError(stage.Name, job.KindProcessing, fmt.Errorf("required context key %q missing before stage %q", key, stage.Name))
			}
		}

		before := len(pc.Warnings())
		span := e.collector.Span(stage.Name)
		runErr := stage.Run(ctx, pc, j)
		for _, w := range pc.Warnings()[before:] {
			e.collector.RecordWarning(w.Kind)
		}
		if runErr != nil {
			// A stage interrupted by cancellation surfaces that, not whatever
			// secondary failure the interruption caused inside it.
			if ctx.Err() != nil {
				runErr = job.NewPipelineError(stage.Name, job.KindCancelled, ctx.Err())
			} else if _, ok := runErr.(*job.PipelineError); !ok {
				runErr = job.NewPipelineError(stage.Name, job.KindProcessing, runErr)
			}
			kind := pipelineErrorKind(runErr)
			span.Finish(false, 0, string(kind))
			if kind == job.KindUpload {
				e.retainFinalClip(pc, j)
			}
			return pc, runErr
		}
		span.Finish(true, 0, "")
	}

	return pc, nil
}

// Result is the process surface's return value. URL is empty when the
// upload stage is disabled or failed;
// RetainedPath is set instead when an upload failure left the rendered file
// recoverable outside the released scope.
type Result struct {
	URL          string          `json:"url,omitempty"`
	RetainedPath string          `json:"retained_path,omitempty"`
	Metrics      metrics.Summary `json:"metrics"`
	Warnings     []job.Warning   `json:"warnings,omitempty"`
}

// RunJob is the single callable entry point: drives j through the stage
// sequence and returns the upload URL plus the run's metric summary and
// accumulated warnings. The error, when non-nil, is always a
// *job.PipelineError.
func (e *Engine) RunJob(ctx context.Context, j *job.Job) (Result, error) {
	pc, err := e.Run(ctx, j)
	res := Result{Metrics: e.collector.Summary()}
	if pc != nil {
		res.Warnings = pc.Warnings()
		if raw, ok := pc.Get(job.KeyUploadURL); ok {
			res.URL, _ = raw.(string)
		}
		if raw, ok := pc.GetMetadata("retained_clip_path"); ok {
			res.RetainedPath, _ = raw.(string)
		}
	}
	return res, err
}

// retainFinalClip moves the rendered file out of the scope before release
// so an upload failure doesn't destroy the only copy; the caller gets its
// new path back. Best-effort: a move failure is logged, and the scope's
// normal cleanup then applies.
func (e *Engine) retainFinalClip(pc *job.Context, j *job.Job) {
	raw, ok := pc.Get(job.KeyFinalClipPath)
	if !ok {
		return
	}
	src, _ := raw.(string)
	if src == "" {
		return
	}
	id := j.ID
	if id == "" {
		id = "job"
	}
	dst := filepath.Join(e.settings.TempBaseDir, fmt.Sprintf("retained_%s.mp4", id))
	if err := os.Rename(src, dst); err != nil {
		log.Printf("pipeline: could not retain final clip after upload failure: %v", err)
		return
	}
	pc.SetMetadata("retained_clip_path", dst)
}

func pipelineErrorKind(err error) job.ErrorKind {
	if pe, ok := err.(*job.PipelineError); ok {
		return pe.Kind
	}
	return job.KindProcessing
}

func (e *Engine) validateStage() Stage {
	return Stage{
		Name:               "validate",
		ProducedOutputKeys: []job.Key{job.KeyValidation},
		Run: func(ctx context.Context, pc *job.Context, j *job.Job) error {
			result := validate.Run(j)
			if err := pc.Set("validate", job.KeyValidation, result); err != nil {
				return job.NewPipelineError("validate", job.KindProcessing, err)
			}
			for _, w := range result.Warnings {
				pc.AddWarning("ValidationWarning", w)
			}
			if !result.OK {
				return job.NewPipelineError("validate", job.KindValidation, fmt.Errorf("%d validation error(s): %v", len(result.Errors), result.Errors))
			}
			return nil
		},
	}
}

func (e *Engine) downloadStage(d *fetch.Downloader) Stage {
	return Stage{
		Name:               "download",
		RequiredInputKeys:  []job.Key{job.KeyValidation},
		ProducedOutputKeys: []job.Key{job.KeyDownloadedJob},
		Run: func(ctx context.Context, pc *job.Context, j *job.Job) error {
			if err := d.Run(ctx, e.collector, pc, j, pc.Scope); err != nil {
				return err
			}
			return pc.Set("download", job.KeyDownloadedJob, true)
		},
	}
}

func (e *Engine) imageAutoStage(d *fetch.Downloader, f *imagefix.Fixer) Stage {
	return Stage{
		Name:              "image_auto",
		RequiredInputKeys: []job.Key{job.KeyDownloadedJob},
		Condition: func(pc *job.Context) bool {
			return f != nil
		},
		Run: func(ctx context.Context, pc *job.Context, j *job.Job) error {
			redownload := func(ctx context.Context, ref *job.ImageRef) error {
				if d == nil {
					return fmt.Errorf("no downloader configured for redownload")
				}
				path, err := d.DownloadOne(ctx, ref.URL, pc.Scope)
				if err != nil {
					return err
				}
				ref.LocalPath = path
				return nil
			}
			return f.Run(ctx, e.collector, pc, j, redownload)
		},
	}
}

func (e *Engine) alignStage(a *align.Aligner) Stage {
	return Stage{
		Name:              "align_text",
		RequiredInputKeys: []job.Key{job.KeyDownloadedJob},
		Condition: func(pc *job.Context) bool {
			return e.settings.AlignmentEnabled && a != nil
		},
		Run: func(ctx context.Context, pc *job.Context, j *job.Job) error {
			return a.Run(ctx, e.collector, pc, j)
		},
	}
}

func (e *Engine) renderStage(r *render.Renderer) Stage {
	return Stage{
		Name:               "render_segments",
		RequiredInputKeys:  []job.Key{job.KeyDownloadedJob},
		ProducedOutputKeys: []job.Key{job.KeySegmentClips},
		Run: func(ctx context.Context, pc *job.Context, j *job.Job) error {
			return r.Run(ctx, e.collector, pc, j, pc.Scope)
		},
	}
}

func (e *Engine) concatenateStage(c *concat.Concatenator) Stage {
	return Stage{
		Name:               "concatenate",
		RequiredInputKeys:  []job.Key{job.KeySegmentClips},
		ProducedOutputKeys: []job.Key{job.KeyFinalClipPath},
		Run: func(ctx context.Context, pc *job.Context, j *job.Job) error {
			return c.Run(ctx, e.collector, pc, j, pc.Scope)
		},
	}
}

func (e *Engine) uploadStage(u *upload.Uploader) Stage {
	return Stage{
		Name:              "upload",
		RequiredInputKeys: []job.Key{job.KeyFinalClipPath},
		Condition: func(pc *job.Context) bool {
			return e.settings.UploadEnabled && u != nil
		},
		Run: func(ctx context.Context, pc *job.Context, j *job.Job) error {
			return u.Run(ctx, e.collector, pc, j)
		},
	}
}
