package job

import (
	"fmt"
	"sync"

	"github.com/bobarin/reelforge/internal/scope"
)

// Key names the closed per-stage vocabulary a PipelineContext carries.
// Engine enforces producer-only writes: only one stage may ever write a
// given key over the life of a run.
type Key string

const (
	KeyJob             Key = "job"
	KeyDownloadedJob   Key = "downloaded_job"
	KeyValidation      Key = "validation_result"
	KeySegmentClips    Key = "segment_clips"
	KeyFinalClipPath   Key = "final_clip_path"
	KeyUploadURL       Key = "upload_url"
)

// Context is the typed key/value map plus the resource scope and mutable
// metadata map that every stage reads and writes.
type Context struct {
	mu    sync.RWMutex
	data  map[Key]any
	owner map[Key]string // which stage produced each key

	Scope    *scope.Scope
	Metadata map[string]any // warnings, per-segment diagnostics, etc — not part of the closed key vocabulary
}

func NewContext(sc *scope.Scope) *Context {
	return &Context{
		data:     make(map[Key]any),
		owner:    make(map[Key]string),
		Scope:    sc,
		Metadata: make(map[string]any),
	}
}

// Get returns the value for key and whether it was present.
func (c *Context) Get(key Key) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// Has reports presence without returning the value; used by the engine to
// validate a stage's required_input_keys before invocation.
func (c *Context) Has(key Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.data[key]
	return ok
}

// Set writes a key, recording stage as its producer. A second write of the
// same key by a different stage is a programming error — it violates the
// producer-only-writes rule the engine exists to enforce.
func (c *Context) Set(stage string, key Key, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.owner[key]; ok && prev != stage {
		return fmt.Errorf("context key %q already produced by stage %q, cannot be rewritten by %q", key, prev, stage)
	}
	c.data[key] = value
	c.owner[key] = stage
	return nil
}

// SetMetadata writes an out-of-band value (not part of the closed key
// vocabulary, so not subject to producer-only enforcement).
func (c *Context) SetMetadata(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Metadata[key] = value
}

// GetMetadata reads an out-of-band value written by SetMetadata.
func (c *Context) GetMetadata(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.Metadata[key]
	return v, ok
}

// AddWarning appends a non-fatal diagnostic, keyed by kind, to metadata.
// Warnings never abort the pipeline; per-item failures surface through
// batch results, not by raising.
func (c *Context) AddWarning(kind, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, _ := c.Metadata["warnings"].([]Warning)
	c.Metadata["warnings"] = append(list, Warning{Kind: kind, Message: message})
}

func (c *Context) Warnings() []Warning {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list, _ := c.Metadata["warnings"].([]Warning)
	out := make([]Warning, len(list))
	copy(out, list)
	return out
}

// Warning is a non-fatal diagnostic surfaced alongside a successful result
// (e.g. AlignerUnavailable, ImageSubstituted, ValidationWarning).
type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
