// Package processor defines the narrow one-method processor contract with
// a CPU-bound/IO-bound tag, and RunBatch, which fans a per-item function
// out under a bounded semaphore while preserving input order — the one
// fan-out/collect implementation every batch stage shares.
package processor

import (
	"context"
	"fmt"

	"github.com/bobarin/reelforge/internal/metrics"
)

// Kind tags whether a processor runs synchronously on a worker thread
// (CPU-bound) or cooperatively suspends awaiting network/subprocess
// completion (IO-bound). The framework does not schedule differently based
// on Kind today, but the tag documents the invocation's suspension
// behavior for callers sizing their semaphores.
type Kind int

const (
	KindCPUBound Kind = iota
	KindIOBound
)

// Item is the narrow contract: one process(input, ctx) -> output
// operation, annotated with its stage name (for metric spans and error
// wrapping) and its Kind.
type Item[I, O any] interface {
	Name() string
	Kind() Kind
	Process(ctx context.Context, input I) (O, error)
}

// Run wraps a single invocation in a metric span and converts a returned
// error into the stage's convention: the caller decides how to classify it
// (this package never knows about job.PipelineError to avoid an import
// cycle; callers wrap the returned error themselves).
func Run[I, O any](ctx context.Context, collector *metrics.Collector, p Item[I, O], input I) (O, error) {
	span := collector.Span(p.Name())
	out, err := p.Process(ctx, input)
	if err != nil {
		span.Finish(false, 1, "")
		var zero O
		return zero, err
	}
	span.Finish(true, 1, "")
	return out, nil
}

// ItemResult is a typed per-item outcome in a batch: failures are isolated
// here rather than aborting the whole batch.
type ItemResult[O any] struct {
	Index  int
	Output O
	Err    error
}

// BatchPolicy controls whether the whole batch is considered failed.
type BatchPolicy struct {
	// StrictAllMustSucceed, when true, treats any single item failure as a
	// batch failure. When false (the default), the batch only fails if
	// every item failed.
	StrictAllMustSucceed bool
}

// RunBatch runs proc.Process over items with concurrency bounded by a
// semaphore of size concurrency, preserving input order in the returned
// slice. It never aborts early on an individual item's error — failures
// are isolated into each ItemResult — except that items not yet started
// when ctx is cancelled record ctx.Err(). The second return value carries a
// summary error when every item failed, or when
// policy.StrictAllMustSucceed is set and at least one item failed.
func RunBatch[I, O any](ctx context.Context, collector *metrics.Collector, stageName string, items []I, concurrency int, policy BatchPolicy, fn func(ctx context.Context, item I) (O, error)) ([]ItemResult[O], error) {
	results := make([]ItemResult[O], len(items))
	if len(items) == 0 {
		return results, nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	sem := make(chan struct{}, concurrency)
	done := make(chan int, len(items))

	for idx, item := range items {
		idx, item := idx, item
		go func() {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[idx] = ItemResult[O]{Index: idx, Err: ctx.Err()}
				done <- idx
				return
			}
			defer func() { <-sem }()

			out, err := fn(ctx, item)
			results[idx] = ItemResult[O]{Index: idx, Output: out, Err: err}
			done <- idx
		}()
	}

	for range items {
		<-done
	}

	failures := 0
	for _, r := range results {
		if r.Err != nil {
			failures++
		}
	}
	collector.RecordItems(stageName, len(items)-failures, failures)
	if failures == len(items) {
		return results, fmt.Errorf("%s: all %d items failed", stageName, len(items))
	}
	if policy.StrictAllMustSucceed && failures > 0 {
		return results, fmt.Errorf("%s: %d/%d items failed under strict policy", stageName, failures, len(items))
	}
	return results, nil
}
