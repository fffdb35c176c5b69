// Package worker runs the render pipeline against jobs dequeued from the
// async queue: N goroutines each blocking on the same queue with a short
// timeout, dispatching every envelope through a full engine run.
package worker

import (
	"context"
	"log"
	"time"

	"github.com/bobarin/reelforge/internal/pipeline"
	"github.com/bobarin/reelforge/internal/queue"
)

type Worker struct {
	queue  *queue.Queue
	engine *pipeline.Engine
}

func New(q *queue.Queue, engine *pipeline.Engine) *Worker {
	return &Worker{queue: q, engine: engine}
}

// Start runs concurrency goroutines, each pulling envelopes off the render
// queue until ctx is cancelled.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	log.Printf("worker: starting with concurrency=%d", concurrency)

	done := make(chan struct{})
	for i := 0; i < concurrency; i++ {
		go w.loop(ctx, done)
	}

	<-ctx.Done()
	log.Println("worker: shutting down")
	for i := 0; i < concurrency; i++ {
		<-done
	}
}

func (w *Worker) loop(ctx context.Context, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		env, err := w.queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("worker: dequeue error: %v", err)
			continue
		}
		if env == nil {
			continue
		}

		w.process(ctx, env)
	}
}

func (w *Worker) process(ctx context.Context, env *queue.Envelope) {
	j := env.Job
	log.Printf("worker: processing job %s (%d segments)", env.ID, len(j.Segments))

	result, err := w.engine.RunJob(ctx, &j)
	if err != nil {
		log.Printf("worker: job %s failed: %v", env.ID, err)
		if result.RetainedPath != "" {
			log.Printf("worker: job %s rendered output retained at %s", env.ID, result.RetainedPath)
		}
		return
	}

	log.Printf("worker: job %s completed, upload=%s, warnings=%d", env.ID, result.URL, len(result.Warnings))
}
