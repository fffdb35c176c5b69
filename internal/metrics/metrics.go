// Package metrics is a thread-safe, append-only record of per-stage
// invocations plus an aggregate summary, mirrored into package-level
// Prometheus collectors for scraping. The in-process Collector stays a
// plain locked struct so the pipeline never hard-depends on a scrape
// target actually being read.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reelforge",
		Name:      "stage_duration_seconds",
		Help:      "Pipeline stage duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	StageInvocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reelforge",
		Name:      "stage_invocations_total",
		Help:      "Total stage invocations by outcome.",
	}, []string{"stage", "outcome"})

	ItemsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reelforge",
		Name:      "items_processed_total",
		Help:      "Total batch items processed by stage and outcome.",
	}, []string{"stage", "outcome"})

	WarningsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reelforge",
		Name:      "warnings_total",
		Help:      "Total non-fatal warnings emitted, by kind.",
	}, []string{"kind"})
)

// Register attaches every collector to reg. Call once at process start.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(StageDuration, StageInvocationsTotal, ItemsProcessedTotal, WarningsTotal)
}

// Invocation records one stage run: name, start, end, success,
// items processed, error kind.
type Invocation struct {
	Stage          string
	Start          time.Time
	End            time.Time
	Success        bool
	ItemsProcessed int
	ErrorKind      string
}

func (i Invocation) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Summary is the aggregate returned to the caller alongside the job
// result.
type Summary struct {
	Total               int                `json:"total"`
	Successful          int                `json:"successful"`
	Failed              int                `json:"failed"`
	AvgDurationByStage  map[string]float64 `json:"avg_duration_by_stage"`
}

// Collector is not on the critical path: thread-safe append, each record
// mirrored into the prometheus vectors as it arrives, cheap in-process
// summary.
type Collector struct {
	mu          sync.Mutex
	invocations []Invocation
}

func NewCollector() *Collector {
	return &Collector{}
}

// Record appends one invocation and mirrors it into the Prometheus
// collectors. Never on a suspension point: callers hold no lock across it.
func (c *Collector) Record(inv Invocation) {
	c.mu.Lock()
	c.invocations = append(c.invocations, inv)
	c.mu.Unlock()

	outcome := "success"
	if !inv.Success {
		outcome = "failure"
	}
	StageDuration.WithLabelValues(inv.Stage).Observe(inv.Duration().Seconds())
	StageInvocationsTotal.WithLabelValues(inv.Stage, outcome).Inc()
	if inv.ItemsProcessed > 0 {
		ItemsProcessedTotal.WithLabelValues(inv.Stage, outcome).Add(float64(inv.ItemsProcessed))
	}
}

// RecordItems tallies per-item batch outcomes for a stage. Items are not
// invocations: the stage's single invocation is spanned by the engine, so
// these only feed the Prometheus counter, not the in-process log.
func (c *Collector) RecordItems(stage string, succeeded, failed int) {
	if succeeded > 0 {
		ItemsProcessedTotal.WithLabelValues(stage, "success").Add(float64(succeeded))
	}
	if failed > 0 {
		ItemsProcessedTotal.WithLabelValues(stage, "failure").Add(float64(failed))
	}
}

// RecordWarning tallies a non-fatal diagnostic by kind.
func (c *Collector) RecordWarning(kind string) {
	WarningsTotal.WithLabelValues(kind).Inc()
}

// Span starts timing a stage invocation; call Finish to record it.
func (c *Collector) Span(stage string) *SpanHandle {
	return &SpanHandle{collector: c, stage: stage, start: time.Now()}
}

type SpanHandle struct {
	collector *Collector
	stage     string
	start     time.Time
}

func (h *SpanHandle) Finish(success bool, itemsProcessed int, errorKind string) {
	h.collector.Record(Invocation{
		Stage:          h.stage,
		Start:          h.start,
		End:            time.Now(),
		Success:        success,
		ItemsProcessed: itemsProcessed,
		ErrorKind:      errorKind,
	})
}

// Summary computes the aggregate over every invocation recorded so far.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	sums := make(map[string]time.Duration)
	counts := make(map[string]int)
	s := Summary{AvgDurationByStage: make(map[string]float64)}

	for _, inv := range c.invocations {
		s.Total++
		if inv.Success {
			s.Successful++
		} else {
			s.Failed++
		}
		sums[inv.Stage] += inv.Duration()
		counts[inv.Stage]++
	}
	for stage, total := range sums {
		s.AvgDurationByStage[stage] = total.Seconds() / float64(counts[stage])
	}
	return s
}
