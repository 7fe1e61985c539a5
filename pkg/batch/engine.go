// Package batch implements the micro-batching scheduler that coalesces
// individual embedding requests into bounded batches dispatched against a
// single, non-reentrant Embedder.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/embedbatch/embedbatch/pkg/embedding"
	"github.com/embedbatch/embedbatch/pkg/metrics"
	"github.com/embedbatch/embedbatch/pkg/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// Result is delivered exactly once on a BatchItem's Reply channel, carrying
// either the ordered output vectors or the failure that affected the whole
// batch.
type Result struct {
	Vectors [][]float32
	Err     error
}

// BatchItem is one queued embedding request. Reply is single-use and
// buffered by one: the engine's send never blocks even if nothing ever
// receives it.
type BatchItem struct {
	Inputs []string
	Reply  chan Result
}

// NewBatchItem allocates a BatchItem with its reply channel ready.
func NewBatchItem(inputs []string) *BatchItem {
	return &BatchItem{Inputs: inputs, Reply: make(chan Result, 1)}
}

func reply(item *BatchItem, res Result) {
	select {
	case item.Reply <- res:
	default:
	}
}

// MismatchError is returned to every item in a batch when the Embedder's
// result count does not match the number of flattened inputs it was given.
type MismatchError struct {
	Got, Expected int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("mismatched upstream count: got %d, expected %d", e.Got, e.Expected)
}

// UpstreamError wraps a failure returned directly by the Embedder.
type UpstreamError struct {
	Detail error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream embedder error: %v", e.Detail)
}

func (e *UpstreamError) Unwrap() error {
	return e.Detail
}

// Config holds the two tunables that govern batch coalescing.
type Config struct {
	// MaxWaitTime is the maximum time to wait after the first item in a
	// batch arrives before dispatching, even if the batch is not full.
	MaxWaitTime time.Duration

	// MaxBatchSize is the maximum number of items (not flattened inputs)
	// coalesced into one Embed call.
	MaxBatchSize int
}

// NewIntake creates the bounded intake queue described in the data model.
// Producers block once it is full; the engine is its sole consumer.
func NewIntake(capacity int) chan *BatchItem {
	return make(chan *BatchItem, capacity)
}

// Engine runs the accumulate, dispatch, and fan-out loop.
type Engine struct {
	cfg       Config
	embedder  embedding.Provider
	metrics   *metrics.Metrics
	telemetry *telemetry.Provider
}

// New constructs an Engine. If embedder is shared with another caller (an
// immediate/unbatched handler, say), wrap it in embedding.Guarded first:
// the Engine performs no locking of its own.
func New(cfg Config, embedder embedding.Provider, m *metrics.Metrics, tp *telemetry.Provider) *Engine {
	return &Engine{cfg: cfg, embedder: embedder, metrics: m, telemetry: tp}
}

// Run drives the batch loop until intake is closed and drained, then
// returns. It never surfaces an error to the caller: every failure is
// routed to the affected items' Reply channels.
func (e *Engine) Run(ctx context.Context, intake <-chan *BatchItem) {
	for {
		first, ok := <-intake
		if !ok {
			return
		}
		e.runCycle(ctx, intake, first)
	}
}

func (e *Engine) runCycle(ctx context.Context, intake <-chan *BatchItem, first *BatchItem) {
	start := time.Now()
	deadline := start.Add(e.cfg.MaxWaitTime)
	items := []*BatchItem{first}

	if e.metrics != nil {
		e.metrics.SetQueueDepth(len(intake))
	}

	var accSpan trace.Span
	if e.telemetry != nil {
		ctx, accSpan = e.telemetry.StartAccumulate(ctx, e.cfg.MaxBatchSize)
	}

accumulate:
	for len(items) < e.cfg.MaxBatchSize {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		timer := time.NewTimer(remaining)
		select {
		case item, ok := <-intake:
			timer.Stop()
			if !ok {
				break accumulate
			}
			items = append(items, item)
		case <-timer.C:
			break accumulate
		}
	}

	if e.metrics != nil {
		e.metrics.SetQueueDepth(len(intake))
	}
	if accSpan != nil {
		accSpan.End()
	}

	e.dispatch(ctx, items, time.Since(start))
}

func (e *Engine) dispatch(ctx context.Context, items []*BatchItem, wait time.Duration) {
	counts := make([]int, len(items))
	total := 0
	for i, it := range items {
		counts[i] = len(it.Inputs)
		total += counts[i]
	}

	var span trace.Span
	if e.telemetry != nil {
		ctx, span = e.telemetry.StartDispatch(ctx, len(items), total)
		defer span.End()
	}

	// An all-empty batch contributes nothing to flatten; invoking the
	// Embedder with zero texts would trip its own empty-input guard, so
	// every item is answered directly with an empty vector sequence.
	if total == 0 {
		for _, it := range items {
			reply(it, Result{Vectors: [][]float32{}})
		}
		e.record(span, len(items), total, wait, 0, "success")
		return
	}

	flat := make([]string, 0, total)
	for _, it := range items {
		flat = append(flat, it.Inputs...)
	}

	embedStart := time.Now()
	result, err := e.embedder.Embed(ctx, flat, total)
	embedDuration := time.Since(embedStart)

	switch {
	case err != nil:
		for _, it := range items {
			reply(it, Result{Err: &UpstreamError{Detail: err}})
		}
		if span != nil {
			telemetry.RecordError(span, err)
		}
		e.record(span, len(items), total, wait, embedDuration, "error")

	case len(result) != total:
		mismatchErr := &MismatchError{Got: len(result), Expected: total}
		for _, it := range items {
			reply(it, Result{Err: mismatchErr})
		}
		if span != nil {
			telemetry.RecordError(span, mismatchErr)
		}
		e.record(span, len(items), total, wait, embedDuration, "mismatch")

	default:
		offset := 0
		for i, it := range items {
			n := counts[i]
			reply(it, Result{Vectors: result[offset : offset+n]})
			offset += n
		}
		e.record(span, len(items), total, wait, embedDuration, "success")
	}
}

func (e *Engine) record(span trace.Span, itemCount, total int, wait, embedDuration time.Duration, outcome string) {
	if span != nil {
		telemetry.RecordBatchResult(span, itemCount, total, wait, outcome)
	}
	if e.metrics != nil {
		e.metrics.RecordBatch(itemCount, total, wait, embedDuration, outcome)
	}
}
