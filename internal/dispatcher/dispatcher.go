// Package dispatcher runs batches of URLs through the fetch pipeline with a
// bounded worker pool.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/imagefetch/internal/config"
	"github.com/JakeFAU/imagefetch/internal/ingest"
	"github.com/JakeFAU/imagefetch/internal/metrics"
	"github.com/JakeFAU/imagefetch/internal/queue/memory"
)

// Config sizes the worker pool and its feeding queue.
type Config struct {
	// Concurrency is clamped to 1..64; zero means 8.
	Concurrency int
	// QueueDepth defaults to Concurrency.
	QueueDepth int
}

// Runner fans a batch out to a pool of workers and gathers their outcomes.
type Runner struct {
	processor ingest.Processor
	ids       ingest.IDGenerator
	clock     ingest.Clock
	cfg       Config
	logger    *zap.Logger
}

// New creates a Runner.
func New(
	processor ingest.Processor,
	ids ingest.IDGenerator,
	clock ingest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Concurrency = config.ClampConcurrency(cfg.Concurrency)
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = cfg.Concurrency
	}
	return &Runner{
		processor: processor,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("runner"),
	}
}

// Run processes urls and returns one outcome per input, in input order. It
// never fails. When ctx ends, workers stop dequeuing and URLs not yet started
// are reported as canceled; URLs already handed to the processor finish on
// their own fetch timeout.
func (r *Runner) Run(ctx context.Context, urls []string) ingest.Report {
	started := r.clock.Now()
	batchID := r.newBatchID(started.UnixNano())
	logger := r.logger.With(zap.String("batch_id", batchID))
	logger.Info("batch started", zap.Int("urls", len(urls)), zap.Int("workers", r.cfg.Concurrency))

	outcomes := make([]ingest.Outcome, len(urls))
	done := make([]bool, len(urls))
	q := memory.NewQueue(r.cfg.QueueDepth)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer q.Close()
		for i, u := range urls {
			task := memory.Task{Index: i, Request: ingest.FetchRequest{URL: u, BatchID: batchID}}
			if err := q.Enqueue(ctx, task); err != nil {
				logger.Debug("stopped issuing urls", zap.Int("issued", i), zap.Error(err))
				return
			}
		}
	}()

	for range min(r.cfg.Concurrency, max(len(urls), 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.work(ctx, q, outcomes, done)
		}()
	}
	wg.Wait()

	if abandoned := q.Drain(); len(abandoned) > 0 {
		logger.Debug("dropped queued urls", zap.Int("count", len(abandoned)))
	}
	for i, ok := range done {
		if ok {
			continue
		}
		outcomes[i] = ingest.Failed(urls[i], canceledErr(ctx))
		outcomes[i].Index = i
	}

	finished := r.clock.Now()
	report := ingest.NewReport(batchID, started, finished, outcomes)
	metrics.ObserveBatch(report.Elapsed())
	logger.Info("batch finished",
		zap.Int("fetched", report.Counts.Fetched),
		zap.Int("skipped_not_image", report.Counts.SkippedNotImage),
		zap.Int("skipped_duplicate", report.Counts.SkippedDuplicate),
		zap.Int("failed", report.Counts.Failed),
		zap.Duration("elapsed", report.Elapsed()),
	)
	return report
}

// work writes only to the slots of tasks it dequeued, so no locking is needed.
// Dequeue refuses once ctx is done, which is what stops issuing.
func (r *Runner) work(ctx context.Context, q *memory.Queue, outcomes []ingest.Outcome, done []bool) {
	for {
		task, err := q.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, memory.ErrClosed) && ctx.Err() == nil {
				r.logger.Error("dequeue failed", zap.Error(err))
			}
			return
		}
		metrics.IncActiveWorkers()
		outcome := r.processor.Process(ctx, task.Request)
		metrics.DecActiveWorkers()
		outcome.Index = task.Index
		outcomes[task.Index] = outcome
		done[task.Index] = true
	}
}

func (r *Runner) newBatchID(fallback int64) string {
	if r.ids != nil {
		id, err := r.ids.NewID()
		if err == nil {
			return id
		}
		r.logger.Warn("batch id generation failed", zap.Error(err))
	}
	return fmt.Sprintf("batch-%d", fallback)
}

func canceledErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ingest.ErrCanceled, err)
	}
	return ingest.ErrCanceled
}
