// Package writer buffers events in memory and flushes them to the
// StopEventStore either when the buffer reaches a size threshold or on a
// time tick, whichever comes first.
package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samirrijal/bilbopass/internal/core/domain"
	"github.com/samirrijal/bilbopass/internal/core/ports"
	"github.com/samirrijal/bilbopass/internal/pkg/metrics"
)

const (
	DefaultMaxBatch      = 100
	DefaultFlushInterval = 10 * time.Second
)

// Writer buffers StopEvents produced by the Detector and flushes them in
// batches. Add is called synchronously from the Detector's goroutine; Run
// owns the time-triggered flush and must execute in its own goroutine.
type Writer struct {
	store         ports.StopEventStore
	maxBatch      int
	flushInterval time.Duration
	logger        *slog.Logger

	mu  sync.Mutex
	buf []domain.StopEvent
}

func New(store ports.StopEventStore, maxBatch int, flushInterval time.Duration, logger *slog.Logger) *Writer {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:         store,
		maxBatch:      maxBatch,
		flushInterval: flushInterval,
		logger:        logger,
	}
}

// Add appends events to the buffer and flushes immediately if the size
// threshold is reached. Called synchronously on the Detector's thread.
func (w *Writer) Add(ctx context.Context, events ...domain.StopEvent) error {
	if len(events) == 0 {
		return nil
	}

	w.mu.Lock()
	w.buf = append(w.buf, events...)
	var toFlush []domain.StopEvent
	if len(w.buf) >= w.maxBatch {
		toFlush = w.buf
		w.buf = nil
	}
	w.mu.Unlock()

	if toFlush != nil {
		return w.flush(ctx, toFlush)
	}
	return nil
}

// Run drives the time-triggered flush until ctx is cancelled, flushing
// whatever remains buffered before returning.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := w.FlushNow(context.Background()); err != nil {
				w.logger.Error("final flush failed", "error", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if err := w.FlushNow(ctx); err != nil {
				w.logger.Error("scheduled flush failed", "error", err)
			}
		}
	}
}

// FlushNow drains and writes the current buffer, regardless of size.
func (w *Writer) FlushNow(ctx context.Context) error {
	w.mu.Lock()
	batch := w.buf
	w.buf = nil
	w.mu.Unlock()

	return w.flush(ctx, batch)
}

func (w *Writer) flush(ctx context.Context, batch []domain.StopEvent) error {
	if len(batch) == 0 {
		return nil
	}

	if err := w.store.InsertBatch(ctx, batch); err != nil {
		// The buffer is already drained: a failed batch is dropped rather
		// than retried, so a failing store does not stall the pipeline. The
		// SavedSequences entries already written for these events stay, so
		// the Detector does not emit them again.
		w.logger.Error("dropping stop event batch after insert failure",
			"batch_size", len(batch), "error", err)
		return err
	}

	metrics.StopEventsWritten.Add(float64(len(batch)))
	w.logger.Debug("flushed stop events", "batch_size", len(batch))
	return nil
}
