package writer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/samirrijal/bilbopass/internal/core/domain"
	"github.com/samirrijal/bilbopass/internal/core/services/writer"
)

type fakeStore struct {
	mu      sync.Mutex
	batches [][]domain.StopEvent
}

func (f *fakeStore) InsertBatch(ctx context.Context, events []domain.StopEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]domain.StopEvent, len(events))
	copy(batch, events)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeStore) snapshot() [][]domain.StopEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]domain.StopEvent, len(f.batches))
	copy(out, f.batches)
	return out
}

func makeEvents(n int) []domain.StopEvent {
	events := make([]domain.StopEvent, n)
	for i := range events {
		events[i] = domain.StopEvent{TripID: "T1", StopSequence: i}
	}
	return events
}

// scenario 6a: 99 events added, then a flush with nothing further added:
// exactly one insert of 99 rows.
func TestWriter_TimeTriggeredFlush(t *testing.T) {
	store := &fakeStore{}
	w := writer.New(store, 100, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := w.Add(context.Background(), makeEvents(99)...); err != nil {
		t.Fatalf("add: %v", err)
	}

	deadline := time.After(200 * time.Millisecond)
	for {
		if len(store.snapshot()) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for time-triggered flush")
		case <-time.After(2 * time.Millisecond):
		}
	}

	batches := store.snapshot()
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	if len(batches[0]) != 99 {
		t.Fatalf("got %d rows, want 99", len(batches[0]))
	}
}

// scenario 6b: 100 events added in one call triggers an immediate flush,
// with no need to wait for the timer.
func TestWriter_SizeTriggeredFlush(t *testing.T) {
	store := &fakeStore{}
	w := writer.New(store, 100, time.Hour, nil)

	if err := w.Add(context.Background(), makeEvents(100)...); err != nil {
		t.Fatalf("add: %v", err)
	}

	batches := store.snapshot()
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	if len(batches[0]) != 100 {
		t.Fatalf("got %d rows, want 100", len(batches[0]))
	}
}

// final flush on shutdown: events added below the size threshold are still
// written once the writer's context is cancelled.
func TestWriter_FinalFlushOnShutdown(t *testing.T) {
	store := &fakeStore{}
	w := writer.New(store, 100, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	if err := w.Add(context.Background(), makeEvents(5)...); err != nil {
		t.Fatalf("add: %v", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writer did not shut down")
	}

	batches := store.snapshot()
	if len(batches) != 1 || len(batches[0]) != 5 {
		t.Fatalf("got batches %+v, want one batch of 5", batches)
	}
}
