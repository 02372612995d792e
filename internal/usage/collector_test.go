package usage

import (
	"context"
	"sync"
	"testing"
	"time"
)

// memInserter records batches handed to BatchInsert.
type memInserter struct {
	mu      sync.Mutex
	batches [][]Record
}

func (m *memInserter) BatchInsert(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, records)
	return nil
}

func (m *memInserter) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestCollectorFlushesOnBatchSize(t *testing.T) {
	store := &memInserter{}
	c := NewCollector(store, 3, time.Hour)

	c.Record(Record{UserID: "1"})
	c.Record(Record{UserID: "2"})
	if store.total() != 0 {
		t.Fatalf("should not flush before batch size, got %d records", store.total())
	}

	c.Record(Record{UserID: "3"})
	if store.total() != 3 {
		t.Fatalf("expected flush at batch size, got %d records", store.total())
	}
}

func TestCollectorFlushesOnStop(t *testing.T) {
	store := &memInserter{}
	c := NewCollector(store, 100, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	c.Record(Record{UserID: "1"})
	c.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}

	if store.total() != 1 {
		t.Fatalf("expected buffered record flushed on stop, got %d", store.total())
	}
}

func TestCollectorStopIsIdempotent(t *testing.T) {
	c := NewCollector(&memInserter{}, 10, time.Hour)
	c.Stop()
	c.Stop() // must not panic
}

func TestCollectorFlushesOnInterval(t *testing.T) {
	store := &memInserter{}
	c := NewCollector(store, 100, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx)
	defer c.Stop()

	c.Record(Record{UserID: "1"})

	deadline := time.Now().Add(time.Second)
	for store.total() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("record was not flushed by the interval ticker")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
