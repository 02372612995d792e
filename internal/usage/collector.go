package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BatchInserter is the interface used by Collector to persist records.
// It exists to allow testing without a real database.
type BatchInserter interface {
	BatchInsert(ctx context.Context, records []Record) error
}

// MetricsRecorder is an optional sink for collector health metrics.
type MetricsRecorder interface {
	SetUsageBufferSize(n int)
	IncUsageFlush(status string)
	AddUsageRecords(n int)
}

// Collector buffers usage records in memory and periodically flushes them to
// the store in batches. It is safe for concurrent use.
type Collector struct {
	store         BatchInserter
	buffer        []Record
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	done          chan struct{}
	stopOnce      sync.Once
	metrics       MetricsRecorder
}

// SetMetrics sets the optional metrics recorder.
func (c *Collector) SetMetrics(m MetricsRecorder) {
	c.metrics = m
}

// NewCollector creates a Collector that flushes to the given store when the
// buffer reaches batchSize or every flushInterval, whichever comes first.
func NewCollector(store BatchInserter, batchSize int, flushInterval time.Duration) *Collector {
	return &Collector{
		store:         store,
		buffer:        make([]Record, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}
}

// Start begins a background goroutine that flushes buffered records on a
// timer. It blocks until Stop is called or the context is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-ctx.Done():
			c.flush()
			return
		case <-c.done:
			c.flush()
			return
		}
	}
}

// Record adds a usage record to the buffer. If the buffer reaches batchSize,
// a flush is triggered immediately.
func (c *Collector) Record(rec Record) {
	c.mu.Lock()
	c.buffer = append(c.buffer, rec)
	buffered := len(c.buffer)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.AddUsageRecords(1)
		c.metrics.SetUsageBufferSize(buffered)
	}

	if buffered >= c.batchSize {
		c.flush()
	}
}

// Stop signals the background goroutine to flush and exit.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// flush drains all buffered records and writes them to the store. It logs
// errors rather than returning them so callers are not blocked.
func (c *Collector) flush() {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]Record, 0, c.batchSize)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetUsageBufferSize(0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.store.BatchInsert(ctx, batch); err != nil {
		if c.metrics != nil {
			c.metrics.IncUsageFlush("error")
		}
		slog.Error("flushing usage records failed", "count", len(batch), "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.IncUsageFlush("ok")
	}
	slog.Debug("flushed usage records", "count", len(batch))
}
