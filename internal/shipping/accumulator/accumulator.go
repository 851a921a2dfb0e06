package accumulator

import (
	"sync"

	"github.com/yai-nexus/cloudlog/internal/shipping"
)

// Accumulator collects records into the next batch. The mutex is scoped to
// the add/cut operations only and is never held across network I/O.
type Accumulator struct {
	mu      sync.Mutex
	records []shipping.LogRecord
	max     int
	closed  bool
}

func New(maxBatchSize int) *Accumulator {
	return &Accumulator{
		records: make([]shipping.LogRecord, 0, maxBatchSize),
		max:     maxBatchSize,
	}
}

// Add appends one record. It fails only after Close.
func (a *Accumulator) Add(record shipping.LogRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return shipping.ErrShuttingDown
	}

	a.records = append(a.records, record)
	return nil
}

// Ready reports whether a size-triggered flush is due.
func (a *Accumulator) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records) >= a.max
}

func (a *Accumulator) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// Cut atomically removes and returns all held records, capped at the
// configured batch size. Records added concurrently with Cut land either in
// the returned batch or in the accumulator, never both and never neither.
func (a *Accumulator) Cut() []shipping.LogRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.records) == 0 {
		return nil
	}

	n := len(a.records)
	if n > a.max {
		n = a.max
	}

	batch := make([]shipping.LogRecord, n)
	copy(batch, a.records[:n])
	a.records = append(a.records[:0], a.records[n:]...)

	return batch
}

// Close rejects further Adds. Cut keeps working so the engine can drain.
func (a *Accumulator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}
