package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Metrics holds the transport's counters. Owned exclusively by one Engine;
// external readers get copies via Snapshot.
type Metrics struct {
	mu               sync.RWMutex
	recordsSent      int64
	recordsFailed    int64
	bytesSent        int64
	connectionErrors int64
	healthy          bool
	lastError        string
	startTime        time.Time
}

// Snapshot is an immutable point-in-time copy of the transport metrics.
type Snapshot struct {
	RecordsSent        int64   `json:"records_sent"`
	RecordsFailed      int64   `json:"records_failed"`
	BytesSent          int64   `json:"bytes_sent"`
	SuccessRatePercent float64 `json:"success_rate_percent"`
	QueueDepth         int     `json:"queue_depth"`
	Healthy            bool    `json:"healthy"`
	ConnectionErrors   int64   `json:"connection_errors"`
	UptimeSeconds      int64   `json:"uptime_seconds"`
	LastError          string  `json:"last_error,omitempty"`
}

func newMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) recordSuccess(records int, bytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordsSent += int64(records)
	m.bytesSent += int64(bytes)
}

func (m *Metrics) recordFailure(records int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordsFailed += int64(records)
	m.lastError = err.Error()
}

func (m *Metrics) recordConnectionError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectionErrors++
	m.healthy = false
}

func (m *Metrics) setHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}

func (m *Metrics) snapshot(queueDepth int) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rate := 100.0
	if total := m.recordsSent + m.recordsFailed; total > 0 {
		rate = float64(m.recordsSent) / float64(total) * 100.0
	}

	return Snapshot{
		RecordsSent:        m.recordsSent,
		RecordsFailed:      m.recordsFailed,
		BytesSent:          m.bytesSent,
		SuccessRatePercent: rate,
		QueueDepth:         queueDepth,
		Healthy:            m.healthy,
		ConnectionErrors:   m.connectionErrors,
		UptimeSeconds:      int64(time.Since(m.startTime).Seconds()),
		LastError:          m.lastError,
	}
}

// PrometheusText renders the snapshot as name{label} value lines for
// scraping.
func (s Snapshot) PrometheusText(transport string) string {
	healthy := 0
	if s.Healthy {
		healthy = 1
	}

	lines := []string{
		fmt.Sprintf(`shipper_records_sent{transport=%q} %d`, transport, s.RecordsSent),
		fmt.Sprintf(`shipper_records_failed{transport=%q} %d`, transport, s.RecordsFailed),
		fmt.Sprintf(`shipper_bytes_sent{transport=%q} %d`, transport, s.BytesSent),
		fmt.Sprintf(`shipper_success_rate_percent{transport=%q} %g`, transport, s.SuccessRatePercent),
		fmt.Sprintf(`shipper_queue_depth{transport=%q} %d`, transport, s.QueueDepth),
		fmt.Sprintf(`shipper_healthy{transport=%q} %d`, transport, healthy),
		fmt.Sprintf(`shipper_connection_errors{transport=%q} %d`, transport, s.ConnectionErrors),
		fmt.Sprintf(`shipper_uptime_seconds{transport=%q} %d`, transport, s.UptimeSeconds),
	}
	return strings.Join(lines, "\n")
}
