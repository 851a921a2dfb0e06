package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yai-nexus/cloudlog/internal/shipping"
)

// MockSender records every batch it receives and can be told to fail, delay,
// or refuse initialization. It also tracks how many SendBatch calls were ever
// in flight at once so single-flight behavior is observable.
type MockSender struct {
	mu          sync.Mutex
	SentBatches [][]shipping.LogRecord

	ShouldFail     bool
	FailWith       error
	InitShouldFail bool
	Delay          time.Duration

	SendCalls     int
	InitCalls     int
	HealthCalls   int
	CleanupCalls  int
	inFlight      int
	MaxInFlight   int
	HealthyAnswer bool
}

func NewMockSender() *MockSender {
	return &MockSender{HealthyAnswer: true}
}

func (m *MockSender) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InitCalls++
	if m.InitShouldFail {
		return &shipping.ConnectError{Endpoint: "mock", Err: fmt.Errorf("mock init failed")}
	}
	return nil
}

func (m *MockSender) SendBatch(ctx context.Context, records []shipping.LogRecord) (int, error) {
	m.mu.Lock()
	m.SendCalls++
	m.inFlight++
	if m.inFlight > m.MaxInFlight {
		m.MaxInFlight = m.inFlight
	}
	delay := m.Delay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--

	if m.ShouldFail {
		if m.FailWith != nil {
			return 0, m.FailWith
		}
		return 0, fmt.Errorf("mock send failed")
	}

	batch := make([]shipping.LogRecord, len(records))
	copy(batch, records)
	m.SentBatches = append(m.SentBatches, batch)

	size := 0
	for _, record := range records {
		size += len(record.Message)
	}
	return size, nil
}

func (m *MockSender) HealthCheck(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HealthCalls++
	return m.HealthyAnswer
}

func (m *MockSender) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CleanupCalls++
}

func (m *MockSender) GetSentBatches() [][]shipping.LogRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	batches := make([][]shipping.LogRecord, len(m.SentBatches))
	copy(batches, m.SentBatches)
	return batches
}

func (m *MockSender) TotalRecords() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, batch := range m.SentBatches {
		total += len(batch)
	}
	return total
}

func (m *MockSender) GetSendCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SendCalls
}

func (m *MockSender) GetMaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.MaxInFlight
}

func (m *MockSender) GetCleanupCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CleanupCalls
}

func (m *MockSender) SetShouldFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldFail = fail
}

// TestConfig returns a minimal valid config for unit tests.
func TestConfig() shipping.Config {
	c := shipping.Config{
		Endpoint:        "cn-test.log.example.com",
		AccessKeyID:     "test-key-id",
		AccessKeySecret: "test-key-secret",
		Project:         "test-project",
		Logstore:        "test-logstore",
	}
	c.SetDefaults()
	return c
}
