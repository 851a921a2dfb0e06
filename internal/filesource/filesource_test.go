package filesource

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yai-nexus/cloudlog/internal/shipping"
)

type mockSink struct {
	mu      sync.Mutex
	records []shipping.LogRecord
	fail    error
}

func (m *mockSink) Handle(record shipping.LogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.records = append(m.records, record)
	return nil
}

func (m *mockSink) get() []shipping.LogRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]shipping.LogRecord, len(m.records))
	copy(out, m.records)
	return out
}

func makeTestConfig(root string) Config {
	return Config{
		Root:         root,
		ScanInterval: 20 * time.Millisecond,
		Workers:      2,
		QueueSize:    10,
	}
}

func TestDiscover_FindsOnlyLogFiles(t *testing.T) {
	tempDir := t.TempDir()

	_ = os.WriteFile(filepath.Join(tempDir, "a.log"), []byte("one\n"), 0644)
	_ = os.WriteFile(filepath.Join(tempDir, "b.log"), []byte("two\n"), 0644)
	_ = os.WriteFile(filepath.Join(tempDir, "c.txt"), []byte("ignore\n"), 0644)

	sub := filepath.Join(tempDir, "nested")
	_ = os.MkdirAll(sub, 0755)
	_ = os.WriteFile(filepath.Join(sub, "d.log"), []byte("three\n"), 0644)

	s := New(context.TODO(), makeTestConfig(tempDir), &mockSink{})
	files, err := s.discover()

	assert.NoError(t, err)
	assert.Equal(t, 3, len(files))
}

func TestScan_EnqueuesEachFileOnce(t *testing.T) {
	tempDir := t.TempDir()
	_ = os.WriteFile(filepath.Join(tempDir, "a.log"), []byte("one\n"), 0644)
	_ = os.WriteFile(filepath.Join(tempDir, "b.log"), []byte("two\n"), 0644)

	s := New(context.TODO(), makeTestConfig(tempDir), &mockSink{})

	s.scan()
	assert.Equal(t, 2, len(s.fileQueue))

	// A second scan must not requeue files still enqueued or being tailed.
	s.scan()
	assert.Equal(t, 2, len(s.fileQueue))
}

func TestScan_RetriesFilesSkippedOnFullQueue(t *testing.T) {
	tempDir := t.TempDir()
	_ = os.WriteFile(filepath.Join(tempDir, "a.log"), []byte("one\n"), 0644)
	_ = os.WriteFile(filepath.Join(tempDir, "b.log"), []byte("two\n"), 0644)

	config := makeTestConfig(tempDir)
	config.QueueSize = 1
	s := New(context.TODO(), config, &mockSink{})

	s.scan()
	require.Equal(t, 1, len(s.fileQueue))
	first := <-s.fileQueue

	// The file dropped on the full queue is picked up by the next scan.
	s.scan()
	require.Equal(t, 1, len(s.fileQueue))
	second := <-s.fileQueue
	assert.NotEqual(t, first, second)
}

func TestScan_RequeuesFileAfterTailExits(t *testing.T) {
	tempDir := t.TempDir()
	file := filepath.Join(tempDir, "a.log")
	_ = os.WriteFile(file, []byte("one\n"), 0644)

	s := New(context.TODO(), makeTestConfig(tempDir), &mockSink{})

	s.scan()
	require.Equal(t, 1, len(s.fileQueue))
	<-s.fileQueue

	// Simulate the worker's tail returning, as on idle timeout.
	s.mu.Lock()
	delete(s.tailing, file)
	s.mu.Unlock()

	s.scan()
	assert.Equal(t, 1, len(s.fileQueue))
}

func TestSource_TailsAppendedLines(t *testing.T) {
	tempDir := t.TempDir()
	file := filepath.Join(tempDir, "tailme.log")
	if err := os.WriteFile(file, []byte("start\n"), 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	sink := &mockSink{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := New(ctx, makeTestConfig(tempDir), sink)
	s.Start()

	time.Sleep(200 * time.Millisecond)

	f, err := os.OpenFile(file, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	_, _ = f.WriteString("l1\n")
	_, _ = f.WriteString("l2\n")
	_ = f.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.get()) >= 2 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	records := sink.get()
	assert.GreaterOrEqual(t, len(records), 2)
	assert.Equal(t, "l1", records[0].Message)
	assert.Equal(t, shipping.LevelInfo, records[0].Level)
	assert.NotZero(t, records[0].TimestampMillis)

	var fileField string
	for _, field := range records[0].Fields {
		if field.Key == "file" {
			fileField = field.Value
		}
	}
	assert.Equal(t, "tailme.log", fileField)

	s.Stop()
}

func TestSource_ResumesTailAfterIdleTimeout(t *testing.T) {
	tempDir := t.TempDir()
	file := filepath.Join(tempDir, "idle.log")
	if err := os.WriteFile(file, []byte("start\n"), 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	sink := &mockSink{}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	config := makeTestConfig(tempDir)
	config.IdleTimeout = 300 * time.Millisecond
	s := New(ctx, config, sink)
	s.Start()
	defer s.Stop()

	// Let the idle timeout fire and the tail worker return. The idle check
	// runs on a 1s ticker, so give it past one full period.
	time.Sleep(1500 * time.Millisecond)

	// Lines written once the file is re-tailed must reach the sink. The
	// re-tail seeks to the end, so keep appending until one lands.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) && len(sink.get()) == 0 {
		f, err := os.OpenFile(file, os.O_APPEND|os.O_WRONLY, 0644)
		require.NoError(t, err)
		_, _ = f.WriteString("after-idle\n")
		_ = f.Close()
		time.Sleep(100 * time.Millisecond)
	}

	records := sink.get()
	require.NotEmpty(t, records)
	assert.Equal(t, "after-idle", records[0].Message)
}
