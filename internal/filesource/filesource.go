package filesource

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hpcloud/tail"

	"github.com/yai-nexus/cloudlog/internal/shipping"
)

// RecordSink accepts records produced from tailed files. Satisfied by
// engine.Engine.
type RecordSink interface {
	Handle(record shipping.LogRecord) error
}

type Config struct {
	// Root is scanned recursively for *.log files.
	Root         string
	ScanInterval time.Duration
	Workers      int
	QueueSize    int
	// If > 0, stop tailing a file after this period without new lines.
	IdleTimeout time.Duration
}

// Source discovers log files under a root and tails them with a fixed pool
// of workers, converting each line into a LogRecord for the sink.
type Source struct {
	config    Config
	sink      RecordSink
	fileQueue chan string
	ctx       context.Context
	cancel    context.CancelFunc
	workersWg sync.WaitGroup
	scannerWg sync.WaitGroup

	processID string
	hostname  string

	// tailing tracks files currently enqueued or being tailed, so a tail that
	// exits (idle timeout) is picked up again on the next scan.
	mu      sync.Mutex
	tailing map[string]struct{}
}

func New(ctx context.Context, config Config, sink RecordSink) *Source {
	if config.ScanInterval <= 0 {
		config.ScanInterval = 30 * time.Second
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 50
	}

	nCtx, cancel := context.WithCancel(ctx)
	hostname, _ := os.Hostname()

	return &Source{
		config:    config,
		sink:      sink,
		fileQueue: make(chan string, config.QueueSize),
		ctx:       nCtx,
		cancel:    cancel,
		processID: strconv.Itoa(os.Getpid()),
		hostname:  hostname,
		tailing:   make(map[string]struct{}),
	}
}

func (s *Source) Start() {
	log.Printf("Starting file source: root=%s workers=%d queue=%d",
		s.config.Root, s.config.Workers, s.config.QueueSize)

	for i := 0; i < s.config.Workers; i++ {
		s.workersWg.Add(1)
		go s.worker(i)
	}

	s.scannerWg.Add(1)
	go s.scanner()
}

func (s *Source) Stop() {
	s.cancel()
	s.scannerWg.Wait()
	close(s.fileQueue)
	s.workersWg.Wait()
	log.Println("File source stopped")
}

func (s *Source) worker(id int) {
	defer s.workersWg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("File worker %d panicked: %v", id, r)
		}
	}()

	for {
		select {
		case filePath, ok := <-s.fileQueue:
			if !ok {
				return
			}
			s.tailFile(filePath)
			s.mu.Lock()
			delete(s.tailing, filePath)
			s.mu.Unlock()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Source) tailFile(filePath string) {
	t, err := tail.TailFile(filePath, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		log.Printf("Failed to tail file %s: %v", filePath, err)
		return
	}
	defer t.Cleanup()

	checkTicker := time.NewTicker(1 * time.Second)
	defer checkTicker.Stop()

	lastActivity := time.Now()

	for {
		select {
		case line := <-t.Lines:
			if line == nil {
				continue
			}
			if line.Err != nil {
				log.Printf("Error reading from %s: %v", filePath, line.Err)
				continue
			}

			record := shipping.LogRecord{
				TimestampMillis: time.Now().UnixMilli(),
				Level:           shipping.LevelInfo,
				Message:         line.Text,
				Fields: []shipping.Field{
					{Key: "file", Value: filepath.Base(filePath)},
				},
				ProcessID: s.processID,
				Hostname:  s.hostname,
			}
			if err := s.sink.Handle(record); err != nil {
				log.Printf("Dropping line from %s: %v", filePath, err)
			}
			lastActivity = time.Now()

		case <-checkTicker.C:
			// waking up from blocking line reading to check context status
			// and idle timeout
			if s.config.IdleTimeout > 0 && time.Since(lastActivity) > s.config.IdleTimeout {
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Source) scanner() {
	defer s.scannerWg.Done()

	s.scan()

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.scan()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Source) scan() {
	files, err := s.discover()
	if err != nil {
		log.Printf("Error discovering log files: %v", err)
		return
	}

	for _, file := range files {
		s.mu.Lock()
		if _, ok := s.tailing[file]; ok {
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		// Marked only on a successful enqueue, so a file skipped on a full
		// queue is retried next scan.
		select {
		case s.fileQueue <- file:
			s.mu.Lock()
			s.tailing[file] = struct{}{}
			s.mu.Unlock()
		case <-s.ctx.Done():
			return
		default:
			log.Printf("File queue full (%d/%d), skipping %s",
				len(s.fileQueue), cap(s.fileQueue), file)
		}
	}
}

func (s *Source) discover() ([]string, error) {
	var logFiles []string

	err := filepath.Walk(s.config.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Printf("Error accessing path %s: %v", path, err)
			return nil
		}
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".log") {
			logFiles = append(logFiles, path)
		}
		return nil
	})

	return logFiles, err
}
