package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/yai-nexus/cloudlog/internal/shipping"
	"github.com/yai-nexus/cloudlog/internal/shipping/accumulator"
	"github.com/yai-nexus/cloudlog/internal/shipping/retry"
)

// DefaultStopTimeout bounds the shutdown drain when the caller has no
// stronger opinion.
const DefaultStopTimeout = 30 * time.Second

type state int

const (
	stateStopped state = iota
	stateStarting
	stateRunning
	stateStopping
)

// Engine orchestrates the accumulator, retry policy and wire client into a
// running transport with a start/stop lifecycle. Instances are fully
// independent; nothing is shared across engines.
type Engine struct {
	config  shipping.Config
	sender  shipping.BatchSender
	acc     *accumulator.Accumulator
	policy  retry.Policy
	metrics *Metrics

	deadLetter io.Writer

	stateMu sync.Mutex
	state   state

	// flushMu serializes sends so at most one batch is in flight.
	flushMu sync.Mutex
	flushCh chan struct{}

	// quit stops the background loops; sendCtx covers the sends themselves
	// and is canceled only when the shutdown drain budget is exhausted, so an
	// in-flight send gets to finish.
	quit       chan struct{}
	sendCtx    context.Context
	sendCancel context.CancelFunc
	wg         sync.WaitGroup
}

type Option func(*Engine)

// WithRetryPolicy overrides the policy derived from the config.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(e *Engine) { e.policy = policy }
}

// WithDeadLetter writes permanently dropped records to w as JSON lines, one
// record per line.
func WithDeadLetter(w io.Writer) Option {
	return func(e *Engine) { e.deadLetter = w }
}

func New(config shipping.Config, sender shipping.BatchSender, opts ...Option) *Engine {
	config.SetDefaults()

	e := &Engine{
		config:  config,
		sender:  sender,
		acc:     accumulator.New(config.MaxBatchSize),
		policy:  retry.DefaultPolicy(config.MaxRetries, config.RetryBaseDelay),
		metrics: newMetrics(),
		flushCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start probes the remote service and, on success, transitions to Running
// and begins the periodic flush and health loops. Starting a Running engine
// is a no-op; a failed probe leaves the engine Stopped.
func (e *Engine) Start(ctx context.Context) error {
	e.stateMu.Lock()
	if e.state == stateRunning {
		e.stateMu.Unlock()
		return nil
	}
	if e.state != stateStopped {
		current := e.state
		e.stateMu.Unlock()
		return fmt.Errorf("cannot start transport in state %d", current)
	}
	e.state = stateStarting
	e.stateMu.Unlock()

	initCtx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	err := e.sender.Initialize(initCtx)
	cancel()
	if err != nil {
		e.stateMu.Lock()
		e.state = stateStopped
		e.stateMu.Unlock()
		e.metrics.recordConnectionError()
		return err
	}

	e.metrics.setHealthy(true)
	e.quit = make(chan struct{})
	e.sendCtx, e.sendCancel = context.WithCancel(context.Background())

	e.wg.Add(3)
	go e.flushTimer()
	go e.flushLoop()
	go e.healthLoop()

	e.stateMu.Lock()
	e.state = stateRunning
	e.stateMu.Unlock()

	log.Printf("Transport started: project=%s logstore=%s batch=%d flush=%s",
		e.config.Project, e.config.Logstore, e.config.MaxBatchSize, e.config.FlushInterval)
	return nil
}

// Handle accepts one record. It never blocks on network I/O: the record is
// appended in memory and a flush is scheduled asynchronously when the batch
// is full.
func (e *Engine) Handle(record shipping.LogRecord) error {
	e.stateMu.Lock()
	running := e.state == stateRunning
	e.stateMu.Unlock()
	if !running {
		return shipping.ErrShuttingDown
	}

	if record.Level < e.config.Level {
		return nil
	}

	if err := e.acc.Add(record); err != nil {
		return err
	}
	if e.acc.Ready() {
		e.signalFlush()
	}
	return nil
}

// Stop drains pending records with one bounded final flush pass, then
// releases the sender. It never fails; records still pending when the
// timeout fires are dropped and logged.
func (e *Engine) Stop(timeout time.Duration) {
	e.stateMu.Lock()
	if e.state != stateRunning {
		e.stateMu.Unlock()
		return
	}
	e.state = stateStopping
	e.stateMu.Unlock()

	log.Printf("Stopping transport, draining %d pending records...", e.acc.Size())

	// Producers are rejected and the background loops are told to exit, but a
	// send already in flight keeps its context until the drain budget runs
	// out. Only then is it aborted.
	e.acc.Close()
	close(e.quit)

	drainCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	go func() {
		<-drainCtx.Done()
		e.sendCancel()
	}()

	e.wg.Wait()

	for e.acc.Size() > 0 && drainCtx.Err() == nil {
		e.flush(drainCtx)
	}

	if remaining := e.acc.Size(); remaining > 0 {
		for e.acc.Size() > 0 {
			e.writeDeadLetter(e.acc.Cut())
		}
		log.Printf("Shutdown timeout exceeded, dropped %d records", remaining)
	}

	e.sender.Cleanup()

	e.stateMu.Lock()
	e.state = stateStopped
	e.stateMu.Unlock()

	log.Println("Transport stopped")
}

// Metrics returns an immutable snapshot, safe to call from any state.
func (e *Engine) Metrics() Snapshot {
	return e.metrics.snapshot(e.acc.Size())
}

func (e *Engine) signalFlush() {
	select {
	case e.flushCh <- struct{}{}:
	default:
	}
}

func (e *Engine) flushTimer() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if e.acc.Size() > 0 {
				e.signalFlush()
			}
		case <-e.quit:
			return
		}
	}
}

// flushLoop is the single consumer of flush signals, so at most one batch is
// ever in flight per engine.
func (e *Engine) flushLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.flushCh:
			e.flush(e.sendCtx)
		case <-e.quit:
			return
		}
	}
}

func (e *Engine) healthLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(e.sendCtx, e.config.RequestTimeout)
			healthy := e.sender.HealthCheck(probeCtx)
			cancel()
			e.metrics.setHealthy(healthy)
			if !healthy {
				log.Println("Health check failed")
			}
		case <-e.quit:
			return
		}
	}
}

// flush cuts the current batch and sends it under the retry policy. Send
// failures are contained here: they update metrics and the dead letter, and
// never propagate to producers.
func (e *Engine) flush(ctx context.Context) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	batch := e.acc.Cut()
	if len(batch) == 0 {
		return
	}

	var bytesSent int
	err := retry.Do(ctx, e.policy, func() error {
		n, sendErr := e.sender.SendBatch(ctx, batch)
		bytesSent = n
		return sendErr
	})

	if err == nil {
		e.metrics.recordSuccess(len(batch), bytesSent)
	} else {
		e.metrics.recordFailure(len(batch), err)
		var sendErr *shipping.SendError
		if errors.As(err, &sendErr) && sendErr.IsConnection() {
			e.metrics.recordConnectionError()
		}
		e.writeDeadLetter(batch)
		log.Printf("Dropping batch of %d records: %v", len(batch), err)
	}

	// A burst can leave more than one full batch behind.
	if e.acc.Ready() {
		e.signalFlush()
	}
}

func (e *Engine) writeDeadLetter(batch []shipping.LogRecord) {
	if e.deadLetter == nil {
		return
	}
	for _, record := range batch {
		line, err := json.Marshal(record)
		if err != nil {
			continue
		}
		e.deadLetter.Write(append(line, '\n'))
	}
}
