package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yai-nexus/cloudlog/internal/engine"
)

// MetricsSource is anything that can be polled for a transport snapshot.
type MetricsSource interface {
	Metrics() engine.Snapshot
}

// AlertLevel is the severity of a fired alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertError    AlertLevel = "error"
	AlertCritical AlertLevel = "critical"
)

// AlertRule fires when its condition holds for a polled snapshot, at most
// once per cooldown period.
type AlertRule struct {
	Name        string
	Description string
	Level       AlertLevel
	Condition   func(engine.Snapshot) bool
	Cooldown    time.Duration

	lastTriggered time.Time
	triggerCount  int
}

// Alert is one fired rule instance delivered to channels.
type Alert struct {
	ID          string          `json:"id"`
	Rule        string          `json:"rule"`
	Description string          `json:"description"`
	Level       AlertLevel      `json:"level"`
	Transport   string          `json:"transport"`
	Metrics     engine.Snapshot `json:"metrics"`
	Time        time.Time       `json:"time"`
}

// AlertChannel delivers fired alerts. Channel failures are logged, never
// propagated.
type AlertChannel interface {
	SendAlert(ctx context.Context, alert Alert) error
}

// Monitor polls transport metrics and evaluates alert rules. It is a plain
// value owned by whoever assembles the transport; there is no global
// registry.
type Monitor struct {
	interval time.Duration
	sources  map[string]MetricsSource
	rules    []*AlertRule
	channels []AlertChannel

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Monitor{
		interval: interval,
		sources:  make(map[string]MetricsSource),
		rules:    DefaultRules(),
	}
}

// DefaultRules covers the failure modes worth paging on out of the box.
func DefaultRules() []*AlertRule {
	return []*AlertRule{
		{
			Name:        "high_error_rate",
			Description: "Transport error rate above 10%",
			Level:       AlertWarning,
			Condition:   func(s engine.Snapshot) bool { return s.SuccessRatePercent < 90 },
			Cooldown:    10 * time.Minute,
		},
		{
			Name:        "critical_error_rate",
			Description: "Transport error rate above 50%",
			Level:       AlertCritical,
			Condition:   func(s engine.Snapshot) bool { return s.SuccessRatePercent < 50 },
			Cooldown:    5 * time.Minute,
		},
		{
			Name:        "transport_unhealthy",
			Description: "Transport health probe failing",
			Level:       AlertError,
			Condition:   func(s engine.Snapshot) bool { return !s.Healthy },
			Cooldown:    5 * time.Minute,
		},
		{
			Name:        "large_queue_depth",
			Description: "Accumulator backlog is very large",
			Level:       AlertWarning,
			Condition:   func(s engine.Snapshot) bool { return s.QueueDepth > 1000 },
			Cooldown:    5 * time.Minute,
		},
		{
			Name:        "connection_errors",
			Description: "Repeated connection errors",
			Level:       AlertError,
			Condition:   func(s engine.Snapshot) bool { return s.ConnectionErrors > 5 },
			Cooldown:    10 * time.Minute,
		},
	}
}

// AddSource registers a transport under a name used as the alert label.
func (m *Monitor) AddSource(name string, source MetricsSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[name] = source
}

func (m *Monitor) AddRule(rule *AlertRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule)
}

func (m *Monitor) AddChannel(channel AlertChannel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, channel)
}

func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true

	if len(m.channels) == 0 {
		m.channels = append(m.channels, ConsoleChannel{})
	}

	var loopCtx context.Context
	loopCtx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(loopCtx)
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	// Snapshot under the lock; rules and channels can be registered while the
	// loop is running. Rule trigger state is only touched here, on the single
	// loop goroutine.
	m.mu.Lock()
	sources := make(map[string]MetricsSource, len(m.sources))
	for name, source := range m.sources {
		sources[name] = source
	}
	rules := make([]*AlertRule, len(m.rules))
	copy(rules, m.rules)
	channels := make([]AlertChannel, len(m.channels))
	copy(channels, m.channels)
	m.mu.Unlock()

	now := time.Now()
	for name, source := range sources {
		snapshot := source.Metrics()
		for _, rule := range rules {
			if now.Sub(rule.lastTriggered) < rule.Cooldown {
				continue
			}
			if !rule.Condition(snapshot) {
				continue
			}
			rule.lastTriggered = now
			rule.triggerCount++
			m.dispatch(ctx, channels, Alert{
				ID:          uuid.NewString(),
				Rule:        rule.Name,
				Description: rule.Description,
				Level:       rule.Level,
				Transport:   name,
				Metrics:     snapshot,
				Time:        now,
			})
		}
	}
}

func (m *Monitor) dispatch(ctx context.Context, channels []AlertChannel, alert Alert) {
	for _, channel := range channels {
		if err := channel.SendAlert(ctx, alert); err != nil {
			log.Printf("Failed to deliver alert %s: %v", alert.Rule, err)
		}
	}
}
