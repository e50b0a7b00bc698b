package quality

import (
	"context"
	"sync"
	"time"

	"paircast/internal/core/domain"
	"paircast/internal/device/orchestrator"

	"go.uber.org/zap"
)

const DefaultSampleInterval = 2 * time.Second

// Loss thresholds for refining the classification while connected.
const (
	fairLossThreshold = 0.03
	poorLossThreshold = 0.10
)

// connectionSource is the slice of the orchestrator the monitor observes.
type connectionSource interface {
	OnStateChange(fn func(from, to domain.ConnectionState))
	OnStats(fn func(orchestrator.StatsSample))
}

// Monitor classifies link quality for display. Connection state gives the
// coarse classification; while connected, periodic loss readings refine
// it. Changes are reported through a single callback slot.
type Monitor struct {
	interval time.Duration
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	state    domain.ConnectionState
	sample   *orchestrator.StatsSample
	level    domain.QualityLevel
	onChange func(domain.QualityLevel)
	done     chan struct{}
}

func NewMonitor(interval time.Duration, logger *zap.SugaredLogger) *Monitor {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Monitor{
		interval: interval,
		logger:   logger,
		state:    domain.StateDisconnected,
		level:    domain.QualityDisconnected,
		done:     make(chan struct{}),
	}
}

// Attach subscribes the monitor to an orchestrator's state transitions
// and statistics feed.
func (m *Monitor) Attach(src connectionSource) {
	src.OnStateChange(func(_, to domain.ConnectionState) {
		m.ObserveState(to)
	})
	src.OnStats(m.ObserveSample)
}

// OnChange registers the quality change receiver. Last registration wins.
func (m *Monitor) OnChange(fn func(domain.QualityLevel)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Level returns the current classification.
func (m *Monitor) Level() domain.QualityLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// ObserveState records a connection state transition and reclassifies
// immediately.
func (m *Monitor) ObserveState(state domain.ConnectionState) {
	m.mu.Lock()
	m.state = state
	if state != domain.StateConnected {
		m.sample = nil
	}
	m.mu.Unlock()
	m.reclassify()
}

// ObserveSample records a statistics reading. Classification is refreshed
// on the sampling tick rather than per reading.
func (m *Monitor) ObserveSample(sample orchestrator.StatsSample) {
	m.mu.Lock()
	m.sample = &sample
	m.mu.Unlock()
}

// Start runs the periodic sampling loop until ctx is done or Stop is
// called.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.reclassify()
			case <-ctx.Done():
				return
			case <-m.done:
				return
			}
		}
	}()
}

// Stop halts the sampling loop. Safe to call once.
func (m *Monitor) Stop() {
	close(m.done)
}

func (m *Monitor) reclassify() {
	m.mu.Lock()
	level := classify(m.state, m.sample)
	changed := level != m.level
	m.level = level
	fn := m.onChange
	m.mu.Unlock()

	if changed {
		m.logger.Infow("link quality changed", "level", level)
		if fn != nil {
			fn(level)
		}
	}
}

func classify(state domain.ConnectionState, sample *orchestrator.StatsSample) domain.QualityLevel {
	switch state {
	case domain.StateConnected:
	case domain.StateConnecting:
		return domain.QualityPoor
	default:
		return domain.QualityDisconnected
	}

	if sample == nil {
		return domain.QualityGood
	}
	switch {
	case sample.FractionLost >= poorLossThreshold:
		return domain.QualityPoor
	case sample.FractionLost >= fairLossThreshold:
		return domain.QualityFair
	default:
		return domain.QualityGood
	}
}
