package task

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultProbeInterval = 30 * time.Second

// ProbeFunc checks a dependency and reports its failure.
type ProbeFunc func(context.Context) error

// NodeHealthStatus is the outcome of the latest node service probe.
type NodeHealthStatus struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// NodeHealthMonitor probes the node service periodically and on demand.
type NodeHealthMonitor struct {
	interval     time.Duration
	probe        ProbeFunc
	logger       *zap.Logger
	now          func() time.Time
	trigger      chan struct{}
	controlMutex sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}
	statusMutex  sync.RWMutex
	status       NodeHealthStatus
	probed       bool
}

// NewNodeHealthMonitor creates a monitor; a non-positive interval falls back to 30s.
func NewNodeHealthMonitor(interval time.Duration, probe ProbeFunc, logger *zap.Logger) *NodeHealthMonitor {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NodeHealthMonitor{
		interval: interval,
		probe:    probe,
		logger:   logger,
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
}

// Start probes immediately and then on every interval until Stop or ctx ends.
func (monitor *NodeHealthMonitor) Start(ctx context.Context) {
	if monitor == nil || monitor.probe == nil {
		return
	}
	monitor.controlMutex.Lock()
	if monitor.cancel != nil {
		monitor.controlMutex.Unlock()
		return
	}
	runtimeCtx, cancel := context.WithCancel(ctx)
	monitor.cancel = cancel
	done := make(chan struct{})
	monitor.done = done
	monitor.controlMutex.Unlock()

	go monitor.loop(runtimeCtx, done)
}

// Trigger requests an immediate probe without blocking.
func (monitor *NodeHealthMonitor) Trigger() {
	if monitor == nil {
		return
	}
	select {
	case monitor.trigger <- struct{}{}:
	default:
	}
}

// Stop cancels the loop and waits for it to exit.
func (monitor *NodeHealthMonitor) Stop() {
	if monitor == nil {
		return
	}
	monitor.controlMutex.Lock()
	cancel := monitor.cancel
	done := monitor.done
	monitor.cancel = nil
	monitor.done = nil
	monitor.controlMutex.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Status returns the latest probe outcome and whether any probe has completed.
func (monitor *NodeHealthMonitor) Status() (NodeHealthStatus, bool) {
	if monitor == nil {
		return NodeHealthStatus{}, false
	}
	monitor.statusMutex.RLock()
	defer monitor.statusMutex.RUnlock()
	return monitor.status, monitor.probed
}

func (monitor *NodeHealthMonitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	monitor.check(ctx)

	ticker := time.NewTicker(monitor.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-monitor.trigger:
			monitor.check(ctx)
		case <-ticker.C:
			monitor.check(ctx)
		}
	}
}

func (monitor *NodeHealthMonitor) check(ctx context.Context) {
	if monitor.probe == nil {
		return
	}
	probeErr := monitor.probe(ctx)
	if ctx.Err() != nil {
		return
	}
	next := NodeHealthStatus{Healthy: probeErr == nil, CheckedAt: monitor.now().UTC()}
	if probeErr != nil {
		next.Error = probeErr.Error()
	}

	monitor.statusMutex.Lock()
	previous, probed := monitor.status, monitor.probed
	monitor.status = next
	monitor.probed = true
	monitor.statusMutex.Unlock()

	if probed && previous.Healthy == next.Healthy {
		return
	}
	if next.Healthy {
		monitor.logger.Info("node_service_healthy")
		return
	}
	monitor.logger.Warn("node_service_unhealthy", zap.Error(probeErr))
}
