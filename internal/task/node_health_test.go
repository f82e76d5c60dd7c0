package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testProbeInterval = 10 * time.Millisecond
	testProbeTimeout  = 2 * time.Second
	testLongInterval  = time.Hour
)

var errTestNodeDown = errors.New("node down")

func TestNewNodeHealthMonitorDefaultsInterval(testingT *testing.T) {
	monitor := NewNodeHealthMonitor(0, func(context.Context) error { return nil }, nil)
	require.Equal(testingT, defaultProbeInterval, monitor.interval)
}

func TestNodeHealthMonitorProbesOnStart(testingT *testing.T) {
	monitor := NewNodeHealthMonitor(testLongInterval, func(context.Context) error { return nil }, zap.NewNop())
	_, probed := monitor.Status()
	require.False(testingT, probed)

	monitor.Start(context.Background())
	testingT.Cleanup(monitor.Stop)

	require.Eventually(testingT, func() bool {
		status, probed := monitor.Status()
		return probed && status.Healthy
	}, testProbeTimeout, testProbeInterval)
}

func TestNodeHealthMonitorRecordsFailureAndRecovery(testingT *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	probe := func(context.Context) error {
		if failing.Load() {
			return errTestNodeDown
		}
		return nil
	}
	observedCore, observedLogs := observer.New(zap.InfoLevel)
	monitor := NewNodeHealthMonitor(testLongInterval, probe, zap.New(observedCore))
	monitor.Start(context.Background())
	testingT.Cleanup(monitor.Stop)

	require.Eventually(testingT, func() bool {
		status, probed := monitor.Status()
		return probed && !status.Healthy && status.Error == errTestNodeDown.Error()
	}, testProbeTimeout, testProbeInterval)

	failing.Store(false)
	monitor.Trigger()

	require.Eventually(testingT, func() bool {
		status, _ := monitor.Status()
		return status.Healthy && status.Error == ""
	}, testProbeTimeout, testProbeInterval)

	require.Equal(testingT, 1, observedLogs.FilterMessage("node_service_unhealthy").Len())
	require.Equal(testingT, 1, observedLogs.FilterMessage("node_service_healthy").Len())
}

func TestNodeHealthMonitorProbesOnInterval(testingT *testing.T) {
	var probeCount int64
	monitor := NewNodeHealthMonitor(testProbeInterval, func(context.Context) error {
		atomic.AddInt64(&probeCount, 1)
		return nil
	}, nil)
	monitor.Start(context.Background())

	require.Eventually(testingT, func() bool {
		return atomic.LoadInt64(&probeCount) >= 3
	}, testProbeTimeout, testProbeInterval)

	monitor.Stop()
	require.Nil(testingT, monitor.cancel)
}

func TestNodeHealthMonitorUsesClock(testingT *testing.T) {
	fixedTime := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	monitor := NewNodeHealthMonitor(testLongInterval, func(context.Context) error { return nil }, nil)
	monitor.now = func() time.Time { return fixedTime }

	monitor.check(context.Background())

	status, probed := monitor.Status()
	require.True(testingT, probed)
	require.Equal(testingT, fixedTime, status.CheckedAt)
}

func TestNodeHealthMonitorIgnoresCancelledProbe(testingT *testing.T) {
	monitor := NewNodeHealthMonitor(testLongInterval, func(ctx context.Context) error { return ctx.Err() }, nil)
	cancelledContext, cancel := context.WithCancel(context.Background())
	cancel()

	monitor.check(cancelledContext)

	_, probed := monitor.Status()
	require.False(testingT, probed)
}

func TestNodeHealthMonitorHandlesNilReceiver(testingT *testing.T) {
	var monitor *NodeHealthMonitor
	monitor.Start(context.Background())
	monitor.Trigger()
	monitor.Stop()
	_, probed := monitor.Status()
	require.False(testingT, probed)
}

func TestNodeHealthMonitorSkipsStartWhenProbeMissing(testingT *testing.T) {
	monitor := NewNodeHealthMonitor(testProbeInterval, nil, nil)
	monitor.Start(context.Background())
	require.Nil(testingT, monitor.cancel)
}

func TestNodeHealthMonitorStartIsIdempotent(testingT *testing.T) {
	monitor := NewNodeHealthMonitor(testLongInterval, func(context.Context) error { return nil }, nil)
	monitor.Start(context.Background())
	doneAfterStart := monitor.done
	require.NotNil(testingT, monitor.cancel)
	monitor.Start(context.Background())
	require.Equal(testingT, doneAfterStart, monitor.done)
	monitor.Stop()
}
