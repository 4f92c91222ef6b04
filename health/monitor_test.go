package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// centered makes every jitter draw land on zero
func centered(n int64) int64 { return n / 2 }

type fakeProber struct {
	calls  atomic.Int32
	result func(call int) (ProbeResult, error)
}

func (f *fakeProber) Probe(_ context.Context, _ string) (ProbeResult, error) {
	call := int(f.calls.Add(1))
	return f.result(call)
}

func healthyResult(int) (ProbeResult, error) {
	return ProbeResult{StatusCode: 200, Latency: 12 * time.Millisecond, Version: "1.2.0", ReleaseID: "r1"}, nil
}

func newTestMonitor(prober Prober, opts ...Option) (*Monitor, *testclock.Clock) {
	clk := testclock.NewClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	opts = append([]Option{WithClock(clk), WithJitter(centered)}, opts...)
	return New(DefaultPolicy(), prober, []string{"orders", "shipments"}, opts...), clk
}

func TestPolicyNext(t *testing.T) {
	p := DefaultPolicy()

	backoff := p.PollInterval
	var seen []time.Duration
	for i := 0; i < 8; i++ {
		next := p.Next(backoff, false)
		assert.GreaterOrEqual(t, next, backoff, "backoff never shrinks on failure")
		assert.LessOrEqual(t, next, p.MaxBackoff)
		backoff = next
		seen = append(seen, next)
	}
	assert.Equal(t, []time.Duration{4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second,
		30 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second}, seen)

	assert.Equal(t, p.PollInterval, p.Next(backoff, true))
}

func TestPolicyNormalize(t *testing.T) {
	p := Policy{PollInterval: 100 * time.Millisecond, Factor: 0.5, MaxBackoff: time.Millisecond, Jitter: -time.Second}.Normalize()

	assert.Equal(t, MinPollInterval, p.PollInterval)
	assert.Equal(t, MinPollInterval, p.MaxBackoff)
	assert.Equal(t, 1.0, p.Factor)
	assert.Equal(t, time.Second, p.Jitter)
}

func TestPolicyDelayAndJitter(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, p.Floor, p.Delay(0, -p.Jitter))
	assert.Equal(t, 2250*time.Millisecond, p.Delay(2*time.Second, p.Jitter))

	assert.Equal(t, -p.Jitter, p.draw(func(int64) int64 { return 0 }))
	assert.Equal(t, p.Jitter, p.draw(func(n int64) int64 { return n - 1 }))
	assert.Zero(t, p.draw(centered))
	assert.Zero(t, Policy{}.draw(centered))
}

func TestCheckOrSkipReusesRecordInsideWindow(t *testing.T) {
	prober := &fakeProber{result: healthyResult}
	m, clk := newTestMonitor(prober)
	ctx := context.Background()

	useCached, record := m.CheckOrSkip(ctx, "orders")
	assert.False(t, useCached)
	assert.Equal(t, StatusHealthy, record.Status)
	assert.Equal(t, "1.2.0", record.Version)
	require.NotNil(t, record.LatencyMS)
	assert.Equal(t, int64(12), *record.LatencyMS)
	assert.Equal(t, clk.Now().Add(2*time.Second), record.NextCheckAt)

	clk.Advance(time.Second)
	useCached, cached := m.CheckOrSkip(ctx, "orders")
	assert.True(t, useCached)
	assert.Equal(t, record, cached)
	assert.Equal(t, int32(1), prober.calls.Load(), "no probe inside the window")

	clk.Advance(time.Second)
	useCached, _ = m.CheckOrSkip(ctx, "orders")
	assert.False(t, useCached)
	assert.Equal(t, int32(2), prober.calls.Load())
}

func TestCheckOrSkipBacksOffAndRecovers(t *testing.T) {
	failUntil := 4
	prober := &fakeProber{result: func(call int) (ProbeResult, error) {
		if call <= failUntil {
			return ProbeResult{StatusCode: 503, Latency: time.Millisecond}, nil
		}
		return healthyResult(call)
	}}
	m, clk := newTestMonitor(prober)
	ctx := context.Background()

	want := []time.Duration{4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second}
	for i, backoff := range want {
		useCached, record := m.CheckOrSkip(ctx, "orders")
		require.False(t, useCached, "probe %d", i)
		assert.Equal(t, StatusUnhealthy, record.Status)
		assert.Equal(t, backoff, record.Backoff)
		assert.False(t, m.Available("orders"))

		clk.Advance(backoff - time.Millisecond)
		useCached, _ = m.CheckOrSkip(ctx, "orders")
		assert.True(t, useCached)
		clk.Advance(time.Millisecond)
		assert.True(t, m.Available("orders"), "eligible again once the window elapses")
	}

	_, record := m.CheckOrSkip(ctx, "orders")
	assert.Equal(t, StatusHealthy, record.Status)
	assert.Equal(t, 2*time.Second, record.Backoff)
	assert.Equal(t, int32(5), prober.calls.Load())
}

func TestProbeErrorsAreRecorded(t *testing.T) {
	long := errors.New(strings.Repeat("x", 80))
	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "timeout", err: fmt.Errorf("get health: %w", context.DeadlineExceeded), want: "Timeout"},
		{name: "refused", err: fmt.Errorf("get health: %w", dial), want: "Connection failed"},
		{name: "truncated", err: long, want: strings.Repeat("x", 50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestMonitor(ProberFunc(func(context.Context, string) (ProbeResult, error) {
				return ProbeResult{}, tt.err
			}))

			useCached, record := m.CheckOrSkip(context.Background(), "shipments")
			assert.False(t, useCached)
			assert.Equal(t, StatusError, record.Status)
			assert.Equal(t, tt.want, record.Error)
			assert.Nil(t, record.LatencyMS)
			assert.Equal(t, 4*time.Second, record.Backoff)
			assert.False(t, m.Available("shipments"))
			assert.True(t, m.Available("orders"), "other services are unaffected")
		})
	}
}

func TestUntrackedService(t *testing.T) {
	m, _ := newTestMonitor(&fakeProber{result: healthyResult})

	useCached, record := m.CheckOrSkip(context.Background(), "ledger")
	assert.True(t, useCached)
	assert.Equal(t, StatusUnknown, record.Status)
	assert.True(t, m.Available("ledger"))
}

func TestCheckAllAndMetrics(t *testing.T) {
	collector := NewMetricsCollector()
	prober := &fakeProber{result: healthyResult}
	m, _ := newTestMonitor(prober, WithCollector(collector))

	records := m.CheckAll(context.Background())
	require.Len(t, records, 2)
	assert.Equal(t, StatusHealthy, records["orders"].Status)
	assert.Equal(t, StatusHealthy, records["shipments"].Status)

	m.CheckAll(context.Background())
	assert.Equal(t, int32(2), prober.calls.Load())

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.probes.WithLabelValues("orders", "healthy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.skips.WithLabelValues("orders")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.up.WithLabelValues("shipments")))

	snapshot := m.Snapshot()
	assert.Equal(t, []string{"orders", "shipments"}, m.Services())
	assert.Equal(t, 2.0, snapshot["orders"].BackoffSec)
}

func TestRunStopsOnCancel(t *testing.T) {
	prober := &fakeProber{result: healthyResult}
	m, _ := newTestMonitor(prober)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, m.Run(ctx))
	assert.Equal(t, int32(2), prober.calls.Load(), "one round before stopping")
}
