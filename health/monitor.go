package health

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"
)

type slot struct {
	mu      sync.Mutex
	record  Record
	probing bool
}

// Monitor owns one availability slot per tracked service. The set of
// services is fixed at construction, so the slot map is never written after
// New returns.
type Monitor struct {
	policy  Policy
	prober  Prober
	clock   clock.Clock
	jitter  JitterFunc
	logger  *slog.Logger
	metrics *Collector

	slots    map[string]*slot
	services []string
}

// Option configures a Monitor
type Option func(*Monitor)

// WithClock replaces the wall clock
func WithClock(clk clock.Clock) Option {
	return func(m *Monitor) { m.clock = clk }
}

// WithJitter replaces the jitter source
func WithJitter(fn JitterFunc) Option {
	return func(m *Monitor) { m.jitter = fn }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithCollector records probe outcomes on c
func WithCollector(c *Collector) Option {
	return func(m *Monitor) { m.metrics = c }
}

// New creates a Monitor tracking services. Every record starts as unknown
// with the poll interval as its backoff and is eligible for an immediate probe.
func New(policy Policy, prober Prober, services []string, opts ...Option) *Monitor {
	m := &Monitor{
		policy: policy.Normalize(),
		prober: prober,
		clock:  clock.WallClock,
		jitter: DefaultJitterFunc,
		logger: slog.Default(),
		slots:  make(map[string]*slot, len(services)),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, name := range services {
		if _, ok := m.slots[name]; ok {
			continue
		}
		m.services = append(m.services, name)
		m.slots[name] = &slot{record: Record{
			Service: name,
			Status:  StatusUnknown,
			Backoff: m.policy.PollInterval,
		}}
	}
	slices.Sort(m.services)
	return m
}

// Policy returns the normalized policy in use
func (m *Monitor) Policy() Policy { return m.policy }

// Services returns the tracked service names in sorted order
func (m *Monitor) Services() []string { return slices.Clone(m.services) }

// CheckOrSkip probes service unless its next eligible check lies in the
// future, in which case the last record is returned with useCached set.
// A probe already in flight for the service also yields the cached record.
// Probe failures are recorded on the returned record, never returned.
func (m *Monitor) CheckOrSkip(ctx context.Context, service string) (useCached bool, record Record) {
	s, ok := m.slots[service]
	if !ok {
		return true, Record{Service: service, Status: StatusUnknown}.withDerived()
	}

	s.mu.Lock()
	now := m.clock.Now()
	if s.probing || now.Before(s.record.NextCheckAt) {
		record = s.record
		s.mu.Unlock()
		m.metrics.skipped(service)
		return true, record.withDerived()
	}
	s.probing = true
	next := s.record
	s.mu.Unlock()

	result, err := m.prober.Probe(ctx, service)

	switch {
	case err != nil:
		next.Status = StatusError
		next.Error = describe(err)
		next.Latency = 0
		next.Version, next.ReleaseID = "", ""
	case result.StatusCode == http.StatusOK:
		next.Status = StatusHealthy
		next.Error = ""
		next.Latency = result.Latency
		next.Version, next.ReleaseID = result.Version, result.ReleaseID
	default:
		next.Status = StatusUnhealthy
		next.Error = ""
		next.Latency = result.Latency
		next.Version, next.ReleaseID = result.Version, result.ReleaseID
	}

	checkedAt := m.clock.Now()
	next.Backoff = m.policy.Next(next.Backoff, next.Status == StatusHealthy)
	next.NextCheckAt = checkedAt.Add(m.policy.Delay(next.Backoff, m.policy.draw(m.jitter)))
	next.CheckedAt = checkedAt
	next.Probes++

	s.mu.Lock()
	previous := s.record.Status
	s.record = next
	s.probing = false
	s.mu.Unlock()

	if previous != next.Status {
		m.logger.Info("service health changed",
			"service", service, "from", previous, "to", next.Status, "backoff", next.Backoff, "error", next.Error)
	}
	m.metrics.observe(next)

	return false, next.withDerived()
}

// Record returns the current record of service without probing
func (m *Monitor) Record(service string) (Record, bool) {
	s, ok := m.slots[service]
	if !ok {
		return Record{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.withDerived(), true
}

// Available reports whether callers may contact service now. A service is
// unavailable while it is failing and its backoff window has not elapsed.
// Untracked services are always available.
func (m *Monitor) Available(service string) bool {
	record, ok := m.Record(service)
	if !ok {
		return true
	}
	return !record.Down(m.clock.Now())
}

// Snapshot returns all records keyed by service name
func (m *Monitor) Snapshot() map[string]Record {
	out := make(map[string]Record, len(m.slots))
	for name := range m.slots {
		record, _ := m.Record(name)
		out[name] = record
	}
	return out
}

// CheckAll runs CheckOrSkip for every tracked service concurrently
func (m *Monitor) CheckAll(ctx context.Context) map[string]Record {
	var mu sync.Mutex
	out := make(map[string]Record, len(m.services))

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range m.services {
		g.Go(func() error {
			_, record := m.CheckOrSkip(gctx, name)
			mu.Lock()
			out[name] = record
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Run calls CheckAll on every poll interval until ctx is done
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("health monitor started", "services", m.services, "poll_interval", m.policy.PollInterval)
	for {
		m.CheckAll(ctx)
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return nil
		case <-m.clock.After(m.policy.PollInterval):
		}
	}
}
