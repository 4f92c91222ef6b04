package health

import (
	"context"
	"errors"
	"net"
	"time"
)

// Status is the last observed state of a service
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusError     Status = "error"
)

// maxMessageLen bounds the error text kept on a record
const maxMessageLen = 50

// Record is the availability slot of one service. It is only written by the Monitor.
type Record struct {
	Service     string        `json:"service"`
	Status      Status        `json:"status"`
	Latency     time.Duration `json:"-"`
	LatencyMS   *int64        `json:"response_time_ms"`
	Version     string        `json:"version,omitempty"`
	ReleaseID   string        `json:"releaseId,omitempty"`
	Error       string        `json:"error,omitempty"`
	Backoff     time.Duration `json:"-"`
	BackoffSec  float64       `json:"backoff_sec"`
	NextCheckAt time.Time     `json:"next_check_at"`
	CheckedAt   time.Time     `json:"checked_at,omitzero"`
	Probes      int           `json:"probes"`
}

// Down reports whether the record says the service should not be called at now
func (r Record) Down(now time.Time) bool {
	return (r.Status == StatusError || r.Status == StatusUnhealthy) && now.Before(r.NextCheckAt)
}

func (r Record) withDerived() Record {
	r.BackoffSec = r.Backoff.Seconds()
	if r.Status == StatusHealthy || r.Status == StatusUnhealthy {
		ms := r.Latency.Milliseconds()
		r.LatencyMS = &ms
	} else {
		r.LatencyMS = nil
	}
	return r
}

// ProbeResult is what a Prober observed from GET /health
type ProbeResult struct {
	StatusCode int
	Latency    time.Duration
	Version    string
	ReleaseID  string
}

// Prober issues the health request for a service. An error means no
// response was received.
type Prober interface {
	Probe(ctx context.Context, service string) (ProbeResult, error)
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context, service string) (ProbeResult, error)

func (f ProberFunc) Probe(ctx context.Context, service string) (ProbeResult, error) {
	return f(ctx, service)
}

func describe(err error) string {
	var netErr net.Error
	var opErr *net.OpError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "Timeout"
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return "Connection failed"
	}
	msg := err.Error()
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen]
	}
	return msg
}
