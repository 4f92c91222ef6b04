package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/juju/clock"
)

// ErrNoStore is returned by queries when the sink has no durable store
var ErrNoStore = errors.New("audit store not configured")

// Sink appends records to the in-memory feed and the durable store. Store
// failures are logged and never returned from Append.
type Sink struct {
	ring   *Ring
	store  *Store
	clock  clock.Clock
	logger *slog.Logger
}

// NewSink creates a Sink. store may be nil, in which case only the feed is kept.
func NewSink(ring *Ring, store *Store, clk clock.Clock, logger *slog.Logger) *Sink {
	if ring == nil {
		ring = NewRing(DefaultRingSize)
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{ring: ring, store: store, clock: clk, logger: logger}
}

// Append records rec and returns it with id and timestamp filled in
func (s *Sink) Append(ctx context.Context, rec Record) Record {
	rec = rec.withDefaults(s.clock.Now())
	s.ring.Add(rec)

	if s.store != nil {
		if err := s.store.Insert(ctx, rec); err != nil {
			s.logger.Error("failed to persist audit record",
				"id", rec.ID, "event_type", rec.Action, "entity_type", rec.EntityType, "entity_id", rec.EntityID, "error", err)
		}
	}
	return rec
}

// Recent returns the newest n records of the in-memory feed
func (s *Sink) Recent(n int) []Record {
	return s.ring.Recent(n)
}

// Query pages through the durable log
func (s *Sink) Query(ctx context.Context, f Filter) (Page, error) {
	if s.store == nil {
		return Page{}, ErrNoStore
	}
	return s.store.Query(ctx, f)
}

// Export returns the records to export for f
func (s *Sink) Export(ctx context.Context, f Filter) ([]Record, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.Export(ctx, f)
}

// Stats summarizes the durable log
func (s *Sink) Stats(ctx context.Context) (Stats, error) {
	if s.store == nil {
		return Stats{ByEventType: map[string]int{}, ByEntityType: map[string]int{}}, ErrNoStore
	}
	return s.store.Stats(ctx, s.clock.Now())
}

// Clear empties the durable log and the feed
func (s *Sink) Clear(ctx context.Context) (int64, error) {
	s.ring.Reset()
	if s.store == nil {
		return 0, ErrNoStore
	}
	return s.store.Clear(ctx)
}

// Now returns the sink's clock time
func (s *Sink) Now() time.Time {
	return s.clock.Now()
}
