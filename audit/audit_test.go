package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "audit", "activity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRingKeepsNewestFirst(t *testing.T) {
	ring := NewRing(3)
	for i := 1; i <= 5; i++ {
		ring.Add(Record{ID: fmt.Sprint(i)})
	}
	ring.Add(Record{ID: "5"})

	recent := ring.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, []string{"5", "4", "3"}, []string{recent[0].ID, recent[1].ID, recent[2].ID})
	assert.Len(t, ring.Recent(2), 2)
	assert.Len(t, ring.Recent(20), 3)
}

func TestStableID(t *testing.T) {
	assert.Equal(t, StableID("run-1", 0), StableID("run-1", 0))
	assert.NotEqual(t, StableID("run-1", 0), StableID("run-1", 1))
	assert.NotEqual(t, StableID("run-1", 0), StableID("run-2", 0))
}

func TestStoreInsertIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := Record{ID: "a", Timestamp: base, Action: ActionPayment, EntityType: EntityOrder, EntityID: "1", Actor: "admin",
		Description: "Payment approved for order #1", Metadata: map[string]any{"reconcile": true}}
	require.NoError(t, store.Insert(ctx, rec))
	require.NoError(t, store.Insert(ctx, rec))

	page, err := store.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Logs, 1)
	assert.Equal(t, base, page.Logs[0].Timestamp)
	assert.Equal(t, true, page.Logs[0].Metadata["reconcile"])
}

func seed(t *testing.T, store *Store) {
	t.Helper()
	records := []Record{
		{ID: "1", Timestamp: base, Action: ActionPayment, EntityType: EntityOrder, EntityID: "10", Actor: "admin", Description: "Payment approved for order #10"},
		{ID: "2", Timestamp: base.Add(time.Minute), Action: ActionCreate, EntityType: EntityShipment, EntityID: "3", Actor: "admin", Description: "Shipment created for order #10"},
		{ID: "3", Timestamp: base.Add(2 * time.Minute), Action: ActionUpdate, EntityType: EntityOrder, EntityID: "10", Actor: "ops", Description: "Updated order status to SHIPPED"},
		{ID: "4", Timestamp: base.Add(3 * time.Minute), Action: ActionUpdate, EntityType: EntityShipment, EntityID: "3", Actor: "ops", Description: "Shipment moved to IN_TRANSIT for order #10"},
		{ID: "5", Timestamp: base.Add(-48 * time.Hour), Action: ActionPayment, EntityType: EntityOrder, EntityID: "11", Actor: "admin", Description: "Payment declined for order #11 (100%_off)"},
	}
	for _, rec := range records {
		require.NoError(t, store.Insert(context.Background(), rec))
	}
}

func TestStoreQueryFilters(t *testing.T) {
	store := openTestStore(t)
	seed(t, store)
	ctx := context.Background()

	ids := func(page Page) []string {
		out := make([]string, 0, len(page.Logs))
		for _, rec := range page.Logs {
			out = append(out, rec.ID)
		}
		return out
	}

	tests := []struct {
		name  string
		f     Filter
		want  []string
		total int
	}{
		{name: "all newest first", f: Filter{}, want: []string{"4", "3", "2", "1", "5"}, total: 5},
		{name: "event type", f: Filter{EventType: ActionUpdate}, want: []string{"4", "3"}, total: 2},
		{name: "entity", f: Filter{EntityType: EntityOrder, EntityID: "10"}, want: []string{"3", "1"}, total: 2},
		{name: "actor", f: Filter{Actor: "ops"}, want: []string{"4", "3"}, total: 2},
		{name: "time range", f: Filter{Start: base.Add(time.Minute), End: base.Add(2 * time.Minute)}, want: []string{"3", "2"}, total: 2},
		{name: "search is case insensitive", f: Filter{Search: "shipment"}, want: []string{"4", "2"}, total: 2},
		{name: "search escapes wildcards", f: Filter{Search: "100%_"}, want: []string{"5"}, total: 1},
		{name: "pagination", f: Filter{Limit: 2, Offset: 1}, want: []string{"3", "2"}, total: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := store.Query(ctx, tt.f)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(page))
			assert.Equal(t, tt.total, page.Total)
		})
	}
}

func TestFilterNormalize(t *testing.T) {
	assert.Equal(t, DefaultLimit, Filter{}.Normalize().Limit)
	assert.Equal(t, MaxLimit, Filter{Limit: 5000}.Normalize().Limit)
	assert.Equal(t, 0, Filter{Offset: -3}.Normalize().Offset)
}

func TestStoreStatsAndClear(t *testing.T) {
	store := openTestStore(t)
	seed(t, store)
	ctx := context.Background()

	stats, err := store.Stats(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 4, stats.Recent24h)
	assert.Equal(t, map[string]int{"PAYMENT": 2, "CREATE": 1, "UPDATE": 2}, stats.ByEventType)
	assert.Equal(t, map[string]int{"order": 3, "shipment": 2}, stats.ByEntityType)

	deleted, err := store.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)

	page, err := store.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Empty(t, page.Logs)
}

func TestExportFormats(t *testing.T) {
	store := openTestStore(t)
	seed(t, store)

	records, err := store.Export(context.Background(), Filter{EventType: ActionPayment, Limit: 1})
	require.NoError(t, err)
	require.Len(t, records, 2, "export ignores the page size")

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, records))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "2025-06-01T09:00:00Z", rows[1][1])

	buf.Reset()
	require.NoError(t, WriteJSON(&buf, records, base))
	var doc struct {
		Logs       []Record  `json:"logs"`
		ExportedAt time.Time `json:"exported_at"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Len(t, doc.Logs, 2)
	assert.Equal(t, base, doc.ExportedAt)

	assert.Equal(t, "activity_logs_20250601_090000.csv", ExportFilename("csv", base))
}

func TestSinkAppend(t *testing.T) {
	store := openTestStore(t)
	clk := testclock.NewClock(base)
	sink := NewSink(NewRing(50), store, clk, nil)
	ctx := context.Background()

	rec := sink.Append(ctx, Record{Action: ActionUpdate, EntityType: EntityOrder, EntityID: "9", Actor: "admin"})
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, base, rec.Timestamp)

	sink.Append(ctx, rec)
	assert.Len(t, sink.Recent(20), 1)

	page, err := sink.Query(ctx, Filter{EntityID: "9"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	stats, err := sink.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Recent24h)

	deleted, err := sink.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Empty(t, sink.Recent(20))
}

func TestSinkWithoutStore(t *testing.T) {
	sink := NewSink(nil, nil, nil, nil)
	sink.Append(context.Background(), Record{Action: ActionCreate, EntityType: EntityShipment, EntityID: "1"})

	assert.Len(t, sink.Recent(20), 1)
	_, err := sink.Query(context.Background(), Filter{})
	assert.ErrorIs(t, err, ErrNoStore)
}
