package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
	MaxExport    = 10000
)

// timeLayout is fixed width so that lexical order matches time order
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Filter selects records from the durable log
type Filter struct {
	EventType  Action
	EntityType string
	EntityID   string
	Actor      string
	Start      time.Time
	End        time.Time
	Search     string
	Limit      int
	Offset     int
}

// Page is one page of a filtered query
type Page struct {
	Logs   []Record `json:"logs"`
	Total  int      `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// Stats summarizes the durable log
type Stats struct {
	Total        int            `json:"total_logs"`
	Recent24h    int            `json:"recent_24h"`
	ByEventType  map[string]int `json:"by_event_type"`
	ByEntityType map[string]int `json:"by_entity_type"`
}

// Store is the SQLite-backed durable audit log
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the database at path. ":memory:"
// opens a private in-memory database.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// migrate creates the necessary tables
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS activity_logs (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			event_type TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			actor TEXT NOT NULL,
			description TEXT,
			metadata TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_activity_logs_timestamp ON activity_logs(timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_activity_logs_event_type ON activity_logs(event_type);
		CREATE INDEX IF NOT EXISTS idx_activity_logs_entity_type ON activity_logs(entity_type);
		CREATE INDEX IF NOT EXISTS idx_activity_logs_entity_id ON activity_logs(entity_id);
		CREATE INDEX IF NOT EXISTS idx_activity_logs_actor ON activity_logs(actor);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert appends rec. Inserting an id that already exists is a no-op.
func (s *Store) Insert(ctx context.Context, rec Record) error {
	var metadata sql.NullString
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO activity_logs
			(id, timestamp, event_type, entity_type, entity_id, actor, description, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UTC().Format(timeLayout), string(rec.Action), rec.EntityType, rec.EntityID,
		rec.Actor, rec.Description, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Normalize applies the default and maximum page size
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func (f Filter) where() (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, arg any) {
		clauses = append(clauses, clause)
		args = append(args, arg)
	}
	if f.EventType != "" {
		add("event_type = ?", string(f.EventType))
	}
	if f.EntityType != "" {
		add("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id = ?", f.EntityID)
	}
	if f.Actor != "" {
		add("actor = ?", f.Actor)
	}
	if !f.Start.IsZero() {
		add("timestamp >= ?", f.Start.UTC().Format(timeLayout))
	}
	if !f.End.IsZero() {
		add("timestamp <= ?", f.End.UTC().Format(timeLayout))
	}
	if f.Search != "" {
		add(`description LIKE ? ESCAPE '\'`, "%"+escapeLike(f.Search)+"%")
	}

	if len(clauses) == 0 {
		return "1=1", nil
	}
	return strings.Join(clauses, " AND "), args
}

// Query returns one page of matching records, newest first, and the total match count
func (s *Store) Query(ctx context.Context, f Filter) (Page, error) {
	f = f.Normalize()
	where, args := f.where()

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activity_logs WHERE "+where, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("failed to count audit records: %w", err)
	}

	logs, err := s.list(ctx, where, args, f.Limit, f.Offset)
	if err != nil {
		return Page{}, err
	}
	return Page{Logs: logs, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// Export returns up to MaxExport matching records, newest first. The
// filter's limit and offset are ignored.
func (s *Store) Export(ctx context.Context, f Filter) ([]Record, error) {
	where, args := f.where()
	return s.list(ctx, where, args, MaxExport, 0)
}

func (s *Store) list(ctx context.Context, where string, args []any, limit, offset int) ([]Record, error) {
	query := `
		SELECT id, timestamp, event_type, entity_type, entity_id, actor, description, metadata
		FROM activity_logs
		WHERE ` + where + `
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	logs := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var ts, action string
		var description, metadata sql.NullString
		if err := rows.Scan(&rec.ID, &ts, &action, &rec.EntityType, &rec.EntityID, &rec.Actor, &description, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Action = Action(action)
		rec.Description = description.String
		rec.Timestamp, _ = time.Parse(timeLayout, ts)
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &rec.Metadata)
		}
		logs = append(logs, rec)
	}
	return logs, rows.Err()
}

// Stats summarizes the log relative to now
func (s *Store) Stats(ctx context.Context, now time.Time) (Stats, error) {
	stats := Stats{ByEventType: map[string]int{}, ByEntityType: map[string]int{}}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activity_logs").Scan(&stats.Total); err != nil {
		return stats, fmt.Errorf("failed to count audit records: %w", err)
	}
	since := now.Add(-24 * time.Hour).UTC().Format(timeLayout)
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activity_logs WHERE timestamp >= ?", since).Scan(&stats.Recent24h); err != nil {
		return stats, fmt.Errorf("failed to count recent audit records: %w", err)
	}
	if err := s.groupCount(ctx, "event_type", stats.ByEventType); err != nil {
		return stats, err
	}
	if err := s.groupCount(ctx, "entity_type", stats.ByEntityType); err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *Store) groupCount(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s, COUNT(*) FROM activity_logs GROUP BY %s", column, column))
	if err != nil {
		return fmt.Errorf("failed to group audit records by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

// Clear deletes every record and returns how many were removed
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM activity_logs")
	if err != nil {
		return 0, fmt.Errorf("failed to clear audit records: %w", err)
	}
	return res.RowsAffected()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
