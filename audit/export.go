package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

var csvHeader = []string{"id", "timestamp", "event_type", "entity_type", "entity_id", "actor", "description", "metadata"}

// WriteCSV writes records with a header row. Metadata is a JSON column.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, rec := range records {
		metadata := ""
		if len(rec.Metadata) > 0 {
			b, err := json.Marshal(rec.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata of %s: %w", rec.ID, err)
			}
			metadata = string(b)
		}
		row := []string{
			rec.ID,
			rec.Timestamp.UTC().Format(time.RFC3339Nano),
			string(rec.Action),
			rec.EntityType,
			rec.EntityID,
			rec.Actor,
			rec.Description,
			metadata,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes {"logs": [...], "exported_at": ...}
func WriteJSON(w io.Writer, records []Record, exportedAt time.Time) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Logs       []Record  `json:"logs"`
		ExportedAt time.Time `json:"exported_at"`
	}{Logs: records, ExportedAt: exportedAt.UTC()})
}

// ExportFilename names an export file taken at t
func ExportFilename(format string, t time.Time) string {
	return fmt.Sprintf("activity_logs_%s.%s", t.UTC().Format("20060102_150405"), format)
}
