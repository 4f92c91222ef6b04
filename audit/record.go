// Package audit records every saga-driven mutation: a bounded in-memory feed
// of the latest records and a durable SQLite log with filters and export.
package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action is the kind of mutation a record describes
type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionDelete  Action = "DELETE"
	ActionPayment Action = "PAYMENT"
)

// Entity types written by the saga
const (
	EntityOrder    = "order"
	EntityShipment = "shipment"
)

// Record is one append-only audit entry
type Record struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Action      Action         `json:"event_type"`
	EntityType  string         `json:"entity_type"`
	EntityID    string         `json:"entity_id"`
	Actor       string         `json:"actor"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

var recordNamespace = uuid.MustParse("6f1c3a52-9d0e-4c1b-8a57-2f43c9b8e0d1")

// StableID derives a record id from the workflow run and the record's
// position within it, so a retried append maps to the same id.
func StableID(runID string, seq int) string {
	return uuid.NewSHA1(recordNamespace, []byte(fmt.Sprintf("%s/%d", runID, seq))).String()
}

func (r Record) withDefaults(now time.Time) Record {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	r.Timestamp = r.Timestamp.UTC()
	return r
}
