package audit

import "sync"

// DefaultRingSize is how many records the in-memory feed keeps
const DefaultRingSize = 50

// Ring keeps the most recent records, newest first
type Ring struct {
	mu      sync.Mutex
	size    int
	records []Record
}

// NewRing creates a Ring holding at most size records
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{size: size, records: make([]Record, 0, size)}
}

// Add prepends r, dropping the oldest record when full. A record whose id is
// already present is ignored.
func (r *Ring) Add(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.records {
		if existing.ID == rec.ID {
			return
		}
	}
	if len(r.records) == r.size {
		r.records = r.records[:r.size-1]
	}
	r.records = append(r.records, Record{})
	copy(r.records[1:], r.records)
	r.records[0] = rec
}

// Recent returns up to n records, newest first. n <= 0 returns all of them.
func (r *Ring) Recent(n int) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > len(r.records) {
		n = len(r.records)
	}
	out := make([]Record, n)
	copy(out, r.records[:n])
	return out
}

// Len returns the number of records held
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Reset drops every record
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = r.records[:0]
}
