package cache

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/juju/clock"
)

const (
	DefaultCapacity = 1024
	DefaultTTL      = 60 * time.Second
)

type localEntry struct {
	value   []byte
	expires time.Time
}

// Local is the bounded in-process tier. The LRU evicts by capacity and by
// its own maximum age; each entry additionally carries the expiry of the
// Set call that stored it.
type Local struct {
	lru   *expirable.LRU[string, localEntry]
	clock clock.Clock
}

// NewLocal creates a local tier holding at most capacity entries for at most maxTTL
func NewLocal(capacity int, maxTTL time.Duration, clk clock.Clock) *Local {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if maxTTL <= 0 {
		maxTTL = DefaultTTL
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Local{
		lru:   expirable.NewLRU[string, localEntry](capacity, nil, maxTTL),
		clock: clk,
	}
}

func (l *Local) Get(key string) ([]byte, bool) {
	entry, ok := l.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !l.clock.Now().Before(entry.expires) {
		l.lru.Remove(key)
		return nil, false
	}
	return entry.value, true
}

func (l *Local) Set(key string, value []byte, ttl time.Duration) {
	l.lru.Add(key, localEntry{value: value, expires: l.clock.Now().Add(ttl)})
}

// DeletePrefix removes every key starting with prefix and reports how many were removed
func (l *Local) DeletePrefix(prefix string) int {
	removed := 0
	for _, key := range l.lru.Keys() {
		if strings.HasPrefix(key, prefix) && l.lru.Remove(key) {
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, including ones whose own expiry has passed
func (l *Local) Len() int {
	return l.lru.Len()
}
