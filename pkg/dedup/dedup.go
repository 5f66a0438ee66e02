// Package dedup filters QoS1 redeliveries of commands.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Deduper remembers keys for ttl. At most max keys are kept; when full the
// oldest one is forgotten.
type Deduper struct {
	mu    sync.Mutex
	ttl   time.Duration
	max   int
	seen  map[string]time.Time
	order []entry // insertion order, which is expiry order since ttl is fixed
	now   func() time.Time
}

type entry struct {
	key string
	exp time.Time
}

func New(ttl time.Duration, max int) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Deduper{ttl: ttl, max: max, seen: make(map[string]time.Time, max), now: time.Now}
}

// PayloadKey is the key used for messages without an explicit id.
func PayloadKey(payload []byte) string {
	h := sha256.Sum256(payload)
	return hex.EncodeToString(h[:])
}

// ShouldProcess reports whether id is seen for the first time within ttl.
// An empty id is always processed.
func (d *Deduper) ShouldProcess(id string) bool {
	if id == "" {
		return true
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false
	}
	exp := now.Add(d.ttl)
	d.seen[id] = exp
	d.order = append(d.order, entry{key: id, exp: exp})
	d.evict(now)
	return true
}

// Len returns the number of remembered keys.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// evict pops from the front of order while the front is expired, stale or
// over the bound. Each entry is popped once.
func (d *Deduper) evict(now time.Time) {
	for len(d.order) > 0 {
		e := d.order[0]
		exp, ok := d.seen[e.key]
		switch {
		case !ok || !exp.Equal(e.exp):
			// key was re-added later, the newer entry owns it
		case !now.Before(e.exp) || len(d.seen) > d.max:
			delete(d.seen, e.key)
		default:
			return
		}
		d.order = d.order[1:]
	}
}
