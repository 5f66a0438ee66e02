package dedup

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDeduper(ttl time.Duration, max int) (*Deduper, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	d := New(ttl, max)
	d.now = c.now
	return d, c
}

func TestShouldProcess(t *testing.T) {
	d, c := newTestDeduper(time.Minute, 10)

	if !d.ShouldProcess("a") {
		t.Fatal("first a rejected")
	}
	if d.ShouldProcess("a") {
		t.Fatal("duplicate a accepted")
	}
	if !d.ShouldProcess("b") {
		t.Fatal("b rejected")
	}

	c.advance(time.Minute)
	if !d.ShouldProcess("a") {
		t.Fatal("a rejected after ttl")
	}
}

func TestEmptyIDAlwaysProcessed(t *testing.T) {
	d, _ := newTestDeduper(time.Minute, 10)
	for i := 0; i < 3; i++ {
		if !d.ShouldProcess("") {
			t.Fatalf("empty id rejected on call %d", i)
		}
	}
	if d.Len() != 0 {
		t.Fatalf("len=%d want 0", d.Len())
	}
}

func TestEvictionKeepsBound(t *testing.T) {
	d, c := newTestDeduper(time.Hour, 2)

	d.ShouldProcess("a")
	c.advance(time.Second)
	d.ShouldProcess("b")
	c.advance(time.Second)
	d.ShouldProcess("c")

	if d.Len() != 2 {
		t.Fatalf("len=%d want 2", d.Len())
	}
	// a expires first, so it is the one evicted
	if !d.ShouldProcess("a") {
		t.Fatal("a still remembered after eviction")
	}
	if d.ShouldProcess("c") {
		t.Fatal("c forgotten")
	}
}

func TestReAddedKeySurvivesStaleEntry(t *testing.T) {
	d, c := newTestDeduper(time.Minute, 3)

	d.ShouldProcess("a")
	c.advance(2 * time.Minute)
	// a expired and comes back with a fresh expiry
	if !d.ShouldProcess("a") {
		t.Fatal("expired a not processed")
	}
	d.ShouldProcess("b")
	d.ShouldProcess("c")

	if d.ShouldProcess("a") {
		t.Fatal("fresh a evicted through its stale entry")
	}
	if d.Len() != 3 {
		t.Fatalf("len=%d want 3", d.Len())
	}
}

func TestEvictionQueueStaysBounded(t *testing.T) {
	d, c := newTestDeduper(time.Hour, 100)
	for i := 0; i < 10000; i++ {
		d.ShouldProcess(PayloadKey([]byte{byte(i), byte(i >> 8)}))
		c.advance(time.Millisecond)
	}
	if d.Len() != 100 {
		t.Fatalf("len=%d want 100", d.Len())
	}
	if len(d.order) != 100 {
		t.Fatalf("queue=%d want 100", len(d.order))
	}
}

func TestPayloadKey(t *testing.T) {
	a := PayloadKey([]byte(`{"action":"reboot"}`))
	b := PayloadKey([]byte(`{"action":"reboot"}`))
	c := PayloadKey([]byte(`{"action":"shutdown"}`))
	if a != b {
		t.Fatal("same payload, different keys")
	}
	if a == c {
		t.Fatal("different payloads, same key")
	}
	if len(a) != 64 {
		t.Fatalf("key length=%d want 64", len(a))
	}
}
