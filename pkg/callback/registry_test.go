package callback

import (
	"testing"
	"time"
)

func TestRegisterLookupEvict(t *testing.T) {
	r := NewRegistry()
	replyTo := &IDList{}
	r.Register(Entry{ButtonID: "b1", SourceMessageID: "m1", ReplyText: "hi", ReplyTo: replyTo})

	replyTo.Append("d1", "", "d2")

	got, ok := r.Lookup("b1")
	if !ok {
		t.Fatal("expected entry b1")
	}
	if got.ReplyText != "hi" || got.SourceMessageID != "m1" {
		t.Fatalf("entry = %+v", got)
	}
	ids := got.ReplyTo.IDs()
	if len(ids) != 2 || ids[0] != "d1" || ids[1] != "d2" {
		t.Fatalf("ReplyTo = %v, want [d1 d2]", ids)
	}

	// Lookups do not consume the entry.
	if _, ok := r.Lookup("b1"); !ok {
		t.Fatal("expected entry to survive lookup")
	}

	r.Evict("b1")
	if _, ok := r.Lookup("b1"); ok {
		t.Fatal("expected entry to be evicted")
	}
}

func TestRegisterIgnoresEmptyID(t *testing.T) {
	r := NewRegistry()
	r.Register(Entry{ReplyText: "x"})
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}

func TestTTLExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewRegistry(WithTTL(time.Minute), WithClock(func() time.Time { return now }))
	r.Register(Entry{ButtonID: "old"})
	now = now.Add(30 * time.Second)
	r.Register(Entry{ButtonID: "new"})

	now = now.Add(45 * time.Second)
	if _, ok := r.Lookup("old"); ok {
		t.Fatal("expected old entry to expire")
	}
	if _, ok := r.Lookup("new"); !ok {
		t.Fatal("expected new entry to survive")
	}

	now = now.Add(time.Hour)
	if n := r.Sweep(); n != 1 {
		t.Fatalf("Sweep = %d, want 1", n)
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}

func TestZeroTTLKeepsForever(t *testing.T) {
	now := time.Unix(0, 0)
	r := NewRegistry(WithClock(func() time.Time { return now }))
	r.Register(Entry{ButtonID: "b"})
	now = now.Add(24 * 365 * time.Hour)
	if _, ok := r.Lookup("b"); !ok {
		t.Fatal("expected entry without TTL to persist")
	}
	if n := r.Sweep(); n != 0 {
		t.Fatalf("Sweep = %d, want 0", n)
	}
}

func TestNilIDList(t *testing.T) {
	var l *IDList
	l.Append("x")
	if ids := l.IDs(); ids != nil {
		t.Fatalf("IDs = %v, want nil", ids)
	}
}
