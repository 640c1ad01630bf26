// Package callback correlates server-side button clicks with the message and
// text that produced the button.
package callback

import (
	"sync"
	"time"
)

// IDList collects message ids delivered by one outbound call. The same list
// is shared by every callback entry created while composing that call, so a
// later click can quote the messages that carried the button.
type IDList struct {
	mu  sync.Mutex
	ids []string
}

func (l *IDList) Append(ids ...string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			l.ids = append(l.ids, id)
		}
	}
}

// IDs returns a copy of the collected ids.
func (l *IDList) IDs() []string {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ids...)
}

// Entry is the context recorded for one callback button.
type Entry struct {
	ButtonID        string
	AccountID       string
	SourceMessageID string
	UserID          string
	GroupID         string
	ReplyText       string
	ReplyTo         *IDList
	CreatedAt       time.Time
}

// Registry maps button ids to entries. Entries live until Evict, or until
// the TTL passes when one is configured.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
}

type Option func(*Registry)

// WithTTL expires entries older than ttl. Zero keeps entries forever.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{entries: make(map[string]Entry), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores the entry under its ButtonID.
func (r *Registry) Register(entry Entry) {
	if entry.ButtonID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}
	r.entries[entry.ButtonID] = entry
}

// Lookup returns the entry for buttonID. Expired entries are dropped and
// reported as missing.
func (r *Registry) Lookup(buttonID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[buttonID]
	if !ok {
		return Entry{}, false
	}
	if r.expired(entry) {
		delete(r.entries, buttonID)
		return Entry{}, false
	}
	return entry, true
}

func (r *Registry) Evict(buttonID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, buttonID)
}

// Sweep removes expired entries and returns how many were dropped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ttl <= 0 {
		return 0
	}
	n := 0
	for id, entry := range r.entries {
		if r.expired(entry) {
			delete(r.entries, id)
			n++
		}
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) expired(entry Entry) bool {
	return r.ttl > 0 && r.now().Sub(entry.CreatedAt) > r.ttl
}
