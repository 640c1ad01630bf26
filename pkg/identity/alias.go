package identity

import (
	"context"
	"sync"
)

// AliasResolver maps a custom user id to the id the platform knows.
type AliasResolver interface {
	Resolve(ctx context.Context, id string) string
}

// AliasCache is the process-wide custom id table. Writes are last-write-wins.
type AliasCache struct {
	mu      sync.RWMutex
	aliases map[string]string
}

func NewAliasCache() *AliasCache {
	return &AliasCache{aliases: make(map[string]string)}
}

// Set records that custom stands for real.
func (a *AliasCache) Set(custom, real string) {
	if custom == "" || real == "" || custom == real {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aliases[custom] = real
}

// Resolve returns the real id for id, or id itself when no alias is known.
func (a *AliasCache) Resolve(_ context.Context, id string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if real, ok := a.aliases[id]; ok {
		return real
	}
	return id
}

func (a *AliasCache) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.aliases)
}

// StaticFinder looks up custom ids in a fixed table keyed by composite id.
type StaticFinder map[string]string

func (f StaticFinder) FindUserID(_ context.Context, userID string) (string, bool) {
	custom, ok := f[userID]
	return custom, ok
}
