package identity

import (
	"maps"
	"sort"
	"sync"
)

// Record is a shallow key/value description of a user or group.
type Record map[string]string

// Clone returns an independent copy.
func (r Record) Clone() Record {
	if r == nil {
		return Record{}
	}
	return maps.Clone(r)
}

// Kind names one of the three cache maps.
type Kind string

const (
	KindFriend Kind = "friend"
	KindGroup  Kind = "group"
	KindMember Kind = "member"
)

// Persister receives every merged record. Errors are reported by the
// persister itself; the cache never fails an upsert. Calls are made under
// the cache lock, in merge order, so a Persister must not call back into
// the cache.
type Persister interface {
	SaveRecord(accountID string, kind Kind, groupID, id string, rec Record)
	DeleteRecord(accountID string, kind Kind, groupID, id string)
}

// Cache holds the identity maps of one bot account.
type Cache struct {
	accountID string
	persist   Persister

	mu      sync.RWMutex
	friends map[string]Record
	groups  map[string]Record
	members map[string]map[string]Record
}

func newCache(accountID string, persist Persister) *Cache {
	return &Cache{
		accountID: accountID,
		persist:   persist,
		friends:   make(map[string]Record),
		groups:    make(map[string]Record),
		members:   make(map[string]map[string]Record),
	}
}

func (c *Cache) AccountID() string { return c.accountID }

// UpsertFriend merges rec into the friend record for id. Fields in rec
// overwrite, all others are kept. It returns the merged copy.
func (c *Cache) UpsertFriend(id string, rec Record) Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := merge(c.friends, id, rec)
	c.save(KindFriend, "", id, merged)
	return merged
}

func (c *Cache) UpsertGroup(id string, rec Record) Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := merge(c.groups, id, rec)
	c.save(KindGroup, "", id, merged)
	return merged
}

func (c *Cache) UpsertMember(groupID, userID string, rec Record) Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.members[groupID]
	if !ok {
		m = make(map[string]Record)
		c.members[groupID] = m
	}
	merged := merge(m, userID, rec)
	c.save(KindMember, groupID, userID, merged)
	return merged
}

func (c *Cache) Friend(id string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.friends[id]
	return rec.Clone(), ok
}

func (c *Cache) Group(id string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.groups[id]
	return rec.Clone(), ok
}

func (c *Cache) Member(groupID, userID string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.members[groupID][userID]
	return rec.Clone(), ok
}

// FriendIDs lists cached friend ids in sorted order.
func (c *Cache) FriendIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.friends)
}

func (c *Cache) GroupIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.groups)
}

func (c *Cache) MemberIDs(groupID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.members[groupID])
}

func (c *Cache) RemoveFriend(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.friends, id)
	if c.persist != nil {
		c.persist.DeleteRecord(c.accountID, KindFriend, "", id)
	}
}

// RemoveGroup drops the group and its member map.
func (c *Cache) RemoveGroup(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.groups, id)
	delete(c.members, id)
	if c.persist != nil {
		c.persist.DeleteRecord(c.accountID, KindGroup, "", id)
	}
}

func (c *Cache) RemoveMember(groupID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members[groupID], userID)
	if c.persist != nil {
		c.persist.DeleteRecord(c.accountID, KindMember, groupID, userID)
	}
}

// load puts a persisted record back without writing it through again.
func (c *Cache) load(kind Kind, groupID, id string, rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case KindFriend:
		merge(c.friends, id, rec)
	case KindGroup:
		merge(c.groups, id, rec)
	case KindMember:
		m, ok := c.members[groupID]
		if !ok {
			m = make(map[string]Record)
			c.members[groupID] = m
		}
		merge(m, id, rec)
	}
}

func (c *Cache) save(kind Kind, groupID, id string, rec Record) {
	if c.persist != nil {
		c.persist.SaveRecord(c.accountID, kind, groupID, id, rec)
	}
}

func merge(m map[string]Record, id string, rec Record) Record {
	cur, ok := m[id]
	if !ok {
		cur = make(Record, len(rec))
		m[id] = cur
	}
	for k, v := range rec {
		cur[k] = v
	}
	return cur.Clone()
}

func sortedKeys(m map[string]Record) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Caches owns the per-account caches and creates them on first use.
type Caches struct {
	persist Persister

	mu       sync.Mutex
	accounts map[string]*Cache
}

func NewCaches(persist Persister) *Caches {
	return &Caches{persist: persist, accounts: make(map[string]*Cache)}
}

// Account returns the cache for accountID, creating it lazily.
func (c *Caches) Account(accountID string) *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	cache, ok := c.accounts[accountID]
	if !ok {
		cache = newCache(accountID, c.persist)
		c.accounts[accountID] = cache
	}
	return cache
}

// Remove drops the whole cache of an account.
func (c *Caches) Remove(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.accounts, accountID)
}
