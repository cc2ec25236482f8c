package cache

import (
	"encoding/json"
	"sort"
	"time"
)

// timestamped is implemented by the values held in a boundedMap.
type timestamped interface {
	storedAt() time.Time
	// lifetime returns the entry's own TTL, or 0 to use the map default
	lifetime() time.Duration
}

// AccessRecord is the LRU bookkeeping kept for every cached key.
type AccessRecord struct {
	LastAccess  time.Time `json:"last_access"`
	AccessCount int64     `json:"access_count"`
	seq         uint64
}

// pair is the on-disk form of one map entry. Maps are persisted as an ordered
// list of pairs, least recently used first.
type pair[V any] struct {
	Key   string `json:"key"`
	Value V      `json:"value"`
}

type lookup int

const (
	lookupAbsent lookup = iota
	lookupHit
	lookupExpired
)

// boundedMap is a TTL + LRU map. values and access always hold the same key
// set; every mutation touches both. Not safe for concurrent use.
type boundedMap[V timestamped] struct {
	values map[string]V
	access map[string]*AccessRecord
	ttl    time.Duration
	seq    uint64
}

func newBoundedMap[V timestamped](ttl time.Duration) *boundedMap[V] {
	return &boundedMap[V]{
		values: make(map[string]V),
		access: make(map[string]*AccessRecord),
		ttl:    ttl,
	}
}

func (m *boundedMap[V]) expired(v V, now time.Time) bool {
	ttl := v.lifetime()
	if ttl <= 0 {
		ttl = m.ttl
	}
	return ttl > 0 && now.Sub(v.storedAt()) > ttl
}

func (m *boundedMap[V]) touch(key string, now time.Time) {
	m.seq++
	rec, ok := m.access[key]
	if !ok {
		rec = &AccessRecord{}
		m.access[key] = rec
	}
	rec.LastAccess = now
	rec.AccessCount++
	rec.seq = m.seq
}

// get returns the value on a hit and records the access. An expired entry
// is removed and reported as lookupExpired.
func (m *boundedMap[V]) get(key string, now time.Time) (V, lookup) {
	v, ok := m.values[key]
	if !ok {
		var zero V
		return zero, lookupAbsent
	}
	if m.expired(v, now) {
		m.remove(key)
		var zero V
		return zero, lookupExpired
	}
	m.touch(key, now)
	return v, lookupHit
}

// peek reports whether a live entry exists without touching it.
func (m *boundedMap[V]) peek(key string, now time.Time) bool {
	v, ok := m.values[key]
	return ok && !m.expired(v, now)
}

func (m *boundedMap[V]) put(key string, v V, now time.Time) {
	m.values[key] = v
	m.touch(key, now)
}

func (m *boundedMap[V]) remove(key string) {
	delete(m.values, key)
	delete(m.access, key)
}

func (m *boundedMap[V]) clear() int {
	n := len(m.values)
	m.values = make(map[string]V)
	m.access = make(map[string]*AccessRecord)
	return n
}

func (m *boundedMap[V]) len() int {
	return len(m.values)
}

// removeExpired drops every entry past its TTL.
func (m *boundedMap[V]) removeExpired(now time.Time) int {
	removed := 0
	for key, v := range m.values {
		if m.expired(v, now) {
			m.remove(key)
			removed++
		}
	}
	return removed
}

// lruOrder returns keys least recently accessed first. Ties on LastAccess are
// broken by access sequence, i.e. the order entries were touched.
func (m *boundedMap[V]) lruOrder() []string {
	keys := make([]string, 0, len(m.access))
	for key := range m.access {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := m.access[keys[i]], m.access[keys[j]]
		if !a.LastAccess.Equal(b.LastAccess) {
			return a.LastAccess.Before(b.LastAccess)
		}
		return a.seq < b.seq
	})
	return keys
}

// evictToLimit removes least recently accessed entries until at most limit
// remain and returns the evicted keys.
func (m *boundedMap[V]) evictToLimit(limit int) []string {
	if limit < 0 {
		limit = 0
	}
	over := len(m.values) - limit
	if over <= 0 {
		return nil
	}
	evicted := m.lruOrder()[:over]
	for _, key := range evicted {
		m.remove(key)
	}
	return evicted
}

// evictFraction removes the oldest ceil(len*fraction) entries.
func (m *boundedMap[V]) evictFraction(fraction float64) int {
	n := len(m.values)
	if n == 0 || fraction <= 0 {
		return 0
	}
	remove := int(float64(n)*fraction + 0.999999)
	if remove > n {
		remove = n
	}
	return len(m.evictToLimit(n - remove))
}

// pairs snapshots the map in LRU order for persistence.
func (m *boundedMap[V]) pairs() []pair[V] {
	order := m.lruOrder()
	out := make([]pair[V], 0, len(order))
	for _, key := range order {
		out = append(out, pair[V]{Key: key, Value: m.values[key]})
	}
	return out
}

// load replaces the contents with persisted pairs. Entries that fail valid,
// are expired or have an empty key are dropped. Access records restart at the
// entry timestamp; equal timestamps keep the persisted order.
func (m *boundedMap[V]) load(pairs []pair[V], now time.Time, valid func(V) bool) (kept, dropped int) {
	m.clear()
	for _, p := range pairs {
		if p.Key == "" || !valid(p.Value) || m.expired(p.Value, now) {
			dropped++
			continue
		}
		m.values[p.Key] = p.Value
		m.touch(p.Key, p.Value.storedAt())
		m.access[p.Key].AccessCount = 0
		kept++
	}
	return kept, dropped
}

// estimateBytes sums serialized key and value lengths, doubled to
// approximate UTF-16 storage.
func (m *boundedMap[V]) estimateBytes() int64 {
	var total int64
	for key, v := range m.values {
		raw, err := json.Marshal(v)
		if err != nil {
			continue
		}
		total += int64(len(key) + len(raw))
	}
	return total * 2
}

// accessRecord returns a copy of the access record for key.
func (m *boundedMap[V]) accessRecord(key string) (AccessRecord, bool) {
	rec, ok := m.access[key]
	if !ok {
		return AccessRecord{}, false
	}
	return *rec, true
}

// inLockstep reports whether values and access hold exactly the same keys.
func (m *boundedMap[V]) inLockstep() bool {
	if len(m.values) != len(m.access) {
		return false
	}
	for key := range m.values {
		if _, ok := m.access[key]; !ok {
			return false
		}
	}
	return true
}
