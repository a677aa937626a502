// Package cache stores resolved RR sets and negative answers until their
// TTL runs out. Entries are bounded in number; when full the entry closest
// to expiry is evicted.
package cache

import (
	"container/heap"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jmeaster30/simpledns/wire"
	"github.com/jonboulle/clockwork"
	"github.com/semihalev/zlog/v2"
)

var (
	// ErrCacheNotFound error.
	ErrCacheNotFound = errors.New("cache not found")
	// ErrCacheExpired error.
	ErrCacheExpired = errors.New("cache expired")
)

// WallClock is the clock new caches read time from.
var WallClock = clockwork.NewRealClock()

// Entry is a cached answer.
type Entry struct {
	Key       Key
	Answer    []wire.RR
	Authority []wire.RR
	Rcode     wire.Rcode
	Stored    time.Time
	Expiry    time.Time
}

// Negative reports whether the entry is an NXDOMAIN or no data answer.
func (e *Entry) Negative() bool {
	return len(e.Answer) == 0
}

// TTL returns the time left before expiry at now.
func (e *Entry) TTL(now time.Time) time.Duration {
	return e.Expiry.Sub(now)
}

type item struct {
	entry Entry
	hash  uint64
	index int
}

// Cache type
type Cache struct {
	mu sync.Mutex

	items map[uint64]*item
	queue expiryQueue

	size        int
	minTTL      time.Duration
	maxTTL      time.Duration
	negativeTTL time.Duration

	clock clockwork.Clock

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a cache.
type Option func(*Cache)

// WithTTL sets the clamp applied to every entry. min is raised to one second.
func WithTTL(min, max time.Duration) Option {
	return func(c *Cache) {
		if min < time.Second {
			min = time.Second
		}
		if max < min {
			max = min
		}
		c.minTTL, c.maxTTL = min, max
	}
}

// WithNegativeTTL sets the lifetime of negative answers that carry no SOA.
func WithNegativeTTL(d time.Duration) Option {
	return func(c *Cache) { c.negativeTTL = d }
}

// New returns a cache holding at most size entries.
func New(size int, opts ...Option) *Cache {
	if size < 1 {
		size = 1
	}

	c := &Cache{
		items:       make(map[uint64]*item, min(size, 4096)),
		size:        size,
		minTTL:      time.Second,
		maxTTL:      24 * time.Hour,
		negativeTTL: 5 * time.Minute,
		clock:       WallClock,
		stopCh:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get returns the entry for key with every record TTL set to the time left.
// Expired entries are removed on access. Hits and misses are counted.
func (c *Cache) Get(key Key) (*Entry, bool) {
	e, ok := c.lookup(key)
	if ok {
		cacheHits.Inc()
	} else {
		cacheMisses.Inc()
	}
	return e, ok
}

// Peek is Get without touching the hit and miss counters, for lookups the
// server makes on its own behalf.
func (c *Cache) Peek(key Key) (*Entry, bool) {
	return c.lookup(key)
}

func (c *Cache) lookup(key Key) (*Entry, bool) {
	now := c.clock.Now()
	h := key.Hash()

	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[h]
	if !ok || it.entry.Key != key {
		return nil, false
	}

	if !now.Before(it.entry.Expiry) {
		c.remove(it)
		return nil, false
	}

	return it.entry.aged(now), true
}

// aged copies e with the remaining lifetime written into every record.
func (e *Entry) aged(now time.Time) *Entry {
	left := uint32(e.Expiry.Sub(now) / time.Second)
	if left == 0 {
		left = 1
	}

	out := &Entry{
		Key:       e.Key,
		Answer:    wire.CopyRRs(e.Answer),
		Authority: wire.CopyRRs(e.Authority),
		Rcode:     e.Rcode,
		Stored:    e.Stored,
		Expiry:    e.Expiry,
	}
	for i := range out.Answer {
		out.Answer[i].TTL = left
	}
	for i := range out.Authority {
		out.Authority[i].TTL = left
	}

	return out
}

// Put caches an answer. Its lifetime is the smallest TTL of the records,
// clamped to the configured bounds. A set holding a zero TTL record is not
// cached. It reports whether the entry was stored.
func (c *Cache) Put(key Key, answer, authority []wire.RR, rcode wire.Rcode) bool {
	if len(answer) == 0 {
		return c.PutNegative(key, authority, rcode)
	}

	ttl, ok := minTTL(answer)
	if !ok {
		return false
	}

	return c.store(key, answer, authority, rcode, time.Duration(ttl)*time.Second)
}

// PutNegative caches an NXDOMAIN or no data answer. The lifetime comes from
// the SOA in authority, the lower of its TTL and minimum field, or the
// configured negative TTL when there is no SOA.
func (c *Cache) PutNegative(key Key, authority []wire.RR, rcode wire.Rcode) bool {
	// zero selects the negative TTL
	var ttl time.Duration

	for _, rr := range authority {
		soa, ok := rr.Data.(*wire.SOA)
		if !ok {
			continue
		}
		v := min(rr.TTL, soa.Minimum)
		if v == 0 {
			return false
		}
		ttl = time.Duration(v) * time.Second
		break
	}

	return c.store(key, nil, authority, rcode, ttl)
}

func minTTL(rrs []wire.RR) (uint32, bool) {
	ttl := rrs[0].TTL
	for _, rr := range rrs {
		if rr.TTL == 0 {
			return 0, false
		}
		ttl = min(ttl, rr.TTL)
	}
	return ttl, true
}

// clamp must be called with the lock held.
func (c *Cache) clamp(d time.Duration) time.Duration {
	if d == 0 {
		d = c.negativeTTL
	}
	return max(c.minTTL, min(d, c.maxTTL))
}

func (c *Cache) store(key Key, answer, authority []wire.RR, rcode wire.Rcode, ttl time.Duration) bool {
	now := c.clock.Now()

	e := Entry{
		Key:       key,
		Answer:    wire.CopyRRs(answer),
		Authority: wire.CopyRRs(authority),
		Rcode:     rcode,
		Stored:    now,
	}

	c.mu.Lock()
	e.Expiry = now.Add(c.clamp(ttl))
	c.insert(e, now)
	c.mu.Unlock()

	return true
}

// SetSize changes the capacity. Entries closest to expiry are evicted
// until the cache fits.
func (c *Cache) SetSize(size int) {
	if size < 1 {
		size = 1
	}

	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.size = size
	for len(c.items) > c.size {
		oldest := c.queue[0]
		if now.Before(oldest.entry.Expiry) {
			cacheEvictions.Inc()
		}
		c.remove(oldest)
	}
}

// SetTTL changes the clamp and the negative lifetime. Entries already
// stored keep their expiry.
func (c *Cache) SetTTL(minTTL, maxTTL, negative time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	WithTTL(minTTL, maxTTL)(c)
	if negative > 0 {
		c.negativeTTL = negative
	}
}

// insert must be called with the lock held.
func (c *Cache) insert(e Entry, now time.Time) {
	h := e.Key.Hash()

	if it, ok := c.items[h]; ok {
		it.entry = e
		heap.Fix(&c.queue, it.index)
		return
	}

	for len(c.items) >= c.size && c.queue.Len() > 0 {
		oldest := c.queue[0]
		if now.Before(oldest.entry.Expiry) {
			cacheEvictions.Inc()
		}
		c.remove(oldest)
	}

	it := &item{entry: e, hash: h}
	c.items[h] = it
	heap.Push(&c.queue, it)
	cacheSize.Set(float64(len(c.items)))
}

// remove must be called with the lock held.
func (c *Cache) remove(it *item) {
	heap.Remove(&c.queue, it.index)
	delete(c.items, it.hash)
	cacheSize.Set(float64(len(c.items)))
}

// Remove deletes the entry for key.
func (c *Cache) Remove(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[key.Hash()]
	if !ok || it.entry.Key != key {
		return false
	}

	c.remove(it)

	return true
}

// RemoveName deletes the entries of every type cached for name.
func (c *Cache) RemoveName(name string) int {
	name = wire.CanonicalName(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	var victims []*item
	for _, it := range c.items {
		if it.entry.Key.Name == name {
			victims = append(victims, it)
		}
	}
	for _, it := range victims {
		c.remove(it)
	}

	return len(victims)
}

// Flush empties the cache.
func (c *Cache) Flush() {
	c.mu.Lock()
	c.items = make(map[uint64]*item)
	c.queue = nil
	cacheSize.Set(0)
	c.mu.Unlock()
}

// Len returns the number of entries, expired ones not yet swept included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

// Entries returns the live entries sorted by name and type, with TTLs aged.
func (c *Cache) Entries() []*Entry {
	now := c.clock.Now()

	c.mu.Lock()
	out := make([]*Entry, 0, len(c.items))
	for _, it := range c.items {
		if now.Before(it.entry.Expiry) {
			out = append(out, it.entry.aged(now))
		}
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Name != out[j].Key.Name {
			return out[i].Key.Name < out[j].Key.Name
		}
		return out[i].Key.Type < out[j].Key.Type
	})

	return out
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for c.queue.Len() > 0 && !now.Before(c.queue[0].entry.Expiry) {
		c.remove(c.queue[0])
		n++
	}

	return n
}

// Start sweeps expired entries every interval until Stop.
func (c *Cache) Start(interval time.Duration) {
	ticker := c.clock.NewTicker(interval)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.Chan():
				if n := c.Sweep(); n > 0 {
					zlog.Debug("Expired cache entries swept", "count", n)
				}
			}
		}
	}()
}

// Stop ends the sweeper.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
