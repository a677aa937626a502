package cache

import (
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmeaster30/simpledns/wire"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, size int, opts ...Option) (*Cache, *clockwork.FakeClock) {
	t.Helper()

	fakeClock := clockwork.NewFakeClock()
	WallClock = fakeClock
	t.Cleanup(func() { WallClock = clockwork.NewRealClock() })

	return New(size, opts...), fakeClock
}

func a(name string, ttl uint32, addr string) wire.RR {
	return wire.RR{Name: name, Type: wire.TypeA, Class: wire.ClassINET, TTL: ttl, Data: &wire.A{Addr: netip.MustParseAddr(addr)}}
}

func soa(zone string, ttl, minimum uint32) wire.RR {
	return wire.RR{Name: zone, Type: wire.TypeSOA, Class: wire.ClassINET, TTL: ttl, Data: &wire.SOA{
		MName: "ns1." + zone, RName: "hostmaster." + zone, Serial: 1, Refresh: 3600, Retry: 600, Expire: 86400, Minimum: minimum,
	}}
}

func key(name string) Key {
	return KeyFor(name, wire.TypeA, wire.ClassINET)
}

func Test_CachePutGet(t *testing.T) {
	c, clock := newTestCache(t, 16)

	k := key("Example.COM.")
	assert.Equal(t, "example.com.", k.Name)

	ok := c.Put(k, []wire.RR{a("example.com.", 60, "192.0.2.1"), a("example.com.", 30, "192.0.2.2")}, nil, wire.RcodeSuccess)
	require.True(t, ok)

	e, found := c.Get(k)
	require.True(t, found)
	require.Len(t, e.Answer, 2)
	assert.Equal(t, uint32(30), e.Answer[0].TTL)
	assert.Equal(t, uint32(30), e.Answer[1].TTL)
	assert.False(t, e.Negative())

	clock.Advance(10 * time.Second)

	e, found = c.Get(k)
	require.True(t, found)
	assert.Equal(t, uint32(20), e.Answer[0].TTL)

	// entries are copies
	e.Answer[0].Data.(*wire.A).Addr = netip.MustParseAddr("10.0.0.1")
	e, _ = c.Get(k)
	assert.Equal(t, "192.0.2.1", e.Answer[0].Data.String())

	_, found = c.Get(key("missing.example."))
	assert.False(t, found)
}

func Test_CacheExpiry(t *testing.T) {
	c, clock := newTestCache(t, 16)

	k := key("expire.example.")
	require.True(t, c.Put(k, []wire.RR{a("expire.example.", 5, "192.0.2.1")}, nil, wire.RcodeSuccess))

	for i := 0; i < 4; i++ {
		clock.Advance(time.Second)
		_, found := c.Get(k)
		assert.True(t, found)
	}

	clock.Advance(time.Second)
	_, found := c.Get(k)
	assert.False(t, found)
	assert.Equal(t, 0, c.Len())

	// a second get after expiry stays a miss
	_, found = c.Get(k)
	assert.False(t, found)
}

func Test_CacheZeroTTLNotCached(t *testing.T) {
	c, _ := newTestCache(t, 16)

	k := key("zero.example.")
	ok := c.Put(k, []wire.RR{a("zero.example.", 60, "192.0.2.1"), a("zero.example.", 0, "192.0.2.2")}, nil, wire.RcodeSuccess)
	assert.False(t, ok)

	_, found := c.Get(k)
	assert.False(t, found)
}

func Test_CacheClamp(t *testing.T) {
	c, clock := newTestCache(t, 16, WithTTL(10*time.Second, time.Minute))

	low := key("low.example.")
	high := key("high.example.")
	require.True(t, c.Put(low, []wire.RR{a("low.example.", 2, "192.0.2.1")}, nil, wire.RcodeSuccess))
	require.True(t, c.Put(high, []wire.RR{a("high.example.", 86400, "192.0.2.1")}, nil, wire.RcodeSuccess))

	e, _ := c.Get(high)
	assert.Equal(t, uint32(60), e.Answer[0].TTL)

	clock.Advance(5 * time.Second)
	_, found := c.Get(low)
	assert.True(t, found)

	clock.Advance(5 * time.Second)
	_, found = c.Get(low)
	assert.False(t, found)

	clock.Advance(50 * time.Second)
	_, found = c.Get(high)
	assert.False(t, found)
}

func Test_CacheNegative(t *testing.T) {
	c, clock := newTestCache(t, 16, WithNegativeTTL(30*time.Second))

	nx := key("nx.example.")
	require.True(t, c.PutNegative(nx, []wire.RR{soa("example.", 3600, 20)}, wire.RcodeNameError))

	e, found := c.Get(nx)
	require.True(t, found)
	assert.True(t, e.Negative())
	assert.Equal(t, wire.RcodeNameError, e.Rcode)
	require.Len(t, e.Authority, 1)

	clock.Advance(20 * time.Second)
	_, found = c.Get(nx)
	assert.False(t, found)

	// without an SOA the configured negative ttl applies
	nodata := key("nodata.example.")
	require.True(t, c.Put(nodata, nil, nil, wire.RcodeSuccess))
	clock.Advance(29 * time.Second)
	_, found = c.Get(nodata)
	assert.True(t, found)
	clock.Advance(time.Second)
	_, found = c.Get(nodata)
	assert.False(t, found)

	assert.False(t, c.PutNegative(nx, []wire.RR{soa("example.", 0, 20)}, wire.RcodeNameError))
}

func Test_CacheEvictsEarliestExpiry(t *testing.T) {
	c, _ := newTestCache(t, 3)

	require.True(t, c.Put(key("a.example."), []wire.RR{a("a.example.", 300, "192.0.2.1")}, nil, wire.RcodeSuccess))
	require.True(t, c.Put(key("b.example."), []wire.RR{a("b.example.", 10, "192.0.2.2")}, nil, wire.RcodeSuccess))
	require.True(t, c.Put(key("c.example."), []wire.RR{a("c.example.", 100, "192.0.2.3")}, nil, wire.RcodeSuccess))
	require.True(t, c.Put(key("d.example."), []wire.RR{a("d.example.", 200, "192.0.2.4")}, nil, wire.RcodeSuccess))

	assert.Equal(t, 3, c.Len())

	_, found := c.Get(key("b.example."))
	assert.False(t, found)

	for _, name := range []string{"a.example.", "c.example.", "d.example."} {
		_, found := c.Get(key(name))
		assert.True(t, found, name)
	}

	// replacing an entry does not evict
	require.True(t, c.Put(key("a.example."), []wire.RR{a("a.example.", 5, "192.0.2.9")}, nil, wire.RcodeSuccess))
	assert.Equal(t, 3, c.Len())

	require.True(t, c.Put(key("e.example."), []wire.RR{a("e.example.", 500, "192.0.2.5")}, nil, wire.RcodeSuccess))
	_, found = c.Get(key("a.example."))
	assert.False(t, found)
}

func Test_CacheSweep(t *testing.T) {
	c, clock := newTestCache(t, 16)

	require.True(t, c.Put(key("short.example."), []wire.RR{a("short.example.", 5, "192.0.2.1")}, nil, wire.RcodeSuccess))
	require.True(t, c.Put(key("long.example."), []wire.RR{a("long.example.", 500, "192.0.2.1")}, nil, wire.RcodeSuccess))

	clock.Advance(10 * time.Second)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
}

func Test_CachePeekNotCounted(t *testing.T) {
	c, _ := newTestCache(t, 16)

	k := key("peek.example.")
	require.True(t, c.Put(k, []wire.RR{a("peek.example.", 60, "192.0.2.1")}, nil, wire.RcodeSuccess))

	hits := testutil.ToFloat64(cacheHits)
	misses := testutil.ToFloat64(cacheMisses)

	e, found := c.Peek(k)
	require.True(t, found)
	assert.Equal(t, "192.0.2.1", e.Answer[0].Data.String())

	_, found = c.Peek(key("other.example."))
	assert.False(t, found)

	assert.Equal(t, hits, testutil.ToFloat64(cacheHits))
	assert.Equal(t, misses, testutil.ToFloat64(cacheMisses))

	_, _ = c.Get(k)
	_, _ = c.Get(key("other.example."))

	assert.Equal(t, hits+1, testutil.ToFloat64(cacheHits))
	assert.Equal(t, misses+1, testutil.ToFloat64(cacheMisses))
}

func Test_CacheSetSize(t *testing.T) {
	c, _ := newTestCache(t, 4)

	for i, ttl := range []uint32{300, 10, 100, 200} {
		name := string(rune('a'+i)) + ".example."
		require.True(t, c.Put(key(name), []wire.RR{a(name, ttl, "192.0.2.1")}, nil, wire.RcodeSuccess))
	}

	c.SetSize(2)
	assert.Equal(t, 2, c.Len())

	for name, want := range map[string]bool{"a.example.": true, "b.example.": false, "c.example.": false, "d.example.": true} {
		_, found := c.Get(key(name))
		assert.Equal(t, want, found, name)
	}

	c.SetSize(3)
	require.True(t, c.Put(key("e.example."), []wire.RR{a("e.example.", 50, "192.0.2.5")}, nil, wire.RcodeSuccess))
	assert.Equal(t, 3, c.Len())
}

func Test_CacheSetTTL(t *testing.T) {
	c, clock := newTestCache(t, 16, WithTTL(time.Second, time.Hour))

	before := key("before.example.")
	require.True(t, c.Put(before, []wire.RR{a("before.example.", 600, "192.0.2.1")}, nil, wire.RcodeSuccess))

	c.SetTTL(30*time.Second, time.Minute, 10*time.Second)

	after := key("after.example.")
	require.True(t, c.Put(after, []wire.RR{a("after.example.", 600, "192.0.2.1")}, nil, wire.RcodeSuccess))
	short := key("short.example.")
	require.True(t, c.Put(short, []wire.RR{a("short.example.", 2, "192.0.2.1")}, nil, wire.RcodeSuccess))
	nodata := key("nodata.example.")
	require.True(t, c.PutNegative(nodata, nil, wire.RcodeSuccess))

	e, _ := c.Get(after)
	assert.Equal(t, uint32(60), e.Answer[0].TTL)

	// the minimum also lifts the negative lifetime
	clock.Advance(20 * time.Second)
	_, found := c.Get(short)
	assert.True(t, found)
	_, found = c.Get(nodata)
	assert.True(t, found)

	clock.Advance(50 * time.Second)
	_, found = c.Get(after)
	assert.False(t, found)

	e, found = c.Get(before)
	require.True(t, found)
	assert.Equal(t, uint32(530), e.Answer[0].TTL)
}

func Test_CacheRemoveAndFlush(t *testing.T) {
	c, _ := newTestCache(t, 16)

	require.True(t, c.Put(key("x.example."), []wire.RR{a("x.example.", 60, "192.0.2.1")}, nil, wire.RcodeSuccess))
	aaaa := KeyFor("x.example.", wire.TypeAAAA, wire.ClassINET)
	require.True(t, c.Put(aaaa, nil, nil, wire.RcodeSuccess))
	require.True(t, c.Put(key("y.example."), []wire.RR{a("y.example.", 60, "192.0.2.1")}, nil, wire.RcodeSuccess))

	assert.True(t, c.Remove(key("y.example.")))
	assert.False(t, c.Remove(key("y.example.")))

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, wire.TypeA, entries[0].Key.Type)
	assert.Equal(t, wire.TypeAAAA, entries[1].Key.Type)

	assert.Equal(t, 2, c.RemoveName("X.example"))
	assert.Equal(t, 0, c.Len())

	require.True(t, c.Put(key("z.example."), []wire.RR{a("z.example.", 60, "192.0.2.1")}, nil, wire.RcodeSuccess))
	c.Flush()
	assert.Equal(t, 0, c.Len())
	_, found := c.Get(key("z.example."))
	assert.False(t, found)
}

func Test_CacheSnapshotRoundTrip(t *testing.T) {
	c, clock := newTestCache(t, 16)

	require.True(t, c.Put(key("keep.example."), []wire.RR{a("keep.example.", 600, "192.0.2.1")}, nil, wire.RcodeSuccess))
	require.True(t, c.PutNegative(key("nx.example."), []wire.RR{soa("example.", 900, 900)}, wire.RcodeNameError))
	require.True(t, c.Put(key("soon.example."), []wire.RR{a("soon.example.", 30, "192.0.2.2")}, nil, wire.RcodeSuccess))

	path := filepath.Join(t.TempDir(), "cache.cbor")
	require.NoError(t, c.WriteFile(path))

	clock.Advance(60 * time.Second)

	restored := New(16)
	n, err := restored.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	e, found := restored.Get(key("keep.example."))
	require.True(t, found)
	assert.Equal(t, uint32(540), e.Answer[0].TTL)
	assert.Equal(t, "192.0.2.1", e.Answer[0].Data.String())

	e, found = restored.Get(key("nx.example."))
	require.True(t, found)
	assert.Equal(t, wire.RcodeNameError, e.Rcode)
	assert.Equal(t, uint32(900), e.Authority[0].Data.(*wire.SOA).Minimum)

	_, found = restored.Get(key("soon.example."))
	assert.False(t, found)
}

func Test_CacheReadFileMissing(t *testing.T) {
	c, _ := newTestCache(t, 16)

	n, err := c.ReadFile(filepath.Join(t.TempDir(), "none.cbor"))
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func Test_KeyHash(t *testing.T) {
	k1 := Key{Name: "Example.com.", Type: wire.TypeA, Class: wire.ClassINET}
	k2 := Key{Name: "example.com.", Type: wire.TypeA, Class: wire.ClassINET}
	k3 := Key{Name: "example.com.", Type: wire.TypeAAAA, Class: wire.ClassINET}

	assert.Equal(t, k1.Hash(), k2.Hash())
	assert.NotEqual(t, k2.Hash(), k3.Hash())
	assert.Equal(t, k2, NewKey(wire.Question{Name: "EXAMPLE.com", Type: wire.TypeA, Class: wire.ClassINET}))
}

func BenchmarkCachePutGet(b *testing.B) {
	c := New(1024)
	rr := []wire.RR{a("bench.example.", 300, "192.0.2.1")}
	k := key("bench.example.")

	b.ReportAllocs()
	for n := 0; n < b.N; n++ {
		c.Put(k, rr, nil, wire.RcodeSuccess)
		c.Get(k)
	}
}
