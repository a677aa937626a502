package cache

import (
	"context"
	"testing"

	rrcache "github.com/jmeaster30/simpledns/cache"
	"github.com/jmeaster30/simpledns/middleware"
	"github.com/jmeaster30/simpledns/mock"
	"github.com/jmeaster30/simpledns/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upstream struct {
	calls int
	rcode wire.Rcode
	rrs   []wire.RR
	auth  []wire.RR
}

func (u *upstream) Name() string { return "upstream" }

func (u *upstream) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	u.calls++

	m := new(wire.Message).SetRcode(ch.Request, u.rcode)
	m.RecursionAvailable = true
	m.Answer = u.rrs
	m.Authority = u.auth

	_ = ch.Writer.WriteMsg(m)
}

func query(t *testing.T, handlers []middleware.Handler, name string, qtype wire.Type) *mock.Writer {
	t.Helper()

	ch := middleware.NewChain(handlers)
	mw := mock.NewWriter("udp", "127.0.0.1:0")
	req := new(wire.Message).SetQuestion(name, qtype)
	req.ID = 900

	ch.Reset(mw, req)
	ch.Next(context.Background())

	require.True(t, mw.Written())
	assert.Equal(t, uint16(900), mw.Msg().ID)

	return mw
}

func Test_CacheFillAndHit(t *testing.T) {
	c := rrcache.New(16)
	u := &upstream{rrs: []wire.RR{mock.RR("www.example.com. 300 IN A 93.184.216.34")}}
	handlers := []middleware.Handler{New(c), u}

	assert.Equal(t, "cache", New(c).Name())

	mw := query(t, handlers, "www.example.com.", wire.TypeA)
	assert.Equal(t, 1, u.calls)
	require.Len(t, mw.Msg().Answer, 1)

	mw = query(t, handlers, "WWW.example.com.", wire.TypeA)
	assert.Equal(t, 1, u.calls)
	assert.True(t, mw.Msg().RecursionAvailable)
	assert.False(t, mw.Msg().Authoritative)
	require.Len(t, mw.Msg().Answer, 1)
	assert.Equal(t, "93.184.216.34", mw.Msg().Answer[0].Data.String())
	assert.LessOrEqual(t, mw.Msg().Answer[0].TTL, uint32(300))
	assert.Equal(t, "WWW.example.com.", mw.Msg().Question[0].Name)

	// a different type is a different entry
	query(t, handlers, "www.example.com.", wire.TypeAAAA)
	assert.Equal(t, 2, u.calls)
}

func Test_CacheNegative(t *testing.T) {
	c := rrcache.New(16)
	soa := mock.RR("example.com. 300 IN SOA ns1.example.com. admin.example.com. 1 7200 3600 1209600 300")
	u := &upstream{rcode: wire.RcodeNameError, auth: []wire.RR{soa}}
	handlers := []middleware.Handler{New(c), u}

	query(t, handlers, "missing.example.com.", wire.TypeA)
	mw := query(t, handlers, "missing.example.com.", wire.TypeA)

	assert.Equal(t, 1, u.calls)
	assert.Equal(t, wire.RcodeNameError, mw.Rcode())
	require.Len(t, mw.Msg().Authority, 1)
	assert.Equal(t, wire.TypeSOA, mw.Msg().Authority[0].Type)
}

func Test_CacheSkipsFailures(t *testing.T) {
	c := rrcache.New(16)
	u := &upstream{rcode: wire.RcodeServerFailure}
	handlers := []middleware.Handler{New(c), u}

	query(t, handlers, "broken.example.com.", wire.TypeA)
	mw := query(t, handlers, "broken.example.com.", wire.TypeA)

	assert.Equal(t, 2, u.calls)
	assert.Equal(t, wire.RcodeServerFailure, mw.Rcode())
	assert.Equal(t, 0, c.Len())
}

func Test_CacheSkipsZeroTTL(t *testing.T) {
	c := rrcache.New(16)
	u := &upstream{rrs: []wire.RR{mock.RR("volatile.example.com. 0 IN A 192.0.2.1")}}
	handlers := []middleware.Handler{New(c), u}

	query(t, handlers, "volatile.example.com.", wire.TypeA)
	query(t, handlers, "volatile.example.com.", wire.TypeA)

	assert.Equal(t, 2, u.calls)
}
