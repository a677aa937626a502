package override

import (
	"context"
	"testing"

	"github.com/jmeaster30/simpledns/cache"
	"github.com/jmeaster30/simpledns/config"
	"github.com/jmeaster30/simpledns/middleware"
	"github.com/jmeaster30/simpledns/mock"
	"github.com/jmeaster30/simpledns/records"
	"github.com/jmeaster30/simpledns/resolver"
	"github.com/jmeaster30/simpledns/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type next struct{ called bool }

func (n *next) Name() string { return "next" }

func (n *next) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	n.called = true
	_ = ch.Writer.WriteMsg(new(wire.Message).SetRcode(ch.Request, wire.RcodeRefused))
}

type fakeResolver struct {
	answer *resolver.Answer
	err    error
	calls  int
}

func (f *fakeResolver) Resolve(ctx context.Context, q wire.Question) (*resolver.Answer, error) {
	f.calls++
	return f.answer, f.err
}

func newStore(t *testing.T, rules ...records.Rule) *records.Store {
	t.Helper()

	s := records.NewStore()
	require.NoError(t, s.Reload(rules))
	return s
}

func serve(t *testing.T, o *Override, name string, qtype wire.Type) (*mock.Writer, *next) {
	t.Helper()

	n := &next{}
	ch := middleware.NewChain([]middleware.Handler{o, n})

	req := new(wire.Message).SetQuestion(name, qtype)
	req.ID = 77

	mw := mock.NewWriter("udp", "192.168.1.50:4000")
	ch.Reset(mw, req)
	ch.Next(context.Background())

	require.True(t, mw.Written())
	assert.Equal(t, uint16(77), mw.Msg().ID)

	return mw, n
}

func Test_OverrideRecord(t *testing.T) {
	store := newStore(t,
		records.Exact{Record: mock.RR("nas.home. 300 IN A 192.168.1.10")},
		records.Exact{Record: mock.RR("*.lab.home. 300 IN A 192.168.2.1")},
	)
	o := New(config.Default(), store, nil, nil)
	assert.Equal(t, "override", o.Name())

	mw, n := serve(t, o, "nas.home.", wire.TypeA)
	assert.False(t, n.called)
	assert.True(t, mw.Msg().Authoritative)
	assert.True(t, mw.Msg().RecursionAvailable)
	require.Len(t, mw.Msg().Answer, 1)
	assert.Equal(t, "192.168.1.10", mw.Msg().Answer[0].Data.String())

	mw, _ = serve(t, o, "box.lab.home.", wire.TypeA)
	require.Len(t, mw.Msg().Answer, 1)
	assert.Equal(t, "box.lab.home.", mw.Msg().Answer[0].Name)

	// existing name without the type
	mw, n = serve(t, o, "nas.home.", wire.TypeAAAA)
	assert.False(t, n.called)
	assert.Equal(t, wire.RcodeSuccess, mw.Rcode())
	assert.Empty(t, mw.Msg().Answer)
}

func Test_OverrideMiss(t *testing.T) {
	o := New(config.Default(), newStore(t), nil, nil)

	mw, n := serve(t, o, "example.com.", wire.TypeA)
	assert.True(t, n.called)
	assert.Equal(t, wire.RcodeRefused, mw.Rcode())
}

func Test_OverrideBlocked(t *testing.T) {
	store := newStore(t,
		records.NameBlock{Name: "ads.example.", Action: records.ActionNXDomain},
		records.RegexBlock{Pattern: `(.*\.)?tracker\.example`, Action: records.ActionNullAddress},
	)
	o := New(config.Default(), store, nil, nil)

	mw, n := serve(t, o, "ads.example.", wire.TypeA)
	assert.False(t, n.called)
	assert.Equal(t, wire.RcodeNameError, mw.Rcode())
	assert.True(t, mw.Msg().Authoritative)
	assert.Empty(t, mw.Msg().Answer)

	mw, _ = serve(t, o, "a.tracker.example.", wire.TypeA)
	assert.Equal(t, wire.RcodeSuccess, mw.Rcode())
	require.Len(t, mw.Msg().Answer, 1)
	assert.Equal(t, "0.0.0.0", mw.Msg().Answer[0].Data.String())

	mw, _ = serve(t, o, "a.tracker.example.", wire.TypeAAAA)
	require.Len(t, mw.Msg().Answer, 1)
	assert.Equal(t, "::", mw.Msg().Answer[0].Data.String())

	mw, _ = serve(t, o, "a.tracker.example.", wire.TypeMX)
	assert.Equal(t, wire.RcodeSuccess, mw.Rcode())
	assert.Empty(t, mw.Msg().Answer)
}

func Test_OverrideCustomNullroute(t *testing.T) {
	cfg := config.Default()
	cfg.Nullroute = "192.168.1.254"

	store := newStore(t, records.NameBlock{Name: "ads.example.", Action: records.ActionNullAddress})
	o := New(cfg, store, nil, nil)

	mw, _ := serve(t, o, "ads.example.", wire.TypeA)
	require.Len(t, mw.Msg().Answer, 1)
	assert.Equal(t, "192.168.1.254", mw.Msg().Answer[0].Data.String())
}

func Test_OverrideAliasInStore(t *testing.T) {
	store := newStore(t,
		records.Exact{Record: mock.RR("media.home. 300 IN CNAME nas.home.")},
		records.Exact{Record: mock.RR("nas.home. 300 IN A 192.168.1.10")},
	)
	r := &fakeResolver{}
	o := New(config.Default(), store, nil, r)

	mw, _ := serve(t, o, "media.home.", wire.TypeA)
	require.Len(t, mw.Msg().Answer, 2)
	assert.Equal(t, wire.TypeCNAME, mw.Msg().Answer[0].Type)
	assert.Equal(t, "192.168.1.10", mw.Msg().Answer[1].Data.String())
	assert.Equal(t, 0, r.calls)

	// asking for the alias itself is not chased
	mw, _ = serve(t, o, "media.home.", wire.TypeCNAME)
	require.Len(t, mw.Msg().Answer, 1)
}

func Test_OverrideAliasFromCache(t *testing.T) {
	store := newStore(t, records.Exact{Record: mock.RR("tv.home. 300 IN CNAME www.example.com.")})

	c := cache.New(16)
	c.Put(cache.KeyFor("www.example.com.", wire.TypeA, wire.ClassINET),
		[]wire.RR{mock.RR("www.example.com. 300 IN A 93.184.216.34")}, nil, wire.RcodeSuccess)

	r := &fakeResolver{}
	o := New(config.Default(), store, c, r)

	mw, _ := serve(t, o, "tv.home.", wire.TypeA)
	require.Len(t, mw.Msg().Answer, 2)
	assert.Equal(t, "93.184.216.34", mw.Msg().Answer[1].Data.String())
	assert.Equal(t, 0, r.calls)
}

func Test_OverrideAliasRecursion(t *testing.T) {
	store := newStore(t, records.Exact{Record: mock.RR("tv.home. 300 IN CNAME www.example.com.")})

	r := &fakeResolver{answer: &resolver.Answer{
		Records: []wire.RR{mock.RR("www.example.com. 300 IN A 93.184.216.34")},
	}}
	o := New(config.Default(), store, cache.New(16), r)

	mw, _ := serve(t, o, "tv.home.", wire.TypeA)
	assert.Equal(t, 1, r.calls)
	assert.True(t, mw.Msg().Authoritative)
	require.Len(t, mw.Msg().Answer, 2)
	assert.Equal(t, "93.184.216.34", mw.Msg().Answer[1].Data.String())

	soa := mock.RR("example.com. 300 IN SOA ns1.example.com. admin.example.com. 1 7200 3600 1209600 300")
	r.answer = nil
	r.err = &resolver.Error{Kind: resolver.KindNxdomain, Authority: []wire.RR{soa}}

	mw, _ = serve(t, o, "tv.home.", wire.TypeA)
	assert.Equal(t, wire.RcodeNameError, mw.Rcode())
	require.Len(t, mw.Msg().Answer, 1)
	require.Len(t, mw.Msg().Authority, 1)

	r.err = &resolver.Error{Kind: resolver.KindTimeout}
	mw, _ = serve(t, o, "tv.home.", wire.TypeA)
	assert.Equal(t, wire.RcodeServerFailure, mw.Rcode())
}

func Test_OverrideAliasLoop(t *testing.T) {
	store := newStore(t,
		records.Exact{Record: mock.RR("a.home. 300 IN CNAME b.home.")},
		records.Exact{Record: mock.RR("b.home. 300 IN CNAME a.home.")},
	)
	o := New(config.Default(), store, nil, nil)

	mw, _ := serve(t, o, "a.home.", wire.TypeA)
	assert.Equal(t, wire.RcodeServerFailure, mw.Rcode())
	assert.Len(t, mw.Msg().Answer, 2)
}
