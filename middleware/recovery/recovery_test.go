package recovery

import (
	"context"
	"os"
	"testing"

	"github.com/jmeaster30/simpledns/middleware"
	"github.com/jmeaster30/simpledns/mock"
	"github.com/jmeaster30/simpledns/wire"
	"github.com/stretchr/testify/assert"
)

type panicker struct{}

func (p *panicker) Name() string { return "panicker" }

func (p *panicker) ServeDNS(context.Context, *middleware.Chain) { panic("boom") }

func Test_recoveryDNS(t *testing.T) {
	stderr := os.Stderr
	os.Stderr, _ = os.Open(os.DevNull)
	defer func() { os.Stderr = stderr }()

	r := New()
	assert.Equal(t, "recovery", r.Name())

	ch := middleware.NewChain([]middleware.Handler{r, &panicker{}})

	mw := mock.NewWriter("udp", "127.0.0.1:0")
	req := new(wire.Message).SetQuestion("test.com.", wire.TypeA)
	req.ID = 77

	ch.Reset(mw, req)
	ch.Next(context.Background())

	assert.Equal(t, wire.RcodeServerFailure, mw.Msg().Rcode)
	assert.Equal(t, uint16(77), mw.Msg().ID)

	ch = middleware.NewChain([]middleware.Handler{r})
	mw = mock.NewWriter("udp", "127.0.0.1:0")
	ch.Reset(mw, req)
	r.ServeDNS(context.Background(), ch)
	assert.False(t, mw.Written())
}
