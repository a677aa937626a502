package middleware

import (
	"context"
	"testing"

	"github.com/jmeaster30/simpledns/wire"
	"github.com/stretchr/testify/assert"
)

type dummy struct{}

func (d *dummy) ServeDNS(ctx context.Context, ch *Chain) { ch.Next(ctx) }
func (d *dummy) Name() string                            { return "dummy" }

type recorder struct {
	name  string
	order *[]string
	stop  bool
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) ServeDNS(ctx context.Context, ch *Chain) {
	*r.order = append(*r.order, r.name)
	if r.stop {
		ch.CancelWithRcode(wire.RcodeRefused)
		return
	}
	ch.Next(ctx)
}

func Test_Handlers(t *testing.T) {
	hs := Handlers{&dummy{}, &recorder{name: "recorder"}}

	assert.Equal(t, []string{"dummy", "recorder"}, hs.List())
	assert.NotNil(t, hs.Get("dummy"))
	assert.Nil(t, hs.Get("none"))
}
