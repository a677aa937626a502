// Package recursion answers whatever reached the end of the chain by
// iterative resolution.
package recursion

import (
	"context"
	"errors"

	"github.com/jmeaster30/simpledns/middleware"
	"github.com/jmeaster30/simpledns/resolver"
	"github.com/jmeaster30/simpledns/wire"
	"github.com/semihalev/zlog/v2"
)

// Resolver is the recursive lookup behind the stage.
type Resolver interface {
	Resolve(ctx context.Context, q wire.Question) (*resolver.Answer, error)
}

// Recursion type
type Recursion struct {
	resolver Resolver
}

// New return new recursion middleware
func New(r Resolver) *Recursion {
	return &Recursion{resolver: r}
}

// Name return middleware name
func (r *Recursion) Name() string { return name }

// ServeDNS implements the Handle interface.
func (r *Recursion) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	w, req := ch.Writer, ch.Request

	_ = w.WriteMsg(r.handle(ctx, req))
}

func (r *Recursion) handle(ctx context.Context, req *wire.Message) *wire.Message {
	q := req.Question[0]

	m := new(wire.Message).SetReply(req)
	m.RecursionAvailable = true

	ans, err := r.resolver.Resolve(ctx, q)
	if err == nil {
		m.Answer = ans.Records
		m.Authority = ans.Authority
		return m
	}

	var rerr *resolver.Error
	if !errors.As(err, &rerr) {
		zlog.Info("Resolve query failed", "query", q.String(), "error", err.Error())
		m.Rcode = wire.RcodeServerFailure
		return m
	}

	m.Rcode = rerr.Rcode()

	switch rerr.Kind {
	case resolver.KindNxdomain:
		m.Answer = rerr.Chain
		m.Authority = rerr.Authority
	case resolver.KindReferralLoop:
		zlog.Warn("Resolve query looped", "query", q.String(), "error", err.Error())
	default:
		zlog.Info("Resolve query failed", "query", q.String(), "error", err.Error())
	}

	return m
}

const name = "recursion"
