package ratelimit

import (
	"context"

	"github.com/cespare/xxhash/v2"
	"github.com/jmeaster30/simpledns/config"
	"github.com/jmeaster30/simpledns/middleware"
	"github.com/semihalev/zlog/v2"
)

// RateLimit type
type RateLimit struct {
	store *LimiterStore
	rate  int
}

// New return ratelimit. A zero clientratelimit disables it.
func New(cfg *config.Config) *RateLimit {
	r := &RateLimit{
		rate: cfg.ClientRateLimit,
	}

	if r.rate > 0 {
		r.store = NewLimiterStore(storeSize, r.rate)
	}

	return r
}

// Name return middleware name
func (r *RateLimit) Name() string { return name }

// ServeDNS drops queries of clients over their limit.
func (r *RateLimit) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	w := ch.Writer

	if r.rate <= 0 || w.Internal() {
		ch.Next(ctx)
		return
	}

	ip := w.RemoteIP()
	if !ip.IsValid() || ip.IsLoopback() {
		ch.Next(ctx)
		return
	}

	b := ip.As16()
	if !r.store.Get(xxhash.Sum64(b[:])).Allow() {
		zlog.Debug("Query dropped by rate limit", "client", ip.String())
		//no reply to client
		ch.Cancel()
		return
	}

	ch.Next(ctx)
}

const (
	storeSize = 256 * 100

	name = "ratelimit"
)
