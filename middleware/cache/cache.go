// Package cache answers queries from the resolved records cache and fills
// it with the responses written by the stages after it.
package cache

import (
	"context"

	rrcache "github.com/jmeaster30/simpledns/cache"
	"github.com/jmeaster30/simpledns/middleware"
	"github.com/jmeaster30/simpledns/wire"
)

// Cache type
type Cache struct {
	cache *rrcache.Cache
}

// New return new cache middleware
func New(c *rrcache.Cache) *Cache {
	return &Cache{cache: c}
}

// Name return middleware name
func (c *Cache) Name() string { return name }

// ServeDNS implements the Handle interface.
func (c *Cache) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	w, req := ch.Writer, ch.Request
	key := rrcache.NewKey(ch.Question())

	if e, ok := c.cache.Get(key); ok {
		m := new(wire.Message).SetRcode(req, e.Rcode)
		m.RecursionAvailable = true
		m.Answer = e.Answer
		m.Authority = e.Authority

		_ = w.WriteMsg(m)
		ch.Cancel()
		return
	}

	ch.Writer = &ResponseWriter{ResponseWriter: w, cache: c.cache, key: key}
	ch.Next(ctx)
	ch.Writer = w
}

// ResponseWriter stores NOERROR and NXDOMAIN responses on their way out.
type ResponseWriter struct {
	middleware.ResponseWriter

	cache *rrcache.Cache
	key   rrcache.Key
}

// WriteMsg caches then writes the response.
func (w *ResponseWriter) WriteMsg(res *wire.Message) error {
	if !res.Truncated && (res.Rcode == wire.RcodeSuccess || res.Rcode == wire.RcodeNameError) {
		w.cache.Put(w.key, res.Answer, res.Authority, res.Rcode)
	}

	return w.ResponseWriter.WriteMsg(res)
}

const name = "cache"
