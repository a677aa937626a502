// Package override answers queries from the local record store: custom
// records, rewrites and blocks. Answers are authoritative and never cached.
package override

import (
	"context"
	"errors"
	"net/netip"

	"github.com/jmeaster30/simpledns/cache"
	"github.com/jmeaster30/simpledns/config"
	"github.com/jmeaster30/simpledns/middleware"
	"github.com/jmeaster30/simpledns/records"
	"github.com/jmeaster30/simpledns/resolver"
	"github.com/jmeaster30/simpledns/wire"
	"github.com/semihalev/zlog/v2"
)

// maxChase bounds the CNAME links followed from an override answer.
const maxChase = 8

// Resolver resolves the target of an override alias.
type Resolver interface {
	Resolve(ctx context.Context, q wire.Question) (*resolver.Answer, error)
}

// Override type
type Override struct {
	store    *records.Store
	cache    *cache.Cache
	resolver Resolver

	nullroute   netip.Addr
	nullroutev6 netip.Addr
	blockTTL    uint32
}

// New return override middleware. c and r may be nil, alias targets
// outside the store are then left unresolved.
func New(cfg *config.Config, store *records.Store, c *cache.Cache, r Resolver) *Override {
	o := &Override{
		store:       store,
		cache:       c,
		resolver:    r,
		nullroute:   netip.IPv4Unspecified(),
		nullroutev6: netip.IPv6Unspecified(),
		blockTTL:    3600,
	}

	if addr, err := netip.ParseAddr(cfg.Nullroute); err == nil && addr.Is4() {
		o.nullroute = addr
	}
	if addr, err := netip.ParseAddr(cfg.Nullroutev6); err == nil && addr.Is6() {
		o.nullroutev6 = addr
	}

	return o
}

// Name return middleware name
func (o *Override) Name() string { return name }

// ServeDNS implements the Handle interface.
func (o *Override) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	w, req := ch.Writer, ch.Request
	q := ch.Question()

	res := o.store.Lookup(q)

	switch res.Kind {
	case records.Blocked:
		zlog.Debug("Query blocked", "query", q.String(), "rule", res.Rule)
		_ = w.WriteMsg(o.blocked(req, q, res.Action))
		ch.Cancel()
	case records.Hit:
		zlog.Debug("Query answered from records", "query", q.String(), "rule", res.Rule)
		_ = w.WriteMsg(o.answer(ctx, req, q, res.Records))
		ch.Cancel()
	default:
		ch.Next(ctx)
	}
}

func (o *Override) blocked(req *wire.Message, q wire.Question, action records.Action) *wire.Message {
	m := reply(req)
	m.Answer = o.sink(q, action, m)
	return m
}

// sink returns the records a block answers q with and sets the rcode on m.
func (o *Override) sink(q wire.Question, action records.Action, m *wire.Message) []wire.RR {
	if action == records.ActionNXDomain {
		m.Rcode = wire.RcodeNameError
		return nil
	}

	rr := wire.RR{Name: q.Name, Type: q.Type, Class: wire.ClassINET, TTL: o.blockTTL}
	switch q.Type {
	case wire.TypeA:
		rr.Data = &wire.A{Addr: o.nullroute}
	case wire.TypeAAAA:
		rr.Data = &wire.AAAA{Addr: o.nullroutev6}
	default:
		return nil
	}

	return []wire.RR{rr}
}

// answer replies with the store records and follows a trailing alias
// through the store, the cache and finally recursion.
func (o *Override) answer(ctx context.Context, req *wire.Message, q wire.Question, rrs []wire.RR) *wire.Message {
	m := reply(req)
	m.Answer = rrs

	if q.Type == wire.TypeCNAME || q.Type == wire.TypeANY {
		return m
	}

	seen := map[string]struct{}{wire.CanonicalName(q.Name): {}}

	for range maxChase {
		target, ok := trailingAlias(m.Answer)
		if !ok {
			return m
		}

		key := wire.CanonicalName(target)
		if _, ok := seen[key]; ok {
			zlog.Warn("Override alias loop", "query", q.String(), "target", target)
			m.Rcode = wire.RcodeServerFailure
			return m
		}
		seen[key] = struct{}{}

		next := wire.Question{Name: target, Type: q.Type, Class: q.Class}

		res := o.store.Lookup(next)
		switch res.Kind {
		case records.Hit:
			m.Answer = append(m.Answer, res.Records...)
			continue
		case records.Blocked:
			m.Answer = append(m.Answer, o.sink(next, res.Action, m)...)
			return m
		}

		if o.cache != nil {
			if e, ok := o.cache.Get(cache.NewKey(next)); ok {
				m.Answer = append(m.Answer, e.Answer...)
				if e.Negative() || e.Rcode != wire.RcodeSuccess {
					m.Rcode = e.Rcode
					m.Authority = e.Authority
					return m
				}
				continue
			}
		}

		if o.resolver == nil {
			return m
		}

		ans, err := o.resolver.Resolve(ctx, next)
		if err != nil {
			var rerr *resolver.Error
			if errors.As(err, &rerr) {
				m.Rcode = rerr.Rcode()
				m.Answer = append(m.Answer, rerr.Chain...)
				m.Authority = rerr.Authority
			} else {
				m.Rcode = wire.RcodeServerFailure
			}
			zlog.Debug("Override alias resolve failed", "query", next.String(), "error", err.Error())
			return m
		}

		m.Answer = append(m.Answer, ans.Records...)
		m.Authority = ans.Authority
		return m
	}

	return m
}

// trailingAlias returns the target of the last record when it is a CNAME.
func trailingAlias(rrs []wire.RR) (string, bool) {
	if len(rrs) == 0 {
		return "", false
	}
	if c, ok := rrs[len(rrs)-1].Data.(*wire.CNAME); ok {
		return c.Target, true
	}
	return "", false
}

func reply(req *wire.Message) *wire.Message {
	m := new(wire.Message).SetReply(req)
	m.Authoritative = true
	m.RecursionAvailable = true
	return m
}

const name = "override"
