package accesslist

import (
	"context"
	"net"

	"github.com/jmeaster30/simpledns/config"
	"github.com/jmeaster30/simpledns/middleware"
	"github.com/jmeaster30/simpledns/wire"
	"github.com/semihalev/zlog/v2"
	"github.com/yl2chen/cidranger"
)

// AccessList type
type AccessList struct {
	ranger  cidranger.Ranger
	enabled bool
}

// New return accesslist. An empty list allows every client.
func New(cfg *config.Config) *AccessList {
	a := new(AccessList)
	a.ranger = cidranger.NewPCTrieRanger()
	for _, cidr := range cfg.AccessList {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			zlog.Error("Access list parse cidr failed", "cidr", cidr, "error", err.Error())
			continue
		}

		_ = a.ranger.Insert(cidranger.NewBasicRangerEntry(*ipnet))
		a.enabled = true
	}

	return a
}

// Name return middleware name
func (a *AccessList) Name() string { return name }

// Allowed reports whether ip may query.
func (a *AccessList) Allowed(ip net.IP) bool {
	if !a.enabled {
		return true
	}

	allowed, _ := a.ranger.Contains(ip)
	return allowed
}

// ServeDNS implements the Handle interface.
func (a *AccessList) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	w := ch.Writer

	if w.Internal() || !w.RemoteIP().IsValid() {
		ch.Next(ctx)
		return
	}

	if !a.Allowed(net.IP(w.RemoteIP().AsSlice())) {
		zlog.Debug("Query refused by access list", "client", w.RemoteIP().String())
		ch.CancelWithRcode(wire.RcodeRefused)
		return
	}

	ch.Next(ctx)
}

const name = "accesslist"
