package resolver

import (
	"context"
	"errors"
	"net"
	"slices"

	"github.com/jmeaster30/simpledns/wire"
)

// recordsOf returns the records of rrs owned by name with type t.
func recordsOf(rrs []wire.RR, name string, t wire.Type) []wire.RR {
	var out []wire.RR
	for _, rr := range rrs {
		if !wire.EqualNames(rr.Name, name) {
			continue
		}
		if rr.Type == t || t == wire.TypeANY {
			out = append(out, rr)
		}
	}
	return out
}

func cnameOf(rrs []wire.RR, name string) (wire.RR, bool) {
	for _, rr := range rrs {
		if rr.Type == wire.TypeCNAME && wire.EqualNames(rr.Name, name) {
			return rr, true
		}
	}
	return wire.RR{}, false
}

func cnamesOf(rrs []wire.RR) []wire.RR {
	var out []wire.RR
	for _, rr := range rrs {
		if rr.Type == wire.TypeCNAME {
			out = append(out, rr)
		}
	}
	return out
}

// chainTarget follows the aliases of name within rrs. A chain that loops
// stops after as many steps as there are records.
func chainTarget(rrs []wire.RR, name string) string {
	for range rrs {
		rr, ok := cnameOf(rrs, name)
		if !ok {
			break
		}
		name = rr.Data.(*wire.CNAME).Target
	}
	return name
}

func hasType(rrs []wire.RR, t wire.Type) bool {
	return slices.ContainsFunc(rrs, func(rr wire.RR) bool { return rr.Type == t })
}

func soaOf(rrs []wire.RR) []wire.RR {
	for _, rr := range rrs {
		if rr.Type == wire.TypeSOA {
			return []wire.RR{rr}
		}
	}
	return nil
}

// glueOf returns the IPv4 glue of host.
func glueOf(additional []wire.RR, host string) []wire.RR {
	return recordsOf(additional, host, wire.TypeA)
}

// appendAddrs appends the server address of every A record in rrs.
func appendAddrs(servers []string, rrs []wire.RR) []string {
	for _, rr := range rrs {
		a, ok := rr.Data.(*wire.A)
		if !ok {
			continue
		}
		server := net.JoinHostPort(a.Addr.String(), "53")
		if !slices.Contains(servers, server) {
			servers = append(servers, server)
		}
	}
	return servers
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
