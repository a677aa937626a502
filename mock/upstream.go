package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmeaster30/simpledns/wire"
	"github.com/miekg/dns"
)

// Behavior makes a fake server misbehave.
type Behavior int

const (
	// Normal servers answer from their zones.
	Normal Behavior = iota
	// Timeout servers never answer.
	Timeout
	// ServerFailure servers answer SERVFAIL.
	ServerFailure
	// Refused servers answer REFUSED.
	Refused
	// Garbage servers answer bytes that do not decode.
	Garbage
	// Truncate servers set TC on UDP and answer in full over TCP.
	Truncate
	// Lame servers answer without data, delegation or authority.
	Lame
)

// Call is one query seen by the upstream.
type Call struct {
	Server   string
	Network  string
	Question wire.Question
}

// Zone is authoritative data served by a fake server. Records owned by
// names below the apex with type NS are delegations; A records of their
// hosts are handed out as glue.
type Zone struct {
	Name    string
	Records []wire.RR
}

type server struct {
	zones    []*Zone
	behavior Behavior
	delay    time.Duration
}

// Upstream is an in-memory DNS hierarchy. It implements the resolver's
// Exchanger and records every query it receives.
type Upstream struct {
	mu      sync.Mutex
	servers map[string]*server
	calls   []Call
}

// NewUpstream returns an empty hierarchy.
func NewUpstream() *Upstream {
	return &Upstream{servers: make(map[string]*server)}
}

// Serve makes addr authoritative for zone with the given records in
// presentation format.
func (u *Upstream) Serve(addr, zone string, records ...string) *Upstream {
	z := &Zone{Name: dns.Fqdn(zone)}
	for _, s := range records {
		z.Records = append(z.Records, RR(s))
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	s, ok := u.servers[addr]
	if !ok {
		s = &server{}
		u.servers[addr] = s
	}
	s.zones = append(s.zones, z)

	return u
}

// SetBehavior changes how addr answers.
func (u *Upstream) SetBehavior(addr string, b Behavior) {
	u.mu.Lock()
	defer u.mu.Unlock()

	s, ok := u.servers[addr]
	if !ok {
		s = &server{}
		u.servers[addr] = s
	}
	s.behavior = b
}

// SetDelay makes addr wait before answering.
func (u *Upstream) SetDelay(addr string, d time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if s, ok := u.servers[addr]; ok {
		s.delay = d
	}
}

// Calls returns the queries received so far.
func (u *Upstream) Calls() []Call {
	u.mu.Lock()
	defer u.mu.Unlock()

	return append([]Call(nil), u.calls...)
}

// Count returns the number of queries received so far.
func (u *Upstream) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return len(u.calls)
}

// Reset forgets the recorded queries.
func (u *Upstream) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.calls = nil
}

var errUnreachable = errors.New("network is unreachable")

// Exchange answers a raw query.
func (u *Upstream) Exchange(ctx context.Context, network, addr string, req []byte) ([]byte, error) {
	msg, err := wire.Decode(req)
	if err != nil {
		return nil, err
	}
	if len(msg.Question) != 1 {
		return nil, fmt.Errorf("unexpected question count %d", len(msg.Question))
	}

	u.mu.Lock()
	u.calls = append(u.calls, Call{Server: addr, Network: network, Question: msg.Question[0]})
	s, ok := u.servers[addr]
	var (
		behavior Behavior
		delay    time.Duration
	)
	if ok {
		behavior, delay = s.behavior, s.delay
	}
	u.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("dial %s %s: %w", network, addr, errUnreachable)
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	resp := new(wire.Message).SetReply(msg)

	switch behavior {
	case Timeout:
		<-ctx.Done()
		return nil, ctx.Err()
	case ServerFailure:
		resp.Rcode = wire.RcodeServerFailure
	case Refused:
		resp.Rcode = wire.RcodeRefused
	case Garbage:
		return []byte{0x00, 0x01, 0x02}, nil
	case Lame:
	case Truncate:
		if network == "udp" {
			resp.Truncated = true
			break
		}
		s.answer(resp, msg.Question[0])
	default:
		s.answer(resp, msg.Question[0])
	}

	return wire.Encode(resp)
}

func (s *server) answer(resp *wire.Message, q wire.Question) {
	z := s.zoneFor(q.Name)
	if z == nil {
		resp.Rcode = wire.RcodeRefused
		return
	}

	if ns := z.delegation(q.Name); len(ns) > 0 {
		resp.Authority = ns
		for _, rr := range ns {
			resp.Additional = append(resp.Additional, z.find(rr.Data.(*wire.NS).Host, wire.TypeA)...)
		}
		return
	}

	resp.Authoritative = true

	name := q.Name
	for range z.Records {
		if rrs := z.find(name, q.Type); len(rrs) > 0 {
			resp.Answer = append(resp.Answer, rrs...)
			return
		}

		cname := z.find(name, wire.TypeCNAME)
		if len(cname) == 0 || q.Type == wire.TypeCNAME {
			break
		}

		resp.Answer = append(resp.Answer, cname[0])
		name = cname[0].Data.(*wire.CNAME).Target
		if !dns.IsSubDomain(z.Name, name) {
			return
		}
	}

	if len(resp.Answer) > 0 {
		return
	}

	resp.Authority = z.find(z.Name, wire.TypeSOA)
	if !z.exists(name) {
		resp.Rcode = wire.RcodeNameError
	}
}

// zoneFor returns the deepest zone of s enclosing name.
func (s *server) zoneFor(name string) *Zone {
	var best *Zone
	for _, z := range s.zones {
		if !dns.IsSubDomain(z.Name, name) {
			continue
		}
		if best == nil || dns.CountLabel(z.Name) > dns.CountLabel(best.Name) {
			best = z
		}
	}
	return best
}

// delegation returns the NS set of the deepest zone cut between the apex
// and name.
func (z *Zone) delegation(name string) []wire.RR {
	var (
		cut string
		ns  []wire.RR
	)

	for _, rr := range z.Records {
		if rr.Type != wire.TypeNS || dns.CanonicalName(rr.Name) == dns.CanonicalName(z.Name) {
			continue
		}
		if !dns.IsSubDomain(rr.Name, name) {
			continue
		}
		switch {
		case cut == "" || dns.CountLabel(rr.Name) > dns.CountLabel(cut):
			cut, ns = rr.Name, []wire.RR{rr}
		case dns.CanonicalName(rr.Name) == dns.CanonicalName(cut):
			ns = append(ns, rr)
		}
	}

	return ns
}

func (z *Zone) find(name string, t wire.Type) []wire.RR {
	var out []wire.RR
	for _, rr := range z.Records {
		if rr.Type == t && dns.CanonicalName(rr.Name) == dns.CanonicalName(name) {
			out = append(out, rr)
		}
	}
	return out
}

func (z *Zone) exists(name string) bool {
	for _, rr := range z.Records {
		if dns.IsSubDomain(name, rr.Name) {
			return true
		}
	}
	return false
}

// RR parses a record in presentation format. It panics on bad input and
// is meant for tests.
func RR(s string) wire.RR {
	rr, err := dns.NewRR(s)
	if err != nil {
		panic(err)
	}

	buf := make([]byte, dns.Len(rr)+1)
	off, err := dns.PackRR(rr, buf, 0, nil, false)
	if err != nil {
		panic(err)
	}

	out, err := wire.UnpackRR(buf[:off])
	if err != nil {
		panic(err)
	}

	return out
}
