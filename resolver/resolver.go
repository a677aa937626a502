// Package resolver implements iterative resolution from the root servers:
// referral following, glue handling, alias restarts and loop protection.
package resolver

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmeaster30/simpledns/cache"
	"github.com/jmeaster30/simpledns/config"
	"github.com/jmeaster30/simpledns/wire"
	"github.com/semihalev/zlog/v2"
)

// Answer is a successful resolution. Records holds the aliases followed,
// in order, then the records of the asked type. An answer without records
// is a no data answer and carries the zone SOA in Authority.
type Answer struct {
	Records   []wire.RR
	Authority []wire.RR
}

func (a *Answer) copy() *Answer {
	return &Answer{Records: wire.CopyRRs(a.Records), Authority: wire.CopyRRs(a.Authority)}
}

// NoData reports whether the name exists without records of the type.
func (a *Answer) NoData() bool {
	return len(a.Records) == 0
}

type state int

const (
	stateQuery state = iota
	stateAnswer
	stateAlias
	stateReferral
	stateNoData
	stateNxdomain
)

func (s state) String() string {
	switch s {
	case stateQuery:
		return "query"
	case stateAnswer:
		return "answer"
	case stateAlias:
		return "alias"
	case stateReferral:
		return "referral"
	case stateNoData:
		return "nodata"
	case stateNxdomain:
		return "nxdomain"
	}
	return "unknown"
}

// Resolver type
type Resolver struct {
	settings atomic.Pointer[settings]

	cache     *cache.Cache
	exchanger Exchanger
	breaker   *circuitBreaker
	sf        *coalescer
}

// settings are the tunables a resolution reads once when it starts.
type settings struct {
	rootservers     []string
	fallbackservers []string

	timeout time.Duration
	retries int
	maxHops int
}

func newSettings(cfg *config.Config) *settings {
	s := &settings{
		rootservers:     slices.Clone(cfg.RootServers),
		fallbackservers: slices.Clone(cfg.FallbackServers),
		timeout:         cfg.Timeout.Duration,
		retries:         cfg.Retries,
		maxHops:         cfg.MaxHops,
	}

	if s.timeout <= 0 {
		s.timeout = 3 * time.Second
	}
	if s.retries < 0 {
		s.retries = 0
	}
	if s.maxHops <= 0 {
		s.maxHops = 20
	}

	return s
}

// New returns a resolver using the root and fallback servers and tunables
// of cfg. Gathered records go to c. A nil exchanger uses the network.
func New(cfg *config.Config, c *cache.Cache, ex Exchanger) *Resolver {
	r := &Resolver{
		cache:     c,
		exchanger: ex,
		breaker:   newCircuitBreaker(),
		sf:        &coalescer{},
	}

	s := newSettings(cfg)
	r.settings.Store(s)

	if r.exchanger == nil {
		r.exchanger = NewClient(s.timeout)
	}

	return r
}

// Reload swaps in the servers and tunables of cfg. Resolutions already
// running finish with the settings they started with.
func (r *Resolver) Reload(cfg *config.Config) {
	s := newSettings(cfg)
	r.settings.Store(s)

	zlog.Info("Resolver settings reloaded", "rootservers", len(s.rootservers), "fallbackservers", len(s.fallbackservers),
		"timeout", s.timeout.String(), "retries", s.retries, "maxhops", s.maxHops)
}

// Resolve answers q by iterative resolution. Identical concurrent questions
// share one resolution. Errors are *Error values matching ErrNxdomain,
// ErrServerFailure, ErrTimeout or ErrReferralLoop.
func (r *Resolver) Resolve(ctx context.Context, q wire.Question) (*Answer, error) {
	q.Name = wire.Fqdn(q.Name)
	if q.Class == 0 {
		q.Class = wire.ClassINET
	}

	set := r.settings.Load()

	v, _, err := r.sf.do(ctx, cache.NewKey(q).String(), set.timeout*time.Duration(set.maxHops), func(ctx context.Context) (any, error) {
		return r.lookup(ctx, set, q)
	})
	if err != nil {
		var rerr *Error
		if errors.As(err, &rerr) {
			out := *rerr
			out.Authority = wire.CopyRRs(rerr.Authority)
			out.Chain = wire.CopyRRs(rerr.Chain)
			return nil, &out
		}
		return nil, &Error{Kind: KindTimeout, Message: ErrTimeout.Message, Err: err}
	}

	return v.(*Answer).copy(), nil
}

// shared is the part of a resolution that nested name server lookups use
// too.
type shared struct {
	*settings

	hops     int
	pending  map[string]bool
	gathered []rrset
}

type rrset struct {
	key       cache.Key
	answer    []wire.RR
	authority []wire.RR
	rcode     wire.Rcode
}

// resolution tracks one question, restarted for every alias.
type resolution struct {
	*shared

	q       wire.Question
	name    string
	visited map[string]bool
	aliases map[string]bool
	chain   []wire.RR
}

func (r *Resolver) lookup(ctx context.Context, set *settings, q wire.Question) (*Answer, error) {
	sh := &shared{settings: set, hops: set.maxHops, pending: make(map[string]bool)}

	ans, err := r.resolve(ctx, sh, q)
	if err == nil || errors.Is(err, ErrNxdomain) {
		r.store(sh.gathered)
	}

	if err != nil {
		zlog.Debug("Recursion failed", "query", q.String(), "error", err.Error())

		if len(set.fallbackservers) > 0 && (errors.Is(err, ErrServerFailure) || errors.Is(err, ErrTimeout)) {
			return r.forward(ctx, set, q)
		}
		if errors.Is(err, ErrReferralLoop) {
			zlog.Warn("Referral loop detected", "query", q.String(), "error", err.Error())
		}
	}

	return ans, err
}

func (r *Resolver) resolve(ctx context.Context, sh *shared, q wire.Question) (*Answer, error) {
	res := &resolution{
		shared:  sh,
		q:       q,
		visited: make(map[string]bool),
		aliases: make(map[string]bool),
	}
	res.aliases[wire.CanonicalName(q.Name)] = true

	if ans, err := r.enter(res, q.Name); ans != nil || err != nil {
		return ans, err
	}

	zone, servers := r.delegation(res.name, res.rootservers)

	var (
		resp *wire.Message
		err  error
	)

	st := stateQuery

	for {
		switch st {
		case stateQuery:
			if res.hops <= 0 {
				return nil, errHopBudget
			}
			res.hops--

			resp, st, err = r.query(ctx, res, zone, servers)
			if err != nil {
				return nil, err
			}

			zlog.Debug("Query step", "name", res.name, "type", q.Type.String(), "zone", zone, "state", st.String())

		case stateAnswer:
			target, err := res.follow(resp)
			if err != nil {
				return nil, err
			}

			records := recordsOf(resp.Answer, target, q.Type)
			res.gather(cache.KeyFor(target, q.Type, q.Class), records, nil, wire.RcodeSuccess)

			return &Answer{Records: append(wire.CopyRRs(res.chain), records...)}, nil

		case stateAlias:
			target, err := res.follow(resp)
			if err != nil {
				return nil, err
			}

			if ans, err := r.enter(res, target); ans != nil || err != nil {
				return ans, err
			}

			zone, servers = r.delegation(res.name, res.rootservers)
			st = stateQuery

		case stateReferral:
			zone, servers, err = r.referral(ctx, res, zone, resp)
			if err != nil {
				return nil, err
			}
			st = stateQuery

		case stateNoData:
			soa := soaOf(resp.Authority)
			res.gather(cache.KeyFor(res.name, q.Type, q.Class), nil, soa, wire.RcodeSuccess)

			return &Answer{Records: wire.CopyRRs(res.chain), Authority: soa}, nil

		case stateNxdomain:
			if _, err := res.follow(resp); err != nil {
				return nil, err
			}

			soa := soaOf(resp.Authority)
			res.gather(cache.KeyFor(res.name, q.Type, q.Class), nil, soa, wire.RcodeNameError)

			return nil, newNxdomain(soa, wire.CopyRRs(res.chain))
		}
	}
}

// enter makes name the current name. Cached answers and cached aliases
// are used before anything is sent.
func (r *Resolver) enter(res *resolution, name string) (*Answer, error) {
	for {
		res.name = name

		if e, ok := r.cache.Peek(cache.KeyFor(name, res.q.Type, res.q.Class)); ok {
			if e.Rcode == wire.RcodeNameError {
				return nil, newNxdomain(e.Authority, wire.CopyRRs(res.chain))
			}
			return &Answer{Records: append(wire.CopyRRs(res.chain), e.Answer...), Authority: e.Authority}, nil
		}

		if !followsAliases(res.q.Type) {
			return nil, nil
		}

		e, ok := r.cache.Peek(cache.KeyFor(name, wire.TypeCNAME, res.q.Class))
		if !ok || e.Negative() {
			return nil, nil
		}

		target, err := res.alias(e.Answer[0])
		if err != nil {
			return nil, err
		}
		name = target
	}
}

// alias appends a CNAME to the chain and returns its target.
func (res *resolution) alias(rr wire.RR) (string, error) {
	cname, ok := rr.Data.(*wire.CNAME)
	if !ok {
		return "", ErrServerFailure.WithContext("bad alias record for %s", rr.Name)
	}

	key := wire.CanonicalName(cname.Target)
	if res.aliases[key] {
		return "", ErrReferralLoop.WithContext("alias loop at %s", cname.Target)
	}
	res.aliases[key] = true
	res.chain = append(res.chain, rr)

	return cname.Target, nil
}

// follow walks the aliases of the current name contained in msg and
// returns the last target.
func (res *resolution) follow(msg *wire.Message) (string, error) {
	name := res.name
	if !followsAliases(res.q.Type) {
		return name, nil
	}

	for range msg.Answer {
		rr, ok := cnameOf(msg.Answer, name)
		if !ok {
			break
		}

		target, err := res.alias(rr)
		if err != nil {
			return "", err
		}
		res.gather(cache.KeyFor(rr.Name, wire.TypeCNAME, res.q.Class), []wire.RR{rr}, nil, wire.RcodeSuccess)
		name = target
	}

	res.name = name

	return name, nil
}

// classify decides what a reply to the current name means. stateQuery
// means the reply is lame.
func (res *resolution) classify(msg *wire.Message) state {
	if msg.Rcode == wire.RcodeNameError {
		return stateNxdomain
	}

	target := res.name
	if followsAliases(res.q.Type) {
		target = chainTarget(msg.Answer, res.name)
	}

	if len(recordsOf(msg.Answer, target, res.q.Type)) > 0 {
		return stateAnswer
	}
	if _, ok := cnameOf(msg.Answer, res.name); ok && followsAliases(res.q.Type) {
		return stateAlias
	}

	if len(msg.Answer) == 0 {
		if !msg.Authoritative && hasType(msg.Authority, wire.TypeNS) {
			return stateReferral
		}
		if msg.Authoritative || hasType(msg.Authority, wire.TypeSOA) {
			return stateNoData
		}
	}

	return stateQuery
}

func (res *resolution) gather(key cache.Key, answer, authority []wire.RR, rcode wire.Rcode) {
	res.gathered = append(res.gathered, rrset{key: key, answer: answer, authority: authority, rcode: rcode})
}

func (r *Resolver) store(sets []rrset) {
	for _, s := range sets {
		if len(s.answer) > 0 {
			r.cache.Put(s.key, s.answer, s.authority, s.rcode)
		} else {
			r.cache.PutNegative(s.key, s.authority, s.rcode)
		}
	}
}

// referral checks a delegation and returns the child zone and the
// addresses of its servers.
func (r *Resolver) referral(ctx context.Context, res *resolution, zone string, msg *wire.Message) (string, []string, error) {
	var (
		child string
		ns    []wire.RR
	)

	for _, rr := range msg.Authority {
		if rr.Type != wire.TypeNS {
			continue
		}
		if child == "" {
			child = rr.Name
		}
		if wire.EqualNames(rr.Name, child) {
			ns = append(ns, rr)
		}
	}

	if wire.CountLabels(child) <= wire.CountLabels(zone) || !wire.IsSubDomain(child, res.name) {
		return "", nil, ErrReferralLoop.WithContext("referral from %s to %s for %s", zone, child, res.name)
	}

	child = wire.CanonicalName(child)
	res.gather(cache.KeyFor(child, wire.TypeNS, wire.ClassINET), ns, nil, wire.RcodeSuccess)

	var servers []string
	for _, rr := range ns {
		host := rr.Data.(*wire.NS).Host

		glue := glueOf(msg.Additional, host)
		if len(glue) == 0 {
			continue
		}

		res.gather(cache.KeyFor(host, wire.TypeA, wire.ClassINET), glue, nil, wire.RcodeSuccess)
		servers = appendAddrs(servers, glue)
	}

	if len(servers) > 0 {
		return child, servers, nil
	}

	servers, err := r.resolveNS(ctx, res, ns)
	if err != nil {
		return "", nil, err
	}

	return child, servers, nil
}

// resolveNS finds the address of the first name server that resolves.
// Lookups share the hop budget of res.
func (r *Resolver) resolveNS(ctx context.Context, res *resolution, ns []wire.RR) ([]string, error) {
	var lastErr error = errNoServers

	for _, rr := range ns {
		host := wire.CanonicalName(rr.Data.(*wire.NS).Host)

		if servers := r.cachedAddrs(host); len(servers) > 0 {
			return servers, nil
		}

		if res.pending[host] {
			lastErr = ErrReferralLoop.WithContext("name server %s depends on itself", host)
			continue
		}

		res.pending[host] = true
		ans, err := r.resolve(ctx, res.shared, wire.Question{Name: host, Type: wire.TypeA, Class: wire.ClassINET})
		delete(res.pending, host)

		if err != nil {
			lastErr = err
			if res.hops <= 0 || ctx.Err() != nil {
				return nil, err
			}
			continue
		}

		if servers := appendAddrs(nil, ans.Records); len(servers) > 0 {
			return servers, nil
		}
	}

	return nil, lastErr
}

// delegation returns the deepest zone enclosing name whose servers have
// cached addresses, or the root and its hints.
func (r *Resolver) delegation(name string, roots []string) (string, []string) {
	zone := wire.CanonicalName(name)

	for {
		if e, ok := r.cache.Peek(cache.KeyFor(zone, wire.TypeNS, wire.ClassINET)); ok && !e.Negative() {
			var servers []string
			for _, rr := range e.Answer {
				if ns, ok := rr.Data.(*wire.NS); ok {
					servers = append(servers, r.cachedAddrs(ns.Host)...)
				}
			}
			if len(servers) > 0 {
				return zone, servers
			}
		}

		parent, ok := wire.Parent(zone)
		if !ok {
			break
		}
		zone = parent
	}

	return ".", roots
}

func (r *Resolver) cachedAddrs(host string) []string {
	e, ok := r.cache.Peek(cache.KeyFor(host, wire.TypeA, wire.ClassINET))
	if !ok {
		return nil
	}
	return appendAddrs(nil, e.Answer)
}

// query sends the current question to the servers of zone, moving to the
// next server on timeouts, failures and lame replies.
func (r *Resolver) query(ctx context.Context, res *resolution, zone string, servers []string) (*wire.Message, state, error) {
	prefix := strings.ToLower(res.name) + " " + zone + " "

	var candidates []string
	for _, server := range r.breaker.filter(servers) {
		if !res.visited[prefix+server] {
			candidates = append(candidates, server)
		}
	}

	if len(candidates) == 0 {
		if len(servers) == 0 {
			return nil, stateQuery, errNoServers
		}
		return nil, stateQuery, ErrReferralLoop.WithContext("servers of %s already visited for %s", zone, res.name)
	}

	for _, server := range candidates {
		res.visited[prefix+server] = true
	}

	req := &wire.Message{
		Header:   wire.Header{Opcode: wire.OpcodeQuery},
		Question: []wire.Question{{Name: res.name, Type: res.q.Type, Class: res.q.Class}},
	}

	var (
		lastErr  error
		timeouts int
	)

	attempts := res.retries + 1
	for i := 0; i < attempts; i++ {
		server := candidates[i%len(candidates)]

		msg, err := r.exchange(ctx, res.timeout, server, req)
		if err == nil {
			if st := res.classify(msg); st != stateQuery {
				r.breaker.recordSuccess(server)
				return msg, st, nil
			}
			err = errLame
		}

		r.breaker.recordFailure(server)
		zlog.Debug("Server failed", "server", server, "zone", zone, "name", res.name, "error", err.Error())

		lastErr = err
		if isTimeout(err) {
			timeouts++
		}

		if ctx.Err() != nil {
			break
		}
	}

	if timeouts == attempts || ctx.Err() != nil {
		return nil, stateQuery, &Error{Kind: KindTimeout, Message: ErrTimeout.Message, Err: lastErr}
	}

	return nil, stateQuery, &Error{Kind: KindServerFailure, Message: ErrServerFailure.Message, Err: lastErr}
}

var (
	errLame     = errors.New("lame reply")
	errMismatch = errors.New("reply does not match query")
	errRcode    = errors.New("server refused query")
)

// exchange performs one query with its own timeout. Truncated UDP replies
// are retried over TCP. Replies that do not decode, do not match or carry
// an rcode other than NOERROR and NXDOMAIN are errors.
func (r *Resolver) exchange(ctx context.Context, timeout time.Duration, server string, req *wire.Message) (*wire.Message, error) {
	req.ID = uint16(rand.Uint32())

	b, err := wire.Encode(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := r.exchanger.Exchange(ctx, "udp", server, b)
	if err != nil {
		return nil, err
	}

	h, err := wire.DecodeHeader(raw)
	if err != nil {
		return nil, err
	}

	if h.Truncated {
		raw, err = r.exchanger.Exchange(ctx, "tcp", server, b)
		if err != nil {
			return nil, err
		}
	}

	msg, err := wire.Decode(raw)
	if err != nil {
		return nil, err
	}

	if !msg.Response || msg.ID != req.ID || len(msg.Question) != 1 {
		return nil, errMismatch
	}

	q := msg.Question[0]
	if !wire.EqualNames(q.Name, req.Question[0].Name) || q.Type != req.Question[0].Type {
		return nil, errMismatch
	}

	switch msg.Rcode {
	case wire.RcodeSuccess, wire.RcodeNameError:
	default:
		return nil, errRcode
	}

	return msg, nil
}

// forward asks the fallback servers with recursion desired.
func (r *Resolver) forward(ctx context.Context, set *settings, q wire.Question) (*Answer, error) {
	req := new(wire.Message).SetQuestion(q.Name, q.Type)
	req.Question[0].Class = q.Class

	var lastErr error = errNoServers

	for _, server := range r.breaker.filter(set.fallbackservers) {
		msg, err := r.exchange(ctx, set.timeout, server, req)
		if err != nil {
			r.breaker.recordFailure(server)
			lastErr = err
			continue
		}
		r.breaker.recordSuccess(server)

		zlog.Debug("Answered by fallback server", "query", q.String(), "server", server, "rcode", msg.Rcode.String())

		if msg.Rcode == wire.RcodeNameError {
			return nil, newNxdomain(soaOf(msg.Authority), cnamesOf(msg.Answer))
		}

		ans := &Answer{Records: msg.Answer}
		if len(msg.Answer) == 0 {
			ans.Authority = soaOf(msg.Authority)
		}
		return ans, nil
	}

	return nil, &Error{Kind: KindServerFailure, Message: "fallback servers failed", Err: lastErr}
}

func followsAliases(t wire.Type) bool {
	return t != wire.TypeCNAME && t != wire.TypeANY
}
