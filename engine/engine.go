// Package engine turns a DNS request into a response. Requests pass a few
// header checks and then the middleware chain: recovery, metrics, dnstap,
// access list, rate limit, local overrides, the cache and recursion.
package engine

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/jmeaster30/simpledns/cache"
	"github.com/jmeaster30/simpledns/config"
	"github.com/jmeaster30/simpledns/middleware"
	"github.com/jmeaster30/simpledns/middleware/accesslist"
	mwcache "github.com/jmeaster30/simpledns/middleware/cache"
	"github.com/jmeaster30/simpledns/middleware/dnstap"
	"github.com/jmeaster30/simpledns/middleware/metrics"
	"github.com/jmeaster30/simpledns/middleware/override"
	"github.com/jmeaster30/simpledns/middleware/ratelimit"
	"github.com/jmeaster30/simpledns/middleware/recovery"
	"github.com/jmeaster30/simpledns/middleware/recursion"
	"github.com/jmeaster30/simpledns/records"
	"github.com/jmeaster30/simpledns/resolver"
	"github.com/jmeaster30/simpledns/wire"
	"github.com/semihalev/zlog/v2"
)

const (
	// MinMsgSize is the UDP payload every client accepts.
	MinMsgSize = 512
	// MaxMsgSize is the largest UDP payload answered, whatever the client
	// advertises.
	MaxMsgSize = 1232
)

// Engine type
type Engine struct {
	handlers middleware.Handlers
	closers  []io.Closer

	chainPool sync.Pool
}

// New builds the chain in its fixed order.
func New(cfg *config.Config, store *records.Store, c *cache.Cache, r *resolver.Resolver) *Engine {
	tap := dnstap.New(cfg)

	e := NewWithHandlers(
		recovery.New(),
		metrics.New(),
		tap,
		accesslist.New(cfg),
		ratelimit.New(cfg),
		override.New(cfg, store, c, r),
		mwcache.New(c),
		recursion.New(r),
	)
	e.closers = append(e.closers, tap)

	return e
}

// NewWithHandlers returns an engine running handlers in order.
func NewWithHandlers(handlers ...middleware.Handler) *Engine {
	e := &Engine{handlers: handlers}

	e.chainPool.New = func() any {
		return middleware.NewChain(e.handlers)
	}

	return e
}

// Handlers returns the chain of the engine.
func (e *Engine) Handlers() middleware.Handlers {
	return e.handlers
}

// Close releases the handlers holding background resources.
func (e *Engine) Close() error {
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Handle answers req as a query made by the process itself. A nil
// response means the request is dropped.
func (e *Engine) Handle(ctx context.Context, req *wire.Message) *wire.Message {
	return e.serve(ctx, req, &writer{remote: middleware.InternalAddr, proto: "udp"})
}

// HandleBytes answers a raw request received from remote over proto,
// "udp" or "tcp". It reports false when nothing must be sent back, which
// is the case for an unreadable header or a response.
func (e *Engine) HandleBytes(ctx context.Context, raw []byte, remote net.Addr, proto string) ([]byte, bool) {
	h, err := wire.DecodeHeader(raw)
	if err != nil || h.Response {
		return nil, false
	}

	req, err := wire.Decode(raw)
	if err != nil {
		zlog.Debug("Malformed request", "net", proto, "error", err.Error())

		m := &wire.Message{Header: wire.Header{
			ID:               h.ID,
			Response:         true,
			Opcode:           h.Opcode,
			RecursionDesired: h.RecursionDesired,
			Rcode:            wire.RcodeFormatError,
		}}
		return pack(m)
	}

	resp := e.serve(ctx, req, &writer{remote: remote, proto: proto})
	if resp == nil {
		return nil, false
	}

	var edns []wire.RR
	opt, hasOpt := optOf(req)
	if hasOpt {
		edns = []wire.RR{{
			Name:  ".",
			Type:  wire.TypeOPT,
			Class: wire.Class(MaxMsgSize),
			Data:  &wire.Opaque{},
		}}
	}
	resp.Additional = append(stripOpt(resp.Additional), edns...)

	b, err := wire.Encode(resp)
	if err != nil {
		zlog.Error("Response encode failed", "query", req.Question[0].String(), "error", err.Error())

		resp = new(wire.Message).SetRcode(req, wire.RcodeServerFailure)
		resp.RecursionAvailable = true
		return pack(resp)
	}

	if proto != "udp" {
		return b, true
	}

	size := MinMsgSize
	if hasOpt {
		size = max(MinMsgSize, min(int(opt.Class), MaxMsgSize))
	}

	if len(b) <= size {
		return b, true
	}

	resp.Truncated = true
	resp.Answer, resp.Authority = nil, nil
	resp.Additional = edns

	return pack(resp)
}

func (e *Engine) serve(ctx context.Context, req *wire.Message, w *writer) *wire.Message {
	if req.Response {
		return nil
	}

	if req.Opcode != wire.OpcodeQuery {
		return e.reject(req, wire.RcodeNotImplemented)
	}

	if len(req.Question) != 1 {
		return e.reject(req, wire.RcodeFormatError)
	}

	ch := e.chainPool.Get().(*middleware.Chain)

	ch.Reset(w, req)
	ch.Next(ctx)

	e.chainPool.Put(ch)

	if w.msg == nil {
		return nil
	}

	resp := w.msg
	resp.ID = req.ID
	resp.Response = true
	resp.Question = []wire.Question{req.Question[0]}

	return resp
}

func (e *Engine) reject(req *wire.Message, rcode wire.Rcode) *wire.Message {
	m := new(wire.Message).SetRcode(req, rcode)
	m.Question = append([]wire.Question(nil), req.Question...)
	return m
}

type writer struct {
	msg    *wire.Message
	remote net.Addr
	proto  string
}

func (w *writer) WriteMsg(m *wire.Message) error {
	w.msg = m
	return nil
}

func (w *writer) RemoteAddr() net.Addr { return w.remote }

func (w *writer) Proto() string { return w.proto }

func pack(m *wire.Message) ([]byte, bool) {
	b, err := wire.Encode(m)
	if err != nil {
		zlog.Error("Response encode failed", "error", err.Error())
		return nil, false
	}
	return b, true
}

func optOf(m *wire.Message) (wire.RR, bool) {
	for _, rr := range m.Additional {
		if rr.Type == wire.TypeOPT {
			return rr, true
		}
	}
	return wire.RR{}, false
}

func stripOpt(rrs []wire.RR) []wire.RR {
	out := rrs[:0:0]
	for _, rr := range rrs {
		if rr.Type != wire.TypeOPT {
			out = append(out, rr)
		}
	}
	return out
}
