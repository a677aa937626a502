// Package server runs the UDP and TCP listeners and hands every request to
// the engine as raw bytes.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/jmeaster30/simpledns/config"
	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"
)

// Handler answers raw requests. It returns false when nothing is to be
// sent back.
type Handler interface {
	HandleBytes(ctx context.Context, raw []byte, remote net.Addr, proto string) ([]byte, bool)
}

// Server type
type Server struct {
	addr    string
	handler Handler

	rTimeout time.Duration
	wTimeout time.Duration

	mu      sync.Mutex
	servers map[string]*dns.Server
}

// New return new server
func New(cfg *config.Config, h Handler) *Server {
	addr := cfg.Bind
	if addr == "" {
		addr = ":53"
	}

	return &Server{
		addr:     addr,
		handler:  h,
		rTimeout: 5 * time.Second,
		wTimeout: 5 * time.Second,
		servers:  make(map[string]*dns.Server),
	}
}

// ServeDNS implements the dns.Handler interface. The request is packed
// again because the listener already parsed it.
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	raw, err := r.Pack()
	if err != nil {
		zlog.Debug("Request pack failed", "client", w.RemoteAddr().String(), "error", err.Error())
		return
	}

	proto := "udp"
	if _, ok := w.RemoteAddr().(*net.TCPAddr); ok {
		proto = "tcp"
	}

	resp, ok := s.handler.HandleBytes(context.Background(), raw, w.RemoteAddr(), proto)
	if !ok {
		return
	}

	if _, err := w.Write(resp); err != nil {
		zlog.Debug("Response write failed", "client", w.RemoteAddr().String(), "net", proto, "error", err.Error())
	}
}

// acceptMsg lets the engine judge every request except responses.
func acceptMsg(dh dns.Header) dns.MsgAcceptAction {
	if dh.Bits&(1<<15) != 0 {
		return dns.MsgIgnore
	}
	return dns.MsgAccept
}

// Start opens the udp and tcp listeners and serves them in the background.
func (s *Server) Start() error {
	for _, network := range []string{"udp", "tcp"} {
		if err := s.ListenAndServeDNS(network); err != nil {
			_ = s.Shutdown(context.Background())
			return err
		}
	}
	return nil
}

// ListenAndServeDNS opens a listener on network and serves it in the
// background.
func (s *Server) ListenAndServeDNS(network string) error {
	server := &dns.Server{
		Net:           network,
		Handler:       s,
		ReadTimeout:   s.rTimeout,
		WriteTimeout:  s.wTimeout,
		MaxTCPQueries: 2048,
		MsgAcceptFunc: acceptMsg,
	}

	switch network {
	case "udp":
		pc, err := net.ListenPacket("udp", s.addr)
		if err != nil {
			return err
		}
		server.PacketConn = pc
	case "tcp":
		l, err := net.Listen("tcp", s.addr)
		if err != nil {
			return err
		}
		server.Listener = l
	default:
		return errors.New("unknown network " + network)
	}

	started := make(chan struct{})
	server.NotifyStartedFunc = func() { close(started) }

	s.mu.Lock()
	s.servers[network] = server
	s.mu.Unlock()

	go func() {
		if err := server.ActivateAndServe(); err != nil {
			zlog.Error("DNS listener failed", "net", network, "addr", s.addr, "error", err.Error())
		}
	}()

	<-started

	zlog.Info("DNS server listening...", "net", network, "addr", s.LocalAddr(network).String())

	return nil
}

// LocalAddr returns the address the listener for network is bound to.
func (s *Server) LocalAddr(network string) net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	server, ok := s.servers[network]
	if !ok {
		return nil
	}

	if server.PacketConn != nil {
		return server.PacketConn.LocalAddr()
	}
	return server.Listener.Addr()
}

// Shutdown stops every listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for network, server := range s.servers {
		if err := server.ShutdownContext(ctx); err != nil {
			errs = append(errs, err)
		}
		delete(s.servers, network)
	}

	return errors.Join(errs...)
}
