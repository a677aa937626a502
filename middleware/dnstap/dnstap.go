package dnstap

import (
	"context"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	dnstap "github.com/dnstap/golang-dnstap"
	framestream "github.com/farsightsec/golang-framestream"
	"github.com/jmeaster30/simpledns/config"
	"github.com/jmeaster30/simpledns/middleware"
	"github.com/jmeaster30/simpledns/wire"
	"github.com/semihalev/zlog/v2"
	"google.golang.org/protobuf/proto"
)

var contentType = []byte("protobuf:dnstap.Dnstap")

// Dnstap middleware for binary DNS logging
type Dnstap struct {
	identity   []byte
	version    []byte
	socketPath string

	reconnectDelay time.Duration
	messageQueue   chan []byte

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a new dnstap middleware. It logs nothing without a socket.
func New(cfg *config.Config) *Dnstap {
	d := &Dnstap{
		socketPath:     cfg.DnstapSocket,
		version:        []byte(strings.TrimSpace("simpledns " + cfg.ServerVersion())),
		reconnectDelay: 5 * time.Second,
		done:           make(chan struct{}),
	}

	if cfg.DnstapIdentity != "" {
		d.identity = []byte(cfg.DnstapIdentity)
	} else {
		hostname, _ := os.Hostname()
		d.identity = []byte(hostname)
	}

	if d.socketPath != "" {
		d.messageQueue = make(chan []byte, 1000)
		d.wg.Add(1)
		go d.run()
	}

	return d
}

// Name returns the name of the middleware
func (d *Dnstap) Name() string { return name }

// ServeDNS logs the client query and the response written for it.
func (d *Dnstap) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	if d.messageQueue == nil {
		ch.Next(ctx)
		return
	}

	w, req := ch.Writer, ch.Request
	queryTime := time.Now()

	d.logMessage(dnstap.Message_CLIENT_QUERY, w, req, nil, queryTime)

	ch.Writer = &responseWriter{
		ResponseWriter: w,
		query:          req,
		queryTime:      queryTime,
		dnstap:         d,
	}

	ch.Next(ctx)
}

// Close stops the writer goroutine.
func (d *Dnstap) Close() error {
	d.closeOnce.Do(func() { close(d.done) })
	d.wg.Wait()
	return nil
}

func (d *Dnstap) run() {
	defer d.wg.Done()

	for {
		conn, enc := d.connect()
		if conn == nil {
			return
		}

		if !d.drain(enc) {
			_ = enc.Close()
			_ = conn.Close()
			return
		}

		_ = conn.Close()

		select {
		case <-d.done:
			return
		case <-time.After(d.reconnectDelay):
		}
	}
}

func (d *Dnstap) connect() (net.Conn, *framestream.Encoder) {
	for {
		conn, enc, err := d.dial()
		if err == nil {
			zlog.Info("Connected to dnstap socket", "path", d.socketPath)
			return conn, enc
		}

		zlog.Error("Failed to connect to dnstap socket", "path", d.socketPath, "error", err.Error())

		select {
		case <-d.done:
			return nil, nil
		case <-time.After(d.reconnectDelay):
		}
	}
}

func (d *Dnstap) dial() (net.Conn, *framestream.Encoder, error) {
	conn, err := net.Dial("unix", d.socketPath)
	if err != nil {
		return nil, nil, err
	}

	enc, err := framestream.NewEncoder(conn, &framestream.EncoderOptions{
		ContentType:   contentType,
		Bidirectional: true,
	})
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	return conn, enc, nil
}

// drain writes frames until the encoder fails, which returns true, or
// the middleware is closed.
func (d *Dnstap) drain(enc *framestream.Encoder) bool {
	for {
		select {
		case <-d.done:
			return false
		case frame := <-d.messageQueue:
			if _, err := enc.Write(frame); err != nil {
				zlog.Error("Failed to write dnstap message", "error", err.Error())
				return true
			}
			if len(d.messageQueue) == 0 {
				if err := enc.Flush(); err != nil {
					zlog.Error("Failed to flush dnstap messages", "error", err.Error())
					return true
				}
			}
		}
	}
}

func (d *Dnstap) logMessage(typ dnstap.Message_Type, w middleware.ResponseWriter, query, response *wire.Message, ts time.Time) {
	msg := &dnstap.Message{
		Type: typ.Enum(),
	}

	switch addr := w.RemoteAddr().(type) {
	case *net.UDPAddr:
		msg.SocketProtocol = dnstap.SocketProtocol_UDP.Enum()
		setAddress(msg, addr.IP, addr.Port)
	case *net.TCPAddr:
		msg.SocketProtocol = dnstap.SocketProtocol_TCP.Enum()
		setAddress(msg, addr.IP, addr.Port)
	}

	if query != nil {
		if data, err := wire.Encode(query); err == nil {
			msg.QueryMessage = data
		}
	}

	if response == nil {
		msg.QueryTimeSec = proto.Uint64(uint64(ts.Unix()))
		msg.QueryTimeNsec = proto.Uint32(uint32(ts.Nanosecond()))
	} else {
		msg.ResponseTimeSec = proto.Uint64(uint64(ts.Unix()))
		msg.ResponseTimeNsec = proto.Uint32(uint32(ts.Nanosecond()))
		if data, err := wire.Encode(response); err == nil {
			msg.ResponseMessage = data
		}
	}

	frame, err := proto.Marshal(&dnstap.Dnstap{
		Type:     dnstap.Dnstap_MESSAGE.Enum(),
		Identity: d.identity,
		Version:  d.version,
		Message:  msg,
	})
	if err != nil {
		zlog.Error("Failed to encode dnstap message", "error", err.Error())
		return
	}

	select {
	case d.messageQueue <- frame:
	default:
		zlog.Warn("Dnstap message queue full, dropping message")
	}
}

func setAddress(msg *dnstap.Message, ip net.IP, port int) {
	if ip4 := ip.To4(); ip4 != nil {
		msg.SocketFamily = dnstap.SocketFamily_INET.Enum()
		msg.QueryAddress = ip4
	} else {
		msg.SocketFamily = dnstap.SocketFamily_INET6.Enum()
		msg.QueryAddress = ip.To16()
	}
	msg.QueryPort = proto.Uint32(uint32(port))
}

type responseWriter struct {
	middleware.ResponseWriter
	query     *wire.Message
	queryTime time.Time
	dnstap    *Dnstap
}

func (rw *responseWriter) WriteMsg(res *wire.Message) error {
	rw.dnstap.logMessage(dnstap.Message_CLIENT_RESPONSE, rw.ResponseWriter, rw.query, res, time.Now())
	return rw.ResponseWriter.WriteMsg(res)
}

const name = "dnstap"
