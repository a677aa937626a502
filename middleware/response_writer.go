package middleware

import (
	"errors"
	"net"
	"net/netip"

	"github.com/jmeaster30/simpledns/wire"
)

// Writer is the destination of a response, provided by the listener.
type Writer interface {
	WriteMsg(*wire.Message) error
	RemoteAddr() net.Addr
	Proto() string
}

// ResponseWriter wraps a Writer and remembers what was written.
type ResponseWriter interface {
	Writer
	Msg() *wire.Message
	Rcode() wire.Rcode
	Written() bool
	Reset(Writer)
	RemoteIP() netip.Addr
	Internal() bool
}

type responseWriter struct {
	Writer
	msg      *wire.Message
	written  bool
	rcode    wire.Rcode
	proto    string
	remoteip netip.Addr
	internal bool
}

var _ ResponseWriter = &responseWriter{}
var errAlreadyWritten = errors.New("msg already written")

// InternalAddr is the remote address of queries made by the process
// itself.
var InternalAddr net.Addr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 255), Port: 0}

func (w *responseWriter) Msg() *wire.Message {
	return w.msg
}

func (w *responseWriter) Reset(rw Writer) {
	w.Writer = rw
	w.written = false
	w.msg = nil
	w.rcode = wire.RcodeSuccess
	w.proto = rw.Proto()
	w.remoteip = netip.Addr{}

	switch addr := rw.RemoteAddr().(type) {
	case *net.TCPAddr:
		w.remoteip = addr.AddrPort().Addr().Unmap()
	case *net.UDPAddr:
		w.remoteip = addr.AddrPort().Addr().Unmap()
	}

	w.internal = rw.RemoteAddr() != nil && rw.RemoteAddr().String() == InternalAddr.String()
}

func (w *responseWriter) RemoteIP() netip.Addr {
	return w.remoteip
}

func (w *responseWriter) Proto() string {
	return w.proto
}

func (w *responseWriter) Rcode() wire.Rcode {
	return w.rcode
}

func (w *responseWriter) Written() bool {
	return w.written
}

func (w *responseWriter) WriteMsg(m *wire.Message) error {
	if w.Written() {
		return errAlreadyWritten
	}

	w.msg = m
	w.rcode = m.Rcode
	w.written = true

	return w.Writer.WriteMsg(m)
}

// (*responseWriter).Internal internal func.
func (w *responseWriter) Internal() bool { return w.internal }
