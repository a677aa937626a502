package mock

import (
	"net"

	"github.com/jmeaster30/simpledns/wire"
)

// Writer type
type Writer struct {
	msg *wire.Message

	proto string

	remoteAddr net.Addr
}

// NewWriter return writer
func NewWriter(proto, addr string) *Writer {
	w := &Writer{}

	switch proto {
	case "tcp":
		w.remoteAddr, _ = net.ResolveTCPAddr("tcp", addr)
		w.proto = "tcp"

	case "udp":
		w.remoteAddr, _ = net.ResolveUDPAddr("udp", addr)
		w.proto = "udp"
	}

	return w
}

// Rcode return message response code
func (w *Writer) Rcode() wire.Rcode {
	if w.msg == nil {
		return wire.RcodeServerFailure
	}

	return w.msg.Rcode
}

// Msg return current dns message
func (w *Writer) Msg() *wire.Message {
	return w.msg
}

// WriteMsg func
func (w *Writer) WriteMsg(msg *wire.Message) error {
	w.msg = msg
	return nil
}

// Written func
func (w *Writer) Written() bool {
	return w.msg != nil
}

// Proto func
func (w *Writer) Proto() string { return w.proto }

// RemoteAddr func
func (w *Writer) RemoteAddr() net.Addr { return w.remoteAddr }
