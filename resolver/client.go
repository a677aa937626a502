package resolver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	headerSize = 12
	maxMsgSize = 65535
	minMsgSize = 512
)

// Exchanger sends one raw query to a server and returns the raw reply.
// network is "udp" or "tcp".
type Exchanger interface {
	Exchange(ctx context.Context, network, server string, req []byte) ([]byte, error)
}

// Client is the network Exchanger.
type Client struct {
	Dialer net.Dialer
}

// NewClient returns a client dialing with the given timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{Dialer: net.Dialer{Timeout: timeout}}
}

// Exchange implements Exchanger.
func (c *Client) Exchange(ctx context.Context, network, server string, req []byte) ([]byte, error) {
	conn, err := c.Dialer.DialContext(ctx, network, server)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	// unblock reads when the context ends before the deadline
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	co := &Conn{Conn: conn, UDPSize: maxMsgSize}

	if _, err := co.Write(req); err != nil {
		return nil, err
	}

	resp, err := co.ReadMsg()
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return resp, err
}

// A Conn represents a connection to a DNS server.
type Conn struct {
	net.Conn        // a net.Conn holding the connection
	UDPSize  uint16 // minimum receive buffer for UDP messages
}

// ErrShortRead is returned for replies shorter than a header.
var ErrShortRead = errors.New("short read")

// ReadMsg reads one raw message from the connection co.
func (co *Conn) ReadMsg() ([]byte, error) {
	var (
		p   []byte
		n   int
		err error
	)

	if _, ok := co.Conn.(net.PacketConn); ok {
		size := co.UDPSize
		if size < minMsgSize {
			size = minMsgSize
		}
		p = AcquireBuf(size)
		defer ReleaseBuf(p)
		n, err = co.Conn.Read(p)
	} else {
		var length uint16
		if err := binary.Read(co.Conn, binary.BigEndian, &length); err != nil {
			return nil, err
		}

		p = AcquireBuf(length)
		defer ReleaseBuf(p)
		n, err = io.ReadFull(co.Conn, p)
	}

	if err != nil {
		return nil, err
	} else if n < headerSize {
		return nil, ErrShortRead
	}

	return append([]byte(nil), p[:n]...), nil
}

// Write implements the net.Conn Write method, adding the length prefix
// on stream connections.
func (co *Conn) Write(p []byte) (int, error) {
	if len(p) > maxMsgSize {
		return 0, fmt.Errorf("message too large: %d bytes", len(p))
	}

	if _, ok := co.Conn.(net.PacketConn); ok {
		return co.Conn.Write(p)
	}

	l := make([]byte, 2)
	binary.BigEndian.PutUint16(l, uint16(len(p)))

	n, err := (&net.Buffers{l, p}).WriteTo(co.Conn)
	return int(n), err
}

var bufferPool sync.Pool

// AcquireBuf returns an buf from pool
func AcquireBuf(size uint16) []byte {
	x := bufferPool.Get()
	if x == nil {
		return make([]byte, size)
	}
	buf := *(x.(*[]byte))
	if cap(buf) < int(size) {
		return make([]byte, size)
	}
	return buf[:size]
}

// ReleaseBuf returns buf to pool
func ReleaseBuf(buf []byte) {
	bufferPool.Put(&buf)
}
