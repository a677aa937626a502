package middleware

import (
	"context"

	"github.com/jmeaster30/simpledns/wire"
)

// Chain type.
type Chain struct {
	Writer  ResponseWriter
	Request *wire.Message

	handlers []Handler

	head  int
	count int
}

// NewChain return new fresh chain.
func NewChain(handlers []Handler) *Chain {
	return &Chain{
		Writer:   &responseWriter{},
		handlers: handlers,
		count:    len(handlers),
	}
}

// (*Chain).Next next call next dns handler in the chain.
func (ch *Chain) Next(ctx context.Context) {
	if ch.count == 0 {
		return
	}

	handler := ch.handlers[ch.head]
	ch.head = (ch.head + 1) % len(ch.handlers)
	ch.count--

	handler.ServeDNS(ctx, ch)
}

// (*Chain).Cancel cancel next calls.
func (ch *Chain) Cancel() {
	ch.count = 0
}

// (*Chain).CancelWithRcode answers with rcode and cancels next calls.
func (ch *Chain) CancelWithRcode(rcode wire.Rcode) {
	m := new(wire.Message).SetRcode(ch.Request, rcode)
	m.RecursionAvailable = true

	_ = ch.Writer.WriteMsg(m)

	ch.count = 0
}

// (*Chain).Reset reset the chain variables.
func (ch *Chain) Reset(w Writer, r *wire.Message) {
	if _, ok := ch.Writer.(*responseWriter); !ok {
		ch.Writer = &responseWriter{}
	}
	ch.Writer.Reset(w)
	ch.Request = r
	ch.count = len(ch.handlers)
	ch.head = 0
}

// Question returns the question of the request.
func (ch *Chain) Question() wire.Question {
	return ch.Request.Question[0]
}
