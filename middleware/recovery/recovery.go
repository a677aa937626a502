package recovery

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/jmeaster30/simpledns/middleware"
	"github.com/jmeaster30/simpledns/wire"
	"github.com/semihalev/zlog/v2"
)

// Recovery dummy type.
type Recovery struct{}

// New return recovery.
func New() *Recovery {
	return &Recovery{}
}

// (*Recovery).Name name return middleware name.
func (r *Recovery) Name() string { return name }

// (*Recovery).ServeDNS answers SERVFAIL when a later stage panics.
func (r *Recovery) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	defer func() {
		if r := recover(); r != nil {
			if !ch.Writer.Written() {
				ch.CancelWithRcode(wire.RcodeServerFailure)
			}
			ch.Cancel()

			zlog.Error("Recovered in ServeDNS", "recover", r)

			_, _ = os.Stderr.WriteString(fmt.Sprintf("panic: %v\n\n", r))
			debug.PrintStack()
		}
	}()

	ch.Next(ctx)
}

const name = "recovery"
