package resolver

import (
	"fmt"

	"github.com/jmeaster30/simpledns/wire"
)

// Kind classifies a resolution failure.
type Kind int

const (
	// KindNxdomain means the name does not exist.
	KindNxdomain Kind = iota + 1
	// KindServerFailure means no server gave a usable answer.
	KindServerFailure
	// KindTimeout means the servers did not answer in time.
	KindTimeout
	// KindReferralLoop means a loop or the hop budget stopped resolution.
	KindReferralLoop
)

func (k Kind) String() string {
	switch k {
	case KindNxdomain:
		return "nxdomain"
	case KindServerFailure:
		return "server failure"
	case KindTimeout:
		return "timeout"
	case KindReferralLoop:
		return "referral loop"
	}
	return "unknown"
}

// Error is a resolution failure. Errors of the same Kind match with
// errors.Is, so callers compare against the sentinels below.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// Authority holds the SOA of an NXDOMAIN answer and Chain the aliases
	// followed before reaching the missing name.
	Authority []wire.RR
	Chain     []wire.RR
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Rcode returns the response code a client gets for the error.
func (e *Error) Rcode() wire.Rcode {
	if e.Kind == KindNxdomain {
		return wire.RcodeNameError
	}
	return wire.RcodeServerFailure
}

// WithContext returns a copy of e with more detail in the message.
func (e *Error) WithContext(format string, args ...any) *Error {
	out := *e
	out.Message = fmt.Sprintf(e.Message+" - "+format, args...)
	return &out
}

// Sentinel errors.
var (
	ErrNxdomain = &Error{
		Kind:    KindNxdomain,
		Message: "name does not exist",
	}
	ErrServerFailure = &Error{
		Kind:    KindServerFailure,
		Message: "all servers failed",
	}
	ErrTimeout = &Error{
		Kind:    KindTimeout,
		Message: "servers did not respond",
	}
	ErrReferralLoop = &Error{
		Kind:    KindReferralLoop,
		Message: "referral loop detected",
	}
)

var (
	errHopBudget = ErrReferralLoop.WithContext("hop budget exhausted")
	errNoServers = ErrServerFailure.WithContext("no servers to query")
)

func newNxdomain(authority, chain []wire.RR) *Error {
	return &Error{
		Kind:      KindNxdomain,
		Message:   ErrNxdomain.Message,
		Authority: authority,
		Chain:     chain,
	}
}
