// Package records holds the local override table: custom records, name
// blocks and ordered pattern rules. The table is immutable once built and
// is replaced as a whole on reload.
package records

import (
	"fmt"
	"strings"

	"github.com/jmeaster30/simpledns/wire"
)

// Action is what a block answers with.
type Action int

const (
	// ActionNXDomain answers NXDOMAIN.
	ActionNXDomain Action = iota
	// ActionNullAddress answers 0.0.0.0 or :: and NOERROR for other types.
	ActionNullAddress
)

func (a Action) String() string {
	switch a {
	case ActionNXDomain:
		return "nxdomain"
	case ActionNullAddress:
		return "null"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ParseAction parses the config spelling of an action.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(s) {
	case "nxdomain", "drop", "":
		return ActionNXDomain, nil
	case "null", "nullroute", "sink":
		return ActionNullAddress, nil
	}
	return 0, fmt.Errorf("unknown block action %q", s)
}

// Rule is one entry of the override configuration. The implementations are
// Exact, NameBlock, RegexBlock, RegexRewrite and RegexAllow.
type Rule interface {
	rule()
	String() string
}

// Exact serves Record for its owner name. An owner of the form *.suffix
// matches every name below suffix.
type Exact struct {
	Record wire.RR
}

// NameBlock blocks a single name.
type NameBlock struct {
	Name   string
	Action Action
}

// RegexBlock blocks every name matching Pattern.
type RegexBlock struct {
	Pattern string
	Action  Action
}

// RegexRewrite answers every name matching Pattern with Target, whose owner
// is replaced by the query name.
type RegexRewrite struct {
	Pattern string
	Target  wire.RR
}

// RegexAllow stops pattern evaluation for matching names so they are
// resolved normally.
type RegexAllow struct {
	Pattern string
}

func (Exact) rule()        {}
func (NameBlock) rule()    {}
func (RegexBlock) rule()   {}
func (RegexRewrite) rule() {}
func (RegexAllow) rule()   {}

func (r Exact) String() string { return "record " + r.Record.String() }

func (r NameBlock) String() string {
	return "block " + r.Name + " " + r.Action.String()
}

func (r RegexBlock) String() string {
	return "block /" + r.Pattern + "/ " + r.Action.String()
}

func (r RegexRewrite) String() string {
	return "rewrite /" + r.Pattern + "/ " + r.Target.String()
}

func (r RegexAllow) String() string { return "allow /" + r.Pattern + "/" }

// Kind classifies a lookup result.
type Kind int

const (
	// Miss means no rule applies and the query goes on to the cache.
	Miss Kind = iota
	// Hit means Records is the authoritative answer. An empty Records is
	// a no data answer.
	Hit
	// Blocked means the query is answered according to Action.
	Blocked
)

func (k Kind) String() string {
	switch k {
	case Miss:
		return "miss"
	case Hit:
		return "hit"
	case Blocked:
		return "blocked"
	}
	return "unknown"
}

// Result of a Store lookup.
type Result struct {
	Kind    Kind
	Records []wire.RR
	Action  Action

	// Rule that produced the result, empty on a miss.
	Rule string
}
