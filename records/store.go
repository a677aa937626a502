package records

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/jmeaster30/simpledns/wire"
	"github.com/semihalev/zlog/v2"
)

// Store serves lookups from the active table. Reload builds a new table
// and swaps it in with a single pointer store, so a lookup always sees
// either the old or the new table in full.
type Store struct {
	table atomic.Pointer[table]
}

type table struct {
	rules []Rule

	exact     map[string][]wire.RR
	wildcards map[string][]wire.RR
	blocks    map[string]Action
	patterns  []pattern
}

type patternKind int

const (
	patternBlock patternKind = iota
	patternRewrite
	patternAllow
)

type pattern struct {
	re     *regexp.Regexp
	kind   patternKind
	action Action
	target wire.RR
	source string
}

// NewStore returns a store with an empty table.
func NewStore() *Store {
	s := new(Store)
	s.table.Store(newTable())
	return s
}

func newTable() *table {
	return &table{
		exact:     make(map[string][]wire.RR),
		wildcards: make(map[string][]wire.RR),
		blocks:    make(map[string]Action),
	}
}

// Reload compiles rules into a new table and publishes it. On error the
// active table is left untouched.
func (s *Store) Reload(rules []Rule) error {
	t, err := compile(rules)
	if err != nil {
		return err
	}

	s.table.Store(t)

	zlog.Info("Override table loaded", "records", len(t.exact)+len(t.wildcards),
		"blocks", len(t.blocks), "patterns", len(t.patterns))

	return nil
}

// Rules returns the rules of the active table in configuration order.
func (s *Store) Rules() []Rule {
	return append([]Rule(nil), s.table.Load().rules...)
}

func compile(rules []Rule) (*table, error) {
	t := newTable()
	t.rules = append(t.rules, rules...)

	for i, r := range rules {
		switch r := r.(type) {
		case Exact:
			if r.Record.Data == nil {
				return nil, fmt.Errorf("rule %d: record %s has no data", i, r.Record.Name)
			}

			rr := r.Record.Copy()
			rr.Name = wire.CanonicalName(rr.Name)
			if rr.Class == 0 {
				rr.Class = wire.ClassINET
			}

			if suffix, ok := strings.CutPrefix(rr.Name, "*."); ok {
				t.wildcards[suffix] = append(t.wildcards[suffix], rr)
				continue
			}
			t.exact[rr.Name] = append(t.exact[rr.Name], rr)

		case NameBlock:
			if r.Name == "" {
				return nil, fmt.Errorf("rule %d: empty block name", i)
			}
			name := wire.CanonicalName(r.Name)
			if _, ok := t.blocks[name]; !ok {
				t.blocks[name] = r.Action
			}

		case RegexBlock:
			re, err := compilePattern(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			t.patterns = append(t.patterns, pattern{re: re, kind: patternBlock, action: r.Action, source: r.String()})

		case RegexRewrite:
			re, err := compilePattern(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			if r.Target.Data == nil {
				return nil, fmt.Errorf("rule %d: rewrite /%s/ has no target data", i, r.Pattern)
			}
			target := r.Target.Copy()
			if target.Class == 0 {
				target.Class = wire.ClassINET
			}
			t.patterns = append(t.patterns, pattern{re: re, kind: patternRewrite, target: target, source: r.String()})

		case RegexAllow:
			re, err := compilePattern(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			t.patterns = append(t.patterns, pattern{re: re, kind: patternAllow, source: r.String()})

		default:
			return nil, fmt.Errorf("rule %d: unsupported rule %T", i, r)
		}
	}

	return t, nil
}

// compilePattern anchors the expression so it has to match the whole name,
// which is matched in lower case without the trailing dot.
func compilePattern(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	re, err := regexp.Compile(`^(?:` + expr + `)$`)
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", expr, err)
	}
	return re, nil
}

// Lookup matches q against the active table. Exact records win over
// wildcards, wildcards over name blocks, and all of them over patterns,
// which are tried in configuration order.
func (s *Store) Lookup(q wire.Question) Result {
	t := s.table.Load()

	if q.Class != wire.ClassINET && q.Class != wire.ClassANY {
		return Result{Kind: Miss}
	}

	name := wire.CanonicalName(q.Name)

	if rrs, ok := t.exact[name]; ok {
		return answer(rrs, q, "record "+name)
	}

	for n := name; ; {
		parent, ok := wire.Parent(n)
		if !ok {
			break
		}
		if rrs, ok := t.wildcards[parent]; ok {
			return answer(rrs, q, "record *."+parent)
		}
		n = parent
	}

	if action, ok := t.blocks[name]; ok {
		return Result{Kind: Blocked, Action: action, Rule: "block " + name}
	}

	if len(t.patterns) == 0 {
		return Result{Kind: Miss}
	}

	bare := strings.TrimSuffix(name, ".")
	for _, p := range t.patterns {
		if !p.re.MatchString(bare) {
			continue
		}

		switch p.kind {
		case patternBlock:
			return Result{Kind: Blocked, Action: p.action, Rule: p.source}
		case patternAllow:
			return Result{Kind: Miss, Rule: p.source}
		case patternRewrite:
			return answer([]wire.RR{p.target}, q, p.source)
		}
	}

	return Result{Kind: Miss}
}

// answer picks the records of the asked type from a name's set, falling
// back to its CNAME. A name with neither gets an empty authoritative answer.
func answer(rrs []wire.RR, q wire.Question, source string) Result {
	res := Result{Kind: Hit, Rule: source}

	var cname *wire.RR
	for i := range rrs {
		rr := &rrs[i]
		if rr.Type == wire.TypeCNAME && cname == nil {
			cname = rr
		}
		if q.Type == wire.TypeANY || rr.Type == q.Type {
			res.Records = append(res.Records, own(*rr, q.Name))
		}
	}

	if len(res.Records) == 0 && cname != nil {
		res.Records = append(res.Records, own(*cname, q.Name))
	}

	return res
}

func own(rr wire.RR, name string) wire.RR {
	out := rr.Copy()
	out.Name = name
	return out
}
