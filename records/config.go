package records

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jmeaster30/simpledns/config"
	"github.com/jmeaster30/simpledns/wire"
	"github.com/miekg/dns"
)

const defaultTTL = 300

// FromConfig builds the ordered rule list of a config: local records
// first, then manual and file blocklists, then pattern rules. Order only
// matters among the pattern rules.
func FromConfig(cfg *config.Config) ([]Rule, error) {
	var rules []Rule

	for i, r := range cfg.Records {
		rr, err := ParseRecord(r.Name, r.Type, r.TTL, r.Value, r.Priority)
		if err != nil {
			return nil, fmt.Errorf("records[%d]: %w", i, err)
		}
		rules = append(rules, Exact{Record: rr})
	}

	for _, name := range cfg.Blocklist {
		rules = append(rules, NameBlock{Name: name, Action: ActionNullAddress})
	}

	names, err := ReadBlocklistDir(cfg.BlockListDir)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		rules = append(rules, NameBlock{Name: name, Action: ActionNullAddress})
	}

	for i, r := range cfg.Rules {
		rule, err := parseRule(r)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

func parseRule(r config.Rule) (Rule, error) {
	switch strings.ToLower(r.Action) {
	case "allow":
		return RegexAllow{Pattern: r.Pattern}, nil
	case "rewrite":
		rr, err := ParseRecord(".", r.Type, r.TTL, r.Value, r.Priority)
		if err != nil {
			return nil, err
		}
		return RegexRewrite{Pattern: r.Pattern, Target: rr}, nil
	default:
		action, err := ParseAction(r.Action)
		if err != nil {
			return nil, err
		}
		return RegexBlock{Pattern: r.Pattern, Action: action}, nil
	}
}

// ParseRecord parses a record from its zone file parts. MX records take
// their preference from priority unless value already carries one.
func ParseRecord(name, typ string, ttl uint32, value string, priority uint16) (wire.RR, error) {
	typ = strings.ToUpper(strings.TrimSpace(typ))
	value = strings.TrimSpace(value)

	if name == "" {
		return wire.RR{}, fmt.Errorf("record without name")
	}
	if value == "" {
		return wire.RR{}, fmt.Errorf("record %s without value", name)
	}
	if ttl == 0 {
		ttl = defaultTTL
	}

	switch typ {
	case "MX":
		if len(strings.Fields(value)) == 1 {
			value = strconv.Itoa(int(priority)) + " " + value
		}
	case "TXT":
		if !strings.HasPrefix(value, `"`) {
			value = strconv.Quote(value)
		}
	}

	rr, err := dns.NewRR(fmt.Sprintf("%s %d IN %s %s", dns.Fqdn(name), ttl, typ, value))
	if err != nil {
		return wire.RR{}, fmt.Errorf("bad record %s %s: %w", name, typ, err)
	}
	if rr == nil {
		return wire.RR{}, fmt.Errorf("bad record %s %s", name, typ)
	}

	buf := make([]byte, dns.Len(rr)+1)
	off, err := dns.PackRR(rr, buf, 0, nil, false)
	if err != nil {
		return wire.RR{}, fmt.Errorf("bad record %s %s: %w", name, typ, err)
	}

	return wire.UnpackRR(buf[:off])
}
