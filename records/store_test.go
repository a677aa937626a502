package records

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jmeaster30/simpledns/config"
	"github.com/jmeaster30/simpledns/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRecord(t *testing.T, name, typ, value string) wire.RR {
	t.Helper()

	rr, err := ParseRecord(name, typ, 60, value, 10)
	require.NoError(t, err)

	return rr
}

func question(name string, typ wire.Type) wire.Question {
	return wire.Question{Name: wire.Fqdn(name), Type: typ, Class: wire.ClassINET}
}

func Test_LookupExactBeatsPattern(t *testing.T) {
	s := NewStore()

	err := s.Reload([]Rule{
		RegexBlock{Pattern: `.*\.lan`, Action: ActionNXDomain},
		Exact{Record: mustRecord(t, "host.lan", "A", "192.168.1.20")},
	})
	require.NoError(t, err)

	res := s.Lookup(question("host.lan", wire.TypeA))
	require.Equal(t, Hit, res.Kind)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "192.168.1.20", res.Records[0].Data.String())

	res = s.Lookup(question("other.lan", wire.TypeA))
	assert.Equal(t, Blocked, res.Kind)
	assert.Equal(t, ActionNXDomain, res.Action)
}

func Test_LookupCaseInsensitive(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Reload([]Rule{Exact{Record: mustRecord(t, "Router.LAN", "A", "192.168.1.1")}}))

	res := s.Lookup(question("ROUTER.lan.", wire.TypeA))
	require.Equal(t, Hit, res.Kind)
	assert.Equal(t, "ROUTER.lan.", res.Records[0].Name)
}

func Test_LookupWildcardSpecificity(t *testing.T) {
	s := NewStore()

	err := s.Reload([]Rule{
		Exact{Record: mustRecord(t, "*.lan", "A", "10.0.0.1")},
		Exact{Record: mustRecord(t, "*.iot.lan", "A", "10.0.0.2")},
		Exact{Record: mustRecord(t, "nas.iot.lan", "A", "10.0.0.3")},
	})
	require.NoError(t, err)

	for name, want := range map[string]string{
		"printer.lan":       "10.0.0.1",
		"cam.iot.lan":       "10.0.0.2",
		"deep.cam.iot.lan":  "10.0.0.2",
		"nas.iot.lan":       "10.0.0.3",
		"x.nas.iot.lan":     "10.0.0.2",
		"a.b.c.printer.lan": "10.0.0.1",
	} {
		res := s.Lookup(question(name, wire.TypeA))
		require.Equal(t, Hit, res.Kind, name)
		require.Len(t, res.Records, 1, name)
		assert.Equal(t, want, res.Records[0].Data.String(), name)
		assert.Equal(t, wire.Fqdn(name), res.Records[0].Name, name)
	}

	assert.Equal(t, Miss, s.Lookup(question("lan", wire.TypeA)).Kind)
}

func Test_LookupCNAMEFallback(t *testing.T) {
	s := NewStore()

	err := s.Reload([]Rule{
		Exact{Record: mustRecord(t, "www.lan", "CNAME", "web.lan.")},
		Exact{Record: mustRecord(t, "www.lan", "TXT", "hello world")},
	})
	require.NoError(t, err)

	res := s.Lookup(question("www.lan", wire.TypeA))
	require.Equal(t, Hit, res.Kind)
	require.Len(t, res.Records, 1)
	assert.Equal(t, wire.TypeCNAME, res.Records[0].Type)
	assert.Equal(t, "web.lan.", res.Records[0].Data.(*wire.CNAME).Target)

	res = s.Lookup(question("www.lan", wire.TypeTXT))
	require.Len(t, res.Records, 1)
	assert.Equal(t, []string{"hello world"}, res.Records[0].Data.(*wire.TXT).Text)
}

func Test_LookupNoDataForOtherType(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Reload([]Rule{Exact{Record: mustRecord(t, "router.lan", "A", "192.168.1.1")}}))

	res := s.Lookup(question("router.lan", wire.TypeAAAA))
	assert.Equal(t, Hit, res.Kind)
	assert.Empty(t, res.Records)

	res = s.Lookup(question("router.lan", wire.TypeANY))
	assert.Len(t, res.Records, 1)
}

func Test_LookupPatternOrder(t *testing.T) {
	s := NewStore()

	err := s.Reload([]Rule{
		RegexAllow{Pattern: `good\.ads\.example\.com`},
		RegexBlock{Pattern: `.*\.ads\.example\.com`, Action: ActionNullAddress},
		RegexRewrite{Pattern: `.*\.example\.com`, Target: mustRecord(t, ".", "A", "10.1.1.1")},
		RegexBlock{Pattern: `.*\.com`, Action: ActionNXDomain},
	})
	require.NoError(t, err)

	res := s.Lookup(question("track.ads.example.com", wire.TypeA))
	assert.Equal(t, Blocked, res.Kind)
	assert.Equal(t, ActionNullAddress, res.Action)

	res = s.Lookup(question("good.ads.example.com", wire.TypeA))
	assert.Equal(t, Miss, res.Kind)
	assert.Contains(t, res.Rule, "allow")

	res = s.Lookup(question("www.example.com", wire.TypeA))
	require.Equal(t, Hit, res.Kind)
	assert.Equal(t, "www.example.com.", res.Records[0].Name)
	assert.Equal(t, "10.1.1.1", res.Records[0].Data.String())

	res = s.Lookup(question("example.org", wire.TypeA))
	assert.Equal(t, Miss, res.Kind)

	res = s.Lookup(question("other.com", wire.TypeA))
	assert.Equal(t, Blocked, res.Kind)
	assert.Equal(t, ActionNXDomain, res.Action)
}

func Test_PatternIsAnchored(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Reload([]Rule{RegexBlock{Pattern: `ads`, Action: ActionNXDomain}}))

	assert.Equal(t, Miss, s.Lookup(question("ads.example.com", wire.TypeA)).Kind)
	assert.Equal(t, Blocked, s.Lookup(question("ads", wire.TypeA)).Kind)
}

func Test_NameBlock(t *testing.T) {
	s := NewStore()

	err := s.Reload([]Rule{
		NameBlock{Name: "Tracker.Example.net", Action: ActionNullAddress},
		Exact{Record: mustRecord(t, "*.example.net", "A", "10.0.0.9")},
	})
	require.NoError(t, err)

	// wildcard records come before blocks
	res := s.Lookup(question("tracker.example.net", wire.TypeA))
	assert.Equal(t, Hit, res.Kind)

	require.NoError(t, s.Reload([]Rule{NameBlock{Name: "Tracker.Example.net", Action: ActionNullAddress}}))
	res = s.Lookup(question("tracker.example.net", wire.TypeA))
	assert.Equal(t, Blocked, res.Kind)
	assert.Equal(t, Miss, s.Lookup(question("sub.tracker.example.net", wire.TypeA)).Kind)
}

func Test_ReloadIdempotent(t *testing.T) {
	rules := []Rule{
		Exact{Record: mustRecord(t, "router.lan", "A", "192.168.1.1")},
		Exact{Record: mustRecord(t, "*.lan", "AAAA", "fd00::1")},
		NameBlock{Name: "ads.example.org", Action: ActionNXDomain},
		RegexBlock{Pattern: `.*\.ads\.example\.com`, Action: ActionNXDomain},
	}

	queries := []wire.Question{
		question("router.lan", wire.TypeA),
		question("printer.lan", wire.TypeAAAA),
		question("ads.example.org", wire.TypeA),
		question("x.ads.example.com", wire.TypeA),
		question("example.com", wire.TypeA),
	}

	s := NewStore()
	require.NoError(t, s.Reload(rules))

	first := make([]Result, len(queries))
	for i, q := range queries {
		first[i] = s.Lookup(q)
	}

	require.NoError(t, s.Reload(rules))

	for i, q := range queries {
		assert.Equal(t, first[i], s.Lookup(q), q.String())
	}
}

func Test_ReloadFailureKeepsTable(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Reload([]Rule{Exact{Record: mustRecord(t, "router.lan", "A", "192.168.1.1")}}))

	err := s.Reload([]Rule{RegexBlock{Pattern: `(unclosed`, Action: ActionNXDomain}})
	assert.Error(t, err)

	assert.Equal(t, Hit, s.Lookup(question("router.lan", wire.TypeA)).Kind)
	assert.Len(t, s.Rules(), 1)

	err = s.Reload([]Rule{Exact{Record: wire.RR{Name: "bad.lan."}}})
	assert.Error(t, err)
}

func Test_ReloadConcurrentLookups(t *testing.T) {
	s := NewStore()

	a := []Rule{Exact{Record: mustRecord(t, "flip.lan", "A", "10.0.0.1")}}
	b := []Rule{Exact{Record: mustRecord(t, "flip.lan", "A", "10.0.0.2")}}
	require.NoError(t, s.Reload(a))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				res := s.Lookup(question("flip.lan", wire.TypeA))
				if res.Kind != Hit || len(res.Records) != 1 {
					t.Errorf("unexpected result %v", res)
					return
				}
			}
		}()
	}

	for j := 0; j < 100; j++ {
		if j%2 == 0 {
			_ = s.Reload(b)
		} else {
			_ = s.Reload(a)
		}
	}

	wg.Wait()
}

func Test_ParseRecord(t *testing.T) {
	rr, err := ParseRecord("lan", "mx", 0, "mail.lan.", 5)
	require.NoError(t, err)
	assert.Equal(t, uint32(defaultTTL), rr.TTL)
	assert.Equal(t, &wire.MX{Preference: 5, Exchange: "mail.lan."}, rr.Data)

	rr, err = ParseRecord("lan", "MX", 60, "20 mail2.lan.", 5)
	require.NoError(t, err)
	assert.Equal(t, uint16(20), rr.Data.(*wire.MX).Preference)

	rr, err = ParseRecord("v6.lan", "AAAA", 60, "fd00::53", 0)
	require.NoError(t, err)
	assert.Equal(t, "fd00::53", rr.Data.String())

	_, err = ParseRecord("bad.lan", "A", 60, "not-an-ip", 0)
	assert.Error(t, err)

	_, err = ParseRecord("", "A", 60, "10.0.0.1", 0)
	assert.Error(t, err)
}

func Test_ParseHosts(t *testing.T) {
	data := `# comment
127.0.0.1 localhost
0.0.0.0 0.0.0.0
0.0.0.0 Ads.Example.com
0.0.0.0 tracker.example.com # inline
plain.example.net

bad..name
`
	names, err := ParseHosts(strings.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, []string{"ads.example.com.", "tracker.example.com.", "plain.example.net."}, names)
}

func Test_FromConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "list.txt"), []byte("0.0.0.0 file.example.com\n"), 0o600))

	cfg := config.Default()
	cfg.BlockListDir = dir
	cfg.Blocklist = []string{"manual.example.com"}
	cfg.Records = []config.Record{{Name: "router.lan", Type: "A", Value: "192.168.1.1"}}
	cfg.Rules = []config.Rule{
		{Pattern: `ok\.ads\.example\.com`, Action: "allow"},
		{Pattern: `.*\.ads\.example\.com`, Action: "nxdomain"},
		{Pattern: `.*\.tv\.lan`, Action: "null"},
		{Pattern: `cdn\..*`, Action: "rewrite", Type: "CNAME", Value: "edge.lan."},
	}

	rules, err := FromConfig(cfg)
	require.NoError(t, err)
	require.Len(t, rules, 7)

	s := NewStore()
	require.NoError(t, s.Reload(rules))

	assert.Equal(t, Hit, s.Lookup(question("router.lan", wire.TypeA)).Kind)
	assert.Equal(t, Blocked, s.Lookup(question("manual.example.com", wire.TypeA)).Kind)
	assert.Equal(t, Blocked, s.Lookup(question("file.example.com", wire.TypeA)).Kind)
	assert.Equal(t, Miss, s.Lookup(question("ok.ads.example.com", wire.TypeA)).Kind)
	assert.Equal(t, ActionNXDomain, s.Lookup(question("x.ads.example.com", wire.TypeA)).Action)
	assert.Equal(t, ActionNullAddress, s.Lookup(question("box.tv.lan", wire.TypeA)).Action)

	res := s.Lookup(question("cdn.example.org", wire.TypeA))
	require.Equal(t, Hit, res.Kind)
	assert.Equal(t, wire.TypeCNAME, res.Records[0].Type)

	cfg.Rules = append(cfg.Rules, config.Rule{Pattern: "x", Action: "explode"})
	_, err = FromConfig(cfg)
	assert.Error(t, err)
}
