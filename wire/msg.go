// Package wire implements the DNS message format: header, question and
// resource record sections, name compression, and a tagged representation
// of the record payloads a home resolver needs to interpret.
package wire

import (
	"encoding/hex"
	"net/netip"
	"strconv"
	"strings"
)

// Header is the fixed part of a message. Section counts are not stored,
// they always follow the section slices of the owning Message.
type Header struct {
	ID                 uint16
	Response           bool
	Opcode             Opcode
	Authoritative      bool
	Truncated          bool
	RecursionDesired   bool
	RecursionAvailable bool
	Zero               bool
	AuthenticatedData  bool
	CheckingDisabled   bool
	Rcode              Rcode
}

// Question is an entry of the question section.
type Question struct {
	Name  string
	Type  Type
	Class Class
}

func (q Question) String() string {
	return q.Name + " " + q.Class.String() + " " + q.Type.String()
}

// Message is a DNS protocol unit.
type Message struct {
	Header

	Question   []Question
	Answer     []RR
	Authority  []RR
	Additional []RR
}

// RR is a resource record. Data is never nil for a decoded record.
type RR struct {
	Name  string
	Type  Type
	Class Class
	TTL   uint32
	Data  RData
}

// RData is the type specific payload of a record. The set of
// implementations is closed: A, AAAA, CNAME, NS, PTR, MX, TXT, SOA and
// Opaque.
type RData interface {
	rdata()
	String() string
}

// A is an IPv4 host address.
type A struct{ Addr netip.Addr }

// AAAA is an IPv6 host address.
type AAAA struct{ Addr netip.Addr }

// CNAME is the canonical name of an alias.
type CNAME struct{ Target string }

// NS is an authoritative name server.
type NS struct{ Host string }

// PTR points to another name, mostly used for reverse lookups and
// service discovery.
type PTR struct{ Target string }

// MX is a mail exchange.
type MX struct {
	Preference uint16
	Exchange   string
}

// TXT holds one or more character strings.
type TXT struct{ Text []string }

// SOA marks the start of a zone of authority.
type SOA struct {
	MName   string
	RName   string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

// Opaque carries the raw payload of a type that is not interpreted.
type Opaque struct{ Raw []byte }

func (*A) rdata()      {}
func (*AAAA) rdata()   {}
func (*CNAME) rdata()  {}
func (*NS) rdata()     {}
func (*PTR) rdata()    {}
func (*MX) rdata()     {}
func (*TXT) rdata()    {}
func (*SOA) rdata()    {}
func (*Opaque) rdata() {}

func (d *A) String() string     { return d.Addr.String() }
func (d *AAAA) String() string  { return d.Addr.String() }
func (d *CNAME) String() string { return d.Target }
func (d *NS) String() string    { return d.Host }
func (d *PTR) String() string   { return d.Target }

func (d *MX) String() string {
	return strconv.Itoa(int(d.Preference)) + " " + d.Exchange
}

func (d *TXT) String() string {
	parts := make([]string, len(d.Text))
	for i, s := range d.Text {
		parts[i] = strconv.Quote(s)
	}
	return strings.Join(parts, " ")
}

func (d *SOA) String() string {
	return d.MName + " " + d.RName + " " +
		strconv.FormatUint(uint64(d.Serial), 10) + " " +
		strconv.FormatUint(uint64(d.Refresh), 10) + " " +
		strconv.FormatUint(uint64(d.Retry), 10) + " " +
		strconv.FormatUint(uint64(d.Expire), 10) + " " +
		strconv.FormatUint(uint64(d.Minimum), 10)
}

// String uses the generic RFC 3597 form.
func (d *Opaque) String() string {
	return `\# ` + strconv.Itoa(len(d.Raw)) + " " + hex.EncodeToString(d.Raw)
}

// String returns the record in zone file presentation format.
func (rr RR) String() string {
	var sb strings.Builder
	sb.WriteString(rr.Name)
	sb.WriteByte('\t')
	sb.WriteString(strconv.FormatUint(uint64(rr.TTL), 10))
	sb.WriteByte('\t')
	sb.WriteString(rr.Class.String())
	sb.WriteByte('\t')
	sb.WriteString(rr.Type.String())
	if rr.Data != nil {
		sb.WriteByte('\t')
		sb.WriteString(rr.Data.String())
	}
	return sb.String()
}

// Copy returns a deep copy of the record.
func (rr RR) Copy() RR {
	out := rr
	switch d := rr.Data.(type) {
	case *A:
		c := *d
		out.Data = &c
	case *AAAA:
		c := *d
		out.Data = &c
	case *CNAME:
		c := *d
		out.Data = &c
	case *NS:
		c := *d
		out.Data = &c
	case *PTR:
		c := *d
		out.Data = &c
	case *MX:
		c := *d
		out.Data = &c
	case *TXT:
		out.Data = &TXT{Text: append([]string(nil), d.Text...)}
	case *SOA:
		c := *d
		out.Data = &c
	case *Opaque:
		out.Data = &Opaque{Raw: append([]byte(nil), d.Raw...)}
	}
	return out
}

// CopyRRs deep copies a record slice.
func CopyRRs(in []RR) []RR {
	if in == nil {
		return nil
	}
	out := make([]RR, len(in))
	for i, rr := range in {
		out[i] = rr.Copy()
	}
	return out
}

// SetQuestion makes m a recursion desired query for a single question.
func (m *Message) SetQuestion(name string, t Type) *Message {
	m.Opcode = OpcodeQuery
	m.RecursionDesired = true
	m.Question = []Question{{Name: Fqdn(name), Type: t, Class: ClassINET}}
	return m
}

// SetReply turns m into an empty NOERROR reply to req.
func (m *Message) SetReply(req *Message) *Message {
	m.ID = req.ID
	m.Response = true
	m.Opcode = req.Opcode
	m.RecursionDesired = req.RecursionDesired
	m.CheckingDisabled = req.CheckingDisabled
	m.Rcode = RcodeSuccess
	if len(req.Question) > 0 {
		m.Question = []Question{req.Question[0]}
	}
	return m
}

// SetRcode is SetReply with a response code.
func (m *Message) SetRcode(req *Message, rcode Rcode) *Message {
	m.SetReply(req)
	m.Rcode = rcode
	return m
}

// Copy returns a deep copy of the message.
func (m *Message) Copy() *Message {
	out := &Message{Header: m.Header}
	if m.Question != nil {
		out.Question = append([]Question(nil), m.Question...)
	}
	out.Answer = CopyRRs(m.Answer)
	out.Authority = CopyRRs(m.Authority)
	out.Additional = CopyRRs(m.Additional)
	return out
}

func (m *Message) String() string {
	var sb strings.Builder
	sb.WriteString(";; opcode: " + m.Opcode.String() + ", status: " + m.Rcode.String() +
		", id: " + strconv.Itoa(int(m.ID)) + "\n")
	sb.WriteString(";; flags:")
	for _, f := range []struct {
		set  bool
		name string
	}{
		{m.Response, "qr"}, {m.Authoritative, "aa"}, {m.Truncated, "tc"},
		{m.RecursionDesired, "rd"}, {m.RecursionAvailable, "ra"},
		{m.AuthenticatedData, "ad"}, {m.CheckingDisabled, "cd"},
	} {
		if f.set {
			sb.WriteString(" " + f.name)
		}
	}
	sb.WriteString("\n")
	for _, q := range m.Question {
		sb.WriteString(";" + q.String() + "\n")
	}
	for _, section := range [][]RR{m.Answer, m.Authority, m.Additional} {
		for _, rr := range section {
			sb.WriteString(rr.String() + "\n")
		}
	}
	return sb.String()
}
