package wire

import (
	"strconv"

	"github.com/miekg/dns"
)

// Type is a resource record type.
type Type uint16

// Class is a resource record class.
type Class uint16

// Opcode is the kind of query in a message header.
type Opcode uint8

// Rcode is a response code.
type Rcode uint8

// Record types with interpreted payloads. Everything else decodes to Opaque.
const (
	TypeA     Type = Type(dns.TypeA)
	TypeNS    Type = Type(dns.TypeNS)
	TypeCNAME Type = Type(dns.TypeCNAME)
	TypeSOA   Type = Type(dns.TypeSOA)
	TypePTR   Type = Type(dns.TypePTR)
	TypeMX    Type = Type(dns.TypeMX)
	TypeTXT   Type = Type(dns.TypeTXT)
	TypeAAAA  Type = Type(dns.TypeAAAA)
	TypeOPT   Type = Type(dns.TypeOPT)
	TypeANY   Type = Type(dns.TypeANY)
)

// Classes.
const (
	ClassINET  Class = Class(dns.ClassINET)
	ClassCHAOS Class = Class(dns.ClassCHAOS)
	ClassANY   Class = Class(dns.ClassANY)
)

// Opcodes.
const (
	OpcodeQuery  Opcode = Opcode(dns.OpcodeQuery)
	OpcodeStatus Opcode = Opcode(dns.OpcodeStatus)
	OpcodeNotify Opcode = Opcode(dns.OpcodeNotify)
	OpcodeUpdate Opcode = Opcode(dns.OpcodeUpdate)
)

// Response codes.
const (
	RcodeSuccess        Rcode = Rcode(dns.RcodeSuccess)
	RcodeFormatError    Rcode = Rcode(dns.RcodeFormatError)
	RcodeServerFailure  Rcode = Rcode(dns.RcodeServerFailure)
	RcodeNameError      Rcode = Rcode(dns.RcodeNameError)
	RcodeNotImplemented Rcode = Rcode(dns.RcodeNotImplemented)
	RcodeRefused        Rcode = Rcode(dns.RcodeRefused)
)

func (t Type) String() string {
	if s, ok := dns.TypeToString[uint16(t)]; ok {
		return s
	}
	return "TYPE" + strconv.Itoa(int(t))
}

func (c Class) String() string {
	if s, ok := dns.ClassToString[uint16(c)]; ok {
		return s
	}
	return "CLASS" + strconv.Itoa(int(c))
}

func (o Opcode) String() string {
	if s, ok := dns.OpcodeToString[int(o)]; ok {
		return s
	}
	return "OPCODE" + strconv.Itoa(int(o))
}

func (r Rcode) String() string {
	if s, ok := dns.RcodeToString[int(r)]; ok {
		return s
	}
	return "RCODE" + strconv.Itoa(int(r))
}

// ParseType returns the type for a mnemonic such as "AAAA" or "TYPE65".
func ParseType(s string) (Type, bool) {
	if t, ok := dns.StringToType[s]; ok {
		return Type(t), true
	}
	if len(s) > 4 && s[:4] == "TYPE" {
		n, err := strconv.ParseUint(s[4:], 10, 16)
		if err == nil {
			return Type(n), true
		}
	}
	return 0, false
}
