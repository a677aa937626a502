package wire

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/miekg/dns"
)

// DecodeHeader reads only the fixed header. It lets a server answer a
// request whose body is unreadable.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < headerLen {
		return Header{}, ErrHeaderShort
	}

	flags := binary.BigEndian.Uint16(b[2:])

	return Header{
		ID:                 binary.BigEndian.Uint16(b[0:]),
		Response:           flags&(1<<15) != 0,
		Opcode:             Opcode((flags >> 11) & 0x0F),
		Authoritative:      flags&(1<<10) != 0,
		Truncated:          flags&(1<<9) != 0,
		RecursionDesired:   flags&(1<<8) != 0,
		RecursionAvailable: flags&(1<<7) != 0,
		Zero:               flags&(1<<6) != 0,
		AuthenticatedData:  flags&(1<<5) != 0,
		CheckingDisabled:   flags&(1<<4) != 0,
		Rcode:              Rcode(flags & 0x0F),
	}, nil
}

// Decode parses a complete message. Every section count must be satisfied
// and no bytes may follow the last record.
func Decode(b []byte) (*Message, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}

	qd := int(binary.BigEndian.Uint16(b[4:]))
	an := int(binary.BigEndian.Uint16(b[6:]))
	ns := int(binary.BigEndian.Uint16(b[8:]))
	ar := int(binary.BigEndian.Uint16(b[10:]))

	m := &Message{Header: h}
	off := headerLen

	if qd > 0 {
		m.Question = make([]Question, 0, min(qd, 8))
	}
	for i := 0; i < qd; i++ {
		var q Question
		q, off, err = unpackQuestion(b, off)
		if err != nil {
			return nil, err
		}
		m.Question = append(m.Question, q)
	}

	if m.Answer, off, err = unpackSection(b, off, an); err != nil {
		return nil, err
	}
	if m.Authority, off, err = unpackSection(b, off, ns); err != nil {
		return nil, err
	}
	if m.Additional, off, err = unpackSection(b, off, ar); err != nil {
		return nil, err
	}

	if off != len(b) {
		return nil, errorf("%d trailing bytes", len(b)-off)
	}

	return m, nil
}

// UnpackRR parses a single uncompressed record that fills b exactly.
func UnpackRR(b []byte) (RR, error) {
	rr, off, err := unpackRR(b, 0)
	if err != nil {
		return RR{}, err
	}
	if off != len(b) {
		return RR{}, errorf("%d trailing bytes after record", len(b)-off)
	}
	return rr, nil
}

func unpackQuestion(b []byte, off int) (Question, int, error) {
	name, off, err := unpackName(b, off)
	if err != nil {
		return Question{}, 0, err
	}
	if off+4 > len(b) {
		return Question{}, 0, errorf("question truncated at offset %d", off)
	}
	return Question{
		Name:  name,
		Type:  Type(binary.BigEndian.Uint16(b[off:])),
		Class: Class(binary.BigEndian.Uint16(b[off+2:])),
	}, off + 4, nil
}

func unpackSection(b []byte, off, count int) ([]RR, int, error) {
	if count == 0 {
		return nil, off, nil
	}

	// every record needs at least eleven bytes
	if count > (len(b)-off)/11 {
		return nil, 0, errorf("section claims %d records in %d bytes", count, len(b)-off)
	}

	rrs := make([]RR, 0, count)
	for i := 0; i < count; i++ {
		rr, next, err := unpackRR(b, off)
		if err != nil {
			return nil, 0, err
		}
		rrs = append(rrs, rr)
		off = next
	}

	return rrs, off, nil
}

func unpackRR(b []byte, off int) (RR, int, error) {
	name, off, err := unpackName(b, off)
	if err != nil {
		return RR{}, 0, err
	}

	if off+10 > len(b) {
		return RR{}, 0, errorf("record header truncated at offset %d", off)
	}

	rr := RR{
		Name:  name,
		Type:  Type(binary.BigEndian.Uint16(b[off:])),
		Class: Class(binary.BigEndian.Uint16(b[off+2:])),
		TTL:   binary.BigEndian.Uint32(b[off+4:]),
	}
	rdlen := int(binary.BigEndian.Uint16(b[off+8:]))
	off += 10

	end := off + rdlen
	if end > len(b) {
		return RR{}, 0, errorf("rdata of %s overflows message", rr.Type)
	}

	rr.Data, err = unpackRData(b, off, end, rr.Type)
	if err != nil {
		return RR{}, 0, err
	}

	return rr, end, nil
}

// unpackRData decodes the payload in b[off:end]. Names may point anywhere
// before them in b, but the payload itself must be consumed exactly.
func unpackRData(b []byte, off, end int, t Type) (RData, error) {
	rd := b[off:end]

	switch t {
	case TypeA:
		if len(rd) != 4 {
			return nil, errorf("A rdata of %d bytes", len(rd))
		}
		return &A{Addr: netip.AddrFrom4([4]byte(rd))}, nil

	case TypeAAAA:
		if len(rd) != 16 {
			return nil, errorf("AAAA rdata of %d bytes", len(rd))
		}
		return &AAAA{Addr: netip.AddrFrom16([16]byte(rd))}, nil

	case TypeCNAME, TypeNS, TypePTR:
		name, next, err := unpackName(b[:end], off)
		if err != nil {
			return nil, err
		}
		if next != end {
			return nil, errorf("%s rdata length mismatch", t)
		}
		switch t {
		case TypeCNAME:
			return &CNAME{Target: name}, nil
		case TypePTR:
			return &PTR{Target: name}, nil
		}
		return &NS{Host: name}, nil

	case TypeMX:
		if len(rd) < 3 {
			return nil, errorf("MX rdata of %d bytes", len(rd))
		}
		name, next, err := unpackName(b[:end], off+2)
		if err != nil {
			return nil, err
		}
		if next != end {
			return nil, errorf("MX rdata length mismatch")
		}
		return &MX{Preference: binary.BigEndian.Uint16(rd), Exchange: name}, nil

	case TypeTXT:
		txt := &TXT{}
		for i := 0; i < len(rd); {
			n := int(rd[i])
			if i+1+n > len(rd) {
				return nil, errorf("TXT string overflows rdata")
			}
			txt.Text = append(txt.Text, string(rd[i+1:i+1+n]))
			i += 1 + n
		}
		return txt, nil

	case TypeSOA:
		mname, next, err := unpackName(b[:end], off)
		if err != nil {
			return nil, err
		}
		rname, next, err := unpackName(b[:end], next)
		if err != nil {
			return nil, err
		}
		if end-next != 20 {
			return nil, errorf("SOA rdata length mismatch")
		}
		f := b[next:end]
		return &SOA{
			MName:   mname,
			RName:   rname,
			Serial:  binary.BigEndian.Uint32(f[0:]),
			Refresh: binary.BigEndian.Uint32(f[4:]),
			Retry:   binary.BigEndian.Uint32(f[8:]),
			Expire:  binary.BigEndian.Uint32(f[12:]),
			Minimum: binary.BigEndian.Uint32(f[16:]),
		}, nil

	default:
		if layout, ok := nameLayouts[t]; ok {
			raw, err := expandNames(b[:end], off, layout)
			if err != nil {
				return nil, fmt.Errorf("%s rdata: %w", t, err)
			}
			return &Opaque{Raw: raw}, nil
		}
		return &Opaque{Raw: append([]byte{}, rd...)}, nil
	}
}

// Field kinds of an uninterpreted payload that embeds domain names.
const (
	fieldName   = -1
	fieldString = -2
)

// nameLayouts lists the uninterpreted types whose payload may hold
// compressed names (RFC 3597 section 4). A positive field is a run of
// fixed bytes.
var nameLayouts = map[Type][]int{
	Type(dns.TypeMD):    {fieldName},
	Type(dns.TypeMF):    {fieldName},
	Type(dns.TypeMB):    {fieldName},
	Type(dns.TypeMG):    {fieldName},
	Type(dns.TypeMR):    {fieldName},
	Type(dns.TypeMINFO): {fieldName, fieldName},
	Type(dns.TypeRP):    {fieldName, fieldName},
	Type(dns.TypeAFSDB): {2, fieldName},
	Type(dns.TypeRT):    {2, fieldName},
	Type(dns.TypePX):    {2, fieldName, fieldName},
	Type(dns.TypeSRV):   {6, fieldName},
	Type(dns.TypeNAPTR): {4, fieldString, fieldString, fieldString, fieldName},
}

// expandNames copies the payload at b[off:] field by field, writing every
// embedded name uncompressed so the bytes no longer refer to b.
func expandNames(b []byte, off int, layout []int) ([]byte, error) {
	raw := make([]byte, 0, len(b)-off+32)

	for _, field := range layout {
		switch field {
		case fieldName:
			name, next, err := unpackName(b, off)
			if err != nil {
				return nil, err
			}
			w, _, err := nameToWire(name)
			if err != nil {
				return nil, err
			}
			raw = append(raw, w...)
			off = next
		case fieldString:
			if off >= len(b) || off+1+int(b[off]) > len(b) {
				return nil, errorf("character string overflows rdata")
			}
			n := 1 + int(b[off])
			raw = append(raw, b[off:off+n]...)
			off += n
		default:
			if off+field > len(b) {
				return nil, errorf("rdata truncated")
			}
			raw = append(raw, b[off:off+field]...)
			off += field
		}
	}

	if off != len(b) {
		return nil, errorf("rdata length mismatch")
	}

	return raw, nil
}
