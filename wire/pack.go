package wire

import (
	"encoding/binary"
	"fmt"
)

const headerLen = 12

// Encode serializes m. Owner names, and names inside NS, CNAME, PTR, MX
// and SOA payloads, are compressed against names already written.
func Encode(m *Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("encode: nil message")
	}

	for _, n := range []int{len(m.Question), len(m.Answer), len(m.Authority), len(m.Additional)} {
		if n > 0xFFFF {
			return nil, fmt.Errorf("encode: section with %d entries", n)
		}
	}

	buf := make([]byte, headerLen, 512)
	putHeader(buf, &m.Header)
	binary.BigEndian.PutUint16(buf[4:], uint16(len(m.Question)))
	binary.BigEndian.PutUint16(buf[6:], uint16(len(m.Answer)))
	binary.BigEndian.PutUint16(buf[8:], uint16(len(m.Authority)))
	binary.BigEndian.PutUint16(buf[10:], uint16(len(m.Additional)))

	c := newCompressor()

	var err error
	for _, q := range m.Question {
		buf, err = packName(buf, q.Name, c)
		if err != nil {
			return nil, fmt.Errorf("encode question: %w", err)
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(q.Type))
		buf = binary.BigEndian.AppendUint16(buf, uint16(q.Class))
	}

	for _, section := range [][]RR{m.Answer, m.Authority, m.Additional} {
		for i := range section {
			buf, err = packRR(buf, &section[i], c)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", section[i].Type, err)
			}
		}
	}

	return buf, nil
}

// PackRR serializes a single record without compression.
func PackRR(rr RR) ([]byte, error) {
	return packRR(nil, &rr, nil)
}

func putHeader(b []byte, h *Header) {
	binary.BigEndian.PutUint16(b[0:], h.ID)

	var flags uint16
	if h.Response {
		flags |= 1 << 15
	}
	flags |= uint16(h.Opcode&0x0F) << 11
	if h.Authoritative {
		flags |= 1 << 10
	}
	if h.Truncated {
		flags |= 1 << 9
	}
	if h.RecursionDesired {
		flags |= 1 << 8
	}
	if h.RecursionAvailable {
		flags |= 1 << 7
	}
	if h.Zero {
		flags |= 1 << 6
	}
	if h.AuthenticatedData {
		flags |= 1 << 5
	}
	if h.CheckingDisabled {
		flags |= 1 << 4
	}
	flags |= uint16(h.Rcode & 0x0F)

	binary.BigEndian.PutUint16(b[2:], flags)
}

func packRR(buf []byte, rr *RR, c *compressor) ([]byte, error) {
	var err error

	buf, err = packName(buf, rr.Name, c)
	if err != nil {
		return nil, err
	}

	buf = binary.BigEndian.AppendUint16(buf, uint16(rr.Type))
	buf = binary.BigEndian.AppendUint16(buf, uint16(rr.Class))
	buf = binary.BigEndian.AppendUint32(buf, rr.TTL)

	lenOff := len(buf)
	buf = append(buf, 0, 0)

	buf, err = packRData(buf, rr.Data, c)
	if err != nil {
		return nil, err
	}

	rdlen := len(buf) - lenOff - 2
	if rdlen > 0xFFFF {
		return nil, fmt.Errorf("rdata of %d bytes", rdlen)
	}
	binary.BigEndian.PutUint16(buf[lenOff:], uint16(rdlen))

	return buf, nil
}

func packRData(buf []byte, data RData, c *compressor) ([]byte, error) {
	var err error

	switch d := data.(type) {
	case nil:
		return buf, nil
	case *A:
		if !d.Addr.Is4() {
			return nil, fmt.Errorf("A record with address %s", d.Addr)
		}
		a := d.Addr.As4()
		return append(buf, a[:]...), nil
	case *AAAA:
		if !d.Addr.Is6() && !d.Addr.Is4() {
			return nil, fmt.Errorf("AAAA record without address")
		}
		a := d.Addr.As16()
		return append(buf, a[:]...), nil
	case *CNAME:
		return packName(buf, d.Target, c)
	case *NS:
		return packName(buf, d.Host, c)
	case *PTR:
		return packName(buf, d.Target, c)
	case *MX:
		buf = binary.BigEndian.AppendUint16(buf, d.Preference)
		return packName(buf, d.Exchange, c)
	case *TXT:
		for _, s := range d.Text {
			if len(s) > 255 {
				return nil, fmt.Errorf("TXT string of %d bytes", len(s))
			}
			buf = append(buf, byte(len(s)))
			buf = append(buf, s...)
		}
		return buf, nil
	case *SOA:
		if buf, err = packName(buf, d.MName, c); err != nil {
			return nil, err
		}
		if buf, err = packName(buf, d.RName, c); err != nil {
			return nil, err
		}
		buf = binary.BigEndian.AppendUint32(buf, d.Serial)
		buf = binary.BigEndian.AppendUint32(buf, d.Refresh)
		buf = binary.BigEndian.AppendUint32(buf, d.Retry)
		buf = binary.BigEndian.AppendUint32(buf, d.Expire)
		buf = binary.BigEndian.AppendUint32(buf, d.Minimum)
		return buf, nil
	case *Opaque:
		return append(buf, d.Raw...), nil
	default:
		return nil, fmt.Errorf("unsupported rdata %T", data)
	}
}
