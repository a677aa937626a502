package wire

import (
	"strings"

	"github.com/miekg/dns"
)

const (
	maxLabelLen    = 63
	maxNameWireLen = 255
	maxPointers    = 128
	maxCompressOff = 0x3FFF
)

// Fqdn returns name with a trailing dot.
func Fqdn(name string) string { return dns.Fqdn(name) }

// CanonicalName returns the lower cased fully qualified form of name.
func CanonicalName(name string) string { return dns.CanonicalName(name) }

// EqualNames reports whether two names are equal ignoring case and the
// trailing dot.
func EqualNames(a, b string) bool {
	return strings.EqualFold(Fqdn(a), Fqdn(b))
}

// IsSubDomain reports whether child is parent or below it.
func IsSubDomain(parent, child string) bool { return dns.IsSubDomain(parent, child) }

// CountLabels returns the number of labels in name, the root has zero.
func CountLabels(name string) int { return dns.CountLabel(name) }

// Parent returns the name with its first label removed, the root for a
// single label name and false for the root itself.
func Parent(name string) (string, bool) {
	name = Fqdn(name)
	if name == "." {
		return "", false
	}
	off, end := dns.NextLabel(name, 0)
	if end {
		return ".", true
	}
	return name[off:], true
}

// nameToWire converts a presentation name into its uncompressed wire form.
// offs holds the offset of every non-root label.
func nameToWire(name string) (w []byte, offs []int, err error) {
	if name == "" || name == "." {
		return []byte{0}, nil, nil
	}

	w = make([]byte, 0, len(name)+2)
	label := make([]byte, 0, maxLabelLen)

	flush := func() error {
		if len(label) == 0 {
			return errorf("empty label in %q", name)
		}
		if len(label) > maxLabelLen {
			return errorf("label longer than %d bytes in %q", maxLabelLen, name)
		}
		offs = append(offs, len(w))
		w = append(w, byte(len(label)))
		w = append(w, label...)
		label = label[:0]
		return nil
	}

	for i := 0; i < len(name); i++ {
		c := name[i]
		switch c {
		case '\\':
			if i+1 >= len(name) {
				return nil, nil, errorf("dangling escape in %q", name)
			}
			if isDigit(name[i+1]) {
				if i+3 >= len(name) {
					return nil, nil, errorf("short decimal escape in %q", name)
				}
				if !isDigit(name[i+2]) || !isDigit(name[i+3]) {
					return nil, nil, errorf("bad decimal escape in %q", name)
				}
				v := int(name[i+1]-'0')*100 + int(name[i+2]-'0')*10 + int(name[i+3]-'0')
				if v > 255 {
					return nil, nil, errorf("bad decimal escape in %q", name)
				}
				label = append(label, byte(v))
				i += 3
				continue
			}
			label = append(label, name[i+1])
			i++
		case '.':
			if err := flush(); err != nil {
				return nil, nil, err
			}
		default:
			label = append(label, c)
		}
	}
	if len(label) > 0 {
		if err := flush(); err != nil {
			return nil, nil, err
		}
	}

	w = append(w, 0)
	if len(w) > maxNameWireLen {
		return nil, nil, errorf("name %q exceeds %d bytes", name, maxNameWireLen)
	}

	return w, offs, nil
}

// compressor remembers where name suffixes were written in a message.
type compressor struct {
	table map[string]int
}

func newCompressor() *compressor {
	return &compressor{table: make(map[string]int)}
}

// packName appends name to buf. With a nil compressor the name is written
// uncompressed.
func packName(buf []byte, name string, c *compressor) ([]byte, error) {
	w, offs, err := nameToWire(name)
	if err != nil {
		return nil, err
	}

	if c == nil {
		return append(buf, w...), nil
	}

	start := len(buf)
	lower := []byte(strings.ToLower(string(w)))

	for i, off := range offs {
		if ptr, ok := c.table[string(lower[off:])]; ok {
			buf = append(buf, w[:off]...)
			c.remember(lower, offs[:i], start)
			return append(buf, 0xC0|byte(ptr>>8), byte(ptr)), nil
		}
	}

	buf = append(buf, w...)
	c.remember(lower, offs, start)

	return buf, nil
}

func (c *compressor) remember(lower []byte, offs []int, start int) {
	for _, off := range offs {
		if start+off > maxCompressOff {
			return
		}
		key := string(lower[off:])
		if _, ok := c.table[key]; !ok {
			c.table[key] = start + off
		}
	}
}

// unpackName reads a possibly compressed name at off and returns it with
// the offset just past the name in the original byte stream.
func unpackName(msg []byte, off int) (string, int, error) {
	var sb strings.Builder

	cur := off
	end := -1
	jumps := 0
	wireLen := 0

	for {
		if cur >= len(msg) {
			return "", 0, errorf("name at offset %d overflows message", off)
		}

		c := int(msg[cur])

		switch c & 0xC0 {
		case 0x00:
			if c == 0 {
				cur++
				wireLen++
				if wireLen > maxNameWireLen {
					return "", 0, errorf("name at offset %d exceeds %d bytes", off, maxNameWireLen)
				}
				if end < 0 {
					end = cur
				}
				if sb.Len() == 0 {
					return ".", end, nil
				}
				return sb.String(), end, nil
			}

			if cur+1+c > len(msg) {
				return "", 0, errorf("label at offset %d overflows message", cur)
			}

			wireLen += 1 + c
			if wireLen+1 > maxNameWireLen {
				return "", 0, errorf("name at offset %d exceeds %d bytes", off, maxNameWireLen)
			}

			escapeLabel(&sb, msg[cur+1:cur+1+c])
			sb.WriteByte('.')
			cur += 1 + c

		case 0xC0:
			if cur+1 >= len(msg) {
				return "", 0, errorf("pointer at offset %d overflows message", cur)
			}

			ptr := (c&0x3F)<<8 | int(msg[cur+1])
			if ptr >= cur {
				return "", 0, errorf("forward compression pointer at offset %d", cur)
			}

			jumps++
			if jumps > maxPointers {
				return "", 0, errorf("too many compression pointers in name at offset %d", off)
			}

			if end < 0 {
				end = cur + 2
			}
			cur = ptr

		default:
			return "", 0, errorf("reserved label type 0x%02x at offset %d", c&0xC0, cur)
		}
	}
}

func escapeLabel(sb *strings.Builder, label []byte) {
	for _, b := range label {
		switch {
		case b == '.' || b == '\\' || b == '"' || b == '(' || b == ')' || b == ';' || b == '@' || b == '$':
			sb.WriteByte('\\')
			sb.WriteByte(b)
		case b < 0x21 || b > 0x7E:
			sb.WriteByte('\\')
			sb.WriteByte('0' + b/100)
			sb.WriteByte('0' + (b/10)%10)
			sb.WriteByte('0' + b%10)
		default:
			sb.WriteByte(b)
		}
	}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
