package cache

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/jmeaster30/simpledns/wire"
)

// Key identifies a cached RR set or negative answer.
type Key struct {
	Name  string
	Type  wire.Type
	Class wire.Class
}

// NewKey returns the key of a question. The name is canonicalized.
func NewKey(q wire.Question) Key {
	return Key{Name: wire.CanonicalName(q.Name), Type: q.Type, Class: q.Class}
}

// KeyFor is NewKey for the owner of a record set.
func KeyFor(name string, t wire.Type, c wire.Class) Key {
	return Key{Name: wire.CanonicalName(name), Type: t, Class: c}
}

func (k Key) String() string {
	return k.Name + " " + k.Class.String() + " " + k.Type.String()
}

// keyBuffer holds a reusable buffer for key hashing.
type keyBuffer struct {
	buf [264]byte
}

var keyBufferPool = sync.Pool{
	New: func() any {
		return new(keyBuffer)
	},
}

// Hash returns the map key of k.
// Format: [class:2][type:2][lower cased name]
func (k Key) Hash() uint64 {
	kb := keyBufferPool.Get().(*keyBuffer)
	buf := kb.buf[:0]

	buf = append(buf, byte(k.Class>>8), byte(k.Class))
	buf = append(buf, byte(k.Type>>8), byte(k.Type))

	for i := 0; i < len(k.Name); i++ {
		c := k.Name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		buf = append(buf, c)
	}

	hash := xxhash.Sum64(buf)

	keyBufferPool.Put(kb)

	return hash
}
