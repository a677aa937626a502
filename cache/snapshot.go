package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/jmeaster30/simpledns/wire"
	"github.com/semihalev/zlog/v2"
)

const snapshotVersion = 1

// Snapshot is the durable form of the cache. Records are kept in their
// uncompressed wire encoding.
type Snapshot struct {
	Version int             `cbor:"1,keyasint"`
	Taken   time.Time       `cbor:"2,keyasint"`
	Entries []SnapshotEntry `cbor:"3,keyasint"`
}

// SnapshotEntry is one cache entry of a snapshot.
type SnapshotEntry struct {
	Name      string    `cbor:"1,keyasint"`
	Type      uint16    `cbor:"2,keyasint"`
	Class     uint16    `cbor:"3,keyasint"`
	Rcode     uint8     `cbor:"4,keyasint"`
	Answer    [][]byte  `cbor:"5,keyasint,omitempty"`
	Authority [][]byte  `cbor:"6,keyasint,omitempty"`
	Stored    time.Time `cbor:"7,keyasint"`
	Expiry    time.Time `cbor:"8,keyasint"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
}

// Snapshot copies every live entry.
func (c *Cache) Snapshot() (*Snapshot, error) {
	now := c.clock.Now()

	c.mu.Lock()
	entries := make([]Entry, 0, len(c.items))
	for _, it := range c.items {
		if now.Before(it.entry.Expiry) {
			entries = append(entries, it.entry)
		}
	}
	c.mu.Unlock()

	s := &Snapshot{Version: snapshotVersion, Taken: now, Entries: make([]SnapshotEntry, 0, len(entries))}

	for _, e := range entries {
		se := SnapshotEntry{
			Name:   e.Key.Name,
			Type:   uint16(e.Key.Type),
			Class:  uint16(e.Key.Class),
			Rcode:  uint8(e.Rcode),
			Stored: e.Stored,
			Expiry: e.Expiry,
		}

		var err error
		if se.Answer, err = packRRs(e.Answer); err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", e.Key, err)
		}
		if se.Authority, err = packRRs(e.Authority); err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", e.Key, err)
		}

		s.Entries = append(s.Entries, se)
	}

	return s, nil
}

// Restore loads the entries of s that have not expired yet and returns how
// many were loaded. Entries that fail to decode are skipped.
func (c *Cache) Restore(s *Snapshot) int {
	if s == nil || s.Version != snapshotVersion {
		return 0
	}

	now := c.clock.Now()
	n := 0

	for _, se := range s.Entries {
		if !now.Before(se.Expiry) {
			continue
		}

		answer, err := unpackRRs(se.Answer)
		if err != nil {
			zlog.Debug("Skipping cache snapshot entry", "name", se.Name, "error", err.Error())
			continue
		}
		authority, err := unpackRRs(se.Authority)
		if err != nil {
			zlog.Debug("Skipping cache snapshot entry", "name", se.Name, "error", err.Error())
			continue
		}

		e := Entry{
			Key:       Key{Name: se.Name, Type: wire.Type(se.Type), Class: wire.Class(se.Class)},
			Answer:    answer,
			Authority: authority,
			Rcode:     wire.Rcode(se.Rcode),
			Stored:    se.Stored,
			Expiry:    se.Expiry,
		}

		c.mu.Lock()
		c.insert(e, now)
		c.mu.Unlock()

		n++
	}

	return n
}

// WriteFile writes a snapshot to path. The file is replaced atomically.
func (c *Cache) WriteFile(path string) error {
	s, err := c.Snapshot()
	if err != nil {
		return err
	}

	data, err := encMode.Marshal(s)
	if err != nil {
		return fmt.Errorf("could not encode cache snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("could not create cache snapshot: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("could not write cache snapshot: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("could not write cache snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("could not replace cache snapshot: %w", err)
	}

	zlog.Debug("Cache snapshot written", "path", path, "entries", len(s.Entries))

	return nil
}

// ReadFile restores a snapshot written by WriteFile. A missing file
// restores nothing and is not an error.
func (c *Cache) ReadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("could not read cache snapshot: %w", err)
	}

	s := new(Snapshot)
	if err := cbor.Unmarshal(data, s); err != nil {
		return 0, fmt.Errorf("could not decode cache snapshot: %w", err)
	}

	n := c.Restore(s)

	zlog.Info("Cache snapshot restored", "path", path, "entries", n, "skipped", len(s.Entries)-n)

	return n, nil
}

func packRRs(rrs []wire.RR) ([][]byte, error) {
	if len(rrs) == 0 {
		return nil, nil
	}

	out := make([][]byte, len(rrs))
	for i, rr := range rrs {
		b, err := wire.PackRR(rr)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}

	return out, nil
}

func unpackRRs(raw [][]byte) ([]wire.RR, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	out := make([]wire.RR, len(raw))
	for i, b := range raw {
		rr, err := wire.UnpackRR(b)
		if err != nil {
			return nil, err
		}
		out[i] = rr
	}

	return out, nil
}
