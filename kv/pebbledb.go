package kv

import (
	"bytes"

	"github.com/cockroachdb/pebble"
)

// PebbleDB is the production Store backed by cockroachdb/pebble, an
// embedded ordered key-value engine with atomic batches and
// snapshot-backed iterators -- the natural fit for the storage engine's
// per-column atomic batches and ordered cursors. Column families are
// emulated via a one-byte space prefix per key, mirroring the reference
// trie database's "t"+hash raw-key convention.
type PebbleDB struct {
	db *pebble.DB
}

// spacePrefixes assigns each Space a short, fixed prefix byte so keys
// sort within their own space (pebble has no native column families).
var spacePrefixes = map[Space]byte{
	SpaceTrieNode:      0x01,
	SpaceTrieValue:     0x02,
	SpaceLookupKey:     0x03,
	SpaceHeader:        0x04,
	SpaceJustification: 0x05,
	SpaceTriePruner:    0x06,
	SpaceAudiPeers:     0x07,
	SpaceDefault:       0x08,
}

func prefixedKey(space Space, key []byte) []byte {
	p, ok := spacePrefixes[space]
	if !ok {
		p = 0xff
	}
	out := make([]byte, 1+len(key))
	out[0] = p
	copy(out[1:], key)
	return out
}

// OpenPebble opens (creating if absent) a pebble database at dir.
func OpenPebble(dir string) (*PebbleDB, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleDB{db: db}, nil
}

// Get implements Reader.
func (p *PebbleDB) Get(space Space, key []byte) ([]byte, error) {
	v, closer, err := p.db.Get(prefixedKey(space, key))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

// TryGet implements Reader.
func (p *PebbleDB) TryGet(space Space, key []byte) ([]byte, bool, error) {
	v, err := p.Get(space, key)
	if err == ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Contains implements Reader.
func (p *PebbleDB) Contains(space Space, key []byte) (bool, error) {
	_, ok, err := p.TryGet(space, key)
	return ok, err
}

// Put implements Writer.
func (p *PebbleDB) Put(space Space, key, value []byte) error {
	return p.db.Set(prefixedKey(space, key), value, pebble.Sync)
}

// Remove implements Writer.
func (p *PebbleDB) Remove(space Space, key []byte) error {
	return p.db.Delete(prefixedKey(space, key), pebble.Sync)
}

// Close closes the underlying pebble database.
func (p *PebbleDB) Close() error {
	return p.db.Close()
}

type pebbleBatch struct {
	db *PebbleDB
	b  *pebble.Batch
	n  int
}

// NewBatch implements Store.
func (p *PebbleDB) NewBatch() Batch {
	return &pebbleBatch{db: p, b: p.db.NewBatch()}
}

func (pb *pebbleBatch) Put(space Space, key, value []byte) {
	_ = pb.b.Set(prefixedKey(space, key), value, nil)
	pb.n++
}

func (pb *pebbleBatch) Remove(space Space, key []byte) {
	_ = pb.b.Delete(prefixedKey(space, key), nil)
	pb.n++
}

func (pb *pebbleBatch) Len() int { return pb.n }

func (pb *pebbleBatch) Commit() error {
	return pb.b.Commit(pebble.Sync)
}

type pebbleCursor struct {
	space Space
	it    *pebble.Iterator
	valid bool
}

// Cursor implements Store. The returned cursor holds a pebble snapshot
// iterator scoped to the given space's key prefix; callers must Close it.
func (p *PebbleDB) Cursor(space Space) (Cursor, error) {
	prefix, ok := spacePrefixes[space]
	if !ok {
		prefix = 0xff
	}
	lower := []byte{prefix}
	upper := []byte{prefix + 1}
	it, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	return &pebbleCursor{space: space, it: it}, nil
}

func (c *pebbleCursor) SeekFirst() bool {
	c.valid = c.it.First()
	return c.valid
}

func (c *pebbleCursor) Seek(key []byte) bool {
	p := spacePrefixes[c.space]
	c.valid = c.it.SeekGE(prefixedKey(c.space, key)) && bytes.Equal(c.it.Key()[1:], key) && c.it.Key()[0] == p
	return c.valid
}

func (c *pebbleCursor) SeekLowerBound(key []byte) bool {
	c.valid = c.it.SeekGE(prefixedKey(c.space, key))
	return c.valid
}

func (c *pebbleCursor) SeekUpperBound(key []byte) bool {
	c.valid = c.it.SeekGE(prefixedKey(c.space, key))
	if c.valid && bytes.Equal(c.it.Key()[1:], key) {
		c.valid = c.it.Next()
	}
	return c.valid
}

func (c *pebbleCursor) Next() bool {
	c.valid = c.it.Next()
	return c.valid
}

func (c *pebbleCursor) Valid() bool { return c.valid }

func (c *pebbleCursor) Key() []byte {
	if !c.valid {
		return nil
	}
	k := c.it.Key()
	return append([]byte(nil), k[1:]...)
}

func (c *pebbleCursor) Value() []byte {
	if !c.valid {
		return nil
	}
	return append([]byte(nil), c.it.Value()...)
}

func (c *pebbleCursor) Close() error {
	return c.it.Close()
}

var _ Store = (*PebbleDB)(nil)
