package mpt

import (
	"bytes"
	"sort"

	"github.com/qdrvm/kagome-sub006/codec"
)

// entry is one key/value pair discovered during a trie walk.
type entry struct {
	key   []byte
	value codec.Value
}

// Cursor yields a trie's keys in sorted order. It snapshots the trie's
// key set at creation time (resolving any Dummy nodes it must pass
// through), matching the "cursor holds a read-snapshot iterator" model
// used by the storage backend (component B).
type Cursor struct {
	entries []entry
	pos     int
	err     error
	t       *Trie
}

// Cursor returns a Cursor over the whole trie.
func (t *Trie) Cursor() (*Cursor, error) {
	c := &Cursor{t: t, pos: -1}
	if err := c.collect(t.root, nil); err != nil {
		return nil, err
	}
	sort.Slice(c.entries, func(i, j int) bool { return bytes.Compare(c.entries[i].key, c.entries[j].key) < 0 })
	return c, nil
}

func (c *Cursor) collect(n codec.Node, prefix codec.Nibbles) error {
	n, err := c.t.resolve(n)
	if err != nil {
		return err
	}
	switch node := n.(type) {
	case nil:
		return nil
	case *codec.Leaf:
		full := prefix.Concat(node.PartialKey)
		c.entries = append(c.entries, entry{key: codec.NibblesToBytes(full), value: node.Value})
		return nil
	case *codec.Branch:
		full := prefix.Concat(node.PartialKey)
		if node.Value != nil {
			c.entries = append(c.entries, entry{key: codec.NibblesToBytes(full), value: *node.Value})
		}
		for i, child := range node.Children {
			if child == nil {
				continue
			}
			childPrefix := full.Concat(codec.Nibbles{byte(i)})
			if err := c.collect(child, childPrefix); err != nil {
				return err
			}
		}
		return nil
	default:
		return ErrInvalidKey
	}
}

// SeekFirst positions the cursor at the first key.
func (c *Cursor) SeekFirst() bool {
	c.pos = 0
	return c.Valid()
}

// Seek positions the cursor at key, if present.
func (c *Cursor) Seek(key []byte) bool {
	i := sort.Search(len(c.entries), func(i int) bool { return bytes.Compare(c.entries[i].key, key) >= 0 })
	if i < len(c.entries) && bytes.Equal(c.entries[i].key, key) {
		c.pos = i
		return true
	}
	c.pos = len(c.entries)
	return false
}

// SeekLowerBound positions the cursor at the first key >= key.
func (c *Cursor) SeekLowerBound(key []byte) bool {
	c.pos = sort.Search(len(c.entries), func(i int) bool { return bytes.Compare(c.entries[i].key, key) >= 0 })
	return c.Valid()
}

// SeekUpperBound positions the cursor at the first key > key.
func (c *Cursor) SeekUpperBound(key []byte) bool {
	c.pos = sort.Search(len(c.entries), func(i int) bool { return bytes.Compare(c.entries[i].key, key) > 0 })
	return c.Valid()
}

// Next advances the cursor by one entry.
func (c *Cursor) Next() bool {
	if c.pos < 0 {
		c.pos = 0
	} else {
		c.pos++
	}
	return c.Valid()
}

// Valid reports whether the cursor currently points at an entry.
func (c *Cursor) Valid() bool {
	return c.pos >= 0 && c.pos < len(c.entries)
}

// Key returns the key at the cursor's current position.
func (c *Cursor) Key() []byte {
	if !c.Valid() {
		return nil
	}
	return c.entries[c.pos].key
}

// Value returns the resolved value bytes at the cursor's current
// position.
func (c *Cursor) Value() ([]byte, error) {
	if !c.Valid() {
		return nil, ErrNoValue
	}
	return c.t.resolveValue(c.entries[c.pos].value)
}

// Err returns any error encountered while building the cursor's
// snapshot.
func (c *Cursor) Err() error { return c.err }
