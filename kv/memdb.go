package kv

import (
	"bytes"
	"sort"
	"sync"
)

// MemDB is an in-memory Store, grounded on the reference trie package's
// two-layer node-cache pattern (a mutex-guarded map with get-or-absent
// lookups) generalized from a single node cache to arbitrary column
// families. Used by tests and by ephemeral, non-persistent callers.
type MemDB struct {
	mu     sync.RWMutex
	spaces map[Space]map[string][]byte
}

// NewMemDB creates an empty in-memory Store.
func NewMemDB() *MemDB {
	db := &MemDB{spaces: make(map[Space]map[string][]byte)}
	for _, s := range AllSpaces {
		db.spaces[s] = make(map[string][]byte)
	}
	return db
}

func (db *MemDB) space(s Space) map[string][]byte {
	m, ok := db.spaces[s]
	if !ok {
		m = make(map[string][]byte)
		db.spaces[s] = m
	}
	return m
}

// Get implements Reader.
func (db *MemDB) Get(space Space, key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	v, ok := db.space(space)[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// TryGet implements Reader.
func (db *MemDB) TryGet(space Space, key []byte) ([]byte, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	v, ok := db.space(space)[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Contains implements Reader.
func (db *MemDB) Contains(space Space, key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.space(space)[string(key)]
	return ok, nil
}

// Put implements Writer.
func (db *MemDB) Put(space Space, key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.space(space)[string(key)] = append([]byte(nil), value...)
	return nil
}

// Remove implements Writer.
func (db *MemDB) Remove(space Space, key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.space(space), string(key))
	return nil
}

// Close implements Store; a no-op for the in-memory backend.
func (db *MemDB) Close() error { return nil }

type memOp struct {
	space  Space
	key    []byte
	value  []byte
	delete bool
}

type memBatch struct {
	db  *MemDB
	ops []memOp
}

// NewBatch implements Store.
func (db *MemDB) NewBatch() Batch {
	return &memBatch{db: db}
}

func (b *memBatch) Put(space Space, key, value []byte) {
	b.ops = append(b.ops, memOp{space: space, key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *memBatch) Remove(space Space, key []byte) {
	b.ops = append(b.ops, memOp{space: space, key: append([]byte(nil), key...), delete: true})
}

func (b *memBatch) Len() int { return len(b.ops) }

func (b *memBatch) Commit() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		m := b.db.space(op.space)
		if op.delete {
			delete(m, string(op.key))
			continue
		}
		m[string(op.key)] = op.value
	}
	return nil
}

// memCursor is a snapshot cursor over a sorted copy of one space's keys.
type memCursor struct {
	keys []string
	vals map[string][]byte
	pos  int
}

// Cursor implements Store.
func (db *MemDB) Cursor(space Space) (Cursor, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	m := db.space(space)
	keys := make([]string, 0, len(m))
	vals := make(map[string][]byte, len(m))
	for k, v := range m {
		keys = append(keys, k)
		vals[k] = append([]byte(nil), v...)
	}
	sort.Strings(keys)
	return &memCursor{keys: keys, vals: vals, pos: -1}, nil
}

func (c *memCursor) SeekFirst() bool {
	if len(c.keys) == 0 {
		c.pos = -1
		return false
	}
	c.pos = 0
	return true
}

func (c *memCursor) Seek(key []byte) bool {
	for i, k := range c.keys {
		if k == string(key) {
			c.pos = i
			return true
		}
	}
	c.pos = len(c.keys)
	return false
}

func (c *memCursor) SeekLowerBound(key []byte) bool {
	i := sort.Search(len(c.keys), func(i int) bool { return bytes.Compare([]byte(c.keys[i]), key) >= 0 })
	if i >= len(c.keys) {
		c.pos = len(c.keys)
		return false
	}
	c.pos = i
	return true
}

func (c *memCursor) SeekUpperBound(key []byte) bool {
	i := sort.Search(len(c.keys), func(i int) bool { return bytes.Compare([]byte(c.keys[i]), key) > 0 })
	if i >= len(c.keys) {
		c.pos = len(c.keys)
		return false
	}
	c.pos = i
	return true
}

func (c *memCursor) Next() bool {
	if c.pos+1 >= len(c.keys) {
		c.pos = len(c.keys)
		return false
	}
	c.pos++
	return true
}

func (c *memCursor) Valid() bool {
	return c.pos >= 0 && c.pos < len(c.keys)
}

func (c *memCursor) Key() []byte {
	if !c.Valid() {
		return nil
	}
	return []byte(c.keys[c.pos])
}

func (c *memCursor) Value() []byte {
	if !c.Valid() {
		return nil
	}
	return c.vals[c.keys[c.pos]]
}

func (c *memCursor) Close() error { return nil }

var (
	_ Store = (*MemDB)(nil)
)
