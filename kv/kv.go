// Package kv defines the opaque, column-keyed storage backend (component
// B): a multi-space byte store with atomic batches and ordered cursors.
// The concrete database product is out of scope; this package
// fixes only the interface every other component programs against, plus
// one production implementation (cockroachdb/pebble) and one in-memory
// implementation used by tests and ephemeral callers.
package kv

import "errors"

// ErrNotFound is returned by Get (but not TryGet, which reports absence
// via its bool result) when a key is absent from a space.
var ErrNotFound = errors.New("kv: key not found")

// Space names a column family. The core uses the fixed set named in
// callers should use the exported constants rather than
// inventing new spaces ad hoc.
type Space string

// Column families used by the core.
const (
	SpaceTrieNode      Space = "trie_node"
	SpaceTrieValue     Space = "trie_value"
	SpaceLookupKey     Space = "lookup_key"
	SpaceHeader        Space = "header"
	SpaceJustification Space = "justification"
	SpaceTriePruner    Space = "trie_pruner"
	SpaceAudiPeers     Space = "audi_peers"
	SpaceDefault       Space = "default"
)

// AllSpaces lists every column family the core persists to, for use by
// implementations that need to pre-declare or iterate spaces.
var AllSpaces = []Space{
	SpaceTrieNode,
	SpaceTrieValue,
	SpaceLookupKey,
	SpaceHeader,
	SpaceJustification,
	SpaceTriePruner,
	SpaceAudiPeers,
	SpaceDefault,
}

// Reader is the read side of a column family.
type Reader interface {
	// Get returns the value for key, or ErrNotFound.
	Get(space Space, key []byte) ([]byte, error)
	// TryGet returns the value for key and true, or nil and false if
	// absent. It never returns ErrNotFound.
	TryGet(space Space, key []byte) ([]byte, bool, error)
	// Contains reports whether key exists in space.
	Contains(space Space, key []byte) (bool, error)
}

// Writer is the write side of a column family, used directly for
// single-key writes outside of a batch.
type Writer interface {
	Put(space Space, key, value []byte) error
	Remove(space Space, key []byte) error
}

// Batch accumulates writes across one or more spaces and applies them
// atomically on Commit. A Batch is single-owner and not safe for
// concurrent use.
type Batch interface {
	Put(space Space, key, value []byte)
	Remove(space Space, key []byte)
	// Commit atomically applies every Put/Remove recorded so far. The
	// batch must not be reused after Commit.
	Commit() error
	// Len reports the number of operations recorded.
	Len() int
}

// Cursor iterates a single space in key order. A cursor holds a
// read-snapshot iterator and must not outlive the Store (or, for
// pebble-backed snapshots, the batch) that created it; callers must
// Close it when done.
type Cursor interface {
	SeekFirst() bool
	Seek(key []byte) bool
	SeekLowerBound(key []byte) bool
	SeekUpperBound(key []byte) bool
	Next() bool
	Valid() bool
	Key() []byte
	Value() []byte
	Close() error
}

// Store is the full backend interface every other component programs
// against: per-space get/put/contains, atomic batches, and cursors.
type Store interface {
	Reader
	Writer
	NewBatch() Batch
	Cursor(space Space) (Cursor, error)
	Close() error
}
