// Package triebatch implements component E: the three kinds of working
// view a caller takes over trie storage -- a read-only Ephemeral batch,
// a read-modify-write Persistent batch, and an in-memory Topper overlay
// that can stack over either -- plus child-trie addressing.
package triebatch

import (
	"errors"
	"sync"

	"github.com/qdrvm/kagome-sub006/codec"
	"github.com/qdrvm/kagome-sub006/kv"
	"github.com/qdrvm/kagome-sub006/mpt"
	"github.com/qdrvm/kagome-sub006/primitives"
	"github.com/qdrvm/kagome-sub006/trieserializer"
)

// ErrHeaderNotFound is returned when a batch is opened at a root with
// no corresponding trie in storage.
var ErrHeaderNotFound = errors.New("triebatch: root not found")

// ErrParentReadOnly is returned by Topper.WriteBack when the parent
// batch does not accept writes (an EphemeralBatch).
var ErrParentReadOnly = errors.New("triebatch: parent batch is read-only")

// ChildStoragePrefix addresses a child trie's root within its parent
// trie: keys under this prefix belong to the child-trie namespace
// rather than the parent's own key space.
const ChildStoragePrefix = ":child_storage:default:"

// cachingResolver wraps a mpt.Resolver, memoizing every node and value
// it resolves for the lifetime of a batch so repeated reads down the
// same path do not repeatedly hit the backend.
type cachingResolver struct {
	mu     sync.Mutex
	inner  mpt.Resolver
	nodes  map[string]codec.Node
	values map[[32]byte][]byte
}

func newCachingResolver(inner mpt.Resolver) *cachingResolver {
	return &cachingResolver{
		inner:  inner,
		nodes:  make(map[string]codec.Node),
		values: make(map[[32]byte][]byte),
	}
}

func (c *cachingResolver) ResolveNode(mv codec.MerkleValue) (codec.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.nodes[string(mv)]; ok {
		return n, nil
	}
	n, err := c.inner.ResolveNode(mv)
	if err != nil {
		return nil, err
	}
	c.nodes[string(mv)] = n
	return n, nil
}

func (c *cachingResolver) ResolveValue(h [32]byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[h]; ok {
		return v, nil
	}
	v, err := c.inner.ResolveValue(h)
	if err != nil {
		return nil, err
	}
	c.values[h] = v
	return v, nil
}

func openTrie(ser *trieserializer.Serializer, root primitives.Hash) (*mpt.Trie, error) {
	t, err := ser.RetrieveTrie(root, nil)
	if errors.Is(err, trieserializer.ErrNodeNotFound) {
		return nil, ErrHeaderNotFound
	}
	if err != nil {
		return nil, err
	}
	t.SetResolver(newCachingResolver(t.Resolver()))
	return t, nil
}

// Backend is satisfied by anything a Topper can sit atop: an
// EphemeralBatch, a PersistentBatch, or another Topper.
type Backend interface {
	Get(key []byte) ([]byte, error)
	Contains(key []byte) (bool, error)
}

// EphemeralBatch is a pure read view of the trie at a fixed root.
// Loaded nodes are cached for the batch's lifetime and simply dropped,
// uncommitted, when the batch is released.
type EphemeralBatch struct {
	trie *mpt.Trie
}

// NewEphemeralBatch opens a read-only view of the trie rooted at root.
func NewEphemeralBatch(ser *trieserializer.Serializer, root primitives.Hash) (*EphemeralBatch, error) {
	t, err := openTrie(ser, root)
	if err != nil {
		return nil, err
	}
	return &EphemeralBatch{trie: t}, nil
}

func (eb *EphemeralBatch) Get(key []byte) ([]byte, error)    { return eb.trie.Get(key) }
func (eb *EphemeralBatch) Contains(key []byte) (bool, error) { return eb.trie.Contains(key) }
func (eb *EphemeralBatch) Cursor() (*mpt.Cursor, error)      { return eb.trie.Cursor() }

// PersistentBatch is a read-modify-write view of the trie at a fixed
// root. Put/Remove mutate the in-memory trie directly; Commit
// serializes the result through the trie serializer and the store's own
// kv.Batch, producing a new root.
type PersistentBatch struct {
	ser   *trieserializer.Serializer
	store kv.Store
	trie  *mpt.Trie
}

// NewPersistentBatch opens a read-modify-write view of the trie rooted
// at root.
func NewPersistentBatch(ser *trieserializer.Serializer, store kv.Store, root primitives.Hash) (*PersistentBatch, error) {
	t, err := openTrie(ser, root)
	if err != nil {
		return nil, err
	}
	return &PersistentBatch{ser: ser, store: store, trie: t}, nil
}

func (pb *PersistentBatch) Get(key []byte) ([]byte, error)    { return pb.trie.Get(key) }
func (pb *PersistentBatch) Contains(key []byte) (bool, error) { return pb.trie.Contains(key) }
func (pb *PersistentBatch) Put(key, value []byte) error       { return pb.trie.Put(key, value) }
func (pb *PersistentBatch) Remove(key []byte) error           { return pb.trie.Remove(key) }

// ClearPrefix removes every key under prefix, per mpt.Trie.ClearPrefix.
func (pb *PersistentBatch) ClearPrefix(prefix []byte, limit int, onDetach func(key []byte)) (int, error) {
	return pb.trie.ClearPrefix(prefix, limit, onDetach)
}

// Commit serializes the batch's current trie content and atomically
// writes any new nodes and values, returning the new root. Committing a
// batch whose content is unchanged since it was opened is idempotent:
// the trie's root is still the Dummy it started as, so the serializer
// performs no writes and returns the same root.
func (pb *PersistentBatch) Commit(version primitives.StateVersion) (primitives.Hash, error) {
	batch := pb.store.NewBatch()
	root, err := pb.ser.StoreTrie(batch, pb.trie, version)
	if err != nil {
		return primitives.Hash{}, err
	}
	if batch.Len() > 0 {
		if err := batch.Commit(); err != nil {
			return primitives.Hash{}, err
		}
	}
	pb.trie.SetResolver(newCachingResolver(pb.ser))
	return root, nil
}

// ChildBatch returns a PersistentBatch for the child trie addressed by
// name, rooted at the empty trie if the parent has no child root stored
// for name yet.
func (pb *PersistentBatch) ChildBatch(name string) (*PersistentBatch, error) {
	root := codec.EmptyRoot()
	v, err := pb.trie.Get([]byte(ChildStoragePrefix + name))
	switch {
	case err == nil:
		copy(root[:], v)
	case errors.Is(err, mpt.ErrNoValue):
		// no child trie yet: start from the empty root.
	default:
		return nil, err
	}
	return NewPersistentBatch(pb.ser, pb.store, root)
}

// SetChildRoot records a child trie's root hash under its reserved key
// in this (parent) batch's trie. Callers commit the child batch first,
// then call SetChildRoot with the result before committing the parent.
func (pb *PersistentBatch) SetChildRoot(name string, root primitives.Hash) error {
	return pb.trie.Put([]byte(ChildStoragePrefix+name), root[:])
}

// overlayEntry is Option<value>: present false marks a recorded
// deletion rather than absence of any entry.
type overlayEntry struct {
	value   []byte
	present bool
}

type mutableBackend interface {
	Backend
	Put(key, value []byte) error
	Remove(key []byte) error
}

// Topper is an in-memory overlay over a parent batch: a key -> Option
// value map consulted before falling through to the parent. WriteBack
// replays the overlay into the parent and clears it. A Topper may serve
// as the parent of a nested Topper.
type Topper struct {
	parent  Backend
	overlay map[string]overlayEntry
}

// NewTopper creates an empty overlay over parent.
func NewTopper(parent Backend) *Topper {
	return &Topper{parent: parent, overlay: make(map[string]overlayEntry)}
}

// Get consults the overlay first, falling through to the parent.
func (tp *Topper) Get(key []byte) ([]byte, error) {
	if e, ok := tp.overlay[string(key)]; ok {
		if !e.present {
			return nil, mpt.ErrNoValue
		}
		return e.value, nil
	}
	return tp.parent.Get(key)
}

// Contains consults the overlay first, falling through to the parent.
func (tp *Topper) Contains(key []byte) (bool, error) {
	if e, ok := tp.overlay[string(key)]; ok {
		return e.present, nil
	}
	return tp.parent.Contains(key)
}

// Put records key=value in the overlay, shadowing the parent.
func (tp *Topper) Put(key, value []byte) error {
	tp.overlay[string(key)] = overlayEntry{value: append([]byte(nil), value...), present: true}
	return nil
}

// Remove records a deletion of key in the overlay, shadowing the
// parent without touching it.
func (tp *Topper) Remove(key []byte) error {
	tp.overlay[string(key)] = overlayEntry{present: false}
	return nil
}

// WriteBack replays every recorded Put/Remove into the parent, in the
// order needed to match final overlay state, and clears the overlay.
// The parent must accept writes (a PersistentBatch or another Topper);
// writing back onto an EphemeralBatch parent is an error.
func (tp *Topper) WriteBack() error {
	parent, ok := tp.parent.(mutableBackend)
	if !ok {
		return ErrParentReadOnly
	}
	for k, e := range tp.overlay {
		var err error
		if e.present {
			err = parent.Put([]byte(k), e.value)
		} else {
			err = parent.Remove([]byte(k))
		}
		if err != nil {
			return err
		}
	}
	tp.overlay = make(map[string]overlayEntry)
	return nil
}

var (
	_ Backend        = (*EphemeralBatch)(nil)
	_ mutableBackend = (*PersistentBatch)(nil)
	_ mutableBackend = (*Topper)(nil)
)
