// Package trieserializer implements component D: the bridge between the
// in-memory trie (package mpt) and the column-keyed storage backend
// (package kv). It stores a trie by a post-order walk that encodes
// children before parents, and retrieves a trie lazily, materializing
// Dummy placeholders on demand through the same Resolver machinery the
// trie layer already expects.
//
// Grounded on the reference trie database's CommitTrie/commitNode
// post-order hashing pattern and its lazy-resolving wrapper trie.
package trieserializer

import (
	"errors"
	"fmt"

	"github.com/qdrvm/kagome-sub006/codec"
	"github.com/qdrvm/kagome-sub006/kv"
	"github.com/qdrvm/kagome-sub006/mpt"
	"github.com/qdrvm/kagome-sub006/primitives"
)

// ErrNodeNotFound is returned when a node's encoding, or a hashed
// value's bytes, cannot be found in the backend.
var ErrNodeNotFound = errors.New("trieserializer: node not found")

// Serializer stores and retrieves tries through a kv.Store. It also
// implements mpt.Resolver directly, so a trie loaded through it can lazily
// materialize Dummy children without any further wiring.
type Serializer struct {
	store kv.Reader
}

// New creates a Serializer reading from store. store need only satisfy
// kv.Reader; writes always go through the kv.Batch passed to StoreTrie.
func New(store kv.Reader) *Serializer {
	return &Serializer{store: store}
}

// ResolveNode implements mpt.Resolver.
func (s *Serializer) ResolveNode(mv codec.MerkleValue) (codec.Node, error) {
	return s.RetrieveNode(mv)
}

// ResolveValue implements mpt.Resolver.
func (s *Serializer) ResolveValue(h [32]byte) ([]byte, error) {
	v, ok, err := s.store.TryGet(kv.SpaceTrieValue, h[:])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNodeNotFound
	}
	return v, nil
}

// RetrieveNode decodes a single node from its Merkle value. A Merkle
// value shorter than a hash IS the node's own encoding and needs no
// backend lookup; a hash-length value is looked up in the trie_node
// column.
func (s *Serializer) RetrieveNode(mv codec.MerkleValue) (codec.Node, error) {
	enc, err := s.lookupEncoding(mv)
	if err != nil {
		return nil, err
	}
	return codec.Decode(enc)
}

func (s *Serializer) lookupEncoding(mv codec.MerkleValue) ([]byte, error) {
	if len(mv) < primitives.HashSize {
		return mv, nil
	}
	enc, ok, err := s.store.TryGet(kv.SpaceTrieNode, mv)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNodeNotFound
	}
	return enc, nil
}

// observingResolver wraps a Serializer so every node it lazily
// materializes (other than the root, reported separately) is reported
// to a caller-supplied callback -- used by RetrieveTrie and, in turn, by
// the trie pruner's startup recovery walk.
type observingResolver struct {
	s        *Serializer
	onLoaded func(codec.Node)
}

func (r *observingResolver) ResolveNode(mv codec.MerkleValue) (codec.Node, error) {
	n, err := r.s.RetrieveNode(mv)
	if err != nil {
		return nil, err
	}
	if r.onLoaded != nil {
		r.onLoaded(n)
	}
	return n, nil
}

func (r *observingResolver) ResolveValue(h [32]byte) ([]byte, error) {
	return r.s.ResolveValue(h)
}

// RetrieveTrie looks up root's encoding and decodes it, returning a trie
// whose non-root children are Dummy placeholders resolved lazily.
// onNodeLoaded, if non-nil, is invoked once per node materialized from
// storage, including the root itself.
func (s *Serializer) RetrieveTrie(root primitives.Hash, onNodeLoaded func(codec.Node)) (*mpt.Trie, error) {
	if root == codec.EmptyRoot() {
		return mpt.Empty(s), nil
	}
	enc, ok, err := s.store.TryGet(kv.SpaceTrieNode, root[:])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNodeNotFound
	}
	n, err := codec.Decode(enc)
	if err != nil {
		return nil, err
	}
	if onNodeLoaded != nil {
		onNodeLoaded(n)
	}
	return mpt.New(n, &observingResolver{s: s, onLoaded: onNodeLoaded}), nil
}

// StoreTrie persists every node reachable from t's root that is not
// already a Dummy (i.e. every node touched since the last commit),
// replacing stored children with Dummy placeholders as they are
// flushed, and returns the trie's new root hash. The root is always
// persisted under its full 32-byte hash regardless of how short its
// encoding is, so it can always be looked up directly by block state
// root; every other node is keyed by its Merkle value and, when that
// value is itself short enough to be the node's whole encoding, is not
// separately stored at all (its parent already inlines it). Hashed
// values are written to the value column under blake2b_256(value).
// Commit is idempotent on unchanged content: an already-Dummy root is
// returned as-is with no writes.
func (s *Serializer) StoreTrie(batch kv.Batch, t *mpt.Trie, version primitives.StateVersion) (primitives.Hash, error) {
	root := t.Root()
	if root == nil {
		t.SetResolver(s)
		return codec.EmptyRoot(), nil
	}

	mv, err := s.storeNode(batch, root, version, true)
	if err != nil {
		return primitives.Hash{}, err
	}
	var h primitives.Hash
	copy(h[:], mv)
	t.SetRoot(codec.NewDummy(mv))
	t.SetResolver(s)
	return h, nil
}

func (s *Serializer) storeNode(batch kv.Batch, n codec.Node, version primitives.StateVersion, isRoot bool) (codec.MerkleValue, error) {
	if d, ok := n.(*codec.Dummy); ok {
		return d.MerkleVal, nil
	}

	if b, ok := n.(*codec.Branch); ok {
		for i, c := range b.Children {
			if c == nil {
				continue
			}
			mv, err := s.storeNode(batch, c, version, false)
			if err != nil {
				return nil, err
			}
			b.Children[i] = codec.NewDummy(mv)
		}
	}

	enc, emission, err := codec.Encode(n, version, nil)
	if err != nil {
		return nil, fmt.Errorf("trieserializer: encode: %w", err)
	}
	if emission != nil {
		batch.Put(kv.SpaceTrieValue, emission.Hash[:], emission.Value)
	}

	if isRoot {
		h := codec.Hash256(enc)
		mv := codec.MerkleValue(h[:])
		batch.Put(kv.SpaceTrieNode, mv, enc)
		return mv, nil
	}

	mv := codec.ComputeMerkleValue(enc)
	if len(mv) >= primitives.HashSize {
		batch.Put(kv.SpaceTrieNode, mv, enc)
	}
	return mv, nil
}

var _ mpt.Resolver = (*Serializer)(nil)
