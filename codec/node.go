// Package codec implements the "polkadot codec": the binary encoding of
// trie nodes, Merkle-value computation, and BLAKE2b-256 hashing. It
// corresponds to component A of the storage engine.
//
// Node variants are a tagged sum (Leaf / Branch / Dummy), not a class
// hierarchy, mirroring how trie nodes are modeled in the reference trie
// package this was adapted from.
package codec

import "github.com/qdrvm/kagome-sub006/primitives"

// Node is the interface implemented by every trie node variant. A node
// caches its own Merkle value once computed so repeated hashing during a
// single commit is avoided.
type Node interface {
	// cached returns the node's cached Merkle value, if any has been
	// computed yet.
	cached() (MerkleValue, bool)
	// setCached stores a freshly computed Merkle value on the node.
	setCached(MerkleValue)
}

// nodeFlags is embedded in every node variant to provide the Merkle
// value cache.
type nodeFlags struct {
	merkle MerkleValue
	dirty  bool
}

func (f *nodeFlags) cached() (MerkleValue, bool) {
	if f.dirty || f.merkle == nil {
		return nil, false
	}
	return f.merkle, true
}

func (f *nodeFlags) setCached(mv MerkleValue) {
	f.merkle = mv
	f.dirty = false
}

// touch marks the node's cached Merkle value stale; called whenever the
// node's content is mutated by the trie layer.
func (f *nodeFlags) touch() {
	f.dirty = true
	f.merkle = nil
}

// Value is a trie node's associated value: either inlined bytes or (in
// StateVersionV1 tries) the hash of a value stored out-of-line in the
// trie_value column.
type Value struct {
	// Inline holds the raw value bytes when the value is not hashed.
	Inline []byte
	// Hash holds blake2b_256(value) when the value is stored out-of-line.
	Hash primitives.Hash
	// Hashed reports which of the two fields above is populated.
	Hashed bool
}

// InlineValue wraps raw bytes as an inline value.
func InlineValue(b []byte) Value { return Value{Inline: b} }

// HashedValue wraps a value hash as an out-of-line value reference.
func HashedValue(h primitives.Hash) Value { return Value{Hash: h, Hashed: true} }

// Leaf is a trie node carrying a partial key and a value but no
// children.
type Leaf struct {
	nodeFlags
	PartialKey Nibbles
	Value      Value
}

// NewLeaf constructs a Leaf node.
func NewLeaf(partialKey Nibbles, value Value) *Leaf {
	return &Leaf{PartialKey: partialKey, Value: value}
}

// Branch is a trie node with up to 16 children and an optional value.
// Invariant: a Branch must have at least one child or a value.
// Each child slot holds a Node directly: nil means absent, a *Dummy
// means "known only by Merkle value" (either not yet loaded from disk,
// or already persisted and replaced after a store), and any other Node
// means a live, materialized child.
type Branch struct {
	nodeFlags
	PartialKey Nibbles
	Children   [16]Node
	Value      *Value // nil when the branch carries no value
}

// NewBranch constructs an empty Branch with the given partial key.
func NewBranch(partialKey Nibbles) *Branch {
	return &Branch{PartialKey: partialKey}
}

// HasChildren reports whether any child slot is populated.
func (b *Branch) HasChildren() bool {
	for _, c := range b.Children {
		if c != nil {
			return true
		}
	}
	return false
}

// ChildCount returns the number of populated child slots.
func (b *Branch) ChildCount() int {
	n := 0
	for _, c := range b.Children {
		if c != nil {
			n++
		}
	}
	return n
}

// SoleChildIndex returns the index of the only populated child slot, and
// true, when exactly one child is populated; otherwise false.
func (b *Branch) SoleChildIndex() (int, bool) {
	idx, count := -1, 0
	for i, c := range b.Children {
		if c != nil {
			idx = i
			count++
			if count > 1 {
				return 0, false
			}
		}
	}
	if count == 1 {
		return idx, true
	}
	return 0, false
}

// Dummy is a placeholder for a not-yet-loaded child: the trie retains
// only the child's Merkle value until something forces materialization.
type Dummy struct {
	nodeFlags
	MerkleVal MerkleValue
}

// NewDummy constructs a Dummy node wrapping a child's Merkle value.
func NewDummy(mv MerkleValue) *Dummy {
	d := &Dummy{MerkleVal: mv}
	d.setCached(mv)
	return d
}

var (
	_ Node = (*Leaf)(nil)
	_ Node = (*Branch)(nil)
	_ Node = (*Dummy)(nil)
)
