// Package mpt implements the in-memory Merkle-Patricia trie (component
// C): get/put/remove/clear-prefix over the node variants defined by
// package codec, with lazy materialization of Dummy children through a
// Resolver supplied by the trie serializer (component D).
//
// Adapted from the reference trie package's recursive insert-with-split
// builder (shortNode/fullNode, common-prefix splitting), generalized
// from go-ethereum's hex-prefix terminator convention to the codec
// package's explicit partial-key-length node variants.
package mpt

import (
	"bytes"
	"errors"

	"github.com/qdrvm/kagome-sub006/codec"
)

// Errors returned by Trie operations.
var (
	ErrNoValue    = errors.New("mpt: key has no value")
	ErrInvalidKey = errors.New("mpt: invalid key")
	ErrNoResolver = errors.New("mpt: dummy child encountered with no resolver")
)

// Resolver materializes Dummy placeholders into live nodes, and resolves
// out-of-line (hashed) values. Implemented by the trie serializer.
type Resolver interface {
	ResolveNode(mv codec.MerkleValue) (codec.Node, error)
	ResolveValue(h [32]byte) ([]byte, error)
}

// Trie is a mutable in-memory Merkle-Patricia trie.
type Trie struct {
	root     codec.Node
	resolver Resolver
}

// New creates a Trie with the given root node (nil for empty) and
// resolver (nil if the whole trie is already materialized, e.g. one
// built purely in memory by tests).
func New(root codec.Node, resolver Resolver) *Trie {
	return &Trie{root: root, resolver: resolver}
}

// Empty creates an empty Trie.
func Empty(resolver Resolver) *Trie {
	return &Trie{resolver: resolver}
}

// Root returns the trie's current root node (nil for the empty trie).
func (t *Trie) Root() codec.Node { return t.root }

// SetResolver attaches or replaces the trie's lazy-loading resolver.
func (t *Trie) SetResolver(r Resolver) { t.resolver = r }

// Resolver returns the trie's current resolver (nil if none is set).
func (t *Trie) Resolver() Resolver { return t.resolver }

// SetRoot replaces the trie's root node directly. Used by the trie
// serializer after a commit, to pin the root to the Dummy placeholder
// carrying its freshly computed hash.
func (t *Trie) SetRoot(n codec.Node) { t.root = n }

func (t *Trie) resolve(n codec.Node) (codec.Node, error) {
	d, ok := n.(*codec.Dummy)
	if !ok {
		return n, nil
	}
	if t.resolver == nil {
		return nil, ErrNoResolver
	}
	return t.resolver.ResolveNode(d.MerkleVal)
}

func (t *Trie) resolveValue(v codec.Value) ([]byte, error) {
	if !v.Hashed {
		return v.Inline, nil
	}
	if t.resolver == nil {
		return nil, ErrNoResolver
	}
	return t.resolver.ResolveValue(v.Hash)
}

// Get returns the value stored at key, or ErrNoValue if absent.
func (t *Trie) Get(key []byte) ([]byte, error) {
	nib := codec.BytesToNibbles(key)
	n, err := t.getAt(t.root, nib)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, ErrNoValue
	}
	return t.resolveValue(*n)
}

// Contains reports whether key has a value in the trie.
func (t *Trie) Contains(key []byte) (bool, error) {
	_, err := t.Get(key)
	if errors.Is(err, ErrNoValue) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *Trie) getAt(n codec.Node, key codec.Nibbles) (*codec.Value, error) {
	n, err := t.resolve(n)
	if err != nil {
		return nil, err
	}
	switch v := n.(type) {
	case nil:
		return nil, nil
	case *codec.Leaf:
		if v.PartialKey.Equal(key) {
			return &v.Value, nil
		}
		return nil, nil
	case *codec.Branch:
		common := codec.CommonPrefixLen(v.PartialKey, key)
		if common < len(v.PartialKey) {
			return nil, nil
		}
		rest := key[common:]
		if len(rest) == 0 {
			return v.Value, nil
		}
		idx := rest[0]
		child, err := t.getAt(v.Children[idx], rest[1:])
		return child, err
	default:
		return nil, ErrInvalidKey
	}
}

// Put inserts or replaces the value at key.
func (t *Trie) Put(key, value []byte) error {
	nib := codec.BytesToNibbles(key)
	newRoot, err := t.insert(t.root, nib, append([]byte(nil), value...))
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

func (t *Trie) insert(n codec.Node, key codec.Nibbles, value []byte) (codec.Node, error) {
	n, err := t.resolve(n)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return codec.NewLeaf(key, codec.InlineValue(value)), nil
	}

	switch node := n.(type) {
	case *codec.Leaf:
		return t.insertIntoLeaf(node, key, value)
	case *codec.Branch:
		return t.insertIntoBranch(node, key, value)
	default:
		return nil, ErrInvalidKey
	}
}

func (t *Trie) insertIntoLeaf(node *codec.Leaf, key codec.Nibbles, value []byte) (codec.Node, error) {
	common := codec.CommonPrefixLen(node.PartialKey, key)

	switch {
	case common == len(node.PartialKey) && common == len(key):
		node.Value = codec.InlineValue(value)
		return node, nil

	case common == len(node.PartialKey):
		// key extends past the leaf's key: the leaf's value becomes the
		// new branch's value, and a new leaf child carries the rest.
		branch := codec.NewBranch(node.PartialKey[:common])
		v := node.Value
		branch.Value = &v
		idx := key[common]
		branch.Children[idx] = codec.NewLeaf(key[common+1:], codec.InlineValue(value))
		return branch, nil

	case common == len(key):
		// new key is a strict prefix of the leaf's key.
		branch := codec.NewBranch(key[:common])
		v := codec.InlineValue(value)
		branch.Value = &v
		idx := node.PartialKey[common]
		branch.Children[idx] = codec.NewLeaf(node.PartialKey[common+1:], node.Value)
		return branch, nil

	default:
		// diverge: neither is a prefix of the other.
		branch := codec.NewBranch(key[:common])
		idx1 := node.PartialKey[common]
		branch.Children[idx1] = codec.NewLeaf(node.PartialKey[common+1:], node.Value)
		idx2 := key[common]
		branch.Children[idx2] = codec.NewLeaf(key[common+1:], codec.InlineValue(value))
		return branch, nil
	}
}

func (t *Trie) insertIntoBranch(node *codec.Branch, key codec.Nibbles, value []byte) (codec.Node, error) {
	common := codec.CommonPrefixLen(node.PartialKey, key)

	if common < len(node.PartialKey) {
		// Split: a new branch sits above the old one, which now carries
		// only the nibbles past the split point.
		newBranch := codec.NewBranch(node.PartialKey[:common])
		idx1 := node.PartialKey[common]
		node.PartialKey = node.PartialKey[common+1:]
		newBranch.Children[idx1] = node

		if common == len(key) {
			v := codec.InlineValue(value)
			newBranch.Value = &v
		} else {
			idx2 := key[common]
			newBranch.Children[idx2] = codec.NewLeaf(key[common+1:], codec.InlineValue(value))
		}
		return newBranch, nil
	}

	rest := key[common:]
	if len(rest) == 0 {
		v := codec.InlineValue(value)
		node.Value = &v
		return node, nil
	}

	idx := rest[0]
	newChild, err := t.insert(node.Children[idx], rest[1:], value)
	if err != nil {
		return nil, err
	}
	node.Children[idx] = newChild
	return node, nil
}

// Remove deletes the value at key, if any. Removing an absent key is a
// no-op, consistent with the "already-pruned operations return
// success" idempotency policy.
func (t *Trie) Remove(key []byte) error {
	nib := codec.BytesToNibbles(key)
	newRoot, _, err := t.remove(t.root, nib)
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

func (t *Trie) remove(n codec.Node, key codec.Nibbles) (codec.Node, bool, error) {
	n, err := t.resolve(n)
	if err != nil {
		return nil, false, err
	}
	switch node := n.(type) {
	case nil:
		return nil, false, nil

	case *codec.Leaf:
		if node.PartialKey.Equal(key) {
			return nil, true, nil
		}
		return node, false, nil

	case *codec.Branch:
		common := codec.CommonPrefixLen(node.PartialKey, key)
		if common < len(node.PartialKey) {
			return node, false, nil
		}
		rest := key[common:]
		if len(rest) == 0 {
			if node.Value == nil {
				return node, false, nil
			}
			node.Value = nil
			collapsed, err := t.collapseBranch(node)
			return collapsed, true, err
		}
		idx := rest[0]
		child := node.Children[idx]
		if child == nil {
			return node, false, nil
		}
		newChild, removed, err := t.remove(child, rest[1:])
		if err != nil {
			return nil, false, err
		}
		if !removed {
			return node, false, nil
		}
		node.Children[idx] = newChild
		collapsed, err := t.collapseBranch(node)
		return collapsed, true, err

	default:
		return nil, false, ErrInvalidKey
	}
}

// collapseBranch enforces the trie's rebalancing invariants: a branch with
// no children and no value is deleted; a branch with exactly one
// remaining child and no value collapses into that child, concatenating
// partial keys.
func (t *Trie) collapseBranch(node *codec.Branch) (codec.Node, error) {
	if !node.HasChildren() {
		if node.Value == nil {
			return nil, nil
		}
		return codec.NewLeaf(node.PartialKey, *node.Value), nil
	}
	if node.Value != nil {
		return node, nil
	}
	idx, ok := node.SoleChildIndex()
	if !ok {
		return node, nil
	}
	child, err := t.resolve(node.Children[idx])
	if err != nil {
		return nil, err
	}
	merged := node.PartialKey.Concat(append(codec.Nibbles{byte(idx)}, childPartialKey(child)...))
	switch c := child.(type) {
	case *codec.Leaf:
		return codec.NewLeaf(merged, c.Value), nil
	case *codec.Branch:
		c.PartialKey = merged
		return c, nil
	default:
		return node, nil
	}
}

func childPartialKey(n codec.Node) codec.Nibbles {
	switch v := n.(type) {
	case *codec.Leaf:
		return v.PartialKey
	case *codec.Branch:
		return v.PartialKey
	default:
		return nil
	}
}

// ClearPrefix removes every key under prefix, up to limit removals (0 =
// unlimited). onDetach, if non-nil, is invoked with each removed key's
// full byte-string key. Returns the number of keys removed.
func (t *Trie) ClearPrefix(prefix []byte, limit int, onDetach func(key []byte)) (int, error) {
	keys, err := t.keysWithPrefix(prefix, limit)
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := t.Remove(k); err != nil {
			return 0, err
		}
		if onDetach != nil {
			onDetach(k)
		}
	}
	return len(keys), nil
}

func (t *Trie) keysWithPrefix(prefix []byte, limit int) ([][]byte, error) {
	c, err := t.Cursor()
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for ok := c.SeekLowerBound(prefix); ok; ok = c.Next() {
		k := c.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		out = append(out, append([]byte(nil), k...))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, c.Err()
}
