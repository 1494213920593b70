// Package runtimeupgrade implements component H: a sorted record of
// every observed runtime-code upgrade, letting callers resolve which
// runtime state root was in effect for a given block.
package runtimeupgrade

import (
	"sort"

	"github.com/qdrvm/kagome-sub006/primitives"
)

// Ancestry is the slice of the block tree the tracker needs to decide
// whether a candidate upgrade entry is actually an ancestor of the
// block being queried.
type Ancestry interface {
	IsAncestorOf(ancestor, descendant primitives.Hash) bool
}

// entry pairs an observed upgrade's block with the state root that took
// effect there.
type entry struct {
	block     primitives.BlockInfo
	stateRoot primitives.Hash
}

// Tracker maintains a number-sorted vector of (block, state root) pairs,
// one per observed runtime-code change.
type Tracker struct {
	genesisStateRoot primitives.Hash
	entries          []entry
	ancestry         Ancestry
}

// New creates a Tracker. genesisStateRoot is returned by
// GetLastCodeUpdateState when no recorded upgrade is an ancestor of the
// queried block (including when none has been observed yet).
func New(genesisStateRoot primitives.Hash, ancestry Ancestry) *Tracker {
	return &Tracker{genesisStateRoot: genesisStateRoot, ancestry: ancestry}
}

// OnCodeChanged is invoked whenever a storage-change event on the
// runtime-code key is observed at block, whose state root after the
// change is stateRoot. It inserts the pair and keeps the vector sorted
// by block number.
func (t *Tracker) OnCodeChanged(block primitives.BlockInfo, stateRoot primitives.Hash) {
	e := entry{block: block, stateRoot: stateRoot}
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].block.Number >= block.Number })
	t.entries = append(t.entries, entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = e
}

// GetLastCodeUpdateState locates the greatest recorded entry with
// number <= block.Number that is an ancestor of block in the block
// tree, and returns its state root. If the cache is empty, or no
// recorded entry qualifies as an ancestor, it returns the genesis state
// root.
func (t *Tracker) GetLastCodeUpdateState(block primitives.BlockInfo) primitives.Hash {
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if e.block.Number > block.Number {
			continue
		}
		if e.block.Hash == block.Hash || t.ancestry.IsAncestorOf(e.block.Hash, block.Hash) {
			return e.stateRoot
		}
	}
	return t.genesisStateRoot
}
