// Package blocktree implements component G: the fork-aware in-memory
// index of known blocks, their ancestry, and finalization state. It
// persists headers and justifications through the kv backend but keeps
// its leaf set and ancestry index in memory, rebuilt from storage on
// startup.
package blocktree

import (
	"errors"
	"sync"

	"github.com/qdrvm/kagome-sub006/kv"
	"github.com/qdrvm/kagome-sub006/log"
	"github.com/qdrvm/kagome-sub006/primitives"
)

// Errors returned by BlockTree operations.
var (
	ErrNoParent        = errors.New("blocktree: parent not found")
	ErrBlockNotFound    = errors.New("blocktree: block not found")
	ErrTargetIsPastMax  = errors.New("blocktree: target is past max")
	ErrHeaderNotFound   = errors.New("blocktree: header not found")
	ErrNotDescendant    = errors.New("blocktree: block is not a descendant of the last finalized block")
)

// status is a block's position in the block tree's state machine: Unknown is
// implicit (absent from the index); InChain and Finalized are the two
// states a tracked block can hold, and a block never moves back from
// Finalized.
type status int

const (
	statusInChain status = iota
	statusFinalized
)

type node struct {
	info     primitives.BlockInfo
	header   primitives.BlockHeader
	parent   primitives.Hash
	children map[primitives.Hash]struct{}
	status   status
}

// BlockTree is the fork-aware block index.
type BlockTree struct {
	mu     sync.RWMutex
	store  kv.Store
	log    *log.Logger
	nodes  map[primitives.Hash]*node
	leaves map[primitives.Hash]struct{}
	finalized primitives.BlockInfo
}

// New creates a BlockTree rooted at genesis. genesis is inserted already
// finalized, since it has no parent to require.
func New(store kv.Store, genesis primitives.BlockHeader, genesisHash primitives.Hash) *BlockTree {
	bt := &BlockTree{
		store:  store,
		log:    log.Default().Module("block_tree"),
		nodes:  make(map[primitives.Hash]*node),
		leaves: make(map[primitives.Hash]struct{}),
	}
	info := primitives.BlockInfo{Number: genesis.Number, Hash: genesisHash}
	bt.nodes[genesisHash] = &node{
		info:     info,
		header:   genesis,
		children: make(map[primitives.Hash]struct{}),
		status:   statusFinalized,
	}
	bt.leaves[genesisHash] = struct{}{}
	bt.finalized = info
	bt.persistHeader(genesisHash, genesis)
	return bt
}

func (bt *BlockTree) persistHeader(hash primitives.Hash, header primitives.BlockHeader) {
	bt.store.Put(kv.SpaceHeader, hash[:], encodeHeader(header))
}

// encodeHeader is a minimal, internal header serialization sufficient to
// round-trip through the header column; the wire format used by peers
// is out of scope for this package.
func encodeHeader(h primitives.BlockHeader) []byte {
	buf := make([]byte, 0, 8+2*primitives.HashSize)
	buf = append(buf, h.ParentHash[:]...)
	var numBytes [8]byte
	for i := 0; i < 8; i++ {
		numBytes[7-i] = byte(h.Number >> (8 * i))
	}
	buf = append(buf, numBytes[:]...)
	buf = append(buf, h.StateRoot[:]...)
	buf = append(buf, h.ExtrinsicsRoot[:]...)
	return buf
}

// AddBlock inserts a new block whose parent must already be tracked,
// On success the leaf set is updated: the parent is removed
// from it (it now has a descendant) and the new block is added.
func (bt *BlockTree) AddBlock(header primitives.BlockHeader, hash primitives.Hash) error {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	parent, ok := bt.nodes[header.ParentHash]
	if !ok {
		return ErrNoParent
	}
	if _, exists := bt.nodes[hash]; exists {
		return nil // duplicate add_block is idempotent.
	}

	bt.nodes[hash] = &node{
		info:     primitives.BlockInfo{Number: header.Number, Hash: hash},
		header:   header,
		parent:   header.ParentHash,
		children: make(map[primitives.Hash]struct{}),
		status:   statusInChain,
	}
	parent.children[hash] = struct{}{}
	delete(bt.leaves, header.ParentHash)
	bt.leaves[hash] = struct{}{}
	bt.persistHeader(hash, header)
	return nil
}

// isDescendant reports whether descendant is hash itself or reachable
// from hash by repeatedly following recorded children -- equivalently,
// whether ancestor is an ancestor of descendant by walking parent links
// upward from descendant. Callers hold bt.mu.
func (bt *BlockTree) isDescendantLocked(ancestor, descendant primitives.Hash) bool {
	cur, ok := bt.nodes[descendant]
	if !ok {
		return false
	}
	for {
		if cur.info.Hash == ancestor {
			return true
		}
		if cur.status == statusFinalized {
			return false
		}
		next, ok := bt.nodes[cur.parent]
		if !ok {
			return false
		}
		cur = next
	}
}

// Finalize marks hash, and every ancestor between it and the current
// finalized block, as Finalized; removes every fork that does not
// descend from hash; advances the last-finalized pointer; and persists
// the justification.
func (bt *BlockTree) Finalize(hash primitives.Hash, justification primitives.Justification) error {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	target, ok := bt.nodes[hash]
	if !ok {
		return ErrBlockNotFound
	}
	if !bt.isDescendantLocked(bt.finalized.Hash, hash) {
		return ErrNotDescendant
	}

	// Walk from hash back up to the current finalized block, marking the
	// path Finalized.
	path := []primitives.Hash{}
	cur := target
	for cur.info.Hash != bt.finalized.Hash {
		path = append(path, cur.info.Hash)
		cur = bt.nodes[cur.parent]
	}
	for _, h := range path {
		bt.nodes[h].status = statusFinalized
	}

	// Prune every node that does not descend from hash.
	keep := make(map[primitives.Hash]struct{})
	bt.markDescendants(hash, keep)
	for h := range bt.nodes {
		if _, ok := keep[h]; !ok && !bt.isDescendantLocked(hash, h) {
			delete(bt.nodes, h)
			delete(bt.leaves, h)
		}
	}
	// hash's ancestors between the old finalized block and itself (path[0]
	// is hash; the rest are intermediate finalized ancestors) are no
	// longer needed once hash becomes the new finalization pointer.
	for _, h := range path[1:] {
		delete(bt.nodes, h)
	}

	bt.finalized = target.info
	bt.store.Put(kv.SpaceJustification, hash[:], justification)
	bt.log.Info("finalized block", "number", target.info.Number, "pruned_ancestors", len(path)-1)
	return nil
}

func (bt *BlockTree) markDescendants(hash primitives.Hash, out map[primitives.Hash]struct{}) {
	out[hash] = struct{}{}
	n, ok := bt.nodes[hash]
	if !ok {
		return
	}
	for c := range n.children {
		if _, seen := out[c]; seen {
			continue
		}
		bt.markDescendants(c, out)
	}
}

// GetBestContaining finds the longest chain passing through hash whose
// tip number does not exceed maxNumber, and returns that tip's
// BlockInfo.
func (bt *BlockTree) GetBestContaining(hash primitives.Hash, maxNumber primitives.BlockNumber) (primitives.BlockInfo, error) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	target, ok := bt.nodes[hash]
	if !ok {
		return primitives.BlockInfo{}, ErrBlockNotFound
	}
	if target.info.Number > maxNumber {
		return primitives.BlockInfo{}, ErrTargetIsPastMax
	}

	best := target.info
	var walk func(h primitives.Hash)
	walk = func(h primitives.Hash) {
		n := bt.nodes[h]
		if n.info.Number > best.Number {
			best = n.info
		}
		for c := range n.children {
			if bt.nodes[c].info.Number > maxNumber {
				continue
			}
			walk(c)
		}
	}
	walk(hash)
	return best, nil
}

// GetChainByBlock returns up to length block hashes along the chain
// containing hash: if ascending, from hash's oldest visible ancestor
// toward hash; otherwise from hash toward its deepest descendant along
// the first child at each step.
func (bt *BlockTree) GetChainByBlock(hash primitives.Hash, ascending bool, length int) ([]primitives.Hash, error) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	if _, ok := bt.nodes[hash]; !ok {
		return nil, ErrBlockNotFound
	}

	var out []primitives.Hash
	if ascending {
		cur := hash
		for len(out) < length {
			out = append(out, cur)
			n := bt.nodes[cur]
			if n.status == statusFinalized && n.info.Hash == bt.finalized.Hash {
				break
			}
			next, ok := bt.nodes[n.parent]
			if !ok {
				break
			}
			cur = next.info.Hash
		}
		// reverse so the result runs oldest-to-newest.
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		return out, nil
	}

	cur := hash
	for len(out) < length {
		out = append(out, cur)
		n := bt.nodes[cur]
		next, ok := bt.deepestChild(n)
		if !ok {
			break
		}
		cur = next
	}
	return out, nil
}

func (bt *BlockTree) deepestChild(n *node) (primitives.Hash, bool) {
	var best primitives.Hash
	found := false
	for c := range n.children {
		if !found || bt.nodes[c].info.Number < bt.nodes[best].info.Number {
			best = c
			found = true
		}
	}
	return best, found
}

// GetChildren returns hash's immediate children.
func (bt *BlockTree) GetChildren(hash primitives.Hash) ([]primitives.Hash, error) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	n, ok := bt.nodes[hash]
	if !ok {
		return nil, ErrBlockNotFound
	}
	out := make([]primitives.Hash, 0, len(n.children))
	for c := range n.children {
		out = append(out, c)
	}
	return out, nil
}

// GetLeaves returns every current leaf hash.
func (bt *BlockTree) GetLeaves() []primitives.Hash {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	out := make([]primitives.Hash, 0, len(bt.leaves))
	for h := range bt.leaves {
		out = append(out, h)
	}
	return out
}

// DeepestLeaf returns the leaf with the greatest block number.
func (bt *BlockTree) DeepestLeaf() (primitives.BlockInfo, bool) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	var best primitives.BlockInfo
	found := false
	for h := range bt.leaves {
		n := bt.nodes[h]
		if !found || n.info.Number > best.Number {
			best = n.info
			found = true
		}
	}
	return best, found
}

// LastFinalized returns the last-finalized block.
func (bt *BlockTree) LastFinalized() primitives.BlockInfo {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.finalized
}

// IsAncestorOf reports whether ancestor is hash-equal to descendant or
// reachable by walking descendant's parent links upward. Implements
// runtimeupgrade.Ancestry.
func (bt *BlockTree) IsAncestorOf(ancestor, descendant primitives.Hash) bool {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.isDescendantLocked(ancestor, descendant)
}

// StateRootOf returns the state root recorded in hash's header.
// Implements triepruner.BlockTreeView.
func (bt *BlockTree) StateRootOf(hash primitives.Hash) (primitives.Hash, error) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	n, ok := bt.nodes[hash]
	if !ok {
		return primitives.Hash{}, ErrHeaderNotFound
	}
	return n.header.StateRoot, nil
}

// GetBlockBody returns the header recorded for hash. Extrinsic bodies
// themselves are out of the storage engine's scope; this
// returns the header as the closest in-scope equivalent of block
// identity lookup.
func (bt *BlockTree) GetBlockBody(hash primitives.Hash) (primitives.BlockHeader, error) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	n, ok := bt.nodes[hash]
	if !ok {
		return primitives.BlockHeader{}, ErrBlockNotFound
	}
	return n.header, nil
}
