// Package triepruner implements component F: a reference-counted trie
// node pruner. It tracks, per Merkle value, how many registered states
// reference that node, and reclaims nodes whose count reaches zero when
// a state is finalized or a fork is discarded.
//
// Grounded on original_source's trie_pruner_impl.cpp: the
// increment-only-on-first-reference rule in addNewState, the
// decrement-and-recurse-only-on-zero rule in prune, and the three
// startup cases in init (resume from a persisted record; register the
// current finalized state when storage is empty; refuse to attach to
// existing non-pruned storage).
package triepruner

import (
	"encoding/binary"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/qdrvm/kagome-sub006/codec"
	"github.com/qdrvm/kagome-sub006/kv"
	"github.com/qdrvm/kagome-sub006/log"
	"github.com/qdrvm/kagome-sub006/primitives"
	"github.com/qdrvm/kagome-sub006/trieserializer"
)

// Errors returned by Pruner operations.
var (
	// ErrOnNonPrunedStorage guards the startup case where no pruner
	// record is persisted but the backend already holds trie nodes: the
	// pruner cannot safely assume ownership of state it never counted.
	ErrOnNonPrunedStorage = errors.New("triepruner: cannot attach to existing non-empty, never-pruned storage")
	errCorruptRecord      = errors.New("triepruner: corrupt persisted record")
)

const (
	recordPrefixRefCount byte = 0x00
	recordKeyLastPruned  byte = 0x01
)

// BlockTreeView is the slice of the block tree the pruner needs for
// startup recovery.
type BlockTreeView interface {
	LastFinalized() primitives.BlockInfo
	StateRootOf(hash primitives.Hash) (primitives.Hash, error)
}

// Interface is implemented by both Pruner and Noop, so callers (block
// import, fork pruning) can be written against either a real pruner or
// the archive-node no-op.
type Interface interface {
	AddNewState(root primitives.Hash, batch kv.Batch) error
	PruneFinalized(stateRoot primitives.Hash, info primitives.BlockInfo) error
	PruneDiscarded(stateRoot primitives.Hash, header primitives.BlockInfo) error
	RecoverState(bt BlockTreeView) error
	LastPruned() (primitives.BlockInfo, bool)
}

// Pruner is the refcount-backed trie pruner. Its public mutating methods
// are safe to call concurrently from a worker pool: mu serializes the
// refcount walk and commit for each call so concurrent callers never
// race on the shared refCount map, even though each call's own IO and
// computation runs independently of the others.
type Pruner struct {
	store    kv.Store
	ser      *trieserializer.Serializer
	log      *log.Logger
	depth    uint32
	thorough bool

	mu         sync.Mutex
	refCount   map[string]uint32
	lastPruned *primitives.BlockInfo
}

// New constructs a Pruner, loading any persisted refcount map and
// last-pruned record from store. depth is the number of finalized
// blocks behind the head to retain before pruning; thorough additionally
// reclaims nodes of discarded forks.
func New(store kv.Store, ser *trieserializer.Serializer, depth uint32, thorough bool) (*Pruner, error) {
	p := &Pruner{
		store:    store,
		ser:      ser,
		log:      log.Default().Module("trie_pruner"),
		depth:    depth,
		thorough: thorough,
		refCount: make(map[string]uint32),
	}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pruner) load() error {
	c, err := p.store.Cursor(kv.SpaceTriePruner)
	if err != nil {
		return err
	}
	defer c.Close()
	for ok := c.SeekFirst(); ok; ok = c.Next() {
		k, v := c.Key(), c.Value()
		if len(k) == 0 {
			continue
		}
		switch k[0] {
		case recordPrefixRefCount:
			if len(v) != 4 {
				return errCorruptRecord
			}
			p.refCount[string(k[1:])] = binary.BigEndian.Uint32(v)
		case recordKeyLastPruned:
			bi, err := decodeBlockInfo(v)
			if err != nil {
				return err
			}
			p.lastPruned = &bi
		}
	}
	return nil
}

// LastPruned returns the last block the pruner has advanced past, if any.
func (p *Pruner) LastPruned() (primitives.BlockInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastPruned == nil {
		return primitives.BlockInfo{}, false
	}
	return *p.lastPruned, true
}

func cloneRefCount(m map[string]uint32) map[string]uint32 {
	out := make(map[string]uint32, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func putRefCount(batch kv.Batch, mv codec.MerkleValue, count uint32) {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, count)
	batch.Put(kv.SpaceTriePruner, append([]byte{recordPrefixRefCount}, mv...), v)
}

func removeRefCountRecord(batch kv.Batch, mv codec.MerkleValue) {
	batch.Remove(kv.SpaceTriePruner, append([]byte{recordPrefixRefCount}, mv...))
}

func putLastPruned(batch kv.Batch, info primitives.BlockInfo) {
	batch.Put(kv.SpaceTriePruner, []byte{recordKeyLastPruned}, encodeBlockInfo(info))
}

func encodeBlockInfo(bi primitives.BlockInfo) []byte {
	b := make([]byte, 8+primitives.HashSize)
	binary.BigEndian.PutUint64(b[:8], uint64(bi.Number))
	copy(b[8:], bi.Hash[:])
	return b
}

func decodeBlockInfo(b []byte) (primitives.BlockInfo, error) {
	if len(b) != 8+primitives.HashSize {
		return primitives.BlockInfo{}, errCorruptRecord
	}
	n := binary.BigEndian.Uint64(b[:8])
	var h primitives.Hash
	copy(h[:], b[8:])
	return primitives.BlockInfo{Number: primitives.BlockNumber(n), Hash: h}, nil
}

// AddNewState walks the trie rooted at root, incrementing the refcount
// of every node reached. Recursion into a branch's children happens
// only when its own count transitions from 0 to 1 -- the subtree has
// already been counted in full from a prior state otherwise. Refcount
// updates are recorded into batch so the caller can commit them
// atomically alongside the state they accompany (typically a block
// import).
func (p *Pruner) AddNewState(root primitives.Hash, batch kv.Batch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	work := cloneRefCount(p.refCount)
	if err := p.addNewStateNode(work, codec.MerkleValue(append([]byte(nil), root[:]...)), batch); err != nil {
		return err
	}
	p.refCount = work
	return nil
}

func (p *Pruner) addNewStateNode(work map[string]uint32, mv codec.MerkleValue, batch kv.Batch) error {
	key := string(mv)
	count := work[key] + 1
	work[key] = count
	putRefCount(batch, mv, count)
	if count != 1 {
		return nil
	}

	n, err := p.ser.RetrieveNode(mv)
	if err != nil {
		p.log.Warn("trie node missing during add_new_state walk", "error", err)
		return nil
	}
	branch, ok := n.(*codec.Branch)
	if !ok {
		return nil
	}
	for _, c := range branch.Children {
		d, ok := c.(*codec.Dummy)
		if !ok {
			continue
		}
		if err := p.addNewStateNode(work, d.MerkleVal, batch); err != nil {
			return err
		}
	}
	return nil
}

// PruneFinalized walks the trie at stateRoot, decrementing refcounts and
// reclaiming every node whose count reaches zero, then persists the new
// "last pruned" record as info. The walk and all backend writes commit
// in a single atomic batch; a failure leaves the pruner's in-memory
// state exactly as it was before the call, so the caller may retry.
func (p *Pruner) PruneFinalized(stateRoot primitives.Hash, info primitives.BlockInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prune(stateRoot, info)
}

// PruneDiscarded walks the trie at stateRoot to reclaim nodes from a
// fork dropped without being finalized. header identifies the discarded
// block but is not recorded as the new last-pruned pointer, since
// discarding a fork does not advance finalization.
func (p *Pruner) PruneDiscarded(stateRoot primitives.Hash, header primitives.BlockInfo) error {
	if !p.thorough {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	work := cloneRefCount(p.refCount)
	batch := p.store.NewBatch()
	if err := p.pruneNode(work, codec.MerkleValue(append([]byte(nil), stateRoot[:]...)), batch); err != nil {
		return err
	}
	if batch.Len() > 0 {
		if err := batch.Commit(); err != nil {
			return err
		}
	}
	p.refCount = work
	return nil
}

// DiscardedFork names one fork dropped without being finalized, as
// fed to PruneDiscardedForks.
type DiscardedFork struct {
	StateRoot primitives.Hash
	Header    primitives.BlockInfo
}

// PruneDiscardedForks fans PruneDiscarded out across forks on a
// background worker pool. Each fork's own backend reads and node
// decoding run concurrently; mu still serializes the refcount mutation
// and batch commit per fork, so the result is identical to calling
// PruneDiscarded for each fork in sequence. The first error encountered
// cancels the remaining, not-yet-started forks.
func (p *Pruner) PruneDiscardedForks(forks []DiscardedFork) error {
	var g errgroup.Group
	for _, f := range forks {
		f := f
		g.Go(func() error {
			return p.PruneDiscarded(f.StateRoot, f.Header)
		})
	}
	return g.Wait()
}

func (p *Pruner) prune(stateRoot primitives.Hash, info primitives.BlockInfo) error {
	work := cloneRefCount(p.refCount)
	batch := p.store.NewBatch()
	if err := p.pruneNode(work, codec.MerkleValue(append([]byte(nil), stateRoot[:]...)), batch); err != nil {
		return err
	}
	putLastPruned(batch, info)
	if err := batch.Commit(); err != nil {
		return err
	}
	p.refCount = work
	p.lastPruned = &info
	return nil
}

func (p *Pruner) pruneNode(work map[string]uint32, mv codec.MerkleValue, batch kv.Batch) error {
	key := string(mv)
	count, ok := work[key]
	if !ok || count == 0 {
		// Missing entry: the same Merkle value was already collapsed to
		// zero via another path. Not fatal.
		p.log.Debug("prune: node already collapsed", "merkle_value_len", len(mv))
		return nil
	}
	count--
	if count == 0 {
		delete(work, key)
		removeRefCountRecord(batch, mv)
		if len(mv) >= primitives.HashSize {
			batch.Remove(kv.SpaceTrieNode, mv)
		}
	} else {
		work[key] = count
		putRefCount(batch, mv, count)
		return nil
	}

	n, err := p.ser.RetrieveNode(mv)
	if err != nil {
		p.log.Warn("trie node missing during prune walk", "error", err)
		return nil
	}
	branch, ok := n.(*codec.Branch)
	if !ok {
		return nil
	}
	for _, c := range branch.Children {
		d, ok := c.(*codec.Dummy)
		if !ok {
			continue
		}
		if err := p.pruneNode(work, d.MerkleVal, batch); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pruner) storageEmpty() (bool, error) {
	c, err := p.store.Cursor(kv.SpaceTrieNode)
	if err != nil {
		return false, err
	}
	defer c.Close()
	return !c.SeekFirst(), nil
}

// RecoverState runs the pruner's three startup cases: if a "last
// pruned" record is already persisted, resume from it; if none is
// persisted and the trie_node column is empty, register the block
// tree's current finalized state as the pruner's baseline; otherwise
// the backend already holds nodes this pruner never counted, and
// attaching would make pruning unsafe, so it refuses with
// ErrOnNonPrunedStorage.
func (p *Pruner) RecoverState(bt BlockTreeView) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastPruned != nil {
		return nil
	}
	empty, err := p.storageEmpty()
	if err != nil {
		return err
	}
	if !empty {
		return ErrOnNonPrunedStorage
	}

	finalized := bt.LastFinalized()
	stateRoot, err := bt.StateRootOf(finalized.Hash)
	if err != nil {
		return err
	}
	batch := p.store.NewBatch()
	if err := p.addNewStateNode(p.refCount, codec.MerkleValue(append([]byte(nil), stateRoot[:]...)), batch); err != nil {
		return err
	}
	putLastPruned(batch, finalized)
	if batch.Len() > 0 {
		if err := batch.Commit(); err != nil {
			return err
		}
	}
	p.lastPruned = &finalized
	return nil
}

// Noop is a pruner that never reclaims anything, for archive-node
// operation: every historical state remains queryable.
type Noop struct{}

func (Noop) AddNewState(primitives.Hash, kv.Batch) error                { return nil }
func (Noop) PruneFinalized(primitives.Hash, primitives.BlockInfo) error { return nil }
func (Noop) PruneDiscarded(primitives.Hash, primitives.BlockInfo) error { return nil }
func (Noop) RecoverState(BlockTreeView) error                          { return nil }
func (Noop) LastPruned() (primitives.BlockInfo, bool)                  { return primitives.BlockInfo{}, false }

var (
	_ Interface = (*Pruner)(nil)
	_ Interface = Noop{}
)
