// Package primitives defines the core data types shared by the trie,
// block tree, runtime-upgrade tracker, GRANDPA schedule tree, fragment
// chain, and SASSAFRAS lottery: hashes, block identifiers, headers, and
// digests.
package primitives

import (
	"encoding/hex"
	"fmt"
)

// HashSize is the width of a BLAKE2b-256 digest in bytes.
const HashSize = 32

// Hash is a 32-byte BLAKE2b-256 digest used throughout as a block hash,
// state root, or trie Merkle value.
type Hash [HashSize]byte

// String renders the hash as a 0x-prefixed hex string.
func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// BytesToHash truncates or zero-pads b into a Hash.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashSize {
		b = b[len(b)-HashSize:]
	}
	copy(h[HashSize-len(b):], b)
	return h
}

// BlockNumber identifies a block's height.
type BlockNumber uint64

// BlockInfo identifies a block by number and hash.
type BlockInfo struct {
	Number BlockNumber
	Hash   Hash
}

// String renders the BlockInfo as "#number(hash)".
func (b BlockInfo) String() string {
	return fmt.Sprintf("#%d(%s)", b.Number, b.Hash)
}

// Equal reports whether two BlockInfo values identify the same block.
func (b BlockInfo) Equal(o BlockInfo) bool {
	return b.Number == o.Number && b.Hash == o.Hash
}

// DigestKind distinguishes the variants of a runtime digest item.
type DigestKind uint8

const (
	// DigestPreRuntime carries consensus-engine pre-runtime data.
	DigestPreRuntime DigestKind = iota
	// DigestConsensus carries consensus-engine messages, including
	// authority-set change announcements consumed by the GRANDPA
	// schedule-node tree.
	DigestConsensus
	// DigestSeal carries the block author's seal signature.
	DigestSeal
	// DigestRuntimeEnvironmentUpdated marks that the block changed the
	// on-chain runtime code, consumed by the runtime-upgrade tracker.
	DigestRuntimeEnvironmentUpdated
)

// ConsensusEngineID identifies which consensus engine a digest item
// belongs to (e.g. "FRNK" for GRANDPA, "SASS" for SASSAFRAS).
type ConsensusEngineID [4]byte

// DigestItem is one entry of a BlockHeader's digest log.
type DigestItem struct {
	Kind     DigestKind
	EngineID ConsensusEngineID
	Data     []byte
}

// BlockHeader is the minimal header shape the core operates over.
type BlockHeader struct {
	ParentHash     Hash
	Number         BlockNumber
	StateRoot      Hash
	ExtrinsicsRoot Hash
	Digest         []DigestItem
}

// Info extracts the BlockInfo of a header, given its own hash (headers do
// not self-hash in this core; hashing is an external collaborator using
// the SCALE codec, out of scope per spec).
func (h BlockHeader) Info(selfHash Hash) BlockInfo {
	return BlockInfo{Number: h.Number, Hash: selfHash}
}

// StateVersion selects the trie value-inlining policy: V0 always inlines
// values; V1 hashes values at or above the inlining threshold.
type StateVersion uint8

const (
	// StateVersionV0 always stores values inline in the owning node.
	StateVersionV0 StateVersion = iota
	// StateVersionV1 stores large values by hash in a separate column.
	StateVersionV1
)

// Justification is an opaque, consensus-engine-specific finality proof
// attached to a finalized block. Its contents are produced and verified
// by GRANDPA (out of scope here beyond storage); the block tree only
// persists and returns it verbatim.
type Justification []byte
