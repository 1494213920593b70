package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/qdrvm/kagome-sub006/primitives"
)

// Errors returned by Encode/Decode.
var (
	ErrInvalidNodeType  = errors.New("codec: invalid node type")
	ErrTooFewBytes      = errors.New("codec: too few bytes")
	ErrInvalidKeyLength = errors.New("codec: invalid key length")
	ErrUnexpectedEOF    = errors.New("codec: unexpected eof")
)

// MerkleValue is the reference embedded in a parent's encoding for a
// child node: the child's own encoding when short, otherwise the
// BLAKE2b-256 hash of that encoding.
type MerkleValue []byte

// merkleValueInlineThreshold is the byte length at and above which a
// node's encoding is referenced by hash rather than inlined.
const merkleValueInlineThreshold = 32

// variant identifies a node's header-byte tag. Five variants, the
// "leaf / branch-no-value / branch-with-value / leaf-hashed /
// branch-hashed", plus a reserved Empty marker used only for the empty
// trie's root encoding.
type variant uint8

const (
	variantLeaf variant = iota
	variantLeafHashed
	variantBranchNoValue
	variantBranchValue
	variantBranchHashed
	variantEmpty
)

const (
	variantShift    = 5
	pkLenMask       = 0x1f // low 5 bits of the header byte
	pkLenSpillStart = 0x1f // 31: partial-key length spills into continuation bytes
	pkLenSpillMax   = 0xff // continuation byte value that signals "more spill"
)

// ChildVisitor is invoked for each live (non-Dummy) child of a Branch
// before the branch itself is encoded, so a serializer can persist
// children first and obtain their Merkle values. It receives the
// child's nibble index and the live child node, and returns the Merkle
// value to embed in the parent's encoding.
type ChildVisitor func(index int, child Node) (MerkleValue, error)

// ValueEmission is produced when encoding a StateVersionV1 node whose
// inline value is at or above the inlining threshold: the codec hashes
// the value for the node's own encoding, and hands the original bytes
// back here so the caller (the trie serializer) can persist
// blake2b_256(value) -> value in the trie_value column.
type ValueEmission struct {
	Hash  primitives.Hash
	Value []byte
}

// EncodeEmpty returns the fixed one-byte encoding of the empty trie.
func EncodeEmpty() []byte {
	return []byte{byte(variantEmpty) << variantShift}
}

// Encode serializes a node to its on-disk byte representation. Before
// encoding a Branch, every non-Dummy child is passed through visit so
// the caller (the trie serializer) can store children before parents and
// obtain each child's Merkle value; Dummy children already carry their
// Merkle value and are not visited. If version is StateVersionV1 and the
// node's value is inline and at least as long as the inlining
// threshold, Encode hashes it for the node's own encoding and returns
// the emission describing the original bytes to persist separately.
func Encode(node Node, version primitives.StateVersion, visit ChildVisitor) ([]byte, *ValueEmission, error) {
	switch n := node.(type) {
	case *Leaf:
		return encodeLeaf(n, version)
	case *Branch:
		return encodeBranch(n, version, visit)
	case *Dummy:
		// A Dummy's encoding, for merkle-value purposes, is its stored
		// Merkle value: if that value is itself a full inline encoding
		// (<32 bytes) it IS the node's encoding; if it is a 32-byte hash
		// it stands in for an encoding we do not have in hand.
		return n.MerkleVal, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: %T", ErrInvalidNodeType, node)
	}
}

func writeHeader(v variant, pkLen int) []byte {
	out := make([]byte, 0, 4)
	if pkLen < pkLenSpillStart {
		out = append(out, byte(v)<<variantShift|byte(pkLen))
		return out
	}
	out = append(out, byte(v)<<variantShift|pkLenMask)
	rem := pkLen - pkLenSpillStart
	for rem >= pkLenSpillMax {
		out = append(out, pkLenSpillMax)
		rem -= pkLenSpillMax
	}
	out = append(out, byte(rem))
	return out
}

func packNibbles(n Nibbles) []byte {
	out := make([]byte, 0, (len(n)+1)/2)
	i := 0
	for ; i+1 < len(n); i += 2 {
		out = append(out, n[i]<<4|n[i+1])
	}
	if i < len(n) {
		out = append(out, n[i]<<4)
	}
	return out
}

func encodeValue(buf []byte, v Value, hashed bool) []byte {
	if hashed {
		buf = append(buf, v.Hash[:]...)
		return buf
	}
	buf = appendCompactLen(buf, len(v.Inline))
	buf = append(buf, v.Inline...)
	return buf
}

func encodeLeaf(n *Leaf, version primitives.StateVersion) ([]byte, *ValueEmission, error) {
	hashed := version == primitives.StateVersionV1 && len(n.Value.Inline) >= merkleValueInlineThreshold && !n.Value.Hashed
	v := n.Value
	var emission *ValueEmission
	if hashed {
		h := blake2b.Sum256(n.Value.Inline)
		v = HashedValue(h)
		emission = &ValueEmission{Hash: h, Value: n.Value.Inline}
	}
	vr := variantLeaf
	if v.Hashed {
		vr = variantLeafHashed
	}
	buf := writeHeader(vr, len(n.PartialKey))
	buf = append(buf, packNibbles(n.PartialKey)...)
	buf = encodeValue(buf, v, v.Hashed)
	return buf, emission, nil
}

func encodeBranch(n *Branch, version primitives.StateVersion, visit ChildVisitor) ([]byte, *ValueEmission, error) {
	vr := variantBranchNoValue
	var storedValue *Value
	var emission *ValueEmission
	if n.Value != nil {
		v := *n.Value
		if version == primitives.StateVersionV1 && len(v.Inline) >= merkleValueInlineThreshold && !v.Hashed {
			h := blake2b.Sum256(v.Inline)
			emission = &ValueEmission{Hash: h, Value: v.Inline}
			v = HashedValue(h)
		}
		storedValue = &v
		if v.Hashed {
			vr = variantBranchHashed
		} else {
			vr = variantBranchValue
		}
	}

	buf := writeHeader(vr, len(n.PartialKey))
	buf = append(buf, packNibbles(n.PartialKey)...)

	var bitmap uint16
	for i, c := range n.Children {
		if c != nil {
			bitmap |= 1 << uint(i)
		}
	}
	bitmapBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(bitmapBytes, bitmap)
	buf = append(buf, bitmapBytes...)

	if storedValue != nil {
		buf = encodeValue(buf, *storedValue, storedValue.Hashed)
	}

	for i, c := range n.Children {
		if c == nil {
			continue
		}
		var mv MerkleValue
		if d, ok := c.(*Dummy); ok {
			mv = d.MerkleVal
		} else if visit != nil {
			v, err := visit(i, c)
			if err != nil {
				return nil, nil, err
			}
			mv = v
		} else {
			return nil, nil, fmt.Errorf("%w: branch has unresolved live child with no visitor", ErrInvalidNodeType)
		}
		buf = appendCompactLen(buf, len(mv))
		buf = append(buf, mv...)
	}
	return buf, emission, nil
}

// appendCompactLen appends a minimal unsigned varint length prefix:
// values below 0xfd are a single byte; otherwise a marker byte 0xfd
// followed by a little-endian uint16. Lengths relevant here (inline
// values and Merkle values) never exceed this range in practice, but the
// encoding degrades gracefully rather than overflowing.
func appendCompactLen(buf []byte, n int) []byte {
	if n < 0xfd {
		return append(buf, byte(n))
	}
	buf = append(buf, 0xfd)
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(n))
	return append(buf, b...)
}

func readCompactLen(b []byte) (int, int, error) {
	if len(b) < 1 {
		return 0, 0, ErrUnexpectedEOF
	}
	if b[0] < 0xfd {
		return int(b[0]), 1, nil
	}
	if len(b) < 3 {
		return 0, 0, ErrUnexpectedEOF
	}
	return int(binary.LittleEndian.Uint16(b[1:3])), 3, nil
}

// Decode parses a node's header, partial key, value, and (for branches)
// children bitmap. Branch children are returned as Dummy placeholders
// carrying their Merkle value; the trie lazily materializes them via the
// serializer.
func Decode(enc []byte) (Node, error) {
	if len(enc) == 0 {
		return nil, ErrTooFewBytes
	}
	vr := variant(enc[0] >> variantShift)
	if vr == variantEmpty {
		return nil, nil // empty trie: represented as a nil root
	}

	pkLen, hdrLen, err := readPartialKeyLen(enc)
	if err != nil {
		return nil, err
	}
	off := hdrLen
	nibbleBytes := (pkLen + 1) / 2
	if off+nibbleBytes > len(enc) {
		return nil, ErrInvalidKeyLength
	}
	pk := unpackNibbles(enc[off:off+nibbleBytes], pkLen)
	off += nibbleBytes

	switch vr {
	case variantLeaf, variantLeafHashed:
		val, n, err := decodeValue(enc[off:], vr == variantLeafHashed)
		if err != nil {
			return nil, err
		}
		_ = n
		return NewLeaf(pk, val), nil
	case variantBranchNoValue, variantBranchValue, variantBranchHashed:
		if off+2 > len(enc) {
			return nil, ErrUnexpectedEOF
		}
		bitmap := binary.LittleEndian.Uint16(enc[off : off+2])
		off += 2

		b := NewBranch(pk)
		if vr != variantBranchNoValue {
			val, n, err := decodeValue(enc[off:], vr == variantBranchHashed)
			if err != nil {
				return nil, err
			}
			b.Value = &val
			off += n
		}
		for i := 0; i < 16; i++ {
			if bitmap&(1<<uint(i)) == 0 {
				continue
			}
			l, n, err := readCompactLen(enc[off:])
			if err != nil {
				return nil, err
			}
			off += n
			if off+l > len(enc) {
				return nil, ErrUnexpectedEOF
			}
			mv := append(MerkleValue(nil), enc[off:off+l]...)
			off += l
			b.Children[i] = NewDummy(mv)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: variant %d", ErrInvalidNodeType, vr)
	}
}

func readPartialKeyLen(enc []byte) (int, int, error) {
	pkLen := int(enc[0] & pkLenMask)
	if pkLen < pkLenSpillStart {
		return pkLen, 1, nil
	}
	total := pkLenSpillStart
	i := 1
	for {
		if i >= len(enc) {
			return 0, 0, ErrUnexpectedEOF
		}
		total += int(enc[i])
		if enc[i] != pkLenSpillMax {
			i++
			break
		}
		i++
	}
	return total, i, nil
}

func unpackNibbles(b []byte, n int) Nibbles {
	out := make(Nibbles, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			out[i] = b[i/2] >> 4
		} else {
			out[i] = b[i/2] & 0x0f
		}
	}
	return out
}

func decodeValue(enc []byte, hashed bool) (Value, int, error) {
	if hashed {
		if len(enc) < primitives.HashSize {
			return Value{}, 0, ErrUnexpectedEOF
		}
		var h primitives.Hash
		copy(h[:], enc[:primitives.HashSize])
		return HashedValue(h), primitives.HashSize, nil
	}
	l, n, err := readCompactLen(enc)
	if err != nil {
		return Value{}, 0, err
	}
	if n+l > len(enc) {
		return Value{}, 0, ErrUnexpectedEOF
	}
	return InlineValue(append([]byte(nil), enc[n:n+l]...)), n + l, nil
}

// ComputeMerkleValue returns enc itself when short, else its
// BLAKE2b-256 hash, per the Merkle-value rule.
func ComputeMerkleValue(enc []byte) MerkleValue {
	if len(enc) < merkleValueInlineThreshold {
		return append(MerkleValue(nil), enc...)
	}
	h := blake2b.Sum256(enc)
	return MerkleValue(h[:])
}

// Hash256 returns BLAKE2b-256(enc), unconditionally (used for the node's
// full hash regardless of whether it would inline as a Merkle value).
func Hash256(enc []byte) primitives.Hash {
	return blake2b.Sum256(enc)
}

// EmptyRoot is the fixed state root of the empty trie:
// blake2b_256(encode(empty)).
func EmptyRoot() primitives.Hash {
	return Hash256(EncodeEmpty())
}
