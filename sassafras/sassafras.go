// Package sassafras implements component K: the SASSAFRAS VRF-ticket
// lottery. Each epoch, every validator attempts to win a bounded number
// of anonymous ticket slots by sampling a VRF output against a
// per-epoch threshold; winning tickets are later redeemed as primary
// block-authorship claims.
//
// The VRF operations are abstracted behind Backend, mirroring the
// crypto package's pluggable BLSBackend pattern: PureGoBackend is the
// default (deterministic, blake2b-based, suitable for the supplemented
// test surface), and a supranational/blst-backed ring-VRF backend can
// be wired in behind the "blst" build tag for production use, exactly
// as crypto/bls_blst_adapter.go gates its CGO dependency. The ring-VRF
// transcript composition is itself an open question (see DESIGN.md);
// the domain strings and threshold arithmetic below are bit-exact, the
// ring-proof construction is not.
package sassafras

import (
	"crypto/rand"
	"errors"
	"sync"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"github.com/qdrvm/kagome-sub006/primitives"
)

// Errors returned by lottery operations.
var (
	ErrNoEpochState  = errors.New("sassafras: change_epoch has not been called")
	ErrAttemptsOverflow = errors.New("sassafras: attempts_per_validator overflow")
)

// Domain separation strings, bit-exact against the ticket/claim wire format.
const (
	domainTicketInput  = "sassafras-ticket-v1.0"
	domainTicketID     = "ticket-id"
	domainRevealedSeed = "revealed-seed"
	domainPrimaryClaim = "sassafras-claim-v1.0"
	domainSecondary    = "sassafras-slot-claim-transcript-v1.0"
)

// SecretKey is an opaque VRF signing key.
type SecretKey [32]byte

// PublicKey is an opaque VRF verification key.
type PublicKey [32]byte

// Backend performs the VRF primitives the lottery needs. PureGoBackend
// is the default; a ring-VRF-capable backend is expected to be wired in
// behind a build tag for environments that need real anonymity
// guarantees over the ticket signature.
type Backend interface {
	// VRFOutput deterministically derives pseudorandom output from
	// secret and input, with no externally observable linkage to secret
	// beyond what the corresponding PublicKey allows a verifier to check.
	VRFOutput(secret SecretKey, input []byte) []byte
	// VRFBytes derives a fixed-size pseudorandom value from a domain tag,
	// the VRF input, and its corresponding output.
	VRFBytes(n int, domain string, input, output []byte) []byte
	// DeriveKeypair derives a (secret, public) pair from 32 bytes of
	// high-entropy seed material.
	DeriveKeypair(seed [32]byte) (SecretKey, PublicKey)
	// RingSign produces a ring-VRF signature over body, anonymous among
	// the validator set's published public keys.
	RingSign(secret SecretKey, body TicketBody) []byte
}

// PureGoBackend is a deterministic, non-anonymous stand-in: it derives
// VRF outputs via blake2b(secret || input) instead of a real elliptic
// curve VRF, and RingSign returns a plain blake2b MAC instead of a ring
// proof. It is sufficient to exercise threshold arithmetic, slot
// claiming, and the lottery's control flow, but gives no privacy
// guarantee and must not be used for a production ticket submission.
type PureGoBackend struct{}

func (PureGoBackend) VRFOutput(secret SecretKey, input []byte) []byte {
	h, _ := blake2b.New256(secret[:])
	h.Write(input)
	return h.Sum(nil)
}

func (PureGoBackend) VRFBytes(n int, domain string, input, output []byte) []byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(domain))
	h.Write(input)
	h.Write(output)
	sum := h.Sum(nil)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		if i < len(sum) {
			out[i] = sum[i]
			continue
		}
		h2, _ := blake2b.New256(nil)
		h2.Write(sum)
		h2.Write([]byte{byte(i)})
		extra := h2.Sum(nil)
		out[i] = extra[0]
	}
	return out
}

func (PureGoBackend) DeriveKeypair(seed [32]byte) (SecretKey, PublicKey) {
	var sk SecretKey
	copy(sk[:], seed[:])
	pk := blake2b.Sum256(append([]byte("sassafras-pubkey"), sk[:]...))
	return sk, PublicKey(pk)
}

func (PureGoBackend) RingSign(secret SecretKey, body TicketBody) []byte {
	h, _ := blake2b.New256(secret[:])
	h.Write(body.encode())
	return h.Sum(nil)
}

var _ Backend = PureGoBackend{}

// TicketBody is the public payload of one ticket, committed to by its
// ring-VRF signature.
type TicketBody struct {
	AttemptIndex  uint32
	ErasedPublic  PublicKey
	RevealedPublic PublicKey
}

func (b TicketBody) encode() []byte {
	out := make([]byte, 0, 4+32+32)
	out = append(out,
		byte(b.AttemptIndex), byte(b.AttemptIndex>>8),
		byte(b.AttemptIndex>>16), byte(b.AttemptIndex>>24))
	out = append(out, b.ErasedPublic[:]...)
	out = append(out, b.RevealedPublic[:]...)
	return out
}

// TicketEnvelope is a TicketBody plus the ring-VRF signature submitted
// on-chain via an unsigned extrinsic.
type TicketEnvelope struct {
	Body      TicketBody
	Signature []byte
}

// TicketID is the little-endian u128 derived from a ticket's VRF
// output, compared against the per-epoch threshold.
type TicketID [16]byte

// LessOrEqual reports whether t <= threshold, both read as
// little-endian u128 values.
func (t TicketID) LessOrEqual(threshold TicketID) bool {
	return leU128(t[:]).Cmp(leU128(threshold[:])) <= 0
}

func leU128(b []byte) *uint256.Int {
	rev := make([]byte, len(b))
	for i, v := range b {
		rev[len(b)-1-i] = v
	}
	return new(uint256.Int).SetBytes(rev)
}

// EpochState is the lottery's configuration and derived tickets for one
// epoch.
type EpochState struct {
	Epoch            uint64
	Randomness       [32]byte
	TicketThreshold  TicketID
	SlotClaimThreshold TicketID
	Keypair          SecretKey
	PublicKey        PublicKey
	Attempts         uint32

	Tickets map[TicketID]TicketEnvelope
}

// ClaimKind distinguishes a primary (ticket-backed) claim from a
// secondary (fallback, randomness-only) claim.
type ClaimKind int

const (
	ClaimPrimary ClaimKind = iota
	ClaimSecondary
)

// Claim is the outcome of get_slot_leadership: a node's right (and
// supporting VRF proof) to author the given slot.
type Claim struct {
	Kind   ClaimKind
	Slot   uint64
	Ticket TicketID // zero if Kind == ClaimSecondary
	Proof  []byte
}

// Lottery owns the per-epoch state machine for one validator, across
// epoch transitions. ChangeEpoch/GenerateTickets run from a worker pool
// and are idempotent per epoch.
type Lottery struct {
	mu      sync.Mutex
	backend Backend
	current *EpochState
	next    *EpochState
	generatedFor map[uint64]bool
}

// New creates a Lottery using backend for its VRF operations.
func New(backend Backend) *Lottery {
	return &Lottery{backend: backend, generatedFor: make(map[uint64]bool)}
}

// ChangeEpoch replaces the next epoch's configuration and triggers
// ticket generation for it, so tickets are ready before the epoch
// begins. Calling it twice for the same epoch index is a no-op on the
// second call's ticket generation.
func (l *Lottery) ChangeEpoch(epoch uint64, randomness [32]byte, ticketThreshold, slotClaimThreshold TicketID, keypair SecretKey, attempts uint32) error {
	l.mu.Lock()
	_, pub := l.backend.DeriveKeypair([32]byte(keypair))
	state := &EpochState{
		Epoch:              epoch,
		Randomness:         randomness,
		TicketThreshold:    ticketThreshold,
		SlotClaimThreshold: slotClaimThreshold,
		Keypair:            keypair,
		PublicKey:          pub,
		Attempts:           attempts,
		Tickets:            make(map[TicketID]TicketEnvelope),
	}
	l.next = state
	l.mu.Unlock()

	return l.GenerateTickets(epoch)
}

// GenerateTickets runs the ticket-generation procedure for the given
// epoch's pending state, if it has not already run for that epoch.
func (l *Lottery) GenerateTickets(epoch uint64) error {
	l.mu.Lock()
	if l.generatedFor[epoch] {
		l.mu.Unlock()
		return nil
	}
	state := l.next
	if state == nil || state.Epoch != epoch {
		l.mu.Unlock()
		return ErrNoEpochState
	}
	l.mu.Unlock()

	// Each attempt samples its own VRF output and ephemeral keypair
	// independently, so the attempts run concurrently on a worker pool;
	// only the final insertion into state.Tickets needs the mutex.
	var g errgroup.Group
	for attempt := uint32(0); attempt < state.Attempts; attempt++ {
		attempt := attempt
		g.Go(func() error {
			env, ticketID, won := l.attemptTicket(state, attempt)
			if !won {
				return nil
			}
			l.mu.Lock()
			state.Tickets[ticketID] = env
			l.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	l.mu.Lock()
	l.generatedFor[epoch] = true
	l.mu.Unlock()
	return nil
}

func (l *Lottery) attemptTicket(state *EpochState, attempt uint32) (TicketEnvelope, TicketID, bool) {
	input := ticketInput(state.Randomness, attempt, state.Epoch)
	output := l.backend.VRFOutput(state.Keypair, input)
	idBytes := l.backend.VRFBytes(16, domainTicketID, input, output)
	var ticketID TicketID
	copy(ticketID[:], idBytes)

	if !ticketID.LessOrEqual(state.TicketThreshold) {
		return TicketEnvelope{}, TicketID{}, false
	}

	var erasedSeed [32]byte
	if _, err := rand.Read(erasedSeed[:]); err != nil {
		return TicketEnvelope{}, TicketID{}, false
	}
	_, erasedPublic := l.backend.DeriveKeypair(erasedSeed)

	revealedInput := input
	revealedOutput := l.backend.VRFOutput(state.Keypair, revealedInput)
	seedBytes := l.backend.VRFBytes(32, domainRevealedSeed, revealedInput, revealedOutput)
	var revealedSeed [32]byte
	copy(revealedSeed[:], seedBytes)
	_, revealedPublic := l.backend.DeriveKeypair(revealedSeed)

	body := TicketBody{AttemptIndex: attempt, ErasedPublic: erasedPublic, RevealedPublic: revealedPublic}
	sig := l.backend.RingSign(state.Keypair, body)

	return TicketEnvelope{Body: body, Signature: sig}, ticketID, true
}

func ticketInput(randomness [32]byte, attempt uint32, epoch uint64) []byte {
	out := make([]byte, 0, len(domainTicketInput)+32+4+8)
	out = append(out, []byte(domainTicketInput)...)
	out = append(out, randomness[:]...)
	out = append(out, byte(attempt), byte(attempt>>8), byte(attempt>>16), byte(attempt>>24))
	for i := 0; i < 8; i++ {
		out = append(out, byte(epoch>>(8*i)))
	}
	return out
}

// ActivateEpoch promotes the next epoch's state to current, called once
// the epoch boundary is actually crossed.
func (l *Lottery) ActivateEpoch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = l.next
}

// SlotTicketLookup resolves, for a block/slot pair, which ticket ID (if
// any) the runtime has assigned to that slot.
type SlotTicketLookup interface {
	TicketForSlot(block primitives.Hash, slot uint64) (TicketID, bool)
}

// GetSlotLeadership asks the runtime for the slot's assigned ticket; if
// it matches one of this validator's own tickets, it emits a primary
// claim, otherwise a secondary claim built only from epoch randomness.
func (l *Lottery) GetSlotLeadership(lookup SlotTicketLookup, block primitives.Hash, slot uint64, authorityIndex, authorityCount int) (*Claim, error) {
	l.mu.Lock()
	state := l.current
	l.mu.Unlock()
	if state == nil {
		return nil, ErrNoEpochState
	}

	if assigned, ok := lookup.TicketForSlot(block, slot); ok {
		l.mu.Lock()
		_, known := state.Tickets[assigned]
		l.mu.Unlock()
		if known {
			input := primaryClaimInput(slot, state.Randomness)
			output := l.backend.VRFOutput(state.Keypair, input)
			return &Claim{Kind: ClaimPrimary, Slot: slot, Ticket: assigned, Proof: output}, nil
		}
	}

	input := secondaryClaimInput(slot, state.Randomness)
	output := l.backend.VRFOutput(state.Keypair, input)
	return &Claim{Kind: ClaimSecondary, Slot: slot, Proof: output}, nil
}

func primaryClaimInput(slot uint64, randomness [32]byte) []byte {
	out := []byte(domainPrimaryClaim)
	out = append(out, encodeSlot(slot)...)
	out = append(out, randomness[:]...)
	return out
}

func secondaryClaimInput(slot uint64, randomness [32]byte) []byte {
	out := []byte(domainSecondary)
	out = append(out, encodeSlot(slot)...)
	out = append(out, randomness[:]...)
	return out
}

func encodeSlot(slot uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(slot >> (8 * i))
	}
	return b
}

// SecondarySlotAuthor deterministically picks the secondary-slot
// author's index among authorityCount authorities:
// be_u256(blake2b_256(encode(randomness, slot))) mod authorityCount.
func SecondarySlotAuthor(slot uint64, authorityCount int, randomness [32]byte) (int, error) {
	if authorityCount <= 0 {
		return 0, errors.New("sassafras: authority count must be positive")
	}
	buf := make([]byte, 0, 32+8)
	buf = append(buf, randomness[:]...)
	buf = append(buf, encodeSlot(slot)...)
	sum := blake2b.Sum256(buf)
	be := make([]byte, 32)
	for i := 0; i < 32; i++ {
		be[i] = sum[31-i]
	}
	n := new(uint256.Int).SetBytes(be)
	mod := new(uint256.Int).SetUint64(uint64(authorityCount))
	n.Mod(n, mod)
	return int(n.Uint64()), nil
}

// TicketIDThreshold computes floor(U128_MAX * redundancy * slots /
// (attempts * validators)), returning zero if attempts*validators == 0.
func TicketIDThreshold(redundancy, slots, attempts, validators uint64) TicketID {
	denom := attempts * validators
	if denom == 0 {
		return TicketID{}
	}
	maxU128 := new(uint256.Int).Sub(
		new(uint256.Int).Lsh(uint256.NewInt(1), 128),
		uint256.NewInt(1),
	)
	num := new(uint256.Int).Mul(maxU128, uint256.NewInt(redundancy))
	num.Mul(num, uint256.NewInt(slots))
	num.Div(num, uint256.NewInt(denom))

	var t TicketID
	be := num.Bytes32()
	for i := 0; i < 16; i++ {
		t[i] = be[31-i]
	}
	return t
}
