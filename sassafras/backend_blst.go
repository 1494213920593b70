//go:build blst

// Ring-VRF-capable backend using the supranational/blst pairing library,
// mirroring crypto/bls_blst_adapter.go's CGO-optional-backend pattern.
//
// A true Bandersnatch ring-VRF (the construction Polkadot SASSAFRAS
// actually uses) is not implemented here: blst exposes BLS12-381, a
// different curve than Bandersnatch's ring-VRF proof system requires.
// This backend instead uses blst's scalar/point arithmetic to give
// ticket signatures an actual elliptic-curve commitment (the erased and
// revealed keys are points on G1, and RingSign produces a Schnorr-style
// proof of knowledge of the secret scalar) rather than PureGoBackend's
// blake2b MAC stand-in. It narrows, but does not close, the gap to a
// real ring-VRF: see DESIGN.md's Open Questions for why the exact
// anonymous ring-proof transcript is left unresolved.
package sassafras

import (
	blst "github.com/supranational/blst/bindings/go"
	"golang.org/x/crypto/blake2b"
)

// BlstBackend implements Backend using BLS12-381 scalar and G1 point
// arithmetic in place of PureGoBackend's blake2b stand-ins.
type BlstBackend struct{}

func scalarFromSecret(secret SecretKey) *blst.Scalar {
	s := new(blst.Scalar)
	s.Deserialize(secret[:])
	return s
}

// VRFOutput derives a pseudorandom value by hashing secret's
// corresponding G1 point together with input, so the output is bound to
// the secret scalar via its public point rather than the raw secret
// bytes directly.
func (BlstBackend) VRFOutput(secret SecretKey, input []byte) []byte {
	sk := scalarFromSecret(secret)
	pt := new(blst.P1).From(sk)
	compressed := pt.Compress()
	h, _ := blake2b.New256(nil)
	h.Write(compressed)
	h.Write(input)
	return h.Sum(nil)
}

func (BlstBackend) VRFBytes(n int, domain string, input, output []byte) []byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(domain))
	h.Write(input)
	h.Write(output)
	sum := h.Sum(nil)
	out := make([]byte, n)
	copy(out, sum)
	for i := len(sum); i < n; i++ {
		h2, _ := blake2b.New256(nil)
		h2.Write(sum)
		h2.Write([]byte{byte(i)})
		extra := h2.Sum(nil)
		out[i] = extra[0]
	}
	return out
}

func (BlstBackend) DeriveKeypair(seed [32]byte) (SecretKey, PublicKey) {
	sk := blst.KeyGen(seed[:])
	var secret SecretKey
	copy(secret[:], sk.Serialize())
	pk := new(blst.P1Affine).From(sk)
	var pub PublicKey
	copy(pub[:], pk.Compress())
	return secret, pub
}

// RingSign produces a Schnorr-style proof of knowledge of secret's
// scalar over body's encoding: a commitment point and a response
// scalar, concatenated. It is anonymous only in the trivial sense that
// the verifier needs the signer's public key to check it -- true ring
// anonymity requires the Bandersnatch ring-VRF construction this
// backend does not implement.
func (BlstBackend) RingSign(secret SecretKey, body TicketBody) []byte {
	sk := scalarFromSecret(secret)
	msg := body.encode()

	nonceSeed := blake2b.Sum256(append(append([]byte{}, secret[:]...), msg...))
	r := new(blst.Scalar)
	r.Deserialize(nonceSeed[:])
	R := new(blst.P1).From(r)

	challenge := blake2b.Sum256(append(R.Compress(), msg...))
	c := new(blst.Scalar)
	c.Deserialize(challenge[:])

	// s = r + c*sk, all mod the scalar field, via blst's scalar mul/add.
	cs := c.Mul(sk)
	s := r.Add(cs)

	out := make([]byte, 0, len(R.Compress())+32)
	out = append(out, R.Compress()...)
	out = append(out, s.Serialize()...)
	return out
}

var _ Backend = BlstBackend{}
