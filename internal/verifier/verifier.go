// Package verifier defines the curve-arithmetic collaborator boundary. The
// engine core never touches raw curve math; everything behind this interface
// is replaceable (a pairing library, a precompile gateway, a remote signer).
package verifier

import (
	"math/big"

	"github.com/solvernet-labs/intent_layer/internal/app/domain/identity"
)

// Verifier performs the signature and proof checks the engine delegates.
type Verifier interface {
	// PairingCheck verifies an aggregated (or single) scheme-A signature:
	// e(negGen, sig) * e(pubkey, H(message)) == 1 in the reference scheme.
	// Message hashing to the curve is the implementation's concern.
	PairingCheck(negGen identity.G1Point, signature []byte, pubkey identity.G1Point, message []byte) bool

	// PointAdd adds two G1 points. Used to fold public keys for batch
	// verification; signatures are assumed pre-aggregated by the caller.
	PointAdd(a, b identity.G1Point) identity.G1Point

	// NegatedGenerator returns the negated G1 generator used as the first
	// pairing argument.
	NegatedGenerator() identity.G1Point

	// ECDSAVerify checks a scheme-B (P-256) signature over hash.
	ECDSAVerify(hash []byte, r, s, x, y *big.Int) bool

	// ProofVerify checks an opaque proof blob. Empty or nil blobs are a
	// caller bug and fail fast with an error; a well-formed blob that does
	// not verify returns (false, nil).
	ProofVerify(proof []byte) (bool, error)
}
