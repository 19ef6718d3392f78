package verifier

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"math/big"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"

	"github.com/solvernet-labs/intent_layer/internal/app/domain/identity"
)

// devModulus is the field modulus of the development scheme: 2^255 - 19.
var devModulus = func() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 255)
	return p.Sub(p, big.NewInt(19))
}()

// Dev is a verifier for local mode and tests. Scheme A is a toy linear scheme
// over a prime field: a secret scalar k has public key (k, 2k) and signs a
// message m as k*H(m), all mod p. It is homomorphic under point addition, so
// aggregation behaves exactly like the production pairing scheme, but it is
// NOT cryptographically secure and must never ship to production. Scheme B is
// real ECDSA over P-256 via the neo-go key package.
type Dev struct{}

var _ Verifier = Dev{}

// NewDev returns the development verifier.
func NewDev() Dev { return Dev{} }

func devHash(message []byte) *big.Int {
	sum := sha256.Sum256(message)
	h := new(big.Int).SetBytes(sum[:])
	return h.Mod(h, devModulus)
}

// PairingCheck validates sig == pubkey.X * H(message) mod p and that the
// point is internally consistent (Y == 2X mod p).
func (Dev) PairingCheck(_ identity.G1Point, signature []byte, pubkey identity.G1Point, message []byte) bool {
	if len(signature) == 0 || pubkey.X == nil || pubkey.Y == nil {
		return false
	}
	wantY := new(big.Int).Lsh(pubkey.X, 1)
	wantY.Mod(wantY, devModulus)
	if wantY.Cmp(new(big.Int).Mod(pubkey.Y, devModulus)) != 0 {
		return false
	}

	expected := new(big.Int).Mul(pubkey.X, devHash(message))
	expected.Mod(expected, devModulus)

	got := new(big.Int).SetBytes(signature)
	got.Mod(got, devModulus)

	// Compare in constant time to keep the dev scheme honest about shape.
	return subtle.ConstantTimeCompare(expected.Bytes(), got.Bytes()) == 1
}

// PointAdd adds component-wise mod p.
func (Dev) PointAdd(a, b identity.G1Point) identity.G1Point {
	sum := func(x, y *big.Int) *big.Int {
		out := new(big.Int)
		if x != nil {
			out.Add(out, x)
		}
		if y != nil {
			out.Add(out, y)
		}
		return out.Mod(out, devModulus)
	}
	return identity.G1Point{X: sum(a.X, b.X), Y: sum(a.Y, b.Y)}
}

// NegatedGenerator returns a fixed point; the dev pairing ignores it.
func (Dev) NegatedGenerator() identity.G1Point {
	return identity.G1Point{X: big.NewInt(1), Y: big.NewInt(2)}
}

// ECDSAVerify checks a P-256 signature using neo-go's key type, the same
// primitive the chain-facing services verify with.
func (Dev) ECDSAVerify(hash []byte, r, s, x, y *big.Int) bool {
	if len(hash) == 0 || r == nil || s == nil || x == nil || y == nil {
		return false
	}
	if !elliptic.P256().IsOnCurve(x, y) {
		return false
	}
	pub := keys.PublicKey{Curve: elliptic.P256(), X: x, Y: y}

	signature := make([]byte, 64)
	r.FillBytes(signature[:32])
	s.FillBytes(signature[32:])
	return pub.Verify(signature, hash)
}

// ProofVerify accepts version-1 proof blobs. Empty blobs fail fast.
func (Dev) ProofVerify(proof []byte) (bool, error) {
	if len(proof) == 0 {
		return false, fmt.Errorf("empty proof blob")
	}
	return proof[0] == 0x01, nil
}

// DevKeyA derives the dev scheme-A keypair for a secret scalar.
func DevKeyA(secret *big.Int) identity.G1Point {
	k := new(big.Int).Mod(secret, devModulus)
	y := new(big.Int).Lsh(k, 1)
	y.Mod(y, devModulus)
	return identity.G1Point{X: k, Y: y}
}

// DevSign signs message with the sum of the given secrets, producing an
// already-aggregated scheme-A signature.
func DevSign(message []byte, secrets ...*big.Int) []byte {
	agg := new(big.Int)
	for _, k := range secrets {
		if k != nil {
			agg.Add(agg, k)
		}
	}
	agg.Mod(agg, devModulus)
	sig := new(big.Int).Mul(agg, devHash(message))
	sig.Mod(sig, devModulus)
	return sig.Bytes()
}

// ECDSASignP256 signs hash with the given key and returns (r, s). Test and
// tooling helper; production signing happens on the solver side.
func ECDSASignP256(priv *ecdsa.PrivateKey, hash []byte) (*big.Int, *big.Int, error) {
	return ecdsa.Sign(cryptoRandReader, priv, hash)
}
