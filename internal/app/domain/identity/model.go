package identity

import (
	"math/big"
	"time"
)

// G1Point is an elliptic-curve point in affine coordinates. The engine never
// does curve arithmetic on it; that is the Verifier collaborator's job.
type G1Point struct {
	X *big.Int
	Y *big.Int
}

// Zero returns the group identity element used as the aggregation seed.
func Zero() G1Point {
	return G1Point{X: new(big.Int), Y: new(big.Int)}
}

// Clone deep-copies the point.
func (p G1Point) Clone() G1Point {
	out := G1Point{}
	if p.X != nil {
		out.X = new(big.Int).Set(p.X)
	}
	if p.Y != nil {
		out.Y = new(big.Int).Set(p.Y)
	}
	return out
}

// IsZero reports whether the point is the identity element (or unset).
func (p G1Point) IsZero() bool {
	return (p.X == nil || p.X.Sign() == 0) && (p.Y == nil || p.Y.Sign() == 0)
}

// Identity is the registered key material for one solver. Either scheme may
// be absent; re-registration overwrites.
type Identity struct {
	Solver    string
	KeyA      *G1Point // aggregatable scheme
	KeyBX     *big.Int // ECDSA-P256 public key coordinates
	KeyBY     *big.Int
	UpdatedAt time.Time
}

// Clone deep-copies the identity record.
func (id Identity) Clone() Identity {
	out := id
	if id.KeyA != nil {
		p := id.KeyA.Clone()
		out.KeyA = &p
	}
	if id.KeyBX != nil {
		out.KeyBX = new(big.Int).Set(id.KeyBX)
	}
	if id.KeyBY != nil {
		out.KeyBY = new(big.Int).Set(id.KeyBY)
	}
	return out
}
