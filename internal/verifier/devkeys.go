package verifier

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

var cryptoRandReader io.Reader = rand.Reader

var hkdfSalt = []byte("intent-layer-solver")

// DeriveP256PrivateKey derives a deterministic P-256 key for a solver from a
// master seed. Used for local fixtures and the dev signer tooling.
func DeriveP256PrivateKey(seed []byte, solver string) (*ecdsa.PrivateKey, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("seed is required")
	}
	if solver == "" {
		return nil, fmt.Errorf("solver is required")
	}

	reader := hkdf.New(sha256.New, seed, hkdfSalt, []byte("p256-"+solver))
	okm := make([]byte, 32)
	if _, err := io.ReadFull(reader, okm); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	curve := elliptic.P256()
	n := curve.Params().N

	// Map OKM into [1, n-1] to avoid invalid private keys.
	d := new(big.Int).SetBytes(okm)
	nMinusOne := new(big.Int).Sub(n, big.NewInt(1))
	d.Mod(d, nMinusOne)
	d.Add(d, big.NewInt(1))

	priv := &ecdsa.PrivateKey{PublicKey: ecdsa.PublicKey{Curve: curve}, D: d}
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(d.Bytes())
	if priv.PublicKey.X == nil || !curve.IsOnCurve(priv.PublicKey.X, priv.PublicKey.Y) {
		return nil, fmt.Errorf("derived key is not on curve")
	}
	return priv, nil
}

// DeriveSchemeASecret derives a deterministic dev scheme-A scalar for a
// solver from a master seed.
func DeriveSchemeASecret(seed []byte, solver string) (*big.Int, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("seed is required")
	}
	if solver == "" {
		return nil, fmt.Errorf("solver is required")
	}

	reader := hkdf.New(sha256.New, seed, hkdfSalt, []byte("scheme-a-"+solver))
	okm := make([]byte, 32)
	if _, err := io.ReadFull(reader, okm); err != nil {
		return nil, fmt.Errorf("derive scalar: %w", err)
	}
	k := new(big.Int).SetBytes(okm)
	k.Mod(k, devModulus)
	if k.Sign() == 0 {
		k.SetInt64(1)
	}
	return k, nil
}
