package treasury

import (
	"math/big"
	"time"
)

// Balance is a per-token, per-owner holding.
type Balance struct {
	Token     string
	Owner     string
	Amount    *big.Int
	UpdatedAt time.Time
}

// Clone deep-copies the balance.
func (b Balance) Clone() Balance {
	out := b
	if b.Amount != nil {
		out.Amount = new(big.Int).Set(b.Amount)
	}
	return out
}

// ComplianceRecord is an informational bitmask attached to an entity. It gates
// nothing by itself; services consult it explicitly.
type ComplianceRecord struct {
	Entity    string
	Flags     uint64
	UpdatedAt time.Time
}

// Compliance flag bits.
const (
	FlagKYC uint64 = 1 << iota
	FlagSanctionsClear
	FlagAccredited
)
