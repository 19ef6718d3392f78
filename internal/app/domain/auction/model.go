package auction

import (
	"math/big"
	"time"
)

// Phase is the auction lifecycle phase. Transitions are strictly
// Open -> Closed -> Settled; nothing moves backwards.
type Phase string

const (
	PhaseOpen    Phase = "open"
	PhaseClosed  Phase = "closed"
	PhaseSettled Phase = "settled"
)

// Bid is one solver's sealed bid. CommitHash is immutable once set;
// RevealValue is meaningful only after Revealed flips to true.
type Bid struct {
	CommitHash  [32]byte
	RevealValue *big.Int
	Revealed    bool
	CommittedAt time.Time
	RevealedAt  time.Time
}

// Auction is the state of one sealed-bid auction.
type Auction struct {
	ID        string
	Phase     Phase
	Bids      map[string]Bid
	Winner    string
	OpenedAt  time.Time
	ClosedAt  time.Time
	SettledAt time.Time
}

// Clone deep-copies the auction so stores can hand out snapshots without
// sharing the bid map.
func (a Auction) Clone() Auction {
	out := a
	out.Bids = make(map[string]Bid, len(a.Bids))
	for solver, bid := range a.Bids {
		if bid.RevealValue != nil {
			bid.RevealValue = new(big.Int).Set(bid.RevealValue)
		}
		out.Bids[solver] = bid
	}
	return out
}
