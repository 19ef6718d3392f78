package auction

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/solvernet-labs/intent_layer/internal/app/domain/auction"
	"github.com/solvernet-labs/intent_layer/internal/app/events"
	"github.com/solvernet-labs/intent_layer/internal/app/metrics"
	"github.com/solvernet-labs/intent_layer/internal/app/storage"
	apperrors "github.com/solvernet-labs/intent_layer/internal/errors"
	"github.com/solvernet-labs/intent_layer/pkg/bitmag"
	"github.com/solvernet-labs/intent_layer/pkg/logger"
)

// Service runs commit-reveal sealed-bid auctions. All mutating entry points
// serialize on one mutex: settlement arithmetic is order-dependent and must
// be byte-for-byte reproducible by any re-execution.
type Service struct {
	store storage.AuctionStore
	sink  events.Sink
	log   *logger.Logger

	mu sync.Mutex
}

// New constructs an auction service.
func New(store storage.AuctionStore, sink events.Sink, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("auction")
	}
	return &Service{store: store, sink: sink, log: log}
}

// CommitHash derives the commitment for a bid value and salt. Solvers must
// use the same derivation when committing.
func CommitHash(value *big.Int, salt []byte) [32]byte {
	var buf [32]byte
	if value != nil && value.Sign() > 0 {
		value.FillBytes(buf[:])
	}
	h := sha256.New()
	h.Write(buf[:])
	h.Write(salt)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// TieScore is the deterministic tie-break key for a solver: the bit magnitude
// of the hash of its address. Lower scores win; it depends on nothing but the
// address and a fixed hash function.
func TieScore(solver string) uint {
	sum := sha256.Sum256([]byte(solver))
	return bitmag.Order(new(big.Int).SetBytes(sum[:]))
}

// EffectiveBid rescales a revealed bid by its own order of magnitude before
// comparison.
func EffectiveBid(value *big.Int) *big.Int {
	return bitmag.Scale(value)
}

// Open creates a new auction in the bidding phase. Governance-only.
func (s *Service) Open(ctx context.Context, id string) (domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Auction{}, fmt.Errorf("auction id is required")
	}
	if _, err := s.store.GetAuction(ctx, id); err == nil {
		return domain.Auction{}, apperrors.AuctionState("auction %s already exists", id)
	}

	a := domain.Auction{
		ID:       id,
		Phase:    domain.PhaseOpen,
		Bids:     make(map[string]domain.Bid),
		OpenedAt: time.Now().UTC(),
	}
	stored, err := s.store.PutAuction(ctx, a)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("store auction: %w", err)
	}
	s.log.WithField("auction_id", id).Info("auction opened")
	return stored, nil
}

// Close ends the bidding phase and starts the reveal phase. Governance-only.
func (s *Service) Close(ctx context.Context, id string) (domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked(ctx, id)
}

func (s *Service) closeLocked(ctx context.Context, id string) (domain.Auction, error) {
	a, err := s.store.GetAuction(ctx, id)
	if err != nil {
		return domain.Auction{}, err
	}
	if a.Phase != domain.PhaseOpen {
		return domain.Auction{}, apperrors.AuctionState("auction %s is %s, cannot close", id, a.Phase)
	}

	a.Phase = domain.PhaseClosed
	a.ClosedAt = time.Now().UTC()
	stored, err := s.store.PutAuction(ctx, a)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("store auction: %w", err)
	}
	s.log.WithField("auction_id", id).WithField("bids", len(a.Bids)).Info("auction closed, reveal phase started")
	return stored, nil
}

// Commit records a sealed bid commitment while the auction is open. A solver
// commits at most once per auction.
func (s *Service) Commit(ctx context.Context, id, solver string, hash [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	solver = strings.TrimSpace(solver)
	if solver == "" {
		return fmt.Errorf("solver is required")
	}

	a, err := s.store.GetAuction(ctx, id)
	if err != nil {
		return err
	}
	if a.Phase != domain.PhaseOpen {
		return apperrors.AuctionState("auction %s is %s, bids not accepted", id, a.Phase)
	}
	if _, exists := a.Bids[solver]; exists {
		return apperrors.InvalidBid("solver %s already committed in auction %s", solver, id)
	}

	a.Bids[solver] = domain.Bid{CommitHash: hash, CommittedAt: time.Now().UTC()}
	if _, err := s.store.PutAuction(ctx, a); err != nil {
		return fmt.Errorf("store auction: %w", err)
	}

	events.Emit(s.sink, events.TypeBidCommitted, map[string]interface{}{
		"auction_id": id,
		"solver":     solver,
	})
	return nil
}

// Reveal opens a sealed bid during the reveal phase. The revealed value and
// salt must hash to the stored commitment, and a bid reveals at most once.
// Failed reveals leave no state behind.
func (s *Service) Reveal(ctx context.Context, id, solver string, value *big.Int, salt []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.store.GetAuction(ctx, id)
	if err != nil {
		return err
	}
	if a.Phase != domain.PhaseClosed {
		return apperrors.AuctionState("auction %s is %s, reveals not accepted", id, a.Phase)
	}

	bid, exists := a.Bids[solver]
	if !exists {
		return apperrors.InvalidBid("solver %s has no commitment in auction %s", solver, id)
	}
	if bid.Revealed {
		return apperrors.InvalidBid("solver %s already revealed in auction %s", solver, id)
	}
	if CommitHash(value, salt) != bid.CommitHash {
		return apperrors.InvalidBid("reveal does not match commitment for solver %s", solver)
	}
	if value == nil {
		value = new(big.Int)
	}

	bid.RevealValue = new(big.Int).Set(value)
	bid.Revealed = true
	bid.RevealedAt = time.Now().UTC()
	a.Bids[solver] = bid
	if _, err := s.store.PutAuction(ctx, a); err != nil {
		return fmt.Errorf("store auction: %w", err)
	}

	events.Emit(s.sink, events.TypeBidRevealed, map[string]interface{}{
		"auction_id": id,
		"solver":     solver,
		"value":      value.String(),
	})
	return nil
}

// Settle picks the winner among the candidate solvers (all bidders when the
// set is empty) and transitions the auction to its terminal phase. The
// algorithm is a pure function of revealed bids and solver addresses:
// highest effective bid wins, ties resolve to the lowest tie score, residual
// ties to the smallest address. Re-invoking after settlement fails; the
// algorithm never re-runs.
func (s *Service) Settle(ctx context.Context, id string, candidates []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settleLocked(ctx, id, candidates)
}

func (s *Service) settleLocked(ctx context.Context, id string, candidates []string) (string, error) {
	a, err := s.store.GetAuction(ctx, id)
	if err != nil {
		return "", err
	}
	if a.Phase == domain.PhaseSettled {
		return "", apperrors.AuctionState("auction %s already settled", id)
	}
	if a.Phase != domain.PhaseClosed {
		return "", apperrors.AuctionState("auction %s is %s, cannot settle", id, a.Phase)
	}

	if len(candidates) == 0 {
		candidates = make([]string, 0, len(a.Bids))
		for solver := range a.Bids {
			candidates = append(candidates, solver)
		}
	}
	sort.Strings(candidates)

	maxBid := new(big.Int)
	var ties []string
	for _, solver := range candidates {
		bid, exists := a.Bids[solver]
		if !exists || !bid.Revealed {
			continue
		}
		effective := EffectiveBid(bid.RevealValue)
		switch effective.Cmp(maxBid) {
		case 1:
			maxBid.Set(effective)
			ties = ties[:0]
			ties = append(ties, solver)
		case 0:
			ties = append(ties, solver)
		}
	}

	if maxBid.Sign() == 0 {
		return "", apperrors.InvalidBid("auction %s has no effective bids to settle", id)
	}

	winner := ties[0]
	if len(ties) > 1 {
		best := TieScore(winner)
		for _, solver := range ties[1:] {
			if score := TieScore(solver); score < best {
				best = score
				winner = solver
			}
		}
	}

	a.Phase = domain.PhaseSettled
	a.Winner = winner
	a.SettledAt = time.Now().UTC()
	if _, err := s.store.PutAuction(ctx, a); err != nil {
		return "", fmt.Errorf("store auction: %w", err)
	}

	s.log.WithField("auction_id", id).
		WithField("winner", winner).
		WithField("effective_bid", maxBid.String()).
		Info("auction settled")
	metrics.ObserveSettlement()
	events.Emit(s.sink, events.TypeAuctionSettled, map[string]interface{}{
		"auction_id":    id,
		"winner":        winner,
		"effective_bid": maxBid.String(),
	})
	return winner, nil
}

// Get returns a snapshot of an auction.
func (s *Service) Get(ctx context.Context, id string) (domain.Auction, error) {
	return s.store.GetAuction(ctx, id)
}

// List returns snapshots of all auctions.
func (s *Service) List(ctx context.Context) ([]domain.Auction, error) {
	return s.store.ListAuctions(ctx)
}
