package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/solvernet-labs/intent_layer/internal/app/domain/auction"
	"github.com/solvernet-labs/intent_layer/internal/app/domain/identity"
	"github.com/solvernet-labs/intent_layer/internal/app/domain/intent"
	"github.com/solvernet-labs/intent_layer/internal/app/domain/reputation"
	"github.com/solvernet-labs/intent_layer/internal/app/domain/treasury"
	"github.com/solvernet-labs/intent_layer/internal/app/storage"
	apperrors "github.com/solvernet-labs/intent_layer/internal/errors"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu         sync.RWMutex
	intents    map[string]intent.Intent
	auctions   map[string]auction.Auction
	scores     map[string]reputation.Score
	slashes    map[string][]reputation.Slash
	identities map[string]identity.Identity
	balances   map[string]treasury.Balance // token + "\x00" + owner
	compliance map[string]treasury.ComplianceRecord
}

var _ storage.IntentStore = (*Store)(nil)
var _ storage.AuctionStore = (*Store)(nil)
var _ storage.ReputationStore = (*Store)(nil)
var _ storage.IdentityStore = (*Store)(nil)
var _ storage.TreasuryStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		intents:    make(map[string]intent.Intent),
		auctions:   make(map[string]auction.Auction),
		scores:     make(map[string]reputation.Score),
		slashes:    make(map[string][]reputation.Slash),
		identities: make(map[string]identity.Identity),
		balances:   make(map[string]treasury.Balance),
		compliance: make(map[string]treasury.ComplianceRecord),
	}
}

func balanceKey(token, owner string) string { return token + "\x00" + owner }

// IntentStore implementation -------------------------------------------------

func (s *Store) PutIntent(_ context.Context, it intent.Intent) (intent.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.intents[it.ID]; ok && existing.Resolved() {
		return intent.Intent{}, apperrors.InvalidIntent("intent %s already resolved", it.ID)
	}
	if it.SubmittedAt.IsZero() {
		it.SubmittedAt = time.Now().UTC()
	}
	cp := it
	cp.Payload = append([]byte(nil), it.Payload...)
	s.intents[it.ID] = cp
	return cp, nil
}

func (s *Store) GetIntent(_ context.Context, id string) (intent.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.intents[id]
	if !ok {
		return intent.Intent{}, apperrors.NotFound("intent %s", id)
	}
	it.Payload = append([]byte(nil), it.Payload...)
	return it, nil
}

func (s *Store) SetResolver(_ context.Context, id, solver string) (intent.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.intents[id]
	if !ok {
		return intent.Intent{}, apperrors.NotFound("intent %s", id)
	}
	if it.Resolved() {
		return intent.Intent{}, apperrors.ExecutionFailed("intent %s already resolved", id)
	}
	it.Resolver = solver
	it.ResolvedAt = time.Now().UTC()
	s.intents[id] = it
	it.Payload = append([]byte(nil), it.Payload...)
	return it, nil
}

func (s *Store) ListIntents(_ context.Context) ([]intent.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]intent.Intent, 0, len(s.intents))
	for _, it := range s.intents {
		it.Payload = append([]byte(nil), it.Payload...)
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AuctionStore implementation ------------------------------------------------

func (s *Store) PutAuction(_ context.Context, a auction.Auction) (auction.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := a.Clone()
	s.auctions[a.ID] = cp
	return cp.Clone(), nil
}

func (s *Store) GetAuction(_ context.Context, id string) (auction.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[id]
	if !ok {
		return auction.Auction{}, apperrors.NotFound("auction %s", id)
	}
	return a.Clone(), nil
}

func (s *Store) ListAuctions(_ context.Context) ([]auction.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]auction.Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ReputationStore implementation ---------------------------------------------

func (s *Store) GetScore(_ context.Context, solver string) (reputation.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sc, ok := s.scores[solver]; ok {
		return sc, nil
	}
	return reputation.Score{Solver: solver}, nil
}

func (s *Store) SetScore(_ context.Context, score reputation.Score) (reputation.Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if score.UpdatedAt.IsZero() {
		score.UpdatedAt = time.Now().UTC()
	}
	s.scores[score.Solver] = score
	return score, nil
}

func (s *Store) ListScores(_ context.Context) ([]reputation.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]reputation.Score, 0, len(s.scores))
	for _, sc := range s.scores {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Solver < out[j].Solver })
	return out, nil
}

func (s *Store) AppendSlash(_ context.Context, slash reputation.Slash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slash.At.IsZero() {
		slash.At = time.Now().UTC()
	}
	s.slashes[slash.Solver] = append(s.slashes[slash.Solver], slash)
	return nil
}

func (s *Store) ListSlashes(_ context.Context, solver string) ([]reputation.Slash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]reputation.Slash, len(s.slashes[solver]))
	copy(out, s.slashes[solver])
	return out, nil
}

// IdentityStore implementation -----------------------------------------------

func (s *Store) PutIdentity(_ context.Context, id identity.Identity) (identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id.UpdatedAt.IsZero() {
		id.UpdatedAt = time.Now().UTC()
	}
	cp := id.Clone()
	s.identities[id.Solver] = cp
	return cp.Clone(), nil
}

func (s *Store) GetIdentity(_ context.Context, solver string) (identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.identities[solver]
	if !ok {
		return identity.Identity{}, apperrors.NotFound("identity %s", solver)
	}
	return id.Clone(), nil
}

func (s *Store) ListIdentities(_ context.Context) ([]identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]identity.Identity, 0, len(s.identities))
	for _, id := range s.identities {
		out = append(out, id.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Solver < out[j].Solver })
	return out, nil
}

// TreasuryStore implementation -----------------------------------------------

func (s *Store) GetBalance(_ context.Context, token, owner string) (treasury.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if bal, ok := s.balances[balanceKey(token, owner)]; ok {
		return bal.Clone(), nil
	}
	return treasury.Balance{Token: token, Owner: owner}, nil
}

func (s *Store) SetBalance(_ context.Context, bal treasury.Balance) (treasury.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bal.UpdatedAt.IsZero() {
		bal.UpdatedAt = time.Now().UTC()
	}
	cp := bal.Clone()
	s.balances[balanceKey(bal.Token, bal.Owner)] = cp
	return cp.Clone(), nil
}

func (s *Store) ListBalances(_ context.Context, owner string) ([]treasury.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]treasury.Balance, 0)
	for _, bal := range s.balances {
		if owner == "" || bal.Owner == owner {
			out = append(out, bal.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Token != out[j].Token {
			return out[i].Token < out[j].Token
		}
		return out[i].Owner < out[j].Owner
	})
	return out, nil
}

func (s *Store) GetCompliance(_ context.Context, entity string) (treasury.ComplianceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.compliance[entity]; ok {
		return rec, nil
	}
	return treasury.ComplianceRecord{Entity: entity}, nil
}

func (s *Store) SetCompliance(_ context.Context, rec treasury.ComplianceRecord) (treasury.ComplianceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	s.compliance[rec.Entity] = rec
	return rec, nil
}
