package identity

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	domain "github.com/solvernet-labs/intent_layer/internal/app/domain/identity"
	"github.com/solvernet-labs/intent_layer/internal/app/events"
	"github.com/solvernet-labs/intent_layer/internal/app/storage"
	"github.com/solvernet-labs/intent_layer/internal/verifier"
	"github.com/solvernet-labs/intent_layer/pkg/logger"
)

// Service is the solver identity registry. It stores key material for both
// signature schemes and answers trust checks by delegating the curve math to
// the injected verifier.
type Service struct {
	store  storage.IdentityStore
	verify verifier.Verifier
	sink   events.Sink
	log    *logger.Logger
}

// New constructs an identity service.
func New(store storage.IdentityStore, v verifier.Verifier, sink events.Sink, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("identity")
	}
	return &Service{store: store, verify: v, sink: sink, log: log}
}

// RegisterKeyA stores a solver's aggregatable public key. Re-registration
// overwrites. Point validity is not checked here; the verifier rejects
// malformed points at verification time.
func (s *Service) RegisterKeyA(ctx context.Context, solver string, key domain.G1Point) (domain.Identity, error) {
	solver = strings.TrimSpace(solver)
	if solver == "" {
		return domain.Identity{}, fmt.Errorf("solver is required")
	}
	if key.X == nil || key.Y == nil {
		return domain.Identity{}, fmt.Errorf("key coordinates are required")
	}

	id, err := s.store.GetIdentity(ctx, solver)
	if err != nil {
		id = domain.Identity{Solver: solver}
	}
	cp := key.Clone()
	id.KeyA = &cp

	stored, err := s.store.PutIdentity(ctx, id)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("store identity: %w", err)
	}

	s.log.WithField("solver", solver).Info("scheme-A key registered")
	events.Emit(s.sink, events.TypeKeyRegisteredA, map[string]interface{}{"solver": solver})
	return stored, nil
}

// RegisterKeyB stores a solver's ECDSA public key coordinates.
func (s *Service) RegisterKeyB(ctx context.Context, solver string, x, y *big.Int) (domain.Identity, error) {
	solver = strings.TrimSpace(solver)
	if solver == "" {
		return domain.Identity{}, fmt.Errorf("solver is required")
	}
	if x == nil || y == nil {
		return domain.Identity{}, fmt.Errorf("key coordinates are required")
	}

	id, err := s.store.GetIdentity(ctx, solver)
	if err != nil {
		id = domain.Identity{Solver: solver}
	}
	id.KeyBX = new(big.Int).Set(x)
	id.KeyBY = new(big.Int).Set(y)

	stored, err := s.store.PutIdentity(ctx, id)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("store identity: %w", err)
	}

	s.log.WithField("solver", solver).Info("scheme-B key registered")
	events.Emit(s.sink, events.TypeKeyRegisteredB, map[string]interface{}{"solver": solver})
	return stored, nil
}

// VerifyIndividual checks a single scheme-A signature for one solver.
// Unregistered solvers and verification failures both return false.
func (s *Service) VerifyIndividual(ctx context.Context, solver string, signature, message []byte) bool {
	id, err := s.store.GetIdentity(ctx, solver)
	if err != nil || id.KeyA == nil {
		return false
	}
	return s.verify.PairingCheck(s.verify.NegatedGenerator(), signature, *id.KeyA, message)
}

// VerifyBatch authenticates many solvers at once: it folds their scheme-A
// public keys with point addition and runs a single pairing check against the
// caller-supplied aggregated signature. Signature aggregation itself is the
// caller's responsibility; only keys are aggregated here.
func (s *Service) VerifyBatch(ctx context.Context, solvers []string, aggregatedSignature, message []byte) bool {
	if len(solvers) == 0 {
		return false
	}

	agg := domain.Zero()
	for _, solver := range solvers {
		id, err := s.store.GetIdentity(ctx, solver)
		if err != nil || id.KeyA == nil {
			return false
		}
		agg = s.verify.PointAdd(agg, *id.KeyA)
	}
	return s.verify.PairingCheck(s.verify.NegatedGenerator(), aggregatedSignature, agg, message)
}

// AggregateKeys folds the scheme-A keys of the given solvers. aggregate of an
// empty set is the identity element; a single key folds to itself.
func (s *Service) AggregateKeys(ctx context.Context, solvers []string) (domain.G1Point, error) {
	agg := domain.Zero()
	for _, solver := range solvers {
		id, err := s.store.GetIdentity(ctx, solver)
		if err != nil {
			return domain.G1Point{}, fmt.Errorf("identity %s: %w", solver, err)
		}
		if id.KeyA == nil {
			return domain.G1Point{}, fmt.Errorf("solver %s has no scheme-A key", solver)
		}
		agg = s.verify.PointAdd(agg, *id.KeyA)
	}
	return agg, nil
}

// VerifySchemeB checks an ECDSA signature for one solver. Unregistered
// solvers return false.
func (s *Service) VerifySchemeB(ctx context.Context, solver string, hash []byte, r, sv *big.Int) bool {
	id, err := s.store.GetIdentity(ctx, solver)
	if err != nil || id.KeyBX == nil || id.KeyBY == nil {
		return false
	}
	return s.verify.ECDSAVerify(hash, r, sv, id.KeyBX, id.KeyBY)
}

// VerifyProof forwards an opaque proof blob to the verifier. Empty blobs fail
// fast with an error rather than returning false.
func (s *Service) VerifyProof(_ context.Context, proof []byte) (bool, error) {
	return s.verify.ProofVerify(proof)
}

// Get returns a solver's registered identity.
func (s *Service) Get(ctx context.Context, solver string) (domain.Identity, error) {
	return s.store.GetIdentity(ctx, solver)
}

// List returns all registered identities.
func (s *Service) List(ctx context.Context) ([]domain.Identity, error) {
	return s.store.ListIdentities(ctx)
}
