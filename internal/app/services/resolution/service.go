package resolution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	auctiondomain "github.com/solvernet-labs/intent_layer/internal/app/domain/auction"
	intentdomain "github.com/solvernet-labs/intent_layer/internal/app/domain/intent"
	"github.com/solvernet-labs/intent_layer/internal/app/events"
	"github.com/solvernet-labs/intent_layer/internal/app/metrics"
	reputationsvc "github.com/solvernet-labs/intent_layer/internal/app/services/reputation"
	"github.com/solvernet-labs/intent_layer/internal/app/storage"
	apperrors "github.com/solvernet-labs/intent_layer/internal/errors"
	"github.com/solvernet-labs/intent_layer/pkg/bitmag"
	"github.com/solvernet-labs/intent_layer/pkg/logger"
)

const (
	// ExecutionBudget is the abstract per-resolution execution budget the
	// payload and batch bounds derive from.
	ExecutionBudget = 1 << 19

	// MaxExecDataBytes bounds a single solver payload.
	MaxExecDataBytes = ExecutionBudget / 64

	// MaxBatchTuples bounds one batch; batch size is the engine's only
	// latency control.
	MaxBatchTuples = 16

	// EntropyThreshold is the minimum bit magnitude of the resolution
	// entropy hash. Below it the tuple looks crafted and is rejected.
	EntropyThreshold = 100

	// resolveReward is the raw reputation delta credited per resolution.
	resolveReward = 10
)

// ProofService verifies opaque proof blobs when the engine is configured to
// require them. The identity service satisfies this.
type ProofService interface {
	VerifyProof(ctx context.Context, proof []byte) (bool, error)
}

// Service orchestrates intent resolution: admission gating, manipulation
// checks, delegated execution and bookkeeping. Every public mutating entry
// point takes a non-blocking guard; concurrent or re-entrant calls are
// rejected rather than queued, so delegated code can never sneak a nested
// mutation in.
type Service struct {
	intents    storage.IntentStore
	auctions   storage.AuctionStore
	treasury   storage.TreasuryStore
	reputation storage.ReputationStore
	actions    *Registry
	proofs     ProofService
	sink       events.Sink
	log        *logger.Logger

	mu sync.Mutex
}

// New constructs the resolution coordinator. proofs may be nil to disable
// external proof verification.
func New(
	intents storage.IntentStore,
	auctions storage.AuctionStore,
	treasury storage.TreasuryStore,
	rep storage.ReputationStore,
	actions *Registry,
	proofs ProofService,
	sink events.Sink,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.NewDefault("resolution")
	}
	if actions == nil {
		actions = NewRegistry()
	}
	return &Service{
		intents:    intents,
		auctions:   auctions,
		treasury:   treasury,
		reputation: rep,
		actions:    actions,
		proofs:     proofs,
		sink:       sink,
		log:        log,
	}
}

// Actions exposes the action registry for wiring.
func (s *Service) Actions() *Registry { return s.actions }

// Submit records an intent. Resubmitting an unresolved id overwrites the
// prior payload; that matches upstream relayer behaviour and is a recorded
// policy choice. An empty id gets a generated one.
func (s *Service) Submit(ctx context.Context, id string, payload []byte) (intentdomain.Intent, error) {
	if !s.mu.TryLock() {
		return intentdomain.Intent{}, apperrors.ExecutionFailed("engine busy, submission rejected")
	}
	defer s.mu.Unlock()

	if len(payload) == 0 {
		return intentdomain.Intent{}, apperrors.InvalidIntent("payload must not be empty")
	}
	if len(payload) > MaxExecDataBytes {
		return intentdomain.Intent{}, apperrors.InvalidIntent("payload exceeds %d bytes", MaxExecDataBytes)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}

	it, err := s.intents.PutIntent(ctx, intentdomain.Intent{ID: id, Payload: payload, SubmittedAt: time.Now().UTC()})
	if err != nil {
		return intentdomain.Intent{}, err
	}

	events.Emit(s.sink, events.TypeIntentSubmitted, map[string]interface{}{
		"intent_id": it.ID,
		"size":      len(payload),
	})
	return it, nil
}

// Resolve runs the full single-intent pipeline atomically: a failure at any
// step leaves zero persisted mutation.
func (s *Service) Resolve(ctx context.Context, intentID, solver string, execData []byte) error {
	if !s.mu.TryLock() {
		return apperrors.ExecutionFailed("resolution in progress, re-entry rejected")
	}
	defer s.mu.Unlock()

	st := newStage(s.intents, s.treasury, s.reputation, s.sink)
	if err := s.resolveStaged(ctx, st, intentID, solver, execData); err != nil {
		metrics.ObserveResolution("failed")
		return err
	}
	if err := st.commit(ctx); err != nil {
		metrics.ObserveResolution("failed")
		return err
	}
	metrics.ObserveResolution("resolved")
	return nil
}

// BatchResolve resolves parallel arrays of tuples in order. One failing
// tuple aborts the whole batch; nothing is persisted. The batch id is a pure
// function of the ordered intent id list.
func (s *Service) BatchResolve(ctx context.Context, intentIDs, solvers []string, execDatas [][]byte) (uint, error) {
	if !s.mu.TryLock() {
		return 0, apperrors.ExecutionFailed("resolution in progress, re-entry rejected")
	}
	defer s.mu.Unlock()

	if len(intentIDs) != len(solvers) || len(intentIDs) != len(execDatas) {
		return 0, apperrors.InvalidIntent("batch arrays must have equal length")
	}
	if len(intentIDs) == 0 {
		return 0, apperrors.InvalidIntent("batch must not be empty")
	}
	if len(intentIDs) > MaxBatchTuples {
		return 0, apperrors.InvalidIntent("batch exceeds %d tuples", MaxBatchTuples)
	}

	batchID := BatchID(intentIDs)

	st := newStage(s.intents, s.treasury, s.reputation, s.sink)
	for i := range intentIDs {
		if err := s.resolveStaged(ctx, st, intentIDs[i], solvers[i], execDatas[i]); err != nil {
			metrics.ObserveResolution("batch_aborted")
			return 0, apperrors.ExecutionFailedWrap(err, "batch aborted at tuple %d (intent %s)", i, intentIDs[i])
		}
	}
	if err := st.commit(ctx); err != nil {
		metrics.ObserveResolution("batch_aborted")
		return 0, err
	}

	metrics.ObserveBatch(len(intentIDs))
	events.Emit(s.sink, events.TypeBatchExecuted, map[string]interface{}{
		"batch_id": batchID,
		"tuples":   len(intentIDs),
	})
	return batchID, nil
}

// ResolveAuctionWinner resolves an intent with the solver a settled auction
// designated.
func (s *Service) ResolveAuctionWinner(ctx context.Context, auctionID, intentID string, execData []byte) error {
	a, err := s.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	if a.Phase != auctiondomain.PhaseSettled || a.Winner == "" {
		return apperrors.AuctionState("auction %s has not designated a winner", auctionID)
	}
	return s.Resolve(ctx, intentID, a.Winner, execData)
}

// BatchID derives the deterministic batch identifier for an ordered id list.
func BatchID(intentIDs []string) uint {
	h := sha256.New()
	for _, id := range intentIDs {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return bitmag.Order(new(big.Int).SetBytes(h.Sum(nil)))
}

// Entropy computes the anti-manipulation magnitude for a resolution tuple.
func Entropy(intentID, solver string, execData []byte) uint {
	h := sha256.New()
	h.Write([]byte(intentID))
	h.Write([]byte{0})
	h.Write([]byte(solver))
	h.Write([]byte{0})
	h.Write(execData)
	return bitmag.Order(new(big.Int).SetBytes(h.Sum(nil)))
}

// resolveStaged runs the seven-step pipeline against the stage. All writes
// land in the stage; the caller decides whether to commit.
func (s *Service) resolveStaged(ctx context.Context, st *stage, intentID, solver string, execData []byte) error {
	solver = strings.TrimSpace(solver)
	if solver == "" {
		return apperrors.InvalidIntent("solver is required")
	}

	// Step 1: admission gate, against staged scores so earlier batch tuples
	// count.
	rep := reputationsvc.New(st, st, s.log)
	if err := rep.Gate(ctx, solver); err != nil {
		return err
	}

	// Step 2: double-resolution check.
	it, err := st.getIntent(ctx, intentID)
	if err != nil {
		return err
	}
	if it.Resolved() {
		return apperrors.ExecutionFailed("intent %s already resolved by %s", intentID, it.Resolver)
	}

	// Step 3: payload bound.
	if len(execData) > MaxExecDataBytes {
		return apperrors.ExecutionFailed("exec data exceeds %d bytes", MaxExecDataBytes)
	}

	// Step 4: external proof verification, when configured.
	if s.proofs != nil {
		if err := s.checkProof(ctx, execData); err != nil {
			return err
		}
	}

	// Step 5: entropy gate.
	if entropy := Entropy(intentID, solver, execData); entropy < EntropyThreshold {
		return apperrors.ManipulationDetected("resolution entropy %d below threshold %d", entropy, EntropyThreshold)
	}

	// Step 6: delegated execution through the capability surface.
	actionName := "default"
	if field := gjson.GetBytes(execData, "action"); field.Exists() {
		actionName = field.String()
	}
	action, ok := s.actions.Lookup(actionName)
	if !ok {
		return apperrors.ExecutionFailed("unknown action %q", actionName)
	}
	access := newStateAccess(ctx, it, execData, st)
	if err := action.Execute(ctx, access); err != nil {
		if _, typed := err.(*apperrors.Error); typed {
			return err
		}
		return apperrors.ExecutionFailedWrap(err, "action %q", actionName)
	}

	// Step 7: bookkeeping.
	st.stageResolver(intentID, solver)
	if _, err := rep.Update(ctx, solver, resolveReward); err != nil {
		return err
	}

	fields := map[string]interface{}{
		"intent_id": intentID,
		"solver":    solver,
	}
	for key, value := range access.resultFields() {
		fields["result_"+key] = value
	}
	events.Emit(st, events.TypeIntentResolved, fields)

	s.log.WithField("intent_id", intentID).WithField("solver", solver).Info("intent resolved")
	return nil
}

// checkProof extracts the hex proof field from the exec data and verifies
// it. When proof verification is configured the field is mandatory.
func (s *Service) checkProof(ctx context.Context, execData []byte) error {
	field := gjson.GetBytes(execData, "proof")
	if !field.Exists() {
		return apperrors.ExecutionFailed("proof required but missing from exec data")
	}
	blob, err := hex.DecodeString(field.String())
	if err != nil {
		return apperrors.ExecutionFailedWrap(err, "decode proof")
	}
	ok, err := s.proofs.VerifyProof(ctx, blob)
	if err != nil {
		return apperrors.ExecutionFailedWrap(err, "verify proof")
	}
	if !ok {
		return apperrors.ExecutionFailed("proof verification failed")
	}
	return nil
}

// Intent returns an intent by id.
func (s *Service) Intent(ctx context.Context, id string) (intentdomain.Intent, error) {
	return s.intents.GetIntent(ctx, id)
}

// List returns all intents.
func (s *Service) List(ctx context.Context) ([]intentdomain.Intent, error) {
	return s.intents.ListIntents(ctx)
}
