package reputation

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	domain "github.com/solvernet-labs/intent_layer/internal/app/domain/reputation"
	"github.com/solvernet-labs/intent_layer/internal/app/events"
	"github.com/solvernet-labs/intent_layer/internal/app/metrics"
	"github.com/solvernet-labs/intent_layer/internal/app/storage"
	apperrors "github.com/solvernet-labs/intent_layer/internal/errors"
	"github.com/solvernet-labs/intent_layer/pkg/bitmag"
	"github.com/solvernet-labs/intent_layer/pkg/logger"
)

const (
	// MinReputation is the admission threshold for intent resolution.
	MinReputation int64 = 100

	// SlashFactor is the slash magnitude in percent of |delta| recorded when
	// an update clamps a positive score to zero.
	SlashFactor int64 = 50
)

// Service is the reputation ledger. Updates are scaled by the delta's own
// order of magnitude: small noisy deltas are dampened, large confident ones
// keep most of their weight. The formula is load-bearing for auction and
// admission behaviour and must stay in lockstep with bid scaling.
type Service struct {
	store storage.ReputationStore
	sink  events.Sink
	log   *logger.Logger
}

// New constructs a reputation service.
func New(store storage.ReputationStore, sink events.Sink, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("reputation")
	}
	return &Service{store: store, sink: sink, log: log}
}

// Update applies a scaled delta to a solver's score. The score floors at
// zero; clamping a previously positive score records a slash of
// |delta| * SlashFactor / 100. No write happens when the scaled delta is a
// no-op.
func (s *Service) Update(ctx context.Context, solver string, delta int64) (domain.Score, error) {
	solver = strings.TrimSpace(solver)
	if solver == "" {
		return domain.Score{}, fmt.Errorf("solver is required")
	}

	cur, err := s.store.GetScore(ctx, solver)
	if err != nil {
		return domain.Score{}, fmt.Errorf("read score: %w", err)
	}

	// Scale in big.Int: delta * scale overflows int64 for extreme deltas,
	// and negating math.MinInt64 is a no-op.
	mag := new(big.Int).Abs(big.NewInt(delta))
	scale := int64(bitmag.Order(mag))
	scaled := new(big.Int).Mul(big.NewInt(delta), big.NewInt(scale))
	scaled.Quo(scaled, big.NewInt(bitmag.Width))

	raw := new(big.Int).Add(big.NewInt(cur.Value), scaled)
	next := clampScore(raw)

	if next == cur.Value {
		return cur, nil
	}

	updated, err := s.store.SetScore(ctx, domain.Score{Solver: solver, Value: next, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return domain.Score{}, fmt.Errorf("write score: %w", err)
	}

	if raw.Sign() < 0 && cur.Value > 0 {
		slashMag := new(big.Int).Mul(mag, big.NewInt(SlashFactor))
		slashMag.Quo(slashMag, big.NewInt(100))
		slash := domain.Slash{Solver: solver, Magnitude: clampScore(slashMag), At: time.Now().UTC()}
		if err := s.store.AppendSlash(ctx, slash); err != nil {
			return domain.Score{}, fmt.Errorf("record slash: %w", err)
		}
		s.log.WithField("solver", solver).
			WithField("magnitude", slash.Magnitude).
			Warn("reputation slashed to zero")
		metrics.ObserveSlash()
		events.Emit(s.sink, events.TypeSlashed, map[string]interface{}{
			"solver":    solver,
			"magnitude": slash.Magnitude,
		})
	}

	events.Emit(s.sink, events.TypeReputationUpdated, map[string]interface{}{
		"solver": solver,
		"delta":  delta,
		"score":  next,
	})
	return updated, nil
}

// clampScore fits a computed score into the stored int64 range.
func clampScore(v *big.Int) int64 {
	if v.Sign() < 0 {
		return 0
	}
	if !v.IsInt64() {
		return math.MaxInt64
	}
	return v.Int64()
}

// Gate rejects solvers below the admission threshold.
func (s *Service) Gate(ctx context.Context, solver string) error {
	score, err := s.store.GetScore(ctx, solver)
	if err != nil {
		return fmt.Errorf("read score: %w", err)
	}
	if score.Value < MinReputation {
		return apperrors.ReputationTooLow("solver %s has score %d, need %d", solver, score.Value, MinReputation)
	}
	return nil
}

// Score returns a solver's current score; unknown solvers read as zero.
func (s *Service) Score(ctx context.Context, solver string) (domain.Score, error) {
	return s.store.GetScore(ctx, solver)
}

// AdminSet overrides a score directly. Governance-only; the caller is
// responsible for authorization.
func (s *Service) AdminSet(ctx context.Context, solver string, value int64) (domain.Score, error) {
	solver = strings.TrimSpace(solver)
	if solver == "" {
		return domain.Score{}, fmt.Errorf("solver is required")
	}
	if value < 0 {
		return domain.Score{}, fmt.Errorf("score cannot be negative")
	}

	updated, err := s.store.SetScore(ctx, domain.Score{Solver: solver, Value: value, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return domain.Score{}, fmt.Errorf("write score: %w", err)
	}
	s.log.WithField("solver", solver).WithField("score", value).Info("reputation override applied")
	events.Emit(s.sink, events.TypeReputationUpdated, map[string]interface{}{
		"solver":   solver,
		"score":    value,
		"override": true,
	})
	return updated, nil
}

// Slashes lists the slash records for a solver.
func (s *Service) Slashes(ctx context.Context, solver string) ([]domain.Slash, error) {
	return s.store.ListSlashes(ctx, solver)
}
