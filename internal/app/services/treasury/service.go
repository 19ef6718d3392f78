package treasury

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	domain "github.com/solvernet-labs/intent_layer/internal/app/domain/treasury"
	"github.com/solvernet-labs/intent_layer/internal/app/events"
	"github.com/solvernet-labs/intent_layer/internal/app/metrics"
	"github.com/solvernet-labs/intent_layer/internal/app/storage"
	apperrors "github.com/solvernet-labs/intent_layer/internal/errors"
	"github.com/solvernet-labs/intent_layer/pkg/bitmag"
	"github.com/solvernet-labs/intent_layer/pkg/logger"
)

// MinLoanOrder is the minimum bit magnitude a flashloan amount must reach
// before any provider is contacted. Smaller amounts are not worth routing.
const MinLoanOrder = 10

// Provider is one flashloan source. Providers are tried in registration
// order until one succeeds.
type Provider interface {
	Name() string
	FlashLoan(ctx context.Context, token string, amount *big.Int, data []byte) error
}

// Service is the treasury: balance bookkeeping behind an authorization set,
// flashloan routing with provider fallback, and compliance bitmasks.
type Service struct {
	store storage.TreasuryStore
	sink  events.Sink
	log   *logger.Logger

	mu         sync.Mutex
	providers  []Provider
	authorized map[string]struct{}
}

// New constructs a treasury service. actors are the initially authorized
// governance identities.
func New(store storage.TreasuryStore, sink events.Sink, log *logger.Logger, actors ...string) *Service {
	if log == nil {
		log = logger.NewDefault("treasury")
	}
	authorized := make(map[string]struct{}, len(actors))
	for _, actor := range actors {
		authorized[actor] = struct{}{}
	}
	return &Service{store: store, sink: sink, log: log, authorized: authorized}
}

// Store exposes the backing treasury store for provider wiring.
func (s *Service) Store() storage.TreasuryStore { return s.store }

func (s *Service) requireAuthorized(actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.authorized[actor]; !ok {
		return apperrors.Unauthorized("actor %s is not authorized", actor)
	}
	return nil
}

// Authorize adds an actor to the authorization set. Governance-only; the
// caller must itself be authorized.
func (s *Service) Authorize(actor, newActor string) error {
	if err := s.requireAuthorized(actor); err != nil {
		return err
	}
	newActor = strings.TrimSpace(newActor)
	if newActor == "" {
		return fmt.Errorf("actor is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized[newActor] = struct{}{}
	return nil
}

// RegisterProvider appends a flashloan provider to the fallback list.
func (s *Service) RegisterProvider(actor string, p Provider) error {
	if err := s.requireAuthorized(actor); err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("provider is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers = append(s.providers, p)
	s.log.WithField("provider", p.Name()).Info("flashloan provider registered")
	return nil
}

// Deposit credits an owner's balance.
func (s *Service) Deposit(ctx context.Context, actor, token, owner string, amount *big.Int) (domain.Balance, error) {
	if err := s.requireAuthorized(actor); err != nil {
		return domain.Balance{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.Balance{}, fmt.Errorf("amount must be positive")
	}

	bal, err := s.store.GetBalance(ctx, token, owner)
	if err != nil {
		return domain.Balance{}, err
	}
	next := new(big.Int)
	if bal.Amount != nil {
		next.Set(bal.Amount)
	}
	next.Add(next, amount)

	updated, err := s.store.SetBalance(ctx, domain.Balance{Token: token, Owner: owner, Amount: next, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return domain.Balance{}, err
	}
	events.Emit(s.sink, events.TypeTreasuryDeposit, map[string]interface{}{
		"token":  token,
		"owner":  owner,
		"amount": amount.String(),
	})
	return updated, nil
}

// Withdraw debits an owner's balance.
func (s *Service) Withdraw(ctx context.Context, actor, token, owner string, amount *big.Int) (domain.Balance, error) {
	if err := s.requireAuthorized(actor); err != nil {
		return domain.Balance{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.Balance{}, fmt.Errorf("amount must be positive")
	}

	bal, err := s.store.GetBalance(ctx, token, owner)
	if err != nil {
		return domain.Balance{}, err
	}
	have := new(big.Int)
	if bal.Amount != nil {
		have.Set(bal.Amount)
	}
	if have.Cmp(amount) < 0 {
		return domain.Balance{}, apperrors.ExecutionFailed("insufficient balance: %s has %s %s, need %s", owner, have, token, amount)
	}

	updated, err := s.store.SetBalance(ctx, domain.Balance{Token: token, Owner: owner, Amount: have.Sub(have, amount), UpdatedAt: time.Now().UTC()})
	if err != nil {
		return domain.Balance{}, err
	}
	events.Emit(s.sink, events.TypeTreasuryWithdraw, map[string]interface{}{
		"token":  token,
		"owner":  owner,
		"amount": amount.String(),
	})
	return updated, nil
}

// Balance reads a holding; unknown owners read as zero.
func (s *Service) Balance(ctx context.Context, token, owner string) (domain.Balance, error) {
	return s.store.GetBalance(ctx, token, owner)
}

// FlashLoan routes a loan request through the provider fallback list.
// Amounts below the minimum order of magnitude fail before any provider is
// contacted; otherwise providers are tried in registration order and the
// request fails only when all of them do.
func (s *Service) FlashLoan(ctx context.Context, token string, amount *big.Int, data []byte) error {
	if bitmag.Order(amount) < MinLoanOrder {
		metrics.ObserveFlashloan("too_small")
		return apperrors.FlashloanFailed("amount %s below minimum magnitude %d", amount, MinLoanOrder)
	}

	s.mu.Lock()
	providers := make([]Provider, len(s.providers))
	copy(providers, s.providers)
	s.mu.Unlock()

	if len(providers) == 0 {
		metrics.ObserveFlashloan("no_providers")
		return apperrors.FlashloanFailed("no providers registered")
	}

	var lastErr error
	for _, p := range providers {
		if err := p.FlashLoan(ctx, token, amount, data); err != nil {
			s.log.WithError(err).WithField("provider", p.Name()).Warn("flashloan provider failed, trying next")
			lastErr = err
			continue
		}
		metrics.ObserveFlashloan("routed")
		events.Emit(s.sink, events.TypeFlashLoanRouted, map[string]interface{}{
			"token":    token,
			"amount":   amount.String(),
			"provider": p.Name(),
		})
		return nil
	}

	metrics.ObserveFlashloan("exhausted")
	e := apperrors.FlashloanFailed("all %d providers failed", len(providers))
	e.Err = lastErr
	return e
}

// SetCompliance sets an entity's compliance bitmask. Governance-only.
func (s *Service) SetCompliance(ctx context.Context, actor, entity string, flags uint64) (domain.ComplianceRecord, error) {
	if err := s.requireAuthorized(actor); err != nil {
		return domain.ComplianceRecord{}, err
	}
	rec, err := s.store.SetCompliance(ctx, domain.ComplianceRecord{Entity: entity, Flags: flags, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return domain.ComplianceRecord{}, err
	}
	events.Emit(s.sink, events.TypeComplianceFlagsSet, map[string]interface{}{
		"entity": entity,
		"flags":  flags,
	})
	return rec, nil
}

// RequireCompliance checks that all required bits are set on the entity.
func (s *Service) RequireCompliance(ctx context.Context, entity string, required uint64) error {
	rec, err := s.store.GetCompliance(ctx, entity)
	if err != nil {
		return err
	}
	if rec.Flags&required != required {
		return apperrors.ComplianceViolation("entity %s missing compliance bits %#x", entity, required&^rec.Flags)
	}
	return nil
}

// Compliance reads an entity's bitmask.
func (s *Service) Compliance(ctx context.Context, entity string) (domain.ComplianceRecord, error) {
	return s.store.GetCompliance(ctx, entity)
}
