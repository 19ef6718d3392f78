package auction

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	domain "github.com/solvernet-labs/intent_layer/internal/app/domain/auction"
	apperrors "github.com/solvernet-labs/intent_layer/internal/errors"
	"github.com/solvernet-labs/intent_layer/pkg/logger"
)

// SweepConfig controls the phase sweeper.
type SweepConfig struct {
	// Spec is a cron expression; defaults to once a minute.
	Spec string
	// BidWindow is how long an auction accepts commitments after opening.
	BidWindow time.Duration
	// RevealWindow is how long reveals are accepted after closing.
	RevealWindow time.Duration
}

// Sweeper advances auction phases on a schedule: it closes auctions whose
// bidding window elapsed and settles those whose reveal window elapsed.
// Governance can still close or settle manually at any time; the sweeper is
// just the automated actor.
type Sweeper struct {
	service *Service
	cfg     SweepConfig
	log     *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper constructs a sweeper around the auction service.
func NewSweeper(service *Service, cfg SweepConfig, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("auction-sweeper")
	}
	if cfg.Spec == "" {
		cfg.Spec = "* * * * *"
	}
	if cfg.BidWindow <= 0 {
		cfg.BidWindow = 5 * time.Minute
	}
	if cfg.RevealWindow <= 0 {
		cfg.RevealWindow = 5 * time.Minute
	}
	return &Sweeper{service: service, cfg: cfg, log: log}
}

func (s *Sweeper) Name() string { return "auction-sweeper" }

// Start schedules the sweep. Idempotent.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Spec, func() { s.Sweep(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.running = true
	s.log.WithField("spec", s.cfg.Spec).Info("auction sweeper started")
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep.
func (s *Sweeper) Stop(_ context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.running = false
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	return nil
}

// Sweep advances every auction that is past its window. Exposed for tests
// and for a governance-triggered manual sweep.
func (s *Sweeper) Sweep(ctx context.Context) {
	auctions, err := s.service.List(ctx)
	if err != nil {
		s.log.WithError(err).Warn("sweep: list auctions")
		return
	}

	now := time.Now().UTC()
	for _, a := range auctions {
		switch a.Phase {
		case domain.PhaseOpen:
			if now.Sub(a.OpenedAt) < s.cfg.BidWindow {
				continue
			}
			if _, err := s.service.Close(ctx, a.ID); err != nil {
				s.log.WithError(err).WithField("auction_id", a.ID).Warn("sweep: close")
			}
		case domain.PhaseClosed:
			if now.Sub(a.ClosedAt) < s.cfg.RevealWindow {
				continue
			}
			if _, err := s.service.Settle(ctx, a.ID, nil); err != nil {
				// Auctions with no valid reveals stay closed; worth a log
				// line, not a retry loop at error level.
				if errors.Is(err, apperrors.ErrInvalidBid) {
					s.log.WithField("auction_id", a.ID).Debugf("sweep: nothing to settle")
				} else {
					s.log.WithError(err).WithField("auction_id", a.ID).Warn("sweep: settle")
				}
			}
		}
	}
}
