// Package app assembles the engine's services over pluggable stores and
// manages their lifecycle as a unit.
package app

import (
	"context"
	"fmt"

	"github.com/solvernet-labs/intent_layer/internal/app/events"
	auctionsvc "github.com/solvernet-labs/intent_layer/internal/app/services/auction"
	identitysvc "github.com/solvernet-labs/intent_layer/internal/app/services/identity"
	reputationsvc "github.com/solvernet-labs/intent_layer/internal/app/services/reputation"
	resolutionsvc "github.com/solvernet-labs/intent_layer/internal/app/services/resolution"
	treasurysvc "github.com/solvernet-labs/intent_layer/internal/app/services/treasury"
	"github.com/solvernet-labs/intent_layer/internal/app/storage"
	"github.com/solvernet-labs/intent_layer/internal/app/storage/memory"
	"github.com/solvernet-labs/intent_layer/internal/app/system"
	"github.com/solvernet-labs/intent_layer/internal/verifier"
	"github.com/solvernet-labs/intent_layer/pkg/logger"
)

// Stores carries the persistence backends. Nil fields fall back to a shared
// in-memory store.
type Stores struct {
	Intents    storage.IntentStore
	Auctions   storage.AuctionStore
	Reputation storage.ReputationStore
	Identities storage.IdentityStore
	Treasury   storage.TreasuryStore
}

// Options tunes application assembly.
type Options struct {
	// Verifier backs signature and proof checks. Defaults to the dev
	// verifier.
	Verifier verifier.Verifier

	// Governors seed the treasury authorization set.
	Governors []string

	// RequireProofs wires the identity service into the resolution pipeline
	// as its proof checker.
	RequireProofs bool

	// Sweep configures the auction phase sweeper. A zero value disables it.
	Sweep auctionsvc.SweepConfig
}

// Application is the assembled engine.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Bus        *events.Bus
	Identity   *identitysvc.Service
	Reputation *reputationsvc.Service
	Auctions   *auctionsvc.Service
	Resolution *resolutionsvc.Service
	Treasury   *treasurysvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Intents == nil {
		stores.Intents = mem
	}
	if stores.Auctions == nil {
		stores.Auctions = mem
	}
	if stores.Reputation == nil {
		stores.Reputation = mem
	}
	if stores.Identities == nil {
		stores.Identities = mem
	}
	if stores.Treasury == nil {
		stores.Treasury = mem
	}

	v := opts.Verifier
	if v == nil {
		v = verifier.NewDev()
	}
	if len(opts.Governors) == 0 {
		opts.Governors = []string{"governor"}
	}

	bus := events.NewBus(1024)
	manager := system.NewManager(log)

	identityService := identitysvc.New(stores.Identities, v, bus, log.WithField("component", "identity"))
	reputationService := reputationsvc.New(stores.Reputation, bus, log.WithField("component", "reputation"))
	auctionService := auctionsvc.New(stores.Auctions, bus, log.WithField("component", "auction"))
	treasuryService := treasurysvc.New(stores.Treasury, bus, log.WithField("component", "treasury"), opts.Governors...)

	var proofs resolutionsvc.ProofService
	if opts.RequireProofs {
		proofs = identityService
	}
	resolutionService := resolutionsvc.New(
		stores.Intents,
		stores.Auctions,
		stores.Treasury,
		stores.Reputation,
		resolutionsvc.NewRegistry(),
		proofs,
		bus,
		log.WithField("component", "resolution"),
	)

	// The default action accepts the resolution without touching treasury
	// state. Deployments register richer actions on top.
	if err := resolutionService.Actions().Register("default", resolutionsvc.ActionFunc(func(_ context.Context, _ resolutionsvc.StateAccess) error {
		return nil
	})); err != nil {
		return nil, fmt.Errorf("register default action: %w", err)
	}

	for _, name := range []string{"identity", "reputation", "resolution", "treasury"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}
	if opts.Sweep.Spec != "" {
		sweeper := auctionsvc.NewSweeper(auctionService, opts.Sweep, log.WithField("component", "sweeper"))
		if err := manager.Register(sweeper); err != nil {
			return nil, fmt.Errorf("register sweeper: %w", err)
		}
	}

	return &Application{
		manager:    manager,
		log:        log,
		Bus:        bus,
		Identity:   identityService,
		Reputation: reputationService,
		Auctions:   auctionService,
		Resolution: resolutionService,
		Treasury:   treasuryService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
