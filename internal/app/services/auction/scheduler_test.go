package auction

import (
	"context"
	"testing"
	"time"

	domain "github.com/solvernet-labs/intent_layer/internal/app/domain/auction"
	"github.com/solvernet-labs/intent_layer/internal/app/storage/memory"
)

func TestSweeperAdvancesPhases(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	sweeper := NewSweeper(svc, SweepConfig{BidWindow: time.Millisecond, RevealWindow: time.Millisecond}, nil)
	ctx := context.Background()

	if _, err := svc.Open(ctx, "a"); err != nil {
		t.Fatalf("open: %v", err)
	}
	value := token(25)
	if err := svc.Commit(ctx, "a", "s", CommitHash(value, []byte("x"))); err != nil {
		t.Fatalf("commit: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	sweeper.Sweep(ctx)

	a, err := svc.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Phase != domain.PhaseClosed {
		t.Fatalf("sweep did not close: %s", a.Phase)
	}

	if err := svc.Reveal(ctx, "a", "s", value, []byte("x")); err != nil {
		t.Fatalf("reveal: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	sweeper.Sweep(ctx)

	a, err = svc.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Phase != domain.PhaseSettled || a.Winner != "s" {
		t.Fatalf("sweep did not settle: phase=%s winner=%q", a.Phase, a.Winner)
	}
}

func TestSweeperLeavesFreshAuctionsAlone(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	sweeper := NewSweeper(svc, SweepConfig{BidWindow: time.Hour, RevealWindow: time.Hour}, nil)
	ctx := context.Background()

	if _, err := svc.Open(ctx, "a"); err != nil {
		t.Fatalf("open: %v", err)
	}
	sweeper.Sweep(ctx)

	a, err := svc.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Phase != domain.PhaseOpen {
		t.Fatalf("fresh auction advanced: %s", a.Phase)
	}
}

func TestSweeperStartStop(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	sweeper := NewSweeper(svc, SweepConfig{Spec: "@every 1h"}, nil)

	if err := sweeper.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sweeper.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := sweeper.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
