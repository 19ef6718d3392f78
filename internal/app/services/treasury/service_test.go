package treasury

import (
	"context"
	"errors"
	"math/big"
	"testing"

	domain "github.com/solvernet-labs/intent_layer/internal/app/domain/treasury"
	"github.com/solvernet-labs/intent_layer/internal/app/events"
	"github.com/solvernet-labs/intent_layer/internal/app/storage/memory"
	apperrors "github.com/solvernet-labs/intent_layer/internal/errors"
)

type fakeProvider struct {
	name  string
	fail  bool
	calls int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) FlashLoan(ctx context.Context, token string, amount *big.Int, data []byte) error {
	p.calls++
	if p.fail {
		return errors.New("pool drained")
	}
	return nil
}

func newTestService(t *testing.T) (*Service, *events.Bus) {
	t.Helper()
	bus := events.NewBus(64)
	return New(memory.New(), bus, nil, "governor"), bus
}

func TestDepositWithdraw(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bal, err := svc.Deposit(ctx, "governor", "usdc", "alice", big.NewInt(500))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if bal.Amount.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("balance after deposit = %s, want 500", bal.Amount)
	}

	bal, err = svc.Withdraw(ctx, "governor", "usdc", "alice", big.NewInt(200))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if bal.Amount.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("balance after withdraw = %s, want 300", bal.Amount)
	}

	_, err = svc.Withdraw(ctx, "governor", "usdc", "alice", big.NewInt(1000))
	if !errors.Is(err, apperrors.ErrExecutionFailed) {
		t.Fatalf("overdraw error = %v, want execution failed", err)
	}
	got, err := svc.Balance(ctx, "usdc", "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got.Amount.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("failed withdraw touched balance: %s", got.Amount)
	}
}

func TestUnauthorizedActorRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, "mallory", "usdc", "mallory", big.NewInt(1))
	if !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("deposit by outsider = %v, want unauthorized", err)
	}
	_, err = svc.SetCompliance(ctx, "mallory", "mallory", domain.FlagKYC)
	if !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("compliance by outsider = %v, want unauthorized", err)
	}
	if err := svc.RegisterProvider("mallory", &fakeProvider{name: "pool"}); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("register by outsider = %v, want unauthorized", err)
	}

	// Governance can extend the set; the new actor then succeeds.
	if err := svc.Authorize("governor", "ops"); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, err := svc.Deposit(ctx, "ops", "usdc", "bob", big.NewInt(1)); err != nil {
		t.Fatalf("deposit by new actor: %v", err)
	}
}

func TestFlashLoanBelowMinimumSkipsProviders(t *testing.T) {
	svc, _ := newTestService(t)
	p := &fakeProvider{name: "pool-a"}
	if err := svc.RegisterProvider("governor", p); err != nil {
		t.Fatalf("register: %v", err)
	}

	// order(512) = 9 < 10: rejected before any provider is contacted.
	err := svc.FlashLoan(context.Background(), "usdc", big.NewInt(512), nil)
	if !errors.Is(err, apperrors.ErrFlashloanFailed) {
		t.Fatalf("small loan = %v, want flashloan failed", err)
	}
	if p.calls != 0 {
		t.Fatalf("provider contacted %d times for an undersized loan", p.calls)
	}

	// order(1024) = 10: exactly at the threshold, routed normally.
	if err := svc.FlashLoan(context.Background(), "usdc", big.NewInt(1024), nil); err != nil {
		t.Fatalf("threshold loan: %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", p.calls)
	}
}

func TestFlashLoanFallbackOrder(t *testing.T) {
	svc, bus := newTestService(t)
	a := &fakeProvider{name: "pool-a", fail: true}
	b := &fakeProvider{name: "pool-b"}
	c := &fakeProvider{name: "pool-c"}
	for _, p := range []*fakeProvider{a, b, c} {
		if err := svc.RegisterProvider("governor", p); err != nil {
			t.Fatalf("register %s: %v", p.name, err)
		}
	}

	if err := svc.FlashLoan(context.Background(), "usdc", big.NewInt(1<<20), nil); err != nil {
		t.Fatalf("flashloan: %v", err)
	}
	if a.calls != 1 || b.calls != 1 || c.calls != 0 {
		t.Fatalf("call pattern = %d/%d/%d, want 1/1/0", a.calls, b.calls, c.calls)
	}

	var routed *events.Event
	for _, evt := range bus.Recent() {
		if evt.Type == events.TypeFlashLoanRouted {
			e := evt
			routed = &e
		}
	}
	if routed == nil {
		t.Fatal("no flashloan_routed event published")
	}
	if routed.Fields["provider"] != "pool-b" {
		t.Fatalf("routed via %v, want pool-b", routed.Fields["provider"])
	}
}

func TestFlashLoanAllProvidersFail(t *testing.T) {
	svc, _ := newTestService(t)
	a := &fakeProvider{name: "pool-a", fail: true}
	b := &fakeProvider{name: "pool-b", fail: true}
	_ = svc.RegisterProvider("governor", a)
	_ = svc.RegisterProvider("governor", b)

	err := svc.FlashLoan(context.Background(), "usdc", big.NewInt(1<<20), nil)
	if !errors.Is(err, apperrors.ErrFlashloanFailed) {
		t.Fatalf("exhausted providers = %v, want flashloan failed", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("call pattern = %d/%d, want 1/1", a.calls, b.calls)
	}
}

func TestFlashLoanNoProviders(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.FlashLoan(context.Background(), "usdc", big.NewInt(1<<20), nil)
	if !errors.Is(err, apperrors.ErrFlashloanFailed) {
		t.Fatalf("no providers = %v, want flashloan failed", err)
	}
}

func TestCompliance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SetCompliance(ctx, "governor", "alice", domain.FlagKYC|domain.FlagSanctionsClear); err != nil {
		t.Fatalf("set compliance: %v", err)
	}

	if err := svc.RequireCompliance(ctx, "alice", domain.FlagKYC); err != nil {
		t.Fatalf("require kyc: %v", err)
	}
	err := svc.RequireCompliance(ctx, "alice", domain.FlagAccredited)
	if !errors.Is(err, apperrors.ErrComplianceViolation) {
		t.Fatalf("missing bit = %v, want compliance violation", err)
	}

	// Unknown entities read as an empty mask.
	err = svc.RequireCompliance(ctx, "nobody", domain.FlagKYC)
	if !errors.Is(err, apperrors.ErrComplianceViolation) {
		t.Fatalf("unknown entity = %v, want compliance violation", err)
	}
	if err := svc.RequireCompliance(ctx, "nobody", 0); err != nil {
		t.Fatalf("zero requirement must always pass: %v", err)
	}
}
