package resolution

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	auctiondomain "github.com/solvernet-labs/intent_layer/internal/app/domain/auction"
	treasurydomain "github.com/solvernet-labs/intent_layer/internal/app/domain/treasury"
	"github.com/solvernet-labs/intent_layer/internal/app/events"
	reputationsvc "github.com/solvernet-labs/intent_layer/internal/app/services/reputation"
	"github.com/solvernet-labs/intent_layer/internal/app/storage/memory"
	apperrors "github.com/solvernet-labs/intent_layer/internal/errors"
)

type fixture struct {
	svc   *Service
	store *memory.Store
	bus   *events.Bus
	rep   *reputationsvc.Service
}

func newFixture(t *testing.T, proofs ProofService) *fixture {
	t.Helper()
	store := memory.New()
	bus := events.NewBus(256)
	registry := NewRegistry()
	if err := registry.Register("default", ActionFunc(func(ctx context.Context, state StateAccess) error {
		return state.EmitResult("status", "ok")
	})); err != nil {
		t.Fatalf("register default action: %v", err)
	}
	svc := New(store, store, store, store, registry, proofs, bus, nil)
	return &fixture{
		svc:   svc,
		store: store,
		bus:   bus,
		rep:   reputationsvc.New(store, bus, nil),
	}
}

// trust grants a solver enough score to clear the admission gate.
func (f *fixture) trust(t *testing.T, solver string) {
	t.Helper()
	if _, err := f.rep.AdminSet(context.Background(), solver, 400); err != nil {
		t.Fatalf("admin set %s: %v", solver, err)
	}
}

func (f *fixture) submit(t *testing.T, id string, payload []byte) {
	t.Helper()
	if _, err := f.svc.Submit(context.Background(), id, payload); err != nil {
		t.Fatalf("submit %s: %v", id, err)
	}
}

func (f *fixture) countEvents(typ events.Type) int {
	n := 0
	for _, evt := range f.bus.Recent() {
		if evt.Type == typ {
			n++
		}
	}
	return n
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.Submit(ctx, "a", nil); !errors.Is(err, apperrors.ErrInvalidIntent) {
		t.Fatalf("empty payload = %v, want invalid intent", err)
	}
	huge := make([]byte, MaxExecDataBytes+1)
	if _, err := f.svc.Submit(ctx, "a", huge); !errors.Is(err, apperrors.ErrInvalidIntent) {
		t.Fatalf("oversize payload = %v, want invalid intent", err)
	}

	it, err := f.svc.Submit(ctx, "", []byte(`{"kind":"swap"}`))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if it.ID == "" {
		t.Fatal("blank id was not generated")
	}

	// Resubmission of an unresolved id replaces the payload.
	f.submit(t, "dup", []byte(`{"v":1}`))
	f.submit(t, "dup", []byte(`{"v":2}`))
	got, err := f.svc.Intent(ctx, "dup")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Payload) != `{"v":2}` {
		t.Fatalf("payload = %s, want second submission", got.Payload)
	}
}

func TestResolveGatedUntilTrusted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.submit(t, "intent-1", []byte(`{"kind":"swap"}`))

	err := f.svc.Resolve(ctx, "intent-1", "newcomer", []byte(`{}`))
	if !errors.Is(err, apperrors.ErrReputationTooLow) {
		t.Fatalf("untrusted solver = %v, want reputation too low", err)
	}
	it, _ := f.svc.Intent(ctx, "intent-1")
	if it.Resolved() {
		t.Fatal("gated resolution still marked intent resolved")
	}

	// One +2000 update scales to 78, still short of the floor. A second
	// reaches 156 and the gate opens.
	if _, err := f.rep.Update(ctx, "newcomer", 2000); err != nil {
		t.Fatalf("update: %v", err)
	}
	err = f.svc.Resolve(ctx, "intent-1", "newcomer", []byte(`{}`))
	if !errors.Is(err, apperrors.ErrReputationTooLow) {
		t.Fatalf("one update = %v, want still gated", err)
	}
	if _, err := f.rep.Update(ctx, "newcomer", 2000); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := f.svc.Resolve(ctx, "intent-1", "newcomer", []byte(`{}`)); err != nil {
		t.Fatalf("trusted resolve: %v", err)
	}

	it, _ = f.svc.Intent(ctx, "intent-1")
	if it.Resolver != "newcomer" {
		t.Fatalf("resolver = %q, want newcomer", it.Resolver)
	}
}

func TestResolveTwiceRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.trust(t, "solver-a")
	f.trust(t, "solver-b")
	f.submit(t, "intent-1", []byte(`{"kind":"swap"}`))

	if err := f.svc.Resolve(ctx, "intent-1", "solver-a", []byte(`{}`)); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	err := f.svc.Resolve(ctx, "intent-1", "solver-b", []byte(`{}`))
	if !errors.Is(err, apperrors.ErrExecutionFailed) {
		t.Fatalf("second resolve = %v, want execution failed", err)
	}
	it, _ := f.svc.Intent(ctx, "intent-1")
	if it.Resolver != "solver-a" {
		t.Fatalf("resolver = %q, want original solver-a", it.Resolver)
	}
	if got := f.countEvents(events.TypeIntentResolved); got != 1 {
		t.Fatalf("resolved events = %d, want 1", got)
	}
}

func TestResolveUnknownIntent(t *testing.T) {
	f := newFixture(t, nil)
	f.trust(t, "solver-a")
	err := f.svc.Resolve(context.Background(), "ghost", "solver-a", []byte(`{}`))
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("unknown intent = %v, want not found", err)
	}
}

func TestResolveOversizeExecData(t *testing.T) {
	f := newFixture(t, nil)
	f.trust(t, "solver-a")
	f.submit(t, "intent-1", []byte(`{"kind":"swap"}`))

	err := f.svc.Resolve(context.Background(), "intent-1", "solver-a", make([]byte, MaxExecDataBytes+1))
	if !errors.Is(err, apperrors.ErrExecutionFailed) {
		t.Fatalf("oversize exec data = %v, want execution failed", err)
	}
}

func TestResolveUnknownAction(t *testing.T) {
	f := newFixture(t, nil)
	f.trust(t, "solver-a")
	f.submit(t, "intent-1", []byte(`{"kind":"swap"}`))

	err := f.svc.Resolve(context.Background(), "intent-1", "solver-a", []byte(`{"action":"teleport"}`))
	if !errors.Is(err, apperrors.ErrExecutionFailed) {
		t.Fatalf("unknown action = %v, want execution failed", err)
	}
	it, _ := f.svc.Intent(context.Background(), "intent-1")
	if it.Resolved() {
		t.Fatal("failed action still marked intent resolved")
	}
}

func TestActionFailureLeavesNoState(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.trust(t, "solver-a")
	f.submit(t, "intent-1", []byte(`{"kind":"swap"}`))

	// Seed escrow, then run an action that moves funds and fails afterwards.
	if _, err := f.store.SetBalance(ctx, treasurydomain.Balance{Token: "usdc", Owner: "escrow", Amount: big.NewInt(1000)}); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	if err := f.svc.Actions().Register("burn-then-fail", ActionFunc(func(ctx context.Context, state StateAccess) error {
		if err := state.TransferEscrow("usdc", "escrow", "solver-a", big.NewInt(700)); err != nil {
			return err
		}
		return errors.New("downstream revert")
	})); err != nil {
		t.Fatalf("register: %v", err)
	}

	before, _ := f.rep.Score(ctx, "solver-a")
	err := f.svc.Resolve(ctx, "intent-1", "solver-a", []byte(`{"action":"burn-then-fail"}`))
	if !errors.Is(err, apperrors.ErrExecutionFailed) {
		t.Fatalf("failing action = %v, want execution failed", err)
	}

	bal, _ := f.store.GetBalance(ctx, "usdc", "escrow")
	if bal.Amount == nil || bal.Amount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("escrow balance = %v, want untouched 1000", bal.Amount)
	}
	after, _ := f.rep.Score(ctx, "solver-a")
	if after.Value != before.Value {
		t.Fatalf("score drifted %d -> %d across a failed resolution", before.Value, after.Value)
	}
	it, _ := f.svc.Intent(ctx, "intent-1")
	if it.Resolved() {
		t.Fatal("failed resolution still marked intent resolved")
	}
}

func TestActionTransferPersistsOnSuccess(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.trust(t, "solver-a")
	f.submit(t, "intent-1", []byte(`{"kind":"swap"}`))

	if _, err := f.store.SetBalance(ctx, treasurydomain.Balance{Token: "usdc", Owner: "escrow", Amount: big.NewInt(1000)}); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	if err := f.svc.Actions().Register("payout", ActionFunc(func(ctx context.Context, state StateAccess) error {
		if err := state.TransferEscrow("usdc", "escrow", "solver-a", big.NewInt(700)); err != nil {
			return err
		}
		left, err := state.Balance("usdc", "escrow")
		if err != nil {
			return err
		}
		return state.EmitResult("escrow_left", left.String())
	})); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := f.svc.Resolve(ctx, "intent-1", "solver-a", []byte(`{"action":"payout"}`)); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	escrow, _ := f.store.GetBalance(ctx, "usdc", "escrow")
	if escrow.Amount.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("escrow = %s, want 300", escrow.Amount)
	}
	paid, _ := f.store.GetBalance(ctx, "usdc", "solver-a")
	if paid.Amount.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("solver balance = %s, want 700", paid.Amount)
	}

	// The staged view the action saw must match what persisted.
	var resolved *events.Event
	for _, evt := range f.bus.Recent() {
		if evt.Type == events.TypeIntentResolved {
			e := evt
			resolved = &e
		}
	}
	if resolved == nil {
		t.Fatal("no resolved event")
	}
	if resolved.Fields["result_escrow_left"] != "300" {
		t.Fatalf("staged escrow view = %v, want 300", resolved.Fields["result_escrow_left"])
	}
}

func TestActionOverdraftRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.trust(t, "solver-a")
	f.submit(t, "intent-1", []byte(`{"kind":"swap"}`))

	if err := f.svc.Actions().Register("overdraw", ActionFunc(func(ctx context.Context, state StateAccess) error {
		return state.TransferEscrow("usdc", "escrow", "solver-a", big.NewInt(1))
	})); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := f.svc.Resolve(ctx, "intent-1", "solver-a", []byte(`{"action":"overdraw"}`))
	if !errors.Is(err, apperrors.ErrExecutionFailed) {
		t.Fatalf("overdraft = %v, want execution failed", err)
	}
}

func TestActionSelfTransferRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.trust(t, "solver-a")
	f.submit(t, "intent-1", []byte(`{"kind":"swap"}`))

	if _, err := f.store.SetBalance(ctx, treasurydomain.Balance{Token: "usdc", Owner: "escrow", Amount: big.NewInt(1000)}); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	if err := f.svc.Actions().Register("self-pay", ActionFunc(func(ctx context.Context, state StateAccess) error {
		return state.TransferEscrow("usdc", "escrow", "escrow", big.NewInt(700))
	})); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := f.svc.Resolve(ctx, "intent-1", "solver-a", []byte(`{"action":"self-pay"}`))
	if !errors.Is(err, apperrors.ErrExecutionFailed) {
		t.Fatalf("self-transfer = %v, want execution failed", err)
	}
	bal, _ := f.store.GetBalance(ctx, "usdc", "escrow")
	if bal.Amount == nil || bal.Amount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("escrow balance = %v, want unchanged 1000", bal.Amount)
	}
}

func TestReentrantResolveRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.trust(t, "solver-a")
	f.submit(t, "intent-1", []byte(`{"kind":"swap"}`))
	f.submit(t, "intent-2", []byte(`{"kind":"swap"}`))

	var inner error
	if err := f.svc.Actions().Register("nested", ActionFunc(func(ctx context.Context, state StateAccess) error {
		inner = f.svc.Resolve(ctx, "intent-2", "solver-a", []byte(`{}`))
		return inner
	})); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := f.svc.Resolve(ctx, "intent-1", "solver-a", []byte(`{"action":"nested"}`))
	if !errors.Is(err, apperrors.ErrExecutionFailed) {
		t.Fatalf("outer resolve = %v, want execution failed", err)
	}
	if !errors.Is(inner, apperrors.ErrExecutionFailed) {
		t.Fatalf("nested resolve = %v, want rejection", inner)
	}
	for _, id := range []string{"intent-1", "intent-2"} {
		it, _ := f.svc.Intent(ctx, id)
		if it.Resolved() {
			t.Fatalf("intent %s resolved despite re-entry", id)
		}
	}
}

func TestBatchMatchesSequential(t *testing.T) {
	payloads := map[string][]byte{
		"intent-1": []byte(`{"kind":"swap"}`),
		"intent-2": []byte(`{"kind":"bridge"}`),
		"intent-3": []byte(`{"kind":"lend"}`),
	}
	ids := []string{"intent-1", "intent-2", "intent-3"}
	solvers := []string{"solver-a", "solver-b", "solver-a"}
	execDatas := [][]byte{[]byte(`{}`), []byte(`{}`), []byte(`{}`)}

	seq := newFixture(t, nil)
	batch := newFixture(t, nil)
	for _, f := range []*fixture{seq, batch} {
		f.trust(t, "solver-a")
		f.trust(t, "solver-b")
		for id, p := range payloads {
			f.submit(t, id, p)
		}
	}
	ctx := context.Background()

	for i := range ids {
		if err := seq.svc.Resolve(ctx, ids[i], solvers[i], execDatas[i]); err != nil {
			t.Fatalf("sequential resolve %s: %v", ids[i], err)
		}
	}
	if _, err := batch.svc.BatchResolve(ctx, ids, solvers, execDatas); err != nil {
		t.Fatalf("batch resolve: %v", err)
	}

	for _, id := range ids {
		a, _ := seq.svc.Intent(ctx, id)
		b, _ := batch.svc.Intent(ctx, id)
		if a.Resolver != b.Resolver {
			t.Fatalf("intent %s: sequential resolver %q, batch resolver %q", id, a.Resolver, b.Resolver)
		}
	}
	for _, solver := range []string{"solver-a", "solver-b"} {
		a, _ := seq.rep.Score(ctx, solver)
		b, _ := batch.rep.Score(ctx, solver)
		if a.Value != b.Value {
			t.Fatalf("solver %s: sequential score %d, batch score %d", solver, a.Value, b.Value)
		}
	}
}

func TestBatchAbortLeavesNoState(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.trust(t, "solver-a")
	f.submit(t, "intent-1", []byte(`{"kind":"swap"}`))
	f.submit(t, "intent-2", []byte(`{"kind":"swap"}`))

	// Tuple 2 fails: its solver never cleared the gate.
	_, err := f.svc.BatchResolve(ctx,
		[]string{"intent-1", "intent-2"},
		[]string{"solver-a", "newcomer"},
		[][]byte{[]byte(`{}`), []byte(`{}`)},
	)
	if !errors.Is(err, apperrors.ErrExecutionFailed) {
		t.Fatalf("aborted batch = %v, want execution failed wrapper", err)
	}
	if !errors.Is(err, apperrors.ErrReputationTooLow) {
		t.Fatalf("cause not preserved through wrap: %v", err)
	}

	it, _ := f.svc.Intent(ctx, "intent-1")
	if it.Resolved() {
		t.Fatal("tuple 1 persisted despite batch abort")
	}
	if got := f.countEvents(events.TypeIntentResolved); got != 0 {
		t.Fatalf("resolved events after abort = %d, want 0", got)
	}
	if got := f.countEvents(events.TypeBatchExecuted); got != 0 {
		t.Fatalf("batch events after abort = %d, want 0", got)
	}
}

func TestBatchValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.BatchResolve(ctx, nil, nil, nil); !errors.Is(err, apperrors.ErrInvalidIntent) {
		t.Fatalf("empty batch = %v, want invalid intent", err)
	}
	if _, err := f.svc.BatchResolve(ctx, []string{"a"}, []string{"s", "t"}, [][]byte{nil}); !errors.Is(err, apperrors.ErrInvalidIntent) {
		t.Fatalf("ragged batch = %v, want invalid intent", err)
	}

	ids := make([]string, MaxBatchTuples+1)
	solvers := make([]string, MaxBatchTuples+1)
	datas := make([][]byte, MaxBatchTuples+1)
	for i := range ids {
		ids[i], solvers[i], datas[i] = "x", "s", []byte(`{}`)
	}
	if _, err := f.svc.BatchResolve(ctx, ids, solvers, datas); !errors.Is(err, apperrors.ErrInvalidIntent) {
		t.Fatalf("oversize batch = %v, want invalid intent", err)
	}
}

func TestBatchIDDeterministic(t *testing.T) {
	a := BatchID([]string{"intent-1", "intent-2", "intent-3"})
	b := BatchID([]string{"intent-1", "intent-2", "intent-3"})
	if a != b {
		t.Fatalf("same list produced %d and %d", a, b)
	}
	// The id folds the ordered list; the separator keeps boundaries from
	// gluing ("ab","c" vs "a","bc").
	if BatchID([]string{"ab", "c"}) == BatchID([]string{"a", "bc"}) {
		t.Fatal("boundary shift did not change batch id")
	}
}

func TestEntropyDeterministic(t *testing.T) {
	a := Entropy("intent-1", "solver-a", []byte(`{}`))
	if b := Entropy("intent-1", "solver-a", []byte(`{}`)); a != b {
		t.Fatalf("same tuple produced %d and %d", a, b)
	}
	if a < EntropyThreshold {
		t.Fatalf("ordinary tuple entropy %d below threshold", a)
	}
	if Entropy("intent-1", "solver-a", []byte(`{"x":1}`)) == 0 {
		t.Fatal("entropy of non-empty tuple is zero")
	}
}

type fakeProofs struct{}

func (fakeProofs) VerifyProof(_ context.Context, proof []byte) (bool, error) {
	if len(proof) == 0 {
		return false, errors.New("empty proof")
	}
	return proof[0] == 0x01, nil
}

func TestProofRequiredWhenConfigured(t *testing.T) {
	f := newFixture(t, fakeProofs{})
	ctx := context.Background()
	f.trust(t, "solver-a")
	f.submit(t, "intent-1", []byte(`{"kind":"swap"}`))

	err := f.svc.Resolve(ctx, "intent-1", "solver-a", []byte(`{}`))
	if !errors.Is(err, apperrors.ErrExecutionFailed) {
		t.Fatalf("missing proof = %v, want execution failed", err)
	}

	err = f.svc.Resolve(ctx, "intent-1", "solver-a", []byte(`{"proof":"00ff"}`))
	if !errors.Is(err, apperrors.ErrExecutionFailed) {
		t.Fatalf("bad proof = %v, want execution failed", err)
	}

	err = f.svc.Resolve(ctx, "intent-1", "solver-a", []byte(`{"proof":"zz"}`))
	if !errors.Is(err, apperrors.ErrExecutionFailed) {
		t.Fatalf("unparseable proof = %v, want execution failed", err)
	}

	if err := f.svc.Resolve(ctx, "intent-1", "solver-a", []byte(`{"proof":"01aa"}`)); err != nil {
		t.Fatalf("valid proof: %v", err)
	}
}

func TestResolveAuctionWinner(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.trust(t, "solver-b")
	f.submit(t, "intent-1", []byte(`{"kind":"swap"}`))

	now := time.Now().UTC()
	if _, err := f.store.PutAuction(ctx, auctiondomain.Auction{
		ID: "auction-1", Phase: auctiondomain.PhaseClosed, OpenedAt: now, ClosedAt: now,
	}); err != nil {
		t.Fatalf("seed auction: %v", err)
	}
	err := f.svc.ResolveAuctionWinner(ctx, "auction-1", "intent-1", []byte(`{}`))
	if !errors.Is(err, apperrors.ErrAuctionState) {
		t.Fatalf("unsettled auction = %v, want auction state", err)
	}

	if _, err := f.store.PutAuction(ctx, auctiondomain.Auction{
		ID: "auction-1", Phase: auctiondomain.PhaseSettled, Winner: "solver-b", OpenedAt: now, SettledAt: now,
	}); err != nil {
		t.Fatalf("settle auction: %v", err)
	}
	if err := f.svc.ResolveAuctionWinner(ctx, "auction-1", "intent-1", []byte(`{}`)); err != nil {
		t.Fatalf("resolve via auction: %v", err)
	}
	it, _ := f.svc.Intent(ctx, "intent-1")
	if it.Resolver != "solver-b" {
		t.Fatalf("resolver = %q, want auction winner solver-b", it.Resolver)
	}
}
