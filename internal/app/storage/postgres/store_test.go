package postgres

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/solvernet-labs/intent_layer/internal/app/domain/auction"
	"github.com/solvernet-labs/intent_layer/internal/app/domain/intent"
	"github.com/solvernet-labs/intent_layer/internal/app/domain/treasury"
	apperrors "github.com/solvernet-labs/intent_layer/internal/errors"
)

func TestMigrateExecutesAllStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	for range migrations {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetIntentNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT id, payload, resolver").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err = New(db).GetIntent(context.Background(), "ghost")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("missing intent = %v, want not found", err)
	}
}

func TestSetResolverAlreadyResolved(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	// The guarded UPDATE matches no rows, then the follow-up read shows a
	// resolver already present.
	mock.ExpectExec("UPDATE intents").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, payload, resolver").
		WithArgs("intent-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload", "resolver", "submitted_at", "resolved_at"}).
			AddRow("intent-1", []byte(`{}`), "solver-a", time.Now(), time.Now()))

	_, err = New(db).SetResolver(context.Background(), "intent-1", "solver-b")
	if !errors.Is(err, apperrors.ErrExecutionFailed) {
		t.Fatalf("double resolve = %v, want execution failed", err)
	}
}

func TestMissingScoreReadsAsZero(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT solver, value").
		WithArgs("newcomer").
		WillReturnError(sql.ErrNoRows)

	sc, err := New(db).GetScore(context.Background(), "newcomer")
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	if sc.Solver != "newcomer" || sc.Value != 0 {
		t.Fatalf("score = %+v, want zero value", sc)
	}
}

func TestBidsRoundTrip(t *testing.T) {
	reveal := new(big.Int).Lsh(big.NewInt(3), 64)
	in := map[string]auction.Bid{
		"solver-a": {
			CommitHash:  [32]byte{1, 2, 3},
			RevealValue: reveal,
			Revealed:    true,
			CommittedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			RevealedAt:  time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC),
		},
		"solver-b": {
			CommitHash:  [32]byte{9},
			CommittedAt: time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC),
		},
	}

	raw, err := encodeBids(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decodeBids(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("decoded %d bids, want 2", len(out))
	}
	a := out["solver-a"]
	if a.CommitHash != in["solver-a"].CommitHash {
		t.Fatal("commit hash changed across round trip")
	}
	if a.RevealValue == nil || a.RevealValue.Cmp(reveal) != 0 {
		t.Fatalf("reveal value = %v, want %s", a.RevealValue, reveal)
	}
	b := out["solver-b"]
	if b.Revealed || b.RevealValue != nil {
		t.Fatalf("unrevealed bid decoded as %+v", b)
	}
}

func TestDecodeBidsRejectsMalformed(t *testing.T) {
	if _, err := decodeBids([]byte(`{"s":{"commit_hash":"zz"}}`)); err == nil {
		t.Fatal("malformed commit hash accepted")
	}
	if _, err := decodeBids([]byte(`{"s":{"commit_hash":"` +
		"0000000000000000000000000000000000000000000000000000000000000000" +
		`","reveal_value":"abc","revealed":true}}`)); err == nil {
		t.Fatal("malformed reveal value accepted")
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := New(db)

	it, err := store.PutIntent(ctx, intent.Intent{ID: "it-integration", Payload: []byte(`{"kind":"swap"}`)})
	if err != nil {
		t.Fatalf("put intent: %v", err)
	}
	if _, err := store.SetResolver(ctx, it.ID, "solver-a"); err != nil {
		t.Fatalf("set resolver: %v", err)
	}
	if _, err := store.SetResolver(ctx, it.ID, "solver-b"); !errors.Is(err, apperrors.ErrExecutionFailed) {
		t.Fatalf("double resolve = %v, want execution failed", err)
	}

	bal, err := store.SetBalance(ctx, treasury.Balance{Token: "usdc", Owner: "escrow", Amount: big.NewInt(12345)})
	if err != nil {
		t.Fatalf("set balance: %v", err)
	}
	got, err := store.GetBalance(ctx, bal.Token, bal.Owner)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if got.Amount.Cmp(bal.Amount) != 0 {
		t.Fatalf("balance = %s, want %s", got.Amount, bal.Amount)
	}
}
