package postgres

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	_ "github.com/lib/pq"

	"github.com/solvernet-labs/intent_layer/internal/app/domain/auction"
	"github.com/solvernet-labs/intent_layer/internal/app/domain/identity"
	"github.com/solvernet-labs/intent_layer/internal/app/domain/intent"
	"github.com/solvernet-labs/intent_layer/internal/app/domain/reputation"
	"github.com/solvernet-labs/intent_layer/internal/app/domain/treasury"
	"github.com/solvernet-labs/intent_layer/internal/app/storage"
	"github.com/solvernet-labs/intent_layer/internal/config"
	apperrors "github.com/solvernet-labs/intent_layer/internal/errors"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.IntentStore = (*Store)(nil)
var _ storage.AuctionStore = (*Store)(nil)
var _ storage.ReputationStore = (*Store)(nil)
var _ storage.IdentityStore = (*Store)(nil)
var _ storage.TreasuryStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS intents (
		id           TEXT PRIMARY KEY,
		payload      BYTEA NOT NULL,
		resolver     TEXT NOT NULL DEFAULT '',
		submitted_at TIMESTAMPTZ NOT NULL,
		resolved_at  TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS auctions (
		id         TEXT PRIMARY KEY,
		phase      TEXT NOT NULL,
		winner     TEXT NOT NULL DEFAULT '',
		bids       JSONB NOT NULL DEFAULT '{}',
		opened_at  TIMESTAMPTZ NOT NULL,
		closed_at  TIMESTAMPTZ,
		settled_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS reputation_scores (
		solver     TEXT PRIMARY KEY,
		value      BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reputation_slashes (
		id        BIGSERIAL PRIMARY KEY,
		solver    TEXT NOT NULL,
		magnitude BIGINT NOT NULL,
		at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS reputation_slashes_solver_idx ON reputation_slashes (solver)`,
	`CREATE TABLE IF NOT EXISTS identities (
		solver     TEXT PRIMARY KEY,
		key_a_x    TEXT,
		key_a_y    TEXT,
		key_b_x    TEXT,
		key_b_y    TEXT,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS balances (
		token      TEXT NOT NULL,
		owner      TEXT NOT NULL,
		amount     TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (token, owner)
	)`,
	`CREATE TABLE IF NOT EXISTS compliance (
		entity     TEXT PRIMARY KEY,
		flags      BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

// --- IntentStore ------------------------------------------------------------

func (s *Store) PutIntent(ctx context.Context, it intent.Intent) (intent.Intent, error) {
	existing, err := s.GetIntent(ctx, it.ID)
	switch {
	case err == nil:
		if existing.Resolved() {
			return intent.Intent{}, apperrors.InvalidIntent("intent %s already resolved", it.ID)
		}
	case errors.Is(err, apperrors.ErrNotFound):
	default:
		return intent.Intent{}, err
	}

	if it.SubmittedAt.IsZero() {
		it.SubmittedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO intents (id, payload, resolver, submitted_at)
		VALUES ($1, $2, '', $3)
		ON CONFLICT (id) DO UPDATE SET payload = $2, submitted_at = $3
	`, it.ID, it.Payload, it.SubmittedAt)
	if err != nil {
		return intent.Intent{}, err
	}
	it.Resolver = ""
	it.ResolvedAt = time.Time{}
	return it, nil
}

func (s *Store) GetIntent(ctx context.Context, id string) (intent.Intent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, payload, resolver, submitted_at, resolved_at
		FROM intents
		WHERE id = $1
	`, id)

	var (
		it         intent.Intent
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&it.ID, &it.Payload, &it.Resolver, &it.SubmittedAt, &resolvedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return intent.Intent{}, apperrors.NotFound("intent %s", id)
		}
		return intent.Intent{}, err
	}
	if resolvedAt.Valid {
		it.ResolvedAt = resolvedAt.Time
	}
	return it, nil
}

func (s *Store) SetResolver(ctx context.Context, id, solver string) (intent.Intent, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE intents
		SET resolver = $2, resolved_at = $3
		WHERE id = $1 AND resolver = ''
	`, id, solver, now)
	if err != nil {
		return intent.Intent{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		existing, err := s.GetIntent(ctx, id)
		if err != nil {
			return intent.Intent{}, err
		}
		if existing.Resolved() {
			return intent.Intent{}, apperrors.ExecutionFailed("intent %s already resolved", id)
		}
		return intent.Intent{}, apperrors.NotFound("intent %s", id)
	}
	return s.GetIntent(ctx, id)
}

func (s *Store) ListIntents(ctx context.Context) ([]intent.Intent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload, resolver, submitted_at, resolved_at
		FROM intents
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []intent.Intent
	for rows.Next() {
		var (
			it         intent.Intent
			resolvedAt sql.NullTime
		)
		if err := rows.Scan(&it.ID, &it.Payload, &it.Resolver, &it.SubmittedAt, &resolvedAt); err != nil {
			return nil, err
		}
		if resolvedAt.Valid {
			it.ResolvedAt = resolvedAt.Time
		}
		result = append(result, it)
	}
	return result, rows.Err()
}

// --- AuctionStore -----------------------------------------------------------

// storedBid is the JSON shape of one sealed bid inside the bids column.
type storedBid struct {
	CommitHash  string    `json:"commit_hash"`
	RevealValue string    `json:"reveal_value,omitempty"`
	Revealed    bool      `json:"revealed"`
	CommittedAt time.Time `json:"committed_at"`
	RevealedAt  time.Time `json:"revealed_at,omitempty"`
}

func encodeBids(bids map[string]auction.Bid) ([]byte, error) {
	out := make(map[string]storedBid, len(bids))
	for solver, bid := range bids {
		sb := storedBid{
			CommitHash:  hex.EncodeToString(bid.CommitHash[:]),
			Revealed:    bid.Revealed,
			CommittedAt: bid.CommittedAt,
			RevealedAt:  bid.RevealedAt,
		}
		if bid.RevealValue != nil {
			sb.RevealValue = bid.RevealValue.String()
		}
		out[solver] = sb
	}
	return json.Marshal(out)
}

func decodeBids(raw []byte) (map[string]auction.Bid, error) {
	stored := make(map[string]storedBid)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &stored); err != nil {
			return nil, err
		}
	}
	out := make(map[string]auction.Bid, len(stored))
	for solver, sb := range stored {
		bid := auction.Bid{
			Revealed:    sb.Revealed,
			CommittedAt: sb.CommittedAt,
			RevealedAt:  sb.RevealedAt,
		}
		hash, err := hex.DecodeString(sb.CommitHash)
		if err != nil || len(hash) != len(bid.CommitHash) {
			return nil, fmt.Errorf("bid for %s: malformed commit hash", solver)
		}
		copy(bid.CommitHash[:], hash)
		if sb.RevealValue != "" {
			value, ok := new(big.Int).SetString(sb.RevealValue, 10)
			if !ok {
				return nil, fmt.Errorf("bid for %s: malformed reveal value", solver)
			}
			bid.RevealValue = value
		}
		out[solver] = bid
	}
	return out, nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func (s *Store) PutAuction(ctx context.Context, a auction.Auction) (auction.Auction, error) {
	bidsJSON, err := encodeBids(a.Bids)
	if err != nil {
		return auction.Auction{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auctions (id, phase, winner, bids, opened_at, closed_at, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET phase = $2, winner = $3, bids = $4, opened_at = $5, closed_at = $6, settled_at = $7
	`, a.ID, string(a.Phase), a.Winner, bidsJSON, a.OpenedAt, nullableTime(a.ClosedAt), nullableTime(a.SettledAt))
	if err != nil {
		return auction.Auction{}, err
	}
	return a.Clone(), nil
}

func (s *Store) GetAuction(ctx context.Context, id string) (auction.Auction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, phase, winner, bids, opened_at, closed_at, settled_at
		FROM auctions
		WHERE id = $1
	`, id)
	return scanAuction(row.Scan, id)
}

func scanAuction(scan func(...interface{}) error, id string) (auction.Auction, error) {
	var (
		a         auction.Auction
		phase     string
		bidsRaw   []byte
		closedAt  sql.NullTime
		settledAt sql.NullTime
	)
	if err := scan(&a.ID, &phase, &a.Winner, &bidsRaw, &a.OpenedAt, &closedAt, &settledAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auction.Auction{}, apperrors.NotFound("auction %s", id)
		}
		return auction.Auction{}, err
	}
	a.Phase = auction.Phase(phase)
	if closedAt.Valid {
		a.ClosedAt = closedAt.Time
	}
	if settledAt.Valid {
		a.SettledAt = settledAt.Time
	}
	bids, err := decodeBids(bidsRaw)
	if err != nil {
		return auction.Auction{}, err
	}
	a.Bids = bids
	return a, nil
}

func (s *Store) ListAuctions(ctx context.Context) ([]auction.Auction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, phase, winner, bids, opened_at, closed_at, settled_at
		FROM auctions
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auction.Auction
	for rows.Next() {
		a, err := scanAuction(rows.Scan, "")
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// --- ReputationStore --------------------------------------------------------

func (s *Store) GetScore(ctx context.Context, solver string) (reputation.Score, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT solver, value, updated_at
		FROM reputation_scores
		WHERE solver = $1
	`, solver)

	var sc reputation.Score
	if err := row.Scan(&sc.Solver, &sc.Value, &sc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return reputation.Score{Solver: solver}, nil
		}
		return reputation.Score{}, err
	}
	return sc, nil
}

func (s *Store) SetScore(ctx context.Context, score reputation.Score) (reputation.Score, error) {
	if score.UpdatedAt.IsZero() {
		score.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reputation_scores (solver, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (solver) DO UPDATE SET value = $2, updated_at = $3
	`, score.Solver, score.Value, score.UpdatedAt)
	if err != nil {
		return reputation.Score{}, err
	}
	return score, nil
}

func (s *Store) ListScores(ctx context.Context) ([]reputation.Score, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT solver, value, updated_at
		FROM reputation_scores
		ORDER BY solver
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []reputation.Score
	for rows.Next() {
		var sc reputation.Score
		if err := rows.Scan(&sc.Solver, &sc.Value, &sc.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, sc)
	}
	return result, rows.Err()
}

func (s *Store) AppendSlash(ctx context.Context, slash reputation.Slash) error {
	if slash.At.IsZero() {
		slash.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reputation_slashes (solver, magnitude, at)
		VALUES ($1, $2, $3)
	`, slash.Solver, slash.Magnitude, slash.At)
	return err
}

func (s *Store) ListSlashes(ctx context.Context, solver string) ([]reputation.Slash, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT solver, magnitude, at
		FROM reputation_slashes
		WHERE solver = $1
		ORDER BY id
	`, solver)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []reputation.Slash
	for rows.Next() {
		var slash reputation.Slash
		if err := rows.Scan(&slash.Solver, &slash.Magnitude, &slash.At); err != nil {
			return nil, err
		}
		result = append(result, slash)
	}
	return result, rows.Err()
}

// --- IdentityStore ----------------------------------------------------------

func bigToText(v *big.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}

func textToBig(v sql.NullString) (*big.Int, error) {
	if !v.Valid {
		return nil, nil
	}
	out, ok := new(big.Int).SetString(v.String, 10)
	if !ok {
		return nil, fmt.Errorf("malformed integer %q", v.String)
	}
	return out, nil
}

func (s *Store) PutIdentity(ctx context.Context, id identity.Identity) (identity.Identity, error) {
	if id.UpdatedAt.IsZero() {
		id.UpdatedAt = time.Now().UTC()
	}
	var keyAX, keyAY interface{}
	if id.KeyA != nil {
		keyAX, keyAY = bigToText(id.KeyA.X), bigToText(id.KeyA.Y)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (solver, key_a_x, key_a_y, key_b_x, key_b_y, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (solver) DO UPDATE
		SET key_a_x = $2, key_a_y = $3, key_b_x = $4, key_b_y = $5, updated_at = $6
	`, id.Solver, keyAX, keyAY, bigToText(id.KeyBX), bigToText(id.KeyBY), id.UpdatedAt)
	if err != nil {
		return identity.Identity{}, err
	}
	return id.Clone(), nil
}

func (s *Store) GetIdentity(ctx context.Context, solver string) (identity.Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT solver, key_a_x, key_a_y, key_b_x, key_b_y, updated_at
		FROM identities
		WHERE solver = $1
	`, solver)
	return scanIdentity(row.Scan, solver)
}

func scanIdentity(scan func(...interface{}) error, solver string) (identity.Identity, error) {
	var (
		id                         identity.Identity
		keyAX, keyAY, keyBX, keyBY sql.NullString
	)
	if err := scan(&id.Solver, &keyAX, &keyAY, &keyBX, &keyBY, &id.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity.Identity{}, apperrors.NotFound("identity %s", solver)
		}
		return identity.Identity{}, err
	}

	x, err := textToBig(keyAX)
	if err != nil {
		return identity.Identity{}, err
	}
	y, err := textToBig(keyAY)
	if err != nil {
		return identity.Identity{}, err
	}
	if x != nil && y != nil {
		id.KeyA = &identity.G1Point{X: x, Y: y}
	}
	if id.KeyBX, err = textToBig(keyBX); err != nil {
		return identity.Identity{}, err
	}
	if id.KeyBY, err = textToBig(keyBY); err != nil {
		return identity.Identity{}, err
	}
	return id, nil
}

func (s *Store) ListIdentities(ctx context.Context) ([]identity.Identity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT solver, key_a_x, key_a_y, key_b_x, key_b_y, updated_at
		FROM identities
		ORDER BY solver
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []identity.Identity
	for rows.Next() {
		id, err := scanIdentity(rows.Scan, "")
		if err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

// --- TreasuryStore ----------------------------------------------------------

func (s *Store) GetBalance(ctx context.Context, token, owner string) (treasury.Balance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, owner, amount, updated_at
		FROM balances
		WHERE token = $1 AND owner = $2
	`, token, owner)

	var (
		bal    treasury.Balance
		amount string
	)
	if err := row.Scan(&bal.Token, &bal.Owner, &amount, &bal.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return treasury.Balance{Token: token, Owner: owner}, nil
		}
		return treasury.Balance{}, err
	}
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return treasury.Balance{}, fmt.Errorf("malformed balance %q", amount)
	}
	bal.Amount = value
	return bal, nil
}

func (s *Store) SetBalance(ctx context.Context, bal treasury.Balance) (treasury.Balance, error) {
	if bal.UpdatedAt.IsZero() {
		bal.UpdatedAt = time.Now().UTC()
	}
	amount := "0"
	if bal.Amount != nil {
		amount = bal.Amount.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balances (token, owner, amount, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token, owner) DO UPDATE SET amount = $3, updated_at = $4
	`, bal.Token, bal.Owner, amount, bal.UpdatedAt)
	if err != nil {
		return treasury.Balance{}, err
	}
	return bal.Clone(), nil
}

func (s *Store) ListBalances(ctx context.Context, owner string) ([]treasury.Balance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, owner, amount, updated_at
		FROM balances
		WHERE owner = $1
		ORDER BY token
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []treasury.Balance
	for rows.Next() {
		var (
			bal    treasury.Balance
			amount string
		)
		if err := rows.Scan(&bal.Token, &bal.Owner, &amount, &bal.UpdatedAt); err != nil {
			return nil, err
		}
		value, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("malformed balance %q", amount)
		}
		bal.Amount = value
		result = append(result, bal)
	}
	return result, rows.Err()
}

func (s *Store) GetCompliance(ctx context.Context, entity string) (treasury.ComplianceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entity, flags, updated_at
		FROM compliance
		WHERE entity = $1
	`, entity)

	var (
		rec   treasury.ComplianceRecord
		flags int64
	)
	if err := row.Scan(&rec.Entity, &flags, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return treasury.ComplianceRecord{Entity: entity}, nil
		}
		return treasury.ComplianceRecord{}, err
	}
	rec.Flags = uint64(flags)
	return rec, nil
}

func (s *Store) SetCompliance(ctx context.Context, rec treasury.ComplianceRecord) (treasury.ComplianceRecord, error) {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO compliance (entity, flags, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (entity) DO UPDATE SET flags = $2, updated_at = $3
	`, rec.Entity, int64(rec.Flags), rec.UpdatedAt)
	if err != nil {
		return treasury.ComplianceRecord{}, err
	}
	return rec, nil
}
