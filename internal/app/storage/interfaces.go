package storage

import (
	"context"

	"github.com/solvernet-labs/intent_layer/internal/app/domain/auction"
	"github.com/solvernet-labs/intent_layer/internal/app/domain/identity"
	"github.com/solvernet-labs/intent_layer/internal/app/domain/intent"
	"github.com/solvernet-labs/intent_layer/internal/app/domain/reputation"
	"github.com/solvernet-labs/intent_layer/internal/app/domain/treasury"
)

// IntentStore persists submitted intents. PutIntent overwrites an unresolved
// intent with the same id; SetResolver records the resolving solver exactly
// once.
type IntentStore interface {
	PutIntent(ctx context.Context, it intent.Intent) (intent.Intent, error)
	GetIntent(ctx context.Context, id string) (intent.Intent, error)
	SetResolver(ctx context.Context, id, solver string) (intent.Intent, error)
	ListIntents(ctx context.Context) ([]intent.Intent, error)
}

// AuctionStore persists auction state including sealed bids.
type AuctionStore interface {
	PutAuction(ctx context.Context, a auction.Auction) (auction.Auction, error)
	GetAuction(ctx context.Context, id string) (auction.Auction, error)
	ListAuctions(ctx context.Context) ([]auction.Auction, error)
}

// ReputationStore persists solver trust scores and slash records. A missing
// score reads as zero, not as an error.
type ReputationStore interface {
	GetScore(ctx context.Context, solver string) (reputation.Score, error)
	SetScore(ctx context.Context, score reputation.Score) (reputation.Score, error)
	ListScores(ctx context.Context) ([]reputation.Score, error)
	AppendSlash(ctx context.Context, slash reputation.Slash) error
	ListSlashes(ctx context.Context, solver string) ([]reputation.Slash, error)
}

// IdentityStore persists registered solver key material.
type IdentityStore interface {
	PutIdentity(ctx context.Context, id identity.Identity) (identity.Identity, error)
	GetIdentity(ctx context.Context, solver string) (identity.Identity, error)
	ListIdentities(ctx context.Context) ([]identity.Identity, error)
}

// TreasuryStore persists balances and compliance bitmasks.
type TreasuryStore interface {
	GetBalance(ctx context.Context, token, owner string) (treasury.Balance, error)
	SetBalance(ctx context.Context, bal treasury.Balance) (treasury.Balance, error)
	ListBalances(ctx context.Context, owner string) ([]treasury.Balance, error)

	GetCompliance(ctx context.Context, entity string) (treasury.ComplianceRecord, error)
	SetCompliance(ctx context.Context, rec treasury.ComplianceRecord) (treasury.ComplianceRecord, error)
}
