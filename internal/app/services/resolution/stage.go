package resolution

import (
	"context"
	"sort"

	intentdomain "github.com/solvernet-labs/intent_layer/internal/app/domain/intent"
	repdomain "github.com/solvernet-labs/intent_layer/internal/app/domain/reputation"
	treasurydomain "github.com/solvernet-labs/intent_layer/internal/app/domain/treasury"
	"github.com/solvernet-labs/intent_layer/internal/app/events"
	"github.com/solvernet-labs/intent_layer/internal/app/storage"
	apperrors "github.com/solvernet-labs/intent_layer/internal/errors"
)

// stage is a write-staging view over the coordinator's stores. Reads see
// staged writes first, then fall through to the base stores; nothing touches
// the base until Commit. Dropping a stage without committing is how a failed
// resolution (or a failed batch tuple) leaves zero persisted mutation.
// Events publish into the stage too, so aborted work emits nothing.
type stage struct {
	intents    storage.IntentStore
	treasury   storage.TreasuryStore
	reputation storage.ReputationStore
	sink       events.Sink

	resolvers map[string]string // intent id -> solver
	balances  map[string]treasurydomain.Balance
	scores    map[string]repdomain.Score
	slashes   []repdomain.Slash
	pending   []events.Event
}

func newStage(intents storage.IntentStore, treasury storage.TreasuryStore, rep storage.ReputationStore, sink events.Sink) *stage {
	return &stage{
		intents:    intents,
		treasury:   treasury,
		reputation: rep,
		sink:       sink,
		resolvers:  make(map[string]string),
		balances:   make(map[string]treasurydomain.Balance),
		scores:     make(map[string]repdomain.Score),
	}
}

var _ storage.ReputationStore = (*stage)(nil)
var _ events.Sink = (*stage)(nil)

func stageBalanceKey(token, owner string) string { return token + "\x00" + owner }

// Intent reads -----------------------------------------------------------

func (st *stage) getIntent(ctx context.Context, id string) (intentdomain.Intent, error) {
	it, err := st.intents.GetIntent(ctx, id)
	if err != nil {
		return intentdomain.Intent{}, err
	}
	if solver, ok := st.resolvers[id]; ok {
		it.Resolver = solver
	}
	return it, nil
}

func (st *stage) stageResolver(id, solver string) {
	st.resolvers[id] = solver
}

// Treasury ---------------------------------------------------------------

func (st *stage) getBalance(ctx context.Context, token, owner string) (treasurydomain.Balance, error) {
	if bal, ok := st.balances[stageBalanceKey(token, owner)]; ok {
		return bal.Clone(), nil
	}
	return st.treasury.GetBalance(ctx, token, owner)
}

func (st *stage) setBalance(bal treasurydomain.Balance) {
	st.balances[stageBalanceKey(bal.Token, bal.Owner)] = bal.Clone()
}

// ReputationStore --------------------------------------------------------

func (st *stage) GetScore(ctx context.Context, solver string) (repdomain.Score, error) {
	if sc, ok := st.scores[solver]; ok {
		return sc, nil
	}
	return st.reputation.GetScore(ctx, solver)
}

func (st *stage) SetScore(_ context.Context, score repdomain.Score) (repdomain.Score, error) {
	st.scores[score.Solver] = score
	return score, nil
}

func (st *stage) ListScores(ctx context.Context) ([]repdomain.Score, error) {
	base, err := st.reputation.ListScores(ctx)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]repdomain.Score, len(base)+len(st.scores))
	for _, sc := range base {
		merged[sc.Solver] = sc
	}
	for solver, sc := range st.scores {
		merged[solver] = sc
	}
	out := make([]repdomain.Score, 0, len(merged))
	for _, sc := range merged {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Solver < out[j].Solver })
	return out, nil
}

func (st *stage) AppendSlash(_ context.Context, slash repdomain.Slash) error {
	st.slashes = append(st.slashes, slash)
	return nil
}

func (st *stage) ListSlashes(ctx context.Context, solver string) ([]repdomain.Slash, error) {
	out, err := st.reputation.ListSlashes(ctx, solver)
	if err != nil {
		return nil, err
	}
	for _, slash := range st.slashes {
		if slash.Solver == solver {
			out = append(out, slash)
		}
	}
	return out, nil
}

// Events -----------------------------------------------------------------

func (st *stage) Publish(evt events.Event) {
	st.pending = append(st.pending, evt)
}

// Commit applies all staged writes to the base stores in deterministic order
// and then releases the pending events. Store writes here are plain key
// updates pre-validated during staging; under the coordinator's single-writer
// guard they do not conflict.
func (st *stage) commit(ctx context.Context) error {
	ids := make([]string, 0, len(st.resolvers))
	for id := range st.resolvers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := st.intents.SetResolver(ctx, id, st.resolvers[id]); err != nil {
			return apperrors.ExecutionFailedWrap(err, "commit resolver for intent %s", id)
		}
	}

	keys := make([]string, 0, len(st.balances))
	for key := range st.balances {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, err := st.treasury.SetBalance(ctx, st.balances[key]); err != nil {
			return apperrors.ExecutionFailedWrap(err, "commit balance")
		}
	}

	solvers := make([]string, 0, len(st.scores))
	for solver := range st.scores {
		solvers = append(solvers, solver)
	}
	sort.Strings(solvers)
	for _, solver := range solvers {
		if _, err := st.reputation.SetScore(ctx, st.scores[solver]); err != nil {
			return apperrors.ExecutionFailedWrap(err, "commit score for %s", solver)
		}
	}
	for _, slash := range st.slashes {
		if err := st.reputation.AppendSlash(ctx, slash); err != nil {
			return apperrors.ExecutionFailedWrap(err, "commit slash for %s", slash.Solver)
		}
	}

	for _, evt := range st.pending {
		if st.sink != nil {
			st.sink.Publish(evt)
		}
	}
	return nil
}
