package resolution

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	intentdomain "github.com/solvernet-labs/intent_layer/internal/app/domain/intent"
	apperrors "github.com/solvernet-labs/intent_layer/internal/errors"
)

// StateAccess is the capability surface a solver action executes against.
// It exposes a bounded operation set instead of raw engine state: the action
// can inspect the intent, emit result records and move pre-escrowed funds.
// Everything it does is staged and only persists if the whole resolution
// succeeds.
type StateAccess interface {
	// Intent returns a copy of the intent being resolved.
	Intent() intentdomain.Intent

	// Payload returns the solver-supplied exec data.
	Payload() []byte

	// EmitResult records a named result blob for the resolution record.
	EmitResult(key, value string) error

	// TransferEscrow moves pre-escrowed funds between treasury owners.
	// Overdrafts are rejected at staging time.
	TransferEscrow(token, from, to string, amount *big.Int) error

	// Balance reads a treasury balance as the action currently sees it,
	// staged transfers included.
	Balance(token, owner string) (*big.Int, error)
}

// SolverAction is the procedure invoked at resolution time on behalf of the
// designated solver.
type SolverAction interface {
	Execute(ctx context.Context, state StateAccess) error
}

// ActionFunc adapts a function to SolverAction.
type ActionFunc func(ctx context.Context, state StateAccess) error

func (f ActionFunc) Execute(ctx context.Context, state StateAccess) error { return f(ctx, state) }

// Registry maps action names to registered solver actions. Only registered
// actions can run; an unknown name fails the resolution.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]SolverAction
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]SolverAction)}
}

// Register adds or replaces a named action.
func (r *Registry) Register(name string, action SolverAction) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("action name is required")
	}
	if action == nil {
		return fmt.Errorf("action is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = action
	return nil
}

// Lookup returns the named action.
func (r *Registry) Lookup(name string) (SolverAction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	action, ok := r.actions[name]
	return action, ok
}

// stateAccess is the staged StateAccess implementation handed to actions.
type stateAccess struct {
	ctx     context.Context
	intent  intentdomain.Intent
	payload []byte
	stage   *stage
	results map[string]string
}

var _ StateAccess = (*stateAccess)(nil)

func newStateAccess(ctx context.Context, it intentdomain.Intent, payload []byte, st *stage) *stateAccess {
	cp := it
	cp.Payload = append([]byte(nil), it.Payload...)
	return &stateAccess{
		ctx:     ctx,
		intent:  cp,
		payload: append([]byte(nil), payload...),
		stage:   st,
		results: make(map[string]string),
	}
}

func (a *stateAccess) Intent() intentdomain.Intent { return a.intent }

func (a *stateAccess) Payload() []byte { return a.payload }

func (a *stateAccess) EmitResult(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("result key is required")
	}
	a.results[key] = value
	return nil
}

func (a *stateAccess) TransferEscrow(token, from, to string, amount *big.Int) error {
	if token == "" || from == "" || to == "" {
		return fmt.Errorf("token, from and to are required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	// A self-transfer would stage the debit and then overwrite it with the
	// credit, minting amount out of nothing.
	if from == to {
		return fmt.Errorf("from and to must differ")
	}

	src, err := a.stage.getBalance(a.ctx, token, from)
	if err != nil {
		return err
	}
	have := src.Amount
	if have == nil {
		have = new(big.Int)
	}
	if have.Cmp(amount) < 0 {
		return apperrors.ExecutionFailed("insufficient escrow: %s has %s %s, need %s", from, have, token, amount)
	}

	dst, err := a.stage.getBalance(a.ctx, token, to)
	if err != nil {
		return err
	}
	dstAmount := new(big.Int)
	if dst.Amount != nil {
		dstAmount.Set(dst.Amount)
	}

	src.Amount = new(big.Int).Sub(have, amount)
	dst.Amount = dstAmount.Add(dstAmount, amount)
	dst.Token, dst.Owner = token, to
	a.stage.setBalance(src)
	a.stage.setBalance(dst)
	return nil
}

func (a *stateAccess) Balance(token, owner string) (*big.Int, error) {
	bal, err := a.stage.getBalance(a.ctx, token, owner)
	if err != nil {
		return nil, err
	}
	if bal.Amount == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(bal.Amount), nil
}

// resultFields flattens emitted results for the resolution event, keys
// sorted for stable output.
func (a *stateAccess) resultFields() map[string]interface{} {
	if len(a.results) == 0 {
		return nil
	}
	keys := make([]string, 0, len(a.results))
	for key := range a.results {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make(map[string]interface{}, len(keys))
	for _, key := range keys {
		out[key] = a.results[key]
	}
	return out
}
