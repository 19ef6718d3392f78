package resolution

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/dop251/goja"
	"github.com/tidwall/gjson"

	apperrors "github.com/solvernet-labs/intent_layer/internal/errors"
)

// jsTimeBudget bounds a single script run. Scripts that spin past it are
// interrupted and the resolution aborts.
const jsTimeBudget = 250 * time.Millisecond

// JSAction runs a JavaScript program inside a goja sandbox with the bounded
// StateAccess host API. The script sees no filesystem, network or clock;
// only the `engine` object below. This is the sandboxed-interpreter take on
// delegated execution: solver logic stays expressive, engine state stays
// behind capabilities.
type JSAction struct {
	script string
}

var _ SolverAction = (*JSAction)(nil)

// NewJSAction wraps a script. The script's top-level code runs once per
// resolution; throwing aborts the resolution.
func NewJSAction(script string) (*JSAction, error) {
	if script == "" {
		return nil, fmt.Errorf("script is required")
	}
	// Compile early so registration surfaces syntax errors, not resolutions.
	if _, err := goja.Compile("action", script, true); err != nil {
		return nil, fmt.Errorf("compile action script: %w", err)
	}
	return &JSAction{script: script}, nil
}

// Execute runs the script against the staged state.
func (a *JSAction) Execute(ctx context.Context, state StateAccess) error {
	vm := goja.New()

	payload := string(state.Payload())
	engine := vm.NewObject()

	must := func(err error) {
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
	}

	must(engine.Set("payload", func() string { return payload }))
	must(engine.Set("field", func(path string) goja.Value {
		res := gjson.Get(payload, path)
		if !res.Exists() {
			return goja.Undefined()
		}
		return vm.ToValue(res.Value())
	}))
	must(engine.Set("intentId", func() string { return state.Intent().ID }))
	must(engine.Set("emit", func(key, value string) {
		if err := state.EmitResult(key, value); err != nil {
			panic(vm.ToValue(err.Error()))
		}
	}))
	must(engine.Set("balance", func(token, owner string) string {
		bal, err := state.Balance(token, owner)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return bal.String()
	}))
	must(engine.Set("transfer", func(token, from, to, amount string) {
		value, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			panic(vm.ToValue("invalid transfer amount: " + amount))
		}
		if err := state.TransferEscrow(token, from, to, value); err != nil {
			panic(vm.ToValue(err.Error()))
		}
	}))
	must(vm.Set("engine", engine))

	timer := time.AfterFunc(jsTimeBudget, func() {
		vm.Interrupt("execution budget exceeded")
	})
	defer timer.Stop()

	done := make(chan error, 1)
	go func() {
		_, err := vm.RunString(a.script)
		done <- err
	}()

	select {
	case <-ctx.Done():
		vm.Interrupt("context cancelled")
		<-done
		return apperrors.ExecutionFailedWrap(ctx.Err(), "script cancelled")
	case err := <-done:
		if err != nil {
			return apperrors.ExecutionFailedWrap(err, "script execution")
		}
		return nil
	}
}
