package treasury

import (
	"context"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	domain "github.com/solvernet-labs/intent_layer/internal/app/domain/treasury"
	"github.com/solvernet-labs/intent_layer/internal/app/storage/memory"
)

func TestPoolProviderCoverage(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	p := NewPoolProvider("main", store)

	if _, err := store.SetBalance(ctx, domain.Balance{Token: "usdc", Owner: p.PoolOwner(), Amount: big.NewInt(5000)}); err != nil {
		t.Fatalf("seed pool: %v", err)
	}

	if err := p.FlashLoan(ctx, "usdc", big.NewInt(5000), nil); err != nil {
		t.Fatalf("covered loan: %v", err)
	}
	if err := p.FlashLoan(ctx, "usdc", big.NewInt(5001), nil); err == nil {
		t.Fatal("uncovered loan approved")
	}
	if err := p.FlashLoan(ctx, "weth", big.NewInt(1), nil); err == nil {
		t.Fatal("loan in unfunded token approved")
	}
}

func TestHTTPProvider(t *testing.T) {
	var gotBody []byte
	refuse := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		if refuse {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider("remote", srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	ctx := context.Background()
	if err := p.FlashLoan(ctx, "usdc", big.NewInt(1<<20), []byte(`{"route":"a"}`)); err != nil {
		t.Fatalf("accepted loan: %v", err)
	}
	if len(gotBody) == 0 {
		t.Fatal("provider sent no request body")
	}

	refuse = true
	if err := p.FlashLoan(ctx, "usdc", big.NewInt(1<<20), nil); err == nil {
		t.Fatal("refused loan reported as success")
	}
}

func TestNewHTTPProviderValidation(t *testing.T) {
	if _, err := NewHTTPProvider("remote", nil, "  "); err == nil {
		t.Fatal("blank endpoint accepted")
	}
}
