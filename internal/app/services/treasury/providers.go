package treasury

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/solvernet-labs/intent_layer/internal/app/storage"
)

// PoolProvider serves flashloans from liquidity recorded in the treasury
// store under a reserved pool owner. It never mutates the pool; a loan is
// approved when the pool could cover it.
type PoolProvider struct {
	name  string
	store storage.TreasuryStore
}

var _ Provider = (*PoolProvider)(nil)

// NewPoolProvider creates a provider backed by the balances of owner
// "pool:<name>".
func NewPoolProvider(name string, store storage.TreasuryStore) *PoolProvider {
	return &PoolProvider{name: name, store: store}
}

func (p *PoolProvider) Name() string { return p.name }

// PoolOwner is the balance owner holding this pool's liquidity.
func (p *PoolProvider) PoolOwner() string { return "pool:" + p.name }

func (p *PoolProvider) FlashLoan(ctx context.Context, token string, amount *big.Int, _ []byte) error {
	bal, err := p.store.GetBalance(ctx, token, p.PoolOwner())
	if err != nil {
		return err
	}
	have := bal.Amount
	if have == nil {
		have = new(big.Int)
	}
	if have.Cmp(amount) < 0 {
		return fmt.Errorf("pool %s holds %s %s, need %s", p.name, have, token, amount)
	}
	return nil
}

// HTTPProvider forwards loan requests to an external liquidity endpoint.
// Any non-2xx response is a refusal.
type HTTPProvider struct {
	name     string
	client   *http.Client
	endpoint string
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider creates a provider posting to the given endpoint.
func NewHTTPProvider(name string, client *http.Client, endpoint string) (*HTTPProvider, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{name: name, client: client, endpoint: endpoint}, nil
}

func (p *HTTPProvider) Name() string { return p.name }

func (p *HTTPProvider) FlashLoan(ctx context.Context, token string, amount *big.Int, data []byte) error {
	body, err := json.Marshal(map[string]interface{}{
		"token":  token,
		"amount": amount.String(),
		"data":   json.RawMessage(normalizeJSON(data)),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider %s refused loan: status %d", p.name, resp.StatusCode)
	}
	return nil
}

func normalizeJSON(data []byte) []byte {
	if len(data) == 0 || !json.Valid(data) {
		return []byte("null")
	}
	return data
}
