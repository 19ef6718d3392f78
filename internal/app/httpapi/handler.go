package httpapi

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	app "github.com/solvernet-labs/intent_layer/internal/app"
	auctiondomain "github.com/solvernet-labs/intent_layer/internal/app/domain/auction"
	identitydomain "github.com/solvernet-labs/intent_layer/internal/app/domain/identity"
	intentdomain "github.com/solvernet-labs/intent_layer/internal/app/domain/intent"
	"github.com/solvernet-labs/intent_layer/internal/app/metrics"
	apperrors "github.com/solvernet-labs/intent_layer/internal/errors"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app     *app.Application
	limiter *rate.Limiter
}

// Config tunes the API surface.
type Config struct {
	// RateLimit is the sustained request rate; RateBurst the burst bucket.
	// Zero disables limiting.
	RateLimit float64
	RateBurst int
}

// NewHandler returns a mux exposing the core REST API.
func NewHandler(application *app.Application, cfg Config) http.Handler {
	h := &handler{app: application}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit)
		}
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.health)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/events", h.events)
	mux.HandleFunc("/solvers", h.solvers)
	mux.HandleFunc("/solvers/", h.solverResources)
	mux.HandleFunc("/intents", h.intents)
	mux.HandleFunc("/intents/", h.intentResources)
	mux.HandleFunc("/auctions", h.auctions)
	mux.HandleFunc("/auctions/", h.auctionResources)
	mux.HandleFunc("/treasury/", h.treasury)
	return h.limit(metrics.InstrumentHandler("api", mux))
}

func (h *handler) limit(next http.Handler) http.Handler {
	if h.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	recent := h.app.Bus.Recent()
	out := make([]map[string]interface{}, 0, len(recent))
	for _, evt := range recent {
		out = append(out, map[string]interface{}{
			"type":   string(evt.Type),
			"at":     evt.At,
			"fields": evt.Fields,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// --- solvers ----------------------------------------------------------------

type solverView struct {
	Solver     string `json:"solver"`
	KeyAX      string `json:"key_a_x,omitempty"`
	KeyAY      string `json:"key_a_y,omitempty"`
	KeyBX      string `json:"key_b_x,omitempty"`
	KeyBY      string `json:"key_b_y,omitempty"`
	Reputation int64  `json:"reputation"`
}

func (h *handler) solverView(r *http.Request, id identitydomain.Identity) solverView {
	view := solverView{Solver: id.Solver}
	if id.KeyA != nil {
		view.KeyAX, view.KeyAY = id.KeyA.X.String(), id.KeyA.Y.String()
	}
	if id.KeyBX != nil && id.KeyBY != nil {
		view.KeyBX, view.KeyBY = id.KeyBX.String(), id.KeyBY.String()
	}
	if score, err := h.app.Reputation.Score(r.Context(), id.Solver); err == nil {
		view.Reputation = score.Value
	}
	return view
}

func (h *handler) solvers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ids, err := h.app.Identity.List(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	out := make([]solverView, 0, len(ids))
	for _, id := range ids {
		out = append(out, h.solverView(r, id))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) solverResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/solvers"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	solver := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id, err := h.app.Identity.Get(r.Context(), solver)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, h.solverView(r, id))
		return
	}

	switch parts[1] {
	case "keys":
		h.solverKeys(w, r, solver, parts[2:])
	case "reputation":
		h.solverReputation(w, r, solver)
	case "slashes":
		h.solverSlashes(w, r, solver)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) solverKeys(w http.ResponseWriter, r *http.Request, solver string, rest []string) {
	if r.Method != http.MethodPost || len(rest) != 1 {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		X string `json:"x"`
		Y string `json:"y"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	x, okX := new(big.Int).SetString(payload.X, 10)
	y, okY := new(big.Int).SetString(payload.Y, 10)
	if !okX || !okY {
		writeError(w, http.StatusBadRequest, errors.New("x and y must be decimal integers"))
		return
	}

	switch rest[0] {
	case "scheme-a":
		id, err := h.app.Identity.RegisterKeyA(r.Context(), solver, identitydomain.G1Point{X: x, Y: y})
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, h.solverView(r, id))
	case "scheme-b":
		id, err := h.app.Identity.RegisterKeyB(r.Context(), solver, x, y)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, h.solverView(r, id))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) solverReputation(w http.ResponseWriter, r *http.Request, solver string) {
	switch r.Method {
	case http.MethodGet:
		score, err := h.app.Reputation.Score(r.Context(), solver)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"solver": solver,
			"value":  score.Value,
		})
	case http.MethodPut:
		var payload struct {
			Value int64 `json:"value"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		score, err := h.app.Reputation.AdminSet(r.Context(), solver, payload.Value)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"solver": solver,
			"value":  score.Value,
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) solverSlashes(w http.ResponseWriter, r *http.Request, solver string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	slashes, err := h.app.Reputation.Slashes(r.Context(), solver)
	if err != nil {
		writeAppError(w, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(slashes))
	for _, slash := range slashes {
		out = append(out, map[string]interface{}{
			"solver":    slash.Solver,
			"magnitude": slash.Magnitude,
			"at":        slash.At,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// --- intents ----------------------------------------------------------------

func (h *handler) intents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			ID      string          `json:"id"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		it, err := h.app.Resolution.Submit(r.Context(), payload.ID, payload.Payload)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, intentView(it))
	case http.MethodGet:
		list, err := h.app.Resolution.List(r.Context())
		if err != nil {
			writeAppError(w, err)
			return
		}
		out := make([]map[string]interface{}, 0, len(list))
		for _, it := range list {
			out = append(out, intentView(it))
		}
		writeJSON(w, http.StatusOK, out)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) intentResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/intents"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if parts[0] == "resolve-batch" {
		h.batchResolve(w, r)
		return
	}

	intentID := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		it, err := h.app.Resolution.Intent(r.Context(), intentID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, intentView(it))
		return
	}

	switch parts[1] {
	case "resolve":
		h.resolve(w, r, intentID)
	case "resolve-auction":
		h.resolveAuction(w, r, intentID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) resolve(w http.ResponseWriter, r *http.Request, intentID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Solver   string          `json:"solver"`
		ExecData json.RawMessage `json:"exec_data"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Resolution.Resolve(r.Context(), intentID, payload.Solver, payload.ExecData); err != nil {
		writeAppError(w, err)
		return
	}
	it, err := h.app.Resolution.Intent(r.Context(), intentID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intentView(it))
}

func (h *handler) resolveAuction(w http.ResponseWriter, r *http.Request, intentID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		AuctionID string          `json:"auction_id"`
		ExecData  json.RawMessage `json:"exec_data"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Resolution.ResolveAuctionWinner(r.Context(), payload.AuctionID, intentID, payload.ExecData); err != nil {
		writeAppError(w, err)
		return
	}
	it, err := h.app.Resolution.Intent(r.Context(), intentID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intentView(it))
}

func (h *handler) batchResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Tuples []struct {
			IntentID string          `json:"intent_id"`
			Solver   string          `json:"solver"`
			ExecData json.RawMessage `json:"exec_data"`
		} `json:"tuples"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ids := make([]string, len(payload.Tuples))
	solvers := make([]string, len(payload.Tuples))
	execDatas := make([][]byte, len(payload.Tuples))
	for i, tuple := range payload.Tuples {
		ids[i], solvers[i], execDatas[i] = tuple.IntentID, tuple.Solver, tuple.ExecData
	}

	batchID, err := h.app.Resolution.BatchResolve(r.Context(), ids, solvers, execDatas)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batch_id": batchID,
		"tuples":   len(ids),
	})
}

func intentView(it intentdomain.Intent) map[string]interface{} {
	out := map[string]interface{}{
		"id":           it.ID,
		"payload":      json.RawMessage(it.Payload),
		"submitted_at": it.SubmittedAt,
	}
	if it.Resolved() {
		out["resolver"] = it.Resolver
		out["resolved_at"] = it.ResolvedAt
	}
	return out
}

// --- auctions ---------------------------------------------------------------

func (h *handler) auctions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		a, err := h.app.Auctions.Open(r.Context(), payload.ID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, auctionView(a))
	case http.MethodGet:
		list, err := h.app.Auctions.List(r.Context())
		if err != nil {
			writeAppError(w, err)
			return
		}
		out := make([]map[string]interface{}, 0, len(list))
		for _, a := range list {
			out = append(out, auctionView(a))
		}
		writeJSON(w, http.StatusOK, out)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) auctionResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/auctions"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	auctionID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		a, err := h.app.Auctions.Get(r.Context(), auctionID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, auctionView(a))
		return
	}

	switch parts[1] {
	case "close":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		a, err := h.app.Auctions.Close(r.Context(), auctionID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, auctionView(a))
	case "bids":
		h.commitBid(w, r, auctionID)
	case "reveals":
		h.revealBid(w, r, auctionID)
	case "settle":
		h.settle(w, r, auctionID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) commitBid(w http.ResponseWriter, r *http.Request, auctionID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Solver     string `json:"solver"`
		CommitHash string `json:"commit_hash"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	raw, err := hex.DecodeString(payload.CommitHash)
	if err != nil || len(raw) != 32 {
		writeError(w, http.StatusBadRequest, errors.New("commit_hash must be 32 hex-encoded bytes"))
		return
	}
	var hash [32]byte
	copy(hash[:], raw)

	if err := h.app.Auctions.Commit(r.Context(), auctionID, payload.Solver, hash); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) revealBid(w http.ResponseWriter, r *http.Request, auctionID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Solver string `json:"solver"`
		Value  string `json:"value"`
		Salt   string `json:"salt"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	value, ok := new(big.Int).SetString(payload.Value, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("value must be a decimal integer"))
		return
	}
	salt, err := hex.DecodeString(payload.Salt)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("salt must be hex encoded"))
		return
	}

	if err := h.app.Auctions.Reveal(r.Context(), auctionID, payload.Solver, value, salt); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) settle(w http.ResponseWriter, r *http.Request, auctionID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Candidates []string `json:"candidates"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	winner, err := h.app.Auctions.Settle(r.Context(), auctionID, payload.Candidates)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"winner": winner})
}

func auctionView(a auctiondomain.Auction) map[string]interface{} {
	bids := make(map[string]interface{}, len(a.Bids))
	for solver, bid := range a.Bids {
		view := map[string]interface{}{
			"commit_hash": hex.EncodeToString(bid.CommitHash[:]),
			"revealed":    bid.Revealed,
		}
		if bid.Revealed && bid.RevealValue != nil {
			view["value"] = bid.RevealValue.String()
		}
		bids[solver] = view
	}
	out := map[string]interface{}{
		"id":    a.ID,
		"phase": string(a.Phase),
		"bids":  bids,
	}
	if a.Winner != "" {
		out["winner"] = a.Winner
	}
	return out
}

// --- treasury ---------------------------------------------------------------

func (h *handler) treasury(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/treasury"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch parts[0] {
	case "deposits":
		h.treasuryMove(w, r, true)
	case "withdrawals":
		h.treasuryMove(w, r, false)
	case "balances":
		h.treasuryBalance(w, r, parts[1:])
	case "flashloans":
		h.flashloan(w, r)
	case "compliance":
		h.compliance(w, r, parts[1:])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) treasuryMove(w http.ResponseWriter, r *http.Request, deposit bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Actor  string `json:"actor"`
		Token  string `json:"token"`
		Owner  string `json:"owner"`
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, ok := new(big.Int).SetString(payload.Amount, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("amount must be a decimal integer"))
		return
	}

	move := h.app.Treasury.Withdraw
	if deposit {
		move = h.app.Treasury.Deposit
	}
	bal, err := move(r.Context(), payload.Actor, payload.Token, payload.Owner, amount)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":  bal.Token,
		"owner":  bal.Owner,
		"amount": bal.Amount.String(),
	})
}

func (h *handler) treasuryBalance(w http.ResponseWriter, r *http.Request, rest []string) {
	if r.Method != http.MethodGet || len(rest) != 2 {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	token, owner := rest[0], rest[1]
	bal, err := h.app.Treasury.Balance(r.Context(), token, owner)
	if err != nil {
		writeAppError(w, err)
		return
	}
	amount := "0"
	if bal.Amount != nil {
		amount = bal.Amount.String()
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":  token,
		"owner":  owner,
		"amount": amount,
	})
}

func (h *handler) flashloan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Token  string          `json:"token"`
		Amount string          `json:"amount"`
		Data   json.RawMessage `json:"data"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, ok := new(big.Int).SetString(payload.Amount, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("amount must be a decimal integer"))
		return
	}
	if err := h.app.Treasury.FlashLoan(r.Context(), payload.Token, amount, payload.Data); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "routed"})
}

func (h *handler) compliance(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case r.Method == http.MethodGet && len(rest) == 1:
		rec, err := h.app.Treasury.Compliance(r.Context(), rest[0])
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"entity": rest[0],
			"flags":  rec.Flags,
		})
	case r.Method == http.MethodPut && len(rest) == 1:
		var payload struct {
			Actor string `json:"actor"`
			Flags uint64 `json:"flags"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rec, err := h.app.Treasury.SetCompliance(r.Context(), payload.Actor, rest[0], payload.Flags)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"entity": rest[0],
			"flags":  rec.Flags,
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// --- helpers ----------------------------------------------------------------

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeAppError maps the typed error taxonomy onto HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	writeError(w, apperrors.HTTPStatus(err), err)
}
