package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"wealthlog/pkg/wealthlog"
)

type failingDoer struct{}

func (failingDoer) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("network disabled in tests")
}

func setupRouter(t *testing.T) http.Handler {
	t.Helper()
	router, _ := setupRouterWithCore(t)
	return router
}

func setupRouterWithCore(t *testing.T) (http.Handler, *wealthlog.Core) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	core, err := wealthlog.OpenWithOptions(wealthlog.Options{
		DBPath:     dbPath,
		Logger:     logger,
		HTTPClient: failingDoer{},
	})
	if err != nil {
		t.Fatalf("open core: %v", err)
	}
	t.Cleanup(func() {
		_ = core.Close()
	})
	return NewRouter(core, logger), core
}

func doRequest(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func createAccount(t *testing.T, router http.Handler, accountID string) {
	t.Helper()
	rr := doRequest(router, http.MethodPost, "/api/accounts", map[string]any{
		"account_id":   accountID,
		"account_name": "Test " + accountID,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create account: %d %s", rr.Code, rr.Body.String())
	}
}

func addBuy(t *testing.T, router http.Handler, accountID, symbol string, qty, price float64, date string) int64 {
	t.Helper()
	rr := doRequest(router, http.MethodPost, "/api/transactions", map[string]any{
		"account_id":       accountID,
		"symbol":           symbol,
		"transaction_type": "BUY",
		"quantity":         qty,
		"price":            price,
		"transaction_date": date,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("add buy: %d %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody[map[string]any](t, rr)
	return int64(resp["id"].(float64))
}

func TestHealthEndpoint(t *testing.T) {
	router := setupRouter(t)
	rr := doRequest(router, http.MethodGet, "/api/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestTransactionLifecycleOverHTTP(t *testing.T) {
	router := setupRouter(t)
	createAccount(t, router, "acct1")
	addBuy(t, router, "acct1", "AAPL", 10, 100, "2024-01-02")

	rr := doRequest(router, http.MethodGet, "/api/transactions?account_id=acct1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list transactions: %d", rr.Code)
	}
	txs := decodeBody[[]wealthlog.Transaction](t, rr)
	if len(txs) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(txs))
	}

	rr = doRequest(router, http.MethodGet, "/api/holdings?account_id=acct1", nil)
	holdings := decodeBody[[]wealthlog.Holding](t, rr)
	if len(holdings) != 1 {
		t.Fatalf("expected 1 holding, got %d", len(holdings))
	}
}

func TestValidationErrorsReturnBadRequest(t *testing.T) {
	router := setupRouter(t)
	createAccount(t, router, "acct1")

	rr := doRequest(router, http.MethodPost, "/api/transactions", map[string]any{
		"account_id":       "acct1",
		"transaction_type": "GIFT",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody[ErrorResponse](t, rr)
	if resp.ErrorCode != string(wealthlog.ErrCodeValidation) {
		t.Errorf("expected validation error code, got %q", resp.ErrorCode)
	}
}

func TestSellEndpointReportsRealizedGain(t *testing.T) {
	router := setupRouter(t)
	createAccount(t, router, "acct1")
	addBuy(t, router, "acct1", "AAPL", 10, 5, "2024-01-02")
	addBuy(t, router, "acct1", "AAPL", 10, 8, "2024-01-03")

	rr := doRequest(router, http.MethodPost, "/api/sell", map[string]any{
		"account_id":       "acct1",
		"symbol":           "AAPL",
		"quantity":         15,
		"price":            9,
		"transaction_date": "2024-01-10",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("sell: %d %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody[sellResponse](t, rr)
	gain, _ := resp.Result.RealizedGain.Float64()
	if gain != 45 {
		t.Errorf("expected realized gain 45, got %v", gain)
	}
}

func TestOversellReturnsConflict(t *testing.T) {
	router := setupRouter(t)
	createAccount(t, router, "acct1")
	addBuy(t, router, "acct1", "AAPL", 10, 5, "2024-01-02")

	rr := doRequest(router, http.MethodPost, "/api/sell", map[string]any{
		"account_id":       "acct1",
		"symbol":           "AAPL",
		"quantity":         50,
		"price":            9,
		"transaction_date": "2024-01-10",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRollbackEndpoint(t *testing.T) {
	router := setupRouter(t)
	createAccount(t, router, "acct1")
	addBuy(t, router, "acct1", "AAPL", 10, 100, "2024-01-02")
	id := addBuy(t, router, "acct1", "AAPL", 90, 100, "2024-01-03")

	rr := doRequest(router, http.MethodDelete, "/api/transactions/"+itoa(id), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("rollback: %d %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(router, http.MethodGet, "/api/holdings?account_id=acct1", nil)
	holdings := decodeBody[[]wealthlog.Holding](t, rr)
	qty, _ := holdings[0].Quantity.Float64()
	if qty != 10 {
		t.Errorf("expected quantity 10 after rollback, got %v", qty)
	}
}

func TestPriceEndpoints(t *testing.T) {
	router := setupRouter(t)

	rr := doRequest(router, http.MethodPost, "/api/prices", map[string]any{
		"symbol": "AAPL", "date": "2024-03-01",
		"open": 100.0, "high": 101.0, "low": 99.0, "close": 100.0,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("upsert price: %d %s", rr.Code, rr.Body.String())
	}
	rr = doRequest(router, http.MethodPost, "/api/prices", map[string]any{
		"symbol": "AAPL", "date": "2024-03-05",
		"open": 120.0, "high": 121.0, "low": 119.0, "close": 120.0,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("upsert price: %d %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(router, http.MethodGet, "/api/prices/AAPL?date=2024-03-03", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get price: %d %s", rr.Code, rr.Body.String())
	}
	quote := decodeBody[wealthlog.PriceQuote](t, rr)
	if quote.Price != 110 || quote.Quality != wealthlog.QualityInterpolated {
		t.Errorf("unexpected interpolated quote: %+v", quote)
	}

	rr = doRequest(router, http.MethodGet, "/api/prices/NOPE?date=2024-03-03", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing data, got %d", rr.Code)
	}

	rr = doRequest(router, http.MethodGet, "/api/prices/AAPL/gaps?start=2024-03-01&end=2024-03-05", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("gaps: %d %s", rr.Code, rr.Body.String())
	}
	gaps := decodeBody[[]wealthlog.GapRange](t, rr)
	if len(gaps) != 1 {
		t.Errorf("expected 1 gap, got %+v", gaps)
	}
}

func TestReconciliationEndpointWithSuggestion(t *testing.T) {
	router, core := setupRouterWithCore(t)
	createAccount(t, router, "acct1")
	addBuy(t, router, "acct1", "AAPL", 10, 100, "2024-01-02")
	if err := core.SetAccountBalance("acct1", wealthlog.NewAmount(500)); err != nil {
		t.Fatalf("set balance: %v", err)
	}

	rr := doRequest(router, http.MethodGet, "/api/reconciliation/acct1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("reconcile: %d %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody[reconciliationResponse](t, rr)
	if resp.Report.Balance.Passed {
		t.Fatal("expected failed balance check")
	}
	var suggestionID string
	for _, s := range resp.Suggestions {
		if s.ID == "balance-acct1" {
			suggestionID = s.ID
		}
	}
	if suggestionID == "" {
		t.Fatalf("expected balance suggestion, got %+v", resp.Suggestions)
	}

	rr = doRequest(router, http.MethodPost, "/api/reconciliation/acct1/apply", map[string]any{
		"suggestion_id": suggestionID,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("apply: %d %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(router, http.MethodGet, "/api/reconciliation/acct1", nil)
	resp = decodeBody[reconciliationResponse](t, rr)
	if !resp.Report.Balance.Passed {
		t.Fatal("expected passing balance after applied fix")
	}
}

func TestReconciliationUnknownAccount(t *testing.T) {
	router := setupRouter(t)
	rr := doRequest(router, http.MethodGet, "/api/reconciliation/ghost", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestSyncErrorEndpoints(t *testing.T) {
	router, core := setupRouterWithCore(t)

	id, err := core.RecordSyncError(wealthlog.SyncErrDuplicate, "needs a look", nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	rr := doRequest(router, http.MethodGet, "/api/sync-errors?unresolved=1", nil)
	rows := decodeBody[[]wealthlog.SyncError](t, rr)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}

	rr = doRequest(router, http.MethodPost, "/api/sync-errors/"+id+"/resolve", map[string]any{
		"resolution": "checked by hand",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("resolve: %d %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(router, http.MethodGet, "/api/sync-errors?unresolved=1", nil)
	rows = decodeBody[[]wealthlog.SyncError](t, rr)
	if len(rows) != 0 {
		t.Fatalf("expected no unresolved rows, got %d", len(rows))
	}
}

func TestPortfolioHistoryEndpointRequiresAccount(t *testing.T) {
	router := setupRouter(t)
	rr := doRequest(router, http.MethodGet, "/api/portfolio-history", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
