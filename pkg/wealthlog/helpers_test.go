package wealthlog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
)

// errDoer fails every request so tests never reach the network and the
// price lookup chain falls through to cost basis.
type errDoer struct{}

func (errDoer) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("network disabled in tests")
}

// stubDoer returns a canned body for every request.
type stubDoer struct {
	respond func(*http.Request) (*http.Response, error)
	calls   int
}

func (s *stubDoer) Do(req *http.Request) (*http.Response, error) {
	s.calls++
	return s.respond(req)
}

func jsonResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func setupTestCore(t *testing.T) *Core {
	t.Helper()
	return setupTestCoreWithClient(t, errDoer{})
}

func setupTestCoreWithClient(t *testing.T, client HTTPDoer) *Core {
	t.Helper()
	return setupTestCoreWithOptions(t, Options{HTTPClient: client})
}

func setupTestCoreWithOptions(t *testing.T, opts Options) *Core {
	t.Helper()
	if opts.DBPath == "" {
		opts.DBPath = filepath.Join(t.TempDir(), "wealthlog.db")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = errDoer{}
	}
	core, err := OpenWithOptions(opts)
	if err != nil {
		t.Fatalf("open core: %v", err)
	}
	t.Cleanup(func() {
		_ = core.Close()
	})
	return core
}

func assertNoError(t *testing.T, err error, context string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", context, err)
	}
}

func assertFloatEquals(t *testing.T, got, want float64, context string) {
	t.Helper()
	if math.Abs(got-want) > 1e-6 {
		t.Fatalf("%s: got %v, want %v", context, got, want)
	}
}

func assertAmountEquals(t *testing.T, got Amount, want float64, context string) {
	t.Helper()
	f, _ := got.Float64()
	if math.Abs(f-want) > 1e-6 {
		t.Fatalf("%s: got %v, want %v", context, f, want)
	}
}

func testAccount(t *testing.T, c *Core, accountID string) {
	t.Helper()
	_, err := c.AddAccount(Account{
		AccountID:   accountID,
		AccountName: fmt.Sprintf("Test %s", accountID),
	})
	assertNoError(t, err, "add account")
}

func testBuy(t *testing.T, c *Core, accountID, symbol string, qty, price float64, date string) int64 {
	t.Helper()
	id, err := c.AddTransaction(AddTransactionRequest{
		AccountID: accountID,
		Symbol:    symbol,
		Type:      "BUY",
		Quantity:  amountPtr(NewAmount(qty)),
		Price:     amountPtr(NewAmount(price)),
		Date:      date,
	})
	assertNoError(t, err, "buy transaction")
	return id
}

func testDeposit(t *testing.T, c *Core, accountID string, amount float64, date string) int64 {
	t.Helper()
	id, err := c.AddTransaction(AddTransactionRequest{
		AccountID: accountID,
		Type:      "DEPOSIT",
		Amount:    amountPtr(NewAmount(amount)),
		Date:      date,
	})
	assertNoError(t, err, "deposit transaction")
	return id
}

func testPricePoint(t *testing.T, c *Core, symbol, date string, closePrice float64) {
	t.Helper()
	err := c.UpsertPricePoint(PricePoint{
		Symbol:  symbol,
		Date:    date,
		Open:    closePrice,
		High:    closePrice,
		Low:     closePrice,
		Close:   closePrice,
		Source:  "test",
		Quality: QualityReal,
	})
	assertNoError(t, err, "upsert price point")
}
