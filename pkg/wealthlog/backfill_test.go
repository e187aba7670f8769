package wealthlog

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"golang.org/x/time/rate"
)

// 2024-03-04 and 2024-03-05 as midnight UTC.
const yahooHistoryBody = `{
	"chart": {
		"result": [{
			"timestamp": [1709510400, 1709596800],
			"indicators": {
				"quote": [{
					"open": [100.0, 104.5],
					"high": [106.0, 107.0],
					"low": [99.0, 103.0],
					"close": [105.0, 106.5],
					"volume": [1000, 1200]
				}]
			}
		}]
	}
}`

func TestBackfillFillsGapsFromProvider(t *testing.T) {
	doer := &stubDoer{respond: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(yahooHistoryBody), nil
	}}
	c := setupTestCoreWithClient(t, doer)
	testAccount(t, c, "acct1")
	testBuy(t, c, "acct1", "AAPL", 1, 100.0, "2024-03-01")

	report, err := c.BackfillPrices(context.Background(), []string{"AAPL"}, BackfillOptions{
		Start:   "2024-03-04",
		End:     "2024-03-05",
		Limiter: rate.NewLimiter(rate.Inf, 1),
	})
	assertNoError(t, err, "backfill")
	if report.SymbolsProcessed != 1 {
		t.Fatalf("expected 1 symbol processed, got %d", report.SymbolsProcessed)
	}
	if report.PointsStored != 2 {
		t.Fatalf("expected 2 points stored, got %d", report.PointsStored)
	}
	if report.Cancelled {
		t.Fatal("run should not report cancellation")
	}

	gaps, err := c.FindGaps("AAPL", "2024-03-04", "2024-03-05")
	assertNoError(t, err, "find gaps after backfill")
	if len(gaps) != 0 {
		t.Fatalf("expected gaps closed, got %+v", gaps)
	}

	quote, err := c.GetPrice("AAPL", "2024-03-04")
	assertNoError(t, err, "get backfilled price")
	assertFloatEquals(t, quote.Price, 105.0, "backfilled close")
	assertFloatEquals(t, quote.Quality, QualityReal, "backfilled quality")
}

func TestBackfillHonorsCancellation(t *testing.T) {
	doer := &stubDoer{respond: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(yahooHistoryBody), nil
	}}
	c := setupTestCoreWithClient(t, doer)
	testAccount(t, c, "acct1")
	testBuy(t, c, "acct1", "AAPL", 1, 100.0, "2024-03-01")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := c.BackfillPrices(ctx, []string{"AAPL"}, BackfillOptions{
		Start: "2024-03-04",
		End:   "2024-03-05",
	})
	assertNoError(t, err, "cancelled backfill")
	if !report.Cancelled {
		t.Fatal("expected cancellation flag")
	}
	if report.SymbolsProcessed != 0 || report.PointsStored != 0 {
		t.Fatalf("cancelled run should keep no progress beyond the cut: %+v", report)
	}
}

func TestBackfillRecordsProviderFailures(t *testing.T) {
	doer := &stubDoer{respond: func(req *http.Request) (*http.Response, error) {
		// Fail history requests; let the quote lookup during the buy
		// fail too, which only pushes the holding to cost basis.
		return nil, errors.New("provider down")
	}}
	c := setupTestCoreWithClient(t, doer)
	testAccount(t, c, "acct1")
	testBuy(t, c, "acct1", "AAPL", 1, 100.0, "2024-03-01")

	report, err := c.BackfillPrices(context.Background(), []string{"AAPL"}, BackfillOptions{
		Start: "2024-03-04",
		End:   "2024-03-05",
	})
	assertNoError(t, err, "backfill with failing provider")
	if len(report.Errors) == 0 {
		t.Fatal("expected reported errors")
	}
	if report.PointsStored != 0 {
		t.Fatalf("expected no points stored, got %d", report.PointsStored)
	}

	rows, err := c.GetSyncErrors(true, 10)
	assertNoError(t, err, "get sync errors")
	found := false
	for _, e := range rows {
		if e.Type == SyncErrPriceUpdate && strings.Contains(e.Message, "provider down") {
			found = true
		}
	}
	if !found {
		t.Error("expected a PRICE_UPDATE_FAILED audit row")
	}
}

func TestBackfillDefaultsToAutoUpdateSymbols(t *testing.T) {
	doer := &stubDoer{respond: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(yahooHistoryBody), nil
	}}
	c := setupTestCoreWithClient(t, doer)
	testAccount(t, c, "acct1")
	testBuy(t, c, "acct1", "AAPL", 1, 100.0, "2024-03-01")
	testBuy(t, c, "acct1", "MSFT", 1, 100.0, "2024-03-01")
	assertNoError(t, c.SetSymbolAutoUpdate("MSFT", false), "disable auto update")

	report, err := c.BackfillPrices(context.Background(), nil, BackfillOptions{
		Start: "2024-03-04",
		End:   "2024-03-05",
	})
	assertNoError(t, err, "backfill")
	if report.SymbolsProcessed != 1 {
		t.Fatalf("expected only the auto-update symbol, got %d", report.SymbolsProcessed)
	}
}
