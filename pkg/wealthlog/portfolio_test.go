package wealthlog

import (
	"testing"
)

func TestPortfolioHistoryTracksMarketValue(t *testing.T) {
	c := setupTestCore(t)
	testAccount(t, c, "acct1")

	// 2024-03-04 is a Monday.
	testBuy(t, c, "acct1", "AAPL", 10, 100.0, "2024-03-04")
	testPricePoint(t, c, "AAPL", "2024-03-04", 100)
	testPricePoint(t, c, "AAPL", "2024-03-05", 110)

	points, err := c.PortfolioHistory("acct1", "2024-03-01", "2024-03-06")
	assertNoError(t, err, "portfolio history")

	byDate := map[string]float64{}
	for _, p := range points {
		byDate[p.Date] = p.Value
	}

	// Friday before the buy: nothing held.
	assertFloatEquals(t, byDate["2024-03-01"], 0, "value before buy")
	assertFloatEquals(t, byDate["2024-03-04"], 1000, "value on buy day")
	assertFloatEquals(t, byDate["2024-03-05"], 1100, "value after price move")
	// No stored price for the 6th; the prior close carries forward.
	assertFloatEquals(t, byDate["2024-03-06"], 1100, "forward-filled value")

	// Weekends are excluded from the series.
	if _, ok := byDate["2024-03-02"]; ok {
		t.Error("series must skip Saturdays")
	}
	if _, ok := byDate["2024-03-03"]; ok {
		t.Error("series must skip Sundays")
	}
}

func TestPortfolioHistoryFallsBackToAvgCost(t *testing.T) {
	c := setupTestCore(t)
	testAccount(t, c, "acct1")

	testBuy(t, c, "acct1", "OBSCURE", 4, 25.0, "2024-03-04")

	points, err := c.PortfolioHistory("acct1", "2024-03-04", "2024-03-04")
	assertNoError(t, err, "portfolio history")
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}
	assertFloatEquals(t, points[0].Value, 100, "avg-cost valuation")
}

func TestPortfolioHistoryRejectsReversedRange(t *testing.T) {
	c := setupTestCore(t)
	testAccount(t, c, "acct1")

	if _, err := c.PortfolioHistory("acct1", "2024-03-06", "2024-03-01"); err == nil {
		t.Fatal("expected a validation error")
	}
}
