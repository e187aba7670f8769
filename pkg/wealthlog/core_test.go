package wealthlog

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

func TestOpenRequiresPath(t *testing.T) {
	if _, err := OpenWithOptions(Options{}); err == nil {
		t.Fatal("expected an error for missing db path")
	}
}

func TestReopenKeepsState(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "wealthlog.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c, err := OpenWithOptions(Options{DBPath: dbPath, Logger: logger, HTTPClient: errDoer{}})
	assertNoError(t, err, "first open")
	testAccount(t, c, "acct1")
	testBuy(t, c, "acct1", "AAPL", 10, 100.0, "2024-01-02")
	assertNoError(t, c.Close(), "close")

	c, err = OpenWithOptions(Options{DBPath: dbPath, Logger: logger, HTTPClient: errDoer{}})
	assertNoError(t, err, "reopen")
	defer c.Close()

	holdings, err := c.GetHoldings("acct1")
	assertNoError(t, err, "get holdings after reopen")
	if len(holdings) != 1 {
		t.Fatalf("expected persisted holding, got %d", len(holdings))
	}
	assertAmountEquals(t, holdings[0].Quantity, 10, "persisted quantity")

	// Schema init is idempotent across reopens; the ledger still accepts
	// writes.
	testBuy(t, c, "acct1", "AAPL", 1, 105.0, "2024-01-03")
}

func TestForeignKeysEnforced(t *testing.T) {
	c := setupTestCore(t)
	_, err := c.db.Exec(`
		INSERT INTO transactions (account_id, transaction_type, amount, transaction_date)
		VALUES ('ghost', 'DEPOSIT', 10, '2024-03-01')
	`)
	if err == nil {
		t.Fatal("expected a foreign key violation for an unknown account")
	}
}
