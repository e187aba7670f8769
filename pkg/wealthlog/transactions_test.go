package wealthlog

import (
	"testing"
)

func TestValidationRejectsBadInput(t *testing.T) {
	c := setupTestCore(t)
	testAccount(t, c, "acct1")

	cases := []struct {
		name string
		req  AddTransactionRequest
	}{
		{"missing account", AddTransactionRequest{Type: "DEPOSIT", Amount: amountPtr(NewAmount(10))}},
		{"unknown account", AddTransactionRequest{AccountID: "ghost", Type: "DEPOSIT", Amount: amountPtr(NewAmount(10))}},
		{"missing type", AddTransactionRequest{AccountID: "acct1"}},
		{"bogus type", AddTransactionRequest{AccountID: "acct1", Type: "GIFT", Amount: amountPtr(NewAmount(10))}},
		{"bad date", AddTransactionRequest{AccountID: "acct1", Type: "DEPOSIT", Amount: amountPtr(NewAmount(10)), Date: "03/04/2024"}},
		{"buy without symbol", AddTransactionRequest{AccountID: "acct1", Type: "BUY", Quantity: amountPtr(NewAmount(1)), Price: amountPtr(NewAmount(1))}},
		{"buy without quantity", AddTransactionRequest{AccountID: "acct1", Symbol: "AAPL", Type: "BUY", Price: amountPtr(NewAmount(1))}},
		{"buy negative quantity", AddTransactionRequest{AccountID: "acct1", Symbol: "AAPL", Type: "BUY", Quantity: amountPtr(NewAmount(-1)), Price: amountPtr(NewAmount(1))}},
		{"deposit without amount", AddTransactionRequest{AccountID: "acct1", Type: "DEPOSIT"}},
		{"negative dividend", AddTransactionRequest{AccountID: "acct1", Symbol: "AAPL", Type: "DIVIDEND", Amount: amountPtr(NewAmount(-5))}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := c.AddTransaction(tc.req); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}

	// Nothing reached the ledger.
	txs, err := c.GetTransactions(TransactionFilter{AccountID: "acct1"})
	assertNoError(t, err, "get transactions")
	if len(txs) != 0 {
		t.Fatalf("rejected input must not persist, found %d rows", len(txs))
	}
}

func TestAmountMustMatchQuantityTimesPrice(t *testing.T) {
	c := setupTestCore(t)
	testAccount(t, c, "acct1")

	_, err := c.AddTransaction(AddTransactionRequest{
		AccountID: "acct1",
		Symbol:    "AAPL",
		Type:      "BUY",
		Quantity:  amountPtr(NewAmount(10)),
		Price:     amountPtr(NewAmount(100)),
		Amount:    amountPtr(NewAmount(950)),
		Date:      "2024-01-02",
	})
	if err == nil {
		t.Fatal("expected rejection for inconsistent amount")
	}
	if !IsErrorCode(err, ErrCodeValidation) {
		t.Fatalf("expected validation error code, got %v", err)
	}
}

func TestCashFlowSignsAreNormalized(t *testing.T) {
	c := setupTestCore(t)
	testAccount(t, c, "acct1")

	testBuy(t, c, "acct1", "AAPL", 10, 100.0, "2024-01-02")
	testDeposit(t, c, "acct1", 5000, "2024-01-01")
	_, err := c.AddTransaction(AddTransactionRequest{
		AccountID: "acct1",
		Type:      "WITHDRAWAL",
		Amount:    amountPtr(NewAmount(200)),
		Date:      "2024-01-03",
	})
	assertNoError(t, err, "withdrawal")
	_, err = c.AddTransaction(AddTransactionRequest{
		AccountID: "acct1",
		Type:      "FEE",
		Amount:    amountPtr(NewAmount(-9.95)),
		Date:      "2024-01-04",
	})
	assertNoError(t, err, "fee")
	_, _, err = c.SellShares("acct1", "AAPL", NewAmount(2), NewAmount(110.0), "2024-01-05")
	assertNoError(t, err, "sell")

	wantByType := map[string]float64{
		"BUY":        -1000,
		"DEPOSIT":    5000,
		"WITHDRAWAL": -200,
		"FEE":        -9.95,
		"SELL":       220,
	}
	txs, err := c.GetTransactions(TransactionFilter{AccountID: "acct1"})
	assertNoError(t, err, "get transactions")
	if len(txs) != len(wantByType) {
		t.Fatalf("expected %d transactions, got %d", len(wantByType), len(txs))
	}
	for _, txn := range txs {
		assertAmountEquals(t, txn.Amount, wantByType[txn.Type], txn.Type+" amount")
	}
}

func TestTransactionFilters(t *testing.T) {
	c := setupTestCore(t)
	testAccount(t, c, "acct1")
	testAccount(t, c, "acct2")

	testBuy(t, c, "acct1", "AAPL", 1, 100.0, "2024-01-02")
	testBuy(t, c, "acct1", "TSLA", 1, 200.0, "2024-02-02")
	testBuy(t, c, "acct2", "AAPL", 1, 100.0, "2024-01-02")
	testDeposit(t, c, "acct1", 500, "2024-03-01")

	bySymbol, err := c.GetTransactions(TransactionFilter{AccountID: "acct1", Symbol: "aapl"})
	assertNoError(t, err, "filter by symbol")
	if len(bySymbol) != 1 {
		t.Fatalf("symbol filter: expected 1, got %d", len(bySymbol))
	}

	byType, err := c.GetTransactions(TransactionFilter{AccountID: "acct1", Type: "BUY"})
	assertNoError(t, err, "filter by type")
	if len(byType) != 2 {
		t.Fatalf("type filter: expected 2, got %d", len(byType))
	}

	byRange, err := c.GetTransactions(TransactionFilter{AccountID: "acct1", StartDate: "2024-02-01", EndDate: "2024-02-28"})
	assertNoError(t, err, "filter by range")
	if len(byRange) != 1 {
		t.Fatalf("range filter: expected 1, got %d", len(byRange))
	}

	paged, err := c.GetTransactions(TransactionFilter{AccountID: "acct1", Limit: 2})
	assertNoError(t, err, "paging")
	if len(paged) != 2 {
		t.Fatalf("paging: expected 2, got %d", len(paged))
	}
	// Newest first.
	if paged[0].Date < paged[1].Date {
		t.Errorf("expected newest-first ordering, got %s before %s", paged[0].Date, paged[1].Date)
	}
}

func TestReplayOrderIsDateThenInsertion(t *testing.T) {
	c := setupTestCore(t)
	testAccount(t, c, "acct1")

	// Inserted out of calendar order; replay must sort by date with
	// insertion order as the tie-break.
	testBuy(t, c, "acct1", "AAPL", 5, 100.0, "2024-02-01")
	testBuy(t, c, "acct1", "AAPL", 5, 90.0, "2024-01-01")
	testBuy(t, c, "acct1", "AAPL", 5, 95.0, "2024-01-01")

	txs, err := c.accountTransactionsAsc("acct1")
	assertNoError(t, err, "ordered log")
	if len(txs) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(txs))
	}
	if txs[0].Date != "2024-01-01" || txs[1].Date != "2024-01-01" || txs[2].Date != "2024-02-01" {
		t.Fatalf("unexpected date order: %s, %s, %s", txs[0].Date, txs[1].Date, txs[2].Date)
	}
	if txs[0].ID > txs[1].ID {
		t.Error("insertion order must break date ties")
	}

	// The earliest-dated buy is consumed first regardless of insertion.
	result, _, err := c.SellShares("acct1", "AAPL", NewAmount(5), NewAmount(100.0), "2024-03-01")
	assertNoError(t, err, "sell")
	assertAmountEquals(t, result.CostBasis, 450, "oldest dated lot consumed first")
}

func TestLedgerDatesRoundTripISO(t *testing.T) {
	c := setupTestCore(t)
	testAccount(t, c, "acct1")
	id := testBuy(t, c, "acct1", "AAPL", 10, 100.0, "2024-03-01")

	txn, err := c.GetTransaction(id)
	assertNoError(t, err, "get transaction")
	if txn.Date != "2024-03-01" {
		t.Fatalf("expected transaction date 2024-03-01, got %q", txn.Date)
	}

	lots, err := c.GetLots("acct1", "AAPL", false)
	assertNoError(t, err, "get lots")
	if len(lots) != 1 {
		t.Fatalf("expected one lot, got %d", len(lots))
	}
	if lots[0].PurchaseDate != "2024-03-01" {
		t.Fatalf("expected purchase date 2024-03-01, got %q", lots[0].PurchaseDate)
	}
}
