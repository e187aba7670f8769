package wealthlog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// balanceTolerance is the absolute difference below which a balance check
// passes outright.
var balanceTolerance = decimal.NewFromFloat(0.01)

var (
	severityMediumRatio = decimal.NewFromFloat(0.05)
	severityHighRatio   = decimal.NewFromFloat(0.10)
)

// CheckBalance sums the account's signed cash flows and compares the
// result against the stored balance. Severity scales with the relative
// size of the difference.
func (c *Core) CheckBalance(accountID string) (*ReconciliationCheck, error) {
	account, err := c.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("check balance: %s: %w", accountID, ErrAccountNotFound)
	}

	var expected Amount
	var count int
	err = c.db.QueryRow(
		"SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM transactions WHERE account_id = ?",
		accountID,
	).Scan(&expected, &count)
	if err != nil {
		return nil, err
	}

	diff := account.Balance.Sub(expected.Decimal)
	check := &ReconciliationCheck{
		AccountID:        accountID,
		ExpectedBalance:  expected,
		ActualBalance:    account.Balance,
		Difference:       Amount{diff},
		TransactionCount: count,
		Severity:         severityFor(diff, expected.Decimal, account.Balance.Decimal),
		Passed:           diff.Abs().Cmp(balanceTolerance) <= 0,
	}
	return check, nil
}

// severityFor grades a balance difference against the larger of the two
// balances being compared. At or above 10 percent is high, at or above 5
// percent is medium.
func severityFor(diff, expected, actual decimal.Decimal) string {
	base := decimal.Max(expected.Abs(), actual.Abs())
	if base.IsZero() {
		if diff.Abs().Cmp(balanceTolerance) <= 0 {
			return SeverityLow
		}
		return SeverityHigh
	}
	ratio := diff.Abs().Div(base)
	switch {
	case ratio.Cmp(severityHighRatio) >= 0:
		return SeverityHigh
	case ratio.Cmp(severityMediumRatio) >= 0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// CheckHoldings re-derives holdings from the transaction log and flags
// rows where the stored snapshot drifted, plus positions whose open-lot
// quantities no longer sum to the holding quantity.
func (c *Core) CheckHoldings(accountID string) ([]Discrepancy, error) {
	txs, err := c.accountTransactionsAsc(accountID)
	if err != nil {
		return nil, err
	}
	assetTypes, err := c.assetTypeMap()
	if err != nil {
		return nil, err
	}
	derived := replayHoldings(txs, assetTypes)

	stored, err := c.GetHoldings(accountID)
	if err != nil {
		return nil, err
	}
	storedBySymbol := map[string]Holding{}
	for _, h := range stored {
		storedBySymbol[h.Symbol] = h
	}

	var discrepancies []Discrepancy

	for symbol, acc := range derived {
		if acc.quantity.Cmp(amountEpsilon) <= 0 {
			if h, ok := storedBySymbol[symbol]; ok {
				discrepancies = append(discrepancies, Discrepancy{
					AccountID:  accountID,
					Symbol:     symbol,
					Field:      "quantity",
					Stored:     h.Quantity,
					Derived:    Amount{decimal.Zero},
					Difference: h.Quantity,
				})
			}
			continue
		}
		h, ok := storedBySymbol[symbol]
		if !ok {
			discrepancies = append(discrepancies, Discrepancy{
				AccountID:  accountID,
				Symbol:     symbol,
				Field:      "quantity",
				Stored:     Amount{decimal.Zero},
				Derived:    Amount{acc.quantity},
				Difference: Amount{acc.quantity.Neg()},
			})
			continue
		}
		if !h.Quantity.EqualsWithin(Amount{acc.quantity}) {
			discrepancies = append(discrepancies, Discrepancy{
				AccountID:  accountID,
				Symbol:     symbol,
				Field:      "quantity",
				Stored:     h.Quantity,
				Derived:    Amount{acc.quantity},
				Difference: Amount{h.Quantity.Sub(acc.quantity)},
			})
		}
		if !h.CostBasis.EqualsWithin(Amount{acc.costBasis}) {
			discrepancies = append(discrepancies, Discrepancy{
				AccountID:  accountID,
				Symbol:     symbol,
				Field:      "cost_basis",
				Stored:     h.CostBasis,
				Derived:    Amount{acc.costBasis},
				Difference: Amount{h.CostBasis.Sub(acc.costBasis)},
			})
		}

		lotQty, err := c.OpenLotQuantity(accountID, symbol)
		if err != nil {
			return nil, err
		}
		if !lotQty.EqualsWithin(Amount{acc.quantity}) {
			discrepancies = append(discrepancies, Discrepancy{
				AccountID:  accountID,
				Symbol:     symbol,
				Field:      "lot_quantity",
				Stored:     lotQty,
				Derived:    Amount{acc.quantity},
				Difference: Amount{lotQty.Sub(acc.quantity)},
			})
		}
	}

	for symbol, h := range storedBySymbol {
		if _, ok := derived[symbol]; !ok {
			discrepancies = append(discrepancies, Discrepancy{
				AccountID:  accountID,
				Symbol:     symbol,
				Field:      "quantity",
				Stored:     h.Quantity,
				Derived:    Amount{decimal.Zero},
				Difference: h.Quantity,
			})
		}
	}

	sort.Slice(discrepancies, func(i, j int) bool {
		if discrepancies[i].Symbol != discrepancies[j].Symbol {
			return discrepancies[i].Symbol < discrepancies[j].Symbol
		}
		return discrepancies[i].Field < discrepancies[j].Field
	})
	return discrepancies, nil
}

// FindDuplicateTransactions groups transactions that share account, date,
// type, and amount. Groups of two or more are candidate double-entries;
// the engine reports them and never deletes on its own.
func (c *Core) FindDuplicateTransactions(accountID string) ([][]Transaction, error) {
	txs, err := c.accountTransactionsAsc(accountID)
	if err != nil {
		return nil, err
	}

	groups := map[string][]Transaction{}
	var order []string
	for _, t := range txs {
		key := strings.Join([]string{t.Date, t.Type, t.Amount.String()}, "|")
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], t)
	}

	var duplicates [][]Transaction
	for _, key := range order {
		if group := groups[key]; len(group) > 1 {
			duplicates = append(duplicates, group)
		}
	}
	return duplicates, nil
}

// SuggestFixes turns a reconciliation report into proposed repairs. Each
// Apply closure is idempotent; nothing here runs automatically.
func (c *Core) SuggestFixes(accountID string, report *ReconciliationReport) []Suggestion {
	var suggestions []Suggestion

	if len(report.Discrepancies) > 0 {
		suggestions = append(suggestions, Suggestion{
			ID:          fmt.Sprintf("rebuild-%s", accountID),
			AccountID:   accountID,
			Description: fmt.Sprintf("rebuild derived state for %s from the transaction log (%d discrepancies)", accountID, len(report.Discrepancies)),
			Apply: func() error {
				return c.SyncDerivedState(accountID)
			},
		})
	}

	if report.Balance != nil && !report.Balance.Passed {
		expected := report.Balance.ExpectedBalance
		suggestions = append(suggestions, Suggestion{
			ID:          fmt.Sprintf("balance-%s", accountID),
			AccountID:   accountID,
			Description: fmt.Sprintf("set stored balance of %s to the transaction sum %s", accountID, expected.String()),
			Apply: func() error {
				return c.SetAccountBalance(accountID, expected)
			},
		})
	}

	for _, group := range report.Duplicates {
		// Keep the oldest entry, propose removing the later copies.
		for _, extra := range group[1:] {
			id := extra.ID
			suggestions = append(suggestions, Suggestion{
				ID:          fmt.Sprintf("duplicate-%s-%d", accountID, id),
				AccountID:   accountID,
				Description: fmt.Sprintf("remove probable duplicate transaction %d (%s %s on %s)", id, extra.Type, extra.Amount.String(), extra.Date),
				Apply: func() error {
					t, err := c.GetTransaction(id)
					if err != nil {
						return err
					}
					if t == nil {
						return nil
					}
					return c.RollbackTransaction(id)
				},
			})
		}
	}

	return suggestions
}

// RunReconciliation runs every check for one account and records failures
// in the sync_errors audit log.
func (c *Core) RunReconciliation(accountID string) (*ReconciliationReport, error) {
	balance, err := c.CheckBalance(accountID)
	if err != nil {
		return nil, err
	}
	discrepancies, err := c.CheckHoldings(accountID)
	if err != nil {
		return nil, err
	}
	duplicates, err := c.FindDuplicateTransactions(accountID)
	if err != nil {
		return nil, err
	}

	report := &ReconciliationReport{
		Balance:       balance,
		Discrepancies: discrepancies,
		Duplicates:    duplicates,
	}

	if !balance.Passed {
		_, _ = c.RecordSyncError(SyncErrBalance,
			fmt.Sprintf("balance mismatch for %s: stored %s, transactions sum to %s",
				accountID, balance.ActualBalance.String(), balance.ExpectedBalance.String()),
			map[string]any{"account_id": accountID, "severity": balance.Severity})
	}
	if len(discrepancies) > 0 {
		_, _ = c.RecordSyncError(SyncErrDataIntegrity,
			fmt.Sprintf("%d holding discrepancies for %s", len(discrepancies), accountID),
			map[string]any{"account_id": accountID})
	}
	if len(duplicates) > 0 {
		_, _ = c.RecordSyncError(SyncErrDuplicate,
			fmt.Sprintf("%d duplicate transaction groups for %s", len(duplicates), accountID),
			map[string]any{"account_id": accountID})
	}

	return report, nil
}
