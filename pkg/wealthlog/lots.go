package wealthlog

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ApplyBuy creates a new open lot for a purchase.
func (c *Core) ApplyBuy(accountID, symbol, date string, qty, price Amount, sourceTransactionID int64) (*Lot, error) {
	unlock := c.locks.Acquire(accountID)
	defer unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	lot, err := insertLotTx(tx, accountID, normalizeSymbol(symbol), date, qty, price, sourceTransactionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return lot, nil
}

// ApplySell consumes open lots oldest-purchase-first until the requested
// quantity is satisfied and reports the realized gain. The operation is
// all-or-nothing: when open lots cannot cover the quantity it fails with
// ErrInsufficientShares and no lot rows are mutated.
func (c *Core) ApplySell(accountID, symbol string, qty, salePrice Amount, date string) (*SellResult, error) {
	unlock := c.locks.Acquire(accountID)
	defer unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := applySellTx(tx, accountID, normalizeSymbol(symbol), qty, salePrice)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// RebuildLots clears and replays all lots for an account from the
// transaction log. Rebuilding is a full-rebuild strategy, not an
// incremental patch, so replaying the same log always yields the same
// lot set.
func (c *Core) RebuildLots(accountID string) error {
	unlock := c.locks.Acquire(accountID)
	defer unlock()
	return c.rebuildLotsLocked(accountID)
}

func (c *Core) rebuildLotsLocked(accountID string) error {
	txs, err := c.accountTransactionsAsc(accountID)
	if err != nil {
		return err
	}

	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec("DELETE FROM lots WHERE account_id = ?", accountID); err != nil {
		return err
	}

	for _, t := range txs {
		if t.Symbol == nil {
			continue
		}
		symbol := *t.Symbol
		switch t.Type {
		case "BUY":
			if _, err := insertLotTx(tx, accountID, symbol, t.Date, *t.Quantity, *t.Price, t.ID); err != nil {
				return fmt.Errorf("replay buy %d: %w", t.ID, err)
			}
		case "SPLIT":
			// Split shares carry no cost; a zero-cost lot keeps the
			// lot-sum equal to the holding quantity.
			zero := Amount{decimal.Zero}
			if _, err := insertLotTx(tx, accountID, symbol, t.Date, *t.Quantity, zero, t.ID); err != nil {
				return fmt.Errorf("replay split %d: %w", t.ID, err)
			}
		case "SELL":
			salePrice := Amount{decimal.Zero}
			if t.Price != nil {
				salePrice = *t.Price
			}
			result, err := applySellTx(tx, accountID, symbol, *t.Quantity, salePrice)
			if err != nil {
				return fmt.Errorf("replay sell %d: %w", t.ID, err)
			}
			annotation, err := json.Marshal(map[string]any{
				"realized_gain":   result.RealizedGain,
				"cost_basis_sold": result.CostBasis,
			})
			if err != nil {
				return err
			}
			if err := annotateTransactionMetadata(tx, t.ID, string(annotation)); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// GetLots returns lots for an account, optionally scoped to a symbol or
// to open lots only, ordered oldest purchase first.
func (c *Core) GetLots(accountID, symbol string, openOnly bool) ([]Lot, error) {
	query := `
		SELECT id, account_id, symbol, purchase_date, quantity, quantity_remaining, cost_per_share, total_cost, source_transaction_id, status
		FROM lots
		WHERE account_id = ?
	`
	params := []any{accountID}
	if symbol != "" {
		query += " AND symbol = ?"
		params = append(params, normalizeSymbol(symbol))
	}
	if openOnly {
		query += " AND status = 'open'"
	}
	query += " ORDER BY purchase_date ASC, id ASC"

	rows, err := c.db.Query(query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []Lot
	for rows.Next() {
		var l Lot
		if err := rows.Scan(&l.ID, &l.AccountID, &l.Symbol, &l.PurchaseDate, &l.Quantity, &l.QuantityRemaining, &l.CostPerShare, &l.TotalCost, &l.SourceTransactionID, &l.Status); err != nil {
			return nil, err
		}
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

// OpenLotQuantity sums quantity_remaining across open lots for a scope.
func (c *Core) OpenLotQuantity(accountID, symbol string) (Amount, error) {
	var total Amount
	err := c.db.QueryRow(`
		SELECT COALESCE(SUM(quantity_remaining), 0)
		FROM lots
		WHERE account_id = ? AND symbol = ? AND status = 'open'
	`, accountID, normalizeSymbol(symbol)).Scan(&total)
	return total, err
}

func insertLotTx(tx *sql.Tx, accountID, symbol, date string, qty, price Amount, sourceTransactionID int64) (*Lot, error) {
	totalCost := Amount{qty.Mul(price.Decimal)}
	result, err := tx.Exec(`
		INSERT INTO lots (account_id, symbol, purchase_date, quantity, quantity_remaining, cost_per_share, total_cost, source_transaction_id, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'open')
	`, accountID, symbol, date, qty, qty, price, totalCost, sourceTransactionID)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Lot{
		ID:                  id,
		AccountID:           accountID,
		Symbol:              symbol,
		PurchaseDate:        date,
		Quantity:            qty,
		QuantityRemaining:   qty,
		CostPerShare:        price,
		TotalCost:           totalCost,
		SourceTransactionID: sourceTransactionID,
		Status:              LotOpen,
	}, nil
}

type openLot struct {
	id           int64
	remaining    decimal.Decimal
	costPerShare decimal.Decimal
}

func applySellTx(tx *sql.Tx, accountID, symbol string, qty, salePrice Amount) (*SellResult, error) {
	rows, err := tx.Query(`
		SELECT id, quantity_remaining, cost_per_share
		FROM lots
		WHERE account_id = ? AND symbol = ? AND status = 'open'
		ORDER BY purchase_date ASC, id ASC
	`, accountID, symbol)
	if err != nil {
		return nil, err
	}

	var lots []openLot
	available := decimal.Zero
	for rows.Next() {
		var l openLot
		var remaining, cost Amount
		if err := rows.Scan(&l.id, &remaining, &cost); err != nil {
			rows.Close()
			return nil, err
		}
		l.remaining = remaining.Decimal
		l.costPerShare = cost.Decimal
		available = available.Add(l.remaining)
		lots = append(lots, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reject the whole sell before touching any row.
	if available.Add(amountEpsilon).LessThan(qty.Decimal) {
		return nil, fmt.Errorf("sell %s %s of %s: have %s: %w",
			accountID, qty.String(), symbol, available.String(), ErrInsufficientShares)
	}

	remainingToSell := qty.Decimal
	costBasis := decimal.Zero
	var touched []int64
	for _, l := range lots {
		if remainingToSell.LessThanOrEqual(decimal.Zero) {
			break
		}
		take := decimal.Min(remainingToSell, l.remaining)
		newRemaining := l.remaining.Sub(take)
		status := LotOpen
		if newRemaining.Cmp(amountEpsilon) <= 0 {
			newRemaining = decimal.Zero
			status = LotClosed
		}
		if _, err := tx.Exec(
			"UPDATE lots SET quantity_remaining = ?, status = ? WHERE id = ?",
			Amount{newRemaining}, status, l.id,
		); err != nil {
			return nil, err
		}
		costBasis = costBasis.Add(take.Mul(l.costPerShare))
		remainingToSell = remainingToSell.Sub(take)
		touched = append(touched, l.id)
	}

	realized := qty.Mul(salePrice.Decimal).Sub(costBasis)
	return &SellResult{
		QuantitySold: qty,
		CostBasis:    Amount{costBasis},
		RealizedGain: Amount{realized},
		LotsTouched:  touched,
	}, nil
}

// SellShares validates a sell against open lots, appends the SELL
// transaction, and returns the FIFO outcome. An oversell is refused
// before anything is written.
func (c *Core) SellShares(accountID, symbol string, qty, price Amount, date string) (*SellResult, int64, error) {
	symbol = normalizeSymbol(symbol)
	available, err := c.OpenLotQuantity(accountID, symbol)
	if err != nil {
		return nil, 0, err
	}
	if available.Add(amountEpsilon).LessThan(qty.Decimal) {
		_, _ = c.RecordSyncError(SyncErrInsufficient,
			fmt.Sprintf("sell of %s %s rejected: %s available", qty.String(), symbol, available.String()),
			map[string]any{"account_id": accountID, "symbol": symbol})
		return nil, 0, fmt.Errorf("sell %s of %s: have %s: %w",
			qty.String(), symbol, available.String(), ErrInsufficientShares)
	}

	id, err := c.AddTransaction(AddTransactionRequest{
		AccountID: accountID,
		Symbol:    symbol,
		Type:      "SELL",
		Quantity:  amountPtr(qty),
		Price:     amountPtr(price),
		Date:      date,
	})
	if err != nil && !IsErrorCode(err, ErrCodeSync) {
		return nil, 0, err
	}

	// The rebuild annotated the sell; read the outcome back.
	t, getErr := c.GetTransaction(id)
	if getErr != nil || t == nil || t.Metadata == nil {
		return nil, id, err
	}
	var annotation struct {
		RealizedGain Amount `json:"realized_gain"`
		CostBasis    Amount `json:"cost_basis_sold"`
	}
	if jsonErr := json.Unmarshal([]byte(*t.Metadata), &annotation); jsonErr != nil {
		return nil, id, err
	}
	return &SellResult{
		QuantitySold: qty,
		CostBasis:    annotation.CostBasis,
		RealizedGain: annotation.RealizedGain,
	}, id, err
}
