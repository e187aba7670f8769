package wealthlog

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Price provenance values reported on holdings.
const (
	PriceSourceStore     = "store"
	PriceSourceLive      = "live"
	PriceSourceCostBasis = "cost-basis"
)

// holdingAccum is the running per-symbol state of a replay.
type holdingAccum struct {
	assetType string
	quantity  decimal.Decimal
	costBasis decimal.Decimal
}

// replayHoldings folds an ordered transaction log into per-symbol
// quantity and weighted-average cost basis. Pure function of the log, so
// replaying the same log twice yields identical state.
func replayHoldings(txs []Transaction, assetTypes map[string]string) map[string]*holdingAccum {
	state := map[string]*holdingAccum{}
	get := func(symbol string) *holdingAccum {
		acc, ok := state[symbol]
		if !ok {
			acc = &holdingAccum{assetType: assetTypes[symbol]}
			if acc.assetType == "" {
				acc.assetType = "stock"
			}
			state[symbol] = acc
		}
		return acc
	}

	for _, t := range txs {
		if t.Symbol == nil || *t.Symbol == "" {
			continue
		}
		acc := get(*t.Symbol)
		switch t.Type {
		case "BUY":
			acc.quantity = acc.quantity.Add(t.Quantity.Decimal)
			acc.costBasis = acc.costBasis.Add(t.Quantity.Mul(t.Price.Decimal))
		case "SELL":
			oldQty := acc.quantity
			newQty := oldQty.Sub(t.Quantity.Decimal)
			if newQty.Cmp(amountEpsilon) > 0 && oldQty.IsPositive() {
				// Weighted-average rescale: per-share cost is unchanged
				// by a sell, only the share count shrinks.
				acc.costBasis = acc.costBasis.Div(oldQty).Mul(newQty)
			} else {
				acc.costBasis = decimal.Zero
			}
			acc.quantity = newQty
		case "SPLIT":
			// Extra shares at zero cost; basis is unchanged.
			acc.quantity = acc.quantity.Add(t.Quantity.Decimal)
		}
	}
	return state
}

// ReconstructHoldings replays the account's transaction history into the
// materialized holdings table and returns the snapshot keyed by symbol.
// The replay is idempotent; holdings are a cache over the log, never
// ground truth. Symbols whose final quantity is negligible are removed.
func (c *Core) ReconstructHoldings(accountID string) (map[string]Holding, error) {
	unlock := c.locks.Acquire(accountID)
	defer unlock()
	return c.reconstructHoldingsLocked(accountID)
}

func (c *Core) reconstructHoldingsLocked(accountID string) (map[string]Holding, error) {
	txs, err := c.accountTransactionsAsc(accountID)
	if err != nil {
		return nil, err
	}
	assetTypes, err := c.assetTypeMap()
	if err != nil {
		return nil, err
	}
	state := replayHoldings(txs, assetTypes)

	// All price lookups run before the write transaction opens. The pool
	// is capped at one connection, so a lookup issued while the
	// transaction holds it would wait on itself forever.
	result := map[string]Holding{}
	for symbol, acc := range state {
		if acc.quantity.Cmp(amountEpsilon) <= 0 {
			continue
		}
		qty := Amount{acc.quantity}
		cost := Amount{acc.costBasis}
		avgCost := Amount{decimal.Zero}
		if acc.quantity.IsPositive() {
			avgCost = Amount{acc.costBasis.Div(acc.quantity)}
		}

		price, source := c.resolveCurrentPrice(symbol, acc.assetType, avgCost)
		qtyFloat, _ := acc.quantity.Float64()

		result[symbol] = Holding{
			AccountID:    accountID,
			Symbol:       symbol,
			AssetType:    acc.assetType,
			Quantity:     qty,
			CostBasis:    cost,
			AvgCost:      avgCost,
			CurrentPrice: price,
			PriceSource:  source,
			CurrentValue: round2(price * qtyFloat),
		}
	}

	tx, err := c.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec("DELETE FROM holdings WHERE account_id = ?", accountID); err != nil {
		return nil, err
	}
	for symbol, h := range result {
		if _, err := tx.Exec(`
			INSERT INTO holdings (account_id, symbol, asset_type, quantity, cost_basis, current_price, price_source, current_value, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		`, accountID, symbol, h.AssetType, h.Quantity, h.CostBasis, h.CurrentPrice, h.PriceSource, h.CurrentValue); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// resolveCurrentPrice walks the lookup chain: stored price history, then
// a live oracle fetch, then the position's own average cost. The chosen
// source is always reported alongside the number.
func (c *Core) resolveCurrentPrice(symbol, assetType string, avgCost Amount) (float64, string) {
	if assetType == "cash" {
		return 1.0, PriceSourceStore
	}

	if quote, err := c.GetPrice(symbol, todayISO()); err == nil && quote != nil && quote.Quality > QualityMissing {
		return quote.Price, PriceSourceStore
	}

	if live, err := c.oracle.fetchQuote(symbol, assetType); err == nil && live != nil {
		point := PricePoint{
			Symbol:  symbol,
			Date:    live.Date,
			Open:    live.Price,
			High:    live.Price,
			Low:     live.Price,
			Close:   live.Price,
			Source:  live.Source,
			Quality: QualityReal,
		}
		if err := c.UpsertPricePoint(point); err != nil {
			c.logger.Warn("failed to store live quote", "symbol", symbol, "err", err)
		}
		return live.Price, PriceSourceLive
	}

	fallback, _ := avgCost.Float64()
	return fallback, PriceSourceCostBasis
}

// SyncDerivedState rebuilds lots and holdings for one account. Each
// attempt takes and releases the account lock; the Core's retry policy
// re-runs transient failures with linear backoff, and only an exhausted
// retry budget lands in the sync_errors audit log.
func (c *Core) SyncDerivedState(accountID string) error {
	stage := SyncErrHoldings
	err := c.syncRetry.Do(func() error {
		unlock := c.locks.Acquire(accountID)
		defer unlock()

		if err := c.rebuildLotsLocked(accountID); err != nil {
			stage = SyncErrLotTracking
			return fmt.Errorf("rebuild lots for %s: %w", accountID, err)
		}
		stage = SyncErrHoldings
		if _, err := c.reconstructHoldingsLocked(accountID); err != nil {
			return fmt.Errorf("reconstruct holdings for %s: %w", accountID, err)
		}
		return nil
	})
	if err != nil {
		_, _ = c.RecordSyncError(stage, err.Error(), map[string]any{"account_id": accountID})
	}
	return err
}

// GetHoldings returns the stored holdings snapshot for an account, or
// for all accounts when accountID is empty.
func (c *Core) GetHoldings(accountID string) ([]Holding, error) {
	query := `
		SELECT account_id, symbol, asset_type, quantity, cost_basis, current_price, price_source, current_value, updated_at
		FROM holdings
	`
	params := []any{}
	if accountID != "" {
		query += " WHERE account_id = ?"
		params = append(params, accountID)
	}
	query += " ORDER BY account_id, symbol"

	rows, err := c.db.Query(query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []Holding
	for rows.Next() {
		var h Holding
		var updatedAt *string
		if err := rows.Scan(&h.AccountID, &h.Symbol, &h.AssetType, &h.Quantity, &h.CostBasis, &h.CurrentPrice, &h.PriceSource, &h.CurrentValue, &updatedAt); err != nil {
			return nil, err
		}
		h.UpdatedAt = updatedAt
		if h.Quantity.IsPositive() {
			h.AvgCost = Amount{h.CostBasis.Div(h.Quantity.Decimal)}
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func (c *Core) assetTypeMap() (map[string]string, error) {
	rows, err := c.db.Query("SELECT symbol, asset_type FROM symbols")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := map[string]string{}
	for rows.Next() {
		var symbol, assetType string
		if err := rows.Scan(&symbol, &assetType); err != nil {
			return nil, err
		}
		result[symbol] = assetType
	}
	return result, rows.Err()
}
