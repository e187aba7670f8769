package wealthlog

import (
	"errors"
	"fmt"
	"sort"
)

// PortfolioHistory computes the account's market value for each weekday
// in the range by replaying the ledger incrementally and pricing the
// resulting positions from the price store. Days without any usable
// price fall back to the position's average cost, matching the holdings
// lookup chain minus the live oracle.
func (c *Core) PortfolioHistory(accountID, start, end string) ([]PortfolioPoint, error) {
	startDate, ok := parseISODate(start)
	if !ok {
		return nil, NewError(ErrCodeValidation, fmt.Sprintf("invalid start date: %s", start))
	}
	endDate, ok := parseISODate(end)
	if !ok {
		return nil, NewError(ErrCodeValidation, fmt.Sprintf("invalid end date: %s", end))
	}
	if endDate.Before(startDate) {
		return nil, NewError(ErrCodeValidation, "end date before start date")
	}

	txs, err := c.accountTransactionsAsc(accountID)
	if err != nil {
		return nil, err
	}
	assetTypes, err := c.assetTypeMap()
	if err != nil {
		return nil, err
	}

	var points []PortfolioPoint
	next := 0
	var applied []Transaction
	for d := startDate; !d.After(endDate); d = d.AddDate(0, 0, 1) {
		iso := d.Format(isoDate)
		for next < len(txs) && txs[next].Date <= iso {
			applied = append(applied, txs[next])
			next++
		}
		if isWeekend(d) {
			continue
		}

		state := replayHoldings(applied, assetTypes)
		value := 0.0
		symbols := make([]string, 0, len(state))
		for symbol := range state {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
		for _, symbol := range symbols {
			acc := state[symbol]
			if acc.quantity.Cmp(amountEpsilon) <= 0 {
				continue
			}
			qty, _ := acc.quantity.Float64()
			price, err := c.priceOn(symbol, acc.assetType, iso, acc)
			if err != nil {
				return nil, err
			}
			value += price * qty
		}
		points = append(points, PortfolioPoint{Date: iso, Value: round2(value)})
	}
	return points, nil
}

func (c *Core) priceOn(symbol, assetType, date string, acc *holdingAccum) (float64, error) {
	if assetType == "cash" {
		return 1.0, nil
	}
	quote, err := c.GetPrice(symbol, date)
	if err == nil && quote != nil {
		return quote.Price, nil
	}
	if err != nil && !errors.Is(err, ErrNoPriceData) {
		return 0, err
	}
	if acc.quantity.IsPositive() {
		avg, _ := acc.costBasis.Div(acc.quantity).Float64()
		return avg, nil
	}
	return 0, nil
}
