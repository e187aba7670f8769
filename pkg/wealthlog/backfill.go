package wealthlog

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/time/rate"
)

// BackfillOptions controls a price backfill run.
type BackfillOptions struct {
	Start   string
	End     string
	Limiter *rate.Limiter // Optional: throttles provider requests
}

// BackfillPrices fills price-history gaps for the given symbols, most
// recent gaps first so current valuations improve before deep history.
// The context cancels the run between requests; partial progress is kept
// and reported. An empty symbol list means every auto-update symbol.
func (c *Core) BackfillPrices(ctx context.Context, symbols []string, opts BackfillOptions) (*SyncReport, error) {
	if opts.Start == "" || opts.End == "" {
		return nil, NewError(ErrCodeValidation, "start and end dates required")
	}
	if _, ok := parseISODate(opts.Start); !ok {
		return nil, NewError(ErrCodeValidation, fmt.Sprintf("invalid start date: %s", opts.Start))
	}
	if _, ok := parseISODate(opts.End); !ok {
		return nil, NewError(ErrCodeValidation, fmt.Sprintf("invalid end date: %s", opts.End))
	}

	if len(symbols) == 0 {
		var err error
		symbols, err = c.autoUpdateSymbols()
		if err != nil {
			return nil, err
		}
	}

	report := &SyncReport{}
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			report.Cancelled = true
			return report, nil
		}
		symbol = normalizeSymbol(symbol)

		assetType := c.symbolAssetType(symbol)
		if assetType == "cash" {
			continue
		}

		gaps, err := c.FindGaps(symbol, opts.Start, opts.End)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", symbol, err))
			continue
		}
		// Most recent gap first.
		sort.Slice(gaps, func(i, j int) bool { return gaps[i].Start > gaps[j].Start })

		cancelled, err := c.backfillSymbol(ctx, symbol, assetType, gaps, opts.Limiter, report)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", symbol, err))
			_, _ = c.RecordSyncError(SyncErrPriceUpdate, err.Error(),
				map[string]any{"symbol": symbol, "start": opts.Start, "end": opts.End})
			continue
		}
		if cancelled {
			report.Cancelled = true
			return report, nil
		}
		report.SymbolsProcessed++
	}
	return report, nil
}

func (c *Core) backfillSymbol(ctx context.Context, symbol, assetType string, gaps []GapRange, limiter *rate.Limiter, report *SyncReport) (bool, error) {
	for _, gap := range gaps {
		if ctx.Err() != nil {
			return true, nil
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return true, nil
			}
		}

		points, err := c.oracle.fetchDailyHistory(symbol, assetType, gap.Start, gap.End)
		if err != nil {
			return false, err
		}
		for _, p := range points {
			if err := c.UpsertPricePoint(p); err != nil {
				report.PointsSkipped++
				c.logger.Warn("backfill point rejected", "symbol", symbol, "date", p.Date, "err", err)
				continue
			}
			report.PointsStored++
		}
	}
	return false, nil
}

func (c *Core) autoUpdateSymbols() ([]string, error) {
	rows, err := c.db.Query("SELECT symbol FROM symbols WHERE auto_update = 1 AND asset_type != 'cash' ORDER BY symbol")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}
