package wealthlog

import (
	"database/sql"
	"fmt"
)

// UpsertPricePoint stores an OHLC entry keyed by (symbol, date). The
// write only replaces an existing row when the incoming quality is at
// least as high: a fetch never downgrades stored data.
func (c *Core) UpsertPricePoint(p PricePoint) error {
	p.Symbol = normalizeSymbol(p.Symbol)
	if p.Symbol == "" {
		return NewError(ErrCodeValidation, "symbol required")
	}
	if _, ok := parseISODate(p.Date); !ok {
		return NewError(ErrCodeValidation, fmt.Sprintf("invalid date: %s", p.Date))
	}
	if p.Quality <= QualityMissing || p.Quality > QualityReal {
		return NewError(ErrCodeValidation, fmt.Sprintf("invalid quality: %v", p.Quality))
	}

	var volume sql.NullFloat64
	if p.Volume != nil {
		volume = sql.NullFloat64{Float64: *p.Volume, Valid: true}
	}
	_, err := c.db.Exec(`
		INSERT INTO price_history (symbol, date, open, high, low, close, volume, source, quality)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			source = excluded.source,
			quality = excluded.quality
		WHERE excluded.quality >= price_history.quality
	`, p.Symbol, p.Date, p.Open, p.High, p.Low, p.Close, volume, p.Source, p.Quality)
	return err
}

// GetPrice answers a point-in-time lookup. An exact row is returned with
// its stored quality. With no exact row the store estimates: closest
// prior close when nothing later exists (forward-fill), closest later
// close when nothing earlier exists (backward-fill), both at quality
// 0.7, or a linear interpolation between the two neighbors at 0.5.
func (c *Core) GetPrice(symbol, date string) (*PriceQuote, error) {
	symbol = normalizeSymbol(symbol)
	target, ok := parseISODate(date)
	if !ok {
		return nil, NewError(ErrCodeValidation, fmt.Sprintf("invalid date: %s", date))
	}

	var exact PricePoint
	err := c.db.QueryRow(
		"SELECT close, source, quality FROM price_history WHERE symbol = ? AND date = ?",
		symbol, date,
	).Scan(&exact.Close, &exact.Source, &exact.Quality)
	if err == nil {
		return &PriceQuote{Symbol: symbol, Date: date, Price: exact.Close, Quality: exact.Quality, Source: exact.Source}, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	before, beforeOK, err := c.nearestPrice(symbol, date, true)
	if err != nil {
		return nil, err
	}
	after, afterOK, err := c.nearestPrice(symbol, date, false)
	if err != nil {
		return nil, err
	}

	switch {
	case beforeOK && !afterOK:
		return &PriceQuote{Symbol: symbol, Date: date, Price: before.Close, Quality: QualityFilled, Source: "forward-fill"}, nil
	case afterOK && !beforeOK:
		return &PriceQuote{Symbol: symbol, Date: date, Price: after.Close, Quality: QualityFilled, Source: "backward-fill"}, nil
	case beforeOK && afterOK:
		beforeDate, _ := parseISODate(before.Date)
		afterDate, _ := parseISODate(after.Date)
		total := daysBetween(beforeDate, afterDate)
		if total <= 0 {
			return &PriceQuote{Symbol: symbol, Date: date, Price: before.Close, Quality: QualityFilled, Source: "forward-fill"}, nil
		}
		elapsed := daysBetween(beforeDate, target)
		price := before.Close + (after.Close-before.Close)*(float64(elapsed)/float64(total))
		return &PriceQuote{Symbol: symbol, Date: date, Price: price, Quality: QualityInterpolated, Source: "interpolated"}, nil
	default:
		return nil, fmt.Errorf("price for %s on %s: %w", symbol, date, ErrNoPriceData)
	}
}

func (c *Core) nearestPrice(symbol, date string, before bool) (PricePoint, bool, error) {
	query := "SELECT date, close FROM price_history WHERE symbol = ? AND date < ? ORDER BY date DESC LIMIT 1"
	if !before {
		query = "SELECT date, close FROM price_history WHERE symbol = ? AND date > ? ORDER BY date ASC LIMIT 1"
	}
	var p PricePoint
	err := c.db.QueryRow(query, symbol, date).Scan(&p.Date, &p.Close)
	if err == sql.ErrNoRows {
		return PricePoint{}, false, nil
	}
	if err != nil {
		return PricePoint{}, false, err
	}
	p.Symbol = symbol
	return p, true, nil
}

// FindGaps walks the calendar from start to end and reports contiguous
// runs of weekdays with no stored price. Saturdays and Sundays are
// non-trading days and never count as gaps.
func (c *Core) FindGaps(symbol, start, end string) ([]GapRange, error) {
	symbol = normalizeSymbol(symbol)
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

	rows, err := c.db.Query(
		"SELECT date FROM price_history WHERE symbol = ? AND date >= ? AND date <= ?",
		symbol, start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	known := map[string]struct{}{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		known[d] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var gaps []GapRange
	var current *GapRange
	for d := startDate; !d.After(endDate); d = d.AddDate(0, 0, 1) {
		if isWeekend(d) {
			continue
		}
		iso := d.Format(isoDate)
		if _, ok := known[iso]; ok {
			if current != nil {
				gaps = append(gaps, *current)
				current = nil
			}
			continue
		}
		if current == nil {
			current = &GapRange{Start: iso, End: iso, Days: 1}
		} else {
			current.End = iso
			current.Days++
		}
	}
	if current != nil {
		gaps = append(gaps, *current)
	}
	return gaps, nil
}

// GetPriceHistory returns stored points for a symbol within a range,
// oldest first.
func (c *Core) GetPriceHistory(symbol, start, end string) ([]PricePoint, error) {
	rows, err := c.db.Query(`
		SELECT symbol, date, open, high, low, close, volume, source, quality
		FROM price_history
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, normalizeSymbol(symbol), start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []PricePoint
	for rows.Next() {
		var p PricePoint
		var volume sql.NullFloat64
		if err := rows.Scan(&p.Symbol, &p.Date, &p.Open, &p.High, &p.Low, &p.Close, &volume, &p.Source, &p.Quality); err != nil {
			return nil, err
		}
		if volume.Valid {
			v := volume.Float64
			p.Volume = &v
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
