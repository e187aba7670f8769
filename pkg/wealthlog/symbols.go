package wealthlog

import (
	"database/sql"
	"fmt"
)

// GetSymbols returns all symbols.
func (c *Core) GetSymbols() ([]Symbol, error) {
	rows, err := c.db.Query(`
		SELECT id, symbol, name, asset_type, auto_update
		FROM symbols
		ORDER BY symbol
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []Symbol
	for rows.Next() {
		var s Symbol
		var name sql.NullString
		if err := rows.Scan(&s.ID, &s.Symbol, &name, &s.AssetType, &s.AutoUpdate); err != nil {
			return nil, err
		}
		s.Name = scanNullString(name)
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// GetSymbolMetadata fetches a symbol by code.
func (c *Core) GetSymbolMetadata(symbol string) (*Symbol, error) {
	symbol = normalizeSymbol(symbol)
	row := c.db.QueryRow("SELECT id, symbol, name, asset_type, auto_update FROM symbols WHERE symbol = ?", symbol)
	var s Symbol
	var name sql.NullString
	if err := row.Scan(&s.ID, &s.Symbol, &name, &s.AssetType, &s.AutoUpdate); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	s.Name = scanNullString(name)
	return &s, nil
}

// ensureSymbol registers a symbol on first use, updating its asset type
// when an explicit one is supplied.
func (c *Core) ensureSymbol(tx *sql.Tx, symbol, assetType string) (string, string, error) {
	normalized := normalizeSymbol(symbol)
	assetType = normalizeAssetType(assetType)
	if assetType != "" && !isValidAssetType(assetType) {
		return "", "", fmt.Errorf("invalid asset_type: %s", assetType)
	}

	var current string
	err := tx.QueryRow("SELECT asset_type FROM symbols WHERE symbol = ?", normalized).Scan(&current)
	if err == nil {
		if assetType != "" && current != assetType {
			if _, err := tx.Exec("UPDATE symbols SET asset_type = ? WHERE symbol = ?", assetType, normalized); err != nil {
				return "", "", err
			}
			current = assetType
		}
		return normalized, current, nil
	}
	if err != sql.ErrNoRows {
		return "", "", err
	}

	if assetType == "" {
		assetType = "stock"
	}
	if _, err := tx.Exec("INSERT INTO symbols (symbol, asset_type) VALUES (?, ?)", normalized, assetType); err != nil {
		return "", "", err
	}
	return normalized, assetType, nil
}

// symbolAssetType resolves the stored asset type, defaulting to stock.
func (c *Core) symbolAssetType(symbol string) string {
	meta, err := c.GetSymbolMetadata(symbol)
	if err != nil || meta == nil {
		return "stock"
	}
	return meta.AssetType
}

// SetSymbolAutoUpdate toggles backfill participation for a symbol.
func (c *Core) SetSymbolAutoUpdate(symbol string, autoUpdate bool) error {
	value := 0
	if autoUpdate {
		value = 1
	}
	result, err := c.db.Exec("UPDATE symbols SET auto_update = ? WHERE symbol = ?", value, normalizeSymbol(symbol))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return NewError(ErrCodeNotFound, fmt.Sprintf("symbol not found: %s", symbol))
	}
	return nil
}
