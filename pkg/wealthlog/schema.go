package wealthlog

import "database/sql"

// Domain dates (transaction_date, purchase_date, price_history.date) are
// TEXT holding ISO YYYY-MM-DD. The driver materializes DATE-typed columns
// as time values, which breaks string comparison and map keying.
func initDatabase(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS accounts (
			account_id TEXT PRIMARY KEY,
			account_name TEXT NOT NULL,
			broker TEXT,
			balance REAL NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS symbols (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL UNIQUE,
			name TEXT,
			asset_type TEXT NOT NULL DEFAULT 'stock' CHECK(asset_type IN ('stock', 'etf', 'crypto', 'cash')),
			auto_update INTEGER DEFAULT 1
		)
	`); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id TEXT NOT NULL,
			symbol TEXT,
			transaction_type TEXT NOT NULL CHECK(transaction_type IN ('BUY', 'SELL', 'DIVIDEND', 'DEPOSIT', 'WITHDRAWAL', 'FEE', 'SPLIT')),
			quantity REAL,
			price REAL,
			amount REAL NOT NULL,
			transaction_date TEXT NOT NULL,
			metadata TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(account_id) REFERENCES accounts(account_id) ON UPDATE CASCADE ON DELETE RESTRICT
		)
	`); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS holdings (
			account_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			asset_type TEXT NOT NULL DEFAULT 'stock',
			quantity REAL NOT NULL,
			cost_basis REAL NOT NULL,
			current_price REAL NOT NULL DEFAULT 0,
			price_source TEXT NOT NULL DEFAULT '',
			current_value REAL NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY(account_id, symbol)
		)
	`); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS lots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			purchase_date TEXT NOT NULL,
			quantity REAL NOT NULL,
			quantity_remaining REAL NOT NULL CHECK(quantity_remaining >= 0),
			cost_per_share REAL NOT NULL,
			total_cost REAL NOT NULL,
			source_transaction_id INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'open' CHECK(status IN ('open', 'closed'))
		)
	`); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS price_history (
			symbol TEXT NOT NULL,
			date TEXT NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume REAL,
			source TEXT NOT NULL DEFAULT '',
			quality REAL NOT NULL DEFAULT 1.0,
			PRIMARY KEY(symbol, date)
		)
	`); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS sync_errors (
			id TEXT PRIMARY KEY,
			error_type TEXT NOT NULL,
			message TEXT NOT NULL,
			context TEXT,
			resolved INTEGER NOT NULL DEFAULT 0,
			resolution TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return err
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_txn_account ON transactions(account_id)",
		"CREATE INDEX IF NOT EXISTS idx_txn_symbol ON transactions(symbol)",
		"CREATE INDEX IF NOT EXISTS idx_txn_date ON transactions(transaction_date)",
		"CREATE INDEX IF NOT EXISTS idx_txn_type ON transactions(transaction_type)",
		"CREATE INDEX IF NOT EXISTS idx_lots_scope ON lots(account_id, symbol, status)",
		"CREATE INDEX IF NOT EXISTS idx_lots_date ON lots(purchase_date)",
		"CREATE INDEX IF NOT EXISTS idx_prices_symbol ON price_history(symbol, date)",
		"CREATE INDEX IF NOT EXISTS idx_sync_errors_type ON sync_errors(error_type)",
	}
	for _, idx := range indexes {
		if err := exec(tx, idx); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func exec(tx *sql.Tx, query string) error {
	_, err := tx.Exec(query)
	return err
}
