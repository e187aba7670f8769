package wealthlog

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// amountTolerance is the allowed absolute difference between a supplied
// amount and quantity*price before a trade is rejected as inconsistent.
var amountTolerance = decimal.NewFromFloat(0.01)

// AddTransaction validates and appends a transaction, then rebuilds the
// derived state (lots, holdings) for the affected account.
//
// Validation failures block persistence and are returned with
// ErrCodeValidation. If the append succeeds but derived-state
// maintenance fails, the transaction row is kept, the failure is
// recorded in the sync_errors audit log, and the error is returned
// alongside the new id; recovery replays the log.
func (c *Core) AddTransaction(req AddTransactionRequest) (int64, error) {
	if err := c.validateTransaction(&req); err != nil {
		return 0, err
	}

	tx, err := c.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	symbol := ""
	if req.Symbol != "" {
		symbol, _, err = c.ensureSymbol(tx, req.Symbol, req.AssetType)
		if err != nil {
			return 0, WrapError(ErrCodeValidation, "invalid symbol", err)
		}
	}

	result, err := tx.Exec(`
		INSERT INTO transactions (account_id, symbol, transaction_type, quantity, price, amount, transaction_date, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		req.AccountID,
		nullString(stringPtr(symbol)),
		req.Type,
		req.Quantity,
		req.Price,
		*req.Amount,
		req.Date,
		nullString(req.Metadata),
	)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	c.undo.Push(UndoEntry{TransactionID: id, AccountID: req.AccountID})

	if err := c.SyncDerivedState(req.AccountID); err != nil {
		c.logger.Error("derived state sync failed after append", "account", req.AccountID, "transaction", id, "err", err)
		return id, WrapError(ErrCodeSync, "transaction stored but derived state sync failed", err)
	}
	return id, nil
}

// validateTransaction normalizes the request in place and enforces the
// validation tier: malformed input never reaches the ledger.
func (c *Core) validateTransaction(req *AddTransactionRequest) error {
	if req.AccountID == "" {
		return NewError(ErrCodeValidation, "account_id required")
	}
	account, err := c.GetAccount(req.AccountID)
	if err != nil {
		return err
	}
	if account == nil {
		return WrapError(ErrCodeValidation, fmt.Sprintf("account %s", req.AccountID), ErrAccountNotFound)
	}
	if req.Type == "" {
		return NewError(ErrCodeValidation, "transaction_type required")
	}
	req.Type = strings.ToUpper(strings.TrimSpace(req.Type))
	if !isValidTransactionType(req.Type) {
		return NewError(ErrCodeValidation, fmt.Sprintf("invalid transaction_type: %s", req.Type))
	}
	if req.Date == "" {
		req.Date = todayISO()
	}
	if _, ok := parseISODate(req.Date); !ok {
		return NewError(ErrCodeValidation, fmt.Sprintf("invalid transaction_date: %s", req.Date))
	}
	req.Symbol = normalizeSymbol(req.Symbol)

	switch req.Type {
	case "BUY", "SELL":
		if req.Symbol == "" {
			return NewError(ErrCodeValidation, "symbol required for trades")
		}
		if req.Quantity == nil || !req.Quantity.IsPositive() {
			return NewError(ErrCodeValidation, "quantity must be positive")
		}
		if req.Price == nil || !req.Price.IsPositive() {
			return NewError(ErrCodeValidation, "price must be positive")
		}
		gross := req.Quantity.Mul(req.Price.Decimal)
		if req.Amount != nil {
			if req.Amount.Abs().Sub(gross).Abs().Cmp(amountTolerance) > 0 {
				return NewError(ErrCodeValidation, fmt.Sprintf(
					"amount %s does not match quantity*price %s", req.Amount.String(), gross.String()))
			}
		}
		// Cash flow is signed: buys consume cash, sells produce it.
		signed := gross
		if req.Type == "BUY" {
			signed = gross.Neg()
		}
		req.Amount = amountPtr(Amount{signed})
	case "SPLIT":
		if req.Symbol == "" {
			return NewError(ErrCodeValidation, "symbol required for splits")
		}
		if req.Quantity == nil || !req.Quantity.IsPositive() {
			return NewError(ErrCodeValidation, "quantity must be positive")
		}
		req.Amount = amountPtr(Amount{decimal.Zero})
	case "DIVIDEND":
		if req.Symbol == "" {
			return NewError(ErrCodeValidation, "symbol required for dividends")
		}
		if req.Amount == nil || !req.Amount.IsPositive() {
			return NewError(ErrCodeValidation, "amount must be positive")
		}
	case "DEPOSIT":
		if req.Amount == nil || !req.Amount.IsPositive() {
			return NewError(ErrCodeValidation, "amount must be positive")
		}
	case "WITHDRAWAL", "FEE":
		if req.Amount == nil || req.Amount.IsZero() {
			return NewError(ErrCodeValidation, "amount required")
		}
		// Stored as a negative cash flow regardless of input sign.
		req.Amount = amountPtr(Amount{req.Amount.Abs().Neg()})
	}
	return nil
}

// GetTransaction fetches a single transaction by ID.
func (c *Core) GetTransaction(id int64) (*Transaction, error) {
	row := c.db.QueryRow(`
		SELECT id, account_id, symbol, transaction_type, quantity, price, amount, transaction_date, metadata, created_at
		FROM transactions
		WHERE id = ?
	`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetTransactions returns transactions matching the filter, newest first.
func (c *Core) GetTransactions(filter TransactionFilter) ([]Transaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := strings.Builder{}
	query.WriteString(`
		SELECT id, account_id, symbol, transaction_type, quantity, price, amount, transaction_date, metadata, created_at
		FROM transactions
		WHERE 1=1
	`)
	params := []any{}

	if filter.AccountID != "" {
		query.WriteString(" AND account_id = ?")
		params = append(params, filter.AccountID)
	}
	if filter.Symbol != "" {
		query.WriteString(" AND symbol = ?")
		params = append(params, normalizeSymbol(filter.Symbol))
	}
	if filter.Type != "" {
		query.WriteString(" AND transaction_type = ?")
		params = append(params, strings.ToUpper(filter.Type))
	}
	if filter.StartDate != "" {
		query.WriteString(" AND transaction_date >= ?")
		params = append(params, filter.StartDate)
	}
	if filter.EndDate != "" {
		query.WriteString(" AND transaction_date <= ?")
		params = append(params, filter.EndDate)
	}

	query.WriteString(" ORDER BY transaction_date DESC, id DESC LIMIT ? OFFSET ?")
	params = append(params, limit, offset)

	rows, err := c.db.Query(query.String(), params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *t)
	}
	return results, rows.Err()
}

// accountTransactionsAsc returns the full ordered replay log for an
// account: non-decreasing date with insertion order as the tie-break.
// This ordering is what makes reconstruction deterministic.
func (c *Core) accountTransactionsAsc(accountID string) ([]Transaction, error) {
	rows, err := c.db.Query(`
		SELECT id, account_id, symbol, transaction_type, quantity, price, amount, transaction_date, metadata, created_at
		FROM transactions
		WHERE account_id = ?
		ORDER BY transaction_date ASC, id ASC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *t)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var t Transaction
	var symbol, metadata, createdAt sql.NullString
	var quantity, price sql.NullFloat64
	if err := row.Scan(&t.ID, &t.AccountID, &symbol, &t.Type, &quantity, &price, &t.Amount, &t.Date, &metadata, &createdAt); err != nil {
		return nil, err
	}
	t.Symbol = scanNullString(symbol)
	t.Metadata = scanNullString(metadata)
	t.CreatedAt = scanNullString(createdAt)
	if quantity.Valid {
		t.Quantity = amountPtr(NewAmount(quantity.Float64))
	}
	if price.Valid {
		t.Price = amountPtr(NewAmount(price.Float64))
	}
	return &t, nil
}

// annotateTransactionMetadata writes the audit annotation onto a stored
// transaction. This is the only mutation the ledger permits after append.
func annotateTransactionMetadata(tx *sql.Tx, id int64, metadata string) error {
	_, err := tx.Exec("UPDATE transactions SET metadata = ? WHERE id = ?", metadata, id)
	return err
}

// deleteTransactionTx removes a transaction row. Only the rollback path
// may call this; reconstruction never deletes ledger rows.
func deleteTransactionTx(tx *sql.Tx, id int64) (bool, error) {
	result, err := tx.Exec("DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
