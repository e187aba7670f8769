package wealthlog

import (
	"database/sql"
	"fmt"
)

// AddAccount inserts a new account.
func (c *Core) AddAccount(account Account) (bool, error) {
	if account.AccountID == "" || account.AccountName == "" {
		return false, fmt.Errorf("account_id and account_name are required")
	}
	_, err := c.db.Exec(`
		INSERT INTO accounts (account_id, account_name, broker, balance)
		VALUES (?, ?, ?, ?)
	`, account.AccountID, account.AccountName, nullString(account.Broker), account.Balance)
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetAccount fetches a single account by ID.
func (c *Core) GetAccount(accountID string) (*Account, error) {
	row := c.db.QueryRow("SELECT account_id, account_name, broker, balance, created_at FROM accounts WHERE account_id = ?", accountID)
	var acc Account
	var broker, createdAt sql.NullString
	if err := row.Scan(&acc.AccountID, &acc.AccountName, &broker, &acc.Balance, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	acc.Broker = scanNullString(broker)
	acc.CreatedAt = scanNullString(createdAt)
	return &acc, nil
}

// GetAccounts returns all accounts.
func (c *Core) GetAccounts() ([]Account, error) {
	rows, err := c.db.Query("SELECT account_id, account_name, broker, balance, created_at FROM accounts ORDER BY account_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var acc Account
		var broker, createdAt sql.NullString
		if err := rows.Scan(&acc.AccountID, &acc.AccountName, &broker, &acc.Balance, &createdAt); err != nil {
			return nil, err
		}
		acc.Broker = scanNullString(broker)
		acc.CreatedAt = scanNullString(createdAt)
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// SetAccountBalance overwrites the stored balance for an account. Used by
// reconciliation auto-fixes and external balance imports.
func (c *Core) SetAccountBalance(accountID string, balance Amount) error {
	result, err := c.db.Exec("UPDATE accounts SET balance = ? WHERE account_id = ?", balance, accountID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// CheckAccountInUse returns true if the account has transactions.
func (c *Core) CheckAccountInUse(accountID string) (bool, error) {
	var count int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM transactions WHERE account_id = ?", accountID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteAccount deletes an account if unused.
func (c *Core) DeleteAccount(accountID string) (bool, string, error) {
	inUse, err := c.CheckAccountInUse(accountID)
	if err != nil {
		return false, "", err
	}
	if inUse {
		return false, "account has transactions", nil
	}
	result, err := c.db.Exec("DELETE FROM accounts WHERE account_id = ?", accountID)
	if err != nil {
		return false, "", err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, "", err
	}
	if affected == 0 {
		return false, "account not found", nil
	}
	return true, "", nil
}
