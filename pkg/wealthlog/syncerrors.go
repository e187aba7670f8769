package wealthlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordSyncError appends a row to the recovery audit log and returns its
// id. Recording never fails the operation that triggered it; callers
// typically ignore the error here and return their own.
func (c *Core) RecordSyncError(errorType, message string, context map[string]any) (string, error) {
	id := uuid.NewString()

	var contextJSON sql.NullString
	if len(context) > 0 {
		raw, err := json.Marshal(context)
		if err != nil {
			return "", err
		}
		contextJSON = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := c.db.Exec(`
		INSERT INTO sync_errors (id, error_type, message, context, resolved)
		VALUES (?, ?, ?, ?, 0)
	`, id, errorType, message, contextJSON)
	if err != nil {
		c.logger.Error("failed to record sync error", "type", errorType, "err", err)
		return "", err
	}
	c.logger.Warn("sync error recorded", "id", id, "type", errorType, "message", message)
	return id, nil
}

// GetSyncErrors lists audit rows, newest first. Pass unresolvedOnly to
// hide rows that recovery already closed out.
func (c *Core) GetSyncErrors(unresolvedOnly bool, limit int) ([]SyncError, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, error_type, message, context, resolved, resolution, created_at
		FROM sync_errors
	`
	if unresolvedOnly {
		query += " WHERE resolved = 0"
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SyncError
	for rows.Next() {
		var e SyncError
		var context, resolution, createdAt sql.NullString
		var resolved int
		if err := rows.Scan(&e.ID, &e.Type, &e.Message, &context, &resolved, &resolution, &createdAt); err != nil {
			return nil, err
		}
		e.Context = scanNullString(context)
		e.Resolution = scanNullString(resolution)
		e.CreatedAt = scanNullString(createdAt)
		e.Resolved = resolved != 0
		result = append(result, e)
	}
	return result, rows.Err()
}

func (c *Core) getSyncError(id string) (*SyncError, error) {
	var e SyncError
	var context, resolution, createdAt sql.NullString
	var resolved int
	err := c.db.QueryRow(`
		SELECT id, error_type, message, context, resolved, resolution, created_at
		FROM sync_errors
		WHERE id = ?
	`, id).Scan(&e.ID, &e.Type, &e.Message, &context, &resolved, &resolution, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Context = scanNullString(context)
	e.Resolution = scanNullString(resolution)
	e.CreatedAt = scanNullString(createdAt)
	e.Resolved = resolved != 0
	return &e, nil
}

// ResolveSyncError marks an audit row resolved with a short note.
func (c *Core) ResolveSyncError(id, resolution string) error {
	result, err := c.db.Exec(
		"UPDATE sync_errors SET resolved = 1, resolution = ? WHERE id = ?",
		resolution, id,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return NewError(ErrCodeNotFound, fmt.Sprintf("sync error %s not found", id))
	}
	return nil
}

// RecoverSyncError runs the type-specific recovery strategy for one audit
// row. Because reconstruction is idempotent, the strategies for derived
// state are all variants of "replay the log again". Types that need a
// human decision report that instead of attempting anything.
func (c *Core) RecoverSyncError(id string) (*RecoveryResult, error) {
	e, err := c.getSyncError(id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, NewError(ErrCodeNotFound, fmt.Sprintf("sync error %s not found", id))
	}
	if e.Resolved {
		return &RecoveryResult{Success: true, Message: "already resolved"}, nil
	}

	accountID := e.contextValue("account_id")

	switch e.Type {
	case SyncErrHoldings, SyncErrBalance, SyncErrSnapshot:
		if accountID == "" {
			return &RecoveryResult{Success: false, Message: "no account_id in context"}, nil
		}
		if err := c.SyncDerivedState(accountID); err != nil {
			return &RecoveryResult{Success: false, Message: fmt.Sprintf("replay failed: %v", err)}, nil
		}
		if err := c.ResolveSyncError(id, "derived state rebuilt from transaction log"); err != nil {
			return nil, err
		}
		return &RecoveryResult{Success: true, Message: "derived state rebuilt"}, nil

	case SyncErrLotTracking:
		if accountID == "" {
			return &RecoveryResult{Success: false, Message: "no account_id in context"}, nil
		}
		if err := c.RebuildLots(accountID); err != nil {
			return &RecoveryResult{Success: false, Message: fmt.Sprintf("lot rebuild failed: %v", err)}, nil
		}
		if err := c.ResolveSyncError(id, "lots rebuilt from transaction log"); err != nil {
			return nil, err
		}
		return &RecoveryResult{Success: true, Message: "lots rebuilt"}, nil

	case SyncErrPriceUpdate:
		// Transient by nature; the next backfill or quote fetch retries it.
		if err := c.ResolveSyncError(id, "transient price failure, retried on next fetch"); err != nil {
			return nil, err
		}
		return &RecoveryResult{Success: true, Message: "will retry on next price fetch"}, nil

	case SyncErrInsufficient, SyncErrDuplicate, SyncErrDataIntegrity:
		return &RecoveryResult{
			Success: false,
			Message: fmt.Sprintf("%s requires manual review", e.Type),
		}, nil

	default:
		return &RecoveryResult{Success: false, Message: fmt.Sprintf("no recovery strategy for %s", e.Type)}, nil
	}
}

func (e *SyncError) contextValue(key string) string {
	if e.Context == nil {
		return ""
	}
	var ctx map[string]any
	if err := json.Unmarshal([]byte(*e.Context), &ctx); err != nil {
		return ""
	}
	if v, ok := ctx[key].(string); ok {
		return v
	}
	return ""
}

// RetryPolicy retries an operation with linear backoff: the delay before
// attempt n is BaseDelay*n. Sleep is injectable so tests run instantly.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Sleep       func(time.Duration)
}

// Do runs fn until it succeeds or MaxAttempts is exhausted, returning the
// last error.
func (p RetryPolicy) Do(fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt < attempts {
			sleep(p.BaseDelay * time.Duration(attempt))
		}
	}
	return lastErr
}

// RollbackTransaction deletes a ledger row and replays the account's log
// to restore derived state. The deletion itself is recorded in the audit
// log, so the ledger's history of corrections is never silent.
func (c *Core) RollbackTransaction(id int64) error {
	t, err := c.GetTransaction(id)
	if err != nil {
		return err
	}
	if t == nil {
		return NewError(ErrCodeNotFound, fmt.Sprintf("transaction %d not found", id))
	}

	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	deleted, err := deleteTransactionTx(tx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return NewError(ErrCodeNotFound, fmt.Sprintf("transaction %d not found", id))
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	// Audit record, not an error to recover; resolve it immediately.
	if auditID, recErr := c.RecordSyncError(SyncErrRollbackRecord,
		fmt.Sprintf("transaction %d rolled back", id),
		map[string]any{"account_id": t.AccountID, "transaction_id": id, "type": t.Type}); recErr == nil {
		_ = c.ResolveSyncError(auditID, "audit record")
	}

	if err := c.SyncDerivedState(t.AccountID); err != nil {
		return WrapError(ErrCodeSync, "rollback stored but derived state sync failed", err)
	}
	return nil
}
