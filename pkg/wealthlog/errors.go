package wealthlog

import (
	"errors"
	"fmt"
)

// ErrorCode defines error classification codes for structured error handling.
type ErrorCode string

// Error codes for different error categories.
const (
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeDatabase     ErrorCode = "DATABASE_ERROR"
	ErrCodeSync         ErrorCode = "SYNC_ERROR"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// Sync error taxonomy. These are the Type values recorded in the
// sync_errors audit log; Recover picks its strategy from them.
const (
	SyncErrHoldings       = "HOLDINGS_SYNC_FAILED"
	SyncErrLotTracking    = "LOT_TRACKING_FAILED"
	SyncErrBalance        = "BALANCE_CALCULATION_FAILED"
	SyncErrPriceUpdate    = "PRICE_UPDATE_FAILED"
	SyncErrSnapshot       = "SNAPSHOT_CREATION_FAILED"
	SyncErrDuplicate      = "DUPLICATE_TRANSACTION"
	SyncErrInsufficient   = "INSUFFICIENT_SHARES"
	SyncErrDataIntegrity  = "DATA_INTEGRITY_VIOLATION"
	SyncErrRollbackRecord = "TRANSACTION_ROLLBACK"
)

// Sentinel errors. Use errors.Is() to check for these conditions.
var (
	// ErrInsufficientShares indicates open lots cannot cover a requested
	// sell. The sell is rejected with no lot rows mutated; there is no
	// automated recovery.
	ErrInsufficientShares = errors.New("insufficient shares in open lots")
	// ErrAccountNotFound indicates the account id is unknown.
	ErrAccountNotFound = errors.New("account not found")
	// ErrNoPriceData indicates no stored or fetchable price exists.
	ErrNoPriceData = errors.New("no price data available")
	// ErrUnknownSymbolType indicates the oracle classifier could not
	// route the symbol.
	ErrUnknownSymbolType = errors.New("unknown symbol type")
)

// Error represents a structured error with classification code.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with classification code and additional context.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsErrorCode checks if an error matches a specific error code.
func IsErrorCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
