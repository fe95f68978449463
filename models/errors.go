package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrStockExceeded      = errors.New("stock exceeded")
	ErrAuthRequired       = errors.New("authentication required")
	ErrNetwork            = errors.New("network error")
	ErrSyncPartialFailure = errors.New("sync partial failure")
)

// ValidationError 表示輸入不合法，操作被拒絕且狀態不變
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StockExceededError 表示請求的數量超過可用庫存
type StockExceededError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *StockExceededError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *StockExceededError) Is(target error) bool {
	return target == ErrStockExceeded
}

// AuthRequiredError is returned when an operation needs an authenticated session.
type AuthRequiredError struct {
	Op string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("%s requires an authenticated session", e.Op)
}

func (e *AuthRequiredError) Is(target error) bool {
	return target == ErrAuthRequired
}

// NetworkError wraps transport, timeout and upstream failures. State is never
// mutated when one is returned; retrying is up to the caller.
type NetworkError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

type EntryFailure struct {
	Entry CartEntry
	Err   error
}

// SyncPartialFailure lists the local entries that could not be merged into
// the remote cart. It is a warning: the session is synced anyway.
type SyncPartialFailure struct {
	Failures []EntryFailure
}

func (e *SyncPartialFailure) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("product %d: %v", f.Entry.ProductID, f.Err))
	}
	return fmt.Sprintf("%d cart entries failed to sync: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *SyncPartialFailure) Is(target error) bool {
	return target == ErrSyncPartialFailure
}

func (e *SyncPartialFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// FailedEntries returns the entries the caller may want to re-add.
func (e *SyncPartialFailure) FailedEntries() []CartEntry {
	entries := make([]CartEntry, 0, len(e.Failures))
	for _, f := range e.Failures {
		entries = append(entries, f.Entry)
	}
	return entries
}
