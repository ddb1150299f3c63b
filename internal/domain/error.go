package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context for query")

	// Store reconciliation errors
	ErrMissingStoreCredentials = errors.New("store credentials not configured")
	ErrProductNotRecognized    = errors.New("store product has no matching product configuration")
	ErrStoreUnavailable        = errors.New("store API temporarily unavailable")
	ErrTransactionNotFound     = errors.New("transaction not found in store")
)
