package domain

import "errors"

var (
	// ErrAuth indicates credentials that are missing, expired, or revoked.
	// Recovery requires the user to re-authorize the connection; automated
	// retries must not be attempted.
	ErrAuth = errors.New("authorization required")

	// ErrTransient marks provider failures (network errors, 5xx, rate
	// limits) that are safe to retry with backoff.
	ErrTransient = errors.New("transient provider error")

	// ErrValidation marks a single malformed record. The record is skipped
	// and the batch continues.
	ErrValidation = errors.New("record validation failed")

	// ErrStorage wraps persistence-layer write failures.
	ErrStorage = errors.New("storage error")

	// ErrNotFound is returned when a user, connection, or credential cannot
	// be located.
	ErrNotFound = errors.New("not found")
)
