package patch

import (
	"context"
	"errors"
	"fmt"
)

// Patch error kinds. Every error returned by the engine wraps one of these.
var (
	// ErrNoKeyProperty is returned when a model has neither a primary key
	// nor a unique index
	ErrNoKeyProperty = errors.New("model must have at least one key property")

	// ErrUnknownType is returned when a model is not registered or has no
	// backing storage
	ErrUnknownType = errors.New("unknown record type")

	// ErrValidationFailed is returned when a patched record is rejected
	ErrValidationFailed = errors.New("validation failed")

	// ErrStore is returned when a store round trip fails
	ErrStore = errors.New("store failure")

	// ErrCancelled is returned when the context ends before the patch
	// is committed
	ErrCancelled = errors.New("patch cancelled")

	// ErrUnsupportedKey is returned when a key generator cannot produce a
	// value for a field type
	ErrUnsupportedKey = errors.New("key generator does not support field type")

	// ErrInvalidInput is returned when an input cannot be turned into a delta
	ErrInvalidInput = errors.New("invalid patch input")

	// ErrHookFailed is returned when a before-stage hook rejects a record
	ErrHookFailed = errors.New("hook failed")
)

// IsNoKeyProperty checks if an error is a missing key error
func IsNoKeyProperty(err error) bool {
	return errors.Is(err, ErrNoKeyProperty)
}

// IsUnknownType checks if an error is an unknown type error
func IsUnknownType(err error) bool {
	return errors.Is(err, ErrUnknownType)
}

// IsValidationFailed checks if an error is a validation error
func IsValidationFailed(err error) bool {
	return errors.Is(err, ErrValidationFailed)
}

// IsStoreFailure checks if an error is a store error
func IsStoreFailure(err error) bool {
	return errors.Is(err, ErrStore)
}

// IsCancelled checks if an error is a cancellation
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// storeError wraps an error returned by a store. Context errors surfacing
// from the store are cancellations.
func storeError(err error, format string, args ...interface{}) error {
	action := fmt.Sprintf(format, args...)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrCancelled, action, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStore, action, err)
}
