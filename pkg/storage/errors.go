package storage

import "errors"

// ErrInsufficientFunds is returned when a debit would drive a balance category below zero.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrConcurrencyConflict is returned when a balance changed between read and write.
// Callers must retry the whole operation; stores never resolve it silently.
var ErrConcurrencyConflict = errors.New("balance changed concurrently")

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when a create would overwrite an existing record.
var ErrAlreadyExists = errors.New("already exists")

// ErrAlreadyOwned is returned when a purchase record for the (buyer, item) pair already exists.
var ErrAlreadyOwned = errors.New("item already owned")

// ErrIntentAlreadySettled is returned when an intent can no longer take the
// requested transition: it is settled, closed, or reserved for a refund.
var ErrIntentAlreadySettled = errors.New("payment intent already settled")
