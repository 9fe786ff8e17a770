package services

import "errors"

// Error taxonomy surfaced to callers. Handlers map these onto HTTP statuses;
// anything not listed here is treated as an internal failure.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountNotActive    = errors.New("account is frozen or suspended")
	ErrAccountNotFound     = errors.New("account not found")
	ErrCooldownActive      = errors.New("cooldown active")
	ErrInvalidAmount       = errors.New("amount outside configured bounds")
	ErrVaultNotUnlockable  = errors.New("vault unlock time has not elapsed")
	ErrVaultNotFound       = errors.New("vault not found")
	ErrTransactionConflict = errors.New("transaction write conflict") // transient, retried internally
	ErrRequirementNotMet   = errors.New("mission prerequisites not met")
	ErrProcessingFailure   = errors.New("event processing failure") // transient, retried by reprocessing sweep
	ErrValidationError     = errors.New("validation error")
	ErrNoValidRecipients   = errors.New("no valid recipients for distribution")
	ErrTxNotFound          = errors.New("transaction not found")
	ErrAlreadyReversed     = errors.New("transaction already reversed")
)
