package domain

import "errors"

var (
	ErrAccountNotFound           = errors.New("account not found")
	ErrTransactionNotFound       = errors.New("transaction not found")
	ErrAlreadyCancelled          = errors.New("transaction already cancelled")
	ErrInvalidCancellationTarget = errors.New("cancellation cannot be cancelled")
	ErrNotATransfer              = errors.New("transaction is not a transfer")
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrInvalidSource             = errors.New("invalid transaction source")
	ErrCurrencyMismatch          = errors.New("currency does not match account")
	ErrSameAccount               = errors.New("source and destination accounts are the same")
)
