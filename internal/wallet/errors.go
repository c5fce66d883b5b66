package wallet

import "errors"

var (
	// ErrInsufficientBalance is an expected business condition, not a
	// system fault. No ledger row is written when it is returned.
	ErrInsufficientBalance = errors.New("insufficient credit balance")

	// ErrWalletNotFound indicates a wallet ID that does not exist. With
	// get-or-create callers this should not occur in practice.
	ErrWalletNotFound = errors.New("wallet not found")
)
