package payments

import "errors"

var (
	// ErrPaymentNotFound means no payment record exists for the given ID
	ErrPaymentNotFound = errors.New("payment record not found")

	// ErrVerificationFailed means the gateway signature did not match.
	// The record is marked failed and no wallet mutation happens.
	ErrVerificationFailed = errors.New("payment verification failed")

	// ErrPackageNotFound rejects purchases of unknown credit packages
	ErrPackageNotFound = errors.New("credit package not found")

	// ErrUnknownGateway rejects orders against an unconfigured gateway
	ErrUnknownGateway = errors.New("unknown payment gateway")

	// ErrInvalidAward rejects non-positive or untyped admin awards
	ErrInvalidAward = errors.New("invalid credit award")
)
