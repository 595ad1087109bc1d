package payout

import "errors"

var (
	// ErrPayoutsDisabled is returned when the processor account cannot
	// receive payouts.
	ErrPayoutsDisabled = errors.New("payouts are disabled for this account")

	// ErrInvalidAmount is returned for manual payout amounts that are not
	// strictly positive.
	ErrInvalidAmount = errors.New("payout amount must be positive")

	// ErrInsufficientBalance is returned when a manual payout exceeds what the
	// operating buffer leaves available.
	ErrInsufficientBalance = errors.New("payout amount exceeds available balance after buffer")

	// ErrNothingToPayOut is returned by scheduled runs when the buffered
	// balance rounds down to zero.
	ErrNothingToPayOut = errors.New("no balance available to pay out")
)
