package subscription

import "errors"

var (
	ErrRecordNotFound     = errors.New("subscription record not found")
	ErrProjectionNotFound = errors.New("user billing projection not found")

	// ErrTrialAlreadyUsed is distinct from a generic transition rejection so
	// callers can route the user to direct purchase instead of a trial.
	ErrTrialAlreadyUsed = errors.New("trial already used for this user")

	ErrSubscriptionExists = errors.New("user already has a current subscription")
	ErrInvalidPlan        = errors.New("invalid subscription plan type")
	ErrMissingSessionID   = errors.New("checkout session id is required")
	ErrNotRecordOwner     = errors.New("subscription record belongs to another user")

	// ErrConcurrentUpdate is returned by compare-and-swap store updates when
	// the record changed since it was read. Callers either retry with a fresh
	// read or skip the record until the next cycle.
	ErrConcurrentUpdate = errors.New("subscription record changed concurrently")

	ErrCheckoutNotComplete = errors.New("checkout session is not complete")
)
