package payment

import "errors"

var (
	// ErrInvalidSignature means the webhook delivery failed signature
	// verification. The caller must respond 4xx with zero side effects.
	ErrInvalidSignature = errors.New("webhook signature verification failed")

	// ErrMalformedPayload means the webhook body could not be parsed.
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrExternalService wraps processor call failures and timeouts.
	// Safe to retry at the caller; never a transition failure.
	ErrExternalService = errors.New("payment processor call failed")

	ErrPayoutNotFound = errors.New("payout not found")

	// ErrPayoutNotCancelable is surfaced distinctly from generic failures
	// when a cancel is attempted on a payout past the pending state.
	ErrPayoutNotCancelable = errors.New("payout is no longer cancelable")

	ErrMissingAPIKey        = errors.New("processor API key is required")
	ErrMissingWebhookSecret = errors.New("processor webhook secret is required")
)
