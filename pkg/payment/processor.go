package payment

import (
	"context"
	"time"
)

// Processor is the minimal contract with the external payment processor.
// The processor is the system of record for charges, subscriptions, balance
// and payouts; this subsystem only consumes it. Implementations must apply a
// bounded timeout to every call and normalize failures to ErrExternalService
// so callers can treat them as transient.
type Processor interface {
	// CreateCustomer registers a customer and returns the processor's id.
	CreateCustomer(ctx context.Context, email, name string) (string, error)

	// CreateCheckoutSession creates a hosted checkout session for a
	// subscription purchase and returns its id and URL.
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)

	// GetCheckoutSession retrieves a session by id, used to confirm a
	// completed checkout.
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)

	// RetrieveSubscription fetches the processor's subscription object.
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// CancelSubscription cancels the subscription on the processor's side.
	CancelSubscription(ctx context.Context, subscriptionID string) error

	// RetrieveBalance returns the available balance per currency.
	RetrieveBalance(ctx context.Context) (*Balance, error)

	// CreatePayout initiates a transfer of amount (smallest currency unit)
	// to the linked bank account.
	CreatePayout(ctx context.Context, amount int64, currency, description string) (*Payout, error)

	// ListPayouts returns recent payouts, optionally filtered by status.
	ListPayouts(ctx context.Context, limit int64, status PayoutStatus) ([]Payout, error)

	// RetrievePayout fetches a single payout by id.
	// Returns ErrPayoutNotFound if the processor does not know it.
	RetrievePayout(ctx context.Context, payoutID string) (*Payout, error)

	// CancelPayout cancels a payout that has not left the pending state.
	// Returns ErrPayoutNotCancelable for payouts already in transit or
	// settled.
	CancelPayout(ctx context.Context, payoutID string) (*Payout, error)

	// PayoutSettings reports whether payouts are enabled for the account and
	// which bank account they land on.
	PayoutSettings(ctx context.Context) (*PayoutSettings, error)

	// VerifyWebhook checks the signature of a raw webhook delivery and
	// returns the normalized event. Returns ErrInvalidSignature or
	// ErrMalformedPayload without any side effects on failure.
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// CheckoutSessionRequest carries everything needed to open a hosted checkout.
type CheckoutSessionRequest struct {
	CustomerID string // processor's customer id
	PriceID    string // processor's price id for the chosen plan
	UserRef    string // internal user id, round-tripped via session metadata
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the processor's hosted checkout session.
type CheckoutSession struct {
	ID             string
	URL            string
	Complete       bool
	CustomerID     string
	SubscriptionID string
	UserRef        string
}

// Subscription mirrors the fields of the processor's subscription object
// that this subsystem reads.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
}

// Balance is the account balance held at the processor.
type Balance struct {
	Available []BalanceAmount
}

// BalanceAmount is a per-currency available amount in the smallest unit.
type BalanceAmount struct {
	Amount   int64
	Currency string
}

// AvailableIn returns the available amount for a settlement currency,
// or zero when the processor holds nothing in it.
func (b *Balance) AvailableIn(currency string) int64 {
	for _, a := range b.Available {
		if a.Currency == currency {
			return a.Amount
		}
	}
	return 0
}

// PayoutStatus is the processor-reported payout state.
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutInTransit PayoutStatus = "in_transit"
	PayoutPaid      PayoutStatus = "paid"
	PayoutCanceled  PayoutStatus = "canceled"
	PayoutFailed    PayoutStatus = "failed"
)

// Payout reflects the processor's payout ledger entry. It is not persisted
// by this subsystem beyond what the processor returns.
type Payout struct {
	ID          string
	Amount      int64
	Currency    string
	Status      PayoutStatus
	Description string
	CreatedAt   time.Time
	ArrivalDate time.Time
}

// PayoutSettings describes the account's payout capability.
type PayoutSettings struct {
	Enabled     bool
	BankName    string
	BankLast4   string
	Interval    string // processor-side automatic schedule, if any
	DisabledFor string // processor's reason when Enabled is false
}

// EventType is the closed set of webhook event kinds this subsystem reacts
// to. Anything else normalizes to EventUnrecognized and is acked untouched,
// never rejected, so unknown types cannot trigger processor retries.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout_completed"
	EventPaymentSucceeded    EventType = "payment_succeeded"
	EventPaymentFailed       EventType = "payment_failed"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	EventUnrecognized        EventType = "unrecognized"
)

// WebhookEvent is a signature-verified, normalized processor event.
// Deliveries are at-least-once and may arrive duplicated or out of order;
// ID is the processor's delivery identifier used for deduplication.
type WebhookEvent struct {
	ID             string
	Type           EventType
	ProviderType   string // original processor event name, for logs
	SubscriptionID string
	CustomerID     string
	PriceID        string
	PeriodEnd      time.Time
	OccurredAt     time.Time
}
