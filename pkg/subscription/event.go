package subscription

import "time"

// Event is a state-machine input. The set of variants is closed: external
// payloads are normalized into one of these before they reach the state
// machine, and unrecognized payloads never produce an Event at all.
type Event interface {
	// Name returns a stable identifier used in logs and errors.
	Name() string

	isEvent()
}

// StartTrial begins the one-per-lifetime trial for a user without a record.
type StartTrial struct {
	Now time.Time
}

// CheckoutCompleted activates a subscription after a successful checkout,
// either converting an existing trial record or starting from none.
type CheckoutCompleted struct {
	Plan                   PlanType
	ExternalCustomerID     string
	ExternalSubscriptionID string
	PeriodStart            time.Time
	PeriodEnd              time.Time
	Now                    time.Time
}

// PaymentSucceeded records a renewal payment. Events whose period end does
// not advance the record are stale duplicates and are absorbed.
type PaymentSucceeded struct {
	PeriodEnd time.Time
	Now       time.Time
}

// PaymentFailed flags the record as at risk without revoking access.
type PaymentFailed struct {
	Now time.Time
}

// CancelRequested is a user-initiated cancellation. Access continues until
// the paid period ends.
type CancelRequested struct {
	Reason string
	Now    time.Time
}

// ExternalSubscriptionDeleted reflects the processor deleting the
// subscription on its side.
type ExternalSubscriptionDeleted struct {
	Now time.Time
}

// PlanChanged re-derives the plan from the processor's price identifier on a
// subscription update. Status is never changed by this event.
type PlanChanged struct {
	Plan      PlanType
	PeriodEnd time.Time
	Now       time.Time
}

// SweepExpired is the time-driven expiry applied by the reconciliation
// sweeper once the trial or period deadline has passed.
type SweepExpired struct {
	Now time.Time
}

func (StartTrial) Name() string                  { return "start_trial" }
func (CheckoutCompleted) Name() string           { return "checkout_completed" }
func (PaymentSucceeded) Name() string            { return "payment_succeeded" }
func (PaymentFailed) Name() string               { return "payment_failed" }
func (CancelRequested) Name() string             { return "cancel_requested" }
func (ExternalSubscriptionDeleted) Name() string { return "external_subscription_deleted" }
func (PlanChanged) Name() string                 { return "plan_changed" }
func (SweepExpired) Name() string                { return "sweep_expired" }

func (StartTrial) isEvent()                  {}
func (CheckoutCompleted) isEvent()           {}
func (PaymentSucceeded) isEvent()            {}
func (PaymentFailed) isEvent()               {}
func (CancelRequested) isEvent()             {}
func (ExternalSubscriptionDeleted) isEvent() {}
func (PlanChanged) isEvent()                 {}
func (SweepExpired) isEvent()                {}
