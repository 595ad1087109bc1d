package notifier

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Contact identifies the recipient of a lifecycle email.
type Contact struct {
	Email string
	Name  string
}

// TrialStarted is sent when a user's trial begins.
type TrialStarted struct {
	Contact
	TrialEndDate time.Time
}

// SubscriptionCreated is sent when a paid subscription activates.
type SubscriptionCreated struct {
	Contact
	Plan    string
	EndDate time.Time
}

// SubscriptionCanceled is sent on cancellation; access continues until EndDate.
type SubscriptionCanceled struct {
	Contact
	Plan    string
	EndDate time.Time
}

// PaymentFailed is sent when a renewal charge fails.
type PaymentFailed struct {
	Contact
	Plan string
}

// RenewalReminder is sent ahead of an upcoming renewal.
type RenewalReminder struct {
	Contact
	Plan    string
	EndDate time.Time
	Amount  int64 // smallest currency unit
}

// Notifier delivers subscription lifecycle emails. Delivery is best-effort:
// callers never block a state transition on it, and failures are logged
// rather than retried.
type Notifier interface {
	SendTrialStarted(ctx context.Context, msg TrialStarted) error
	SendSubscriptionCreated(ctx context.Context, msg SubscriptionCreated) error
	SendSubscriptionCanceled(ctx context.Context, msg SubscriptionCanceled) error
	SendPaymentFailed(ctx context.Context, msg PaymentFailed) error
	SendRenewalReminder(ctx context.Context, msg RenewalReminder) error
}

// ContactSource resolves the email and display name for a user id. The user
// profile itself lives outside this subsystem.
type ContactSource interface {
	Contact(ctx context.Context, userID uuid.UUID) (Contact, error)
}
