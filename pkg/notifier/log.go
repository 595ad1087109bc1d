package notifier

import (
	"context"
	"log/slog"
)

// logNotifier writes notifications to the log instead of sending email.
// Used in development and as a fallback when Postmark is not configured.
type logNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a Notifier that only logs.
func NewLogNotifier(logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &logNotifier{logger: logger}
}

func (n *logNotifier) log(kind, email string, attrs ...any) error {
	args := append([]any{slog.String("notification", kind), slog.String("email", email)}, attrs...)
	n.logger.Info("notification", args...)
	return nil
}

func (n *logNotifier) SendTrialStarted(_ context.Context, msg TrialStarted) error {
	return n.log("trial_started", msg.Email, slog.Time("trial_end", msg.TrialEndDate))
}

func (n *logNotifier) SendSubscriptionCreated(_ context.Context, msg SubscriptionCreated) error {
	return n.log("subscription_created", msg.Email, slog.String("plan", msg.Plan))
}

func (n *logNotifier) SendSubscriptionCanceled(_ context.Context, msg SubscriptionCanceled) error {
	return n.log("subscription_canceled", msg.Email, slog.String("plan", msg.Plan))
}

func (n *logNotifier) SendPaymentFailed(_ context.Context, msg PaymentFailed) error {
	return n.log("payment_failed", msg.Email, slog.String("plan", msg.Plan))
}

func (n *logNotifier) SendRenewalReminder(_ context.Context, msg RenewalReminder) error {
	return n.log("renewal_reminder", msg.Email, slog.Time("end_date", msg.EndDate))
}
