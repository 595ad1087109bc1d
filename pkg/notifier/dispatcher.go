package notifier

import (
	"context"
	"log/slog"
	"time"
)

// Dispatcher wraps a Notifier with fire-and-forget delivery. Each Send runs
// in its own goroutine on a detached context so notification latency or
// failure can never block or fail the state transition that triggered it.
// Failures are logged once; nothing is retried.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration

	// testHook, when set, is called after a dispatch finishes. Tests use it
	// to wait for async sends.
	testHook func()
}

// NewDispatcher creates a Dispatcher with the given delivery timeout.
func NewDispatcher(n Notifier, logger *slog.Logger, timeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{notifier: n, logger: logger, timeout: timeout}
}

func (d *Dispatcher) dispatch(kind string, email string, send func(ctx context.Context) error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("notifier panicked",
					slog.String("notification", kind),
					slog.Any("panic", r))
			}
			if d.testHook != nil {
				d.testHook()
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := send(ctx); err != nil {
			d.logger.Error("notification delivery failed",
				slog.String("notification", kind),
				slog.String("email", email),
				slog.String("error", err.Error()))
		}
	}()
}

func (d *Dispatcher) TrialStarted(msg TrialStarted) {
	d.dispatch("trial_started", msg.Email, func(ctx context.Context) error {
		return d.notifier.SendTrialStarted(ctx, msg)
	})
}

func (d *Dispatcher) SubscriptionCreated(msg SubscriptionCreated) {
	d.dispatch("subscription_created", msg.Email, func(ctx context.Context) error {
		return d.notifier.SendSubscriptionCreated(ctx, msg)
	})
}

func (d *Dispatcher) SubscriptionCanceled(msg SubscriptionCanceled) {
	d.dispatch("subscription_canceled", msg.Email, func(ctx context.Context) error {
		return d.notifier.SendSubscriptionCanceled(ctx, msg)
	})
}

func (d *Dispatcher) PaymentFailed(msg PaymentFailed) {
	d.dispatch("payment_failed", msg.Email, func(ctx context.Context) error {
		return d.notifier.SendPaymentFailed(ctx, msg)
	})
}

func (d *Dispatcher) RenewalReminder(msg RenewalReminder) {
	d.dispatch("renewal_reminder", msg.Email, func(ctx context.Context) error {
		return d.notifier.SendRenewalReminder(ctx, msg)
	})
}
