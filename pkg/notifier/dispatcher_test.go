package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []string
	errFn func(kind string) error
}

func (r *recordingNotifier) record(kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, kind)
	if r.errFn != nil {
		return r.errFn(kind)
	}
	return nil
}

func (r *recordingNotifier) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func (r *recordingNotifier) SendTrialStarted(context.Context, TrialStarted) error {
	return r.record("trial_started")
}

func (r *recordingNotifier) SendSubscriptionCreated(context.Context, SubscriptionCreated) error {
	return r.record("subscription_created")
}

func (r *recordingNotifier) SendSubscriptionCanceled(context.Context, SubscriptionCanceled) error {
	return r.record("subscription_canceled")
}

func (r *recordingNotifier) SendPaymentFailed(context.Context, PaymentFailed) error {
	return r.record("payment_failed")
}

func (r *recordingNotifier) SendRenewalReminder(context.Context, RenewalReminder) error {
	return r.record("renewal_reminder")
}

func waitHook(t *testing.T, d *Dispatcher, n int) chan struct{} {
	t.Helper()
	done := make(chan struct{}, n)
	d.testHook = func() { done <- struct{}{} }
	return done
}

func awaitN(t *testing.T, done chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("dispatch did not finish in time")
		}
	}
}

func TestDispatcherDelivers(t *testing.T) {
	t.Parallel()

	rec := &recordingNotifier{}
	d := NewDispatcher(rec, nil, time.Second)
	done := waitHook(t, d, 5)

	contact := Contact{Email: "user@example.com", Name: "User"}
	end := time.Now().AddDate(0, 1, 0)

	d.TrialStarted(TrialStarted{Contact: contact, TrialEndDate: end})
	d.SubscriptionCreated(SubscriptionCreated{Contact: contact, Plan: "monthly", EndDate: end})
	d.SubscriptionCanceled(SubscriptionCanceled{Contact: contact, Plan: "monthly", EndDate: end})
	d.PaymentFailed(PaymentFailed{Contact: contact, Plan: "monthly"})
	d.RenewalReminder(RenewalReminder{Contact: contact, Plan: "monthly", EndDate: end, Amount: 1499})

	awaitN(t, done, 5)
	assert.ElementsMatch(t,
		[]string{"trial_started", "subscription_created", "subscription_canceled", "payment_failed", "renewal_reminder"},
		rec.kinds())
}

func TestDispatcherSwallowsErrors(t *testing.T) {
	t.Parallel()

	rec := &recordingNotifier{errFn: func(string) error { return errors.New("smtp down") }}
	d := NewDispatcher(rec, nil, time.Second)
	done := waitHook(t, d, 1)

	// Must not panic or block the caller.
	d.PaymentFailed(PaymentFailed{Contact: Contact{Email: "user@example.com"}})
	awaitN(t, done, 1)
	assert.Equal(t, []string{"payment_failed"}, rec.kinds())
}

func TestDispatcherRecoversPanics(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(panickyNotifier{}, nil, time.Second)
	done := waitHook(t, d, 1)

	require.NotPanics(t, func() {
		d.TrialStarted(TrialStarted{Contact: Contact{Email: "user@example.com"}})
	})
	awaitN(t, done, 1)
}

type panickyNotifier struct{}

func (panickyNotifier) SendTrialStarted(context.Context, TrialStarted) error { panic("boom") }
func (panickyNotifier) SendSubscriptionCreated(context.Context, SubscriptionCreated) error {
	panic("boom")
}
func (panickyNotifier) SendSubscriptionCanceled(context.Context, SubscriptionCanceled) error {
	panic("boom")
}
func (panickyNotifier) SendPaymentFailed(context.Context, PaymentFailed) error   { panic("boom") }
func (panickyNotifier) SendRenewalReminder(context.Context, RenewalReminder) error { panic("boom") }
