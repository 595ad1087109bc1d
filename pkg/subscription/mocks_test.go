package subscription_test

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/learnsphere/billing/pkg/notifier"
	"github.com/learnsphere/billing/pkg/payment"
)

// fakeProcessor is a hand-rolled payment.Processor whose behavior each test
// sets up through function fields. Unset methods fail loudly via nil panic so
// tests never drift into areas they did not stub.
type fakeProcessor struct {
	createCustomerFn        func(ctx context.Context, email, name string) (string, error)
	createCheckoutSessionFn func(ctx context.Context, req payment.CheckoutSessionRequest) (*payment.CheckoutSession, error)
	getCheckoutSessionFn    func(ctx context.Context, sessionID string) (*payment.CheckoutSession, error)
	retrieveSubscriptionFn  func(ctx context.Context, subscriptionID string) (*payment.Subscription, error)
	cancelSubscriptionFn    func(ctx context.Context, subscriptionID string) error
	retrieveBalanceFn       func(ctx context.Context) (*payment.Balance, error)
	createPayoutFn          func(ctx context.Context, amount int64, currency, description string) (*payment.Payout, error)
	listPayoutsFn           func(ctx context.Context, limit int64, status payment.PayoutStatus) ([]payment.Payout, error)
	retrievePayoutFn        func(ctx context.Context, payoutID string) (*payment.Payout, error)
	cancelPayoutFn          func(ctx context.Context, payoutID string) (*payment.Payout, error)
	payoutSettingsFn        func(ctx context.Context) (*payment.PayoutSettings, error)
	verifyWebhookFn         func(payload []byte, signature string) (*payment.WebhookEvent, error)
}

func (f *fakeProcessor) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	return f.createCustomerFn(ctx, email, name)
}

func (f *fakeProcessor) CreateCheckoutSession(ctx context.Context, req payment.CheckoutSessionRequest) (*payment.CheckoutSession, error) {
	return f.createCheckoutSessionFn(ctx, req)
}

func (f *fakeProcessor) GetCheckoutSession(ctx context.Context, sessionID string) (*payment.CheckoutSession, error) {
	return f.getCheckoutSessionFn(ctx, sessionID)
}

func (f *fakeProcessor) RetrieveSubscription(ctx context.Context, subscriptionID string) (*payment.Subscription, error) {
	return f.retrieveSubscriptionFn(ctx, subscriptionID)
}

func (f *fakeProcessor) CancelSubscription(ctx context.Context, subscriptionID string) error {
	return f.cancelSubscriptionFn(ctx, subscriptionID)
}

func (f *fakeProcessor) RetrieveBalance(ctx context.Context) (*payment.Balance, error) {
	return f.retrieveBalanceFn(ctx)
}

func (f *fakeProcessor) CreatePayout(ctx context.Context, amount int64, currency, description string) (*payment.Payout, error) {
	return f.createPayoutFn(ctx, amount, currency, description)
}

func (f *fakeProcessor) ListPayouts(ctx context.Context, limit int64, status payment.PayoutStatus) ([]payment.Payout, error) {
	return f.listPayoutsFn(ctx, limit, status)
}

func (f *fakeProcessor) RetrievePayout(ctx context.Context, payoutID string) (*payment.Payout, error) {
	return f.retrievePayoutFn(ctx, payoutID)
}

func (f *fakeProcessor) CancelPayout(ctx context.Context, payoutID string) (*payment.Payout, error) {
	return f.cancelPayoutFn(ctx, payoutID)
}

func (f *fakeProcessor) PayoutSettings(ctx context.Context) (*payment.PayoutSettings, error) {
	return f.payoutSettingsFn(ctx)
}

func (f *fakeProcessor) VerifyWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	return f.verifyWebhookFn(payload, signature)
}

// staticContacts resolves every user to the same contact.
type staticContacts struct {
	contact notifier.Contact
}

func (s staticContacts) Contact(_ context.Context, _ uuid.UUID) (notifier.Contact, error) {
	return s.contact, nil
}

// countingNotifier records how many of each lifecycle email were sent.
type countingNotifier struct {
	trialStarted         atomic.Int64
	subscriptionCreated  atomic.Int64
	subscriptionCanceled atomic.Int64
	paymentFailed        atomic.Int64
	renewalReminder      atomic.Int64
}

func (n *countingNotifier) SendTrialStarted(context.Context, notifier.TrialStarted) error {
	n.trialStarted.Add(1)
	return nil
}

func (n *countingNotifier) SendSubscriptionCreated(context.Context, notifier.SubscriptionCreated) error {
	n.subscriptionCreated.Add(1)
	return nil
}

func (n *countingNotifier) SendSubscriptionCanceled(context.Context, notifier.SubscriptionCanceled) error {
	n.subscriptionCanceled.Add(1)
	return nil
}

func (n *countingNotifier) SendPaymentFailed(context.Context, notifier.PaymentFailed) error {
	n.paymentFailed.Add(1)
	return nil
}

func (n *countingNotifier) SendRenewalReminder(context.Context, notifier.RenewalReminder) error {
	n.renewalReminder.Add(1)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
