package payout_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnsphere/billing/pkg/payment"
	"github.com/learnsphere/billing/pkg/payout"
)

// fakeProcessor stubs the payout-facing part of payment.Processor. The
// subscription-facing methods are never reached from this package.
type fakeProcessor struct {
	balance  *payment.Balance
	settings *payment.PayoutSettings
	payouts  map[string]*payment.Payout

	createPayoutFn func(ctx context.Context, amount int64, currency, description string) (*payment.Payout, error)
	cancelPayoutFn func(ctx context.Context, payoutID string) (*payment.Payout, error)
}

func (f *fakeProcessor) CreateCustomer(context.Context, string, string) (string, error) {
	panic("not used")
}

func (f *fakeProcessor) CreateCheckoutSession(context.Context, payment.CheckoutSessionRequest) (*payment.CheckoutSession, error) {
	panic("not used")
}

func (f *fakeProcessor) GetCheckoutSession(context.Context, string) (*payment.CheckoutSession, error) {
	panic("not used")
}

func (f *fakeProcessor) RetrieveSubscription(context.Context, string) (*payment.Subscription, error) {
	panic("not used")
}

func (f *fakeProcessor) CancelSubscription(context.Context, string) error {
	panic("not used")
}

func (f *fakeProcessor) VerifyWebhook([]byte, string) (*payment.WebhookEvent, error) {
	panic("not used")
}

func (f *fakeProcessor) RetrieveBalance(context.Context) (*payment.Balance, error) {
	return f.balance, nil
}

func (f *fakeProcessor) PayoutSettings(context.Context) (*payment.PayoutSettings, error) {
	return f.settings, nil
}

func (f *fakeProcessor) CreatePayout(ctx context.Context, amount int64, currency, description string) (*payment.Payout, error) {
	return f.createPayoutFn(ctx, amount, currency, description)
}

func (f *fakeProcessor) ListPayouts(_ context.Context, _ int64, status payment.PayoutStatus) ([]payment.Payout, error) {
	var out []payment.Payout
	for _, p := range f.payouts {
		if status == "" || p.Status == status {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeProcessor) RetrievePayout(_ context.Context, payoutID string) (*payment.Payout, error) {
	p, ok := f.payouts[payoutID]
	if !ok {
		return nil, payment.ErrPayoutNotFound
	}
	out := *p
	return &out, nil
}

func (f *fakeProcessor) CancelPayout(ctx context.Context, payoutID string) (*payment.Payout, error) {
	return f.cancelPayoutFn(ctx, payoutID)
}

func newFixture(available int64) (*fakeProcessor, *payout.Service) {
	proc := &fakeProcessor{
		balance: &payment.Balance{Available: []payment.BalanceAmount{
			{Amount: available, Currency: "usd"},
			{Amount: 500, Currency: "eur"},
		}},
		settings: &payment.PayoutSettings{Enabled: true, BankName: "Test Bank", BankLast4: "4242"},
		payouts:  make(map[string]*payment.Payout),
	}
	svc := payout.NewService(proc, payout.Config{BufferFraction: 0.1, Currency: "usd"}, slog.Default())
	return proc, svc
}

func TestCalculateAmount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("withholds the buffer and floors", func(t *testing.T) {
		t.Parallel()

		_, svc := newFixture(10001)
		amount, err := svc.CalculateAmount(ctx)
		require.NoError(t, err)
		// 10001 * 0.9 = 9000.9, floored.
		assert.Equal(t, int64(9000), amount)
	})

	t.Run("zero balance pays zero", func(t *testing.T) {
		t.Parallel()

		_, svc := newFixture(0)
		amount, err := svc.CalculateAmount(ctx)
		require.NoError(t, err)
		assert.Zero(t, amount)
	})

	t.Run("negative balance never yields a negative payout", func(t *testing.T) {
		t.Parallel()

		_, svc := newFixture(-5000)
		amount, err := svc.CalculateAmount(ctx)
		require.NoError(t, err)
		assert.Zero(t, amount)
	})

	t.Run("only the settlement currency counts", func(t *testing.T) {
		t.Parallel()

		proc, _ := newFixture(0)
		svc := payout.NewService(proc, payout.Config{BufferFraction: 0.1, Currency: "eur"}, slog.Default())

		amount, err := svc.CalculateAmount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(450), amount)
	})
}

func TestCreateManual(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()

		proc, svc := newFixture(10000)
		proc.createPayoutFn = func(_ context.Context, amount int64, currency, description string) (*payment.Payout, error) {
			assert.Equal(t, "usd", currency)
			return &payment.Payout{ID: "po_1", Amount: amount, Currency: currency, Status: payment.PayoutPending, Description: description}, nil
		}

		p, err := svc.CreateManual(ctx, 5000, "March revenue")
		require.NoError(t, err)
		assert.Equal(t, int64(5000), p.Amount)
		assert.Equal(t, payment.PayoutPending, p.Status)
	})

	t.Run("amount must be positive", func(t *testing.T) {
		t.Parallel()

		_, svc := newFixture(10000)
		_, err := svc.CreateManual(ctx, 0, "")
		assert.ErrorIs(t, err, payout.ErrInvalidAmount)

		_, err = svc.CreateManual(ctx, -100, "")
		assert.ErrorIs(t, err, payout.ErrInvalidAmount)
	})

	t.Run("amount may not dip into the buffer", func(t *testing.T) {
		t.Parallel()

		_, svc := newFixture(10000)
		_, err := svc.CreateManual(ctx, 9001, "")
		assert.ErrorIs(t, err, payout.ErrInsufficientBalance)
	})

	t.Run("full buffered amount is allowed", func(t *testing.T) {
		t.Parallel()

		proc, svc := newFixture(10000)
		proc.createPayoutFn = func(_ context.Context, amount int64, currency, description string) (*payment.Payout, error) {
			return &payment.Payout{ID: "po_2", Amount: amount, Status: payment.PayoutPending}, nil
		}

		p, err := svc.CreateManual(ctx, 9000, "")
		require.NoError(t, err)
		assert.Equal(t, int64(9000), p.Amount)
	})

	t.Run("disabled account", func(t *testing.T) {
		t.Parallel()

		proc, svc := newFixture(10000)
		proc.settings = &payment.PayoutSettings{Enabled: false, DisabledFor: "requirements.past_due"}

		_, err := svc.CreateManual(ctx, 100, "")
		assert.ErrorIs(t, err, payout.ErrPayoutsDisabled)
	})
}

func TestRunScheduled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("pays out the buffered balance", func(t *testing.T) {
		t.Parallel()

		proc, svc := newFixture(20000)
		proc.createPayoutFn = func(_ context.Context, amount int64, currency, _ string) (*payment.Payout, error) {
			return &payment.Payout{
				ID: "po_sched", Amount: amount, Currency: currency,
				Status:      payment.PayoutPending,
				ArrivalDate: time.Now().AddDate(0, 0, 2),
			}, nil
		}

		p, err := svc.RunScheduled(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(18000), p.Amount)
	})

	t.Run("empty balance is a deliberate skip", func(t *testing.T) {
		t.Parallel()

		_, svc := newFixture(0)
		p, err := svc.RunScheduled(ctx)
		assert.ErrorIs(t, err, payout.ErrNothingToPayOut)
		assert.Nil(t, p)
	})

	t.Run("disabled account skips", func(t *testing.T) {
		t.Parallel()

		proc, svc := newFixture(20000)
		proc.settings = &payment.PayoutSettings{Enabled: false}

		_, err := svc.RunScheduled(ctx)
		assert.ErrorIs(t, err, payout.ErrPayoutsDisabled)
	})
}

func TestCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("cancels a pending payout", func(t *testing.T) {
		t.Parallel()

		proc, svc := newFixture(10000)
		proc.payouts["po_1"] = &payment.Payout{ID: "po_1", Amount: 100, Status: payment.PayoutPending}
		proc.cancelPayoutFn = func(_ context.Context, payoutID string) (*payment.Payout, error) {
			p := *proc.payouts[payoutID]
			p.Status = payment.PayoutCanceled
			return &p, nil
		}

		p, err := svc.Cancel(ctx, "po_1")
		require.NoError(t, err)
		assert.Equal(t, payment.PayoutCanceled, p.Status)
	})

	t.Run("in transit payouts are final", func(t *testing.T) {
		t.Parallel()

		proc, svc := newFixture(10000)
		proc.payouts["po_2"] = &payment.Payout{ID: "po_2", Amount: 100, Status: payment.PayoutInTransit}

		_, err := svc.Cancel(ctx, "po_2")
		assert.ErrorIs(t, err, payment.ErrPayoutNotCancelable)
	})

	t.Run("paid payouts are final", func(t *testing.T) {
		t.Parallel()

		proc, svc := newFixture(10000)
		proc.payouts["po_3"] = &payment.Payout{ID: "po_3", Amount: 100, Status: payment.PayoutPaid}

		_, err := svc.Cancel(ctx, "po_3")
		assert.ErrorIs(t, err, payment.ErrPayoutNotCancelable)
	})

	t.Run("unknown payout", func(t *testing.T) {
		t.Parallel()

		_, svc := newFixture(10000)
		_, err := svc.Cancel(ctx, "po_missing")
		assert.ErrorIs(t, err, payment.ErrPayoutNotFound)
	})
}

func TestSchedule(t *testing.T) {
	t.Parallel()

	_, svc := newFixture(10000)
	status, err := svc.Schedule(context.Background())
	require.NoError(t, err)

	assert.True(t, status.Enabled)
	assert.Equal(t, "Test Bank", status.BankName)
	assert.Equal(t, "4242", status.BankLast4)
	assert.Equal(t, int64(10000), status.Available)
	assert.Equal(t, int64(9000), status.NextPayable)
	assert.InDelta(t, 0.1, status.BufferFraction, 1e-9)
}
