package subscription_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnsphere/billing/pkg/notifier"
	"github.com/learnsphere/billing/pkg/payment"
	"github.com/learnsphere/billing/pkg/subscription"
)

func testCatalog(t *testing.T) *subscription.Catalog {
	t.Helper()
	catalog, err := subscription.NewCatalog(
		subscription.Plan{Type: subscription.PlanMonthly, Name: "Monthly", PriceID: "price_m", Amount: 1499, Currency: "usd"},
		subscription.Plan{Type: subscription.PlanQuarterly, Name: "Quarterly", PriceID: "price_q", Amount: 3999, Currency: "usd"},
		subscription.Plan{Type: subscription.PlanAnnual, Name: "Annual", PriceID: "price_a", Amount: 11999, Currency: "usd"},
	)
	require.NoError(t, err)
	return catalog
}

type serviceFixture struct {
	store     *subscription.MemoryStore
	processor *fakeProcessor
	notified  *countingNotifier
	service   *subscription.Service
}

func newServiceFixture(t *testing.T, now time.Time) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		store:     subscription.NewMemoryStore(),
		processor: &fakeProcessor{},
		notified:  &countingNotifier{},
	}
	dispatcher := notifier.NewDispatcher(f.notified, slog.Default(), time.Second)
	f.service = subscription.NewService(
		f.store,
		f.processor,
		testCatalog(t),
		staticContacts{contact: notifier.Contact{Email: "student@example.com", Name: "Student"}},
		dispatcher,
		subscription.ServiceConfig{
			CheckoutSuccessURL: "https://app.example.com/billing/success",
			CheckoutCancelURL:  "https://app.example.com/billing/cancel",
		},
		slog.Default(),
		subscription.WithClock(fixedClock(now)),
	)
	return f
}

func TestServiceStartTrial(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("creates trial record and projection", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, now)
		userID := uuid.New()

		rec, err := f.service.StartTrial(ctx, userID)
		require.NoError(t, err)

		assert.Equal(t, subscription.StatusTrial, rec.Status)
		assert.Equal(t, userID, rec.UserID)
		require.NotNil(t, rec.TrialEndDate)
		assert.Equal(t, now.Add(subscription.TrialPeriod), *rec.TrialEndDate)

		proj, err := f.store.GetProjection(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusTrial, proj.Status)
		require.NotNil(t, proj.CurrentRecordID)
		assert.Equal(t, rec.ID, *proj.CurrentRecordID)
		assert.Equal(t, []uuid.UUID{rec.ID}, proj.History)

		require.Eventually(t, func() bool {
			return f.notified.trialStarted.Load() == 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("second trial is rejected while first is running", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, now)
		userID := uuid.New()

		_, err := f.service.StartTrial(ctx, userID)
		require.NoError(t, err)

		_, err = f.service.StartTrial(ctx, userID)
		assert.ErrorIs(t, err, subscription.ErrSubscriptionExists)
	})

	t.Run("trial is once per lifetime", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, now)
		userID := uuid.New()

		rec, err := f.service.StartTrial(ctx, userID)
		require.NoError(t, err)

		// Let the trial lapse and sweep it to expired.
		expired, err := subscription.Transition(rec, subscription.SweepExpired{Now: rec.TrialEndDate.Add(time.Hour)})
		require.NoError(t, err)
		require.NoError(t, f.store.UpdateRecord(ctx, &expired, subscription.StatusTrial))

		_, err = f.service.StartTrial(ctx, userID)
		assert.ErrorIs(t, err, subscription.ErrTrialAlreadyUsed)
	})
}

func TestServiceCreateCheckoutSession(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("invalid plan", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, now)
		_, err := f.service.CreateCheckoutSession(ctx, uuid.New(), subscription.PlanType("weekly"))
		assert.ErrorIs(t, err, subscription.ErrInvalidPlan)
	})

	t.Run("registers a customer for first-time users", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, now)

		var createdEmail string
		f.processor.createCustomerFn = func(_ context.Context, email, _ string) (string, error) {
			createdEmail = email
			return "cus_new", nil
		}
		f.processor.createCheckoutSessionFn = func(_ context.Context, req payment.CheckoutSessionRequest) (*payment.CheckoutSession, error) {
			assert.Equal(t, "cus_new", req.CustomerID)
			assert.Equal(t, "price_m", req.PriceID)
			return &payment.CheckoutSession{ID: "cs_1", URL: "https://pay.example.com/cs_1"}, nil
		}

		url, err := f.service.CreateCheckoutSession(ctx, uuid.New(), subscription.PlanMonthly)
		require.NoError(t, err)
		assert.Equal(t, "https://pay.example.com/cs_1", url)
		assert.Equal(t, "student@example.com", createdEmail)
	})
}

func TestServiceHandleCheckoutSuccess(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	periodEnd := now.AddDate(0, 1, 0)
	ctx := context.Background()

	completeSession := func(userID uuid.UUID) *payment.CheckoutSession {
		return &payment.CheckoutSession{
			ID:             "cs_1",
			Complete:       true,
			CustomerID:     "cus_1",
			SubscriptionID: "sub_1",
			UserRef:        userID.String(),
		}
	}

	t.Run("missing session id", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, now)
		_, err := f.service.HandleCheckoutSuccess(ctx, uuid.New(), "")
		assert.ErrorIs(t, err, subscription.ErrMissingSessionID)
	})

	t.Run("incomplete session", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, now)
		f.processor.getCheckoutSessionFn = func(context.Context, string) (*payment.CheckoutSession, error) {
			return &payment.CheckoutSession{ID: "cs_1", Complete: false}, nil
		}

		_, err := f.service.HandleCheckoutSuccess(ctx, uuid.New(), "cs_1")
		assert.ErrorIs(t, err, subscription.ErrCheckoutNotComplete)
	})

	t.Run("session of another user", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, now)
		f.processor.getCheckoutSessionFn = func(context.Context, string) (*payment.CheckoutSession, error) {
			return completeSession(uuid.New()), nil
		}

		_, err := f.service.HandleCheckoutSuccess(ctx, uuid.New(), "cs_1")
		assert.ErrorIs(t, err, subscription.ErrNotRecordOwner)
	})

	t.Run("converts a running trial in place", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, now)
		userID := uuid.New()

		trial, err := f.service.StartTrial(ctx, userID)
		require.NoError(t, err)

		f.processor.getCheckoutSessionFn = func(context.Context, string) (*payment.CheckoutSession, error) {
			return completeSession(userID), nil
		}
		f.processor.retrieveSubscriptionFn = func(context.Context, string) (*payment.Subscription, error) {
			return &payment.Subscription{
				ID:                 "sub_1",
				PriceID:            "price_m",
				CurrentPeriodStart: now,
				CurrentPeriodEnd:   periodEnd,
			}, nil
		}

		rec, err := f.service.HandleCheckoutSuccess(ctx, userID, "cs_1")
		require.NoError(t, err)

		assert.Equal(t, trial.ID, rec.ID, "trial record is converted, not replaced")
		assert.Equal(t, subscription.StatusActive, rec.Status)
		assert.Equal(t, subscription.PlanMonthly, rec.Plan)
		assert.Equal(t, periodEnd, rec.EndDate)

		proj, err := f.store.GetProjection(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, proj.Status)
		assert.Len(t, proj.History, 1)
	})

	t.Run("repeated success callback is a no-op", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, now)
		userID := uuid.New()

		f.processor.getCheckoutSessionFn = func(context.Context, string) (*payment.CheckoutSession, error) {
			return completeSession(userID), nil
		}
		f.processor.retrieveSubscriptionFn = func(context.Context, string) (*payment.Subscription, error) {
			return &payment.Subscription{
				ID:                 "sub_1",
				PriceID:            "price_a",
				CurrentPeriodStart: now,
				CurrentPeriodEnd:   now.AddDate(1, 0, 0),
			}, nil
		}

		first, err := f.service.HandleCheckoutSuccess(ctx, userID, "cs_1")
		require.NoError(t, err)

		second, err := f.service.HandleCheckoutSuccess(ctx, userID, "cs_1")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		proj, err := f.store.GetProjection(ctx, userID)
		require.NoError(t, err)
		assert.Len(t, proj.History, 1, "duplicate confirmation must not create records")
	})
}

func TestServiceCancel(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	activate := func(t *testing.T, f *serviceFixture, userID uuid.UUID) *subscription.Record {
		t.Helper()
		f.processor.getCheckoutSessionFn = func(context.Context, string) (*payment.CheckoutSession, error) {
			return &payment.CheckoutSession{
				ID: "cs_1", Complete: true, CustomerID: "cus_1",
				SubscriptionID: "sub_1", UserRef: userID.String(),
			}, nil
		}
		f.processor.retrieveSubscriptionFn = func(context.Context, string) (*payment.Subscription, error) {
			return &payment.Subscription{
				ID: "sub_1", PriceID: "price_m",
				CurrentPeriodStart: now, CurrentPeriodEnd: now.AddDate(0, 1, 0),
			}, nil
		}
		rec, err := f.service.HandleCheckoutSuccess(ctx, userID, "cs_1")
		require.NoError(t, err)
		return rec
	}

	t.Run("cancels processor side first", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, now)
		userID := uuid.New()
		active := activate(t, f, userID)

		var canceledSub string
		f.processor.cancelSubscriptionFn = func(_ context.Context, subID string) error {
			canceledSub = subID
			return nil
		}

		rec, err := f.service.Cancel(ctx, userID, "switching schools")
		require.NoError(t, err)

		assert.Equal(t, "sub_1", canceledSub)
		assert.Equal(t, subscription.StatusCanceled, rec.Status)
		assert.Equal(t, "switching schools", rec.CancelReason)
		assert.Equal(t, active.EndDate, rec.EndDate)
	})

	t.Run("processor failure leaves the record untouched", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, now)
		userID := uuid.New()
		activate(t, f, userID)

		f.processor.cancelSubscriptionFn = func(context.Context, string) error {
			return payment.ErrExternalService
		}

		_, err := f.service.Cancel(ctx, userID, "")
		assert.ErrorIs(t, err, payment.ErrExternalService)

		status, err := f.service.GetStatus(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, status.Status)
	})

	t.Run("cancel without a record", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, now)
		_, err := f.service.Cancel(ctx, uuid.New(), "")
		assert.ErrorIs(t, err, subscription.ErrRecordNotFound)
	})

	t.Run("second cancel is rejected", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, now)
		userID := uuid.New()
		activate(t, f, userID)
		f.processor.cancelSubscriptionFn = func(context.Context, string) error { return nil }

		_, err := f.service.Cancel(ctx, userID, "")
		require.NoError(t, err)

		_, err = f.service.Cancel(ctx, userID, "")
		assert.True(t, subscription.IsTransitionError(err))
	})
}

func TestServiceGetStatus(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("unknown user reports none", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, now)
		status, err := f.service.GetStatus(ctx, uuid.New())
		require.NoError(t, err)

		assert.Equal(t, subscription.StatusNone, status.Status)
		assert.False(t, status.Entitled)
		assert.Zero(t, status.DaysRemaining)
	})

	t.Run("trial status with days remaining", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, now)
		userID := uuid.New()
		_, err := f.service.StartTrial(ctx, userID)
		require.NoError(t, err)

		status, err := f.service.GetStatus(ctx, userID)
		require.NoError(t, err)

		assert.Equal(t, subscription.StatusTrial, status.Status)
		assert.True(t, status.Entitled)
		assert.Equal(t, 7, status.DaysRemaining)
	})
}
