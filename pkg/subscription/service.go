package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/learnsphere/billing/pkg/notifier"
	"github.com/learnsphere/billing/pkg/payment"
)

// ServiceConfig carries the checkout redirect targets.
type ServiceConfig struct {
	CheckoutSuccessURL string `env:"CHECKOUT_SUCCESS_URL,required"`
	CheckoutCancelURL  string `env:"CHECKOUT_CANCEL_URL,required"`
}

// Status as reported to the rest of the application.
type UserStatus struct {
	Status        Status
	Plan          PlanType
	Entitled      bool
	DaysRemaining int
	TrialEndDate  *time.Time
	EndDate       *time.Time
	PaymentAtRisk bool
	CanceledAt    *time.Time
}

// Service implements the user-initiated subscription operations. Webhook
// deliveries and time-driven expiry are handled by WebhookProcessor and
// Sweeper respectively; all three mutate records only through the state
// machine and the store's conditional writes.
type Service struct {
	store     Store
	processor payment.Processor
	catalog   *Catalog
	contacts  notifier.ContactSource
	notify    *notifier.Dispatcher
	config    ServiceConfig
	logger    *slog.Logger
	now       func() time.Time
}

// ServiceOption configures optional Service settings.
type ServiceOption func(*Service)

// WithClock overrides the service clock, used by tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the subscription service. All dependencies are
// required; passing nil is a programming error and panics at startup.
func NewService(
	store Store,
	processor payment.Processor,
	catalog *Catalog,
	contacts notifier.ContactSource,
	notify *notifier.Dispatcher,
	cfg ServiceConfig,
	logger *slog.Logger,
	opts ...ServiceOption,
) *Service {
	if store == nil {
		panic("subscription: Store is required")
	}
	if processor == nil {
		panic("subscription: payment.Processor is required")
	}
	if catalog == nil {
		panic("subscription: Catalog is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		store:     store,
		processor: processor,
		catalog:   catalog,
		contacts:  contacts,
		notify:    notify,
		config:    cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartTrial grants the one-per-lifetime trial. Any prior trial or expired
// record in the user's history makes them ineligible, reported with
// ErrTrialAlreadyUsed so callers can route to direct purchase.
func (s *Service) StartTrial(ctx context.Context, userID uuid.UUID) (*Record, error) {
	now := s.now()

	proj, err := s.store.GetProjection(ctx, userID)
	if err != nil && !errors.Is(err, ErrProjectionNotFound) {
		return nil, err
	}
	if proj != nil {
		if eligErr := s.checkTrialEligibility(ctx, proj); eligErr != nil {
			return nil, eligErr
		}
	}

	rec, err := Transition(nil, StartTrial{Now: now})
	if err != nil {
		return nil, err
	}
	rec.ID = uuid.New()
	rec.UserID = userID

	if err := s.store.CreateRecord(ctx, &rec); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "trial started",
		slog.String("user_id", userID.String()),
		slog.String("record_id", rec.ID.String()),
		slog.Time("trial_end", *rec.TrialEndDate))

	if contact, ok := s.contactFor(ctx, userID); ok {
		s.notify.TrialStarted(notifier.TrialStarted{
			Contact:      contact,
			TrialEndDate: *rec.TrialEndDate,
		})
	}
	return &rec, nil
}

// checkTrialEligibility enforces lifetime trial uniqueness. An entitled
// current record also blocks a trial, with its own error.
func (s *Service) checkTrialEligibility(ctx context.Context, proj *Projection) error {
	if proj.Status == StatusTrial || proj.Status == StatusActive || proj.Status == StatusCanceled {
		return ErrSubscriptionExists
	}
	for _, id := range proj.History {
		rec, err := s.store.GetRecord(ctx, id)
		if err != nil {
			return err
		}
		if rec.Status == StatusTrial || rec.Status == StatusExpired || rec.TrialEndDate != nil {
			return ErrTrialAlreadyUsed
		}
	}
	return nil
}

// CreateCheckoutSession opens a processor-hosted checkout for the given plan
// and returns the URL to redirect the user to.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID uuid.UUID, plan PlanType) (string, error) {
	if !plan.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlan, plan)
	}
	catalogPlan, err := s.catalog.ByType(plan)
	if err != nil {
		return "", err
	}

	customerID, err := s.ensureCustomer(ctx, userID)
	if err != nil {
		return "", err
	}

	sess, err := s.processor.CreateCheckoutSession(ctx, payment.CheckoutSessionRequest{
		CustomerID: customerID,
		PriceID:    catalogPlan.PriceID,
		UserRef:    userID.String(),
		SuccessURL: s.config.CheckoutSuccessURL,
		CancelURL:  s.config.CheckoutCancelURL,
	})
	if err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "checkout session created",
		slog.String("user_id", userID.String()),
		slog.String("session_id", sess.ID),
		slog.String("plan", string(plan)))
	return sess.URL, nil
}

// ensureCustomer reuses the customer reference from the user's latest record
// or registers a new processor customer.
func (s *Service) ensureCustomer(ctx context.Context, userID uuid.UUID) (string, error) {
	proj, err := s.store.GetProjection(ctx, userID)
	if err != nil && !errors.Is(err, ErrProjectionNotFound) {
		return "", err
	}
	if proj != nil {
		for i := len(proj.History) - 1; i >= 0; i-- {
			rec, err := s.store.GetRecord(ctx, proj.History[i])
			if err != nil {
				return "", err
			}
			if rec.ExternalCustomerID != "" {
				return rec.ExternalCustomerID, nil
			}
		}
	}

	contact, ok := s.contactFor(ctx, userID)
	if !ok {
		return "", fmt.Errorf("resolve contact for user %s: %w", userID, ErrRecordNotFound)
	}
	return s.processor.CreateCustomer(ctx, contact.Email, contact.Name)
}

// HandleCheckoutSuccess confirms a completed checkout session and applies
// CheckoutCompleted to the user's record (converting a trial, or creating a
// fresh record). Calling it twice for the same session is a no-op.
func (s *Service) HandleCheckoutSuccess(ctx context.Context, userID uuid.UUID, sessionID string) (*Record, error) {
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}
	now := s.now()

	sess, err := s.processor.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Complete || sess.SubscriptionID == "" {
		return nil, ErrCheckoutNotComplete
	}
	if sess.UserRef != "" && sess.UserRef != userID.String() {
		return nil, ErrNotRecordOwner
	}

	// Duplicate success callback for an already-activated session.
	if existing, err := s.store.GetRecordByExternalSubID(ctx, sess.SubscriptionID); err == nil {
		if existing.UserID != userID {
			return nil, ErrNotRecordOwner
		}
		return existing, nil
	} else if !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}

	procSub, err := s.processor.RetrieveSubscription(ctx, sess.SubscriptionID)
	if err != nil {
		return nil, err
	}
	plan, err := s.catalog.ByPriceID(procSub.PriceID)
	if err != nil {
		return nil, err
	}

	ev := CheckoutCompleted{
		Plan:                   plan.Type,
		ExternalCustomerID:     sess.CustomerID,
		ExternalSubscriptionID: sess.SubscriptionID,
		PeriodStart:            procSub.CurrentPeriodStart,
		PeriodEnd:              procSub.CurrentPeriodEnd,
		Now:                    now,
	}

	rec, err := s.applyCheckout(ctx, userID, ev)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "subscription activated",
		slog.String("user_id", userID.String()),
		slog.String("record_id", rec.ID.String()),
		slog.String("plan", string(rec.Plan)),
		slog.Time("end_date", rec.EndDate))

	if contact, ok := s.contactFor(ctx, userID); ok {
		s.notify.SubscriptionCreated(notifier.SubscriptionCreated{
			Contact: contact,
			Plan:    plan.Name,
			EndDate: rec.EndDate,
		})
	}
	return rec, nil
}

// applyCheckout transitions the user's current trial record to active, or
// creates a new active record for users starting from none.
func (s *Service) applyCheckout(ctx context.Context, userID uuid.UUID, ev CheckoutCompleted) (*Record, error) {
	proj, err := s.store.GetProjection(ctx, userID)
	if err != nil && !errors.Is(err, ErrProjectionNotFound) {
		return nil, err
	}

	if proj != nil && proj.CurrentRecordID != nil && proj.Status == StatusTrial {
		current, err := s.store.GetRecord(ctx, *proj.CurrentRecordID)
		if err != nil {
			return nil, err
		}
		next, err := Transition(current, ev)
		if err != nil {
			return nil, err
		}
		if err := s.store.UpdateRecord(ctx, &next, current.Status); err != nil {
			return nil, err
		}
		return &next, nil
	}

	rec, err := Transition(nil, ev)
	if err != nil {
		return nil, err
	}
	rec.ID = uuid.New()
	rec.UserID = userID
	if err := s.store.CreateRecord(ctx, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Cancel requests cancellation of the user's active subscription. The
// processor-side subscription is canceled first; the local transition only
// happens once the processor call succeeded. Access continues until the end
// of the paid period.
func (s *Service) Cancel(ctx context.Context, userID uuid.UUID, reason string) (*Record, error) {
	now := s.now()

	current, err := s.currentRecord(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current.UserID != userID {
		return nil, ErrNotRecordOwner
	}

	next, err := Transition(current, CancelRequested{Reason: reason, Now: now})
	if err != nil {
		return nil, err
	}

	if current.ExternalSubscriptionID != "" {
		if err := s.processor.CancelSubscription(ctx, current.ExternalSubscriptionID); err != nil {
			return nil, err
		}
	}

	if err := s.store.UpdateRecord(ctx, &next, current.Status); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "subscription canceled",
		slog.String("user_id", userID.String()),
		slog.String("record_id", next.ID.String()),
		slog.Time("access_until", next.EndDate))

	if contact, ok := s.contactFor(ctx, userID); ok {
		planName := string(next.Plan)
		if plan, err := s.catalog.ByType(next.Plan); err == nil {
			planName = plan.Name
		}
		s.notify.SubscriptionCanceled(notifier.SubscriptionCanceled{
			Contact: contact,
			Plan:    planName,
			EndDate: next.EndDate,
		})
	}
	return &next, nil
}

// GetStatus returns the user's billing projection with the computed
// entitlement and days remaining.
func (s *Service) GetStatus(ctx context.Context, userID uuid.UUID) (*UserStatus, error) {
	now := s.now()

	proj, err := s.store.GetProjection(ctx, userID)
	if errors.Is(err, ErrProjectionNotFound) {
		return &UserStatus{Status: StatusNone}, nil
	}
	if err != nil {
		return nil, err
	}
	if proj.CurrentRecordID == nil {
		return &UserStatus{Status: StatusNone}, nil
	}

	rec, err := s.store.GetRecord(ctx, *proj.CurrentRecordID)
	if err != nil {
		return nil, err
	}

	status := &UserStatus{
		Status:        rec.Status,
		Plan:          rec.Plan,
		Entitled:      rec.Entitled(now),
		DaysRemaining: rec.DaysRemainingAt(now),
		TrialEndDate:  rec.TrialEndDate,
		PaymentAtRisk: rec.PaymentAtRisk,
		CanceledAt:    rec.CanceledAt,
	}
	if !rec.EndDate.IsZero() {
		endDate := rec.EndDate
		status.EndDate = &endDate
	}
	return status, nil
}

func (s *Service) currentRecord(ctx context.Context, userID uuid.UUID) (*Record, error) {
	proj, err := s.store.GetProjection(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrProjectionNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	if proj.CurrentRecordID == nil {
		return nil, ErrRecordNotFound
	}
	return s.store.GetRecord(ctx, *proj.CurrentRecordID)
}

func (s *Service) contactFor(ctx context.Context, userID uuid.UUID) (notifier.Contact, bool) {
	if s.contacts == nil || s.notify == nil {
		return notifier.Contact{}, false
	}
	contact, err := s.contacts.Contact(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "contact lookup failed",
			slog.String("user_id", userID.String()),
			slog.String("error", err.Error()))
		return notifier.Contact{}, false
	}
	return contact, true
}
