package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/learnsphere/billing/pkg/notifier"
)

// Sweeper re-derives expected state purely from stored dates and forces
// expiry transitions independent of webhook delivery. It is the sole
// guarantee of eventual correctness when deliveries are permanently lost.
type Sweeper struct {
	store     Store
	catalog   *Catalog
	contacts  notifier.ContactSource
	notify    *notifier.Dispatcher
	logger    *slog.Logger
	batchSize int64
	now       func() time.Time
}

// ReminderLeadTime is how far ahead of the period end the renewal reminder
// scan looks: subscriptions expiring in exactly seven days.
const ReminderLeadTime = 7 * 24 * time.Hour

// NewSweeper creates the reconciliation sweeper.
func NewSweeper(store Store, catalog *Catalog, contacts notifier.ContactSource, notify *notifier.Dispatcher, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:     store,
		catalog:   catalog,
		contacts:  contacts,
		notify:    notify,
		logger:    logger,
		batchSize: 500,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the sweeper clock, used by tests.
func (s *Sweeper) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Sweep performs one expiry pass. Each candidate is updated with a
// compare-and-swap against the status it was read with; a record that lost
// the race to a concurrent webhook transition is skipped this cycle and
// re-evaluated on the next one. The pass itself is idempotent and safe to
// invoke at any time.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.now()

	candidates, err := s.store.ListExpiryCandidates(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list expiry candidates: %w", err)
	}

	var expired, skipped int
	for i := range candidates {
		rec := candidates[i]

		next, err := Transition(&rec, SweepExpired{Now: now})
		if err != nil {
			// Candidate list and record state can drift between the scan
			// and this point; nothing to do.
			continue
		}

		switch err := s.store.UpdateRecord(ctx, &next, rec.Status); {
		case err == nil:
			expired++
			s.logger.InfoContext(ctx, "record swept to expired",
				slog.String("record_id", rec.ID.String()),
				slog.String("user_id", rec.UserID.String()),
				slog.String("was", string(rec.Status)))
		case errors.Is(err, ErrConcurrentUpdate):
			skipped++
		default:
			s.logger.ErrorContext(ctx, "sweep update failed",
				slog.String("record_id", rec.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	if expired > 0 || skipped > 0 {
		s.logger.InfoContext(ctx, "expiry sweep finished",
			slog.Int("expired", expired),
			slog.Int("skipped", skipped),
			slog.Int("candidates", len(candidates)))
	}
	return nil
}

// RemindRenewals sends a reminder to users whose paid subscription ends in
// exactly seven days. The window is a whole calendar day so the daily run
// touches each record once.
func (s *Sweeper) RemindRenewals(ctx context.Context) error {
	if s.notify == nil || s.contacts == nil {
		return nil
	}
	now := s.now()

	from := now.Add(ReminderLeadTime).Truncate(24 * time.Hour)
	to := from.Add(24 * time.Hour)

	records, err := s.store.ListEndingBetween(ctx, from, to)
	if err != nil {
		return fmt.Errorf("list renewals: %w", err)
	}

	for i := range records {
		rec := records[i]
		if rec.Status != StatusActive {
			continue
		}

		contact, err := s.contacts.Contact(ctx, rec.UserID)
		if err != nil {
			s.logger.WarnContext(ctx, "contact lookup failed",
				slog.String("user_id", rec.UserID.String()),
				slog.String("error", err.Error()))
			continue
		}

		planName := string(rec.Plan)
		var amount int64
		if plan, err := s.catalog.ByType(rec.Plan); err == nil {
			planName = plan.Name
			amount = plan.Amount
		}

		s.notify.RenewalReminder(notifier.RenewalReminder{
			Contact: contact,
			Plan:    planName,
			EndDate: rec.EndDate,
			Amount:  amount,
		})
	}
	return nil
}
