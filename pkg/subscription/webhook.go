package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/learnsphere/billing/pkg/notifier"
	"github.com/learnsphere/billing/pkg/payment"
)

// casRetries bounds how often a webhook apply is retried after losing a
// compare-and-swap race against the sweeper or another delivery worker.
const casRetries = 3

// WebhookProcessor ingests processor webhook deliveries. Deliveries are
// at-least-once and unordered, so everything past signature verification is
// designed to be replay- and reorder-safe: duplicates are absorbed by the
// dedup store, stale events by the state machine, and logically inapplicable
// events are logged and still acked so the processor never retries them.
type WebhookProcessor struct {
	store     Store
	dedup     EventDedup
	processor payment.Processor
	catalog   *Catalog
	contacts  notifier.ContactSource
	notify    *notifier.Dispatcher
	logger    *slog.Logger
	now       func() time.Time
}

// NewWebhookProcessor wires the webhook ingestion pipeline.
func NewWebhookProcessor(
	store Store,
	dedup EventDedup,
	processor payment.Processor,
	catalog *Catalog,
	contacts notifier.ContactSource,
	notify *notifier.Dispatcher,
	logger *slog.Logger,
) *WebhookProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookProcessor{
		store:     store,
		dedup:     dedup,
		processor: processor,
		catalog:   catalog,
		contacts:  contacts,
		notify:    notify,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the processor clock, used by tests.
func (p *WebhookProcessor) SetClock(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// Process verifies and applies one raw webhook delivery. A non-nil error
// either means the delivery must be rejected with a 4xx and implies zero side
// effects (ErrInvalidSignature, ErrMalformedPayload), or is a transient
// persistence failure the caller must answer with a 5xx so the processor
// redelivers. Every other outcome, including unrecognized event types,
// duplicates and logically inapplicable events, is an ack: the processor must
// not be told to retry.
func (p *WebhookProcessor) Process(ctx context.Context, payload []byte, signature string) error {
	event, err := p.processor.VerifyWebhook(payload, signature)
	if err != nil {
		return err
	}

	log := p.logger.With(
		slog.String("event_id", event.ID),
		slog.String("event_type", event.ProviderType))

	if event.Type == payment.EventUnrecognized {
		log.DebugContext(ctx, "ignoring unrecognized webhook event type")
		return nil
	}

	seen, err := p.dedup.Processed(ctx, event.ID)
	if err != nil {
		// Dedup store unavailability must not drop the event; the state
		// machine absorbs replays anyway.
		log.WarnContext(ctx, "event dedup unavailable, applying anyway",
			slog.String("error", err.Error()))
	} else if seen {
		log.DebugContext(ctx, "duplicate webhook delivery absorbed")
		return nil
	}

	return p.apply(ctx, log, event)
}

// apply maps the normalized event onto the addressed record and persists the
// transition with a bounded CAS retry. Expected outcomes of unordered
// delivery (unknown record, inapplicable event) are logged and acked; only
// persistence failures return an error, leaving the event unmarked so a
// redelivery can apply it once the store recovers.
func (p *WebhookProcessor) apply(ctx context.Context, log *slog.Logger, event *payment.WebhookEvent) error {
	now := p.now()

	for attempt := 0; attempt < casRetries; attempt++ {
		rec, err := p.lookupRecord(ctx, event)
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				log.WarnContext(ctx, "webhook event for unknown record")
				return nil
			}
			return fmt.Errorf("look up record for webhook event %s: %w", event.ID, err)
		}
		recLog := log.With(slog.String("record_id", rec.ID.String()))

		ev, ok := p.mapEvent(ctx, recLog, event, now)
		if !ok {
			return nil
		}

		next, err := Transition(rec, ev)
		if err != nil {
			// Inapplicable to the current state: expected with unordered
			// delivery, logged and acked.
			recLog.WarnContext(ctx, "webhook event not applicable",
				slog.String("status", string(rec.Status)),
				slog.String("error", err.Error()))
			return nil
		}

		err = p.store.UpdateRecord(ctx, &next, rec.Status)
		if errors.Is(err, ErrConcurrentUpdate) {
			continue
		}
		if err != nil {
			return fmt.Errorf("persist transition for webhook event %s: %w", event.ID, err)
		}

		// Marked only now that the transition is durable. A failed mark is
		// harmless: a replay re-applies, and every event is absorbed as stale
		// the second time.
		if err := p.dedup.MarkProcessed(ctx, event.ID); err != nil {
			recLog.WarnContext(ctx, "marking event processed failed",
				slog.String("error", err.Error()))
		}

		p.notifyChange(ctx, rec, &next, event)
		return nil
	}

	return fmt.Errorf("webhook event %s: %w", event.ID, ErrConcurrentUpdate)
}

func (p *WebhookProcessor) lookupRecord(ctx context.Context, event *payment.WebhookEvent) (*Record, error) {
	if event.SubscriptionID != "" {
		rec, err := p.store.GetRecordByExternalSubID(ctx, event.SubscriptionID)
		if err == nil || !errors.Is(err, ErrRecordNotFound) {
			return rec, err
		}
	}
	if event.CustomerID != "" {
		return p.store.GetRecordByExternalCustomerID(ctx, event.CustomerID)
	}
	return nil, ErrRecordNotFound
}

// mapEvent converts a normalized processor event into a state-machine event.
// Returns false when no transition should be attempted.
func (p *WebhookProcessor) mapEvent(ctx context.Context, log *slog.Logger, event *payment.WebhookEvent, now time.Time) (Event, bool) {
	switch event.Type {
	case payment.EventPaymentSucceeded:
		return PaymentSucceeded{PeriodEnd: event.PeriodEnd, Now: now}, true

	case payment.EventPaymentFailed:
		return PaymentFailed{Now: now}, true

	case payment.EventSubscriptionDeleted:
		return ExternalSubscriptionDeleted{Now: now}, true

	case payment.EventSubscriptionUpdated:
		// Plan changes are re-derived from the price identifier; updates
		// with an unknown or absent price carry nothing to apply.
		plan, err := p.catalog.ByPriceID(event.PriceID)
		if err != nil {
			log.DebugContext(ctx, "subscription update without a catalog price, skipping",
				slog.String("price_id", event.PriceID))
			return nil, false
		}
		return PlanChanged{Plan: plan.Type, PeriodEnd: event.PeriodEnd, Now: now}, true

	case payment.EventCheckoutCompleted:
		// Activation is driven by the checkout success callback; the
		// webhook variant is redundant and only useful for logging.
		log.DebugContext(ctx, "checkout completion observed via webhook")
		return nil, false
	}
	return nil, false
}

// notifyChange fires lifecycle notifications for status changes and payment
// failures, asynchronously and best-effort.
func (p *WebhookProcessor) notifyChange(ctx context.Context, prev, next *Record, event *payment.WebhookEvent) {
	if p.notify == nil || p.contacts == nil {
		return
	}

	contact, err := p.contacts.Contact(ctx, next.UserID)
	if err != nil {
		p.logger.WarnContext(ctx, "contact lookup failed",
			slog.String("user_id", next.UserID.String()),
			slog.String("error", err.Error()))
		return
	}

	planName := string(next.Plan)
	if plan, err := p.catalog.ByType(next.Plan); err == nil {
		planName = plan.Name
	}

	switch {
	case event.Type == payment.EventPaymentFailed:
		p.notify.PaymentFailed(notifier.PaymentFailed{Contact: contact, Plan: planName})
	case prev.Status != next.Status && next.Status == StatusCanceled:
		p.notify.SubscriptionCanceled(notifier.SubscriptionCanceled{
			Contact: contact,
			Plan:    planName,
			EndDate: next.EndDate,
		})
	}
}
