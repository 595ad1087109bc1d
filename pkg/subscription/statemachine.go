package subscription

import (
	"errors"
	"fmt"
	"time"
)

// TransitionError indicates an event is not applicable to the record's
// current status. Callers must not persist anything on rejection: webhook
// callers log and ack, user-facing callers surface it as a client error.
type TransitionError struct {
	Status Status
	Event  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("no transition from status %q for event %q", e.Status, e.Event)
}

func newTransitionError(s Status, ev Event) *TransitionError {
	return &TransitionError{Status: s, Event: ev.Name()}
}

// IsTransitionError reports whether err is a rejected state transition.
func IsTransitionError(err error) bool {
	var e *TransitionError
	return errors.As(err, &e)
}

// Transition is the pure transition function of the subscription lifecycle.
// It maps (current record, event) to the updated record or a TransitionError,
// and performs no I/O. A nil record represents the "none" state for users
// without a subscription; identity fields of records created from none are
// filled in by the caller.
//
// Legal transitions per record:
//
//	none    → trial     (StartTrial)
//	none    → active    (CheckoutCompleted)
//	trial   → active    (CheckoutCompleted)
//	trial   → expired   (SweepExpired)
//	active  → canceled  (CancelRequested, ExternalSubscriptionDeleted)
//	active  → expired   (SweepExpired)
//	canceled → expired  (SweepExpired)
//
// PaymentSucceeded, PaymentFailed and PlanChanged update fields of an active
// record without changing its status.
func Transition(rec *Record, ev Event) (Record, error) {
	status := StatusNone
	var out Record
	if rec != nil {
		status = rec.Status
		out = *rec
	}

	switch e := ev.(type) {
	case StartTrial:
		if status != StatusNone {
			return out, newTransitionError(status, ev)
		}
		trialEnd := e.Now.Add(TrialPeriod)
		return Record{
			Status:       StatusTrial,
			StartDate:    e.Now,
			EndDate:      trialEnd,
			TrialEndDate: &trialEnd,
			CreatedAt:    e.Now,
			UpdatedAt:    e.Now,
		}, nil

	case CheckoutCompleted:
		if status != StatusNone && status != StatusTrial {
			return out, newTransitionError(status, ev)
		}
		out.Status = StatusActive
		out.Plan = e.Plan
		out.EndDate = e.PeriodEnd
		out.ExternalCustomerID = e.ExternalCustomerID
		out.ExternalSubscriptionID = e.ExternalSubscriptionID
		periodEnd := e.PeriodEnd
		out.NextPaymentDate = &periodEnd
		out.PaymentAtRisk = false
		if out.StartDate.IsZero() {
			out.StartDate = e.PeriodStart
		}
		if out.CreatedAt.IsZero() {
			out.CreatedAt = e.Now
		}
		out.UpdatedAt = e.Now
		return out, nil

	case PaymentSucceeded:
		if status != StatusActive {
			return out, newTransitionError(status, ev)
		}
		paidAt := e.Now
		out.LastPaymentDate = &paidAt
		out.UpdatedAt = e.Now
		// A period end that doesn't advance the record is a stale or
		// duplicate delivery; absorb it without touching anything else.
		if e.PeriodEnd.After(out.EndDate) {
			out.EndDate = e.PeriodEnd
			periodEnd := e.PeriodEnd
			out.NextPaymentDate = &periodEnd
			out.PaymentAtRisk = false
		}
		return out, nil

	case PaymentFailed:
		if status != StatusActive {
			return out, newTransitionError(status, ev)
		}
		out.PaymentAtRisk = true
		out.UpdatedAt = e.Now
		return out, nil

	case CancelRequested:
		if status != StatusActive {
			return out, newTransitionError(status, ev)
		}
		canceledAt := e.Now
		out.Status = StatusCanceled
		out.CanceledAt = &canceledAt
		out.CancelReason = e.Reason
		out.UpdatedAt = e.Now
		return out, nil

	case ExternalSubscriptionDeleted:
		if status != StatusActive && status != StatusCanceled {
			return out, newTransitionError(status, ev)
		}
		out.Status = StatusCanceled
		if out.CanceledAt == nil {
			canceledAt := e.Now
			out.CanceledAt = &canceledAt
		}
		out.UpdatedAt = e.Now
		return out, nil

	case PlanChanged:
		if status != StatusActive {
			return out, newTransitionError(status, ev)
		}
		out.Plan = e.Plan
		if e.PeriodEnd.After(out.EndDate) {
			out.EndDate = e.PeriodEnd
			periodEnd := e.PeriodEnd
			out.NextPaymentDate = &periodEnd
		}
		out.UpdatedAt = e.Now
		return out, nil

	case SweepExpired:
		deadline, ok := rec.deadlineForSweep()
		if !ok || e.Now.Before(deadline) {
			return out, newTransitionError(status, ev)
		}
		out.Status = StatusExpired
		out.UpdatedAt = e.Now
		return out, nil
	}

	return out, newTransitionError(status, ev)
}

func (r *Record) deadlineForSweep() (time.Time, bool) {
	if r == nil {
		return time.Time{}, false
	}
	return r.expiryDeadline()
}
