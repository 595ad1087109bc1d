package subscription

import (
	"time"

	"github.com/google/uuid"
)

// TrialPeriod is the lifetime trial window granted once per user.
const TrialPeriod = 7 * 24 * time.Hour

// PlanType identifies the billing period of a paid plan.
type PlanType string

const (
	PlanMonthly   PlanType = "monthly"
	PlanQuarterly PlanType = "quarterly"
	PlanAnnual    PlanType = "annual"
)

// Valid reports whether the plan type is one of the known billing periods.
func (p PlanType) Valid() bool {
	switch p {
	case PlanMonthly, PlanQuarterly, PlanAnnual:
		return true
	}
	return false
}

// PeriodDays returns the nominal billing period length in days.
func (p PlanType) PeriodDays() int {
	switch p {
	case PlanMonthly:
		return 30
	case PlanQuarterly:
		return 90
	case PlanAnnual:
		return 365
	}
	return 0
}

// Status represents the lifecycle state of a subscription record.
type Status string

const (
	// StatusNone is the projection status for users without any current record.
	// It is never stored on a record itself.
	StatusNone Status = "none"

	StatusTrial    Status = "trial"
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// Terminal reports whether the status permits no further transitions.
// A user regains entitlement only through a new record.
func (s Status) Terminal() bool {
	return s == StatusExpired
}

// Record is a single subscription held by a user. Records are never hard
// deleted; terminal records are retained for audit and trial-eligibility
// checks.
type Record struct {
	ID                     uuid.UUID
	UserID                 uuid.UUID
	Plan                   PlanType
	Status                 Status
	StartDate              time.Time
	EndDate                time.Time
	TrialEndDate           *time.Time
	ExternalCustomerID     string
	ExternalSubscriptionID string
	LastPaymentDate        *time.Time
	NextPaymentDate        *time.Time
	CanceledAt             *time.Time
	CancelReason           string
	// PaymentAtRisk is set by a failed payment and cleared by the next
	// successful one. It never revokes access on its own; only the expiry
	// sweep does, based on EndDate.
	PaymentAtRisk bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Entitled reports whether the record grants access at the given time.
// Canceled subscriptions keep access until the paid period runs out.
func (r *Record) Entitled(now time.Time) bool {
	switch r.Status {
	case StatusTrial:
		return r.TrialEndDate != nil && now.Before(*r.TrialEndDate)
	case StatusActive, StatusCanceled:
		return now.Before(r.EndDate)
	}
	return false
}

// expiryDeadline returns the date past which the record should be swept to
// expired: the trial end for trials, the period end otherwise.
func (r *Record) expiryDeadline() (time.Time, bool) {
	switch r.Status {
	case StatusTrial:
		if r.TrialEndDate == nil {
			return time.Time{}, false
		}
		return *r.TrialEndDate, true
	case StatusActive, StatusCanceled:
		return r.EndDate, true
	}
	return time.Time{}, false
}

// DaysRemainingAt returns the whole days of entitlement left at the given
// time, rounding partial days up. Trials count toward the trial end date,
// everything else toward the period end date. Returns 0 once access lapsed.
func (r *Record) DaysRemainingAt(now time.Time) int {
	var target time.Time
	switch r.Status {
	case StatusTrial:
		if r.TrialEndDate == nil {
			return 0
		}
		target = *r.TrialEndDate
	case StatusActive, StatusCanceled:
		target = r.EndDate
	default:
		return 0
	}

	remaining := target.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := int(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// Projection is the denormalized per-user billing view read by the rest of
// the application for entitlement checks. History is append-only and ordered;
// it is the source of truth for lifetime trial eligibility.
type Projection struct {
	UserID          uuid.UUID
	Status          Status
	TrialStartDate  *time.Time
	TrialEndDate    *time.Time
	CurrentRecordID *uuid.UUID
	History         []uuid.UUID
	UpdatedAt       time.Time
}
