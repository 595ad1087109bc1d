package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists subscription records together with the per-user billing
// projection. Every mutation that touches a record also updates the paired
// projection atomically; the two must never diverge by more than one
// reconciliation interval, and the store is the component that guarantees
// the paired write itself is all-or-nothing.
//
// The interface hides the storage technology from the state machine and
// returns fully resolved aggregates.
type Store interface {
	// GetRecord retrieves a record by id.
	// Returns ErrRecordNotFound if it does not exist.
	GetRecord(ctx context.Context, id uuid.UUID) (*Record, error)

	// GetRecordByExternalSubID resolves the record addressed by the
	// processor's subscription identifier.
	GetRecordByExternalSubID(ctx context.Context, externalSubID string) (*Record, error)

	// GetRecordByExternalCustomerID resolves the most recent record for the
	// processor's customer identifier. Used for pre-subscription events.
	GetRecordByExternalCustomerID(ctx context.Context, externalCustomerID string) (*Record, error)

	// GetProjection retrieves the denormalized billing view for a user.
	// Returns ErrProjectionNotFound for users this subsystem has never seen.
	GetProjection(ctx context.Context, userID uuid.UUID) (*Projection, error)

	// CreateRecord inserts a new record, points the projection's current
	// reference at it and appends it to the history, all atomically.
	// Returns ErrSubscriptionExists if the user already has a current record
	// in a non-terminal state.
	CreateRecord(ctx context.Context, rec *Record) error

	// UpdateRecord persists a transitioned record only if its stored status
	// still equals expected (compare-and-swap), updating the projection in
	// the same atomic write. Returns ErrConcurrentUpdate when the record
	// changed since it was read.
	UpdateRecord(ctx context.Context, rec *Record, expected Status) error

	// ListExpiryCandidates returns records whose entitlement deadline has
	// passed: trials past their trial end, active or canceled records past
	// their period end.
	ListExpiryCandidates(ctx context.Context, now time.Time, limit int64) ([]Record, error)

	// ListEndingBetween returns non-terminal paid records whose period end
	// falls inside [from, to). Used by the renewal-reminder scan.
	ListEndingBetween(ctx context.Context, from, to time.Time) ([]Record, error)
}

// EventDedup tracks processor event ids whose effects have been persisted so
// duplicated webhook deliveries become no-ops. The mark is written only after
// the transition is stored; an event that failed to apply must stay unmarked
// so the processor's redelivery gets another chance.
type EventDedup interface {
	// Processed reports whether the event id was already applied.
	Processed(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed records the event id as applied.
	MarkProcessed(ctx context.Context, eventID string) error
}
