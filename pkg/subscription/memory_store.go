package subscription

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used by tests and single-process
// development setups. All operations take one lock, which makes the paired
// record+projection write trivially atomic.
type MemoryStore struct {
	mu          sync.Mutex
	records     map[uuid.UUID]Record
	projections map[uuid.UUID]Projection
	failUpdates int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[uuid.UUID]Record),
		projections: make(map[uuid.UUID]Projection),
	}
}

func (s *MemoryStore) GetRecord(_ context.Context, id uuid.UUID) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) GetRecordByExternalSubID(_ context.Context, externalSubID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if externalSubID == "" {
		return nil, ErrRecordNotFound
	}
	for _, rec := range s.records {
		if rec.ExternalSubscriptionID == externalSubID {
			out := rec
			return &out, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (s *MemoryStore) GetRecordByExternalCustomerID(_ context.Context, externalCustomerID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if externalCustomerID == "" {
		return nil, ErrRecordNotFound
	}
	var latest *Record
	for _, rec := range s.records {
		if rec.ExternalCustomerID != externalCustomerID {
			continue
		}
		out := rec
		if latest == nil || out.CreatedAt.After(latest.CreatedAt) {
			latest = &out
		}
	}
	if latest == nil {
		return nil, ErrRecordNotFound
	}
	return latest, nil
}

func (s *MemoryStore) GetProjection(_ context.Context, userID uuid.UUID) (*Projection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proj, ok := s.projections[userID]
	if !ok {
		return nil, ErrProjectionNotFound
	}
	out := proj
	out.History = append([]uuid.UUID(nil), proj.History...)
	return &out, nil
}

func (s *MemoryStore) CreateRecord(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proj, ok := s.projections[rec.UserID]
	if ok && proj.CurrentRecordID != nil {
		if current, exists := s.records[*proj.CurrentRecordID]; exists && !current.Status.Terminal() {
			return ErrSubscriptionExists
		}
	}
	if !ok {
		proj = Projection{UserID: rec.UserID}
	}

	s.records[rec.ID] = *rec

	id := rec.ID
	proj.Status = rec.Status
	proj.CurrentRecordID = &id
	proj.History = append(proj.History, id)
	if rec.Status == StatusTrial {
		start := rec.StartDate
		proj.TrialStartDate = &start
		proj.TrialEndDate = rec.TrialEndDate
	}
	proj.UpdatedAt = rec.UpdatedAt
	s.projections[rec.UserID] = proj
	return nil
}

// FailNextUpdates makes the next n UpdateRecord calls fail, simulating a
// store outage in tests.
func (s *MemoryStore) FailNextUpdates(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUpdates = n
}

func (s *MemoryStore) UpdateRecord(_ context.Context, rec *Record, expected Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failUpdates > 0 {
		s.failUpdates--
		return errors.New("store unavailable")
	}

	stored, ok := s.records[rec.ID]
	if !ok {
		return ErrRecordNotFound
	}
	if stored.Status != expected {
		return ErrConcurrentUpdate
	}
	s.records[rec.ID] = *rec

	proj, ok := s.projections[rec.UserID]
	if ok && proj.CurrentRecordID != nil && *proj.CurrentRecordID == rec.ID {
		proj.Status = rec.Status
		proj.UpdatedAt = rec.UpdatedAt
		s.projections[rec.UserID] = proj
	}
	return nil
}

func (s *MemoryStore) ListExpiryCandidates(_ context.Context, now time.Time, limit int64) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, rec := range s.records {
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
		deadline, ok := rec.expiryDeadline()
		if ok && !now.Before(deadline) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListEndingBetween(_ context.Context, from, to time.Time) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, rec := range s.records {
		if rec.Status != StatusActive && rec.Status != StatusCanceled {
			continue
		}
		if !rec.EndDate.Before(from) && rec.EndDate.Before(to) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// MemoryDedup is an in-memory EventDedup for tests and development.
type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryDedup returns an empty in-memory dedup store.
func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{seen: make(map[string]struct{})}
}

func (d *MemoryDedup) Processed(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.seen[eventID]
	return ok, nil
}

func (d *MemoryDedup) MarkProcessed(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seen[eventID] = struct{}{}
	return nil
}
