package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/learnsphere/billing/pkg/payment"
	"github.com/learnsphere/billing/pkg/payout"
	"github.com/learnsphere/billing/pkg/subscription"
)

type ctxKey int

const userIDKey ctxKey = 0

// requireUser extracts the authenticated user id from the X-User-ID header.
func (m *Module) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-User-ID")
		if raw == "" {
			m.respondError(w, r, http.StatusUnauthorized, "missing user identity")
			return
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			m.respondError(w, r, http.StatusUnauthorized, "invalid user identity")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func userID(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(userIDKey).(uuid.UUID)
	return id
}

type errorResponse struct {
	Error string `json:"error"`
}

func (m *Module) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (m *Module) respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	m.respondJSON(w, status, errorResponse{Error: msg})
}

// respondDomainError maps domain errors onto HTTP statuses. Unknown errors
// become opaque 500s; their detail goes to the log, not the client.
func (m *Module) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, subscription.ErrInvalidPlan),
		errors.Is(err, subscription.ErrPlanNotInCatalog),
		errors.Is(err, subscription.ErrMissingSessionID),
		errors.Is(err, payout.ErrInvalidAmount):
		status, msg = http.StatusBadRequest, err.Error()

	case errors.Is(err, subscription.ErrNotRecordOwner):
		status, msg = http.StatusForbidden, err.Error()

	case errors.Is(err, subscription.ErrRecordNotFound),
		errors.Is(err, subscription.ErrProjectionNotFound),
		errors.Is(err, payment.ErrPayoutNotFound):
		status, msg = http.StatusNotFound, "not found"

	case subscription.IsTransitionError(err):
		// Operation not applicable to the subscription's current state, e.g.
		// canceling twice.
		status, msg = http.StatusConflict, err.Error()

	case errors.Is(err, subscription.ErrTrialAlreadyUsed),
		errors.Is(err, subscription.ErrSubscriptionExists),
		errors.Is(err, subscription.ErrCheckoutNotComplete),
		errors.Is(err, subscription.ErrConcurrentUpdate),
		errors.Is(err, payment.ErrPayoutNotCancelable),
		errors.Is(err, payout.ErrPayoutsDisabled):
		status, msg = http.StatusConflict, err.Error()

	case errors.Is(err, payout.ErrInsufficientBalance):
		status, msg = http.StatusUnprocessableEntity, err.Error()

	case errors.Is(err, payment.ErrExternalService):
		status, msg = http.StatusBadGateway, "payment processor unavailable"
	}

	if status == http.StatusInternalServerError {
		m.logger.ErrorContext(r.Context(), "unhandled error in billing handler",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error())
	}
	m.respondError(w, r, status, msg)
}
