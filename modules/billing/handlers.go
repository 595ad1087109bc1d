package billing

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/learnsphere/billing/pkg/payment"
	"github.com/learnsphere/billing/pkg/subscription"
)

// webhookBodyLimit caps webhook payload reads. Processor events are small;
// anything larger is not a legitimate delivery.
const webhookBodyLimit = 1 << 20

func (m *Module) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyLimit))
	if err != nil {
		m.respondError(w, r, http.StatusBadRequest, "unreadable payload")
		return
	}

	// Signature and payload problems get a 4xx; persistence failures get a
	// 5xx so the processor redelivers. Everything else is acked so the
	// processor stops retrying deliveries we chose to skip.
	if err := m.webhooks.Process(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) || errors.Is(err, payment.ErrMalformedPayload) {
			m.respondError(w, r, http.StatusBadRequest, "invalid webhook")
			return
		}
		m.logger.ErrorContext(r.Context(), "webhook processing failed",
			"error", err.Error())
		m.respondError(w, r, http.StatusInternalServerError, "webhook not applied")
		return
	}
	m.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type recordResponse struct {
	ID            string     `json:"id"`
	Plan          string     `json:"plan"`
	Status        string     `json:"status"`
	StartDate     time.Time  `json:"start_date"`
	EndDate       time.Time  `json:"end_date"`
	TrialEndDate  *time.Time `json:"trial_end_date,omitempty"`
	CanceledAt    *time.Time `json:"canceled_at,omitempty"`
	PaymentAtRisk bool       `json:"payment_at_risk"`
}

func toRecordResponse(rec *subscription.Record) recordResponse {
	return recordResponse{
		ID:            rec.ID.String(),
		Plan:          string(rec.Plan),
		Status:        string(rec.Status),
		StartDate:     rec.StartDate,
		EndDate:       rec.EndDate,
		TrialEndDate:  rec.TrialEndDate,
		CanceledAt:    rec.CanceledAt,
		PaymentAtRisk: rec.PaymentAtRisk,
	}
}

func (m *Module) handleStartTrial(w http.ResponseWriter, r *http.Request) {
	rec, err := m.subs.StartTrial(r.Context(), userID(r))
	if err != nil {
		m.respondDomainError(w, r, err)
		return
	}
	m.respondJSON(w, http.StatusCreated, toRecordResponse(rec))
}

type createCheckoutRequest struct {
	Plan string `json:"plan"`
}

func (m *Module) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req createCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	url, err := m.subs.CreateCheckoutSession(r.Context(), userID(r), subscription.PlanType(req.Plan))
	if err != nil {
		m.respondDomainError(w, r, err)
		return
	}
	m.respondJSON(w, http.StatusOK, map[string]string{"checkout_url": url})
}

func (m *Module) handleCheckoutSuccess(w http.ResponseWriter, r *http.Request) {
	rec, err := m.subs.HandleCheckoutSuccess(r.Context(), userID(r), r.URL.Query().Get("session_id"))
	if err != nil {
		m.respondDomainError(w, r, err)
		return
	}
	m.respondJSON(w, http.StatusOK, toRecordResponse(rec))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (m *Module) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.Body != nil {
		// Reason is optional, a missing or empty body is fine.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	rec, err := m.subs.Cancel(r.Context(), userID(r), req.Reason)
	if err != nil {
		m.respondDomainError(w, r, err)
		return
	}
	m.respondJSON(w, http.StatusOK, toRecordResponse(rec))
}

type statusResponse struct {
	Status        string     `json:"status"`
	Plan          string     `json:"plan,omitempty"`
	Entitled      bool       `json:"entitled"`
	DaysRemaining int        `json:"days_remaining"`
	TrialEndDate  *time.Time `json:"trial_end_date,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	PaymentAtRisk bool       `json:"payment_at_risk"`
	CanceledAt    *time.Time `json:"canceled_at,omitempty"`
}

func (m *Module) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := m.subs.GetStatus(r.Context(), userID(r))
	if err != nil {
		m.respondDomainError(w, r, err)
		return
	}
	m.respondJSON(w, http.StatusOK, statusResponse{
		Status:        string(st.Status),
		Plan:          string(st.Plan),
		Entitled:      st.Entitled,
		DaysRemaining: st.DaysRemaining,
		TrialEndDate:  st.TrialEndDate,
		EndDate:       st.EndDate,
		PaymentAtRisk: st.PaymentAtRisk,
		CanceledAt:    st.CanceledAt,
	})
}

type payoutResponse struct {
	ID          string    `json:"id"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ArrivalDate time.Time `json:"arrival_date"`
}

func toPayoutResponse(p *payment.Payout) payoutResponse {
	return payoutResponse{
		ID:          p.ID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Status:      string(p.Status),
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		ArrivalDate: p.ArrivalDate,
	}
}

type createPayoutRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

func (m *Module) handleCreatePayout(w http.ResponseWriter, r *http.Request) {
	var req createPayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := m.payouts.CreateManual(r.Context(), req.Amount, req.Description)
	if err != nil {
		m.respondDomainError(w, r, err)
		return
	}
	m.respondJSON(w, http.StatusCreated, toPayoutResponse(p))
}

func (m *Module) handleListPayouts(w http.ResponseWriter, r *http.Request) {
	var limit int64
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			m.respondError(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	status := payment.PayoutStatus(r.URL.Query().Get("status"))

	payouts, err := m.payouts.List(r.Context(), limit, status)
	if err != nil {
		m.respondDomainError(w, r, err)
		return
	}

	out := make([]payoutResponse, 0, len(payouts))
	for i := range payouts {
		out = append(out, toPayoutResponse(&payouts[i]))
	}
	m.respondJSON(w, http.StatusOK, map[string]any{"payouts": out})
}

func (m *Module) handleGetPayout(w http.ResponseWriter, r *http.Request) {
	p, err := m.payouts.Get(r.Context(), chi.URLParam(r, "payoutID"))
	if err != nil {
		m.respondDomainError(w, r, err)
		return
	}
	m.respondJSON(w, http.StatusOK, toPayoutResponse(p))
}

func (m *Module) handleCancelPayout(w http.ResponseWriter, r *http.Request) {
	p, err := m.payouts.Cancel(r.Context(), chi.URLParam(r, "payoutID"))
	if err != nil {
		m.respondDomainError(w, r, err)
		return
	}
	m.respondJSON(w, http.StatusOK, toPayoutResponse(p))
}

func (m *Module) handlePayoutSchedule(w http.ResponseWriter, r *http.Request) {
	status, err := m.payouts.Schedule(r.Context())
	if err != nil {
		m.respondDomainError(w, r, err)
		return
	}
	m.respondJSON(w, http.StatusOK, status)
}
