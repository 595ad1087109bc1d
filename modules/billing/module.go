// Package billing exposes the subscription and payout operations over HTTP.
// The module is mountable: it builds a chi router the application attaches
// wherever it wants. Authentication is the host application's concern; the
// module reads the already-authenticated user id from the X-User-ID header
// set by the auth middleware in front of it.
package billing

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/learnsphere/billing/pkg/payout"
	"github.com/learnsphere/billing/pkg/subscription"
)

// Module bundles the HTTP surface of the billing subsystem.
type Module struct {
	subs     *subscription.Service
	webhooks *subscription.WebhookProcessor
	payouts  *payout.Service
	logger   *slog.Logger
}

// NewModule creates the HTTP module. Panics if any dependency is nil.
func NewModule(
	subs *subscription.Service,
	webhooks *subscription.WebhookProcessor,
	payouts *payout.Service,
	logger *slog.Logger,
) *Module {
	if subs == nil {
		panic("billing: subscription service is required")
	}
	if webhooks == nil {
		panic("billing: webhook processor is required")
	}
	if payouts == nil {
		panic("billing: payout service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Module{
		subs:     subs,
		webhooks: webhooks,
		payouts:  payouts,
		logger:   logger.With("component", "billing_http"),
	}
}

// Router builds the module's routes.
//
// The webhook route sits outside the user-facing group: processor deliveries
// carry a signature instead of a user identity.
func (m *Module) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/webhooks/payment", m.handleWebhook)

	r.Route("/subscription", func(r chi.Router) {
		r.Use(m.requireUser)
		r.Post("/trial", m.handleStartTrial)
		r.Post("/checkout", m.handleCreateCheckout)
		r.Get("/checkout/success", m.handleCheckoutSuccess)
		r.Post("/cancel", m.handleCancel)
		r.Get("/status", m.handleStatus)
	})

	// Payout routes are operator-facing; the host mounts them behind its
	// admin authorization.
	r.Route("/payouts", func(r chi.Router) {
		r.Get("/", m.handleListPayouts)
		r.Post("/", m.handleCreatePayout)
		r.Get("/schedule", m.handlePayoutSchedule)
		r.Get("/{payoutID}", m.handleGetPayout)
		r.Post("/{payoutID}/cancel", m.handleCancelPayout)
	})

	return r
}

// Mount attaches the module under prefix on the given router.
func (m *Module) Mount(r chi.Router, prefix string) {
	r.Mount(prefix, m.Router())
}
