package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig holds the processor credentials and call budget.
type StripeConfig struct {
	APIKey        string        `env:"STRIPE_API_KEY,required"`
	WebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET,required"`
	CallTimeout   time.Duration `env:"STRIPE_CALL_TIMEOUT" envDefault:"10s"`
}

// StripeProcessor implements Processor against the Stripe API. Every call
// runs under the configured timeout and behind a circuit breaker; failures
// of either kind are reported as ErrExternalService.
type StripeProcessor struct {
	api     *client.API
	breaker *gobreaker.CircuitBreaker[any]
	config  StripeConfig
	logger  *slog.Logger
}

// NewStripeProcessor creates a Stripe-backed processor adapter.
func NewStripeProcessor(cfg StripeConfig, logger *slog.Logger) (*StripeProcessor, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	api := &client.API{}
	api.Init(cfg.APIKey, nil)

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "stripe",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("processor circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &StripeProcessor{
		api:     api,
		breaker: breaker,
		config:  cfg,
		logger:  logger,
	}, nil
}

// call runs fn under the call timeout and the circuit breaker, normalizing
// any failure to ErrExternalService.
func call[T any](ctx context.Context, p *StripeProcessor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	ctx, cancel := context.WithTimeout(ctx, p.config.CallTimeout)
	defer cancel()

	res, err := p.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, errors.Join(ErrExternalService, fmt.Errorf("stripe %s: %w", op, err))
	}
	return res.(T), nil
}

func (p *StripeProcessor) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	cust, err := call(ctx, p, "create customer", func(ctx context.Context) (*stripe.Customer, error) {
		params := &stripe.CustomerParams{
			Email: stripe.String(email),
			Name:  stripe.String(name),
		}
		params.Context = ctx
		return p.api.Customers.New(params)
	})
	if err != nil {
		return "", err
	}
	return cust.ID, nil
}

func (p *StripeProcessor) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	sess, err := call(ctx, p, "create checkout session", func(ctx context.Context) (*stripe.CheckoutSession, error) {
		params := &stripe.CheckoutSessionParams{
			Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
			Customer:          stripe.String(req.CustomerID),
			ClientReferenceID: stripe.String(req.UserRef),
			SuccessURL:        stripe.String(req.SuccessURL),
			CancelURL:         stripe.String(req.CancelURL),
			LineItems: []*stripe.CheckoutSessionLineItemParams{
				{
					Price:    stripe.String(req.PriceID),
					Quantity: stripe.Int64(1),
				},
			},
		}
		params.Context = ctx
		return p.api.CheckoutSessions.New(params)
	})
	if err != nil {
		return nil, err
	}
	return newCheckoutSession(sess), nil
}

func (p *StripeProcessor) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	sess, err := call(ctx, p, "get checkout session", func(ctx context.Context) (*stripe.CheckoutSession, error) {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		return p.api.CheckoutSessions.Get(sessionID, params)
	})
	if err != nil {
		return nil, err
	}
	return newCheckoutSession(sess), nil
}

func newCheckoutSession(s *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:       s.ID,
		URL:      s.URL,
		Complete: s.Status == stripe.CheckoutSessionStatusComplete,
		UserRef:  s.ClientReferenceID,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	return out
}

func (p *StripeProcessor) RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	sub, err := call(ctx, p, "retrieve subscription", func(ctx context.Context) (*stripe.Subscription, error) {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		return p.api.Subscriptions.Get(subscriptionID, params)
	})
	if err != nil {
		return nil, err
	}

	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		out.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
	}
	return out, nil
}

func (p *StripeProcessor) CancelSubscription(ctx context.Context, subscriptionID string) error {
	_, err := call(ctx, p, "cancel subscription", func(ctx context.Context) (*stripe.Subscription, error) {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		return p.api.Subscriptions.Cancel(subscriptionID, params)
	})
	return err
}

func (p *StripeProcessor) RetrieveBalance(ctx context.Context) (*Balance, error) {
	bal, err := call(ctx, p, "retrieve balance", func(ctx context.Context) (*stripe.Balance, error) {
		params := &stripe.BalanceParams{}
		params.Context = ctx
		return p.api.Balance.Get(params)
	})
	if err != nil {
		return nil, err
	}

	out := &Balance{Available: make([]BalanceAmount, 0, len(bal.Available))}
	for _, a := range bal.Available {
		out.Available = append(out.Available, BalanceAmount{
			Amount:   a.Amount,
			Currency: string(a.Currency),
		})
	}
	return out, nil
}

func (p *StripeProcessor) CreatePayout(ctx context.Context, amount int64, currency, description string) (*Payout, error) {
	po, err := call(ctx, p, "create payout", func(ctx context.Context) (*stripe.Payout, error) {
		params := &stripe.PayoutParams{
			Amount:      stripe.Int64(amount),
			Currency:    stripe.String(currency),
			Description: stripe.String(description),
		}
		params.Context = ctx
		return p.api.Payouts.New(params)
	})
	if err != nil {
		return nil, err
	}
	return newPayout(po), nil
}

func (p *StripeProcessor) ListPayouts(ctx context.Context, limit int64, status PayoutStatus) ([]Payout, error) {
	return call(ctx, p, "list payouts", func(ctx context.Context) ([]Payout, error) {
		params := &stripe.PayoutListParams{}
		params.Context = ctx
		if limit > 0 {
			params.Limit = stripe.Int64(limit)
		}
		if status != "" {
			params.Status = stripe.String(string(status))
		}

		var payouts []Payout
		iter := p.api.Payouts.List(params)
		for iter.Next() {
			payouts = append(payouts, *newPayout(iter.Payout()))
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return payouts, nil
	})
}

func (p *StripeProcessor) RetrievePayout(ctx context.Context, payoutID string) (*Payout, error) {
	po, err := call(ctx, p, "retrieve payout", func(ctx context.Context) (*stripe.Payout, error) {
		params := &stripe.PayoutParams{}
		params.Context = ctx
		return p.api.Payouts.Get(payoutID, params)
	})
	if err != nil {
		if isStripeNotFound(err) {
			return nil, errors.Join(ErrPayoutNotFound, err)
		}
		return nil, err
	}
	return newPayout(po), nil
}

func (p *StripeProcessor) CancelPayout(ctx context.Context, payoutID string) (*Payout, error) {
	po, err := call(ctx, p, "cancel payout", func(ctx context.Context) (*stripe.Payout, error) {
		params := &stripe.PayoutParams{}
		params.Context = ctx
		return p.api.Payouts.Cancel(payoutID, params)
	})
	if err != nil {
		if isStripeNotFound(err) {
			return nil, errors.Join(ErrPayoutNotFound, err)
		}
		// Stripe rejects cancellation of payouts past the pending state
		// with an invalid request error; surface that distinctly.
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeInvalidRequest {
			return nil, errors.Join(ErrPayoutNotCancelable, err)
		}
		return nil, err
	}
	return newPayout(po), nil
}

func (p *StripeProcessor) PayoutSettings(ctx context.Context) (*PayoutSettings, error) {
	acct, err := call(ctx, p, "retrieve account", func(context.Context) (*stripe.Account, error) {
		// Get for the authenticated account takes no params in this SDK, so
		// the call runs on the client's own timeout rather than ours.
		return p.api.Accounts.Get()
	})
	if err != nil {
		return nil, err
	}

	settings := &PayoutSettings{Enabled: acct.PayoutsEnabled}
	if !settings.Enabled {
		settings.DisabledFor = "payouts are disabled for this account"
	}
	if acct.Settings != nil && acct.Settings.Payouts != nil && acct.Settings.Payouts.Schedule != nil {
		settings.Interval = string(acct.Settings.Payouts.Schedule.Interval)
	}
	if acct.ExternalAccounts != nil {
		for _, ea := range acct.ExternalAccounts.Data {
			if ea.BankAccount != nil {
				settings.BankName = ea.BankAccount.BankName
				settings.BankLast4 = ea.BankAccount.Last4
				break
			}
		}
	}
	return settings, nil
}

func isStripeNotFound(err error) bool {
	var stripeErr *stripe.Error
	return errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing
}

// VerifyWebhook checks the Stripe-Signature header against the endpoint
// secret and normalizes the event. Event payloads are decoded from the raw
// JSON rather than SDK structs so API version drift in fields this subsystem
// does not read cannot break parsing.
func (p *StripeProcessor) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	out := &WebhookEvent{
		ID:           event.ID,
		ProviderType: string(event.Type),
		OccurredAt:   time.Unix(event.Created, 0).UTC(),
	}

	switch event.Type {
	case "checkout.session.completed":
		out.Type = EventCheckoutCompleted
		var sess struct {
			ID           string `json:"id"`
			Customer     string `json:"customer"`
			Subscription string `json:"subscription"`
		}
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
		out.CustomerID = sess.Customer
		out.SubscriptionID = sess.Subscription

	case "invoice.payment_succeeded", "invoice.payment_failed":
		if event.Type == "invoice.payment_succeeded" {
			out.Type = EventPaymentSucceeded
		} else {
			out.Type = EventPaymentFailed
		}
		var inv stripeInvoicePayload
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
		out.CustomerID = inv.Customer
		out.SubscriptionID = inv.subscriptionID()
		out.PeriodEnd = inv.periodEnd()

	case "customer.subscription.updated", "customer.subscription.deleted":
		if event.Type == "customer.subscription.updated" {
			out.Type = EventSubscriptionUpdated
		} else {
			out.Type = EventSubscriptionDeleted
		}
		var sub stripeSubscriptionPayload
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
		out.CustomerID = sub.Customer
		out.SubscriptionID = sub.ID
		out.PriceID = sub.priceID()
		out.PeriodEnd = sub.periodEnd()

	default:
		out.Type = EventUnrecognized
	}

	return out, nil
}

// stripeInvoicePayload covers both the legacy top-level subscription field
// and the newer parent.subscription_details placement.
type stripeInvoicePayload struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (i *stripeInvoicePayload) subscriptionID() string {
	if i.Subscription != "" {
		return i.Subscription
	}
	return i.Parent.SubscriptionDetails.Subscription
}

func (i *stripeInvoicePayload) periodEnd() time.Time {
	var end int64
	for _, line := range i.Lines.Data {
		if line.Period.End > end {
			end = line.Period.End
		}
	}
	if end == 0 {
		return time.Time{}
	}
	return time.Unix(end, 0).UTC()
}

type stripeSubscriptionPayload struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (s *stripeSubscriptionPayload) priceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

func (s *stripeSubscriptionPayload) periodEnd() time.Time {
	end := s.CurrentPeriodEnd
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd > end {
			end = item.CurrentPeriodEnd
		}
	}
	if end == 0 {
		return time.Time{}
	}
	return time.Unix(end, 0).UTC()
}

func newPayout(po *stripe.Payout) *Payout {
	return &Payout{
		ID:          po.ID,
		Amount:      po.Amount,
		Currency:    string(po.Currency),
		Status:      PayoutStatus(po.Status),
		Description: po.Description,
		CreatedAt:   time.Unix(po.Created, 0).UTC(),
		ArrivalDate: time.Unix(po.ArrivalDate, 0).UTC(),
	}
}
