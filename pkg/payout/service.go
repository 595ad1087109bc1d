// Package payout moves accumulated revenue from the payment processor's
// balance to the linked bank account. The processor remains the ledger; this
// package only decides how much to move and when, keeping a fractional buffer
// behind to absorb refunds and disputes.
package payout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/learnsphere/billing/pkg/payment"
)

// Config controls payout behavior.
type Config struct {
	// BufferFraction is the share of the available balance withheld from
	// every payout. 0.1 keeps 10% behind.
	BufferFraction float64 `env:"PAYOUT_BUFFER_FRACTION" envDefault:"0.1"`

	// Currency is the settlement currency payouts are drawn in.
	Currency string `env:"PAYOUT_CURRENCY" envDefault:"usd"`
}

// Service computes payout amounts and drives the processor's payout API.
type Service struct {
	processor payment.Processor
	config    Config
	logger    *slog.Logger
}

// NewService creates the payout service.
// Panics if processor is nil or the buffer fraction is outside [0, 1).
func NewService(processor payment.Processor, config Config, logger *slog.Logger) *Service {
	if processor == nil {
		panic("payout: payment processor is required")
	}
	if config.BufferFraction < 0 || config.BufferFraction >= 1 {
		panic(fmt.Sprintf("payout: buffer fraction %v outside [0, 1)", config.BufferFraction))
	}
	if config.Currency == "" {
		config.Currency = "usd"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		processor: processor,
		config:    config,
		logger:    logger.With("component", "payout"),
	}
}

// CalculateAmount returns how much of the current balance a payout may move:
// the available amount in the settlement currency, reduced by the buffer
// fraction and floored. Never negative.
func (s *Service) CalculateAmount(ctx context.Context) (int64, error) {
	balance, err := s.processor.RetrieveBalance(ctx)
	if err != nil {
		return 0, fmt.Errorf("retrieve balance: %w", err)
	}
	return s.payable(balance.AvailableIn(s.config.Currency)), nil
}

func (s *Service) payable(available int64) int64 {
	if available <= 0 {
		return 0
	}
	amount := int64(float64(available) * (1 - s.config.BufferFraction))
	if amount < 0 {
		return 0
	}
	return amount
}

// Settings reports the processor account's payout capability.
func (s *Service) Settings(ctx context.Context) (*payment.PayoutSettings, error) {
	return s.processor.PayoutSettings(ctx)
}

// CreateManual initiates an operator-requested payout of an explicit amount.
// The amount must be positive and must not dip into the buffered share of the
// balance.
func (s *Service) CreateManual(ctx context.Context, amount int64, description string) (*payment.Payout, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	settings, err := s.processor.PayoutSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("check payout settings: %w", err)
	}
	if !settings.Enabled {
		return nil, ErrPayoutsDisabled
	}

	max, err := s.CalculateAmount(ctx)
	if err != nil {
		return nil, err
	}
	if amount > max {
		return nil, ErrInsufficientBalance
	}

	if description == "" {
		description = "Manual payout"
	}
	p, err := s.processor.CreatePayout(ctx, amount, s.config.Currency, description)
	if err != nil {
		return nil, fmt.Errorf("create payout: %w", err)
	}

	s.logger.InfoContext(ctx, "manual payout created",
		"payout_id", p.ID,
		"amount", p.Amount,
		"currency", p.Currency)
	return p, nil
}

// RunScheduled performs one periodic payout of the full buffered balance.
// A zero or negative payable amount is not an error for the schedule; it is
// logged and reported as ErrNothingToPayOut so the caller can tell the run
// was a deliberate skip.
func (s *Service) RunScheduled(ctx context.Context) (*payment.Payout, error) {
	settings, err := s.processor.PayoutSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("check payout settings: %w", err)
	}
	if !settings.Enabled {
		s.logger.WarnContext(ctx, "scheduled payout skipped, payouts disabled",
			"reason", settings.DisabledFor)
		return nil, ErrPayoutsDisabled
	}

	amount, err := s.CalculateAmount(ctx)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		s.logger.InfoContext(ctx, "scheduled payout skipped, nothing to pay out",
			"currency", s.config.Currency)
		return nil, ErrNothingToPayOut
	}

	p, err := s.processor.CreatePayout(ctx, amount, s.config.Currency,
		"Scheduled payout "+time.Now().UTC().Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("create scheduled payout: %w", err)
	}

	s.logger.InfoContext(ctx, "scheduled payout created",
		"payout_id", p.ID,
		"amount", p.Amount,
		"currency", p.Currency,
		"arrival_date", p.ArrivalDate)
	return p, nil
}

// List returns recent payouts from the processor's ledger, optionally
// filtered by status. A non-positive limit asks for the processor's default
// page size.
func (s *Service) List(ctx context.Context, limit int64, status payment.PayoutStatus) ([]payment.Payout, error) {
	return s.processor.ListPayouts(ctx, limit, status)
}

// Get fetches a single payout by id.
func (s *Service) Get(ctx context.Context, payoutID string) (*payment.Payout, error) {
	return s.processor.RetrievePayout(ctx, payoutID)
}

// Cancel cancels a payout that is still pending. Payouts already in transit
// or settled surface payment.ErrPayoutNotCancelable; the pre-check here turns
// the common case into a clear error before hitting the processor.
func (s *Service) Cancel(ctx context.Context, payoutID string) (*payment.Payout, error) {
	current, err := s.processor.RetrievePayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if current.Status != payment.PayoutPending {
		return nil, fmt.Errorf("payout %s is %s: %w", payoutID, current.Status, payment.ErrPayoutNotCancelable)
	}

	p, err := s.processor.CancelPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "payout canceled", "payout_id", p.ID, "amount", p.Amount)
	return p, nil
}

// ScheduleStatus is a point-in-time snapshot for operators: what the account
// can do and what the next scheduled run would move.
type ScheduleStatus struct {
	Enabled        bool    `json:"enabled"`
	DisabledReason string  `json:"disabled_reason,omitempty"`
	BankName       string  `json:"bank_name,omitempty"`
	BankLast4      string  `json:"bank_last4,omitempty"`
	Currency       string  `json:"currency"`
	BufferFraction float64 `json:"buffer_fraction"`
	Available      int64   `json:"available"`
	NextPayable    int64   `json:"next_payable"`
}

// Schedule reports the current payout posture without side effects.
func (s *Service) Schedule(ctx context.Context) (*ScheduleStatus, error) {
	settings, err := s.processor.PayoutSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("check payout settings: %w", err)
	}
	balance, err := s.processor.RetrieveBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieve balance: %w", err)
	}

	available := balance.AvailableIn(s.config.Currency)
	return &ScheduleStatus{
		Enabled:        settings.Enabled,
		DisabledReason: settings.DisabledFor,
		BankName:       settings.BankName,
		BankLast4:      settings.BankLast4,
		Currency:       s.config.Currency,
		BufferFraction: s.config.BufferFraction,
		Available:      available,
		NextPayable:    s.payable(available),
	}, nil
}
