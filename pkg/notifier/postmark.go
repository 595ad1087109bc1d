package notifier

import (
	"context"
	"errors"
	"fmt"
	"html/template"

	"github.com/mrz1836/postmark"
)

var (
	ErrInvalidConfig     = errors.New("invalid notifier configuration")
	ErrFailedToSendEmail = errors.New("failed to send email")
)

// Config holds the Postmark credentials and sender identity.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN,required"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN,required"`
	SenderEmail          string `env:"SENDER_EMAIL,required"`
	ProductName          string `env:"PRODUCT_NAME" envDefault:"LearnSphere"`
}

type postmarkNotifier struct {
	client *postmark.Client
	config Config
}

// NewPostmarkNotifier creates a Postmark-backed Notifier.
func NewPostmarkNotifier(cfg Config) (Notifier, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: PostmarkServerToken is required", ErrInvalidConfig)
	}
	if cfg.PostmarkAccountToken == "" {
		return nil, fmt.Errorf("%w: PostmarkAccountToken is required", ErrInvalidConfig)
	}
	if cfg.SenderEmail == "" {
		return nil, fmt.Errorf("%w: SenderEmail is required", ErrInvalidConfig)
	}
	return &postmarkNotifier{
		client: postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		config: cfg,
	}, nil
}

func (n *postmarkNotifier) send(ctx context.Context, to, subject, tag, bodyHTML string) error {
	resp, err := n.client.SendEmail(ctx, postmark.Email{
		From:       n.config.SenderEmail,
		To:         to,
		Subject:    subject,
		Tag:        tag,
		HTMLBody:   bodyHTML,
		TrackOpens: true,
	})
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrFailedToSendEmail,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}

func esc(s string) string { return template.HTMLEscapeString(s) }

const dateLayout = "January 2, 2006"

func (n *postmarkNotifier) SendTrialStarted(ctx context.Context, msg TrialStarted) error {
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Your %s trial has started. You have full access until <strong>%s</strong>.</p>",
		esc(msg.Name), esc(n.config.ProductName), msg.TrialEndDate.Format(dateLayout))
	return n.send(ctx, msg.Email, "Your trial has started", "trial-started", body)
}

func (n *postmarkNotifier) SendSubscriptionCreated(ctx context.Context, msg SubscriptionCreated) error {
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Your <strong>%s</strong> subscription is now active. The current period runs until %s.</p>",
		esc(msg.Name), esc(msg.Plan), msg.EndDate.Format(dateLayout))
	return n.send(ctx, msg.Email, "Subscription confirmed", "subscription-created", body)
}

func (n *postmarkNotifier) SendSubscriptionCanceled(ctx context.Context, msg SubscriptionCanceled) error {
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Your <strong>%s</strong> subscription has been canceled. You keep access until %s.</p>",
		esc(msg.Name), esc(msg.Plan), msg.EndDate.Format(dateLayout))
	return n.send(ctx, msg.Email, "Subscription canceled", "subscription-canceled", body)
}

func (n *postmarkNotifier) SendPaymentFailed(ctx context.Context, msg PaymentFailed) error {
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>We could not collect payment for your <strong>%s</strong> subscription. Please update your payment method to keep access.</p>",
		esc(msg.Name), esc(msg.Plan))
	return n.send(ctx, msg.Email, "Payment failed", "payment-failed", body)
}

func (n *postmarkNotifier) SendRenewalReminder(ctx context.Context, msg RenewalReminder) error {
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Your <strong>%s</strong> subscription renews on %s for %s.</p>",
		esc(msg.Name), esc(msg.Plan), msg.EndDate.Format(dateLayout), formatAmount(msg.Amount))
	return n.send(ctx, msg.Email, "Your subscription renews soon", "renewal-reminder", body)
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
