package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/resend/resend-go/v2"
	"golang.org/x/time/rate"
)

// Email is a single outbound HTML message.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// EmailSender defines the interface for delivering an email.
type EmailSender interface {
	Send(ctx context.Context, email Email) error
}

// ResendSender delivers email through the Resend API.
type ResendSender struct {
	client  *resend.Client
	from    string
	timeout time.Duration
	limiter *rate.Limiter
}

// NewResendSender creates a sender for the given API key. ratePerSec <= 0
// disables client-side throttling.
func NewResendSender(apiKey, from string, ratePerSec float64, timeout time.Duration) *ResendSender {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return &ResendSender{
		client:  resend.NewClient(apiKey),
		from:    from,
		timeout: timeout,
		limiter: limiter,
	}
}

// Send waits for a rate limit token and submits the email.
func (s *ResendSender) Send(ctx context.Context, email Email) error {
	if email.To == "" {
		return errors.New("email has no recipient")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{email.To},
		Subject: email.Subject,
		Html:    email.HTML,
	})
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", email.To, err)
	}
	log.Printf("Sent email %s to %s", resp.Id, email.To)
	return nil
}

// LogSender writes emails to the log instead of sending them. It is used
// when no API key is configured.
type LogSender struct{}

// Send logs the recipient and subject.
func (LogSender) Send(_ context.Context, email Email) error {
	if email.To == "" {
		return errors.New("email has no recipient")
	}
	log.Printf("Email delivery disabled; would send %q to %s", email.Subject, email.To)
	return nil
}
