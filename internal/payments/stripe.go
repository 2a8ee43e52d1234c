package payments

import (
	"context"
	"errors"
	"math"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

var ErrInvalidAmount = errors.New("payment amount must be positive")

// Processor places and releases holds on a rider's payment method.
type Processor interface {
	Hold(ctx context.Context, amount int64, currency, reference string) (string, error)
	Cancel(ctx context.Context, paymentIntentID string) error
}

// AmountInMinorUnits converts a display price to cents.
func AmountInMinorUnits(price float64) int64 {
	return int64(math.Round(price * 100))
}

// StripeClient is a thin wrapper around stripe-go for PaymentIntent hold/cancel flows.
type StripeClient struct {
	intents *paymentintent.Client
}

func NewStripeClient(apiKey string) *StripeClient {
	return NewStripeClientWithBackend(apiKey, stripe.GetBackend(stripe.APIBackend))
}

// NewStripeClientWithBackend lets tests point the client at a fake API.
func NewStripeClientWithBackend(apiKey string, b stripe.Backend) *StripeClient {
	return &StripeClient{intents: &paymentintent.Client{B: b, Key: apiKey}}
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds.
// It returns the PaymentIntent ID on success.
func (s *StripeClient) Hold(ctx context.Context, amount int64, currency, reference string) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(currency)),
	}
	params.Context = ctx
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	if reference != "" {
		params.AddMetadata("booking_reference", reference)
	}
	pi, err := s.intents.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := s.intents.Cancel(paymentIntentID, params)
	return err
}
