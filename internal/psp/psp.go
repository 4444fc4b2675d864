// Package psp wires stripe-go to the shared-payment-token → PaymentIntent
// → capture/cancel flow.
//
// Retry-with-backoff around the Stripe client call composes retry.Do
// (exponential backoff with jitter) with a circuitbreaker.Breaker per
// merchant key, so a misbehaving PSP integration for one merchant
// can't starve retries for every other merchant sharing this adapter.
package psp

import (
	"context"
	"errors"
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"

	"github.com/stateset/agentic-checkout/internal/apierr"
	"github.com/stateset/agentic-checkout/internal/circuitbreaker"
	"github.com/stateset/agentic-checkout/internal/metrics"
	"github.com/stateset/agentic-checkout/internal/retry"
)

// PaymentIntentStatus mirrors the external PaymentIntent's status enum.
type PaymentIntentStatus string

const (
	StatusRequiresPaymentMethod PaymentIntentStatus = "requires_payment_method"
	StatusRequiresConfirmation  PaymentIntentStatus = "requires_confirmation"
	StatusRequiresAction        PaymentIntentStatus = "requires_action"
	StatusProcessing            PaymentIntentStatus = "processing"
	StatusRequiresCapture       PaymentIntentStatus = "requires_capture"
	StatusCanceled              PaymentIntentStatus = "canceled"
	StatusSucceeded             PaymentIntentStatus = "succeeded"
)

// PaymentIntent is an abbreviated PSP JSON shape, decoupled from
// stripe-go's own wire struct so callers don't depend on Stripe types.
type PaymentIntent struct {
	ID               string
	Object           string
	Amount           int64
	Currency         string
	Status           PaymentIntentStatus
	PaymentMethod    string
	ClientSecret     string
	AmountCaptured   int64
	AmountRefundable int64
}

// CardPreview is the non-sensitive card summary in a GrantedToken.
type CardPreview struct {
	Brand   string
	Last4   string
	Funding string
	Country string
}

// UsageLimits is a granted token's spend ceiling.
type UsageLimits struct {
	Currency  string
	MaxAmount int64
	ExpiresAt time.Time
}

// GrantedToken is the shared-payment-token preview shape.
type GrantedToken struct {
	ID                   string
	Object               string
	PaymentMethodPreview CardPreview
	UsageLimits          UsageLimits
	RiskDetails          map[string]any
}

// Config controls retry/backoff and webhook verification.
type Config struct {
	SecretKey           string
	APIVersion          string
	MaxRetries          int
	InitialRetryDelay   time.Duration
	WebhookSecret       string
	CircuitThreshold    int
	CircuitOpenDuration time.Duration
}

// Adapter is the PSP adapter's public contract.
type Adapter struct {
	cfg     Config
	breaker *circuitbreaker.Breaker
}

func New(cfg Config) *Adapter {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialRetryDelay <= 0 {
		cfg.InitialRetryDelay = 100 * time.Millisecond
	}
	stripe.Key = cfg.SecretKey
	breaker := circuitbreaker.New(cfg.CircuitThreshold, cfg.CircuitOpenDuration)
	breaker.OnTransition(func(key string, _, to circuitbreaker.State) {
		var v float64
		switch to {
		case circuitbreaker.StateHalfOpen:
			v = 1
		case circuitbreaker.StateOpen:
			v = 2
		}
		metrics.CircuitBreakerState.WithLabelValues(key).Set(v)
	})
	return &Adapter{
		cfg:     cfg,
		breaker: breaker,
	}
}

// merchantKey scopes the circuit breaker; one merchant's PSP trouble
// shouldn't trip the breaker for every merchant sharing this Adapter.
func merchantKey(metadata map[string]string) string {
	if m, ok := metadata["merchant_id"]; ok && m != "" {
		return m
	}
	return "default"
}

// Charge creates and confirms a PaymentIntent from a shared payment
// token. idempotencyKey, when non-empty, is forwarded on every retry
// so Stripe deduplicates.
func (a *Adapter) Charge(ctx context.Context, sharedPaymentToken string, amount int64, currency string, metadata map[string]string, idempotencyKey string) (PaymentIntent, error) {
	key := merchantKey(metadata)
	if !a.breaker.Allow(key) {
		return PaymentIntent{}, apierr.External("psp_circuit_open", "PSP circuit breaker is open", nil)
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(currency),
		PaymentMethod: stripe.String(sharedPaymentToken),
		Confirm:       stripe.Bool(true),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if idempotencyKey != "" {
		params.IdempotencyKey = stripe.String(idempotencyKey)
	}

	var pi *stripe.PaymentIntent
	err := retry.Do(ctx, a.cfg.MaxRetries, a.cfg.InitialRetryDelay, func() error {
		var callErr error
		pi, callErr = paymentintent.New(params)
		if callErr == nil {
			return nil
		}
		if !isRetryable(callErr) {
			return retry.Permanent(callErr)
		}
		return callErr
	})
	if err != nil {
		a.breaker.RecordFailure(key)
		return PaymentIntent{}, translateErr(err)
	}
	a.breaker.RecordSuccess(key)
	return fromStripeIntent(pi), nil
}

// Capture captures a previously-authorized PaymentIntent. A nil
// amount captures the full authorized amount.
func (a *Adapter) Capture(ctx context.Context, intentID string, amount *int64) (PaymentIntent, error) {
	key := "default"
	if !a.breaker.Allow(key) {
		return PaymentIntent{}, apierr.External("psp_circuit_open", "PSP circuit breaker is open", nil)
	}

	params := &stripe.PaymentIntentCaptureParams{}
	if amount != nil {
		params.AmountToCapture = stripe.Int64(*amount)
	}

	var pi *stripe.PaymentIntent
	err := retry.Do(ctx, a.cfg.MaxRetries, a.cfg.InitialRetryDelay, func() error {
		var callErr error
		pi, callErr = paymentintent.Capture(intentID, params)
		if callErr == nil {
			return nil
		}
		if !isRetryable(callErr) {
			return retry.Permanent(callErr)
		}
		return callErr
	})
	if err != nil {
		a.breaker.RecordFailure(key)
		return PaymentIntent{}, translateErr(err)
	}
	a.breaker.RecordSuccess(key)
	return fromStripeIntent(pi), nil
}

// Cancel cancels a PaymentIntent, used for compensation when a
// downstream settlement step fails after capture.
func (a *Adapter) Cancel(ctx context.Context, intentID, reason string) (PaymentIntent, error) {
	params := &stripe.PaymentIntentCancelParams{}
	if reason != "" {
		params.CancellationReason = stripe.String(reason)
	}

	var pi *stripe.PaymentIntent
	err := retry.Do(ctx, a.cfg.MaxRetries, a.cfg.InitialRetryDelay, func() error {
		var callErr error
		pi, callErr = paymentintent.Cancel(intentID, params)
		if callErr == nil {
			return nil
		}
		if !isRetryable(callErr) {
			return retry.Permanent(callErr)
		}
		return callErr
	})
	if err != nil {
		return PaymentIntent{}, translateErr(err)
	}
	return fromStripeIntent(pi), nil
}

func fromStripeIntent(pi *stripe.PaymentIntent) PaymentIntent {
	return PaymentIntent{
		ID:             pi.ID,
		Object:         "payment_intent",
		Amount:         pi.Amount,
		Currency:       string(pi.Currency),
		Status:         PaymentIntentStatus(pi.Status),
		ClientSecret:   pi.ClientSecret,
		AmountCaptured: pi.AmountReceived,
	}
}

func isRetryable(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch int(stripeErr.HTTPStatusCode) {
		case 408, 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	// A non-stripe error (network failure, context deadline, etc.) is
	// treated as transient.
	return true
}

func translateErr(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == 429 {
			return apierr.RateLimitedf("psp_rate_limited", stripeErr.Msg)
		}
		if stripeErr.HTTPStatusCode >= 500 {
			return apierr.External("psp_unavailable", stripeErr.Msg, err)
		}
		return apierr.Declined("psp_declined", stripeErr.Msg)
	}
	return apierr.External("psp_unavailable", "PSP call failed", err)
}
