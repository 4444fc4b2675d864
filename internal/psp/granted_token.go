package psp

import (
	"context"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentmethod"

	"github.com/stateset/agentic-checkout/internal/apierr"
	"github.com/stateset/agentic-checkout/internal/retry"
)

// GetGrantedToken resolves a shared payment token to its card preview.
// Stripe's nearest analog to a "granted token" is a PaymentMethod id
// with its card details; this adapter fills only ID, Object and the
// non-sensitive PaymentMethodPreview fields. UsageLimits and
// RiskDetails are not populated and are returned as zero values.
func (a *Adapter) GetGrantedToken(ctx context.Context, id string) (GrantedToken, error) {
	var pm *stripe.PaymentMethod
	err := retry.Do(ctx, a.cfg.MaxRetries, a.cfg.InitialRetryDelay, func() error {
		var callErr error
		pm, callErr = paymentmethod.Get(id, nil)
		if callErr == nil {
			return nil
		}
		if !isRetryable(callErr) {
			return retry.Permanent(callErr)
		}
		return callErr
	})
	if err != nil {
		return GrantedToken{}, translateErr(err)
	}
	if pm.Card == nil {
		return GrantedToken{}, apierr.NotFoundf("granted_token_not_card", "granted token is not a card payment method")
	}

	return GrantedToken{
		ID:     pm.ID,
		Object: "granted_token",
		PaymentMethodPreview: CardPreview{
			Brand:   string(pm.Card.Brand),
			Last4:   pm.Card.Last4,
			Funding: string(pm.Card.Funding),
			Country: pm.Card.Country,
		},
	}, nil
}
