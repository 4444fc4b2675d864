package vault

import (
	"context"
	"testing"
	"time"

	"github.com/stateset/agentic-checkout/internal/apierr"
	"github.com/stateset/agentic-checkout/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() DelegateRequest {
	return DelegateRequest{
		PaymentMethod: PaymentMethod{
			Type:           "card",
			CardNumberType: "fpan",
			CardNumber:     "4242424242424242",
		},
		Allowance: Allowance{
			Reason:            "one_time",
			MaxAmount:         20000,
			Currency:          "usd",
			CheckoutSessionID: "cs_1",
			ExpiresAt:         time.Now().Add(15 * time.Minute),
		},
		CardFacts: CardFacts{Brand: "visa", Last4: "4242", FundingType: "credit"},
	}
}

func TestDelegate_Succeeds(t *testing.T) {
	v := New(cache.New())

	tok, err := v.Delegate(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Contains(t, tok.ID, "vt_")
}

func TestDelegate_RejectsNonCardPaymentMethod(t *testing.T) {
	v := New(cache.New())
	req := validRequest()
	req.PaymentMethod.Type = "bank_transfer"

	_, err := v.Delegate(context.Background(), req)
	var ae *apierr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apierr.InvalidInput, ae.Kind)
}

func TestDelegate_RejectsBlockedRiskSignal(t *testing.T) {
	v := New(cache.New())
	req := validRequest()
	req.RiskSignals = []RiskSignal{{Action: "blocked"}}

	_, err := v.Delegate(context.Background(), req)
	var ae *apierr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apierr.PaymentDeclined, ae.Kind)
}

func TestDelegate_RejectsBadCardNumberLength(t *testing.T) {
	v := New(cache.New())
	req := validRequest()
	req.PaymentMethod.CardNumber = "123"

	_, err := v.Delegate(context.Background(), req)
	require.Error(t, err)
}

func TestDelegate_RejectsZeroOrNegativeTTL(t *testing.T) {
	v := New(cache.New())
	req := validRequest()
	req.Allowance.ExpiresAt = time.Now().Add(-time.Minute)

	_, err := v.Delegate(context.Background(), req)
	require.Error(t, err)
}

func TestValidate_WrongSessionIsInvalidOperation(t *testing.T) {
	v := New(cache.New())
	tok, err := v.Delegate(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), tok.ID, 100, "cs_other")
	var ae *apierr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apierr.InvalidOperation, ae.Kind)
}

func TestValidate_AmountExceedsAllowance(t *testing.T) {
	v := New(cache.New())
	tok, err := v.Delegate(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), tok.ID, 999999, "cs_1")
	var ae *apierr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apierr.InvalidOperation, ae.Kind)
}

func TestValidate_MissingIsNotFound(t *testing.T) {
	v := New(cache.New())

	_, err := v.Validate(context.Background(), "vt_missing", 100, "cs_1")
	var ae *apierr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apierr.NotFound, ae.Kind)
}

// First consume succeeds, subsequent validates return NotFound, and a
// second consume is still a no-op success.
func TestConsume_SingleUse(t *testing.T) {
	v := New(cache.New())
	tok, err := v.Delegate(context.Background(), validRequest())
	require.NoError(t, err)

	require.NoError(t, v.Consume(context.Background(), tok.ID))
	require.NoError(t, v.Consume(context.Background(), tok.ID))

	_, err = v.Validate(context.Background(), tok.ID, 100, "cs_1")
	var ae *apierr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apierr.NotFound, ae.Kind)
}

// A consumed token cannot be replayed against another session.
func TestConsume_ReplayAcrossSessions(t *testing.T) {
	v := New(cache.New())
	tok, err := v.Delegate(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), tok.ID, 20000, "cs_1")
	require.NoError(t, err)
	require.NoError(t, v.Consume(context.Background(), tok.ID))

	_, err = v.Validate(context.Background(), tok.ID, 20000, "cs_other")
	var ae *apierr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apierr.NotFound, ae.Kind)
}
