// Package vault implements the delegated payment vault: issuance,
// single-session single-use validation, and consumption of short-lived
// vault tokens bound to one session and one amount ceiling.
//
// Tokens are persisted in the shared cache keyed by id with
// ttl = allowance.expires_at - now: a bounded-capability key with a
// store-enforced TTL, generalized from a standing session key to a
// single-use token.
package vault

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stateset/agentic-checkout/internal/apierr"
	"github.com/stateset/agentic-checkout/internal/cache"
	"github.com/stateset/agentic-checkout/internal/idgen"
	"github.com/stateset/agentic-checkout/internal/metrics"
)

// CardFacts are the non-sensitive card details retained after
// validation; the vault never stores a PAN.
type CardFacts struct {
	Brand       string
	Last4       string
	FundingType string
}

// Allowance constrains what a token can be used for.
type Allowance struct {
	Reason            string // always "one_time"
	MaxAmount         int64
	Currency          string
	CheckoutSessionID string
	MerchantID        string
	ExpiresAt         time.Time
}

// PaymentMethod is the incoming delegation request's card reference.
type PaymentMethod struct {
	Type           string // must be "card"
	CardNumberType string // fpan | network_token
	CardNumber     string // digits only, validated then discarded
	ExpiryMonth    int
	ExpiryYear     int
}

// RiskSignal mirrors an upstream risk decision attached to the
// delegation request; Action "blocked" rejects delegation outright.
type RiskSignal struct {
	Action string
}

// DelegateRequest is the input to Delegate.
type DelegateRequest struct {
	PaymentMethod  PaymentMethod
	Allowance      Allowance
	CardFacts      CardFacts
	BillingAddress map[string]string
	Metadata       map[string]string
	RiskSignals    []RiskSignal
}

// Token is the persisted record for a vault token.
type Token struct {
	ID             string
	CardFacts      CardFacts
	Allowance      Allowance
	BillingAddress map[string]string
	Metadata       map[string]string
	CreatedAt      time.Time
}

// Vault is the delegated payment vault's public contract: Delegate,
// Validate, Consume.
type Vault struct {
	store cache.Store
	now   func() time.Time
}

func New(store cache.Store) *Vault {
	return &Vault{store: store, now: time.Now}
}

func key(tokenID string) string { return "vt:" + tokenID }

// Delegate validates the request and persists a new token:
// payment_method.type must be "card", card_number_type must be
// fpan/network_token, allowance.reason must be "one_time"; any risk
// signal with Action "blocked" rejects outright; the PAN must be
// digits-only length 13..19; an expiry, if present, must be valid and
// not in the past.
func (v *Vault) Delegate(_ context.Context, req DelegateRequest) (Token, error) {
	if req.PaymentMethod.Type != "card" {
		return Token{}, apierr.Invalid("invalid_payment_method", "payment_method.type must be card", "payment_method.type")
	}
	if req.PaymentMethod.CardNumberType != "fpan" && req.PaymentMethod.CardNumberType != "network_token" {
		return Token{}, apierr.Invalid("invalid_card_number_type", "card_number_type must be fpan or network_token", "payment_method.card_number_type")
	}
	if req.Allowance.Reason != "one_time" {
		return Token{}, apierr.Invalid("invalid_allowance_reason", "allowance.reason must be one_time", "allowance.reason")
	}
	for _, sig := range req.RiskSignals {
		if sig.Action == "blocked" {
			return Token{}, apierr.Declined("risk_blocked", "delegation rejected by risk signal")
		}
	}
	if !isDigits(req.PaymentMethod.CardNumber) || len(req.PaymentMethod.CardNumber) < 13 || len(req.PaymentMethod.CardNumber) > 19 {
		return Token{}, apierr.Invalid("invalid_card_number", "card number must be 13-19 digits", "payment_method.card_number")
	}
	if req.PaymentMethod.ExpiryMonth != 0 || req.PaymentMethod.ExpiryYear != 0 {
		if !validExpiry(req.PaymentMethod.ExpiryMonth, req.PaymentMethod.ExpiryYear, v.now()) {
			return Token{}, apierr.Invalid("invalid_card_expiry", "card expiry is invalid or in the past", "payment_method.expiry")
		}
	}

	ttl := req.Allowance.ExpiresAt.Sub(v.now())
	if ttl <= 0 {
		return Token{}, apierr.Invalid("invalid_expiry", "allowance.expires_at must be in the future", "allowance.expires_at")
	}

	tok := Token{
		ID:             idgen.WithPrefix("vt_"),
		CardFacts:      req.CardFacts,
		Allowance:      req.Allowance,
		BillingAddress: req.BillingAddress,
		Metadata:       req.Metadata,
		CreatedAt:      v.now(),
	}

	raw, err := json.Marshal(tok)
	if err != nil {
		return Token{}, apierr.Internalf("vault_marshal_failed", "failed to persist token", err)
	}
	v.store.Set(key(tok.ID), raw, ttl)
	metrics.VaultTokensTotal.WithLabelValues("delegated").Inc()
	return tok, nil
}

// Validate checks that tokenID exists, is bound to sessionID, and
// covers amount. A cache miss (never existed or expired) is reported
// as NotFound — the two cases are indistinguishable by design.
func (v *Vault) Validate(_ context.Context, tokenID string, amount int64, sessionID string) (Token, error) {
	raw, ok := v.store.Get(key(tokenID))
	if !ok {
		return Token{}, apierr.NotFoundf("token_not_found", "vault token not found or expired")
	}
	var tok Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return Token{}, apierr.Internalf("vault_unmarshal_failed", "failed to read token", err)
	}
	if tok.Allowance.CheckoutSessionID != sessionID {
		return Token{}, apierr.InvalidOp("session_mismatch", "token is bound to a different checkout session")
	}
	if amount > tok.Allowance.MaxAmount {
		return Token{}, apierr.InvalidOp("amount_exceeds_allowance", "amount exceeds the token's allowance")
	}
	return tok, nil
}

// Consume deletes tokenID. Deleting an absent key is a no-op success:
// the second consume of an already-consumed token observes absence
// and reports success — the single-use invariant holds because the
// first delete wins; no separate burned-token set is kept.
func (v *Vault) Consume(_ context.Context, tokenID string) error {
	v.store.Delete(key(tokenID))
	metrics.VaultTokensTotal.WithLabelValues("consumed").Inc()
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validExpiry(month, year int, now time.Time) bool {
	if month < 1 || month > 12 {
		return false
	}
	// Card expiry is valid through the last instant of the expiry month.
	expiry := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	return expiry.After(now)
}
