package psp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stateset/agentic-checkout/internal/apierr"
)

// VerifyWebhook parses "t=<ts>,v1=<hex>" from sigHeader, rejects if
// the timestamp is outside tolerance, and recomputes
// HMAC-SHA256(secret, ts || "." || body) for a constant-time compare
// against v1, matching Stripe's inbound webhook signature format.
func (a *Adapter) VerifyWebhook(payload []byte, sigHeader string, toleranceSecs int64) error {
	ts, sig, err := parseSigHeader(sigHeader)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	diff := now - ts
	if diff < 0 {
		diff = -diff
	}
	if diff > toleranceSecs {
		return apierr.Invalid("webhook_timestamp_out_of_tolerance", "webhook timestamp is outside the allowed tolerance", "sig_header")
	}

	expected := computeSignature(a.cfg.WebhookSecret, ts, payload)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return apierr.Invalid("webhook_signature_mismatch", "webhook signature does not match", "sig_header")
	}
	return nil
}

func parseSigHeader(header string) (int64, string, error) {
	var ts int64
	var sig string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			v, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, "", apierr.Invalid("invalid_sig_header", "invalid timestamp in signature header", "sig_header")
			}
			ts = v
		case "v1":
			sig = kv[1]
		}
	}
	if ts == 0 || sig == "" {
		return 0, "", apierr.Invalid("invalid_sig_header", "signature header missing t or v1", "sig_header")
	}
	return ts, sig, nil
}

func computeSignature(secret string, ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", ts)))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignWebhook is the inverse of VerifyWebhook, used by tests and by
// any local simulation of a PSP webhook delivery.
func SignWebhook(secret string, ts int64, payload []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, computeSignature(secret, ts, payload))
}
