package psp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyWebhook_RoundTrips(t *testing.T) {
	a := &Adapter{cfg: Config{WebhookSecret: "whsec_test"}}
	payload := []byte(`{"type":"order_created"}`)
	ts := time.Now().Unix()

	sig := SignWebhook("whsec_test", ts, payload)
	err := a.VerifyWebhook(payload, sig, 300)
	require.NoError(t, err)
}

// Any mutation of payload, timestamp, or signature makes verification
// fail.
func TestVerifyWebhook_RejectsTamperedPayload(t *testing.T) {
	a := &Adapter{cfg: Config{WebhookSecret: "whsec_test"}}
	payload := []byte(`{"type":"order_created"}`)
	ts := time.Now().Unix()
	sig := SignWebhook("whsec_test", ts, payload)

	tampered := []byte(`{"type":"order_updated"}`)
	err := a.VerifyWebhook(tampered, sig, 300)
	assert.Error(t, err)
}

func TestVerifyWebhook_RejectsTamperedSignature(t *testing.T) {
	a := &Adapter{cfg: Config{WebhookSecret: "whsec_test"}}
	payload := []byte(`{"type":"order_created"}`)
	ts := time.Now().Unix()
	sig := SignWebhook("whsec_test", ts, payload)
	repl := "0"
	if sig[len(sig)-1] == '0' {
		repl = "1"
	}
	tampered := sig[:len(sig)-1] + repl

	err := a.VerifyWebhook(payload, tampered, 300)
	assert.Error(t, err)
}

func TestVerifyWebhook_RejectsStaleTimestamp(t *testing.T) {
	a := &Adapter{cfg: Config{WebhookSecret: "whsec_test"}}
	payload := []byte(`{"type":"order_created"}`)
	ts := time.Now().Add(-1 * time.Hour).Unix()
	sig := SignWebhook("whsec_test", ts, payload)

	err := a.VerifyWebhook(payload, sig, 300)
	assert.Error(t, err)
}

func TestVerifyWebhook_RejectsMalformedHeader(t *testing.T) {
	a := &Adapter{cfg: Config{WebhookSecret: "whsec_test"}}
	err := a.VerifyWebhook([]byte("{}"), "not-a-valid-header", 300)
	assert.Error(t, err)
}
