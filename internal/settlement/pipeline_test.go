package settlement

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stateset/agentic-checkout/internal/chain"
	"github.com/stateset/agentic-checkout/internal/checkout"
	"github.com/stateset/agentic-checkout/internal/psp"
	"github.com/stateset/agentic-checkout/internal/risk"
	"github.com/stateset/agentic-checkout/internal/vault"
)

type fakeCheckout struct {
	session       checkout.Session
	beginErr      error
	finalizeErr   error
	revertCalls   int
	finalizeCalls int
}

func (f *fakeCheckout) Get(_ context.Context, _ string) (checkout.Session, error) { return f.session, nil }

func (f *fakeCheckout) BeginComplete(_ context.Context, _ string) (checkout.Session, error) {
	if f.beginErr != nil {
		return checkout.Session{}, f.beginErr
	}
	f.session.Status = checkout.InProgress
	return f.session, nil
}

func (f *fakeCheckout) RevertToReadyForPayment(_ context.Context, _ string, msg checkout.Message) (checkout.Session, error) {
	f.revertCalls++
	f.session.Status = checkout.ReadyForPayment
	f.session.Messages = append(f.session.Messages, msg)
	return f.session, nil
}

func (f *fakeCheckout) FinalizeComplete(_ context.Context, _ string, permalink string) (checkout.Session, error) {
	f.finalizeCalls++
	if f.finalizeErr != nil {
		return checkout.Session{}, f.finalizeErr
	}
	f.session.Status = checkout.Completed
	f.session.Links.OrderPermalink = permalink
	return f.session, nil
}

type fakeInventory struct {
	commitErr error
	commits   int
}

func (f *fakeInventory) Commit(_ context.Context, _ string) error {
	f.commits++
	return f.commitErr
}

type fakeVault struct {
	validateErr error
	consumed    []string
}

func (f *fakeVault) Validate(_ context.Context, tokenID string, _ int64, _ string) (vault.Token, error) {
	if f.validateErr != nil {
		return vault.Token{}, f.validateErr
	}
	return vault.Token{ID: tokenID}, nil
}

func (f *fakeVault) Consume(_ context.Context, tokenID string) error {
	f.consumed = append(f.consumed, tokenID)
	return nil
}

type fakePSP struct {
	chargeErr  error
	captureErr error
	cancelErr  error
	granted    psp.GrantedToken
	grantedErr error
	canceled   []string
}

func (f *fakePSP) Charge(_ context.Context, _ string, amount int64, _ string, _ map[string]string, _ string) (psp.PaymentIntent, error) {
	if f.chargeErr != nil {
		return psp.PaymentIntent{}, f.chargeErr
	}
	return psp.PaymentIntent{ID: "pi_1", Amount: amount, Status: psp.StatusRequiresCapture}, nil
}

func (f *fakePSP) Capture(_ context.Context, intentID string, _ *int64) (psp.PaymentIntent, error) {
	if f.captureErr != nil {
		return psp.PaymentIntent{}, f.captureErr
	}
	return psp.PaymentIntent{ID: intentID, Status: psp.StatusSucceeded}, nil
}

func (f *fakePSP) Cancel(_ context.Context, intentID, _ string) (psp.PaymentIntent, error) {
	f.canceled = append(f.canceled, intentID)
	if f.cancelErr != nil {
		return psp.PaymentIntent{}, f.cancelErr
	}
	return psp.PaymentIntent{ID: intentID, Status: psp.StatusCanceled}, nil
}

func (f *fakePSP) GetGrantedToken(_ context.Context, id string) (psp.GrantedToken, error) {
	if f.grantedErr != nil {
		return psp.GrantedToken{}, f.grantedErr
	}
	return f.granted, nil
}

type fakeChain struct {
	transferStatus chain.SettlementStatus
	escrowStatus   chain.SettlementStatus
	refunded       []string
}

func (f *fakeChain) InstantTransfer(_ context.Context, _ chain.MsgInstantTransfer) (chain.SettlementResult, error) {
	status := f.transferStatus
	if status == "" {
		status = chain.StatusCompleted
	}
	return chain.SettlementResult{SettlementID: "stl_fake", TxHash: "0xabc", Status: status}, nil
}

func (f *fakeChain) CreateEscrow(_ context.Context, _ chain.MsgCreateEscrow) (chain.SettlementResult, error) {
	status := f.escrowStatus
	if status == "" {
		status = chain.StatusPending
	}
	return chain.SettlementResult{SettlementID: "stl_escrow", Status: status}, nil
}

func (f *fakeChain) RefundEscrow(_ context.Context, msg chain.MsgRefundEscrow) (chain.SettlementResult, error) {
	f.refunded = append(f.refunded, msg.SettlementID)
	return chain.SettlementResult{SettlementID: msg.SettlementID, Status: chain.StatusRefunded}, nil
}

type passthroughRisk struct{ assessment risk.Assessment }

func (r *passthroughRisk) Assess(_ context.Context, _ risk.Signals) risk.Assessment { return r.assessment }

type fakeWebhook struct{ dispatched int }

func (f *fakeWebhook) OrderCreated(_ context.Context, _ any) error {
	f.dispatched++
	return nil
}

// TestComplete_HappyPath: vault token validates, PSP capture succeeds,
// inventory commits, session completes, webhook fires.
func TestComplete_HappyPath(t *testing.T) {
	co := &fakeCheckout{session: checkout.Session{ID: "co_1", Status: checkout.ReadyForPayment}}
	inv := &fakeInventory{}
	vlt := &fakeVault{}
	pspClient := &fakePSP{}
	wh := &fakeWebhook{}

	p := New(Config{Checkout: co, Inventory: inv, Vault: vlt, PSP: pspClient, Webhook: wh})

	session, record, err := p.Complete(context.Background(), Request{SessionID: "co_1", VaultToken: "vt_1", Currency: "usd"})
	require.NoError(t, err)
	assert.Equal(t, checkout.Completed, session.Status)
	assert.Equal(t, StatusCompleted, record.Status)
	assert.Equal(t, []string{"vt_1"}, vlt.consumed)
	assert.Equal(t, 1, inv.commits)
	assert.Equal(t, 1, wh.dispatched)
	assert.Equal(t, 0, co.revertCalls)
}

// A risk-blocked shared payment token declines the payment, reverts
// the session, and never reaches inventory commit.
func TestComplete_RiskBlockReverts(t *testing.T) {
	co := &fakeCheckout{session: checkout.Session{ID: "co_1", Status: checkout.ReadyForPayment}}
	inv := &fakeInventory{}
	pspClient := &fakePSP{granted: psp.GrantedToken{ID: "spt_1"}}
	riskEngine := &passthroughRisk{assessment: risk.Assessment{Block: true, Recommendation: risk.Block}}

	p := New(Config{Checkout: co, Inventory: inv, PSP: pspClient, Risk: riskEngine})

	_, _, err := p.Complete(context.Background(), Request{SessionID: "co_1", SharedPaymentToken: "spt_1"})
	require.Error(t, err)
	assert.Equal(t, 1, co.revertCalls)
	assert.Equal(t, 0, inv.commits)
}

func TestComplete_MissingPaymentMethodRejected(t *testing.T) {
	co := &fakeCheckout{session: checkout.Session{ID: "co_1", Status: checkout.ReadyForPayment}}
	p := New(Config{Checkout: co, Inventory: &fakeInventory{}})

	_, _, err := p.Complete(context.Background(), Request{SessionID: "co_1"})
	require.Error(t, err)
	assert.Equal(t, 1, co.revertCalls)
}

func TestComplete_CaptureFailureReverts(t *testing.T) {
	co := &fakeCheckout{session: checkout.Session{ID: "co_1", Status: checkout.ReadyForPayment}}
	inv := &fakeInventory{}
	vlt := &fakeVault{}
	pspClient := &fakePSP{chargeErr: errors.New("card declined")}

	p := New(Config{Checkout: co, Inventory: inv, Vault: vlt, PSP: pspClient})

	_, _, err := p.Complete(context.Background(), Request{SessionID: "co_1", VaultToken: "vt_1"})
	require.Error(t, err)
	assert.Equal(t, 1, co.revertCalls)
	assert.Empty(t, vlt.consumed)
	assert.Equal(t, 0, inv.commits)
}

// TestComplete_InventoryCommitFailureCompensates ensures that when
// funds have already moved (capture succeeded, token consumed) but
// inventory commit fails, the pipeline attempts a compensating PSP
// cancel rather than silently losing the discrepancy.
func TestComplete_InventoryCommitFailureCompensates(t *testing.T) {
	co := &fakeCheckout{session: checkout.Session{ID: "co_1", Status: checkout.ReadyForPayment}}
	inv := &fakeInventory{commitErr: errors.New("product vanished")}
	vlt := &fakeVault{}
	pspClient := &fakePSP{}

	p := New(Config{Checkout: co, Inventory: inv, Vault: vlt, PSP: pspClient})

	_, record, err := p.Complete(context.Background(), Request{SessionID: "co_1", VaultToken: "vt_1"})
	require.Error(t, err)
	assert.Equal(t, []string{"vt_1"}, vlt.consumed) // token already consumed before commit failed
	assert.Equal(t, []string{"pi_1"}, pspClient.canceled)
	assert.Equal(t, 0, co.finalizeCalls)
	assert.NotEmpty(t, record.Refs.PSPIntentID)
}

func TestComplete_BlockchainInstantTransfer(t *testing.T) {
	co := &fakeCheckout{session: checkout.Session{ID: "co_1", Status: checkout.ReadyForPayment}}
	inv := &fakeInventory{}
	vlt := &fakeVault{}
	chainClient := &fakeChain{}

	p := New(Config{Checkout: co, Inventory: inv, Vault: vlt, Chain: chainClient})

	session, record, err := p.Complete(context.Background(), Request{
		SessionID: "co_1", VaultToken: "vt_1", Channel: ChannelBlockchainInstant,
		Chain: &ChainSettlement{Sender: "0xsender", Recipient: "0xrecipient"},
	})
	require.NoError(t, err)
	assert.Equal(t, checkout.Completed, session.Status)
	assert.Equal(t, "0xabc", record.Refs.TxHash)
}

func TestComplete_BlockchainEscrowFailureCompensatesWithRefund(t *testing.T) {
	co := &fakeCheckout{session: checkout.Session{ID: "co_1", Status: checkout.ReadyForPayment}}
	inv := &fakeInventory{commitErr: errors.New("product vanished")}
	vlt := &fakeVault{}
	chainClient := &fakeChain{}

	p := New(Config{Checkout: co, Inventory: inv, Vault: vlt, Chain: chainClient})

	_, record, err := p.Complete(context.Background(), Request{
		SessionID: "co_1", VaultToken: "vt_1", Channel: ChannelBlockchainEscrow,
		Chain: &ChainSettlement{Sender: "0xsender", Recipient: "0xrecipient", EscrowTTLSeconds: 60},
	})
	require.Error(t, err)
	assert.Equal(t, []string{record.Refs.SettlementID}, chainClient.refunded)
}

func TestSignalsFromRiskDetails_DefaultsMissingKeysToZero(t *testing.T) {
	signals := signalsFromRiskDetails(map[string]any{"fraudulent_dispute": 90.0})
	assert.Equal(t, 90.0, signals.FraudulentDispute)
	assert.Equal(t, 0.0, signals.StolenCard)
}
