package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/stateset/agentic-checkout/internal/apierr"
	"github.com/stateset/agentic-checkout/internal/chain"
	"github.com/stateset/agentic-checkout/internal/checkout"
	"github.com/stateset/agentic-checkout/internal/idgen"
	"github.com/stateset/agentic-checkout/internal/logging"
	"github.com/stateset/agentic-checkout/internal/metrics"
	"github.com/stateset/agentic-checkout/internal/psp"
	"github.com/stateset/agentic-checkout/internal/risk"
	"github.com/stateset/agentic-checkout/internal/vault"
	"github.com/stateset/agentic-checkout/internal/webhook"
)

// CheckoutEngine is the slice of checkout.Engine the pipeline drives.
type CheckoutEngine interface {
	Get(ctx context.Context, id string) (checkout.Session, error)
	BeginComplete(ctx context.Context, id string) (checkout.Session, error)
	RevertToReadyForPayment(ctx context.Context, id string, msg checkout.Message) (checkout.Session, error)
	FinalizeComplete(ctx context.Context, id, orderPermalink string) (checkout.Session, error)
}

// InventoryCommitter is the one inventory operation the pipeline needs
// directly; reservation/release stay entirely inside checkout.Engine.
type InventoryCommitter interface {
	Commit(ctx context.Context, sessionID string) error
}

// PSPClient is the slice of psp.Adapter the pipeline drives, narrowed
// to an interface so tests can exercise the pipeline without a live
// Stripe account.
type PSPClient interface {
	Charge(ctx context.Context, sharedPaymentToken string, amount int64, currency string, metadata map[string]string, idempotencyKey string) (psp.PaymentIntent, error)
	Capture(ctx context.Context, intentID string, amount *int64) (psp.PaymentIntent, error)
	Cancel(ctx context.Context, intentID, reason string) (psp.PaymentIntent, error)
	GetGrantedToken(ctx context.Context, id string) (psp.GrantedToken, error)
}

// ChainSettler is the slice of chain.Adapter the pipeline drives.
type ChainSettler interface {
	InstantTransfer(ctx context.Context, msg chain.MsgInstantTransfer) (chain.SettlementResult, error)
	CreateEscrow(ctx context.Context, msg chain.MsgCreateEscrow) (chain.SettlementResult, error)
	RefundEscrow(ctx context.Context, msg chain.MsgRefundEscrow) (chain.SettlementResult, error)
}

// VaultClient is the slice of vault.Vault the pipeline drives.
type VaultClient interface {
	Validate(ctx context.Context, tokenID string, amount int64, sessionID string) (vault.Token, error)
	Consume(ctx context.Context, tokenID string) error
}

// RiskAssessor is the slice of risk.Engine the pipeline drives.
type RiskAssessor interface {
	Assess(ctx context.Context, signals risk.Signals) risk.Assessment
}

// WebhookEmitter is the slice of webhook.Emitter the pipeline drives.
type WebhookEmitter interface {
	OrderCreated(ctx context.Context, order any) error
}

// Pipeline is the settlement pipeline's public contract: it binds the
// checkout session machine, the payment vault, the risk assessor, the
// PSP and blockchain adapters, and the webhook emitter.
type Pipeline struct {
	checkout  CheckoutEngine
	inventory InventoryCommitter
	vault     VaultClient
	risk      RiskAssessor
	psp       PSPClient
	chain     ChainSettler
	webhook   WebhookEmitter
	logger    *slog.Logger
}

type Config struct {
	Checkout  CheckoutEngine
	Inventory InventoryCommitter
	Vault     VaultClient
	Risk      RiskAssessor
	PSP       PSPClient
	Chain     ChainSettler
	Webhook   WebhookEmitter
	Logger    *slog.Logger
}

func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		checkout:  cfg.Checkout,
		inventory: cfg.Inventory,
		vault:     cfg.Vault,
		risk:      cfg.Risk,
		psp:       cfg.PSP,
		chain:     cfg.Chain,
		webhook:   cfg.Webhook,
		logger:    logger,
	}
}

// Complete drives a checkout session through settlement. It implements
// the six-step algorithm: begin, resolve payment, settle, commit
// inventory, finalize, notify — with the vault token consumed after
// settlement succeeds but before inventory commit.
func (p *Pipeline) Complete(ctx context.Context, req Request) (checkout.Session, Record, error) {
	if req.Channel == "" {
		req.Channel = ChannelPSP
	}

	// Every log line of this completion carries the same request id,
	// minted here unless the caller already stamped one.
	if logging.RequestID(ctx) == "" {
		ctx = logging.WithRequestID(ctx, idgen.WithPrefix("req_"))
	}
	ctx = logging.WithLogger(ctx, p.logger.With("session_id", req.SessionID))
	logger := logging.L(ctx)

	session, err := p.checkout.BeginComplete(ctx, req.SessionID)
	if err != nil {
		return checkout.Session{}, Record{}, err
	}

	amount := session.Totals.Grand

	consumeToken, declineErr := p.resolvePayment(ctx, req, session, amount)
	if declineErr != nil {
		reverted, _ := p.checkout.RevertToReadyForPayment(ctx, req.SessionID, checkout.Message{
			Type: checkout.MessageError, Code: "payment_declined", Content: declineErr.Error(),
		})
		_ = reverted
		return checkout.Session{}, Record{}, declineErr
	}

	now := time.Now()
	record := Record{ID: idgen.WithPrefix("stl_"), SessionID: req.SessionID, Channel: req.Channel, Amount: amount, Status: StatusPending, CreatedAt: now, UpdatedAt: now}

	settleErr := p.settle(ctx, req, &record)
	if settleErr != nil {
		record.Status = StatusFailed
		record.UpdatedAt = time.Now()
		metrics.SettlementsTotal.WithLabelValues(string(req.Channel), string(StatusFailed)).Inc()
		reverted, _ := p.checkout.RevertToReadyForPayment(ctx, req.SessionID, checkout.Message{
			Type: checkout.MessageError, Code: "settlement_failed", Content: settleErr.Error(),
		})
		_ = reverted
		return checkout.Session{}, record, settleErr
	}

	// Ordering rule: consume the vault token after settlement succeeds,
	// before inventory commit. Consuming earlier risks burning a token
	// on a capture that never happened; consuming later risks a crash
	// between commit and finalize leaving a completed order with a
	// live, replay-able token.
	if consumeToken != "" {
		if err := p.vault.Consume(ctx, consumeToken); err != nil {
			logger.Error("vault token consume failed after successful settlement", "token", consumeToken, "error", err)
		}
	}

	if err := p.inventory.Commit(ctx, req.SessionID); err != nil {
		p.compensate(ctx, req, record)
		record.Status = StatusFailed
		record.UpdatedAt = time.Now()
		metrics.SettlementsTotal.WithLabelValues(string(req.Channel), string(StatusFailed)).Inc()
		return checkout.Session{}, record, apierr.Internalf("inventory_commit_failed", fmt.Sprintf("settlement succeeded but inventory commit failed: %v", err), err)
	}

	finalSession, err := p.checkout.FinalizeComplete(ctx, req.SessionID, orderPermalinkFor(req.SessionID))
	if err != nil {
		// Funds moved and inventory committed; the session state
		// update itself failed. This is the fund-moved-state-lost
		// case: log loudly, require manual resolution.
		logger.Error("CRITICAL: settlement and inventory commit succeeded but session finalize failed; manual resolution required",
			"settlement_id", record.ID, "error", err)
		return checkout.Session{}, record, apierr.Internalf("finalize_failed", fmt.Sprintf("settlement completed but session finalize failed, manual resolution required: %v", err), err)
	}

	record.Status = StatusCompleted
	record.UpdatedAt = time.Now()
	metrics.SettlementsTotal.WithLabelValues(string(req.Channel), string(StatusCompleted)).Inc()
	if p.webhook != nil {
		data := webhook.OrderData{
			CheckoutSessionID: finalSession.ID,
			Status:            string(finalSession.Status),
			PermalinkURL:      finalSession.Links.OrderPermalink,
			Refunds:           []webhook.Refund{},
		}
		if err := p.webhook.OrderCreated(ctx, data); err != nil {
			logger.Warn("order_created webhook dispatch failed", "error", err)
		}
	}

	return finalSession, record, nil
}

func orderPermalinkFor(sessionID string) string {
	return "https://orders.example.com/" + sessionID
}

// resolvePayment validates the supplied payment path and returns the
// vault token id to consume later (empty if the request used a shared
// payment token instead of a vault token).
func (p *Pipeline) resolvePayment(ctx context.Context, req Request, session checkout.Session, amount int64) (string, error) {
	switch {
	case req.VaultToken != "":
		if _, err := p.vault.Validate(ctx, req.VaultToken, amount, req.SessionID); err != nil {
			return "", err
		}
		return req.VaultToken, nil

	case req.SharedPaymentToken != "":
		granted, err := p.psp.GetGrantedToken(ctx, req.SharedPaymentToken)
		if err != nil {
			return "", err
		}
		signals := signalsFromRiskDetails(granted.RiskDetails)
		assessment := p.risk.Assess(ctx, signals)
		if assessment.Block {
			return "", apierr.Declined("risk_blocked", "payment blocked by risk assessment")
		}
		return "", nil

	default:
		return "", apierr.Invalid("missing_payment_method", "request must supply a vault_token or shared_payment_token", "payment")
	}
}

func signalsFromRiskDetails(details map[string]any) risk.Signals {
	get := func(key string) float64 {
		v, ok := details[key]
		if !ok {
			return 0
		}
		f, _ := v.(float64)
		return f
	}
	return risk.Signals{
		FraudulentDispute: get("fraudulent_dispute"),
		StolenCard:        get("stolen_card"),
		CardTesting:       get("card_testing"),
		Bot:               get("bot"),
	}
}

// settle invokes the configured settlement channel and records its
// outcome on the record in place.
func (p *Pipeline) settle(ctx context.Context, req Request, record *Record) error {
	switch req.Channel {
	case ChannelPSP:
		token := req.SharedPaymentToken
		if token == "" {
			token = req.VaultToken
		}
		intent, err := p.psp.Charge(ctx, token, record.Amount, req.Currency, req.BuyerMetadata, req.IdempotencyKey)
		if err != nil {
			return err
		}
		captured, err := p.psp.Capture(ctx, intent.ID, nil)
		if err != nil {
			return err
		}
		record.Refs.PSPIntentID = captured.ID
		if captured.Status != psp.StatusSucceeded {
			return apierr.Declined("capture_not_succeeded", fmt.Sprintf("payment intent ended in status %s", captured.Status))
		}
		return nil

	case ChannelBlockchainInstant:
		if req.Chain == nil {
			return apierr.Invalid("missing_chain_details", "blockchain_instant requires chain settlement details", "chain")
		}
		res, err := p.chain.InstantTransfer(ctx, chain.MsgInstantTransfer{
			Sender: req.Chain.Sender, Recipient: req.Chain.Recipient,
			Amount: big.NewInt(record.Amount), Reference: req.Chain.Reference, Metadata: req.BuyerMetadata,
		})
		if err != nil {
			return err
		}
		record.Refs.TxHash = res.TxHash
		record.Refs.SettlementID = res.SettlementID
		if res.Fee != nil {
			record.Fee = res.Fee.Int64()
		}
		if res.Net != nil {
			record.Net = res.Net.Int64()
		}
		if res.Status != chain.StatusCompleted {
			return apierr.External("chain_transfer_failed", res.RawLog, nil)
		}
		return nil

	case ChannelBlockchainEscrow:
		if req.Chain == nil {
			return apierr.Invalid("missing_chain_details", "blockchain_escrow requires chain settlement details", "chain")
		}
		res, err := p.chain.CreateEscrow(ctx, chain.MsgCreateEscrow{
			Sender: req.Chain.Sender, Recipient: req.Chain.Recipient,
			Amount: big.NewInt(record.Amount), Reference: req.Chain.Reference, ExpiresInSeconds: req.Chain.EscrowTTLSeconds,
		})
		if err != nil {
			return err
		}
		record.Refs.SettlementID = res.SettlementID
		if res.Status != chain.StatusPending {
			return apierr.External("chain_escrow_create_failed", res.RawLog, nil)
		}
		return nil

	default:
		return apierr.Invalid("unsupported_channel", fmt.Sprintf("settlement channel %q is not supported", req.Channel), "channel")
	}
}

// compensate makes a best-effort attempt to undo a settlement whose
// downstream step (inventory commit) failed after funds already
// moved. Failure to compensate is reported but never revives the
// already-consumed vault token.
func (p *Pipeline) compensate(ctx context.Context, req Request, record Record) {
	logger := logging.L(ctx)
	switch req.Channel {
	case ChannelPSP:
		if record.Refs.PSPIntentID == "" {
			return
		}
		if _, err := p.psp.Cancel(ctx, record.Refs.PSPIntentID, "settlement_compensation"); err != nil {
			logger.Error("compensating PSP cancel failed", "intent_id", record.Refs.PSPIntentID, "error", err)
		}
	case ChannelBlockchainEscrow:
		if record.Refs.SettlementID == "" || req.Chain == nil {
			return
		}
		if _, err := p.chain.RefundEscrow(ctx, chain.MsgRefundEscrow{Recipient: req.Chain.Sender, SettlementID: record.Refs.SettlementID, Reason: "settlement_compensation"}); err != nil {
			logger.Error("compensating chain refund failed", "settlement_id", record.Refs.SettlementID, "error", err)
		}
	default:
		logger.Error("no compensation path for channel", "channel", req.Channel)
	}
}
