package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/stateset/agentic-checkout/internal/apierr"
	"github.com/stateset/agentic-checkout/internal/idgen"
)

// Broadcaster sends a signed message to the chain's gRPC/REST
// endpoint and returns the transaction hash once accepted. The real
// wire protocol is an external collaborator behind this seam so the
// adapter isn't hardwired to Ethereum JSON-RPC semantics for what is,
// underneath, a custom account chain.
type Broadcaster interface {
	Broadcast(ctx context.Context, msgType string, msg any) (txHash string, err error)
}

// Config controls the adapter's endpoints and validation rule.
type Config struct {
	GRPCEndpoint    string
	RESTEndpoint    string
	ChainID         string
	AddressPrefix   string
	DefaultGasPrice int64
	DefaultGasLimit int64
	FeeDenom        string
	StablecoinDenom string
	Timeout         time.Duration
	MaxRetries      int
}

type unconfiguredBroadcaster struct{}

func (unconfiguredBroadcaster) Broadcast(context.Context, string, any) (string, error) {
	return "", errors.New("chain broadcaster not configured")
}

// Adapter is the blockchain settlement adapter's public contract.
type Adapter struct {
	cfg         Config
	broadcaster Broadcaster
	gasClient   *ethclient.Client // optional; nil if RPC dial wasn't configured
	logger      *slog.Logger

	escrowLocks sync.Map // settlementID -> *sync.Mutex
	escrows     sync.Map // settlementID -> Escrow

	batches  sync.Map // batchID -> Batch
	channels sync.Map // channelID -> Channel
}

// New builds an Adapter. rpcURL may be empty, in which case gas
// diagnostics (SuggestGasPrice) are skipped — the fee formula below
// is deterministic and does not require it.
func New(cfg Config, broadcaster Broadcaster, rpcURL string, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if broadcaster == nil {
		broadcaster = unconfiguredBroadcaster{}
	}
	a := &Adapter{cfg: cfg, broadcaster: broadcaster, logger: logger}
	if rpcURL != "" {
		client, err := ethclient.Dial(rpcURL)
		if err != nil {
			return nil, apierr.External("chain_rpc_dial_failed", "failed to connect to chain RPC", err)
		}
		a.gasClient = client
	}
	return a, nil
}

// Close releases the RPC client, if one was dialed.
func (a *Adapter) Close() {
	if a.gasClient != nil {
		a.gasClient.Close()
	}
}

func (a *Adapter) lockFor(settlementID string) *sync.Mutex {
	v, _ := a.escrowLocks.LoadOrStore(settlementID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// broadcast sends a message through the broadcaster, logging the
// chain's current suggested gas price alongside it when an RPC client
// is configured. The fee formula itself stays deterministic; the
// suggestion is a diagnostic for operators comparing quoted fees
// against live network conditions.
func (a *Adapter) broadcast(ctx context.Context, msgType string, msg any) (string, error) {
	if a.gasClient != nil {
		if price, err := a.gasClient.SuggestGasPrice(ctx); err != nil {
			a.logger.Debug("gas price suggestion unavailable", "msg_type", msgType, "error", err)
		} else {
			a.logger.Debug("broadcasting chain message", "msg_type", msgType, "suggested_gas_price", price)
		}
	}
	return a.broadcaster.Broadcast(ctx, msgType, msg)
}

func (a *Adapter) validateAddresses(addrs ...string) error {
	for _, addr := range addrs {
		if !ValidAddress(a.cfg.AddressPrefix, addr) {
			return apierr.Invalid("invalid_address", fmt.Sprintf("address %q is not valid", addr), "address")
		}
	}
	return nil
}

// InstantTransfer computes fee = amount*0.5%, net = amount-fee, and
// broadcasts a transfer message. A non-zero response code from the
// chain yields a failed SettlementRecord with raw_log captured; there
// is no automatic retry beyond the broadcast layer's own.
func (a *Adapter) InstantTransfer(ctx context.Context, msg MsgInstantTransfer) (SettlementResult, error) {
	if err := a.validateAddresses(msg.Sender, msg.Recipient); err != nil {
		return SettlementResult{}, err
	}

	fee := new(big.Int).Div(new(big.Int).Mul(msg.Amount, big.NewInt(5)), big.NewInt(1000))
	net := new(big.Int).Sub(msg.Amount, fee)

	txHash, err := a.broadcast(ctx, "MsgInstantTransfer", msg)
	if err != nil {
		return SettlementResult{
			SettlementID: idgen.WithPrefix("stl_"),
			Status:       StatusFailed,
			Fee:          fee,
			Net:          net,
			RawLog:       err.Error(),
		}, nil
	}
	return SettlementResult{
		SettlementID: idgen.WithPrefix("stl_"),
		TxHash:       txHash,
		Status:       StatusCompleted,
		Fee:          fee,
		Net:          net,
	}, nil
}

// CreateEscrow opens a pending escrow with expires_at = now + ttl.
func (a *Adapter) CreateEscrow(ctx context.Context, msg MsgCreateEscrow) (SettlementResult, error) {
	if err := a.validateAddresses(msg.Sender, msg.Recipient); err != nil {
		return SettlementResult{}, err
	}

	txHash, err := a.broadcast(ctx, "MsgCreateEscrow", msg)
	if err != nil {
		return SettlementResult{Status: StatusFailed, RawLog: err.Error()}, nil
	}

	id := idgen.WithPrefix("stl_")
	now := time.Now()
	esc := Escrow{
		SettlementID: id,
		Sender:       msg.Sender,
		Recipient:    msg.Recipient,
		Amount:       msg.Amount,
		Reference:    msg.Reference,
		Status:       StatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Duration(msg.ExpiresInSeconds) * time.Second),
	}
	a.escrows.Store(id, esc)
	return SettlementResult{SettlementID: id, TxHash: txHash, Status: StatusPending}, nil
}

// ReleaseEscrow settles a pending escrow to its recipient. Terminal
// statuses are sticky: releasing an already-terminal escrow is
// rejected rather than silently re-settling it.
func (a *Adapter) ReleaseEscrow(ctx context.Context, msg MsgReleaseEscrow) (SettlementResult, error) {
	lock := a.lockFor(msg.SettlementID)
	lock.Lock()
	defer lock.Unlock()

	v, ok := a.escrows.Load(msg.SettlementID)
	if !ok {
		return SettlementResult{}, apierr.NotFoundf("escrow_not_found", "escrow not found")
	}
	esc := v.(Escrow)
	if esc.Status != StatusPending {
		return SettlementResult{}, apierr.InvalidOp("escrow_not_pending", "escrow is not in a releasable state")
	}

	txHash, err := a.broadcast(ctx, "MsgReleaseEscrow", msg)
	if err != nil {
		esc.Status = StatusFailed
		a.escrows.Store(msg.SettlementID, esc)
		return SettlementResult{SettlementID: msg.SettlementID, Status: StatusFailed, RawLog: err.Error()}, nil
	}

	esc.Status = StatusCompleted
	a.escrows.Store(msg.SettlementID, esc)
	return SettlementResult{SettlementID: msg.SettlementID, TxHash: txHash, Status: StatusCompleted}, nil
}

// RefundEscrow settles a pending escrow back to its sender.
func (a *Adapter) RefundEscrow(ctx context.Context, msg MsgRefundEscrow) (SettlementResult, error) {
	lock := a.lockFor(msg.SettlementID)
	lock.Lock()
	defer lock.Unlock()

	v, ok := a.escrows.Load(msg.SettlementID)
	if !ok {
		return SettlementResult{}, apierr.NotFoundf("escrow_not_found", "escrow not found")
	}
	esc := v.(Escrow)
	if esc.Status != StatusPending {
		return SettlementResult{}, apierr.InvalidOp("escrow_not_pending", "escrow is not in a refundable state")
	}

	txHash, err := a.broadcast(ctx, "MsgRefundEscrow", msg)
	if err != nil {
		esc.Status = StatusFailed
		a.escrows.Store(msg.SettlementID, esc)
		return SettlementResult{SettlementID: msg.SettlementID, Status: StatusFailed, RawLog: err.Error()}, nil
	}

	esc.Status = StatusRefunded
	a.escrows.Store(msg.SettlementID, esc)
	return SettlementResult{SettlementID: msg.SettlementID, TxHash: txHash, Status: StatusRefunded}, nil
}

// GetEscrow returns a copy of the tracked escrow record.
func (a *Adapter) GetEscrow(settlementID string) (Escrow, bool) {
	v, ok := a.escrows.Load(settlementID)
	if !ok {
		return Escrow{}, false
	}
	return v.(Escrow), true
}

// CreateBatch accumulates N payments under one merchant and returns a
// batch_id with per-payment settlement_ids.
func (a *Adapter) CreateBatch(ctx context.Context, msg MsgCreateBatch) (Batch, error) {
	ids := make([]string, len(msg.Payments))
	for i := range msg.Payments {
		ids[i] = idgen.WithPrefix("stl_")
	}

	if _, err := a.broadcast(ctx, "MsgCreateBatch", msg); err != nil {
		return Batch{}, apierr.External("chain_batch_create_failed", "failed to create batch", err)
	}

	b := Batch{BatchID: idgen.WithPrefix("batch_"), Merchant: msg.Merchant, SettlementIDs: ids, Status: StatusPending}
	a.batches.Store(b.BatchID, b)
	return b, nil
}

// SettleBatch commits a whole batch atomically.
func (a *Adapter) SettleBatch(ctx context.Context, batchID string) (Batch, error) {
	v, ok := a.batches.Load(batchID)
	if !ok {
		return Batch{}, apierr.NotFoundf("batch_not_found", "batch not found")
	}
	b := v.(Batch)
	if b.Status != StatusPending {
		return b, nil
	}

	if _, err := a.broadcast(ctx, "MsgSettleBatch", batchID); err != nil {
		b.Status = StatusFailed
		a.batches.Store(batchID, b)
		return b, apierr.External("chain_batch_settle_failed", "failed to settle batch", err)
	}

	b.Status = StatusCompleted
	a.batches.Store(batchID, b)
	return b, nil
}

// OpenChannel opens a payment channel funded by deposit.
func (a *Adapter) OpenChannel(ctx context.Context, msg MsgOpenChannel) (Channel, error) {
	if err := a.validateAddresses(msg.Sender, msg.Recipient); err != nil {
		return Channel{}, err
	}
	if _, err := a.broadcast(ctx, "MsgOpenChannel", msg); err != nil {
		return Channel{}, apierr.External("chain_channel_open_failed", "failed to open channel", err)
	}

	ch := Channel{
		ChannelID:       idgen.WithPrefix("chan_"),
		Sender:          msg.Sender,
		Recipient:       msg.Recipient,
		Deposit:         msg.Deposit,
		Claimed:         big.NewInt(0),
		Status:          StatusPending,
		ExpiresAtHeight: msg.ExpiresInBlocks,
	}
	a.channels.Store(ch.ChannelID, ch)
	return ch, nil
}

// ClaimChannel claims amount from a channel. The adapter forwards the
// caller's signature without validating it; validation is the chain's
// job.
func (a *Adapter) ClaimChannel(ctx context.Context, msg MsgClaimChannel) (Channel, error) {
	v, ok := a.channels.Load(msg.ChannelID)
	if !ok {
		return Channel{}, apierr.NotFoundf("channel_not_found", "channel not found")
	}
	ch := v.(Channel)

	if _, err := a.broadcast(ctx, "MsgClaimChannel", msg); err != nil {
		return ch, apierr.External("chain_channel_claim_failed", "failed to claim channel", err)
	}

	ch.Claimed = new(big.Int).Add(ch.Claimed, msg.Amount)
	ch.Status = StatusProcessing
	a.channels.Store(msg.ChannelID, ch)
	return ch, nil
}

// CloseChannel closes an open channel.
func (a *Adapter) CloseChannel(ctx context.Context, msg MsgCloseChannel) (Channel, error) {
	v, ok := a.channels.Load(msg.ChannelID)
	if !ok {
		return Channel{}, apierr.NotFoundf("channel_not_found", "channel not found")
	}
	ch := v.(Channel)

	if _, err := a.broadcast(ctx, "MsgCloseChannel", msg); err != nil {
		return ch, apierr.External("chain_channel_close_failed", "failed to close channel", err)
	}

	ch.Status = StatusCompleted
	a.channels.Store(msg.ChannelID, ch)
	return ch, nil
}

// SweepExpiredEscrows auto-refunds to the sender any pending
// escrow past its expiry.
func (a *Adapter) SweepExpiredEscrows(ctx context.Context, now time.Time) int {
	count := 0
	a.escrows.Range(func(key, value any) bool {
		id := key.(string)
		esc := value.(Escrow)
		if esc.Status == StatusPending && !esc.ExpiresAt.After(now) {
			if _, err := a.RefundEscrow(ctx, MsgRefundEscrow{Recipient: esc.Sender, SettlementID: id, Reason: "expired"}); err != nil {
				a.logger.Error("escrow auto-refund failed", "settlement_id", id, "error", err)
			}
			count++
		}
		return true
	})
	return count
}
