// Package chain implements the blockchain settlement adapter: instant
// transfer, escrow, batch, and payment channel operations against an
// account-based chain reachable over gRPC/REST, plus address
// validation.
//
// Fee math runs on math/big; the on-chain message envelope shapes
// follow an RPC handler's Msg* request-struct convention (bech32-style
// address checks, deadline/nonce fields); the escrow create/release/
// refund lifecycle mirrors an off-chain ledger escrow generalized onto
// an on-chain one.
package chain

import (
	"math/big"
	"time"
)

// SettlementStatus is the closed outcome set every chain operation
// reports, shared with the settlement pipeline's own records.
type SettlementStatus string

const (
	StatusPending    SettlementStatus = "pending"
	StatusProcessing SettlementStatus = "processing"
	StatusCompleted  SettlementStatus = "completed"
	StatusFailed     SettlementStatus = "failed"
	StatusRefunded   SettlementStatus = "refunded"
	StatusCanceled   SettlementStatus = "canceled"
)

// MsgInstantTransfer is an immediate sender→recipient transfer.
type MsgInstantTransfer struct {
	Sender    string
	Recipient string
	Amount    *big.Int
	Reference string
	Metadata  map[string]string
}

// MsgCreateEscrow opens a pending escrow that is auto-refunded to the
// sender after ExpiresInSeconds unless released or refunded first.
type MsgCreateEscrow struct {
	Sender           string
	Recipient        string
	Amount           *big.Int
	Reference        string
	ExpiresInSeconds int64
}

// MsgReleaseEscrow settles an escrow to its recipient.
type MsgReleaseEscrow struct {
	Sender       string
	SettlementID string
}

// MsgRefundEscrow settles an escrow back to its sender.
type MsgRefundEscrow struct {
	Recipient    string
	SettlementID string
	Reason       string
}

// BatchPayment is one payment within a MsgCreateBatch.
type BatchPayment struct {
	Sender    string
	Amount    *big.Int
	Reference string
}

// MsgCreateBatch accumulates N payments under one merchant.
type MsgCreateBatch struct {
	Authority string
	Merchant  string
	Payments  []BatchPayment
}

// MsgOpenChannel opens a payment channel funded by deposit.
type MsgOpenChannel struct {
	Sender          string
	Recipient       string
	Deposit         *big.Int
	ExpiresInBlocks int64
}

// MsgClaimChannel claims amount from a channel. The adapter forwards
// signature without validating it — verification is the chain's job.
type MsgClaimChannel struct {
	Recipient string
	ChannelID string
	Amount    *big.Int
	Nonce     uint64
	Signature []byte
}

// MsgCloseChannel closes an open channel.
type MsgCloseChannel struct {
	Closer    string
	ChannelID string
}

// SettlementResult is the common return shape for chain operations:
// an external reference plus a status. Fee and Net are populated for
// operations that take a network fee (instant transfer).
type SettlementResult struct {
	SettlementID string
	TxHash       string
	Status       SettlementStatus
	Fee          *big.Int
	Net          *big.Int
	RawLog       string
}

// Escrow is the on-chain escrow's local tracking record.
type Escrow struct {
	SettlementID string
	Sender       string
	Recipient    string
	Amount       *big.Int
	Reference    string
	Status       SettlementStatus
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Batch tracks a created batch's per-payment settlement ids.
type Batch struct {
	BatchID       string
	Merchant      string
	SettlementIDs []string
	Status        SettlementStatus
}

// Channel tracks an open payment channel.
type Channel struct {
	ChannelID       string
	Sender          string
	Recipient       string
	Deposit         *big.Int
	Claimed         *big.Int
	Status          SettlementStatus
	ExpiresAtHeight int64
}
