// Package checkout implements the checkout session state machine: the
// orchestrator that owns the session entity, drives the catalog,
// inventory, tax/shipping, and vault collaborators, and exposes the
// idempotent mutating operations agents call.
//
// Session state derivation follows CreateSession/UpdateSession/
// CompleteSession/CancelSession-style operations with a deriveStatus
// helper and line-item/total rebuilding on every mutation. Per-session
// serialization uses a sync.Map of per-id mutexes so concurrent
// operations on distinct sessions never contend.
package checkout

import (
	"time"

	"github.com/stateset/agentic-checkout/internal/taxship"
)

// Status is the session's closed lifecycle state.
type Status string

const (
	NotReadyForPayment Status = "not_ready_for_payment"
	ReadyForPayment    Status = "ready_for_payment"
	InProgress         Status = "in_progress"
	Completed          Status = "completed"
	Canceled           Status = "canceled"
)

func (s Status) Terminal() bool { return s == Completed || s == Canceled }

// LineItem is one cart entry with a frozen unit price and computed total.
type LineItem struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	LineTotal int64  `json:"line_total"`
}

// Customer carries the buyer's addresses and contact, used to decide
// readiness and to price tax/shipping.
type Customer struct {
	Email           string            `json:"email,omitempty"`
	BillingAddress  taxship.Address   `json:"billing_address,omitempty"`
	ShippingAddress taxship.Address   `json:"shipping_address,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// FulfillmentOption is a shipping method choice surfaced to the agent.
type FulfillmentOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Price int64  `json:"price"`
}

// Fulfillment tracks the selected shipping option among those offered.
type Fulfillment struct {
	SelectedID string              `json:"selected_id,omitempty"`
	Options    []FulfillmentOption `json:"options,omitempty"`
}

// MessageType classifies a session message; "error" messages explain
// a hard-fail or a backed-out completion attempt.
type MessageType string

const (
	MessageError MessageType = "error"
	MessageInfo  MessageType = "info"
)

// Message is a user-visible note attached to a session.
type Message struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Content string      `json:"content"`
}

// Links carries the customer-facing order permalink, populated once
// the session completes.
type Links struct {
	OrderPermalink string `json:"order_permalink,omitempty"`
}

// Session is the CheckoutSession entity.
type Session struct {
	ID          string          `json:"id"`
	Status      Status          `json:"status"`
	Items       []LineItem      `json:"items"`
	Customer    *Customer       `json:"customer,omitempty"`
	Totals      taxship.Totals  `json:"totals"`
	Fulfillment *Fulfillment    `json:"fulfillment,omitempty"`
	Messages    []Message       `json:"messages,omitempty"`
	Links       Links           `json:"links,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int64           `json:"version"`
}

// ItemRequest is one requested line in Create/Update.
type ItemRequest struct {
	ProductID string
	Quantity  int64
}

// Patch describes a partial Update; nil fields are left untouched.
type Patch struct {
	Items       []ItemRequest
	Customer    *Customer
	Fulfillment *Fulfillment
}

// deriveStatus recomputes status for a non-terminal session following
// the readiness rule: at least one item, a billing address or email,
// and totals computed.
func deriveStatus(current Status, s *Session) Status {
	if current.Terminal() || current == InProgress {
		return current
	}
	if len(s.Items) == 0 {
		return NotReadyForPayment
	}
	hasBillingOrEmail := s.Customer != nil && (s.Customer.Email != "" || s.Customer.BillingAddress != (taxship.Address{}))
	if !hasBillingOrEmail {
		return NotReadyForPayment
	}
	return ReadyForPayment
}
