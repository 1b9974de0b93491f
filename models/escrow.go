package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Escrow statuses
const (
	EscrowPending  = "pending"
	EscrowHeld     = "held"
	EscrowReleased = "released"
	EscrowDisputed = "disputed"
	EscrowRefunded = "refunded"
	EscrowFailed   = "failed"
)

// RefundClaimTTL bounds how long a refund claim blocks other transitions.
// It is well above the gateway timeout, so an older claim belongs to a
// refund attempt that died before clearing it.
const RefundClaimTTL = 5 * time.Minute

// IsTerminalEscrowStatus reports whether no transition may leave status
func IsTerminalEscrowStatus(status string) bool {
	switch status {
	case EscrowReleased, EscrowRefunded, EscrowFailed:
		return true
	}
	return false
}

// EscrowTransaction represents buyer funds held by the platform for a
// project purchase, from payment initiation until release or refund
type EscrowTransaction struct {
	ID               primitive.ObjectID `json:"id" bson:"_id"`
	ProjectID        primitive.ObjectID `json:"project_id" bson:"project_id"`
	BuyerID          primitive.ObjectID `json:"buyer_id" bson:"buyer_id"`
	SellerID         primitive.ObjectID `json:"seller_id" bson:"seller_id"`
	Amount           Money              `json:"amount" bson:"amount"`
	Currency         string             `json:"currency" bson:"currency"`
	CommissionRate   Rate               `json:"commission_rate" bson:"commission_rate"`
	CommissionAmount Money              `json:"commission_amount" bson:"commission_amount"`
	SellerAmount     Money              `json:"seller_amount" bson:"seller_amount"`
	Status           string             `json:"status" bson:"status"`
	Gateway          string             `json:"gateway" bson:"gateway"`
	// PaymentID is the provider payment id once known; ConversationID is the
	// provider side correlation token issued at creation (iyzico checkout
	// token, PayTR iframe token)
	PaymentID      *string `json:"payment_id" bson:"payment_id"`
	ConversationID string  `json:"conversation_id" bson:"conversation_id"`
	// PaymentTransactionIDs are iyzico basket item transaction ids, needed
	// for refunds
	PaymentTransactionIDs []string            `json:"-" bson:"payment_transaction_ids,omitempty"`
	RefundID              *string             `json:"refund_id" bson:"refund_id"`
	FailureReason         string              `json:"failure_reason,omitempty" bson:"failure_reason,omitempty"`
	DisputeReason         string              `json:"dispute_reason,omitempty" bson:"dispute_reason,omitempty"`
	DisputedBy            *primitive.ObjectID `json:"disputed_by,omitempty" bson:"disputed_by,omitempty"`
	// RefundPendingAt is set while a provider refund call is running
	RefundPendingAt *time.Time `json:"refund_pending_at,omitempty" bson:"refund_pending_at,omitempty"`
	// Open is true while the escrow is not terminal; backs the unique
	// (project_id, buyer_id) partial index
	Open       bool       `json:"-" bson:"open"`
	CreatedAt  time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" bson:"updated_at"`
	HeldAt     *time.Time `json:"held_at,omitempty" bson:"held_at,omitempty"`
	ReleasedAt *time.Time `json:"released_at,omitempty" bson:"released_at,omitempty"`
	DisputedAt *time.Time `json:"disputed_at,omitempty" bson:"disputed_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" bson:"resolved_at,omitempty"`
}

// IsParty reports whether userID is the buyer or the seller
func (e EscrowTransaction) IsParty(userID string) bool {
	return e.BuyerID.Hex() == userID || e.SellerID.Hex() == userID
}

// RefundInFlight reports whether a live refund claim exists at now
func (e EscrowTransaction) RefundInFlight(now time.Time) bool {
	return e.RefundPendingAt != nil && now.Sub(*e.RefundPendingAt) < RefundClaimTTL
}

// RefundClaimable reports whether a refund may start at now
func (e EscrowTransaction) RefundClaimable(now time.Time) bool {
	return (e.Status == EscrowHeld || e.Status == EscrowDisputed) && !e.RefundInFlight(now)
}

// DisputeReq ...
type DisputeReq struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// ResolveDisputeReq ...
type ResolveDisputeReq struct {
	Outcome string `json:"outcome" validate:"required,oneof=release refund"`
}

// EscrowChange describes one status transition of an escrow row
type EscrowChange struct {
	Status                string
	ConversationID        string
	PaymentID             *string
	PaymentTransactionIDs []string
	RefundID              *string
	FailureReason         string
	DisputeReason         string
	DisputedBy            *primitive.ObjectID
	At                    time.Time
}

// BlockedByRefund reports whether a refund in flight on e forbids the
// change. Only the refund's own completion may proceed.
func (c EscrowChange) BlockedByRefund(e EscrowTransaction) bool {
	return c.Status != EscrowRefunded && e.RefundInFlight(c.At)
}

// Apply mutates e the same way the store applies the change
func (c EscrowChange) Apply(e *EscrowTransaction) {
	e.Status = c.Status
	e.Open = !IsTerminalEscrowStatus(c.Status)
	e.UpdatedAt = c.At
	if c.ConversationID != "" {
		e.ConversationID = c.ConversationID
	}
	if c.PaymentID != nil {
		e.PaymentID = c.PaymentID
	}
	if len(c.PaymentTransactionIDs) > 0 {
		e.PaymentTransactionIDs = c.PaymentTransactionIDs
	}
	if c.RefundID != nil {
		e.RefundID = c.RefundID
	}
	if c.FailureReason != "" {
		e.FailureReason = c.FailureReason
	}
	if c.DisputeReason != "" {
		e.DisputeReason = c.DisputeReason
	}
	if c.DisputedBy != nil {
		e.DisputedBy = c.DisputedBy
	}

	at := c.At
	switch c.Status {
	case EscrowHeld:
		e.HeldAt = &at
	case EscrowReleased:
		e.ReleasedAt = &at
		if e.DisputedAt != nil {
			e.ResolvedAt = &at
		}
	case EscrowDisputed:
		e.DisputedAt = &at
	case EscrowRefunded:
		e.ResolvedAt = &at
		e.RefundPendingAt = nil
	}
}
