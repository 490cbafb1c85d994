package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"workchain/core/types"
)

const (
	EventTypeCreated            = "escrow.created"
	EventTypeMilestoneSubmitted = "escrow.milestone.submitted"
	EventTypeMilestoneApproved  = "escrow.milestone.approved"
	EventTypeMilestoneRejected  = "escrow.milestone.rejected"
	EventTypeCompleted          = "escrow.completed"
	EventTypeDisputed           = "escrow.disputed"
	EventTypeCancelled          = "escrow.cancelled"
	EventTypeRefunded           = "escrow.refunded"
)

// NewCreatedEvent returns the canonical payload for a newly created and funded
// escrow: id, both parties and the total held in custody.
func NewCreatedEvent(e *Escrow) *types.Event {
	attrs := escrowAttrs(e)
	if e != nil {
		attrs["totalAmount"] = bigString(e.TotalAmount)
	}
	return &types.Event{Type: EventTypeCreated, Attributes: attrs}
}

// NewMilestoneSubmittedEvent returns the payload emitted when a freelancer
// submits work for review.
func NewMilestoneSubmittedEvent(e *Escrow, index int) *types.Event {
	attrs := escrowAttrs(e)
	attrs["index"] = strconv.Itoa(index)
	return &types.Event{Type: EventTypeMilestoneSubmitted, Attributes: attrs}
}

// NewMilestoneApprovedEvent returns the payload emitted when a milestone is
// approved and its amount released to the freelancer.
func NewMilestoneApprovedEvent(e *Escrow, index int, amount *big.Int) *types.Event {
	attrs := escrowAttrs(e)
	attrs["index"] = strconv.Itoa(index)
	attrs["amount"] = bigString(amount)
	return &types.Event{Type: EventTypeMilestoneApproved, Attributes: attrs}
}

// NewMilestoneRejectedEvent returns the payload emitted when a milestone is
// sent back for rework.
func NewMilestoneRejectedEvent(e *Escrow, index int) *types.Event {
	attrs := escrowAttrs(e)
	attrs["index"] = strconv.Itoa(index)
	return &types.Event{Type: EventTypeMilestoneRejected, Attributes: attrs}
}

// NewCompletedEvent returns the payload emitted in the same transaction as the
// final approval, once every milestone has been paid out.
func NewCompletedEvent(e *Escrow) *types.Event {
	return &types.Event{Type: EventTypeCompleted, Attributes: escrowAttrs(e)}
}

// NewDisputedEvent returns the payload emitted when either party raises a
// dispute.
func NewDisputedEvent(e *Escrow) *types.Event {
	return &types.Event{Type: EventTypeDisputed, Attributes: escrowAttrs(e)}
}

// NewCancelledEvent returns the payload emitted when the client cancels an
// untouched escrow and the full amount returns to them.
func NewCancelledEvent(e *Escrow) *types.Event {
	attrs := escrowAttrs(e)
	if e != nil {
		attrs["refundAmount"] = bigString(e.TotalAmount)
	}
	return &types.Event{Type: EventTypeCancelled, Attributes: attrs}
}

// NewRefundedEvent returns the payload emitted when arbitration settles a
// disputed escrow and pays out the remaining custody.
func NewRefundedEvent(e *Escrow, outcome string, amount *big.Int) *types.Event {
	attrs := escrowAttrs(e)
	attrs["outcome"] = outcome
	attrs["amount"] = bigString(amount)
	return &types.Event{Type: EventTypeRefunded, Attributes: attrs}
}

func escrowAttrs(e *Escrow) map[string]string {
	attrs := make(map[string]string)
	if e == nil {
		return attrs
	}
	attrs["id"] = strconv.FormatUint(e.ID, 10)
	attrs["client"] = hex.EncodeToString(e.Client[:])
	attrs["freelancer"] = hex.EncodeToString(e.Freelancer[:])
	attrs["status"] = e.Status.String()
	return attrs
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
