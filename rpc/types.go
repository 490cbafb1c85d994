package rpc

import (
	"workchain/core"
	"workchain/core/events"
	"workchain/crypto"
	"workchain/native/escrow"
)

// ReceiptResult reflects the finalized outcome of a ledger transaction.
type ReceiptResult struct {
	TxHash      string      `json:"txHash"`
	BlockNumber uint64      `json:"blockNumber"`
	GasUsed     uint64      `json:"gasUsed"`
	Status      uint64      `json:"status"`
	Events      []EventJSON `json:"events"`
}

// EventJSON is one finalized event with its ledger-order metadata.
type EventJSON struct {
	Sequence   int64             `json:"sequence"`
	Height     uint64            `json:"height"`
	TxHash     string            `json:"txHash"`
	Timestamp  int64             `json:"timestamp"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// MilestoneJSON renders one milestone for RPC consumers. Amounts are decimal
// base-unit strings.
type MilestoneJSON struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Status      string `json:"status"`
	SubmittedAt int64  `json:"submittedAt,omitempty"`
}

// EscrowJSON renders one escrow record for RPC consumers.
type EscrowJSON struct {
	ID             uint64          `json:"id"`
	Client         string          `json:"client"`
	Freelancer     string          `json:"freelancer"`
	TotalAmount    string          `json:"totalAmount"`
	ReleasedAmount string          `json:"releasedAmount"`
	Status         string          `json:"status"`
	CreatedAt      int64           `json:"createdAt"`
	CompletedAt    int64           `json:"completedAt,omitempty"`
	Milestones     []MilestoneJSON `json:"milestones"`
}

func formatReceipt(receipt *core.Receipt) ReceiptResult {
	out := ReceiptResult{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
		Status:      receipt.Status,
		Events:      make([]EventJSON, len(receipt.Events)),
	}
	for i, evt := range receipt.Events {
		out.Events[i] = formatEvent(evt)
	}
	return out
}

func formatEvent(evt events.Recorded) EventJSON {
	return EventJSON{
		Sequence:   evt.Sequence,
		Height:     evt.Height,
		TxHash:     evt.TxHash,
		Timestamp:  evt.Timestamp,
		Type:       evt.Type,
		Attributes: evt.Attributes,
	}
}

func formatMilestone(m *escrow.Milestone) MilestoneJSON {
	out := MilestoneJSON{
		Description: m.Description,
		Status:      m.Status.String(),
		SubmittedAt: m.SubmittedAt,
	}
	if m.Amount != nil {
		out.Amount = m.Amount.String()
	} else {
		out.Amount = "0"
	}
	return out
}

func formatEscrow(e *escrow.Escrow) EscrowJSON {
	out := EscrowJSON{
		ID:          e.ID,
		Client:      addressString(e.Client),
		Freelancer:  addressString(e.Freelancer),
		Status:      e.Status.String(),
		CreatedAt:   e.CreatedAt,
		CompletedAt: e.CompletedAt,
		Milestones:  make([]MilestoneJSON, len(e.Milestones)),
	}
	if e.TotalAmount != nil {
		out.TotalAmount = e.TotalAmount.String()
	} else {
		out.TotalAmount = "0"
	}
	if e.ReleasedAmount != nil {
		out.ReleasedAmount = e.ReleasedAmount.String()
	} else {
		out.ReleasedAmount = "0"
	}
	for i, m := range e.Milestones {
		out.Milestones[i] = formatMilestone(m)
	}
	return out
}

func addressString(raw [20]byte) string {
	return crypto.MustNewAddress(raw[:]).String()
}
