package core

import (
	"encoding/hex"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"workchain/core/events"
	"workchain/core/state"
	"workchain/core/types"
	"workchain/crypto"
	"workchain/native/escrow"
	"workchain/storage"
)

// Receipt is the finalized outcome of one ledger transaction. A receipt only
// exists for committed transactions; a rejected transition returns an error and
// leaves no trace in state or the event log.
type Receipt struct {
	TxHash      string            `json:"txHash"`
	BlockNumber uint64            `json:"blockNumber"`
	GasUsed     uint64            `json:"gasUsed"`
	Status      uint64            `json:"status"`
	Events      []events.Recorded `json:"events"`
}

// Flat per-operation gas figures. The ledger has no fee market; receipts carry
// these so clients see a stable cost signal.
var gasByTxType = map[types.TxType]uint64{
	types.TxTypeTransfer:         21_000,
	types.TxTypeCreateEscrow:     90_000,
	types.TxTypeSubmitMilestone:  35_000,
	types.TxTypeApproveMilestone: 55_000,
	types.TxTypeRejectMilestone:  30_000,
	types.TxTypeRaiseDispute:     28_000,
	types.TxTypeCancelEscrow:     42_000,
	types.TxTypeResolveDispute:   60_000,
}

// Ledger is the atomic, serially-ordered execution substrate. Every mutating
// escrow operation runs as one transaction: state writes are staged on an
// overlay and committed only if the engine transition succeeds, so concurrent
// submissions are linearized and no partial mutation is ever observable.
type Ledger struct {
	mu      sync.Mutex
	db      storage.Database
	feed    *events.Recorder
	arbiter [20]byte
	height  uint64
	nowFn   func() int64
}

// NewLedger opens a ledger over the supplied database.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{
		db:    db,
		feed:  events.NewRecorder(),
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// SetArbiter configures the dispute-resolution authority passed through to the
// escrow engine.
func (l *Ledger) SetArbiter(addr crypto.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.arbiter = addr.Raw()
}

// SetNowFunc overrides the ledger clock, for deterministic tests.
func (l *Ledger) SetNowFunc(now func() int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	l.nowFn = now
}

// Height returns the number of committed transactions.
func (l *Ledger) Height() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height
}

// Events returns up to limit finalized events after the given sequence number,
// in commit order.
func (l *Ledger) Events(after int64, limit int) []events.Recorded {
	return l.feed.Since(after, limit)
}

// eventCollector buffers engine events during a transaction so they reach the
// feed only after commit.
type eventCollector struct {
	collected []events.Recorded
}

type payloadEvent interface {
	Event() *types.Event
}

func (c *eventCollector) Emit(evt events.Event) {
	pe, ok := evt.(payloadEvent)
	if !ok || pe.Event() == nil {
		return
	}
	attrs := make(map[string]string, len(pe.Event().Attributes))
	for k, v := range pe.Event().Attributes {
		attrs[k] = v
	}
	c.collected = append(c.collected, events.Recorded{Type: pe.Event().Type, Attributes: attrs})
}

// execute runs one engine transition atomically and, on success, commits the
// overlay, bumps the caller nonce, appends events and shapes a receipt.
func (l *Ledger) execute(txType types.TxType, caller crypto.Address, value *big.Int, payload interface{}, op func(*escrow.Engine) error) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	overlay := storage.NewOverlay(l.db)
	manager := state.NewManager(overlay)
	collector := &eventCollector{}

	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(collector)
	engine.SetArbiter(l.arbiter)
	engine.SetNowFunc(l.nowFn)

	if err := op(engine); err != nil {
		overlay.Discard()
		return nil, err
	}

	account, err := manager.GetAccount(caller.Bytes())
	if err != nil {
		overlay.Discard()
		return nil, err
	}
	tx := &types.Transaction{
		Type:     txType,
		Nonce:    account.Nonce,
		From:     caller.Bytes(),
		Value:    value,
		GasLimit: gasByTxType[txType],
		GasPrice: big.NewInt(0),
	}
	if payload != nil {
		data, err := rlp.EncodeToBytes(payload)
		if err != nil {
			overlay.Discard()
			return nil, err
		}
		tx.Data = data
	}
	account.Nonce++
	if err := manager.PutAccount(caller.Bytes(), account); err != nil {
		overlay.Discard()
		return nil, err
	}

	hash, err := tx.Hash()
	if err != nil {
		overlay.Discard()
		return nil, err
	}
	if err := overlay.Commit(); err != nil {
		return nil, err
	}

	l.height++
	txHash := "0x" + hex.EncodeToString(hash)
	now := l.nowFn()
	before := l.feed.Len()
	l.feed.Append(l.height, txHash, now, collector.collected)
	finalized := l.feed.Since(int64(before), len(collector.collected))

	return &Receipt{
		TxHash:      txHash,
		BlockNumber: l.height,
		GasUsed:     gasByTxType[txType],
		Status:      1,
		Events:      finalized,
	}, nil
}

type createEscrowPayload struct {
	Freelancer   [20]byte
	Descriptions []string
	Amounts      []*big.Int
}

type milestonePayload struct {
	EscrowID uint64
	Index    uint64
}

type escrowIDPayload struct {
	EscrowID uint64
}

// CreateEscrow opens and funds a new escrow in one transaction, returning the
// assigned id alongside the receipt.
func (l *Ledger) CreateEscrow(client, freelancer crypto.Address, descriptions []string, amounts []*big.Int, fundsSent *big.Int) (uint64, *Receipt, error) {
	var created *escrow.Escrow
	payload := createEscrowPayload{Freelancer: freelancer.Raw(), Descriptions: descriptions, Amounts: amounts}
	receipt, err := l.execute(types.TxTypeCreateEscrow, client, fundsSent, payload, func(engine *escrow.Engine) error {
		esc, err := engine.Create(client.Raw(), freelancer.Raw(), descriptions, amounts, fundsSent)
		if err != nil {
			return err
		}
		created = esc
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return created.ID, receipt, nil
}

// SubmitMilestone delivers a milestone for review.
func (l *Ledger) SubmitMilestone(caller crypto.Address, id uint64, index int) (*Receipt, error) {
	return l.execute(types.TxTypeSubmitMilestone, caller, nil, milestonePayload{EscrowID: id, Index: uint64(index)}, func(engine *escrow.Engine) error {
		return engine.Submit(caller.Raw(), id, index)
	})
}

// ApproveMilestone approves a submitted milestone and releases its amount.
func (l *Ledger) ApproveMilestone(caller crypto.Address, id uint64, index int) (*Receipt, error) {
	return l.execute(types.TxTypeApproveMilestone, caller, nil, milestonePayload{EscrowID: id, Index: uint64(index)}, func(engine *escrow.Engine) error {
		return engine.Approve(caller.Raw(), id, index)
	})
}

// RejectMilestone sends a submitted milestone back for rework.
func (l *Ledger) RejectMilestone(caller crypto.Address, id uint64, index int) (*Receipt, error) {
	return l.execute(types.TxTypeRejectMilestone, caller, nil, milestonePayload{EscrowID: id, Index: uint64(index)}, func(engine *escrow.Engine) error {
		return engine.Reject(caller.Raw(), id, index)
	})
}

// RaiseDispute flags an escrow as disputed.
func (l *Ledger) RaiseDispute(caller crypto.Address, id uint64) (*Receipt, error) {
	return l.execute(types.TxTypeRaiseDispute, caller, nil, escrowIDPayload{EscrowID: id}, func(engine *escrow.Engine) error {
		return engine.Dispute(caller.Raw(), id)
	})
}

// CancelEscrow refunds an untouched escrow to its client.
func (l *Ledger) CancelEscrow(caller crypto.Address, id uint64) (*Receipt, error) {
	return l.execute(types.TxTypeCancelEscrow, caller, nil, escrowIDPayload{EscrowID: id}, func(engine *escrow.Engine) error {
		return engine.Cancel(caller.Raw(), id)
	})
}

// ResolveDispute settles a disputed escrow with the supplied arbitration
// outcome. It is not reachable through the RPC surface; arbitration integrations
// call it directly.
func (l *Ledger) ResolveDispute(caller crypto.Address, id uint64, outcome string) (*Receipt, error) {
	return l.execute(types.TxTypeResolveDispute, caller, nil, escrowIDPayload{EscrowID: id}, func(engine *escrow.Engine) error {
		return engine.ResolveDispute(caller.Raw(), id, outcome)
	})
}

// --- Read-only queries ---

func (l *Ledger) queryEngine() *escrow.Engine {
	engine := escrow.NewEngine()
	engine.SetState(state.NewManager(l.db))
	engine.SetArbiter(l.arbiter)
	return engine
}

// GetEscrow returns a copy of the escrow record.
func (l *Ledger) GetEscrow(id uint64) (*escrow.Escrow, error) {
	return l.queryEngine().Get(id)
}

// GetMilestone returns a copy of one milestone.
func (l *Ledger) GetMilestone(id uint64, index int) (*escrow.Milestone, error) {
	return l.queryEngine().GetMilestone(id, index)
}

// MilestoneCount returns the number of milestones on an escrow.
func (l *Ledger) MilestoneCount(id uint64) (int, error) {
	return l.queryEngine().MilestoneCount(id)
}

// EscrowsByClient lists escrow ids created by the address.
func (l *Ledger) EscrowsByClient(addr crypto.Address) ([]uint64, error) {
	return l.queryEngine().EscrowsByClient(addr.Raw())
}

// EscrowsByFreelancer lists escrow ids worked by the address.
func (l *Ledger) EscrowsByFreelancer(addr crypto.Address) ([]uint64, error) {
	return l.queryEngine().EscrowsByFreelancer(addr.Raw())
}

// Balance returns the spendable balance of an account in base units.
func (l *Ledger) Balance(addr crypto.Address) (*big.Int, error) {
	account, err := state.NewManager(l.db).GetAccount(addr.Bytes())
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

// Credit mints funds into an account. Used for genesis allocations and test
// fixtures; it bypasses the transaction envelope but stays serialized.
func (l *Ledger) Credit(addr crypto.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	manager := state.NewManager(l.db)
	account, err := manager.GetAccount(addr.Bytes())
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return manager.PutAccount(addr.Bytes(), account)
}
