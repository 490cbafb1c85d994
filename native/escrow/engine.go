package escrow

import (
	"fmt"
	"math/big"
	"time"

	"workchain/core/events"
	"workchain/core/types"
)

type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id uint64) (*Escrow, bool)
	EscrowNextID() (uint64, error)
	EscrowIndexClient(addr [20]byte, id uint64) error
	EscrowIndexFreelancer(addr [20]byte, id uint64) error
	EscrowsByClient(addr [20]byte) ([]uint64, error)
	EscrowsByFreelancer(addr [20]byte) ([]uint64, error)
	EscrowVaultAddress() [20]byte
	EscrowCredit(id uint64, amount *big.Int) error
	EscrowDebit(id uint64, amount *big.Int) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine enforces the milestone escrow state machine against external state.
// Every mutating operation takes the caller address explicitly and performs its
// capability check before touching any record; the ledger wrapping the engine
// supplies atomicity, so a returned error always means nothing changed.
type Engine struct {
	state   engineState
	emitter events.Emitter
	arbiter [20]byte
	nowFn   func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetArbiter configures the address allowed to settle disputed escrows. The
// zero address (the default) disables resolution entirely.
func (e *Engine) SetArbiter(addr [20]byte) { e.arbiter = addr }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) loadEscrow(id uint64) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, fmt.Errorf("escrow engine: state not configured")
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: escrow %d", ErrNotFound, id)
	}
	return esc, nil
}

func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer amount", ErrValidation)
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = types.EnsureAccount(fromAcc)
	toAcc = types.EnsureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// Create allocates and funds a new escrow in a single transition. The funds
// sent must exactly cover the milestone sum; there is no observable unfunded
// state.
func (e *Engine) Create(client, freelancer [20]byte, descriptions []string, amounts []*big.Int, fundsSent *big.Int) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, fmt.Errorf("escrow engine: state not configured")
	}
	if freelancer == ([20]byte{}) {
		return nil, fmt.Errorf("%w: freelancer must not be the zero address", ErrValidation)
	}
	if freelancer == client {
		return nil, fmt.Errorf("%w: client and freelancer must differ", ErrValidation)
	}
	if len(descriptions) == 0 {
		return nil, fmt.Errorf("%w: at least one milestone required", ErrValidation)
	}
	if len(descriptions) != len(amounts) {
		return nil, fmt.Errorf("%w: %d descriptions but %d amounts", ErrValidation, len(descriptions), len(amounts))
	}
	total := big.NewInt(0)
	milestones := make([]*Milestone, len(descriptions))
	for i, desc := range descriptions {
		amt := cloneBigInt(amounts[i])
		if amt.Sign() <= 0 {
			return nil, fmt.Errorf("%w: milestone %d amount must be positive", ErrValidation, i)
		}
		total.Add(total, amt)
		milestones[i] = &Milestone{
			Description: desc,
			Amount:      amt,
			Status:      MilestonePending,
		}
	}
	sent := cloneBigInt(fundsSent)
	if sent.Cmp(total) != 0 {
		return nil, fmt.Errorf("%w: sent %s but milestones sum to %s", ErrValidation, sent, total)
	}
	id, err := e.state.EscrowNextID()
	if err != nil {
		return nil, err
	}
	esc := &Escrow{
		ID:             id,
		Client:         client,
		Freelancer:     freelancer,
		TotalAmount:    total,
		ReleasedAmount: big.NewInt(0),
		Status:         StatusFunded,
		CreatedAt:      e.now(),
		Milestones:     milestones,
	}
	if err := e.transfer(client, e.state.EscrowVaultAddress(), total); err != nil {
		return nil, err
	}
	if err := e.state.EscrowCredit(id, total); err != nil {
		return nil, err
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	if err := e.state.EscrowIndexClient(client, id); err != nil {
		return nil, err
	}
	if err := e.state.EscrowIndexFreelancer(freelancer, id); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(esc))
	return esc.Clone(), nil
}

// Submit marks a milestone as delivered and moves the escrow into progress.
// Freelancer-only; a rejected milestone may be resubmitted, refreshing its
// submission timestamp.
func (e *Engine) Submit(caller [20]byte, id uint64, index int) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.RoleOf(caller) != RoleFreelancer {
		return fmt.Errorf("%w: only the freelancer may submit", ErrUnauthorized)
	}
	if esc.Status != StatusFunded && esc.Status != StatusInProgress {
		return fmt.Errorf("%w: cannot submit in status %s", ErrInvalidState, esc.Status)
	}
	m := esc.Milestone(index)
	if m == nil {
		return fmt.Errorf("%w: milestone %d of escrow %d", ErrNotFound, index, id)
	}
	if m.Status != MilestonePending && m.Status != MilestoneRejected {
		return fmt.Errorf("%w: milestone %d is %s", ErrInvalidState, index, m.Status)
	}
	m.Status = MilestoneSubmitted
	m.SubmittedAt = e.now()
	if esc.Status == StatusFunded {
		esc.Status = StatusInProgress
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(NewMilestoneSubmittedEvent(esc, index))
	return nil
}

// Approve releases a submitted milestone's amount to the freelancer. The status
// change and the transfer are one transition; if the transfer cannot complete
// the whole operation fails and custody is untouched. When the final milestone
// is approved the escrow completes in the same transaction.
func (e *Engine) Approve(caller [20]byte, id uint64, index int) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.RoleOf(caller) != RoleClient {
		return fmt.Errorf("%w: only the client may approve", ErrUnauthorized)
	}
	if esc.Status != StatusInProgress {
		return fmt.Errorf("%w: cannot approve in status %s", ErrInvalidState, esc.Status)
	}
	m := esc.Milestone(index)
	if m == nil {
		return fmt.Errorf("%w: milestone %d of escrow %d", ErrNotFound, index, id)
	}
	if m.Status != MilestoneSubmitted {
		return fmt.Errorf("%w: milestone %d is %s", ErrInvalidState, index, m.Status)
	}
	amount := cloneBigInt(m.Amount)
	if err := e.transfer(e.state.EscrowVaultAddress(), esc.Freelancer, amount); err != nil {
		return err
	}
	if err := e.state.EscrowDebit(id, amount); err != nil {
		return err
	}
	m.Status = MilestoneApproved
	esc.ReleasedAmount = new(big.Int).Add(esc.ReleasedAmount, amount)
	completed := esc.AllApproved()
	if completed {
		esc.Status = StatusCompleted
		esc.CompletedAt = e.now()
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(NewMilestoneApprovedEvent(esc, index, amount))
	if completed {
		e.emit(NewCompletedEvent(esc))
	}
	return nil
}

// Reject sends a submitted milestone back for rework. No funds move.
func (e *Engine) Reject(caller [20]byte, id uint64, index int) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.RoleOf(caller) != RoleClient {
		return fmt.Errorf("%w: only the client may reject", ErrUnauthorized)
	}
	m := esc.Milestone(index)
	if m == nil {
		return fmt.Errorf("%w: milestone %d of escrow %d", ErrNotFound, index, id)
	}
	if m.Status != MilestoneSubmitted {
		return fmt.Errorf("%w: milestone %d is %s", ErrInvalidState, index, m.Status)
	}
	m.Status = MilestoneRejected
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(NewMilestoneRejectedEvent(esc, index))
	return nil
}

// Dispute flags the escrow as disputed. Either party may raise it from any
// non-terminal state; resolution is left to external arbitration.
func (e *Engine) Dispute(caller [20]byte, id uint64) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	role := esc.RoleOf(caller)
	if role != RoleClient && role != RoleFreelancer {
		return fmt.Errorf("%w: only a party to the escrow may dispute", ErrUnauthorized)
	}
	if esc.Status.Terminal() || esc.Status == StatusDisputed {
		return fmt.Errorf("%w: cannot dispute in status %s", ErrInvalidState, esc.Status)
	}
	esc.Status = StatusDisputed
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(NewDisputedEvent(esc))
	return nil
}

// Cancel returns the full custody to the client. Only a funded escrow with no
// milestone ever submitted, approved or rejected qualifies.
func (e *Engine) Cancel(caller [20]byte, id uint64) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.RoleOf(caller) != RoleClient {
		return fmt.Errorf("%w: only the client may cancel", ErrUnauthorized)
	}
	if esc.Status != StatusFunded {
		return fmt.Errorf("%w: cannot cancel in status %s", ErrInvalidState, esc.Status)
	}
	if !esc.Untouched() {
		return fmt.Errorf("%w: escrow %d has progressed past pending", ErrInvalidState, id)
	}
	amount := cloneBigInt(esc.TotalAmount)
	if err := e.transfer(e.state.EscrowVaultAddress(), esc.Client, amount); err != nil {
		return err
	}
	if err := e.state.EscrowDebit(id, amount); err != nil {
		return err
	}
	esc.Status = StatusCancelled
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(esc))
	return nil
}

// Dispute resolution outcomes accepted by ResolveDispute.
const (
	ResolutionRefund  = "refund"
	ResolutionRelease = "release"
)

// ResolveDispute settles a disputed escrow according to an externally supplied
// arbitration outcome, paying the remaining custody to one side. Both outcomes
// land in the reserved Refunded terminal; Completed keeps its all-approved
// meaning.
func (e *Engine) ResolveDispute(caller [20]byte, id uint64, outcome string) error {
	if e.arbiter == ([20]byte{}) || caller != e.arbiter {
		return fmt.Errorf("%w: resolution requires the configured arbiter", ErrUnauthorized)
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusDisputed {
		return fmt.Errorf("%w: cannot resolve in status %s", ErrInvalidState, esc.Status)
	}
	remaining := new(big.Int).Sub(esc.TotalAmount, esc.ReleasedAmount)
	var recipient [20]byte
	switch outcome {
	case ResolutionRefund:
		recipient = esc.Client
	case ResolutionRelease:
		recipient = esc.Freelancer
	default:
		return fmt.Errorf("%w: unknown resolution outcome %q", ErrValidation, outcome)
	}
	if remaining.Sign() > 0 {
		if err := e.transfer(e.state.EscrowVaultAddress(), recipient, remaining); err != nil {
			return err
		}
		if err := e.state.EscrowDebit(id, remaining); err != nil {
			return err
		}
	}
	esc.Status = StatusRefunded
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(NewRefundedEvent(esc, outcome, remaining))
	return nil
}

// --- Read-only queries (pure projections of the record store) ---

// Get returns a copy of the escrow record.
func (e *Engine) Get(id uint64) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// GetMilestone returns a copy of a single milestone.
func (e *Engine) GetMilestone(id uint64, index int) (*Milestone, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	m := esc.Milestone(index)
	if m == nil {
		return nil, fmt.Errorf("%w: milestone %d of escrow %d", ErrNotFound, index, id)
	}
	return m.Clone(), nil
}

// MilestoneCount returns the fixed number of milestones on an escrow.
func (e *Engine) MilestoneCount(id uint64) (int, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return 0, err
	}
	return len(esc.Milestones), nil
}

// EscrowsByClient returns the ids of every escrow the address created.
func (e *Engine) EscrowsByClient(addr [20]byte) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, fmt.Errorf("escrow engine: state not configured")
	}
	return e.state.EscrowsByClient(addr)
}

// EscrowsByFreelancer returns the ids of every escrow the address works.
func (e *Engine) EscrowsByFreelancer(addr [20]byte) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, fmt.Errorf("escrow engine: state not configured")
	}
	return e.state.EscrowsByFreelancer(addr)
}
