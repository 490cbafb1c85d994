package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// Status represents the lifecycle states of an escrow engagement.
type Status uint8

const (
	// StatusCreated is the nominal initial state. It is never observable
	// through the store because funding happens atomically with creation.
	StatusCreated Status = iota
	// StatusFunded marks an escrow holding the full milestone sum with no
	// milestone submitted yet.
	StatusFunded
	// StatusInProgress marks an escrow with at least one submitted milestone.
	StatusInProgress
	// StatusCompleted marks an escrow whose every milestone has been approved
	// and paid out. Terminal.
	StatusCompleted
	// StatusDisputed marks an escrow flagged by either party. Resolution is
	// external arbitration.
	StatusDisputed
	// StatusCancelled marks a funded, untouched escrow the client backed out
	// of. Terminal.
	StatusCancelled
	// StatusRefunded is the reserved terminal state for dispute-resolution
	// payouts.
	StatusRefunded
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	return s <= StatusRefunded
}

// Terminal reports whether the escrow accepts no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

// String returns the canonical status label used in events and RPC payloads.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusFunded:
		return "funded"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusDisputed:
		return "disputed"
	case StatusCancelled:
		return "cancelled"
	case StatusRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// MilestoneStatus represents the approval state of a single milestone.
type MilestoneStatus uint8

const (
	// MilestonePending marks a milestone awaiting its first submission.
	MilestonePending MilestoneStatus = iota
	// MilestoneSubmitted marks work delivered and awaiting client review.
	MilestoneSubmitted
	// MilestoneApproved marks a paid-out milestone. Final for the milestone.
	MilestoneApproved
	// MilestoneRejected marks work sent back for rework. The freelancer may
	// resubmit; the reject/resubmit cycle is unbounded.
	MilestoneRejected
)

// Valid reports whether the milestone status is within the supported range.
func (s MilestoneStatus) Valid() bool {
	return s <= MilestoneRejected
}

// String returns the canonical milestone status label.
func (s MilestoneStatus) String() string {
	switch s {
	case MilestonePending:
		return "pending"
	case MilestoneSubmitted:
		return "submitted"
	case MilestoneApproved:
		return "approved"
	case MilestoneRejected:
		return "rejected"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Milestone is a unit of deliverable work with a fixed payment amount. It is
// owned exclusively by its escrow and its position in the milestone slice is
// fixed at creation.
type Milestone struct {
	Description string
	Amount      *big.Int
	Status      MilestoneStatus
	SubmittedAt int64
}

// Clone returns a deep copy of the milestone.
func (m *Milestone) Clone() *Milestone {
	if m == nil {
		return nil
	}
	clone := *m
	if m.Amount != nil {
		clone.Amount = new(big.Int).Set(m.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Escrow binds one client and one freelancer to an ordered set of milestones
// whose combined amounts the escrow holds in custody.
type Escrow struct {
	ID             uint64
	Client         [20]byte
	Freelancer     [20]byte
	TotalAmount    *big.Int
	ReleasedAmount *big.Int
	Status         Status
	CreatedAt      int64
	CompletedAt    int64
	Milestones     []*Milestone
}

// Clone returns a deep copy so callers can safely mutate the result without
// affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.TotalAmount != nil {
		clone.TotalAmount = new(big.Int).Set(e.TotalAmount)
	} else {
		clone.TotalAmount = big.NewInt(0)
	}
	if e.ReleasedAmount != nil {
		clone.ReleasedAmount = new(big.Int).Set(e.ReleasedAmount)
	} else {
		clone.ReleasedAmount = big.NewInt(0)
	}
	if len(e.Milestones) > 0 {
		clone.Milestones = make([]*Milestone, len(e.Milestones))
		for i, m := range e.Milestones {
			clone.Milestones[i] = m.Clone()
		}
	}
	return &clone
}

// Milestone returns the milestone at index, or nil when out of range.
func (e *Escrow) Milestone(index int) *Milestone {
	if e == nil || index < 0 || index >= len(e.Milestones) {
		return nil
	}
	return e.Milestones[index]
}

// AllApproved reports whether every milestone has been approved.
func (e *Escrow) AllApproved() bool {
	if e == nil || len(e.Milestones) == 0 {
		return false
	}
	for _, m := range e.Milestones {
		if m == nil || m.Status != MilestoneApproved {
			return false
		}
	}
	return true
}

// Untouched reports whether no milestone has ever left the pending state. Only
// untouched escrows are cancellable.
func (e *Escrow) Untouched() bool {
	if e == nil {
		return false
	}
	for _, m := range e.Milestones {
		if m == nil || m.Status != MilestonePending {
			return false
		}
	}
	return true
}

// Role tags the relationship of an address to an escrow. Mutating operations
// check it explicitly at entry instead of scattering identity lookups.
type Role uint8

const (
	RoleOther Role = iota
	RoleClient
	RoleFreelancer
)

// RoleOf classifies the caller against the escrow's parties.
func (e *Escrow) RoleOf(addr [20]byte) Role {
	if e == nil {
		return RoleOther
	}
	switch addr {
	case e.Client:
		return RoleClient
	case e.Freelancer:
		return RoleFreelancer
	default:
		return RoleOther
	}
}

// Sanitize validates and normalises the supplied escrow, returning a cloned
// instance with non-nil amount fields. The original value is not mutated.
func Sanitize(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil escrow", ErrValidation)
	}
	clone := e.Clone()
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("%w: status %d", ErrValidation, clone.Status)
	}
	if len(clone.Milestones) == 0 {
		return nil, fmt.Errorf("%w: escrow requires at least one milestone", ErrValidation)
	}
	sum := big.NewInt(0)
	released := big.NewInt(0)
	for i, m := range clone.Milestones {
		if m == nil {
			return nil, fmt.Errorf("%w: milestone %d nil", ErrValidation, i)
		}
		if strings.TrimSpace(m.Description) == "" {
			return nil, fmt.Errorf("%w: milestone %d description required", ErrValidation, i)
		}
		if m.Amount == nil || m.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: milestone %d amount must be positive", ErrValidation, i)
		}
		if !m.Status.Valid() {
			return nil, fmt.Errorf("%w: milestone %d status %d", ErrValidation, i, m.Status)
		}
		sum.Add(sum, m.Amount)
		if m.Status == MilestoneApproved {
			released.Add(released, m.Amount)
		}
	}
	if clone.TotalAmount.Cmp(sum) != 0 {
		return nil, fmt.Errorf("%w: total %s does not match milestone sum %s", ErrValidation, clone.TotalAmount, sum)
	}
	if clone.ReleasedAmount.Cmp(released) != 0 {
		return nil, fmt.Errorf("%w: released %s does not match approved sum %s", ErrValidation, clone.ReleasedAmount, released)
	}
	return clone, nil
}
