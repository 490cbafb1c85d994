package jobs

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"workchain/crypto"
)

var (
	ErrValidation   = errors.New("jobs: validation")
	ErrNotFound     = errors.New("jobs: not found")
	ErrUnauthorized = errors.New("jobs: unauthorized")
	ErrInvalidState = errors.New("jobs: invalid state")
)

// Status tracks a posting through its lifecycle.
type Status uint8

const (
	StatusOpen Status = iota
	StatusAssigned
	StatusInProgress
	StatusCompleted
	StatusCancelled
	StatusDisputed
)

// Valid reports whether the status is one of the defined values.
func (s Status) Valid() bool {
	return s <= StatusDisputed
}

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusAssigned:
		return "assigned"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusDisputed:
		return "disputed"
	default:
		return "unknown"
	}
}

// Milestone is a planned unit of work in a posting. Postings carry milestone
// plans only; funded milestones live in the escrow once one is linked.
type Milestone struct {
	Description string
	Amount      *big.Int
	DueDate     int64
}

// Clone returns a deep copy of the milestone.
func (m *Milestone) Clone() *Milestone {
	if m == nil {
		return nil
	}
	clone := *m
	if m.Amount != nil {
		clone.Amount = new(big.Int).Set(m.Amount)
	}
	return &clone
}

// Job is one posting in the directory. Budget is in base units. EscrowID is
// meaningful only when HasEscrow is set.
type Job struct {
	ID          string
	Title       string
	Description string
	Budget      *big.Int
	Client      crypto.Address
	Freelancer  crypto.Address
	EscrowID    uint64
	HasEscrow   bool
	Status      Status
	CreatedAt   int64
	UpdatedAt   int64
	Milestones  []*Milestone
	Tags        []string
	Category    string
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	if j.Budget != nil {
		clone.Budget = new(big.Int).Set(j.Budget)
	}
	if len(j.Milestones) > 0 {
		clone.Milestones = make([]*Milestone, len(j.Milestones))
		for i, m := range j.Milestones {
			clone.Milestones[i] = m.Clone()
		}
	}
	if len(j.Tags) > 0 {
		clone.Tags = append([]string(nil), j.Tags...)
	}
	return &clone
}

// CreateParams describes a new posting.
type CreateParams struct {
	Title       string
	Description string
	Budget      *big.Int
	Milestones  []*Milestone
	Tags        []string
	Category    string
}

// Filter narrows a directory search. Nil or zero fields match everything.
type Filter struct {
	Status    *Status
	Category  string
	Tags      []string
	MinBudget *big.Int
	MaxBudget *big.Int
}

// Directory is the in-memory posting index. It sits beside the ledger rather
// than on it; postings reference escrows by id once funded.
type Directory struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	nowFn func() time.Time
}

// NewDirectory constructs an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		jobs:  make(map[string]*Job),
		nowFn: time.Now,
	}
}

// SetNowFunc overrides the clock, primarily for tests.
func (d *Directory) SetNowFunc(now func() time.Time) {
	if now != nil {
		d.nowFn = now
	}
}

// Create records a new open posting owned by client.
func (d *Directory) Create(client crypto.Address, params CreateParams) (*Job, error) {
	if client.IsZero() {
		return nil, fmt.Errorf("%w: client address required", ErrValidation)
	}
	if strings.TrimSpace(params.Title) == "" {
		return nil, fmt.Errorf("%w: title required", ErrValidation)
	}
	if params.Budget == nil || params.Budget.Sign() <= 0 {
		return nil, fmt.Errorf("%w: budget must be positive", ErrValidation)
	}
	for i, m := range params.Milestones {
		if m == nil || strings.TrimSpace(m.Description) == "" {
			return nil, fmt.Errorf("%w: milestone %d requires a description", ErrValidation, i)
		}
		if m.Amount == nil || m.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: milestone %d amount must be positive", ErrValidation, i)
		}
	}

	now := d.nowFn().Unix()
	job := &Job{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(params.Title),
		Description: params.Description,
		Budget:      new(big.Int).Set(params.Budget),
		Client:      client,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
		Category:    params.Category,
	}
	for _, m := range params.Milestones {
		job.Milestones = append(job.Milestones, m.Clone())
	}
	if len(params.Tags) > 0 {
		job.Tags = append([]string(nil), params.Tags...)
	}

	d.mu.Lock()
	d.jobs[job.ID] = job
	d.mu.Unlock()
	return job.Clone(), nil
}

// Get returns the posting with the given id.
func (d *Directory) Get(id string) (*Job, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	job, ok := d.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	return job.Clone(), nil
}

// All returns every posting, newest first.
func (d *Directory) All() []*Job {
	return d.collect(func(*Job) bool { return true })
}

// ByClient returns postings owned by the address, newest first.
func (d *Directory) ByClient(client crypto.Address) []*Job {
	return d.collect(func(j *Job) bool { return j.Client == client })
}

// ByFreelancer returns postings assigned to the address, newest first.
func (d *Directory) ByFreelancer(freelancer crypto.Address) []*Job {
	return d.collect(func(j *Job) bool { return j.Freelancer == freelancer })
}

// Open returns postings still accepting applicants, newest first.
func (d *Directory) Open() []*Job {
	return d.collect(func(j *Job) bool { return j.Status == StatusOpen })
}

// Assign hands an open posting to a freelancer. Only the owning client may
// assign.
func (d *Directory) Assign(caller crypto.Address, id string, freelancer crypto.Address) (*Job, error) {
	if freelancer.IsZero() {
		return nil, fmt.Errorf("%w: freelancer address required", ErrValidation)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	job, ok := d.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	if job.Client != caller {
		return nil, fmt.Errorf("%w: only the client can assign job %s", ErrUnauthorized, id)
	}
	if job.Status != StatusOpen {
		return nil, fmt.Errorf("%w: job %s is %s, not open", ErrInvalidState, id, job.Status)
	}
	job.Freelancer = freelancer
	job.Status = StatusAssigned
	job.UpdatedAt = d.nowFn().Unix()
	return job.Clone(), nil
}

// UpdateStatus moves a posting to the given status. Only the client or the
// assigned freelancer may update.
func (d *Directory) UpdateStatus(caller crypto.Address, id string, status Status) (*Job, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %d", ErrValidation, status)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	job, ok := d.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	if job.Client != caller && job.Freelancer != caller {
		return nil, fmt.Errorf("%w: caller is not a participant of job %s", ErrUnauthorized, id)
	}
	job.Status = status
	job.UpdatedAt = d.nowFn().Unix()
	return job.Clone(), nil
}

// LinkEscrow attaches a funded escrow to the posting and moves it to
// in-progress. Only the owning client may link.
func (d *Directory) LinkEscrow(caller crypto.Address, id string, escrowID uint64) (*Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	job, ok := d.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	if job.Client != caller {
		return nil, fmt.Errorf("%w: only the client can link an escrow to job %s", ErrUnauthorized, id)
	}
	if job.HasEscrow {
		return nil, fmt.Errorf("%w: job %s already has escrow %d", ErrInvalidState, id, job.EscrowID)
	}
	job.EscrowID = escrowID
	job.HasEscrow = true
	job.Status = StatusInProgress
	job.UpdatedAt = d.nowFn().Unix()
	return job.Clone(), nil
}

// Search returns postings matching the filter, newest first.
func (d *Directory) Search(filter Filter) []*Job {
	return d.collect(func(j *Job) bool {
		if filter.Status != nil && j.Status != *filter.Status {
			return false
		}
		if filter.Category != "" && j.Category != filter.Category {
			return false
		}
		if len(filter.Tags) > 0 && !hasAnyTag(j.Tags, filter.Tags) {
			return false
		}
		if filter.MinBudget != nil && j.Budget.Cmp(filter.MinBudget) < 0 {
			return false
		}
		if filter.MaxBudget != nil && j.Budget.Cmp(filter.MaxBudget) > 0 {
			return false
		}
		return true
	})
}

func (d *Directory) collect(match func(*Job) bool) []*Job {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Job, 0, len(d.jobs))
	for _, job := range d.jobs {
		if match(job) {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func hasAnyTag(have, want []string) bool {
	for _, tag := range have {
		for _, candidate := range want {
			if tag == candidate {
				return true
			}
		}
	}
	return false
}
