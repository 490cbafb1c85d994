package reputation

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"workchain/crypto"
)

var ErrValidation = errors.New("reputation: validation")

// Review is one rating left against an address after a job.
type Review struct {
	ID        string
	JobID     string
	Reviewer  crypto.Address
	Reviewee  crypto.Address
	Rating    int
	Comment   string
	CreatedAt int64
}

// Badge is a named achievement attached to a profile.
type Badge struct {
	ID          string
	Name        string
	Description string
	ImageURL    string
	EarnedAt    int64
}

// Profile aggregates everything known about an address. Rating is the mean of
// all review ratings, zero when unreviewed.
type Profile struct {
	Address       crypto.Address
	TotalJobs     int
	CompletedJobs int
	Rating        float64
	TotalEarned   *big.Int
	TotalSpent    *big.Int
	Reviews       []*Review
	Badges        []*Badge
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	clone := *p
	clone.TotalEarned = new(big.Int).Set(p.TotalEarned)
	clone.TotalSpent = new(big.Int).Set(p.TotalSpent)
	if len(p.Reviews) > 0 {
		clone.Reviews = make([]*Review, len(p.Reviews))
		for i, r := range p.Reviews {
			copied := *r
			clone.Reviews[i] = &copied
		}
	}
	if len(p.Badges) > 0 {
		clone.Badges = make([]*Badge, len(p.Badges))
		for i, b := range p.Badges {
			copied := *b
			clone.Badges[i] = &copied
		}
	}
	return &clone
}

// CompletionRate is the share of recorded jobs finished, as a percentage.
func (p *Profile) CompletionRate() float64 {
	if p == nil || p.TotalJobs == 0 {
		return 0
	}
	return float64(p.CompletedJobs) / float64(p.TotalJobs) * 100
}

// Tracker keeps reputation profiles in memory, keyed by address.
type Tracker struct {
	mu       sync.RWMutex
	profiles map[crypto.Address]*Profile
	nowFn    func() time.Time
}

// NewTracker constructs an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		profiles: make(map[crypto.Address]*Profile),
		nowFn:    time.Now,
	}
}

// SetNowFunc overrides the clock, primarily for tests.
func (t *Tracker) SetNowFunc(now func() time.Time) {
	if now != nil {
		t.nowFn = now
	}
}

// profile returns the live profile for the address, creating it when absent.
// Callers must hold the write lock.
func (t *Tracker) profile(addr crypto.Address) *Profile {
	p, ok := t.profiles[addr]
	if !ok {
		p = &Profile{
			Address:     addr,
			TotalEarned: big.NewInt(0),
			TotalSpent:  big.NewInt(0),
		}
		t.profiles[addr] = p
	}
	return p
}

// Profile returns a snapshot of the address's reputation. Unknown addresses
// get an empty profile.
func (t *Tracker) Profile(addr crypto.Address) *Profile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.profile(addr).Clone()
}

// AddReview records a rating against reviewee and refreshes their average.
// Ratings run from one to five inclusive.
func (t *Tracker) AddReview(reviewer, reviewee crypto.Address, jobID string, rating int, comment string) (*Review, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	review := &Review{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Reviewer:  reviewer,
		Reviewee:  reviewee,
		Rating:    rating,
		Comment:   comment,
		CreatedAt: t.nowFn().Unix(),
	}
	p := t.profile(reviewee)
	p.Reviews = append(p.Reviews, review)
	total := 0
	for _, r := range p.Reviews {
		total += r.Rating
	}
	p.Rating = float64(total) / float64(len(p.Reviews))
	copied := *review
	return &copied, nil
}

// Reviews returns the reviews recorded against an address.
func (t *Tracker) Reviews(addr crypto.Address) []*Review {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.profile(addr).Clone()
	return p.Reviews
}

// RecordJob bumps the job counters for an address.
func (t *Tracker) RecordJob(addr crypto.Address, completed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.profile(addr)
	p.TotalJobs++
	if completed {
		p.CompletedJobs++
	}
}

// RecordEarned adds a released amount to the address's lifetime earnings.
func (t *Tracker) RecordEarned(addr crypto.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.profile(addr)
	p.TotalEarned = new(big.Int).Add(p.TotalEarned, amount)
}

// RecordSpent adds a funded amount to the address's lifetime spending.
func (t *Tracker) RecordSpent(addr crypto.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.profile(addr)
	p.TotalSpent = new(big.Int).Add(p.TotalSpent, amount)
}

// AwardBadge attaches a named achievement to the profile.
func (t *Tracker) AwardBadge(addr crypto.Address, name, description, imageURL string) (*Badge, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: badge name required", ErrValidation)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	badge := &Badge{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		ImageURL:    imageURL,
		EarnedAt:    t.nowFn().Unix(),
	}
	p := t.profile(addr)
	p.Badges = append(p.Badges, badge)
	copied := *badge
	return &copied, nil
}

// TopRated returns up to limit reviewed profiles, best average first.
func (t *Tracker) TopRated(limit int) []*Profile {
	if limit <= 0 {
		limit = 10
	}
	t.mu.RLock()
	out := make([]*Profile, 0, len(t.profiles))
	for _, p := range t.profiles {
		if len(p.Reviews) > 0 {
			out = append(out, p.Clone())
		}
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].Address.String() < out[j].Address.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
