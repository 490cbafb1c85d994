package verification

import (
	"errors"
	"fmt"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"workchain/crypto"
)

var (
	ErrValidation = errors.New("verification: validation")
	ErrNotFound   = errors.New("verification: not found")
)

// Level ranks how thoroughly an identity was checked. Higher levels satisfy
// lower requirements.
type Level uint8

const (
	LevelBasic Level = iota + 1
	LevelAdvanced
	LevelPremium
)

func (l Level) String() string {
	switch l {
	case LevelBasic:
		return "basic"
	case LevelAdvanced:
		return "advanced"
	case LevelPremium:
		return "premium"
	default:
		return "unknown"
	}
}

// ParseLevel resolves a level label.
func ParseLevel(label string) (Level, error) {
	switch label {
	case "basic":
		return LevelBasic, nil
	case "advanced":
		return LevelAdvanced, nil
	case "premium":
		return LevelPremium, nil
	default:
		return 0, fmt.Errorf("%w: unknown level %q", ErrValidation, label)
	}
}

// Attributes lists which identity signals were confirmed at verification
// time.
type Attributes struct {
	Email          bool
	Phone          bool
	GovernmentID   bool
	Biometric      bool
	LinkedAccounts bool
}

// Result is one verification record. Score is a humanity score from 0 to
// 100.
type Result struct {
	Address    crypto.Address
	Level      Level
	Score      int
	VerifiedAt int64
	ExpiresAt  int64
	Attributes Attributes
}

// Active reports whether the record is still within its validity window.
func (r *Result) Active(now int64) bool {
	return r != nil && now < r.ExpiresAt
}

// Stats summarises the registry contents.
type Stats struct {
	Total   int
	Active  int
	Expired int
	ByLevel map[Level]int
}

const defaultValidity = 30 * 24 * time.Hour

// Registry is the in-memory identity verification store. Verification is
// simulated: scores derive deterministically from the address so repeated
// runs agree, pending integration with a real identity provider.
type Registry struct {
	mu       sync.RWMutex
	results  map[crypto.Address]*Result
	validity time.Duration
	nowFn    func() time.Time
}

// NewRegistry constructs an empty registry with a thirty-day validity
// window.
func NewRegistry() *Registry {
	return &Registry{
		results:  make(map[crypto.Address]*Result),
		validity: defaultValidity,
		nowFn:    time.Now,
	}
}

// SetNowFunc overrides the clock, primarily for tests.
func (r *Registry) SetNowFunc(now func() time.Time) {
	if now != nil {
		r.nowFn = now
	}
}

// SetValidity overrides how long a verification stays active.
func (r *Registry) SetValidity(d time.Duration) {
	if d > 0 {
		r.validity = d
	}
}

// Verify records the address as verified at the given level. An existing
// active record at the same or higher level is returned unchanged.
func (r *Registry) Verify(addr crypto.Address, level Level) (*Result, error) {
	if addr.IsZero() {
		return nil, fmt.Errorf("%w: address required", ErrValidation)
	}
	if level < LevelBasic || level > LevelPremium {
		return nil, fmt.Errorf("%w: unknown level %d", ErrValidation, level)
	}
	now := r.nowFn()
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.results[addr]; ok && existing.Active(now.Unix()) && existing.Level >= level {
		copied := *existing
		return &copied, nil
	}
	result := &Result{
		Address:    addr,
		Level:      level,
		Score:      scoreFor(addr, level),
		VerifiedAt: now.Unix(),
		ExpiresAt:  now.Add(r.validity).Unix(),
		Attributes: attributesFor(level),
	}
	r.results[addr] = result
	copied := *result
	return &copied, nil
}

// IsVerified reports whether the address holds an active verification at or
// above minLevel.
func (r *Registry) IsVerified(addr crypto.Address, minLevel Level) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result, ok := r.results[addr]
	if !ok || !result.Active(r.nowFn().Unix()) {
		return false
	}
	return result.Level >= minLevel
}

// Verification returns the stored record for an address.
func (r *Registry) Verification(addr crypto.Address) (*Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result, ok := r.results[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr.String())
	}
	copied := *result
	return &copied, nil
}

// VerifiedAddresses returns every address with an active verification.
func (r *Registry) VerifiedAddresses() []crypto.Address {
	now := r.nowFn().Unix()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]crypto.Address, 0, len(r.results))
	for addr, result := range r.results {
		if result.Active(now) {
			out = append(out, addr)
		}
	}
	return out
}

// Revoke drops the verification record for an address.
func (r *Registry) Revoke(addr crypto.Address) {
	r.mu.Lock()
	delete(r.results, addr)
	r.mu.Unlock()
}

// Stats summarises the registry.
func (r *Registry) Stats() Stats {
	now := r.nowFn().Unix()
	stats := Stats{ByLevel: map[Level]int{LevelBasic: 0, LevelAdvanced: 0, LevelPremium: 0}}
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats.Total = len(r.results)
	for _, result := range r.results {
		if result.Active(now) {
			stats.Active++
			stats.ByLevel[result.Level]++
		} else {
			stats.Expired++
		}
	}
	return stats
}

// scoreFor maps the address onto a level-dependent score band. The spread
// within the band comes from the address hash so the same address always
// scores the same.
func scoreFor(addr crypto.Address, level Level) int {
	digest := ethcrypto.Keccak256(addr.Bytes())
	jitter := int(digest[0])
	switch level {
	case LevelAdvanced:
		return 85 + jitter%10
	case LevelPremium:
		return 95 + jitter%5
	default:
		return 70 + jitter%15
	}
}

func attributesFor(level Level) Attributes {
	attrs := Attributes{Email: true}
	switch level {
	case LevelAdvanced:
		attrs.Phone = true
		attrs.LinkedAccounts = true
	case LevelPremium:
		attrs.Phone = true
		attrs.GovernmentID = true
		attrs.Biometric = true
		attrs.LinkedAccounts = true
	}
	return attrs
}
