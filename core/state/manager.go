package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"workchain/core/types"
	"workchain/native/escrow"
	"workchain/storage"
)

var (
	accountPrefix         = []byte("account:")
	escrowPrefix          = []byte("escrow:")
	escrowSeqKey          = []byte("escrow-seq")
	escrowVaultPrefix     = []byte("escrow-vault:")
	clientIndexPrefix     = []byte("escrow-client:")
	freelancerIndexPrefix = []byte("escrow-freelancer:")
)

// vaultSeed derives the module account that holds all escrowed funds. No key
// exists for it, so nothing outside the engine can spend from it.
var vaultSeed = []byte("workchain/escrow-vault")

// Manager reads and writes ledger state records through a key-value store. Keys
// are keccak-hashed prefixed byte strings; values are RLP.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func prefixedKey(prefix, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return ethcrypto.Keccak256(buf)
}

func uint64Bytes(v uint64) []byte {
	return []byte(fmt.Sprintf("%d", v))
}

// --- Accounts ---

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

// GetAccount loads the account for addr, returning a zero-balance account when
// none has been stored yet.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	data, err := m.db.Get(prefixedKey(accountPrefix, addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, err
	}
	return types.EnsureAccount(&types.Account{Nonce: stored.Nonce, Balance: stored.Balance}), nil
}

// PutAccount persists the account record for addr.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	account = types.EnsureAccount(account)
	encoded, err := rlp.EncodeToBytes(storedAccount{Nonce: account.Nonce, Balance: account.Balance})
	if err != nil {
		return err
	}
	return m.db.Put(prefixedKey(accountPrefix, addr), encoded)
}

// --- Escrow records ---

type storedMilestone struct {
	Description string
	Amount      *big.Int
	Status      uint8
	SubmittedAt uint64
}

type storedEscrow struct {
	ID             uint64
	Client         [20]byte
	Freelancer     [20]byte
	TotalAmount    *big.Int
	ReleasedAmount *big.Int
	Status         uint8
	CreatedAt      uint64
	CompletedAt    uint64
	Milestones     []storedMilestone
}

// EscrowPut validates and persists an escrow record.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.Sanitize(e)
	if err != nil {
		return err
	}
	stored := storedEscrow{
		ID:             sanitized.ID,
		Client:         sanitized.Client,
		Freelancer:     sanitized.Freelancer,
		TotalAmount:    sanitized.TotalAmount,
		ReleasedAmount: sanitized.ReleasedAmount,
		Status:         uint8(sanitized.Status),
		CreatedAt:      uint64(sanitized.CreatedAt),
		CompletedAt:    uint64(sanitized.CompletedAt),
		Milestones:     make([]storedMilestone, len(sanitized.Milestones)),
	}
	for i, ms := range sanitized.Milestones {
		stored.Milestones[i] = storedMilestone{
			Description: ms.Description,
			Amount:      ms.Amount,
			Status:      uint8(ms.Status),
			SubmittedAt: uint64(ms.SubmittedAt),
		}
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return m.db.Put(prefixedKey(escrowPrefix, uint64Bytes(sanitized.ID)), encoded)
}

// EscrowGet loads an escrow record by id.
func (m *Manager) EscrowGet(id uint64) (*escrow.Escrow, bool) {
	data, err := m.db.Get(prefixedKey(escrowPrefix, uint64Bytes(id)))
	if err != nil {
		return nil, false
	}
	var stored storedEscrow
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, false
	}
	esc := &escrow.Escrow{
		ID:             stored.ID,
		Client:         stored.Client,
		Freelancer:     stored.Freelancer,
		TotalAmount:    stored.TotalAmount,
		ReleasedAmount: stored.ReleasedAmount,
		Status:         escrow.Status(stored.Status),
		CreatedAt:      int64(stored.CreatedAt),
		CompletedAt:    int64(stored.CompletedAt),
		Milestones:     make([]*escrow.Milestone, len(stored.Milestones)),
	}
	for i, ms := range stored.Milestones {
		esc.Milestones[i] = &escrow.Milestone{
			Description: ms.Description,
			Amount:      ms.Amount,
			Status:      escrow.MilestoneStatus(ms.Status),
			SubmittedAt: int64(ms.SubmittedAt),
		}
	}
	return esc, true
}

// EscrowNextID allocates the next monotonically increasing escrow id,
// starting at zero.
func (m *Manager) EscrowNextID() (uint64, error) {
	key := prefixedKey(escrowSeqKey, nil)
	var next uint64
	data, err := m.db.Get(key)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		next = 0
	case err != nil:
		return 0, err
	default:
		if err := rlp.DecodeBytes(data, &next); err != nil {
			return 0, err
		}
	}
	encoded, err := rlp.EncodeToBytes(next + 1)
	if err != nil {
		return 0, err
	}
	if err := m.db.Put(key, encoded); err != nil {
		return 0, err
	}
	return next, nil
}

// --- Party indexes ---

func (m *Manager) appendIndex(prefix []byte, addr [20]byte, id uint64) error {
	key := prefixedKey(prefix, addr[:])
	ids, err := m.readIndex(prefix, addr)
	if err != nil {
		return err
	}
	ids = append(ids, id)
	encoded, err := rlp.EncodeToBytes(ids)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

func (m *Manager) readIndex(prefix []byte, addr [20]byte) ([]uint64, error) {
	data, err := m.db.Get(prefixedKey(prefix, addr[:]))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return []uint64{}, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []uint64
	if err := rlp.DecodeBytes(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// EscrowIndexClient records id under the client's escrow index.
func (m *Manager) EscrowIndexClient(addr [20]byte, id uint64) error {
	return m.appendIndex(clientIndexPrefix, addr, id)
}

// EscrowIndexFreelancer records id under the freelancer's escrow index.
func (m *Manager) EscrowIndexFreelancer(addr [20]byte, id uint64) error {
	return m.appendIndex(freelancerIndexPrefix, addr, id)
}

// EscrowsByClient returns every escrow id created by addr, in creation order.
func (m *Manager) EscrowsByClient(addr [20]byte) ([]uint64, error) {
	return m.readIndex(clientIndexPrefix, addr)
}

// EscrowsByFreelancer returns every escrow id assigned to addr, in creation order.
func (m *Manager) EscrowsByFreelancer(addr [20]byte) ([]uint64, error) {
	return m.readIndex(freelancerIndexPrefix, addr)
}

// --- Vault custody accounting ---

// EscrowVaultAddress returns the module account holding escrowed funds.
func (m *Manager) EscrowVaultAddress() [20]byte {
	var addr [20]byte
	hash := ethcrypto.Keccak256(vaultSeed)
	copy(addr[:], hash[12:])
	return addr
}

func (m *Manager) vaultBalance(id uint64) (*big.Int, error) {
	data, err := m.db.Get(prefixedKey(escrowVaultPrefix, uint64Bytes(id)))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(data, balance); err != nil {
		return nil, err
	}
	return balance, nil
}

func (m *Manager) putVaultBalance(id uint64, balance *big.Int) error {
	encoded, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return err
	}
	return m.db.Put(prefixedKey(escrowVaultPrefix, uint64Bytes(id)), encoded)
}

// EscrowCredit records funds entering custody for an escrow.
func (m *Manager) EscrowCredit(id uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: credit amount must be non-negative")
	}
	balance, err := m.vaultBalance(id)
	if err != nil {
		return err
	}
	return m.putVaultBalance(id, new(big.Int).Add(balance, amount))
}

// EscrowDebit records funds leaving custody for an escrow. Over-debit is a
// conservation violation and is refused.
func (m *Manager) EscrowDebit(id uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: debit amount must be non-negative")
	}
	balance, err := m.vaultBalance(id)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("state: escrow %d custody %s cannot cover debit %s", id, balance, amount)
	}
	return m.putVaultBalance(id, new(big.Int).Sub(balance, amount))
}

// EscrowCustody reports the funds currently held for an escrow.
func (m *Manager) EscrowCustody(id uint64) (*big.Int, error) {
	return m.vaultBalance(id)
}
