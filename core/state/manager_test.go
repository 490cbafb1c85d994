package state

import (
	"math/big"
	"testing"

	"workchain/core/types"
	"workchain/native/escrow"
	"workchain/storage"
)

func newTestManager() *Manager {
	return NewManager(storage.NewMemDB())
}

func testEscrow(id uint64) *escrow.Escrow {
	client := [20]byte{0x01}
	freelancer := [20]byte{0x02}
	return &escrow.Escrow{
		ID:             id,
		Client:         client,
		Freelancer:     freelancer,
		TotalAmount:    big.NewInt(5),
		ReleasedAmount: big.NewInt(0),
		Status:         escrow.StatusFunded,
		CreatedAt:      1_700_000_000,
		Milestones: []*escrow.Milestone{
			{Description: "design", Amount: big.NewInt(2), Status: escrow.MilestonePending},
			{Description: "build", Amount: big.NewInt(3), Status: escrow.MilestonePending},
		},
	}
}

func TestAccountRoundTrip(t *testing.T) {
	m := newTestManager()
	addr := []byte{0xAA, 0xBB}

	// Unknown accounts read as empty rather than erroring.
	account, err := m.GetAccount(addr)
	if err != nil {
		t.Fatalf("get empty account: %v", err)
	}
	if account.Nonce != 0 || account.Balance.Sign() != 0 {
		t.Fatalf("empty account: %+v", account)
	}

	account.Nonce = 7
	account.Balance = big.NewInt(1234)
	if err := m.PutAccount(addr, account); err != nil {
		t.Fatalf("put account: %v", err)
	}
	loaded, err := m.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if loaded.Nonce != 7 || loaded.Balance.Cmp(big.NewInt(1234)) != 0 {
		t.Fatalf("loaded account: %+v", loaded)
	}
}

func TestEscrowRoundTrip(t *testing.T) {
	m := newTestManager()
	original := testEscrow(3)
	original.Milestones[0].Status = escrow.MilestoneApproved
	original.Milestones[0].SubmittedAt = 1_700_000_100
	original.ReleasedAmount = big.NewInt(2)
	original.Status = escrow.StatusInProgress

	if err := m.EscrowPut(original); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, ok := m.EscrowGet(3)
	if !ok {
		t.Fatalf("escrow not found after put")
	}
	if loaded.ID != 3 || loaded.Status != escrow.StatusInProgress {
		t.Fatalf("loaded: %+v", loaded)
	}
	if loaded.Client != original.Client || loaded.Freelancer != original.Freelancer {
		t.Fatalf("parties not preserved")
	}
	if loaded.TotalAmount.Cmp(big.NewInt(5)) != 0 || loaded.ReleasedAmount.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("amounts: total %s released %s", loaded.TotalAmount, loaded.ReleasedAmount)
	}
	if len(loaded.Milestones) != 2 {
		t.Fatalf("milestones: %d", len(loaded.Milestones))
	}
	first := loaded.Milestones[0]
	if first.Status != escrow.MilestoneApproved || first.SubmittedAt != 1_700_000_100 {
		t.Fatalf("first milestone: %+v", first)
	}
	if loaded.CreatedAt != original.CreatedAt {
		t.Fatalf("createdAt: got %d", loaded.CreatedAt)
	}
}

func TestEscrowPutRejectsInconsistentRecords(t *testing.T) {
	m := newTestManager()

	broken := testEscrow(0)
	broken.TotalAmount = big.NewInt(99)
	if err := m.EscrowPut(broken); err == nil {
		t.Fatalf("expected rejection of total/milestone mismatch")
	}

	broken = testEscrow(0)
	broken.ReleasedAmount = big.NewInt(2)
	if err := m.EscrowPut(broken); err == nil {
		t.Fatalf("expected rejection of released/approved mismatch")
	}

	if _, ok := m.EscrowGet(0); ok {
		t.Fatalf("rejected record was stored")
	}
}

func TestEscrowNextIDStartsAtZero(t *testing.T) {
	m := newTestManager()
	for want := uint64(0); want < 3; want++ {
		got, err := m.EscrowNextID()
		if err != nil {
			t.Fatalf("next id: %v", err)
		}
		if got != want {
			t.Fatalf("id: got %d want %d", got, want)
		}
	}
}

func TestPartyIndexes(t *testing.T) {
	m := newTestManager()
	client := [20]byte{0x01}
	freelancer := [20]byte{0x02}

	ids, err := m.EscrowsByClient(client)
	if err != nil || len(ids) != 0 {
		t.Fatalf("empty index: %v, %v", ids, err)
	}

	for id := uint64(0); id < 3; id++ {
		if err := m.EscrowIndexClient(client, id); err != nil {
			t.Fatalf("index client: %v", err)
		}
	}
	if err := m.EscrowIndexFreelancer(freelancer, 1); err != nil {
		t.Fatalf("index freelancer: %v", err)
	}

	ids, err = m.EscrowsByClient(client)
	if err != nil {
		t.Fatalf("by client: %v", err)
	}
	if len(ids) != 3 || ids[0] != 0 || ids[2] != 2 {
		t.Fatalf("client index order: %v", ids)
	}
	ids, err = m.EscrowsByFreelancer(freelancer)
	if err != nil || len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("freelancer index: %v, %v", ids, err)
	}
}

func TestVaultCustody(t *testing.T) {
	m := newTestManager()

	if err := m.EscrowCredit(0, big.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := m.EscrowDebit(0, big.NewInt(4)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	custody, err := m.EscrowCustody(0)
	if err != nil || custody.Cmp(big.NewInt(6)) != 0 {
		t.Fatalf("custody: %s, %v", custody, err)
	}

	// Custody is per escrow.
	other, err := m.EscrowCustody(1)
	if err != nil || other.Sign() != 0 {
		t.Fatalf("unrelated custody: %s, %v", other, err)
	}

	if err := m.EscrowDebit(0, big.NewInt(7)); err == nil {
		t.Fatalf("over-debit accepted")
	}
	custody, _ = m.EscrowCustody(0)
	if custody.Cmp(big.NewInt(6)) != 0 {
		t.Fatalf("custody changed by refused debit: %s", custody)
	}
}

func TestVaultAddressIsStable(t *testing.T) {
	first := newTestManager().EscrowVaultAddress()
	second := newTestManager().EscrowVaultAddress()
	if first != second {
		t.Fatalf("vault address differs between managers")
	}
	if first == ([20]byte{}) {
		t.Fatalf("vault address is zero")
	}
}

func TestManagerIsolationThroughOverlay(t *testing.T) {
	backing := storage.NewMemDB()
	overlay := storage.NewOverlay(backing)
	staged := NewManager(overlay)

	if err := staged.PutAccount([]byte{0x01}, &types.Account{Balance: big.NewInt(5)}); err != nil {
		t.Fatalf("put staged: %v", err)
	}

	// Nothing reaches the backing store until commit.
	direct := NewManager(backing)
	account, err := direct.GetAccount([]byte{0x01})
	if err != nil || account.Balance.Sign() != 0 {
		t.Fatalf("staged write leaked: %+v, %v", account, err)
	}

	if err := overlay.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	account, err = direct.GetAccount([]byte{0x01})
	if err != nil || account.Balance.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("committed write missing: %+v, %v", account, err)
	}
}
