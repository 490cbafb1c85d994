package jobs

import (
	"bytes"
	"errors"
	"math/big"
	"testing"
	"time"

	"workchain/crypto"
)

func testAddress(fill byte) crypto.Address {
	return crypto.MustNewAddress(bytes.Repeat([]byte{fill}, 20))
}

func newTestDirectory() *Directory {
	d := NewDirectory()
	clock := int64(1_700_000_000)
	d.SetNowFunc(func() time.Time {
		clock++
		return time.Unix(clock, 0)
	})
	return d
}

func mustPost(t *testing.T, d *Directory, client crypto.Address, title string, budget int64) *Job {
	t.Helper()
	job, err := d.Create(client, CreateParams{
		Title:  title,
		Budget: big.NewInt(budget),
		Milestones: []*Milestone{
			{Description: "deliverable", Amount: big.NewInt(budget)},
		},
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func TestCreateValidatesInput(t *testing.T) {
	d := newTestDirectory()
	client := testAddress(0x01)

	cases := []struct {
		name   string
		client crypto.Address
		params CreateParams
	}{
		{"zero client", crypto.Address{}, CreateParams{Title: "x", Budget: big.NewInt(1)}},
		{"empty title", client, CreateParams{Title: "  ", Budget: big.NewInt(1)}},
		{"nil budget", client, CreateParams{Title: "x"}},
		{"zero budget", client, CreateParams{Title: "x", Budget: big.NewInt(0)}},
		{"milestone without amount", client, CreateParams{
			Title: "x", Budget: big.NewInt(1),
			Milestones: []*Milestone{{Description: "a"}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := d.Create(tc.client, tc.params); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreateAndGet(t *testing.T) {
	d := newTestDirectory()
	client := testAddress(0x01)
	posted := mustPost(t, d, client, "Build a site", 100)

	if posted.Status != StatusOpen || posted.ID == "" {
		t.Fatalf("posted job: %+v", posted)
	}
	loaded, err := d.Get(posted.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Title != "Build a site" || loaded.Client != client {
		t.Fatalf("loaded: %+v", loaded)
	}

	// Returned jobs are copies.
	loaded.Title = "mutated"
	fresh, _ := d.Get(posted.ID)
	if fresh.Title != "Build a site" {
		t.Fatalf("directory state aliased")
	}

	if _, err := d.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing job: %v", err)
	}
}

func TestAssign(t *testing.T) {
	d := newTestDirectory()
	client := testAddress(0x01)
	freelancer := testAddress(0x02)
	job := mustPost(t, d, client, "Job", 10)

	if _, err := d.Assign(freelancer, job.ID, freelancer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner assign: %v", err)
	}
	if _, err := d.Assign(client, job.ID, crypto.Address{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("zero freelancer: %v", err)
	}
	assigned, err := d.Assign(client, job.ID, freelancer)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assigned.Status != StatusAssigned || assigned.Freelancer != freelancer {
		t.Fatalf("assigned: %+v", assigned)
	}
	if assigned.UpdatedAt <= assigned.CreatedAt {
		t.Fatalf("updatedAt not bumped: %+v", assigned)
	}
	if _, err := d.Assign(client, job.ID, freelancer); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double assign: %v", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	d := newTestDirectory()
	client := testAddress(0x01)
	freelancer := testAddress(0x02)
	stranger := testAddress(0x03)
	job := mustPost(t, d, client, "Job", 10)
	if _, err := d.Assign(client, job.ID, freelancer); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if _, err := d.UpdateStatus(stranger, job.ID, StatusCompleted); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger update: %v", err)
	}
	updated, err := d.UpdateStatus(freelancer, job.ID, StatusCompleted)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != StatusCompleted {
		t.Fatalf("status: %s", updated.Status)
	}
	if _, err := d.UpdateStatus(client, job.ID, Status(42)); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown status: %v", err)
	}
}

func TestLinkEscrow(t *testing.T) {
	d := newTestDirectory()
	client := testAddress(0x01)
	job := mustPost(t, d, client, "Job", 10)

	linked, err := d.LinkEscrow(client, job.ID, 5)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if !linked.HasEscrow || linked.EscrowID != 5 || linked.Status != StatusInProgress {
		t.Fatalf("linked: %+v", linked)
	}
	if _, err := d.LinkEscrow(client, job.ID, 6); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double link: %v", err)
	}
	if _, err := d.LinkEscrow(testAddress(0x02), job.ID, 6); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner link: %v", err)
	}
}

func TestListingsAndSearch(t *testing.T) {
	d := newTestDirectory()
	alice := testAddress(0x01)
	bob := testAddress(0x02)
	carol := testAddress(0x03)

	cheap := mustPost(t, d, alice, "Cheap", 10)
	mid, err := d.Create(alice, CreateParams{
		Title:    "Mid",
		Budget:   big.NewInt(50),
		Category: "design",
		Tags:     []string{"logo", "branding"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	expensive := mustPost(t, d, bob, "Expensive", 500)
	if _, err := d.Assign(bob, expensive.ID, carol); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if got := d.All(); len(got) != 3 {
		t.Fatalf("all: %d", len(got))
	}
	// Newest first.
	if got := d.All(); got[0].ID != expensive.ID || got[2].ID != cheap.ID {
		t.Fatalf("ordering: %v", []string{got[0].Title, got[1].Title, got[2].Title})
	}
	if got := d.ByClient(alice); len(got) != 2 {
		t.Fatalf("by client: %d", len(got))
	}
	if got := d.ByFreelancer(carol); len(got) != 1 || got[0].ID != expensive.ID {
		t.Fatalf("by freelancer: %d", len(got))
	}
	if got := d.Open(); len(got) != 2 {
		t.Fatalf("open: %d", len(got))
	}

	open := StatusOpen
	if got := d.Search(Filter{Status: &open}); len(got) != 2 {
		t.Fatalf("status filter: %d", len(got))
	}
	if got := d.Search(Filter{Category: "design"}); len(got) != 1 || got[0].ID != mid.ID {
		t.Fatalf("category filter: %d", len(got))
	}
	if got := d.Search(Filter{Tags: []string{"logo"}}); len(got) != 1 {
		t.Fatalf("tag filter: %d", len(got))
	}
	if got := d.Search(Filter{MinBudget: big.NewInt(40), MaxBudget: big.NewInt(100)}); len(got) != 1 || got[0].ID != mid.ID {
		t.Fatalf("budget filter: %d", len(got))
	}
}
