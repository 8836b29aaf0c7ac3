package casework

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/xscopehub/consultd/internal/model"
	"github.com/xscopehub/consultd/ports"
)

func TestClaimExclusiveUnderContention(t *testing.T) {
	f := newFixture(t)
	c := f.createCase(t, "cardiology")

	const n = 24
	claimants := make([]model.Principal, n)
	for i := range claimants {
		claimants[i] = model.Principal{ID: uuid.New()}
		f.store.PutProfile(model.Profile{ID: claimants[i].ID, Role: model.RoleSpecialist, Specialty: "cardiology"})
	}

	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([]error, n)
	)
	for i := range claimants {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, results[i] = f.svc.Claim(context.Background(), claimants[i], c.ID)
		}(i)
	}
	close(start)
	wg.Wait()

	var winner uuid.UUID
	wins := 0
	for i, err := range results {
		switch {
		case err == nil:
			wins++
			winner = claimants[i].ID
		case errors.Is(err, model.ErrAlreadyAssigned):
		default:
			t.Fatalf("claimant %d: unexpected error %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	got := f.get(t, c.ID)
	if !got.AssignedTo(winner) || got.Status != model.StatusAwaitingPhase1 {
		t.Fatalf("stored case does not reflect the winner: %+v", got)
	}
	assertInvariant(t, got)
	if n := f.notifier.count(ports.EventCaseClaimed); n != 1 {
		t.Fatalf("expected one claim notification, got %d", n)
	}
}

func TestClaimTwoSpecialistsK1(t *testing.T) {
	f := newFixture(t)
	c := f.createCase(t, "cardiology")

	var wg sync.WaitGroup
	errs := make(map[uuid.UUID]error)
	var mu sync.Mutex
	for _, p := range []model.Principal{f.cardioA, f.cardioB} {
		wg.Add(1)
		go func(p model.Principal) {
			defer wg.Done()
			_, err := f.svc.Claim(context.Background(), p, c.ID)
			mu.Lock()
			errs[p.ID] = err
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	got := f.get(t, c.ID)
	winner, loser := f.cardioA.ID, f.cardioB.ID
	if got.AssignedTo(loser) {
		winner, loser = loser, winner
	}
	if errs[winner] != nil || !got.AssignedTo(winner) {
		t.Fatalf("winner state wrong: err=%v case=%+v", errs[winner], got)
	}
	wantErr(t, errs[loser], model.ErrAlreadyAssigned)
}

func TestClaimSpecialtyMismatchK2(t *testing.T) {
	f := newFixture(t)
	c, err := f.svc.CreateCase(context.Background(), f.gp, NewCase{SpecialtyRequested: "dermatology", Title: "rash"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = f.svc.Claim(context.Background(), f.cardioA, c.ID)
	wantErr(t, err, model.ErrSpecialtyMismatch)

	got := f.get(t, c.ID)
	if got.Claimed() || got.Status != model.StatusPendingAssignment {
		t.Fatalf("row changed after mismatch: %+v", got)
	}
}

func TestClaimRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.createCase(t, "cardiology")

	_, err := f.svc.Claim(ctx, model.Principal{}, c.ID)
	wantErr(t, err, model.ErrUnauthenticated)

	_, err = f.svc.Claim(ctx, f.gp, c.ID)
	wantErr(t, err, model.ErrForbidden)

	_, err = f.svc.Claim(ctx, f.noProfile, c.ID)
	wantErr(t, err, model.ErrForbidden)

	_, err = f.svc.Claim(ctx, f.cardioA, uuid.New())
	wantErr(t, err, model.ErrNotFound)

	if _, err := f.svc.Claim(ctx, f.cardioA, c.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err = f.svc.Claim(ctx, f.cardioB, c.ID)
	wantErr(t, err, model.ErrAlreadyAssigned)

	// A repeat by the holder is not a second claim either.
	_, err = f.svc.Claim(ctx, f.cardioA, c.ID)
	wantErr(t, err, model.ErrAlreadyAssigned)
	if n := f.notifier.count(ports.EventCaseClaimed); n != 1 {
		t.Fatalf("expected one claim notification, got %d", n)
	}
}

// lostRaceCases lets the snapshot read see an unclaimed case while the store
// has already been claimed, which is the window the conditional update covers.
type lostRaceCases struct {
	ports.CaseRepository
	snapshot model.Case
}

func (l *lostRaceCases) GetCase(context.Context, uuid.UUID) (model.Case, error) {
	return l.snapshot, nil
}

func TestClaimLosesRaceAfterPrecheck(t *testing.T) {
	f := newFixture(t)
	c := f.createCase(t, "cardiology")
	if _, err := f.svc.Claim(context.Background(), f.cardioA, c.ID); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	f.svc.cases = &lostRaceCases{CaseRepository: f.store, snapshot: c}
	_, err := f.svc.Claim(context.Background(), f.cardioB, c.ID)
	wantErr(t, err, model.ErrAlreadyAssigned)

	got := f.get(t, c.ID)
	if !got.AssignedTo(f.cardioA.ID) {
		t.Fatalf("stale claim overwrote the holder: %+v", got)
	}
}
