package casework

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xscopehub/consultd/internal/model"
	"github.com/xscopehub/consultd/internal/repository"
	"github.com/xscopehub/consultd/internal/storage"
	"github.com/xscopehub/consultd/ports"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []ports.Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev ports.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Kind
	}
	return out
}

func (n *recordingNotifier) count(kind string) int {
	c := 0
	for _, k := range n.kinds() {
		if k == kind {
			c++
		}
	}
	return c
}

// flakyFiles fails record deletion on demand.
type flakyFiles struct {
	*repository.MemoryStore
	failDelete error
}

func (f *flakyFiles) DeleteFile(ctx context.Context, id uuid.UUID) error {
	if f.failDelete != nil {
		return f.failDelete
	}
	return f.MemoryStore.DeleteFile(ctx, id)
}

type fixture struct {
	svc      *Service
	store    *repository.MemoryStore
	files    *flakyFiles
	blobs    *storage.Memory
	notifier *recordingNotifier

	gp, otherGP      model.Principal
	cardioA, cardioB model.Principal
	derm, noProfile  model.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	f := &fixture{
		store:     store,
		files:     &flakyFiles{MemoryStore: store},
		blobs:     storage.NewMemory(),
		notifier:  &recordingNotifier{},
		gp:        model.Principal{ID: uuid.New()},
		otherGP:   model.Principal{ID: uuid.New()},
		cardioA:   model.Principal{ID: uuid.New()},
		cardioB:   model.Principal{ID: uuid.New()},
		derm:      model.Principal{ID: uuid.New()},
		noProfile: model.Principal{ID: uuid.New()},
	}
	store.PutProfile(model.Profile{ID: f.gp.ID, Role: model.RoleGP})
	store.PutProfile(model.Profile{ID: f.otherGP.ID, Role: model.RoleGP})
	store.PutProfile(model.Profile{ID: f.cardioA.ID, Role: model.RoleSpecialist, Specialty: "cardiology"})
	store.PutProfile(model.Profile{ID: f.cardioB.ID, Role: model.RoleSpecialist, Specialty: "cardiology"})
	store.PutProfile(model.Profile{ID: f.derm.ID, Role: model.RoleSpecialist, Specialty: "dermatology"})

	f.svc = New(Deps{
		Cases:    store,
		Profiles: store,
		Files:    f.files,
		Messages: store,
		Storage:  f.blobs,
		Notifier: f.notifier,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) },
	})
	return f
}

func (f *fixture) createCase(t *testing.T, specialty string) model.Case {
	t.Helper()
	c, err := f.svc.CreateCase(context.Background(), f.gp, NewCase{SpecialtyRequested: specialty, Title: "palpitations"})
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	return c
}

func (f *fixture) get(t *testing.T, id uuid.UUID) model.Case {
	t.Helper()
	c, err := f.store.GetCase(context.Background(), id)
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	return c
}

// advanceTo drives a fresh cardiology case claimed by cardioA up to status.
func (f *fixture) advanceTo(t *testing.T, status model.Status) model.Case {
	t.Helper()
	ctx := context.Background()
	c := f.createCase(t, "cardiology")
	steps := []struct {
		reached model.Status
		run     func() error
	}{
		{model.StatusAwaitingPhase1, func() error { _, err := f.svc.Claim(ctx, f.cardioA, c.ID); return err }},
		{model.StatusAwaitingDiagnostics, func() error {
			_, err := f.svc.SubmitDiagnosticPlan(ctx, f.cardioA, c.ID, "echo and holter")
			return err
		}},
		{model.StatusAwaitingPhase2, func() error {
			notes := "echo normal"
			_, err := f.svc.SubmitDiagnostics(ctx, f.gp, c.ID, &notes)
			return err
		}},
		{model.StatusCompleted, func() error { _, err := f.svc.SubmitFinalReport(ctx, f.cardioA, c.ID, sampleReport()); return err }},
	}
	for _, st := range steps {
		if c.Status == status {
			break
		}
		if err := st.run(); err != nil {
			t.Fatalf("advance to %s: %v", st.reached, err)
		}
		c = f.get(t, c.ID)
	}
	if c.Status != status {
		t.Fatalf("could not reach %s, at %s", status, c.Status)
	}
	return c
}

func sampleReport() model.FinalReport {
	return model.FinalReport{
		Assessment:    "benign ectopy",
		TreatmentPlan: "reassurance",
		Prognosis:     "excellent",
		ClientSummary: "nothing serious",
	}
}

func assertInvariant(t *testing.T, c model.Case) {
	t.Helper()
	if c.Claimed() != (c.Status != model.StatusPendingAssignment) {
		t.Fatalf("ownership invariant broken: status=%s specialist=%v", c.Status, c.SpecialistID)
	}
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
