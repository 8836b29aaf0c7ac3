package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/xscopehub/consultd/internal/model"
	"github.com/xscopehub/consultd/ports"
)

func newPendingCase(t *testing.T, s *MemoryStore, specialty string) model.Case {
	t.Helper()
	c := model.Case{
		ID:                 uuid.New(),
		GPID:               uuid.New(),
		SpecialtyRequested: specialty,
		Status:             model.StatusPendingAssignment,
		Title:              "chest pain",
	}
	if err := s.InsertCase(context.Background(), c); err != nil {
		t.Fatalf("insert case: %v", err)
	}
	return c
}

func TestMemoryConditionalUpdateSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	c := newPendingCase(t, s, "cardiology")

	const n = 32
	var (
		wg   sync.WaitGroup
		wins atomic.Int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set := ports.NewPatch().SpecialistID(uuid.New()).Status(model.StatusAwaitingPhase1)
			rows, err := s.ConditionalUpdate(context.Background(), c.ID,
				ports.Expect{Status: model.StatusPendingAssignment, Unclaimed: true}, set)
			if err != nil {
				t.Errorf("update: %v", err)
				return
			}
			wins.Add(rows)
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly one winner, got %d", got)
	}
	got, err := s.GetCase(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	if !got.Claimed() || got.Status != model.StatusAwaitingPhase1 {
		t.Fatalf("unexpected case after race: %+v", got)
	}
}

func TestMemoryConditionalUpdateMissingRow(t *testing.T) {
	s := NewMemoryStore()
	rows, err := s.ConditionalUpdate(context.Background(), uuid.New(), ports.Expect{}, ports.NewPatch().Phase1Plan("x"))
	if err != nil || rows != 0 {
		t.Fatalf("expected 0 rows, got %d %v", rows, err)
	}
	if _, err := s.ConditionalUpdate(context.Background(), uuid.New(), ports.Expect{}, ports.NewPatch()); !errors.Is(err, errEmptyPatch) {
		t.Fatalf("expected empty patch error, got %v", err)
	}
}

func TestMemoryGetCaseReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	c := newPendingCase(t, s, "cardiology")
	spec := uuid.New()
	if _, err := s.ConditionalUpdate(context.Background(), c.ID, ports.Expect{},
		ports.NewPatch().SpecialistID(spec).Phase1Plan("plan")); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := s.GetCase(context.Background(), c.ID)
	*got.Phase1Plan = "mutated"
	*got.SpecialistID = uuid.New()

	again, _ := s.GetCase(context.Background(), c.ID)
	if *again.Phase1Plan != "plan" || *again.SpecialistID != spec {
		t.Fatalf("store leaked internal pointers: %+v", again)
	}
}

func TestMemoryListCasesFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	spec := uuid.New()

	open := newPendingCase(t, s, "cardiology")
	otherOpen := newPendingCase(t, s, "dermatology")
	mine := newPendingCase(t, s, "dermatology")
	if _, err := s.ConditionalUpdate(ctx, mine.ID, ports.Expect{Unclaimed: true},
		ports.NewPatch().SpecialistID(spec).Status(model.StatusAwaitingPhase1)); err != nil {
		t.Fatalf("claim: %v", err)
	}

	got, err := s.ListCases(ctx, ports.CaseFilter{
		SpecialistID:  uuid.NullUUID{UUID: spec, Valid: true},
		OpenSpecialty: "cardiology",
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	ids := map[uuid.UUID]bool{}
	for _, c := range got {
		ids[c.ID] = true
	}
	if len(got) != 2 || !ids[open.ID] || !ids[mine.ID] || ids[otherOpen.ID] {
		t.Fatalf("unexpected listing: %v", ids)
	}

	byGP, _ := s.ListCases(ctx, ports.CaseFilter{GPID: uuid.NullUUID{UUID: open.GPID, Valid: true}})
	if len(byGP) != 1 || byGP[0].ID != open.ID {
		t.Fatalf("gp listing wrong: %+v", byGP)
	}
}

func TestMemoryFilesAndMessages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	caseID := uuid.New()
	f := model.CaseFile{ID: uuid.New(), CaseID: caseID, FileName: "ecg.pdf", StoragePath: "cases/" + caseID.String() + "/initial_submission/ecg.pdf", UploadPhase: model.PhaseInitialSubmission}
	if err := s.InsertFile(ctx, f); err != nil {
		t.Fatalf("insert file: %v", err)
	}
	if err := s.InsertFile(ctx, f); !errors.Is(err, errDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	shared := model.CaseFile{ID: uuid.New(), CaseID: uuid.New(), StoragePath: f.StoragePath, UploadPhase: model.PhaseAdditional}
	if err := s.InsertFile(ctx, shared); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected object already recorded, got %v", err)
	}
	files, _ := s.ListFiles(ctx, caseID)
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}
	if err := s.DeleteFile(ctx, f.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetFile(ctx, f.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.DeleteFile(ctx, f.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}

	for _, body := range []string{"first", "second"} {
		if err := s.InsertMessage(ctx, model.CaseMessage{ID: uuid.New(), CaseID: caseID, Content: body}); err != nil {
			t.Fatalf("insert message: %v", err)
		}
	}
	msgs, _ := s.ListMessages(ctx, caseID)
	if len(msgs) != 2 || msgs[0].Content != "first" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}
