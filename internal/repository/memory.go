package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xscopehub/consultd/internal/model"
	"github.com/xscopehub/consultd/ports"
)

// MemoryStore keeps every table in process. A single mutex stands in for the
// row-level atomicity a relational store gives each conditional update.
type MemoryStore struct {
	mu       sync.RWMutex
	cases    map[uuid.UUID]model.Case
	profiles map[uuid.UUID]model.Profile
	files    map[uuid.UUID]model.CaseFile
	messages map[uuid.UUID][]model.CaseMessage
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases:    make(map[uuid.UUID]model.Case),
		profiles: make(map[uuid.UUID]model.Profile),
		files:    make(map[uuid.UUID]model.CaseFile),
		messages: make(map[uuid.UUID][]model.CaseMessage),
		now:      time.Now,
	}
}

// PutProfile seeds a profile; profiles are owned by the identity domain.
func (s *MemoryStore) PutProfile(p model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

func (s *MemoryStore) GetProfile(_ context.Context, id uuid.UUID) (model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return model.Profile{}, model.ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) GetCase(_ context.Context, id uuid.UUID) (model.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return model.Case{}, model.ErrNotFound
	}
	return cloneCase(c), nil
}

func (s *MemoryStore) InsertCase(_ context.Context, c model.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[c.ID]; ok {
		return errDuplicate
	}
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.cases[c.ID] = cloneCase(c)
	return nil
}

func (s *MemoryStore) ConditionalUpdate(_ context.Context, id uuid.UUID, expect ports.Expect, set *ports.Patch) (int64, error) {
	if set.Empty() {
		return 0, errEmptyPatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok || !expect.Matches(c) {
		return 0, nil
	}
	set.Apply(&c)
	c.UpdatedAt = s.now()
	s.cases[id] = c
	return 1, nil
}

func (s *MemoryStore) ListCases(_ context.Context, f ports.CaseFilter) ([]model.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Case
	for _, c := range s.cases {
		if matchesFilter(c, f) {
			out = append(out, cloneCase(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matchesFilter(c model.Case, f ports.CaseFilter) bool {
	owned := true
	if f.GPID.Valid && c.GPID != f.GPID.UUID {
		owned = false
	}
	if f.SpecialistID.Valid && !c.AssignedTo(f.SpecialistID.UUID) {
		owned = false
	}
	if !f.GPID.Valid && !f.SpecialistID.Valid && f.OpenSpecialty != "" {
		owned = false
	}
	open := f.OpenSpecialty != "" && !c.Claimed() && c.SpecialtyRequested == f.OpenSpecialty
	return owned || open
}

func (s *MemoryStore) InsertFile(_ context.Context, f model.CaseFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[f.ID]; ok {
		return errDuplicate
	}
	for _, other := range s.files {
		if other.StoragePath == f.StoragePath {
			return errObjectTaken
		}
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now()
	}
	s.files[f.ID] = f
	return nil
}

func (s *MemoryStore) GetFile(_ context.Context, id uuid.UUID) (model.CaseFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return model.CaseFile{}, model.ErrNotFound
	}
	return f, nil
}

func (s *MemoryStore) ListFiles(_ context.Context, caseID uuid.UUID) ([]model.CaseFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.CaseFile
	for _, f := range s.files {
		if f.CaseID == caseID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteFile(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[id]; !ok {
		return model.ErrNotFound
	}
	delete(s.files, id)
	return nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, m model.CaseMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.messages[m.CaseID] = append(s.messages[m.CaseID], m)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, caseID uuid.UUID) ([]model.CaseMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[caseID]
	out := make([]model.CaseMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func cloneCase(c model.Case) model.Case {
	if c.SpecialistID != nil {
		id := *c.SpecialistID
		c.SpecialistID = &id
	}
	for _, p := range []**string{&c.Phase1Plan, &c.DiagnosticsPerformed, &c.Phase2Assessment, &c.Phase2TreatmentPlan, &c.Phase2Prognosis, &c.Phase2ClientSummary} {
		if *p != nil {
			v := **p
			*p = &v
		}
	}
	return c
}
