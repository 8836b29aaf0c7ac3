package casework

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/xscopehub/consultd/internal/authz"
	"github.com/xscopehub/consultd/internal/model"
	"github.com/xscopehub/consultd/ports"
	"github.com/xscopehub/consultd/workflow"
)

// NewCase is the gp's submission.
type NewCase struct {
	SpecialtyRequested string `json:"specialty_requested"`
	Title              string `json:"title"`
	ClinicalQuestion   string `json:"clinical_question"`
	PatientSummary     string `json:"patient_summary"`
}

// CreateCase inserts an unclaimed case owned by the calling gp.
func (s *Service) CreateCase(ctx context.Context, p model.Principal, in NewCase) (model.Case, error) {
	actor, err := s.guard.Authorize(ctx, p, model.RoleGP, nil)
	if err != nil {
		return model.Case{}, s.report(ctx, "create_case", uuid.Nil, err)
	}
	in.SpecialtyRequested = strings.TrimSpace(in.SpecialtyRequested)
	in.Title = strings.TrimSpace(in.Title)
	if in.SpecialtyRequested == "" || in.Title == "" {
		return model.Case{}, fmt.Errorf("%w: specialty_requested and title are required", model.ErrInvalidInput)
	}

	now := s.now().UTC()
	c := model.Case{
		ID:                 uuid.New(),
		GPID:               actor.ID,
		SpecialtyRequested: in.SpecialtyRequested,
		Status:             model.StatusPendingAssignment,
		Title:              in.Title,
		ClinicalQuestion:   in.ClinicalQuestion,
		PatientSummary:     in.PatientSummary,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.cases.InsertCase(ctx, c); err != nil {
		return model.Case{}, s.report(ctx, "create_case", c.ID, upstream("insert case", err))
	}
	s.metrics.Transition("create", "ok")
	s.notify(ctx, ports.EventCaseSubmitted, c.ID, actor.ID, c.Status, map[string]any{
		"title":               c.Title,
		"specialty_requested": c.SpecialtyRequested,
	})
	return c, nil
}

// SubmitDiagnosticPlan moves awaiting_phase1 to awaiting_diagnostics for the
// assigned specialist.
func (s *Service) SubmitDiagnosticPlan(ctx context.Context, p model.Principal, caseID uuid.UUID, plan string) (Transition, error) {
	return s.advance(ctx, p, caseID, step{
		event: workflow.ESubmitPlan,
		kind:  ports.EventPlanSubmitted,
		wctx:  workflow.Context{Plan: plan},
		patch: func(set *ports.Patch) { set.Phase1Plan(plan) },
	})
}

// SubmitDiagnostics moves awaiting_diagnostics to awaiting_phase2 for the
// owning gp. Nil or blank notes leave the stored diagnostics untouched.
func (s *Service) SubmitDiagnostics(ctx context.Context, p model.Principal, caseID uuid.UUID, notes *string) (Transition, error) {
	return s.advance(ctx, p, caseID, step{
		event: workflow.ESubmitDiagnostics,
		kind:  ports.EventDiagnosticsDone,
		wctx:  workflow.Context{Notes: notes},
		patch: func(set *ports.Patch) {
			if notes != nil && strings.TrimSpace(*notes) != "" {
				set.DiagnosticsPerformed(*notes)
			}
		},
	})
}

// SubmitFinalReport completes the case for the assigned specialist.
func (s *Service) SubmitFinalReport(ctx context.Context, p model.Principal, caseID uuid.UUID, r model.FinalReport) (Transition, error) {
	return s.advance(ctx, p, caseID, step{
		event: workflow.ESubmitFinalReport,
		kind:  ports.EventFinalReportDone,
		wctx:  workflow.Context{Report: r},
		patch: func(set *ports.Patch) { set.FinalReport(r) },
	})
}

type step struct {
	event workflow.Event
	kind  string
	wctx  workflow.Context
	patch func(*ports.Patch)
}

// advance runs one post-claim transition as a single conditional update on
// id, source status and owner. Zero rows covers a missing case, a foreign
// case and a transition that already happened; all read as ErrNotFound.
func (s *Service) advance(ctx context.Context, p model.Principal, caseID uuid.UUID, st step) (Transition, error) {
	op := string(st.event)
	role, _ := workflow.Actor(st.event)
	actor, err := s.guard.Authorize(ctx, p, role, nil)
	if err != nil {
		s.metrics.Transition(op, "rejected")
		return Transition{}, s.report(ctx, op, caseID, err)
	}

	from, _ := workflow.Source(st.event)
	st.wctx.Now = s.now().UTC()
	st.wctx.Actor = actor.ID.String()
	intent, err := workflow.Decide(from, st.event, st.wctx, caseID.String())
	if err != nil {
		s.metrics.Transition(op, "rejected")
		return Transition{}, s.report(ctx, op, caseID, decideErr(err))
	}

	set := ports.NewPatch().Status(intent.To)
	st.patch(set)
	rows, err := s.cases.ConditionalUpdate(ctx, caseID, ownedBy(actor, intent.From), set)
	if err != nil {
		s.metrics.Transition(op, "error")
		return Transition{}, s.report(ctx, op, caseID, upstream("conditional update", err))
	}
	if rows == 0 {
		s.metrics.Transition(op, "not_found")
		return Transition{}, s.report(ctx, op, caseID, model.ErrNotFound)
	}

	s.metrics.Transition(op, "ok")
	s.notify(ctx, st.kind, caseID, actor.ID, intent.To, intentPayload(intent))
	return Transition{CaseID: caseID, Event: op, From: intent.From, To: intent.To, At: intent.Timeline.At}, nil
}

// ownedBy is the store-side predicate for a transition fired by actor.
func ownedBy(actor authz.Actor, from model.Status) ports.Expect {
	expect := ports.Expect{Status: from}
	switch actor.Profile.Role {
	case model.RoleGP:
		expect.GPID = uuidValue(actor.ID)
	default:
		expect.SpecialistID = uuidValue(actor.ID)
	}
	return expect
}

func uuidValue(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: true}
}

func intentPayload(intent workflow.TransitionIntent) map[string]any {
	if len(intent.Messages) == 0 {
		return nil
	}
	payload := make(map[string]any, len(intent.Messages[0].Payload)+1)
	for k, v := range intent.Messages[0].Payload {
		payload[k] = v
	}
	payload["topic"] = intent.Messages[0].Topic
	return payload
}
