package ports

import (
	"github.com/google/uuid"

	"github.com/xscopehub/consultd/internal/model"
)

// Column names a mutable case column.
type Column string

const (
	ColSpecialistID         Column = "specialist_id"
	ColStatus               Column = "status"
	ColPhase1Plan           Column = "phase1_plan"
	ColDiagnosticsPerformed Column = "diagnostics_performed"
	ColPhase2Assessment     Column = "phase2_assessment"
	ColPhase2TreatmentPlan  Column = "phase2_treatment_plan"
	ColPhase2Prognosis      Column = "phase2_prognosis"
	ColPhase2ClientSummary  Column = "phase2_client_summary"
)

// Assignment is one column = value pair of a Patch.
type Assignment struct {
	Column Column
	Value  any
}

// Patch is a partial update carrying only the columns a transition changes.
// Build it with the typed setters; the zero value is an empty patch.
type Patch struct {
	set []Assignment
}

func NewPatch() *Patch { return &Patch{} }

func (p *Patch) put(col Column, v any) *Patch {
	for i := range p.set {
		if p.set[i].Column == col {
			p.set[i].Value = v
			return p
		}
	}
	p.set = append(p.set, Assignment{Column: col, Value: v})
	return p
}

func (p *Patch) Status(s model.Status) *Patch { return p.put(ColStatus, s) }

func (p *Patch) SpecialistID(id uuid.UUID) *Patch { return p.put(ColSpecialistID, id) }

func (p *Patch) Phase1Plan(plan string) *Patch { return p.put(ColPhase1Plan, plan) }

func (p *Patch) DiagnosticsPerformed(notes string) *Patch {
	return p.put(ColDiagnosticsPerformed, notes)
}

func (p *Patch) FinalReport(r model.FinalReport) *Patch {
	p.put(ColPhase2Assessment, r.Assessment)
	p.put(ColPhase2TreatmentPlan, r.TreatmentPlan)
	p.put(ColPhase2Prognosis, r.Prognosis)
	return p.put(ColPhase2ClientSummary, r.ClientSummary)
}

// Assignments returns the pairs in the order they were first set.
func (p *Patch) Assignments() []Assignment {
	if p == nil {
		return nil
	}
	out := make([]Assignment, len(p.set))
	copy(out, p.set)
	return out
}

func (p *Patch) Empty() bool { return p == nil || len(p.set) == 0 }

// Apply writes the patch onto c. Stores without native partial updates use it.
func (p *Patch) Apply(c *model.Case) {
	if p == nil {
		return
	}
	for _, a := range p.set {
		switch a.Column {
		case ColStatus:
			c.Status = a.Value.(model.Status)
		case ColSpecialistID:
			id := a.Value.(uuid.UUID)
			c.SpecialistID = &id
		case ColPhase1Plan:
			c.Phase1Plan = strPtr(a.Value)
		case ColDiagnosticsPerformed:
			c.DiagnosticsPerformed = strPtr(a.Value)
		case ColPhase2Assessment:
			c.Phase2Assessment = strPtr(a.Value)
		case ColPhase2TreatmentPlan:
			c.Phase2TreatmentPlan = strPtr(a.Value)
		case ColPhase2Prognosis:
			c.Phase2Prognosis = strPtr(a.Value)
		case ColPhase2ClientSummary:
			c.Phase2ClientSummary = strPtr(a.Value)
		}
	}
}

func strPtr(v any) *string {
	s := v.(string)
	return &s
}

// Expect is the predicate a conditional update must still satisfy at the store.
type Expect struct {
	Status       model.Status
	SpecialistID uuid.NullUUID
	Unclaimed    bool
	GPID         uuid.NullUUID
}

// Matches evaluates the predicate against an in-memory row.
func (e Expect) Matches(c model.Case) bool {
	if e.Status != "" && c.Status != e.Status {
		return false
	}
	if e.Unclaimed && c.SpecialistID != nil {
		return false
	}
	if e.SpecialistID.Valid && !c.AssignedTo(e.SpecialistID.UUID) {
		return false
	}
	if e.GPID.Valid && c.GPID != e.GPID.UUID {
		return false
	}
	return true
}
