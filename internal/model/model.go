package model

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle phase of a case. It only ever moves forward.
type Status string

const (
	StatusPendingAssignment   Status = "pending_assignment"
	StatusAwaitingPhase1      Status = "awaiting_phase1"
	StatusAwaitingDiagnostics Status = "awaiting_diagnostics"
	StatusAwaitingPhase2      Status = "awaiting_phase2"
	StatusCompleted           Status = "completed"
)

var statusRank = map[Status]int{
	StatusPendingAssignment:   0,
	StatusAwaitingPhase1:      1,
	StatusAwaitingDiagnostics: 2,
	StatusAwaitingPhase2:      3,
	StatusCompleted:           4,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Before reports whether s precedes other in the lifecycle.
func (s Status) Before(other Status) bool {
	return statusRank[s] < statusRank[other]
}

type Role string

const (
	RoleGP         Role = "gp"
	RoleSpecialist Role = "specialist"
)

type UploadPhase string

const (
	PhaseInitialSubmission UploadPhase = "initial_submission"
	PhaseDiagnosticResults UploadPhase = "diagnostic_results"
	PhaseSpecialistReport  UploadPhase = "specialist_report"
	PhaseAdditional        UploadPhase = "additional"
)

// Valid reports whether p is a known upload phase.
func (p UploadPhase) Valid() bool {
	switch p {
	case PhaseInitialSubmission, PhaseDiagnosticResults, PhaseSpecialistReport, PhaseAdditional:
		return true
	}
	return false
}

// Case is the aggregate root of a consultation.
type Case struct {
	ID                 uuid.UUID  `json:"id"`
	GPID               uuid.UUID  `json:"gp_id"`
	SpecialistID       *uuid.UUID `json:"specialist_id"`
	SpecialtyRequested string     `json:"specialty_requested"`
	Status             Status     `json:"status"`

	Title            string `json:"title"`
	ClinicalQuestion string `json:"clinical_question,omitempty"`
	PatientSummary   string `json:"patient_summary,omitempty"`

	Phase1Plan           *string `json:"phase1_plan,omitempty"`
	DiagnosticsPerformed *string `json:"diagnostics_performed,omitempty"`
	Phase2Assessment     *string `json:"phase2_assessment,omitempty"`
	Phase2TreatmentPlan  *string `json:"phase2_treatment_plan,omitempty"`
	Phase2Prognosis      *string `json:"phase2_prognosis,omitempty"`
	Phase2ClientSummary  *string `json:"phase2_client_summary,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Claimed reports whether a specialist holds the case.
func (c *Case) Claimed() bool {
	return c.SpecialistID != nil
}

// AssignedTo reports whether id is the assigned specialist.
func (c *Case) AssignedTo(id uuid.UUID) bool {
	return c.SpecialistID != nil && *c.SpecialistID == id
}

// FinalReport is the phase-2 deliverable written by the assigned specialist.
type FinalReport struct {
	Assessment    string `json:"assessment"`
	TreatmentPlan string `json:"treatment_plan"`
	Prognosis     string `json:"prognosis"`
	ClientSummary string `json:"client_summary"`
}

// Profile is principal metadata owned by the identity domain.
type Profile struct {
	ID        uuid.UUID `json:"id"`
	Role      Role      `json:"role"`
	Specialty string    `json:"specialty,omitempty"`
	FullName  string    `json:"full_name,omitempty"`
	Email     string    `json:"email,omitempty"`
}

// CaseFile records one uploaded artifact. StoragePath points into object storage.
type CaseFile struct {
	ID          uuid.UUID   `json:"id"`
	CaseID      uuid.UUID   `json:"case_id"`
	UploaderID  uuid.UUID   `json:"uploader_id"`
	FileName    string      `json:"file_name"`
	FileType    string      `json:"file_type"`
	StoragePath string      `json:"storage_object_path"`
	UploadPhase UploadPhase `json:"upload_phase"`
	CreatedAt   time.Time   `json:"created_at"`
}

const MessageTypeComment = "comment"

// CaseMessage is an append-only timeline entry.
type CaseMessage struct {
	ID          uuid.UUID `json:"id"`
	CaseID      uuid.UUID `json:"case_id"`
	SenderID    uuid.UUID `json:"sender_id"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	IsInternal  bool      `json:"is_internal"`
	CreatedAt   time.Time `json:"created_at"`
}

// Principal is the authenticated caller. The zero value is anonymous.
type Principal struct {
	ID uuid.UUID
}

// Anonymous reports whether no identity was resolved.
func (p Principal) Anonymous() bool {
	return p.ID == uuid.Nil
}
