package ports

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/xscopehub/consultd/internal/model"
)

// CaseFilter selects cases for listing. Zero fields are ignored; set fields are ANDed
// except OpenSpecialty, which is ORed with the assignment filters.
type CaseFilter struct {
	GPID          uuid.NullUUID
	SpecialistID  uuid.NullUUID
	OpenSpecialty string
	Limit         int
}

// CaseRepository is the sole gateway to persisted case rows.
type CaseRepository interface {
	GetCase(ctx context.Context, id uuid.UUID) (model.Case, error)
	InsertCase(ctx context.Context, c model.Case) error
	// ConditionalUpdate applies set only if every predicate in expect still holds
	// at write time and returns the number of rows affected.
	ConditionalUpdate(ctx context.Context, id uuid.UUID, expect Expect, set *Patch) (int64, error)
	ListCases(ctx context.Context, f CaseFilter) ([]model.Case, error)
}

type ProfileRepository interface {
	GetProfile(ctx context.Context, id uuid.UUID) (model.Profile, error)
}

type FileRepository interface {
	InsertFile(ctx context.Context, f model.CaseFile) error
	GetFile(ctx context.Context, id uuid.UUID) (model.CaseFile, error)
	ListFiles(ctx context.Context, caseID uuid.UUID) ([]model.CaseFile, error)
	DeleteFile(ctx context.Context, id uuid.UUID) error
}

type MessageRepository interface {
	InsertMessage(ctx context.Context, m model.CaseMessage) error
	ListMessages(ctx context.Context, caseID uuid.UUID) ([]model.CaseMessage, error)
}

// ObjectStorage holds uploaded binaries.
type ObjectStorage interface {
	Put(ctx context.Context, path string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, path string) error
	SignURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// Event is handed to the notifier after a committed change.
type Event struct {
	Kind    string         `json:"kind"`
	CaseID  uuid.UUID      `json:"case_id"`
	Actor   uuid.UUID      `json:"actor"`
	Status  model.Status   `json:"status,omitempty"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

const (
	EventCaseSubmitted   = "case_submitted"
	EventCaseClaimed     = "case_claimed"
	EventPlanSubmitted   = "diagnostic_plan_submitted"
	EventDiagnosticsDone = "diagnostics_submitted"
	EventFinalReportDone = "final_report_submitted"
	EventMessagePosted   = "message_posted"
	EventFileUploaded    = "file_uploaded"
)

// Notifier is best-effort: implementations must not block the caller on delivery
// and have no way to report failure back.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}
