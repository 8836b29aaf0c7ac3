package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xscopehub/consultd/internal/model"
	"github.com/xscopehub/consultd/ports"
)

// PgStore implements every repository port over a pgx pool. Each case
// mutation is a single statement so postgres row locking makes it atomic.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const uniqueViolation = "23505"

const caseColumns = `id, gp_id, specialist_id, specialty_requested, status, title, clinical_question,
	patient_summary, phase1_plan, diagnostics_performed, phase2_assessment, phase2_treatment_plan,
	phase2_prognosis, phase2_client_summary, created_at, updated_at`

func scanCase(row pgx.Row) (model.Case, error) {
	var (
		c          model.Case
		specialist uuid.NullUUID
		status     string
	)
	err := row.Scan(&c.ID, &c.GPID, &specialist, &c.SpecialtyRequested, &status, &c.Title,
		&c.ClinicalQuestion, &c.PatientSummary, &c.Phase1Plan, &c.DiagnosticsPerformed,
		&c.Phase2Assessment, &c.Phase2TreatmentPlan, &c.Phase2Prognosis, &c.Phase2ClientSummary,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return model.Case{}, err
	}
	if specialist.Valid {
		id := specialist.UUID
		c.SpecialistID = &id
	}
	c.Status = model.Status(status)
	return c, nil
}

func (s *PgStore) GetCase(ctx context.Context, id uuid.UUID) (model.Case, error) {
	c, err := scanCase(s.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Case{}, model.ErrNotFound
		}
		return model.Case{}, fmt.Errorf("get case: %w", err)
	}
	return c, nil
}

func (s *PgStore) InsertCase(ctx context.Context, c model.Case) error {
	var specialist uuid.NullUUID
	if c.SpecialistID != nil {
		specialist = uuid.NullUUID{UUID: *c.SpecialistID, Valid: true}
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO cases (id, gp_id, specialist_id, specialty_requested, status,
		title, clinical_question, patient_summary, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.GPID, specialist, c.SpecialtyRequested, string(c.Status), c.Title,
		c.ClinicalQuestion, c.PatientSummary, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (s *PgStore) ConditionalUpdate(ctx context.Context, id uuid.UUID, expect ports.Expect, set *ports.Patch) (int64, error) {
	query, args, err := conditionalUpdateSQL(id, expect, set)
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("conditional update: %w", err)
	}
	return tag.RowsAffected(), nil
}

// conditionalUpdateSQL renders set and expect into one UPDATE. Column names
// come only from ports.Column constants; every value is a bind parameter.
func conditionalUpdateSQL(id uuid.UUID, expect ports.Expect, set *ports.Patch) (string, []any, error) {
	if set.Empty() {
		return "", nil, errEmptyPatch
	}
	args := []any{id}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var assigns []string
	for _, a := range set.Assignments() {
		assigns = append(assigns, fmt.Sprintf("%s = %s", a.Column, next(bindValue(a.Value))))
	}
	assigns = append(assigns, "updated_at = now()")

	where := []string{"id = $1"}
	if expect.Status != "" {
		where = append(where, "status = "+next(string(expect.Status)))
	}
	if expect.Unclaimed {
		where = append(where, "specialist_id IS NULL")
	}
	if expect.SpecialistID.Valid {
		where = append(where, "specialist_id = "+next(expect.SpecialistID.UUID))
	}
	if expect.GPID.Valid {
		where = append(where, "gp_id = "+next(expect.GPID.UUID))
	}

	query := "UPDATE cases SET " + strings.Join(assigns, ", ") + " WHERE " + strings.Join(where, " AND ")
	return query, args, nil
}

func bindValue(v any) any {
	if s, ok := v.(model.Status); ok {
		return string(s)
	}
	return v
}

func (s *PgStore) ListCases(ctx context.Context, f ports.CaseFilter) ([]model.Case, error) {
	query, args := listCasesSQL(f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var out []model.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func listCasesSQL(f ports.CaseFilter) (string, []any) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var owned []string
	if f.GPID.Valid {
		owned = append(owned, "gp_id = "+next(f.GPID.UUID))
	}
	if f.SpecialistID.Valid {
		owned = append(owned, "specialist_id = "+next(f.SpecialistID.UUID))
	}
	cond := "TRUE"
	switch {
	case len(owned) > 0:
		cond = strings.Join(owned, " AND ")
	case f.OpenSpecialty != "":
		cond = "FALSE"
	}
	if f.OpenSpecialty != "" {
		cond = "(" + cond + ") OR (specialist_id IS NULL AND specialty_requested = " + next(f.OpenSpecialty) + ")"
	}

	query := `SELECT ` + caseColumns + ` FROM cases WHERE ` + cond + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += " LIMIT " + next(f.Limit)
	}
	return query, args
}

func (s *PgStore) GetProfile(ctx context.Context, id uuid.UUID) (model.Profile, error) {
	var (
		p         model.Profile
		role      string
		specialty *string
	)
	err := s.pool.QueryRow(ctx, `SELECT id, role, specialty, full_name, email FROM profiles WHERE id = $1`, id).
		Scan(&p.ID, &role, &specialty, &p.FullName, &p.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Profile{}, model.ErrNotFound
		}
		return model.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	p.Role = model.Role(role)
	if specialty != nil {
		p.Specialty = *specialty
	}
	return p, nil
}

const fileColumns = `id, case_id, uploader_id, file_name, file_type, storage_object_path, upload_phase, created_at`

func scanFile(row pgx.Row) (model.CaseFile, error) {
	var (
		f     model.CaseFile
		phase string
	)
	if err := row.Scan(&f.ID, &f.CaseID, &f.UploaderID, &f.FileName, &f.FileType, &f.StoragePath, &phase, &f.CreatedAt); err != nil {
		return model.CaseFile{}, err
	}
	f.UploadPhase = model.UploadPhase(phase)
	return f, nil
}

func (s *PgStore) InsertFile(ctx context.Context, f model.CaseFile) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO case_files (id, case_id, uploader_id, file_name, file_type,
		storage_object_path, upload_phase, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		f.ID, f.CaseID, f.UploaderID, f.FileName, f.FileType, f.StoragePath, string(f.UploadPhase), f.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "case_files_storage_object_path_key" {
		return errObjectTaken
	}
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (s *PgStore) GetFile(ctx context.Context, id uuid.UUID) (model.CaseFile, error) {
	f, err := scanFile(s.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM case_files WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CaseFile{}, model.ErrNotFound
		}
		return model.CaseFile{}, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

func (s *PgStore) ListFiles(ctx context.Context, caseID uuid.UUID) ([]model.CaseFile, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+fileColumns+` FROM case_files WHERE case_id = $1 ORDER BY created_at`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []model.CaseFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PgStore) DeleteFile(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM case_files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *PgStore) InsertMessage(ctx context.Context, m model.CaseMessage) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO case_messages (id, case_id, sender_id, content, message_type, is_internal, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, m.ID, m.CaseID, m.SenderID, m.Content, m.MessageType, m.IsInternal, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PgStore) ListMessages(ctx context.Context, caseID uuid.UUID) ([]model.CaseMessage, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, case_id, sender_id, content, message_type, is_internal, created_at
		FROM case_messages WHERE case_id = $1 ORDER BY created_at`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []model.CaseMessage
	for rows.Next() {
		var m model.CaseMessage
		if err := rows.Scan(&m.ID, &m.CaseID, &m.SenderID, &m.Content, &m.MessageType, &m.IsInternal, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
