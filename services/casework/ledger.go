package casework

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/xscopehub/consultd/internal/authz"
	"github.com/xscopehub/consultd/internal/model"
	"github.com/xscopehub/consultd/ports"
)

// FileMeta describes an artifact being attached to a case.
type FileMeta struct {
	FileName    string            `json:"file_name"`
	FileType    string            `json:"file_type"`
	UploadPhase model.UploadPhase `json:"upload_phase"`
}

func (m FileMeta) validate() error {
	if strings.TrimSpace(m.FileName) == "" {
		return fmt.Errorf("%w: file_name is required", model.ErrInvalidInput)
	}
	if !m.UploadPhase.Valid() {
		return fmt.Errorf("%w: unknown upload_phase %q", model.ErrInvalidInput, m.UploadPhase)
	}
	return nil
}

// ObjectPath is where Store places a file: cases/{case}/{phase}/{uuid}-{name}.
func ObjectPath(caseID uuid.UUID, phase model.UploadPhase, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" {
		name = "file"
	}
	return fmt.Sprintf("%s%s-%s", objectPrefix(caseID, phase), uuid.New(), name)
}

func objectPrefix(caseID uuid.UUID, phase model.UploadPhase) string {
	return fmt.Sprintf("cases/%s/%s/", caseID, phase)
}

// checkObjectPath accepts only a single object directly under the case and
// phase prefix ObjectPath generates, so a record never points into another
// case.
func checkObjectPath(caseID uuid.UUID, phase model.UploadPhase, p string) error {
	prefix := objectPrefix(caseID, phase)
	name := strings.TrimPrefix(p, prefix)
	if path.Clean(p) != p || name == p || name == "" || strings.Contains(name, "/") || name == ".." {
		return fmt.Errorf("%w: storage path must be an object under %s", model.ErrInvalidInput, prefix)
	}
	return nil
}

// Upload records a binary the caller already placed at storagePath. No
// transaction spans the two stores; a binary whose record never lands is an
// unreferenced orphan.
func (s *Service) Upload(ctx context.Context, p model.Principal, caseID uuid.UUID, meta FileMeta, storagePath string) (model.CaseFile, error) {
	actor, _, err := s.participate(ctx, p, caseID)
	if err != nil {
		return model.CaseFile{}, s.report(ctx, "upload", caseID, err)
	}
	if err := meta.validate(); err != nil {
		return model.CaseFile{}, err
	}
	if strings.TrimSpace(storagePath) == "" {
		return model.CaseFile{}, fmt.Errorf("%w: storage path is required", model.ErrInvalidInput)
	}
	if err := checkObjectPath(caseID, meta.UploadPhase, storagePath); err != nil {
		return model.CaseFile{}, err
	}
	f, err := s.record(ctx, actor, caseID, meta, storagePath)
	return f, s.report(ctx, "upload", caseID, err)
}

// Store streams body to object storage and then records it.
func (s *Service) Store(ctx context.Context, p model.Principal, caseID uuid.UUID, meta FileMeta, body io.Reader, size int64) (model.CaseFile, error) {
	actor, _, err := s.participate(ctx, p, caseID)
	if err != nil {
		return model.CaseFile{}, s.report(ctx, "store", caseID, err)
	}
	if err := meta.validate(); err != nil {
		return model.CaseFile{}, err
	}

	objectPath := ObjectPath(caseID, meta.UploadPhase, meta.FileName)
	if err := s.storage.Put(ctx, objectPath, body, size, meta.FileType); err != nil {
		s.metrics.File("put", "error")
		return model.CaseFile{}, s.report(ctx, "store", caseID, upstream("put object", err))
	}
	s.metrics.File("put", "ok")

	f, err := s.record(ctx, actor, caseID, meta, objectPath)
	return f, s.report(ctx, "store", caseID, err)
}

func (s *Service) record(ctx context.Context, actor authz.Actor, caseID uuid.UUID, meta FileMeta, storagePath string) (model.CaseFile, error) {
	f := model.CaseFile{
		ID:          uuid.New(),
		CaseID:      caseID,
		UploaderID:  actor.ID,
		FileName:    meta.FileName,
		FileType:    meta.FileType,
		StoragePath: storagePath,
		UploadPhase: meta.UploadPhase,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.files.InsertFile(ctx, f); err != nil {
		s.metrics.File("record", "error")
		if errors.Is(err, model.ErrInvalidInput) {
			return model.CaseFile{}, err
		}
		return model.CaseFile{}, upstream("insert file", err)
	}
	s.metrics.File("record", "ok")
	s.notify(ctx, ports.EventFileUploaded, caseID, actor.ID, "", map[string]any{
		"file_id":      f.ID.String(),
		"file_name":    f.FileName,
		"upload_phase": string(f.UploadPhase),
	})
	return f, nil
}

// Delete removes a file for its uploader while they still take part in the
// case. The storage object goes first: if that fails the record stays and
// ErrStorage is returned. If the record then fails to go, ErrPartialFailure
// reports a record pointing at a deleted object; nothing heals it.
func (s *Service) Delete(ctx context.Context, p model.Principal, fileID uuid.UUID) error {
	const op = "delete_file"
	actor, err := s.guard.Authorize(ctx, p, authz.AnyRole, nil)
	if err != nil {
		return s.report(ctx, op, fileID, err)
	}
	f, err := s.loadFile(ctx, fileID)
	if err != nil {
		return s.report(ctx, op, fileID, err)
	}
	c, err := s.loadCase(ctx, f.CaseID)
	if err != nil {
		return s.report(ctx, op, fileID, err)
	}
	if err := authz.Check(actor, &c, authz.Participant); err != nil {
		return s.report(ctx, op, fileID, err)
	}
	if f.UploaderID != actor.ID {
		return s.report(ctx, op, fileID, fmt.Errorf("%w: only the uploader may delete a file", model.ErrForbidden))
	}
	return s.report(ctx, op, fileID, s.deleteFile(ctx, f))
}

func (s *Service) deleteFile(ctx context.Context, f model.CaseFile) error {
	if err := s.storage.Delete(ctx, f.StoragePath); err != nil {
		s.metrics.File("delete", "storage_error")
		return fmt.Errorf("%w: %w", model.ErrStorage, err)
	}
	if err := s.files.DeleteFile(ctx, f.ID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.metrics.File("delete", "ok")
			return nil
		}
		s.metrics.File("delete", "partial")
		return fmt.Errorf("%w: %w", model.ErrPartialFailure, err)
	}
	s.metrics.File("delete", "ok")
	return nil
}

// ListFiles returns the files of a case the principal may view.
func (s *Service) ListFiles(ctx context.Context, p model.Principal, caseID uuid.UUID) ([]model.CaseFile, error) {
	_, _, err := s.viewCase(ctx, p, caseID)
	if err != nil {
		return nil, s.report(ctx, "list_files", caseID, err)
	}
	files, err := s.files.ListFiles(ctx, caseID)
	if err != nil {
		return nil, s.report(ctx, "list_files", caseID, upstream("list files", err))
	}
	return files, nil
}
