// Package casework runs the consultation lifecycle: submission, claiming,
// the phase transitions, the file ledger, signed URLs and the case timeline.
//
// Every operation takes the resolved principal explicitly. Business-rule
// outcomes come back as model sentinel errors; store and storage failures
// come back wrapped in model.ErrUpstream.
package casework

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xscopehub/consultd/internal/authz"
	"github.com/xscopehub/consultd/internal/metrics"
	"github.com/xscopehub/consultd/internal/model"
	"github.com/xscopehub/consultd/ports"
	"github.com/xscopehub/consultd/workflow"
)

// DefaultSignedURLTTL is the validity window of every minted URL.
const DefaultSignedURLTTL = 3600 * time.Second

type Deps struct {
	Cases    ports.CaseRepository
	Profiles ports.ProfileRepository
	Files    ports.FileRepository
	Messages ports.MessageRepository
	Storage  ports.ObjectStorage
	Notifier ports.Notifier

	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	SignedURLTTL time.Duration
	Now          func() time.Time
}

type Service struct {
	cases    ports.CaseRepository
	files    ports.FileRepository
	messages ports.MessageRepository
	storage  ports.ObjectStorage
	notifier ports.Notifier
	guard    *authz.Guard

	logger  *slog.Logger
	metrics *metrics.Metrics
	ttl     time.Duration
	now     func() time.Time
}

func New(d Deps) *Service {
	s := &Service{
		cases:    d.Cases,
		files:    d.Files,
		messages: d.Messages,
		storage:  d.Storage,
		notifier: d.Notifier,
		guard:    authz.New(d.Profiles),
		logger:   d.Logger,
		metrics:  d.Metrics,
		ttl:      d.SignedURLTTL,
		now:      d.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.ttl <= 0 {
		s.ttl = DefaultSignedURLTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Transition is the result of a committed phase change.
type Transition struct {
	CaseID uuid.UUID    `json:"case_id"`
	Event  string       `json:"event"`
	From   model.Status `json:"from"`
	To     model.Status `json:"to"`
	At     time.Time    `json:"at"`
}

func upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", model.ErrUpstream, op, err)
}

func (s *Service) loadCase(ctx context.Context, id uuid.UUID) (model.Case, error) {
	c, err := s.cases.GetCase(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Case{}, model.ErrNotFound
		}
		return model.Case{}, upstream("load case", err)
	}
	return c, nil
}

func (s *Service) loadFile(ctx context.Context, id uuid.UUID) (model.CaseFile, error) {
	f, err := s.files.GetFile(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.CaseFile{}, model.ErrNotFound
		}
		return model.CaseFile{}, upstream("load file", err)
	}
	return f, nil
}

// viewCase loads a case the principal may read. Lacking the relation is
// reported as ErrNotFound so existence does not leak to strangers.
func (s *Service) viewCase(ctx context.Context, p model.Principal, id uuid.UUID) (authz.Actor, model.Case, error) {
	actor, err := s.guard.Authorize(ctx, p, authz.AnyRole, nil)
	if err != nil {
		return authz.Actor{}, model.Case{}, err
	}
	c, err := s.loadCase(ctx, id)
	if err != nil {
		return authz.Actor{}, model.Case{}, err
	}
	if err := authz.Check(actor, &c, authz.Viewer); err != nil {
		return authz.Actor{}, model.Case{}, model.ErrNotFound
	}
	return actor, c, nil
}

// participate loads a case the principal takes part in.
func (s *Service) participate(ctx context.Context, p model.Principal, id uuid.UUID) (authz.Actor, model.Case, error) {
	actor, err := s.guard.Authorize(ctx, p, authz.AnyRole, nil)
	if err != nil {
		return authz.Actor{}, model.Case{}, err
	}
	c, err := s.loadCase(ctx, id)
	if err != nil {
		return authz.Actor{}, model.Case{}, err
	}
	if err := authz.Check(actor, &c, authz.Participant); err != nil {
		return authz.Actor{}, model.Case{}, err
	}
	return actor, c, nil
}

func (s *Service) notify(ctx context.Context, kind string, caseID, actor uuid.UUID, status model.Status, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, ports.Event{
		Kind:    kind,
		CaseID:  caseID,
		Actor:   actor,
		Status:  status,
		At:      s.now().UTC(),
		Payload: payload,
	})
}

// report logs err at a level matching its class and returns it unchanged.
func (s *Service) report(ctx context.Context, op string, id uuid.UUID, err error) error {
	if err == nil {
		return nil
	}
	if model.IsBusiness(err) {
		s.logger.DebugContext(ctx, "operation rejected", "op", op, "id", id, "reason", err)
		return err
	}
	s.logger.ErrorContext(ctx, "operation failed", "op", op, "id", id, "error", err)
	return err
}

// decideErr maps workflow refusals onto the error taxonomy.
func decideErr(err error) error {
	switch {
	case errors.Is(err, workflow.ErrGuard):
		return fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	case errors.Is(err, workflow.ErrIllegal):
		return model.ErrNotFound
	default:
		return err
	}
}
