package casework

import (
	"context"

	"github.com/google/uuid"

	"github.com/xscopehub/consultd/internal/authz"
	"github.com/xscopehub/consultd/internal/model"
	"github.com/xscopehub/consultd/ports"
	"github.com/xscopehub/consultd/workflow"
)

// Claim attaches the calling specialist to an unassigned case.
//
// The snapshot checks (specialty, unclaimed) only give early, precise
// errors. Exclusivity comes from the conditional update, which requires
// specialist_id to still be null at the store; losing that race is
// ErrAlreadyAssigned and is never retried.
func (s *Service) Claim(ctx context.Context, p model.Principal, caseID uuid.UUID) (Transition, error) {
	const op = "claim"

	actor, err := s.guard.Authorize(ctx, p, model.RoleSpecialist, nil)
	if err != nil {
		s.metrics.Claim("rejected")
		return Transition{}, s.report(ctx, op, caseID, err)
	}
	c, err := s.loadCase(ctx, caseID)
	if err != nil {
		s.metrics.Claim("not_found")
		return Transition{}, s.report(ctx, op, caseID, err)
	}
	if err := authz.Check(actor, &c, authz.SpecialtyMatches); err != nil {
		s.metrics.Claim("specialty_mismatch")
		return Transition{}, s.report(ctx, op, caseID, model.ErrSpecialtyMismatch)
	}
	if c.Claimed() {
		s.metrics.Claim("already_assigned")
		return Transition{}, s.report(ctx, op, caseID, model.ErrAlreadyAssigned)
	}

	intent, err := workflow.Decide(c.Status, workflow.EClaim, workflow.Context{
		Now:   s.now().UTC(),
		Actor: actor.ID.String(),
	}, caseID.String())
	if err != nil {
		s.metrics.Claim("rejected")
		return Transition{}, s.report(ctx, op, caseID, decideErr(err))
	}

	set := ports.NewPatch().SpecialistID(actor.ID).Status(intent.To)
	rows, err := s.cases.ConditionalUpdate(ctx, caseID, ports.Expect{Status: intent.From, Unclaimed: true}, set)
	if err != nil {
		s.metrics.Claim("error")
		return Transition{}, s.report(ctx, op, caseID, upstream("conditional update", err))
	}
	if rows == 0 {
		s.metrics.Claim("already_assigned")
		return Transition{}, s.report(ctx, op, caseID, model.ErrAlreadyAssigned)
	}

	s.metrics.Claim("won")
	payload := intentPayload(intent)
	payload["specialty"] = c.SpecialtyRequested
	payload["gp_id"] = c.GPID.String()
	s.notify(ctx, ports.EventCaseClaimed, caseID, actor.ID, intent.To, payload)
	return Transition{CaseID: caseID, Event: op, From: intent.From, To: intent.To, At: intent.Timeline.At}, nil
}
