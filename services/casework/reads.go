package casework

import (
	"context"

	"github.com/google/uuid"

	"github.com/xscopehub/consultd/internal/authz"
	"github.com/xscopehub/consultd/internal/model"
	"github.com/xscopehub/consultd/ports"
)

const listLimit = 200

// GetCase returns a case the principal may view.
func (s *Service) GetCase(ctx context.Context, p model.Principal, caseID uuid.UUID) (model.Case, error) {
	_, c, err := s.viewCase(ctx, p, caseID)
	if err != nil {
		return model.Case{}, s.report(ctx, "get_case", caseID, err)
	}
	return c, nil
}

// ListCases returns a gp's own cases, or a specialist's assigned cases
// together with the open cases of their specialty.
func (s *Service) ListCases(ctx context.Context, p model.Principal) ([]model.Case, error) {
	actor, err := s.guard.Authorize(ctx, p, authz.AnyRole, nil)
	if err != nil {
		return nil, s.report(ctx, "list_cases", uuid.Nil, err)
	}

	f := ports.CaseFilter{Limit: listLimit}
	switch actor.Profile.Role {
	case model.RoleGP:
		f.GPID = uuidValue(actor.ID)
	case model.RoleSpecialist:
		f.SpecialistID = uuidValue(actor.ID)
		f.OpenSpecialty = actor.Profile.Specialty
	default:
		return nil, model.ErrForbidden
	}

	cases, err := s.cases.ListCases(ctx, f)
	if err != nil {
		return nil, s.report(ctx, "list_cases", uuid.Nil, upstream("list cases", err))
	}
	if cases == nil {
		cases = []model.Case{}
	}
	return cases, nil
}
