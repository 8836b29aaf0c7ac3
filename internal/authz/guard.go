// Package authz decides who may read or mutate a case.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/xscopehub/consultd/internal/model"
	"github.com/xscopehub/consultd/ports"
)

// Actor is a principal together with its loaded profile.
type Actor struct {
	model.Principal
	Profile model.Profile
}

func (a Actor) Is(role model.Role) bool { return a.Profile.Role == role }

// Relation is a named predicate between an actor and a case.
type Relation struct {
	Name  string
	check func(a Actor, c *model.Case) bool
	err   error
}

var (
	// Owner: the actor is the case's gp.
	Owner = Relation{Name: "owner", err: model.ErrForbidden, check: func(a Actor, c *model.Case) bool {
		return c.GPID == a.ID
	}}
	// Assigned: the actor is the case's specialist.
	Assigned = Relation{Name: "assigned", err: model.ErrForbidden, check: func(a Actor, c *model.Case) bool {
		return c.AssignedTo(a.ID)
	}}
	// AssignedOrUnclaimed: the actor holds the case or nobody does yet.
	AssignedOrUnclaimed = Relation{Name: "assigned_or_unclaimed", err: model.ErrForbidden, check: func(a Actor, c *model.Case) bool {
		return !c.Claimed() || c.AssignedTo(a.ID)
	}}
	// SpecialtyMatches: the actor's specialty is the one requested by the case.
	SpecialtyMatches = Relation{Name: "specialty_matches", err: model.ErrSpecialtyMismatch, check: func(a Actor, c *model.Case) bool {
		return a.Profile.Specialty != "" && a.Profile.Specialty == c.SpecialtyRequested
	}}
	// Participant: the owning gp or the assigned specialist.
	Participant = Relation{Name: "participant", err: model.ErrForbidden, check: func(a Actor, c *model.Case) bool {
		return c.GPID == a.ID || c.AssignedTo(a.ID)
	}}
	// Viewer: a participant, or a matching specialist previewing an unclaimed case.
	Viewer = Relation{Name: "viewer", err: model.ErrForbidden, check: func(a Actor, c *model.Case) bool {
		if c.GPID == a.ID || c.AssignedTo(a.ID) {
			return true
		}
		return !c.Claimed() && a.Is(model.RoleSpecialist) && a.Profile.Specialty == c.SpecialtyRequested
	}}
)

// AnyRole disables the role check in Authorize.
const AnyRole model.Role = ""

// Guard resolves profiles and evaluates relations. It holds no mutable state.
type Guard struct {
	profiles ports.ProfileRepository
}

func New(profiles ports.ProfileRepository) *Guard {
	return &Guard{profiles: profiles}
}

// Authorize loads the principal's profile, checks its role and, when c is
// non-nil, every relation in order. The first failing relation decides the error.
func (g *Guard) Authorize(ctx context.Context, p model.Principal, role model.Role, c *model.Case, rels ...Relation) (Actor, error) {
	if p.Anonymous() {
		return Actor{}, model.ErrUnauthenticated
	}
	profile, err := g.profiles.GetProfile(ctx, p.ID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return Actor{}, fmt.Errorf("%w: no profile", model.ErrForbidden)
		}
		return Actor{}, fmt.Errorf("%w: load profile: %v", model.ErrUpstream, err)
	}
	a := Actor{Principal: p, Profile: profile}
	if role != AnyRole && profile.Role != role {
		return Actor{}, fmt.Errorf("%w: requires role %s", model.ErrForbidden, role)
	}
	if c == nil {
		return a, nil
	}
	if err := Check(a, c, rels...); err != nil {
		return Actor{}, err
	}
	return a, nil
}

// Check evaluates relations against already-fetched state.
func Check(a Actor, c *model.Case, rels ...Relation) error {
	for _, r := range rels {
		if !r.check(a, c) {
			return fmt.Errorf("%w: %s", r.err, r.Name)
		}
	}
	return nil
}
