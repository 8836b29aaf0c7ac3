package workflow

import (
	"errors"
	"strings"
	"time"

	"github.com/xscopehub/consultd/internal/model"
)

type State = model.Status
type Event string

const (
	EClaim             Event = "claim"
	ESubmitPlan        Event = "submit_diagnostic_plan"
	ESubmitDiagnostics Event = "submit_diagnostics"
	ESubmitFinalReport Event = "submit_final_report"
)

// TopicTransition carries every committed phase change.
const TopicTransition = "evt.consult.case.transition.v1"

var ErrIllegal = errors.New("illegal transition")
var ErrGuard = errors.New("guard not satisfied")

var table = map[State]map[Event]State{
	model.StatusPendingAssignment:   {EClaim: model.StatusAwaitingPhase1},
	model.StatusAwaitingPhase1:      {ESubmitPlan: model.StatusAwaitingDiagnostics},
	model.StatusAwaitingDiagnostics: {ESubmitDiagnostics: model.StatusAwaitingPhase2},
	model.StatusAwaitingPhase2:      {ESubmitFinalReport: model.StatusCompleted},
	model.StatusCompleted:           {},
}

// Actor roles allowed to fire each event. Ownership is checked by the caller.
var actors = map[Event]model.Role{
	EClaim:             model.RoleSpecialist,
	ESubmitPlan:        model.RoleSpecialist,
	ESubmitDiagnostics: model.RoleGP,
	ESubmitFinalReport: model.RoleSpecialist,
}

type Context struct {
	Now    time.Time
	Actor  string
	Plan   string
	Report model.FinalReport
	Notes  *string
	Extras map[string]any
}

type TransitionIntent struct {
	From     State
	To       State
	Event    Event
	Timeline TimelineEntry
	Messages []OutboxMsg
}

type TimelineEntry struct {
	At     time.Time
	Actor  string
	Event  string
	Extras map[string]any
}

type OutboxMsg struct {
	Topic   string
	Payload map[string]any
}

type guardFn func(ctx Context) error

func nonBlank(s string) bool { return strings.TrimSpace(s) != "" }

var guards = map[State]map[Event]guardFn{
	model.StatusAwaitingPhase1: {
		ESubmitPlan: func(c Context) error {
			if !nonBlank(c.Plan) {
				return ErrGuard
			}
			return nil
		},
	},
	model.StatusAwaitingPhase2: {
		ESubmitFinalReport: func(c Context) error {
			r := c.Report
			if !nonBlank(r.Assessment) || !nonBlank(r.TreatmentPlan) || !nonBlank(r.Prognosis) || !nonBlank(r.ClientSummary) {
				return ErrGuard
			}
			return nil
		},
	},
}

// Source returns the only state from which ev may fire.
func Source(ev Event) (State, bool) {
	for from, edges := range table {
		if _, ok := edges[ev]; ok {
			return from, true
		}
	}
	return "", false
}

// Actor returns the role required to fire ev.
func Actor(ev Event) (model.Role, bool) {
	r, ok := actors[ev]
	return r, ok
}

// Terminal reports whether no event leaves s.
func Terminal(s State) bool {
	return len(table[s]) == 0
}

func Decide(from State, ev Event, ctx Context, caseID string) (TransitionIntent, error) {
	next, ok := table[from][ev]
	if !ok {
		return TransitionIntent{}, ErrIllegal
	}
	if g, ok := guards[from][ev]; ok {
		if err := g(ctx); err != nil {
			return TransitionIntent{}, err
		}
	}
	intent := TransitionIntent{
		From:  from,
		To:    next,
		Event: ev,
		Timeline: TimelineEntry{
			At:     ctx.Now,
			Actor:  ctx.Actor,
			Event:  string(ev),
			Extras: ctx.Extras,
		},
		Messages: []OutboxMsg{
			{Topic: TopicTransition, Payload: map[string]any{
				"case_id": caseID,
				"from":    from,
				"to":      next,
				"event":   ev,
				"actor":   ctx.Actor,
				"at":      ctx.Now.UTC(),
			}},
		},
	}
	return intent, nil
}
