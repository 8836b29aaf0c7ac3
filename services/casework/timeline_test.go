package casework

import (
	"context"
	"testing"

	"github.com/xscopehub/consultd/internal/model"
	"github.com/xscopehub/consultd/ports"
)

func TestMessagesVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.createCase(t, "cardiology")

	_, err := f.svc.SendMessage(ctx, f.cardioA, c.ID, NewMessage{Content: "can I help?"})
	wantErr(t, err, model.ErrForbidden)

	if _, err := f.svc.Claim(ctx, f.cardioA, c.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	m, err := f.svc.SendMessage(ctx, f.gp, c.ID, NewMessage{Content: "thanks for taking this"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if m.MessageType != model.MessageTypeComment {
		t.Fatalf("default type not applied: %q", m.MessageType)
	}
	if _, err := f.svc.SendMessage(ctx, f.cardioA, c.ID, NewMessage{Content: "note to self", IsInternal: true}); err != nil {
		t.Fatalf("send internal: %v", err)
	}
	_, err = f.svc.SendMessage(ctx, f.gp, c.ID, NewMessage{Content: "  "})
	wantErr(t, err, model.ErrInvalidInput)

	gpView, err := f.svc.Messages(ctx, f.gp, c.ID)
	if err != nil {
		t.Fatalf("gp messages: %v", err)
	}
	if len(gpView) != 1 {
		t.Fatalf("gp should not see internal notes: %+v", gpView)
	}
	specView, err := f.svc.Messages(ctx, f.cardioA, c.ID)
	if err != nil {
		t.Fatalf("specialist messages: %v", err)
	}
	if len(specView) != 2 {
		t.Fatalf("sender should see own internal note: %+v", specView)
	}
	_, err = f.svc.Messages(ctx, f.cardioB, c.ID)
	wantErr(t, err, model.ErrNotFound)

	if n := f.notifier.count(ports.EventMessagePosted); n != 1 {
		t.Fatalf("expected one message notification, got %d", n)
	}
}

func TestListAndGetCases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	open := f.createCase(t, "cardiology")
	derm := f.createCase(t, "dermatology")
	mine := f.advanceTo(t, model.StatusAwaitingPhase1)

	gpCases, err := f.svc.ListCases(ctx, f.gp)
	if err != nil || len(gpCases) != 3 {
		t.Fatalf("gp list: %d %v", len(gpCases), err)
	}
	other, err := f.svc.ListCases(ctx, f.otherGP)
	if err != nil || len(other) != 0 {
		t.Fatalf("other gp list: %v %v", other, err)
	}

	aCases, err := f.svc.ListCases(ctx, f.cardioA)
	if err != nil {
		t.Fatalf("specialist list: %v", err)
	}
	ids := map[string]bool{}
	for _, c := range aCases {
		ids[c.ID.String()] = true
	}
	if len(aCases) != 2 || !ids[open.ID.String()] || !ids[mine.ID.String()] {
		t.Fatalf("unexpected specialist listing %v", ids)
	}

	bCases, _ := f.svc.ListCases(ctx, f.cardioB)
	if len(bCases) != 1 || bCases[0].ID != open.ID {
		t.Fatalf("other specialist should only see the open case: %+v", bCases)
	}

	if _, err := f.svc.GetCase(ctx, f.derm, derm.ID); err != nil {
		t.Fatalf("derm preview: %v", err)
	}
	_, err = f.svc.GetCase(ctx, f.cardioB, mine.ID)
	wantErr(t, err, model.ErrNotFound)
	_, err = f.svc.ListCases(ctx, model.Principal{})
	wantErr(t, err, model.ErrUnauthenticated)
}
