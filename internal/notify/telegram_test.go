package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/xscopehub/consultd/internal/model"
	"github.com/xscopehub/consultd/ports"
)

func TestTelegramSinkSend(t *testing.T) {
	var got sendMessageReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewTelegramSink(srv.URL+"/", "TOKEN", 42)
	ev := ports.Event{Kind: ports.EventCaseClaimed, CaseID: uuid.New(), Status: model.StatusAwaitingPhase1}
	if err := sink.Send(context.Background(), ev); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.ChatID != 42 {
		t.Fatalf("unexpected chat id %d", got.ChatID)
	}
	if !strings.Contains(got.Text, "case claimed") || !strings.Contains(got.Text, "awaiting_phase1") {
		t.Fatalf("unexpected text %q", got.Text)
	}
}

func TestTelegramSinkErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	sink := NewTelegramSink(srv.URL, "TOKEN", 1)
	err := sink.Send(context.Background(), ports.Event{Kind: ports.EventMessagePosted})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected status error, got %v", err)
	}
}
