package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMemoryPutSignDelete(t *testing.T) {
	m := NewMemory()
	m.now = func() time.Time { return time.Unix(1000, 0) }
	ctx := context.Background()

	if err := m.Put(ctx, "cases/a/initial_submission/x-ecg.pdf", strings.NewReader("pdf"), 3, "application/pdf"); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, ok := m.Bytes("cases/a/initial_submission/x-ecg.pdf")
	if !ok || string(data) != "pdf" {
		t.Fatalf("unexpected object: %q %v", data, ok)
	}

	u, err := m.SignURL(ctx, "cases/a/initial_submission/x-ecg.pdf", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !strings.Contains(u, "expires=4600") {
		t.Fatalf("expected expiry one hour out, got %s", u)
	}

	if err := m.Delete(ctx, "cases/a/initial_submission/x-ecg.pdf"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if m.Exists("cases/a/initial_submission/x-ecg.pdf") {
		t.Fatalf("object still present after delete")
	}
	if _, err := m.SignURL(ctx, "cases/a/initial_submission/x-ecg.pdf", time.Hour); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryFailHooks(t *testing.T) {
	m := NewMemory()
	boom := errors.New("boom")
	m.FailDelete = func(path string) error {
		if path == "keep" {
			return boom
		}
		return nil
	}
	ctx := context.Background()
	_ = m.Put(ctx, "keep", strings.NewReader("x"), 1, "")
	if err := m.Delete(ctx, "keep"); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if !m.Exists("keep") {
		t.Fatalf("failed delete removed the object")
	}
}
