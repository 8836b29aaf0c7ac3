// Package storage holds uploaded case binaries.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

// ErrObjectNotFound is returned by Memory for unknown paths.
var ErrObjectNotFound = errors.New("storage: object not found")

// Memory is an in-process object store. Fail hooks let callers simulate a
// storage outage for a given operation and path.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
	now     func() time.Time

	FailPut    func(path string) error
	FailDelete func(path string) error
	FailSign   func(path string) error
}

type memObject struct {
	data        []byte
	contentType string
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject), now: time.Now}
}

func (m *Memory) Put(_ context.Context, path string, body io.Reader, _ int64, contentType string) error {
	if m.FailPut != nil {
		if err := m.FailPut(path); err != nil {
			return err
		}
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = memObject{data: buf.Bytes(), contentType: contentType}
	return nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	if m.FailDelete != nil {
		if err := m.FailDelete(path); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	return nil
}

func (m *Memory) SignURL(_ context.Context, path string, ttl time.Duration) (string, error) {
	if m.FailSign != nil {
		if err := m.FailSign(path); err != nil {
			return "", err
		}
	}
	m.mu.RLock()
	_, ok := m.objects[path]
	m.mu.RUnlock()
	if !ok {
		return "", ErrObjectNotFound
	}
	q := url.Values{}
	q.Set("expires", fmt.Sprint(m.now().Add(ttl).Unix()))
	return "memory:///" + url.PathEscape(path) + "?" + q.Encode(), nil
}

// Exists reports whether an object is stored at path.
func (m *Memory) Exists(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[path]
	return ok
}

// Bytes returns a copy of the stored object.
func (m *Memory) Bytes(path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}
