// Package notify fans committed case events out to best-effort sinks.
package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/xscopehub/consultd/internal/metrics"
	"github.com/xscopehub/consultd/ports"
)

// Sink delivers one event to one external channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev ports.Event) error
}

// Dispatcher implements ports.Notifier. Every sink runs in its own goroutine
// with a context detached from the request, so a finished request never
// cancels a delivery and a slow sink never delays the response.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(logger *slog.Logger, m *metrics.Metrics, timeout time.Duration, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sinks: sinks, timeout: timeout, logger: logger, metrics: m}
}

func (d *Dispatcher) Notify(ctx context.Context, ev ports.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("notification dropped after shutdown", "kind", ev.Kind, "case_id", ev.CaseID)
		return
	}
	base := context.WithoutCancel(ctx)
	for _, s := range d.sinks {
		d.wg.Add(1)
		d.metrics.InflightAdd(1)
		go d.deliver(base, s, ev)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, s Sink, ev ports.Event) {
	defer d.wg.Done()
	defer d.metrics.InflightAdd(-1)
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification sink panic", "sink", s.Name(), "kind", ev.Kind, "panic", r)
			d.metrics.Notification(s.Name(), "panic")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	err := s.Send(ctx, ev)
	d.metrics.Notification(s.Name(), metrics.Result(err))
	if err != nil {
		d.logger.Warn("notification failed", "sink", s.Name(), "kind", ev.Kind, "case_id", ev.CaseID, "error", err)
	}
}

// Close stops accepting events and waits for in-flight deliveries, then
// closes every sink that holds a connection. If ctx ends first, Close returns
// its error and the sinks are closed only once the remaining deliveries,
// each bounded by the dispatcher timeout, have finished.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return d.closeSinks()
	case <-ctx.Done():
		go func() {
			<-done
			if err := d.closeSinks(); err != nil {
				d.logger.Warn("closing notification sinks", "error", err)
			}
		}()
		return ctx.Err()
	}
}

func (d *Dispatcher) closeSinks() error {
	var errs []error
	for _, s := range d.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event. It backs deployments with no sink configured.
type Discard struct{}

func (Discard) Notify(context.Context, ports.Event) {}
