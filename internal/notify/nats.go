package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/xscopehub/consultd/ports"
)

// NATSSink publishes events as JSON on subject.<kind>.
type NATSSink struct {
	nc      *nats.Conn
	subject string
}

func NewNATSSink(url, subject string) (*NATSSink, error) {
	nc, err := nats.Connect(url, nats.Name("consultd"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSSink{nc: nc, subject: subject}, nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Send(ctx context.Context, ev ports.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.nc.Publish(s.subject+"."+ev.Kind, payload); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return s.nc.FlushWithContext(ctx)
}

func (s *NATSSink) Close() error {
	return s.nc.Drain()
}
