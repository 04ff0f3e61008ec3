package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/bilbopass/internal/core/domain"
)

const (
	streamName  = "VEHICLE_POSITIONS"
	subjectName = "vehicle_positions"
)

// Publisher implements ports.VehiclePositionPublisher on top of a single
// JetStream stream for the vehicle_positions channel.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS, enables JetStream, and ensures the
// vehicle_positions stream exists.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectName},
		Retention: nats.WorkQueuePolicy,
		MaxAge:    1 * time.Hour,
		Storage:   nats.FileStorage,
	}
	if _, err := js.AddStream(cfg); err != nil {
		if _, err := js.UpdateStream(cfg); err != nil {
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

// Publish encodes vp as JSON and publishes it on the vehicle_positions
// subject.
func (p *Publisher) Publish(ctx context.Context, vp domain.VehiclePosition) error {
	data, err := json.Marshal(vp)
	if err != nil {
		return fmt.Errorf("marshal vehicle position: %w", err)
	}
	_, err = p.js.Publish(subjectName, data)
	return err
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}
