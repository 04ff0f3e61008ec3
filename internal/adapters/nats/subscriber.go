package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/bilbopass/internal/core/domain"
)

// Subscriber implements ports.VehiclePositionSubscriber using a single
// durable JetStream consumer on the vehicle_positions stream, preserving
// publication order.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

func NewSubscriber(url string) (*Subscriber, error) {
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
	return &Subscriber{conn: conn, js: js}, nil
}

// Subscribe pulls messages one at a time from a durable, manually-acked
// consumer and invokes handler in arrival order, blocking until ctx is
// cancelled. A handler error Naks the message for redelivery rather than
// halting the loop.
func (s *Subscriber) Subscribe(ctx context.Context, handler func(ctx context.Context, vp domain.VehiclePosition) error) error {
	sub, err := s.js.PullSubscribe(subjectName, "detector",
		nats.ManualAck(),
		nats.MaxDeliver(3),
		nats.AckWait(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("pull subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(2*time.Second))
		if err != nil {
			if err == nats.ErrTimeout {
				continue
			}
			return fmt.Errorf("fetch: %w", err)
		}

		for _, msg := range msgs {
			var vp domain.VehiclePosition
			if err := json.Unmarshal(msg.Data, &vp); err != nil {
				_ = msg.Ack() // malformed message: drop rather than redeliver forever
				continue
			}
			if err := handler(ctx, vp); err != nil {
				_ = msg.Nak()
				continue
			}
			_ = msg.Ack()
		}
	}
}

// Close drains and closes the connection.
func (s *Subscriber) Close() {
	_ = s.conn.Drain()
}
