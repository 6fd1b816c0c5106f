// Package messaging defines the broker-neutral publishing surface used to
// announce ledger lifecycle changes to other services.
package messaging

import (
	"context"
	"time"
)

// Message is a payload bound for a subject.
type Message struct {
	Subject string

	Data []byte

	// Metadata is carried as message headers.
	Metadata map[string]string

	Timestamp time.Time
}

// Publisher publishes messages to subjects.
type Publisher interface {
	// Publish sends data to subject. Delivery is fire-and-forget.
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishMsg sends a Message with headers.
	PublishMsg(ctx context.Context, msg *Message) error

	// Close releases any resources held by the publisher.
	Close() error
}

// NoopPublisher drops every message. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, []byte) error { return nil }

func (NoopPublisher) PublishMsg(context.Context, *Message) error { return nil }

func (NoopPublisher) Close() error { return nil }
