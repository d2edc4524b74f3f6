// Package publisher defines the message publishing contract used by event
// sinks that forward change notifications to external brokers.
package publisher

import "context"

// Publisher sends a payload with string attributes to a named topic and
// returns the broker-assigned message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, attrs map[string]string) (string, error)
	Close() error
}
