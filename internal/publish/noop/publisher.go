// Package noop provides a publisher that discards everything, for
// deployments without a Pub/Sub topic.
package noop

import "context"

// Publisher drops every publish.
type Publisher struct{}

// New returns a noop Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish discards the payload.
func (Publisher) Publish(context.Context, any) (string, error) {
	return "", nil
}

// Close implements the publisher interface; it performs no action.
func (Publisher) Close() error {
	return nil
}
