// Package transport defines the message boundary between the agent and the
// outside world, with console and in-process implementations.
package transport

import "time"

// Message is an inbound message from a sender. Immutable once received.
type Message struct {
	Sender     string
	Text       string
	ReceivedAt time.Time
}

// Transport delivers inbound messages and accepts outbound text.
type Transport interface {
	// Receive returns pending inbound messages, up to max, without blocking
	// beyond a short poll.
	Receive(max int) ([]Message, error)

	// Send delivers text to the given sender.
	Send(sender, text string) error

	// Close releases the transport.
	Close() error
}
