package transport

import (
	"fmt"
	"sync"
	"time"
)

// Channel is an in-process transport backed by buffered channels. It backs
// the one-shot CLI command and the orchestrator tests.
type Channel struct {
	mu       sync.Mutex
	inbox    []Message
	outbox   map[string][]string
	closed   bool
	SendHook func(sender, text string) // optional observer
}

// NewChannel creates an empty in-process transport.
func NewChannel() *Channel {
	return &Channel{outbox: make(map[string][]string)}
}

// Push enqueues an inbound message.
func (c *Channel) Push(sender, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbox = append(c.inbox, Message{Sender: sender, Text: text, ReceivedAt: time.Now()})
}

// Receive pops up to max pending messages in arrival order.
func (c *Channel) Receive(max int) ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("transport closed")
	}
	n := len(c.inbox)
	if n > max {
		n = max
	}
	msgs := append([]Message(nil), c.inbox[:n]...)
	c.inbox = c.inbox[n:]
	return msgs, nil
}

// Send records outbound text per sender.
func (c *Channel) Send(sender, text string) error {
	c.mu.Lock()
	c.outbox[sender] = append(c.outbox[sender], text)
	hook := c.SendHook
	c.mu.Unlock()
	if hook != nil {
		hook(sender, text)
	}
	return nil
}

// Sent returns everything sent to the given sender.
func (c *Channel) Sent(sender string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.outbox[sender]...)
}

// Close marks the transport closed.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
