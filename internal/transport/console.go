package transport

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Console reads lines from stdin and writes replies to stdout. A background
// goroutine feeds a buffered channel so Receive never blocks the control loop.
type Console struct {
	in      *bufio.Scanner
	out     io.Writer
	sender  string
	lines   chan string
	closeMu sync.Once
	done    chan struct{}
}

// NewConsole creates a console transport attributing all input to sender.
func NewConsole(sender string) *Console {
	c := &Console{
		in:     bufio.NewScanner(os.Stdin),
		out:    os.Stdout,
		sender: sender,
		lines:  make(chan string, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Console) readLoop() {
	for c.in.Scan() {
		select {
		case c.lines <- c.in.Text():
		case <-c.done:
			return
		}
	}
	c.Close()
}

// Receive drains up to max buffered lines.
func (c *Console) Receive(max int) ([]Message, error) {
	var msgs []Message
	for len(msgs) < max {
		select {
		case line := <-c.lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			msgs = append(msgs, Message{
				Sender:     c.sender,
				Text:       line,
				ReceivedAt: time.Now(),
			})
		default:
			return msgs, nil
		}
	}
	return msgs, nil
}

// Send prints the reply.
func (c *Console) Send(_, text string) error {
	_, err := fmt.Fprintf(c.out, "%s\n", text)
	return err
}

// Close stops the reader goroutine.
func (c *Console) Close() error {
	c.closeMu.Do(func() { close(c.done) })
	return nil
}
