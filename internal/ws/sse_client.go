package ws

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// SSEClient streams hub payloads as Server-Sent Events.
type SSEClient struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	closed  bool
	done    chan struct{}
	seq     uint64
}

// NewSSEClient builds an SSE client over a flushable response writer.
func NewSSEClient(writer io.Writer, flusher http.Flusher, logger *slog.Logger) *SSEClient {
	return &SSEClient{writer: writer, flusher: flusher, log: logger, done: make(chan struct{})}
}

// Send emits one data frame. Multi-line payloads are split across data lines.
func (c *SSEClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	c.seq++
	var frame bytes.Buffer
	fmt.Fprintf(&frame, "id: %d\n", c.seq)
	for _, line := range bytes.Split(payload, []byte("\n")) {
		fmt.Fprintf(&frame, "data: %s\n", line)
	}
	frame.WriteString("\n")
	return c.write(frame.Bytes())
}

// Heartbeat emits a comment frame to keep intermediaries from timing out.
func (c *SSEClient) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	return c.write([]byte(": ping\n\n"))
}

func (c *SSEClient) write(frame []byte) error {
	if _, err := c.writer.Write(frame); err != nil {
		c.log.Warn("sse write failed", "error", err)
		c.closeLocked()
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close marks the stream as closed and releases Done waiters.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *SSEClient) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// Done is closed once the stream can no longer be written.
func (c *SSEClient) Done() <-chan struct{} {
	return c.done
}
