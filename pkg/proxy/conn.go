package proxy

import (
	"bufio"
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Conn is a single accepted client connection. It is owned exclusively by
// the handler goroutine serving it and is destroyed when both directions
// close or on a fatal protocol error.
type Conn struct {
	// ID uniquely identifies the connection in logs and the access log.
	ID string

	// Raw is the client socket, already TLS-wrapped when termination is
	// enabled.
	Raw net.Conn

	// Reader buffers reads from Raw. Handlers must read through it so
	// bytes buffered during parsing are not lost when relaying begins.
	Reader *bufio.Reader

	// CreatedAt is when the connection was accepted.
	CreatedAt time.Time

	// Identity is the authenticated identity, empty until (and unless)
	// the auth gate admits the client.
	Identity string

	// Target is the destination the connection was relayed or forwarded
	// to, recorded for the access log.
	Target string

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

// NewConn wraps an accepted socket in a Conn with a fresh ID.
func NewConn(raw net.Conn) *Conn {
	return &Conn{
		ID:        uuid.NewString(),
		Raw:       raw,
		Reader:    bufio.NewReader(raw),
		CreatedAt: time.Now(),
	}
}

// RemoteHost returns the client's IP address without the port, used as
// the rate limiting identity for unauthenticated clients.
func (c *Conn) RemoteHost() string {
	host, _, err := net.SplitHostPort(c.Raw.RemoteAddr().String())
	if err != nil {
		return c.Raw.RemoteAddr().String()
	}
	return host
}

// AddBytesIn records bytes received from the client.
func (c *Conn) AddBytesIn(n int64) { c.bytesIn.Add(n) }

// AddBytesOut records bytes sent to the client.
func (c *Conn) AddBytesOut(n int64) { c.bytesOut.Add(n) }

// BytesIn reports total bytes received from the client.
func (c *Conn) BytesIn() int64 { return c.bytesIn.Load() }

// BytesOut reports total bytes sent to the client.
func (c *Conn) BytesOut() int64 { return c.bytesOut.Load() }

// Handler is a protocol engine serving one connection to completion.
// Implementations run the full per-connection state machine and return
// nil on a clean close, or an error from this package's taxonomy. They
// must not panic past their own recovery and must respect ctx
// cancellation during blocking phases.
type Handler interface {
	// Mode names the engine ("forward", "reverse", "socks5") for logs
	// and metrics.
	Mode() string

	// Handle serves the connection until either side closes it. The
	// caller closes conn.Raw after Handle returns.
	Handle(ctx context.Context, conn *Conn) error
}
