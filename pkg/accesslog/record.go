// Package accesslog persists one record per proxied connection to a
// local SQLite database and prunes them on a retention schedule.
package accesslog

import (
	"time"

	"github.com/google/uuid"
)

// Record describes one completed proxy connection.
type Record struct {
	// ID is a UUIDv4 assigned when the record is created.
	ID string

	// Time is when the connection was accepted.
	Time time.Time

	// Mode is the proxy mode that served the connection.
	Mode string

	// ClientAddr is the client's remote address.
	ClientAddr string

	// Identity is the authenticated identity, empty when auth is off.
	Identity string

	// Target is the destination the connection was relayed to, empty
	// when the connection was denied before a target was chosen.
	Target string

	// Method and Path describe the HTTP request for the HTTP modes;
	// both are empty for SOCKS5 tunnels.
	Method string
	Path   string

	// Status is the outcome code, "ok" for a clean close.
	Status string

	// BytesIn and BytesOut count relayed bytes from and to the client.
	BytesIn  int64
	BytesOut int64

	// Duration is the connection lifetime.
	Duration time.Duration
}

// NewRecord creates a record with a fresh ID and the accept timestamp.
func NewRecord(mode, clientAddr string) *Record {
	return &Record{
		ID:         uuid.NewString(),
		Time:       time.Now().UTC(),
		Mode:       mode,
		ClientAddr: clientAddr,
	}
}
