package proxy

import (
	"errors"
	"fmt"
)

// Sentinel errors for per-connection failures. Handlers wrap these with
// context; the server and tests unwrap them with errors.Is to decide on
// the protocol-level response.
var (
	// ErrAuthFailed indicates the client's credentials were rejected.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates the client identity exhausted its token
	// bucket.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrNoRoute indicates no routing table entry matched the request
	// path and no default group is configured.
	ErrNoRoute = errors.New("no route for path")

	// ErrNoHealthyTarget indicates the selected group currently has no
	// healthy targets.
	ErrNoHealthyTarget = errors.New("no healthy target in group")

	// ErrUpstreamUnreachable indicates all upstream connect attempts
	// failed after the configured retries.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")

	// ErrDomainNotAllowed indicates the destination host failed the
	// allow-list check.
	ErrDomainNotAllowed = errors.New("destination not allowed")
)

// ProtocolError reports malformed client traffic (bad SOCKS5 framing,
// unparsable HTTP). The connection is closed immediately without retry.
type ProtocolError struct {
	// Mode is the engine that observed the violation.
	Mode string

	// Detail describes what was malformed.
	Detail string

	// Err is the underlying parse error, if any.
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s protocol violation: %s: %v", e.Mode, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s protocol violation: %s", e.Mode, e.Detail)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// CacheError reports a response-cache failure. Callers degrade to a
// pass-through fetch and log it; the client request still succeeds.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s failed: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// ErrorCode returns the short code logged for a connection failure.
// Unrecognized errors report as "internal".
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrNoRoute):
		return "no_route"
	case errors.Is(err, ErrNoHealthyTarget):
		return "no_healthy_target"
	case errors.Is(err, ErrUpstreamUnreachable):
		return "upstream_unreachable"
	case errors.Is(err, ErrDomainNotAllowed):
		return "domain_not_allowed"
	}

	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return "protocol_violation"
	}
	var cacheErr *CacheError
	if errors.As(err, &cacheErr) {
		return "cache_failure"
	}
	return "internal"
}
