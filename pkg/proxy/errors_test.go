package proxy

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "ok"},
		{"auth failed", ErrAuthFailed, "auth_failed"},
		{"wrapped auth failed", fmt.Errorf("challenge: %w", ErrAuthFailed), "auth_failed"},
		{"rate limited", ErrRateLimited, "rate_limited"},
		{"no route", ErrNoRoute, "no_route"},
		{"no healthy target", ErrNoHealthyTarget, "no_healthy_target"},
		{"upstream unreachable", ErrUpstreamUnreachable, "upstream_unreachable"},
		{"domain not allowed", ErrDomainNotAllowed, "domain_not_allowed"},
		{"protocol violation", &ProtocolError{Mode: "socks5", Detail: "bad version"}, "protocol_violation"},
		{"cache failure", &CacheError{Op: "store", Err: io.ErrShortWrite}, "cache_failure"},
		{"unknown", errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.want {
				t.Errorf("ErrorCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProtocolErrorUnwrap(t *testing.T) {
	inner := errors.New("short read")
	err := &ProtocolError{Mode: "socks5", Detail: "greeting", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("ProtocolError should unwrap to its cause")
	}
}
