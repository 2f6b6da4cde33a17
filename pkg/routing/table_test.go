package routing

import (
	"errors"
	"testing"

	"stratos-hq/charon/pkg/proxy"
)

func TestTableRoute(t *testing.T) {
	table := NewTable(map[string]string{
		"/":       "web",
		"/api":    "api",
		"/api/v2": "api-v2",
	}, "")

	tests := []struct {
		path string
		want string
	}{
		{"/api/users", "api"},
		{"/api/v2/users", "api-v2"},
		{"/api", "api"},
		{"/other", "web"},
		{"/", "web"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := table.Route(tt.path)
			if err != nil {
				t.Fatalf("Route(%q) error = %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("Route(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestTableNoRoute(t *testing.T) {
	table := NewTable(map[string]string{"/api": "api"}, "")

	_, err := table.Route("/other")
	if !errors.Is(err, proxy.ErrNoRoute) {
		t.Errorf("Route(/other) error = %v, want ErrNoRoute", err)
	}
}

func TestTableDefaultGroup(t *testing.T) {
	table := NewTable(map[string]string{"/api": "api"}, "fallback")

	got, err := table.Route("/other")
	if err != nil {
		t.Fatalf("Route(/other) error = %v", err)
	}
	if got != "fallback" {
		t.Errorf("Route(/other) = %q, want fallback", got)
	}
}
