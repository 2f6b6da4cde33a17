package proxy

import "testing"

func TestAllowList(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		host     string
		want     bool
	}{
		{
			name:     "wildcard matches subdomain",
			patterns: []string{"*.example.com"},
			host:     "foo.example.com",
			want:     true,
		},
		{
			name:     "wildcard rejects lookalike suffix",
			patterns: []string{"*.example.com"},
			host:     "example.com.evil.org",
			want:     false,
		},
		{
			name:     "wildcard does not match apex",
			patterns: []string{"*.example.com"},
			host:     "example.com",
			want:     false,
		},
		{
			name:     "exact host",
			patterns: []string{"internal.test"},
			host:     "internal.test",
			want:     true,
		},
		{
			name:     "port is ignored",
			patterns: []string{"*.example.com"},
			host:     "foo.example.com:443",
			want:     true,
		},
		{
			name:     "case insensitive",
			patterns: []string{"*.Example.COM"},
			host:     "FOO.example.com",
			want:     true,
		},
		{
			name:     "empty list allows everything",
			patterns: nil,
			host:     "anything.at.all",
			want:     true,
		},
		{
			name:     "first of several patterns",
			patterns: []string{"*.example.com", "internal.test"},
			host:     "bar.example.com",
			want:     true,
		},
		{
			name:     "no pattern matches",
			patterns: []string{"*.example.com", "internal.test"},
			host:     "other.org",
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			al := NewAllowList(tt.patterns)
			if got := al.Allows(tt.host); got != tt.want {
				t.Errorf("Allows(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

func TestAllowListUpdate(t *testing.T) {
	al := NewAllowList([]string{"*.example.com"})
	if al.Allows("other.org") {
		t.Fatal("other.org should be rejected before update")
	}

	al.Update([]string{"*.org"})
	if !al.Allows("other.org") {
		t.Error("other.org should be allowed after update")
	}
	if al.Allows("foo.example.com") {
		t.Error("foo.example.com should be rejected after update")
	}
}
