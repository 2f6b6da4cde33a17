package cli

import (
	"errors"
	"testing"
)

func TestConfigErrorMessages(t *testing.T) {
	tests := []struct {
		name  string
		field string
		want  string
	}{
		{"with field", "server.port", "invalid configuration at server.port: out of range"},
		{"without field", "", "invalid configuration: out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewConfigError(tt.field, "out of range")
			if got := err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandErrorUnwraps(t *testing.T) {
	cause := errors.New("listener busy")
	err := NewCommandError("run", cause)

	if got, want := err.Error(), "run: listener busy"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is() should reach the wrapped cause")
	}
}
