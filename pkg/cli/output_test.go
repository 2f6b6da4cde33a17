package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

type fakeResult struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func (r fakeResult) String() string {
	return "name: " + r.Name
}

func TestTextFormatUsesStringer(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter(FormatText).FormatTo(&buf, fakeResult{Name: "charon", Count: 3}); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	if got, want := buf.String(), "name: charon\n"; got != want {
		t.Errorf("FormatTo() = %q, want %q", got, want)
	}
}

func TestJSONFormatRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter(FormatJSON).FormatTo(&buf, fakeResult{Name: "charon", Count: 3}); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	var got fakeResult
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if got.Name != "charon" || got.Count != 3 {
		t.Errorf("decoded = %+v", got)
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Error("JSON output should be indented")
	}
}

func TestUnknownFormatFallsBackToText(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter("yaml").FormatTo(&buf, "plain"); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	if got, want := buf.String(), "plain\n"; got != want {
		t.Errorf("FormatTo() = %q, want %q", got, want)
	}
}
