package util

import (
	"errors"
	"testing"
)

func TestContentHash(t *testing.T) {
	got := ContentHash("redis maxclients runbook")
	if got != ContentHash("redis maxclients runbook") {
		t.Fatalf("expected stable hash, got %s", got)
	}
	for _, ch := range got {
		if !((ch >= 'a' && ch <= 'f') || (ch >= '0' && ch <= '9')) {
			t.Fatalf("hash contains non-hex character: %c", ch)
		}
	}
	if len(got) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(got))
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "cache-outage", want: "cache-outage"},
		{in: " nested/name ", want: "nested_name"},
		{in: `win\path`, want: "win_path"},
		{in: "../etc", wantErr: true},
		{in: "   ", wantErr: true},
	}
	for _, tt := range tests {
		got, err := SanitizeName(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidName) {
				t.Fatalf("SanitizeName(%q): expected ErrInvalidName, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("SanitizeName(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}
