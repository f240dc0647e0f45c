package util

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateRandomHex(t *testing.T) {
	tests := []struct {
		name   string
		length int
	}{
		{"zero length", 0},
		{"negative length", -5},
		{"short", 4},
		{"typical", 16},
		{"long", 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomHex(tt.length)
			wantLen := tt.length
			if wantLen < 0 {
				wantLen = 0
			}
			if len(got) != wantLen {
				t.Errorf("GenerateRandomHex(%d) length = %d, want %d", tt.length, len(got), wantLen)
			}
			for _, c := range got {
				if !strings.ContainsRune("0123456789abcdef", c) {
					t.Errorf("GenerateRandomHex produced non-hex character %q", c)
				}
			}
		})
	}
}

func TestGenerateBookingID(t *testing.T) {
	id := GenerateBookingID()
	if !strings.HasPrefix(id, "bk_") {
		t.Errorf("GenerateBookingID() = %q, want bk_ prefix", id)
	}
	if len(id) != len("bk_")+16 {
		t.Errorf("GenerateBookingID() length = %d, want %d", len(id), len("bk_")+16)
	}

	// Uniqueness across a reasonable sample.
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateBookingID()
		if seen[id] {
			t.Fatalf("duplicate booking ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestParseDurationEnv(t *testing.T) {
	const key = "TEST_PARSE_DURATION_ENV"

	t.Setenv(key, "")
	if got := ParseDurationEnv(key, 15*time.Minute); got != 15*time.Minute {
		t.Errorf("empty value: got %v, want default", got)
	}

	t.Setenv(key, "90s")
	if got := ParseDurationEnv(key, time.Minute); got != 90*time.Second {
		t.Errorf("duration syntax: got %v, want 90s", got)
	}

	t.Setenv(key, "20")
	if got := ParseDurationEnv(key, time.Minute); got != 20*time.Minute {
		t.Errorf("bare integer: got %v, want 20m", got)
	}

	t.Setenv(key, "bogus")
	if got := ParseDurationEnv(key, 5*time.Minute); got != 5*time.Minute {
		t.Errorf("invalid value: got %v, want default", got)
	}
}
