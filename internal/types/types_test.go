package types

import (
	"testing"
)

func TestVerificationStatus(t *testing.T) {
	tests := []struct {
		status   VerificationStatus
		valid    bool
		terminal bool
	}{
		{StatusPending, true, false},
		{StatusVerified, true, true},
		{StatusRejected, true, true},
		{VerificationStatus("archived"), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestSourceValid(t *testing.T) {
	for _, src := range TrustedSources {
		if !src.Valid() {
			t.Errorf("trusted source %q reported invalid", src)
		}
	}

	for _, src := range []Source{"", "random_blog", "OPENWEATHERMAP"} {
		if src.Valid() {
			t.Errorf("source %q should be invalid", src)
		}
	}
}
