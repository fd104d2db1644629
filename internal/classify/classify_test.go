package classify

import "testing"

func TestReason(t *testing.T) {
	tests := []struct {
		name        string
		reason      string
		disposition Disposition
		code        Code
	}{
		{"composer absent", "Composer not found after retries", Permanent, CodeUINotFound},
		{"input box absent", "INPUT BOX NOT FOUND", Permanent, CodeUINotFound},
		{"blocked account", "cannot message this account", Permanent, CodeUINotFound},
		{"nav timeout", "chat page failed to load", Retryable, CodeNavTimeout},
		{"navigation timeout", "navigation timeout after 20s", Retryable, CodeNavTimeout},
		{"auth wall", "login required to continue", Retryable, CodeAuthRequired},
		{"session expired", "session expired, please re-authenticate", Retryable, CodeAuthRequired},
		{"checkpoint", "account checkpoint detected", Retryable, CodeAuthRequired},
		{"anything else", "weird DOM state 0x7f", Retryable, CodeUnknown},
		{"empty reason", "", Retryable, CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Reason(tt.reason)
			if res.Disposition != tt.disposition {
				t.Errorf("Reason(%q).Disposition = %s, want %s", tt.reason, res.Disposition, tt.disposition)
			}
			if res.Code != tt.code {
				t.Errorf("Reason(%q).Code = %s, want %s", tt.reason, res.Code, tt.code)
			}
			if res.Message == "" {
				t.Errorf("Reason(%q) returned empty message", tt.reason)
			}
		})
	}
}

func TestReasonIsTotal(t *testing.T) {
	// Every non-empty string maps to exactly one disposition.
	inputs := []string{"x", "error", "composer not found and login required"}
	for _, in := range inputs {
		res := Reason(in)
		if res.Code == "" {
			t.Errorf("Reason(%q) produced no code", in)
		}
	}
}
