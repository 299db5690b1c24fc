// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package validation

import (
	"errors"
	"strings"
	"testing"
)

// ===================================================================================================
// ValidateID Format Tests
// ===================================================================================================

func TestValidateID_Valid(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		strict bool
		want   ValidID
	}{
		{
			name:   "v4 lowercase",
			raw:    "f47ac10b-58cc-4372-a567-0e02b2c3d479",
			strict: false,
			want:   "f47ac10b-58cc-4372-a567-0e02b2c3d479",
		},
		{
			name:   "v4 uppercase normalized",
			raw:    "F47AC10B-58CC-4372-A567-0E02B2C3D479",
			strict: false,
			want:   "f47ac10b-58cc-4372-a567-0e02b2c3d479",
		},
		{
			name:   "v7 accepted",
			raw:    "01890a5d-ac96-774b-bcce-b302099a8057",
			strict: false,
			want:   "01890a5d-ac96-774b-bcce-b302099a8057",
		},
		{
			name:   "v4 passes strict entropy",
			raw:    "f47ac10b-58cc-4372-a567-0e02b2c3d479",
			strict: true,
			want:   "f47ac10b-58cc-4372-a567-0e02b2c3d479",
		},
		{
			name:   "v7 passes strict entropy",
			raw:    "01890a5d-ac96-774b-bcce-b302099a8057",
			strict: true,
			want:   "01890a5d-ac96-774b-bcce-b302099a8057",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateID(tt.raw, tt.strict)
			if err != nil {
				t.Fatalf("ValidateID(%q) returned error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ValidateID(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestValidateID_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"unhyphenated hex", "f47ac10b58cc4372a5670e02b2c3d479"},
		{"truncated", "f47ac10b-58cc-4372-a567"},
		{"urn prefix", "urn:uuid:f47ac10b-58cc-4372-a567-0e02b2c3d479"},
		{"non-hex character", "g47ac10b-58cc-4372-a567-0e02b2c3d479"},
		{"hyphen misplaced", "f47ac10b5-8cc-4372-a567-0e02b2c3d479"},
		{"oversized input", strings.Repeat("a", 200)},
		{"plain username", "alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateID(tt.raw, false)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("ValidateID(%q) error = %v, want ErrMalformed", tt.raw, err)
			}
		})
	}
}

func TestValidateID_WrongVersion(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"v1 time-based", "c232ab00-9414-11ec-b3c8-9f6bdeced846"},
		{"v5 name-based", "886313e1-3b8a-5372-9b90-0c9aee199e5d"},
		{"reserved variant", "f47ac10b-58cc-4372-c567-0e02b2c3d479"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateID(tt.raw, false)
			if !errors.Is(err, ErrWrongVersion) {
				t.Errorf("ValidateID(%q) error = %v, want ErrWrongVersion", tt.raw, err)
			}
		})
	}
}

// ===================================================================================================
// Strict Mode Entropy Tests
// ===================================================================================================

func TestValidateID_LowEntropy(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"all zero nil-adjacent", "00000000-0000-4000-8000-000000000000"},
		{"single repeated digit", "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"},
		{"sequential hex walk", "01234567-89ab-4cde-8f01-23456789abcd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateID(tt.raw, true)
			if !errors.Is(err, ErrLowEntropy) {
				t.Errorf("ValidateID(%q, strict) error = %v, want ErrLowEntropy", tt.raw, err)
			}

			// The same identifiers pass when strict mode is off.
			if _, err := ValidateID(tt.raw, false); err != nil {
				t.Errorf("ValidateID(%q, lax) returned error: %v", tt.raw, err)
			}
		})
	}
}

// ===================================================================================================
// Security Violation Tests
// ===================================================================================================

func TestValidateID_SecurityViolations(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantDetected string
	}{
		{
			name:         "sql injection probe",
			raw:          "u1'; DROP TABLE users--",
			wantDetected: "SQL comment sequence",
		},
		{
			name:         "path traversal",
			raw:          "../../../etc/passwd",
			wantDetected: "path traversal sequence",
		},
		{
			name:         "null byte",
			raw:          "f47ac10b-58cc-4372-a567-0e02b2c3d4\x00",
			wantDetected: "control character",
		},
		{
			name:         "crlf injection",
			raw:          "a\r\nSet-Cookie: x",
			wantDetected: "control character",
		},
		{
			name:         "markup injection",
			raw:          "<script>alert(1)</script>",
			wantDetected: "markup injection",
		},
		{
			name:         "shell substitution",
			raw:          "$(reboot)",
			wantDetected: "injection metacharacter",
		},
		{
			name:         "backtick command",
			raw:          "id`whoami`",
			wantDetected: "injection metacharacter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateID(tt.raw, false)
			if err == nil {
				t.Fatalf("ValidateID(%q) should have been rejected", tt.raw)
			}

			var sv *SecurityViolationError
			if !errors.As(err, &sv) {
				t.Fatalf("ValidateID(%q) error = %T, want *SecurityViolationError", tt.raw, err)
			}
			if sv.Detected != tt.wantDetected {
				t.Errorf("Detected = %q, want %q", sv.Detected, tt.wantDetected)
			}
			if sv.Input == "" {
				t.Error("Input should carry the quoted offending value")
			}
			if !IsSecurityViolation(err) {
				t.Error("IsSecurityViolation() = false, want true")
			}
		})
	}
}

func TestValidateID_ViolationNotMalformed(t *testing.T) {
	// Probing input must classify as a violation, not a format error, so the
	// caller audits it at elevated severity.
	_, err := ValidateID("'; SELECT 1 --", false)
	if errors.Is(err, ErrMalformed) {
		t.Error("attack string should not classify as ErrMalformed")
	}
	if !IsSecurityViolation(err) {
		t.Error("attack string should classify as a security violation")
	}
}

func TestIsSecurityViolation_NonViolations(t *testing.T) {
	if IsSecurityViolation(nil) {
		t.Error("IsSecurityViolation(nil) = true")
	}
	if IsSecurityViolation(ErrMalformed) {
		t.Error("IsSecurityViolation(ErrMalformed) = true")
	}
}

func TestSecurityViolationError_InputTruncated(t *testing.T) {
	long := "'" + strings.Repeat("A", 120)
	_, err := ValidateID(long, false)

	var sv *SecurityViolationError
	if !errors.As(err, &sv) {
		t.Fatalf("error = %T, want *SecurityViolationError", err)
	}
	// 64 input bytes plus quoting overhead.
	if len(sv.Input) > 80 {
		t.Errorf("Input length = %d, want <= 80", len(sv.Input))
	}
}

// ===================================================================================================
// Entropy Helper Tests
// ===================================================================================================

func TestShannonEntropy(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want float64
	}{
		{"empty", "", 0},
		{"single char repeated", "aaaaaaaa", 0},
		{"uniform hex", "0123456789abcdef", 4.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shannonEntropy(tt.in)
			if diff := got - tt.want; diff > 0.0001 || diff < -0.0001 {
				t.Errorf("shannonEntropy(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLongestSequentialRun(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"single", "a", 1},
		{"no run", "f0f0f0", 1},
		{"short run", "567a", 3},
		{"digit to letter boundary", "89ab", 4},
		{"full walk", "0123456789abcdef", 16},
		{"repeated char breaks run", "0122345", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := longestSequentialRun(tt.in); got != tt.want {
				t.Errorf("longestSequentialRun(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
