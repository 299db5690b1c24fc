// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package validation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// Identifier validation errors. A rejected identifier always aborts the
// authorization call with a denial; it never degrades to an indeterminate
// outcome.
var (
	// ErrMalformed indicates the identifier is not a canonical UUID.
	ErrMalformed = errors.New("identifier is malformed")

	// ErrWrongVersion indicates a parseable UUID of a version or variant
	// this system never issues (accepted: RFC 4122 v4 and v7).
	ErrWrongVersion = errors.New("identifier has unsupported UUID version or variant")

	// ErrLowEntropy indicates the identifier's randomness is implausibly
	// low for a generated UUID (strict mode only).
	ErrLowEntropy = errors.New("identifier entropy below threshold")
)

const (
	// canonicalUUIDLen is the hyphenated textual form: 8-4-4-4-12.
	canonicalUUIDLen = 36

	// maxRawIDLen bounds how much untrusted input is examined at all.
	maxRawIDLen = 128

	// minHexEntropy is the Shannon entropy floor (bits per character,
	// max 4.0 for hex) applied to the 32 hex digits in strict mode.
	// Randomly generated UUIDs measure well above 3.0.
	minHexEntropy = 3.0

	// maxSequentialRun rejects identifiers containing a hex run counting
	// up character by character, which entropy alone does not catch.
	maxSequentialRun = 8
)

// ValidID is an identifier that passed validation, normalized to the
// canonical lowercase hyphenated form.
type ValidID string

// String returns the canonical form.
func (v ValidID) String() string {
	return string(v)
}

// SecurityViolationError marks a rejection that looks like probing rather
// than a mere format mistake: injection metacharacters, traversal sequences,
// or control bytes in what should be a UUID. Callers audit these at elevated
// severity.
type SecurityViolationError struct {
	// Input is the offending value, truncated and quoted for safe logging.
	Input string

	// Detected names the pattern class that triggered the rejection.
	Detected string
}

func (e *SecurityViolationError) Error() string {
	return fmt.Sprintf("security violation in identifier: %s", e.Detected)
}

// IsSecurityViolation reports whether err is (or wraps) a
// *SecurityViolationError.
func IsSecurityViolation(err error) bool {
	var sv *SecurityViolationError
	return errors.As(err, &sv)
}

// ValidateID checks an untrusted identifier before anything downstream
// trusts it. It is a pure function: rejections are returned, never logged
// here; the caller emits the audit event.
//
// Checks, in order:
//  1. Length bound and injection scan. Metacharacters return a
//     *SecurityViolationError so callers can distinguish probing from typos.
//  2. Canonical UUID shape (36 chars, hyphens at 8/13/18/23) and parse.
//  3. Version (4 or 7) and RFC 4122 variant.
//  4. In strict mode, Shannon entropy and sequential-run checks over the
//     hex digits, rejecting degenerate values like all-zero UUIDs that are
//     format-valid but never organically generated.
func ValidateID(raw string, strict bool) (ValidID, error) {
	if raw == "" {
		return "", fmt.Errorf("empty identifier: %w", ErrMalformed)
	}
	if len(raw) > maxRawIDLen {
		return "", fmt.Errorf("identifier exceeds %d bytes: %w", maxRawIDLen, ErrMalformed)
	}

	if detected := scanForProbe(raw); detected != "" {
		return "", &SecurityViolationError{
			Input:    truncateQuoted(raw),
			Detected: detected,
		}
	}

	if len(raw) != canonicalUUIDLen {
		return "", fmt.Errorf("identifier length %d, want %d: %w", len(raw), canonicalUUIDLen, ErrMalformed)
	}
	if raw[8] != '-' || raw[13] != '-' || raw[18] != '-' || raw[23] != '-' {
		return "", fmt.Errorf("identifier not in hyphenated form: %w", ErrMalformed)
	}

	parsed, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("identifier parse: %w", ErrMalformed)
	}

	if v := parsed.Version(); v != 4 && v != 7 {
		return "", fmt.Errorf("UUID version %d: %w", v, ErrWrongVersion)
	}
	if parsed.Variant() != uuid.RFC4122 {
		return "", fmt.Errorf("UUID variant %s: %w", parsed.Variant(), ErrWrongVersion)
	}

	canonical := strings.ToLower(raw)

	if strict {
		hex := strings.ReplaceAll(canonical, "-", "")
		if e := shannonEntropy(hex); e < minHexEntropy {
			return "", fmt.Errorf("entropy %.2f below %.2f: %w", e, minHexEntropy, ErrLowEntropy)
		}
		if run := longestSequentialRun(hex); run >= maxSequentialRun {
			return "", fmt.Errorf("sequential run of %d hex digits: %w", run, ErrLowEntropy)
		}
	}

	return ValidID(canonical), nil
}

// probePatterns maps substring probes to their classification. Checked
// before format validation so attack strings are classified as violations
// rather than generic malformed input.
var probePatterns = []struct {
	substr   string
	detected string
}{
	{"..", "path traversal sequence"},
	{"--", "SQL comment sequence"},
	{"/*", "SQL comment sequence"},
	{"<", "markup injection"},
	{">", "markup injection"},
}

// probeBytes are single characters that never appear in a UUID and are
// common in injection payloads.
const probeBytes = `'";\/(){}|&$%` + "`"

func scanForProbe(raw string) string {
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c < 0x20 || c == 0x7f {
			return "control character"
		}
	}
	for _, p := range probePatterns {
		if strings.Contains(raw, p.substr) {
			return p.detected
		}
	}
	for i := 0; i < len(raw); i++ {
		if strings.IndexByte(probeBytes, raw[i]) >= 0 {
			return "injection metacharacter"
		}
	}
	return ""
}

// shannonEntropy computes bits per character over the input.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	var freq [256]int
	for i := 0; i < len(s); i++ {
		freq[s[i]]++
	}
	total := float64(len(s))
	entropy := 0.0
	for _, n := range freq {
		if n == 0 {
			continue
		}
		p := float64(n) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// longestSequentialRun returns the longest run of hex digits where each
// character is exactly one greater than the previous (e.g. "0123456789ab").
func longestSequentialRun(hex string) int {
	if hex == "" {
		return 0
	}
	longest, run := 1, 1
	for i := 1; i < len(hex); i++ {
		if hexVal(hex[i]) == hexVal(hex[i-1])+1 {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 1
		}
	}
	return longest
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return -100
	}
}

func truncateQuoted(raw string) string {
	if len(raw) > 64 {
		raw = raw[:64]
	}
	return fmt.Sprintf("%q", raw)
}
