package types

import (
	"regexp"
	"strings"
)

// CodeAlphabet is the set of characters classroom codes are drawn from.
// Ambiguous glyphs (0/O, 1/I/L) are excluded because codes are read off a
// projector and typed by hand.
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// ClassroomCodeLength is fixed; the manager never issues shorter codes and
// validation rejects anything else before it reaches the session layer.
const ClassroomCodeLength = 6

var languageCodeRegex = regexp.MustCompile(`^[a-z]{2,3}(-[a-zA-Z]{2,4})?$`)

// IsValidRole reports whether role is one of the two wire roles.
func IsValidRole(role string) bool {
	return role == RoleTeacher || role == RoleStudent
}

// IsValidLanguageCode accepts ISO 639-1/639-2 codes with an optional
// region subtag, e.g. "es", "fr", "pt-BR", "zh-Hant".
func IsValidLanguageCode(code string) bool {
	return languageCodeRegex.MatchString(code)
}

// IsValidClassroomCode checks length and alphabet. Lowercase input is
// accepted here; NormalizeClassroomCode must be applied before lookups.
func IsValidClassroomCode(code string) bool {
	if len(code) != ClassroomCodeLength {
		return false
	}
	for _, r := range strings.ToUpper(code) {
		if !strings.ContainsRune(CodeAlphabet, r) {
			return false
		}
	}
	return true
}

// NormalizeClassroomCode folds user-typed codes to the canonical form.
func NormalizeClassroomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidVisibility reports whether v is a known visibility value. The
// empty string is allowed and defaults to broadcast at the routing layer.
func IsValidVisibility(v string) bool {
	return v == "" || v == VisibilityPrivate || v == VisibilityBroadcast
}

// IsValidMode reports whether m is a known teaching mode.
func IsValidMode(m string) bool {
	return m == ModeAuto || m == ModeManual
}
