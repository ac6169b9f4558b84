package domain

import (
	"strings"
	"unicode"
)

// NormalizeLicense upper-cases a license identifier, turns separators into
// "-" and drops a trailing version ("CC BY 4.0" and "cc-by" both give "CC-BY").
func NormalizeLicense(raw string) string {
	fields := strings.FieldsFunc(strings.ToUpper(strings.TrimSpace(raw)), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '/' || r == '\t'
	})
	for len(fields) > 1 && isVersion(fields[len(fields)-1]) {
		fields = fields[:len(fields)-1]
	}
	return strings.Join(fields, "-")
}

func isVersion(s string) bool {
	s = strings.TrimPrefix(s, "V")
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' {
			return false
		}
	}
	return true
}
