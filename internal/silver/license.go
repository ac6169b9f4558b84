package silver

import (
	"net/url"
	"strings"

	"PMCMirror/internal/domain"
)

// ResolveLicense maps a license URL or label to a normalized identifier.
// Creative Commons URLs become CC-<terms>; anything else is normalized as text.
func ResolveLicense(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Unresolved
	}

	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
		segments := strings.FieldsFunc(strings.ToLower(u.Path), func(r rune) bool { return r == '/' })
		if host == "creativecommons.org" && len(segments) >= 2 {
			switch {
			case segments[0] == "licenses":
				return "CC-" + strings.ToUpper(segments[1])
			case segments[0] == "publicdomain" && segments[1] == "zero":
				return "CC0"
			case segments[0] == "publicdomain":
				return "PUBLIC-DOMAIN"
			}
		}
		return domain.Unresolved
	}

	if id := domain.NormalizeLicense(raw); id != "" {
		return id
	}
	return domain.Unresolved
}
