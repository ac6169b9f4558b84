package silver

import (
	"strings"

	"PMCMirror/internal/domain"
)

// fundingStrategy normalizes one funding entry of a given encoding.
type fundingStrategy func(domain.Funding) (domain.Funding, bool)

var fundingStrategies = map[domain.SourceScheme]fundingStrategy{
	domain.SchemeModern: normalizeModern,
	domain.SchemeLegacy: normalizeLegacy,
}

func normalizeModern(f domain.Funding) (domain.Funding, bool) {
	out := domain.Funding{
		Agency:       collapse(f.Agency),
		GrantID:      collapse(f.GrantID),
		SourceScheme: domain.SchemeModern,
	}
	return out, out.Agency != "" || out.GrantID != ""
}

// normalizeLegacy keeps whatever the single-field encoding gave. A bare
// contract number never gains an agency.
func normalizeLegacy(f domain.Funding) (domain.Funding, bool) {
	out := domain.Funding{
		Agency:       collapse(f.Agency),
		GrantID:      strings.Trim(collapse(f.GrantID), ".;,"),
		SourceScheme: domain.SchemeLegacy,
	}
	return out, out.Agency != "" || out.GrantID != ""
}

// UnifyFunding merges modern and legacy entries into one list in source
// order. Entries with an unknown scheme are dropped and counted.
func UnifyFunding(entries []domain.Funding) ([]domain.Funding, int) {
	out := make([]domain.Funding, 0, len(entries))
	unknown := 0
	for _, f := range entries {
		strategy, ok := fundingStrategies[f.SourceScheme]
		if !ok {
			unknown++
			continue
		}
		if normalized, keep := strategy(f); keep {
			out = append(out, normalized)
		}
	}
	return out, unknown
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
