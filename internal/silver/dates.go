package silver

import (
	"strconv"
	"strings"
	"time"

	"PMCMirror/internal/domain"
)

var monthNames = map[string]int{
	"jan": 1, "january": 1, "feb": 2, "february": 2, "mar": 3, "march": 3,
	"apr": 4, "april": 4, "may": 5, "jun": 6, "june": 6, "jul": 7, "july": 7,
	"aug": 8, "august": 8, "sep": 9, "sept": 9, "september": 9, "oct": 10,
	"october": 10, "nov": 11, "november": 11, "dec": 12, "december": 12,
}

var seasonNames = map[string]string{
	"spring": "Spring", "summer": "Summer", "fall": "Fall", "autumn": "Fall", "winter": "Winter",
}

// dateStrategy resolves one date dialect.
type dateStrategy struct {
	applies func(domain.DateParts) bool
	resolve func(domain.DateParts) domain.CanonicalDate
}

// dateStrategies are tried in order: structured elements, the iso-8601-date
// attribute, then free-text string-date.
var dateStrategies = []dateStrategy{
	{applies: func(p domain.DateParts) bool { return p.Year != "" }, resolve: fromElements},
	{applies: func(p domain.DateParts) bool { return p.ISO != "" }, resolve: func(p domain.DateParts) domain.CanonicalDate { return fromISO(p.ISO) }},
	{applies: func(p domain.DateParts) bool { return p.Text != "" }, resolve: func(p domain.DateParts) domain.CanonicalDate { return fromText(p.Text) }},
}

// NormalizeDate resolves raw date parts to a canonical date. It never fails:
// anything it cannot make sense of is returned with PrecisionUnresolved. The
// first dialect present decides; an invalid component is not patched from another.
func NormalizeDate(p domain.DateParts) domain.CanonicalDate {
	for _, s := range dateStrategies {
		if s.applies(p) {
			return s.resolve(p)
		}
	}
	return unresolved()
}

func unresolved() domain.CanonicalDate {
	return domain.CanonicalDate{Precision: domain.PrecisionUnresolved}
}

func fromElements(p domain.DateParts) domain.CanonicalDate {
	year, ok := parseYear(p.Year)
	if !ok {
		return unresolved()
	}

	month := 0
	if p.Month != "" {
		if month, ok = parseMonth(p.Month); !ok {
			return unresolved()
		}
	}

	season := ""
	if month == 0 && p.Season != "" {
		if m, ok := parseMonth(p.Season); ok {
			month = m
		} else if season, ok = parseSeason(p.Season); !ok {
			return unresolved()
		}
	}

	return build(year, month, strings.TrimSpace(p.Day), season)
}

func build(year, month int, rawDay, season string) domain.CanonicalDate {
	if rawDay != "" {
		if month == 0 {
			return unresolved()
		}
		day, err := strconv.Atoi(rawDay)
		if err != nil || day < 1 || day > daysIn(year, month) {
			return unresolved()
		}
		return domain.CanonicalDate{Year: year, Month: month, Day: day, Precision: domain.PrecisionDay}
	}
	switch {
	case month != 0:
		return domain.CanonicalDate{Year: year, Month: month, Precision: domain.PrecisionMonth}
	case season != "":
		return domain.CanonicalDate{Year: year, Season: season, Precision: domain.PrecisionSeason}
	default:
		return domain.CanonicalDate{Year: year, Precision: domain.PrecisionYear}
	}
}

func fromISO(raw string) domain.CanonicalDate {
	parts := strings.Split(strings.TrimSpace(raw), "-")
	if len(parts) == 0 || len(parts) > 3 {
		return unresolved()
	}
	year, ok := parseYear(parts[0])
	if !ok {
		return unresolved()
	}
	month := 0
	if len(parts) > 1 {
		m, err := strconv.Atoi(parts[1])
		if err != nil || m < 1 || m > 12 {
			return unresolved()
		}
		month = m
	}
	day := ""
	if len(parts) > 2 {
		day = parts[2]
	}
	return build(year, month, day, "")
}

// fromText reads free-form dates such as "Winter 2020", "March 5, 2021" or "2019 Jan-Feb".
func fromText(raw string) domain.CanonicalDate {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ',' || r == '/' || r == '.'
	})
	var (
		year, month int
		day, season string
	)
	for _, tok := range tokens {
		lower := strings.ToLower(tok)
		switch {
		case len(tok) == 10 && tok[4] == '-' && isDigits(tok[:4]):
			return fromISO(tok)
		case len(tok) == 4 && isDigits(tok):
			year, _ = strconv.Atoi(tok)
		case isDigits(tok) && len(tok) <= 2:
			day = tok
		default:
			if m, ok := parseMonth(lower); ok && month == 0 {
				month = m
			} else if s, ok := parseSeason(lower); ok {
				season = s
			} else {
				return unresolved()
			}
		}
	}
	if year == 0 {
		return unresolved()
	}
	if month != 0 {
		season = ""
	}
	return build(year, month, day, season)
}

func parseYear(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) != 4 || !isDigits(raw) {
		return 0, false
	}
	y, _ := strconv.Atoi(raw)
	return y, y > 0
}

// parseMonth accepts numbers, English names and abbreviations, and ranges
// such as "Jan-Feb", which resolve to their first month.
func parseMonth(raw string) (int, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(raw, "-–/"); i > 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	raw = strings.TrimSuffix(raw, ".")
	if isDigits(raw) {
		m, err := strconv.Atoi(raw)
		return m, err == nil && m >= 1 && m <= 12
	}
	m, ok := monthNames[raw]
	return m, ok
}

func parseSeason(raw string) (string, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(raw, "-–/"); i > 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	s, ok := seasonNames[raw]
	return s, ok
}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
