package congress

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	periodYearsRe     = regexp.MustCompile(`(\d{4})\D+(\d{4})`)
	legislatureYearRe = regexp.MustCompile(`(\d{4})`)
	romanHalfRe       = regexp.MustCompile(`\d{4}\s*-\s*(I{1,2})\b`)
)

// LegislativeYear derives the "YYYY-YYYY" legislative year from a
// legislature label. The first legislature of calendar year Y opens the
// year (Y, Y+1); the second closes the one that started the year before,
// (Y-1, Y). Labels like "2024-I"/"2024-II" are accepted too.
func LegislativeYear(label string) (string, bool) {
	m := legislatureYearRe.FindStringSubmatch(label)
	if m == nil {
		return "", false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return "", false
	}
	lower := strings.ToLower(label)
	switch {
	case strings.Contains(lower, "segunda"):
		return yearPair(year - 1), true
	case strings.Contains(lower, "primera"):
		return yearPair(year), true
	}
	if r := romanHalfRe.FindStringSubmatch(label); r != nil {
		if r[1] == "II" {
			return yearPair(year - 1), true
		}
		return yearPair(year), true
	}
	return "", false
}

func yearPair(start int) string {
	return fmt.Sprintf("%d-%d", start, start+1)
}

// CanonicalPeriod reduces a legislative period label to "YYYY-YYYY". The
// directory labels periods "Parlamentario 2021 - 2026" while the bill
// service reports "2021-2026"; both map to the latter. Labels without two
// years are returned trimmed.
func CanonicalPeriod(label string) string {
	if m := periodYearsRe.FindStringSubmatch(label); m != nil {
		return m[1] + "-" + m[2]
	}
	return strings.TrimSpace(label)
}
