package extractor

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const isoDate = "2006-01-02"

const monthName = `(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?`

// datePattern converts its submatches into a calendar date.
type datePattern struct {
	re    *regexp.Regexp
	parse func(groups []string, receivedAt time.Time) (time.Time, bool)
}

// Earlier patterns claim their text first, so 2024-01-15 is never re-read as 24-01-15.
var datePatterns = []datePattern{
	{
		re: regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`),
		parse: func(g []string, _ time.Time) (time.Time, bool) {
			return calendarDate(g[1], g[2], g[3])
		},
	},
	{
		re: regexp.MustCompile(`\b(\d{4})/(\d{1,2})/(\d{1,2})\b`),
		parse: func(g []string, _ time.Time) (time.Time, bool) {
			return calendarDate(g[1], g[2], g[3])
		},
	},
	{
		// Day first, as banks in the region write it. A month above twelve
		// means the sender wrote month first.
		re: regexp.MustCompile(`\b(\d{1,2})[/.-](\d{1,2})[/.-](\d{4}|\d{2})\b`),
		parse: func(g []string, _ time.Time) (time.Time, bool) {
			day, month, year := g[1], g[2], g[3]
			if m, _ := strconv.Atoi(month); m > 12 {
				day, month = month, day
			}
			if len(year) == 2 {
				year = "20" + year
			}
			return calendarDate(year, month, day)
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?[\s-]+` + monthName + `,?[\s-]+(\d{4})\b`),
		parse: func(g []string, _ time.Time) (time.Time, bool) {
			return calendarDate(g[3], monthNumber(g[2]), g[1])
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b` + monthName + `\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`),
		parse: func(g []string, _ time.Time) (time.Time, bool) {
			return calendarDate(g[3], monthNumber(g[1]), g[2])
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(today|yesterday)\b`),
		parse: func(g []string, receivedAt time.Time) (time.Time, bool) {
			if receivedAt.IsZero() {
				return time.Time{}, false
			}
			d := receivedAt
			if strings.EqualFold(g[1], "yesterday") {
				d = d.AddDate(0, 0, -1)
			}
			return d, true
		},
	},
}

type dateCandidate struct {
	value string
	pos   int
}

// extractDates returns ISO 8601 dates in order of first occurrence.
func extractDates(text string, receivedAt time.Time) []string {
	var (
		claimed    spans
		candidates []dateCandidate
	)
	for _, p := range datePatterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			if claimed.overlaps(m[0], m[1]) {
				continue
			}
			d, ok := p.parse(submatches(text, m), receivedAt)
			if !ok {
				continue
			}
			claimed = append(claimed, span{m[0], m[1]})
			candidates = append(candidates, dateCandidate{value: d.Format(isoDate), pos: m[0]})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].pos < candidates[j].pos })

	out := []string{}
	seen := make(map[string]struct{})
	for _, c := range candidates {
		if _, dup := seen[c.value]; dup {
			continue
		}
		seen[c.value] = struct{}{}
		out = append(out, c.value)
	}
	return out
}

// calendarDate builds a date and rejects values time.Date would roll over,
// such as February 30th.
func calendarDate(year, month, day string) (time.Time, bool) {
	y, err1 := strconv.Atoi(year)
	m, err2 := strconv.Atoi(month)
	d, err3 := strconv.Atoi(day)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	if y < 1990 || y > 2100 || m < 1 || m > 12 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || int(t.Month()) != m {
		return time.Time{}, false
	}
	return t, true
}

func monthNumber(name string) string {
	switch strings.ToLower(name)[:3] {
	case "jan":
		return "1"
	case "feb":
		return "2"
	case "mar":
		return "3"
	case "apr":
		return "4"
	case "may":
		return "5"
	case "jun":
		return "6"
	case "jul":
		return "7"
	case "aug":
		return "8"
	case "sep":
		return "9"
	case "oct":
		return "10"
	case "nov":
		return "11"
	case "dec":
		return "12"
	}
	return ""
}

func submatches(text string, loc []int) []string {
	out := make([]string, len(loc)/2)
	for i := range out {
		if loc[2*i] >= 0 {
			out[i] = text[loc[2*i]:loc[2*i+1]]
		}
	}
	return out
}
