package regulation

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are tried in order. Unpadded layout digits accept both padded and
// unpadded source text, so "2024-01-15" and "2024-1-15" parse alike.
var dateLayouts = []string{
	"2006-1-2",
	"2006/1/2",
	"2006年1月2日",
	"2006.1.2",
	"2006-1",
	"2006/1",
	"2006年1月",
}

// yearMonthDay recovers a date from free-form text when no exact layout
// matched. The day group is optional and defaults to the first of the month.
var yearMonthDay = regexp.MustCompile(`(\d{4})[年/-](\d{1,2})[月/-]?(\d{1,2})?`)

// ParseDate parses a date string through the layout cascade. The boolean is
// false when the string carries no recognizable date or names an invalid
// calendar value.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	m := yearMonthDay.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day := 1
	if m[3] != "" {
		day, _ = strconv.Atoi(m[3])
	}
	return calendarDate(year, month, day)
}

// calendarDate builds a UTC date, rejecting values time.Date would silently
// normalize (month 13, day 32, and the like).
func calendarDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}
