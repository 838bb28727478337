// Package dates resolves the heterogeneous partial-date strings carried by
// bibliographic records into a single canonical (year, month, timestamp)
// triple. The literature database reports dates as "2023", "2023 Jun",
// "2023 Jun 5", or "2023/06/05", split across an electronic-publication
// date and a print/issue date that frequently disagree.
package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DayPolicy controls the day-of-month used when a candidate carries a month
// but no day.
type DayPolicy int

const (
	// DayFloor defaults the missing day to 1.
	DayFloor DayPolicy = iota

	// DayCeil defaults the missing day to the last day of the month.
	// Used when resolving a "latest known date", where a bare "2023 Jun"
	// should not lose to "2023 Jun 2".
	DayCeil
)

// graceWindow is how far into the future a candidate may sit and still be
// trusted. Upstream clocks and embargo dates drift by up to a day.
const graceWindow = 24 * time.Hour

// Resolved is the canonical date triple for a record. A zero Year means no
// field resolved; all other fields are then zero-valued too.
type Resolved struct {
	ISO       string
	Year      int
	Month     int
	MonthName string
}

// Candidates are the raw date fields of one record.
type Candidates struct {
	// EPub is the electronic-publication date string.
	EPub string

	// Print is the print/issue date string.
	Print string

	// Sort is the catalog sort-date field, tried when neither EPub nor
	// Print parses.
	Sort string

	// Fallback holds any further free text a bare 4-digit year may be
	// pulled from as a last resort.
	Fallback []string
}

// monthNames maps lowercase month tokens (abbreviation and full) to
// time.Month.
var monthNames = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// Parse parses a single raw date string. It tries, in order: a numeric
// Y-M-D or Y/M/D pattern, a 4-digit year followed by a month token and
// optional day, then a bare 4-digit year (month and day default per
// policy with the year-only month fixed at January).
// The second return is false when nothing parses.
func Parse(raw string, policy DayPolicy) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	if t, ok := parseNumeric(raw, policy); ok {
		return t, true
	}
	if t, ok := parseYearMonthToken(raw, policy); ok {
		return t, true
	}
	if year, ok := parseBareYear(raw); ok {
		return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// parseNumeric handles "2023/06/05", "2023-06-05", "2023/06" and the
// esummary sort-date form "2023/06/05 00:00".
func parseNumeric(raw string, policy DayPolicy) (time.Time, bool) {
	// Drop a trailing time-of-day component.
	if i := strings.IndexByte(raw, ' '); i > 0 && strings.ContainsAny(raw[:i], "/-") {
		raw = raw[:i]
	}

	sep := ""
	switch {
	case strings.Contains(raw, "/"):
		sep = "/"
	case strings.Contains(raw, "-"):
		sep = "-"
	default:
		return time.Time{}, false
	}

	parts := strings.Split(raw, sep)
	if len(parts) < 2 || len(parts) > 3 {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil || len(parts[0]) != 4 {
		return time.Time{}, false
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, false
	}

	if len(parts) == 3 {
		day, err := strconv.Atoi(parts[2])
		if err != nil || day < 1 || day > 31 {
			return time.Time{}, false
		}
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
	}
	return dateWithPolicy(year, time.Month(month), policy), true
}

// parseYearMonthToken handles "2023 Jun" and "2023 Jun 5".
func parseYearMonthToken(raw string, policy DayPolicy) (time.Time, bool) {
	fields := strings.Fields(raw)
	if len(fields) < 2 || len(fields[0]) != 4 {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(fields[0])
	if err != nil {
		return time.Time{}, false
	}

	// Month tokens may arrive as ranges ("Jan-Feb"); the first token wins.
	token := strings.ToLower(strings.SplitN(fields[1], "-", 2)[0])
	month, ok := monthNames[token]
	if !ok {
		return time.Time{}, false
	}

	if len(fields) >= 3 {
		if day, err := strconv.Atoi(fields[2]); err == nil && day >= 1 && day <= 31 {
			return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), true
		}
	}
	return dateWithPolicy(year, month, policy), true
}

// parseBareYear accepts a string that is exactly a 4-digit year.
func parseBareYear(raw string) (int, bool) {
	if len(raw) != 4 {
		return 0, false
	}
	year, err := strconv.Atoi(raw)
	if err != nil || year < 1000 {
		return 0, false
	}
	return year, true
}

func dateWithPolicy(year int, month time.Month, policy DayPolicy) time.Time {
	if policy == DayCeil {
		// First of next month minus a day.
		return time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	}
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

// Resolve picks the canonical date for a record: among the EPub and Print
// candidates, the most recent one that does not exceed now plus a one-day
// grace window; if every candidate is in the future, the latest wins
// regardless. When neither parses it falls back to the Sort field, then to
// a bare 4-digit year extracted from any Fallback text. The policy applies
// to candidates missing a day.
func Resolve(c Candidates, now time.Time, policy DayPolicy) Resolved {
	horizon := now.Add(graceWindow)

	var candidates []time.Time
	for _, raw := range []string{c.EPub, c.Print} {
		if t, ok := Parse(raw, policy); ok {
			candidates = append(candidates, t)
		}
	}

	if len(candidates) > 0 {
		var best time.Time
		var haveBest bool
		var latest time.Time
		for _, t := range candidates {
			if t.After(latest) {
				latest = t
			}
			if !t.After(horizon) && (!haveBest || t.After(best)) {
				best = t
				haveBest = true
			}
		}
		if !haveBest {
			best = latest
		}
		return fromTime(best)
	}

	if t, ok := Parse(c.Sort, policy); ok {
		return fromTime(t)
	}

	for _, text := range c.Fallback {
		if m := yearPattern.FindString(text); m != "" {
			year, _ := strconv.Atoi(m)
			return fromTime(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC))
		}
	}

	return Resolved{}
}

func fromTime(t time.Time) Resolved {
	return Resolved{
		ISO:       t.UTC().Format(time.RFC3339),
		Year:      t.Year(),
		Month:     int(t.Month()),
		MonthName: t.Month().String(),
	}
}
