package dates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testNow = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		policy DayPolicy
		want   time.Time
		ok     bool
	}{
		{"year only", "2023", DayFloor, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"year and month", "2023 Jun", DayFloor, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), true},
		{"year month ceil", "2023 Jun", DayCeil, time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC), true},
		{"february ceil", "2023 Feb", DayCeil, time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC), true},
		{"full token date", "2023 Jun 5", DayFloor, time.Date(2023, 6, 5, 0, 0, 0, 0, time.UTC), true},
		{"slash date", "2023/06/05", DayFloor, time.Date(2023, 6, 5, 0, 0, 0, 0, time.UTC), true},
		{"dash date", "2023-06-05", DayFloor, time.Date(2023, 6, 5, 0, 0, 0, 0, time.UTC), true},
		{"slash year month", "2023/06", DayFloor, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), true},
		{"sort date with time", "2023/06/05 00:00", DayFloor, time.Date(2023, 6, 5, 0, 0, 0, 0, time.UTC), true},
		{"month range takes first", "2020 Jan-Feb", DayFloor, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"full month name", "2023 June 5", DayFloor, time.Date(2023, 6, 5, 0, 0, 0, 0, time.UTC), true},
		{"empty", "", DayFloor, time.Time{}, false},
		{"season is unparseable", "2020 Spring", DayFloor, time.Time{}, false},
		{"year span is unparseable", "2020-2021", DayFloor, time.Time{}, false},
		{"garbage", "ahead of print", DayFloor, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.raw, tt.policy)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	t.Run("each supported format yields a year", func(t *testing.T) {
		for _, raw := range []string{"2023", "2023 Jun", "2023 Jun 5", "2023/06/05"} {
			r := Resolve(Candidates{EPub: raw}, testNow, DayFloor)
			assert.Equal(t, 2023, r.Year, "raw %q", raw)
		}
	})

	t.Run("full date keeps exact day", func(t *testing.T) {
		r := Resolve(Candidates{EPub: "2023 Jun 5"}, testNow, DayFloor)
		assert.Equal(t, "2023-06-05T00:00:00Z", r.ISO)
		assert.Equal(t, 6, r.Month)
		assert.Equal(t, "June", r.MonthName)
	})

	t.Run("month without day defaults to first", func(t *testing.T) {
		r := Resolve(Candidates{EPub: "2023 Jun"}, testNow, DayFloor)
		assert.Equal(t, "2023-06-01T00:00:00Z", r.ISO)
	})

	t.Run("picks most recent of epub and print", func(t *testing.T) {
		r := Resolve(Candidates{EPub: "2023 Jun 5", Print: "2023 Aug 1"}, testNow, DayFloor)
		assert.Equal(t, "2023-08-01T00:00:00Z", r.ISO)
	})

	t.Run("future candidate beyond grace window loses", func(t *testing.T) {
		r := Resolve(Candidates{EPub: "2026 Jan 1", Print: "2024 Dec 1"}, testNow, DayFloor)
		assert.Equal(t, 2024, r.Year)
		assert.Equal(t, 12, r.Month)
	})

	t.Run("candidate within grace window wins", func(t *testing.T) {
		tomorrow := testNow.AddDate(0, 0, 1).Format("2006/01/02")
		r := Resolve(Candidates{EPub: tomorrow, Print: "2024 Dec 1"}, testNow, DayFloor)
		assert.Equal(t, 2025, r.Year)
	})

	t.Run("all-future candidates fall back to latest", func(t *testing.T) {
		r := Resolve(Candidates{EPub: "2027 Jan 1", Print: "2026 Jun 1"}, testNow, DayFloor)
		assert.Equal(t, 2027, r.Year)
	})

	t.Run("falls back to sort date", func(t *testing.T) {
		r := Resolve(Candidates{EPub: "ahead of print", Sort: "2022/11/03 00:00"}, testNow, DayFloor)
		assert.Equal(t, "2022-11-03T00:00:00Z", r.ISO)
	})

	t.Run("falls back to bare year in free text", func(t *testing.T) {
		r := Resolve(Candidates{Fallback: []string{"Epub 2021 ahead of print"}}, testNow, DayFloor)
		assert.Equal(t, 2021, r.Year)
		assert.Equal(t, 1, r.Month)
	})

	t.Run("nothing resolves", func(t *testing.T) {
		r := Resolve(Candidates{EPub: "n/a", Fallback: []string{"in press"}}, testNow, DayFloor)
		assert.Equal(t, Resolved{}, r)
	})
}
