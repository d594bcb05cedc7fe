package services

import (
	"testing"

	"conti/internal/core"
)

func dateStrings(dates []core.Date) []string {
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.String())
	}
	return out
}

func assertDates(t *testing.T, got []core.Date, want []string) {
	t.Helper()
	gotStr := dateStrings(got)
	if len(gotStr) != len(want) {
		t.Fatalf("got %v, want %v", gotStr, want)
	}
	for i := range want {
		if gotStr[i] != want[i] {
			t.Fatalf("got %v, want %v", gotStr, want)
		}
	}
}

func TestMonthlyRule(t *testing.T) {
	tests := []struct {
		name   string
		dueDay int
		year   int
		month  int
		want   []string
	}{
		{"regular day", 15, 2025, 3, []string{"2025-03-15"}},
		{"clamped to february", 31, 2025, 2, []string{"2025-02-28"}},
		{"clamped to leap february", 30, 2024, 2, []string{"2024-02-29"}},
		{"zero due day defaults to first", 0, 2025, 6, []string{"2025-06-01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertDates(t, MonthlyRule{}.Occurrences(tt.dueDay, 0, tt.year, tt.month), tt.want)
		})
	}
	if (MonthlyRule{}).DedupeByDate() {
		t.Fatal("monthly should dedupe per template, not per date")
	}
}

func TestYearlyRule(t *testing.T) {
	rule := YearlyRule{}
	if got := rule.Occurrences(15, 6, 2025, 3); got != nil {
		t.Fatalf("expected no occurrences outside due month, got %v", dateStrings(got))
	}
	assertDates(t, rule.Occurrences(15, 6, 2025, 6), []string{"2025-06-15"})
	assertDates(t, rule.Occurrences(31, 2, 2025, 2), []string{"2025-02-28"})
}

func TestWeeklyRule(t *testing.T) {
	// 2025-06-01 is a Sunday, so Mondays (weekday 1) fall on 2, 9, 16, 23, 30.
	assertDates(t, WeeklyRule{}.Occurrences(1, 0, 2025, 6),
		[]string{"2025-06-02", "2025-06-09", "2025-06-16", "2025-06-23", "2025-06-30"})

	// Sundays in June 2025: 1, 8, 15, 22, 29.
	assertDates(t, WeeklyRule{}.Occurrences(0, 0, 2025, 6),
		[]string{"2025-06-01", "2025-06-08", "2025-06-15", "2025-06-22", "2025-06-29"})

	if !(WeeklyRule{}).DedupeByDate() {
		t.Fatal("weekly must dedupe per date")
	}
}

func TestBiweeklyRule(t *testing.T) {
	assertDates(t, BiweeklyRule{}.Occurrences(1, 0, 2025, 6),
		[]string{"2025-06-01", "2025-06-15"})

	// Both dates clamp to month end when the base day is late in the month.
	assertDates(t, BiweeklyRule{}.Occurrences(20, 0, 2025, 2),
		[]string{"2025-02-20", "2025-02-28"})

	if !(BiweeklyRule{}).DedupeByDate() {
		t.Fatal("biweekly must dedupe per date")
	}
}

func TestGetOccurrenceRule(t *testing.T) {
	for _, freq := range []core.Frequency{core.Weekly, core.Biweekly, core.Monthly, core.Yearly} {
		if _, err := GetOccurrenceRule(freq); err != nil {
			t.Fatalf("GetOccurrenceRule(%s): %v", freq, err)
		}
	}
	if _, err := GetOccurrenceRule("daily"); err == nil {
		t.Fatal("expected error for unknown frequency")
	}
}
