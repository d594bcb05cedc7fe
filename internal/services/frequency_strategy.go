// Package services orchestrates the ledger engine: pending materialization,
// atomic transaction creation, and goal funding.
//
// This file implements the Strategy Pattern for recurring-template
// occurrence dates. Each frequency owns the rules for which calendar days it
// produces inside a month and how already-materialized rows are matched.
package services

import (
	"fmt"
	"time"

	"conti/internal/core"
)

// OccurrenceRule is the strategy interface for one template frequency.
type OccurrenceRule interface {
	// Occurrences returns the due dates the template produces within the
	// given calendar month. dueDay is a day-of-month, except for weekly
	// frequencies where it is a weekday (0 = Sunday). dueMonth only
	// matters for yearly templates.
	Occurrences(dueDay, dueMonth, year, month int) []core.Date

	// DedupeByDate reports whether existing rows are matched by exact
	// calendar date. Frequencies that recur more than once per month need
	// date-level matching; once-a-month frequencies dedupe on the
	// template alone.
	DedupeByDate() bool
}

// MonthlyRule produces one occurrence per month on the clamped due day.
type MonthlyRule struct{}

func (MonthlyRule) Occurrences(dueDay, _, year, month int) []core.Date {
	if dueDay < 1 {
		dueDay = 1
	}
	return []core.Date{core.NewDate(year, month, core.ClampDay(year, month, dueDay))}
}

func (MonthlyRule) DedupeByDate() bool { return false }

// YearlyRule produces one occurrence in its due month and none elsewhere.
type YearlyRule struct{}

func (YearlyRule) Occurrences(dueDay, dueMonth, year, month int) []core.Date {
	if dueMonth != month {
		return nil
	}
	if dueDay < 1 {
		dueDay = 1
	}
	return []core.Date{core.NewDate(year, month, core.ClampDay(year, month, dueDay))}
}

func (YearlyRule) DedupeByDate() bool { return false }

// WeeklyRule produces every date in the month falling on the due weekday.
type WeeklyRule struct{}

func (WeeklyRule) Occurrences(dueDay, _, year, month int) []core.Date {
	weekday := time.Weekday(dueDay % 7)
	var dates []core.Date
	for day := 1; day <= core.DaysInMonth(year, month); day++ {
		d := core.NewDate(year, month, day)
		if d.Weekday() == weekday {
			dates = append(dates, d)
		}
	}
	return dates
}

func (WeeklyRule) DedupeByDate() bool { return true }

// BiweeklyRule produces exactly two occurrences per month: the base day and
// the base day plus fourteen, both clamped to the month's length.
type BiweeklyRule struct{}

func (BiweeklyRule) Occurrences(dueDay, _, year, month int) []core.Date {
	if dueDay < 1 {
		dueDay = 1
	}
	first := core.ClampDay(year, month, dueDay)
	second := core.ClampDay(year, month, dueDay+14)
	return []core.Date{core.NewDate(year, month, first), core.NewDate(year, month, second)}
}

func (BiweeklyRule) DedupeByDate() bool { return true }

// occurrenceRules maps frequencies to their rules for O(1) dispatch.
var occurrenceRules = map[core.Frequency]OccurrenceRule{
	core.Monthly:  MonthlyRule{},
	core.Yearly:   YearlyRule{},
	core.Weekly:   WeeklyRule{},
	core.Biweekly: BiweeklyRule{},
}

// GetOccurrenceRule returns the rule for a frequency, or an error for
// frequencies the engine does not know.
func GetOccurrenceRule(freq core.Frequency) (OccurrenceRule, error) {
	rule, ok := occurrenceRules[freq]
	if !ok {
		return nil, fmt.Errorf("unknown frequency: %s", freq)
	}
	return rule, nil
}
