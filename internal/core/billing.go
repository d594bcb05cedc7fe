package core

// BillingCycle is the date range of transactions that will appear on one
// credit-card statement, bounded by consecutive closing days.
type BillingCycle struct {
	Start Date
	End   Date
}

// CycleDates computes the billing cycle that closes in calendar month
// (year, month) for a card with the given closing day. The cycle ends on the
// closing day of that month, clamped to the month's actual length, and
// starts the day after the previous month's (clamped) closing day. When the
// day after the previous close does not exist in the previous month, the
// start collapses to the 1st of (year, month).
func CycleDates(closingDay, year, month int) (BillingCycle, error) {
	if closingDay < 1 || closingDay > 31 {
		return BillingCycle{}, ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return BillingCycle{}, ErrInvalidMonth
	}

	end := NewDate(year, month, ClampDay(year, month, closingDay))

	prevYear, prevMonth := year, month-1
	if prevMonth < 1 {
		prevYear, prevMonth = year-1, 12
	}
	startDay := ClampDay(prevYear, prevMonth, closingDay) + 1
	if startDay > DaysInMonth(prevYear, prevMonth) {
		return BillingCycle{Start: NewDate(year, month, 1), End: end}, nil
	}
	return BillingCycle{Start: NewDate(prevYear, prevMonth, startDay), End: end}, nil
}

// ClassifyBillingMonth resolves which billing month a transaction date falls
// into: strictly after the (clamped) closing day belongs to the next month's
// cycle, on or before belongs to the current one. December rolls over into
// January of the following year.
//
// The classification is symmetric with CycleDates: every date inside the
// cycle of (y, m) classifies back to (y, m).
func ClassifyBillingMonth(d Date, closingDay int) (year, month int) {
	year, month = d.Year(), d.Month()
	if d.Day() > ClampDay(year, month, closingDay) {
		month++
		if month > 12 {
			year, month = year+1, 1
		}
	}
	return year, month
}
