package core

// InstallmentDates returns the calendar dates of count installments starting
// at first. Each subsequent date advances by one month while preserving the
// original day-of-month, clamped to the target month's last day when it does
// not exist there. Clamping never cascades: Jan 31 yields Feb 28 and then
// Mar 31, not Mar 28.
func InstallmentDates(first Date, count int) []Date {
	if count <= 0 {
		return nil
	}
	dates := make([]Date, count)
	year, month, day := first.Year(), first.Month(), first.Day()
	for i := 0; i < count; i++ {
		y, m := year, month+i
		for m > 12 {
			y, m = y+1, m-12
		}
		dates[i] = NewDate(y, m, ClampDay(y, m, day))
	}
	return dates
}

// FirstInstallmentDate anchors a credit-card installment plan: the purchase
// is classified into its billing month and the first installment lands on
// that month's (clamped) closing day. Purchases on non-credit accounts do
// not use this; their installments advance from the raw purchase date.
func FirstInstallmentDate(purchase Date, closingDay int) Date {
	year, month := ClassifyBillingMonth(purchase, closingDay)
	return NewDate(year, month, ClampDay(year, month, closingDay))
}
