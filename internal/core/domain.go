package core

import (
	"errors"
	"strings"
	"time"
)

const (
	AccountChecking   AccountType = "checking"
	AccountSavings    AccountType = "savings"
	AccountCreditCard AccountType = "credit_card"
	AccountCash       AccountType = "cash"
	AccountInvestment AccountType = "investment"
	AccountBenefit    AccountType = "benefit"
)

const (
	TypeIncome   TransactionType = "income"
	TypeExpense  TransactionType = "expense"
	TypeTransfer TransactionType = "transfer"
)

const (
	StatusPending    TransactionStatus = "pending"
	StatusCleared    TransactionStatus = "cleared"
	StatusReconciled TransactionStatus = "reconciled"
)

const (
	SourceManual    TransactionSource = "manual"
	SourceWeb       TransactionSource = "web"
	SourceRecurring TransactionSource = "recurring"
	SourceScheduled TransactionSource = "scheduled"
	SourceImport    TransactionSource = "import"
)

const (
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
	Yearly   Frequency = "yearly"
)

type (
	AccountType       string
	TransactionType   string
	TransactionStatus string
	TransactionSource string
	Frequency         string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Account balances are maintained incrementally: every mutation goes
	// through an additive delta applied by the storage engine, never a
	// read-modify-write in application code.
	Account struct {
		ID             string
		BudgetID       string
		Name           string
		Type           AccountType
		Balance        Money
		ClearedBalance Money
		CreditLimit    Money
		ClosingDay     int // credit cards only, 0 when unset
		DueDay         int // credit cards only, 0 when unset
		Archived       bool
	}

	Category struct {
		ID       string
		BudgetID string
		Name     string
	}

	Transaction struct {
		ID                  string
		BudgetID            string
		AccountID           string
		ToAccountID         string // transfers only
		CategoryID          string
		IncomeSourceID      string
		RecurringBillID     string
		GoalID              string
		Type                TransactionType
		Status              TransactionStatus
		Amount              Money // positive magnitude; sign comes from Type
		Date                Date
		Description         string
		IsInstallment       bool
		InstallmentNumber   int
		TotalInstallments   int
		ParentTransactionID string
		Source              TransactionSource
		CreatedAt           time.Time
	}

	// RecurringBill is a template; it never holds balance state itself.
	// DueDay is a day-of-month for monthly/yearly frequencies and a
	// day-of-week (0 = Sunday) for weekly ones.
	RecurringBill struct {
		ID          string
		BudgetID    string
		Description string
		Amount      Money
		Frequency   Frequency
		DueDay      int
		DueMonth    int // yearly only
		AccountID   string
		CategoryID  string
		Active      bool
	}

	IncomeSource struct {
		ID          string
		BudgetID    string
		Description string
		Amount      Money
		Frequency   Frequency
		DueDay      int
		DueMonth    int // yearly only
		AccountID   string
		CategoryID  string
		Active      bool
	}

	Goal struct {
		ID              string
		BudgetID        string
		Name            string
		TargetAmount    Money
		CurrentAmount   Money
		LinkedAccountID string
		IsCompleted     bool
		CompletedAt     time.Time
	}

	// GoalContribution is an immutable record of one funding event.
	GoalContribution struct {
		ID            string
		GoalID        string
		Amount        Money
		Year          int
		Month         int
		FromAccountID string
		TransactionID string
		CreatedAt     time.Time
	}
)

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
)

func (a Account) IsCreditCard() bool {
	return a.Type == AccountCreditCard
}

// SourceDelta returns the signed balance delta the transaction applies to
// its source account. Destination deltas (transfers) are always +amount.
func (t Transaction) SourceDelta() int64 {
	if t.Type == TypeIncome {
		return t.Amount.Cents
	}
	return -t.Amount.Cents
}

// NewDate creates a Date at midnight UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string, the storage representation.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format("2006-01-02")
}

// Day returns the day of the month.
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month as an int.
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year.
func (d Date) Year() int {
	return d.Time.Year()
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// DaysInMonth returns the number of days in the given calendar month.
func DaysInMonth(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampDay clamps a day-of-month to the length of the given month, so a due
// day of 31 lands on Feb 28 (or 29 in leap years).
func ClampDay(year, month, day int) int {
	if last := DaysInMonth(year, month); day > last {
		return last
	}
	return day
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (t Transaction) Validate() error {
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	switch t.Type {
	case TypeIncome, TypeExpense, TypeTransfer:
	default:
		return &ValidationError{Field: "type", Reason: "unknown transaction type " + string(t.Type)}
	}
	if t.Type == TypeTransfer && t.ToAccountID == "" {
		return &ValidationError{Field: "toAccountId", Reason: "transfer requires a destination account"}
	}
	return nil
}

func (b RecurringBill) Validate() error {
	return validateTemplate(b.Description, b.Amount, b.Frequency, b.DueDay, b.DueMonth, false)
}

func (s IncomeSource) Validate() error {
	return validateTemplate(s.Description, s.Amount, s.Frequency, s.DueDay, s.DueMonth, true)
}

func validateTemplate(desc string, amount Money, freq Frequency, dueDay, dueMonth int, allowBiweekly bool) error {
	if len(strings.TrimSpace(desc)) == 0 {
		return ErrEmptyDescription
	}
	if err := amount.Validate(); err != nil {
		return err
	}
	switch freq {
	case Weekly:
		if dueDay < 0 || dueDay > 6 {
			return &ValidationError{Field: "dueDay", Reason: "weekly due day must be a weekday 0-6"}
		}
	case Monthly:
		if dueDay < 0 || dueDay > 31 {
			return ErrInvalidDay
		}
	case Yearly:
		if dueDay < 0 || dueDay > 31 {
			return ErrInvalidDay
		}
		if dueMonth < 1 || dueMonth > 12 {
			return &ValidationError{Field: "dueMonth", Reason: "yearly template requires a due month"}
		}
	case Biweekly:
		if !allowBiweekly {
			return &ValidationError{Field: "frequency", Reason: "biweekly is only supported for income sources"}
		}
		if dueDay < 0 || dueDay > 31 {
			return ErrInvalidDay
		}
	default:
		return &ValidationError{Field: "frequency", Reason: "unknown frequency " + string(freq)}
	}
	return nil
}
