package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"conti/internal/core"
	"conti/internal/storage"
)

// PendingGenerator materializes pending transactions from active recurring
// templates when a month is first viewed. It runs synchronously inside the
// caller's request; there is no background scheduler.
type PendingGenerator struct {
	storage *storage.SQLiteRepository
}

func NewPendingGenerator(storage *storage.SQLiteRepository) *PendingGenerator {
	return &PendingGenerator{storage: storage}
}

// EnsureResult summarizes one materialization pass.
type EnsureResult struct {
	Created        int `json:"created"`
	Expenses       int `json:"expenses"`
	Income         int `json:"income"`
	AlreadyExisted int `json:"alreadyExisted"`
}

// EnsurePendingForMonth creates the pending rows missing for the budget's
// calendar month. Repeated calls with unchanged templates create nothing:
// monthly and yearly templates are deduped on the template id (at most one
// occurrence per month), weekly and biweekly ones on the exact date. The
// unique indexes on generator rows make the final inserts no-ops when a
// concurrent call got there first.
func (g *PendingGenerator) EnsurePendingForMonth(ctx context.Context, budgetID string, year, month int) (EnsureResult, error) {
	var result EnsureResult
	if month < 1 || month > 12 {
		return result, core.ErrInvalidMonth
	}
	if budgetID == "" {
		return result, &core.ValidationError{Field: "budgetId", Reason: "budget id is required"}
	}

	from := core.NewDate(year, month, 1)
	to := core.NewDate(year, month, core.DaysInMonth(year, month))

	var (
		existing []core.Transaction
		bills    []core.RecurringBill
		sources  []core.IncomeSource
	)
	queries := g.storage.Queries()
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		existing, err = queries.ListTransactionsInWindow(gctx, budgetID, from, to)
		return err
	})
	eg.Go(func() (err error) {
		bills, err = queries.ListActiveRecurringBills(gctx, budgetID)
		return err
	})
	eg.Go(func() (err error) {
		sources, err = queries.ListActiveIncomeSources(gctx, budgetID)
		return err
	})
	if err := eg.Wait(); err != nil {
		return result, fmt.Errorf("load month window: %w", err)
	}

	seen := buildSeenSets(existing)

	var rows []core.Transaction
	for _, bill := range bills {
		if bill.AccountID == "" {
			// No target account configured; this path runs
			// opportunistically on read, so skip rather than fail.
			slog.WarnContext(ctx, "Skipping recurring bill without account",
				"bill_id", bill.ID, "description", bill.Description)
			continue
		}
		dates, rule, ok := g.templateDates(ctx, bill.ID, bill.Frequency, bill.DueDay, bill.DueMonth, year, month)
		if !ok {
			continue
		}
		for _, date := range dates {
			if seen.billSeen(rule, bill.ID, date) {
				result.AlreadyExisted++
				continue
			}
			seen.markBill(bill.ID, date)
			rows = append(rows, core.Transaction{
				ID:              uuid.NewString(),
				BudgetID:        budgetID,
				AccountID:       bill.AccountID,
				CategoryID:      bill.CategoryID,
				RecurringBillID: bill.ID,
				Type:            core.TypeExpense,
				Status:          core.StatusPending,
				Amount:          bill.Amount,
				Date:            date,
				Description:     bill.Description,
				Source:          core.SourceRecurring,
			})
			result.Expenses++
		}
	}

	for _, src := range sources {
		if src.AccountID == "" {
			slog.WarnContext(ctx, "Skipping income source without account",
				"income_source_id", src.ID, "description", src.Description)
			continue
		}
		dates, rule, ok := g.templateDates(ctx, src.ID, src.Frequency, src.DueDay, src.DueMonth, year, month)
		if !ok {
			continue
		}
		for _, date := range dates {
			if seen.incomeSeen(rule, src.ID, date) {
				result.AlreadyExisted++
				continue
			}
			seen.markIncome(src.ID, date)
			rows = append(rows, core.Transaction{
				ID:             uuid.NewString(),
				BudgetID:       budgetID,
				AccountID:      src.AccountID,
				CategoryID:     src.CategoryID,
				IncomeSourceID: src.ID,
				Type:           core.TypeIncome,
				Status:         core.StatusPending,
				Amount:         src.Amount,
				Date:           date,
				Description:    src.Description,
				Source:         core.SourceRecurring,
			})
			result.Income++
		}
	}

	if len(rows) == 0 {
		return result, nil
	}

	err := g.storage.WithinTx(ctx, func(q *storage.Queries) error {
		for _, row := range rows {
			inserted, err := q.InsertTransactionIgnoreDuplicate(ctx, row)
			if err != nil {
				return err
			}
			if inserted {
				result.Created++
			} else {
				// A concurrent call materialized this occurrence
				// between our read and this insert.
				result.AlreadyExisted++
				if row.Type == core.TypeIncome {
					result.Income--
				} else {
					result.Expenses--
				}
			}
		}
		return nil
	})
	if err != nil {
		return EnsureResult{}, fmt.Errorf("insert pending transactions: %w", err)
	}

	slog.InfoContext(ctx, "Pending transactions ensured",
		"budget_id", budgetID,
		"year", year,
		"month", month,
		"created", result.Created,
		"already_existed", result.AlreadyExisted)

	return result, nil
}

func (g *PendingGenerator) templateDates(ctx context.Context, templateID string, freq core.Frequency, dueDay, dueMonth, year, month int) ([]core.Date, OccurrenceRule, bool) {
	rule, err := GetOccurrenceRule(freq)
	if err != nil {
		slog.WarnContext(ctx, "Skipping template with unknown frequency",
			"template_id", templateID, "frequency", string(freq))
		return nil, nil, false
	}
	dates := rule.Occurrences(dueDay, dueMonth, year, month)
	if len(dates) == 0 {
		return nil, nil, false
	}
	return dates, rule, true
}

// seenSets tracks which template occurrences already exist in the window,
// keyed both per template (monthly/yearly) and per template+date
// (weekly/biweekly).
type seenSets struct {
	billMonth   map[string]bool
	billDate    map[string]bool
	incomeMonth map[string]bool
	incomeDate  map[string]bool
}

func buildSeenSets(existing []core.Transaction) *seenSets {
	s := &seenSets{
		billMonth:   make(map[string]bool),
		billDate:    make(map[string]bool),
		incomeMonth: make(map[string]bool),
		incomeDate:  make(map[string]bool),
	}
	for _, t := range existing {
		if t.RecurringBillID != "" {
			s.markBill(t.RecurringBillID, t.Date)
		}
		if t.IncomeSourceID != "" {
			s.markIncome(t.IncomeSourceID, t.Date)
		}
	}
	return s
}

func dateKey(templateID string, date core.Date) string {
	return templateID + "|" + date.String()
}

func (s *seenSets) markBill(id string, date core.Date) {
	s.billMonth[id] = true
	s.billDate[dateKey(id, date)] = true
}

func (s *seenSets) markIncome(id string, date core.Date) {
	s.incomeMonth[id] = true
	s.incomeDate[dateKey(id, date)] = true
}

func (s *seenSets) billSeen(rule OccurrenceRule, id string, date core.Date) bool {
	if rule.DedupeByDate() {
		return s.billDate[dateKey(id, date)]
	}
	return s.billMonth[id]
}

func (s *seenSets) incomeSeen(rule OccurrenceRule, id string, date core.Date) bool {
	if rule.DedupeByDate() {
		return s.incomeDate[dateKey(id, date)]
	}
	return s.incomeMonth[id]
}
