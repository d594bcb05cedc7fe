package services

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/sync/errgroup"

	"conti/internal/core"
)

func TestEnsurePendingForMonth_MonthlyBillAndIncome(t *testing.T) {
	repo := newTestRepo(t)
	account := seedAccount(t, repo, core.Account{})
	seedBill(t, repo, core.RecurringBill{
		Description: "Rent", Amount: core.Money{Cents: 120000},
		Frequency: core.Monthly, DueDay: 1, AccountID: account.ID,
	})
	seedIncomeSource(t, repo, core.IncomeSource{
		Description: "Salary", Amount: core.Money{Cents: 250000},
		Frequency: core.Monthly, DueDay: 27, AccountID: account.ID,
	})

	gen := NewPendingGenerator(repo)
	result, err := gen.EnsurePendingForMonth(context.Background(), testBudget, 2025, 6)
	if err != nil {
		t.Fatalf("EnsurePendingForMonth: %v", err)
	}
	if result.Created != 2 || result.Expenses != 1 || result.Income != 1 {
		t.Fatalf("result = %+v, want 1 expense + 1 income", result)
	}

	rows := monthTransactions(t, repo, testBudget, 2025, 6)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	for _, row := range rows {
		if row.Status != core.StatusPending {
			t.Fatalf("row %s status = %s, want pending", row.ID, row.Status)
		}
		if row.Source != core.SourceRecurring {
			t.Fatalf("row %s source = %s, want recurring", row.ID, row.Source)
		}
	}

	// Materialization must never touch balances.
	if got := accountBalance(t, repo, account.ID); got != 0 {
		t.Fatalf("balance = %d, want 0 before confirmation", got)
	}
}

func TestEnsurePendingForMonth_Idempotent(t *testing.T) {
	repo := newTestRepo(t)
	account := seedAccount(t, repo, core.Account{})
	seedBill(t, repo, core.RecurringBill{
		Amount: core.Money{Cents: 5000}, Frequency: core.Monthly, DueDay: 10, AccountID: account.ID,
	})

	gen := NewPendingGenerator(repo)
	ctx := context.Background()
	if _, err := gen.EnsurePendingForMonth(ctx, testBudget, 2025, 6); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	second, err := gen.EnsurePendingForMonth(ctx, testBudget, 2025, 6)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if second.Created != 0 {
		t.Fatalf("second pass created %d rows, want 0", second.Created)
	}
	if second.AlreadyExisted != 1 {
		t.Fatalf("second pass alreadyExisted = %d, want 1", second.AlreadyExisted)
	}
	if rows := monthTransactions(t, repo, testBudget, 2025, 6); len(rows) != 1 {
		t.Fatalf("got %d rows after two passes, want 1", len(rows))
	}
}

func TestEnsurePendingForMonth_WeeklyProducesEveryMatchingDay(t *testing.T) {
	repo := newTestRepo(t)
	account := seedAccount(t, repo, core.Account{})
	// Mondays in June 2025: 2, 9, 16, 23, 30.
	seedBill(t, repo, core.RecurringBill{
		Amount: core.Money{Cents: 1500}, Frequency: core.Weekly, DueDay: 1, AccountID: account.ID,
	})

	gen := NewPendingGenerator(repo)
	result, err := gen.EnsurePendingForMonth(context.Background(), testBudget, 2025, 6)
	if err != nil {
		t.Fatalf("EnsurePendingForMonth: %v", err)
	}
	if result.Created != 5 {
		t.Fatalf("created = %d, want 5 weekly occurrences", result.Created)
	}

	second, err := gen.EnsurePendingForMonth(context.Background(), testBudget, 2025, 6)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if second.Created != 0 || second.AlreadyExisted != 5 {
		t.Fatalf("second pass = %+v, want all 5 deduped by date", second)
	}
}

func TestEnsurePendingForMonth_YearlyOnlyInDueMonth(t *testing.T) {
	repo := newTestRepo(t)
	account := seedAccount(t, repo, core.Account{})
	seedBill(t, repo, core.RecurringBill{
		Amount: core.Money{Cents: 9900}, Frequency: core.Yearly,
		DueDay: 15, DueMonth: 9, AccountID: account.ID,
	})

	gen := NewPendingGenerator(repo)
	ctx := context.Background()
	offMonth, err := gen.EnsurePendingForMonth(ctx, testBudget, 2025, 6)
	if err != nil {
		t.Fatalf("off month: %v", err)
	}
	if offMonth.Created != 0 {
		t.Fatalf("created %d rows outside due month", offMonth.Created)
	}
	dueMonth, err := gen.EnsurePendingForMonth(ctx, testBudget, 2025, 9)
	if err != nil {
		t.Fatalf("due month: %v", err)
	}
	if dueMonth.Created != 1 {
		t.Fatalf("created = %d in due month, want 1", dueMonth.Created)
	}
}

func TestEnsurePendingForMonth_BiweeklyIncome(t *testing.T) {
	repo := newTestRepo(t)
	account := seedAccount(t, repo, core.Account{})
	seedIncomeSource(t, repo, core.IncomeSource{
		Amount: core.Money{Cents: 80000}, Frequency: core.Biweekly, DueDay: 5, AccountID: account.ID,
	})

	gen := NewPendingGenerator(repo)
	result, err := gen.EnsurePendingForMonth(context.Background(), testBudget, 2025, 6)
	if err != nil {
		t.Fatalf("EnsurePendingForMonth: %v", err)
	}
	if result.Created != 2 || result.Income != 2 {
		t.Fatalf("result = %+v, want two biweekly income rows", result)
	}
	rows := monthTransactions(t, repo, testBudget, 2025, 6)
	dates := map[string]bool{}
	for _, row := range rows {
		dates[row.Date.String()] = true
	}
	if !dates["2025-06-05"] || !dates["2025-06-19"] {
		t.Fatalf("unexpected dates %v, want 2025-06-05 and 2025-06-19", dates)
	}
}

func TestEnsurePendingForMonth_SkipsTemplateWithoutAccount(t *testing.T) {
	repo := newTestRepo(t)
	seedBill(t, repo, core.RecurringBill{
		Amount: core.Money{Cents: 5000}, Frequency: core.Monthly, DueDay: 10,
	})

	gen := NewPendingGenerator(repo)
	result, err := gen.EnsurePendingForMonth(context.Background(), testBudget, 2025, 6)
	if err != nil {
		t.Fatalf("EnsurePendingForMonth: %v", err)
	}
	if result.Created != 0 {
		t.Fatalf("created = %d, want 0 for template without account", result.Created)
	}
}

func TestEnsurePendingForMonth_InvalidInput(t *testing.T) {
	repo := newTestRepo(t)
	gen := NewPendingGenerator(repo)
	if _, err := gen.EnsurePendingForMonth(context.Background(), testBudget, 2025, 13); !errors.Is(err, core.ErrInvalidMonth) {
		t.Fatalf("month 13: err = %v, want ErrInvalidMonth", err)
	}
	if _, err := gen.EnsurePendingForMonth(context.Background(), "", 2025, 6); err == nil {
		t.Fatal("empty budget id must fail")
	}
}

func TestEnsurePendingForMonth_ConcurrentCallsCreateOnce(t *testing.T) {
	repo := newTestRepo(t)
	account := seedAccount(t, repo, core.Account{})
	seedBill(t, repo, core.RecurringBill{
		Amount: core.Money{Cents: 4500}, Frequency: core.Monthly, DueDay: 3, AccountID: account.ID,
	})
	seedIncomeSource(t, repo, core.IncomeSource{
		Amount: core.Money{Cents: 180000}, Frequency: core.Monthly, DueDay: 27, AccountID: account.ID,
	})

	gen := NewPendingGenerator(repo)
	var eg errgroup.Group
	for i := 0; i < 4; i++ {
		eg.Go(func() error {
			_, err := gen.EnsurePendingForMonth(context.Background(), testBudget, 2025, 7)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatalf("concurrent ensure: %v", err)
	}
	if rows := monthTransactions(t, repo, testBudget, 2025, 7); len(rows) != 2 {
		t.Fatalf("got %d rows after concurrent passes, want 2", len(rows))
	}
}
