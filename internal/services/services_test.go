package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"conti/internal/core"
	"conti/internal/storage"
)

const testBudget = "budget-1"

func newTestRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedAccount(t *testing.T, repo *storage.SQLiteRepository, a core.Account) core.Account {
	t.Helper()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.BudgetID == "" {
		a.BudgetID = testBudget
	}
	if a.Type == "" {
		a.Type = core.AccountChecking
	}
	if a.Name == "" {
		a.Name = "account " + a.ID[:8]
	}
	if err := repo.Queries().CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a
}

func seedBill(t *testing.T, repo *storage.SQLiteRepository, b core.RecurringBill) core.RecurringBill {
	t.Helper()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.BudgetID == "" {
		b.BudgetID = testBudget
	}
	if b.Description == "" {
		b.Description = "bill " + b.ID[:8]
	}
	b.Active = true
	if err := repo.Queries().CreateRecurringBill(context.Background(), b); err != nil {
		t.Fatalf("seed recurring bill: %v", err)
	}
	return b
}

func seedIncomeSource(t *testing.T, repo *storage.SQLiteRepository, s core.IncomeSource) core.IncomeSource {
	t.Helper()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.BudgetID == "" {
		s.BudgetID = testBudget
	}
	if s.Description == "" {
		s.Description = "income " + s.ID[:8]
	}
	s.Active = true
	if err := repo.Queries().CreateIncomeSource(context.Background(), s); err != nil {
		t.Fatalf("seed income source: %v", err)
	}
	return s
}

func seedGoal(t *testing.T, repo *storage.SQLiteRepository, g core.Goal) core.Goal {
	t.Helper()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.BudgetID == "" {
		g.BudgetID = testBudget
	}
	if g.Name == "" {
		g.Name = "goal " + g.ID[:8]
	}
	if err := repo.Queries().CreateGoal(context.Background(), g); err != nil {
		t.Fatalf("seed goal: %v", err)
	}
	return g
}

func accountBalance(t *testing.T, repo *storage.SQLiteRepository, id string) int64 {
	t.Helper()
	a, err := repo.Queries().GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("get account %s: %v", id, err)
	}
	return a.Balance.Cents
}

func monthTransactions(t *testing.T, repo *storage.SQLiteRepository, budgetID string, year, month int) []core.Transaction {
	t.Helper()
	from := core.NewDate(year, month, 1)
	to := core.NewDate(year, month, core.DaysInMonth(year, month))
	out, err := repo.Queries().ListTransactionsInWindow(context.Background(), budgetID, from, to)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	return out
}
