package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"

	"conti/internal/core"
)

func TestContribute_WithLinkedAccount(t *testing.T) {
	repo := newTestRepo(t)
	from := seedAccount(t, repo, core.Account{Balance: core.Money{Cents: 100000}, ClearedBalance: core.Money{Cents: 100000}})
	linked := seedAccount(t, repo, core.Account{Type: core.AccountSavings})
	goal := seedGoal(t, repo, core.Goal{
		TargetAmount:    core.Money{Cents: 50000},
		LinkedAccountID: linked.ID,
	})

	svc := NewGoalService(repo, nil)
	result, err := svc.Contribute(context.Background(), goal.ID, core.Money{Cents: 20000}, 2025, 6, from.ID)
	if err != nil {
		t.Fatalf("contribute: %v", err)
	}
	if result.Transaction == nil {
		t.Fatal("expected a transfer transaction for a linked goal")
	}
	if result.Transaction.Type != core.TypeTransfer {
		t.Fatalf("transaction type = %s, want transfer", result.Transaction.Type)
	}
	if result.Goal.CurrentAmount.Cents != 20000 {
		t.Fatalf("current amount = %d, want 20000", result.Goal.CurrentAmount.Cents)
	}
	if result.JustCompleted {
		t.Fatal("goal should not be completed at 20000/50000")
	}
	if got := accountBalance(t, repo, from.ID); got != 80000 {
		t.Fatalf("source balance = %d, want 80000", got)
	}
	if got := accountBalance(t, repo, linked.ID); got != 20000 {
		t.Fatalf("linked balance = %d, want 20000", got)
	}
}

func TestContribute_WithoutLinkedAccountOnlyTracksProgress(t *testing.T) {
	repo := newTestRepo(t)
	from := seedAccount(t, repo, core.Account{Balance: core.Money{Cents: 50000}, ClearedBalance: core.Money{Cents: 50000}})
	goal := seedGoal(t, repo, core.Goal{TargetAmount: core.Money{Cents: 30000}})

	svc := NewGoalService(repo, nil)
	result, err := svc.Contribute(context.Background(), goal.ID, core.Money{Cents: 10000}, 2025, 6, from.ID)
	if err != nil {
		t.Fatalf("contribute: %v", err)
	}
	if result.Transaction != nil {
		t.Fatal("no transfer expected without a linked account")
	}
	if result.Goal.CurrentAmount.Cents != 10000 {
		t.Fatalf("current amount = %d, want 10000", result.Goal.CurrentAmount.Cents)
	}
	// No linked account, no money movement.
	if got := accountBalance(t, repo, from.ID); got != 50000 {
		t.Fatalf("source balance = %d, want untouched 50000", got)
	}
}

func TestContribute_CompletionFiresExactlyOnce(t *testing.T) {
	repo := newTestRepo(t)
	from := seedAccount(t, repo, core.Account{Balance: core.Money{Cents: 100000}, ClearedBalance: core.Money{Cents: 100000}})
	goal := seedGoal(t, repo, core.Goal{TargetAmount: core.Money{Cents: 30000}})
	svc := NewGoalService(repo, nil)
	ctx := context.Background()

	first, err := svc.Contribute(ctx, goal.ID, core.Money{Cents: 20000}, 2025, 6, from.ID)
	if err != nil {
		t.Fatalf("first contribution: %v", err)
	}
	if first.JustCompleted || first.Goal.IsCompleted {
		t.Fatal("goal completed too early")
	}

	second, err := svc.Contribute(ctx, goal.ID, core.Money{Cents: 10000}, 2025, 6, from.ID)
	if err != nil {
		t.Fatalf("second contribution: %v", err)
	}
	if !second.JustCompleted || !second.Goal.IsCompleted {
		t.Fatalf("second contribution should complete the goal, got %+v", second)
	}

	// Overshooting an already-completed goal never reports completion again.
	third, err := svc.Contribute(ctx, goal.ID, core.Money{Cents: 5000}, 2025, 7, from.ID)
	if err != nil {
		t.Fatalf("third contribution: %v", err)
	}
	if third.JustCompleted {
		t.Fatal("completion reported twice")
	}
	if third.Goal.CurrentAmount.Cents != 35000 {
		t.Fatalf("current amount = %d, want 35000", third.Goal.CurrentAmount.Cents)
	}
}

func TestContribute_ConcurrentCompletionObservedOnce(t *testing.T) {
	repo := newTestRepo(t)
	from := seedAccount(t, repo, core.Account{Balance: core.Money{Cents: 1000000}, ClearedBalance: core.Money{Cents: 1000000}})
	goal := seedGoal(t, repo, core.Goal{TargetAmount: core.Money{Cents: 40000}})
	svc := NewGoalService(repo, nil)

	var completions atomic.Int64
	var eg errgroup.Group
	for i := 0; i < 8; i++ {
		eg.Go(func() error {
			result, err := svc.Contribute(context.Background(), goal.ID, core.Money{Cents: 10000}, 2025, 6, from.ID)
			if err != nil {
				return err
			}
			if result.JustCompleted {
				completions.Add(1)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatalf("concurrent contributions: %v", err)
	}
	if got := completions.Load(); got != 1 {
		t.Fatalf("JustCompleted observed %d times, want exactly 1", got)
	}

	updated, err := repo.Queries().GetGoal(context.Background(), goal.ID)
	if err != nil {
		t.Fatalf("get goal: %v", err)
	}
	if updated.CurrentAmount.Cents != 80000 {
		t.Fatalf("current amount = %d, want 80000 from 8 contributions", updated.CurrentAmount.Cents)
	}
	if !updated.IsCompleted {
		t.Fatal("goal must be completed")
	}
}

func TestContribute_Validation(t *testing.T) {
	repo := newTestRepo(t)
	from := seedAccount(t, repo, core.Account{})
	goal := seedGoal(t, repo, core.Goal{TargetAmount: core.Money{Cents: 10000}})
	svc := NewGoalService(repo, nil)
	ctx := context.Background()

	if _, err := svc.Contribute(ctx, goal.ID, core.Money{}, 2025, 6, from.ID); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("zero amount err = %v, want ErrInvalidAmount", err)
	}
	if _, err := svc.Contribute(ctx, goal.ID, core.Money{Cents: 100}, 2025, 13, from.ID); !errors.Is(err, core.ErrInvalidMonth) {
		t.Fatalf("month 13 err = %v, want ErrInvalidMonth", err)
	}
	if _, err := svc.Contribute(ctx, goal.ID, core.Money{Cents: 100}, 2025, 6, ""); err == nil {
		t.Fatal("missing source account must fail")
	}
	var notFound *core.NotFoundError
	if _, err := svc.Contribute(ctx, "missing-goal", core.Money{Cents: 100}, 2025, 6, from.ID); !errors.As(err, &notFound) {
		t.Fatalf("missing goal err = %v, want NotFoundError", err)
	}
}

func TestContribute_CrossBudgetAccountRejected(t *testing.T) {
	repo := newTestRepo(t)
	foreign := seedAccount(t, repo, core.Account{BudgetID: "budget-other"})
	goal := seedGoal(t, repo, core.Goal{TargetAmount: core.Money{Cents: 10000}})
	svc := NewGoalService(repo, nil)

	_, err := svc.Contribute(context.Background(), goal.ID, core.Money{Cents: 100}, 2025, 6, foreign.ID)
	var refErr *core.ReferentialError
	if !errors.As(err, &refErr) {
		t.Fatalf("err = %v, want ReferentialError", err)
	}
}
