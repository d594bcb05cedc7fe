package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"conti/internal/amqp"
	"conti/internal/core"
	"conti/internal/storage"
)

// GoalService funds goals: one contribution moves money from a source
// account into the goal's linked account (when it has one) and advances the
// goal's running total, all inside one unit of work.
type GoalService struct {
	storage *storage.SQLiteRepository
	events  *amqp.Client
}

func NewGoalService(storage *storage.SQLiteRepository, events *amqp.Client) *GoalService {
	return &GoalService{
		storage: storage,
		events:  events,
	}
}

// ContributionResult reports everything one contribution touched.
type ContributionResult struct {
	Contribution  core.GoalContribution
	Transaction   *core.Transaction // nil when the goal has no linked account
	Goal          core.Goal
	JustCompleted bool
}

// Contribute applies one funding event. Completion detection uses the
// running total re-read after the additive update, so two contributions
// that jointly cross the target cannot both miss it, and the guarded flip
// ensures only one of them observes JustCompleted.
func (s *GoalService) Contribute(ctx context.Context, goalID string, amount core.Money, year, month int, fromAccountID string) (ContributionResult, error) {
	var result ContributionResult
	if err := amount.Validate(); err != nil {
		return result, err
	}
	if month < 1 || month > 12 {
		return result, core.ErrInvalidMonth
	}
	if fromAccountID == "" {
		return result, &core.ValidationError{Field: "fromAccountId", Reason: "source account id is required"}
	}

	queries := s.storage.Queries()
	goal, err := queries.GetGoal(ctx, goalID)
	if err != nil {
		return result, err
	}
	fromAccount, err := queries.GetAccount(ctx, fromAccountID)
	if err != nil {
		return result, err
	}
	if fromAccount.BudgetID != goal.BudgetID {
		return result, &core.ReferentialError{Entity: "account", ID: fromAccountID, BudgetID: goal.BudgetID}
	}
	if goal.LinkedAccountID != "" {
		linked, err := queries.GetAccount(ctx, goal.LinkedAccountID)
		if err != nil {
			return result, err
		}
		if linked.BudgetID != goal.BudgetID {
			return result, &core.ReferentialError{Entity: "account", ID: goal.LinkedAccountID, BudgetID: goal.BudgetID}
		}
	}

	now := time.Now()
	contribution := core.GoalContribution{
		ID:            uuid.NewString(),
		GoalID:        goalID,
		Amount:        amount,
		Year:          year,
		Month:         month,
		FromAccountID: fromAccountID,
		CreatedAt:     now,
	}

	var transfer *core.Transaction
	if goal.LinkedAccountID != "" {
		transfer = &core.Transaction{
			ID:          uuid.NewString(),
			BudgetID:    goal.BudgetID,
			AccountID:   fromAccountID,
			ToAccountID: goal.LinkedAccountID,
			GoalID:      goalID,
			Type:        core.TypeTransfer,
			Status:      core.StatusCleared,
			Amount:      amount,
			Date:        core.NewDate(year, month, core.ClampDay(year, month, now.Day())),
			Description: "Goal contribution: " + goal.Name,
			Source:      core.SourceManual,
			CreatedAt:   now,
		}
		contribution.TransactionID = transfer.ID
	}

	var justCompleted bool
	err = s.storage.WithinTx(ctx, func(q *storage.Queries) error {
		if transfer != nil {
			if err := q.InsertTransaction(ctx, *transfer); err != nil {
				return err
			}
			deltas := []accountDelta{
				{accountID: fromAccountID, balance: -amount.Cents, clearedDelta: -amount.Cents},
				{accountID: goal.LinkedAccountID, balance: amount.Cents, clearedDelta: amount.Cents},
			}
			if err := applyDeltas(ctx, q, deltas); err != nil {
				return err
			}
		}
		if err := q.InsertGoalContribution(ctx, contribution); err != nil {
			return err
		}
		if err := q.ApplyGoalDelta(ctx, goalID, amount.Cents); err != nil {
			return err
		}
		current, err := q.GetGoalAmount(ctx, goalID)
		if err != nil {
			return err
		}
		if current >= goal.TargetAmount.Cents {
			justCompleted, err = q.MarkGoalCompleted(ctx, goalID, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("contribute to goal: %w", err)
	}

	updated, err := queries.GetGoal(ctx, goalID)
	if err != nil {
		return result, err
	}

	slog.InfoContext(ctx, "Goal contribution applied",
		"goal_id", goalID,
		"amount_cents", amount.Cents,
		"current_cents", updated.CurrentAmount.Cents,
		"just_completed", justCompleted)

	if justCompleted && s.events != nil {
		if err := s.events.PublishGoalCompleted(ctx, goalID, updated.BudgetID); err != nil {
			slog.ErrorContext(ctx, "Failed to publish goal completion event",
				"goal_id", goalID, "error", err)
		}
	}

	return ContributionResult{
		Contribution:  contribution,
		Transaction:   transfer,
		Goal:          updated,
		JustCompleted: justCompleted,
	}, nil
}
