package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"conti/internal/amqp"
	"conti/internal/core"
	"conti/internal/storage"
)

// LedgerService is the atomic-write boundary of the engine: it creates
// transactions (single rows or installment batches) and applies the matching
// balance deltas inside one storage transaction. Balance updates are always
// additive SQL expressions, never read-modify-write.
type LedgerService struct {
	storage *storage.SQLiteRepository
	events  *amqp.Client
}

func NewLedgerService(storage *storage.SQLiteRepository, events *amqp.Client) *LedgerService {
	return &LedgerService{
		storage: storage,
		events:  events,
	}
}

// CreateTransactionInput carries caller-validated identifiers; the budget
// scope itself is trusted, but every referenced entity is still checked to
// belong to it.
type CreateTransactionInput struct {
	BudgetID     string
	AccountID    string
	ToAccountID  string
	CategoryID   string
	GoalID       string
	Type         core.TransactionType
	Amount       core.Money
	Date         core.Date
	Description  string
	Installments int
	Source       core.TransactionSource
}

func (in CreateTransactionInput) Validate() error {
	if in.BudgetID == "" {
		return &core.ValidationError{Field: "budgetId", Reason: "budget id is required"}
	}
	if in.AccountID == "" {
		return &core.ValidationError{Field: "accountId", Reason: "account id is required"}
	}
	if err := in.Amount.Validate(); err != nil {
		return err
	}
	if err := in.Date.Validate(); err != nil {
		return err
	}
	switch in.Type {
	case core.TypeIncome, core.TypeExpense, core.TypeTransfer:
	default:
		return &core.ValidationError{Field: "type", Reason: "unknown transaction type " + string(in.Type)}
	}
	if in.Type == core.TypeTransfer && in.ToAccountID == "" {
		return &core.ValidationError{Field: "toAccountId", Reason: "transfer requires a destination account"}
	}
	if in.Type == core.TypeTransfer && in.ToAccountID == in.AccountID {
		return &core.ValidationError{Field: "toAccountId", Reason: "transfer destination equals source"}
	}
	if in.Installments < 0 {
		return &core.ValidationError{Field: "installments", Reason: "installments cannot be negative"}
	}
	if in.Type == core.TypeIncome && in.Installments > 1 {
		return &core.ValidationError{Field: "installments", Reason: "income cannot be split into installments"}
	}
	return nil
}

// CreateTransaction validates, checks references against the budget, then
// writes rows and balance deltas as one unit. It returns every row written:
// a single transaction, or the parent plus children of an installment batch.
func (s *LedgerService) CreateTransaction(ctx context.Context, in CreateTransactionInput) ([]core.Transaction, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	queries := s.storage.Queries()
	account, err := queries.GetAccount(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}
	if account.BudgetID != in.BudgetID {
		return nil, &core.ReferentialError{Entity: "account", ID: in.AccountID, BudgetID: in.BudgetID}
	}

	var toAccount core.Account
	if in.ToAccountID != "" {
		toAccount, err = queries.GetAccount(ctx, in.ToAccountID)
		if err != nil {
			return nil, err
		}
		if toAccount.BudgetID != in.BudgetID {
			return nil, &core.ReferentialError{Entity: "account", ID: in.ToAccountID, BudgetID: in.BudgetID}
		}
	}

	if in.CategoryID != "" {
		category, err := queries.GetCategory(ctx, in.CategoryID)
		if err != nil {
			return nil, err
		}
		if category.BudgetID != in.BudgetID {
			return nil, &core.ReferentialError{Entity: "category", ID: in.CategoryID, BudgetID: in.BudgetID}
		}
	}

	var rows []core.Transaction
	if in.Installments > 1 {
		rows = s.buildInstallments(in, account)
	} else {
		rows = []core.Transaction{s.buildTransaction(in)}
	}

	deltas := balanceDeltas(rows, account, in.Installments > 1)

	err = s.storage.WithinTx(ctx, func(q *storage.Queries) error {
		for _, row := range rows {
			if err := q.InsertTransaction(ctx, row); err != nil {
				return err
			}
		}
		return applyDeltas(ctx, q, deltas)
	})
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction created",
		"budget_id", in.BudgetID,
		"account_id", in.AccountID,
		"type", string(in.Type),
		"amount_cents", in.Amount.Cents,
		"rows", len(rows))

	s.publishCreated(ctx, rows[0])
	return rows, nil
}

func (s *LedgerService) buildTransaction(in CreateTransactionInput) core.Transaction {
	source := in.Source
	if source == "" {
		source = core.SourceManual
	}
	return core.Transaction{
		ID:          uuid.NewString(),
		BudgetID:    in.BudgetID,
		AccountID:   in.AccountID,
		ToAccountID: in.ToAccountID,
		CategoryID:  in.CategoryID,
		GoalID:      in.GoalID,
		Type:        in.Type,
		Status:      core.StatusCleared,
		Amount:      in.Amount,
		Date:        in.Date,
		Description: in.Description,
		Source:      source,
		CreatedAt:   time.Now(),
	}
}

// buildInstallments produces the parent (installment #1) and its children.
// On a credit card the whole purchase counts against the credit line right
// away, so every row clears immediately and no later confirmation applies
// further deltas. On other accounts only the first installment clears now;
// the children stay pending and apply their own deltas when confirmed.
func (s *LedgerService) buildInstallments(in CreateTransactionInput, account core.Account) []core.Transaction {
	count := in.Installments
	per := core.InstallmentAmount(in.Amount.Cents, count)

	var first core.Date
	if account.IsCreditCard() && account.ClosingDay > 0 {
		first = core.FirstInstallmentDate(in.Date, account.ClosingDay)
	} else {
		first = in.Date
	}
	dates := core.InstallmentDates(first, count)

	parent := s.buildTransaction(in)
	parent.Amount = core.Money{Cents: per}
	parent.Date = dates[0]
	parent.IsInstallment = true
	parent.InstallmentNumber = 1
	parent.TotalInstallments = count

	rows := make([]core.Transaction, 0, count)
	rows = append(rows, parent)
	for i := 1; i < count; i++ {
		child := parent
		child.ID = uuid.NewString()
		child.Date = dates[i]
		child.InstallmentNumber = i + 1
		child.ParentTransactionID = parent.ID
		if !account.IsCreditCard() {
			child.Status = core.StatusPending
		}
		rows = append(rows, child)
	}
	return rows
}

// accountDelta is one pending additive update to an account's balances.
type accountDelta struct {
	accountID    string
	balance      int64
	clearedDelta int64
}

// balanceDeltas computes the additive updates one create call applies. For
// installment batches the source account is debited once: the full original
// amount on credit cards, the first installment elsewhere. Transfers mirror
// the same distinction on the destination account.
func balanceDeltas(rows []core.Transaction, account core.Account, installment bool) []accountDelta {
	head := rows[0]
	amount := head.Amount.Cents
	if installment && account.IsCreditCard() {
		total := int64(0)
		for _, r := range rows {
			total += r.Amount.Cents
		}
		amount = total
	}

	sign := int64(-1)
	if head.Type == core.TypeIncome {
		sign = 1
	}

	deltas := []accountDelta{{accountID: head.AccountID, balance: sign * amount, clearedDelta: sign * amount}}
	if head.Type == core.TypeTransfer {
		deltas = append(deltas, accountDelta{accountID: head.ToAccountID, balance: amount, clearedDelta: amount})
	}
	return deltas
}

// applyDeltas updates accounts in ascending account-id order so concurrent
// opposite-direction transfers cannot deadlock.
func applyDeltas(ctx context.Context, q *storage.Queries, deltas []accountDelta) error {
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].accountID < deltas[j].accountID })
	for _, d := range deltas {
		if err := q.ApplyBalanceDelta(ctx, d.accountID, d.balance, d.clearedDelta); err != nil {
			return err
		}
	}
	return nil
}

// ConfirmMatch identifies a materialized pending row: the template it came
// from plus its calendar day.
type ConfirmMatch struct {
	RecurringBillID string
	IncomeSourceID  string
	Date            core.Date
}

// ConfirmScheduled flips a matching pending row to cleared and applies its
// balance delta exactly once. When no row matches, a fresh cleared
// transaction is created instead, so confirming ahead of materialization
// still lands the money once. Confirming a row that already cleared is a
// state error, not a silent re-create.
func (s *LedgerService) ConfirmScheduled(ctx context.Context, budgetID string, match ConfirmMatch, newAmount core.Money, newAccountID string) (core.Transaction, error) {
	if match.RecurringBillID == "" && match.IncomeSourceID == "" {
		return core.Transaction{}, &core.ValidationError{Field: "match", Reason: "a template id is required"}
	}
	if err := match.Date.Validate(); err != nil {
		return core.Transaction{}, err
	}

	queries := s.storage.Queries()
	var (
		existing core.Transaction
		found    bool
		err      error
	)
	if match.RecurringBillID != "" {
		existing, found, err = queries.FindByBillAndDate(ctx, budgetID, match.RecurringBillID, match.Date)
	} else {
		existing, found, err = queries.FindByIncomeSourceAndDate(ctx, budgetID, match.IncomeSourceID, match.Date)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("find scheduled transaction: %w", err)
	}

	if !found {
		return s.createConfirmed(ctx, budgetID, match, newAmount, newAccountID)
	}

	if existing.Status != core.StatusPending {
		return core.Transaction{}, &core.StateError{ID: existing.ID, Status: existing.Status}
	}

	amount := existing.Amount
	if newAmount.Cents > 0 {
		amount = newAmount
	}
	accountID := existing.AccountID
	if newAccountID != "" {
		account, err := queries.GetAccount(ctx, newAccountID)
		if err != nil {
			return core.Transaction{}, err
		}
		if account.BudgetID != budgetID {
			return core.Transaction{}, &core.ReferentialError{Entity: "account", ID: newAccountID, BudgetID: budgetID}
		}
		accountID = newAccountID
	}

	confirmed := existing
	confirmed.Status = core.StatusCleared
	confirmed.Amount = amount
	confirmed.AccountID = accountID

	err = s.storage.WithinTx(ctx, func(q *storage.Queries) error {
		flipped, err := q.ConfirmTransaction(ctx, existing.ID, amount.Cents, accountID)
		if err != nil {
			return err
		}
		if !flipped {
			// Lost the race to a concurrent confirm; the delta was
			// already applied there.
			return &core.StateError{ID: existing.ID, Status: core.StatusCleared}
		}
		delta := confirmed.SourceDelta()
		return q.ApplyBalanceDelta(ctx, accountID, delta, delta)
	})
	if err != nil {
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Scheduled transaction confirmed",
		"transaction_id", confirmed.ID,
		"budget_id", budgetID,
		"amount_cents", confirmed.Amount.Cents)
	return confirmed, nil
}

func (s *LedgerService) createConfirmed(ctx context.Context, budgetID string, match ConfirmMatch, amount core.Money, accountID string) (core.Transaction, error) {
	if accountID == "" {
		return core.Transaction{}, &core.ValidationError{Field: "accountId", Reason: "account id is required when no pending row matches"}
	}
	if err := amount.Validate(); err != nil {
		return core.Transaction{}, err
	}
	account, err := s.storage.Queries().GetAccount(ctx, accountID)
	if err != nil {
		return core.Transaction{}, err
	}
	if account.BudgetID != budgetID {
		return core.Transaction{}, &core.ReferentialError{Entity: "account", ID: accountID, BudgetID: budgetID}
	}

	typ := core.TypeExpense
	if match.IncomeSourceID != "" {
		typ = core.TypeIncome
	}
	row := core.Transaction{
		ID:              uuid.NewString(),
		BudgetID:        budgetID,
		AccountID:       accountID,
		RecurringBillID: match.RecurringBillID,
		IncomeSourceID:  match.IncomeSourceID,
		Type:            typ,
		Status:          core.StatusCleared,
		Amount:          amount,
		Date:            match.Date,
		Source:          core.SourceScheduled,
		CreatedAt:       time.Now(),
	}

	err = s.storage.WithinTx(ctx, func(q *storage.Queries) error {
		if err := q.InsertTransaction(ctx, row); err != nil {
			return err
		}
		delta := row.SourceDelta()
		return q.ApplyBalanceDelta(ctx, accountID, delta, delta)
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create confirmed transaction: %w", err)
	}
	return row, nil
}

func (s *LedgerService) publishCreated(ctx context.Context, t core.Transaction) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishTransactionCreated(ctx, t.ID, t.BudgetID, string(t.Type), t.Amount.Cents); err != nil {
		// Notification delivery is best effort; the write already committed.
		slog.ErrorContext(ctx, "Failed to publish transaction event",
			"transaction_id", t.ID, "error", err)
	}
}
