package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"conti/internal/core"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so every query can run
// standalone or inside a unit of work.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries bound to the given transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const timeLayout = time.RFC3339

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

// ---- accounts ----

func (q *Queries) CreateAccount(ctx context.Context, a core.Account) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO accounts (id, budget_id, name, type, balance, cleared_balance, credit_limit, closing_day, due_day, archived, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.BudgetID, a.Name, string(a.Type), a.Balance.Cents, a.ClearedBalance.Cents,
		a.CreditLimit.Cents, a.ClosingDay, a.DueDay, boolInt(a.Archived), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (q *Queries) GetAccount(ctx context.Context, id string) (core.Account, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, budget_id, name, type, balance, cleared_balance, credit_limit, closing_day, due_day, archived
		FROM accounts WHERE id = ?`, id)

	var a core.Account
	var typ string
	var archived int
	err := row.Scan(&a.ID, &a.BudgetID, &a.Name, &typ, &a.Balance.Cents, &a.ClearedBalance.Cents,
		&a.CreditLimit.Cents, &a.ClosingDay, &a.DueDay, &archived)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, &core.NotFoundError{Entity: "account", ID: id}
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	a.Type = core.AccountType(typ)
	a.Archived = archived != 0
	return a, nil
}

func (q *Queries) ListAccounts(ctx context.Context, budgetID string) ([]core.Account, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, budget_id, name, type, balance, cleared_balance, credit_limit, closing_day, due_day, archived
		FROM accounts WHERE budget_id = ? ORDER BY name`, budgetID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []core.Account
	for rows.Next() {
		var a core.Account
		var typ string
		var archived int
		if err := rows.Scan(&a.ID, &a.BudgetID, &a.Name, &typ, &a.Balance.Cents, &a.ClearedBalance.Cents,
			&a.CreditLimit.Cents, &a.ClosingDay, &a.DueDay, &archived); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.Type = core.AccountType(typ)
		a.Archived = archived != 0
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ApplyBalanceDelta adds the signed deltas to the stored balances. The add
// is evaluated by the storage engine itself, which is what keeps concurrent
// writers from losing updates; callers must never read-modify-write.
func (q *Queries) ApplyBalanceDelta(ctx context.Context, accountID string, delta, clearedDelta int64) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE accounts SET balance = balance + ?, cleared_balance = cleared_balance + ? WHERE id = ?`,
		delta, clearedDelta, accountID)
	if err != nil {
		return fmt.Errorf("apply balance delta: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply balance delta rows: %w", err)
	}
	if n == 0 {
		return &core.NotFoundError{Entity: "account", ID: accountID}
	}
	return nil
}

func (q *Queries) ArchiveAccount(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `UPDATE accounts SET archived = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("archive account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.NotFoundError{Entity: "account", ID: id}
	}
	return nil
}

// ---- categories ----

func (q *Queries) CreateCategory(ctx context.Context, c core.Category) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO categories (id, budget_id, name) VALUES (?, ?, ?)`,
		c.ID, c.BudgetID, c.Name)
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

func (q *Queries) GetCategory(ctx context.Context, id string) (core.Category, error) {
	var c core.Category
	err := q.db.QueryRowContext(ctx, `SELECT id, budget_id, name FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.BudgetID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, &core.NotFoundError{Entity: "category", ID: id}
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

// ---- transactions ----

const transactionColumns = `id, budget_id, account_id, to_account_id, category_id, income_source_id,
	recurring_bill_id, goal_id, type, status, amount, date, description,
	is_installment, installment_number, total_installments, parent_transaction_id, source, created_at`

func (q *Queries) InsertTransaction(ctx context.Context, t core.Transaction) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		transactionArgs(t)...)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// InsertTransactionIgnoreDuplicate inserts the row unless a unique index
// rejects it, reporting whether a row was actually written. The pending
// generator relies on this for its concurrency guarantee.
func (q *Queries) InsertTransactionIgnoreDuplicate(ctx context.Context, t core.Transaction) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		transactionArgs(t)...)
	if err != nil {
		return false, fmt.Errorf("insert transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert transaction rows: %w", err)
	}
	return n > 0, nil
}

func transactionArgs(t core.Transaction) []any {
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return []any{
		t.ID, t.BudgetID, t.AccountID, t.ToAccountID, t.CategoryID, t.IncomeSourceID,
		t.RecurringBillID, t.GoalID, string(t.Type), string(t.Status), t.Amount.Cents,
		t.Date.String(), t.Description, boolInt(t.IsInstallment), t.InstallmentNumber,
		t.TotalInstallments, t.ParentTransactionID, string(t.Source), formatTime(created),
	}
}

func (q *Queries) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, &core.NotFoundError{Entity: "transaction", ID: id}
	}
	return t, err
}

func (q *Queries) ListTransactionsInWindow(ctx context.Context, budgetID string, from, to core.Date) ([]core.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE budget_id = ? AND date >= ? AND date <= ?
		ORDER BY date, created_at`, budgetID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FindByBillAndDate returns the most recent transaction materialized from
// the given bill on the given calendar day, regardless of status.
func (q *Queries) FindByBillAndDate(ctx context.Context, budgetID, billID string, date core.Date) (core.Transaction, bool, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE budget_id = ? AND recurring_bill_id = ? AND date = ?
		ORDER BY created_at DESC LIMIT 1`, budgetID, billID, date.String())
	return oneTransaction(row)
}

func (q *Queries) FindByIncomeSourceAndDate(ctx context.Context, budgetID, sourceID string, date core.Date) (core.Transaction, bool, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE budget_id = ? AND income_source_id = ? AND date = ?
		ORDER BY created_at DESC LIMIT 1`, budgetID, sourceID, date.String())
	return oneTransaction(row)
}

func oneTransaction(row *sql.Row) (core.Transaction, bool, error) {
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, false, nil
	}
	if err != nil {
		return core.Transaction{}, false, err
	}
	return t, true, nil
}

// ConfirmTransaction flips a pending row to cleared, optionally rewriting
// amount and account. The status guard makes the flip idempotent under the
// state machine: a cleared or reconciled row is never touched.
func (q *Queries) ConfirmTransaction(ctx context.Context, id string, amount int64, accountID string) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE transactions SET status = ?, amount = ?, account_id = ?
		WHERE id = ? AND status = ?`,
		string(core.StatusCleared), amount, accountID, id, string(core.StatusPending))
	if err != nil {
		return false, fmt.Errorf("confirm transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("confirm transaction rows: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var t core.Transaction
	var typ, status, source, date, createdAt string
	var isInstallment int
	err := row.Scan(&t.ID, &t.BudgetID, &t.AccountID, &t.ToAccountID, &t.CategoryID, &t.IncomeSourceID,
		&t.RecurringBillID, &t.GoalID, &typ, &status, &t.Amount.Cents, &date, &t.Description,
		&isInstallment, &t.InstallmentNumber, &t.TotalInstallments, &t.ParentTransactionID, &source, &createdAt)
	if err != nil {
		return core.Transaction{}, err
	}
	t.Type = core.TransactionType(typ)
	t.Status = core.TransactionStatus(status)
	t.Source = core.TransactionSource(source)
	t.IsInstallment = isInstallment != 0
	if t.Date, err = core.ParseDate(date); err != nil {
		return core.Transaction{}, fmt.Errorf("parse transaction date: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Transaction{}, fmt.Errorf("parse transaction created_at: %w", err)
	}
	return t, nil
}

// ---- recurring templates ----

func (q *Queries) CreateRecurringBill(ctx context.Context, b core.RecurringBill) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO recurring_bills (id, budget_id, description, amount, frequency, due_day, due_month, account_id, category_id, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.BudgetID, b.Description, b.Amount.Cents, string(b.Frequency),
		b.DueDay, b.DueMonth, b.AccountID, b.CategoryID, boolInt(b.Active))
	if err != nil {
		return fmt.Errorf("insert recurring bill: %w", err)
	}
	return nil
}

func (q *Queries) ListActiveRecurringBills(ctx context.Context, budgetID string) ([]core.RecurringBill, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, budget_id, description, amount, frequency, due_day, due_month, account_id, category_id
		FROM recurring_bills WHERE budget_id = ? AND active = 1`, budgetID)
	if err != nil {
		return nil, fmt.Errorf("list recurring bills: %w", err)
	}
	defer rows.Close()

	var bills []core.RecurringBill
	for rows.Next() {
		var b core.RecurringBill
		var freq string
		if err := rows.Scan(&b.ID, &b.BudgetID, &b.Description, &b.Amount.Cents, &freq,
			&b.DueDay, &b.DueMonth, &b.AccountID, &b.CategoryID); err != nil {
			return nil, fmt.Errorf("scan recurring bill: %w", err)
		}
		b.Frequency = core.Frequency(freq)
		b.Active = true
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

func (q *Queries) CreateIncomeSource(ctx context.Context, s core.IncomeSource) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO income_sources (id, budget_id, description, amount, frequency, due_day, due_month, account_id, category_id, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.BudgetID, s.Description, s.Amount.Cents, string(s.Frequency),
		s.DueDay, s.DueMonth, s.AccountID, s.CategoryID, boolInt(s.Active))
	if err != nil {
		return fmt.Errorf("insert income source: %w", err)
	}
	return nil
}

func (q *Queries) ListActiveIncomeSources(ctx context.Context, budgetID string) ([]core.IncomeSource, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, budget_id, description, amount, frequency, due_day, due_month, account_id, category_id
		FROM income_sources WHERE budget_id = ? AND active = 1`, budgetID)
	if err != nil {
		return nil, fmt.Errorf("list income sources: %w", err)
	}
	defer rows.Close()

	var sources []core.IncomeSource
	for rows.Next() {
		var s core.IncomeSource
		var freq string
		if err := rows.Scan(&s.ID, &s.BudgetID, &s.Description, &s.Amount.Cents, &freq,
			&s.DueDay, &s.DueMonth, &s.AccountID, &s.CategoryID); err != nil {
			return nil, fmt.Errorf("scan income source: %w", err)
		}
		s.Frequency = core.Frequency(freq)
		s.Active = true
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// ---- goals ----

func (q *Queries) CreateGoal(ctx context.Context, g core.Goal) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO goals (id, budget_id, name, target_amount, current_amount, linked_account_id, is_completed, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.BudgetID, g.Name, g.TargetAmount.Cents, g.CurrentAmount.Cents,
		g.LinkedAccountID, boolInt(g.IsCompleted), formatTime(g.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert goal: %w", err)
	}
	return nil
}

func (q *Queries) GetGoal(ctx context.Context, id string) (core.Goal, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, budget_id, name, target_amount, current_amount, linked_account_id, is_completed, completed_at
		FROM goals WHERE id = ?`, id)

	var g core.Goal
	var completed int
	var completedAt string
	err := row.Scan(&g.ID, &g.BudgetID, &g.Name, &g.TargetAmount.Cents, &g.CurrentAmount.Cents,
		&g.LinkedAccountID, &completed, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Goal{}, &core.NotFoundError{Entity: "goal", ID: id}
	}
	if err != nil {
		return core.Goal{}, fmt.Errorf("get goal: %w", err)
	}
	g.IsCompleted = completed != 0
	if g.CompletedAt, err = parseTime(completedAt); err != nil {
		return core.Goal{}, fmt.Errorf("parse goal completed_at: %w", err)
	}
	return g, nil
}

// ApplyGoalDelta adds to the goal's running total in the storage engine, the
// same additive discipline as account balances.
func (q *Queries) ApplyGoalDelta(ctx context.Context, goalID string, delta int64) error {
	res, err := q.db.ExecContext(ctx, `UPDATE goals SET current_amount = current_amount + ? WHERE id = ?`, delta, goalID)
	if err != nil {
		return fmt.Errorf("apply goal delta: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.NotFoundError{Entity: "goal", ID: goalID}
	}
	return nil
}

// GetGoalAmount re-reads the running total after an additive update; the
// completion check must see the post-update value.
func (q *Queries) GetGoalAmount(ctx context.Context, goalID string) (int64, error) {
	var amount int64
	err := q.db.QueryRowContext(ctx, `SELECT current_amount FROM goals WHERE id = ?`, goalID).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &core.NotFoundError{Entity: "goal", ID: goalID}
	}
	if err != nil {
		return 0, fmt.Errorf("get goal amount: %w", err)
	}
	return amount, nil
}

// MarkGoalCompleted flips is_completed exactly once; the guard in the WHERE
// clause means concurrent contributions crossing the threshold together
// produce a single completion.
func (q *Queries) MarkGoalCompleted(ctx context.Context, goalID string, at time.Time) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE goals SET is_completed = 1, completed_at = ? WHERE id = ? AND is_completed = 0`,
		formatTime(at), goalID)
	if err != nil {
		return false, fmt.Errorf("mark goal completed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark goal completed rows: %w", err)
	}
	return n > 0, nil
}

func (q *Queries) InsertGoalContribution(ctx context.Context, c core.GoalContribution) error {
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO goal_contributions (id, goal_id, amount, year, month, from_account_id, transaction_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.GoalID, c.Amount.Cents, c.Year, c.Month, c.FromAccountID, c.TransactionID, formatTime(created))
	if err != nil {
		return fmt.Errorf("insert goal contribution: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
