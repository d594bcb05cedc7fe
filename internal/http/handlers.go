package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"conti/internal/core"
	"conti/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the engine's error taxonomy onto HTTP statuses: bad input
// is 400, a reference outside the budget is 422, a missing entity is 404 and
// an invalid state transition is 409.
func writeError(w http.ResponseWriter, err error) {
	var (
		validationErr  *core.ValidationError
		referentialErr *core.ReferentialError
		notFoundErr    *core.NotFoundError
		stateErr       *core.StateError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validationErr),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidDay),
		errors.Is(err, core.ErrInvalidMonth),
		errors.Is(err, core.ErrEmptyDescription):
		status = http.StatusBadRequest
	case errors.As(err, &notFoundErr):
		status = http.StatusNotFound
	case errors.As(err, &referentialErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &stateErr):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, &core.ValidationError{Field: "body", Reason: err.Error()})
		return false
	}
	return true
}

// moneyField accepts either an integer amount in cents or a decimal string
// such as "12.34"; exactly one must be set on write requests.
type moneyField struct {
	AmountCents int64  `json:"amountCents,omitempty"`
	Amount      string `json:"amount,omitempty"`
}

func (m moneyField) resolve() (core.Money, error) {
	if m.Amount != "" {
		if m.AmountCents != 0 {
			return core.Money{}, &core.ValidationError{Field: "amount", Reason: "set either amount or amountCents, not both"}
		}
		cents, err := core.ParseDecimalToCents(m.Amount)
		if err != nil {
			return core.Money{}, err
		}
		return core.Money{Cents: cents}, nil
	}
	return core.Money{Cents: m.AmountCents}, nil
}

func parseDateField(field, value string) (core.Date, error) {
	if value == "" {
		return core.Date{}, &core.ValidationError{Field: field, Reason: "date is required"}
	}
	d, err := core.ParseDate(value)
	if err != nil {
		return core.Date{}, &core.ValidationError{Field: field, Reason: "date must be YYYY-MM-DD"}
	}
	return d, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &core.ValidationError{Field: key, Reason: "must be an integer"}
	}
	return n, nil
}

// ---- accounts ----

type createAccountRequest struct {
	BudgetID     string `json:"budgetId"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	BalanceCents int64  `json:"balanceCents,omitempty"`
	CreditLimit  int64  `json:"creditLimitCents,omitempty"`
	ClosingDay   int    `json:"closingDay,omitempty"`
	DueDay       int    `json:"dueDay,omitempty"`
}

type accountResponse struct {
	ID                  string `json:"id"`
	BudgetID            string `json:"budgetId"`
	Name                string `json:"name"`
	Type                string `json:"type"`
	BalanceCents        int64  `json:"balanceCents"`
	ClearedBalanceCents int64  `json:"clearedBalanceCents"`
	CreditLimitCents    int64  `json:"creditLimitCents,omitempty"`
	ClosingDay          int    `json:"closingDay,omitempty"`
	DueDay              int    `json:"dueDay,omitempty"`
	Archived            bool   `json:"archived,omitempty"`
}

func toAccountResponse(a core.Account) accountResponse {
	return accountResponse{
		ID:                  a.ID,
		BudgetID:            a.BudgetID,
		Name:                a.Name,
		Type:                string(a.Type),
		BalanceCents:        a.Balance.Cents,
		ClearedBalanceCents: a.ClearedBalance.Cents,
		CreditLimitCents:    a.CreditLimit.Cents,
		ClosingDay:          a.ClosingDay,
		DueDay:              a.DueDay,
		Archived:            a.Archived,
	}
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListAccounts(w, r)
	case http.MethodPost:
		s.handleCreateAccount(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	budgetID := r.URL.Query().Get("budget_id")
	if budgetID == "" {
		writeError(w, &core.ValidationError{Field: "budget_id", Reason: "budget id is required"})
		return
	}
	accounts, err := s.store.Queries().ListAccounts(r.Context(), budgetID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BudgetID == "" {
		writeError(w, &core.ValidationError{Field: "budgetId", Reason: "budget id is required"})
		return
	}
	if req.Name == "" {
		writeError(w, &core.ValidationError{Field: "name", Reason: "name is required"})
		return
	}
	switch core.AccountType(req.Type) {
	case core.AccountChecking, core.AccountSavings, core.AccountCreditCard,
		core.AccountCash, core.AccountInvestment, core.AccountBenefit:
	default:
		writeError(w, &core.ValidationError{Field: "type", Reason: "unknown account type " + req.Type})
		return
	}
	if req.ClosingDay < 0 || req.ClosingDay > 31 {
		writeError(w, core.ErrInvalidDay)
		return
	}
	balance := core.Money{Cents: req.BalanceCents}

	account := core.Account{
		ID:             uuid.NewString(),
		BudgetID:       req.BudgetID,
		Name:           req.Name,
		Type:           core.AccountType(req.Type),
		Balance:        balance,
		ClearedBalance: balance,
		CreditLimit:    core.Money{Cents: req.CreditLimit},
		ClosingDay:     req.ClosingDay,
		DueDay:         req.DueDay,
	}
	if err := s.store.Queries().CreateAccount(r.Context(), account); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(account))
}

// ---- categories ----

type createCategoryRequest struct {
	BudgetID string `json:"budgetId"`
	Name     string `json:"name"`
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createCategoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BudgetID == "" || req.Name == "" {
		writeError(w, &core.ValidationError{Field: "name", Reason: "budget id and name are required"})
		return
	}
	category := core.Category{ID: uuid.NewString(), BudgetID: req.BudgetID, Name: req.Name}
	if err := s.store.Queries().CreateCategory(r.Context(), category); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, category)
}

// ---- recurring templates ----

type createTemplateRequest struct {
	BudgetID    string `json:"budgetId"`
	Description string `json:"description"`
	moneyField
	Frequency  string `json:"frequency"`
	DueDay     int    `json:"dueDay"`
	DueMonth   int    `json:"dueMonth,omitempty"`
	AccountID  string `json:"accountId,omitempty"`
	CategoryID string `json:"categoryId,omitempty"`
}

func (s *Server) handleCreateBill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createTemplateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := req.resolve()
	if err != nil {
		writeError(w, err)
		return
	}
	if req.BudgetID == "" {
		writeError(w, &core.ValidationError{Field: "budgetId", Reason: "budget id is required"})
		return
	}
	bill := core.RecurringBill{
		ID:          uuid.NewString(),
		BudgetID:    req.BudgetID,
		Description: req.Description,
		Amount:      amount,
		Frequency:   core.Frequency(req.Frequency),
		DueDay:      req.DueDay,
		DueMonth:    req.DueMonth,
		AccountID:   req.AccountID,
		CategoryID:  req.CategoryID,
		Active:      true,
	}
	if err := bill.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.Queries().CreateRecurringBill(r.Context(), bill); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": bill.ID})
}

func (s *Server) handleCreateIncomeSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createTemplateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := req.resolve()
	if err != nil {
		writeError(w, err)
		return
	}
	if req.BudgetID == "" {
		writeError(w, &core.ValidationError{Field: "budgetId", Reason: "budget id is required"})
		return
	}
	source := core.IncomeSource{
		ID:          uuid.NewString(),
		BudgetID:    req.BudgetID,
		Description: req.Description,
		Amount:      amount,
		Frequency:   core.Frequency(req.Frequency),
		DueDay:      req.DueDay,
		DueMonth:    req.DueMonth,
		AccountID:   req.AccountID,
		CategoryID:  req.CategoryID,
		Active:      true,
	}
	if err := source.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.Queries().CreateIncomeSource(r.Context(), source); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": source.ID})
}

// ---- goals ----

type createGoalRequest struct {
	BudgetID        string `json:"budgetId"`
	Name            string `json:"name"`
	TargetCents     int64  `json:"targetCents"`
	LinkedAccountID string `json:"linkedAccountId,omitempty"`
}

func (s *Server) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createGoalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BudgetID == "" || req.Name == "" {
		writeError(w, &core.ValidationError{Field: "name", Reason: "budget id and name are required"})
		return
	}
	if req.TargetCents <= 0 {
		writeError(w, core.ErrInvalidAmount)
		return
	}
	goal := core.Goal{
		ID:              uuid.NewString(),
		BudgetID:        req.BudgetID,
		Name:            req.Name,
		TargetAmount:    core.Money{Cents: req.TargetCents},
		LinkedAccountID: req.LinkedAccountID,
	}
	if err := s.store.Queries().CreateGoal(r.Context(), goal); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": goal.ID})
}

type contributeRequest struct {
	GoalID string `json:"goalId"`
	moneyField
	Year          int    `json:"year"`
	Month         int    `json:"month"`
	FromAccountID string `json:"fromAccountId"`
}

type contributeResponse struct {
	ContributionID     string `json:"contributionId"`
	TransactionID      string `json:"transactionId,omitempty"`
	GoalID             string `json:"goalId"`
	CurrentAmountCents int64  `json:"currentAmountCents"`
	TargetAmountCents  int64  `json:"targetAmountCents"`
	IsCompleted        bool   `json:"isCompleted"`
	JustCompleted      bool   `json:"justCompleted"`
}

func (s *Server) handleContribute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req contributeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := req.resolve()
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.goals.Contribute(r.Context(), req.GoalID, amount, req.Year, req.Month, req.FromAccountID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.invalidateMonth(result.Goal.BudgetID, req.Year, req.Month)

	resp := contributeResponse{
		ContributionID:     result.Contribution.ID,
		GoalID:             result.Goal.ID,
		CurrentAmountCents: result.Goal.CurrentAmount.Cents,
		TargetAmountCents:  result.Goal.TargetAmount.Cents,
		IsCompleted:        result.Goal.IsCompleted,
		JustCompleted:      result.JustCompleted,
	}
	if result.Transaction != nil {
		resp.TransactionID = result.Transaction.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---- transactions ----

type createTransactionRequest struct {
	BudgetID    string `json:"budgetId"`
	AccountID   string `json:"accountId"`
	ToAccountID string `json:"toAccountId,omitempty"`
	CategoryID  string `json:"categoryId,omitempty"`
	GoalID      string `json:"goalId,omitempty"`
	Type        string `json:"type"`
	moneyField
	Date         string `json:"date"`
	Description  string `json:"description,omitempty"`
	Installments int    `json:"installments,omitempty"`
	Source       string `json:"source,omitempty"`
}

type transactionResponse struct {
	ID                  string `json:"id"`
	BudgetID            string `json:"budgetId"`
	AccountID           string `json:"accountId"`
	ToAccountID         string `json:"toAccountId,omitempty"`
	CategoryID          string `json:"categoryId,omitempty"`
	IncomeSourceID      string `json:"incomeSourceId,omitempty"`
	RecurringBillID     string `json:"recurringBillId,omitempty"`
	GoalID              string `json:"goalId,omitempty"`
	Type                string `json:"type"`
	Status              string `json:"status"`
	AmountCents         int64  `json:"amountCents"`
	Date                string `json:"date"`
	Description         string `json:"description,omitempty"`
	IsInstallment       bool   `json:"isInstallment,omitempty"`
	InstallmentNumber   int    `json:"installmentNumber,omitempty"`
	TotalInstallments   int    `json:"totalInstallments,omitempty"`
	ParentTransactionID string `json:"parentTransactionId,omitempty"`
	Source              string `json:"source"`
}

func toTransactionResponse(t core.Transaction) transactionResponse {
	return transactionResponse{
		ID:                  t.ID,
		BudgetID:            t.BudgetID,
		AccountID:           t.AccountID,
		ToAccountID:         t.ToAccountID,
		CategoryID:          t.CategoryID,
		IncomeSourceID:      t.IncomeSourceID,
		RecurringBillID:     t.RecurringBillID,
		GoalID:              t.GoalID,
		Type:                string(t.Type),
		Status:              string(t.Status),
		AmountCents:         t.Amount.Cents,
		Date:                t.Date.String(),
		Description:         t.Description,
		IsInstallment:       t.IsInstallment,
		InstallmentNumber:   t.InstallmentNumber,
		TotalInstallments:   t.TotalInstallments,
		ParentTransactionID: t.ParentTransactionID,
		Source:              string(t.Source),
	}
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleMonthView(w, r)
	case http.MethodPost:
		s.handleCreateTransaction(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := req.resolve()
	if err != nil {
		writeError(w, err)
		return
	}
	date, err := parseDateField("date", req.Date)
	if err != nil {
		writeError(w, err)
		return
	}

	rows, err := s.ledger.CreateTransaction(r.Context(), services.CreateTransactionInput{
		BudgetID:     req.BudgetID,
		AccountID:    req.AccountID,
		ToAccountID:  req.ToAccountID,
		CategoryID:   req.CategoryID,
		GoalID:       req.GoalID,
		Type:         core.TransactionType(req.Type),
		Amount:       amount,
		Date:         date,
		Description:  req.Description,
		Installments: req.Installments,
		Source:       core.TransactionSource(req.Source),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// Installment rows can land in several months; drop every touched view.
	for _, row := range rows {
		s.invalidateMonth(row.BudgetID, row.Date.Year(), row.Date.Month())
	}

	out := make([]transactionResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, toTransactionResponse(row))
	}
	writeJSON(w, http.StatusCreated, out)
}

type monthViewResponse struct {
	BudgetID     string                `json:"budgetId"`
	Year         int                   `json:"year"`
	Month        int                   `json:"month"`
	Generated    services.EnsureResult `json:"generated"`
	Transactions []transactionResponse `json:"transactions"`
}

// handleMonthView is the read path that drives materialization: viewing a
// month first ensures its pending rows exist, then lists the window. Cached
// views skip both steps until a write invalidates them or the TTL expires.
func (s *Server) handleMonthView(w http.ResponseWriter, r *http.Request) {
	budgetID := r.URL.Query().Get("budget_id")
	if budgetID == "" {
		writeError(w, &core.ValidationError{Field: "budget_id", Reason: "budget id is required"})
		return
	}
	year, err := queryInt(r, "year")
	if err != nil {
		writeError(w, err)
		return
	}
	month, err := queryInt(r, "month")
	if err != nil {
		writeError(w, err)
		return
	}
	if month < 1 || month > 12 {
		writeError(w, core.ErrInvalidMonth)
		return
	}

	key := s.monthCacheKey(budgetID, year, month)
	if cached, ok := s.monthCache.Get(key); ok {
		out := make([]transactionResponse, 0, len(cached))
		for _, t := range cached {
			out = append(out, toTransactionResponse(t))
		}
		writeJSON(w, http.StatusOK, monthViewResponse{
			BudgetID: budgetID, Year: year, Month: month, Transactions: out,
		})
		return
	}

	generated, err := s.generator.EnsurePendingForMonth(r.Context(), budgetID, year, month)
	if err != nil {
		writeError(w, err)
		return
	}

	from := core.NewDate(year, month, 1)
	to := core.NewDate(year, month, core.DaysInMonth(year, month))
	transactions, err := s.store.Queries().ListTransactionsInWindow(r.Context(), budgetID, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	s.monthCache.Set(key, transactions)

	out := make([]transactionResponse, 0, len(transactions))
	for _, t := range transactions {
		out = append(out, toTransactionResponse(t))
	}
	writeJSON(w, http.StatusOK, monthViewResponse{
		BudgetID:     budgetID,
		Year:         year,
		Month:        month,
		Generated:    generated,
		Transactions: out,
	})
}

type confirmRequest struct {
	BudgetID        string `json:"budgetId"`
	RecurringBillID string `json:"recurringBillId,omitempty"`
	IncomeSourceID  string `json:"incomeSourceId,omitempty"`
	Date            string `json:"date"`
	moneyField
	AccountID string `json:"accountId,omitempty"`
}

func (s *Server) handleConfirmScheduled(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req confirmRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BudgetID == "" {
		writeError(w, &core.ValidationError{Field: "budgetId", Reason: "budget id is required"})
		return
	}
	date, err := parseDateField("date", req.Date)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := req.resolve()
	if err != nil {
		writeError(w, err)
		return
	}

	confirmed, err := s.ledger.ConfirmScheduled(r.Context(), req.BudgetID, services.ConfirmMatch{
		RecurringBillID: req.RecurringBillID,
		IncomeSourceID:  req.IncomeSourceID,
		Date:            date,
	}, amount, req.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.invalidateMonth(req.BudgetID, date.Year(), date.Month())
	writeJSON(w, http.StatusOK, toTransactionResponse(confirmed))
}

type ensurePendingRequest struct {
	BudgetID string `json:"budgetId"`
	Year     int    `json:"year"`
	Month    int    `json:"month"`
}

func (s *Server) handleEnsurePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ensurePendingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.generator.EnsurePendingForMonth(r.Context(), req.BudgetID, req.Year, req.Month)
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Created > 0 {
		s.invalidateMonth(req.BudgetID, req.Year, req.Month)
	}
	writeJSON(w, http.StatusOK, result)
}

// ---- billing math ----

type billingCycleResponse struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (s *Server) handleBillingCycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	closingDay, err := queryInt(r, "closing_day")
	if err != nil {
		writeError(w, err)
		return
	}
	year, err := queryInt(r, "year")
	if err != nil {
		writeError(w, err)
		return
	}
	month, err := queryInt(r, "month")
	if err != nil {
		writeError(w, err)
		return
	}
	cycle, err := core.CycleDates(closingDay, year, month)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, billingCycleResponse{Start: cycle.Start.String(), End: cycle.End.String()})
}

type billingMonthResponse struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

func (s *Server) handleBillingMonth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	closingDay, err := queryInt(r, "closing_day")
	if err != nil {
		writeError(w, err)
		return
	}
	if closingDay < 1 || closingDay > 31 {
		writeError(w, core.ErrInvalidDay)
		return
	}
	date, err := parseDateField("date", r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, err)
		return
	}
	year, month := core.ClassifyBillingMonth(date, closingDay)
	writeJSON(w, http.StatusOK, billingMonthResponse{Year: year, Month: month})
}
