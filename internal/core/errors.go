package core

import "fmt"

// ValidationError reports malformed input caught before any write begins:
// a transfer without a destination, a non-positive amount, a yearly template
// without a due month.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ReferentialError reports an entity that exists but belongs to a different
// budget than the one named by the operation.
type ReferentialError struct {
	Entity   string
	ID       string
	BudgetID string
}

func (e *ReferentialError) Error() string {
	return fmt.Sprintf("%s %s does not belong to budget %s", e.Entity, e.ID, e.BudgetID)
}

// NotFoundError reports a referenced goal, template, or account that is
// absent from storage.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// StateError reports an attempt to move a transaction backwards through the
// pending -> cleared -> reconciled state machine.
type StateError struct {
	ID     string
	Status TransactionStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("transaction %s is already %s", e.ID, e.Status)
}
