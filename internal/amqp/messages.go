package amqp

import (
	"encoding/json"
	"time"
)

// TransactionCreatedMessage is a lightweight event: consumers fetch the full
// row from the API if they need more than the headline fields.
type TransactionCreatedMessage struct {
	Event         string    `json:"event"`
	TransactionID string    `json:"transactionId"`
	BudgetID      string    `json:"budgetId"`
	Type          string    `json:"type"`
	AmountCents   int64     `json:"amountCents"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewTransactionCreatedMessage(transactionID, budgetID, transactionType string, amountCents int64) *TransactionCreatedMessage {
	return &TransactionCreatedMessage{
		Event:         "transaction.created",
		TransactionID: transactionID,
		BudgetID:      budgetID,
		Type:          transactionType,
		AmountCents:   amountCents,
		Timestamp:     time.Now(),
	}
}

func (m *TransactionCreatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func TransactionCreatedMessageFromJSON(data []byte) (*TransactionCreatedMessage, error) {
	var msg TransactionCreatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GoalCompletedMessage fires once per goal, when its target is first met.
type GoalCompletedMessage struct {
	Event     string    `json:"event"`
	GoalID    string    `json:"goalId"`
	BudgetID  string    `json:"budgetId"`
	Timestamp time.Time `json:"timestamp"`
}

func NewGoalCompletedMessage(goalID, budgetID string) *GoalCompletedMessage {
	return &GoalCompletedMessage{
		Event:     "goal.completed",
		GoalID:    goalID,
		BudgetID:  budgetID,
		Timestamp: time.Now(),
	}
}

func (m *GoalCompletedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func GoalCompletedMessageFromJSON(data []byte) (*GoalCompletedMessage, error) {
	var msg GoalCompletedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
