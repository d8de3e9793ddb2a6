// Package events publishes expense lifecycle events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"spendbook/internal/models"
)

// Event types, used as routing keys.
const (
	ExpenseCreated = "expense.created"
	ExpenseUpdated = "expense.updated"
	ExpenseDeleted = "expense.deleted"
)

// Event describes a change to one expense.
type Event struct {
	Type       string    `json:"type"`
	ExpenseID  string    `json:"expense_id"`
	OwnerID    string    `json:"owner_id,omitempty"`
	Date       string    `json:"date,omitempty"`
	Category   string    `json:"category,omitempty"`
	Amount     float64   `json:"amount,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewExpenseEvent builds an event from an expense snapshot.
func NewExpenseEvent(eventType string, e *models.Expense, at time.Time) Event {
	ev := Event{
		Type:       eventType,
		ExpenseID:  e.ID,
		OwnerID:    e.UserID,
		Category:   e.Category,
		Amount:     e.Amount,
		OccurredAt: at.UTC(),
	}
	if !e.Date.IsZero() {
		ev.Date = e.Date.Format(models.DateLayout)
	}
	return ev
}

// ToJSON converts the event to JSON bytes
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON decodes an event.
func FromJSON(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
