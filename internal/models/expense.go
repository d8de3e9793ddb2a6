package models

import "time"

// DateLayout is the form and display layout of an expense date.
const DateLayout = "2006-01-02"

// Expense represents a financial expense record.
type Expense struct {
	ID          string    `json:"id"`
	Date        time.Time `json:"date"`
	Category    string    `json:"category"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description"`
	UserID      string    `json:"user_id,omitempty"`
}

// User represents a user account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExpenseFilter narrows a search. Zero-valued fields are ignored and the
// remaining conditions are combined with AND. Ranges are inclusive.
type ExpenseFilter struct {
	OwnerID   string
	Query     string
	StartDate *time.Time
	EndDate   *time.Time
	MinAmount *float64
	MaxAmount *float64
}

// IsEmpty reports whether the filter has no search condition besides the owner.
func (f ExpenseFilter) IsEmpty() bool {
	return f.Query == "" && f.StartDate == nil && f.EndDate == nil &&
		f.MinAmount == nil && f.MaxAmount == nil
}

// CategoryTotal is the aggregated spending of one category.
type CategoryTotal struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
}

// DashboardSummary holds the aggregates shown on the dashboard.
type DashboardSummary struct {
	Total         float64
	LastSevenDays float64
	Largest       []Expense
	ByCategory    []CategoryTotal
}

// NormalizeDate drops the time of day and returns the calendar date at UTC midnight.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
