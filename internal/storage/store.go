package storage

import (
	"context"
	"errors"
	"time"

	"spendbook/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist or is not visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateUsername is returned when a username is already registered.
	ErrDuplicateUsername = errors.New("username already exists")
)

// SessionInfo holds session validation data.
type SessionInfo struct {
	User         *models.User
	LastActivity time.Time
	ExpiresAt    time.Time
}

// Store is the persistence layer behind the HTTP handlers.
//
// An empty owner means "no owner scoping" and is used when authentication is
// disabled. A non-empty owner restricts reads and writes to that user's
// expenses; records of other users behave as if they did not exist.
type Store interface {
	CreateExpense(ctx context.Context, e *models.Expense) error
	GetExpense(ctx context.Context, id, owner string) (*models.Expense, error)
	UpdateExpense(ctx context.Context, e *models.Expense) error
	DeleteExpense(ctx context.Context, id, owner string) error
	ListExpenses(ctx context.Context, owner string) ([]models.Expense, error)
	SearchExpenses(ctx context.Context, f models.ExpenseFilter) ([]models.Expense, error)

	TotalAmount(ctx context.Context, owner string) (float64, error)
	TotalAmountBetween(ctx context.Context, owner string, from, to time.Time) (float64, error)
	LargestExpenses(ctx context.Context, owner string, limit int) ([]models.Expense, error)
	CategoryTotals(ctx context.Context, owner string) ([]models.CategoryTotal, error)

	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UserCount(ctx context.Context) (int, error)

	CreateSession(ctx context.Context, token, userID string, expiresAt time.Time) error
	ValidateSessionWithInfo(ctx context.Context, token string, now time.Time) (*SessionInfo, error)
	RenewSession(ctx context.Context, token string, newExpiresAt time.Time) error
	DeleteSession(ctx context.Context, token string) error
	CleanExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
