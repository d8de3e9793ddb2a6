package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"spendbook/internal/models"

	// Import sqlite driver
	_ "modernc.org/sqlite"
)

const expenseColumns = "id, date, category, amount, description, user_id"

// DB wraps a sql.DB connection to SQLite or PostgreSQL.
type DB struct {
	conn    *sql.DB
	dialect Dialect
}

var _ Store = (*DB)(nil)

// NewDB opens a SQLite database at path and runs migrations.
func NewDB(path string) (*DB, error) {
	return open(DialectSQLite, path)
}

// NewPostgresDB opens a PostgreSQL database from a connection URL and runs migrations.
func NewPostgresDB(url string) (*DB, error) {
	return open(DialectPostgres, url)
}

func open(d Dialect, dsn string) (*DB, error) {
	conn, err := sql.Open(d.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", d, err)
	}
	if d == DialectSQLite {
		// One writer at a time; also keeps :memory: on a single connection.
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{conn: conn, dialect: d}
	if err := db.migrate(dsn); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

// Dialect reports the SQL flavour of the connection.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

func (db *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.conn.ExecContext(ctx, db.dialect.rebind(query), args...)
}

func (db *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, db.dialect.rebind(query), args...)
}

func (db *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, db.dialect.rebind(query), args...)
}

// parseID converts an opaque identifier into a row id. Anything that is not a
// row id cannot name an existing record.
func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, ErrNotFound
	}
	return n, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ownerScope appends the owner condition to a WHERE clause.
func ownerScope(where []string, args []any, owner string) ([]string, []any, error) {
	if owner == "" {
		return where, args, nil
	}
	uid, err := parseID(owner)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid owner %q: %w", owner, err)
	}
	return append(where, "user_id = ?"), append(args, uid), nil
}

func whereSQL(where []string) string {
	if len(where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(where, " AND ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(s rowScanner) (models.Expense, error) {
	var (
		e      models.Expense
		id     int64
		userID sql.NullInt64
	)
	if err := s.Scan(&id, &e.Date, &e.Category, &e.Amount, &e.Description, &userID); err != nil {
		return e, err
	}
	e.ID = formatID(id)
	e.Date = models.NormalizeDate(e.Date)
	if userID.Valid {
		e.UserID = formatID(userID.Int64)
	}
	return e, nil
}

func (db *DB) queryExpenses(ctx context.Context, query string, args ...any) ([]models.Expense, error) {
	rows, err := db.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expenses []models.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// CreateExpense inserts a new expense and sets its ID.
func (db *DB) CreateExpense(ctx context.Context, e *models.Expense) error {
	var owner any
	if e.UserID != "" {
		uid, err := parseID(e.UserID)
		if err != nil {
			return fmt.Errorf("invalid owner %q: %w", e.UserID, err)
		}
		owner = uid
	}

	e.Date = models.NormalizeDate(e.Date)
	var id int64
	err := db.queryRow(ctx,
		"INSERT INTO expenses (date, category, amount, description, user_id) VALUES (?, ?, ?, ?, ?) RETURNING id",
		e.Date, e.Category, e.Amount, e.Description, owner,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}
	e.ID = formatID(id)
	return nil
}

// GetExpense retrieves a single expense by ID.
func (db *DB) GetExpense(ctx context.Context, id, owner string) (*models.Expense, error) {
	rowID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	where, args, err := ownerScope([]string{"id = ?"}, []any{rowID}, owner)
	if err != nil {
		return nil, err
	}

	e, err := scanExpense(db.queryRow(ctx, "SELECT "+expenseColumns+" FROM expenses"+whereSQL(where), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get expense %s: %w", id, err)
	}
	return &e, nil
}

// UpdateExpense overwrites date, category, amount and description of an
// existing expense. The ID and owner are never changed; the owner scopes the
// update.
func (db *DB) UpdateExpense(ctx context.Context, e *models.Expense) error {
	rowID, err := parseID(e.ID)
	if err != nil {
		return err
	}
	e.Date = models.NormalizeDate(e.Date)
	where, args, err := ownerScope(
		[]string{"id = ?"},
		[]any{e.Date, e.Category, e.Amount, e.Description, rowID},
		e.UserID,
	)
	if err != nil {
		return err
	}

	res, err := db.exec(ctx,
		"UPDATE expenses SET date = ?, category = ?, amount = ?, description = ?"+whereSQL(where),
		args...,
	)
	if err != nil {
		return fmt.Errorf("update expense %s: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update expense %s: %w", e.ID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpense removes an expense. Deleting a missing expense is a no-op.
func (db *DB) DeleteExpense(ctx context.Context, id, owner string) error {
	rowID, err := parseID(id)
	if err != nil {
		return nil
	}
	where, args, err := ownerScope([]string{"id = ?"}, []any{rowID}, owner)
	if err != nil {
		return err
	}
	if _, err := db.exec(ctx, "DELETE FROM expenses"+whereSQL(where), args...); err != nil {
		return fmt.Errorf("delete expense %s: %w", id, err)
	}
	return nil
}

// ListExpenses retrieves all expenses, ordered by date descending.
func (db *DB) ListExpenses(ctx context.Context, owner string) ([]models.Expense, error) {
	where, args, err := ownerScope(nil, nil, owner)
	if err != nil {
		return nil, err
	}
	expenses, err := db.queryExpenses(ctx,
		"SELECT "+expenseColumns+" FROM expenses"+whereSQL(where)+" ORDER BY date DESC, id DESC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return expenses, nil
}

// SearchExpenses returns the expenses matching every condition of f, newest first.
func (db *DB) SearchExpenses(ctx context.Context, f models.ExpenseFilter) ([]models.Expense, error) {
	where, args, err := ownerScope(nil, nil, f.OwnerID)
	if err != nil {
		return nil, err
	}

	if q := strings.TrimSpace(f.Query); q != "" {
		pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
		where = append(where, `(LOWER(category) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if f.StartDate != nil {
		where = append(where, "date >= ?")
		args = append(args, models.NormalizeDate(*f.StartDate))
	}
	if f.EndDate != nil {
		where = append(where, "date <= ?")
		args = append(args, models.NormalizeDate(*f.EndDate))
	}
	if f.MinAmount != nil {
		where = append(where, "amount >= ?")
		args = append(args, *f.MinAmount)
	}
	if f.MaxAmount != nil {
		where = append(where, "amount <= ?")
		args = append(args, *f.MaxAmount)
	}

	expenses, err := db.queryExpenses(ctx,
		"SELECT "+expenseColumns+" FROM expenses"+whereSQL(where)+" ORDER BY date DESC, id DESC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("search expenses: %w", err)
	}
	return expenses, nil
}

// TotalAmount sums all amounts.
func (db *DB) TotalAmount(ctx context.Context, owner string) (float64, error) {
	where, args, err := ownerScope(nil, nil, owner)
	if err != nil {
		return 0, err
	}
	return db.sum(ctx, where, args)
}

// TotalAmountBetween sums amounts dated within [from, to].
func (db *DB) TotalAmountBetween(ctx context.Context, owner string, from, to time.Time) (float64, error) {
	where, args, err := ownerScope(
		[]string{"date >= ?", "date <= ?"},
		[]any{models.NormalizeDate(from), models.NormalizeDate(to)},
		owner,
	)
	if err != nil {
		return 0, err
	}
	return db.sum(ctx, where, args)
}

func (db *DB) sum(ctx context.Context, where []string, args []any) (float64, error) {
	var total float64
	err := db.queryRow(ctx, "SELECT COALESCE(SUM(amount), 0.0) FROM expenses"+whereSQL(where), args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum expenses: %w", err)
	}
	return total, nil
}

// LargestExpenses returns the limit largest expenses by amount.
func (db *DB) LargestExpenses(ctx context.Context, owner string, limit int) ([]models.Expense, error) {
	where, args, err := ownerScope(nil, nil, owner)
	if err != nil {
		return nil, err
	}
	expenses, err := db.queryExpenses(ctx,
		"SELECT "+expenseColumns+" FROM expenses"+whereSQL(where)+" ORDER BY amount DESC, date DESC LIMIT ?",
		append(args, limit)...,
	)
	if err != nil {
		return nil, fmt.Errorf("largest expenses: %w", err)
	}
	return expenses, nil
}

// CategoryTotals aggregates spending per category, largest total first.
func (db *DB) CategoryTotals(ctx context.Context, owner string) ([]models.CategoryTotal, error) {
	where, args, err := ownerScope(nil, nil, owner)
	if err != nil {
		return nil, err
	}
	rows, err := db.query(ctx,
		"SELECT category, SUM(amount), COUNT(*) FROM expenses"+whereSQL(where)+
			" GROUP BY category ORDER BY SUM(amount) DESC, category",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("category totals: %w", err)
	}
	defer rows.Close()

	var totals []models.CategoryTotal
	for rows.Next() {
		var ct models.CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.Total, &ct.Count); err != nil {
			return nil, fmt.Errorf("scan category total: %w", err)
		}
		totals = append(totals, ct)
	}
	return totals, rows.Err()
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// CreateUser creates a new user with the given username and password hash.
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	createdAt := time.Now().UTC()
	var id int64
	err := db.queryRow(ctx,
		"INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?) RETURNING id",
		username, passwordHash, createdAt,
	).Scan(&id)
	if err != nil {
		if db.dialect.isUniqueViolation(err) {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return db.GetUserByID(ctx, formatID(id))
}

func (db *DB) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	var (
		u  models.User
		id int64
	)
	err := db.queryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE "+where,
		arg,
	).Scan(&id, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.ID = formatID(id)
	return &u, nil
}

// GetUserByID retrieves a user by ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	rowID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return db.getUser(ctx, "id = ?", rowID)
}

// GetUserByUsername retrieves a user by username.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return db.getUser(ctx, "username = ?", username)
}

// UserCount returns the number of users in the database.
func (db *DB) UserCount(ctx context.Context) (int, error) {
	var count int
	err := db.queryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

// CreateSession creates a new session for a user.
func (db *DB) CreateSession(ctx context.Context, token, userID string, expiresAt time.Time) error {
	uid, err := parseID(userID)
	if err != nil {
		return fmt.Errorf("invalid user %q: %w", userID, err)
	}
	_, err = db.exec(ctx,
		"INSERT INTO sessions (token, user_id, expires_at, last_activity) VALUES (?, ?, ?, ?)",
		token, uid, expiresAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// ValidateSessionWithInfo checks if a session token is valid at now and
// returns session details.
func (db *DB) ValidateSessionWithInfo(ctx context.Context, token string, now time.Time) (*SessionInfo, error) {
	row := db.queryRow(ctx, `
		SELECT u.id, u.username, u.password_hash, u.created_at, s.last_activity, s.expires_at
		FROM sessions s
		JOIN users u ON s.user_id = u.id
		WHERE s.token = ? AND s.expires_at > ?
	`, token, now.UTC())

	var (
		u                       models.User
		id                      int64
		lastActivity, expiresAt time.Time
	)
	err := row.Scan(&id, &u.Username, &u.PasswordHash, &u.CreatedAt, &lastActivity, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("validate session: %w", err)
	}
	u.ID = formatID(id)
	return &SessionInfo{
		User:         &u,
		LastActivity: lastActivity,
		ExpiresAt:    expiresAt,
	}, nil
}

// RenewSession updates the last_activity and expires_at for a session.
func (db *DB) RenewSession(ctx context.Context, token string, newExpiresAt time.Time) error {
	_, err := db.exec(ctx,
		"UPDATE sessions SET last_activity = ?, expires_at = ? WHERE token = ?",
		time.Now().UTC(), newExpiresAt.UTC(), token,
	)
	return err
}

// DeleteSession removes a session by token.
func (db *DB) DeleteSession(ctx context.Context, token string) error {
	_, err := db.exec(ctx, "DELETE FROM sessions WHERE token = ?", token)
	return err
}

// CleanExpiredSessions removes all sessions expired at now.
func (db *DB) CleanExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.exec(ctx, "DELETE FROM sessions WHERE expires_at <= ?", now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
