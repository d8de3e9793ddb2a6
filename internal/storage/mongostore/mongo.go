// Package mongostore implements storage.Store on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spendbook/internal/models"
	"spendbook/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	ExpenseCollection = "expenses"
	UserCollection    = "users"
	SessionCollection = "sessions"
)

// Store keeps expenses, users and sessions in one MongoDB database.
type Store struct {
	client   *mongo.Client
	expenses *mongo.Collection
	users    *mongo.Collection
	sessions *mongo.Collection
}

var _ storage.Store = (*Store)(nil)

type expenseDoc struct {
	ID          bson.ObjectID `bson:"_id,omitempty"`
	Date        time.Time     `bson:"date"`
	Category    string        `bson:"category"`
	Amount      float64       `bson:"amount"`
	Description string        `bson:"description"`
	UserID      string        `bson:"user_id,omitempty"`
}

func (d expenseDoc) expense() models.Expense {
	return models.Expense{
		ID:          d.ID.Hex(),
		Date:        models.NormalizeDate(d.Date),
		Category:    d.Category,
		Amount:      d.Amount,
		Description: d.Description,
		UserID:      d.UserID,
	}
}

type userDoc struct {
	ID           bson.ObjectID `bson:"_id,omitempty"`
	Username     string        `bson:"username"`
	PasswordHash string        `bson:"password_hash"`
	CreatedAt    time.Time     `bson:"created_at"`
}

func (d userDoc) user() *models.User {
	return &models.User{
		ID:           d.ID.Hex(),
		Username:     d.Username,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt,
	}
}

type sessionDoc struct {
	Token        string    `bson:"_id"`
	UserID       string    `bson:"user_id"`
	ExpiresAt    time.Time `bson:"expires_at"`
	LastActivity time.Time `bson:"last_activity"`
}

// New connects to uri, checks the connection and ensures indexes on database.
func New(ctx context.Context, uri, database string) (*Store, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:   client,
		expenses: db.Collection(ExpenseCollection),
		users:    db.Collection(UserCollection),
		sessions: db.Collection(SessionCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.expenses.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "category", Value: "text"}, {Key: "description", Value: "text"}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "date", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create expense indexes: %w", err)
	}
	_, err = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	_, err = s.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "expires_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create session indexes: %w", err)
	}
	return nil
}

// objectID parses an opaque identifier. Anything that is not an ObjectID
// cannot name an existing document.
func objectID(id string) (bson.ObjectID, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return bson.ObjectID{}, storage.ErrNotFound
	}
	return oid, nil
}

func ownerFilter(owner string) bson.D {
	if owner == "" {
		return bson.D{}
	}
	return bson.D{{Key: "user_id", Value: owner}}
}

var newestFirst = bson.D{{Key: "date", Value: -1}, {Key: "_id", Value: -1}}

func (s *Store) findExpenses(ctx context.Context, filter bson.D, opts *options.FindOptionsBuilder) ([]models.Expense, error) {
	cursor, err := s.expenses.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var expenses []models.Expense
	for cursor.Next(ctx) {
		var doc expenseDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode expense: %w", err)
		}
		expenses = append(expenses, doc.expense())
	}
	return expenses, cursor.Err()
}

// CreateExpense inserts a new expense and sets its ID.
func (s *Store) CreateExpense(ctx context.Context, e *models.Expense) error {
	e.Date = models.NormalizeDate(e.Date)
	doc := expenseDoc{
		ID:          bson.NewObjectID(),
		Date:        e.Date,
		Category:    e.Category,
		Amount:      e.Amount,
		Description: e.Description,
		UserID:      e.UserID,
	}
	if _, err := s.expenses.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}
	e.ID = doc.ID.Hex()
	return nil
}

// GetExpense retrieves a single expense by ID.
func (s *Store) GetExpense(ctx context.Context, id, owner string) (*models.Expense, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	filter := append(bson.D{{Key: "_id", Value: oid}}, ownerFilter(owner)...)

	var doc expenseDoc
	err = s.expenses.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get expense %s: %w", id, err)
	}
	e := doc.expense()
	return &e, nil
}

// UpdateExpense overwrites date, category, amount and description of an
// existing expense, scoped by e.UserID.
func (s *Store) UpdateExpense(ctx context.Context, e *models.Expense) error {
	oid, err := objectID(e.ID)
	if err != nil {
		return err
	}
	e.Date = models.NormalizeDate(e.Date)
	filter := append(bson.D{{Key: "_id", Value: oid}}, ownerFilter(e.UserID)...)
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "date", Value: e.Date},
		{Key: "category", Value: e.Category},
		{Key: "amount", Value: e.Amount},
		{Key: "description", Value: e.Description},
	}}}

	res, err := s.expenses.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("update expense %s: %w", e.ID, err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteExpense removes an expense. Deleting a missing expense is a no-op.
func (s *Store) DeleteExpense(ctx context.Context, id, owner string) error {
	oid, err := objectID(id)
	if err != nil {
		return nil
	}
	filter := append(bson.D{{Key: "_id", Value: oid}}, ownerFilter(owner)...)
	if _, err := s.expenses.DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("delete expense %s: %w", id, err)
	}
	return nil
}

// ListExpenses retrieves all expenses, ordered by date descending.
func (s *Store) ListExpenses(ctx context.Context, owner string) ([]models.Expense, error) {
	expenses, err := s.findExpenses(ctx, ownerFilter(owner), options.Find().SetSort(newestFirst))
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return expenses, nil
}

// SearchExpenses returns the expenses matching every condition of f, newest
// first. Free text goes through the text index, so it matches whole words.
func (s *Store) SearchExpenses(ctx context.Context, f models.ExpenseFilter) ([]models.Expense, error) {
	filter := ownerFilter(f.OwnerID)
	if f.Query != "" {
		filter = append(filter, bson.E{Key: "$text", Value: bson.D{{Key: "$search", Value: f.Query}}})
	}

	dates := bson.D{}
	if f.StartDate != nil {
		dates = append(dates, bson.E{Key: "$gte", Value: models.NormalizeDate(*f.StartDate)})
	}
	if f.EndDate != nil {
		dates = append(dates, bson.E{Key: "$lte", Value: models.NormalizeDate(*f.EndDate)})
	}
	if len(dates) > 0 {
		filter = append(filter, bson.E{Key: "date", Value: dates})
	}

	amounts := bson.D{}
	if f.MinAmount != nil {
		amounts = append(amounts, bson.E{Key: "$gte", Value: *f.MinAmount})
	}
	if f.MaxAmount != nil {
		amounts = append(amounts, bson.E{Key: "$lte", Value: *f.MaxAmount})
	}
	if len(amounts) > 0 {
		filter = append(filter, bson.E{Key: "amount", Value: amounts})
	}

	expenses, err := s.findExpenses(ctx, filter, options.Find().SetSort(newestFirst))
	if err != nil {
		return nil, fmt.Errorf("search expenses: %w", err)
	}
	return expenses, nil
}

// TotalAmount sums all amounts.
func (s *Store) TotalAmount(ctx context.Context, owner string) (float64, error) {
	return s.sum(ctx, ownerFilter(owner))
}

// TotalAmountBetween sums amounts dated within [from, to].
func (s *Store) TotalAmountBetween(ctx context.Context, owner string, from, to time.Time) (float64, error) {
	filter := append(ownerFilter(owner), bson.E{Key: "date", Value: bson.D{
		{Key: "$gte", Value: models.NormalizeDate(from)},
		{Key: "$lte", Value: models.NormalizeDate(to)},
	}})
	return s.sum(ctx, filter)
}

func (s *Store) sum(ctx context.Context, match bson.D) (float64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$amount"}}},
		}}},
	}
	cursor, err := s.expenses.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("sum expenses: %w", err)
	}
	var results []struct {
		Total float64 `bson:"total"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, fmt.Errorf("sum expenses: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Total, nil
}

// LargestExpenses returns the limit largest expenses by amount.
func (s *Store) LargestExpenses(ctx context.Context, owner string, limit int) ([]models.Expense, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "amount", Value: -1}, {Key: "date", Value: -1}}).
		SetLimit(int64(limit))
	expenses, err := s.findExpenses(ctx, ownerFilter(owner), opts)
	if err != nil {
		return nil, fmt.Errorf("largest expenses: %w", err)
	}
	return expenses, nil
}

// CategoryTotals aggregates spending per category, largest total first.
func (s *Store) CategoryTotals(ctx context.Context, owner string) ([]models.CategoryTotal, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: ownerFilter(owner)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$category"},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$amount"}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "total", Value: -1}, {Key: "_id", Value: 1}}}},
	}
	cursor, err := s.expenses.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("category totals: %w", err)
	}
	var results []struct {
		Category string  `bson:"_id"`
		Total    float64 `bson:"total"`
		Count    int     `bson:"count"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("category totals: %w", err)
	}

	totals := make([]models.CategoryTotal, 0, len(results))
	for _, r := range results {
		totals = append(totals, models.CategoryTotal{Category: r.Category, Total: r.Total, Count: r.Count})
	}
	return totals, nil
}

// CreateUser creates a new user with the given username and password hash.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	doc := userDoc{
		ID:           bson.NewObjectID(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, storage.ErrDuplicateUsername
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return doc.user(), nil
}

func (s *Store) getUser(ctx context.Context, filter bson.D) (*models.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return doc.user(), nil
}

// GetUserByID retrieves a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	return s.getUser(ctx, bson.D{{Key: "_id", Value: oid}})
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, bson.D{{Key: "username", Value: username}})
}

// UserCount returns the number of users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	n, err := s.users.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return int(n), nil
}

// CreateSession creates a new session for a user.
func (s *Store) CreateSession(ctx context.Context, token, userID string, expiresAt time.Time) error {
	_, err := s.sessions.InsertOne(ctx, sessionDoc{
		Token:        token,
		UserID:       userID,
		ExpiresAt:    expiresAt.UTC(),
		LastActivity: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// ValidateSessionWithInfo checks if a session token is valid at now and
// returns session details.
func (s *Store) ValidateSessionWithInfo(ctx context.Context, token string, now time.Time) (*storage.SessionInfo, error) {
	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.D{
		{Key: "_id", Value: token},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: now.UTC()}}},
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("validate session: %w", err)
	}

	user, err := s.GetUserByID(ctx, doc.UserID)
	if err != nil {
		return nil, err
	}
	return &storage.SessionInfo{
		User:         user,
		LastActivity: doc.LastActivity,
		ExpiresAt:    doc.ExpiresAt,
	}, nil
}

// RenewSession updates the last_activity and expires_at for a session.
func (s *Store) RenewSession(ctx context.Context, token string, newExpiresAt time.Time) error {
	_, err := s.sessions.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: token}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "last_activity", Value: time.Now().UTC()},
			{Key: "expires_at", Value: newExpiresAt.UTC()},
		}}},
	)
	return err
}

// DeleteSession removes a session by token.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.sessions.DeleteOne(ctx, bson.D{{Key: "_id", Value: token}})
	return err
}

// CleanExpiredSessions removes all sessions expired at now.
func (s *Store) CleanExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.sessions.DeleteMany(ctx, bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: now.UTC()}}}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// Ping checks that the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
