// Package mongo implements storage.Store on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"solana-wallet-tracker/internal/domain"
	"solana-wallet-tracker/internal/observability"
	"solana-wallet-tracker/internal/storage"
)

// Collection names.
const (
	UsersCollection        = "users"
	TransactionsCollection = "transactions"
)

// Store implements storage.Store using MongoDB.
// UpdateUser is serialized by an in-process mutex; a single bot instance owns the database.
type Store struct {
	client *mongo.Client
	users  *mongo.Collection
	txs    *mongo.Collection

	mu  sync.Mutex
	now func() time.Time
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

type seenTransaction struct {
	Signature string    `bson:"_id"`
	SeenAt    time.Time `bson:"seenAt"`
}

// Connect opens a client, verifies it with a ping and prepares indexes.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{
		client: client,
		users:  db.Collection(UsersCollection),
		txs:    db.Collection(TransactionsCollection),
		now:    time.Now,
	}

	if _, err := s.txs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "seenAt", Value: -1}},
	}); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("create transactions index: %w", err)
	}

	return s, nil
}

func observe(op string, start time.Time, err error) {
	observability.RecordDBQuery("mongo", op, time.Since(start).Seconds(), err)
}

// GetUser retrieves a user by chat id.
func (s *Store) GetUser(ctx context.Context, userID int64) (u *domain.User, err error) {
	if !storage.ValidUserID(userID) {
		return nil, storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("get_user", start, err) }(time.Now())

	return s.findUser(ctx, userID)
}

func (s *Store) findUser(ctx context.Context, userID int64) (*domain.User, error) {
	var u domain.User
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	normalize(&u)
	return &u, nil
}

// normalize puts decoded times in UTC.
func normalize(u *domain.User) {
	u.CreatedAt = u.CreatedAt.UTC()
	if u.StateTimestamp != nil {
		ts := u.StateTimestamp.UTC()
		u.StateTimestamp = &ts
	}
}

// UpdateUser reads, mutates and replaces the user document under the store mutex.
func (s *Store) UpdateUser(ctx context.Context, userID int64, fn storage.UserMutator) (u *domain.User, err error) {
	if !storage.ValidUserID(userID) || fn == nil {
		return nil, storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("update_user", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err = s.findUser(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		u = &domain.User{ID: userID, CreatedAt: s.now().UTC().Truncate(time.Millisecond)}
	case err != nil:
		return nil, err
	}

	if err := fn(u); err != nil {
		return nil, err
	}
	u.ID = userID

	_, err = s.users.ReplaceOne(ctx, bson.M{"_id": userID}, u, options.Replace().SetUpsert(true))
	if err != nil {
		return nil, fmt.Errorf("replace user: %w", err)
	}
	return u.Clone(), nil
}

// DeleteUser removes a user.
func (s *Store) DeleteUser(ctx context.Context, userID int64) (err error) {
	if !storage.ValidUserID(userID) {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("delete_user", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err = s.users.DeleteOne(ctx, bson.M{"_id": userID}); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// ListTrackingUsers returns users with an active tracked address, ordered by id.
func (s *Store) ListTrackingUsers(ctx context.Context) (users []*domain.User, err error) {
	defer func(start time.Time) { observe("list_tracking_users", start, err) }(time.Now())

	filter := bson.M{
		"status":     string(domain.StatusActive),
		"copyTarget": bson.M{"$nin": bson.A{"", nil}},
	}
	cur, err := s.users.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list tracking users: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var u domain.User
		if err := cur.Decode(&u); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		normalize(&u)
		users = append(users, &u)
	}
	return users, cur.Err()
}

// IsTransactionSeen checks if a signature has been processed.
func (s *Store) IsTransactionSeen(ctx context.Context, signature string) (seen bool, err error) {
	if signature == "" {
		return false, storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("is_transaction_seen", start, err) }(time.Now())

	n, err := s.txs.CountDocuments(ctx, bson.M{"_id": signature}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count transaction: %w", err)
	}
	return n > 0, nil
}

// MarkTransactionSeen upserts the signature, keeping the first seen time.
func (s *Store) MarkTransactionSeen(ctx context.Context, signature string) (err error) {
	if signature == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("mark_transaction_seen", start, err) }(time.Now())

	_, err = s.txs.UpdateOne(ctx,
		bson.M{"_id": signature},
		bson.M{"$setOnInsert": bson.M{"seenAt": s.now().UTC()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mark transaction seen: %w", err)
	}
	return nil
}

// LoadSeenTransactions returns up to limit signatures, most recent first.
func (s *Store) LoadSeenTransactions(ctx context.Context, limit int) (sigs []string, err error) {
	defer func(start time.Time) { observe("load_seen_transactions", start, err) }(time.Now())

	opts := options.Find().SetSort(bson.D{{Key: "seenAt", Value: -1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.txs.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("load seen transactions: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var tx seenTransaction
		if err := cur.Decode(&tx); err != nil {
			return nil, fmt.Errorf("decode transaction: %w", err)
		}
		sigs = append(sigs, tx.Signature)
	}
	return sigs, cur.Err()
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Drop removes both collections. Used by tests.
func (s *Store) Drop(ctx context.Context) error {
	if err := s.users.Drop(ctx); err != nil {
		return err
	}
	return s.txs.Drop(ctx)
}
