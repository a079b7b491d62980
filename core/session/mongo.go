package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoCollection = "sessions"

// MongoStore implements Store on a MongoDB collection, the document store
// the platform already runs for scenario response data.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore creates a store over the sessions collection of db and
// ensures the (chat_id, user_id) lookup index exists.
func NewMongoStore(ctx context.Context, db *mongo.Database) (*MongoStore, error) {
	coll := db.Collection(mongoCollection)
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "suspended", Value: 1}, {Key: "deadline", Value: 1}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create session indexes: %w", err)
	}
	return &MongoStore{coll: coll}, nil
}

// Load returns the session for the (chat, user) pair.
func (m *MongoStore) Load(ctx context.Context, chatID, userID int64) (*Session, error) {
	var s Session
	err := m.coll.FindOne(ctx, bson.M{"chat_id": chatID, "user_id": userID}).Decode(&s)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mongo find session: %w", err)
	}
	normalizeLoaded(&s)
	return &s, nil
}

// Save replaces the whole document keyed by session id.
func (m *MongoStore) Save(ctx context.Context, s *Session) error {
	_, err := m.coll.ReplaceOne(ctx,
		bson.M{"_id": s.ID},
		s,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongo save session %s: %w", s.ID, err)
	}
	return nil
}

// Delete removes the session document.
func (m *MongoStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := m.coll.DeleteOne(ctx, bson.M{"_id": sessionID}); err != nil {
		return fmt.Errorf("mongo delete session %s: %w", sessionID, err)
	}
	return nil
}

// ListExpired returns suspended sessions whose deadline passed.
func (m *MongoStore) ListExpired(ctx context.Context, now time.Time) ([]*Session, error) {
	cur, err := m.coll.Find(ctx, bson.M{
		"suspended": true,
		"deadline":  bson.M{"$gt": time.Time{}, "$lte": now},
	})
	if err != nil {
		return nil, fmt.Errorf("mongo list expired: %w", err)
	}
	defer cur.Close(ctx)

	var out []*Session
	for cur.Next(ctx) {
		var s Session
		if err := cur.Decode(&s); err != nil {
			return nil, fmt.Errorf("mongo decode session: %w", err)
		}
		normalizeLoaded(&s)
		out = append(out, &s)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo cursor: %w", err)
	}
	return out, nil
}

// Close is a no-op; the mongo client is owned by the caller.
func (m *MongoStore) Close() error { return nil }

// normalizeLoaded rewrites BSON-specific value types in the variables map so
// sessions look identical regardless of the backend that stored them.
func normalizeLoaded(s *Session) {
	s.Variables = normalizeBSONMap(s.Variables)
}

func normalizeBSONMap(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = normalizeBSONValue(v)
	}
	return m
}

func normalizeBSONValue(v any) any {
	switch vv := v.(type) {
	case bson.M:
		return normalizeBSONMap(map[string]any(vv))
	case bson.D:
		out := make(map[string]any, len(vv))
		for _, e := range vv {
			out[e.Key] = normalizeBSONValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(vv))
		for i := range vv {
			out[i] = normalizeBSONValue(vv[i])
		}
		return out
	case map[string]any:
		return normalizeBSONMap(vv)
	case []any:
		for i := range vv {
			vv[i] = normalizeBSONValue(vv[i])
		}
		return vv
	case int32:
		return int64(vv)
	default:
		return v
	}
}
