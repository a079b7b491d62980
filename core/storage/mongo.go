// Package storage provides the MongoDB-backed document store collaborator
// consumed by mongo_upsert_document and mongo_find_one_document steps.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	coreconfig "github.com/m3rciful/flowbot/core/config"
	"github.com/m3rciful/flowbot/core/logger"
)

// MongoStore exposes the narrow upsert/find-one surface scenario steps use.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect opens the MongoDB client and verifies connectivity.
func Connect(ctx context.Context, cfg coreconfig.MongoConfig) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		logger.Error(ctx, "mongo", "mongo.connect",
			slog.String("db", cfg.Database),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	logger.Info(ctx, "mongo", "mongo.connect",
		slog.String("db", cfg.Database),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return &MongoStore{client: client, db: client.Database(cfg.Database)}, nil
}

// Database exposes the underlying database handle for the session store.
func (m *MongoStore) Database() *mongo.Database { return m.db }

// Upsert inserts or updates the single document matching filter.
func (m *MongoStore) Upsert(ctx context.Context, collection string, filter, document map[string]any) error {
	_, err := m.db.Collection(collection).UpdateOne(ctx,
		toBSON(filter),
		bson.M{"$set": toBSON(document)},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongo upsert %s: %w", collection, err)
	}
	return nil
}

// FindOne returns the first document matching filter, or (nil, false, nil)
// when no document exists. Absence is not an error: downstream exists()
// checks distinguish it from empty documents.
func (m *MongoStore) FindOne(ctx context.Context, collection string, filter map[string]any) (map[string]any, bool, error) {
	var doc bson.M
	err := m.db.Collection(collection).FindOne(ctx, toBSON(filter)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("mongo find_one %s: %w", collection, err)
	}
	return fromBSON(doc), true, nil
}

// Close disconnects the client.
func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func toBSON(m map[string]any) bson.M {
	out := make(bson.M, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// fromBSON rewrites driver types into plain maps so bound variables behave
// the same as values parsed from scenario JSON.
func fromBSON(doc bson.M) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = fromBSONValue(v)
	}
	return out
}

func fromBSONValue(v any) any {
	switch vv := v.(type) {
	case bson.M:
		return fromBSON(vv)
	case bson.D:
		out := make(map[string]any, len(vv))
		for _, e := range vv {
			out[e.Key] = fromBSONValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(vv))
		for i := range vv {
			out[i] = fromBSONValue(vv[i])
		}
		return out
	case int32:
		return int64(vv)
	default:
		return v
	}
}
