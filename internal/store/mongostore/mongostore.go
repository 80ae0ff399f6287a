// Package mongostore keeps one document per batch in a MongoDB collection.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"agri-trace-api-server/internal/models"
	"agri-trace-api-server/internal/store"
)

const collectionName = "batches"

// Store implements store.Repository. Each Put replaces a single document,
// so unrelated batches never contend.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *zap.Logger
}

// Connect dials uri and ensures the unique batchId index.
func Connect(ctx context.Context, uri, dbName string, logger *zap.Logger) (*Store, error) {
	if uri == "" {
		return nil, errors.New("mongo uri required")
	}
	if dbName == "" {
		dbName = "agritrace"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s := &Store{client: client, coll: client.Database(dbName).Collection(collectionName), logger: logger}
	_, err = s.coll.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "batchId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create batchId index: %w", err)
	}
	return s, nil
}

func (s *Store) Get(ctx context.Context, batchID string) (*models.BatchRecord, error) {
	var rec models.BatchRecord
	err := s.coll.FindOne(ctx, bson.M{"batchId": batchID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		store.Observe("mongo", "get", nil)
		return nil, store.ErrNotFound
	}
	store.Observe("mongo", "get", err)
	if err != nil {
		return nil, &store.StorageError{Op: "load", Err: err}
	}
	return &rec, nil
}

func (s *Store) Put(ctx context.Context, rec *models.BatchRecord) error {
	if rec == nil || rec.BatchID == "" {
		return &store.StorageError{Op: "put", Err: errors.New("record without batch id")}
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"batchId": rec.BatchID}, rec, options.Replace().SetUpsert(true))
	store.Observe("mongo", "put", err)
	if err != nil {
		return &store.StorageError{Op: "save", Err: err}
	}
	s.logger.Debug("batch persisted",
		zap.String("batch_id", rec.BatchID),
		zap.Int("history_len", len(rec.History)))
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
