// Package mongo provides a MongoDB-backed kv.Store. Each agent state is one
// document keyed by task id with the serialized blob in the value field.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/agentexhq/agentex/runtime/kv"
)

const (
	defaultCollection = "agent_states"
	defaultTimeout    = 5 * time.Second
	clientName        = "state-mongo"
)

type (
	// Options configures the Mongo store.
	Options struct {
		// Client is the MongoDB client. Required.
		Client *mongodriver.Client
		// Database is the database name. Required.
		Database string
		// Collection defaults to "agent_states".
		Collection string
		// Timeout bounds each operation. Defaults to 5 seconds.
		Timeout time.Duration
	}

	// Store is a MongoDB-backed kv.Store. It also implements
	// goa.design/clue/health.Pinger for readiness checks.
	Store struct {
		client  *mongodriver.Client
		coll    *mongodriver.Collection
		timeout time.Duration
	}

	stateDocument struct {
		ID        string    `bson:"_id"`
		Value     []byte    `bson:"value"`
		UpdatedAt time.Time `bson:"updated_at"`
	}
)

// New returns a Store backed by the provided MongoDB client.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Store{
		client:  opts.Client,
		coll:    opts.Client.Database(opts.Database).Collection(collection),
		timeout: timeout,
	}, nil
}

// Name implements health.Pinger.
func (s *Store) Name() string { return clientName }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

// Get implements kv.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc stateDocument
	if err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("mongo find %q: %w", key, err)
	}
	return doc.Value, nil
}

// Set implements kv.Store.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	update := bson.M{"$set": bson.M{"value": value, "updated_at": time.Now().UTC()}}
	if _, err := s.coll.UpdateOne(ctx, bson.M{"_id": key}, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return fmt.Errorf("mongo upsert %q: %w", key, err)
	}
	return nil
}

// Delete implements kv.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("mongo delete %q: %w", key, err)
	}
	return nil
}

// BatchGet implements kv.Store with one $in query; result order follows keys.
func (s *Store) BatchGet(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cursor, err := s.coll.Find(ctx, bson.M{"_id": bson.M{"$in": keys}})
	if err != nil {
		return nil, fmt.Errorf("mongo batch find: %w", err)
	}
	var docs []stateDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo batch decode: %w", err)
	}
	byID := make(map[string][]byte, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc.Value
	}
	out := make([][]byte, len(keys))
	for i, key := range keys {
		out[i] = byID[key]
	}
	return out, nil
}

// BatchSet implements kv.Store with one bulk write of upserts.
func (s *Store) BatchSet(ctx context.Context, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	now := time.Now().UTC()
	models := make([]mongodriver.WriteModel, 0, len(values))
	for key, value := range values {
		models = append(models, mongodriver.NewUpdateOneModel().
			SetFilter(bson.M{"_id": key}).
			SetUpdate(bson.M{"$set": bson.M{"value": value, "updated_at": now}}).
			SetUpsert(true))
	}
	if _, err := s.coll.BulkWrite(ctx, models); err != nil {
		return fmt.Errorf("mongo batch upsert: %w", err)
	}
	return nil
}

// BatchDelete implements kv.Store with one $in delete.
func (s *Store) BatchDelete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": keys}}); err != nil {
		return fmt.Errorf("mongo batch delete: %w", err)
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}
