package jobstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/scrapeforge/harvester/internal/types"
)

// MongoStore persists jobs in MongoDB, one document per job keyed by its
// id, for durable multi-process deployments. Grounded on the teacher's
// internal/storage/database.go MongoStorage (mongo.Connect/Ping on
// construction, context-scoped per-call timeouts, client.Disconnect on
// Close) — adapted from an append-only item sink into an upsert-keyed job
// store, since jobs are mutated in place as they progress rather than
// written once.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *slog.Logger
}

// NewMongoStore connects to uri and returns a Store backed by
// database.collection "jobs".
func NewMongoStore(uri, database string, logger *slog.Logger) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection("jobs"),
		logger:     logger.With("component", "mongo_jobstore"),
	}, nil
}

func (s *MongoStore) Create(ctx context.Context, job *types.Job) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := s.collection.InsertOne(ctx, job)
	if err != nil {
		return fmt.Errorf("mongodb insert job: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*types.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var job types.Job
	err := s.collection.FindOne(ctx, bson.M{"id": id}).Decode(&job)
	if err == mongo.ErrNoDocuments {
		return nil, types.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb find job: %w", err)
	}
	return &job, nil
}

func (s *MongoStore) Update(ctx context.Context, job *types.Job) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := s.collection.ReplaceOne(ctx, bson.M{"id": job.ID}, job)
	if err != nil {
		return fmt.Errorf("mongodb replace job: %w", err)
	}
	if result.MatchedCount == 0 {
		return types.ErrJobNotFound
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context) ([]*types.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cursor, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongodb find jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var jobs []*types.Job
	for cursor.Next(ctx) {
		var job types.Job
		if err := cursor.Decode(&job); err != nil {
			return nil, fmt.Errorf("mongodb decode job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, cursor.Err()
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
