package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mcq-autopilot/internal/mcq"
)

type mongoAnswer struct {
	Fingerprint string `bson:"_id"`
	Answer      string `bson:"answer"`
	CreatedAt   int64  `bson:"created_at"` // epoch millis
}

// MongoStore implements Store on a MongoDB collection keyed by fingerprint.
type MongoStore struct {
	answers *mongo.Collection
	now     func() time.Time
}

type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// ConnectMongo opens a client, checks it with a ping and returns the answers
// collection. The caller owns the client and must Disconnect it.
func ConnectMongo(ctx context.Context, cfg MongoConfig) (*mongo.Client, *mongo.Collection, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("can't ping MongoDB: %w", err)
	}

	return client, client.Database(cfg.Database).Collection(cfg.Collection), nil
}

// NewMongoStore wraps coll and makes sure created_at is indexed for sweeps.
func NewMongoStore(ctx context.Context, coll *mongo.Collection) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("create created_at index: %w", err)
	}

	return &MongoStore{answers: coll, now: time.Now}, nil
}

func (s *MongoStore) Get(ctx context.Context, fp Fingerprint) (CachedAnswer, bool, error) {
	var doc mongoAnswer
	err := s.answers.FindOne(ctx, bson.M{"_id": string(fp)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return CachedAnswer{}, false, nil
	}
	if err != nil {
		return CachedAnswer{}, false, fmt.Errorf("mongo find failed: %w", err)
	}

	answer, err := mcq.ParseLetter(doc.Answer)
	if err != nil {
		return CachedAnswer{}, false, fmt.Errorf("mongo entry %s: %w", fp, err)
	}

	return CachedAnswer{
		Fingerprint: fp,
		Answer:      answer,
		CreatedAt:   time.UnixMilli(doc.CreatedAt),
	}, true, nil
}

func (s *MongoStore) Put(ctx context.Context, fp Fingerprint, answer mcq.Letter) error {
	if !answer.Valid() {
		return ErrInvalidAnswer
	}

	doc := mongoAnswer{
		Fingerprint: string(fp),
		Answer:      string(answer),
		CreatedAt:   s.now().UnixMilli(),
	}
	_, err := s.answers.ReplaceOne(ctx, bson.M{"_id": doc.Fingerprint}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo upsert failed: %w", err)
	}
	return nil
}

func (s *MongoStore) EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge).UnixMilli()

	res, err := s.answers.DeleteMany(ctx, bson.M{
		"created_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, fmt.Errorf("mongo evict failed: %w", err)
	}
	return int(res.DeletedCount), nil
}
