package usagelog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore writes entries to the usage_logs collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// OpenMongo connects to uri and pings the server before returning.
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("usagelog: mongo uri is empty")
	}
	if database == "" {
		database = "freeslots"
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("usagelog: connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("usagelog: ping mongo: %w", err)
	}

	return &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(table),
	}, nil
}

func (s *MongoStore) Append(ctx context.Context, e Entry) error {
	doc := bson.M{
		"_id":        e.ID,
		"timezone":   e.Timezone,
		"prompt":     e.Prompt,
		"created_at": e.CreatedAt,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("usagelog: mongo insert: %w", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
