package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const (
	defaultMaxPoolSize = 100
	defaultMinPoolSize = 10
)

// MongoOptions locates the cart store. Zero pool sizes take the defaults.
type MongoOptions struct {
	URI         string
	Database    string
	MaxPoolSize uint64
	MinPoolSize uint64
}

// ConnectMongoDB connects with majority writes and primary reads, so a
// version read by GetCart is the one SaveCart compares against.
func ConnectMongoDB(ctx context.Context, opts MongoOptions) (*mongo.Database, error) {
	if opts.MaxPoolSize == 0 {
		opts.MaxPoolSize = defaultMaxPoolSize
	}
	if opts.MinPoolSize == 0 {
		opts.MinPoolSize = defaultMinPoolSize
	}

	clientOpts := options.Client().
		ApplyURI(opts.URI).
		SetAppName("freshmilk-carts").
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(opts.MaxPoolSize).
		SetMinPoolSize(opts.MinPoolSize).
		SetReadPreference(readpref.Primary()).
		SetWriteConcern(writeconcern.Majority())

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB at %s: %w", opts.Database, err)
	}

	return client.Database(opts.Database), nil
}

// OpenCartStore connects, ensures the cart indexes and returns the repository.
func OpenCartStore(ctx context.Context, opts MongoOptions) (*MongoRepository, error) {
	db, err := ConnectMongoDB(ctx, opts)
	if err != nil {
		return nil, err
	}
	repo := NewMongoRepository(db)
	if err := repo.CreateIndexes(ctx); err != nil {
		_ = db.Client().Disconnect(ctx)
		return nil, err
	}
	return repo, nil
}

// Close disconnects the client behind the repository.
func (m *MongoRepository) Close(ctx context.Context) error {
	return m.collection.Database().Client().Disconnect(ctx)
}
