package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DB wraps the client and the selected database.
type DB struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials the shared database and verifies the connection.
func Connect(ctx context.Context, uri, dbName, appName string) (*DB, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetAppName(appName).
		SetConnectTimeout(5 * time.Second).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return &DB{client: client, db: client.Database(dbName)}, nil
}

// Ping satisfies health.Pinger.
func (d *DB) Ping(ctx context.Context) error {
	return d.client.Ping(ctx, readpref.Primary())
}

func (d *DB) Database() *mongo.Database { return d.db }

func (d *DB) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}
