// Package mongodb contains MongoDB implementations of repository interfaces.
package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const accountsCollection = "admin_accounts"

// Connect opens a client for uri and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the unique identifier index and the sparse
// reset digest index used by ConsumeResetToken.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(accountsCollection)
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "identifier", Value: 1}},
			Options: options.Index().SetName("identifier_unique").SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "resetTokenHash", Value: 1}},
			Options: options.Index().SetName("reset_token_hash").
				SetPartialFilterExpression(bson.D{{Key: "resetTokenHash", Value: bson.D{{Key: "$exists", Value: true}}}}),
		},
	}
	if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}
