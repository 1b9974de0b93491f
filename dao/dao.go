package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"archpay-bend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names
const (
	EscrowCollection       = "escrow_transactions"
	SettingsCollection     = "settings"
	ProjectsCollection     = "projects"
	UsersCollection        = "user"
	NotificationCollection = "notifications"
)

// Initialize a connection
func Initialize(dbURI string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(dbURI))
	if err != nil {
		return nil, err
	}

	// ping primary
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}

	return client, nil
}

// EnsureIndexes creates the indexes the payment flow relies on. The
// open_purchase index stops a buyer from opening two live escrows for the
// same project.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(EscrowCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "buyer_id", Value: 1}},
			Options: options.Index().
				SetName("open_purchase").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"open": true}),
		},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "buyer_id", Value: 1}}},
		{Keys: bson.D{{Key: "seller_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("escrow indexes: %w", err)
	}

	_, err = db.Collection(NotificationCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("notification indexes: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.ErrNotFound
	}
	return err
}
