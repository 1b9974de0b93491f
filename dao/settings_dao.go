package dao

import (
	"context"
	"errors"
	"time"

	"archpay-bend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SettingsDAO is the generic key-value settings store
type SettingsDAO struct {
	Collection *mongo.Collection
}

// NewSettingsDAO ...
func NewSettingsDAO(db *mongo.Database) *SettingsDAO {
	return &SettingsDAO{Collection: db.Collection(SettingsCollection)}
}

// Get returns the value stored under key; ok is false when the key is unset
func (dao *SettingsDAO) Get(ctx context.Context, key string) (string, bool, error) {
	var s models.Setting
	err := dao.Collection.FindOne(ctx, bson.M{"_id": key}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s.Value, true, nil
}

// SetMany upserts all values in one transaction. Transactions need a
// replica set or sharded cluster.
func (dao *SettingsDAO) SetMany(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	now := time.Now().UTC()
	writes := make([]mongo.WriteModel, 0, len(values))
	for key, value := range values {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": key}).
			SetUpdate(bson.M{"$set": bson.M{"value": value, "updated_at": now}}).
			SetUpsert(true))
	}

	session, err := dao.Collection.Database().Client().StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return dao.Collection.BulkWrite(sc, writes, options.BulkWrite().SetOrdered(true))
	})
	return err
}
