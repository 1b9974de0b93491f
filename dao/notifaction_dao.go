package dao

import (
	"context"
	"errors"

	"archpay-bend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// QueryNotifications returns the newest notifications of a user first
func (dao *FactoryDAO) QueryNotifications(ctx context.Context, userID primitive.ObjectID, limit int64) ([]models.Notification, error) {
	var notifications []models.Notification
	opts := options.Find()
	opts.SetSort(bson.M{"created_at": -1})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	collection, ok := dao.Collections[NotificationCollection]
	if !ok {
		return nil, errors.New("invalid collection type")
	}

	cursor, err := collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}

	err = cursor.All(ctx, &notifications)

	return notifications, err
}
