package dao

import (
	"context"

	"archpay-bend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// UserDAO represents a user DAO. Users are owned by the account service;
// this side only reads them.
type UserDAO struct {
	Collection *mongo.Collection
}

// NewUserDAO returns a configured UserDAO
func NewUserDAO(db *mongo.Database) *UserDAO {
	return &UserDAO{Collection: db.Collection(UsersCollection)}
}

// FindUser get a user by its id
func (dao *UserDAO) FindUser(ctx context.Context, id primitive.ObjectID) (models.User, error) {
	var user models.User
	err := dao.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	return user, notFound(err)
}
