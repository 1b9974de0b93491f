package dao

import (
	"context"
	"errors"

	"archpay-bend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// FactoryDAO represents a dao for scalfolding and accessing collections
type FactoryDAO struct {
	db          *mongo.Database
	Collections map[string]*mongo.Collection
}

// NewFactoryDAO returns a new FactoryDAO
func NewFactoryDAO(db *mongo.Database) *FactoryDAO {
	collections := []string{
		NotificationCollection,
		UsersCollection,
		ProjectsCollection,
	}
	dao := &FactoryDAO{
		db:          db,
		Collections: make(map[string]*mongo.Collection),
	}

	for _, opt := range collections {
		dao.Add(opt)
	}

	return dao
}

// Add collection to list
func (dao *FactoryDAO) Add(key string) {
	c := dao.db.Collection(key)
	dao.Collections[key] = c
}

// Insert a document into a registered collection
func (dao *FactoryDAO) Insert(ctx context.Context, key string, obj interface{}) error {
	collection, ok := dao.Collections[key]
	if !ok {
		return errors.New("Invalid collection")
	}
	c, err := bson.Marshal(obj)
	if err != nil {
		return err
	}
	_, err = collection.InsertOne(ctx, c)
	return err
}

// FactoryFindUser ...
func (dao *FactoryDAO) FactoryFindUser(ctx context.Context, id primitive.ObjectID) (models.User, error) {
	var obj models.User

	collection, ok := dao.Collections[UsersCollection]
	if !ok {
		return obj, errors.New("Invalid collection")
	}

	err := collection.FindOne(ctx, bson.M{"_id": id}).Decode(&obj)
	return obj, notFound(err)
}

// FactoryFindProject ...
func (dao *FactoryDAO) FactoryFindProject(ctx context.Context, id primitive.ObjectID) (models.Project, error) {
	var obj models.Project

	collection, ok := dao.Collections[ProjectsCollection]
	if !ok {
		return obj, errors.New("Invalid collection")
	}

	err := collection.FindOne(ctx, bson.M{"_id": id}).Decode(&obj)
	return obj, notFound(err)
}
