package dao

import (
	"context"

	"archpay-bend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// ProjectDAO reads project listings
type ProjectDAO struct {
	Collection *mongo.Collection
}

// NewProjectDAO ...
func NewProjectDAO(db *mongo.Database) *ProjectDAO {
	return &ProjectDAO{Collection: db.Collection(ProjectsCollection)}
}

// FindProject retrieves a project by its id
func (dao *ProjectDAO) FindProject(ctx context.Context, id primitive.ObjectID) (models.Project, error) {
	var project models.Project
	err := dao.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&project)
	return project, notFound(err)
}
