package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Project statuses
const (
	ProjectDraft     = "draft"
	ProjectPublished = "published"
	ProjectArchived  = "archived"
)

// Project is a design listing sold on the marketplace
type Project struct {
	ID        primitive.ObjectID `json:"id" bson:"_id"`
	SellerID  primitive.ObjectID `json:"seller_id" bson:"seller_id"`
	Title     string             `json:"title" bson:"title"`
	Category  string             `json:"category" bson:"category"`
	Price     Money              `json:"price" bson:"price"`
	Currency  string             `json:"currency" bson:"currency"`
	Status    string             `json:"status" bson:"status"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" bson:"updated_at"`
}
