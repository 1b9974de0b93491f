package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User represents an app user. Only the fields the payment flow reads are
// mapped here.
type User struct {
	ID             primitive.ObjectID `json:"id" bson:"_id"`
	Name           string             `json:"name" bson:"name"`
	Surname        string             `json:"surname" bson:"surname"`
	Email          string             `json:"email" bson:"email"`
	Phone          string             `json:"phone" bson:"phone"`
	IdentityNumber string             `json:"-" bson:"identity_number"`
	Address        string             `json:"address" bson:"address"`
	City           string             `json:"city" bson:"city"`
	Country        string             `json:"country" bson:"country"`
	ZipCode        string             `json:"zip_code" bson:"zip_code"`
	Role           string             `json:"role" bson:"role"`
	FCMToken       string             `json:"-" bson:"fcm_token"`
	CreatedAt      time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" bson:"updated_at"`
}

// FullName ...
func (u User) FullName() string {
	if u.Surname == "" {
		return u.Name
	}
	return u.Name + " " + u.Surname
}
