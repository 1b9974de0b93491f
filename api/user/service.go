package user

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"archpay-bend/models"
	"archpay-bend/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// NotificationReader ...
type NotificationReader interface {
	QueryNotifications(ctx context.Context, userID primitive.ObjectID, limit int64) ([]models.Notification, error)
}

// EscrowLister ...
type EscrowLister interface {
	Query(ctx context.Context, filter bson.M, limit int64) ([]models.EscrowTransaction, error)
}

// Service represents the User Service
type Service struct {
	notifications NotificationReader
	escrows       EscrowLister
}

// NewUserService returns a user service object
func NewUserService(notifications NotificationReader, escrows EscrowLister) *Service {
	return &Service{notifications: notifications, escrows: escrows}
}

// Notifications returns the caller's notification log, newest first
func (s *Service) Notifications(w http.ResponseWriter, r *http.Request) {
	id, err := primitive.ObjectIDFromHex(utils.ActorFromRequest(r).ID)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "You are not authorized")
		return
	}

	notifications, err := s.notifications.QueryNotifications(r.Context(), id, limit(r))
	if err != nil {
		log.Printf("failed to retrieve user notifications: %v", err)
		utils.RespondWithError(w, http.StatusBadRequest, "Error retrieving notifications")
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}

	utils.RespondWithData(w, http.StatusOK, notifications)
}

// Escrows lists the escrows the caller takes part in. role=buyer or
// role=seller narrows the list, status filters by escrow status.
func (s *Service) Escrows(w http.ResponseWriter, r *http.Request) {
	id, err := primitive.ObjectIDFromHex(utils.ActorFromRequest(r).ID)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "You are not authorized")
		return
	}

	var filter bson.M
	switch r.URL.Query().Get("role") {
	case "buyer":
		filter = bson.M{"buyer_id": id}
	case "seller":
		filter = bson.M{"seller_id": id}
	case "":
		filter = bson.M{"$or": bson.A{bson.M{"buyer_id": id}, bson.M{"seller_id": id}}}
	default:
		utils.RespondWithError(w, http.StatusBadRequest, "role must be buyer or seller")
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter["status"] = status
	}

	escrows, err := s.escrows.Query(r.Context(), filter, limit(r))
	if err != nil {
		log.Printf("failed to retrieve user escrows: %v", err)
		utils.RespondWithError(w, http.StatusBadRequest, "Error retrieving escrows")
		return
	}
	if escrows == nil {
		escrows = []models.EscrowTransaction{}
	}

	utils.RespondWithData(w, http.StatusOK, escrows)
}

func limit(r *http.Request) int64 {
	n, err := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}
