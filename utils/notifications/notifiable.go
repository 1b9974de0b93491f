package notifications

import (
	"context"
	"log"

	"archpay-bend/models"
	"archpay-bend/utils"

	firebase "firebase.google.com/go/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"google.golang.org/api/option"
)

// Notifiable defines the functionality of a notification object
type Notifiable interface {
	// Dispatches a push notification to currently configured message server (FCM)
	PushNotification(recipientToken, title, message string) error
	SendEscrowNotification(escrow models.EscrowTransaction)
}

// Directory resolves the people and listings an escrow refers to and keeps
// the notification log
type Directory interface {
	FactoryFindUser(ctx context.Context, id primitive.ObjectID) (models.User, error)
	FactoryFindProject(ctx context.Context, id primitive.ObjectID) (models.Project, error)
	Insert(ctx context.Context, key string, obj interface{}) error
}

// Mailer delivers templated emails
type Mailer interface {
	SendEmail(data utils.EmailData) error
}

type notifiable struct {
	app       *firebase.App
	directory Directory
	mailer    Mailer
}

// NewNotifiable returns a new Notifiable implementation with access to all
// notifiable objects (email, fcm). Push is disabled when no service account
// key is given.
func NewNotifiable(directory Directory, mailer Mailer, serviceAccountKeyPath string) (Notifiable, error) {
	n := &notifiable{directory: directory, mailer: mailer}
	if serviceAccountKeyPath == "" {
		log.Println("notifiable_init: SERVICE_ACCOUNT_KEY_PATH not set, push notifications disabled")
		return n, nil
	}

	opt := option.WithCredentialsFile(serviceAccountKeyPath)
	app, err := firebase.NewApp(context.Background(), nil, opt)
	if err != nil {
		return nil, err
	}
	n.app = app
	return n, nil
}
