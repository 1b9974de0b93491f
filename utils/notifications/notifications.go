package notifications

import (
	"context"
	"fmt"
	"log"
	"time"

	"archpay-bend/dao"
	"archpay-bend/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func cErr(tag string, err error) {
	if err != nil {
		log.Printf("%s: %v", tag, err)
	}
}

type notice struct {
	title   string
	message string
	action  models.NotificationActionType
}

// SendEscrowNotification tells the party an escrow status change concerns
// about it through email, push and the in-app notification log
func (n *notifiable) SendEscrowNotification(escrow models.EscrowTransaction) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	temp, ok := escrowTemplates[escrow.Status]
	if !ok {
		return
	}

	title := escrow.ProjectID.Hex()
	project, err := n.directory.FactoryFindProject(ctx, escrow.ProjectID)
	cErr("rtv_project", err)
	if err == nil && project.Title != "" {
		title = project.Title
	}

	amount := escrow.Amount.Format()
	sellerAmount := escrow.SellerAmount.Format()

	var (
		note       notice
		recipients []primitive.ObjectID
		reason     string
	)
	switch escrow.Status {
	case models.EscrowHeld:
		recipients = []primitive.ObjectID{escrow.SellerID}
		note = notice{paymentHeldTitle, fmt.Sprintf(paymentHeldMsg, title, sellerAmount, escrow.Currency), models.APayment}
	case models.EscrowReleased:
		recipients = []primitive.ObjectID{escrow.SellerID}
		note = notice{paymentReleasedTitle, fmt.Sprintf(paymentReleasedMsg, title, sellerAmount, escrow.Currency), models.ACompleted}
	case models.EscrowDisputed:
		recipients = disputeRecipients(escrow)
		reason = escrow.DisputeReason
		note = notice{paymentDisputedTitle, fmt.Sprintf(paymentDisputedMsg, title), models.ADispute}
	case models.EscrowRefunded:
		recipients = []primitive.ObjectID{escrow.BuyerID}
		note = notice{paymentRefundedTitle, fmt.Sprintf(paymentRefundedMsg, amount, escrow.Currency, title), models.ACompleted}
	case models.EscrowFailed:
		recipients = []primitive.ObjectID{escrow.BuyerID}
		reason = escrow.FailureReason
		note = notice{paymentFailedTitle, fmt.Sprintf(paymentFailedMsg, title), models.AInfo}
	}

	for _, id := range recipients {
		user, err := n.directory.FactoryFindUser(ctx, id)
		if err != nil {
			cErr("rtv_user", err)
			continue
		}

		data := EscrowEmailData{
			Name:         user.FullName(),
			EscrowID:     escrow.ID.Hex(),
			Project:      title,
			Amount:       amount,
			SellerAmount: sellerAmount,
			Currency:     escrow.Currency,
			Reason:       reason,
		}
		err = n.send(user.Email, note.title, temp, data)
		cErr("err_send_escrow_mail", err)

		err = n.PushNotification(user.FCMToken, note.title, note.message)
		cErr("err_escrow_PN", err)

		n.persist(ctx, note, escrow.ID, user.ID)
	}
}

// disputeRecipients is the counterpart of whoever opened the dispute, or
// both parties when an admin did
func disputeRecipients(escrow models.EscrowTransaction) []primitive.ObjectID {
	if escrow.DisputedBy != nil {
		switch *escrow.DisputedBy {
		case escrow.BuyerID:
			return []primitive.ObjectID{escrow.SellerID}
		case escrow.SellerID:
			return []primitive.ObjectID{escrow.BuyerID}
		}
	}
	return []primitive.ObjectID{escrow.BuyerID, escrow.SellerID}
}

func (n *notifiable) persist(ctx context.Context, note notice, escrowID, userID primitive.ObjectID) {
	notification := models.Notification{
		ID:        primitive.NewObjectID(),
		Title:     note.title,
		EscrowID:  escrowID,
		UserID:    userID,
		Action:    note.action,
		Type:      models.EscrowN,
		Message:   note.message,
		CreatedAt: time.Now().UTC(),
	}

	err := n.directory.Insert(ctx, dao.NotificationCollection, notification)
	cErr("err_persist_notification", err)
}
