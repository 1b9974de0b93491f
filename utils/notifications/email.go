package notifications

import (
	"archpay-bend/models"
	"archpay-bend/utils"
)

// EscrowEmailData is the data of every escrow email template
type EscrowEmailData struct {
	Name         string
	EscrowID     string
	Project      string
	Amount       string
	SellerAmount string
	Currency     string
	Reason       string
}

// email templates per escrow status
var escrowTemplates = map[string]string{
	models.EscrowHeld:     "payment_held.html",
	models.EscrowReleased: "payment_released.html",
	models.EscrowDisputed: "payment_disputed.html",
	models.EscrowRefunded: "payment_refunded.html",
	models.EscrowFailed:   "payment_failed.html",
}

func (n *notifiable) send(to, subject, temp string, data interface{}) error {
	if n.mailer == nil {
		return nil
	}
	payload := utils.EmailData{
		Title:       subject,
		ContentData: data,
		Template:    temp,
		EmailTo:     to,
	}

	return n.mailer.SendEmail(payload)
}
