package notifications

var (
	paymentHeldMsg     = "Payment for %s is held in escrow, %s %s will be paid out on release"
	paymentReleasedMsg = "Escrow for %s has been released, %s %s is on its way"
	paymentDisputedMsg = "A dispute was opened on the escrow for %s"
	paymentRefundedMsg = "Your payment of %s %s for %s has been refunded"
	paymentFailedMsg   = "Your payment for %s could not be completed"
)

var (
	paymentHeldTitle     = "Payment received"
	paymentReleasedTitle = "Escrow released"
	paymentDisputedTitle = "Escrow disputed"
	paymentRefundedTitle = "Payment refunded"
	paymentFailedTitle   = "Payment failed"
)
