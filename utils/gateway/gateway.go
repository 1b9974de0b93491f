// Package gateway holds the two regional payment provider adapters and the
// factory that picks one from the persisted payment settings.
//
// Adapters never return Go errors for provider or network failures; they
// report them through the Success flag and ErrorCode of their results so
// callers always see one shape.
package gateway

import (
	"context"
	"net/url"
	"strings"

	"archpay-bend/models"

	"github.com/go-playground/validator/v10"
)

// Provider names as stored in settings and on escrow rows
const (
	Iyzico = "iyzico"
	PayTR  = "paytr"
)

// Result statuses
const (
	StatusInitiated = "initiated"
	StatusSuccess   = "success"
	StatusFailure   = "failure"
)

// Error codes reported by adapters
const (
	CodeInvalidRequest   = "invalid_request"
	CodeNetworkError     = "network_error"
	CodeProviderError    = "provider_error"
	CodeInvalidResponse  = "invalid_response"
	CodeInvalidSignature = "invalid_signature"
	CodeUnsupported      = "unsupported_operation"
	CodePaymentFailed    = "payment_failed"
)

// Gateway is implemented by each payment provider adapter
type Gateway interface {
	Name() string
	// CreatePayment starts a remote payment and returns where to send the buyer
	CreatePayment(ctx context.Context, req PaymentRequest) PaymentResult
	// CompletePayment asks the provider for the final outcome of providerID
	CompletePayment(ctx context.Context, providerID string) PaymentResult
	Refund(ctx context.Context, req RefundRequest) RefundResult
	// VerifyCallback checks a provider callback and returns the outcome it reports
	VerifyCallback(ctx context.Context, params url.Values) PaymentResult
}

// Buyer holds the contact fields providers require
type Buyer struct {
	ID             string `validate:"required"`
	Name           string `validate:"required"`
	Surname        string `validate:"required"`
	Email          string `validate:"required,email"`
	Phone          string `validate:"required"`
	IdentityNumber string `validate:"required"`
	Address        string `validate:"required"`
	City           string `validate:"required"`
	Country        string `validate:"required"`
	ZipCode        string
	IP             string `validate:"required,ip"`
}

// PaymentRequest describes a single item purchase
type PaymentRequest struct {
	// OrderID is the local escrow id, used as the provider order reference
	OrderID      string       `validate:"required,alphanum"`
	Amount       models.Money `validate:"-"`
	Currency     string       `validate:"required,eq=TRY"`
	ItemID       string       `validate:"required"`
	ItemName     string       `validate:"required"`
	ItemCategory string
	Buyer        Buyer
	// CallbackURL receives the provider redirect (iyzico) or is the buyer
	// success page (PayTR)
	CallbackURL string `validate:"required,url"`
	// FailURL is the PayTR buyer failure page, CallbackURL when empty
	FailURL string `validate:"omitempty,url"`
}

// RefundRequest ...
type RefundRequest struct {
	OrderID               string
	PaymentID             string
	PaymentTransactionIDs []string
	Amount                models.Money
	Currency              string
	IP                    string
}

// PaymentResult is the uniform outcome of create, complete and callback calls
type PaymentResult struct {
	Success  bool   `json:"success"`
	Provider string `json:"provider"`
	// OrderID is the local escrow id echoed back by the provider
	OrderID        string `json:"order_id,omitempty"`
	PaymentID      string `json:"payment_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Status         string `json:"status"`
	RedirectURL    string `json:"redirect_url,omitempty"`
	// Amount is set when the provider reports the paid amount
	Amount                *models.Money `json:"amount,omitempty"`
	PaymentTransactionIDs []string      `json:"-"`
	ErrorCode             string        `json:"error_code,omitempty"`
	ErrorMessage          string        `json:"error_message,omitempty"`
}

// RefundResult ...
type RefundResult struct {
	Success      bool   `json:"success"`
	RefundID     string `json:"refund_id,omitempty"`
	Status       string `json:"status"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func failure(provider, code, msg string) PaymentResult {
	return PaymentResult{Provider: provider, Status: StatusFailure, ErrorCode: code, ErrorMessage: msg}
}

func refundFailure(code, msg string) RefundResult {
	return RefundResult{Status: StatusFailure, ErrorCode: code, ErrorMessage: msg}
}

var validate = validator.New()

// validateRequest checks the amount and currency plus the listed buyer
// fields, since each provider needs a different subset
func validateRequest(req PaymentRequest, buyerFields ...string) string {
	if !req.Amount.IsPositive() {
		return "amount must be greater than zero"
	}
	fields := []string{"OrderID", "Currency", "ItemID", "ItemName", "CallbackURL", "FailURL"}
	for _, f := range buyerFields {
		fields = append(fields, "Buyer."+f)
	}
	err := validate.StructPartial(req, fields...)
	if err == nil {
		return ""
	}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fe.Namespace()+" failed "+fe.Tag())
		}
		return strings.Join(msgs, "; ")
	}
	return err.Error()
}

// Definitive reports whether the result is a final provider verdict on a
// payment. Transport, signature and rejected query failures are not.
func (r PaymentResult) Definitive() bool {
	if r.Success {
		return true
	}
	switch r.ErrorCode {
	case CodeNetworkError, CodeInvalidResponse, CodeInvalidSignature, CodeInvalidRequest, CodeUnsupported, CodeProviderError:
		return false
	}
	return true
}
