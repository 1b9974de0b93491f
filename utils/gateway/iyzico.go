package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"archpay-bend/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// iyzico endpoints
const (
	iyzicoCheckoutInitPath   = "/payment/iyzipos/checkoutform/initialize/auth/ecom"
	iyzicoCheckoutDetailPath = "/payment/iyzipos/checkoutform/auth/ecom/detail"
	iyzicoRefundPath         = "/payment/refund"

	// DefaultIyzicoBaseURL is the iyzico sandbox
	DefaultIyzicoBaseURL = "https://sandbox-api.iyzipay.com"
)

// IyzicoConfig ...
type IyzicoConfig struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	BaseURL   string `json:"base_url"`
}

// Configured reports whether credentials are present
func (c IyzicoConfig) Configured() bool {
	return c.APIKey != "" && c.SecretKey != ""
}

// IyzicoGateway talks to the iyzico checkout form API. Payments are created
// as hosted checkout forms and completed by fetching the form result with
// the token iyzico posts back to the callback URL.
type IyzicoGateway struct {
	cfg    IyzicoConfig
	client *http.Client
	// randomKey is swappable for tests
	randomKey func() string
}

// NewIyzicoGateway ...
func NewIyzicoGateway(cfg IyzicoConfig, client *http.Client) *IyzicoGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultIyzicoBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = NewHTTPClient(DefaultTimeout)
	}
	return &IyzicoGateway{cfg: cfg, client: client, randomKey: uuid.NewString}
}

// Name ...
func (g *IyzicoGateway) Name() string { return Iyzico }

type iyzicoBuyer struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Surname             string `json:"surname"`
	GsmNumber           string `json:"gsmNumber"`
	Email               string `json:"email"`
	IdentityNumber      string `json:"identityNumber"`
	RegistrationAddress string `json:"registrationAddress"`
	IP                  string `json:"ip"`
	City                string `json:"city"`
	Country             string `json:"country"`
	ZipCode             string `json:"zipCode,omitempty"`
}

type iyzicoAddress struct {
	ContactName string `json:"contactName"`
	City        string `json:"city"`
	Country     string `json:"country"`
	Address     string `json:"address"`
	ZipCode     string `json:"zipCode,omitempty"`
}

type iyzicoBasketItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Category1 string `json:"category1"`
	ItemType  string `json:"itemType"`
	Price     string `json:"price"`
}

type iyzicoCheckoutInitReq struct {
	Locale              string             `json:"locale"`
	ConversationID      string             `json:"conversationId"`
	Price               string             `json:"price"`
	PaidPrice           string             `json:"paidPrice"`
	Currency            string             `json:"currency"`
	BasketID            string             `json:"basketId"`
	PaymentGroup        string             `json:"paymentGroup"`
	CallbackURL         string             `json:"callbackUrl"`
	EnabledInstallments []int              `json:"enabledInstallments"`
	Buyer               iyzicoBuyer        `json:"buyer"`
	BillingAddress      iyzicoAddress      `json:"billingAddress"`
	BasketItems         []iyzicoBasketItem `json:"basketItems"`
}

// iyzicoResponse carries the fields shared by every iyzico reply
type iyzicoResponse struct {
	Status         string `json:"status"`
	ErrorCode      string `json:"errorCode"`
	ErrorMessage   string `json:"errorMessage"`
	ConversationID string `json:"conversationId"`
}

type iyzicoCheckoutInitResp struct {
	iyzicoResponse
	Token          string `json:"token"`
	PaymentPageURL string `json:"paymentPageUrl"`
}

type iyzicoCheckoutDetailResp struct {
	iyzicoResponse
	Token            string           `json:"token"`
	PaymentStatus    string           `json:"paymentStatus"`
	PaymentID        string           `json:"paymentId"`
	BasketID         string           `json:"basketId"`
	PaidPrice        *decimal.Decimal `json:"paidPrice"`
	Currency         string           `json:"currency"`
	ItemTransactions []struct {
		ItemID               string `json:"itemId"`
		PaymentTransactionID string `json:"paymentTransactionId"`
	} `json:"itemTransactions"`
}

type iyzicoRefundResp struct {
	iyzicoResponse
	PaymentID            string `json:"paymentId"`
	PaymentTransactionID string `json:"paymentTransactionId"`
}

// CreatePayment initializes a hosted checkout form. The returned
// ConversationID is the checkout token and RedirectURL the payment page.
func (g *IyzicoGateway) CreatePayment(ctx context.Context, req PaymentRequest) PaymentResult {
	if msg := validateRequest(req, "ID", "Name", "Surname", "Email", "Phone", "IdentityNumber", "Address", "City", "Country", "IP"); msg != "" {
		return failure(Iyzico, CodeInvalidRequest, msg)
	}

	price := req.Amount.Format()
	category := req.ItemCategory
	if category == "" {
		category = "Project"
	}
	payload := iyzicoCheckoutInitReq{
		Locale:              "tr",
		ConversationID:      req.OrderID,
		Price:               price,
		PaidPrice:           price,
		Currency:            req.Currency,
		BasketID:            req.OrderID,
		PaymentGroup:        "PRODUCT",
		CallbackURL:         req.CallbackURL,
		EnabledInstallments: []int{1},
		Buyer: iyzicoBuyer{
			ID:                  req.Buyer.ID,
			Name:                req.Buyer.Name,
			Surname:             req.Buyer.Surname,
			GsmNumber:           req.Buyer.Phone,
			Email:               req.Buyer.Email,
			IdentityNumber:      req.Buyer.IdentityNumber,
			RegistrationAddress: req.Buyer.Address,
			IP:                  req.Buyer.IP,
			City:                req.Buyer.City,
			Country:             req.Buyer.Country,
			ZipCode:             req.Buyer.ZipCode,
		},
		BillingAddress: iyzicoAddress{
			ContactName: req.Buyer.Name + " " + req.Buyer.Surname,
			City:        req.Buyer.City,
			Country:     req.Buyer.Country,
			Address:     req.Buyer.Address,
			ZipCode:     req.Buyer.ZipCode,
		},
		BasketItems: []iyzicoBasketItem{{
			ID:        req.ItemID,
			Name:      req.ItemName,
			Category1: category,
			ItemType:  "VIRTUAL",
			Price:     price,
		}},
	}

	var resp iyzicoCheckoutInitResp
	if err := g.post(ctx, iyzicoCheckoutInitPath, payload, &resp); err != nil {
		return transportFailure(Iyzico, err)
	}
	if resp.Status != "success" {
		return failure(Iyzico, providerCode(resp.ErrorCode), resp.ErrorMessage)
	}

	return PaymentResult{
		Success:        true,
		Provider:       Iyzico,
		OrderID:        req.OrderID,
		ConversationID: resp.Token,
		Status:         StatusInitiated,
		RedirectURL:    resp.PaymentPageURL,
	}
}

// CompletePayment retrieves the checkout form result for token
func (g *IyzicoGateway) CompletePayment(ctx context.Context, token string) PaymentResult {
	if token == "" {
		return failure(Iyzico, CodeInvalidRequest, "checkout token is required")
	}

	var resp iyzicoCheckoutDetailResp
	payload := map[string]string{"locale": "tr", "token": token}
	if err := g.post(ctx, iyzicoCheckoutDetailPath, payload, &resp); err != nil {
		return transportFailure(Iyzico, err)
	}

	orderID := resp.ConversationID
	if orderID == "" {
		orderID = resp.BasketID
	}
	if resp.Status != "success" {
		// the query failed, which says nothing about the payment itself
		res := failure(Iyzico, CodeProviderError, strings.TrimSpace(resp.ErrorCode+" "+resp.ErrorMessage))
		res.OrderID = orderID
		res.ConversationID = token
		return res
	}

	res := PaymentResult{
		Provider:       Iyzico,
		OrderID:        orderID,
		PaymentID:      resp.PaymentID,
		ConversationID: token,
	}
	if resp.PaidPrice != nil {
		amount := models.NewMoney(*resp.PaidPrice)
		res.Amount = &amount
	}
	for _, it := range resp.ItemTransactions {
		res.PaymentTransactionIDs = append(res.PaymentTransactionIDs, it.PaymentTransactionID)
	}
	if resp.PaymentStatus != "SUCCESS" {
		res.Status = StatusFailure
		res.ErrorCode = CodePaymentFailed
		res.ErrorMessage = "payment status " + resp.PaymentStatus
		return res
	}
	res.Success = true
	res.Status = StatusSuccess
	return res
}

// VerifyCallback handles the checkout form post back. iyzico does not sign
// it; the token is only trusted after the result is fetched from the API.
func (g *IyzicoGateway) VerifyCallback(ctx context.Context, params url.Values) PaymentResult {
	return g.CompletePayment(ctx, params.Get("token"))
}

// Refund refunds the basket item transaction of a completed payment
func (g *IyzicoGateway) Refund(ctx context.Context, req RefundRequest) RefundResult {
	if !req.Amount.IsPositive() {
		return refundFailure(CodeInvalidRequest, "amount must be greater than zero")
	}
	if len(req.PaymentTransactionIDs) != 1 {
		return refundFailure(CodeInvalidRequest, "exactly one payment transaction is required")
	}

	payload := map[string]string{
		"locale":               "tr",
		"conversationId":       req.OrderID,
		"paymentTransactionId": req.PaymentTransactionIDs[0],
		"price":                req.Amount.Format(),
		"currency":             req.Currency,
		"ip":                   req.IP,
	}

	var resp iyzicoRefundResp
	if err := g.post(ctx, iyzicoRefundPath, payload, &resp); err != nil {
		return transportRefundFailure(err)
	}
	if resp.Status != "success" {
		return refundFailure(providerCode(resp.ErrorCode), resp.ErrorMessage)
	}
	return RefundResult{Success: true, RefundID: resp.PaymentTransactionID, Status: StatusSuccess}
}

func (g *IyzicoGateway) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	rnd := g.randomKey()
	headers := http.Header{}
	headers.Set("Authorization", g.authorization(rnd, path, body))
	headers.Set("x-iyzi-rnd", rnd)
	return postJSON(ctx, g.client, g.cfg.BaseURL+path, headers, body, out)
}

// authorization builds the IYZWSv2 header:
// base64("apiKey:K&randomKey:R&signature:hex(HMAC-SHA256(secret, R+path+body))")
func (g *IyzicoGateway) authorization(rnd, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(g.cfg.SecretKey))
	mac.Write([]byte(rnd + path))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	params := "apiKey:" + g.cfg.APIKey + "&randomKey:" + rnd + "&signature:" + signature
	return "IYZWSv2 " + base64.StdEncoding.EncodeToString([]byte(params))
}

func providerCode(code string) string {
	if code == "" {
		return CodeProviderError
	}
	return code
}
