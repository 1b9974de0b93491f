package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"archpay-bend/models"
)

// PayTR endpoints
const (
	paytrTokenPath  = "/odeme/api/get-token"
	paytrIframePath = "/odeme/guvenli/"
	paytrRefundPath = "/odeme/iade"

	// DefaultPayTRBaseURL ...
	DefaultPayTRBaseURL = "https://www.paytr.com"

	paytrMaxInstallment = "0"
	paytrNoInstallment  = "1"
	paytrTimeoutLimit   = "30"
)

// PayTRConfig ...
type PayTRConfig struct {
	MerchantID   string `json:"merchant_id"`
	MerchantKey  string `json:"merchant_key"`
	MerchantSalt string `json:"merchant_salt"`
	BaseURL      string `json:"base_url"`
	TestMode     bool   `json:"test_mode"`
}

// Configured reports whether credentials are present
func (c PayTRConfig) Configured() bool {
	return c.MerchantID != "" && c.MerchantKey != "" && c.MerchantSalt != ""
}

// PayTRGateway talks to the PayTR iframe API. PayTR has no completion call:
// the outcome arrives as a signed server to server callback.
type PayTRGateway struct {
	cfg    PayTRConfig
	client *http.Client
}

// NewPayTRGateway ...
func NewPayTRGateway(cfg PayTRConfig, client *http.Client) *PayTRGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPayTRBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = NewHTTPClient(DefaultTimeout)
	}
	return &PayTRGateway{cfg: cfg, client: client}
}

// Name ...
func (g *PayTRGateway) Name() string { return PayTR }

type paytrTokenResp struct {
	Status string `json:"status"`
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

type paytrRefundResp struct {
	Status       string `json:"status"`
	MerchantOID  string `json:"merchant_oid"`
	ReturnAmount string `json:"return_amount"`
	ErrNo        string `json:"err_no"`
	ErrMsg       string `json:"err_msg"`
}

// CreatePayment requests an iframe token for the order
func (g *PayTRGateway) CreatePayment(ctx context.Context, req PaymentRequest) PaymentResult {
	if msg := validateRequest(req, "Name", "Email", "Phone", "Address", "IP"); msg != "" {
		return failure(PayTR, CodeInvalidRequest, msg)
	}

	basket, err := paytrBasket(req)
	if err != nil {
		return failure(PayTR, CodeInvalidRequest, err.Error())
	}

	failURL := req.FailURL
	if failURL == "" {
		failURL = req.CallbackURL
	}
	f := paytrTokenFields{
		MerchantID:     g.cfg.MerchantID,
		UserIP:         req.Buyer.IP,
		MerchantOID:    req.OrderID,
		Email:          req.Buyer.Email,
		PaymentAmount:  strconv.FormatInt(req.Amount.Minor(), 10),
		UserBasket:     basket,
		NoInstallment:  paytrNoInstallment,
		MaxInstallment: paytrMaxInstallment,
		Currency:       paytrCurrency(req.Currency),
		TestMode:       g.testMode(),
	}

	form := url.Values{}
	form.Set("merchant_id", f.MerchantID)
	form.Set("user_ip", f.UserIP)
	form.Set("merchant_oid", f.MerchantOID)
	form.Set("email", f.Email)
	form.Set("payment_amount", f.PaymentAmount)
	form.Set("paytr_token", g.sign(f.hashString()+g.cfg.MerchantSalt))
	form.Set("user_basket", f.UserBasket)
	form.Set("debug_on", f.TestMode)
	form.Set("no_installment", f.NoInstallment)
	form.Set("max_installment", f.MaxInstallment)
	form.Set("user_name", strings.TrimSpace(req.Buyer.Name+" "+req.Buyer.Surname))
	form.Set("user_address", req.Buyer.Address)
	form.Set("user_phone", req.Buyer.Phone)
	form.Set("merchant_ok_url", req.CallbackURL)
	form.Set("merchant_fail_url", failURL)
	form.Set("timeout_limit", paytrTimeoutLimit)
	form.Set("currency", f.Currency)
	form.Set("test_mode", f.TestMode)
	form.Set("lang", "tr")

	var resp paytrTokenResp
	if err := postForm(ctx, g.client, g.cfg.BaseURL+paytrTokenPath, form, &resp); err != nil {
		return transportFailure(PayTR, err)
	}
	if resp.Status != "success" || resp.Token == "" {
		return failure(PayTR, CodeProviderError, resp.Reason)
	}

	return PaymentResult{
		Success:        true,
		Provider:       PayTR,
		OrderID:        req.OrderID,
		ConversationID: resp.Token,
		Status:         StatusInitiated,
		RedirectURL:    g.cfg.BaseURL + paytrIframePath + resp.Token,
	}
}

// CompletePayment is not part of the PayTR flow
func (g *PayTRGateway) CompletePayment(ctx context.Context, providerID string) PaymentResult {
	return failure(PayTR, CodeUnsupported, "paytr payments complete through the callback")
}

// VerifyCallback checks the callback hash and maps the reported status. The
// merchant_oid doubles as the payment id since PayTR issues none.
func (g *PayTRGateway) VerifyCallback(ctx context.Context, params url.Values) PaymentResult {
	oid := params.Get("merchant_oid")
	status := params.Get("status")
	total := params.Get("total_amount")
	hash := params.Get("hash")
	if oid == "" || status == "" || hash == "" {
		return failure(PayTR, CodeInvalidRequest, "callback is missing merchant_oid, status or hash")
	}

	expected := g.sign(oid + g.cfg.MerchantSalt + status + total)
	if !hmac.Equal([]byte(expected), []byte(hash)) {
		res := failure(PayTR, CodeInvalidSignature, "callback hash mismatch")
		res.OrderID = oid
		return res
	}

	res := PaymentResult{Provider: PayTR, OrderID: oid, PaymentID: oid}
	minor, err := strconv.ParseInt(total, 10, 64)
	if err == nil {
		amount := models.MoneyFromMinor(minor)
		res.Amount = &amount
	}
	if status != "success" {
		res.Status = StatusFailure
		res.ErrorCode = CodePaymentFailed
		if code := params.Get("failed_reason_code"); code != "" {
			res.ErrorCode = code
		}
		res.ErrorMessage = params.Get("failed_reason_msg")
		return res
	}
	if err != nil {
		// a success without a readable paid amount cannot be checked
		res.Status = StatusFailure
		res.ErrorCode = CodeInvalidResponse
		res.ErrorMessage = "unreadable total_amount " + strconv.Quote(total)
		return res
	}
	res.Success = true
	res.Status = StatusSuccess
	return res
}

// Refund returns the given amount of an order
func (g *PayTRGateway) Refund(ctx context.Context, req RefundRequest) RefundResult {
	if !req.Amount.IsPositive() {
		return refundFailure(CodeInvalidRequest, "amount must be greater than zero")
	}
	if req.OrderID == "" {
		return refundFailure(CodeInvalidRequest, "merchant_oid is required")
	}

	amount := req.Amount.Format()
	form := url.Values{}
	form.Set("merchant_id", g.cfg.MerchantID)
	form.Set("merchant_oid", req.OrderID)
	form.Set("return_amount", amount)
	form.Set("paytr_token", g.sign(g.cfg.MerchantID+req.OrderID+amount+g.cfg.MerchantSalt))

	var resp paytrRefundResp
	if err := postForm(ctx, g.client, g.cfg.BaseURL+paytrRefundPath, form, &resp); err != nil {
		return transportRefundFailure(err)
	}
	if resp.Status != "success" {
		code := CodeProviderError
		if resp.ErrNo != "" {
			code = resp.ErrNo
		}
		return refundFailure(code, resp.ErrMsg)
	}
	return RefundResult{Success: true, RefundID: req.OrderID, Status: StatusSuccess}
}

// paytrTokenFields are the signed fields of a token request
type paytrTokenFields struct {
	MerchantID     string
	UserIP         string
	MerchantOID    string
	Email          string
	PaymentAmount  string
	UserBasket     string
	NoInstallment  string
	MaxInstallment string
	Currency       string
	TestMode       string
}

// hashString concatenates the fields in the order PayTR verifies them.
// Changing the order invalidates every token.
func (f paytrTokenFields) hashString() string {
	return f.MerchantID +
		f.UserIP +
		f.MerchantOID +
		f.Email +
		f.PaymentAmount +
		f.UserBasket +
		f.NoInstallment +
		f.MaxInstallment +
		f.Currency +
		f.TestMode
}

func (g *PayTRGateway) sign(s string) string {
	mac := hmac.New(sha256.New, []byte(g.cfg.MerchantKey))
	mac.Write([]byte(s))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (g *PayTRGateway) testMode() string {
	if g.cfg.TestMode {
		return "1"
	}
	return "0"
}

// paytrBasket encodes [[name, unit price, quantity]] as base64 JSON
func paytrBasket(req PaymentRequest) (string, error) {
	basket := [][]interface{}{{req.ItemName, req.Amount.Format(), 1}}
	b, err := json.Marshal(basket)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func paytrCurrency(c string) string {
	if c == models.CurrencyTRY {
		return "TL"
	}
	return c
}
