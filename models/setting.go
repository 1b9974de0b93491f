package models

import "time"

// Setting is a generic key-value row of the settings collection
type Setting struct {
	Key       string    `json:"key" bson:"_id"`
	Value     string    `json:"value" bson:"value"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Payment setting keys
const (
	SettingActiveGateway  = "payment.active_gateway"
	SettingCommissionRate = "payment.commission_rate"

	SettingIyzicoAPIKey    = "payment.iyzico.api_key"
	SettingIyzicoSecretKey = "payment.iyzico.secret_key"
	SettingIyzicoBaseURL   = "payment.iyzico.base_url"

	SettingPayTRMerchantID   = "payment.paytr.merchant_id"
	SettingPayTRMerchantKey  = "payment.paytr.merchant_key"
	SettingPayTRMerchantSalt = "payment.paytr.merchant_salt"
	SettingPayTRBaseURL      = "payment.paytr.base_url"
	SettingPayTRTestMode     = "payment.paytr.test_mode"
)

// PaymentSettingsReq is the admin payload for updating gateway settings.
// Nil fields are left untouched.
type PaymentSettingsReq struct {
	ActiveGateway  *string `json:"active_gateway" validate:"omitempty,oneof=iyzico paytr"`
	CommissionRate *string `json:"commission_rate" validate:"omitempty,numeric"`

	IyzicoAPIKey    *string `json:"iyzico_api_key"`
	IyzicoSecretKey *string `json:"iyzico_secret_key"`
	IyzicoBaseURL   *string `json:"iyzico_base_url" validate:"omitempty,url"`

	PayTRMerchantID   *string `json:"paytr_merchant_id"`
	PayTRMerchantKey  *string `json:"paytr_merchant_key"`
	PayTRMerchantSalt *string `json:"paytr_merchant_salt"`
	PayTRBaseURL      *string `json:"paytr_base_url" validate:"omitempty,url"`
	PayTRTestMode     *bool   `json:"paytr_test_mode"`
}
