package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"archpay-bend/models"

	"github.com/shopspring/decimal"
)

// Configuration errors. These are fatal for the request and surfaced to
// the admin; they are never retried.
var (
	ErrNoGatewayConfigured   = errors.New("no payment gateway is configured")
	ErrGatewayNotConfigured  = errors.New("payment gateway is not configured")
	ErrUnknownGateway        = errors.New("unknown payment gateway")
	ErrInvalidCommissionRate = errors.New("commission rate must be between 0 and 0.30")
)

// Commission bounds and default
var (
	MinCommissionRate     = models.MustRate("0")
	MaxCommissionRate     = models.MustRate("0.30")
	DefaultCommissionRate = models.MustRate("0.10")
)

// SettingsStore is a key-value settings collaborator. SetMany writes every
// pair or none of them.
type SettingsStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	SetMany(ctx context.Context, values map[string]string) error
}

// Config is the payment configuration resolved from settings
type Config struct {
	ActiveGateway  string       `json:"active_gateway"`
	CommissionRate models.Rate  `json:"commission_rate"`
	Iyzico         IyzicoConfig `json:"iyzico"`
	PayTR          PayTRConfig  `json:"paytr"`
}

// Factory builds gateways from settings. Settings are read on every call,
// nothing is cached.
type Factory struct {
	settings SettingsStore
	client   *http.Client
}

// NewFactory ...
func NewFactory(settings SettingsStore, timeout time.Duration) *Factory {
	return &Factory{settings: settings, client: NewHTTPClient(timeout)}
}

// LoadConfig reads the payment settings
func (f *Factory) LoadConfig(ctx context.Context) (Config, error) {
	var (
		cfg     Config
		loadErr error
	)
	get := func(key string) string {
		if loadErr != nil {
			return ""
		}
		v, _, err := f.settings.Get(ctx, key)
		if err != nil {
			loadErr = fmt.Errorf("read setting %s: %w", key, err)
		}
		return v
	}

	cfg.ActiveGateway = get(models.SettingActiveGateway)
	rate := get(models.SettingCommissionRate)
	cfg.Iyzico = IyzicoConfig{
		APIKey:    get(models.SettingIyzicoAPIKey),
		SecretKey: get(models.SettingIyzicoSecretKey),
		BaseURL:   get(models.SettingIyzicoBaseURL),
	}
	cfg.PayTR = PayTRConfig{
		MerchantID:   get(models.SettingPayTRMerchantID),
		MerchantKey:  get(models.SettingPayTRMerchantKey),
		MerchantSalt: get(models.SettingPayTRMerchantSalt),
		BaseURL:      get(models.SettingPayTRBaseURL),
	}
	testMode := get(models.SettingPayTRTestMode)
	if loadErr != nil {
		return Config{}, loadErr
	}

	cfg.PayTR.TestMode, _ = strconv.ParseBool(testMode)
	cfg.CommissionRate = DefaultCommissionRate
	if rate != "" {
		r, err := ParseCommissionRate(rate)
		if err != nil {
			return Config{}, fmt.Errorf("stored commission rate %q: %w", rate, err)
		}
		cfg.CommissionRate = r
	}
	return cfg, nil
}

// Resolve returns the adapter to use for new payments. The active gateway
// wins when it has credentials; otherwise the first configured provider is
// used, iyzico before PayTR.
func (f *Factory) Resolve(ctx context.Context) (Gateway, Config, error) {
	cfg, err := f.LoadConfig(ctx)
	if err != nil {
		return nil, Config{}, err
	}

	name := cfg.ActiveGateway
	if !cfg.configured(name) {
		switch {
		case cfg.Iyzico.Configured():
			name = Iyzico
		case cfg.PayTR.Configured():
			name = PayTR
		default:
			return nil, Config{}, ErrNoGatewayConfigured
		}
	}

	gw, err := f.build(cfg, name)
	if err != nil {
		return nil, Config{}, err
	}
	cfg.ActiveGateway = name
	return gw, cfg, nil
}

// ForName returns the adapter for a provider, regardless of which one is
// active. Used for callbacks and refunds of escrows created earlier.
func (f *Factory) ForName(ctx context.Context, name string) (Gateway, error) {
	cfg, err := f.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}
	return f.build(cfg, name)
}

func (f *Factory) build(cfg Config, name string) (Gateway, error) {
	switch name {
	case Iyzico:
		if !cfg.Iyzico.Configured() {
			return nil, fmt.Errorf("%s: %w", name, ErrGatewayNotConfigured)
		}
		return NewIyzicoGateway(cfg.Iyzico, f.client), nil
	case PayTR:
		if !cfg.PayTR.Configured() {
			return nil, fmt.Errorf("%s: %w", name, ErrGatewayNotConfigured)
		}
		return NewPayTRGateway(cfg.PayTR, f.client), nil
	}
	return nil, fmt.Errorf("%q: %w", name, ErrUnknownGateway)
}

func (c Config) configured(name string) bool {
	switch name {
	case Iyzico:
		return c.Iyzico.Configured()
	case PayTR:
		return c.PayTR.Configured()
	}
	return false
}

// UpdateSettings validates and upserts the provided settings in one write.
// Nothing is written when validation or storage fails.
func (f *Factory) UpdateSettings(ctx context.Context, req models.PaymentSettingsReq) error {
	updates := map[string]string{}

	if req.CommissionRate != nil {
		r, err := ParseCommissionRate(*req.CommissionRate)
		if err != nil {
			return err
		}
		updates[models.SettingCommissionRate] = r.String()
	}
	if req.ActiveGateway != nil {
		if *req.ActiveGateway != Iyzico && *req.ActiveGateway != PayTR {
			return fmt.Errorf("%q: %w", *req.ActiveGateway, ErrUnknownGateway)
		}
		updates[models.SettingActiveGateway] = *req.ActiveGateway
	}

	optional := map[string]*string{
		models.SettingIyzicoAPIKey:      req.IyzicoAPIKey,
		models.SettingIyzicoSecretKey:   req.IyzicoSecretKey,
		models.SettingIyzicoBaseURL:     req.IyzicoBaseURL,
		models.SettingPayTRMerchantID:   req.PayTRMerchantID,
		models.SettingPayTRMerchantKey:  req.PayTRMerchantKey,
		models.SettingPayTRMerchantSalt: req.PayTRMerchantSalt,
		models.SettingPayTRBaseURL:      req.PayTRBaseURL,
	}
	for key, v := range optional {
		if v != nil {
			updates[key] = *v
		}
	}
	if req.PayTRTestMode != nil {
		updates[models.SettingPayTRTestMode] = strconv.FormatBool(*req.PayTRTestMode)
	}

	if len(updates) == 0 {
		return nil
	}
	if err := f.settings.SetMany(ctx, updates); err != nil {
		return fmt.Errorf("write payment settings: %w", err)
	}
	return nil
}

// Settings returns the current configuration with secrets masked
func (f *Factory) Settings(ctx context.Context) (Config, error) {
	cfg, err := f.LoadConfig(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg.Iyzico.APIKey = mask(cfg.Iyzico.APIKey)
	cfg.Iyzico.SecretKey = mask(cfg.Iyzico.SecretKey)
	cfg.PayTR.MerchantKey = mask(cfg.PayTR.MerchantKey)
	cfg.PayTR.MerchantSalt = mask(cfg.PayTR.MerchantSalt)
	return cfg, nil
}

// ParseCommissionRate parses a rate and checks it is within bounds
func ParseCommissionRate(s string) (models.Rate, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return models.Rate{}, fmt.Errorf("%q: %w", s, ErrInvalidCommissionRate)
	}
	if d.LessThan(MinCommissionRate.Decimal) || d.GreaterThan(MaxCommissionRate.Decimal) {
		return models.Rate{}, fmt.Errorf("%s: %w", s, ErrInvalidCommissionRate)
	}
	return models.NewRate(d), nil
}

func mask(s string) string {
	if len(s) <= 4 {
		if s == "" {
			return ""
		}
		return "****"
	}
	return "****" + s[len(s)-4:]
}
