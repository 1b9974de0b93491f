package admin

import (
	"context"
	"errors"
	"log"
	"net/http"

	"archpay-bend/models"
	"archpay-bend/utils"
	"archpay-bend/utils/gateway"
)

// PaymentSettings reads and writes the gateway configuration
type PaymentSettings interface {
	Settings(ctx context.Context) (gateway.Config, error)
	UpdateSettings(ctx context.Context, req models.PaymentSettingsReq) error
}

// Service represents the admin service
type Service struct {
	settings PaymentSettings
}

// NewAdminService ...
func NewAdminService(settings PaymentSettings) *Service {
	return &Service{settings: settings}
}

// GetPaymentSettings returns the payment configuration with secrets masked
func (s *Service) GetPaymentSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.settings.Settings(r.Context())
	if err != nil {
		log.Printf("get_payment_settings: %v", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Unable to read payment settings")
		return
	}
	utils.RespondWithData(w, http.StatusOK, cfg)
}

// UpdatePaymentSettings applies a partial settings update
func (s *Service) UpdatePaymentSettings(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentSettingsReq
	if err := utils.DecodeReq(r, &req); err != nil {
		log.Printf("error decoding payment_settings req: %v", err)
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request data sent")
		return
	}
	if err := utils.ValidateReq(req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := s.settings.UpdateSettings(r.Context(), req)
	if errors.Is(err, gateway.ErrInvalidCommissionRate) || errors.Is(err, gateway.ErrUnknownGateway) {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Printf("update_payment_settings: %v", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Unable to save payment settings")
		return
	}

	log.Printf("update_payment_settings: updated by %s", utils.ActorFromRequest(r).ID)
	s.GetPaymentSettings(w, r)
}
