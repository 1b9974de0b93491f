package payments

import (
	"context"
	"errors"
	"log"
	"net/http"

	"archpay-bend/models"
	"archpay-bend/utils"
	"archpay-bend/utils/escrow"
	"archpay-bend/utils/gateway"

	"github.com/gorilla/mux"
)

// Escrows is the escrow workflow the handlers drive
type Escrows interface {
	CreateProjectPayment(ctx context.Context, in escrow.CreatePaymentInput) (escrow.Result, error)
	ReleaseEscrow(ctx context.Context, escrowID string, actor models.Actor) (escrow.Result, error)
	OpenDispute(ctx context.Context, escrowID string, actor models.Actor, reason string) (escrow.Result, error)
	RefundPayment(ctx context.Context, escrowID string, actor models.Actor, clientIP string) (escrow.Result, error)
	ResolveDispute(ctx context.Context, escrowID string, actor models.Actor, outcome, clientIP string) (escrow.Result, error)
	GetEscrow(ctx context.Context, escrowID string, actor models.Actor) (escrow.Result, error)
}

// Service represents the payments service
type Service struct {
	escrow       Escrows
	callbackBase string
}

// NewPaymentsService returns a new payments service. callbackBase is the
// public url the provider callback routes are mounted under.
func NewPaymentsService(escrow Escrows, callbackBase string) *Service {
	return &Service{escrow: escrow, callbackBase: callbackBase}
}

// CreateProjectPayment starts the purchase of a project by the caller
func (s *Service) CreateProjectPayment(w http.ResponseWriter, r *http.Request) {
	actor := utils.ActorFromRequest(r)
	res, err := s.escrow.CreateProjectPayment(r.Context(), escrow.CreatePaymentInput{
		BuyerID:     actor.ID,
		ProjectID:   mux.Vars(r)["id"],
		CallbackURL: s.callbackBase,
		ClientIP:    utils.ClientIP(r),
	})
	respond(w, "create_payment", http.StatusCreated, res, err)
}

// GetEscrow ...
func (s *Service) GetEscrow(w http.ResponseWriter, r *http.Request) {
	res, err := s.escrow.GetEscrow(r.Context(), mux.Vars(r)["id"], utils.ActorFromRequest(r))
	respond(w, "get_escrow", http.StatusOK, res, err)
}

// ReleaseEscrow ...
func (s *Service) ReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	res, err := s.escrow.ReleaseEscrow(r.Context(), mux.Vars(r)["id"], utils.ActorFromRequest(r))
	respond(w, "release_escrow", http.StatusOK, res, err)
}

// OpenDispute ...
func (s *Service) OpenDispute(w http.ResponseWriter, r *http.Request) {
	var req models.DisputeReq
	if err := utils.DecodeReq(r, &req); err != nil {
		log.Printf("error decoding open_dispute req: %v", err)
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request data sent")
		return
	}
	if err := utils.ValidateReq(req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.escrow.OpenDispute(r.Context(), mux.Vars(r)["id"], utils.ActorFromRequest(r), req.Reason)
	respond(w, "open_dispute", http.StatusOK, res, err)
}

// RefundPayment ...
func (s *Service) RefundPayment(w http.ResponseWriter, r *http.Request) {
	res, err := s.escrow.RefundPayment(r.Context(), mux.Vars(r)["id"], utils.ActorFromRequest(r), utils.ClientIP(r))
	respond(w, "refund_payment", http.StatusOK, res, err)
}

// ResolveDispute ...
func (s *Service) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req models.ResolveDisputeReq
	if err := utils.DecodeReq(r, &req); err != nil {
		log.Printf("error decoding resolve_dispute req: %v", err)
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request data sent")
		return
	}
	if err := utils.ValidateReq(req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.escrow.ResolveDispute(r.Context(), mux.Vars(r)["id"], utils.ActorFromRequest(r), req.Outcome, utils.ClientIP(r))
	respond(w, "resolve_dispute", http.StatusOK, res, err)
}

func respond(w http.ResponseWriter, tag string, okCode int, res escrow.Result, err error) {
	if err != nil {
		log.Printf("%s: %v", tag, err)
		if errors.Is(err, gateway.ErrNoGatewayConfigured) || errors.Is(err, gateway.ErrGatewayNotConfigured) {
			utils.RespondWithError(w, http.StatusServiceUnavailable, "Payments are not available at the moment")
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "An error occurred")
		return
	}

	if !res.Success {
		code := StatusCode(res.ErrorCode)
		utils.RespondWithJSON(w, code, utils.Response{
			Status:  "error",
			Code:    code,
			Data:    res,
			Message: res.ErrorCode,
			Error:   res.ErrorMessage,
		})
		return
	}
	utils.RespondWithData(w, okCode, res)
}

// StatusCode maps a failure code of an escrow result to an http status
func StatusCode(errorCode string) int {
	switch errorCode {
	case escrow.CodeNotFound:
		return http.StatusNotFound
	case escrow.CodeForbidden:
		return http.StatusForbidden
	case escrow.CodeInvalidState, escrow.CodeConflict:
		return http.StatusConflict
	case escrow.CodeInvalidRequest, gateway.CodeInvalidSignature:
		return http.StatusBadRequest
	case escrow.CodeAmountMismatch, gateway.CodePaymentFailed:
		return http.StatusPaymentRequired
	case gateway.CodeUnsupported:
		return http.StatusNotImplemented
	}
	return http.StatusBadGateway
}
