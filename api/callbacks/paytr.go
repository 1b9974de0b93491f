package callbacks

import (
	"log"
	"net/http"

	"archpay-bend/utils"
	"archpay-bend/utils/cache"
	"archpay-bend/utils/gateway"
)

// PayTR handles the server to server payment notification. PayTR keeps
// retrying until it receives a plain OK.
func (s *Service) PayTR(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		log.Printf("paytr_callback: parse form: %v", err)
		utils.RespondWithText(w, http.StatusBadRequest, "FAIL")
		return
	}
	params := r.PostForm
	oid := params.Get("merchant_oid")
	key := gateway.PayTR + ":" + oid + ":" + params.Get("status")

	if prev, ok, err := s.seen.Seen(r.Context(), key); err != nil {
		log.Printf("paytr_callback: dedupe lookup %s: %v", key, err)
	} else if ok {
		log.Printf("paytr_callback: duplicate delivery for %s (%s)", oid, prev)
		utils.RespondWithText(w, http.StatusOK, "OK")
		return
	}

	res, err := s.escrow.HandleCallback(r.Context(), gateway.PayTR, params, "")
	if err != nil {
		log.Printf("paytr_callback: %s: %v", oid, err)
		utils.RespondWithText(w, http.StatusInternalServerError, "FAIL")
		return
	}
	if !applied(res) {
		log.Printf("paytr_callback: %s rejected: %s %s", oid, res.ErrorCode, res.ErrorMessage)
		utils.RespondWithText(w, http.StatusBadRequest, "FAIL")
		return
	}

	if err := s.seen.Mark(r.Context(), key, outcome(res), cache.DefaultCallbackTTL); err != nil {
		log.Printf("paytr_callback: dedupe mark %s: %v", key, err)
	}
	utils.RespondWithText(w, http.StatusOK, "OK")
}
