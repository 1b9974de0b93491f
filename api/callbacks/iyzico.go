package callbacks

import (
	"log"
	"net/http"
	"net/url"

	"archpay-bend/utils"
	"archpay-bend/utils/cache"
	"archpay-bend/utils/gateway"
)

// Iyzico handles the browser post iyzico sends after the checkout form and
// sends the buyer on to the frontend payment page
func (s *Service) Iyzico(w http.ResponseWriter, r *http.Request) {
	escrowID := r.URL.Query().Get("escrow_id")
	if escrowID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Missing escrow reference")
		return
	}
	if err := r.ParseForm(); err != nil {
		log.Printf("iyzico_callback: parse form: %v", err)
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request data sent")
		return
	}
	token := r.PostForm.Get("token")
	key := gateway.Iyzico + ":" + token

	if token != "" {
		if prev, ok, err := s.seen.Seen(r.Context(), key); err != nil {
			log.Printf("iyzico_callback: dedupe lookup %s: %v", key, err)
		} else if ok {
			s.redirect(w, r, escrowID, prev)
			return
		}
	}

	res, err := s.escrow.HandleCallback(r.Context(), gateway.Iyzico, r.PostForm, escrowID)
	if err != nil {
		log.Printf("iyzico_callback: escrow %s: %v", escrowID, err)
		s.redirect(w, r, escrowID, OutcomePending)
		return
	}
	if !applied(res) {
		log.Printf("iyzico_callback: escrow %s not settled: %s %s", escrowID, res.ErrorCode, res.ErrorMessage)
		s.redirect(w, r, escrowID, OutcomePending)
		return
	}

	result := outcome(res)
	if err := s.seen.Mark(r.Context(), key, result, cache.DefaultCallbackTTL); err != nil {
		log.Printf("iyzico_callback: dedupe mark %s: %v", key, err)
	}
	s.redirect(w, r, escrowID, result)
}

func (s *Service) redirect(w http.ResponseWriter, r *http.Request, escrowID, status string) {
	target := s.frontendURL + "/payments/" + url.PathEscape(escrowID) + "?status=" + url.QueryEscape(status)
	http.Redirect(w, r, target, http.StatusSeeOther)
}
