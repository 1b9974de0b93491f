package callbacks

import (
	"context"
	"net/url"
	"strings"

	"archpay-bend/models"
	"archpay-bend/utils/cache"
	"archpay-bend/utils/escrow"
)

// Outcomes reported back to the buyer after a callback
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomePending = "pending"
)

// Callbacks applies verified provider callbacks to escrows
type Callbacks interface {
	HandleCallback(ctx context.Context, provider string, params url.Values, escrowHint string) (escrow.Result, error)
}

// Service represents the Callbacks Service
type Service struct {
	escrow      Callbacks
	seen        cache.CallbackStore
	frontendURL string
}

// NewCallbacksService returns a new callbacks service
func NewCallbacksService(escrow Callbacks, seen cache.CallbackStore, frontendURL string) *Service {
	if seen == nil {
		seen = cache.NewMemoryCallbackStore()
	}
	return &Service{
		escrow:      escrow,
		seen:        seen,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

// applied reports whether a callback result settled the escrow, either now
// or on an earlier delivery
func applied(res escrow.Result) bool {
	if res.Idempotent {
		return true
	}
	return res.Escrow != nil && res.Escrow.Status != models.EscrowPending
}

func outcome(res escrow.Result) string {
	if !applied(res) {
		return OutcomePending
	}
	if res.Escrow != nil && res.Escrow.Status == models.EscrowFailed {
		return OutcomeFailed
	}
	return OutcomeSuccess
}
