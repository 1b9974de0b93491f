package escrow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"archpay-bend/models"
	"archpay-bend/utils/gateway"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Failure codes of escrow results
const (
	CodeNotFound       = "not_found"
	CodeForbidden      = "forbidden"
	CodeInvalidState   = "invalid_state"
	CodeInvalidRequest = "invalid_request"
	CodeConflict       = "conflict"
	CodeAmountMismatch = "amount_mismatch"
)

// Dispute outcomes
const (
	OutcomeRelease = "release"
	OutcomeRefund  = "refund"
)

// Store persists escrow rows. Transition must be an atomic single row
// update that only applies while the row still has status from and the
// change is not blocked by a refund claim (models.EscrowChange.BlockedByRefund),
// returning models.ErrStatusChanged otherwise. ClaimRefund atomically sets
// the refund claim when models.EscrowTransaction.RefundClaimable holds, with
// the same error otherwise.
type Store interface {
	Insert(ctx context.Context, e models.EscrowTransaction) error
	FindByID(ctx context.Context, id primitive.ObjectID) (models.EscrowTransaction, error)
	Transition(ctx context.Context, id primitive.ObjectID, from string, change models.EscrowChange) (models.EscrowTransaction, error)
	ClaimRefund(ctx context.Context, id primitive.ObjectID, at time.Time) (models.EscrowTransaction, error)
	ReleaseRefundClaim(ctx context.Context, id primitive.ObjectID, at time.Time) error
}

// ProjectFinder ...
type ProjectFinder interface {
	FindProject(ctx context.Context, id primitive.ObjectID) (models.Project, error)
}

// UserFinder ...
type UserFinder interface {
	FindUser(ctx context.Context, id primitive.ObjectID) (models.User, error)
}

// GatewayResolver picks adapters from the current payment settings
type GatewayResolver interface {
	Resolve(ctx context.Context) (gateway.Gateway, gateway.Config, error)
	ForName(ctx context.Context, name string) (gateway.Gateway, error)
}

// Notifier is told about every escrow status change
type Notifier interface {
	SendEscrowNotification(e models.EscrowTransaction)
}

// Result is the outcome of an escrow operation. Domain and provider
// failures are reported here; the error return of each operation is kept
// for configuration and storage faults.
type Result struct {
	Success      bool                      `json:"success"`
	EscrowID     string                    `json:"escrow_id,omitempty"`
	Escrow       *models.EscrowTransaction `json:"escrow,omitempty"`
	RedirectURL  string                    `json:"redirect_url,omitempty"`
	Payment      *gateway.PaymentResult    `json:"payment,omitempty"`
	Refund       *gateway.RefundResult     `json:"refund,omitempty"`
	Idempotent   bool                      `json:"idempotent,omitempty"`
	ErrorCode    string                    `json:"error_code,omitempty"`
	ErrorMessage string                    `json:"error_message,omitempty"`
}

func fail(code, msg string) Result {
	return Result{ErrorCode: code, ErrorMessage: msg}
}

func succeed(e models.EscrowTransaction) Result {
	return Result{Success: true, EscrowID: e.ID.Hex(), Escrow: &e}
}

// Dependencies of the escrow service
type Dependencies struct {
	Store    Store
	Projects ProjectFinder
	Users    UserFinder
	Gateways GatewayResolver
	Notifier Notifier
	// ReturnURL is the frontend page buyers land on after paying, the escrow
	// id and outcome are appended
	ReturnURL string
}

// Escrow represents the escrow service
type Escrow struct {
	store     Store
	projects  ProjectFinder
	users     UserFinder
	gateways  GatewayResolver
	notifier  Notifier
	returnURL string
	nowFn     func() time.Time
}

// InitEscrow ...
func InitEscrow(deps Dependencies) *Escrow {
	return &Escrow{
		store:     deps.Store,
		projects:  deps.Projects,
		users:     deps.Users,
		gateways:  deps.Gateways,
		notifier:  deps.Notifier,
		returnURL: strings.TrimRight(deps.ReturnURL, "/"),
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

// CreatePaymentInput ...
type CreatePaymentInput struct {
	BuyerID   string
	ProjectID string
	// CallbackURL is the public base of the provider callback routes
	CallbackURL string
	ClientIP    string
}

// Split computes the commission and seller share of amount. The seller share
// is derived by subtraction so the two always add up to amount.
func Split(amount models.Money, rate models.Rate) (commission, seller models.Money) {
	commission = rate.Of(amount)
	seller = amount.Sub(commission)
	return commission, seller
}

// CreateProjectPayment opens a pending escrow for a project purchase and
// starts the remote payment with the configured gateway
func (e *Escrow) CreateProjectPayment(ctx context.Context, in CreatePaymentInput) (Result, error) {
	buyerID, err := primitive.ObjectIDFromHex(in.BuyerID)
	if err != nil {
		return fail(CodeInvalidRequest, "invalid buyer id"), nil
	}
	projectID, err := primitive.ObjectIDFromHex(in.ProjectID)
	if err != nil {
		return fail(CodeInvalidRequest, "invalid project id"), nil
	}

	project, err := e.projects.FindProject(ctx, projectID)
	if errors.Is(err, models.ErrNotFound) {
		return fail(CodeNotFound, "project not found"), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("find project %s: %w", in.ProjectID, err)
	}
	if project.Status != models.ProjectPublished {
		return fail(CodeInvalidState, "project is not available for purchase"), nil
	}
	if project.SellerID == buyerID {
		return fail(CodeForbidden, "sellers cannot buy their own project"), nil
	}
	if !project.Price.IsPositive() {
		return fail(CodeInvalidRequest, "project has no price"), nil
	}
	currency := project.Currency
	if currency == "" {
		currency = models.CurrencyTRY
	}
	if currency != models.CurrencyTRY {
		return fail(CodeInvalidRequest, "unsupported currency "+currency), nil
	}

	buyer, err := e.users.FindUser(ctx, buyerID)
	if errors.Is(err, models.ErrNotFound) {
		return fail(CodeNotFound, "buyer not found"), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("find buyer %s: %w", in.BuyerID, err)
	}

	gw, cfg, err := e.gateways.Resolve(ctx)
	if err != nil {
		return Result{}, err
	}

	now := e.nowFn()
	commission, sellerAmount := Split(project.Price, cfg.CommissionRate)
	tx := models.EscrowTransaction{
		ID:               primitive.NewObjectID(),
		ProjectID:        project.ID,
		BuyerID:          buyerID,
		SellerID:         project.SellerID,
		Amount:           project.Price,
		Currency:         currency,
		CommissionRate:   cfg.CommissionRate,
		CommissionAmount: commission,
		SellerAmount:     sellerAmount,
		Status:           models.EscrowPending,
		Gateway:          gw.Name(),
		Open:             true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.store.Insert(ctx, tx); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			return fail(CodeConflict, "a payment for this project is already in progress"), nil
		}
		return Result{}, fmt.Errorf("insert escrow: %w", err)
	}

	req := gateway.PaymentRequest{
		OrderID:      tx.ID.Hex(),
		Amount:       tx.Amount,
		Currency:     currency,
		ItemID:       project.ID.Hex(),
		ItemName:     project.Title,
		ItemCategory: project.Category,
		Buyer: gateway.Buyer{
			ID:             buyer.ID.Hex(),
			Name:           buyer.Name,
			Surname:        buyer.Surname,
			Email:          buyer.Email,
			Phone:          buyer.Phone,
			IdentityNumber: buyer.IdentityNumber,
			Address:        buyer.Address,
			City:           buyer.City,
			Country:        buyer.Country,
			ZipCode:        buyer.ZipCode,
			IP:             in.ClientIP,
		},
	}
	switch gw.Name() {
	case gateway.Iyzico:
		req.CallbackURL = withQuery(strings.TrimRight(in.CallbackURL, "/")+"/iyzico", "escrow_id", tx.ID.Hex())
	default:
		req.CallbackURL = e.landingURL(tx.ID.Hex(), gateway.StatusSuccess)
		req.FailURL = e.landingURL(tx.ID.Hex(), gateway.StatusFailure)
	}

	res := gw.CreatePayment(ctx, req)
	if !res.Success {
		log.Printf("create_payment: %s rejected escrow %s: %s %s", gw.Name(), tx.ID.Hex(), res.ErrorCode, res.ErrorMessage)
		failed, err := e.store.Transition(ctx, tx.ID, models.EscrowPending, models.EscrowChange{
			Status:        models.EscrowFailed,
			FailureReason: reason(res.ErrorCode, res.ErrorMessage),
			At:            e.nowFn(),
		})
		if err != nil {
			return Result{}, fmt.Errorf("mark escrow %s failed: %w", tx.ID.Hex(), err)
		}
		out := fail(res.ErrorCode, res.ErrorMessage)
		out.EscrowID = tx.ID.Hex()
		out.Escrow = &failed
		out.Payment = &res
		return out, nil
	}

	updated, err := e.store.Transition(ctx, tx.ID, models.EscrowPending, models.EscrowChange{
		Status:         models.EscrowPending,
		ConversationID: res.ConversationID,
		At:             e.nowFn(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("store conversation of escrow %s: %w", tx.ID.Hex(), err)
	}

	out := succeed(updated)
	out.RedirectURL = res.RedirectURL
	out.Payment = &res
	return out, nil
}

// HandleCallback verifies a provider callback with the gateway the escrow
// was created with and applies its outcome. escrowHint is the escrow id
// carried by the callback URL, if any.
func (e *Escrow) HandleCallback(ctx context.Context, provider string, params url.Values, escrowHint string) (Result, error) {
	gw, err := e.gateways.ForName(ctx, provider)
	if err != nil {
		return Result{}, err
	}

	res := gw.VerifyCallback(ctx, params)
	escrowID := res.OrderID
	if escrowID == "" {
		escrowID = escrowHint
	}
	if escrowHint != "" && escrowID != escrowHint {
		log.Printf("payment_callback: %s reported order %s for escrow %s", provider, escrowID, escrowHint)
		return fail(CodeInvalidRequest, "callback does not match escrow"), nil
	}
	if !res.Definitive() {
		log.Printf("payment_callback: %s callback for %q not applied: %s %s", provider, escrowID, res.ErrorCode, res.ErrorMessage)
		out := fail(res.ErrorCode, res.ErrorMessage)
		out.EscrowID = escrowID
		out.Payment = &res
		return out, nil
	}

	return e.CompletePayment(ctx, escrowID, res)
}

// CompletePayment applies a provider verdict to a pending escrow: held on
// success, failed otherwise. Repeated deliveries for an escrow that already
// left pending are acknowledged without changes.
func (e *Escrow) CompletePayment(ctx context.Context, escrowID string, outcome gateway.PaymentResult) (Result, error) {
	id, err := primitive.ObjectIDFromHex(escrowID)
	if err != nil {
		return fail(CodeInvalidRequest, "invalid escrow id"), nil
	}
	tx, err := e.find(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fail(CodeNotFound, "escrow not found"), nil
		}
		return Result{}, err
	}
	if outcome.Provider != "" && outcome.Provider != tx.Gateway {
		return fail(CodeInvalidRequest, "escrow was not paid through "+outcome.Provider), nil
	}

	if tx.Status != models.EscrowPending {
		return e.alreadyCompleted(tx, outcome), nil
	}

	change := models.EscrowChange{At: e.nowFn()}
	failCode := outcome.ErrorCode
	switch {
	case outcome.Success && outcome.Amount != nil && outcome.Amount.LessThan(tx.Amount.Decimal):
		log.Printf("complete_payment: escrow %s paid %s, expected %s", tx.ID.Hex(), outcome.Amount.Format(), tx.Amount.Format())
		failCode = CodeAmountMismatch
		change.Status = models.EscrowFailed
		change.FailureReason = reason(CodeAmountMismatch, "paid "+outcome.Amount.Format())
	case outcome.Success:
		paymentID := outcome.PaymentID
		change.Status = models.EscrowHeld
		change.PaymentID = &paymentID
		change.PaymentTransactionIDs = outcome.PaymentTransactionIDs
	default:
		change.Status = models.EscrowFailed
		change.FailureReason = reason(outcome.ErrorCode, outcome.ErrorMessage)
	}

	updated, err := e.store.Transition(ctx, tx.ID, models.EscrowPending, change)
	if errors.Is(err, models.ErrStatusChanged) {
		// a concurrent delivery won the race
		current, ferr := e.find(ctx, id)
		if ferr != nil {
			return Result{}, ferr
		}
		return e.alreadyCompleted(current, outcome), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("complete escrow %s: %w", escrowID, err)
	}

	e.notify(updated)
	if updated.Status != models.EscrowHeld {
		out := fail(failCode, updated.FailureReason)
		out.EscrowID = updated.ID.Hex()
		out.Escrow = &updated
		out.Payment = &outcome
		return out, nil
	}
	out := succeed(updated)
	out.Payment = &outcome
	return out, nil
}

func (e *Escrow) alreadyCompleted(tx models.EscrowTransaction, outcome gateway.PaymentResult) Result {
	if (tx.Status == models.EscrowFailed) == outcome.Success {
		log.Printf("complete_payment: escrow %s is %s, ignoring callback reporting %s", tx.ID.Hex(), tx.Status, outcome.Status)
	}
	out := succeed(tx)
	out.Idempotent = true
	return out
}

// ReleaseEscrow pays a held escrow out to the seller. Only the buyer or an
// admin may release.
func (e *Escrow) ReleaseEscrow(ctx context.Context, escrowID string, actor models.Actor) (Result, error) {
	tx, res, err := e.load(ctx, escrowID)
	if err != nil || res != nil {
		return deref(res), err
	}
	if !actor.IsAdmin() && tx.BuyerID.Hex() != actor.ID {
		return fail(CodeForbidden, "only the buyer or an admin can release this escrow"), nil
	}
	if tx.Status != models.EscrowHeld {
		return fail(CodeInvalidState, "escrow is "+tx.Status+", only held escrows can be released"), nil
	}
	if tx.RefundInFlight(e.nowFn()) {
		return fail(CodeInvalidState, "a refund of this escrow is in progress"), nil
	}
	return e.transition(ctx, tx, models.EscrowChange{Status: models.EscrowReleased})
}

// OpenDispute freezes a held escrow until an admin resolves it. Either
// party or an admin may dispute.
func (e *Escrow) OpenDispute(ctx context.Context, escrowID string, actor models.Actor, reasonText string) (Result, error) {
	tx, res, err := e.load(ctx, escrowID)
	if err != nil || res != nil {
		return deref(res), err
	}
	if !actor.IsAdmin() && !tx.IsParty(actor.ID) {
		return fail(CodeForbidden, "only the buyer, the seller or an admin can dispute this escrow"), nil
	}
	reasonText = strings.TrimSpace(reasonText)
	if reasonText == "" {
		return fail(CodeInvalidRequest, "a dispute reason is required"), nil
	}
	if tx.Status != models.EscrowHeld {
		return fail(CodeInvalidState, "escrow is "+tx.Status+", only held escrows can be disputed"), nil
	}
	if tx.RefundInFlight(e.nowFn()) {
		return fail(CodeInvalidState, "a refund of this escrow is in progress"), nil
	}

	change := models.EscrowChange{Status: models.EscrowDisputed, DisputeReason: reasonText}
	if by, err := primitive.ObjectIDFromHex(actor.ID); err == nil {
		change.DisputedBy = &by
	}
	return e.transition(ctx, tx, change)
}

// RefundPayment returns the full amount of a held or disputed escrow to the
// buyer. The escrow is claimed before the provider is called so no release
// or dispute can slip in; the stored status only changes after the provider
// confirms.
func (e *Escrow) RefundPayment(ctx context.Context, escrowID string, actor models.Actor, clientIP string) (Result, error) {
	tx, res, err := e.load(ctx, escrowID)
	if err != nil || res != nil {
		return deref(res), err
	}
	if !actor.IsAdmin() {
		return fail(CodeForbidden, "only an admin can refund an escrow"), nil
	}
	if tx.Status != models.EscrowHeld && tx.Status != models.EscrowDisputed {
		return fail(CodeInvalidState, "escrow is "+tx.Status+", only held or disputed escrows can be refunded"), nil
	}

	gw, err := e.gateways.ForName(ctx, tx.Gateway)
	if err != nil {
		return Result{}, err
	}

	// stores keep millisecond timestamps, the claim is matched by value
	claimAt := e.nowFn().Truncate(time.Millisecond)
	tx, err = e.store.ClaimRefund(ctx, tx.ID, claimAt)
	if errors.Is(err, models.ErrStatusChanged) {
		return fail(CodeInvalidState, "escrow changed or is already being refunded"), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("claim refund of escrow %s: %w", escrowID, err)
	}

	paymentID := ""
	if tx.PaymentID != nil {
		paymentID = *tx.PaymentID
	}
	refund := gw.Refund(ctx, gateway.RefundRequest{
		OrderID:               tx.ID.Hex(),
		PaymentID:             paymentID,
		PaymentTransactionIDs: tx.PaymentTransactionIDs,
		Amount:                tx.Amount,
		Currency:              tx.Currency,
		IP:                    clientIP,
	})
	if !refund.Success {
		log.Printf("refund_payment: %s refused refund of escrow %s: %s %s", tx.Gateway, tx.ID.Hex(), refund.ErrorCode, refund.ErrorMessage)
		if err := e.store.ReleaseRefundClaim(ctx, tx.ID, claimAt); err != nil {
			log.Printf("refund_payment: release refund claim of escrow %s: %v", tx.ID.Hex(), err)
		} else {
			tx.RefundPendingAt = nil
		}
		out := fail(refund.ErrorCode, refund.ErrorMessage)
		out.EscrowID = tx.ID.Hex()
		out.Escrow = &tx
		out.Refund = &refund
		return out, nil
	}

	refundID := refund.RefundID
	out, err := e.transition(ctx, tx, models.EscrowChange{Status: models.EscrowRefunded, RefundID: &refundID})
	if err != nil || !out.Success {
		log.Printf("refund_payment: escrow %s refunded at %s (ref %s) but not stored: %v %s", tx.ID.Hex(), tx.Gateway, refundID, err, out.ErrorMessage)
	}
	out.Refund = &refund
	return out, err
}

// ResolveDispute closes a disputed escrow by releasing it to the seller or
// refunding the buyer. Admin only.
func (e *Escrow) ResolveDispute(ctx context.Context, escrowID string, actor models.Actor, outcome, clientIP string) (Result, error) {
	tx, res, err := e.load(ctx, escrowID)
	if err != nil || res != nil {
		return deref(res), err
	}
	if !actor.IsAdmin() {
		return fail(CodeForbidden, "only an admin can resolve a dispute"), nil
	}
	if tx.Status != models.EscrowDisputed {
		return fail(CodeInvalidState, "escrow is "+tx.Status+", only disputed escrows can be resolved"), nil
	}

	switch outcome {
	case OutcomeRelease:
		if tx.RefundInFlight(e.nowFn()) {
			return fail(CodeInvalidState, "a refund of this escrow is in progress"), nil
		}
		return e.transition(ctx, tx, models.EscrowChange{Status: models.EscrowReleased})
	case OutcomeRefund:
		return e.RefundPayment(ctx, escrowID, actor, clientIP)
	}
	return fail(CodeInvalidRequest, "outcome must be release or refund"), nil
}

// GetEscrow returns an escrow to one of its parties or an admin
func (e *Escrow) GetEscrow(ctx context.Context, escrowID string, actor models.Actor) (Result, error) {
	tx, res, err := e.load(ctx, escrowID)
	if err != nil || res != nil {
		return deref(res), err
	}
	if !actor.IsAdmin() && !tx.IsParty(actor.ID) {
		return fail(CodeForbidden, "escrow not available to user"), nil
	}
	return succeed(tx), nil
}

// private

func (e *Escrow) transition(ctx context.Context, tx models.EscrowTransaction, change models.EscrowChange) (Result, error) {
	change.At = e.nowFn()
	updated, err := e.store.Transition(ctx, tx.ID, tx.Status, change)
	if errors.Is(err, models.ErrStatusChanged) {
		return fail(CodeInvalidState, "escrow changed while processing, retry"), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("escrow %s %s -> %s: %w", tx.ID.Hex(), tx.Status, change.Status, err)
	}
	e.notify(updated)
	return succeed(updated), nil
}

// load fetches an escrow; a non-nil Result reports a domain failure
func (e *Escrow) load(ctx context.Context, escrowID string) (models.EscrowTransaction, *Result, error) {
	id, err := primitive.ObjectIDFromHex(escrowID)
	if err != nil {
		r := fail(CodeInvalidRequest, "invalid escrow id")
		return models.EscrowTransaction{}, &r, nil
	}
	tx, err := e.find(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		r := fail(CodeNotFound, "escrow not found")
		return models.EscrowTransaction{}, &r, nil
	}
	if err != nil {
		return models.EscrowTransaction{}, nil, err
	}
	return tx, nil, nil
}

func (e *Escrow) find(ctx context.Context, id primitive.ObjectID) (models.EscrowTransaction, error) {
	tx, err := e.store.FindByID(ctx, id)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return tx, fmt.Errorf("find escrow %s: %w", id.Hex(), err)
	}
	return tx, err
}

func (e *Escrow) notify(tx models.EscrowTransaction) {
	if e.notifier == nil {
		return
	}
	go e.notifier.SendEscrowNotification(tx)
}

func (e *Escrow) landingURL(escrowID, status string) string {
	return withQuery(e.returnURL+"/payments/"+escrowID, "status", status)
}

func withQuery(raw, key, value string) string {
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	return raw + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}

func reason(code, msg string) string {
	if msg == "" {
		return code
	}
	return code + ": " + msg
}

func deref(r *Result) Result {
	if r == nil {
		return Result{}
	}
	return *r
}
