package escrow

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"archpay-bend/models"
	"archpay-bend/utils/gateway"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type memoryStore struct {
	mu   sync.Mutex
	rows map[primitive.ObjectID]models.EscrowTransaction
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: map[primitive.ObjectID]models.EscrowTransaction{}}
}

func (s *memoryStore) Insert(_ context.Context, e models.EscrowTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.Open && row.ProjectID == e.ProjectID && row.BuyerID == e.BuyerID {
			return models.ErrDuplicate
		}
	}
	s.rows[e.ID] = e
	return nil
}

func (s *memoryStore) FindByID(_ context.Context, id primitive.ObjectID) (models.EscrowTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok {
		return e, models.ErrNotFound
	}
	return e, nil
}

func (s *memoryStore) Transition(_ context.Context, id primitive.ObjectID, from string, change models.EscrowChange) (models.EscrowTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok || e.Status != from || change.BlockedByRefund(e) {
		return e, models.ErrStatusChanged
	}
	change.Apply(&e)
	s.rows[id] = e
	return e, nil
}

func (s *memoryStore) ClaimRefund(_ context.Context, id primitive.ObjectID, at time.Time) (models.EscrowTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok || !e.RefundClaimable(at) {
		return e, models.ErrStatusChanged
	}
	e.RefundPendingAt = &at
	s.rows[id] = e
	return e, nil
}

func (s *memoryStore) ReleaseRefundClaim(_ context.Context, id primitive.ObjectID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if ok && e.RefundPendingAt != nil && e.RefundPendingAt.Equal(at) {
		e.RefundPendingAt = nil
		s.rows[id] = e
	}
	return nil
}

type directory struct {
	projects map[primitive.ObjectID]models.Project
	users    map[primitive.ObjectID]models.User
}

func (d *directory) FindProject(_ context.Context, id primitive.ObjectID) (models.Project, error) {
	p, ok := d.projects[id]
	if !ok {
		return p, models.ErrNotFound
	}
	return p, nil
}

func (d *directory) FindUser(_ context.Context, id primitive.ObjectID) (models.User, error) {
	u, ok := d.users[id]
	if !ok {
		return u, models.ErrNotFound
	}
	return u, nil
}

type fakeGateway struct {
	name        string
	createRes   gateway.PaymentResult
	callbackRes gateway.PaymentResult
	refundRes   gateway.RefundResult
	created     []gateway.PaymentRequest
	refunds     []gateway.RefundRequest
	// onRefund runs while the provider refund call is in flight
	onRefund func()
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) CreatePayment(_ context.Context, req gateway.PaymentRequest) gateway.PaymentResult {
	g.created = append(g.created, req)
	return g.createRes
}

func (g *fakeGateway) CompletePayment(_ context.Context, _ string) gateway.PaymentResult {
	return g.callbackRes
}

func (g *fakeGateway) Refund(_ context.Context, req gateway.RefundRequest) gateway.RefundResult {
	g.refunds = append(g.refunds, req)
	if g.onRefund != nil {
		g.onRefund()
	}
	return g.refundRes
}

func (g *fakeGateway) VerifyCallback(_ context.Context, _ url.Values) gateway.PaymentResult {
	return g.callbackRes
}

type resolver struct {
	active   string
	rate     models.Rate
	gateways map[string]*fakeGateway
}

func (r *resolver) Resolve(_ context.Context) (gateway.Gateway, gateway.Config, error) {
	gw, ok := r.gateways[r.active]
	if !ok {
		return nil, gateway.Config{}, gateway.ErrNoGatewayConfigured
	}
	return gw, gateway.Config{ActiveGateway: r.active, CommissionRate: r.rate}, nil
}

func (r *resolver) ForName(_ context.Context, name string) (gateway.Gateway, error) {
	gw, ok := r.gateways[name]
	if !ok {
		return nil, gateway.ErrGatewayNotConfigured
	}
	return gw, nil
}

type recorder struct {
	mu   sync.Mutex
	sent []models.EscrowTransaction
}

func (r *recorder) SendEscrowNotification(e models.EscrowTransaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, e)
}

func (r *recorder) statuses(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		got := len(r.sent)
		r.mu.Unlock()
		if got >= n || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	// give stray notifications a moment to show up
	time.Sleep(20 * time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, e := range r.sent {
		out = append(out, e.Status)
	}
	return out
}

type fixture struct {
	escrow   *Escrow
	store    *memoryStore
	paytr    *fakeGateway
	iyzico   *fakeGateway
	resolver *resolver
	notes    *recorder
	project  models.Project
	buyer    models.User
	seller   models.User
	admin    models.Actor
}

func newFixture() *fixture {
	seller := models.User{ID: primitive.NewObjectID(), Name: "Mehmet", Surname: "Kaya", Email: "seller@example.com"}
	buyer := models.User{
		ID: primitive.NewObjectID(), Name: "Ayse", Surname: "Yilmaz", Email: "buyer@example.com",
		Phone: "+905350000000", IdentityNumber: "74300864791", Address: "Merdivenkoy Mah.", City: "Istanbul", Country: "Turkey",
	}
	project := models.Project{
		ID:       primitive.NewObjectID(),
		SellerID: seller.ID,
		Title:    "Villa plan",
		Category: "Architecture",
		Price:    models.MustMoney("1000"),
		Currency: models.CurrencyTRY,
		Status:   models.ProjectPublished,
	}

	paytr := &fakeGateway{
		name:      gateway.PayTR,
		createRes: gateway.PaymentResult{Success: true, Provider: gateway.PayTR, ConversationID: "iframe-token", RedirectURL: "https://www.paytr.com/odeme/guvenli/iframe-token", Status: gateway.StatusInitiated},
		refundRes: gateway.RefundResult{Success: true, RefundID: "refund-1", Status: gateway.StatusSuccess},
	}
	iyzico := &fakeGateway{
		name:      gateway.Iyzico,
		createRes: gateway.PaymentResult{Success: true, Provider: gateway.Iyzico, ConversationID: "checkout-token", RedirectURL: "https://sandbox-cpp.iyzipay.com?token=checkout-token", Status: gateway.StatusInitiated},
		refundRes: gateway.RefundResult{Success: true, RefundID: "23685512", Status: gateway.StatusSuccess},
	}
	res := &resolver{
		active:   gateway.PayTR,
		rate:     models.MustRate("0.10"),
		gateways: map[string]*fakeGateway{gateway.PayTR: paytr, gateway.Iyzico: iyzico},
	}
	store := newMemoryStore()
	notes := &recorder{}
	dir := &directory{
		projects: map[primitive.ObjectID]models.Project{project.ID: project},
		users:    map[primitive.ObjectID]models.User{buyer.ID: buyer, seller.ID: seller},
	}

	e := InitEscrow(Dependencies{
		Store:     store,
		Projects:  dir,
		Users:     dir,
		Gateways:  res,
		Notifier:  notes,
		ReturnURL: "https://app.example.com/",
	})
	return &fixture{
		escrow: e, store: store, paytr: paytr, iyzico: iyzico, resolver: res, notes: notes,
		project: project, buyer: buyer, seller: seller,
		admin: models.Actor{ID: primitive.NewObjectID().Hex(), Role: models.RoleAdmin},
	}
}

func (f *fixture) buyerActor() models.Actor {
	return models.Actor{ID: f.buyer.ID.Hex(), Role: models.RoleUser}
}

func (f *fixture) sellerActor() models.Actor {
	return models.Actor{ID: f.seller.ID.Hex(), Role: models.RoleUser}
}

func (f *fixture) create(t *testing.T) Result {
	t.Helper()
	res, err := f.escrow.CreateProjectPayment(context.Background(), CreatePaymentInput{
		BuyerID:     f.buyer.ID.Hex(),
		ProjectID:   f.project.ID.Hex(),
		CallbackURL: "https://api.example.com/api/v1/callbacks",
		ClientIP:    "85.34.78.112",
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if !res.Success {
		t.Fatalf("create payment failed: %s %s", res.ErrorCode, res.ErrorMessage)
	}
	return res
}

func (f *fixture) paytrCallback(t *testing.T, escrowID string, success bool) Result {
	t.Helper()
	amount := models.MustMoney("1000")
	cb := gateway.PaymentResult{Provider: gateway.PayTR, OrderID: escrowID, PaymentID: escrowID, Amount: &amount}
	if success {
		cb.Success = true
		cb.Status = gateway.StatusSuccess
	} else {
		cb.Status = gateway.StatusFailure
		cb.ErrorCode = gateway.CodePaymentFailed
		cb.ErrorMessage = "card declined"
	}
	f.paytr.callbackRes = cb

	res, err := f.escrow.HandleCallback(context.Background(), gateway.PayTR, url.Values{}, "")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	return res
}

func (f *fixture) row(t *testing.T, id string) models.EscrowTransaction {
	t.Helper()
	oid, _ := primitive.ObjectIDFromHex(id)
	e, err := f.store.FindByID(context.Background(), oid)
	if err != nil {
		t.Fatalf("find %s: %v", id, err)
	}
	return e
}

func TestSplit(t *testing.T) {
	commission, seller := Split(models.MustMoney("1000"), models.MustRate("0.10"))
	if commission.Format() != "100.00" || seller.Format() != "900.00" {
		t.Fatalf("split = %s / %s", commission.Format(), seller.Format())
	}

	commission, seller = Split(models.MustMoney("99.99"), models.MustRate("0.125"))
	if !commission.Add(seller).Equal(models.MustMoney("99.99")) {
		t.Fatalf("%s + %s != 99.99", commission.Format(), seller.Format())
	}
}

func TestCreateProjectPayment(t *testing.T) {
	f := newFixture()
	res := f.create(t)

	e := f.row(t, res.EscrowID)
	if e.Status != models.EscrowPending || !e.Open {
		t.Fatalf("status = %s open = %v", e.Status, e.Open)
	}
	if e.Amount.Format() != "1000.00" || e.CommissionAmount.Format() != "100.00" || e.SellerAmount.Format() != "900.00" {
		t.Fatalf("amounts %s %s %s", e.Amount.Format(), e.CommissionAmount.Format(), e.SellerAmount.Format())
	}
	if e.Gateway != gateway.PayTR || e.ConversationID != "iframe-token" || e.PaymentID != nil {
		t.Fatalf("gateway=%s conversation=%s payment=%v", e.Gateway, e.ConversationID, e.PaymentID)
	}
	if res.RedirectURL != "https://www.paytr.com/odeme/guvenli/iframe-token" {
		t.Fatalf("redirect = %s", res.RedirectURL)
	}

	req := f.paytr.created[0]
	if req.OrderID != res.EscrowID || req.Buyer.IP != "85.34.78.112" || req.Buyer.Email != "buyer@example.com" {
		t.Fatalf("payment request %+v", req)
	}
	if req.CallbackURL != "https://app.example.com/payments/"+res.EscrowID+"?status=success" {
		t.Fatalf("ok url = %s", req.CallbackURL)
	}
	if req.FailURL != "https://app.example.com/payments/"+res.EscrowID+"?status=failure" {
		t.Fatalf("fail url = %s", req.FailURL)
	}
	if got := f.notes.statuses(t, 0); len(got) != 0 {
		t.Fatalf("pending escrow notified: %v", got)
	}
}

func TestCreateProjectPaymentIyzicoCallbackURL(t *testing.T) {
	f := newFixture()
	f.resolver.active = gateway.Iyzico
	res := f.create(t)

	want := "https://api.example.com/api/v1/callbacks/iyzico?escrow_id=" + res.EscrowID
	if got := f.iyzico.created[0].CallbackURL; got != want {
		t.Fatalf("callback url = %s, want %s", got, want)
	}
	if f.row(t, res.EscrowID).Gateway != gateway.Iyzico {
		t.Fatal("escrow not tagged with iyzico")
	}
}

func TestCreateProjectPaymentRejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.escrow.CreateProjectPayment(ctx, CreatePaymentInput{BuyerID: f.seller.ID.Hex(), ProjectID: f.project.ID.Hex()})
	if err != nil || res.ErrorCode != CodeForbidden {
		t.Fatalf("own project: %+v %v", res, err)
	}

	res, err = f.escrow.CreateProjectPayment(ctx, CreatePaymentInput{BuyerID: f.buyer.ID.Hex(), ProjectID: primitive.NewObjectID().Hex()})
	if err != nil || res.ErrorCode != CodeNotFound {
		t.Fatalf("missing project: %+v %v", res, err)
	}

	res, err = f.escrow.CreateProjectPayment(ctx, CreatePaymentInput{BuyerID: "nope", ProjectID: f.project.ID.Hex()})
	if err != nil || res.ErrorCode != CodeInvalidRequest {
		t.Fatalf("bad buyer id: %+v %v", res, err)
	}

	f.resolver.active = ""
	_, err = f.escrow.CreateProjectPayment(ctx, CreatePaymentInput{BuyerID: f.buyer.ID.Hex(), ProjectID: f.project.ID.Hex()})
	if err != gateway.ErrNoGatewayConfigured {
		t.Fatalf("no gateway err = %v", err)
	}
	if len(f.store.rows) != 0 {
		t.Fatal("escrow stored without a gateway")
	}
}

func TestCreateProjectPaymentConflict(t *testing.T) {
	f := newFixture()
	f.create(t)

	res, err := f.escrow.CreateProjectPayment(context.Background(), CreatePaymentInput{
		BuyerID: f.buyer.ID.Hex(), ProjectID: f.project.ID.Hex(), ClientIP: "85.34.78.112",
	})
	if err != nil || res.ErrorCode != CodeConflict {
		t.Fatalf("second purchase: %+v %v", res, err)
	}
	if len(f.paytr.created) != 1 {
		t.Fatalf("gateway called %d times", len(f.paytr.created))
	}
}

func TestCreateProjectPaymentProviderFailure(t *testing.T) {
	f := newFixture()
	f.paytr.createRes = gateway.PaymentResult{Provider: gateway.PayTR, Status: gateway.StatusFailure, ErrorCode: gateway.CodeNetworkError, ErrorMessage: "timeout"}

	res, err := f.escrow.CreateProjectPayment(context.Background(), CreatePaymentInput{
		BuyerID: f.buyer.ID.Hex(), ProjectID: f.project.ID.Hex(), ClientIP: "85.34.78.112",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Success || res.ErrorCode != gateway.CodeNetworkError {
		t.Fatalf("result %+v", res)
	}
	e := f.row(t, res.EscrowID)
	if e.Status != models.EscrowFailed || e.Open || !strings.Contains(e.FailureReason, "timeout") {
		t.Fatalf("escrow %+v", e)
	}

	// the failed attempt does not block a retry
	f.paytr.createRes.Success = true
	f.paytr.createRes.ErrorCode = ""
	f.create(t)
}

func TestPaymentHeldThenReleased(t *testing.T) {
	f := newFixture()
	created := f.create(t)

	res := f.paytrCallback(t, created.EscrowID, true)
	if !res.Success || res.Escrow.Status != models.EscrowHeld {
		t.Fatalf("callback %+v", res)
	}
	e := f.row(t, created.EscrowID)
	if e.PaymentID == nil || *e.PaymentID != created.EscrowID || e.HeldAt == nil {
		t.Fatalf("held escrow %+v", e)
	}

	res, err := f.escrow.ReleaseEscrow(context.Background(), created.EscrowID, f.sellerActor())
	if err != nil || res.ErrorCode != CodeForbidden {
		t.Fatalf("seller release: %+v %v", res, err)
	}

	res, err = f.escrow.ReleaseEscrow(context.Background(), created.EscrowID, f.buyerActor())
	if err != nil || !res.Success || res.Escrow.Status != models.EscrowReleased {
		t.Fatalf("release: %+v %v", res, err)
	}
	if res.Escrow.ReleasedAt == nil || res.Escrow.Open {
		t.Fatalf("released escrow %+v", res.Escrow)
	}

	res, err = f.escrow.ReleaseEscrow(context.Background(), created.EscrowID, f.buyerActor())
	if err != nil || res.Success || res.ErrorCode != CodeInvalidState {
		t.Fatalf("second release: %+v %v", res, err)
	}

	got := f.notes.statuses(t, 2)
	if len(got) != 2 || got[0] != models.EscrowHeld || got[1] != models.EscrowReleased {
		t.Fatalf("notifications %v", got)
	}
}

func TestFailedPaymentCannotBeReleased(t *testing.T) {
	f := newFixture()
	created := f.create(t)

	res := f.paytrCallback(t, created.EscrowID, false)
	if res.Success || res.ErrorCode != gateway.CodePaymentFailed || res.Escrow.Status != models.EscrowFailed {
		t.Fatalf("failed callback %+v", res)
	}

	res, err := f.escrow.ReleaseEscrow(context.Background(), created.EscrowID, f.admin)
	if err != nil || res.ErrorCode != CodeInvalidState {
		t.Fatalf("release failed escrow: %+v %v", res, err)
	}
	if f.row(t, created.EscrowID).Status != models.EscrowFailed {
		t.Fatal("failed escrow changed")
	}
}

func TestDuplicateCallbackIsIdempotent(t *testing.T) {
	f := newFixture()
	created := f.create(t)

	f.paytrCallback(t, created.EscrowID, true)
	res := f.paytrCallback(t, created.EscrowID, true)
	if !res.Success || !res.Idempotent || res.Escrow.Status != models.EscrowHeld {
		t.Fatalf("duplicate %+v", res)
	}

	// a late failure report does not undo the held payment
	res = f.paytrCallback(t, created.EscrowID, false)
	if !res.Idempotent || f.row(t, created.EscrowID).Status != models.EscrowHeld {
		t.Fatalf("late failure %+v", res)
	}

	if got := f.notes.statuses(t, 1); len(got) != 1 {
		t.Fatalf("notifications %v", got)
	}
}

func TestCallbackNotDefinitiveLeavesPending(t *testing.T) {
	f := newFixture()
	created := f.create(t)

	f.paytr.callbackRes = gateway.PaymentResult{Provider: gateway.PayTR, OrderID: created.EscrowID, ErrorCode: gateway.CodeInvalidSignature}
	res, err := f.escrow.HandleCallback(context.Background(), gateway.PayTR, url.Values{}, "")
	if err != nil || res.Success || res.ErrorCode != gateway.CodeInvalidSignature {
		t.Fatalf("tampered callback %+v %v", res, err)
	}
	if f.row(t, created.EscrowID).Status != models.EscrowPending {
		t.Fatal("tampered callback changed the escrow")
	}
}

func TestCallbackAmountMismatch(t *testing.T) {
	f := newFixture()
	created := f.create(t)

	paid := models.MustMoney("1.00")
	f.paytr.callbackRes = gateway.PaymentResult{Success: true, Provider: gateway.PayTR, OrderID: created.EscrowID, PaymentID: created.EscrowID, Amount: &paid}
	res, err := f.escrow.HandleCallback(context.Background(), gateway.PayTR, url.Values{}, "")
	if err != nil || res.Success || res.ErrorCode != CodeAmountMismatch {
		t.Fatalf("short payment %+v %v", res, err)
	}
	if f.row(t, created.EscrowID).Status != models.EscrowFailed {
		t.Fatal("short payment was held")
	}
}

func TestCallbackFromOtherProvider(t *testing.T) {
	f := newFixture()
	created := f.create(t)

	f.iyzico.callbackRes = gateway.PaymentResult{Success: true, Provider: gateway.Iyzico, OrderID: created.EscrowID}
	res, err := f.escrow.HandleCallback(context.Background(), gateway.Iyzico, url.Values{}, created.EscrowID)
	if err != nil || res.ErrorCode != CodeInvalidRequest {
		t.Fatalf("cross provider callback %+v %v", res, err)
	}
	if f.row(t, created.EscrowID).Status != models.EscrowPending {
		t.Fatal("cross provider callback changed the escrow")
	}
}

func TestIyzicoCallbackHintMismatch(t *testing.T) {
	f := newFixture()
	f.resolver.active = gateway.Iyzico
	created := f.create(t)

	f.iyzico.callbackRes = gateway.PaymentResult{Success: true, Provider: gateway.Iyzico, OrderID: primitive.NewObjectID().Hex()}
	res, err := f.escrow.HandleCallback(context.Background(), gateway.Iyzico, url.Values{"token": {"t"}}, created.EscrowID)
	if err != nil || res.ErrorCode != CodeInvalidRequest {
		t.Fatalf("mismatched token %+v %v", res, err)
	}
}

func TestDisputeThenRefund(t *testing.T) {
	f := newFixture()
	created := f.create(t)
	f.paytrCallback(t, created.EscrowID, true)
	ctx := context.Background()

	res, err := f.escrow.OpenDispute(ctx, created.EscrowID, f.buyerActor(), "  ")
	if err != nil || res.ErrorCode != CodeInvalidRequest {
		t.Fatalf("empty reason %+v %v", res, err)
	}
	outsider := models.Actor{ID: primitive.NewObjectID().Hex(), Role: models.RoleUser}
	res, err = f.escrow.OpenDispute(ctx, created.EscrowID, outsider, "files missing")
	if err != nil || res.ErrorCode != CodeForbidden {
		t.Fatalf("outsider dispute %+v %v", res, err)
	}

	res, err = f.escrow.OpenDispute(ctx, created.EscrowID, f.buyerActor(), "files missing")
	if err != nil || !res.Success || res.Escrow.Status != models.EscrowDisputed {
		t.Fatalf("dispute %+v %v", res, err)
	}
	if res.Escrow.DisputedBy == nil || *res.Escrow.DisputedBy != f.buyer.ID || res.Escrow.DisputeReason != "files missing" {
		t.Fatalf("dispute fields %+v", res.Escrow)
	}

	res, err = f.escrow.ReleaseEscrow(ctx, created.EscrowID, f.buyerActor())
	if err != nil || res.ErrorCode != CodeInvalidState {
		t.Fatalf("release disputed %+v %v", res, err)
	}

	res, err = f.escrow.RefundPayment(ctx, created.EscrowID, f.buyerActor(), "10.0.0.1")
	if err != nil || res.ErrorCode != CodeForbidden {
		t.Fatalf("buyer refund %+v %v", res, err)
	}

	// provider refusal keeps the dispute open
	f.paytr.refundRes = gateway.RefundResult{Status: gateway.StatusFailure, ErrorCode: gateway.CodeProviderError, ErrorMessage: "insufficient balance"}
	res, err = f.escrow.RefundPayment(ctx, created.EscrowID, f.admin, "10.0.0.1")
	if err != nil || res.Success || res.ErrorCode != gateway.CodeProviderError {
		t.Fatalf("refused refund %+v %v", res, err)
	}
	if f.row(t, created.EscrowID).Status != models.EscrowDisputed {
		t.Fatal("refused refund changed status")
	}

	f.paytr.refundRes = gateway.RefundResult{Success: true, RefundID: "refund-1", Status: gateway.StatusSuccess}
	res, err = f.escrow.RefundPayment(ctx, created.EscrowID, f.admin, "10.0.0.1")
	if err != nil || !res.Success || res.Escrow.Status != models.EscrowRefunded {
		t.Fatalf("refund %+v %v", res, err)
	}
	if res.Escrow.RefundID == nil || *res.Escrow.RefundID != "refund-1" || res.Escrow.ResolvedAt == nil {
		t.Fatalf("refunded escrow %+v", res.Escrow)
	}

	last := f.paytr.refunds[len(f.paytr.refunds)-1]
	if last.OrderID != created.EscrowID || last.Amount.Format() != "1000.00" {
		t.Fatalf("refund request %+v", last)
	}

	res, err = f.escrow.RefundPayment(ctx, created.EscrowID, f.admin, "10.0.0.1")
	if err != nil || res.ErrorCode != CodeInvalidState {
		t.Fatalf("second refund %+v %v", res, err)
	}
}

func TestRefundBlocksConcurrentTransitions(t *testing.T) {
	f := newFixture()
	created := f.create(t)
	f.paytrCallback(t, created.EscrowID, true)
	ctx := context.Background()

	var during []Result
	f.paytr.onRefund = func() {
		f.paytr.onRefund = nil
		release, _ := f.escrow.ReleaseEscrow(ctx, created.EscrowID, f.buyerActor())
		dispute, _ := f.escrow.OpenDispute(ctx, created.EscrowID, f.sellerActor(), "buyer unreachable")
		again, _ := f.escrow.RefundPayment(ctx, created.EscrowID, f.admin, "10.0.0.1")
		during = append(during, release, dispute, again)
	}

	res, err := f.escrow.RefundPayment(ctx, created.EscrowID, f.admin, "10.0.0.1")
	if err != nil || !res.Success || res.Escrow.Status != models.EscrowRefunded {
		t.Fatalf("refund %+v %v", res, err)
	}
	for i, r := range during {
		if r.Success || r.ErrorCode != CodeInvalidState {
			t.Fatalf("call %d during refund: %+v", i, r)
		}
	}
	if len(f.paytr.refunds) != 1 {
		t.Fatalf("provider refunded %d times", len(f.paytr.refunds))
	}
	e := f.row(t, created.EscrowID)
	if e.Status != models.EscrowRefunded || e.ReleasedAt != nil || e.RefundPendingAt != nil {
		t.Fatalf("escrow %+v", e)
	}

	got := f.notes.statuses(t, 2)
	if len(got) != 2 {
		t.Fatalf("notifications %v", got)
	}
	for _, status := range got {
		if status != models.EscrowHeld && status != models.EscrowRefunded {
			t.Fatalf("notifications %v", got)
		}
	}
}

func TestRefusedRefundReleasesClaim(t *testing.T) {
	f := newFixture()
	created := f.create(t)
	f.paytrCallback(t, created.EscrowID, true)
	ctx := context.Background()

	f.paytr.refundRes = gateway.RefundResult{Status: gateway.StatusFailure, ErrorCode: gateway.CodeNetworkError, ErrorMessage: "timeout"}
	res, err := f.escrow.RefundPayment(ctx, created.EscrowID, f.admin, "10.0.0.1")
	if err != nil || res.Success {
		t.Fatalf("refund %+v %v", res, err)
	}
	if e := f.row(t, created.EscrowID); e.Status != models.EscrowHeld || e.RefundPendingAt != nil {
		t.Fatalf("escrow after refused refund %+v", e)
	}

	res, err = f.escrow.ReleaseEscrow(ctx, created.EscrowID, f.buyerActor())
	if err != nil || !res.Success {
		t.Fatalf("release after refused refund %+v %v", res, err)
	}
}

func TestStaleRefundClaimExpires(t *testing.T) {
	f := newFixture()
	created := f.create(t)
	f.paytrCallback(t, created.EscrowID, true)

	e := f.row(t, created.EscrowID)
	abandoned := time.Now().UTC().Add(-models.RefundClaimTTL - time.Minute)
	e.RefundPendingAt = &abandoned
	f.store.rows[e.ID] = e

	res, err := f.escrow.ReleaseEscrow(context.Background(), created.EscrowID, f.buyerActor())
	if err != nil || !res.Success {
		t.Fatalf("release with abandoned claim %+v %v", res, err)
	}

	live := time.Now().UTC()
	other := newFixture()
	created = other.create(t)
	other.paytrCallback(t, created.EscrowID, true)
	e = other.row(t, created.EscrowID)
	e.RefundPendingAt = &live
	other.store.rows[e.ID] = e

	res, err = other.escrow.ReleaseEscrow(context.Background(), created.EscrowID, other.buyerActor())
	if err != nil || res.ErrorCode != CodeInvalidState {
		t.Fatalf("release with live claim %+v %v", res, err)
	}
}

func TestRefundUsesEscrowGateway(t *testing.T) {
	f := newFixture()
	created := f.create(t)
	f.paytrCallback(t, created.EscrowID, true)

	// switching the active gateway does not move existing escrows
	f.resolver.active = gateway.Iyzico
	res, err := f.escrow.RefundPayment(context.Background(), created.EscrowID, f.admin, "10.0.0.1")
	if err != nil || !res.Success {
		t.Fatalf("refund %+v %v", res, err)
	}
	if len(f.paytr.refunds) != 1 || len(f.iyzico.refunds) != 0 {
		t.Fatalf("refunds paytr=%d iyzico=%d", len(f.paytr.refunds), len(f.iyzico.refunds))
	}
}

func TestResolveDispute(t *testing.T) {
	f := newFixture()
	created := f.create(t)
	f.paytrCallback(t, created.EscrowID, true)
	ctx := context.Background()

	res, err := f.escrow.ResolveDispute(ctx, created.EscrowID, f.admin, OutcomeRelease, "")
	if err != nil || res.ErrorCode != CodeInvalidState {
		t.Fatalf("resolve held %+v %v", res, err)
	}

	if res, err := f.escrow.OpenDispute(ctx, created.EscrowID, f.sellerActor(), "buyer unreachable"); err != nil || !res.Success {
		t.Fatalf("dispute %+v %v", res, err)
	}

	res, err = f.escrow.ResolveDispute(ctx, created.EscrowID, f.sellerActor(), OutcomeRelease, "")
	if err != nil || res.ErrorCode != CodeForbidden {
		t.Fatalf("seller resolve %+v %v", res, err)
	}
	res, err = f.escrow.ResolveDispute(ctx, created.EscrowID, f.admin, "split", "")
	if err != nil || res.ErrorCode != CodeInvalidRequest {
		t.Fatalf("bad outcome %+v %v", res, err)
	}

	res, err = f.escrow.ResolveDispute(ctx, created.EscrowID, f.admin, OutcomeRelease, "")
	if err != nil || !res.Success || res.Escrow.Status != models.EscrowReleased {
		t.Fatalf("resolve release %+v %v", res, err)
	}
	if res.Escrow.ResolvedAt == nil || res.Escrow.ReleasedAt == nil {
		t.Fatalf("resolved escrow %+v", res.Escrow)
	}
}

func TestGetEscrow(t *testing.T) {
	f := newFixture()
	created := f.create(t)
	ctx := context.Background()

	for _, actor := range []models.Actor{f.buyerActor(), f.sellerActor(), f.admin} {
		if res, err := f.escrow.GetEscrow(ctx, created.EscrowID, actor); err != nil || !res.Success {
			t.Fatalf("get as %+v: %+v %v", actor, res, err)
		}
	}
	outsider := models.Actor{ID: primitive.NewObjectID().Hex(), Role: models.RoleUser}
	if res, _ := f.escrow.GetEscrow(ctx, created.EscrowID, outsider); res.ErrorCode != CodeForbidden {
		t.Fatalf("outsider get %+v", res)
	}
	if res, _ := f.escrow.GetEscrow(ctx, primitive.NewObjectID().Hex(), f.admin); res.ErrorCode != CodeNotFound {
		t.Fatalf("missing escrow %+v", res)
	}
	if res, _ := f.escrow.GetEscrow(ctx, "not-an-id", f.admin); res.ErrorCode != CodeInvalidRequest {
		t.Fatalf("bad id %+v", res)
	}
}

func TestConcurrentCallbacksApplyOnce(t *testing.T) {
	f := newFixture()
	created := f.create(t)
	amount := models.MustMoney("1000")
	f.paytr.callbackRes = gateway.PaymentResult{Success: true, Provider: gateway.PayTR, OrderID: created.EscrowID, PaymentID: created.EscrowID, Amount: &amount}

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = f.escrow.HandleCallback(context.Background(), gateway.PayTR, url.Values{}, "")
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, r := range results {
		if !r.Success {
			t.Fatalf("callback result %+v", r)
		}
		if !r.Idempotent {
			applied++
		}
	}
	if applied != 1 {
		t.Fatalf("%d deliveries applied", applied)
	}
	if got := f.notes.statuses(t, 1); len(got) != 1 {
		t.Fatalf("notifications %v", got)
	}
}
