package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/shopcore/api/middleware"
	internalpayments "github.com/angelmondragon/shopcore/internal/payments"
	"github.com/angelmondragon/shopcore/pkg/auth"
	"github.com/angelmondragon/shopcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
)

type stubPayments struct {
	initiate *internalpayments.InitiateResult
	confirm  *internalpayments.ApplyOutcome
	err      error
	gateway  enums.Gateway
	orderID  uuid.UUID
}

func (s *stubPayments) InitiatePayment(_ context.Context, _ auth.Actor, orderID uuid.UUID, gateway enums.Gateway) (*internalpayments.InitiateResult, error) {
	s.orderID = orderID
	s.gateway = gateway
	return s.initiate, s.err
}

func (s *stubPayments) ConfirmPayment(context.Context, auth.Actor, uuid.UUID) (*internalpayments.ApplyOutcome, error) {
	return s.confirm, s.err
}

func (s *stubPayments) PollStale(context.Context, time.Duration, int) (int, error) {
	return 0, nil
}

func newRouter(svc internalpayments.Service) http.Handler {
	router := chi.NewRouter()
	router.Post("/api/v1/orders/{orderId}/payments", Initiate(svc, nil))
	router.Post("/api/v1/payments/{paymentId}/confirm", Confirm(svc, nil))
	return router
}

func post(router http.Handler, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req = req.WithContext(middleware.WithActor(req.Context(), auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleCustomer}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestInitiateStatusReflectsReuse(t *testing.T) {
	orderID := uuid.New()
	svc := &stubPayments{initiate: &internalpayments.InitiateResult{PaymentID: uuid.New(), OrderID: orderID, Gateway: enums.GatewayStripe}}

	rec := post(newRouter(svc), "/api/v1/orders/"+orderID.String()+"/payments", `{"gateway":"Stripe"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.gateway != enums.GatewayStripe || svc.orderID != orderID {
		t.Fatalf("unexpected forwarding gateway=%s order=%s", svc.gateway, svc.orderID)
	}

	svc.initiate.Reused = true
	rec = post(newRouter(svc), "/api/v1/orders/"+orderID.String()+"/payments", `{"gateway":"stripe"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for reused attempt got %d", rec.Code)
	}
}

func TestInitiateRejectsUnknownGateway(t *testing.T) {
	svc := &stubPayments{}
	rec := post(newRouter(svc), "/api/v1/orders/"+uuid.NewString()+"/payments", `{"gateway":"razorpay"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if svc.orderID != uuid.Nil {
		t.Fatalf("service should not be called")
	}
}

func TestInitiateSurfacesLockContention(t *testing.T) {
	svc := &stubPayments{err: pkgerrors.New(pkgerrors.CodeConflict, "payment initiation in progress")}
	rec := post(newRouter(svc), "/api/v1/orders/"+uuid.NewString()+"/payments", `{"gateway":"square"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
}

func TestConfirmReturnsOutcome(t *testing.T) {
	paymentID := uuid.New()
	svc := &stubPayments{confirm: &internalpayments.ApplyOutcome{
		PaymentID:          paymentID,
		PaymentStatus:      enums.PaymentStatusSuccess,
		OrderPaymentStatus: enums.OrderPaymentPaid,
		Changed:            true,
	}}
	rec := post(newRouter(svc), "/api/v1/payments/"+paymentID.String()+"/confirm", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"order_payment_status":"paid"`) {
		t.Fatalf("expected outcome in body got %s", rec.Body.String())
	}
}
