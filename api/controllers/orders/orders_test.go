package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/shopcore/api/middleware"
	"github.com/angelmondragon/shopcore/internal/checkout"
	"github.com/angelmondragon/shopcore/pkg/auth"
	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
)

type stubCheckout struct {
	result *checkout.PlaceOrderResult
	err    error
	input  checkout.PlaceOrderInput
	actor  auth.Actor
}

func (s *stubCheckout) PlaceOrder(_ context.Context, actor auth.Actor, input checkout.PlaceOrderInput) (*checkout.PlaceOrderResult, error) {
	s.actor = actor
	s.input = input
	return s.result, s.err
}

type stubOrders struct {
	order  *models.Order
	err    error
	reason string
}

func (s *stubOrders) Get(context.Context, auth.Actor, uuid.UUID) (*models.Order, error) {
	return s.order, s.err
}

func (s *stubOrders) Cancel(_ context.Context, _ auth.Actor, _ uuid.UUID, reason string) (*models.Order, error) {
	s.reason = reason
	return s.order, s.err
}

func (s *stubOrders) AutoCancel(context.Context, uuid.UUID) error { return nil }

func (s *stubOrders) SweepExpired(context.Context, time.Duration, int) (int, error) { return 0, nil }

func (s *stubOrders) HandleAutoCancelJob(context.Context, []byte) error { return nil }

func customerRequest(method, target, body string, actor auth.Actor) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(middleware.WithActor(req.Context(), actor))
}

func customer() auth.Actor {
	return auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleCustomer}
}

func TestPlaceReturnsCreatedOrder(t *testing.T) {
	orderID := uuid.New()
	svc := &stubCheckout{result: &checkout.PlaceOrderResult{
		OrderID:         orderID,
		OrderNumber:     "SC-0001",
		GrandTotalCents: 2599,
		Currency:        "USD",
		OrderStatus:     enums.OrderStatusCreated,
		PaymentStatus:   enums.OrderPaymentPending,
	}}
	actor := customer()
	addressID := uuid.New()

	req := customerRequest(http.MethodPost, "/api/v1/orders", `{"shipping_address_id":"`+addressID.String()+`","payment_method":"stripe"}`, actor)
	req = req.WithContext(middleware.WithSessionID(req.Context(), "guest-9"))
	rec := httptest.NewRecorder()
	Place(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.actor.UserID != actor.UserID {
		t.Fatalf("expected actor forwarded")
	}
	if svc.input.ShippingAddressID != addressID || svc.input.SessionID != "guest-9" {
		t.Fatalf("unexpected input %+v", svc.input)
	}

	var body struct {
		Data checkout.PlaceOrderResult `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.OrderID != orderID || body.Data.GrandTotalCents != 2599 {
		t.Fatalf("unexpected payload %+v", body.Data)
	}
}

func TestPlaceValidatesPayload(t *testing.T) {
	svc := &stubCheckout{}
	rec := httptest.NewRecorder()
	Place(svc, nil).ServeHTTP(rec, customerRequest(http.MethodPost, "/api/v1/orders", `{}`, customer()))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}

	anonymous := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	Place(svc, nil).ServeHTTP(rec, anonymous)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestPlaceMapsStockConflict(t *testing.T) {
	svc := &stubCheckout{err: pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock")}
	rec := httptest.NewRecorder()
	Place(svc, nil).ServeHTTP(rec, customerRequest(http.MethodPost, "/api/v1/orders", `{"shipping_address_id":"`+uuid.NewString()+`"}`, customer()))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "insufficient stock") {
		t.Fatalf("expected message in body got %s", rec.Body.String())
	}
}

func TestCancelForwardsReason(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrders{order: &models.Order{
		ID:            orderID,
		OrderStatus:   enums.OrderStatusCancelled,
		PaymentStatus: enums.OrderPaymentFailed,
		Items:         []models.OrderItem{{ID: uuid.New(), Quantity: 2, Status: enums.OrderItemStatusActive}},
	}}

	router := chi.NewRouter()
	router.Post("/api/v1/orders/{orderId}/cancel", Cancel(svc, nil))
	req := customerRequest(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/cancel", `{"reason":"changed mind"}`, customer())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.reason != "changed mind" {
		t.Fatalf("expected reason forwarded got %q", svc.reason)
	}
	if !strings.Contains(rec.Body.String(), `"order_status":"cancelled"`) {
		t.Fatalf("expected cancelled status in body got %s", rec.Body.String())
	}
}

func TestDetailRejectsMalformedID(t *testing.T) {
	router := chi.NewRouter()
	router.Get("/api/v1/orders/{orderId}", Detail(&stubOrders{}, nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, customerRequest(http.MethodGet, "/api/v1/orders/not-a-uuid", "", customer()))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestDetailHidesForeignOrders(t *testing.T) {
	router := chi.NewRouter()
	router.Get("/api/v1/orders/{orderId}", Detail(&stubOrders{err: pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another user")}, nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, customerRequest(http.MethodGet, "/api/v1/orders/"+uuid.NewString(), "", customer()))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}
