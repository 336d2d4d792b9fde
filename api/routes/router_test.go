package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	internalwebhooks "github.com/angelmondragon/shopcore/internal/webhooks"
	"github.com/angelmondragon/shopcore/pkg/auth"
	"github.com/angelmondragon/shopcore/pkg/config"
	"github.com/angelmondragon/shopcore/pkg/enums"
	"github.com/angelmondragon/shopcore/pkg/metrics"
	"github.com/angelmondragon/shopcore/pkg/redis/redistest"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubReceiver struct {
	calls int
}

func (s *stubReceiver) Receive(context.Context, enums.Gateway, string, []byte, string) (*internalwebhooks.Outcome, error) {
	s.calls++
	return &internalwebhooks.Outcome{EventID: "evt_1"}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "shopcore", ExpirationMinutes: 30},
	}
}

func newTestRouter(t *testing.T, receiver *stubReceiver) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.NewWebhookMetrics(reg)
	return NewRouter(Deps{
		Config:      testConfig(),
		DB:          stubPinger{},
		Redis:       stubPinger{},
		Idempotency: redistest.New(),
		Gatherer:    reg,
		Webhooks:    receiver,
	})
}

func token(t *testing.T, role enums.ActorRole) string {
	t.Helper()
	signed, err := auth.MintAccessToken(testConfig().JWT, time.Now(), auth.AccessTokenPayload{UserID: uuid.New(), Role: role})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return signed
}

func do(router http.Handler, method, target, bearer string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(`{}`))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	router := newTestRouter(t, &stubReceiver{})

	if rec := do(router, http.MethodGet, "/health/live", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("live: expected 200 got %d", rec.Code)
	}
	if rec := do(router, http.MethodGet, "/health/ready", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("ready: expected 200 got %d", rec.Code)
	}
	if rec := do(router, http.MethodGet, "/metrics", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200 got %d", rec.Code)
	}
}

func TestOrderRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t, &stubReceiver{})

	if rec := do(router, http.MethodPost, "/api/v1/orders", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
	if rec := do(router, http.MethodGet, "/api/v1/cart/", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("cart without session: expected 401 got %d", rec.Code)
	}
}

func TestPlaceOrderRequiresIdempotencyKey(t *testing.T) {
	router := newTestRouter(t, &stubReceiver{})

	rec := do(router, http.MethodPost, "/api/v1/orders", token(t, enums.ActorRoleCustomer), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Idempotency-Key") {
		t.Fatalf("expected idempotency error got %s", rec.Body.String())
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	router := newTestRouter(t, &stubReceiver{})
	target := "/api/admin/v1/returns/" + uuid.NewString() + "/complete"

	if rec := do(router, http.MethodPost, target, token(t, enums.ActorRoleCustomer), nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}

func TestWebhookRouteSkipsBearerAuth(t *testing.T) {
	receiver := &stubReceiver{}
	router := newTestRouter(t, receiver)

	rec := do(router, http.MethodPost, "/api/v1/webhooks/stripe", "", map[string]string{"Stripe-Signature": "t=1,v1=abc"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if receiver.calls != 1 {
		t.Fatalf("expected receiver called once got %d", receiver.calls)
	}
}
