package square

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
	"github.com/angelmondragon/shopcore/pkg/logger"
)

type stubOrders struct {
	createReq *sq.CreateOrderRequest
	createErr error
	order     *sq.Order
}

func (s *stubOrders) Create(ctx context.Context, req *sq.CreateOrderRequest, opts ...sqoption.RequestOption) (*sq.CreateOrderResponse, error) {
	s.createReq = req
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &sq.CreateOrderResponse{Order: s.order}, nil
}

func (s *stubOrders) Get(ctx context.Context, req *sq.GetOrdersRequest, opts ...sqoption.RequestOption) (*sq.GetOrderResponse, error) {
	return &sq.GetOrderResponse{Order: s.order}, nil
}

func TestNewClientValidatesCredentials(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test"})
	if _, err := NewClient(context.Background(), Options{LocationID: "L1"}, logg); !errors.Is(err, errAccessTokenRequired) {
		t.Fatalf("expected access token error, got %v", err)
	}
	if _, err := NewClient(context.Background(), Options{AccessToken: "tok"}, logg); !errors.Is(err, errLocationRequired) {
		t.Fatalf("expected location error, got %v", err)
	}
	if _, err := NewClient(context.Background(), Options{AccessToken: "tok", LocationID: "L1", Environment: "staging"}, logg); !errors.Is(err, errInvalidSquareEnv) {
		t.Fatalf("expected env error, got %v", err)
	}
	client, err := NewClient(context.Background(), Options{AccessToken: "tok", LocationID: "L1"}, logg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Environment() != sandboxEnv {
		t.Fatalf("expected sandbox default, got %s", client.Environment())
	}
}

func TestCreateOrderBuildsSingleLineRequest(t *testing.T) {
	id := "sq-order-1"
	stub := &stubOrders{order: &sq.Order{ID: &id}}
	c := &Client{orders: stub, locationID: "L1"}

	order, err := c.CreateOrder(context.Background(), OrderCreateParams{
		ReferenceID:    "ORD-20261017-ABCDEF12",
		AmountCents:    2599,
		Currency:       "usd",
		IdempotencyKey: "order-1-square-1",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if stringValue(order.GetID()) != id {
		t.Fatalf("unexpected order id %q", stringValue(order.GetID()))
	}
	req := stub.createReq
	if req.Order.LocationID != "L1" || stringValue(req.IdempotencyKey) != "order-1-square-1" {
		t.Fatalf("unexpected request %+v", req)
	}
	line := req.Order.LineItems[0]
	if *line.BasePriceMoney.Amount != 2599 || string(*line.BasePriceMoney.Currency) != "USD" {
		t.Fatalf("unexpected money %+v", line.BasePriceMoney)
	}
}

func TestCallLogsRedactedFields(t *testing.T) {
	var buf bytes.Buffer
	id := "sq-order-2"
	c := &Client{
		orders:     &stubOrders{order: &sq.Order{ID: &id}},
		locationID: "L1",
		logg:       logger.New(logger.Options{ServiceName: "test", Output: &buf}),
	}

	if _, err := c.CreateOrder(context.Background(), OrderCreateParams{ReferenceID: "ref", AmountCents: 100, IdempotencyKey: "idem"}); err != nil {
		t.Fatalf("create order: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "square create order") || !strings.Contains(out, "duration_ms") {
		t.Fatalf("missing call log: %s", out)
	}
	if !strings.Contains(out, `"reference_id":"ref"`) {
		t.Fatalf("expected reference id field: %s", out)
	}
}

func TestCallMapsFailures(t *testing.T) {
	c := &Client{orders: &stubOrders{createErr: sqcore.NewAPIError(http.StatusTooManyRequests, errors.New(`{"errors":[]}`))}}
	_, err := c.CreateOrder(context.Background(), OrderCreateParams{ReferenceID: "ref", AmountCents: 1})
	if got := pkgerrors.As(err); got == nil || got.Code() != pkgerrors.CodeRateLimit {
		t.Fatalf("expected rate limit, got %v", err)
	}
}

func TestRedact(t *testing.T) {
	cases := map[string]bool{
		"payment_token":  true,
		"customer_email": true,
		"CardNonce":      true,
		"status":         false,
		"amount":         false,
	}
	for key, hidden := range cases {
		if got := redact(key, "v"); (got == redacted) != hidden {
			t.Fatalf("redact(%q) = %v", key, got)
		}
	}
}

func TestDomainCodeForStatus(t *testing.T) {
	tests := []struct {
		status int
		code   pkgerrors.Code
	}{
		{http.StatusUnauthorized, pkgerrors.CodeUnauthorized},
		{http.StatusNotFound, pkgerrors.CodeNotFound},
		{http.StatusUnprocessableEntity, pkgerrors.CodeStateConflict},
		{http.StatusGone, pkgerrors.CodeValidation},
		{http.StatusBadGateway, pkgerrors.CodeGateway},
	}
	for _, tt := range tests {
		if got := domainCodeForStatus(tt.status); got != tt.code {
			t.Fatalf("status %d expected %s got %s", tt.status, tt.code, got)
		}
	}
}

func TestMapSquareError(t *testing.T) {
	table := []struct {
		name     string
		err      error
		wantCode pkgerrors.Code
	}{
		{
			name:     "authentication error",
			err:      sqcore.NewAPIError(http.StatusBadRequest, errors.New(`{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`)),
			wantCode: pkgerrors.CodeUnauthorized,
		},
		{
			name:     "idempotency key reused",
			err:      sqcore.NewAPIError(http.StatusBadRequest, errors.New(`{"errors":[{"category":"API_ERROR","code":"IDEMPOTENCY_KEY_REUSED"}]}`)),
			wantCode: pkgerrors.CodeIdempotency,
		},
		{
			name:     "unparseable body falls back to status",
			err:      sqcore.NewAPIError(http.StatusNotFound, errors.New("<html>")),
			wantCode: pkgerrors.CodeNotFound,
		},
		{
			name:     "transport error",
			err:      errors.New("dial tcp"),
			wantCode: pkgerrors.CodeGateway,
		},
	}
	for _, tt := range table {
		t.Run(tt.name, func(t *testing.T) {
			typed := pkgerrors.As(mapSquareError(tt.err, "operation"))
			if typed == nil || typed.Code() != tt.wantCode {
				t.Fatalf("expected %s, got %v", tt.wantCode, typed)
			}
		})
	}
}

func TestResolveEnv(t *testing.T) {
	env, url, err := resolveEnv(" Production ")
	if err != nil || env != productionEnv || url != sq.Environments.Production {
		t.Fatalf("unexpected production resolution %q %q %v", env, url, err)
	}
	if _, _, err := resolveEnv("staging"); !errors.Is(err, errInvalidSquareEnv) {
		t.Fatalf("expected env error, got %v", err)
	}
}
