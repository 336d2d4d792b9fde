package payments

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore/internal/orders"
	dbpkg "github.com/angelmondragon/shopcore/pkg/db"
	"github.com/angelmondragon/shopcore/pkg/db/dbtest"
	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
	"github.com/angelmondragon/shopcore/pkg/outbox"
	"github.com/angelmondragon/shopcore/pkg/redis/redistest"
)

type stubGateway struct {
	mu        sync.Mutex
	name      enums.Gateway
	nextID    func(params CreateOrderParams) string
	status    *StatusResult
	createErr error
	beforeRet func(params CreateOrderParams)
	creates   []CreateOrderParams
	fetches   int
}

func newStubGateway(name enums.Gateway) *stubGateway {
	return &stubGateway{
		name:   name,
		nextID: func(p CreateOrderParams) string { return "gw_" + p.IdempotencyKey },
	}
}

func (g *stubGateway) Name() enums.Gateway { return g.name }

func (g *stubGateway) CreateOrder(ctx context.Context, params CreateOrderParams) (*GatewayOrder, error) {
	g.mu.Lock()
	g.creates = append(g.creates, params)
	g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	if g.beforeRet != nil {
		g.beforeRet(params)
	}
	id := g.nextID(params)
	raw, _ := json.Marshal(map[string]string{"id": id, "client_secret": id + "_secret"})
	return &GatewayOrder{ID: id, Raw: raw}, nil
}

func (g *stubGateway) FetchStatus(ctx context.Context, payment *models.Payment, creds Credentials) (*StatusResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	return g.status, nil
}

func (g *stubGateway) VerifyWebhook(creds Credentials, signature string, body []byte) (*WebhookEvent, error) {
	return nil, invalidSignature(g.name, errors.New("stub gateway has no webhooks"))
}

func (g *stubGateway) createCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.creates)
}

type staticCreds struct{}

func (staticCreds) Resolve(ctx context.Context, gateway enums.Gateway) (Credentials, error) {
	return Credentials{Gateway: gateway, SecretKey: "sk_test_x"}, nil
}

type fixture struct {
	conn       *gorm.DB
	client     *dbpkg.Client
	locks      *redistest.Store
	stripe     *stubGateway
	square     *stubGateway
	payments   Repository
	orders     orders.Repository
	initiator  *Initiator
	reconciler *Reconciler
	svc        Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	f := &fixture{
		conn:     conn,
		client:   dbpkg.NewFromConn(conn, false),
		locks:    redistest.New(),
		stripe:   newStubGateway(enums.GatewayStripe),
		square:   newStubGateway(enums.GatewaySquare),
		payments: NewRepository(conn),
		orders:   orders.NewRepository(conn),
	}
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	registry := NewRegistry(f.stripe, f.square)

	initiator, err := NewInitiator(InitiatorDeps{
		Sessions:    f.client,
		Orders:      f.orders,
		Payments:    f.payments,
		Gateways:    registry,
		Credentials: staticCreds{},
		Locks:       f.locks,
		Outbox:      emitter,
	})
	require.NoError(t, err)
	f.initiator = initiator
	f.reconciler = NewReconciler(f.client, f.payments, f.orders, emitter, nil)

	svc, err := NewService(initiator, f.reconciler, f.payments, f.orders, registry, staticCreds{})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) seedOrder(t *testing.T, userID uuid.UUID) *models.Order {
	t.Helper()
	product := dbtest.SeedProduct(t, f.conn, 10, 2500)
	return dbtest.SeedOrder(t, f.conn, userID, dbtest.OrderLine{Product: product, Quantity: 2})
}

func (f *fixture) seedPayment(t *testing.T, order *models.Order, gateway enums.Gateway, gatewayOrderID string, status enums.PaymentStatus) *models.Payment {
	t.Helper()
	payment := &models.Payment{
		OrderID:        order.ID,
		Gateway:        gateway,
		GatewayOrderID: gatewayOrderID,
		AmountCents:    order.GrandTotalCents,
		Currency:       order.Currency,
		Status:         status,
	}
	require.NoError(t, f.conn.Create(payment).Error)
	return payment
}

func (f *fixture) order(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, f.conn.Where("id = ?", id).Take(&order).Error)
	return &order
}

func (f *fixture) payment(t *testing.T, id uuid.UUID) *models.Payment {
	t.Helper()
	var payment models.Payment
	require.NoError(t, f.conn.Where("id = ?", id).Take(&payment).Error)
	return &payment
}

func (f *fixture) events(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}
