package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/shopcore/pkg/config"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
	"github.com/angelmondragon/shopcore/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
	redacted      = "[REDACTED]"
)

var (
	errAccessTokenRequired = errors.New("square access token is required")
	errLocationRequired    = errors.New("square location id is required")
	errInvalidSquareEnv    = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired      = errors.New("square logger is required")
)

// sensitiveKeyParts mark log fields whose values never leave the process.
var sensitiveKeyParts = []string{"card", "nonce", "token", "cvv", "cvc", "secret", "email", "phone"}

// statusCodes maps Square HTTP statuses onto domain error codes.
var statusCodes = map[int]pkgerrors.Code{
	http.StatusBadRequest:          pkgerrors.CodeValidation,
	http.StatusUnauthorized:        pkgerrors.CodeUnauthorized,
	http.StatusForbidden:           pkgerrors.CodeForbidden,
	http.StatusNotFound:            pkgerrors.CodeNotFound,
	http.StatusConflict:            pkgerrors.CodeConflict,
	http.StatusUnprocessableEntity: pkgerrors.CodeStateConflict,
	http.StatusTooManyRequests:     pkgerrors.CodeRateLimit,
}

// Options carries the credentials for one Square seller account.
type Options struct {
	AccessToken string
	LocationID  string
	Environment string
}

// OptionsFromConfig maps the env-level Square settings.
func OptionsFromConfig(cfg config.SquareConfig) Options {
	return Options{
		AccessToken: cfg.AccessToken,
		LocationID:  cfg.LocationID,
		Environment: cfg.Env,
	}
}

type ordersAPI interface {
	Create(ctx context.Context, request *sq.CreateOrderRequest, opts ...sqoption.RequestOption) (*sq.CreateOrderResponse, error)
	Get(ctx context.Context, request *sq.GetOrdersRequest, opts ...sqoption.RequestOption) (*sq.GetOrderResponse, error)
}

// Client wraps the Square Orders API for a single location.
type Client struct {
	orders      ordersAPI
	locationID  string
	environment string
	logg        *logger.Logger
}

func NewClient(_ context.Context, opts Options, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, baseURL, err := resolveEnv(opts.Environment)
	if err != nil {
		return nil, err
	}
	token := strings.TrimSpace(opts.AccessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}
	location := strings.TrimSpace(opts.LocationID)
	if location == "" {
		return nil, errLocationRequired
	}

	sdk := sqclient.NewClient(sqoption.WithBaseURL(baseURL), sqoption.WithToken(token))
	return &Client{orders: sdk.Orders, locationID: location, environment: env, logg: logg}, nil
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// CreateOrder opens a Square order for the given amount. Reusing the
// idempotency key replays the original response.
func (c *Client) CreateOrder(ctx context.Context, params OrderCreateParams) (*sq.Order, error) {
	fields := map[string]any{
		"location_id":     c.locationID,
		"reference_id":    params.ReferenceID,
		"amount":          params.AmountCents,
		"idempotency_key": params.IdempotencyKey,
	}
	resp, err := call(ctx, c, "create order", fields, func() (*sq.CreateOrderResponse, error) {
		return c.orders.Create(ctx, params.toSquareRequest(c.locationID))
	})
	if err != nil {
		return nil, err
	}
	return resp.GetOrder(), nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*sq.Order, error) {
	resp, err := call(ctx, c, "get order", map[string]any{"order_id": orderID}, func() (*sq.GetOrderResponse, error) {
		return c.orders.Get(ctx, &sq.GetOrdersRequest{OrderID: orderID})
	})
	if err != nil {
		return nil, err
	}
	return resp.GetOrder(), nil
}

// call runs one SDK request with redacted structured logging and maps
// failures into domain errors.
func call[T any](ctx context.Context, c *Client, op string, fields map[string]any, do func() (T, error)) (T, error) {
	started := time.Now()
	resp, err := do()

	if c.logg != nil {
		logFields := make(map[string]any, len(fields)+2)
		for k, v := range fields {
			logFields[k] = redact(k, v)
		}
		logFields["operation"] = op
		logFields["duration_ms"] = time.Since(started).Milliseconds()
		lctx := c.logg.WithFields(ctx, logFields)
		if err != nil {
			c.logg.Error(lctx, "square "+op+" failed", err)
		} else {
			c.logg.Info(lctx, "square "+op)
		}
	}

	if err != nil {
		var zero T
		return zero, mapSquareError(err, op)
	}
	return resp, nil
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return redacted
		}
	}
	return value
}

func mapSquareError(err error, op string) error {
	message := fmt.Sprintf("square %s failed", op)
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, message)
	}

	code := domainCodeForStatus(apiErr.StatusCode)
	for _, detail := range squareErrors(apiErr) {
		switch {
		case detail == nil:
			continue
		case detail.Code == sq.ErrorCodeIdempotencyKeyReused:
			return pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, message)
		case detail.Category == sq.ErrorCategoryAuthenticationError:
			return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, message)
		}
	}
	return pkgerrors.Wrap(code, err, message)
}

// squareErrors decodes the errors array Square returns in the response body.
func squareErrors(apiErr *sqcore.APIError) []*sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var body struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(inner.Error())), &body); err != nil {
		return nil
	}
	return body.Errors
}

func domainCodeForStatus(status int) pkgerrors.Code {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	if status >= 400 && status < 500 {
		return pkgerrors.CodeValidation
	}
	return pkgerrors.CodeGateway
}

func resolveEnv(raw string) (env, baseURL string, err error) {
	switch env = strings.ToLower(strings.TrimSpace(raw)); env {
	case "", sandboxEnv:
		return sandboxEnv, sq.Environments.Sandbox, nil
	case productionEnv:
		return productionEnv, sq.Environments.Production, nil
	default:
		return "", "", errInvalidSquareEnv
	}
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
