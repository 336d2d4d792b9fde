package payments

import (
	"context"
	"strings"

	"github.com/angelmondragon/shopcore/pkg/config"
	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
)

type settingsStore interface {
	FindGatewaySetting(ctx context.Context, gateway enums.Gateway) (*models.GatewaySetting, error)
}

// CredentialResolver prefers the admin-managed settings row and falls back to
// environment configuration.
type CredentialResolver struct {
	settings settingsStore
	stripe   config.StripeConfig
	square   config.SquareConfig
}

func NewCredentialResolver(settings settingsStore, stripeCfg config.StripeConfig, squareCfg config.SquareConfig) *CredentialResolver {
	return &CredentialResolver{settings: settings, stripe: stripeCfg, square: squareCfg}
}

func (r *CredentialResolver) Resolve(ctx context.Context, gateway enums.Gateway) (Credentials, error) {
	creds := r.fromEnv(gateway)
	if r.settings != nil {
		row, err := r.settings.FindGatewaySetting(ctx, gateway)
		if err != nil {
			return Credentials{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load gateway settings")
		}
		if row != nil && row.Enabled {
			creds.SecretKey = row.SecretKey
			creds.WebhookSecret = row.WebhookSecret
			if row.LocationID != nil {
				creds.LocationID = *row.LocationID
			}
		}
	}
	if strings.TrimSpace(creds.SecretKey) == "" {
		return Credentials{}, pkgerrors.New(pkgerrors.CodeGateway, "payment gateway not configured").
			WithDetails(map[string]any{"gateway": gateway})
	}
	return creds, nil
}

func (r *CredentialResolver) fromEnv(gateway enums.Gateway) Credentials {
	switch gateway {
	case enums.GatewayStripe:
		return Credentials{
			Gateway:       gateway,
			SecretKey:     r.stripe.APIKey,
			WebhookSecret: r.stripe.WebhookSecret,
			Environment:   r.stripe.Environment(),
		}
	case enums.GatewaySquare:
		env := "sandbox"
		if r.square.IsProduction() {
			env = "production"
		}
		return Credentials{
			Gateway:         gateway,
			SecretKey:       r.square.AccessToken,
			WebhookSecret:   r.square.WebhookSecret,
			LocationID:      r.square.LocationID,
			NotificationURL: r.square.NotificationURL,
			Environment:     env,
		}
	default:
		return Credentials{Gateway: gateway}
	}
}
