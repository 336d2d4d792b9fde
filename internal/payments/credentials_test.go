package payments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shopcore/pkg/config"
	"github.com/angelmondragon/shopcore/pkg/db/dbtest"
	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
)

func TestCredentialResolverPrefersEnabledSettings(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	resolver := NewCredentialResolver(repo,
		config.StripeConfig{APIKey: "sk_test_env", WebhookSecret: "whsec_env"},
		config.SquareConfig{LocationID: "L-env", NotificationURL: "https://hooks"},
	)
	ctx := context.Background()

	creds, err := resolver.Resolve(ctx, enums.GatewayStripe)
	require.NoError(t, err)
	assert.Equal(t, "sk_test_env", creds.SecretKey)
	assert.Equal(t, "test", creds.Environment)

	_, err = resolver.Resolve(ctx, enums.GatewaySquare)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway))

	location := "L-db"
	require.NoError(t, conn.Create(&models.GatewaySetting{
		Gateway:       enums.GatewaySquare,
		SecretKey:     "sq-token",
		WebhookSecret: "sq-sig",
		LocationID:    &location,
		Enabled:       true,
	}).Error)
	creds, err = resolver.Resolve(ctx, enums.GatewaySquare)
	require.NoError(t, err)
	assert.Equal(t, "sq-token", creds.SecretKey)
	assert.Equal(t, "L-db", creds.LocationID)
	assert.Equal(t, "https://hooks", creds.NotificationURL)
	assert.Equal(t, "sandbox", creds.Environment)

	require.NoError(t, conn.Create(&models.GatewaySetting{
		Gateway:       enums.GatewayStripe,
		SecretKey:     "sk_test_db",
		WebhookSecret: "whsec_db",
		Enabled:       true,
	}).Error)
	require.NoError(t, conn.Model(&models.GatewaySetting{}).Where("gateway = ?", enums.GatewayStripe).Update("enabled", false).Error)
	creds, err = resolver.Resolve(ctx, enums.GatewayStripe)
	require.NoError(t, err)
	assert.Equal(t, "sk_test_env", creds.SecretKey)
}
