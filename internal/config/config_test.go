package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "orders", cfg.OrdersTable)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 48*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, "RUB", cfg.Payment.Currency)
	assert.Equal(t, 10*time.Second, cfg.Payment.Timeout)
	assert.True(t, cfg.WebhookVerifyWithGateway)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RUN_LOCAL", "true")
	t.Setenv("IDEMPOTENCY_TTL", "1h")
	t.Setenv("PAYMENT_SHOP_ID", "shop")
	t.Setenv("PAYMENT_VAT_CODE", "4")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.RunLocal)
	assert.Equal(t, time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, "shop", cfg.Payment.ShopID)
	assert.Equal(t, 4, cfg.Payment.VATCode)
	assert.Equal(t, "k1:9092,k2:9092", cfg.KafkaBrokers)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("PAYMENT_TIMEOUT", "soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateAPI(t *testing.T) {
	cfg := &Config{}
	assert.ErrorContains(t, cfg.ValidateAPI(), "JWT_SECRET")

	cfg.JWTSecret = "s"
	assert.ErrorContains(t, cfg.ValidateAPI(), "PAYMENT_SHOP_ID")

	cfg.Payment.ShopID, cfg.Payment.SecretKey = "shop", "key"
	assert.ErrorContains(t, cfg.ValidateAPI(), "PAYMENT_RETURN_URL")

	cfg.Payment.ReturnURL = "https://shop.example/return"
	assert.NoError(t, cfg.ValidateAPI())
}
