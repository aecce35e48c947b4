// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	RunLocal    bool   `envconfig:"RUN_LOCAL" default:"false"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	ServiceName string `envconfig:"SERVICE_NAME" default:"orderflow"`

	AWSRegion           string `envconfig:"AWS_REGION" default:"us-east-1"`
	AWSEndpointOverride string `envconfig:"AWS_ENDPOINT_OVERRIDE"` // localstack / DynamoDB Local

	OrdersTable      string        `envconfig:"ORDERS_TABLE" default:"orders"`
	ProductsTable    string        `envconfig:"PRODUCTS_TABLE" default:"products"`
	CustomersTable   string        `envconfig:"CUSTOMERS_TABLE" default:"customers"`
	SequencesTable   string        `envconfig:"SEQUENCES_TABLE" default:"order_sequences"`
	IdempotencyTable string        `envconfig:"IDEMPOTENCY_TABLE" default:"idempotency"`
	IdempotencyTTL   time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"48h"`

	OrdersQueueURL string `envconfig:"ORDERS_QUEUE_URL"`
	KafkaBrokers   string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic     string `envconfig:"KAFKA_TOPIC" default:"order-events"`

	Payment

	WebhookVerifyWithGateway bool          `envconfig:"WEBHOOK_VERIFY_WITH_GATEWAY" default:"true"`
	WebhookLease             time.Duration `envconfig:"WEBHOOK_LEASE" default:"2m"`

	JWTSecret        string `envconfig:"JWT_SECRET"`
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"Marketplace/Orders"`

	PostmarkServerToken string `envconfig:"POSTMARK_SERVER_TOKEN"`
	EmailSender         string `envconfig:"EMAIL_SENDER" default:"orders@example.com"`
}

// Payment holds the processor settings.
type Payment struct {
	APIURL          string        `envconfig:"PAYMENT_API_URL" default:"https://api.yookassa.ru/v3"`
	ShopID          string        `envconfig:"PAYMENT_SHOP_ID"`
	SecretKey       string        `envconfig:"PAYMENT_SECRET_KEY"`
	ReturnURL       string        `envconfig:"PAYMENT_RETURN_URL"`
	Currency        string        `envconfig:"PAYMENT_CURRENCY" default:"RUB"`
	VATCode         int           `envconfig:"PAYMENT_VAT_CODE" default:"1"`
	ReceiptsEnabled bool          `envconfig:"PAYMENT_RECEIPTS_ENABLED" default:"false"`
	Timeout         time.Duration `envconfig:"PAYMENT_TIMEOUT" default:"10s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateAPI checks the settings the HTTP API cannot start without.
func (c *Config) ValidateAPI() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	if c.Payment.ShopID == "" || c.Payment.SecretKey == "" {
		return fmt.Errorf("config: PAYMENT_SHOP_ID and PAYMENT_SECRET_KEY are required")
	}
	if c.Payment.ReturnURL == "" {
		return fmt.Errorf("config: PAYMENT_RETURN_URL is required")
	}
	return nil
}
