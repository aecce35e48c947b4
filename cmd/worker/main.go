package main

import (
	"context"
	"log"
	"os"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
	"github.com/imrishuroy/marketplace-orderflow/internal/config"
	"github.com/imrishuroy/marketplace-orderflow/internal/customers"
	"github.com/imrishuroy/marketplace-orderflow/internal/idempotency"
	"github.com/imrishuroy/marketplace-orderflow/internal/notify"
	"github.com/imrishuroy/marketplace-orderflow/internal/observability"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", cfg.ServiceName+"-worker"))

	clients, err := aws.NewAWSClients(context.Background(), cfg.AWSRegion, cfg.AWSEndpointOverride)
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}
	logger.Info("aws clients ready", zap.String("region", clients.Region), zap.Bool("local", clients.Local()))
	if cfg.PostmarkServerToken == "" {
		logger.Fatal("POSTMARK_SERVER_TOKEN is required")
	}

	p := NewProcessor(
		idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL),
		customers.NewStore(clients.DynamoDB, cfg.CustomersTable),
		notify.NewPostmarkMailer(cfg.PostmarkServerToken, cfg.EmailSender),
		cfg.WebhookLease,
		logger,
	)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if cfg.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"event_id":"local-1","type":"order.created","order_id":1,"order_number":"ORD-1-1","customer_id":1,"total":0}`
		}
		event := lambdaevents.SQSEvent{Records: []lambdaevents.SQSMessage{{MessageId: "local-1", Body: testBody}}}
		resp, _ := p.Handle(context.Background(), event)
		if len(resp.BatchItemFailures) > 0 {
			logger.Fatal("local handler failed")
		}
		return
	}

	lambda.Start(p.Handle)
}
