package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/alerts"
	"github.com/imrishuroy/marketplace-orderflow/internal/auth"
	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
	"github.com/imrishuroy/marketplace-orderflow/internal/catalog"
	"github.com/imrishuroy/marketplace-orderflow/internal/config"
	"github.com/imrishuroy/marketplace-orderflow/internal/customers"
	"github.com/imrishuroy/marketplace-orderflow/internal/events"
	"github.com/imrishuroy/marketplace-orderflow/internal/handlers"
	"github.com/imrishuroy/marketplace-orderflow/internal/idempotency"
	"github.com/imrishuroy/marketplace-orderflow/internal/observability"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/payments"
	"github.com/imrishuroy/marketplace-orderflow/internal/service"
	"github.com/imrishuroy/marketplace-orderflow/internal/webhooks"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(
		observability.RequestID(),
		observability.Logger(cfg.Logger),
		observability.Recovery(cfg.Logger),
	)

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterOrdersRoutes(r, cfg)
	handlers.RegisterWebhookRoutes(r, cfg)

	return r
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.ValidateAPI(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", cfg.ServiceName))

	if !cfg.RunLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	clients, err := aws.NewAWSClients(context.Background(), cfg.AWSRegion, cfg.AWSEndpointOverride)
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}
	logger.Info("aws clients ready", zap.String("region", clients.Region), zap.Bool("local", clients.Local()))

	ledger := idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	orderStore := orders.NewStore(clients.DynamoDB, orders.Tables{
		Orders:    cfg.OrdersTable,
		Sequences: cfg.SequencesTable,
	}, ledger)
	customerStore := customers.NewStore(clients.DynamoDB, cfg.CustomersTable)
	snapshotter := catalog.NewSnapshotter(catalog.NewDynamoProducts(clients.DynamoDB, cfg.ProductsTable))

	gateway, err := payments.NewClient(payments.Config{
		BaseURL:  cfg.Payment.APIURL,
		Currency: cfg.Payment.Currency,
		VATCode:  cfg.Payment.VATCode,
		Timeout:  cfg.Payment.Timeout,
	}, payments.NewBasicCredentials(cfg.Payment.ShopID, cfg.Payment.SecretKey), payments.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to init payment client", zap.Error(err))
	}

	publisher := events.Multi{events.NewSQSPublisher(aws.NewPublisher(clients.SQS, cfg.OrdersQueueURL))}
	if cfg.KafkaBrokers != "" {
		kafka := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer func() {
			if err := kafka.Close(); err != nil {
				logger.Warn("failed to close kafka writer", zap.Error(err))
			}
		}()
		publisher = append(publisher, kafka)
	}

	recorder := alerts.NewCloudWatch(clients.CloudWatch, cfg.MetricsNamespace, logger)

	svc := service.NewOrderService(orderStore, snapshotter, gateway, ledger, publisher, recorder, service.Options{
		ReturnURL:       cfg.Payment.ReturnURL,
		ReceiptsEnabled: cfg.Payment.ReceiptsEnabled,
		PaymentTimeout:  cfg.Payment.Timeout,
	}, logger)

	reconcilerOpts := []webhooks.Option{webhooks.WithLease(cfg.WebhookLease)}
	if cfg.WebhookVerifyWithGateway {
		reconcilerOpts = append(reconcilerOpts, webhooks.WithGatewayVerification(gateway))
	}
	reconciler := webhooks.NewReconciler(orderStore, ledger, publisher, recorder, logger, reconcilerOpts...)

	r := setupRouter(handlers.HandlerConfig{
		Orders:     svc,
		Requests:   ledger,
		Reconciler: reconciler,
		Issuer:     auth.NewIssuer(cfg.JWTSecret),
		Customers:  customerStore,
		Logger:     logger,
	})

	// RUN_LOCAL=true serves plain HTTP for development.
	if cfg.RunLocal {
		runLocal(r, ":"+cfg.Port, logger)
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(adapter.ProxyWithContext)
}

func runLocal(r *gin.Engine, addr string, logger *zap.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("running local server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to run local server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
