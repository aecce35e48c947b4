// Package alerts is the operator-visible channel for failures that move or strand money.
package alerts

import (
	"context"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
)

// Kind classifies a financial failure.
type Kind string

const (
	PaymentCreateFailed Kind = "payment_create_failed"
	CaptureFailed       Kind = "capture_failed"
	CancelFailed        Kind = "cancel_failed"
	PaymentConflict     Kind = "payment_conflict"
)

const metricName = "FinancialFailure"

// Alert describes one failure. Err carries the raw cause, including gateway bodies.
type Alert struct {
	Kind      Kind
	OrderID   int64
	PaymentID string
	Detail    string
	Err       error
}

// Recorder raises alerts. Implementations must not fail the caller's request.
type Recorder interface {
	Raise(ctx context.Context, a Alert)
}

// CloudWatch logs every alert at error level and emits a FinancialFailure metric per kind,
// on which the CloudWatch alarm pages the on-call operator.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
	logger    *zap.Logger
	now       func() time.Time
}

func NewCloudWatch(client aws.CloudWatchAPI, namespace string, logger *zap.Logger) *CloudWatch {
	return &CloudWatch{client: client, namespace: namespace, logger: logger, now: time.Now}
}

func (c *CloudWatch) Raise(ctx context.Context, a Alert) {
	c.logger.Error("financial failure",
		zap.String("kind", string(a.Kind)),
		zap.Int64("order_id", a.OrderID),
		zap.String("payment_id", a.PaymentID),
		zap.String("detail", a.Detail),
		zap.Error(a.Err),
	)
	if c.client == nil {
		return
	}

	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: sdkaws.String(c.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: sdkaws.String(metricName),
				Dimensions: []cwtypes.Dimension{
					{Name: sdkaws.String("Kind"), Value: sdkaws.String(string(a.Kind))},
				},
				Timestamp: sdkaws.Time(c.now()),
				Unit:      cwtypes.StandardUnitCount,
				Value:     sdkaws.Float64(1),
			},
		},
	})
	if err != nil {
		c.logger.Error("put financial failure metric", zap.Error(err))
	}
}
