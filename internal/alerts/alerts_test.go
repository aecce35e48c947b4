package alerts

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type captureCW struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (c *captureCW) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	c.inputs = append(c.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, c.err
}

func TestRaiseLogsAndEmitsMetric(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	cw := &captureCW{}
	r := NewCloudWatch(cw, "Marketplace/Orders", zap.New(core))

	r.Raise(context.Background(), Alert{Kind: CancelFailed, OrderID: 42, PaymentID: "p-1", Err: errors.New("gateway 500")})

	require.Len(t, cw.inputs, 1)
	datum := cw.inputs[0].MetricData[0]
	assert.Equal(t, "FinancialFailure", *datum.MetricName)
	assert.Equal(t, "cancel_failed", *datum.Dimensions[0].Value)
	assert.Equal(t, "Marketplace/Orders", *cw.inputs[0].Namespace)

	entries := logs.FilterMessage("financial failure").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(42), entries[0].ContextMap()["order_id"])
}

func TestRaiseSurvivesMetricFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	r := NewCloudWatch(&captureCW{err: errors.New("throttled")}, "ns", zap.New(core))

	r.Raise(context.Background(), Alert{Kind: CaptureFailed, OrderID: 1})
	assert.Equal(t, 1, logs.FilterMessage("put financial failure metric").Len())
}
