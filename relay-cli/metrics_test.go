package relaycli

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"
	"github.com/tj/assert"
)

type mockCloudWatch struct {
	cloudwatchiface.CloudWatchAPI
	inputs []*cloudwatch.PutMetricDataInput
}

func (m *mockCloudWatch) PutMetricDataWithContext(_ aws.Context, input *cloudwatch.PutMetricDataInput, _ ...request.Option) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, input)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestMetrics(t *testing.T) {
	t.Run("zero value is a no-op", func(t *testing.T) {
		var m Metrics
		assert.False(t, m.Enabled())
		m.Event(context.Background(), PushLatencyMetric)
		m.Gauge(context.Background(), NotificationsSentMetric, 2)
	})

	t.Run("gauge carries service dimensions", func(t *testing.T) {
		cw := &mockCloudWatch{}
		m := NewMetrics(Service{Name: "job-relay", Version: "abc"}, cw)
		m.Gauge(context.Background(), NotificationsSentMetric, 3, Operation("notify-job"))

		assert.Len(t, cw.inputs, 1)
		datum := cw.inputs[0].MetricData[0]
		assert.Equal(t, string(NotificationsSentMetric), *datum.MetricName)
		assert.Equal(t, 3.0, *datum.Value)
		assert.Len(t, datum.Dimensions, 3)
	})

	t.Run("timing in milliseconds", func(t *testing.T) {
		cw := &mockCloudWatch{}
		m := NewMetrics(Service{Name: "job-relay"}, cw)
		m.Timing(context.Background(), PushLatencyMetric, time.Now().Add(-time.Second))

		datum := cw.inputs[0].MetricData[0]
		assert.Equal(t, cloudwatch.StandardUnitMilliseconds, *datum.Unit)
		assert.True(t, *datum.Value >= 1000)
		// empty version is dropped from dimensions
		assert.Len(t, datum.Dimensions, 1)
	})
}
