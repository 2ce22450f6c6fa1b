package stats

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/sirupsen/logrus"
)

// PutMetricDataAPI is the slice of the CloudWatch client the emitter uses.
type PutMetricDataAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchEmitter publishes per-second snapshots as high resolution
// custom metrics.
type CloudWatchEmitter struct {
	Client     PutMetricDataAPI
	Namespace  string
	Dimensions []types.Dimension
	Log        *logrus.Entry
}

// NewCloudWatchEmitter loads the default AWS credential chain for region.
// Every datum carries Host, LoadTest and RunID dimensions.
func NewCloudWatchEmitter(ctx context.Context, region, namespace, loadTest, runID string, log *logrus.Entry) (*CloudWatchEmitter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
		log.WithError(err).Warn("failed to get hostname")
	}

	return &CloudWatchEmitter{
		Client:     cloudwatch.NewFromConfig(awsCfg),
		Namespace:  namespace,
		Dimensions: dimensions(hostname, loadTest, runID),
		Log:        log,
	}, nil
}

func dimensions(host, loadTest, runID string) []types.Dimension {
	return []types.Dimension{
		{Name: aws.String("Host"), Value: aws.String(host)},
		{Name: aws.String("LoadTest"), Value: aws.String(loadTest)},
		{Name: aws.String("RunID"), Value: aws.String(runID)},
	}
}

type metricValue struct {
	name  string
	value float64
	unit  types.StandardUnit
}

func snapshotMetrics(snap Snapshot) []metricValue {
	values := []metricValue{
		{"IterationsPerSecond", snap.IterationsPerSec, types.StandardUnitCountSecond},
		{"FailedIterations", float64(snap.FailedIterations), types.StandardUnitCount},
		{"InterruptedIterations", float64(snap.Interrupted), types.StandardUnitCount},
		{"ConnectionErrors", float64(snap.ConnectionErrors), types.StandardUnitCount},
		{"RPCErrors", float64(snap.RPCErrors), types.StandardUnitCount},
		{"ChecksFailed", float64(snap.ChecksFailed), types.StandardUnitCount},
		{"ActiveTcpConnections", float64(snap.ActiveTCPConns), types.StandardUnitCount},
		{"TcpConnectionDelta", float64(snap.TCPConnDelta), types.StandardUnitCount},
	}
	names := map[string]string{"set": "Set", "get": "Get", "delete": "Delete"}
	for _, op := range Ops {
		o := snap.Ops[op]
		values = append(values,
			metricValue{names[op] + "OpsPerSecond", o.QPS, types.StandardUnitCountSecond},
			metricValue{names[op] + "LatencyP99", float64(o.P99), types.StandardUnitMicroseconds},
		)
	}
	return values
}

// Emit sends one snapshot. Failures are logged and returned.
func (cw *CloudWatchEmitter) Emit(ctx context.Context, snap Snapshot) error {
	ts := snap.Timestamp
	var data []types.MetricDatum
	for _, m := range snapshotMetrics(snap) {
		data = append(data, types.MetricDatum{
			MetricName:        aws.String(m.name),
			Value:             aws.Float64(m.value),
			Unit:              m.unit,
			Dimensions:        cw.Dimensions,
			Timestamp:         &ts,
			StorageResolution: aws.Int32(1),
		})
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := cw.Client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(cw.Namespace),
		MetricData: data,
	})
	if err != nil {
		if cw.Log != nil {
			cw.Log.WithError(err).Warn("failed to emit CloudWatch metrics")
		}
		return err
	}
	return nil
}
