package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"mealflow/logger"
)

// StartReport begins periodic logging and publishing of client core counters.
func StartReport(ctx context.Context, log *logger.Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *logger.Log) {
	snap := Snapshot()

	fields := logger.Fields{"goroutines": runtime.NumGoroutine()}
	for name, value := range snap {
		fields[name] = value
	}
	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := make([]cwtypes.MetricDatum, 0, len(snap))
	for name, value := range snap {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(value)),
		})
	}
	publishMetrics(ctx, data)
}
