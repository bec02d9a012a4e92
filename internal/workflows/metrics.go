package workflows

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/knowledged/internal/workflows"

var (
	activityDuration     metric.Float64Histogram
	activityErrorCounter metric.Int64Counter
	tenantOutcomeCounter metric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error
	activityDuration, err = meter.Float64Histogram(
		"knowledged.workflows.activity.duration",
		metric.WithDescription("Duration of workflow activity executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity duration: %v", err))
	}

	activityErrorCounter, err = meter.Int64Counter(
		"knowledged.workflows.activity.errors",
		metric.WithDescription("Number of activity execution errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity error counter: %v", err))
	}

	tenantOutcomeCounter, err = meter.Int64Counter(
		"knowledged.workflows.resync.outcomes",
		metric.WithDescription("Tenant resync outcomes by final state"),
		metric.WithUnit("{tenant}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create resync outcome counter: %v", err))
	}
}

func init() {
	initMetrics()
}

func recordActivity(ctx context.Context, name string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("activity", name))
	activityDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		activityErrorCounter.Add(ctx, 1, attrs)
	}
}

func recordOutcome(ctx context.Context, state string) {
	tenantOutcomeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}
