package monitoring

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/idc-core/idc/engine/action"
	"github.com/idc-core/idc/engine/infra/monitoring/metrics"
	"github.com/idc-core/idc/engine/lock"
	"github.com/idc-core/idc/engine/publish"
	"github.com/idc-core/idc/engine/task"
)

// EngineMetrics records action, task, lock and publish measurements on one
// meter. It satisfies the recorder interfaces of those packages.
type EngineMetrics struct {
	actionsTotal      metric.Int64Counter
	actionDuration    metric.Float64Histogram
	tasksTotal        metric.Int64Counter
	taskDuration      metric.Float64Histogram
	compensations     metric.Int64Counter
	compensationFails metric.Int64Counter
	lockEvents        metric.Int64Counter
	lockWait          metric.Float64Histogram
	publishTotal      metric.Int64Counter
}

var (
	_ action.Recorder  = (*EngineMetrics)(nil)
	_ lock.Recorder    = (*EngineMetrics)(nil)
	_ publish.Recorder = (*EngineMetrics)(nil)
)

func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	m := &EngineMetrics{}
	var err error
	if m.actionsTotal, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("action", "executions_total"),
		metric.WithDescription("Action invocations by outcome"),
	); err != nil {
		return nil, err
	}
	if m.actionDuration, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("action", "duration_seconds"),
		metric.WithDescription("Action execution time"),
		metric.WithExplicitBucketBoundaries(metrics.DurationBuckets...),
	); err != nil {
		return nil, err
	}
	if m.tasksTotal, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("task", "executions_total"),
		metric.WithDescription("Task runs by function and outcome"),
	); err != nil {
		return nil, err
	}
	if m.taskDuration, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("task", "duration_seconds"),
		metric.WithDescription("Task handler execution time"),
		metric.WithExplicitBucketBoundaries(metrics.DurationBuckets...),
	); err != nil {
		return nil, err
	}
	if m.compensations, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("compensation", "commands_total"),
		metric.WithDescription("Compensation commands run during rollback"),
	); err != nil {
		return nil, err
	}
	if m.compensationFails, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("compensation", "rollback_failures_total"),
		metric.WithDescription("Rollbacks with at least one failed command"),
	); err != nil {
		return nil, err
	}
	if m.lockEvents, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("lock", "events_total"),
		metric.WithDescription("Lock lifecycle events"),
	); err != nil {
		return nil, err
	}
	if m.lockWait, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("lock", "wait_seconds"),
		metric.WithDescription("Time spent acquiring document leases"),
		metric.WithExplicitBucketBoundaries(metrics.LockWaitBuckets...),
	); err != nil {
		return nil, err
	}
	if m.publishTotal, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("publish", "messages_total"),
		metric.WithDescription("Task result publishes by function and result"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *EngineMetrics) RecordAction(ctx context.Context, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("success", strconv.FormatBool(success)))
	m.actionsTotal.Add(ctx, 1, attrs)
	m.actionDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *EngineMetrics) RecordTask(ctx context.Context, fn task.Function, outcome action.Outcome, duration time.Duration) {
	m.tasksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("function", fn.String()),
		attribute.String("outcome", string(outcome)),
	))
	if outcome != action.OutcomeSkipped {
		m.taskDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("function", fn.String())))
	}
}

func (m *EngineMetrics) RecordCompensations(ctx context.Context, count int, err error) {
	m.compensations.Add(ctx, int64(count))
	if err != nil {
		m.compensationFails.Add(ctx, 1)
	}
}

func (m *EngineMetrics) LockEvent(event lock.Event) {
	m.lockEvents.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event", string(event))))
}

func (m *EngineMetrics) LockWait(d time.Duration) {
	m.lockWait.Record(context.Background(), d.Seconds())
}

func (m *EngineMetrics) PublishResult(function string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.publishTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("function", function),
		attribute.String("result", result),
	))
}
