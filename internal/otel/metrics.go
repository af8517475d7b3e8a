package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all Ember metrics instruments.
type Metrics struct {
	TasksDispatched metric.Int64Counter
	TasksCompleted  metric.Int64Counter
	TasksFailed     metric.Int64Counter
	TasksRejected   metric.Int64Counter
	TasksInFlight   metric.Int64UpDownCounter
	QueueDepth      metric.Int64UpDownCounter
	TaskDuration    metric.Float64Histogram
	BackupDuration  metric.Float64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TasksDispatched, err = meter.Int64Counter("ember.task.dispatched",
		metric.WithDescription("Task units handed to the worker pool"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("ember.task.completed",
		metric.WithDescription("Task units that produced a success response"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("ember.task.failed",
		metric.WithDescription("Task units that produced an error response"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksRejected, err = meter.Int64Counter("ember.task.rejected",
		metric.WithDescription("Requests refused because the queue was full"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksInFlight, err = meter.Int64UpDownCounter("ember.task.in_flight",
		metric.WithDescription("Task units currently running on a worker"),
	)
	if err != nil {
		return nil, err
	}

	m.QueueDepth, err = meter.Int64UpDownCounter("ember.task.queue_depth",
		metric.WithDescription("Task units waiting for a worker"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("ember.task.duration",
		metric.WithDescription("Task unit wall time from dispatch to response in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.BackupDuration, err = meter.Float64Histogram("ember.backup.duration",
		metric.WithDescription("Database snapshot duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
