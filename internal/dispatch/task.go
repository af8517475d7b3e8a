package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/emberworks/ember/internal/bus"
	"github.com/emberworks/ember/internal/otel"
	"github.com/emberworks/ember/internal/shared"
	"go.opentelemetry.io/otel/metric"
)

// Task is one unit of deferred work. Run produces the operation's response
// event; Fail builds the Err branch when the unit cannot run or panics. A
// task owns copies of its inputs and resolves exactly once.
type Task struct {
	ID   string
	Kind string
	Run  func(ctx context.Context) Event
	Fail func(err error) Event
}

func (l *Loop) worker() {
	defer l.wg.Done()
	for t := range l.queue {
		if l.metrics != nil {
			l.metrics.QueueDepth.Add(context.Background(), -1)
		}
		l.mailbox <- l.execute(t)
	}
}

// execute runs one task unit to its single response. Panics inside Run are
// recovered into the Err branch so the unit still resolves. Units run on a
// background context: there is no per-request cancellation, and work started
// before shutdown finishes during the drain window.
func (l *Loop) execute(t Task) (resp Event) {
	ctx := shared.WithRequestID(context.Background(), t.ID)
	ctx = shared.WithKind(ctx, t.Kind)
	ctx, span := otel.StartSpan(ctx, l.tracer, "task."+t.Kind,
		otel.AttrRequestID.String(t.ID),
		otel.AttrTaskKind.String(t.Kind),
	)
	start := time.Now()

	defer func() {
		panicked := false
		if r := recover(); r != nil {
			panicked = true
			l.logger.Error("task unit panicked", "request_id", t.ID, "kind", t.Kind, "recover", r)
			resp = t.Fail(fmt.Errorf("task unit panicked: %v", r))
		}
		took := time.Since(start)
		failure := responseFailure(resp)
		l.recordOutcome(ctx, t, failure, took, panicked)
		if failure != nil {
			span.SetAttributes(
				otel.AttrOutcome.String("error"),
				otel.AttrErrorKind.String(string(failure.Kind)),
			)
		} else {
			span.SetAttributes(otel.AttrOutcome.String("ok"))
		}
		span.End()
	}()

	if l.metrics != nil {
		l.metrics.TasksInFlight.Add(ctx, 1)
		defer l.metrics.TasksInFlight.Add(ctx, -1)
	}
	return t.Run(ctx)
}

func (l *Loop) recordOutcome(ctx context.Context, t Task, failure *Failure, took time.Duration, panicked bool) {
	attrs := metric.WithAttributes(otel.AttrTaskKind.String(t.Kind))
	if l.metrics != nil {
		l.metrics.TaskDuration.Record(ctx, took.Seconds(), attrs)
		if failure != nil {
			l.metrics.TasksFailed.Add(ctx, 1, attrs)
		} else {
			l.metrics.TasksCompleted.Add(ctx, 1, attrs)
		}
	}

	evt := bus.TaskLifecycleEvent{RequestID: t.ID, Kind: t.Kind, DurationMS: took.Milliseconds()}
	if failure != nil {
		evt.Err = failure.Message
		evt.Panicked = panicked
		l.publish(bus.TopicTaskFailed, evt)
		l.logger.Warn("task unit failed",
			"request_id", t.ID, "kind", t.Kind,
			"error_kind", failure.Kind, "error", failure.Message,
			"took_ms", took.Milliseconds())
		return
	}
	l.publish(bus.TopicTaskCompleted, evt)
	l.logger.Debug("task unit completed", "request_id", t.ID, "kind", t.Kind, "took_ms", took.Milliseconds())
}
