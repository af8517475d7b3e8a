// Package dispatch implements the update loop at the center of Ember. A
// single goroutine owns application state, turns request events into task
// units running on a bounded worker pool, and applies each unit's single
// response back to state in serial order. The loop never blocks on gateway
// work itself; task units carry copies of their inputs and talk to the
// storage gateway on worker goroutines.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emberworks/ember/internal/bus"
	"github.com/emberworks/ember/internal/otel"
	"github.com/emberworks/ember/internal/shared"
	"github.com/emberworks/ember/internal/store"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// ErrQueueSaturated resolves a request immediately when the background queue
// is full: backpressure instead of unbounded buffering.
var ErrQueueSaturated = errors.New("background queue saturated")

// ErrShuttingDown resolves requests that arrive after intake has closed.
var ErrShuttingDown = errors.New("dispatcher shutting down")

// mailboxSize bounds the loop mailbox. Post blocks rather than drops when it
// fills; a full mailbox means the loop itself has fallen behind.
const mailboxSize = 256

// Config sizes the dispatcher. Zero values pick the defaults.
type Config struct {
	Workers      int           // background workers, default 1
	QueueDepth   int           // bounded task queue, default 32
	DrainTimeout time.Duration // shutdown grace for in-flight units, default 5s
	Bus          *bus.Bus      // optional, receives snapshots and lifecycle events
	Tracer       trace.Tracer  // optional, nil means no spans
	Metrics      *otel.Metrics // optional, nil means no instruments
}

// Loop is the single-threaded update loop. Construct with New, give it a
// goroutine with Run, feed it with Post. All state lives inside Run; the
// outside world observes it through Snapshot events on the bus.
type Loop struct {
	store   *store.Store
	logger  *slog.Logger
	bus     *bus.Bus
	tracer  trace.Tracer
	metrics *otel.Metrics
	cfg     Config

	mailbox chan Event
	queue   chan Task

	// Owned by the Run goroutine.
	state    *State
	draining bool

	wg sync.WaitGroup
}

func New(st *store.Store, logger *slog.Logger, cfg Config) *Loop {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 32
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer(otel.TracerName)
	}
	return &Loop{
		store:   st,
		logger:  logger,
		bus:     cfg.Bus,
		tracer:  tracer,
		metrics: cfg.Metrics,
		cfg:     cfg,
		mailbox: make(chan Event, mailboxSize),
		queue:   make(chan Task, cfg.QueueDepth),
		state:   newState(),
	}
}

// Post delivers an event to the loop mailbox. Safe from any goroutine,
// including before Run starts. It never drops: a request is either applied
// or, during shutdown, resolved with a transient failure.
func (l *Loop) Post(ev Event) {
	l.mailbox <- ev
}

// Run owns the loop until ctx is canceled, then drains: intake closes,
// queued and in-flight units finish on their own background context, and
// their responses are still applied before Run returns.
func (l *Loop) Run(ctx context.Context) {
	l.wg.Add(l.cfg.Workers)
	for i := 0; i < l.cfg.Workers; i++ {
		go l.worker()
	}
	l.logger.Info("dispatcher started", "workers", l.cfg.Workers, "queue_depth", l.cfg.QueueDepth)

	for {
		select {
		case <-ctx.Done():
			l.drain()
			return
		case ev := <-l.mailbox:
			l.apply(ev)
		}
	}
}

func (l *Loop) drain() {
	l.draining = true

	// Flush events already buffered in the mailbox. Requests resolve with
	// ErrShuttingDown; responses apply normally.
	for {
		select {
		case ev := <-l.mailbox:
			l.apply(ev)
			continue
		default:
		}
		break
	}

	close(l.queue)

	deadline := time.NewTimer(l.cfg.DrainTimeout)
	defer deadline.Stop()
	for l.state.outstanding() > 0 {
		select {
		case ev := <-l.mailbox:
			l.apply(ev)
		case <-deadline.C:
			l.logger.Warn("drain timeout, abandoning in-flight task units",
				"remaining", l.state.outstanding(), "timeout", l.cfg.DrainTimeout)
			return
		}
	}
	l.wg.Wait()
	l.logger.Info("dispatcher drained cleanly")
}

// apply processes one event and publishes the resulting snapshot. Loop
// goroutine only.
func (l *Loop) apply(ev Event) {
	if l.applyEvent(ev) {
		l.publish(bus.TopicStateUpdated, l.state.snapshot())
	}
}

// applyEvent mutates state for one event. Requests flip the kind busy,
// snapshot their inputs into a task unit, and hand it to the pool; responses
// clear the busy flag and fold their value or failure into state. Returns
// false for events outside the union.
func (l *Loop) applyEvent(ev Event) bool {
	switch ev := ev.(type) {
	case LoadOverviewRequested:
		id := shared.NewRequestID()
		l.dispatch(Task{
			ID:   id,
			Kind: KindLoadOverview,
			Run: func(ctx context.Context) Event {
				rows, err := l.store.Overview(ctx)
				if err != nil {
					return OverviewLoaded{Err: failureFrom(err), RequestID: id}
				}
				return OverviewLoaded{Overview: rows, RequestID: id}
			},
			Fail: func(err error) Event { return OverviewLoaded{Err: failureFrom(err), RequestID: id} },
		})

	case CreateProjectRequested:
		id := shared.NewRequestID()
		name, desc := ev.Name, ev.Description
		l.dispatch(Task{
			ID:   id,
			Kind: KindCreateProject,
			Run: func(ctx context.Context) Event {
				p, err := l.store.CreateProject(ctx, name, desc)
				if err != nil {
					return ProjectCreated{Err: failureFrom(err), RequestID: id}
				}
				return ProjectCreated{Project: p, RequestID: id}
			},
			Fail: func(err error) Event { return ProjectCreated{Err: failureFrom(err), RequestID: id} },
		})

	case DeleteProjectRequested:
		id := shared.NewRequestID()
		projectID := ev.ProjectID
		l.dispatch(Task{
			ID:   id,
			Kind: KindDeleteProject,
			Run: func(ctx context.Context) Event {
				if err := l.store.DeleteProject(ctx, projectID); err != nil {
					return ProjectDeleted{ProjectID: projectID, Err: failureFrom(err), RequestID: id}
				}
				return ProjectDeleted{ProjectID: projectID, RequestID: id}
			},
			Fail: func(err error) Event {
				return ProjectDeleted{ProjectID: projectID, Err: failureFrom(err), RequestID: id}
			},
		})

	case ListFeaturesRequested:
		id := shared.NewRequestID()
		projectID := ev.ProjectID
		l.dispatch(Task{
			ID:   id,
			Kind: KindListFeatures,
			Run: func(ctx context.Context) Event {
				feats, err := l.store.ListFeatures(ctx, projectID)
				if err != nil {
					return FeaturesListed{ProjectID: projectID, Err: failureFrom(err), RequestID: id}
				}
				return FeaturesListed{ProjectID: projectID, Features: feats, RequestID: id}
			},
			Fail: func(err error) Event {
				return FeaturesListed{ProjectID: projectID, Err: failureFrom(err), RequestID: id}
			},
		})

	case CreateFeatureRequested:
		id := shared.NewRequestID()
		projectID, desc := ev.ProjectID, ev.Description
		l.dispatch(Task{
			ID:   id,
			Kind: KindCreateFeature,
			Run: func(ctx context.Context) Event {
				f, err := l.store.CreateFeature(ctx, projectID, desc)
				if err != nil {
					return FeatureCreated{Err: failureFrom(err), RequestID: id}
				}
				return FeatureCreated{Feature: f, RequestID: id}
			},
			Fail: func(err error) Event { return FeatureCreated{Err: failureFrom(err), RequestID: id} },
		})

	case SetFeatureCompletedRequested:
		id := shared.NewRequestID()
		featureID, completed := ev.FeatureID, ev.Completed
		l.dispatch(Task{
			ID:   id,
			Kind: KindSetFeatureCompleted,
			Run: func(ctx context.Context) Event {
				if err := l.store.SetFeatureCompleted(ctx, featureID, completed); err != nil {
					return FeatureCompletionSet{FeatureID: featureID, Completed: completed, Err: failureFrom(err), RequestID: id}
				}
				return FeatureCompletionSet{FeatureID: featureID, Completed: completed, RequestID: id}
			},
			Fail: func(err error) Event {
				return FeatureCompletionSet{FeatureID: featureID, Completed: completed, Err: failureFrom(err), RequestID: id}
			},
		})

	case RemoveFeatureRequested:
		id := shared.NewRequestID()
		featureID := ev.FeatureID
		l.dispatch(Task{
			ID:   id,
			Kind: KindRemoveFeature,
			Run: func(ctx context.Context) Event {
				if err := l.store.RemoveFeature(ctx, featureID); err != nil {
					return FeatureRemoved{FeatureID: featureID, Err: failureFrom(err), RequestID: id}
				}
				return FeatureRemoved{FeatureID: featureID, RequestID: id}
			},
			Fail: func(err error) Event {
				return FeatureRemoved{FeatureID: featureID, Err: failureFrom(err), RequestID: id}
			},
		})

	case CreateTagRequested:
		id := shared.NewRequestID()
		name, color := ev.Name, ev.Color
		l.dispatch(Task{
			ID:   id,
			Kind: KindCreateTag,
			Run: func(ctx context.Context) Event {
				tag, err := l.store.CreateTag(ctx, name, color)
				if err != nil {
					return TagCreated{Err: failureFrom(err), RequestID: id}
				}
				return TagCreated{Tag: tag, RequestID: id}
			},
			Fail: func(err error) Event { return TagCreated{Err: failureFrom(err), RequestID: id} },
		})

	case AttachTagRequested:
		id := shared.NewRequestID()
		projectID, tagID := ev.ProjectID, ev.TagID
		l.dispatch(Task{
			ID:   id,
			Kind: KindAttachTag,
			Run: func(ctx context.Context) Event {
				if err := l.store.AttachTag(ctx, projectID, tagID); err != nil {
					return TagAttached{ProjectID: projectID, TagID: tagID, Err: failureFrom(err), RequestID: id}
				}
				tags, err := l.store.ProjectTags(ctx, projectID)
				if err != nil {
					return TagAttached{ProjectID: projectID, TagID: tagID, Err: failureFrom(err), RequestID: id}
				}
				return TagAttached{ProjectID: projectID, TagID: tagID, Tags: tags, RequestID: id}
			},
			Fail: func(err error) Event {
				return TagAttached{ProjectID: projectID, TagID: tagID, Err: failureFrom(err), RequestID: id}
			},
		})

	case DetachTagRequested:
		id := shared.NewRequestID()
		projectID, tagID := ev.ProjectID, ev.TagID
		l.dispatch(Task{
			ID:   id,
			Kind: KindDetachTag,
			Run: func(ctx context.Context) Event {
				if err := l.store.DetachTag(ctx, projectID, tagID); err != nil {
					return TagDetached{ProjectID: projectID, TagID: tagID, Err: failureFrom(err), RequestID: id}
				}
				tags, err := l.store.ProjectTags(ctx, projectID)
				if err != nil {
					return TagDetached{ProjectID: projectID, TagID: tagID, Err: failureFrom(err), RequestID: id}
				}
				return TagDetached{ProjectID: projectID, TagID: tagID, Tags: tags, RequestID: id}
			},
			Fail: func(err error) Event {
				return TagDetached{ProjectID: projectID, TagID: tagID, Err: failureFrom(err), RequestID: id}
			},
		})

	case ListTagsRequested:
		id := shared.NewRequestID()
		l.dispatch(Task{
			ID:   id,
			Kind: KindListTags,
			Run: func(ctx context.Context) Event {
				tags, err := l.store.ListTags(ctx)
				if err != nil {
					return TagsListed{Err: failureFrom(err), RequestID: id}
				}
				return TagsListed{Tags: tags, RequestID: id}
			},
			Fail: func(err error) Event { return TagsListed{Err: failureFrom(err), RequestID: id} },
		})

	case OverviewLoaded:
		l.resolve(KindLoadOverview, ev.Err, func() { l.state.setOverview(ev.Overview) })
	case ProjectCreated:
		l.resolve(KindCreateProject, ev.Err, func() { l.state.insertProject(ev.Project) })
	case ProjectDeleted:
		l.resolve(KindDeleteProject, ev.Err, func() { l.state.removeProject(ev.ProjectID) })
	case FeaturesListed:
		l.resolve(KindListFeatures, ev.Err, func() { l.state.setFeatures(ev.ProjectID, ev.Features) })
	case FeatureCreated:
		l.resolve(KindCreateFeature, ev.Err, func() { l.state.addFeature(ev.Feature) })
	case FeatureCompletionSet:
		l.resolve(KindSetFeatureCompleted, ev.Err, func() { l.state.setFeatureCompleted(ev.FeatureID, ev.Completed) })
	case FeatureRemoved:
		l.resolve(KindRemoveFeature, ev.Err, func() { l.state.removeFeature(ev.FeatureID) })
	case TagCreated:
		l.resolve(KindCreateTag, ev.Err, func() { l.state.insertTag(ev.Tag) })
	case TagAttached:
		l.resolve(KindAttachTag, ev.Err, func() { l.state.setProjectTags(ev.ProjectID, ev.Tags) })
	case TagDetached:
		l.resolve(KindDetachTag, ev.Err, func() { l.state.setProjectTags(ev.ProjectID, ev.Tags) })
	case TagsListed:
		l.resolve(KindListTags, ev.Err, func() { l.state.setTags(ev.Tags) })

	default:
		l.logger.Error("unknown event type", "type", fmt.Sprintf("%T", ev))
		return false
	}
	return true
}

// dispatch hands a task unit to the pool. When the queue is full, or intake
// has closed, the request resolves immediately with a transient failure so
// no request is ever left pending. Loop goroutine only.
func (l *Loop) dispatch(t Task) {
	l.state.begin(t.Kind)

	if l.draining {
		l.reject(t, ErrShuttingDown)
		return
	}
	select {
	case l.queue <- t:
		if l.metrics != nil {
			ctx := context.Background()
			l.metrics.TasksDispatched.Add(ctx, 1, metric.WithAttributes(otel.AttrTaskKind.String(t.Kind)))
			l.metrics.QueueDepth.Add(ctx, 1)
		}
		l.publish(bus.TopicTaskDispatched, bus.TaskLifecycleEvent{RequestID: t.ID, Kind: t.Kind})
		l.logger.Debug("task dispatched", "request_id", t.ID, "kind", t.Kind)
	default:
		l.reject(t, ErrQueueSaturated)
	}
}

// reject resolves a task that never reached the queue. The Fail branch builds
// the response, which is applied inline so the request still sees exactly one
// response.
func (l *Loop) reject(t Task, cause error) {
	l.logger.Warn("task rejected", "request_id", t.ID, "kind", t.Kind, "reason", cause.Error())
	if l.metrics != nil {
		l.metrics.TasksRejected.Add(context.Background(), 1, metric.WithAttributes(otel.AttrTaskKind.String(t.Kind)))
	}
	l.publish(bus.TopicTaskRejected, bus.TaskLifecycleEvent{RequestID: t.ID, Kind: t.Kind, Err: cause.Error()})
	l.applyEvent(t.Fail(cause))
}

// resolve folds one response into state: clears the kind's busy flag, then
// either records the failure or applies the value.
func (l *Loop) resolve(kind string, f *Failure, applyValue func()) {
	l.state.finish(kind, f)
	if f != nil {
		return
	}
	applyValue()
}

func (l *Loop) publish(topic string, payload any) {
	if l.bus != nil {
		l.bus.Publish(topic, payload)
	}
}
