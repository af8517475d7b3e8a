package dispatch

import (
	"errors"
	"fmt"

	"github.com/emberworks/ember/internal/store"
)

// Operation kinds. Each request/response pair shares one kind; the kind keys
// the busy and error maps in Snapshot and tags bus and telemetry events.
const (
	KindLoadOverview        = "overview.load"
	KindCreateProject       = "project.create"
	KindDeleteProject       = "project.delete"
	KindListFeatures        = "feature.list"
	KindCreateFeature       = "feature.create"
	KindSetFeatureCompleted = "feature.toggle"
	KindRemoveFeature       = "feature.remove"
	KindCreateTag           = "tag.create"
	KindAttachTag           = "tag.attach"
	KindDetachTag           = "tag.detach"
	KindListTags            = "tag.list"
)

// Failure describes why an operation produced no value. Transient failures
// are safe to retry unchanged.
type Failure struct {
	Kind      store.Kind
	Message   string
	Transient bool
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// failureFrom normalizes any error into the storage taxonomy. Queue pressure
// sentinels count as transient: the condition clears once workers catch up.
// Errors from outside the store (sentinels, recovered panics) classify as
// storage failures.
func failureFrom(err error) *Failure {
	transient := store.IsTransient(err) ||
		errors.Is(err, ErrQueueSaturated) ||
		errors.Is(err, ErrShuttingDown)
	kind := store.KindOf(err)
	if kind == "" {
		kind = store.KindStorage
	}
	return &Failure{
		Kind:      kind,
		Message:   err.Error(),
		Transient: transient,
	}
}

// Event is the closed set of messages the update loop understands. Request
// events enter through Post; response events are produced by task units, one
// per request. The unexported marker keeps the union closed to this package.
type Event interface{ isEvent() }

// LoadOverviewRequested asks for the full project overview.
type LoadOverviewRequested struct{}

// CreateProjectRequested adds a project. Description may be nil.
type CreateProjectRequested struct {
	Name        string
	Description *string
}

// DeleteProjectRequested removes a project and everything it owns.
type DeleteProjectRequested struct {
	ProjectID int64
}

// ListFeaturesRequested asks for a project's features.
type ListFeaturesRequested struct {
	ProjectID int64
}

// CreateFeatureRequested adds a feature to a project.
type CreateFeatureRequested struct {
	ProjectID   int64
	Description string
}

// SetFeatureCompletedRequested flips a feature's completion flag.
type SetFeatureCompletedRequested struct {
	FeatureID int64
	Completed bool
}

// RemoveFeatureRequested deletes a feature.
type RemoveFeatureRequested struct {
	FeatureID int64
}

// CreateTagRequested adds a tag. Color may be nil.
type CreateTagRequested struct {
	Name  string
	Color *string
}

// AttachTagRequested associates a tag with a project. Attaching a tag that
// is already attached succeeds without change.
type AttachTagRequested struct {
	ProjectID int64
	TagID     int64
}

// DetachTagRequested removes a tag association.
type DetachTagRequested struct {
	ProjectID int64
	TagID     int64
}

// ListTagsRequested asks for all tags.
type ListTagsRequested struct{}

// Response events. Err is nil on success; RequestID names the task unit that
// produced the response.

// OverviewLoaded carries the full project overview.
type OverviewLoaded struct {
	Overview  []store.ProjectOverview
	Err       *Failure
	RequestID string
}

// ProjectCreated carries the stored project including its generated id.
type ProjectCreated struct {
	Project   store.Project
	Err       *Failure
	RequestID string
}

// ProjectDeleted confirms a cascade delete.
type ProjectDeleted struct {
	ProjectID int64
	Err       *Failure
	RequestID string
}

// FeaturesListed carries one project's features.
type FeaturesListed struct {
	ProjectID int64
	Features  []store.Feature
	Err       *Failure
	RequestID string
}

// FeatureCreated carries the stored feature.
type FeatureCreated struct {
	Feature   store.Feature
	Err       *Failure
	RequestID string
}

// FeatureCompletionSet confirms a completion flip.
type FeatureCompletionSet struct {
	FeatureID int64
	Completed bool
	Err       *Failure
	RequestID string
}

// FeatureRemoved confirms a feature delete.
type FeatureRemoved struct {
	FeatureID int64
	Err       *Failure
	RequestID string
}

// TagCreated carries the stored tag.
type TagCreated struct {
	Tag       store.Tag
	Err       *Failure
	RequestID string
}

// TagAttached carries the project's tag list after the change.
type TagAttached struct {
	ProjectID int64
	TagID     int64
	Tags      []store.Tag
	Err       *Failure
	RequestID string
}

// TagDetached carries the project's tag list after the change.
type TagDetached struct {
	ProjectID int64
	TagID     int64
	Tags      []store.Tag
	Err       *Failure
	RequestID string
}

// TagsListed carries all tags ordered by name.
type TagsListed struct {
	Tags      []store.Tag
	Err       *Failure
	RequestID string
}

func (LoadOverviewRequested) isEvent()        {}
func (CreateProjectRequested) isEvent()       {}
func (DeleteProjectRequested) isEvent()       {}
func (ListFeaturesRequested) isEvent()        {}
func (CreateFeatureRequested) isEvent()       {}
func (SetFeatureCompletedRequested) isEvent() {}
func (RemoveFeatureRequested) isEvent()       {}
func (CreateTagRequested) isEvent()           {}
func (AttachTagRequested) isEvent()           {}
func (DetachTagRequested) isEvent()           {}
func (ListTagsRequested) isEvent()            {}
func (OverviewLoaded) isEvent()               {}
func (ProjectCreated) isEvent()               {}
func (ProjectDeleted) isEvent()               {}
func (FeaturesListed) isEvent()               {}
func (FeatureCreated) isEvent()               {}
func (FeatureCompletionSet) isEvent()         {}
func (FeatureRemoved) isEvent()               {}
func (TagCreated) isEvent()                   {}
func (TagAttached) isEvent()                  {}
func (TagDetached) isEvent()                  {}
func (TagsListed) isEvent()                   {}

// responseFailure extracts the Err branch from a response event, nil for
// requests and successful responses.
func responseFailure(ev Event) *Failure {
	switch ev := ev.(type) {
	case OverviewLoaded:
		return ev.Err
	case ProjectCreated:
		return ev.Err
	case ProjectDeleted:
		return ev.Err
	case FeaturesListed:
		return ev.Err
	case FeatureCreated:
		return ev.Err
	case FeatureCompletionSet:
		return ev.Err
	case FeatureRemoved:
		return ev.Err
	case TagCreated:
		return ev.Err
	case TagAttached:
		return ev.Err
	case TagDetached:
		return ev.Err
	case TagsListed:
		return ev.Err
	default:
		return nil
	}
}
