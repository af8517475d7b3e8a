package dispatch

import (
	"testing"

	"github.com/emberworks/ember/internal/store"
)

func TestState_BusyCountsOverlappingRequests(t *testing.T) {
	s := newState()
	s.begin(KindCreateProject)
	s.begin(KindCreateProject)

	if snap := s.snapshot(); !snap.Busy[KindCreateProject] {
		t.Fatal("kind with outstanding work must be busy")
	}

	s.finish(KindCreateProject, nil)
	if snap := s.snapshot(); !snap.Busy[KindCreateProject] {
		t.Fatal("kind must stay busy while one request is still outstanding")
	}

	s.finish(KindCreateProject, nil)
	snap := s.snapshot()
	if _, ok := snap.Busy[KindCreateProject]; ok {
		t.Fatalf("busy map = %#v, want no entry once all responses applied", snap.Busy)
	}
	if s.outstanding() != 0 {
		t.Errorf("outstanding = %d, want 0", s.outstanding())
	}
}

func TestState_ErrorClearedByNextRequest(t *testing.T) {
	s := newState()
	s.begin(KindCreateTag)
	s.finish(KindCreateTag, &Failure{Kind: store.KindConflict, Message: "tag exists"})

	if snap := s.snapshot(); snap.Errors[KindCreateTag].Kind != store.KindConflict {
		t.Fatalf("errors = %#v, want the recorded conflict", snap.Errors)
	}

	s.begin(KindCreateTag)
	if snap := s.snapshot(); len(snap.Errors) != 0 {
		t.Fatalf("errors = %#v, want cleared on retry", snap.Errors)
	}
}

func TestState_StrayResponseDoesNotUnderflow(t *testing.T) {
	s := newState()
	s.finish(KindListTags, nil)
	if got := s.outstanding(); got != 0 {
		t.Errorf("outstanding = %d, want 0", got)
	}
}

func TestState_SnapshotIsDeepCopy(t *testing.T) {
	s := newState()
	s.insertProject(store.Project{ID: 1, Name: "alpha"})
	s.addFeature(store.Feature{ID: 7, ProjectID: 1, Description: "feature"})
	s.setProjectTags(1, []store.Tag{{ID: 3, Name: "cli"}})
	s.setTags([]store.Tag{{ID: 3, Name: "cli"}})
	s.begin(KindLoadOverview)

	snap := s.snapshot()
	snap.Overview[0].Project.Name = "mutated"
	snap.Overview[0].Features[0].Completed = true
	snap.Overview[0].Tags[0].Name = "mutated"
	snap.Overview = append(snap.Overview, store.ProjectOverview{})
	snap.Tags[0].Name = "mutated"
	snap.Busy["bogus"] = true
	snap.Errors["bogus"] = Failure{}

	if s.Overview[0].Project.Name != "alpha" {
		t.Error("project name leaked through the snapshot")
	}
	if s.Overview[0].Features[0].Completed {
		t.Error("feature flag leaked through the snapshot")
	}
	if s.Overview[0].Tags[0].Name != "cli" {
		t.Error("project tag leaked through the snapshot")
	}
	if len(s.Overview) != 1 {
		t.Errorf("overview length = %d, want 1", len(s.Overview))
	}
	if s.Tags[0].Name != "cli" {
		t.Error("tag list leaked through the snapshot")
	}
	if len(s.errors) != 0 {
		t.Errorf("errors = %#v, want untouched", s.errors)
	}
	if _, ok := s.pending["bogus"]; ok {
		t.Error("pending map leaked through the snapshot")
	}
}

func TestState_RemoveProjectKeepsOthers(t *testing.T) {
	s := newState()
	s.insertProject(store.Project{ID: 1, Name: "first"})
	s.insertProject(store.Project{ID: 2, Name: "second"})
	s.insertProject(store.Project{ID: 3, Name: "third"})

	s.removeProject(2)

	if len(s.Overview) != 2 {
		t.Fatalf("overview = %#v, want two entries", s.Overview)
	}
	if s.Overview[0].Project.ID != 3 || s.Overview[1].Project.ID != 1 {
		t.Errorf("remaining ids = %d, %d, want 3, 1", s.Overview[0].Project.ID, s.Overview[1].Project.ID)
	}
}

func TestState_FeatureOpsTargetTheirProject(t *testing.T) {
	s := newState()
	s.insertProject(store.Project{ID: 1, Name: "alpha"})
	s.insertProject(store.Project{ID: 2, Name: "beta"})
	s.addFeature(store.Feature{ID: 10, ProjectID: 1, Description: "a1"})
	s.addFeature(store.Feature{ID: 11, ProjectID: 1, Description: "a2"})
	s.addFeature(store.Feature{ID: 20, ProjectID: 2, Description: "b1"})

	s.setFeatureCompleted(20, true)
	s.removeFeature(11)

	alpha := s.entry(1)
	beta := s.entry(2)
	if alpha == nil || beta == nil {
		t.Fatal("expected both projects present")
	}
	if len(alpha.Features) != 1 || alpha.Features[0].ID != 10 {
		t.Errorf("alpha features = %#v, want only feature 10", alpha.Features)
	}
	if alpha.Features[0].Completed {
		t.Error("completion flip hit the wrong feature")
	}
	if len(beta.Features) != 1 || !beta.Features[0].Completed {
		t.Errorf("beta features = %#v, want feature 20 completed", beta.Features)
	}
}

func TestState_ResponsesForVanishedProjectsAreIgnored(t *testing.T) {
	s := newState()
	s.insertProject(store.Project{ID: 1, Name: "alpha"})

	s.setFeatures(99, []store.Feature{{ID: 5, ProjectID: 99}})
	s.addFeature(store.Feature{ID: 6, ProjectID: 99})
	s.setProjectTags(99, []store.Tag{{ID: 4, Name: "ghost"}})

	if len(s.Overview) != 1 {
		t.Fatalf("overview = %#v, want untouched", s.Overview)
	}
	if got := s.Overview[0]; len(got.Features) != 0 || len(got.Tags) != 0 {
		t.Errorf("entry = %#v, want no features or tags", got)
	}
}

func TestState_InsertTagKeepsNameOrder(t *testing.T) {
	s := newState()
	s.setTags([]store.Tag{{ID: 1, Name: "ada"}, {ID: 2, Name: "zig"}})

	s.insertTag(store.Tag{ID: 3, Name: "mint"})
	s.insertTag(store.Tag{ID: 4, Name: "aa"})
	s.insertTag(store.Tag{ID: 5, Name: "zz"})

	want := []string{"aa", "ada", "mint", "zig", "zz"}
	if len(s.Tags) != len(want) {
		t.Fatalf("tags = %#v, want %d entries", s.Tags, len(want))
	}
	for i, name := range want {
		if s.Tags[i].Name != name {
			t.Errorf("Tags[%d] = %q, want %q", i, s.Tags[i].Name, name)
		}
	}
}

type strayEvent struct{}

func (strayEvent) isEvent() {}

func TestApplyEvent_UnknownEventRejected(t *testing.T) {
	l, _, _ := newTestLoop(t, Config{})

	if l.applyEvent(strayEvent{}) {
		t.Error("events outside the union must not apply")
	}
	if got := l.state.outstanding(); got != 0 {
		t.Errorf("outstanding = %d, want 0", got)
	}
}
