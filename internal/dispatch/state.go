package dispatch

import "github.com/emberworks/ember/internal/store"

// State is the application state owned exclusively by the loop goroutine.
// Nothing outside the loop sees it directly; subscribers get deep copies via
// Snapshot on every applied event.
type State struct {
	Overview []store.ProjectOverview
	Tags     []store.Tag

	pending map[string]int     // kind -> outstanding task units
	errors  map[string]Failure // kind -> last failure, cleared on next request
}

func newState() *State {
	return &State{
		pending: make(map[string]int),
		errors:  make(map[string]Failure),
	}
}

// Snapshot is the published view of loop state. Busy holds an entry only for
// kinds with work outstanding; Errors holds each kind's most recent failure.
// A snapshot is a deep copy and may be kept or mutated freely by subscribers.
type Snapshot struct {
	Overview []store.ProjectOverview
	Tags     []store.Tag
	Busy     map[string]bool
	Errors   map[string]Failure
}

func (s *State) begin(kind string) {
	s.pending[kind]++
	delete(s.errors, kind)
}

func (s *State) finish(kind string, f *Failure) {
	if s.pending[kind] > 0 {
		s.pending[kind]--
		if s.pending[kind] == 0 {
			delete(s.pending, kind)
		}
	}
	if f != nil {
		s.errors[kind] = *f
	}
}

// outstanding counts dispatched requests whose responses are not yet applied.
func (s *State) outstanding() int {
	total := 0
	for _, n := range s.pending {
		total += n
	}
	return total
}

func (s *State) setOverview(rows []store.ProjectOverview) {
	s.Overview = rows
}

// insertProject prepends, matching the store's newest-first ordering.
func (s *State) insertProject(p store.Project) {
	s.Overview = append([]store.ProjectOverview{{Project: p}}, s.Overview...)
}

func (s *State) removeProject(id int64) {
	kept := s.Overview[:0]
	for _, row := range s.Overview {
		if row.Project.ID != id {
			kept = append(kept, row)
		}
	}
	s.Overview = kept
}

// entry returns a pointer into Overview for in-place updates, nil when the
// project is no longer present. Responses for vanished projects are dropped
// silently; a racing delete already rewrote the state they would patch.
func (s *State) entry(projectID int64) *store.ProjectOverview {
	for i := range s.Overview {
		if s.Overview[i].Project.ID == projectID {
			return &s.Overview[i]
		}
	}
	return nil
}

func (s *State) setFeatures(projectID int64, feats []store.Feature) {
	if row := s.entry(projectID); row != nil {
		row.Features = feats
	}
}

func (s *State) addFeature(f store.Feature) {
	if row := s.entry(f.ProjectID); row != nil {
		row.Features = append(row.Features, f)
	}
}

func (s *State) setFeatureCompleted(featureID int64, completed bool) {
	for i := range s.Overview {
		feats := s.Overview[i].Features
		for j := range feats {
			if feats[j].ID == featureID {
				feats[j].Completed = completed
				return
			}
		}
	}
}

func (s *State) removeFeature(featureID int64) {
	for i := range s.Overview {
		feats := s.Overview[i].Features
		for j := range feats {
			if feats[j].ID == featureID {
				s.Overview[i].Features = append(feats[:j], feats[j+1:]...)
				return
			}
		}
	}
}

func (s *State) setTags(tags []store.Tag) {
	s.Tags = tags
}

// insertTag keeps Tags in the store's name order.
func (s *State) insertTag(t store.Tag) {
	for i := range s.Tags {
		if s.Tags[i].Name > t.Name {
			s.Tags = append(s.Tags[:i], append([]store.Tag{t}, s.Tags[i:]...)...)
			return
		}
	}
	s.Tags = append(s.Tags, t)
}

func (s *State) setProjectTags(projectID int64, tags []store.Tag) {
	if row := s.entry(projectID); row != nil {
		row.Tags = tags
	}
}

func (s *State) snapshot() Snapshot {
	snap := Snapshot{
		Overview: make([]store.ProjectOverview, len(s.Overview)),
		Tags:     append([]store.Tag(nil), s.Tags...),
		Busy:     make(map[string]bool, len(s.pending)),
		Errors:   make(map[string]Failure, len(s.errors)),
	}
	for i, row := range s.Overview {
		snap.Overview[i] = store.ProjectOverview{
			Project:  row.Project,
			Tags:     append([]store.Tag(nil), row.Tags...),
			Features: append([]store.Feature(nil), row.Features...),
		}
	}
	for kind, n := range s.pending {
		if n > 0 {
			snap.Busy[kind] = true
		}
	}
	for kind, f := range s.errors {
		snap.Errors[kind] = f
	}
	return snap
}
