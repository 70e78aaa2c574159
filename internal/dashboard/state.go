package dashboard

import (
	"sort"
	"time"

	"github.com/agentworkforce/hearthboard/internal/model"
)

// State is an immutable view of the dashboard. Transitions copy the
// collections they touch, so a State obtained from the store may be read
// from any goroutine but must not be modified.
type State struct {
	Events         map[string]model.CalendarEvent
	Sources        map[string]model.CalendarSource
	Chores         map[string]model.ChoreAssignment
	Settings       model.DisplaySettings
	SettingsLoaded bool
	LastUpdated    time.Time

	// Partial is set when a change-feed row without joined data was merged
	// into Chores, and cleared by the next chore snapshot.
	Partial bool
}

func emptyState() State {
	return State{
		Events:   map[string]model.CalendarEvent{},
		Sources:  map[string]model.CalendarSource{},
		Chores:   map[string]model.ChoreAssignment{},
		Settings: model.DefaultDisplaySettings(),
	}
}

func (s State) Counts() map[model.EntityType]int {
	return map[model.EntityType]int{
		model.EntityEvents:           len(s.Events),
		model.EntityCalendarSources:  len(s.Sources),
		model.EntityChoreAssignments: len(s.Chores),
	}
}

// EventList returns events ordered by start time, then id.
func (s State) EventList() []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(s.Events))
	for _, ev := range s.Events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ChoreList returns assignments ordered by due date, open before completed.
func (s State) ChoreList() []model.ChoreAssignment {
	out := make([]model.ChoreAssignment, 0, len(s.Chores))
	for _, a := range s.Chores {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Completed() != out[j].Completed() {
			return !out[i].Completed()
		}
		if out[i].DueDate != out[j].DueDate {
			return out[i].DueDate < out[j].DueDate
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s State) SourceList() []model.CalendarSource {
	out := make([]model.CalendarSource, 0, len(s.Sources))
	for _, src := range s.Sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
