package dashboard

import (
	"fmt"

	"github.com/agentworkforce/hearthboard/internal/delta"
	"github.com/agentworkforce/hearthboard/internal/model"
)

type ActionType string

const (
	ActionLoadEvents  ActionType = "load_events"
	ActionLoadSources ActionType = "load_sources"
	ActionLoadChores  ActionType = "load_chores"
	ActionApplyDelta  ActionType = "apply_delta"
	ActionSetSettings ActionType = "set_settings"
	ActionRefresh     ActionType = "refresh"

	// Local optimistic writes.
	ActionUpsertEvent ActionType = "upsert_event"
	ActionRemoveEvent ActionType = "remove_event"
	ActionUpsertChore ActionType = "upsert_chore"
	ActionRemoveChore ActionType = "remove_chore"
)

type Action struct {
	Type     ActionType
	Events   []model.CalendarEvent
	Sources  []model.CalendarSource
	Chores   []model.ChoreAssignment
	Delta    delta.Delta
	Settings model.DisplaySettings
	ID       string
}

func LoadEvents(events []model.CalendarEvent) Action {
	return Action{Type: ActionLoadEvents, Events: events}
}

func LoadSources(sources []model.CalendarSource) Action {
	return Action{Type: ActionLoadSources, Sources: sources}
}

func LoadChores(chores []model.ChoreAssignment) Action {
	return Action{Type: ActionLoadChores, Chores: chores}
}

func ApplyDelta(d delta.Delta) Action {
	return Action{Type: ActionApplyDelta, Delta: d}
}

func SetSettings(settings model.DisplaySettings) Action {
	return Action{Type: ActionSetSettings, Settings: settings}
}

func Refresh() Action {
	return Action{Type: ActionRefresh}
}

func UpsertEvent(ev model.CalendarEvent) Action {
	return Action{Type: ActionUpsertEvent, Events: []model.CalendarEvent{ev}}
}

func RemoveEvent(id string) Action {
	return Action{Type: ActionRemoveEvent, ID: id}
}

func UpsertChore(a model.ChoreAssignment) Action {
	return Action{Type: ActionUpsertChore, Chores: []model.ChoreAssignment{a}}
}

func RemoveChore(id string) Action {
	return Action{Type: ActionRemoveChore, ID: id}
}

// outcome is what a transition produced. changed means lastUpdated must
// advance; dropped counts input rows rejected for a missing id.
type outcome struct {
	state   State
	changed bool
	dropped int
	err     error
}

type transition func(State, Action) outcome

var transitions = map[ActionType]transition{
	ActionLoadEvents:  loadEvents,
	ActionLoadSources: loadSources,
	ActionLoadChores:  loadChores,
	ActionApplyDelta:  applyDelta,
	ActionSetSettings: setSettings,
	ActionRefresh:     refresh,
	ActionUpsertEvent: upsertEvent,
	ActionRemoveEvent: removeEvent,
	ActionUpsertChore: upsertChore,
	ActionRemoveChore: removeChore,
}

func reduce(s State, a Action) outcome {
	fn, ok := transitions[a.Type]
	if !ok {
		return outcome{state: s, err: fmt.Errorf("unknown action %q", a.Type)}
	}
	return fn(s, a)
}

func loadEvents(s State, a Action) outcome {
	next, dropped := keyRows(a.Events)
	s.Events = next
	return outcome{state: s, changed: true, dropped: dropped}
}

func loadSources(s State, a Action) outcome {
	next, dropped := keyRows(a.Sources)
	s.Sources = next
	return outcome{state: s, changed: true, dropped: dropped}
}

func loadChores(s State, a Action) outcome {
	next, dropped := keyRows(a.Chores)
	s.Chores = next
	s.Partial = false
	return outcome{state: s, changed: true, dropped: dropped}
}

func keyRows[R model.Row](rows []R) (map[string]R, int) {
	out := make(map[string]R, len(rows))
	dropped := 0
	for _, row := range rows {
		id := row.RowID()
		if id == "" {
			dropped++
			continue
		}
		out[id] = row
	}
	return out, dropped
}

func setSettings(s State, a Action) outcome {
	s.Settings = a.Settings
	s.SettingsLoaded = true
	return outcome{state: s, changed: true}
}

func refresh(s State, _ Action) outcome {
	return outcome{state: s, changed: true}
}

func applyDelta(s State, a Action) outcome {
	d := a.Delta
	id := d.ID()
	if id == "" {
		return outcome{state: s, err: model.ErrMissingID}
	}
	var out outcome
	switch d.Entity {
	case model.EntityEvents:
		var ev model.CalendarEvent
		if d.After != nil {
			var ok bool
			if ev, ok = d.After.(model.CalendarEvent); !ok {
				return outcome{state: s, err: fmt.Errorf("events delta carries %T", d.After)}
			}
		}
		s.Events, out.changed = applyRow(s.Events, d.Op, id, ev, replaceRow[model.CalendarEvent])
	case model.EntityCalendarSources:
		var src model.CalendarSource
		if d.After != nil {
			var ok bool
			if src, ok = d.After.(model.CalendarSource); !ok {
				return outcome{state: s, err: fmt.Errorf("calendar_sources delta carries %T", d.After)}
			}
		}
		s.Sources, out.changed = applyRow(s.Sources, d.Op, id, src, replaceRow[model.CalendarSource])
	case model.EntityChoreAssignments:
		var asg model.ChoreAssignment
		if d.After != nil {
			var ok bool
			if asg, ok = d.After.(model.ChoreAssignment); !ok {
				return outcome{state: s, err: fmt.Errorf("chore_assignments delta carries %T", d.After)}
			}
		}
		s.Chores, out.changed = applyRow(s.Chores, d.Op, id, asg, mergeChore)
	default:
		return outcome{state: s, err: fmt.Errorf("unknown entity %q", d.Entity)}
	}
	if d.Entity.PartialRows() {
		// Feed rows for this table lack joined data; bump freshness even on
		// a no-op so the session can decide to refetch the full snapshot.
		out.changed = true
		if asg, ok := d.After.(model.ChoreAssignment); ok && !asg.HasChoreSummary() {
			s.Partial = true
		}
	}
	out.state = s
	return out
}

// applyRow applies one delta operation to rows. It returns the original map
// untouched when the operation is a no-op.
func applyRow[R model.Row](rows map[string]R, op delta.Operation, id string, after R, update func(prev, next R) R) (map[string]R, bool) {
	prev, exists := rows[id]
	switch op {
	case delta.OpInsert:
		if exists {
			return rows, false
		}
		next := copyMap(rows)
		next[id] = after
		return next, true
	case delta.OpUpdate:
		if !exists {
			return rows, false
		}
		next := copyMap(rows)
		next[id] = update(prev, after)
		return next, true
	case delta.OpDelete:
		if !exists {
			return rows, false
		}
		next := copyMap(rows)
		delete(next, id)
		return next, true
	default:
		return rows, false
	}
}

func replaceRow[R model.Row](_, next R) R {
	return next
}

// mergeChore takes the mutable fields from next. When next carries no chore
// title, the chore and user summaries already known for the assignment are
// kept rather than overwritten with empty data.
func mergeChore(prev, next model.ChoreAssignment) model.ChoreAssignment {
	if next.HasChoreSummary() {
		return next
	}
	next.Chore = prev.Chore
	next.User = prev.User
	return next
}

func upsertEvent(s State, a Action) outcome {
	if len(a.Events) == 0 || a.Events[0].ID == "" {
		return outcome{state: s, err: model.ErrMissingID}
	}
	ev := a.Events[0]
	s.Events = copyMap(s.Events)
	s.Events[ev.ID] = ev
	return outcome{state: s, changed: true}
}

func removeEvent(s State, a Action) outcome {
	if a.ID == "" {
		return outcome{state: s, err: model.ErrMissingID}
	}
	if _, ok := s.Events[a.ID]; !ok {
		return outcome{state: s}
	}
	s.Events = copyMap(s.Events)
	delete(s.Events, a.ID)
	return outcome{state: s, changed: true}
}

func upsertChore(s State, a Action) outcome {
	if len(a.Chores) == 0 || a.Chores[0].ID == "" {
		return outcome{state: s, err: model.ErrMissingID}
	}
	asg := a.Chores[0]
	if prev, ok := s.Chores[asg.ID]; ok {
		asg = mergeChore(prev, asg)
	}
	s.Chores = copyMap(s.Chores)
	s.Chores[asg.ID] = asg
	return outcome{state: s, changed: true}
}

func removeChore(s State, a Action) outcome {
	if a.ID == "" {
		return outcome{state: s, err: model.ErrMissingID}
	}
	if _, ok := s.Chores[a.ID]; !ok {
		return outcome{state: s}
	}
	s.Chores = copyMap(s.Chores)
	delete(s.Chores, a.ID)
	return outcome{state: s, changed: true}
}
