package dashboard

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/hearthboard/internal/delta"
	"github.com/agentworkforce/hearthboard/internal/model"
)

// frozenClock returns the same instant on every call so tests can observe
// the store's own monotonic bump.
func frozenClock() func() time.Time {
	at := time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(StoreOptions{Now: frozenClock()})
}

func event(id, title string) model.CalendarEvent {
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	return model.CalendarEvent{
		ID:        id,
		SourceID:  "src_1",
		Title:     title,
		StartTime: start,
		EndTime:   start.Add(time.Hour),
	}
}

func assignment(id, title string) model.ChoreAssignment {
	a := model.ChoreAssignment{ID: id, ChoreID: "chore_" + id, DueDate: "2026-10-19"}
	if title != "" {
		a.Chore = &model.ChoreSummary{Title: title, Icon: "sink", Points: 3}
		a.User = &model.UserSummary{DisplayName: "Sam"}
	}
	return a
}

func TestSnapshotUpdateDeleteScenario(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.LoadEvents([]model.CalendarEvent{event("A", "Swim"), event("B", "Piano")}))

	require.NoError(t, s.ApplyDelta(delta.Delta{
		Entity: model.EntityEvents,
		Op:     delta.OpUpdate,
		After:  event("A", "Swim practice"),
	}))
	require.NoError(t, s.ApplyDelta(delta.Delta{
		Entity: model.EntityEvents,
		Op:     delta.OpDelete,
		Before: model.CalendarEvent{ID: "B"},
	}))

	events := s.State().EventList()
	require.Len(t, events, 1)
	assert.Equal(t, "A", events[0].ID)
	assert.Equal(t, "Swim practice", events[0].Title)
}

func TestChoreUpdateWithoutTitleKeepsKnownSummary(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.LoadChores([]model.ChoreAssignment{assignment("ca_1", "Dishes")}))

	done := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	assignee := "user_2"
	update := model.ChoreAssignment{
		ID:          "ca_1",
		ChoreID:     "chore_ca_1",
		DueDate:     "2026-10-20",
		AssignedTo:  &assignee,
		CompletedAt: &done,
		Chore:       &model.ChoreSummary{},
	}
	require.NoError(t, s.ApplyDelta(delta.Delta{Entity: model.EntityChoreAssignments, Op: delta.OpUpdate, After: update}))

	got := s.State().Chores["ca_1"]
	require.NotNil(t, got.Chore)
	assert.Equal(t, "Dishes", got.Chore.Title)
	require.NotNil(t, got.User)
	assert.Equal(t, "Sam", got.User.DisplayName)
	assert.Equal(t, "2026-10-20", got.DueDate)
	assert.Equal(t, &assignee, got.AssignedTo)
	assert.True(t, got.Completed())
	assert.True(t, s.State().Partial)
}

func TestChoreUpdateWithNilSummaryKeepsKnownSummary(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.LoadChores([]model.ChoreAssignment{assignment("ca_1", "Dishes")}))

	require.NoError(t, s.ApplyDelta(delta.Delta{
		Entity: model.EntityChoreAssignments,
		Op:     delta.OpUpdate,
		After:  model.ChoreAssignment{ID: "ca_1", ChoreID: "chore_ca_1", DueDate: "2026-10-21"},
	}))

	got := s.State().Chores["ca_1"]
	assert.Equal(t, "Dishes", got.Chore.Title)
	assert.Equal(t, "2026-10-21", got.DueDate)
}

func TestChoreUpdateWithTitleReplacesSummary(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.LoadChores([]model.ChoreAssignment{assignment("ca_1", "Dishes")}))

	require.NoError(t, s.ApplyDelta(delta.Delta{
		Entity: model.EntityChoreAssignments,
		Op:     delta.OpUpdate,
		After:  assignment("ca_1", "Laundry"),
	}))

	assert.Equal(t, "Laundry", s.State().Chores["ca_1"].Chore.Title)
	assert.False(t, s.State().Partial)
}

func TestChoreSnapshotClearsPartialFlag(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ApplyDelta(delta.Delta{
		Entity: model.EntityChoreAssignments,
		Op:     delta.OpInsert,
		After:  assignment("ca_9", ""),
	}))
	require.True(t, s.State().Partial)

	require.NoError(t, s.LoadChores([]model.ChoreAssignment{assignment("ca_9", "Trash")}))
	assert.False(t, s.State().Partial)
	assert.Equal(t, "Trash", s.State().Chores["ca_9"].Chore.Title)
}

func TestDeleteOfAbsentIDIsNoop(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.LoadEvents([]model.CalendarEvent{event("A", "Swim")}))
	before := s.State()

	require.NoError(t, s.ApplyDelta(delta.Delta{
		Entity: model.EntityEvents,
		Op:     delta.OpDelete,
		Before: model.CalendarEvent{ID: "missing"},
	}))

	after := s.State()
	assert.Equal(t, before.LastUpdated, after.LastUpdated)
	assert.Equal(t, before.Events, after.Events)
}

func TestDuplicateInsertIsNoop(t *testing.T) {
	s := newTestStore(t)
	first := delta.Delta{Entity: model.EntityCalendarSources, Op: delta.OpInsert, After: model.CalendarSource{ID: "s1", Name: "Family"}}
	second := delta.Delta{Entity: model.EntityCalendarSources, Op: delta.OpInsert, After: model.CalendarSource{ID: "s1", Name: "Work"}}

	require.NoError(t, s.ApplyDelta(first))
	stamp := s.LastUpdated()
	require.NoError(t, s.ApplyDelta(second))

	assert.Equal(t, "Family", s.State().Sources["s1"].Name)
	assert.Equal(t, stamp, s.LastUpdated())
}

func TestUpdateOfAbsentEventIsNoop(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ApplyDelta(delta.Delta{Entity: model.EntityEvents, Op: delta.OpUpdate, After: event("ghost", "x")}))
	assert.Empty(t, s.State().Events)
	assert.True(t, s.LastUpdated().IsZero())
}

func TestPartialRowNoopStillBumpsFreshness(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ApplyDelta(delta.Delta{
		Entity: model.EntityChoreAssignments,
		Op:     delta.OpUpdate,
		After:  assignment("unknown", ""),
	}))
	assert.Empty(t, s.State().Chores)
	assert.False(t, s.LastUpdated().IsZero())
	assert.True(t, s.State().Partial)
}

func TestMalformedDeltaLeavesStoreIntact(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.LoadEvents([]model.CalendarEvent{event("A", "Swim")}))
	before := s.State()

	err := s.ApplyDelta(delta.Delta{Entity: model.EntityEvents, Op: delta.OpUpdate, After: model.CalendarEvent{}})
	require.ErrorIs(t, err, model.ErrMissingID)

	err = s.ApplyDelta(delta.Delta{Entity: model.EntityEvents, Op: delta.OpUpdate, After: model.CalendarSource{ID: "A"}})
	require.Error(t, err)

	assert.Equal(t, before, s.State())
}

func TestSnapshotDropsRowsWithoutID(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.LoadEvents([]model.CalendarEvent{event("A", "Swim"), event("", "bad"), event("A", "Swim again")}))
	events := s.State().Events
	require.Len(t, events, 1)
	assert.Equal(t, "Swim again", events["A"].Title)
}

func TestSnapshotLoadIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	rows := []model.CalendarEvent{event("A", "Swim"), event("B", "Piano")}
	require.NoError(t, s.LoadEvents(rows))
	first := s.State().Events
	require.NoError(t, s.LoadEvents(rows))
	assert.Equal(t, first, s.State().Events)
}

func TestSettingsDoNotTouchCollections(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.LoadEvents([]model.CalendarEvent{event("A", "Swim")}))
	require.NoError(t, s.LoadChores([]model.ChoreAssignment{assignment("ca_1", "Dishes")}))
	before := s.State()

	settings := model.DefaultDisplaySettings()
	settings.Theme = "light"
	settings.ReloadTime = "04:15"
	require.NoError(t, s.SetSettings(settings))

	after := s.State()
	assert.Equal(t, before.Events, after.Events)
	assert.Equal(t, before.Chores, after.Chores)
	assert.Equal(t, "light", after.Settings.Theme)
	assert.True(t, after.SettingsLoaded)
}

func TestLastUpdatedAdvancesMonotonically(t *testing.T) {
	s := newTestStore(t)
	var stamps []time.Time
	require.NoError(t, s.LoadEvents([]model.CalendarEvent{event("A", "Swim")}))
	stamps = append(stamps, s.LastUpdated())
	s.Refresh()
	stamps = append(stamps, s.LastUpdated())
	require.NoError(t, s.ApplyDelta(delta.Delta{Entity: model.EntityEvents, Op: delta.OpInsert, After: event("B", "Piano")}))
	stamps = append(stamps, s.LastUpdated())

	for i := 1; i < len(stamps); i++ {
		assert.True(t, stamps[i].After(stamps[i-1]), "stamp %d (%s) not after %s", i, stamps[i], stamps[i-1])
	}
}

func TestOptimisticChoreUpsertMergesSummary(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.LoadChores([]model.ChoreAssignment{assignment("ca_1", "Dishes")}))

	done := time.Now()
	local := model.ChoreAssignment{ID: "ca_1", ChoreID: "chore_ca_1", CompletedAt: &done}
	_, err := s.Dispatch(UpsertChore(local))
	require.NoError(t, err)
	assert.Equal(t, "Dishes", s.State().Chores["ca_1"].Chore.Title)

	_, err = s.Dispatch(RemoveChore("ca_1"))
	require.NoError(t, err)
	assert.Empty(t, s.State().Chores)
}

func TestUnknownActionIsRejected(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Dispatch(Action{Type: "bogus"})
	require.Error(t, err)
}

func TestSubscribeReceivesLatestState(t *testing.T) {
	s := newTestStore(t)
	updates, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.LoadEvents([]model.CalendarEvent{event("A", "Swim")}))
	require.NoError(t, s.LoadEvents([]model.CalendarEvent{event("A", "Swim"), event("B", "Piano")}))

	select {
	case st := <-updates:
		assert.Len(t, st.Events, 2)
	case <-time.After(time.Second):
		t.Fatal("expected a state update")
	}

	cancel()
	_, open := <-updates
	assert.False(t, open)
}

// TestRandomDeltaSequencesMatchOracle applies random INSERT/UPDATE/DELETE
// sequences over a handful of ids and checks the store against a direct
// model of the per-id rules. Redundant INSERTs and DELETEs must not change
// the outcome.
func TestRandomDeltaSequencesMatchOracle(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ops := []delta.Operation{delta.OpInsert, delta.OpUpdate, delta.OpDelete}
	ids := []string{"a", "b", "c"}

	for run := 0; run < 200; run++ {
		s := newTestStore(t)
		oracle := map[string]string{}
		steps := 1 + rng.Intn(12)
		for i := 0; i < steps; i++ {
			id := ids[rng.Intn(len(ids))]
			op := ops[rng.Intn(len(ops))]
			title := fmt.Sprintf("%s-%d", id, i)
			d := delta.Delta{Entity: model.EntityEvents, Op: op}
			switch op {
			case delta.OpDelete:
				d.Before = model.CalendarEvent{ID: id}
			default:
				d.After = event(id, title)
			}
			require.NoError(t, s.ApplyDelta(d))
			_, exists := oracle[id]
			switch {
			case op == delta.OpInsert && !exists:
				oracle[id] = title
			case op == delta.OpUpdate && exists:
				oracle[id] = title
			case op == delta.OpDelete:
				delete(oracle, id)
			}

			if op != delta.OpUpdate {
				// Replaying the same INSERT or DELETE must be a no-op.
				stamp := s.LastUpdated()
				require.NoError(t, s.ApplyDelta(d))
				require.Equal(t, stamp, s.LastUpdated())
			}
		}

		got := map[string]string{}
		for id, ev := range s.State().Events {
			got[id] = ev.Title
		}
		require.Equal(t, oracle, got, "run %d", run)
	}
}
