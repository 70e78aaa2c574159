// Package dashboard holds the display's synchronized state store.
//
// All mutation goes through Store.Dispatch, which looks up a pure transition
// for the action's type and swaps in the resulting State. Dispatch is the
// single point of serialization: reads observe the latest applied transition
// as soon as Dispatch returns.
package dashboard

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/agentworkforce/hearthboard/internal/delta"
	"github.com/agentworkforce/hearthboard/internal/metrics"
	"github.com/agentworkforce/hearthboard/internal/model"
)

type StoreOptions struct {
	Logger  *slog.Logger
	Metrics *metrics.Collectors
	Now     func() time.Time
}

type Store struct {
	mu      sync.Mutex
	state   State
	subs    map[int]chan State
	nextSub int

	logger  *slog.Logger
	metrics *metrics.Collectors
	now     func() time.Time
}

func NewStore(opts StoreOptions) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		state:   emptyState(),
		subs:    map[int]chan State{},
		logger:  logger,
		metrics: opts.Metrics,
		now:     now,
	}
}

// Dispatch applies a to the current state. A rejected action leaves the
// state untouched, is logged as a warning and is returned as an error.
func (s *Store) Dispatch(a Action) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := reduce(s.state, a)
	if out.err != nil {
		s.logger.Warn("dropping state action",
			"action", a.Type,
			"entity", a.Delta.Entity,
			"error", out.err,
		)
		if a.Type == ActionApplyDelta {
			s.metrics.DeltaDropped(dropReason(out.err))
		}
		return s.state, out.err
	}
	if out.dropped > 0 {
		s.logger.Warn("dropped snapshot rows without id", "action", a.Type, "dropped", out.dropped)
	}
	if !out.changed {
		return s.state, nil
	}
	next := out.state
	next.LastUpdated = s.advance(s.state.LastUpdated)
	s.state = next
	if a.Type == ActionApplyDelta {
		s.metrics.DeltaApplied(a.Delta.Entity, string(a.Delta.Op))
	}
	s.metrics.StoreChanged(next.Counts(), next.LastUpdated)
	s.notifyLocked()
	return next, nil
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) LastUpdated() time.Time {
	return s.State().LastUpdated
}

func (s *Store) LoadEvents(events []model.CalendarEvent) error {
	_, err := s.Dispatch(LoadEvents(events))
	return err
}

func (s *Store) LoadSources(sources []model.CalendarSource) error {
	_, err := s.Dispatch(LoadSources(sources))
	return err
}

func (s *Store) LoadChores(chores []model.ChoreAssignment) error {
	_, err := s.Dispatch(LoadChores(chores))
	return err
}

func (s *Store) ApplyDelta(d delta.Delta) error {
	_, err := s.Dispatch(ApplyDelta(d))
	return err
}

func (s *Store) SetSettings(settings model.DisplaySettings) error {
	_, err := s.Dispatch(SetSettings(settings))
	return err
}

func (s *Store) Refresh() {
	_, _ = s.Dispatch(Refresh())
}

// Subscribe returns a channel that receives the latest State after each
// transition. Slow readers only ever see the most recent State. The returned
// func unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan State, 1)
	s.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *Store) notifyLocked() {
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s.state
	}
}

// advance returns a timestamp strictly after prev.
func (s *Store) advance(prev time.Time) time.Time {
	now := s.now()
	if !now.After(prev) {
		return prev.Add(time.Nanosecond)
	}
	return now
}

func dropReason(err error) string {
	if errors.Is(err, model.ErrMissingID) {
		return "missing_id"
	}
	return "invalid"
}
