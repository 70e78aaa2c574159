// Package session runs the display's owning loop: it seeds the state store
// from REST snapshots, feeds it decoded change-feed deltas and performs
// optimistic writes on behalf of the UI.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/agentworkforce/hearthboard/internal/dashboard"
	"github.com/agentworkforce/hearthboard/internal/delta"
	"github.com/agentworkforce/hearthboard/internal/metrics"
	"github.com/agentworkforce/hearthboard/internal/model"
)

var ErrNotFound = errors.New("not found in store")

type Backend interface {
	ListEvents(ctx context.Context, householdID string) ([]model.CalendarEvent, error)
	ListCalendarSources(ctx context.Context, householdID string) ([]model.CalendarSource, error)
	ListChoreAssignments(ctx context.Context, householdID string) ([]model.ChoreAssignment, error)
	GetDisplaySettings(ctx context.Context, displayID string) (model.DisplaySettings, error)
	CompleteChore(ctx context.Context, assignmentID string) (model.ChoreAssignment, error)
	UncompleteChore(ctx context.Context, assignmentID string) (model.ChoreAssignment, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

// Feed is the connection side the session consumes. *realtime.Supervisor
// implements it.
type Feed interface {
	Messages() <-chan []byte
	RetryAt() time.Time
	Unauthorized() bool
	RetryNow()
}

// Banner is the connection state shown to the household.
type Banner struct {
	Status       model.ConnectionStatus
	NeedsPairing bool
	RetryAt      time.Time
}

func (b Banner) Visible() bool {
	return b.NeedsPairing || b.Status != model.StatusConnected
}

type Options struct {
	Store       *dashboard.Store
	Backend     Backend
	Feed        Feed
	Decoder     *delta.Decoder
	HouseholdID string
	DisplayID   string
	Logger      *slog.Logger
	Metrics     *metrics.Collectors
	// Timeout bounds each REST call made by the loop.
	Timeout time.Duration
	// RefetchEvery is the minimum spacing of chore refetches triggered by
	// partial deltas.
	RefetchEvery time.Duration
	Now          func() time.Time
}

type Session struct {
	store       *dashboard.Store
	backend     Backend
	feed        Feed
	decoder     *delta.Decoder
	householdID string
	displayID   string
	logger      *slog.Logger
	metrics     *metrics.Collectors
	timeout     time.Duration
	refetchTick time.Duration
	limiter     *rate.Limiter
	now         func() time.Time

	wake chan struct{}

	mu            sync.Mutex
	status        model.ConnectionStatus
	everConnected bool
	dropped       bool
	resyncPending bool
	authFailed    bool
	localSettings *model.DisplaySettings
}

func New(opts Options) (*Session, error) {
	if opts.Store == nil || opts.Backend == nil || opts.Decoder == nil {
		return nil, fmt.Errorf("session requires a store, backend and decoder")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	every := opts.RefetchEvery
	if every <= 0 {
		every = 10 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		store:       opts.Store,
		backend:     opts.Backend,
		feed:        opts.Feed,
		decoder:     opts.Decoder,
		householdID: opts.HouseholdID,
		displayID:   opts.DisplayID,
		logger:      logger,
		metrics:     opts.Metrics,
		timeout:     timeout,
		refetchTick: every,
		limiter:     rate.NewLimiter(rate.Every(every), 1),
		now:         now,
		wake:        make(chan struct{}, 1),
		status:      model.StatusDisconnected,
	}, nil
}

// OnStatus records a connection status change. It does not block and does
// not call into the feed, so it is safe as a supervisor status callback.
func (s *Session) OnStatus(status model.ConnectionStatus) {
	s.mu.Lock()
	s.status = status
	switch status {
	case model.StatusConnected:
		s.everConnected = true
		if s.dropped {
			s.dropped = false
			s.resyncPending = true
		}
	case model.StatusReconnecting, model.StatusDisconnected:
		if s.everConnected {
			s.dropped = true
		}
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Session) Banner() Banner {
	s.mu.Lock()
	b := Banner{Status: s.status, NeedsPairing: s.authFailed}
	s.mu.Unlock()
	if s.feed != nil {
		b.NeedsPairing = b.NeedsPairing || s.feed.Unauthorized()
		if b.Status == model.StatusReconnecting {
			b.RetryAt = s.feed.RetryAt()
		}
	}
	return b
}

// RetryNow asks the feed to reconnect immediately and the loop to resync.
func (s *Session) RetryNow() {
	s.mu.Lock()
	s.authFailed = false
	s.resyncPending = true
	s.mu.Unlock()
	if s.feed != nil {
		s.feed.RetryNow()
	}
	s.signal()
}

func (s *Session) Refresh() {
	s.store.Refresh()
}

// ApplyLocalSettings overrides the server's display settings until the
// process restarts.
func (s *Session) ApplyLocalSettings(settings model.DisplaySettings) {
	s.mu.Lock()
	copied := settings
	s.localSettings = &copied
	s.mu.Unlock()
	_ = s.store.SetSettings(settings)
}

// Run owns the store until ctx is done or the feed's message channel closes.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Sync(ctx); err != nil {
		s.logger.Warn("initial snapshot incomplete", "error", err)
	}
	var messages <-chan []byte
	if s.feed != nil {
		messages = s.feed.Messages()
	}
	ticker := time.NewTicker(s.refetchTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-messages:
			if !ok {
				return nil
			}
			s.HandleFrame(raw)
			s.maybeRefetchChores(ctx)
		case <-s.wake:
			s.handleWake(ctx)
		case <-ticker.C:
			s.maybeRefetchChores(ctx)
		}
	}
}

// HandleFrame decodes one change-feed frame and applies it to the store.
func (s *Session) HandleFrame(raw []byte) {
	d, ok, err := s.decoder.Decode(raw)
	if err != nil {
		s.logger.Warn("dropping malformed delta", "error", err)
		reason := "malformed"
		if errors.Is(err, model.ErrMissingID) {
			reason = "missing_id"
		}
		s.metrics.DeltaDropped(reason)
		return
	}
	if !ok {
		s.logger.Debug("ignoring frame for unknown table")
		return
	}
	_ = s.store.ApplyDelta(d)
}

func (s *Session) handleWake(ctx context.Context) {
	s.mu.Lock()
	resync := s.resyncPending
	s.resyncPending = false
	s.mu.Unlock()
	if !resync {
		return
	}
	s.logger.Info("resynchronizing snapshots after reconnect")
	if err := s.Sync(ctx); err != nil {
		s.logger.Warn("resync incomplete", "error", err)
	}
}

func (s *Session) maybeRefetchChores(ctx context.Context) {
	if !s.store.State().Partial || !s.limiter.Allow() {
		return
	}
	rows, err := s.fetchChores(ctx)
	s.metrics.SnapshotLoaded(model.EntityChoreAssignments, err)
	if err != nil {
		s.noteError(err)
		s.logger.Warn("chore refetch failed", "error", err)
		return
	}
	_ = s.store.LoadChores(rows)
}

func (s *Session) fetchChores(ctx context.Context) ([]model.ChoreAssignment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.backend.ListChoreAssignments(ctx, s.householdID)
}

// Sync loads every snapshot and the display settings. Collections that
// load are applied even when others fail; the failures are joined.
func (s *Session) Sync(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		events      []model.CalendarEvent
		sources     []model.CalendarSource
		chores      []model.ChoreAssignment
		settings    model.DisplaySettings
		eventsErr   error
		sourcesErr  error
		choresErr   error
		settingsErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		events, eventsErr = s.backend.ListEvents(ctx, s.householdID)
		return nil
	})
	g.Go(func() error {
		sources, sourcesErr = s.backend.ListCalendarSources(ctx, s.householdID)
		return nil
	})
	g.Go(func() error {
		chores, choresErr = s.backend.ListChoreAssignments(ctx, s.householdID)
		return nil
	})
	if s.displayID != "" {
		g.Go(func() error {
			settings, settingsErr = s.backend.GetDisplaySettings(ctx, s.displayID)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	if eventsErr == nil {
		_ = s.store.LoadEvents(events)
	} else {
		errs = append(errs, fmt.Errorf("events: %w", eventsErr))
	}
	s.metrics.SnapshotLoaded(model.EntityEvents, eventsErr)
	if sourcesErr == nil {
		_ = s.store.LoadSources(sources)
	} else {
		errs = append(errs, fmt.Errorf("calendar sources: %w", sourcesErr))
	}
	s.metrics.SnapshotLoaded(model.EntityCalendarSources, sourcesErr)
	if choresErr == nil {
		_ = s.store.LoadChores(chores)
	} else {
		errs = append(errs, fmt.Errorf("chore assignments: %w", choresErr))
	}
	s.metrics.SnapshotLoaded(model.EntityChoreAssignments, choresErr)

	s.mu.Lock()
	local := s.localSettings
	s.mu.Unlock()
	switch {
	case local != nil:
		_ = s.store.SetSettings(*local)
	case s.displayID != "" && settingsErr == nil:
		_ = s.store.SetSettings(settings)
	case settingsErr != nil:
		errs = append(errs, fmt.Errorf("display settings: %w", settingsErr))
	}

	err := errors.Join(errs...)
	s.noteError(err)
	return err
}

// noteError tracks whether the API has rejected the device credential.
func (s *Session) noteError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.authFailed = false
		return
	}
	if errors.Is(err, model.ErrUnauthorized) {
		s.authFailed = true
	}
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
