package session

import (
	"context"
	"fmt"

	"github.com/agentworkforce/hearthboard/internal/dashboard"
	"github.com/agentworkforce/hearthboard/internal/model"
)

// CompleteChore marks an assignment complete locally, confirms it with the
// API and applies the server's after-image. On failure the prior value is
// restored and the error returned.
func (s *Session) CompleteChore(ctx context.Context, assignmentID string) error {
	return s.writeChore(ctx, assignmentID, true)
}

func (s *Session) UncompleteChore(ctx context.Context, assignmentID string) error {
	return s.writeChore(ctx, assignmentID, false)
}

func (s *Session) writeChore(ctx context.Context, assignmentID string, complete bool) error {
	prev, ok := s.store.State().Chores[assignmentID]
	if !ok {
		return fmt.Errorf("chore assignment %s: %w", assignmentID, ErrNotFound)
	}
	optimistic := prev
	if complete {
		at := s.now().UTC()
		optimistic.CompletedAt = &at
	} else {
		optimistic.CompletedAt = nil
	}
	if _, err := s.store.Dispatch(dashboard.UpsertChore(optimistic)); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var (
		after model.ChoreAssignment
		err   error
	)
	if complete {
		after, err = s.backend.CompleteChore(ctx, assignmentID)
	} else {
		after, err = s.backend.UncompleteChore(ctx, assignmentID)
	}
	if err != nil {
		s.noteError(err)
		s.logger.Warn("chore write failed; rolling back",
			"assignment_id", assignmentID,
			"complete", complete,
			"error", err,
		)
		_, _ = s.store.Dispatch(dashboard.UpsertChore(prev))
		return err
	}
	if after.ID == "" {
		after = optimistic
	}
	_, _ = s.store.Dispatch(dashboard.UpsertChore(after))
	return nil
}

// DeleteEvent removes an event locally and then through the API. On failure
// the event is put back.
func (s *Session) DeleteEvent(ctx context.Context, eventID string) error {
	prev, ok := s.store.State().Events[eventID]
	if !ok {
		return fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	if _, err := s.store.Dispatch(dashboard.RemoveEvent(eventID)); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.backend.DeleteEvent(ctx, eventID); err != nil {
		s.noteError(err)
		s.logger.Warn("event delete failed; restoring", "event_id", eventID, "error", err)
		_, _ = s.store.Dispatch(dashboard.UpsertEvent(prev))
		return err
	}
	return nil
}
