package tracking

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"ontime/internal/state"
)

// Tracker ties the refresh and both loops to the open meeting.
type Tracker struct {
	base      context.Context
	store     *state.Store
	refresher *Refresher
	poller    *Poller
	reporter  *Reporter
	logger    *zap.Logger

	mu sync.Mutex
}

// NewTracker builds a tracker; loops it starts live until base ends or
// Close is called.
func NewTracker(base context.Context, store *state.Store, refresher *Refresher, poller *Poller, reporter *Reporter, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{base: base, store: store, refresher: refresher, poller: poller, reporter: reporter, logger: logger}
}

// Open selects meetingID, refreshes it and starts both loops. Switching
// meetings drops the previous meeting's data first. A refresh error is
// returned but the loops run regardless.
func (t *Tracker) Open(ctx context.Context, meetingID string) error {
	if meetingID == "" {
		return ErrNoMeeting
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.poller.Stop()
	t.reporter.Stop()
	t.store.Update(func(s state.Snapshot) state.Snapshot {
		if s.MeetingID == meetingID {
			return s
		}
		return state.Snapshot{
			MeetingID:     meetingID,
			ParticipantID: s.ParticipantID,
			Session:       state.Session{Phase: state.PhaseIdle},
		}
	})

	err := t.refresher.Refresh(ctx)
	t.poller.Start(t.base, meetingID)
	t.reporter.Start(t.base, meetingID)
	t.logger.Info("meeting opened", zap.String("meeting_id", meetingID), zap.Bool("complete", err == nil))
	return err
}

// Close stops both loops. The last snapshot stays readable.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.poller.Stop()
	t.reporter.Stop()
}

// Refresh re-fetches the open meeting.
func (t *Tracker) Refresh(ctx context.Context) error {
	return t.refresher.Refresh(ctx)
}

// Running reports whether the loops are active.
func (t *Tracker) Running() bool {
	return t.poller.Running() || t.reporter.Running()
}
