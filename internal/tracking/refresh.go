// Package tracking keeps the aggregate meeting state in sync with the remote
// service: full refreshes, the participant location poller and the device's
// own location reporter.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"ontime/internal/meeting"
	"ontime/internal/meetingclient"
	"ontime/internal/metrics"
	"ontime/internal/state"
)

// ErrNoMeeting is returned when no meeting is open.
var ErrNoMeeting = errors.New("no meeting selected")

// MeetingAPI is the subset of the meeting service a refresh needs.
type MeetingAPI interface {
	GetMeeting(ctx context.Context, meetingID string) (meeting.Meeting, error)
	GetStatistics(ctx context.Context, meetingID string) ([]meeting.ParticipantStats, error)
	GetArrival(ctx context.Context, meetingID, participantID string) (meeting.ArrivalRecord, error)
}

// Refresher rebuilds meeting, statistics and arrivals in the store.
type Refresher struct {
	api    MeetingAPI
	store  *state.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewRefresher builds a refresher.
func NewRefresher(api MeetingAPI, store *state.Store, logger *zap.Logger, now func() time.Time) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Refresher{api: api, store: store, logger: logger, now: now}
}

// Refresh re-fetches everything for the open meeting. Sub-fetches that fail
// keep their previous values; the combined error is stored on the snapshot
// and returned.
func (r *Refresher) Refresh(ctx context.Context) error {
	snap := r.store.Load()
	meetingID := snap.MeetingID
	if meetingID == "" {
		return ErrNoMeeting
	}

	var (
		wg       sync.WaitGroup
		m        meeting.Meeting
		stats    []meeting.ParticipantStats
		mErr     error
		statsErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		m, mErr = r.api.GetMeeting(ctx, meetingID)
	}()
	go func() {
		defer wg.Done()
		stats, statsErr = r.api.GetStatistics(ctx, meetingID)
	}()
	wg.Wait()

	var errs error
	if mErr != nil {
		errs = multierr.Append(errs, fmt.Errorf("meeting: %w", mErr))
	}
	var previous map[string]meeting.ArrivalRecord
	if statsErr != nil {
		errs = multierr.Append(errs, fmt.Errorf("statistics: %w", statsErr))
		stats = snap.Statistics
		previous = snap.Arrivals
	}

	participants := participantIDs(stats, previous, snap.ParticipantID)
	fetched, arrErr := r.fetchArrivals(ctx, meetingID, participants)
	errs = multierr.Append(errs, arrErr)

	next := r.store.Update(func(cur state.Snapshot) state.Snapshot {
		if cur.MeetingID != meetingID {
			// meeting switched while fetching
			return cur
		}
		if mErr == nil {
			mm := m
			cur.Meeting = &mm
		}
		if statsErr == nil {
			cur.Statistics = stats
		}
		arrivals := make(map[string]meeting.ArrivalRecord, len(participants))
		for _, id := range participants {
			if rec, ok := fetched[id]; ok {
				arrivals[id] = rec
			} else if old, ok := cur.Arrivals[id]; ok {
				arrivals[id] = old
			}
		}
		deriveLate(arrivals, cur.Meeting)
		cur.Arrivals = arrivals
		cur.Ranking = meeting.Rank(arrivals)
		cur.NotArrived = meeting.NotArrived(arrivals)
		cur.RefreshError = ""
		if errs != nil {
			cur.RefreshError = errs.Error()
		}
		cur.RefreshedAt = r.now().UTC()
		return cur
	})

	metrics.Refreshes.WithLabelValues(metrics.Result(errs)).Inc()
	if errs != nil {
		r.logger.Warn("refresh incomplete",
			zap.String("meeting_id", meetingID),
			zap.Int("failures", len(multierr.Errors(errs))),
			zap.Error(errs))
		return errs
	}
	r.logger.Debug("refresh complete",
		zap.String("meeting_id", meetingID),
		zap.Uint64("version", next.Version),
		zap.Int("arrived", len(next.Ranking)))
	return nil
}

// Arrivals returns a fresh arrival map for the meeting. Unlike Refresh it
// fails if any record could not be fetched, since callers branch on the
// arrived count.
func (r *Refresher) Arrivals(ctx context.Context, meetingID string) (map[string]meeting.ArrivalRecord, error) {
	stats, err := r.api.GetStatistics(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("statistics: %w", err)
	}
	snap := r.store.Load()
	participants := participantIDs(stats, nil, snap.ParticipantID)
	arrivals, err := r.fetchArrivals(ctx, meetingID, participants)
	if err != nil {
		return nil, err
	}
	return arrivals, nil
}

func (r *Refresher) fetchArrivals(ctx context.Context, meetingID string, participants []string) (map[string]meeting.ArrivalRecord, error) {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs error
	)
	out := make(map[string]meeting.ArrivalRecord, len(participants))
	for _, id := range participants {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			rec, err := r.api.GetArrival(ctx, meetingID, id)
			if meetingclient.IsNotFound(err) {
				// no record yet means the participant has not arrived
				rec = meeting.ArrivalRecord{MeetingID: meetingID, ParticipantID: id, Status: meeting.StatusNotArrived}
				err = nil
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("arrival %s: %w", id, err))
				return
			}
			out[id] = rec
		}(id)
	}
	wg.Wait()
	return out, errs
}

func participantIDs(stats []meeting.ParticipantStats, previous map[string]meeting.ArrivalRecord, self string) []string {
	seen := make(map[string]struct{})
	for _, s := range stats {
		if s.ParticipantID != "" {
			seen[s.ParticipantID] = struct{}{}
		}
	}
	for id := range previous {
		seen[id] = struct{}{}
	}
	if self != "" {
		seen[self] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func deriveLate(arrivals map[string]meeting.ArrivalRecord, m *meeting.Meeting) {
	if m == nil {
		return
	}
	for id, rec := range arrivals {
		if rec.ArrivedAt != nil && rec.ArrivedAt.After(m.ScheduledAt) {
			rec.Late = true
			arrivals[id] = rec
		}
	}
}
