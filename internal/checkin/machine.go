// Package checkin runs the arrival check-in flow: the late check, the
// proximity check, first-arrival code issuing and scan verification.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ontime/internal/geo"
	"ontime/internal/journal"
	"ontime/internal/meeting"
	"ontime/internal/metrics"
	"ontime/internal/state"
)

// Trigger sources.
const (
	SourceButton = "button"
	SourceShake  = "shake"
	SourceScan   = "scan"
	SourceShow   = "show_code"
)

// Outcome kinds, also used as metric and journal labels.
const (
	OutcomeLate           = "late"
	OutcomeTooFar         = "too_far"
	OutcomeAlreadyArrived = "already_arrived"
	OutcomeFirstArrival   = journal.OutcomeFirstArrival
	OutcomeAwaitingScan   = "awaiting_scan"
	OutcomeRegistered     = journal.OutcomeRegistered
	OutcomeInvalidCode    = "invalid_code"
	OutcomeCancelled      = "cancelled"
	OutcomeShowCode       = "show_code"
	OutcomeFailed         = "failed"
)

// API is the part of the meeting service the flow calls.
type API interface {
	GetMeeting(ctx context.Context, meetingID string) (meeting.Meeting, error)
	IssueQRCode(ctx context.Context, meetingID, meetingName string) (string, error)
	CurrentQRCode(ctx context.Context, meetingID string) (string, error)
	RegisterArrival(ctx context.Context, meetingID, participantID string, arrivedAt time.Time) (meeting.ArrivalRecord, error)
}

// ArrivalSource provides fresh arrival maps and full refreshes.
type ArrivalSource interface {
	Arrivals(ctx context.Context, meetingID string) (map[string]meeting.ArrivalRecord, error)
	Refresh(ctx context.Context) error
}

// Locator evaluates the distance to the meeting place.
type Locator interface {
	Evaluate(ctx context.Context, target meeting.Coordinates) (geo.Proximity, error)
	Threshold() float64
}

// Renderer turns a token into a displayable image.
type Renderer interface {
	EncodePNG(token string) ([]byte, error)
}

// Journal records attempts and answers the registration dedup lookup.
type Journal interface {
	Record(ctx context.Context, a journal.Attempt) (journal.Attempt, error)
	RecentRegistration(ctx context.Context, meetingID, participantID string, window time.Duration) (*journal.Attempt, error)
}

// Outcome is the result of one step of the flow.
type Outcome struct {
	SessionID  string       `json:"session_id"`
	Kind       string       `json:"outcome"`
	Phase      state.Phase  `json:"phase"`
	Dialog     state.Dialog `json:"dialog,omitempty"`
	Message    string       `json:"message,omitempty"`
	Distance   *float64     `json:"distance_meters,omitempty"`
	Registered bool         `json:"registered"`
	Token      string       `json:"-"`
	QRCode     []byte       `json:"-"`
}

// Options holds the optional collaborators of a Machine.
type Options struct {
	Journal     Journal
	DedupWindow time.Duration
	Location    *time.Location
	Logger      *zap.Logger
	Now         func() time.Time
}

// Machine is the check-in state machine. At most one step runs at a time;
// triggers arriving meanwhile fail with ErrInProgress.
type Machine struct {
	api      API
	arrivals ArrivalSource
	locator  Locator
	renderer Renderer
	store    *state.Store
	journal  Journal
	dedup    time.Duration
	loc      *time.Location
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	busy      bool
	awaiting  bool
	sessionID string
	// pending is the meeting the open scan belongs to.
	pending string
}

type attempt struct {
	id        string
	source    string
	meetingID string
}

// New builds a machine.
func New(api API, arrivals ArrivalSource, locator Locator, renderer Renderer, store *state.Store, opts Options) *Machine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Machine{
		api:      api,
		arrivals: arrivals,
		locator:  locator,
		renderer: renderer,
		store:    store,
		journal:  opts.Journal,
		dedup:    opts.DedupWindow,
		loc:      opts.Location,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Trigger starts a check-in from a button press or a shake.
func (m *Machine) Trigger(ctx context.Context, source string) (Outcome, error) {
	a, err := m.acquire(false)
	if err != nil {
		return Outcome{}, err
	}
	a.source = source
	out, err := m.trigger(ctx, a)
	return m.finish(ctx, a, out, err)
}

// Scan verifies a scanned token and registers the arrival. An empty token
// means the user closed the scanner.
func (m *Machine) Scan(ctx context.Context, token string) (Outcome, error) {
	a, err := m.acquire(true)
	if err != nil {
		return Outcome{}, err
	}
	a.source = SourceScan
	out, err := m.scan(ctx, a, strings.TrimSpace(token))
	return m.finish(ctx, a, out, err)
}

// ShowCode displays the meeting's current code to an arrived participant so
// later arrivals can scan it.
func (m *Machine) ShowCode(ctx context.Context) (Outcome, error) {
	a, err := m.acquire(false)
	if err != nil {
		return Outcome{}, err
	}
	a.source = SourceShow
	out, err := m.showCode(ctx)
	return m.finish(ctx, a, out, err)
}

// Dismiss closes whatever dialog is open and returns to idle.
func (m *Machine) Dismiss() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return ErrInProgress
	}
	m.awaiting = false
	m.pending = ""
	m.store.UpdateSession(func(s state.Session) state.Session {
		return state.Session{ID: s.ID, Phase: state.PhaseIdle}
	})
	return nil
}

// Busy reports whether a step is running or a scan is pending.
func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropStaleScan(m.store.Load().MeetingID)
	return m.busy || m.awaiting
}

// dropStaleScan forgets a pending scan opened for a meeting that is no
// longer current. Callers hold m.mu.
func (m *Machine) dropStaleScan(meetingID string) {
	if m.awaiting && m.pending != meetingID {
		m.logger.Info("pending scan dropped after meeting switch",
			zap.String("session_id", m.sessionID),
			zap.String("from_meeting", m.pending),
			zap.String("to_meeting", meetingID))
		m.awaiting = false
		m.pending = ""
	}
}

func (m *Machine) acquire(scan bool) (attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return attempt{}, ErrInProgress
	}
	meetingID := m.store.Load().MeetingID
	m.dropStaleScan(meetingID)
	switch {
	case scan && !m.awaiting:
		return attempt{}, ErrNotAwaitingScan
	case !scan && m.awaiting:
		return attempt{}, ErrInProgress
	}
	if !scan {
		m.sessionID = uuid.NewString()
	}
	m.busy = true
	return attempt{id: m.sessionID, meetingID: meetingID}, nil
}

func (m *Machine) trigger(ctx context.Context, a attempt) (Outcome, error) {
	snap := m.store.Load()
	if err := requireIDs(snap); err != nil {
		return Outcome{}, err
	}
	mt, err := m.meeting(ctx, snap)
	if err != nil {
		return Outcome{}, err
	}

	if mt.IsLateAt(m.now()) {
		return Outcome{
			Kind:    OutcomeLate,
			Phase:   state.PhaseLate,
			Dialog:  state.DialogConfirm,
			Message: m.lateMessage(mt),
		}, nil
	}

	m.progress(a, state.PhaseEvaluatingProximity, state.DialogNone)
	prox, err := m.locator.Evaluate(ctx, mt.Destination)
	if err != nil {
		return Outcome{}, err
	}
	dist := prox.Distance
	if !prox.Within {
		return Outcome{
			Kind:     OutcomeTooFar,
			Phase:    state.PhaseTooFar,
			Distance: &dist,
			Message: fmt.Sprintf("You are %.0fm from the meeting place. Move within %.0fm to check in.",
				dist, m.locator.Threshold()),
		}, nil
	}

	arrivals, err := m.arrivals.Arrivals(ctx, snap.MeetingID)
	if err != nil {
		return Outcome{Distance: &dist}, fmt.Errorf("arrival status: %w", err)
	}
	if rec, ok := arrivals[snap.ParticipantID]; ok && rec.Arrived() {
		return alreadyArrived(&dist), nil
	}
	if meeting.CountArrived(arrivals) == 0 {
		return m.firstArrival(ctx, a, snap, mt, &dist)
	}
	return Outcome{
		Kind:     OutcomeAwaitingScan,
		Phase:    state.PhaseAwaitingScan,
		Dialog:   state.DialogScanner,
		Distance: &dist,
		Message:  "Scan the code shown by a participant who has already arrived.",
	}, nil
}

func (m *Machine) firstArrival(ctx context.Context, a attempt, snap state.Snapshot, mt meeting.Meeting, dist *float64) (Outcome, error) {
	if m.recentlyRegistered(ctx, snap) {
		return alreadyArrived(dist), nil
	}
	m.progress(a, state.PhaseIssuingToken, state.DialogNone)
	token, err := m.api.IssueQRCode(ctx, snap.MeetingID, mt.Name)
	if err != nil {
		return Outcome{Distance: dist}, fmt.Errorf("issue code: %w", err)
	}
	png, err := m.renderer.EncodePNG(token)
	if err != nil {
		return Outcome{Distance: dist}, fmt.Errorf("render code: %w", err)
	}
	out := Outcome{
		Phase:    state.PhaseIdle,
		Dialog:   state.DialogQRDisplay,
		Distance: dist,
		Token:    token,
		QRCode:   png,
	}

	m.progress(a, state.PhaseRegisteringArrival, state.DialogNone)
	if _, err := m.api.RegisterArrival(ctx, snap.MeetingID, snap.ParticipantID, m.now().UTC()); err != nil {
		// the issued code stays valid for others to scan
		out.Message = "Your code is ready but your arrival was not saved. Try checking in again."
		return out, fmt.Errorf("register arrival: %w", err)
	}
	m.refresh(ctx, snap.MeetingID)

	out.Kind = OutcomeFirstArrival
	out.Registered = true
	out.Message = "You are the first to arrive. Show this code to the others."
	return out, nil
}

func (m *Machine) scan(ctx context.Context, a attempt, token string) (Outcome, error) {
	if token == "" {
		return Outcome{Kind: OutcomeCancelled, Phase: state.PhaseIdle, Message: "Scan cancelled."}, nil
	}
	snap := m.store.Load()
	if err := requireIDs(snap); err != nil {
		return Outcome{}, err
	}
	current, err := m.api.CurrentQRCode(ctx, snap.MeetingID)
	if err != nil {
		return Outcome{}, fmt.Errorf("current code: %w", err)
	}
	if token != current {
		return Outcome{Kind: OutcomeInvalidCode}, ErrInvalidCode
	}
	if m.recentlyRegistered(ctx, snap) {
		return alreadyArrived(nil), nil
	}

	m.progress(a, state.PhaseRegisteringArrival, state.DialogNone)
	if _, err := m.api.RegisterArrival(ctx, snap.MeetingID, snap.ParticipantID, m.now().UTC()); err != nil {
		return Outcome{}, fmt.Errorf("register arrival: %w", err)
	}
	m.refresh(ctx, snap.MeetingID)
	return Outcome{
		Kind:       OutcomeRegistered,
		Phase:      state.PhaseIdle,
		Registered: true,
		Message:    "Checked in.",
	}, nil
}

func (m *Machine) showCode(ctx context.Context) (Outcome, error) {
	snap := m.store.Load()
	if err := requireIDs(snap); err != nil {
		return Outcome{}, err
	}
	if !snap.Arrived(snap.ParticipantID) {
		return Outcome{}, ErrNotArrived
	}
	token, err := m.api.CurrentQRCode(ctx, snap.MeetingID)
	if err != nil {
		return Outcome{}, fmt.Errorf("current code: %w", err)
	}
	png, err := m.renderer.EncodePNG(token)
	if err != nil {
		return Outcome{}, fmt.Errorf("render code: %w", err)
	}
	return Outcome{
		Kind:    OutcomeShowCode,
		Phase:   state.PhaseIdle,
		Dialog:  state.DialogQRDisplay,
		Token:   token,
		QRCode:  png,
		Message: "Show this code to participants who are arriving.",
	}, nil
}

// finish publishes the outcome, records it and releases the machine.
func (m *Machine) finish(ctx context.Context, a attempt, out Outcome, err error) (Outcome, error) {
	if err != nil {
		if out.Kind == "" {
			out.Kind = OutcomeFailed
		}
		out.Phase = state.PhaseIdle
		if out.Message == "" {
			out.Message = Message(err)
		}
	}
	out.SessionID = a.id

	snap := m.store.UpdateSession(func(state.Session) state.Session {
		return state.Session{
			ID:       a.id,
			Phase:    out.Phase,
			Dialog:   out.Dialog,
			Message:  out.Message,
			Error:    Message(err),
			QRCode:   out.QRCode,
			Token:    out.Token,
			Distance: out.Distance,
		}
	})
	metrics.CheckInOutcomes.WithLabelValues(out.Kind).Inc()

	fields := []zap.Field{
		zap.String("session_id", a.id),
		zap.String("source", a.source),
		zap.String("outcome", out.Kind),
		zap.String("meeting_id", snap.MeetingID),
		zap.String("participant_id", snap.ParticipantID),
	}
	if err != nil {
		m.logger.Warn("check-in step failed", append(fields, zap.Error(err))...)
	} else {
		m.logger.Info("check-in step finished", fields...)
	}
	m.record(ctx, a, snap, out, err)

	m.mu.Lock()
	m.busy = false
	m.awaiting = out.Phase == state.PhaseAwaitingScan
	m.pending = ""
	if m.awaiting {
		m.pending = a.meetingID
	}
	m.mu.Unlock()
	return out, err
}

func (m *Machine) progress(a attempt, phase state.Phase, dialog state.Dialog) {
	m.store.UpdateSession(func(s state.Session) state.Session {
		return state.Session{ID: a.id, Phase: phase, Dialog: dialog, Distance: s.Distance}
	})
}

func (m *Machine) meeting(ctx context.Context, snap state.Snapshot) (meeting.Meeting, error) {
	if snap.Meeting != nil && snap.Meeting.ID == snap.MeetingID {
		return *snap.Meeting, nil
	}
	mt, err := m.api.GetMeeting(ctx, snap.MeetingID)
	if err != nil {
		return meeting.Meeting{}, fmt.Errorf("load meeting: %w", err)
	}
	return mt, nil
}

// refresh failures after a registration only mark the snapshot as stale.
func (m *Machine) refresh(ctx context.Context, meetingID string) {
	if err := m.arrivals.Refresh(ctx); err != nil {
		m.logger.Warn("refresh after arrival failed", zap.String("meeting_id", meetingID), zap.Error(err))
	}
}

func (m *Machine) recentlyRegistered(ctx context.Context, snap state.Snapshot) bool {
	if m.journal == nil || m.dedup <= 0 {
		return false
	}
	prev, err := m.journal.RecentRegistration(ctx, snap.MeetingID, snap.ParticipantID, m.dedup)
	if err != nil {
		m.logger.Warn("journal lookup failed", zap.String("meeting_id", snap.MeetingID), zap.Error(err))
		return false
	}
	return prev != nil
}

func (m *Machine) record(ctx context.Context, a attempt, snap state.Snapshot, out Outcome, err error) {
	if m.journal == nil || snap.MeetingID == "" || snap.ParticipantID == "" {
		return
	}
	entry := journal.Attempt{
		SessionID:     a.id,
		MeetingID:     snap.MeetingID,
		ParticipantID: snap.ParticipantID,
		Source:        a.source,
		Outcome:       out.Kind,
		Distance:      out.Distance,
		OccurredAt:    m.now().UTC(),
	}
	if err != nil {
		entry.Detail = err.Error()
	}
	if _, rerr := m.journal.Record(ctx, entry); rerr != nil {
		m.logger.Warn("journal write failed", zap.String("session_id", a.id), zap.Error(rerr))
	}
}

func (m *Machine) lateMessage(mt meeting.Meeting) string {
	msg := fmt.Sprintf("The meeting started at %s. Check-in is closed", mt.ScheduledAt.In(m.loc).Format("Jan 2 15:04 MST"))
	if mt.LateFee > 0 {
		return fmt.Sprintf("%s and a late fee of %d applies.", msg, mt.LateFee)
	}
	return msg + "."
}

func requireIDs(snap state.Snapshot) error {
	switch {
	case snap.MeetingID == "":
		return ErrMissingMeeting
	case snap.ParticipantID == "":
		return ErrMissingParticipant
	}
	return nil
}

func alreadyArrived(dist *float64) Outcome {
	return Outcome{
		Kind:     OutcomeAlreadyArrived,
		Phase:    state.PhaseIdle,
		Distance: dist,
		Message:  "You have already checked in.",
	}
}

// IsRedundant reports errors a trigger source can safely drop.
func IsRedundant(err error) bool {
	return errors.Is(err, ErrInProgress)
}
