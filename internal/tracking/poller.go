package tracking

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ontime/internal/meeting"
	"ontime/internal/metrics"
	"ontime/internal/state"
)

// DefaultInterval is the pause between the end of one fetch and the next.
const DefaultInterval = 3 * time.Second

// LocationSource fetches every participant's latest position.
type LocationSource interface {
	GetLocations(ctx context.Context, meetingID string) (map[string]meeting.LocationSnapshot, error)
}

// Poller republishes participant locations for the open meeting.
type Poller struct {
	src      LocationSource
	store    *state.Store
	interval time.Duration
	logger   *zap.Logger
	loop     loop
}

// NewPoller builds a stopped poller.
func NewPoller(src LocationSource, store *state.Store, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{src: src, store: store, interval: interval, logger: logger}
}

// Start begins polling meetingID, replacing any running loop.
func (p *Poller) Start(ctx context.Context, meetingID string) {
	p.logger.Info("location poller started", zap.String("meeting_id", meetingID), zap.Duration("interval", p.interval))
	p.loop.start(ctx, p.interval, func(ctx context.Context) { p.tick(ctx, meetingID) })
}

// Stop cancels the loop and waits for it to exit.
func (p *Poller) Stop() {
	if p.loop.running() {
		p.loop.stop()
		p.logger.Info("location poller stopped")
	}
}

// Running reports whether a loop is active.
func (p *Poller) Running() bool { return p.loop.running() }

func (p *Poller) tick(ctx context.Context, meetingID string) {
	locations, err := p.src.GetLocations(ctx, meetingID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.PollTicks.WithLabelValues("error").Inc()
		p.logger.Warn("location poll failed", zap.String("meeting_id", meetingID), zap.Error(err))
		return
	}
	metrics.PollTicks.WithLabelValues("ok").Inc()

	p.store.Update(func(s state.Snapshot) state.Snapshot {
		if s.MeetingID != meetingID {
			return s
		}
		s.Locations = locations
		return s
	})
}
