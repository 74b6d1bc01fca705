package tracking

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"ontime/internal/geo"
	"ontime/internal/meetingclient"
	"ontime/internal/metrics"
	"ontime/internal/state"
)

// LocationSink accepts the device's own position.
type LocationSink interface {
	UpdateLocation(ctx context.Context, meetingID, participantID string, update meetingclient.LocationUpdate) error
}

// Reporter periodically submits the device position with a resolved address.
type Reporter struct {
	sink     LocationSink
	provider geo.Provider
	geocoder geo.ReverseGeocoder
	store    *state.Store
	interval time.Duration
	logger   *zap.Logger
	loop     loop
}

// NewReporter builds a stopped reporter. A nil geocoder always reports
// geo.UnknownAddress.
func NewReporter(sink LocationSink, provider geo.Provider, geocoder geo.ReverseGeocoder, store *state.Store, interval time.Duration, logger *zap.Logger) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		sink:     sink,
		provider: provider,
		geocoder: geocoder,
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

// Start begins reporting for meetingID, replacing any running loop.
func (r *Reporter) Start(ctx context.Context, meetingID string) {
	r.logger.Info("location reporter started", zap.String("meeting_id", meetingID))
	r.loop.start(ctx, r.interval, func(ctx context.Context) { r.tick(ctx, meetingID) })
}

// Stop cancels the loop and waits for it to exit.
func (r *Reporter) Stop() {
	if r.loop.running() {
		r.loop.stop()
		r.logger.Info("location reporter stopped")
	}
}

// Running reports whether a loop is active.
func (r *Reporter) Running() bool { return r.loop.running() }

func (r *Reporter) tick(ctx context.Context, meetingID string) {
	participantID := r.store.Load().ParticipantID
	if participantID == "" {
		r.logger.Debug("no participant id, skipping location report")
		return
	}

	pos, err := r.provider.LastKnown(ctx)
	if err != nil {
		if !errors.Is(err, geo.ErrLocationUnavailable) && ctx.Err() != nil {
			return
		}
		metrics.ReportTicks.WithLabelValues("no_fix").Inc()
		r.logger.Debug("no location fix to report", zap.Error(err))
		return
	}

	update := meetingclient.LocationUpdate{
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		Address:   geo.AddressOrUnknown(ctx, r.geocoder, pos),
	}
	if err := r.sink.UpdateLocation(ctx, meetingID, participantID, update); err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.ReportTicks.WithLabelValues("error").Inc()
		r.logger.Warn("location report failed",
			zap.String("meeting_id", meetingID),
			zap.String("participant_id", participantID),
			zap.Error(err))
		return
	}
	metrics.ReportTicks.WithLabelValues("ok").Inc()
}
