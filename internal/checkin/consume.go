package checkin

import (
	"context"

	"go.uber.org/zap"

	"ontime/internal/metrics"
	"ontime/internal/queue"
)

// Consume feeds queued triggers into the machine until ctx ends or msgs
// closes. Button presses and shakes take the same path.
func (m *Machine) Consume(ctx context.Context, msgs <-chan queue.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			m.handle(ctx, msg)
		}
	}
}

func (m *Machine) handle(ctx context.Context, msg queue.Message) {
	var source string
	switch msg.Type {
	case queue.TypeButton:
		source = SourceButton
	case queue.TypeShake:
		source = SourceShake
	default:
		m.logger.Warn("unknown trigger type", zap.String("type", msg.Type), zap.String("id", msg.ID))
		return
	}
	metrics.Triggers.WithLabelValues(source).Inc()

	if msg.MeetingID != "" && msg.MeetingID != m.store.Load().MeetingID {
		m.logger.Debug("dropping trigger for another meeting",
			zap.String("id", msg.ID), zap.String("meeting_id", msg.MeetingID))
		return
	}
	if _, err := m.Trigger(ctx, source); err != nil {
		if IsRedundant(err) {
			m.logger.Debug("ignoring redundant trigger", zap.String("id", msg.ID), zap.String("source", source))
			return
		}
		m.logger.Info("trigger finished with error", zap.String("id", msg.ID), zap.Error(err))
	}
}
