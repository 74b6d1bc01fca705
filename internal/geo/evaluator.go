package geo

import (
	"context"
	"errors"
	"fmt"

	"ontime/internal/meeting"
)

// Proximity is the outcome of one evaluation.
type Proximity struct {
	Current  meeting.Coordinates
	Distance float64
	Within   bool
}

// Evaluator decides whether the device is inside the arrival radius.
type Evaluator struct {
	provider  Provider
	threshold float64
}

// NewEvaluator builds an evaluator; threshold <= 0 uses DefaultArrivalRadius.
func NewEvaluator(provider Provider, threshold float64) *Evaluator {
	if threshold <= 0 {
		threshold = DefaultArrivalRadius
	}
	return &Evaluator{provider: provider, threshold: threshold}
}

// Threshold returns the configured radius in meters.
func (e *Evaluator) Threshold() float64 { return e.threshold }

// Evaluate measures the distance to target. A missing position is reported
// as an error wrapping ErrLocationUnavailable, never as "too far".
func (e *Evaluator) Evaluate(ctx context.Context, target meeting.Coordinates) (Proximity, error) {
	if e.provider == nil {
		return Proximity{}, ErrLocationUnavailable
	}
	current, err := e.provider.LastKnown(ctx)
	if err != nil {
		if errors.Is(err, ErrLocationUnavailable) {
			return Proximity{}, err
		}
		return Proximity{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}
	d := Distance(current, target)
	return Proximity{Current: current, Distance: d, Within: d <= e.threshold}, nil
}
