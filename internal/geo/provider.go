package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"ontime/internal/meeting"
)

// ErrLocationUnavailable means the device position is unknown, as opposed
// to known and too far away.
var ErrLocationUnavailable = errors.New("current location unavailable")

// Provider supplies the device's last known coordinates.
type Provider interface {
	LastKnown(ctx context.Context) (meeting.Coordinates, error)
}

// Latest holds the most recent fix pushed by the device bridge.
type Latest struct {
	mu     sync.RWMutex
	fix    meeting.Coordinates
	at     time.Time
	has    bool
	maxAge time.Duration
	now    func() time.Time
}

// NewLatest returns an empty provider. Fixes older than maxAge are treated
// as unavailable; maxAge <= 0 disables expiry.
func NewLatest(maxAge time.Duration, now func() time.Time) *Latest {
	if now == nil {
		now = time.Now
	}
	return &Latest{maxAge: maxAge, now: now}
}

// Set records a new fix.
func (l *Latest) Set(c meeting.Coordinates) error {
	if err := Validate(c); err != nil {
		return err
	}
	l.mu.Lock()
	l.fix = c
	l.at = l.now()
	l.has = true
	l.mu.Unlock()
	return nil
}

// LastKnown returns the stored fix or ErrLocationUnavailable.
func (l *Latest) LastKnown(ctx context.Context) (meeting.Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return meeting.Coordinates{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.has {
		return meeting.Coordinates{}, ErrLocationUnavailable
	}
	if l.maxAge > 0 && l.now().Sub(l.at) > l.maxAge {
		return meeting.Coordinates{}, fmt.Errorf("%w: last fix is %s old", ErrLocationUnavailable, l.now().Sub(l.at).Round(time.Second))
	}
	return l.fix, nil
}

// Static always reports the same coordinates.
type Static meeting.Coordinates

// LastKnown implements Provider.
func (s Static) LastKnown(context.Context) (meeting.Coordinates, error) {
	return meeting.Coordinates(s), nil
}

// Validate rejects coordinates outside the WGS84 range.
func Validate(c meeting.Coordinates) error {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) ||
		c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("invalid coordinates (%v, %v)", c.Latitude, c.Longitude)
	}
	return nil
}
