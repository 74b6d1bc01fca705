// Package state holds the aggregate view published to the presentation
// layer. Every change replaces the whole Snapshot; readers never observe a
// partially applied update.
package state

import (
	"time"

	"ontime/internal/meeting"
)

// Phase is the check-in state machine position.
type Phase string

const (
	PhaseIdle                Phase = "idle"
	PhaseEvaluatingProximity Phase = "evaluating_proximity"
	PhaseLate                Phase = "late"
	PhaseTooFar              Phase = "too_far"
	PhaseIssuingToken        Phase = "issuing_token"
	PhaseAwaitingScan        Phase = "awaiting_scan"
	PhaseRegisteringArrival  Phase = "registering_arrival"
)

// Dialog is the check-in dialog currently shown.
type Dialog string

const (
	DialogNone      Dialog = ""
	// DialogConfirm asks the user to acknowledge the late fee.
	DialogConfirm   Dialog = "confirm"
	DialogScanner   Dialog = "scanner"
	DialogQRDisplay Dialog = "qr_display"
)

// Session is the ephemeral check-in UI state. It is never persisted.
type Session struct {
	ID      string `json:"id,omitempty"`
	Phase   Phase  `json:"phase"`
	Dialog  Dialog `json:"dialog,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	// QRCode is the PNG of the last rendered code.
	QRCode   []byte    `json:"-"`
	Token    string    `json:"-"`
	Distance *float64  `json:"distance_meters,omitempty"`
	Updated  time.Time `json:"updated_at"`
}

// Snapshot is the complete aggregate state for the active meeting.
type Snapshot struct {
	Version       uint64                              `json:"version"`
	MeetingID     string                              `json:"meeting_id,omitempty"`
	ParticipantID string                              `json:"participant_id,omitempty"`
	Meeting       *meeting.Meeting                    `json:"meeting,omitempty"`
	Statistics    []meeting.ParticipantStats          `json:"statistics,omitempty"`
	Arrivals      map[string]meeting.ArrivalRecord    `json:"arrivals,omitempty"`
	Ranking       []meeting.RankedArrival             `json:"ranking,omitempty"`
	NotArrived    []string                            `json:"not_arrived,omitempty"`
	Locations     map[string]meeting.LocationSnapshot `json:"locations,omitempty"`
	Session       Session                             `json:"session"`
	// RefreshError lists the sub-fetches that failed on the last refresh.
	RefreshError string    `json:"refresh_error,omitempty"`
	RefreshedAt  time.Time `json:"refreshed_at,omitempty"`
}

// Arrived reports whether the participant's own record is ARRIVED.
func (s Snapshot) Arrived(participantID string) bool {
	rec, ok := s.Arrivals[participantID]
	return ok && rec.Arrived()
}
