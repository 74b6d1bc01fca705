// Package meeting holds the read-only view of a meeting as served by the
// remote meeting service: metadata, participant statistics, arrival records
// and live location snapshots.
package meeting

import (
	"fmt"
	"strings"
	"time"
)

// ArrivalStatus is the server-side arrival state of a participant.
type ArrivalStatus string

const (
	StatusNotArrived ArrivalStatus = "NOT_ARRIVED"
	StatusArrived    ArrivalStatus = "ARRIVED"
)

// Coordinates is a WGS84 latitude/longitude pair in degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// BankAccount identifies the payee for late fees.
type BankAccount struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountHolder string `json:"account_holder"`
}

// Meeting is the meeting metadata. The scheduled time is always UTC.
type Meeting struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	ScheduledAt      time.Time   `json:"scheduled_at"`
	Destination      Coordinates `json:"destination"`
	Address          string      `json:"address"`
	LateFee          int64       `json:"late_fee"`
	Account          BankAccount `json:"account"`
	ParticipantCount int         `json:"participant_count"`
	Logo             string      `json:"logo,omitempty"`
}

// IsLateAt reports whether now is strictly after the scheduled time.
func (m Meeting) IsLateAt(now time.Time) bool {
	return now.After(m.ScheduledAt)
}

// ParticipantStats is a per-user attendance summary.
type ParticipantStats struct {
	ParticipantID string  `json:"participant_id"`
	Name          string  `json:"name"`
	TotalMeetings int     `json:"total_meetings"`
	OnTimeCount   int     `json:"on_time_count"`
	LateCount     int     `json:"late_count"`
	LateRate      float64 `json:"late_rate"`
}

// ComputeLateRate returns late/total, or 0 when no meetings were attended.
func (s ParticipantStats) ComputeLateRate() float64 {
	if s.TotalMeetings <= 0 {
		return 0
	}
	return float64(s.LateCount) / float64(s.TotalMeetings)
}

// ArrivalRecord is keyed by (MeetingID, ParticipantID). ArrivedAt is nil
// until the participant checks in.
type ArrivalRecord struct {
	MeetingID     string        `json:"meeting_id"`
	ParticipantID string        `json:"participant_id"`
	ArrivedAt     *time.Time    `json:"arrived_at,omitempty"`
	Status        ArrivalStatus `json:"status"`
	Late          bool          `json:"late"`
}

// Arrived reports whether the record carries status ARRIVED.
func (r ArrivalRecord) Arrived() bool {
	return r.Status == StatusArrived
}

// LocationSnapshot is the latest reported position of one participant.
type LocationSnapshot struct {
	ParticipantID string    `json:"participant_id"`
	Name          string    `json:"name"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Address       string    `json:"address,omitempty"`
	ReportedAt    time.Time `json:"reported_at"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime parses an ISO-8601 timestamp. Values without a zone are UTC.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// FormatTime renders t as the ISO-8601 UTC form the remote service expects.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05")
}
