package meeting

import (
	"sort"
	"time"
)

// RankedArrival is an arrived participant with its 1-based display rank.
type RankedArrival struct {
	Rank          int       `json:"rank"`
	ParticipantID string    `json:"participant_id"`
	ArrivedAt     time.Time `json:"arrived_at"`
	Late          bool      `json:"late"`
}

// Rank orders ARRIVED participants by arrival time, earliest first. Ties and
// records without a timestamp are broken by participant id so the result
// does not depend on map iteration order.
func Rank(records map[string]ArrivalRecord) []RankedArrival {
	arrived := make([]ArrivalRecord, 0, len(records))
	for _, rec := range records {
		if rec.Arrived() {
			arrived = append(arrived, rec)
		}
	}
	sort.Slice(arrived, func(i, j int) bool {
		a, b := arrived[i], arrived[j]
		switch {
		case a.ArrivedAt == nil && b.ArrivedAt == nil:
			return a.ParticipantID < b.ParticipantID
		case a.ArrivedAt == nil:
			return false
		case b.ArrivedAt == nil:
			return true
		case !a.ArrivedAt.Equal(*b.ArrivedAt):
			return a.ArrivedAt.Before(*b.ArrivedAt)
		}
		return a.ParticipantID < b.ParticipantID
	})

	out := make([]RankedArrival, len(arrived))
	for i, rec := range arrived {
		var at time.Time
		if rec.ArrivedAt != nil {
			at = *rec.ArrivedAt
		}
		out[i] = RankedArrival{Rank: i + 1, ParticipantID: rec.ParticipantID, ArrivedAt: at, Late: rec.Late}
	}
	return out
}

// CountArrived returns how many records carry status ARRIVED.
func CountArrived(records map[string]ArrivalRecord) int {
	n := 0
	for _, rec := range records {
		if rec.Arrived() {
			n++
		}
	}
	return n
}

// NotArrived lists participants that have not checked in, sorted by id.
func NotArrived(records map[string]ArrivalRecord) []string {
	var ids []string
	for id, rec := range records {
		if !rec.Arrived() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
