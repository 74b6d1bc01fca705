package meetingclient

import (
	"context"
	"net/http"

	"ontime/internal/meeting"
)

type locationDTO struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
	UpdatedAt string  `json:"updatedAt"`
}

// LocationUpdate is the payload for reporting the device's own position.
type LocationUpdate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

// GetLocations fetches every participant's latest position keyed by participant id.
func (c *Client) GetLocations(ctx context.Context, meetingID string) (map[string]meeting.LocationSnapshot, error) {
	var dtos map[string]locationDTO
	if err := c.do(ctx, http.MethodGet, meetingPath(meetingID, "location"), nil, &dtos); err != nil {
		return nil, err
	}
	out := make(map[string]meeting.LocationSnapshot, len(dtos))
	for id, d := range dtos {
		snap := meeting.LocationSnapshot{
			ParticipantID: id,
			Name:          d.Name,
			Latitude:      d.Latitude,
			Longitude:     d.Longitude,
			Address:       d.Address,
		}
		if d.UpdatedAt != "" {
			if t, err := meeting.ParseTime(d.UpdatedAt); err == nil {
				snap.ReportedAt = t
			}
		}
		out[id] = snap
	}
	return out, nil
}

// UpdateLocation reports the participant's own position.
func (c *Client) UpdateLocation(ctx context.Context, meetingID, participantID string, update LocationUpdate) error {
	return c.do(ctx, http.MethodPatch, meetingPath(meetingID, "location", participantID), update, nil)
}
