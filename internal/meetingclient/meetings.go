package meetingclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"ontime/internal/meeting"
)

type placeDTO struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

type bankAccountDTO struct {
	BankName      string `json:"bankName"`
	AccountNumber string `json:"accountNumber"`
	AccountHolder string `json:"accountHolder"`
}

type meetingDTO struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	MeetingDateTime  string         `json:"meetingDateTime"`
	Location         placeDTO       `json:"location"`
	LateFee          int64          `json:"lateFee"`
	BankAccount      bankAccountDTO `json:"bankAccount"`
	ParticipantCount int            `json:"participantCount"`
	Logo             string         `json:"logo"`
}

type statsDTO struct {
	UserID        string   `json:"userId"`
	Name          string   `json:"name"`
	TotalMeetings int      `json:"totalMeetings"`
	OnTimeCount   int      `json:"onTimeCount"`
	LateCount     int      `json:"lateCount"`
	LateRate      *float64 `json:"lateRate"`
}

type arrivalDTO struct {
	MeetingID   string  `json:"meetingId"`
	UserID      string  `json:"userId"`
	ArrivalTime *string `json:"arrivalTime"`
	Status      string  `json:"status"`
	IsLate      bool    `json:"isLate"`
}

// GetMeeting fetches meeting metadata.
func (c *Client) GetMeeting(ctx context.Context, meetingID string) (meeting.Meeting, error) {
	if meetingID == "" {
		return meeting.Meeting{}, errors.New("meeting id required")
	}
	var dto meetingDTO
	if err := c.do(ctx, http.MethodGet, meetingPath(meetingID), nil, &dto); err != nil {
		return meeting.Meeting{}, err
	}
	scheduled, err := meeting.ParseTime(dto.MeetingDateTime)
	if err != nil {
		return meeting.Meeting{}, fmt.Errorf("meeting %s: %w", meetingID, err)
	}
	id := dto.ID
	if id == "" {
		id = meetingID
	}
	return meeting.Meeting{
		ID:          id,
		Name:        dto.Name,
		ScheduledAt: scheduled,
		Destination: meeting.Coordinates{Latitude: dto.Location.Latitude, Longitude: dto.Location.Longitude},
		Address:     dto.Location.Address,
		LateFee:     dto.LateFee,
		Account: meeting.BankAccount{
			BankName:      dto.BankAccount.BankName,
			AccountNumber: dto.BankAccount.AccountNumber,
			AccountHolder: dto.BankAccount.AccountHolder,
		},
		ParticipantCount: dto.ParticipantCount,
		Logo:             dto.Logo,
	}, nil
}

// GetStatistics fetches per-participant attendance statistics.
func (c *Client) GetStatistics(ctx context.Context, meetingID string) ([]meeting.ParticipantStats, error) {
	var dtos []statsDTO
	if err := c.do(ctx, http.MethodGet, meetingPath(meetingID, "statistics"), nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]meeting.ParticipantStats, 0, len(dtos))
	for _, d := range dtos {
		s := meeting.ParticipantStats{
			ParticipantID: d.UserID,
			Name:          d.Name,
			TotalMeetings: d.TotalMeetings,
			OnTimeCount:   d.OnTimeCount,
			LateCount:     d.LateCount,
		}
		if d.LateRate != nil {
			s.LateRate = *d.LateRate
		} else {
			s.LateRate = s.ComputeLateRate()
		}
		out = append(out, s)
	}
	return out, nil
}

// GetArrival fetches one participant's arrival record.
func (c *Client) GetArrival(ctx context.Context, meetingID, participantID string) (meeting.ArrivalRecord, error) {
	var dto arrivalDTO
	if err := c.do(ctx, http.MethodGet, meetingPath(meetingID, "arrival", participantID), nil, &dto); err != nil {
		return meeting.ArrivalRecord{}, err
	}
	return toArrival(dto, meetingID, participantID)
}

// RegisterArrival records the participant as arrived at the given instant.
func (c *Client) RegisterArrival(ctx context.Context, meetingID, participantID string, arrivedAt time.Time) (meeting.ArrivalRecord, error) {
	q := url.Values{}
	q.Set("arrivalTime", meeting.FormatTime(arrivedAt))
	path := meetingPath(meetingID, "arrival", participantID) + "?" + q.Encode()
	var dto arrivalDTO
	if err := c.do(ctx, http.MethodPatch, path, nil, &dto); err != nil {
		return meeting.ArrivalRecord{}, err
	}
	return toArrival(dto, meetingID, participantID)
}

func toArrival(dto arrivalDTO, meetingID, participantID string) (meeting.ArrivalRecord, error) {
	rec := meeting.ArrivalRecord{
		MeetingID:     meetingID,
		ParticipantID: participantID,
		Status:        meeting.ArrivalStatus(dto.Status),
		Late:          dto.IsLate,
	}
	if dto.MeetingID != "" {
		rec.MeetingID = dto.MeetingID
	}
	if dto.UserID != "" {
		rec.ParticipantID = dto.UserID
	}
	if dto.ArrivalTime != nil && *dto.ArrivalTime != "" {
		t, err := meeting.ParseTime(*dto.ArrivalTime)
		if err != nil {
			return meeting.ArrivalRecord{}, fmt.Errorf("arrival %s/%s: %w", meetingID, participantID, err)
		}
		rec.ArrivedAt = &t
	}
	if rec.Status == "" {
		rec.Status = meeting.StatusNotArrived
		if rec.ArrivedAt != nil {
			rec.Status = meeting.StatusArrived
		}
	}
	return rec, nil
}
