package meetingclient

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// ErrEmptyToken is returned when the service answers without a QR token.
var ErrEmptyToken = errors.New("meeting service returned an empty qr token")

type qrRequest struct {
	MeetingID   string `json:"meetingId"`
	MeetingName string `json:"meetingName"`
}

type qrResponse struct {
	QRCode string `json:"qrCode"`
}

// IssueQRCode asks the service to mint a fresh check-in token for the meeting.
func (c *Client) IssueQRCode(ctx context.Context, meetingID, meetingName string) (string, error) {
	var out qrResponse
	if err := c.do(ctx, http.MethodPost, "/qr", qrRequest{MeetingID: meetingID, MeetingName: meetingName}, &out); err != nil {
		return "", err
	}
	if out.QRCode == "" {
		return "", ErrEmptyToken
	}
	return out.QRCode, nil
}

// CurrentQRCode returns the token the service currently holds for the meeting.
func (c *Client) CurrentQRCode(ctx context.Context, meetingID string) (string, error) {
	var out qrResponse
	if err := c.do(ctx, http.MethodGet, "/qr/"+url.PathEscape(meetingID), nil, &out); err != nil {
		return "", err
	}
	if out.QRCode == "" {
		return "", ErrEmptyToken
	}
	return out.QRCode, nil
}
