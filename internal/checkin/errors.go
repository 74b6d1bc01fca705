package checkin

import (
	"errors"
	"fmt"

	"ontime/internal/geo"
	"ontime/internal/meetingclient"
	"ontime/internal/qrcode"
)

var (
	// ErrInvalidCode means the scanned token is not the meeting's current one.
	ErrInvalidCode = errors.New("scanned code does not match the meeting code")
	// ErrMissingMeeting means no meeting is open.
	ErrMissingMeeting = errors.New("meeting id missing")
	// ErrMissingParticipant means the device has no participant identity.
	ErrMissingParticipant = errors.New("participant id missing")
	// ErrInProgress rejects a trigger while another step is still running.
	ErrInProgress = errors.New("check-in already in progress")
	// ErrNotAwaitingScan rejects a scan result nobody asked for.
	ErrNotAwaitingScan = errors.New("no scan in progress")
	// ErrNotArrived rejects showing the meeting code before checking in.
	ErrNotArrived = errors.New("participant has not arrived yet")
)

// Message maps an error to the text shown to the user.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *meetingclient.APIError
	switch {
	case errors.Is(err, ErrInvalidCode):
		return "Invalid code. Scan the code shown by someone who has already arrived."
	case errors.Is(err, ErrMissingMeeting), errors.Is(err, ErrMissingParticipant):
		return "Meeting or user information is missing. Open the meeting again."
	case errors.Is(err, ErrInProgress):
		return "Check-in is already in progress."
	case errors.Is(err, ErrNotAwaitingScan):
		return "Start check-in before scanning a code."
	case errors.Is(err, ErrNotArrived):
		return "Check in first to show the meeting code."
	case errors.Is(err, geo.ErrLocationUnavailable):
		return "Current location is unavailable. Check location permission and try again."
	case errors.Is(err, qrcode.ErrEmptyToken), errors.Is(err, qrcode.ErrMalformedToken), errors.Is(err, meetingclient.ErrEmptyToken):
		return "The check-in code could not be created. Try again."
	case meetingclient.IsTransport(err):
		return "Network problem. Check your connection and try again."
	case errors.As(err, &apiErr):
		return fmt.Sprintf("The server rejected the request (%d). Try again.", apiErr.Status)
	default:
		return "Check-in failed: " + err.Error()
	}
}
