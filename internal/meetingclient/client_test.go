package meetingclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ontime/internal/meeting"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "token-123", time.Second, nil)
}

func TestGetMeeting(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/meeting/m-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-123" {
			t.Errorf("unexpected authorization header %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":              "m-1",
			"name":            "Lunch",
			"meetingDateTime": "2024-05-01T03:00:00",
			"location":        map[string]any{"latitude": 37.5, "longitude": 127.0, "address": "Seoul"},
			"lateFee":         3000,
			"bankAccount":     map[string]any{"bankName": "KB", "accountNumber": "123", "accountHolder": "Kim"},
		})
	})

	m, err := client.GetMeeting(context.Background(), "m-1")
	if err != nil {
		t.Fatalf("GetMeeting: %v", err)
	}
	if m.Name != "Lunch" || m.LateFee != 3000 || m.Account.BankName != "KB" {
		t.Fatalf("unexpected meeting: %+v", m)
	}
	if !m.ScheduledAt.Equal(time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected schedule %s", m.ScheduledAt)
	}
	if m.Destination.Latitude != 37.5 || m.Address != "Seoul" {
		t.Fatalf("unexpected destination: %+v", m)
	}
}

func TestRegisterArrivalSendsTimestamp(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/meeting/m-1/arrival/u-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		arrival := r.URL.Query().Get("arrivalTime")
		if arrival != "2024-05-01T02:55:00" {
			t.Errorf("unexpected arrivalTime %q", arrival)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"meetingId":   "m-1",
			"userId":      "u-1",
			"arrivalTime": arrival,
			"status":      "ARRIVED",
		})
	})

	rec, err := client.RegisterArrival(context.Background(), "m-1", "u-1", time.Date(2024, 5, 1, 2, 55, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("RegisterArrival: %v", err)
	}
	if !rec.Arrived() || rec.ArrivedAt == nil {
		t.Fatalf("expected arrived record, got %+v", rec)
	}
}

func TestGetArrivalInfersStatus(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"arrivalTime": null}`))
	})
	rec, err := client.GetArrival(context.Background(), "m-1", "u-2")
	if err != nil {
		t.Fatalf("GetArrival: %v", err)
	}
	if rec.Status != meeting.StatusNotArrived || rec.ParticipantID != "u-2" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestGetLocations(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"u-1":{"name":"Kim","latitude":1.5,"longitude":2.5},"u-2":{"name":"Lee","latitude":3,"longitude":4}}`))
	})
	locs, err := client.GetLocations(context.Background(), "m-1")
	if err != nil {
		t.Fatalf("GetLocations: %v", err)
	}
	if len(locs) != 2 || locs["u-1"].Name != "Kim" || locs["u-2"].Latitude != 3 {
		t.Fatalf("unexpected locations %+v", locs)
	}
}

func TestUpdateLocationPayload(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/meeting/m-1/location/u-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body LocationUpdate
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Address != "Unknown location" {
			t.Errorf("unexpected address %q", body.Address)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	err := client.UpdateLocation(context.Background(), "m-1", "u-1", LocationUpdate{Latitude: 1, Longitude: 2, Address: "Unknown location"})
	if err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}
}

func TestQRCodeEndpoints(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/qr":
			var req map[string]string
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req["meetingId"] != "m-1" || req["meetingName"] != "Lunch" {
				t.Errorf("unexpected issue payload %v", req)
			}
			_, _ = w.Write([]byte(`{"qrCode":"tok-1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/qr/m-1":
			_, _ = w.Write([]byte(`{"qrCode":"tok-1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/qr/empty":
			_, _ = w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	})

	tok, err := client.IssueQRCode(context.Background(), "m-1", "Lunch")
	if err != nil || tok != "tok-1" {
		t.Fatalf("IssueQRCode: %q %v", tok, err)
	}
	tok, err = client.CurrentQRCode(context.Background(), "m-1")
	if err != nil || tok != "tok-1" {
		t.Fatalf("CurrentQRCode: %q %v", tok, err)
	}
	if _, err := client.CurrentQRCode(context.Background(), "empty"); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such meeting", http.StatusNotFound)
	})
	_, err := client.GetMeeting(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if IsTransport(err) {
		t.Fatalf("api error must not be classified as transport")
	}

	down := New("http://127.0.0.1:1", "", 200*time.Millisecond, nil)
	_, err = down.GetMeeting(context.Background(), "m-1")
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
