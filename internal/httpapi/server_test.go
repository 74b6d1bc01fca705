package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ontime/internal/auth"
	"ontime/internal/checkin"
	"ontime/internal/geo"
	"ontime/internal/journal"
	"ontime/internal/meeting"
	"ontime/internal/qrcode"
	"ontime/internal/queue"
	"ontime/internal/state"
)

type fakeTracker struct {
	mu      sync.Mutex
	store   *state.Store
	opened  []string
	closed  int
	running bool
}

func (f *fakeTracker) Open(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, id)
	f.running = true
	f.store.Update(func(s state.Snapshot) state.Snapshot {
		s.MeetingID = id
		s.Meeting = &meeting.Meeting{
			ID:      id,
			LateFee: 3000,
			Account: meeting.BankAccount{BankName: "Toss", AccountNumber: "1000-1"},
		}
		return s
	})
	return nil
}

func (f *fakeTracker) Close() {
	f.mu.Lock()
	f.closed++
	f.running = false
	f.mu.Unlock()
}

func (f *fakeTracker) Refresh(context.Context) error { return nil }

func (f *fakeTracker) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

type fakeCheckIn struct {
	scanErr error
	scanned []string
}

func (f *fakeCheckIn) Scan(_ context.Context, token string) (checkin.Outcome, error) {
	f.scanned = append(f.scanned, token)
	if f.scanErr != nil {
		return checkin.Outcome{Kind: checkin.OutcomeInvalidCode}, f.scanErr
	}
	return checkin.Outcome{Kind: checkin.OutcomeRegistered, Registered: true, Phase: state.PhaseIdle}, nil
}

func (f *fakeCheckIn) ShowCode(context.Context) (checkin.Outcome, error) {
	return checkin.Outcome{}, checkin.ErrNotArrived
}

func (f *fakeCheckIn) Dismiss() error { return nil }

type fakeJournal struct{ filter journal.Filter }

func (f *fakeJournal) ListAttempts(_ context.Context, flt journal.Filter) ([]journal.Attempt, error) {
	f.filter = flt
	return []journal.Attempt{{ID: "a-1", MeetingID: flt.MeetingID, Outcome: checkin.OutcomeLate}}, nil
}

type harness struct {
	router  *gin.Engine
	store   *state.Store
	tracker *fakeTracker
	checkin *fakeCheckIn
	queue   *queue.InMemory
	fix     *geo.Latest
	journal *fakeJournal
}

func newHarness(t *testing.T, apiKey string) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := state.NewStore(nil)
	h := &harness{
		store:   store,
		tracker: &fakeTracker{store: store},
		checkin: &fakeCheckIn{},
		queue:   queue.NewInMemory(4),
		fix:     geo.NewLatest(time.Minute, nil),
		journal: &fakeJournal{},
	}
	h.router = NewRouter(Deps{
		Store:    store,
		Tracker:  h.tracker,
		CheckIn:  h.checkin,
		Queue:    h.queue,
		Location: h.fix,
		Journal:  h.journal,
		Health: map[string]HealthCheck{
			"redis": func(context.Context) bool { return true },
		},
		APIKey: apiKey,
		Issuer: "ontime-agent",
	})
	return h
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, "")
	rec := h.do(http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"redis":true`) {
		t.Fatalf("unexpected health %d %s", rec.Code, rec.Body.String())
	}
}

func TestOpenCheckInAndClose(t *testing.T) {
	h := newHarness(t, "")

	if rec := h.do(http.MethodPost, "/v1/checkin", ""); rec.Code != http.StatusConflict {
		t.Fatalf("checkin without meeting: %d", rec.Code)
	}

	rec := h.do(http.MethodPost, "/v1/meetings/m-9/open", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("open: %d %s", rec.Code, rec.Body.String())
	}
	var snap state.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.MeetingID != "m-9" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, _ := h.queue.Consume(ctx)
	rec = h.do(http.MethodPost, "/v1/checkin", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("checkin: %d", rec.Code)
	}
	select {
	case msg := <-msgs:
		if msg.Type != queue.TypeButton || msg.MeetingID != "m-9" {
			t.Fatalf("unexpected trigger %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("trigger not queued")
	}

	if rec := h.do(http.MethodPost, "/v1/meetings/current/close", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("close: %d", rec.Code)
	}
	if h.tracker.Running() {
		t.Fatalf("tracker still running")
	}
}

func TestScanStatuses(t *testing.T) {
	h := newHarness(t, "")
	if rec := h.do(http.MethodPost, "/v1/scan", `{"token":"abc"}`); rec.Code != http.StatusOK {
		t.Fatalf("scan: %d", rec.Code)
	}

	h.checkin.scanErr = checkin.ErrInvalidCode
	rec := h.do(http.MethodPost, "/v1/scan", `{"token":"abc"}`)
	if rec.Code != http.StatusUnprocessableEntity || !strings.Contains(rec.Body.String(), "Invalid code") {
		t.Fatalf("invalid scan: %d %s", rec.Code, rec.Body.String())
	}

	if rec := h.do(http.MethodPost, "/v1/qr/show", ""); rec.Code != http.StatusConflict {
		t.Fatalf("show before arrival: %d", rec.Code)
	}
}

func (h *harness) upload(path, field string, data []byte) *httptest.ResponseRecorder {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, _ := w.CreateFormFile(field, "frame.png")
	_, _ = part.Write(data)
	_ = w.Close()
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestScanImageDecodesFrame(t *testing.T) {
	h := newHarness(t, "")
	frame, err := qrcode.NewCodec(256).EncodePNG("tok-frame")
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}

	rec := h.upload("/v1/scan/image", "image", frame)
	if rec.Code != http.StatusOK {
		t.Fatalf("scan image: %d %s", rec.Code, rec.Body.String())
	}
	if len(h.checkin.scanned) != 1 || h.checkin.scanned[0] != "tok-frame" {
		t.Fatalf("decoded token not forwarded: %v", h.checkin.scanned)
	}

	if rec := h.upload("/v1/scan/image", "image", []byte("not an image")); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unreadable frame: %d", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/v1/scan/image", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing file: %d", rec.Code)
	}
	if len(h.checkin.scanned) != 1 {
		t.Fatalf("failed uploads must not reach the scan flow")
	}
}

func TestQRImageAndLocation(t *testing.T) {
	h := newHarness(t, "")
	if rec := h.do(http.MethodGet, "/v1/qr.png", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without code, got %d", rec.Code)
	}
	h.store.UpdateSession(func(s state.Session) state.Session {
		s.QRCode = []byte("\x89PNG")
		return s
	})
	rec := h.do(http.MethodGet, "/v1/qr.png", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("qr: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}

	if rec := h.do(http.MethodPut, "/v1/location", `{"latitude":37.5,"longitude":127.0}`); rec.Code != http.StatusNoContent {
		t.Fatalf("location: %d %s", rec.Code, rec.Body.String())
	}
	got, err := h.fix.LastKnown(context.Background())
	if err != nil || got.Latitude != 37.5 {
		t.Fatalf("fix not stored: %+v %v", got, err)
	}
	if rec := h.do(http.MethodPut, "/v1/location", `{"latitude":137.5,"longitude":0}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid fix accepted: %d", rec.Code)
	}
	if rec := h.do(http.MethodPut, "/v1/location", `{"latitude":1}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing longitude accepted: %d", rec.Code)
	}
}

func TestPaymentAndAttempts(t *testing.T) {
	h := newHarness(t, "")
	if rec := h.do(http.MethodGet, "/v1/payment", ""); rec.Code != http.StatusConflict {
		t.Fatalf("payment without meeting: %d", rec.Code)
	}
	h.do(http.MethodPost, "/v1/meetings/m-1/open", "")

	rec := h.do(http.MethodGet, "/v1/payment", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "supertoss://send?bank=Toss") {
		t.Fatalf("payment: %d %s", rec.Code, rec.Body.String())
	}

	rec = h.do(http.MethodGet, "/v1/attempts?limit=5", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "a-1") {
		t.Fatalf("attempts: %d %s", rec.Code, rec.Body.String())
	}
	if h.journal.filter.MeetingID != "m-1" || h.journal.filter.Limit != 5 {
		t.Fatalf("unexpected filter %+v", h.journal.filter)
	}
}

func TestBearerRequiredWhenKeySet(t *testing.T) {
	h := newHarness(t, "local-secret")
	if rec := h.do(http.MethodGet, "/v1/state", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	token, _, err := auth.Issue("bridge", "device", "ontime-agent", "local-secret", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
	// health stays public
	if rec := h.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
}

func TestStateStream(t *testing.T) {
	h := newHarness(t, "")
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/state/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first state.Snapshot
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial: %v", err)
	}

	h.store.Update(func(s state.Snapshot) state.Snapshot {
		s.MeetingID = "m-stream"
		return s
	})
	for {
		var snap state.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read update: %v", err)
		}
		if snap.MeetingID == "m-stream" {
			if snap.Version <= first.Version {
				t.Fatalf("version did not advance: %d <= %d", snap.Version, first.Version)
			}
			return
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, "secret")
	req := httptest.NewRequest(http.MethodOptions, "/v1/state", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing allow-origin header: %v", rec.Header())
	}
}
