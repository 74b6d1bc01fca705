// Package httpapi exposes the agent's local control API.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ontime/internal/auth"
	"ontime/internal/checkin"
	"ontime/internal/geo"
	"ontime/internal/httpmiddleware"
	"ontime/internal/journal"
	"ontime/internal/meeting"
	"ontime/internal/meetingclient"
	"ontime/internal/payment"
	"ontime/internal/qrcode"
	"ontime/internal/queue"
	"ontime/internal/state"
	"ontime/internal/tracking"
)

// Tracker opens, closes and refreshes the current meeting.
type Tracker interface {
	Open(ctx context.Context, meetingID string) error
	Close()
	Refresh(ctx context.Context) error
	Running() bool
}

// CheckIn is the interactive part of the check-in flow.
type CheckIn interface {
	Scan(ctx context.Context, token string) (checkin.Outcome, error)
	ShowCode(ctx context.Context) (checkin.Outcome, error)
	Dismiss() error
}

// LocationSink accepts device fixes.
type LocationSink interface {
	Set(c meeting.Coordinates) error
}

// AttemptLister lists journal entries.
type AttemptLister interface {
	ListAttempts(ctx context.Context, f journal.Filter) ([]journal.Attempt, error)
}

// HealthCheck reports whether one backend is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the collaborators behind the routes. Journal and Health entries
// may be nil.
type Deps struct {
	Store    *state.Store
	Tracker  Tracker
	CheckIn  CheckIn
	Queue    queue.Queue
	Location LocationSink
	Journal  AttemptLister
	Health   map[string]HealthCheck

	PaymentScheme   string
	AppOrigin       string
	APIKey          string
	Issuer          string
	RateLimitPerMin int
	Logger          *zap.Logger
}

type server struct {
	Deps
	logger *zap.Logger
}

// NewRouter builds the gin engine.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	s := &server{Deps: d, logger: d.Logger}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.logger, "/healthz", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))
	r.Use(securityHeaders())
	if d.RateLimitPerMin > 0 {
		r.Use(httpmiddleware.NewTokenBucket(d.RateLimitPerMin, d.RateLimitPerMin).Middleware(s.logger))
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.healthz)

	v1 := r.Group("/v1", auth.BearerAuth(d.APIKey, d.Issuer))
	v1.GET("/state", s.getState)
	v1.GET("/state/ws", s.streamState)
	v1.POST("/meetings/:id/open", s.openMeeting)
	v1.POST("/meetings/current/close", s.closeMeeting)
	v1.POST("/refresh", s.refresh)
	v1.POST("/checkin", s.enqueueCheckIn)
	v1.POST("/scan", s.scan)
	v1.POST("/scan/image", s.scanImage)
	v1.POST("/qr/show", s.showCode)
	v1.POST("/dismiss", s.dismiss)
	v1.GET("/qr.png", s.qrImage)
	v1.PUT("/location", s.putLocation)
	v1.GET("/payment", s.paymentLink)
	v1.GET("/attempts", s.listAttempts)
	return r
}

func (s *server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	body := gin.H{"status": "ok", "tracking": s.Tracker.Running()}
	for name, check := range s.Health {
		ok := check != nil && check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (s *server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, s.Store.Load())
}

func (s *server) openMeeting(c *gin.Context) {
	err := s.Tracker.Open(c.Request.Context(), c.Param("id"))
	if errors.Is(err, tracking.ErrNoMeeting) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "meeting id required"})
		return
	}
	// partial refreshes still open the meeting; the snapshot carries the error
	c.JSON(http.StatusOK, s.Store.Load())
}

func (s *server) closeMeeting(c *gin.Context) {
	s.Tracker.Close()
	c.Status(http.StatusNoContent)
}

func (s *server) refresh(c *gin.Context) {
	if err := s.Tracker.Refresh(c.Request.Context()); err != nil {
		if errors.Is(err, tracking.ErrNoMeeting) {
			c.JSON(http.StatusConflict, gin.H{"error": "no meeting open"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "state": s.Store.Load()})
		return
	}
	c.JSON(http.StatusOK, s.Store.Load())
}

func (s *server) enqueueCheckIn(c *gin.Context) {
	snap := s.Store.Load()
	if snap.MeetingID == "" {
		c.JSON(http.StatusConflict, gin.H{"error": checkin.Message(checkin.ErrMissingMeeting)})
		return
	}
	msg := queue.NewMessage(queue.TypeButton, snap.MeetingID)
	if err := s.Queue.Publish(c.Request.Context(), msg); err != nil {
		s.logger.Error("trigger publish failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trigger queue unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"trigger_id": msg.ID})
}

func (s *server) scan(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := s.CheckIn.Scan(c.Request.Context(), req.Token)
	respondOutcome(c, out, err)
}

// scanImage reads the code from an uploaded camera frame and verifies it
// like a decoded scan. An unreadable frame leaves the scan open.
func (s *server) scanImage(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	token, err := qrcode.DecodeImage(f)
	if err != nil {
		s.logger.Debug("scan frame unreadable", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "No readable code in the image. Try again."})
		return
	}
	out, err := s.CheckIn.Scan(c.Request.Context(), token)
	respondOutcome(c, out, err)
}

func (s *server) showCode(c *gin.Context) {
	out, err := s.CheckIn.ShowCode(c.Request.Context())
	respondOutcome(c, out, err)
}

func (s *server) dismiss(c *gin.Context) {
	if err := s.CheckIn.Dismiss(); err != nil {
		c.JSON(statusFor(err), gin.H{"error": checkin.Message(err)})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) qrImage(c *gin.Context) {
	png := s.Store.Load().Session.QRCode
	if len(png) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no code displayed"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (s *server) putLocation(c *gin.Context) {
	var req struct {
		Latitude  *float64 `json:"latitude" binding:"required"`
		Longitude *float64 `json:"longitude" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fix := meeting.Coordinates{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if err := s.Location.Set(fix); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) paymentLink(c *gin.Context) {
	snap := s.Store.Load()
	if snap.Meeting == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no meeting loaded"})
		return
	}
	link, err := payment.BuildLink(s.PaymentScheme, s.AppOrigin, *snap.Meeting)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, link)
}

func (s *server) listAttempts(c *gin.Context) {
	if s.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not configured"})
		return
	}
	f := journal.Filter{
		MeetingID:     c.DefaultQuery("meeting_id", s.Store.Load().MeetingID),
		ParticipantID: c.Query("participant_id"),
	}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Offset = parsed
		}
	}
	attempts, err := s.Journal.ListAttempts(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

func respondOutcome(c *gin.Context, out checkin.Outcome, err error) {
	if err != nil {
		body := gin.H{"error": checkin.Message(err), "detail": err.Error()}
		if out.Kind != "" {
			body["outcome"] = out
		}
		c.JSON(statusFor(err), body)
		return
	}
	c.JSON(http.StatusOK, out)
}

// statusFor maps flow errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, checkin.ErrInProgress), errors.Is(err, checkin.ErrNotAwaitingScan),
		errors.Is(err, checkin.ErrNotArrived), errors.Is(err, checkin.ErrMissingMeeting):
		return http.StatusConflict
	case errors.Is(err, checkin.ErrInvalidCode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, checkin.ErrMissingParticipant):
		return http.StatusPreconditionFailed
	case errors.Is(err, geo.ErrLocationUnavailable):
		return http.StatusServiceUnavailable
	case meetingclient.IsTransport(err):
		return http.StatusBadGateway
	}
	var apiErr *meetingclient.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

func requestLogger(logger *zap.Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if _, ok := skipped[c.Request.URL.Path]; ok {
			return
		}
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
