package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ontime/internal/auth"
	"ontime/internal/checkin"
	"ontime/internal/config"
	"ontime/internal/geo"
	"ontime/internal/httpapi"
	"ontime/internal/journal"
	"ontime/internal/logging"
	"ontime/internal/meetingclient"
	"ontime/internal/qrcode"
	"ontime/internal/queue"
	"ontime/internal/state"
	"ontime/internal/store"
	"ontime/internal/tracking"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Development())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings {
		logger.Warn("config fallback", zap.String("detail", w))
	}

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("agent failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	participantID, err := auth.ParticipantFromToken(cfg.AccessToken)
	if err != nil {
		logger.Warn("no participant identity in access token, check-in disabled", zap.Error(err))
	}
	snapshots := state.NewStore(nil)
	snapshots.Update(func(s state.Snapshot) state.Snapshot {
		s.ParticipantID = participantID
		return s
	})

	client := meetingclient.New(cfg.APIBaseURL, cfg.AccessToken, cfg.APITimeout, logger.Named("meetingclient"))

	fix := geo.NewLatest(cfg.LocationMaxAge, nil)
	var geocoder geo.ReverseGeocoder = geo.NoGeocoder{}
	if cfg.GeocoderURL != "" {
		geocoder = geo.NewNominatim(cfg.GeocoderURL, "ontime/"+cfg.AppOrigin)
	}

	refresher := tracking.NewRefresher(client, snapshots, logger.Named("refresh"), nil)
	tracker := tracking.NewTracker(ctx, snapshots, refresher,
		tracking.NewPoller(client, snapshots, cfg.PollInterval, logger.Named("poller")),
		tracking.NewReporter(client, fix, geocoder, snapshots, cfg.ReportInterval, logger.Named("reporter")),
		logger.Named("tracker"))
	defer tracker.Close()

	health := map[string]httpapi.HealthCheck{}
	opts := checkin.Options{
		DedupWindow: cfg.DedupWindow,
		Location:    cfg.Location,
		Logger:      logger.Named("checkin"),
	}
	var attempts httpapi.AttemptLister
	if cfg.DatabaseURL != "" {
		db, err := store.NewDB(cfg.DatabaseURL)
		if err != nil {
			logger.Warn("journal disabled: db not reachable", zap.Error(err))
		} else {
			defer db.Close()
			repo := journal.NewRepository(db.Client)
			if err := repo.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate journal: %w", err)
			}
			opts.Journal = repo
			attempts = repo
			health["db"] = db.Healthy
		}
	}
	machine := checkin.New(client, refresher, geo.NewEvaluator(fix, cfg.ArrivalRadius),
		qrcode.NewCodec(cfg.QRSize), snapshots, opts)

	var q queue.Queue
	switch cfg.QueueBackend {
	case "redis":
		rdb := store.NewRedis(cfg.RedisAddr)
		defer rdb.Close()
		q = queue.NewRedisQueue(rdb.Client, cfg.QueueKey)
		health["redis"] = rdb.Healthy
	default:
		q = queue.NewInMemory(64)
	}
	triggers, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume triggers: %w", err)
	}
	go machine.Consume(ctx, triggers)

	if cfg.MeetingID != "" {
		if err := tracker.Open(ctx, cfg.MeetingID); err != nil {
			logger.Warn("initial refresh incomplete", zap.String("meeting_id", cfg.MeetingID), zap.Error(err))
		}
	}

	if cfg.LocalAPIKey != "" && cfg.Development() {
		token, exp, err := auth.Issue("local-dev", "device", cfg.JWTIssuer, cfg.LocalAPIKey, 24*time.Hour)
		if err != nil {
			return fmt.Errorf("issue dev token: %w", err)
		}
		logger.Info("local api dev token", zap.String("token", token), zap.Time("expires_at", exp))
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Store:           snapshots,
		Tracker:         tracker,
		CheckIn:         machine,
		Queue:           q,
		Location:        fix,
		Journal:         attempts,
		Health:          health,
		PaymentScheme:   cfg.PaymentScheme,
		AppOrigin:       cfg.AppOrigin,
		APIKey:          cfg.LocalAPIKey,
		Issuer:          cfg.JWTIssuer,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Logger:          logger.Named("http"),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("local api listening", zap.String("addr", srv.Addr), zap.String("participant_id", participantID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", zap.Error(err))
	}
	return nil
}
