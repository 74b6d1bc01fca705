package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

const configFileEnv = "CONFIG_FILE"

// App holds the runtime configuration. Values come from environment
// variables, falling back to the YAML file named by CONFIG_FILE, then to
// defaults.
type App struct {
	Env             string
	HTTPPort        string
	LogLevel        string
	APIBaseURL      string
	APITimeout      time.Duration
	AccessToken     string
	MeetingID       string
	DatabaseURL     string
	RedisAddr       string
	QueueBackend    string
	QueueKey        string
	PollInterval    time.Duration
	ReportInterval  time.Duration
	ArrivalRadius   float64
	QRSize          int
	ShakeThreshold  float64
	ShakeSampleGap  time.Duration
	LocationMaxAge  time.Duration
	GeocoderURL     string
	PaymentScheme   string
	AppOrigin       string
	MeetingTimezone string
	Location        *time.Location
	LocalAPIKey     string
	JWTIssuer       string
	RateLimitPerMin int
	DedupWindow     time.Duration
	// Warnings lists values that failed to parse and fell back to defaults.
	Warnings []string
}

// Development reports whether the app runs in the dev environment.
func (a App) Development() bool { return a.Env == "dev" }

// Load returns application config with sensible defaults.
func Load() (App, error) {
	src := &source{}
	if path := os.Getenv(configFileEnv); path != "" {
		if err := src.loadFile(path); err != nil {
			return App{}, err
		}
	}

	app := App{
		Env:             src.getEnv("APP_ENV", "dev"),
		HTTPPort:        src.getEnv("HTTP_PORT", "8081"),
		LogLevel:        src.getEnv("LOG_LEVEL", "info"),
		APIBaseURL:      src.getEnv("API_BASE_URL", "http://localhost:8080"),
		APITimeout:      src.durationEnv("API_TIMEOUT", 10*time.Second),
		AccessToken:     src.getEnv("ACCESS_TOKEN", ""),
		MeetingID:       src.getEnv("MEETING_ID", ""),
		DatabaseURL:     src.getEnv("DATABASE_URL", ""),
		RedisAddr:       src.getEnv("REDIS_ADDR", "localhost:6379"),
		QueueBackend:    src.getEnv("QUEUE_BACKEND", "memory"),
		QueueKey:        src.getEnv("QUEUE_KEY", "ontime:triggers"),
		PollInterval:    src.durationEnv("POLL_INTERVAL", 3*time.Second),
		ReportInterval:  src.durationEnv("REPORT_INTERVAL", 3*time.Second),
		ArrivalRadius:   src.floatEnv("ARRIVAL_RADIUS_METERS", 100),
		QRSize:          src.intEnv("QR_SIZE", 512),
		ShakeThreshold:  src.floatEnv("SHAKE_THRESHOLD", 800),
		ShakeSampleGap:  src.durationEnv("SHAKE_SAMPLE_GAP", 100*time.Millisecond),
		LocationMaxAge:  src.durationEnv("LOCATION_MAX_AGE", 2*time.Minute),
		GeocoderURL:     src.getEnv("GEOCODER_URL", ""),
		PaymentScheme:   src.getEnv("PAYMENT_SCHEME", "supertoss"),
		AppOrigin:       src.getEnv("APP_ORIGIN", "ontime"),
		MeetingTimezone: src.getEnv("MEETING_TIMEZONE", "Asia/Seoul"),
		LocalAPIKey:     src.getEnv("LOCAL_API_KEY", ""),
		JWTIssuer:       src.getEnv("JWT_ISSUER", "ontime-agent"),
		RateLimitPerMin: src.intEnv("RATE_LIMIT_PER_MIN", 120),
		DedupWindow:     src.durationEnv("DEDUP_WINDOW", 10*time.Minute),
	}
	app.Warnings = src.warnings

	loc, err := time.LoadLocation(app.MeetingTimezone)
	if err != nil {
		return App{}, fmt.Errorf("config: MEETING_TIMEZONE: %w", err)
	}
	app.Location = loc

	switch app.QueueBackend {
	case "memory", "redis":
	default:
		return App{}, fmt.Errorf("config: QUEUE_BACKEND must be memory or redis, got %q", app.QueueBackend)
	}
	if app.PollInterval <= 0 || app.ReportInterval <= 0 {
		return App{}, fmt.Errorf("config: poll and report intervals must be positive")
	}
	return app, nil
}

// source resolves keys from the environment first, then the config file.
type source struct {
	file     map[string]string
	warnings []string
}

func (s *source) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read file: %w", err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	s.file = make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		s.file[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return nil
}

func (s *source) lookup(key string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return s.file[key]
}

func (s *source) warnf(format string, args ...any) {
	s.warnings = append(s.warnings, fmt.Sprintf(format, args...))
}

func (s *source) getEnv(key, fallback string) string {
	if val := s.lookup(key); val != "" {
		return val
	}
	return fallback
}

func (s *source) durationEnv(key string, fallback time.Duration) time.Duration {
	if val := s.lookup(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			s.warnf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func (s *source) intEnv(key string, fallback int) int {
	if val := s.lookup(key); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			s.warnf("invalid int for %s, using fallback %d", key, fallback)
			return fallback
		}
		return parsed
	}
	return fallback
}

func (s *source) floatEnv(key string, fallback float64) float64 {
	if val := s.lookup(key); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			s.warnf("invalid number for %s, using fallback %v", key, fallback)
			return fallback
		}
		return parsed
	}
	return fallback
}
