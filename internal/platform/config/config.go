package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process level configuration.
type Server struct {
	Addr            string
	DatabaseURL     string
	SyncDatabaseURL string
	JWTSigningKey   string
	JWTIssuer       string
	JWTAudience     string
	LogLevel        string
	Redis           RedisConfig
	Kafka           KafkaConfig
	EVV             EVVConfig
	Sync            SyncConfig
	RateLimit       RateLimitConfig
}

// RedisConfig configures the visit lookup cache. An empty URL disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit event sink. No brokers disables it.
type KafkaConfig struct {
	Brokers     []string
	EventsTopic string
}

// EVVConfig holds the verification thresholds.
type EVVConfig struct {
	ComplianceProfile       string
	GraceMinutes            int
	GPSStrictAccuracyMeters float64
	DefaultRadiusMeters     float64
	VarianceMeters          float64
	VMURAgeDays             int
	CollaboratorTimeout     time.Duration
	VisitCacheTTL           time.Duration
	DirectorySeedPath       string
}

type SyncConfig struct {
	MaxAttempts int
	ClockSkew   time.Duration
}

// RateLimitConfig holds per-device budgets per minute. Zero disables a class.
type RateLimitConfig struct {
	Disabled         bool
	CapturePerMinute int
	SyncPerMinute    int
	ReadPerMinute    int
}

// FromEnv builds a Server config from environment variables so main stays lean.
// Unset keys fall back to development defaults; malformed values are errors.
func FromEnv() (Server, error) {
	e := &envReader{}
	cfg := Server{
		Addr:          e.str("EVV_ADDR", ":8080"),
		DatabaseURL:   e.str("DATABASE_URL", ""),
		JWTSigningKey: e.str("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:     e.str("JWT_ISSUER", "evv"),
		JWTAudience:   e.str("JWT_AUDIENCE", "evv-api"),
		LogLevel:      e.str("LOG_LEVEL", "info"),
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     e.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: e.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:     e.list("KAFKA_BROKERS"),
			EventsTopic: e.str("KAFKA_EVENTS_TOPIC", "evv.audit"),
		},
		EVV: EVVConfig{
			ComplianceProfile:       strings.ToUpper(e.str("EVV_COMPLIANCE_PROFILE", "FEDERAL_MINIMUM")),
			GraceMinutes:            e.integer("EVV_GRACE_MINUTES", 10),
			GPSStrictAccuracyMeters: e.float("EVV_GPS_STRICT_ACCURACY_METERS", 100),
			DefaultRadiusMeters:     e.float("EVV_DEFAULT_GEOFENCE_RADIUS_METERS", 100),
			VarianceMeters:          e.float("EVV_GEOFENCE_VARIANCE_METERS", 0),
			VMURAgeDays:             e.integer("EVV_VMUR_AGE_DAYS", 30),
			CollaboratorTimeout:     e.duration("EVV_COLLABORATOR_TIMEOUT", 5*time.Second),
			VisitCacheTTL:           e.duration("EVV_VISIT_CACHE_TTL", 5*time.Minute),
			DirectorySeedPath:       e.str("EVV_DIRECTORY_SEED", ""),
		},
		Sync: SyncConfig{
			MaxAttempts: e.integer("SYNC_MAX_ATTEMPTS", 5),
			ClockSkew:   e.duration("SYNC_CLOCK_SKEW", 2*time.Second),
		},
		RateLimit: RateLimitConfig{
			Disabled:         e.boolean("RATE_LIMIT_DISABLED", false),
			CapturePerMinute: e.integer("RATE_LIMIT_CAPTURE_PER_MINUTE", 30),
			SyncPerMinute:    e.integer("RATE_LIMIT_SYNC_PER_MINUTE", 20),
			ReadPerMinute:    e.integer("RATE_LIMIT_READ_PER_MINUTE", 120),
		},
	}
	cfg.SyncDatabaseURL = e.str("SYNC_DATABASE_URL", cfg.DatabaseURL)
	if e.err != nil {
		return Server{}, e.err
	}
	return cfg, nil
}

// envReader remembers the first malformed key.
type envReader struct {
	err error
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (e *envReader) integer(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *envReader) float(key string, def float64) float64 {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return f
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *envReader) boolean(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("config %s: %w", key, err)
	}
}
