// Package config reads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const prefix = "MEDCONSULT_"

// Config holds every runtime setting of the API binary.
type Config struct {
	HTTPAddr string
	GRPCAddr string
	DSN      string

	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration

	PublicPaths    []string
	PublicPrefixes []string
	CORSOrigins    []string

	AuthRateLimit float64
	AuthRateBurst int
	MaxBodyBytes  int64
	MaxUpload     int64

	BlobDir  string
	SeedDemo bool

	NotifyWorkers int
	NotifyQueue   int
	NotifyTimeout time.Duration

	EmailEndpoint string
	EmailAPIKey   string
	EmailFrom     string
	EmailFromName string
	PushEndpoint  string
	PushServerKey string
}

var (
	DefaultPublicPaths    = []string{"/api/doctors", "/healthz", "/readyz", "/metrics", "/v1/info"}
	DefaultPublicPrefixes = []string{"/api/auth/"}
)

// Load reads .env files (missing files are ignored, the process environment
// wins) and then the environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, which returns the raw value of an
// unprefixed key such as "JWT_SECRET" under MEDCONSULT_JWT_SECRET.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	r := reader{lookup: lookup}
	cfg := Config{
		HTTPAddr:       r.str("HTTP_ADDR", ":8080"),
		GRPCAddr:       r.str("GRPC_ADDR", ""),
		DSN:            r.str("PG_DSN", ""),
		JWTSecret:      r.str("JWT_SECRET", ""),
		JWTIssuer:      r.str("JWT_ISSUER", "medconsult"),
		TokenTTL:       r.duration("TOKEN_TTL", 24*time.Hour),
		PublicPaths:    r.list("PUBLIC_PATHS", DefaultPublicPaths),
		PublicPrefixes: r.list("PUBLIC_PREFIXES", DefaultPublicPrefixes),
		CORSOrigins:    r.list("CORS_ORIGINS", []string{"*"}),
		AuthRateLimit:  r.float("AUTH_RATE_LIMIT", 5),
		AuthRateBurst:  r.int("AUTH_RATE_BURST", 10),
		MaxBodyBytes:   int64(r.int("MAX_BODY_BYTES", 1<<20)),
		MaxUpload:      int64(r.int("MAX_UPLOAD_BYTES", 10<<20)),
		BlobDir:        r.str("BLOB_DIR", ""),
		SeedDemo:       r.bool("SEED_DEMO", false),
		NotifyWorkers:  r.int("NOTIFY_WORKERS", 4),
		NotifyQueue:    r.int("NOTIFY_QUEUE", 256),
		NotifyTimeout:  r.duration("NOTIFY_TIMEOUT", 10*time.Second),
		EmailEndpoint:  r.str("EMAIL_ENDPOINT", ""),
		EmailAPIKey:    r.str("EMAIL_API_KEY", ""),
		EmailFrom:      r.str("EMAIL_FROM", "noreply@medconsult.local"),
		EmailFromName:  r.str("EMAIL_FROM_NAME", "Healthcare Consultant"),
		PushEndpoint:   r.str("PUSH_ENDPOINT", ""),
		PushServerKey:  r.str("PUSH_SERVER_KEY", ""),
	}
	if len(r.errs) > 0 {
		return Config{}, errors.Join(r.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that have no usable default.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("config: "+prefix+"JWT_SECRET is required"))
	} else if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("config: "+prefix+"JWT_SECRET must be at least 32 bytes"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("config: "+prefix+"TOKEN_TTL must be positive"))
	}
	if c.AuthRateLimit < 0 || c.AuthRateBurst < 0 {
		errs = append(errs, errors.New("config: auth rate limit must not be negative"))
	}
	if c.MaxUpload <= 0 || c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("config: body limits must be positive"))
	}
	return errors.Join(errs...)
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) raw(key string) (string, bool) {
	v, ok := r.lookup(prefix + key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *reader) str(key, def string) string {
	if v, ok := r.raw(key); ok {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s%s: %w", prefix, key, err))
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s%s: %w", prefix, key, err))
		return def
	}
	return n
}

func (r *reader) bool(key string, def bool) bool {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s%s: %w", prefix, key, err))
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s%s: %w", prefix, key, err))
		return def
	}
	return d
}

func (r *reader) list(key string, def []string) []string {
	v, ok := r.raw(key)
	if !ok {
		return append([]string(nil), def...)
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
