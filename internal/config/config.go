// Package config centralizes how ProofDrop reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dharsanguruparan/ProofDrop/internal/model"
)

// Proof backends accepted by PROOFDROP_PROOF_BACKEND.
const (
	BackendImageHost = "imagehost"
	BackendMinio     = "minio"
)

// Config represents runtime configuration for the service. Credentials are
// only ever read from the environment; nothing secret has a default.
type Config struct {
	Address     string
	MaxFileSize int64
	SessionTTL  time.Duration

	ProofBackend      string
	ImageHostEndpoint string
	ImageHostKey      string
	ImageHostField    string
	UploadTimeout     time.Duration

	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3UseSSL        bool
	S3Region        string
	ProofBucket     string
	ProofPublicBase string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ReviewWorkers int

	LogLevel       string
	LogDevelopment bool

	Page     model.Variant `yaml:"page"`
	Counters Counters      `yaml:"counters"`
}

// Counters bounds the decorative visitor/spots numbers shown on the page.
type Counters struct {
	VisitorsStart int           `yaml:"visitors_start"`
	VisitorsMax   int           `yaml:"visitors_max"`
	SpotsStart    int           `yaml:"spots_start"`
	SpotsMin      int           `yaml:"spots_min"`
	MinDelay      time.Duration `yaml:"min_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
}

const (
	defaultAddress           = ":8080"
	defaultMaxFileSize       = 5 << 20 // 5 MiB
	defaultSessionTTL        = time.Hour
	defaultImageHostEndpoint = "https://api.imgbb.com/1/upload"
	defaultImageHostField    = "image"
	defaultUploadTimeout     = 30 * time.Second
	defaultS3Region          = "us-east-1"
	defaultProofBucket       = "proofs"
	defaultWorkerCount       = 2
	defaultLogLevel          = "info"
)

// DefaultCounters mirrors the numbers the landing page has always shown.
func DefaultCounters() Counters {
	return Counters{
		VisitorsStart: 202,
		VisitorsMax:   233,
		SpotsStart:    44,
		SpotsMin:      10,
		MinDelay:      2 * time.Second,
		MaxDelay:      9 * time.Second,
	}
}

// DefaultVariant is the plain page: one form-level alert, no shake, no redirect.
func DefaultVariant() model.Variant {
	return model.Variant{
		Title:           "MASTERCLASS SESSION 2025",
		Pricing:         model.PricingStandard,
		DefaultExpedite: true,
	}
}

// Load reads configuration from environment variables falling back to
// defaults, then applies the optional YAML overlay named by PROOFDROP_CONFIG.
func Load() (*Config, error) {
	cfg := &Config{
		Address:     readEnv("PROOFDROP_ADDRESS", defaultAddress),
		MaxFileSize: parseInt64("PROOFDROP_MAX_FILE_BYTES", defaultMaxFileSize),
		SessionTTL:  parseDuration("PROOFDROP_SESSION_TTL", defaultSessionTTL),

		ProofBackend:      strings.ToLower(readEnv("PROOFDROP_PROOF_BACKEND", BackendImageHost)),
		ImageHostEndpoint: readEnv("PROOFDROP_IMAGEHOST_ENDPOINT", defaultImageHostEndpoint),
		ImageHostKey:      readEnv("PROOFDROP_IMAGEHOST_KEY", ""),
		ImageHostField:    readEnv("PROOFDROP_IMAGEHOST_FIELD", defaultImageHostField),
		UploadTimeout:     parseDuration("PROOFDROP_UPLOAD_TIMEOUT", defaultUploadTimeout),

		S3Endpoint:      readEnv("PROOFDROP_S3_ENDPOINT", ""),
		S3AccessKey:     readEnv("PROOFDROP_S3_ACCESS_KEY", ""),
		S3SecretKey:     readEnv("PROOFDROP_S3_SECRET_KEY", ""),
		S3UseSSL:        parseBool("PROOFDROP_S3_USE_SSL", true),
		S3Region:        readEnv("PROOFDROP_S3_REGION", defaultS3Region),
		ProofBucket:     readEnv("PROOFDROP_PROOF_BUCKET", defaultProofBucket),
		ProofPublicBase: readEnv("PROOFDROP_PROOF_PUBLIC_BASE", ""),

		DatabaseURL: readEnv("PROOFDROP_DATABASE_URL", ""),

		RedisAddr:     readEnv("PROOFDROP_REDIS_ADDR", ""),
		RedisPassword: readEnv("PROOFDROP_REDIS_PASSWORD", ""),
		RedisDB:       parseInt("PROOFDROP_REDIS_DB", 0),

		ReviewWorkers: parseInt("PROOFDROP_REVIEW_WORKERS", defaultWorkerCount),

		LogLevel:       readEnv("PROOFDROP_LOG_LEVEL", defaultLogLevel),
		LogDevelopment: parseBool("PROOFDROP_LOG_DEVELOPMENT", false),

		Page:     DefaultVariant(),
		Counters: DefaultCounters(),
	}
	if path := readEnv("PROOFDROP_CONFIG", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile overlays the page variant and counter settings from a YAML file.
// Only those two sections are read so credentials cannot end up in a file
// that is shipped alongside the binary.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	overlay := struct {
		Page     *model.Variant `yaml:"page"`
		Counters *Counters      `yaml:"counters"`
	}{Page: &c.Page, Counters: &c.Counters}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) normalize() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = defaultMaxFileSize
	}
	if c.ReviewWorkers <= 0 {
		c.ReviewWorkers = defaultWorkerCount
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = defaultUploadTimeout
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.Page.MinNameLength < 0 {
		c.Page.MinNameLength = 0
	}
	if c.Page.Pricing == "" {
		c.Page.Pricing = model.PricingStandard
	}
	def := DefaultCounters()
	if c.Counters.MinDelay <= 0 {
		c.Counters.MinDelay = def.MinDelay
	}
	if c.Counters.MaxDelay < c.Counters.MinDelay {
		c.Counters.MaxDelay = c.Counters.MinDelay
	}
}

// Validate reports settings that are wrong for every binary.
func (c *Config) Validate() error {
	var errs []error
	if c.ProofBackend != BackendImageHost && c.ProofBackend != BackendMinio {
		errs = append(errs, fmt.Errorf("unknown proof backend %q", c.ProofBackend))
	}
	if c.Counters.SpotsMin < 0 || c.Counters.SpotsStart < c.Counters.SpotsMin {
		errs = append(errs, errors.New("counters: spots_start must be >= spots_min >= 0"))
	}
	if c.Counters.VisitorsStart < 0 || c.Counters.VisitorsMax < c.Counters.VisitorsStart {
		errs = append(errs, errors.New("counters: visitors_max must be >= visitors_start >= 0"))
	}
	return errors.Join(errs...)
}

// ValidateProofBackend reports credentials missing for the selected proof
// backend. Only processes that upload proofs need them.
func (c *Config) ValidateProofBackend() error {
	var errs []error
	switch c.ProofBackend {
	case BackendImageHost:
		if c.ImageHostKey == "" {
			errs = append(errs, errors.New("PROOFDROP_IMAGEHOST_KEY is required for the imagehost backend"))
		}
		if c.ImageHostEndpoint == "" {
			errs = append(errs, errors.New("PROOFDROP_IMAGEHOST_ENDPOINT is empty"))
		}
	case BackendMinio:
		if c.S3Endpoint == "" || c.S3AccessKey == "" || c.S3SecretKey == "" {
			errs = append(errs, errors.New("PROOFDROP_S3_ENDPOINT, PROOFDROP_S3_ACCESS_KEY and PROOFDROP_S3_SECRET_KEY are required for the minio backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown proof backend %q", c.ProofBackend))
	}
	return errors.Join(errs...)
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
