package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ProofDrop/internal/model"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PROOFDROP_ADDRESS", "PROOFDROP_MAX_FILE_BYTES", "PROOFDROP_SESSION_TTL",
		"PROOFDROP_PROOF_BACKEND", "PROOFDROP_IMAGEHOST_KEY", "PROOFDROP_IMAGEHOST_ENDPOINT",
		"PROOFDROP_S3_ENDPOINT", "PROOFDROP_S3_ACCESS_KEY", "PROOFDROP_S3_SECRET_KEY",
		"PROOFDROP_DATABASE_URL", "PROOFDROP_REDIS_ADDR", "PROOFDROP_REVIEW_WORKERS",
		"PROOFDROP_CONFIG", "PROOFDROP_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, int64(5<<20), cfg.MaxFileSize)
	assert.Equal(t, BackendImageHost, cfg.ProofBackend)
	assert.Equal(t, "https://api.imgbb.com/1/upload", cfg.ImageHostEndpoint)
	assert.Equal(t, DefaultCounters(), cfg.Counters)
	assert.Equal(t, DefaultVariant(), cfg.Page)
	assert.Equal(t, 2, cfg.ReviewWorkers)

	// Credentials are never defaulted.
	assert.Empty(t, cfg.ImageHostKey)
	assert.Error(t, cfg.ValidateProofBackend())
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROOFDROP_ADDRESS", ":9090")
	t.Setenv("PROOFDROP_MAX_FILE_BYTES", "1048576")
	t.Setenv("PROOFDROP_PROOF_BACKEND", "MINIO")
	t.Setenv("PROOFDROP_S3_ENDPOINT", "localhost:9000")
	t.Setenv("PROOFDROP_S3_ACCESS_KEY", "access")
	t.Setenv("PROOFDROP_S3_SECRET_KEY", "secret")
	t.Setenv("PROOFDROP_REVIEW_WORKERS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address)
	assert.Equal(t, int64(1<<20), cfg.MaxFileSize)
	assert.Equal(t, BackendMinio, cfg.ProofBackend)
	assert.Equal(t, 2, cfg.ReviewWorkers)
	assert.NoError(t, cfg.ValidateProofBackend())
}

func TestLoadYAMLOverlay(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "proofdrop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
page:
  title: PROMO WEEK
  field_errors: true
  shake: true
  redirect_url: https://shop.example.com/thanks
  pricing: promo
  min_name_length: 3
counters:
  visitors_start: 10
  visitors_max: 20
  spots_start: 5
  spots_min: 1
  min_delay: 1s
  max_delay: 3s
`), 0o600))
	t.Setenv("PROOFDROP_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "PROMO WEEK", cfg.Page.Title)
	assert.True(t, cfg.Page.FieldErrors)
	assert.True(t, cfg.Page.Shake)
	assert.Equal(t, model.PricingPromo, cfg.Page.Pricing)
	assert.Equal(t, 3, cfg.Page.MinNameLength)
	assert.True(t, cfg.Page.DefaultExpedite)
	assert.Equal(t, Counters{VisitorsStart: 10, VisitorsMax: 20, SpotsStart: 5, SpotsMin: 1, MinDelay: time.Second, MaxDelay: 3 * time.Second}, cfg.Counters)
}

func TestLoadRejectsBadCounters(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("counters:\n  spots_start: 5\n  spots_min: 9\n"), 0o600))
	t.Setenv("PROOFDROP_CONFIG", path)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spots_start")
}

func TestLoadMissingOverlayFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROOFDROP_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateProofBackend(t *testing.T) {
	cfg := &Config{ProofBackend: BackendImageHost, ImageHostEndpoint: "https://example.com", ImageHostKey: "k"}
	assert.NoError(t, cfg.ValidateProofBackend())

	cfg = &Config{ProofBackend: "ftp"}
	assert.Error(t, cfg.ValidateProofBackend())
	assert.Error(t, cfg.Validate())
}
