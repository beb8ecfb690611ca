package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"gemini-2.5-flash", "gemini-2.0-flash", "gemini-1.5-flash"}, cfg.Inference.Models)
	assert.Equal(t, 3, cfg.Inference.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Inference.AttemptTimeout)
	assert.Equal(t, ExportModeLocal, cfg.Export.Mode)
	assert.True(t, cfg.Server.RateLimitEnabled)
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(Default(), cfg))
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "food-lens.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /var/lib/food-lens/data.db
log:
  level: debug
inference:
  models: [model-a, model-b]
  attempt_timeout: 10s
  max_attempts: 2
export:
  mode: auto
  s3:
    bucket: exports
`), 0o600))

	t.Setenv("GEMINI_MAX_ATTEMPTS", "5")
	t.Setenv("GEMINI_API_KEY", " AIzaSyTestKey0123456789abcdefghijk ")
	t.Setenv("S3_REGION", "eu-west-1")
	t.Setenv("FOOD_LENS_RATE_LIMIT_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/food-lens/data.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format, "unset keys keep defaults")
	assert.Equal(t, []string{"model-a", "model-b"}, cfg.Inference.Models)
	assert.Equal(t, 10*time.Second, cfg.Inference.AttemptTimeout)
	assert.Equal(t, 5, cfg.Inference.MaxAttempts, "environment wins over file")
	assert.Equal(t, "AIzaSyTestKey0123456789abcdefghijk", cfg.Inference.APIKey)
	assert.Equal(t, ExportModeAuto, cfg.Export.Mode)
	assert.Equal(t, "exports", cfg.Export.S3.Bucket)
	assert.Equal(t, "eu-west-1", cfg.Export.S3.Region)
	assert.False(t, cfg.Server.RateLimitEnabled)
}

func TestLoad_EnvModelList(t *testing.T) {
	t.Setenv("GEMINI_MODELS", " model-x , ,model-y")
	t.Setenv("GEMINI_ATTEMPT_TIMEOUT_SECONDS", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"model-x", "model-y"}, cfg.Inference.Models)
	assert.Equal(t, 7*time.Second, cfg.Inference.AttemptTimeout)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("inference: [unclosed"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)

	t.Setenv("EXPORT_MODE", "ftp")
	_, err = Load("")
	assert.ErrorContains(t, err, "unsupported export mode")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Inference.Models = nil
	cfg.Inference.MaxAttempts = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "models")
	assert.Contains(t, err.Error(), "max_attempts")
}

func TestS3ConfigMissingRequired(t *testing.T) {
	assert.False(t, S3Config{}.IsConfigured())
	assert.Equal(t, []string{"S3_ENDPOINT", "S3_REGION", "S3_BUCKET", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY"}, S3Config{}.MissingRequired())

	full := S3Config{Endpoint: "https://s3.example.com", Region: "r", Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"}
	assert.True(t, full.IsConfigured())
}
