package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"

fields:
  - name: title
    required: true
    aliases: ["title", "product name"]
  - name: bullet_points
    required: true
    multiple: true
    candidate_limit: 15
    aliases: ["bullet point"]

models:
  - id: m-attr
    title: Attribute extraction
  - id: m-desc
    title: Description rewrite

inference:
  mode: inline
  base_url: "http://inference.local"
  timeout_seconds: 120
  max_attempts: 6

mail:
  provider: ses
  from: "catalog@example.com"
  notify_on_failure: false
  notify_on_start: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	require.Len(t, cfg.Fields, 2)
	assert.Equal(t, "bullet_points", cfg.Fields[1].Name)
	assert.True(t, cfg.Fields[1].Multiple)
	assert.Equal(t, 15, cfg.Fields[1].CandidateLimit)

	require.Len(t, cfg.Models, 2)
	assert.Equal(t, "m-desc", cfg.Models[1].ID)

	assert.Equal(t, ModeInline, cfg.Inference.Mode)
	assert.Equal(t, 120*time.Second, cfg.Inference.Timeout())
	assert.Equal(t, 6, cfg.Inference.MaxAttempts)

	assert.False(t, cfg.Mail.FailureNotifications())
	assert.True(t, cfg.Mail.NotifyOnStart)

	require.NoError(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout())
	assert.Equal(t, DefaultFields(), cfg.Fields)

	assert.Equal(t, ModePull, cfg.Inference.Mode)
	assert.Equal(t, 60*time.Second, cfg.Inference.Timeout())
	assert.Equal(t, 4, cfg.Inference.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Inference.BaseDelay())
	assert.Equal(t, 30*time.Second, cfg.Inference.MaxDelay())
	assert.Equal(t, 10*time.Second, cfg.Inference.PollInterval())
	assert.Equal(t, time.Hour, cfg.Inference.WaitBudget())
	assert.Equal(t, int64(20<<20), cfg.Inference.MaxInlineBytes)

	assert.Equal(t, BackendMemory, cfg.FileStore.Backend)
	assert.Equal(t, time.Hour, cfg.FileStore.TTL())
	assert.Equal(t, 60*time.Second, cfg.FileStore.SweepInterval())

	assert.Equal(t, BackendLog, cfg.Mail.Provider)
	assert.True(t, cfg.Mail.FailureNotifications())
	assert.False(t, cfg.Mail.NotifyOnStart)

	assert.Equal(t, BackendLog, cfg.Ledger.Backend)
	assert.Equal(t, 30*24*time.Hour, cfg.Ledger.TTL())
	assert.Equal(t, int64(20<<20), cfg.Limits.MaxUploadBytes())
}

func TestInlineModeGetsLongerTimeout(t *testing.T) {
	cfg, err := Load(writeConfig(t, "inference:\n  mode: inline\n"))
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.Inference.Timeout())
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, "models:\n  - id: m1\n    title: One\n")

	t.Setenv("INFERENCE_BASE_URL", "https://predict.example.com")
	t.Setenv("INFERENCE_API_KEY", "secret")
	t.Setenv("INFERENCE_MODE", "INLINE")
	t.Setenv("PUBLIC_BASE_URL", "https://enricher.example.com")
	t.Setenv("MAIL_FROM", "noreply@example.com")
	t.Setenv("AWS_SES_REGION", "eu-west-1")
	t.Setenv("LEDGER_DYNAMODB_TABLE", "job-outcomes")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "https://predict.example.com", cfg.Inference.BaseURL)
	assert.Equal(t, "secret", cfg.Inference.APIKey)
	assert.Equal(t, ModeInline, cfg.Inference.Mode)
	assert.Equal(t, "https://enricher.example.com", cfg.FileStore.PublicBaseURL)
	assert.Equal(t, "noreply@example.com", cfg.Mail.From)
	assert.Equal(t, "eu-west-1", cfg.Mail.Region)
	assert.Equal(t, BackendDynamoDB, cfg.Ledger.Backend)
	assert.Equal(t, "job-outcomes", cfg.Ledger.Table)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
fields:
  - name: title
    aliases: ["!!!"]
models:
  - id: a
  - id: a
inference:
  mode: push
file_store:
  backend: disk
mail:
  provider: ses
ledger:
  backend: dynamodb
`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"fields:",
		`duplicate id "a"`,
		`unknown mode "push"`,
		"inference.base_url",
		`unknown backend "disk"`,
		"mail.from",
		"ledger.table",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidatePullNeedsPublicURL(t *testing.T) {
	cfg, err := Load(writeConfig(t, "models:\n  - id: m1\ninference:\n  base_url: http://x\n"))
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "file_store.public_base_url")

	cfg.FileStore.PublicBaseURL = "https://enricher.example.com"
	assert.NoError(t, cfg.Validate())

	cfg.FileStore.Backend = BackendS3
	cfg.FileStore.PublicBaseURL = ""
	assert.ErrorContains(t, cfg.Validate(), "s3_bucket")
	cfg.FileStore.S3Bucket = "uploads"
	assert.NoError(t, cfg.Validate())
}
