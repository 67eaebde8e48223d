package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/catalog-enricher/internal/fieldmap"
)

// Inference integration shapes.
const (
	ModePull   = "pull"
	ModeInline = "inline"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendS3       = "s3"
	BackendLog      = "log"
	BackendSES      = "ses"
	BackendDynamoDB = "dynamodb"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Fields    []FieldConfig   `yaml:"fields"`
	Models    []ModelConfig   `yaml:"models"`
	Inference InferenceConfig `yaml:"inference"`
	FileStore FileStoreConfig `yaml:"file_store"`
	Mail      MailConfig      `yaml:"mail"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Limits    LimitsConfig    `yaml:"limits"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                   int      `yaml:"port"`
	Host                   string   `yaml:"host"`
	AllowedOrigins         []string `yaml:"allowed_origins"`
	ShutdownTimeoutSeconds int      `yaml:"shutdown_timeout_seconds"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// ShutdownTimeout bounds graceful shutdown.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level   string `yaml:"level"`
	ShowPII bool   `yaml:"show_pii"`
}

// FieldConfig describes one canonical field and the header phrases that identify it.
type FieldConfig struct {
	Name           string   `yaml:"name"`
	Required       bool     `yaml:"required"`
	Multiple       bool     `yaml:"multiple"`
	Aliases        []string `yaml:"aliases"`
	CandidateLimit int      `yaml:"candidate_limit"`
}

// ModelConfig is one selectable prediction model.
type ModelConfig struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
}

// InferenceConfig holds the prediction service settings.
type InferenceConfig struct {
	Mode                string `yaml:"mode"`
	BaseURL             string `yaml:"base_url"`
	APIKey              string `yaml:"api_key"`
	TimeoutSeconds      int    `yaml:"timeout_seconds"`
	MaxAttempts         int    `yaml:"max_attempts"`
	BaseDelayMs         int    `yaml:"base_delay_ms"`
	MaxDelaySeconds     int    `yaml:"max_delay_seconds"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	WaitBudgetMinutes   int    `yaml:"wait_budget_minutes"`
	MaxInlineBytes      int64  `yaml:"max_inline_bytes"`
}

// Timeout returns the per-attempt timeout as a duration
func (c InferenceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c InferenceConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

func (c InferenceConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelaySeconds) * time.Second
}

func (c InferenceConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// WaitBudget bounds the total time spent polling one job.
func (c InferenceConfig) WaitBudget() time.Duration {
	return time.Duration(c.WaitBudgetMinutes) * time.Minute
}

// FileStoreConfig controls where uploads are kept for the pull model.
type FileStoreConfig struct {
	Backend              string `yaml:"backend"`
	TTLMinutes           int    `yaml:"ttl_minutes"`
	SweepIntervalSeconds int    `yaml:"sweep_interval_seconds"`
	PublicBaseURL        string `yaml:"public_base_url"`
	RedisURL             string `yaml:"redis_url"`
	S3Bucket             string `yaml:"s3_bucket"`
	S3Region             string `yaml:"s3_region"`
	AWSProfile           string `yaml:"aws_profile"`
}

func (c FileStoreConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

func (c FileStoreConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// MailConfig holds notification settings.
type MailConfig struct {
	Provider        string        `yaml:"provider"`
	From            string        `yaml:"from"`
	Region          string        `yaml:"region"`
	AccessKey       string        `yaml:"access_key"`
	SecretKey       string        `yaml:"secret_key"`
	NotifyOnFailure *bool         `yaml:"notify_on_failure"`
	NotifyOnStart   bool          `yaml:"notify_on_start"`
	Templates       MailTemplates `yaml:"templates"`
}

// FailureNotifications reports whether failed jobs are mailed. Defaults to true.
func (c MailConfig) FailureNotifications() bool {
	return c.NotifyOnFailure == nil || *c.NotifyOnFailure
}

// MailTemplates overrides the built-in liquid templates. Empty keeps the default.
type MailTemplates struct {
	SuccessSubject string `yaml:"success_subject"`
	SuccessBody    string `yaml:"success_body"`
	FailureSubject string `yaml:"failure_subject"`
	FailureBody    string `yaml:"failure_body"`
	StartedSubject string `yaml:"started_subject"`
	StartedBody    string `yaml:"started_body"`
}

// LedgerConfig controls where terminal job outcomes are recorded.
type LedgerConfig struct {
	Backend    string `yaml:"backend"`
	Table      string `yaml:"table"`
	Region     string `yaml:"region"`
	AWSProfile string `yaml:"aws_profile"`
	TTLDays    int    `yaml:"ttl_days"`
}

func (c LedgerConfig) TTL() time.Duration {
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

// LimitsConfig bounds inbound requests.
type LimitsConfig struct {
	MaxUploadMB int `yaml:"max_upload_mb"`
}

func (c LimitsConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// DefaultFields is the catalog used when the config file lists none.
func DefaultFields() []FieldConfig {
	return []FieldConfig{
		{Name: "product_images", Required: true, Aliases: []string{"product images", "images", "image", "image url", "image link", "photos", "pictures"}},
		{Name: "title", Required: true, Aliases: []string{"title", "product title", "product name", "name", "item name"}},
		{Name: "description", Required: true, Aliases: []string{"description", "product description", "desc", "long description"}},
		{Name: "bullet_points", Required: true, Multiple: true, Aliases: []string{"bullet point", "bullet", "key feature", "feature", "highlight"}},
	}
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.ShutdownTimeoutSeconds == 0 {
		cfg.Server.ShutdownTimeoutSeconds = 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = DefaultFields()
	}

	if cfg.Inference.Mode == "" {
		cfg.Inference.Mode = ModePull
	}
	if cfg.Inference.TimeoutSeconds == 0 {
		cfg.Inference.TimeoutSeconds = 60
		if cfg.Inference.Mode == ModeInline {
			cfg.Inference.TimeoutSeconds = 900
		}
	}
	if cfg.Inference.MaxAttempts == 0 {
		cfg.Inference.MaxAttempts = 4
	}
	if cfg.Inference.BaseDelayMs == 0 {
		cfg.Inference.BaseDelayMs = 1000
	}
	if cfg.Inference.MaxDelaySeconds == 0 {
		cfg.Inference.MaxDelaySeconds = 30
	}
	if cfg.Inference.PollIntervalSeconds == 0 {
		cfg.Inference.PollIntervalSeconds = 10
	}
	if cfg.Inference.WaitBudgetMinutes == 0 {
		cfg.Inference.WaitBudgetMinutes = 60
	}
	if cfg.Inference.MaxInlineBytes == 0 {
		cfg.Inference.MaxInlineBytes = 20 << 20
	}

	if cfg.FileStore.Backend == "" {
		cfg.FileStore.Backend = BackendMemory
	}
	if cfg.FileStore.TTLMinutes == 0 {
		cfg.FileStore.TTLMinutes = 60
	}
	if cfg.FileStore.SweepIntervalSeconds == 0 {
		cfg.FileStore.SweepIntervalSeconds = 60
	}
	if cfg.FileStore.S3Region == "" {
		cfg.FileStore.S3Region = "us-west-2"
	}

	if cfg.Mail.Provider == "" {
		cfg.Mail.Provider = BackendLog
	}
	if cfg.Mail.Region == "" {
		cfg.Mail.Region = "us-west-2"
	}

	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = BackendLog
	}
	if cfg.Ledger.Region == "" {
		cfg.Ledger.Region = "us-west-2"
	}
	if cfg.Ledger.TTLDays == 0 {
		cfg.Ledger.TTLDays = 30
	}

	if cfg.Limits.MaxUploadMB == 0 {
		cfg.Limits.MaxUploadMB = 20
	}
}

// LoadFromEnv loads config from file and overrides with environment variables
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("INFERENCE_BASE_URL"); v != "" {
		cfg.Inference.BaseURL = v
	}
	if v := os.Getenv("INFERENCE_API_KEY"); v != "" {
		cfg.Inference.APIKey = v
	}
	if v := os.Getenv("INFERENCE_MODE"); v != "" {
		cfg.Inference.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		cfg.FileStore.PublicBaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.FileStore.RedisURL = v
	}
	if v := os.Getenv("FILESTORE_S3_BUCKET"); v != "" {
		cfg.FileStore.S3Bucket = v
	}
	if v := os.Getenv("MAIL_FROM"); v != "" {
		cfg.Mail.From = v
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.Mail.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.Mail.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.Mail.Region = region
	}
	if v := os.Getenv("LEDGER_DYNAMODB_TABLE"); v != "" {
		cfg.Ledger.Table = v
		cfg.Ledger.Backend = BackendDynamoDB
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}

// FieldSpecs converts the configured fields for fieldmap.NewCatalog.
func (cfg *Config) FieldSpecs() []fieldmap.FieldSpec {
	specs := make([]fieldmap.FieldSpec, len(cfg.Fields))
	for i, f := range cfg.Fields {
		specs[i] = fieldmap.FieldSpec{
			Name:           f.Name,
			Required:       f.Required,
			Multiple:       f.Multiple,
			Aliases:        f.Aliases,
			CandidateLimit: f.CandidateLimit,
		}
	}
	return specs
}

// Validate reports every configuration problem at once.
func (cfg *Config) Validate() error {
	var errs []error

	if _, err := fieldmap.NewCatalog(cfg.FieldSpecs()); err != nil {
		errs = append(errs, fmt.Errorf("fields: %w", err))
	}

	if len(cfg.Models) == 0 {
		errs = append(errs, errors.New("models: at least one model is required"))
	}
	seen := make(map[string]bool)
	for i, m := range cfg.Models {
		if strings.TrimSpace(m.ID) == "" {
			errs = append(errs, fmt.Errorf("models[%d]: empty id", i))
			continue
		}
		if seen[m.ID] {
			errs = append(errs, fmt.Errorf("models[%d]: duplicate id %q", i, m.ID))
		}
		seen[m.ID] = true
	}

	switch cfg.Inference.Mode {
	case ModePull, ModeInline:
	default:
		errs = append(errs, fmt.Errorf("inference.mode: unknown mode %q", cfg.Inference.Mode))
	}
	if cfg.Inference.BaseURL == "" {
		errs = append(errs, errors.New("inference.base_url: required"))
	}

	switch cfg.FileStore.Backend {
	case BackendMemory, BackendRedis:
		if cfg.Inference.Mode == ModePull && cfg.FileStore.PublicBaseURL == "" {
			errs = append(errs, errors.New("file_store.public_base_url: required in pull mode"))
		}
		if cfg.FileStore.Backend == BackendRedis && cfg.FileStore.RedisURL == "" {
			errs = append(errs, errors.New("file_store.redis_url: required for redis backend"))
		}
	case BackendS3:
		if cfg.FileStore.S3Bucket == "" {
			errs = append(errs, errors.New("file_store.s3_bucket: required for s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("file_store.backend: unknown backend %q", cfg.FileStore.Backend))
	}

	switch cfg.Mail.Provider {
	case BackendLog:
	case BackendSES:
		if cfg.Mail.From == "" {
			errs = append(errs, errors.New("mail.from: required for ses provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("mail.provider: unknown provider %q", cfg.Mail.Provider))
	}

	switch cfg.Ledger.Backend {
	case BackendLog:
	case BackendDynamoDB:
		if cfg.Ledger.Table == "" {
			errs = append(errs, errors.New("ledger.table: required for dynamodb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.backend: unknown backend %q", cfg.Ledger.Backend))
	}

	return errors.Join(errs...)
}
