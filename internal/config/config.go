package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the Elova service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Sync          SyncConfig          `mapstructure:"sync"`
	Pricing       PricingConfig       `mapstructure:"pricing"`
	Backups       BackupsConfig       `mapstructure:"backups"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Alerts        AlertConfig         `mapstructure:"alerts"`
	Retention     RetentionConfig     `mapstructure:"retention"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Health        HealthConfig        `mapstructure:"health"`
	Reporting     ReportingConfig     `mapstructure:"reporting"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Providers     []BootstrapProvider `mapstructure:"providers"`
	Environment   string              `mapstructure:"environment"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	WriteTimeout          time.Duration `mapstructure:"write_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
	CronSecret            string        `mapstructure:"cron_secret"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Enabled reports whether a redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != ""
}

type SyncConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Interval          time.Duration `mapstructure:"interval"`
	RunOnStart        bool          `mapstructure:"run_on_start"`
	PageSize          int           `mapstructure:"page_size"`
	MaxPages          int           `mapstructure:"max_pages"`
	Concurrency       int           `mapstructure:"concurrency"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	MaxRetryWait      time.Duration `mapstructure:"max_retry_wait"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	IncludeData       bool          `mapstructure:"include_data"`
	UnfinishedWindow  time.Duration `mapstructure:"unfinished_window"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	ManualPerMinute   int           `mapstructure:"manual_per_minute"`
}

type PricingConfig struct {
	OpenRouterURL   string        `mapstructure:"openrouter_url"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	FallbackInput   float64       `mapstructure:"fallback_input"`
	FallbackOutput  float64       `mapstructure:"fallback_output"`
}

type BackupsConfig struct {
	Enabled       bool               `mapstructure:"enabled"`
	Storage       string             `mapstructure:"storage"`
	EncryptionKey string             `mapstructure:"encryption_key"`
	S3            BackupsS3Config    `mapstructure:"s3"`
	Local         BackupsLocalConfig `mapstructure:"local"`
}

type BackupsS3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type BackupsLocalConfig struct {
	Directory string `mapstructure:"directory"`
}

type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	CookieName string        `mapstructure:"cookie_name"`
	SecretKey  string        `mapstructure:"secret_key"`
}

type AlertConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Emails   []string      `mapstructure:"emails"`
	Webhooks []string      `mapstructure:"webhooks"`
	Cooldown time.Duration `mapstructure:"cooldown"`
	SMTP     SMTPConfig    `mapstructure:"smtp"`
	Webhook  WebhookConfig `mapstructure:"webhook"`
}

type SMTPConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	From           string        `mapstructure:"from"`
	UseTLS         bool          `mapstructure:"use_tls"`
	SkipTLSVerify  bool          `mapstructure:"skip_tls_verify"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type WebhookConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type RetentionConfig struct {
	ExecutionDays int           `mapstructure:"execution_days"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

type HealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type ReportingConfig struct {
	Timezone      string        `mapstructure:"timezone"`
	ChartCacheTTL time.Duration `mapstructure:"chart_cache_ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BootstrapProvider seeds an n8n connection at startup when no provider with
// the same name exists yet.
type BootstrapProvider struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else if cfg := os.Getenv("ELOVA_CONFIG_FILE"); cfg != "" {
		v.SetConfigFile(cfg)
		explicitFile = true
	}

	if !explicitFile {
		v.SetConfigName("elova")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("ELOVA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		timeStringToDurationHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set and fills derived defaults.
func (c *Config) Validate() error {
	var missing []string

	if c.Auth.JWTSecret == "" {
		missing = append(missing, "ELOVA_AUTH_JWT_SECRET")
	}
	if c.Auth.SecretKey == "" {
		missing = append(missing, "ELOVA_AUTH_SECRET_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if err := c.Database.validate(); err != nil {
		return err
	}
	if err := c.Sync.validate(); err != nil {
		return err
	}
	if err := c.Pricing.validate(); err != nil {
		return err
	}
	if err := c.Backups.validate(); err != nil {
		return err
	}
	if err := c.Auth.validate(); err != nil {
		return err
	}
	if err := c.Alerts.validate(); err != nil {
		return err
	}

	reportingTZ := strings.TrimSpace(c.Reporting.Timezone)
	if reportingTZ == "" {
		reportingTZ = "UTC"
	}
	if _, err := time.LoadLocation(reportingTZ); err != nil {
		return fmt.Errorf("invalid reporting.timezone: %w", err)
	}
	c.Reporting.Timezone = reportingTZ

	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}
	if c.Retention.ExecutionDays < 0 {
		return fmt.Errorf("retention.execution_days must be >= 0")
	}
	if c.Retention.SweepInterval <= 0 {
		c.Retention.SweepInterval = 6 * time.Hour
	}
	if c.Health.CheckInterval <= 0 {
		c.Health.CheckInterval = 5 * time.Minute
	}
	if c.Health.Timeout <= 0 {
		c.Health.Timeout = 10 * time.Second
	}

	for i, p := range c.Providers {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("providers[%d].name must be provided", i)
		}
		if _, err := url.ParseRequestURI(strings.TrimSpace(p.BaseURL)); err != nil {
			return fmt.Errorf("providers[%d].base_url is invalid: %w", i, err)
		}
		if strings.TrimSpace(p.APIKey) == "" {
			return fmt.Errorf("providers[%d].api_key must be provided", i)
		}
	}
	c.Environment = strings.TrimSpace(c.Environment)
	if c.Environment == "" {
		c.Environment = "development"
	}
	return nil
}

func (d *DatabaseConfig) validate() error {
	d.Driver = strings.ToLower(strings.TrimSpace(d.Driver))
	switch d.Driver {
	case "", DriverSQLite, "sqlite3":
		d.Driver = DriverSQLite
		if strings.TrimSpace(d.Path) == "" {
			return fmt.Errorf("database.path must be provided for the sqlite driver")
		}
	case DriverPostgres, "postgresql", "pgx":
		d.Driver = DriverPostgres
		if strings.TrimSpace(d.URL) == "" {
			return fmt.Errorf("database.url must be provided for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", d.Driver)
	}
	if d.MaxOpenConns < 0 {
		return fmt.Errorf("database.max_open_conns must be >= 0")
	}
	if d.BusyTimeout <= 0 {
		d.BusyTimeout = 5 * time.Second
	}
	return nil
}

func (s *SyncConfig) validate() error {
	if s.Interval < time.Minute {
		return fmt.Errorf("sync.interval must be at least 1m")
	}
	if s.PageSize <= 0 || s.PageSize > 250 {
		return fmt.Errorf("sync.page_size must be between 1 and 250")
	}
	if s.MaxPages <= 0 {
		return fmt.Errorf("sync.max_pages must be > 0")
	}
	if s.Concurrency <= 0 {
		s.Concurrency = 1
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = 30 * time.Second
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must be >= 0")
	}
	if s.MaxRetryWait <= 0 {
		s.MaxRetryWait = time.Minute
	}
	if s.RequestsPerSecond < 0 {
		return fmt.Errorf("sync.requests_per_second must be >= 0")
	}
	// The lease holder renews the lock while a run is active, so the TTL
	// only bounds how long a crashed process keeps others out.
	if s.LockTTL <= 0 {
		s.LockTTL = 30 * time.Minute
	}
	if s.ManualPerMinute <= 0 {
		s.ManualPerMinute = 2
	}
	return nil
}

func (p *PricingConfig) validate() error {
	if p.FallbackInput < 0 || p.FallbackOutput < 0 {
		return fmt.Errorf("pricing fallback prices must be >= 0")
	}
	if p.RefreshInterval < 0 {
		return fmt.Errorf("pricing.refresh_interval must be >= 0")
	}
	return nil
}

func (b *BackupsConfig) validate() error {
	b.Storage = strings.ToLower(strings.TrimSpace(b.Storage))
	if b.Storage == "" {
		b.Storage = "local"
	}
	switch b.Storage {
	case "local":
		if b.Enabled && strings.TrimSpace(b.Local.Directory) == "" {
			return fmt.Errorf("backups.local.directory must be provided")
		}
	case "s3":
		if b.Enabled && strings.TrimSpace(b.S3.Bucket) == "" {
			return fmt.Errorf("backups.s3.bucket must be provided")
		}
	default:
		return fmt.Errorf("backups.storage must be local or s3")
	}
	if key := strings.TrimSpace(b.EncryptionKey); key != "" {
		raw, err := base64.StdEncoding.DecodeString(key)
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("backups.encryption_key must be base64 encoded 32 bytes")
		}
	}
	return nil
}

func (a *AuthConfig) validate() error {
	if a.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be > 0")
	}
	if a.CookieName == "" {
		return fmt.Errorf("auth.cookie_name must be provided")
	}
	if len(a.SecretKey) < 16 {
		return fmt.Errorf("auth.secret_key must be at least 16 characters")
	}
	return nil
}

func (a *AlertConfig) validate() error {
	a.Emails = normalizeStringSlice(a.Emails)
	a.Webhooks = normalizeStringSlice(a.Webhooks)
	if a.Cooldown <= 0 {
		if a.Enabled {
			return fmt.Errorf("alerts.cooldown must be > 0 when alerting is enabled")
		}
		a.Cooldown = time.Hour
	}
	if a.Enabled && len(a.Emails) == 0 && len(a.Webhooks) == 0 {
		return fmt.Errorf("alerts requires at least one email or webhook when enabled")
	}
	smtp := &a.SMTP
	if strings.TrimSpace(smtp.Host) != "" {
		if smtp.Port <= 0 {
			smtp.Port = 587
		}
		if strings.TrimSpace(smtp.From) == "" {
			return fmt.Errorf("alerts.smtp.from must be provided when smtp.host is set")
		}
		if smtp.ConnectTimeout <= 0 {
			smtp.ConnectTimeout = 5 * time.Second
		}
	}
	if a.Webhook.Timeout <= 0 {
		a.Webhook.Timeout = 5 * time.Second
	}
	if a.Webhook.MaxRetries <= 0 {
		a.Webhook.MaxRetries = 3
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.listen_addr", ":3000")
	v.SetDefault("server.body_limit_mb", 4)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")
	v.SetDefault("server.cron_secret", "")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "./data/elova.db")
	v.SetDefault("database.url", "")
	v.SetDefault("database.run_migrations", true)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.busy_timeout", "5s")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.interval", "15m")
	v.SetDefault("sync.run_on_start", true)
	v.SetDefault("sync.page_size", 250)
	v.SetDefault("sync.max_pages", 40)
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.request_timeout", "30s")
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.max_retry_wait", "60s")
	v.SetDefault("sync.requests_per_second", 5.0)
	v.SetDefault("sync.include_data", true)
	v.SetDefault("sync.unfinished_window", "24h")
	v.SetDefault("sync.lock_ttl", "30m")
	v.SetDefault("sync.manual_per_minute", 2)

	v.SetDefault("pricing.openrouter_url", "https://openrouter.ai/api/v1/models")
	v.SetDefault("pricing.refresh_interval", "24h")
	v.SetDefault("pricing.fallback_input", 0.002)
	v.SetDefault("pricing.fallback_output", 0.006)

	v.SetDefault("backups.enabled", true)
	v.SetDefault("backups.storage", "local")
	v.SetDefault("backups.encryption_key", "")
	v.SetDefault("backups.local.directory", "./data/backups")
	v.SetDefault("backups.s3.bucket", "")
	v.SetDefault("backups.s3.prefix", "elova/backups")
	v.SetDefault("backups.s3.region", "")
	v.SetDefault("backups.s3.endpoint", "")
	v.SetDefault("backups.s3.use_path_style", false)
	v.SetDefault("backups.s3.access_key_id", "")
	v.SetDefault("backups.s3.secret_access_key", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.secret_key", "")
	v.SetDefault("auth.session_ttl", "168h")
	v.SetDefault("auth.cookie_name", "session")

	v.SetDefault("alerts.enabled", false)
	v.SetDefault("alerts.emails", []string{})
	v.SetDefault("alerts.webhooks", []string{})
	v.SetDefault("alerts.cooldown", "1h")
	v.SetDefault("alerts.smtp.host", "")
	v.SetDefault("alerts.smtp.port", 587)
	v.SetDefault("alerts.smtp.username", "")
	v.SetDefault("alerts.smtp.password", "")
	v.SetDefault("alerts.smtp.from", "")
	v.SetDefault("alerts.smtp.use_tls", true)
	v.SetDefault("alerts.smtp.skip_tls_verify", false)
	v.SetDefault("alerts.smtp.connect_timeout", "5s")
	v.SetDefault("alerts.webhook.timeout", "5s")
	v.SetDefault("alerts.webhook.max_retries", 3)

	v.SetDefault("retention.execution_days", 0)
	v.SetDefault("retention.sweep_interval", "6h")

	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")

	v.SetDefault("health.check_interval", "5m")
	v.SetDefault("health.timeout", "10s")

	v.SetDefault("reporting.timezone", "UTC")
	v.SetDefault("reporting.chart_cache_ttl", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "auto")
}

func normalizeStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clean := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
