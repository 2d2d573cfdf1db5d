// Package config loads and validates chart crawler configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
	// Embedded zone data keeps ingest.timezone resolvable in minimal images.
	_ "time/tzdata"

	"github.com/spf13/viper"

	"github.com/JakeFAU/billboard-chart-crawler/internal/orchestrator"
)

// Fetch modes.
const (
	FetchModeColly    = "colly"
	FetchModeHeadless = "headless"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Charts    []ChartConfig   `mapstructure:"charts"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// APIKey, when set, is required on every /v1 request.
	APIKey string `mapstructure:"api_key"`
	// RunHistory bounds how many finished runs stay queryable.
	RunHistory int `mapstructure:"run_history"`
}

// ChartConfig names one chart and where its history lives.
type ChartConfig struct {
	ID            string `mapstructure:"id"`
	HistoricalKey string `mapstructure:"historical_key"`
}

// FetchConfig governs how chart pages are retrieved.
type FetchConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	Mode            string `mapstructure:"mode"`
	Concurrency     int    `mapstructure:"concurrency"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	UserAgent       string `mapstructure:"user_agent"`
	MinIntervalMs   int    `mapstructure:"min_interval_ms"`
	Burst           int    `mapstructure:"burst"`
	CacheSize       int    `mapstructure:"cache_size"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
}

// HeadlessConfig configures the Chrome fetcher.
type HeadlessConfig struct {
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	WaitSelector  string `mapstructure:"wait_selector"`
}

// StorageConfig selects and configures the blob store.
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Bucket  string      `mapstructure:"bucket"`
	MinIO   MinIOConfig `mapstructure:"minio"`
	Local   LocalConfig `mapstructure:"local"`
}

// MinIOConfig holds the S3-compatible endpoint and keys.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

// LocalConfig roots the filesystem blob store.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PublishConfig controls materialization and dataset publishing.
type PublishConfig struct {
	Backends    []string     `mapstructure:"backends"`
	LocalDir    string       `mapstructure:"local_dir"`
	VersionNote string       `mapstructure:"version_note"`
	Kaggle      KaggleConfig `mapstructure:"kaggle"`
	PubSub      PubSubConfig `mapstructure:"pubsub"`
}

// KaggleConfig points at the kaggle CLI.
type KaggleConfig struct {
	Binary  string `mapstructure:"binary"`
	DirMode string `mapstructure:"dir_mode"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LedgerConfig selects where merged weeks are recorded.
type LedgerConfig struct {
	Backend  string `mapstructure:"backend"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// IngestConfig tunes the pipeline itself.
type IngestConfig struct {
	SkipIngested bool   `mapstructure:"skip_ingested"`
	Strict       bool   `mapstructure:"strict"`
	Timezone     string `mapstructure:"timezone"`
}

// LoggingConfig toggles zap development features and file output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// TelemetryConfig names the service in traces and selects exporters.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	// GCPProjectID, when set, exports spans to Google Cloud Trace.
	GCPProjectID string `mapstructure:"gcp_project_id"`
	// OTelMetrics exposes OpenTelemetry instruments on /metrics.
	OTelMetrics bool `mapstructure:"otel_metrics"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHARTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DefaultCharts is the chart set ingested when none is configured.
func DefaultCharts() []ChartConfig {
	return []ChartConfig{
		{ID: "hot-100", HistoricalKey: "hot-100/global/hot100.csv"},
		{ID: "billboard-200", HistoricalKey: "billboard-200/global/billboard200.csv"},
		{ID: "radio-songs", HistoricalKey: "radio/global/radio.csv"},
		{ID: "streaming-songs", HistoricalKey: "streaming-songs/global/streaming_songs.csv"},
		{ID: "digital-song-sales", HistoricalKey: "digital-songs/global/digital_songs.csv"},
	}
}

func setDefaults(v *viper.Viper) {
	charts := make([]map[string]any, 0, len(DefaultCharts()))
	for _, c := range DefaultCharts() {
		charts = append(charts, map[string]any{"id": c.ID, "historical_key": c.HistoricalKey})
	}
	v.SetDefault("charts", charts)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.run_history", 256)
	v.SetDefault("fetch.base_url", "https://www.billboard.com/charts")
	v.SetDefault("fetch.mode", FetchModeColly)
	v.SetDefault("fetch.concurrency", 6)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.user_agent", "billboard-chart-crawler/0.1")
	v.SetDefault("fetch.min_interval_ms", 0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("fetch.cache_size", 0)
	v.SetDefault("fetch.cache_ttl_seconds", 600)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.wait_selector", "")
	v.SetDefault("storage.backend", "minio")
	v.SetDefault("storage.bucket", "billboard")
	v.SetDefault("storage.minio.endpoint", "localhost:9000")
	v.SetDefault("storage.minio.use_ssl", false)
	v.SetDefault("storage.minio.region", "us-east-1")
	v.SetDefault("storage.local.base_dir", "data/blobs")
	v.SetDefault("publish.backends", []string{"kaggle"})
	v.SetDefault("publish.local_dir", "data/kaggle/billboard")
	v.SetDefault("publish.version_note", orchestrator.DefaultVersionNote)
	v.SetDefault("publish.kaggle.binary", "kaggle")
	v.SetDefault("publish.kaggle.dir_mode", "")
	v.SetDefault("publish.pubsub.project_id", "")
	v.SetDefault("publish.pubsub.topic_name", "")
	v.SetDefault("ledger.backend", "none")
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("ledger.table", "chart_ingestions")
	v.SetDefault("ledger.max_conns", 4)
	v.SetDefault("ingest.skip_ingested", false)
	v.SetDefault("ingest.strict", false)
	v.SetDefault("ingest.timezone", "CET")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("telemetry.service_name", "billboard-chart-crawler")
	v.SetDefault("telemetry.gcp_project_id", "")
	v.SetDefault("telemetry.otel_metrics", true)
}

// bindEnv maps the conventional unprefixed variables onto their keys. The
// prefixed form still wins when both are set.
func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"storage.minio.access_key": {"CHARTS_STORAGE_MINIO_ACCESS_KEY", "MINIO_ACCESS_KEY"},
		"storage.minio.secret_key": {"CHARTS_STORAGE_MINIO_SECRET_KEY", "MINIO_SECRET_KEY"},
		"storage.minio.endpoint":   {"CHARTS_STORAGE_MINIO_ENDPOINT", "MINIO_ENDPOINT"},
		"fetch.base_url":           {"CHARTS_FETCH_BASE_URL", "CHARTS_BASE_URL"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if err := c.validateCharts(); err != nil {
		return err
	}
	if err := c.validateFetch(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validatePublish(); err != nil {
		return err
	}
	switch c.Ledger.Backend {
	case "", "none", "memory":
	case "postgres", "sqlite":
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn must be set for the %s ledger", c.Ledger.Backend)
		}
	default:
		return fmt.Errorf("ledger.backend %q is not supported", c.Ledger.Backend)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

func (c Config) validateCharts() error {
	if len(c.Charts) == 0 {
		return fmt.Errorf("charts must list at least one chart")
	}
	ids := make(map[string]struct{}, len(c.Charts))
	keys := make(map[string]string, len(c.Charts))
	for i, ch := range c.Charts {
		if strings.TrimSpace(ch.ID) == "" {
			return fmt.Errorf("charts[%d].id is required", i)
		}
		if _, dup := ids[ch.ID]; dup {
			return fmt.Errorf("charts[%d].id %q is duplicated", i, ch.ID)
		}
		ids[ch.ID] = struct{}{}
		key := orchestrator.ChartSpec{ID: ch.ID, HistoricalKey: ch.HistoricalKey}.Key()
		if other, dup := keys[key]; dup {
			return fmt.Errorf("charts %q and %q share historical_key %q", other, ch.ID, key)
		}
		keys[key] = ch.ID
	}
	return nil
}

func (c Config) validateFetch() error {
	if c.Fetch.BaseURL == "" {
		return fmt.Errorf("fetch.base_url is required")
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	switch c.Fetch.Mode {
	case FetchModeColly:
	case FetchModeHeadless:
		if c.Headless.MaxParallel <= 0 {
			return fmt.Errorf("headless.max_parallel must be > 0 when fetch.mode is headless")
		}
	default:
		return fmt.Errorf("fetch.mode %q is not supported", c.Fetch.Mode)
	}
	if c.Fetch.MinIntervalMs < 0 {
		return fmt.Errorf("fetch.min_interval_ms must be >= 0")
	}
	return nil
}

func (c Config) validateStorage() error {
	switch c.Storage.Backend {
	case "minio":
		if c.Storage.MinIO.Endpoint == "" {
			return fmt.Errorf("storage.minio.endpoint is required")
		}
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required")
		}
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	return nil
}

func (c Config) validatePublish() error {
	for _, b := range c.Publish.Backends {
		switch b {
		case "kaggle":
		case "pubsub":
			if c.Publish.PubSub.ProjectID == "" || c.Publish.PubSub.TopicName == "" {
				return fmt.Errorf("publish.pubsub.project_id and topic_name are required for the pubsub backend")
			}
		default:
			return fmt.Errorf("publish.backends entry %q is not supported", b)
		}
	}
	if len(c.Publish.Backends) > 0 && c.Publish.LocalDir == "" {
		return fmt.Errorf("publish.local_dir is required when publishing")
	}
	return nil
}

// ChartSpecs converts the chart list for the orchestrator.
func (c Config) ChartSpecs() []orchestrator.ChartSpec {
	specs := make([]orchestrator.ChartSpec, 0, len(c.Charts))
	for _, ch := range c.Charts {
		specs = append(specs, orchestrator.ChartSpec{ID: ch.ID, HistoricalKey: ch.HistoricalKey})
	}
	return specs
}

// Chart finds a configured chart by id.
func (c Config) Chart(id string) (orchestrator.ChartSpec, bool) {
	i := slices.IndexFunc(c.Charts, func(ch ChartConfig) bool { return ch.ID == id })
	if i < 0 {
		return orchestrator.ChartSpec{}, false
	}
	return orchestrator.ChartSpec{ID: c.Charts[i].ID, HistoricalKey: c.Charts[i].HistoricalKey}, true
}

// Location resolves ingest.timezone, which decides a scheduled run's date.
func (c Config) Location() (*time.Location, error) {
	if c.Ingest.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Ingest.Timezone)
	if err != nil {
		return nil, fmt.Errorf("ingest.timezone: %w", err)
	}
	return loc, nil
}

// FetchTimeout converts fetch.timeout_seconds into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// MinInterval converts fetch.min_interval_ms into a duration.
func (c Config) MinInterval() time.Duration {
	return time.Duration(c.Fetch.MinIntervalMs) * time.Millisecond
}

// CacheTTL converts fetch.cache_ttl_seconds into a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Fetch.CacheTTLSeconds) * time.Second
}
