// Package config loads and validates ingestion configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Sink      SinkConfig      `mapstructure:"sink"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// SourceConfig points at the congress services.
type SourceConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	DirectoryURL string `mapstructure:"directory_url"`
}

// HTTPConfig configures fetching, retries and politeness.
type HTTPConfig struct {
	TimeoutSeconds        int     `mapstructure:"timeout_seconds"`
	ConnectTimeoutSeconds int     `mapstructure:"connect_timeout_seconds"`
	MaxAttempts           int     `mapstructure:"max_attempts"`
	BackoffInitialMs      int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs          int     `mapstructure:"backoff_max_ms"`
	Concurrency           int     `mapstructure:"concurrency"`
	RatePerHost           float64 `mapstructure:"rate_per_host"`
	Burst                 int     `mapstructure:"burst"`
	UserAgent             string  `mapstructure:"user_agent"`
	InsecureSkipVerify    bool    `mapstructure:"insecure_skip_verify"`
	MaxBodyBytes          int     `mapstructure:"max_body_bytes"`
}

// OCRConfig configures rendering, recognition and classification.
type OCRConfig struct {
	Engine               string   `mapstructure:"engine"`
	TesseractBinary      string   `mapstructure:"tesseract_binary"`
	TessdataPrefix       string   `mapstructure:"tessdata_prefix"`
	Languages            []string `mapstructure:"languages"`
	PSM                  int      `mapstructure:"psm"`
	DPI                  int      `mapstructure:"dpi"`
	Threshold            int      `mapstructure:"threshold"`
	Renderer             string   `mapstructure:"renderer"`
	RendererBinary       string   `mapstructure:"renderer_binary"`
	Workers              int      `mapstructure:"workers"`
	ClassifyWorkers      int      `mapstructure:"classify_workers"`
	BackfillCompleteText bool     `mapstructure:"backfill_complete_text"`
}

// CacheConfig selects the document text cache backend.
type CacheConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// IngestConfig sizes the run pipeline.
type IngestConfig struct {
	Concurrency   int    `mapstructure:"concurrency"`
	BatchSize     int    `mapstructure:"batch_size"`
	DirectoryPath string `mapstructure:"directory_path"`
	Memberships   bool   `mapstructure:"memberships"`
	ArchiveRaw    bool   `mapstructure:"archive_raw"`
}

// SinkConfig selects where records go.
type SinkConfig struct {
	Backend      string `mapstructure:"backend"`
	OutputDir    string `mapstructure:"output_dir"`
	DSN          string `mapstructure:"dsn"`
	TablePrefix  string `mapstructure:"table_prefix"`
	MaxConns     int32  `mapstructure:"max_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// PubSubConfig holds the bill notification topic.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls the tracer provider.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment. Environment variables use
// the OPENPERU prefix with dots replaced by underscores, for example
// OPENPERU_SINK_DSN.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OPENPERU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.base_url", "https://wb2server.congreso.gob.pe/spley-portal-service")
	v.SetDefault("source.directory_url", "https://www.congreso.gob.pe/pleno/congresistas/")

	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.connect_timeout_seconds", 10)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 0)
	v.SetDefault("http.concurrency", 10)
	v.SetDefault("http.rate_per_host", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.user_agent", "openperu-ingest/0.1")
	v.SetDefault("http.insecure_skip_verify", true)
	v.SetDefault("http.max_body_bytes", 0)

	v.SetDefault("ocr.engine", "gosseract")
	v.SetDefault("ocr.tesseract_binary", "tesseract")
	v.SetDefault("ocr.languages", []string{"spa"})
	v.SetDefault("ocr.psm", 6)
	v.SetDefault("ocr.dpi", 300)
	v.SetDefault("ocr.threshold", 180)
	v.SetDefault("ocr.renderer", "fitz")
	v.SetDefault("ocr.renderer_binary", "pdftoppm")
	v.SetDefault("ocr.workers", 2)
	v.SetDefault("ocr.classify_workers", 1)
	v.SetDefault("ocr.backfill_complete_text", true)

	v.SetDefault("cache.backend", "fs")
	v.SetDefault("cache.dir", "cache/ocr")
	v.SetDefault("cache.gcs_prefix", "ocr")

	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.batch_size", 50)
	v.SetDefault("ingest.directory_path", "out/congresspeople.jsonl")
	v.SetDefault("ingest.memberships", true)
	v.SetDefault("ingest.archive_raw", false)

	v.SetDefault("sink.backend", "jsonl")
	v.SetDefault("sink.output_dir", "out")
	v.SetDefault("sink.ensure_schema", true)

	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "openperu-ingest")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.Concurrency <= 0 {
		return fmt.Errorf("http.concurrency must be > 0")
	}
	if c.HTTP.BackoffInitialMs < 0 || c.HTTP.BackoffMaxMs < 0 {
		return fmt.Errorf("http backoff must be >= 0")
	}
	if c.Ingest.Concurrency <= 0 || c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("ingest.concurrency and ingest.batch_size must be > 0")
	}
	if c.OCR.Threshold < 0 || c.OCR.Threshold > 255 {
		return fmt.Errorf("ocr.threshold must be within [0,255]")
	}
	if c.OCR.DPI <= 0 {
		return fmt.Errorf("ocr.dpi must be > 0")
	}
	switch c.OCR.Engine {
	case "gosseract", "cli":
	default:
		return fmt.Errorf("unknown ocr.engine %q", c.OCR.Engine)
	}
	switch c.OCR.Renderer {
	case "fitz":
	case "pdftoppm":
		if c.OCR.RendererBinary == "" {
			return fmt.Errorf("ocr.renderer_binary is required for the pdftoppm renderer")
		}
	default:
		return fmt.Errorf("unknown ocr.renderer %q", c.OCR.Renderer)
	}
	switch c.Cache.Backend {
	case "fs":
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache.dir is required for the fs backend")
		}
	case "gcs":
		if c.Cache.GCSBucket == "" {
			return fmt.Errorf("cache.gcs_bucket is required for the gcs backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	switch c.Sink.Backend {
	case "jsonl":
		if c.Sink.OutputDir == "" {
			return fmt.Errorf("sink.output_dir is required for the jsonl backend")
		}
	case "postgres":
		if c.Sink.DSN == "" {
			return fmt.Errorf("sink.dsn is required for the postgres backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown sink.backend %q", c.Sink.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicID == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_id must be set when pubsub is enabled")
	}
	return nil
}

// RequestTimeout is the per-attempt fetch budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ConnectTimeout bounds TCP dials.
func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.HTTP.ConnectTimeoutSeconds) * time.Second
}

// BackoffInitial is the first retry delay.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps exponential retry delays. Zero selects fixed delays.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
