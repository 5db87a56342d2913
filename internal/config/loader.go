package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "reportdeck.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "REPORTDECK_PORT")
	setString(&cfg.Server.CORSOrigin, "REPORTDECK_CORS_ORIGIN")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "REPORTDECK_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "REPORTDECK_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "REPORTDECK_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "REPORTDECK_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "REPORTDECK_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Bucket, "REPORTDECK_CACHE_BUCKET")

	setInt64(&cfg.Cache.L1MaxSizeMB, "REPORTDECK_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L1Expire, "REPORTDECK_CACHE_L1_EXPIRE")
	setDuration(&cfg.Cache.PreviewTTL, "REPORTDECK_CACHE_PREVIEW_TTL")
	setDuration(&cfg.Cache.ReportTTL, "REPORTDECK_CACHE_REPORT_TTL")
	setDuration(&cfg.Cache.IOTimeout, "REPORTDECK_CACHE_IO_TIMEOUT")

	setString(&cfg.Crypto.Key, "REPORTDECK_MASTER_KEY")
	setString(&cfg.Crypto.KeyFile, "REPORTDECK_MASTER_KEY_FILE")

	setInt(&cfg.Query.DefaultPreviewLimit, "REPORTDECK_QUERY_DEFAULT_PREVIEW_LIMIT")
	setInt(&cfg.Query.MaxPreviewLimit, "REPORTDECK_QUERY_MAX_PREVIEW_LIMIT")
	setDuration(&cfg.Query.ExecTimeout, "REPORTDECK_QUERY_EXEC_TIMEOUT")
	setInt(&cfg.Query.HistoryLimit, "REPORTDECK_QUERY_HISTORY_LIMIT")

	setInt(&cfg.Breaker.MaxFailures, "REPORTDECK_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "REPORTDECK_BREAKER_TIMEOUT")

	setString(&cfg.Logging.Level, "REPORTDECK_LOG_LEVEL")
	setString(&cfg.Logging.Service, "REPORTDECK_LOG_SERVICE")

	setString(&cfg.Metrics.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setDuration(&cfg.Metrics.Interval, "REPORTDECK_METRICS_INTERVAL")

	setString(&cfg.AD.URL, "REPORTDECK_AD_URL")
	setString(&cfg.AD.BaseDN, "REPORTDECK_AD_BASE_DN")
	setString(&cfg.AD.BindDN, "REPORTDECK_AD_BIND_DN")
	setString(&cfg.AD.BindPassword, "REPORTDECK_AD_BIND_PASSWORD")

	setString(&cfg.Graph.Endpoint, "REPORTDECK_GRAPH_ENDPOINT")
	setString(&cfg.Graph.TenantID, "REPORTDECK_GRAPH_TENANT_ID")
	setString(&cfg.Graph.ClientID, "REPORTDECK_GRAPH_CLIENT_ID")
	setString(&cfg.Graph.ClientSecret, "REPORTDECK_GRAPH_CLIENT_SECRET")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Query.DefaultPreviewLimit < 0 {
		return errors.New("query.default_preview_limit must be >= 0")
	}
	if cfg.Query.MaxPreviewLimit < cfg.Query.DefaultPreviewLimit {
		return errors.New("query.max_preview_limit must be >= query.default_preview_limit")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
