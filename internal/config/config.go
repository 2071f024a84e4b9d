// Package config loads and validates engine configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all engine configuration knobs loaded via Viper.
type Config struct {
	Portal  PortalConfig  `mapstructure:"portal"`
	Browser BrowserConfig `mapstructure:"browser"`
	Run     RunConfig     `mapstructure:"run"`
	Filter  FilterConfig  `mapstructure:"filter"`
	Tracker TrackerConfig `mapstructure:"tracker"`
	Storage StorageConfig `mapstructure:"storage"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PortalConfig locates the gated portal surfaces and the billing client.
// Credentials come from the environment (DOCKETWATCH_PORTAL_USER/_PASS),
// never from config files.
type PortalConfig struct {
	URL           string `mapstructure:"url"`
	SearchURL     string `mapstructure:"search_url"`
	AlertsURL     string `mapstructure:"alerts_url"`
	AlertName     string `mapstructure:"alert_name"`
	ClientIDURL   string `mapstructure:"client_id_url"`
	ClientIDValue string `mapstructure:"client_id_value"`
	User          string `mapstructure:"user"`
	Pass          string `mapstructure:"pass"`
}

// BrowserConfig controls the headless Chrome session.
type BrowserConfig struct {
	Headless           bool   `mapstructure:"headless"`
	UserAgent          string `mapstructure:"user_agent"`
	NavTimeoutSeconds  int    `mapstructure:"nav_timeout_seconds"`
	WaitTimeoutSeconds int    `mapstructure:"wait_timeout_seconds"`
}

// RunConfig governs run-level budgets and queue sizing.
type RunConfig struct {
	GlobalTimeoutSeconds  int    `mapstructure:"global_timeout_seconds"`
	CaptureTimeoutSeconds int    `mapstructure:"capture_timeout_seconds"`
	QueueLimit            int    `mapstructure:"queue_limit"`
	MaxAttempts           int    `mapstructure:"max_attempts"`
	ExportDir             string `mapstructure:"export_dir"`
}

// FilterConfig controls which extracted rows survive.
type FilterConfig struct {
	NatureAllow []string `mapstructure:"nature_allow"`
}

// TrackerConfig selects and configures the external record tracker.
type TrackerConfig struct {
	Provider string         `mapstructure:"provider"`
	Airtable AirtableConfig `mapstructure:"airtable"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// AirtableConfig holds the REST tracker coordinates. The API key comes from
// the environment (DOCKETWATCH_TRACKER_AIRTABLE_API_KEY).
type AirtableConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseID  string `mapstructure:"base_id"`
	Table   string `mapstructure:"table"`
	BaseURL string `mapstructure:"base_url"`
}

// PostgresConfig controls the relational tracker provider.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// StorageConfig selects and configures blob persistence.
type StorageConfig struct {
	Provider        string `mapstructure:"provider"`
	GCSBucket       string `mapstructure:"gcs_bucket"`
	SessionStateKey string `mapstructure:"session_state_key"`
	URLTTLHours     int    `mapstructure:"url_ttl_hours"`
}

// PubSubConfig holds metadata for run-completion notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig toggles the Prometheus listener.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCKETWATCH")
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
	v.SetDefault("portal.alert_name", "New Filings")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_seconds", 60)
	v.SetDefault("browser.wait_timeout_seconds", 60)
	v.SetDefault("run.global_timeout_seconds", 1800)
	v.SetDefault("run.capture_timeout_seconds", 180)
	v.SetDefault("run.queue_limit", 25)
	v.SetDefault("run.max_attempts", 5)
	v.SetDefault("filter.nature_allow", []string{})
	v.SetDefault("tracker.provider", "airtable")
	v.SetDefault("tracker.airtable.base_url", "https://api.airtable.com/v0")
	v.SetDefault("storage.provider", "gcs")
	v.SetDefault("storage.session_state_key", "state/session.json")
	v.SetDefault("storage.url_ttl_hours", 24)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9091)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Portal.URL == "" {
		return fmt.Errorf("portal.url must be set")
	}
	if c.Run.MaxAttempts <= 0 {
		return fmt.Errorf("run.max_attempts must be > 0")
	}
	if c.Run.GlobalTimeoutSeconds <= 0 {
		return fmt.Errorf("run.global_timeout_seconds must be > 0")
	}
	switch c.Tracker.Provider {
	case "airtable":
		if c.Tracker.Airtable.BaseID == "" || c.Tracker.Airtable.Table == "" {
			return fmt.Errorf("tracker.airtable.base_id and table must be set")
		}
	case "postgres":
		if c.Tracker.Postgres.DSN == "" {
			return fmt.Errorf("tracker.postgres.dsn must be set")
		}
	default:
		return fmt.Errorf("tracker.provider must be airtable or postgres, got %q", c.Tracker.Provider)
	}
	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when provider is gcs")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.provider must be gcs or memory, got %q", c.Storage.Provider)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and topic_name must be set when pubsub is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		return fmt.Errorf("metrics.port must be > 0 when metrics are enabled")
	}
	return nil
}

// GlobalTimeout converts the run budget into a duration.
func (c Config) GlobalTimeout() time.Duration {
	return time.Duration(c.Run.GlobalTimeoutSeconds) * time.Second
}

// CaptureTimeout converts the capture budget into a duration.
func (c Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Run.CaptureTimeoutSeconds) * time.Second
}

// NavTimeout converts the navigation budget into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSeconds) * time.Second
}

// WaitTimeout converts the element-wait budget into a duration.
func (c Config) WaitTimeout() time.Duration {
	return time.Duration(c.Browser.WaitTimeoutSeconds) * time.Second
}

// URLTTL converts the signed-URL budget into a duration.
func (c Config) URLTTL() time.Duration {
	return time.Duration(c.Storage.URLTTLHours) * time.Hour
}
