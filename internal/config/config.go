package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variables that override the file
const (
	EnvLogLevel   = "LIVEMAP_LOG_LEVEL"
	EnvHTTPPort   = "LIVEMAP_HTTP_PORT"
	EnvMQTTBroker = "LIVEMAP_MQTT_BROKER"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`   // HTTP server settings
	Logging  LoggingConfig  `toml:"logging"`  // Application logging settings
	Storage  StorageConfig  `toml:"storage"`  // METAR history database
	Airports AirportsConfig `toml:"airports"` // Airport configuration snapshot
	Datasets DatasetsConfig `toml:"datasets"` // Remote feeds and their local copies
	Ingest   IngestConfig   `toml:"ingest"`   // Ingestion worker settings
	MQTT     MQTTConfig     `toml:"mqtt"`     // Display controller fan-out
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port             int    `toml:"port"`                  // HTTP port
	Host             string `toml:"host"`                  // Bind address (0.0.0.0 for all interfaces)
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Keep-alive idle timeout
	StaticFilesDir   string `toml:"static_files_dir"`      // Directory to serve the map page from
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains the history database settings
type StorageConfig struct {
	SQLitePath           string `toml:"sqlite_path"`            // History database file
	HistoryLimit         int    `toml:"history_limit"`          // Maximum records returned by the history API
	HistoryRetentionDays int    `toml:"history_retention_days"` // Records older than this are pruned (0 = keep forever)
}

// AirportsConfig points at the airport snapshot and its safe-replace companions
type AirportsConfig struct {
	JSONPath        string `toml:"json_path"`         // Current snapshot
	BackupPath      string `toml:"backup_path"`       // Copy of the previous snapshot
	NewPath         string `toml:"new_path"`          // Staging file written before the swap
	METARAgeMinutes int    `toml:"metar_age_minutes"` // Observations older than this display as OLD
	SaveIntervalMin int    `toml:"save_interval_minutes"`
}

// DatasetsConfig contains the remote dataset URLs and local file locations
type DatasetsConfig struct {
	METARURL              string `toml:"metar_url"`
	TAFURL                string `toml:"taf_url"`
	RunwaysURL            string `toml:"runways_url"`
	AirportsURL           string `toml:"airports_url"`
	METARFile             string `toml:"metar_file"`
	TAFFile               string `toml:"taf_file"`
	RunwaysFile           string `toml:"runways_file"`
	AirportsFile          string `toml:"airports_file"`
	UpdateIntervalMinutes int    `toml:"update_interval_minutes"` // How often remote datasets are checked
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"` // HTTP timeout per request
}

// IngestConfig contains the ingestion worker settings
type IngestConfig struct {
	PollIntervalSeconds int    `toml:"poll_interval_seconds"` // How often dataset serials are compared
	METARExpiryMinutes  int    `toml:"metar_expiry_minutes"`  // Direct-query airports refresh after this age
	DirectMETARURL      string `toml:"direct_metar_url"`      // Single-station text service base URL
	DirectMaxRetries    int    `toml:"direct_max_retries"`    // Retry attempts per direct query
}

// MQTTConfig contains the broker settings for display controllers
type MQTTConfig struct {
	Enabled     bool   `toml:"enabled"`
	Broker      string `toml:"broker"`
	Port        int    `toml:"port"`
	ClientID    string `toml:"client_id"`
	TopicPrefix string `toml:"topic_prefix"`
}

// Default returns the configuration used for values the file leaves out
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:             8080,
			Host:             "0.0.0.0",
			ReadTimeoutSecs:  15,
			WriteTimeoutSecs: 30,
			IdleTimeoutSecs:  60,
			StaticFilesDir:   "www",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			SQLitePath:           "data/history.db",
			HistoryLimit:         100,
			HistoryRetentionDays: 30,
		},
		Airports: AirportsConfig{
			JSONPath:        "data/airports.json",
			BackupPath:      "data/airports.bkup",
			NewPath:         "data/airports.new",
			METARAgeMinutes: 180,
			SaveIntervalMin: 10,
		},
		Datasets: DatasetsConfig{
			METARURL:              "https://aviationweather.gov/data/cache/metars.cache.xml.gz",
			TAFURL:                "https://aviationweather.gov/data/cache/tafs.cache.xml.gz",
			RunwaysURL:            "https://davidmegginson.github.io/ourairports-data/runways.csv",
			AirportsURL:           "https://davidmegginson.github.io/ourairports-data/airports.csv",
			METARFile:             "data/metars.xml",
			TAFFile:               "data/tafs.xml",
			RunwaysFile:           "data/runways.csv",
			AirportsFile:          "data/airports.csv",
			UpdateIntervalMinutes: 5,
			RequestTimeoutSeconds: 30,
		},
		Ingest: IngestConfig{
			PollIntervalSeconds: 60,
			METARExpiryMinutes:  30,
			DirectMETARURL:      "https://tgftp.nws.noaa.gov/data/observations/metar/stations",
			DirectMaxRetries:    3,
		},
		MQTT: MQTTConfig{
			Broker:      "localhost",
			Port:        1883,
			ClientID:    "livemap",
			TopicPrefix: "livemap/airports",
		},
	}
}

// Load reads the configuration from a TOML file on top of the defaults
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,
		"configs/config.toml",
		"config.toml",
	}

	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// ApplyEnv loads an optional dotenv file into the process environment and applies the
// LIVEMAP_* overrides. Variables already set in the environment win over the file.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := os.LookupEnv(EnvHTTPPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", EnvHTTPPort, v)
		}
		c.Server.Port = port
	}
	if v, ok := os.LookupEnv(EnvMQTTBroker); ok && v != "" {
		c.MQTT.Broker = v
		c.MQTT.Enabled = true
	}
	return nil
}

// Validate checks the configuration for values the services cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}

	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage sqlite_path cannot be empty")
	}
	if c.Storage.HistoryLimit <= 0 {
		return fmt.Errorf("storage history_limit must be greater than 0: %d", c.Storage.HistoryLimit)
	}
	if c.Storage.HistoryRetentionDays < 0 {
		return fmt.Errorf("storage history_retention_days must be 0 or greater: %d", c.Storage.HistoryRetentionDays)
	}

	if c.Airports.JSONPath == "" || c.Airports.BackupPath == "" || c.Airports.NewPath == "" {
		return fmt.Errorf("airports json_path, backup_path and new_path are required")
	}
	if c.Airports.JSONPath == c.Airports.BackupPath || c.Airports.JSONPath == c.Airports.NewPath {
		return fmt.Errorf("airports snapshot paths must differ")
	}
	if c.Airports.SaveIntervalMin <= 0 {
		return fmt.Errorf("airports save_interval_minutes must be greater than 0: %d", c.Airports.SaveIntervalMin)
	}

	if err := c.ValidateDatasets(); err != nil {
		return err
	}

	if c.Ingest.PollIntervalSeconds <= 0 {
		return fmt.Errorf("ingest poll_interval_seconds must be greater than 0: %d", c.Ingest.PollIntervalSeconds)
	}
	if c.Ingest.METARExpiryMinutes <= 0 {
		return fmt.Errorf("ingest metar_expiry_minutes must be greater than 0: %d", c.Ingest.METARExpiryMinutes)
	}
	if c.Ingest.DirectMaxRetries < 0 {
		return fmt.Errorf("ingest direct_max_retries must be 0 or greater: %d", c.Ingest.DirectMaxRetries)
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker is required when mqtt is enabled")
		}
		if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
			return fmt.Errorf("invalid mqtt port: %d", c.MQTT.Port)
		}
	}
	return nil
}

// ValidateDatasets checks the dataset section
func (c *Config) ValidateDatasets() error {
	d := c.Datasets
	if d.UpdateIntervalMinutes <= 0 {
		return fmt.Errorf("datasets update_interval_minutes must be greater than 0: %d", d.UpdateIntervalMinutes)
	}
	if d.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("datasets request_timeout_seconds must be greater than 0: %d", d.RequestTimeoutSeconds)
	}
	files := map[string]string{
		"metar_file":    d.METARFile,
		"taf_file":      d.TAFFile,
		"runways_file":  d.RunwaysFile,
		"airports_file": d.AirportsFile,
	}
	for name, path := range files {
		if path == "" {
			return fmt.Errorf("datasets %s cannot be empty", name)
		}
	}
	return nil
}

// Durations derived from the minute and second settings

func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.Datasets.UpdateIntervalMinutes) * time.Minute
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Datasets.RequestTimeoutSeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Ingest.PollIntervalSeconds) * time.Second
}

func (c *Config) METARExpiry() time.Duration {
	return time.Duration(c.Ingest.METARExpiryMinutes) * time.Minute
}

func (c *Config) METARAge() time.Duration {
	return time.Duration(c.Airports.METARAgeMinutes) * time.Minute
}

func (c *Config) SaveInterval() time.Duration {
	return time.Duration(c.Airports.SaveIntervalMin) * time.Minute
}

func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.Storage.HistoryRetentionDays) * 24 * time.Hour
}
