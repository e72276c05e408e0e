package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DataDir        string
	SnapshotPrefix string
	SnapshotExt    string
	KeyColumn      string
	Delimiter      rune

	MasterFilename string
	LatestFilename string
	RawFilename    string
	ReportFilename string
	LockFilename   string
	LockTimeout    time.Duration

	MetricsTextfile   string
	ReconcileInterval time.Duration
	WatchDataDir      bool

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Optional Kafka sink for master rows. Disabled when no brokers are set.
	KafkaBrokers     []string
	KafkaMasterTopic string
	KafkaEnabled     bool
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	lockTimeout, err := parsePositiveDuration("LOCK_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	interval, err := parsePositiveDuration("RECONCILE_INTERVAL", "1h")
	if err != nil {
		return nil, err
	}

	watch, err := strconv.ParseBool(sharedcfg.EnvOrDefault("WATCH_DATA_DIR", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid WATCH_DATA_DIR: %w", err)
	}

	delimiter, err := parseDelimiter(sharedcfg.EnvOrDefault("CSV_DELIMITER", ","))
	if err != nil {
		return nil, err
	}

	var brokers []string
	if s := sharedcfg.EnvOrDefault("KAFKA_BROKERS", ""); s != "" {
		brokers = sharedcfg.ParseBrokers(s)
	}

	prefix := sharedcfg.EnvOrDefault("SNAPSHOT_PREFIX", "Pharmacies")

	cfg := &Config{
		DataDir:        sharedcfg.EnvOrDefault("DATA_DIR", "data"),
		SnapshotPrefix: prefix,
		SnapshotExt:    sharedcfg.EnvOrDefault("SNAPSHOT_EXT", "csv"),
		KeyColumn:      sharedcfg.EnvOrDefault("KEY_COLUMN", "ID"),
		Delimiter:      delimiter,

		MasterFilename: sharedcfg.EnvOrDefault("MASTER_FILENAME", "_"+prefix+"_MASTERFILE.csv"),
		LatestFilename: sharedcfg.EnvOrDefault("LATEST_FILENAME", "_"+prefix+"_mostrecent.csv"),
		RawFilename:    sharedcfg.EnvOrDefault("RAW_FILENAME", prefix+".csv"),
		ReportFilename: sharedcfg.EnvOrDefault("REPORT_FILENAME", ""),
		LockFilename:   sharedcfg.EnvOrDefault("LOCK_FILENAME", ".pharmacies.lock"),
		LockTimeout:    lockTimeout,

		MetricsTextfile:   sharedcfg.EnvOrDefault("METRICS_TEXTFILE", ""),
		ReconcileInterval: interval,
		WatchDataDir:      watch,

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		KafkaBrokers:     brokers,
		KafkaMasterTopic: sharedcfg.EnvOrDefault("KAFKA_MASTER_TOPIC", "master-records"),
		KafkaEnabled:     len(brokers) > 0,
	}

	if cfg.DataDir == "" {
		return nil, errors.New("DATA_DIR is required")
	}
	if cfg.KeyColumn == "" {
		return nil, errors.New("KEY_COLUMN is required")
	}
	if cfg.SnapshotPrefix == "" || cfg.SnapshotExt == "" {
		return nil, errors.New("SNAPSHOT_PREFIX and SNAPSHOT_EXT are required")
	}
	if cfg.KafkaEnabled && cfg.KafkaMasterTopic == "" {
		return nil, errors.New("KAFKA_MASTER_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseDelimiter(s string) (rune, error) {
	if s == `\t` {
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || size != len(s) || r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, errors.New("invalid CSV_DELIMITER: must be a single character")
	}
	return r, nil
}
