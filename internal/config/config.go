// Package config provides environment-based configuration for the failover
// transport, plus a parser for the failover:(uri1,uri2,...)?k=v&... transport
// URI form.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every knob enumerated in the failover transport's configuration
// table, loaded from environment variables with sensible defaults matching the
// reference implementation.
type Config struct {
	// Port is the HTTP listen port for the admin/introspection surface.
	Port int

	// LogLevel controls the verbosity of structured logging.
	LogLevel string

	// URIs is the ordered list of candidate broker URIs (inner transport URIs,
	// e.g. "tcp://host:port").
	URIs []string

	// Timeout bounds how long a Message send blocks waiting for a connection.
	Timeout time.Duration

	// InitialReconnectDelay and MaxReconnectDelay bound the backoff sequence.
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration

	// UseExponentialBackOff and BackOffMultiplier control delay growth.
	UseExponentialBackOff bool
	BackOffMultiplier     float64

	// MaxReconnectAttempts is the steady-state per-URI cap; -1 is infinite.
	MaxReconnectAttempts int

	// StartupMaxReconnectAttempts is the cap used only for the first connect.
	StartupMaxReconnectAttempts int

	Randomize      bool
	PriorityBackup bool
	BackupsEnabled bool
	BackupPoolSize int

	TrackMessages             bool
	TrackTransactionProducers bool
	MaxCacheSize              int
	MaxPullCacheSize          int

	UpdateURIsSupported bool
	ReconnectSupported  bool
	RebalanceUpdateURIs bool

	// URIFilePath, if set, hot-reloads the candidate URI pool from a
	// newline-delimited file in addition to URIs.
	URIFilePath string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8090),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		URIs:     splitCSV(getEnv("FAILOVER_URIS", "tcp://127.0.0.1:61616")),

		Timeout:               getEnvDuration("FAILOVER_TIMEOUT", 30*time.Second),
		InitialReconnectDelay: getEnvDuration("FAILOVER_INITIAL_RECONNECT_DELAY", 10*time.Millisecond),
		MaxReconnectDelay:     getEnvDuration("FAILOVER_MAX_RECONNECT_DELAY", 30*time.Second),

		UseExponentialBackOff: getEnvBool("FAILOVER_USE_EXPONENTIAL_BACKOFF", true),
		BackOffMultiplier:     getEnvFloat("FAILOVER_BACKOFF_MULTIPLIER", 2.0),

		MaxReconnectAttempts:        getEnvInt("FAILOVER_MAX_RECONNECT_ATTEMPTS", -1),
		StartupMaxReconnectAttempts: getEnvInt("FAILOVER_STARTUP_MAX_RECONNECT_ATTEMPTS", -1),

		Randomize:      getEnvBool("FAILOVER_RANDOMIZE", true),
		PriorityBackup: getEnvBool("FAILOVER_PRIORITY_BACKUP", false),
		BackupsEnabled: getEnvBool("FAILOVER_BACKUPS_ENABLED", false),
		BackupPoolSize: getEnvInt("FAILOVER_BACKUP_POOL_SIZE", 1),

		TrackMessages:             getEnvBool("FAILOVER_TRACK_MESSAGES", false),
		TrackTransactionProducers: getEnvBool("FAILOVER_TRACK_TRANSACTION_PRODUCERS", true),
		MaxCacheSize:              getEnvInt("FAILOVER_MAX_CACHE_SIZE", 128*1024),
		MaxPullCacheSize:          getEnvInt("FAILOVER_MAX_PULL_CACHE_SIZE", 10),

		UpdateURIsSupported: getEnvBool("FAILOVER_UPDATE_URIS_SUPPORTED", true),
		ReconnectSupported:  getEnvBool("FAILOVER_RECONNECT_SUPPORTED", true),
		RebalanceUpdateURIs: getEnvBool("FAILOVER_REBALANCE_UPDATE_URIS", true),

		URIFilePath: getEnv("FAILOVER_URI_FILE", ""),
	}
}

// ParseFailoverURI parses a "failover:(uri1,uri2,...)?k=v&..." transport URI
// into a Config seeded from defaults, overridden by recognized query options.
// Options not starting with "transport." are consumed here; the rest are
// returned unconsumed for the inner transport factory.
func ParseFailoverURI(raw string) (*Config, map[string]string, error) {
	const prefix = "failover:("
	if !strings.HasPrefix(raw, prefix) {
		return nil, nil, fmt.Errorf("config: not a failover URI: %s", raw)
	}
	rest := raw[len(prefix):]
	closeParen := strings.Index(rest, ")")
	if closeParen < 0 {
		return nil, nil, fmt.Errorf("config: malformed failover URI, missing ')': %s", raw)
	}
	inner := rest[:closeParen]
	tail := rest[closeParen+1:]

	cfg := Load()
	cfg.URIs = splitCSV(inner)

	forwarded := map[string]string{}
	if strings.HasPrefix(tail, "?") {
		query := tail[1:]
		for _, pair := range strings.Split(query, "&") {
			if pair == "" {
				continue
			}
			kv := strings.SplitN(pair, "=", 2)
			key := kv[0]
			val := ""
			if len(kv) == 2 {
				val = kv[1]
			}
			if strings.HasPrefix(key, "transport.") {
				forwarded[strings.TrimPrefix(key, "transport.")] = val
				continue
			}
			if err := applyOption(cfg, key, val); err != nil {
				return nil, nil, err
			}
		}
	}

	return cfg, forwarded, nil
}

func applyOption(cfg *Config, key, val string) error {
	switch key {
	case "timeout":
		return setDuration(&cfg.Timeout, val)
	case "initialReconnectDelay":
		return setDuration(&cfg.InitialReconnectDelay, val)
	case "maxReconnectDelay":
		return setDuration(&cfg.MaxReconnectDelay, val)
	case "useExponentialBackOff":
		return setBool(&cfg.UseExponentialBackOff, val)
	case "backOffMultiplier":
		return setFloat(&cfg.BackOffMultiplier, val)
	case "maxReconnectAttempts":
		return setInt(&cfg.MaxReconnectAttempts, val)
	case "startupMaxReconnectAttempts":
		return setInt(&cfg.StartupMaxReconnectAttempts, val)
	case "randomize":
		return setBool(&cfg.Randomize, val)
	case "priorityBackup":
		return setBool(&cfg.PriorityBackup, val)
	case "backup", "backupsEnabled":
		return setBool(&cfg.BackupsEnabled, val)
	case "backupPoolSize":
		return setInt(&cfg.BackupPoolSize, val)
	case "trackMessages":
		return setBool(&cfg.TrackMessages, val)
	case "trackTransactionProducers":
		return setBool(&cfg.TrackTransactionProducers, val)
	case "maxCacheSize":
		return setInt(&cfg.MaxCacheSize, val)
	case "maxPullCacheSize":
		return setInt(&cfg.MaxPullCacheSize, val)
	case "updateURIsSupported":
		return setBool(&cfg.UpdateURIsSupported, val)
	case "reconnectSupported":
		return setBool(&cfg.ReconnectSupported, val)
	case "rebalanceUpdateURIs":
		return setBool(&cfg.RebalanceUpdateURIs, val)
	default:
		return fmt.Errorf("config: unknown failover option %q", key)
	}
}

func setDuration(dst *time.Duration, val string) error {
	ms, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", val, err)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

func setBool(dst *bool, val string) error {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("config: invalid bool %q: %w", val, err)
	}
	*dst = b
	return nil
}

func setFloat(dst *float64, val string) error {
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fmt.Errorf("config: invalid float %q: %w", val, err)
	}
	*dst = f
	return nil
}

func setInt(dst *int, val string) error {
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("config: invalid int %q: %w", val, err)
	}
	*dst = n
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
