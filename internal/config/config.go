// Package config loads the dialer engine's runtime configuration, in the
// teacher's flag+env idiom (internal/config/config.go): CLI flags take
// precedence over environment variables, which take precedence over
// defaults.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the dialer engine.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir     string
	HTTPPort    int
	LogLevel    string
	LogFormat   string
	CORSOrigins string

	RedisAddr string
	RedisDB   int

	NATSURL string

	ARIURL          string
	ARIWebsocketURL string
	ARIUsername     string
	ARIPassword     string
	ARIApplication  string

	// AuthSecret is a hex-encoded 32-byte secret for service-auth JWTs on
	// mutating control-surface routes. Empty disables auth entirely, per
	// spec.md §6's "(optional) bearer-token auth".
	AuthSecret string

	RingTimeout       time.Duration
	RingingSweepGrace time.Duration
}

// defaults
const (
	defaultDataDir   = "./data"
	defaultHTTPPort  = 8080
	defaultLogLevel  = "info"
	defaultLogFormat = "text"

	defaultRedisAddr = "localhost:6379"
	defaultRedisDB   = 0

	defaultNATSURL = "nats://localhost:4222"

	defaultARIURL          = "http://localhost:8088"
	defaultARIWebsocketURL = "ws://localhost:8088/ari/events"
	defaultARIApplication  = "dialer"

	defaultRingTimeout       = 20 * time.Second
	defaultRingingSweepGrace = 10 * time.Second
)

// envPrefix is the prefix for all dialer engine environment variables.
const envPrefix = "DIALER_"

// Load parses configuration from CLI flags and environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("dialer", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the durable call store")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "control HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", defaultRedisAddr, "Redis address for the fast call/agent state store")
	fs.IntVar(&cfg.RedisDB, "redis-db", defaultRedisDB, "Redis logical database number")
	fs.StringVar(&cfg.NATSURL, "nats-url", defaultNATSURL, "NATS server URL for event publication")
	fs.StringVar(&cfg.ARIURL, "ari-url", defaultARIURL, "Asterisk ARI base URL")
	fs.StringVar(&cfg.ARIWebsocketURL, "ari-ws-url", defaultARIWebsocketURL, "Asterisk ARI event websocket URL")
	fs.StringVar(&cfg.ARIUsername, "ari-username", "", "Asterisk ARI username")
	fs.StringVar(&cfg.ARIPassword, "ari-password", "", "Asterisk ARI password")
	fs.StringVar(&cfg.ARIApplication, "ari-application", defaultARIApplication, "Asterisk ARI Stasis application name")
	fs.StringVar(&cfg.AuthSecret, "auth-secret", "", "hex-encoded 32-byte secret for control-surface bearer auth (auth disabled if empty)")
	fs.DurationVar(&cfg.RingTimeout, "ring-timeout", defaultRingTimeout, "default ring timeout before the watchdog's ringing sweep considers a call stuck")
	fs.DurationVar(&cfg.RingingSweepGrace, "ringing-sweep-grace", defaultRingingSweepGrace, "extra grace period added to ring-timeout before the ringing sweep reaps a call")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"data-dir":            envPrefix + "DATA_DIR",
		"http-port":           envPrefix + "HTTP_PORT",
		"log-level":           envPrefix + "LOG_LEVEL",
		"log-format":          envPrefix + "LOG_FORMAT",
		"cors-origins":        envPrefix + "CORS_ORIGINS",
		"redis-addr":          envPrefix + "REDIS_ADDR",
		"redis-db":            envPrefix + "REDIS_DB",
		"nats-url":            envPrefix + "NATS_URL",
		"ari-url":             envPrefix + "ARI_URL",
		"ari-ws-url":          envPrefix + "ARI_WS_URL",
		"ari-username":        envPrefix + "ARI_USERNAME",
		"ari-password":        envPrefix + "ARI_PASSWORD",
		"ari-application":     envPrefix + "ARI_APPLICATION",
		"auth-secret":         envPrefix + "AUTH_SECRET",
		"ring-timeout":        envPrefix + "RING_TIMEOUT",
		"ringing-sweep-grace": envPrefix + "RINGING_SWEEP_GRACE",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "redis-addr":
			cfg.RedisAddr = val
		case "redis-db":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RedisDB = v
			}
		case "nats-url":
			cfg.NATSURL = val
		case "ari-url":
			cfg.ARIURL = val
		case "ari-ws-url":
			cfg.ARIWebsocketURL = val
		case "ari-username":
			cfg.ARIUsername = val
		case "ari-password":
			cfg.ARIPassword = val
		case "ari-application":
			cfg.ARIApplication = val
		case "auth-secret":
			cfg.AuthSecret = val
		case "ring-timeout":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.RingTimeout = v
			}
		case "ringing-sweep-grace":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.RingingSweepGrace = v
			}
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.RingTimeout <= 0 {
		return fmt.Errorf("ring-timeout must be positive, got %s", c.RingTimeout)
	}
	if c.RingingSweepGrace < 0 {
		return fmt.Errorf("ringing-sweep-grace must not be negative, got %s", c.RingingSweepGrace)
	}
	if c.AuthSecret != "" {
		if _, err := c.AuthSecretBytes(); err != nil {
			return fmt.Errorf("invalid auth-secret: %w", err)
		}
	}

	return nil
}

// CORSOriginList splits the comma-separated CORSOrigins flag into a slice.
func (c *Config) CORSOriginList() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AuthSecretBytes returns the decoded 32-byte service-auth secret, or nil if
// auth is disabled (no secret configured).
func (c *Config) AuthSecretBytes() ([]byte, error) {
	if c.AuthSecret == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.AuthSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding auth secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("auth secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// GenerateAuthSecret returns a fresh random 32-byte hex-encoded secret, for
// operators bootstrapping --auth-secret.
func GenerateAuthSecret() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generating auth secret: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
