// Package config loads the relay's configuration from environment variables
// and flags. Environment values become flag defaults; flags override.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envVarPort            = "PORT"
	envVarHost            = "HOST"
	envVarMaxSessions     = "MAX_SESSIONS"
	envVarConfigDir       = "CONFIG_DIR"
	envVarMode            = "MODE"
	envVarLogFormat       = "LOG_FORMAT"
	envVarLogLevel        = "LOG_LEVEL"
	envVarShutdownTimeout = "SHUTDOWN_TIMEOUT"
	envVarRateLimitWindow = "RATE_LIMIT_WINDOW"
	envVarRateLimitMax    = "RATE_LIMIT_MAX"

	DefaultPort            = 3700
	DefaultHost            = "localhost"
	DefaultMaxSessions     = 10000
	DefaultConfigDir       = "./config"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultRateLimitWindow = 60 * time.Second
	DefaultRateLimitMax    = 10
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Branding is the optional presentation block read from
// CONFIG_DIR/relay.yaml. It feeds the manifest endpoints and page titles; the
// relay itself never interprets it.
type Branding struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// DefaultBranding is used when CONFIG_DIR/relay.yaml is absent.
var DefaultBranding = Branding{
	Name:        "Wallet Relay",
	Description: "Connect a desktop DApp to a mobile wallet by QR code",
}

type Config struct {
	Port        int
	Host        string
	MaxSessions int
	ConfigDir   string

	Mode      Mode
	LogFormat LogFormat
	LogLevel  slog.Level

	ShutdownTimeout time.Duration

	RateLimitWindow time.Duration
	RateLimitMax    int

	Branding Branding
}

// ListenAddr is the host:port the HTTP+WS listener binds.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	modeDefault := string(ModeDev)
	if raw, ok := lookup(envVarMode); ok && strings.TrimSpace(raw) != "" {
		modeDefault = strings.TrimSpace(raw)
	}

	port := DefaultPort
	if raw, ok := lookup(envVarPort); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarPort, raw, err)
		}
		port = n
	}

	host := envOrDefault(lookup, envVarHost, DefaultHost)
	configDir := envOrDefault(lookup, envVarConfigDir, DefaultConfigDir)

	maxSessions := DefaultMaxSessions
	if raw, ok := lookup(envVarMaxSessions); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSessions, raw, err)
		}
		maxSessions = n
	}

	shutdownTimeout := DefaultShutdownTimeout
	if raw, ok := lookup(envVarShutdownTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarShutdownTimeout, raw, err)
		}
		shutdownTimeout = d
	}

	rateLimitWindow := DefaultRateLimitWindow
	if raw, ok := lookup(envVarRateLimitWindow); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarRateLimitWindow, raw, err)
		}
		rateLimitWindow = d
	}

	rateLimitMax := DefaultRateLimitMax
	if raw, ok := lookup(envVarRateLimitMax); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarRateLimitMax, raw, err)
		}
		rateLimitMax = n
	}

	logFormatDefault := envOrDefault(lookup, envVarLogFormat, "")
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, "")

	fs := flag.NewFlagSet("wallet-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.IntVar(&port, "port", port, "HTTP listen port (env "+envVarPort+")")
	fs.StringVar(&host, "host", host, "HTTP listen host (env "+envVarHost+")")
	fs.IntVar(&maxSessions, "max-sessions", maxSessions, "Maximum live sessions (env "+envVarMaxSessions+")")
	fs.StringVar(&configDir, "config-dir", configDir, "Directory holding relay.yaml and translations (env "+envVarConfigDir+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod (env "+envVarMode+")")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json (env "+envVarLogFormat+")")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error (env "+envVarLogLevel+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")
	fs.DurationVar(&rateLimitWindow, "rate-limit-window", rateLimitWindow, "Session creation rate limit window (env "+envVarRateLimitWindow+")")
	fs.IntVar(&rateLimitMax, "rate-limit-max", rateLimitMax, "Session creations per window per IP (env "+envVarRateLimitMax+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	if logFormatStr == "" {
		logFormatStr = defaultLogFormatForMode(mode)
	}
	if logLevelStr == "" {
		logLevelStr = defaultLogLevelForMode(mode)
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("%s/--port must be in 1..65535; got %d", envVarPort, port)
	}
	if host == "" {
		return Config{}, fmt.Errorf("%s/--host must not be empty", envVarHost)
	}
	if maxSessions <= 0 {
		return Config{}, fmt.Errorf("%s/--max-sessions must be > 0", envVarMaxSessions)
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", envVarShutdownTimeout)
	}
	if rateLimitWindow <= 0 {
		return Config{}, fmt.Errorf("%s/--rate-limit-window must be > 0", envVarRateLimitWindow)
	}
	if rateLimitMax <= 0 {
		return Config{}, fmt.Errorf("%s/--rate-limit-max must be > 0", envVarRateLimitMax)
	}

	branding, err := loadBranding(configDir)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Port:            port,
		Host:            host,
		MaxSessions:     maxSessions,
		ConfigDir:       configDir,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		RateLimitWindow: rateLimitWindow,
		RateLimitMax:    rateLimitMax,
		Branding:        branding,
	}, nil
}

// loadBranding reads CONFIG_DIR/relay.yaml when present. A missing file is
// not an error; a malformed one is.
func loadBranding(configDir string) (Branding, error) {
	path := filepath.Join(configDir, "relay.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultBranding, nil
		}
		return Branding{}, fmt.Errorf("read %s: %w", path, err)
	}

	b := DefaultBranding
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return Branding{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if b.Name == "" {
		b.Name = DefaultBranding.Name
	}
	if b.Description == "" {
		b.Description = DefaultBranding.Description
	}
	return b, nil
}

func envOrDefault(lookup func(string) (string, bool), key, def string) string {
	if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
		return strings.TrimSpace(raw)
	}
	return def
}

func parseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDev:
		return ModeDev, nil
	case ModeProd:
		return ModeProd, nil
	}
	return "", fmt.Errorf("invalid mode %q (want dev or prod)", s)
}

func parseLogFormat(s string) (LogFormat, error) {
	switch LogFormat(strings.ToLower(strings.TrimSpace(s))) {
	case LogFormatText:
		return LogFormatText, nil
	case LogFormatJSON:
		return LogFormatJSON, nil
	}
	return "", fmt.Errorf("invalid log format %q (want text or json)", s)
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level %q", s)
}

func defaultLogFormatForMode(m Mode) string {
	if m == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(m Mode) string {
	if m == ModeProd {
		return "info"
	}
	return "debug"
}

// NewLogger builds the process logger from the configured format and level.
func NewLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
