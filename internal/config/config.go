// Package config loads relay configuration from an optional YAML file,
// environment variables, and command-line flags.
//
// Precedence is flags > environment > config file > built-in defaults.
// Environment values become flag defaults, so --help always shows the
// effective default for the current environment.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meshsignal/room-relay/internal/origin"
)

const (
	envVarConfigFile      = "ROOM_RELAY_CONFIG_FILE"
	envVarListenAddr      = "ROOM_RELAY_LISTEN_ADDR"
	envVarMode            = "ROOM_RELAY_MODE"
	envVarLogFormat       = "ROOM_RELAY_LOG_FORMAT"
	envVarLogLevel        = "ROOM_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "ROOM_RELAY_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ROOM_RELAY_ALLOWED_ORIGINS"

	// Room limits.
	envVarMaxClientsPerRoom = "ROOM_RELAY_MAX_CLIENTS_PER_ROOM"
	envVarMaxRooms          = "ROOM_RELAY_MAX_ROOMS"
	envVarMaxRoomNameBytes  = "ROOM_RELAY_MAX_ROOM_NAME_BYTES"
	envVarMaxPasswordBytes  = "ROOM_RELAY_MAX_PASSWORD_BYTES"

	// WebSocket hardening.
	envVarWSIdleTimeout        = "ROOM_RELAY_WS_IDLE_TIMEOUT"
	envVarWSPingInterval       = "ROOM_RELAY_WS_PING_INTERVAL"
	envVarMaxMessageBytes      = "ROOM_RELAY_MAX_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "ROOM_RELAY_MAX_MESSAGES_PER_SECOND"
)

const (
	DefaultListenAddr           = "127.0.0.1:8080"
	DefaultShutdown             = 15 * time.Second
	DefaultMode            Mode = ModeDev
	DefaultMaxClientsPerRoom    = 4
	DefaultMaxRoomNameBytes     = 128
	DefaultMaxPasswordBytes     = 128

	DefaultWSIdleTimeout        = 60 * time.Second
	DefaultWSPingInterval       = 20 * time.Second
	DefaultMaxMessageBytes      = int64(64 * 1024)
	DefaultMaxMessagesPerSecond = 50
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

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// AllowedOrigins controls browser access to the signaling endpoint. Empty
	// means same-host only; entries are normalized origins or "*".
	AllowedOrigins []string

	// Room limits. MaxRooms <= 0 means unlimited.
	MaxClientsPerRoom int
	MaxRooms          int
	MaxRoomNameBytes  int
	MaxPasswordBytes  int

	// WebSocket hardening.
	WSIdleTimeout        time.Duration
	WSPingInterval       time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
}

// fileConfig is the YAML config file schema. All fields are optional;
// set fields act as defaults below environment variables and flags.
type fileConfig struct {
	ListenAddr      string   `yaml:"listen_addr"`
	Mode            string   `yaml:"mode"`
	LogFormat       string   `yaml:"log_format"`
	LogLevel        string   `yaml:"log_level"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
	AllowedOrigins  []string `yaml:"allowed_origins"`

	MaxClientsPerRoom *int `yaml:"max_clients_per_room"`
	MaxRooms          *int `yaml:"max_rooms"`
	MaxRoomNameBytes  *int `yaml:"max_room_name_bytes"`
	MaxPasswordBytes  *int `yaml:"max_password_bytes"`

	WSIdleTimeout        string `yaml:"ws_idle_timeout"`
	WSPingInterval       string `yaml:"ws_ping_interval"`
	MaxMessageBytes      *int64 `yaml:"max_message_bytes"`
	MaxMessagesPerSecond *int   `yaml:"max_messages_per_second"`
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	// The config file path itself can only come from env or --config; the
	// file is read before flag parsing so flags can still override it, which
	// requires a pre-scan of args for --config.
	configFile := envOrDefault(lookup, envVarConfigFile, "")
	if fromArgs, ok := scanConfigFlag(args); ok {
		configFile = fromArgs
	}

	var fc fileConfig
	if configFile != "" {
		b, err := os.ReadFile(configFile)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		dec := yaml.NewDecoder(strings.NewReader(string(b)))
		dec.KnownFields(true)
		if err := dec.Decode(&fc); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", configFile, err)
		}
	}

	modeDefault := string(DefaultMode)
	if fc.Mode != "" {
		modeDefault = fc.Mode
	}
	if v, ok := lookup(envVarMode); ok && v != "" {
		modeDefault = v
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = fc.LogFormat
	}
	logFormatExplicit := logFormatDefault != ""
	if !logFormatExplicit {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = fc.LogLevel
	}
	logLevelExplicit := logLevelDefault != ""
	if !logLevelExplicit {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := stringDefault(fc.ListenAddr, DefaultListenAddr)
	listenAddr = envOrDefault(lookup, envVarListenAddr, listenAddr)

	allowedOriginsStr := strings.Join(fc.AllowedOrigins, ",")
	allowedOriginsStr = envOrDefault(lookup, envVarAllowedOrigins, allowedOriginsStr)

	shutdownTimeout, err := durationSetting(lookup, envVarShutdownTimeout, fc.ShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	wsIdleTimeout, err := durationSetting(lookup, envVarWSIdleTimeout, fc.WSIdleTimeout, DefaultWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := durationSetting(lookup, envVarWSPingInterval, fc.WSPingInterval, DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}

	maxClientsPerRoom, err := intSetting(lookup, envVarMaxClientsPerRoom, fc.MaxClientsPerRoom, DefaultMaxClientsPerRoom)
	if err != nil {
		return Config{}, err
	}
	maxRooms, err := intSetting(lookup, envVarMaxRooms, fc.MaxRooms, 0)
	if err != nil {
		return Config{}, err
	}
	maxRoomNameBytes, err := intSetting(lookup, envVarMaxRoomNameBytes, fc.MaxRoomNameBytes, DefaultMaxRoomNameBytes)
	if err != nil {
		return Config{}, err
	}
	maxPasswordBytes, err := intSetting(lookup, envVarMaxPasswordBytes, fc.MaxPasswordBytes, DefaultMaxPasswordBytes)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSecond, err := intSetting(lookup, envVarMaxMessagesPerSecond, fc.MaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	maxMessageBytes := DefaultMaxMessageBytes
	if fc.MaxMessageBytes != nil {
		maxMessageBytes = *fc.MaxMessageBytes
	}
	if raw, ok := lookup(envVarMaxMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxMessageBytes, raw, err)
		}
		maxMessageBytes = n
	}

	fs := flag.NewFlagSet("room-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&configFile, "config", configFile, "Path to YAML config file (env "+envVarConfigFile+")")
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")

	fs.IntVar(&maxClientsPerRoom, "max-clients-per-room", maxClientsPerRoom, "Maximum clients per room, excluding the host (env "+envVarMaxClientsPerRoom+")")
	fs.IntVar(&maxRooms, "max-rooms", maxRooms, "Maximum concurrent rooms (0 = unlimited; env "+envVarMaxRooms+")")
	fs.IntVar(&maxRoomNameBytes, "max-room-name-bytes", maxRoomNameBytes, "Maximum room name length in bytes (env "+envVarMaxRoomNameBytes+")")
	fs.IntVar(&maxPasswordBytes, "max-password-bytes", maxPasswordBytes, "Maximum room password length in bytes (env "+envVarMaxPasswordBytes+")")

	fs.DurationVar(&wsIdleTimeout, "ws-idle-timeout", wsIdleTimeout, "Close idle signaling connections after this duration (env "+envVarWSIdleTimeout+")")
	fs.DurationVar(&wsPingInterval, "ws-ping-interval", wsPingInterval, "Ping interval on signaling connections (must be < --ws-idle-timeout; env "+envVarWSPingInterval+")")
	fs.Int64Var(&maxMessageBytes, "max-message-bytes", maxMessageBytes, "Max inbound signaling message size in bytes (env "+envVarMaxMessageBytes+")")
	fs.IntVar(&maxMessagesPerSecond, "max-messages-per-second", maxMessagesPerSecond, "Max inbound signaling messages per second per connection (env "+envVarMaxMessagesPerSecond+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	// When mode was set but log format/level were not, the mode decides them.
	if !logFormatExplicit && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !logLevelExplicit && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if maxClientsPerRoom <= 0 {
		return Config{}, fmt.Errorf("%s/--max-clients-per-room must be > 0", envVarMaxClientsPerRoom)
	}
	if maxRoomNameBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-room-name-bytes must be > 0", envVarMaxRoomNameBytes)
	}
	if maxPasswordBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-password-bytes must be > 0", envVarMaxPasswordBytes)
	}
	if wsIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-idle-timeout must be > 0", envVarWSIdleTimeout)
	}
	if wsPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-ping-interval must be > 0", envVarWSPingInterval)
	}
	if wsPingInterval >= wsIdleTimeout {
		return Config{}, fmt.Errorf("%s/--ws-ping-interval must be < %s/--ws-idle-timeout", envVarWSPingInterval, envVarWSIdleTimeout)
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-message-bytes must be > 0", envVarMaxMessageBytes)
	}
	if maxMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-messages-per-second must be > 0", envVarMaxMessagesPerSecond)
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}

	return Config{
		ListenAddr:      listenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		AllowedOrigins:  allowedOrigins,

		MaxClientsPerRoom: maxClientsPerRoom,
		MaxRooms:          maxRooms,
		MaxRoomNameBytes:  maxRoomNameBytes,
		MaxPasswordBytes:  maxPasswordBytes,

		WSIdleTimeout:        wsIdleTimeout,
		WSPingInterval:       wsPingInterval,
		MaxMessageBytes:      maxMessageBytes,
		MaxMessagesPerSecond: maxMessagesPerSecond,
	}, nil
}

// scanConfigFlag finds --config/-config in args without a full flag parse.
func scanConfigFlag(args []string) (string, bool) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return "", false
		}
		name, value, hasValue := strings.Cut(arg, "=")
		if name != "--config" && name != "-config" {
			continue
		}
		if hasValue {
			return value, true
		}
		if i+1 < len(args) {
			return args[i+1], true
		}
		return "", false
	}
	return "", false
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func stringDefault(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func intSetting(lookup func(string) (string, bool), key string, fileValue *int, fallback int) (int, error) {
	out := fallback
	if fileValue != nil {
		out = *fileValue
	}
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return out, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func durationSetting(lookup func(string) (string, bool), key, fileValue string, fallback time.Duration) (time.Duration, error) {
	out := fallback
	if strings.TrimSpace(fileValue) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(fileValue))
		if err != nil {
			return 0, fmt.Errorf("invalid %s in config file: %w", key, err)
		}
		out = d
	}
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return out, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}
		normalized, _, ok := origin.Normalize(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}
