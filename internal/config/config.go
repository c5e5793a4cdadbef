package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transports a peer can use to reach its room.
const (
	TransportWebsocket = "ws"
	TransportRedis     = "redis"
	TransportMemory    = "memory"
)

// Role selects which settings Validate requires.
type Role string

// Roles.
const (
	RoleRelay Role = "relay"
	RolePeer  Role = "peer"
)

// Errors returned by Load and Validate.
var (
	ErrMissingSecret    = errors.New("config: BOARD_AUTH_SECRET is not set")
	ErrMissingRelayURL  = errors.New("config: BOARD_RELAY_URL is not set")
	ErrMissingRedisAddr = errors.New("config: BOARD_REDIS_ADDR is not set")
	ErrUnknownTransport = errors.New("config: unknown transport")
	ErrInvalidValue     = errors.New("config: invalid value")
)

// Config holds settings shared by the relay and peer binaries.
type Config struct {
	Addr             string        `yaml:"addr"`
	AuthSecret       string        `yaml:"auth_secret"`
	RelayURL         string        `yaml:"relay_url"`
	AuthURL          string        `yaml:"auth_url"`
	Transport        string        `yaml:"transport"`
	RedisAddr        string        `yaml:"redis_addr"`
	Room             string        `yaml:"room"`
	HistoryLimit     int           `yaml:"history_limit"`
	FlushInterval    time.Duration `yaml:"flush_interval"`
	ClientEventRate  float64       `yaml:"client_event_rate"`
	ClientEventBurst int           `yaml:"client_event_burst"`
	LogLevel         string        `yaml:"log_level"`
	MDNS             bool          `yaml:"mdns"`
	IdentityFile     string        `yaml:"identity_file"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Addr:             ":8080",
		Transport:        TransportWebsocket,
		Room:             "lobby",
		HistoryLimit:     10000,
		FlushInterval:    120 * time.Millisecond,
		ClientEventRate:  10,
		ClientEventBurst: 20,
		LogLevel:         "INFO",
	}
}

// Load builds the configuration from defaults, the YAML file named by
// BOARD_CONFIG if any, and BOARD_* environment variables, in that order.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("BOARD_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = deriveAuthURL(cfg.RelayURL)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"BOARD_ADDR":          &c.Addr,
		"BOARD_AUTH_SECRET":   &c.AuthSecret,
		"BOARD_RELAY_URL":     &c.RelayURL,
		"BOARD_AUTH_URL":      &c.AuthURL,
		"BOARD_TRANSPORT":     &c.Transport,
		"BOARD_REDIS_ADDR":    &c.RedisAddr,
		"BOARD_ROOM":          &c.Room,
		"BOARD_LOG_LEVEL":     &c.LogLevel,
		"BOARD_IDENTITY_FILE": &c.IdentityFile,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	var errs []error
	if v := os.Getenv("BOARD_HISTORY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("%w: BOARD_HISTORY_LIMIT=%q", ErrInvalidValue, v))
		} else {
			c.HistoryLimit = n
		}
	}
	if v := os.Getenv("BOARD_FLUSH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%w: BOARD_FLUSH_INTERVAL=%q", ErrInvalidValue, v))
		} else {
			c.FlushInterval = d
		}
	}
	if v := os.Getenv("BOARD_CLIENT_EVENT_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			errs = append(errs, fmt.Errorf("%w: BOARD_CLIENT_EVENT_RATE=%q", ErrInvalidValue, v))
		} else {
			c.ClientEventRate = f
		}
	}
	if v := os.Getenv("BOARD_MDNS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: BOARD_MDNS=%q", ErrInvalidValue, v))
		} else {
			c.MDNS = b
		}
	}
	return errors.Join(errs...)
}

// Validate reports the settings role needs but does not have.
func (c *Config) Validate(role Role) error {
	switch role {
	case RoleRelay:
		if c.AuthSecret == "" {
			return ErrMissingSecret
		}
	case RolePeer:
		switch c.Transport {
		case TransportWebsocket:
			if c.RelayURL == "" {
				return ErrMissingRelayURL
			}
		case TransportRedis:
			if c.RedisAddr == "" {
				return ErrMissingRedisAddr
			}
		case TransportMemory:
		default:
			return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport)
		}
	}
	return nil
}

// SetRelay points the peer at a relay websocket URL and derives the
// authorize endpoint unless one was configured.
func (c *Config) SetRelay(relayURL string) {
	c.RelayURL = relayURL
	if c.AuthURL == "" {
		c.AuthURL = deriveAuthURL(relayURL)
	}
}

// Level maps LogLevel onto a slog level, defaulting to info.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// deriveAuthURL turns ws://host/ws into http://host/api/auth.
func deriveAuthURL(relayURL string) string {
	if relayURL == "" {
		return ""
	}
	u, err := url.Parse(relayURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = "/api/auth"
	u.RawQuery = ""
	return u.String()
}
