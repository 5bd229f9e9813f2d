package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/xthreen/lightyear/internal/logging"
	"github.com/xthreen/lightyear/internal/netcode"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Client ClientConfig   `yaml:"client"`
	Server ServerConfig   `yaml:"server"`
	Log    logging.Config `yaml:"log"`
}

type ClientConfig struct {
	// AuthAddr is the auth endpoint (host:port). Read once at startup.
	AuthAddr      string        `yaml:"auth_addr"`
	TickRate      int           `yaml:"tick_rate"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	TrailingGrace time.Duration `yaml:"trailing_grace"`
	MetricsAddr   string        `yaml:"metrics_addr"`
	LogFile       string        `yaml:"log_file"`
}

type ServerConfig struct {
	// AuthAddr is where the token issuer listens.
	AuthAddr string `yaml:"auth_addr"`
	// SessionAddr is where the session websocket server listens.
	SessionAddr string `yaml:"session_addr"`
	// PublicAddr is the session address written into tokens. Defaults to
	// SessionAddr.
	PublicAddr     string        `yaml:"public_addr"`
	ProtocolID     uint64        `yaml:"protocol_id"`
	PrivateKey     string        `yaml:"private_key"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	TimeoutSeconds int32         `yaml:"timeout_seconds"`
	LedgerPath     string        `yaml:"ledger_path"`
}

func defaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			AuthAddr:      "127.0.0.1:4000",
			TickRate:      20,
			DialTimeout:   3 * time.Second,
			FetchTimeout:  5 * time.Second,
			TrailingGrace: 100 * time.Millisecond,
			LogFile:       "lightyear-client.log",
		},
		Server: ServerConfig{
			AuthAddr:       "0.0.0.0:4000",
			SessionAddr:    "127.0.0.1:5000",
			ProtocolID:     0,
			TokenTTL:       30 * time.Second,
			TimeoutSeconds: 10,
			LedgerPath:     ":memory:",
		},
		Log: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the client section.
func (c *ClientConfig) Validate() error {
	var errs []error
	if _, _, err := net.SplitHostPort(c.AuthAddr); err != nil {
		errs = append(errs, fmt.Errorf("client.auth_addr: %w", err))
	}
	if c.TickRate <= 0 || c.TickRate > 1000 {
		errs = append(errs, fmt.Errorf("client.tick_rate must be in (0, 1000], got %d", c.TickRate))
	}
	if c.DialTimeout <= 0 {
		errs = append(errs, errors.New("client.dial_timeout must be positive"))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("client.fetch_timeout must be positive"))
	}
	if c.TrailingGrace < 0 {
		errs = append(errs, errors.New("client.trailing_grace must not be negative"))
	}
	return errors.Join(errs...)
}

// TickInterval is the duration of one tick.
func (c *ClientConfig) TickInterval() time.Duration {
	if c.TickRate <= 0 {
		return 50 * time.Millisecond
	}
	return time.Second / time.Duration(c.TickRate)
}

// Validate checks the server section.
func (s *ServerConfig) Validate() error {
	var errs []error
	if _, _, err := net.SplitHostPort(s.AuthAddr); err != nil {
		errs = append(errs, fmt.Errorf("server.auth_addr: %w", err))
	}
	if _, _, err := net.SplitHostPort(s.SessionAddr); err != nil {
		errs = append(errs, fmt.Errorf("server.session_addr: %w", err))
	}
	if _, err := s.Public(); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.Key(); err != nil {
		errs = append(errs, fmt.Errorf("server.private_key: %w", err))
	}
	if s.TokenTTL < time.Second {
		errs = append(errs, errors.New("server.token_ttl must be at least 1s"))
	}
	if s.TimeoutSeconds == 0 {
		errs = append(errs, errors.New("server.timeout_seconds must not be zero"))
	}
	return errors.Join(errs...)
}

// Public returns the session address advertised in tokens.
func (s *ServerConfig) Public() (netip.AddrPort, error) {
	addr := s.PublicAddr
	if addr == "" {
		addr = s.SessionAddr
	}
	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("server.public_addr %q must be an ip:port: %w", addr, err)
	}
	if ap.Addr().IsUnspecified() {
		return netip.AddrPort{}, fmt.Errorf("server.public_addr %q must not be unspecified", addr)
	}
	return ap, nil
}

// Key decodes the private key.
func (s *ServerConfig) Key() ([netcode.KeyBytes]byte, error) {
	if s.PrivateKey == "" {
		return [netcode.KeyBytes]byte{}, errors.New("missing (generate one with `lightyear keygen`)")
	}
	return netcode.ParseKey(s.PrivateKey)
}
