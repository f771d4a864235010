package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable the client reads.
const EnvPrefix = "LIARSPOKER_"

// Config represents the complete client configuration
type Config struct {
	Server      ServerConfig
	Player      PlayerConfig
	Diagnostics DiagnosticsConfig
}

// ServerConfig contains server connection settings
type ServerConfig struct {
	URL               string `hcl:"url,optional"`
	HandshakeTimeout  int    `hcl:"handshake_timeout,optional"`  // seconds
	WriteTimeout      int    `hcl:"write_timeout,optional"`      // seconds
	PingInterval      int    `hcl:"ping_interval,optional"`      // seconds
	ReconnectAttempts int    `hcl:"reconnect_attempts,optional"` // retries after a drop
	ReconnectDelay    int    `hcl:"reconnect_delay_ms,optional"`
	RoomCreateTimeout int    `hcl:"room_create_timeout,optional"` // seconds
}

// PlayerConfig contains player settings
type PlayerConfig struct {
	Name  string `hcl:"name,optional"`
	Token string `hcl:"token,optional"`
}

// DiagnosticsConfig sizes the diagnostic buffers and sets the log level
type DiagnosticsConfig struct {
	LogLevel          string `hcl:"log_level,optional"`
	BufferSize        int    `hcl:"buffer_size,optional"`
	TimelineRetention int    `hcl:"timeline_retention,optional"`
	ExportPath        string `hcl:"export_path,optional"`
}

// fileConfig is the on-disk shape; every block is optional.
type fileConfig struct {
	Server      *ServerConfig      `hcl:"server,block"`
	Player      *PlayerConfig      `hcl:"player,block"`
	Diagnostics *DiagnosticsConfig `hcl:"diagnostics,block"`
}

// DefaultConfig returns the default client configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:               "http://localhost:8080",
			HandshakeTimeout:  10,
			WriteTimeout:      10,
			PingInterval:      54,
			ReconnectAttempts: 5,
			ReconnectDelay:    1000,
			RoomCreateTimeout: 5,
		},
		Diagnostics: DiagnosticsConfig{
			LogLevel:          "warn",
			BufferSize:        500,
			TimelineRetention: 200,
		},
	}
}

// LoadConfig loads configuration from an HCL file. A missing file yields
// the defaults.
func LoadConfig(filename string) (*Config, error) {
	config := DefaultConfig()
	if filename == "" {
		return config, nil
	}
	if _, err := os.Stat(filename); errors.Is(err, fs.ErrNotExist) {
		return config, nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var fc fileConfig
	diags = gohcl.DecodeBody(file.Body, nil, &fc)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	config.merge(fc)
	return config, nil
}

// merge applies every non-zero value of fc over c
func (c *Config) merge(fc fileConfig) {
	if s := fc.Server; s != nil {
		setString(&c.Server.URL, s.URL)
		setInt(&c.Server.HandshakeTimeout, s.HandshakeTimeout)
		setInt(&c.Server.WriteTimeout, s.WriteTimeout)
		setInt(&c.Server.PingInterval, s.PingInterval)
		setInt(&c.Server.ReconnectAttempts, s.ReconnectAttempts)
		setInt(&c.Server.ReconnectDelay, s.ReconnectDelay)
		setInt(&c.Server.RoomCreateTimeout, s.RoomCreateTimeout)
	}
	if p := fc.Player; p != nil {
		setString(&c.Player.Name, p.Name)
		setString(&c.Player.Token, p.Token)
	}
	if d := fc.Diagnostics; d != nil {
		setString(&c.Diagnostics.LogLevel, d.LogLevel)
		setInt(&c.Diagnostics.BufferSize, d.BufferSize)
		setInt(&c.Diagnostics.TimelineRetention, d.TimelineRetention)
		setString(&c.Diagnostics.ExportPath, d.ExportPath)
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// LoadEnv overlays LIARSPOKER_* variables onto c. Values from the given
// .env files are used only where the process environment has none.
// Missing .env files are ignored.
func (c *Config) LoadEnv(files ...string) error {
	fromFiles := map[string]string{}
	for _, f := range files {
		values, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", f, err)
		}
		for k, v := range values {
			if _, ok := fromFiles[k]; !ok {
				fromFiles[k] = v
			}
		}
	}

	return c.ApplyEnv(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fromFiles[key]
		return v, ok
	})
}

// ApplyEnv overlays the variables found by lookup onto c.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("SERVER_URL", &c.Server.URL)
	str("PLAYER_NAME", &c.Player.Name)
	str("TOKEN", &c.Player.Token)
	str("LOG_LEVEL", &c.Diagnostics.LogLevel)
	str("DIAGNOSTICS_EXPORT", &c.Diagnostics.ExportPath)

	return errors.Join(
		num("RECONNECT_ATTEMPTS", &c.Server.ReconnectAttempts),
		num("RECONNECT_DELAY_MS", &c.Server.ReconnectDelay),
		num("DIAGNOSTICS_BUFFER", &c.Diagnostics.BufferSize),
	)
}

// Validate validates the client configuration
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server URL is required")
	}
	if _, err := WebsocketURL(c.Server.URL); err != nil {
		return err
	}
	if c.Server.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.Server.PingInterval <= 0 {
		return fmt.Errorf("ping interval must be positive")
	}
	if c.Server.ReconnectAttempts < 0 {
		return fmt.Errorf("reconnect attempts cannot be negative")
	}
	if c.Server.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive")
	}
	if c.Server.RoomCreateTimeout <= 0 {
		return fmt.Errorf("room create timeout must be positive")
	}
	if c.Diagnostics.BufferSize <= 0 {
		return fmt.Errorf("diagnostics buffer size must be positive")
	}
	if c.Diagnostics.TimelineRetention <= 0 {
		return fmt.Errorf("timeline retention must be positive")
	}
	if _, err := log.ParseLevel(c.Diagnostics.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Diagnostics.LogLevel)
	}
	return nil
}

// LogLevel returns the parsed log level, falling back to warn.
func (c *Config) LogLevel() log.Level {
	level, err := log.ParseLevel(c.Diagnostics.LogLevel)
	if err != nil {
		return log.WarnLevel
	}
	return level
}

// RoomCreateTimeout returns how long a room creation may stay unanswered.
func (c *Config) RoomCreateTimeout() time.Duration {
	return time.Duration(c.Server.RoomCreateTimeout) * time.Second
}

// ManagerOptions returns connection manager options for this configuration.
// Clock, logger and auth header are left for the caller.
func (c *Config) ManagerOptions() Options {
	return Options{
		URL:               c.Server.URL,
		ReconnectAttempts: c.Server.ReconnectAttempts,
		ReconnectDelay:    time.Duration(c.Server.ReconnectDelay) * time.Millisecond,
		HandshakeTimeout:  time.Duration(c.Server.HandshakeTimeout) * time.Second,
		WriteTimeout:      time.Duration(c.Server.WriteTimeout) * time.Second,
		PingInterval:      time.Duration(c.Server.PingInterval) * time.Second,
	}
}
