// Package config provides Viper-based configuration loading for the matchmaking server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ListenerConfig holds the client-facing TCP listener settings.
type ListenerConfig struct {
	// Host is the bind address for the matchmaking listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the matchmaking listener. Zero picks an ephemeral port.
	Port int `mapstructure:"port"`
	// ReadTimeout disconnects a session that sends nothing for this long. Zero disables it.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-line write deadline.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// OutboxSize is the number of outbound lines buffered per session.
	OutboxSize int `mapstructure:"outbox_size"`
}

// Addr returns the "host:port" listen address for the given port.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (l ListenerConfig) Addr(port int) string {
	return fmt.Sprintf("%s:%d", l.Host, port)
}

// MatchmakingConfig holds scheduler and room policy settings.
type MatchmakingConfig struct {
	// ScenesFile is the path to the YAML scene catalog.
	ScenesFile string `mapstructure:"scenes_file"`
	// ScanInterval bounds how long the scheduler sleeps without a queue change.
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	// LegacyPairing pairs the first two sessions of a run directly. Deprecated.
	LegacyPairing bool `mapstructure:"legacy_pairing"`
	// CloseEmptyRooms closes a room once its last member is gone.
	CloseEmptyRooms bool `mapstructure:"close_empty_rooms"`
}

// RoomConfig holds per-room relay settings.
type RoomConfig struct {
	// BroadcastBuffer is the number of pending envelopes a room accepts before Publish fails.
	BroadcastBuffer int `mapstructure:"broadcast_buffer"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// Service is attached to every log entry as the "service" field.
	Service string `mapstructure:"service"`
}

// DatabaseConfig holds PostgreSQL connection settings for the stats sink.
type DatabaseConfig struct {
	// Enabled turns the stats sink on. The server runs without a database otherwise.
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// WriteTimeout bounds each stats write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// AdminConfig holds the gRPC health endpoint settings.
type AdminConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	GRPCHost string `mapstructure:"grpc_host"`
	GRPCPort int    `mapstructure:"grpc_port"`
}

// Addr returns the "host:port" gRPC address.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.GRPCHost, a.GRPCPort)
}

// Config is the top-level application configuration.
type Config struct {
	Listener    ListenerConfig    `mapstructure:"listener"`
	Matchmaking MatchmakingConfig `mapstructure:"matchmaking"`
	Room        RoomConfig        `mapstructure:"room"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Admin       AdminConfig       `mapstructure:"admin"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateListener(c.Listener); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateMatchmaking(c.Matchmaking); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Room.BroadcastBuffer < 1 {
		errs = append(errs, fmt.Sprintf("room.broadcast_buffer must be >= 1, got %d", c.Room.BroadcastBuffer))
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Database.Enabled {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if c.Admin.Enabled {
		if err := validateAdmin(c.Admin); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateListener(l ListenerConfig) error {
	var errs []string
	if l.Port < 0 || l.Port > 65535 {
		errs = append(errs, fmt.Sprintf("listener.port must be 0-65535, got %d", l.Port))
	}
	if l.ReadTimeout < 0 {
		errs = append(errs, "listener.read_timeout must not be negative")
	}
	if l.WriteTimeout < 0 {
		errs = append(errs, "listener.write_timeout must not be negative")
	}
	if l.OutboxSize < 1 {
		errs = append(errs, fmt.Sprintf("listener.outbox_size must be >= 1, got %d", l.OutboxSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateMatchmaking(m MatchmakingConfig) error {
	var errs []string
	if m.ScenesFile == "" {
		errs = append(errs, "matchmaking.scenes_file must not be empty")
	}
	if m.ScanInterval <= 0 {
		errs = append(errs, "matchmaking.scan_interval must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if d.WriteTimeout <= 0 {
		errs = append(errs, "database.write_timeout must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateAdmin(a AdminConfig) error {
	var errs []string
	if a.GRPCHost == "" {
		errs = append(errs, "admin.grpc_host must not be empty")
	}
	if a.GRPCPort < 0 || a.GRPCPort > 65535 {
		errs = append(errs, fmt.Sprintf("admin.grpc_port must be 0-65535, got %d", a.GRPCPort))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	if l.Service == "" {
		return errors.New("logging.service must not be empty")
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// Default returns the configuration built from defaults and environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Default() (Config, error) {
	return LoadFromViper(newViper())
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	// Environment variable overrides with MATCHD_ prefix
	v.SetEnvPrefix("MATCHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listener.host", "0.0.0.0")
	v.SetDefault("listener.port", 7777)
	v.SetDefault("listener.read_timeout", "0s")
	v.SetDefault("listener.write_timeout", "10s")
	v.SetDefault("listener.outbox_size", 64)

	v.SetDefault("matchmaking.scenes_file", "content/scenes.yaml")
	v.SetDefault("matchmaking.scan_interval", "250ms")
	v.SetDefault("matchmaking.legacy_pairing", true)
	v.SetDefault("matchmaking.close_empty_rooms", true)

	v.SetDefault("room.broadcast_buffer", 32)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.service", "matchd")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "matchd")
	v.SetDefault("database.password", "matchd")
	v.SetDefault("database.name", "matchd")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.write_timeout", "2s")

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.grpc_host", "127.0.0.1")
	v.SetDefault("admin.grpc_port", 7778)
}
