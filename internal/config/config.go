package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/kvlet/internal/logger"
	"github.com/loykin/kvlet/internal/notify"
	"github.com/loykin/kvlet/internal/record"
)

// DatabaseFile is the store file name inside Home.
const DatabaseFile = "kvlet.db"

// EnvPrefix is prepended to every environment override (KVLET_NOTIFY_TIMEOUT).
const EnvPrefix = "KVLET"

// Config is the resolved kvlet configuration. It is loaded once at startup
// and passed explicitly to the components that need it.
type Config struct {
	Home    string        `toml:"home" mapstructure:"home"`
	DSN     string        `toml:"dsn" mapstructure:"dsn"`
	Notify  NotifyConfig  `toml:"notify" mapstructure:"notify"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
}

type NotifyConfig struct {
	Timeout            time.Duration `toml:"timeout" mapstructure:"timeout"`
	UserAgent          string        `toml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes       int64         `toml:"max_body_bytes" mapstructure:"max_body_bytes"`
	CACert             string        `toml:"ca_cert" mapstructure:"ca_cert"`
	InsecureSkipVerify bool          `toml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	File       string `toml:"file" mapstructure:"file"`
	Stderr     bool   `toml:"stderr" mapstructure:"stderr"`
	Color      bool   `toml:"color" mapstructure:"color"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// HistoryConfig selects an optional history sink. An empty DSN disables it.
type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type ServerConfig struct {
	Listen   string    `toml:"listen" mapstructure:"listen"`
	BasePath string    `toml:"base_path" mapstructure:"base_path"`
	Metrics  bool      `toml:"metrics" mapstructure:"metrics"`
	TLS      TLSConfig `toml:"tls" mapstructure:"tls"`
}

// TLSConfig enables HTTPS for serve. CertFile/KeyFile win over Dir; with
// AutoGenerate a self-signed pair is written to Dir when it is missing.
type TLSConfig struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("home", ".")
	v.SetDefault("dsn", "")
	v.SetDefault("notify.timeout", notify.DefaultTimeout.String())
	v.SetDefault("notify.user_agent", notify.DefaultUserAgent)
	v.SetDefault("notify.max_body_bytes", notify.DefaultMaxBodyBytes)
	v.SetDefault("notify.ca_cert", "")
	v.SetDefault("notify.insecure_skip_verify", false)
	v.SetDefault("log.level", string(logger.LevelInfo))
	v.SetDefault("log.format", string(logger.FormatText))
	v.SetDefault("log.file", filepath.Join("log", "kvlet.log"))
	v.SetDefault("log.stderr", false)
	v.SetDefault("log.color", false)
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.metrics", true)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.min_version", "1.2")
}

// Default returns the built-in configuration without reading files or
// the environment.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	// defaults are static and always decode
	_ = v.Unmarshal(&c)
	return c
}

// Load resolves the configuration from defaults, the optional TOML file at
// path and KVLET_* environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, &record.ConfigError{Field: "config", Value: path, Msg: err.Error(), Err: err}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, &record.ConfigError{Field: "config", Msg: err.Error(), Err: err}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks values that would otherwise fail later at first use.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Home) == "" && strings.TrimSpace(c.DSN) == "" {
		return &record.ConfigError{Field: "home", Msg: "home or dsn must be set"}
	}
	if c.Notify.Timeout <= 0 {
		return &record.ConfigError{Field: "notify.timeout", Value: c.Notify.Timeout.String(), Msg: "must be positive"}
	}
	if c.Notify.MaxBodyBytes <= 0 {
		return &record.ConfigError{Field: "notify.max_body_bytes", Value: fmt.Sprint(c.Notify.MaxBodyBytes), Msg: "must be positive"}
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return &record.ConfigError{Field: "log.level", Value: c.Log.Level, Msg: "use debug, info, warn or error", Err: err}
	}
	if _, err := logger.ParseFormat(c.Log.Format); err != nil {
		return &record.ConfigError{Field: "log.format", Value: c.Log.Format, Msg: "use text or json", Err: err}
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return &record.ConfigError{Field: "server.base_path", Value: c.Server.BasePath, Msg: "must start with /"}
	}
	if t := c.Server.TLS; t.Enabled && (t.CertFile == "") != (t.KeyFile == "") {
		return &record.ConfigError{Field: "server.tls", Msg: "cert_file and key_file must be set together"}
	}
	if t := c.Server.TLS; t.Enabled && t.CertFile == "" && t.Dir == "" {
		return &record.ConfigError{Field: "server.tls", Msg: "set cert_file/key_file or dir"}
	}
	return nil
}

// TLSDir returns the certificate directory resolved against Home.
func (c Config) TLSDir() string {
	d := strings.TrimSpace(c.Server.TLS.Dir)
	if d == "" || filepath.IsAbs(d) {
		return d
	}
	return filepath.Join(c.Home, d)
}

// DatabaseDSN returns the store DSN: DSN when set, else <home>/kvlet.db.
func (c Config) DatabaseDSN() string {
	if d := strings.TrimSpace(c.DSN); d != "" {
		return d
	}
	return filepath.Join(c.Home, DatabaseFile)
}

// LogPath returns the log file path resolved against Home, or "" when file
// logging is disabled.
func (c Config) LogPath() string {
	f := strings.TrimSpace(c.Log.File)
	if f == "" || filepath.IsAbs(f) {
		return f
	}
	return filepath.Join(c.Home, f)
}

// LoggerConfig converts the log section for logger.New.
func (c Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      logger.Level(strings.ToLower(c.Log.Level)),
		Format:     logger.Format(strings.ToLower(c.Log.Format)),
		File:       c.LogPath(),
		Stderr:     c.Log.Stderr,
		Color:      c.Log.Color,
		TimeStamps: true,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// DispatcherConfig converts the notify section for notify.New.
func (c Config) DispatcherConfig() notify.Config {
	nc := notify.Config{
		Timeout:      c.Notify.Timeout,
		UserAgent:    c.Notify.UserAgent,
		MaxBodyBytes: c.Notify.MaxBodyBytes,
	}
	if c.Notify.CACert != "" || c.Notify.InsecureSkipVerify {
		nc.TLS = &notify.TLSConfig{CACert: c.Notify.CACert, SkipVerify: c.Notify.InsecureSkipVerify}
	}
	return nc
}
