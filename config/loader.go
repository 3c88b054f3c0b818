// Package config provides Viper configuration loading for qualifyr.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ArcaView/qualifyr/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	// JSONLogFormat indicates JSON log format.
	JSONLogFormat = "json"
	// TextLogFormat indicates text log format.
	TextLogFormat = "text"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Format     string        `mapstructure:"format"`
	Level      zerolog.Level `mapstructure:"level"`
	WithCaller bool          `mapstructure:"with_caller"`
}

// SessionConfig holds browser session cookie configuration.
type SessionConfig struct {
	AuthenticationKey string        `mapstructure:"authentication_key"`
	EncryptionKey     string        `mapstructure:"encryption_key"`
	CookieName        string        `mapstructure:"cookie_name"`
	CookieExpiry      time.Duration `mapstructure:"cookie_expiry"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path              string `mapstructure:"path"`
	WriteAheadLog     bool   `mapstructure:"write_ahead_log"`
	WALAutoCheckPoint int    `mapstructure:"wal_auto_check_point"`
}

// RedisConfig holds Redis configuration for background tasks.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds background worker configuration.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// OIDCConfig holds OIDC authentication configuration.
type OIDCConfig struct {
	Issuer       string        `mapstructure:"issuer"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Scopes       []string      `mapstructure:"scopes"`
	Expiry       time.Duration `mapstructure:"expiry"`
}

// ToTypes converts to the auth layer's provider configuration.
func (c OIDCConfig) ToTypes() types.OIDCConfig {
	return types.OIDCConfig{
		Issuer:       c.Issuer,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Scopes:       c.Scopes,
		Expiry:       c.Expiry,
	}
}

// BrokerConfig holds the impersonation policy knobs.
type BrokerConfig struct {
	// SessionTTL bounds how long an approved session stays active.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	// SweepInterval is how often the expiry sweeper runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// PendingTimeout rejects requests that sit unanswered this long.
	// Zero disables the timeout.
	PendingTimeout time.Duration `mapstructure:"pending_timeout"`
}

// Config holds the full qualifyr configuration.
type Config struct {
	ListenAddr   string `mapstructure:"listen_addr"`
	AdvertiseURL string `mapstructure:"advertise_url"`

	Session  SessionConfig  `mapstructure:"session"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	OIDC     OIDCConfig     `mapstructure:"oidc"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Logging  LogConfig      `mapstructure:"logging"`
}

const envPrefix = "QUALIFYR"

// Load reads configuration from file and environment variables. If
// configPath is empty, default paths are searched; if isFile is true,
// configPath is treated as a direct file path.
func Load(configPath string, isFile bool) error {
	log.Debug().Msg("Loading configuration")

	if isFile {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		if configPath == "" {
			viper.AddConfigPath("/etc/qualifyr/")
			viper.AddConfigPath("$HOME/.qualifyr")
			viper.AddConfigPath(".")
		} else {
			viper.AddConfigPath(configPath)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("database.write_ahead_log", true)
	viper.SetDefault("database.wal_auto_check_point", 1000)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("worker.concurrency", 10)
	viper.SetDefault("session.cookie_name", "qualifyr_session")
	viper.SetDefault("session.cookie_expiry", 24*time.Hour)
	viper.SetDefault("oidc.scopes", []string{"openid", "email", "profile"})
	viper.SetDefault("broker.session_ttl", 30*time.Minute)
	viper.SetDefault("broker.sweep_interval", 30*time.Second)
	viper.SetDefault("broker.pending_timeout", time.Duration(0))
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", TextLogFormat)
	viper.SetDefault("logging.with_caller", false)

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	log.Debug().
		Str("config_file", viper.ConfigFileUsed()).
		Msg("Configuration loaded")

	return nil
}

// GetLogConfig returns the logging configuration from Viper.
func GetLogConfig() LogConfig {
	logLevelStr := viper.GetString("logging.level")
	logLevel, err := zerolog.ParseLevel(logLevelStr)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	logFormatOpt := viper.GetString("logging.format")
	var logFormat string
	switch logFormatOpt {
	case JSONLogFormat:
		logFormat = JSONLogFormat
	case TextLogFormat, "":
		logFormat = TextLogFormat
	default:
		log.Warn().
			Str("format", logFormatOpt).
			Msg("Invalid log format, using text")
		logFormat = TextLogFormat
	}

	return LogConfig{
		Format:     logFormat,
		Level:      logLevel,
		WithCaller: viper.GetBool("logging.with_caller"),
	}
}

// Get returns the full configuration from Viper. Call after Load().
func Get() *Config {
	logConfig := GetLogConfig()
	zerolog.SetGlobalLevel(logConfig.Level)

	return &Config{
		ListenAddr:   viper.GetString("listen_addr"),
		AdvertiseURL: viper.GetString("advertise_url"),
		Logging:      logConfig,
		Database: DatabaseConfig{
			Path:              viper.GetString("database.path"),
			WriteAheadLog:     viper.GetBool("database.write_ahead_log"),
			WALAutoCheckPoint: viper.GetInt("database.wal_auto_check_point"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Worker: WorkerConfig{
			Concurrency: viper.GetInt("worker.concurrency"),
		},
		Session: SessionConfig{
			CookieName:        viper.GetString("session.cookie_name"),
			CookieExpiry:      viper.GetDuration("session.cookie_expiry"),
			AuthenticationKey: viper.GetString("session.authentication_key"),
			EncryptionKey:     viper.GetString("session.encryption_key"),
		},
		OIDC: OIDCConfig{
			ClientID:     viper.GetString("oidc.client_id"),
			ClientSecret: viper.GetString("oidc.client_secret"),
			Issuer:       viper.GetString("oidc.issuer"),
			Scopes:       viper.GetStringSlice("oidc.scopes"),
			Expiry:       viper.GetDuration("oidc.expiry"),
		},
		Broker: BrokerConfig{
			SessionTTL:     viper.GetDuration("broker.session_ttl"),
			SweepInterval:  viper.GetDuration("broker.sweep_interval"),
			PendingTimeout: viper.GetDuration("broker.pending_timeout"),
		},
	}
}

// ValidateRequired checks that required configuration fields are set.
func ValidateRequired(fields map[string]string) error {
	var missing []string
	for field, description := range fields {
		if viper.GetString(field) == "" {
			missing = append(missing, fmt.Sprintf("%s (%s)", field, description))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateSessionKeys validates that session keys are the correct length.
func ValidateSessionKeys() error {
	authKey := viper.GetString("session.authentication_key")
	encKey := viper.GetString("session.encryption_key")

	if len(authKey) != 32 {
		return fmt.Errorf("session.authentication_key must be 32 bytes, got %d", len(authKey))
	}
	if len(encKey) != 32 {
		return fmt.Errorf("session.encryption_key must be 32 bytes, got %d", len(encKey))
	}
	return nil
}
