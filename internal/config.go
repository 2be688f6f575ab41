package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/brayns/brayns_server/internal/auth"
	"github.com/brayns/brayns_server/internal/storage"
	"github.com/brayns/brayns_server/internal/upload"
	"github.com/spf13/viper"
)

const (
	DefaultConfigFile = "files/config.yaml"
	envPrefix         = "BRAYNS"
)

type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	ExternalURL    string   `mapstructure:"external_url"`
	// MaxMessageSize caps a single websocket message, in bytes.
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type DatabaseConfig struct {
	// URL is a postgres connection string. Empty keeps the upload history in memory.
	URL string `mapstructure:"url"`
}

type HistoryConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Upload   upload.Config  `mapstructure:"upload"`
	Auth     auth.Config    `mapstructure:"auth"`
	Storage  storage.Config `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	History  HistoryConfig  `mapstructure:"history"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":5000")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_message_size", 64*1024*1024)
	v.SetDefault("server.shutdown_grace", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("upload.timeout", 0)
	v.SetDefault("upload.poll_interval", time.Second)
	v.SetDefault("upload.max_size", 0)
	v.SetDefault("upload.binary_format", upload.BinaryFormatRaw)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("storage.type", string(storage.TypeNone))
	v.SetDefault("storage.local_path", "./files/archive")
	v.SetDefault("storage.s3_endpoint", "")
	v.SetDefault("storage.s3_bucket", "")
	v.SetDefault("storage.s3_access_key", "")
	v.SetDefault("storage.s3_secret_key", "")
	v.SetDefault("storage.s3_region", "")
	v.SetDefault("storage.s3_use_ssl", true)
	v.SetDefault("database.url", "")
	v.SetDefault("history.retention_days", 7)
}

// LoadConfig reads path, if it exists, on top of the defaults. BRAYNS_* environment
// variables override both, e.g. BRAYNS_UPLOAD_TIMEOUT=30s.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !isMissingFile(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Upload.BinaryFormat {
	case upload.BinaryFormatRaw, upload.BinaryFormatPrefixed:
	default:
		return fmt.Errorf("invalid upload.binary_format %q", c.Upload.BinaryFormat)
	}
	if c.Upload.Timeout < 0 {
		return fmt.Errorf("upload.timeout must not be negative")
	}
	switch c.Storage.Type {
	case "", storage.TypeNone, storage.TypeLocal, storage.TypeS3:
	default:
		return fmt.Errorf("invalid storage.type %q", c.Storage.Type)
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history.retention_days must not be negative")
	}
	return nil
}

func isMissingFile(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}
