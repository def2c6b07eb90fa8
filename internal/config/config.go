package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            string        `mapstructure:"port" yaml:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"`
}

// DatabaseConfig holds the SQLite settings.
type DatabaseConfig struct {
	Path         string `mapstructure:"path" yaml:"path"`
	LogLevel     string `mapstructure:"log_level" yaml:"log_level"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
}

// UploadConfig controls where uploaded files and plugin working directories live.
type UploadConfig struct {
	Dir     string `mapstructure:"dir" yaml:"dir"`
	MaxSize int64  `mapstructure:"max_size" yaml:"max_size"`
}

type JWTConfig struct {
	Secret   string        `mapstructure:"secret" yaml:"secret"`
	Issuer   string        `mapstructure:"issuer" yaml:"issuer"`
	Audience string        `mapstructure:"audience" yaml:"audience"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
	// CacheTTL bounds how long a verified token is trusted without re-checking
	// its signature. Zero disables the cache.
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// TaskTypesConfig lists plugin ids that are registered but start disabled.
type TaskTypesConfig struct {
	Disabled []string `mapstructure:"disabled" yaml:"disabled"`
}

// SeedUser is created at startup when no user with the same username exists.
type SeedUser struct {
	Username string   `mapstructure:"username" yaml:"username"`
	Password string   `mapstructure:"password" yaml:"password"`
	Roles    []string `mapstructure:"roles" yaml:"roles"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Upload    UploadConfig    `mapstructure:"upload" yaml:"upload"`
	JWT       JWTConfig       `mapstructure:"jwt" yaml:"jwt"`
	TaskTypes TaskTypesConfig `mapstructure:"task_types" yaml:"task_types"`
	SeedUsers []SeedUser      `mapstructure:"seed_users" yaml:"seed_users"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8008")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("database.path", "crowdtask.db")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("upload.dir", "uploads")
	v.SetDefault("upload.max_size", 32<<20)
	v.SetDefault("jwt.secret", "your-secret-key-change-in-production")
	v.SetDefault("jwt.issuer", "crowdtask-api")
	v.SetDefault("jwt.audience", "crowdtask-clients")
	v.SetDefault("jwt.ttl", 24*time.Hour)
	v.SetDefault("jwt.cache_ttl", 5*time.Minute)
	v.SetDefault("task_types.disabled", []string{})
	v.SetDefault("seed_users", []SeedUser{})
}

// Load reads configuration from the given YAML file and from CROWD_* environment
// variables (CROWD_JWT_SECRET overrides jwt.secret). An empty path or a missing
// file yields the defaults.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CROWD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			var pathErr *os.PathError
			if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Upload.MaxSize <= 0 {
		return nil, fmt.Errorf("upload.max_size must be positive")
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt.secret must not be empty")
	}
	return cfg, nil
}

// IsDisabled reports whether the task type id is listed in task_types.disabled.
func (c *AppConfig) IsDisabled(id string) bool {
	for _, d := range c.TaskTypes.Disabled {
		if d == id {
			return true
		}
	}
	return false
}
