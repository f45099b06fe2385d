package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/trickstertwo/tincan/adapter/redis"
)

// envPrefix namespaces environment overrides, e.g. TINCAN_REDIS_ADDR.
const envPrefix = "TINCAN"

// Config is the launcher configuration.
type Config struct {
	Namespace    string              `mapstructure:"namespace"`
	ClientName   string              `mapstructure:"client_name"`
	Store        string              `mapstructure:"store"`
	Redis        RedisConfig         `mapstructure:"redis"`
	ListenTo     map[string][]string `mapstructure:"listen_to"`
	BlockTimeout time.Duration       `mapstructure:"block_timeout"`
	MessageTTL   time.Duration       `mapstructure:"message_ttl"`
}

type RedisConfig struct {
	Addr          string        `mapstructure:"addr"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	TLS           bool          `mapstructure:"tls"`
	TLSServerName string        `mapstructure:"tls_server_name"`
	PoolSize      int           `mapstructure:"pool_size"`
	MinIdleConns  int           `mapstructure:"min_idle_conns"`
	MaxRetries    int           `mapstructure:"max_retries"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
}

// storeConfig converts the redis section into the store factory map.
func (c Config) storeConfig() map[string]any {
	return map[string]any{
		"addr":            c.Redis.Addr,
		"username":        c.Redis.Username,
		"password":        c.Redis.Password,
		"db":              c.Redis.DB,
		"tls":             c.Redis.TLS,
		"tls_server_name": c.Redis.TLSServerName,
		"pool_size":       c.Redis.PoolSize,
		"min_idle_conns":  c.Redis.MinIdleConns,
		"max_retries":     c.Redis.MaxRetries,
		"dial_timeout":    c.Redis.DialTimeout,
	}
}

func setDefaults(v *viper.Viper) {
	rd := redis.Defaults()
	v.SetDefault("namespace", "tincan")
	v.SetDefault("client_name", "")
	v.SetDefault("store", redis.StoreName)
	v.SetDefault("redis.addr", rd.Addr)
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", rd.DB)
	v.SetDefault("redis.tls", rd.TLS)
	v.SetDefault("redis.tls_server_name", "")
	v.SetDefault("redis.pool_size", rd.PoolSize)
	v.SetDefault("redis.min_idle_conns", rd.MinIdleConns)
	v.SetDefault("redis.max_retries", rd.MaxRetries)
	v.SetDefault("redis.dial_timeout", rd.DialTimeout)
	v.SetDefault("block_timeout", 5*time.Second)
	v.SetDefault("message_ttl", time.Duration(0))
}

// loadConfig reads the dotenv file, then the YAML config, then TINCAN_*
// environment overrides. An explicit path or env file must exist; the
// default locations are optional.
func loadConfig(path, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("tincan")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tincan")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings the listen command needs.
func (c Config) Validate() error {
	if c.ClientName == "" {
		return fmt.Errorf("config: client_name required")
	}
	if len(c.ListenTo) == 0 {
		return fmt.Errorf("config: listen_to must name at least one channel")
	}
	for ch, names := range c.ListenTo {
		if len(names) == 0 {
			return fmt.Errorf("config: listen_to.%s has no handlers", ch)
		}
	}
	if c.BlockTimeout < 0 {
		return fmt.Errorf("config: block_timeout must be >= 0, got %v", c.BlockTimeout)
	}
	return nil
}
