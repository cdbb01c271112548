package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppEnv          string
	AppPort         string
	ShutdownTimeout time.Duration

	// upstream chat backend
	UpstreamAPIURL    string
	UpstreamSocketURL string
	UpstreamToken     string
	UserID            string

	// reconciliation display behavior
	DisplayTimezone string
	SocketEventsRPS int

	// presence polling fallback while the socket is down
	PresencePollInterval time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret string
}

// Load reads config/config.yaml with CHATSYNC_* env overrides. A .env file
// is honored in development.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix("CHATSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8090")
	v.SetDefault("app.shutdown_timeout", "10s")
	v.SetDefault("display.timezone", "Local")
	v.SetDefault("socket.events_per_sec", 64)
	v.SetDefault("presence.poll_interval", "30s")
	v.SetDefault("redis.prefix", "chatsync")

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		AppEnv:          v.GetString("app.env"),
		AppPort:         v.GetString("app.port"),
		ShutdownTimeout: v.GetDuration("app.shutdown_timeout"),

		UpstreamAPIURL:    v.GetString("upstream.api_url"),
		UpstreamSocketURL: v.GetString("upstream.socket_url"),
		UpstreamToken:     v.GetString("upstream.token"),
		UserID:            v.GetString("upstream.user_id"),

		DisplayTimezone: v.GetString("display.timezone"),
		SocketEventsRPS: v.GetInt("socket.events_per_sec"),

		PresencePollInterval: v.GetDuration("presence.poll_interval"),

		RedisAddr:     v.GetString("redis.addr"),
		RedisPassword: v.GetString("redis.password"),
		RedisDB:       v.GetInt("redis.db"),
		RedisPrefix:   v.GetString("redis.prefix"),

		KafkaBrokers: v.GetStringSlice("kafka.brokers"),
		KafkaTopic:   v.GetString("kafka.topic"),

		JWTSecret: v.GetString("jwt.secret"),
	}

	if cfg.UpstreamAPIURL == "" {
		return nil, fmt.Errorf("upstream.api_url is required")
	}
	if cfg.UpstreamSocketURL == "" {
		return nil, fmt.Errorf("upstream.socket_url is required")
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("upstream.user_id is required")
	}
	return cfg, nil
}

func (c *Config) Development() bool {
	return c.AppEnv != "production"
}

// Location resolves the configured display timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.DisplayTimezone == "" || c.DisplayTimezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.DisplayTimezone)
}
