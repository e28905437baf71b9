package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port            int              `json:"port"`
	JWTSecret       string           `json:"jwt_secret"`
	JWTIssuer       string           `json:"jwt_issuer"`
	FallbackTTLHour int              `json:"fallback_token_ttl_hours"`
	AppName         string           `json:"app_name"`
	CORSOrigins     []string         `json:"cors_origins"`
	TrustedProxies  []string         `json:"trusted_proxies"`
	LogConfig       logger.LogConfig `json:"log_config"`
	Database        DatabaseConfig   `json:"database"`
	Mail            MailConfig       `json:"mail"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
	Fallback        FallbackConfig   `json:"fallback"`
	Activity        ActivityConfig   `json:"activity"`
	Jobs            JobsConfig       `json:"jobs"`
}

type DatabaseConfig struct {
	DSN            string `json:"dsn"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	User           string `json:"user"`
	Password       string `json:"password"`
	DBName         string `json:"dbname"`
	SSLMode        string `json:"sslmode"`
	ProbeTimeoutMS int    `json:"probe_timeout_ms"`
	MaxOpenConns   int    `json:"max_open_conns"`
}

type MailConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
	ReplyTo  string `json:"reply_to"`
}

type RateLimitConfig struct {
	Store           string      `json:"store"`
	SweepIntervalS  int         `json:"sweep_interval_seconds"`
	Redis           RedisConfig `json:"redis"`
	FailOpenToLocal bool        `json:"fail_open_to_local"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

type FallbackConfig struct {
	AdminEmail       string `json:"admin_email"`
	AdminPassword    string `json:"admin_password"`
	AdminDisplayName string `json:"admin_display_name"`
	AdminNotifyEmail string `json:"admin_notify_email"`
	OTPSecret        string `json:"otp_secret"`
	MaxPendingUsers  int    `json:"max_pending_users"`
}

type ActivityConfig struct {
	Sink       string      `json:"sink"`
	BufferSize int         `json:"buffer_size"`
	DropIfFull bool        `json:"drop_if_full"`
	Kafka      KafkaConfig `json:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

type JobsConfig struct {
	VerificationPurgeSpec string `json:"verification_purge_spec"`
	SessionPurgeSpec      string `json:"session_purge_spec"`
}

// Load reads the JSON config at path. A .env file next to the process, if
// present, is loaded first so HUBAUTH_* variables can carry secrets that
// should not live in the config file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := map[string]*string{
		"HUBAUTH_JWT_SECRET":              &cfg.JWTSecret,
		"HUBAUTH_DATABASE_DSN":            &cfg.Database.DSN,
		"HUBAUTH_DATABASE_PASSWORD":       &cfg.Database.Password,
		"HUBAUTH_MAIL_PASSWORD":           &cfg.Mail.Password,
		"HUBAUTH_REDIS_PASSWORD":          &cfg.RateLimit.Redis.Password,
		"HUBAUTH_FALLBACK_ADMIN_EMAIL":    &cfg.Fallback.AdminEmail,
		"HUBAUTH_FALLBACK_ADMIN_PASSWORD": &cfg.Fallback.AdminPassword,
		"HUBAUTH_FALLBACK_OTP_SECRET":     &cfg.Fallback.OTPSecret,
	}
	for key, dst := range overrides {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
}

func (cfg *Config) validate() error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.ProbeTimeoutMS <= 0 {
		cfg.Database.ProbeTimeoutMS = 1500
	}
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "hubauth"
	}
	if cfg.FallbackTTLHour <= 0 {
		cfg.FallbackTTLHour = 12
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	cfg.RateLimit.Store = strings.ToLower(strings.TrimSpace(cfg.RateLimit.Store))
	switch cfg.RateLimit.Store {
	case "":
		cfg.RateLimit.Store = "memory"
	case "memory":
	case "redis":
		if cfg.RateLimit.Redis.Addr == "" {
			return fmt.Errorf("rate_limit.redis.addr is required for redis store")
		}
	default:
		return fmt.Errorf("rate_limit.store must be memory or redis")
	}
	if cfg.RateLimit.SweepIntervalS <= 0 {
		cfg.RateLimit.SweepIntervalS = 60
	}
	if (cfg.Fallback.AdminEmail == "") != (cfg.Fallback.AdminPassword == "") {
		return fmt.Errorf("fallback.admin_email and fallback.admin_password must be set together")
	}
	if cfg.Activity.Sink == "" {
		cfg.Activity.Sink = "db"
	}
	if cfg.Activity.BufferSize <= 0 {
		cfg.Activity.BufferSize = 256
	}
	if cfg.Activity.Sink == "kafka" && (len(cfg.Activity.Kafka.Brokers) == 0 || cfg.Activity.Kafka.Topic == "") {
		return fmt.Errorf("activity.kafka brokers/topic are required for kafka sink")
	}
	if cfg.Jobs.VerificationPurgeSpec == "" {
		cfg.Jobs.VerificationPurgeSpec = "*/15 * * * *"
	}
	if cfg.Jobs.SessionPurgeSpec == "" {
		cfg.Jobs.SessionPurgeSpec = "7 * * * *"
	}
	if cfg.Fallback.MaxPendingUsers <= 0 {
		cfg.Fallback.MaxPendingUsers = 1000
	}
	for _, item := range cfg.TrustedProxies {
		if net.ParseIP(item) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(item); err != nil {
			return fmt.Errorf("trusted_proxies: invalid entry %q", item)
		}
	}
	return nil
}
