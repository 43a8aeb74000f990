// Package config loads process configuration from the environment (and an
// optional .env file) into a typed struct passed to constructors.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Broker names accepted by BROKER.
const (
	BrokerLocal = "local"
	BrokerRedis = "redis"
	BrokerNATS  = "nats"
)

type Config struct {
	Port            string        `mapstructure:"port"`
	MongoURI        string        `mapstructure:"mongodb_uri"`
	MongoDatabase   string        `mapstructure:"mongodb_database"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	JWTKeys         string        `mapstructure:"jwt_keys"`
	JWTActiveKid    string        `mapstructure:"jwt_active_kid"`
	JWTTTL          time.Duration `mapstructure:"jwt_ttl"`
	JWTRefreshTTL   time.Duration `mapstructure:"jwt_refresh_ttl"`
	RateLimitRPM    int           `mapstructure:"rate_limit_rpm"`
	MessageRPM      int           `mapstructure:"message_rate_limit_rpm"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	CORSOrigins     string        `mapstructure:"cors_origins"`
	TLSCert         string        `mapstructure:"tls_cert"`
	TLSKey          string        `mapstructure:"tls_key"`
	RequireTLS      bool          `mapstructure:"require_tls"`
	HealthGRPCPort  string        `mapstructure:"health_grpc_port"`
	Broker          string        `mapstructure:"broker"`
	RedisURL        string        `mapstructure:"redis_url"`
	NATSURL         string        `mapstructure:"nats_url"`
	EnforceMembers  bool          `mapstructure:"enforce_membership"`
	LogLevel        string        `mapstructure:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

var defaults = map[string]any{
	"port":                   "5000",
	"mongodb_uri":            "",
	"mongodb_database":       "koomind",
	"jwt_secret":             "",
	"jwt_keys":               "",
	"jwt_active_kid":         "",
	"jwt_ttl":                "24h",
	"jwt_refresh_ttl":        "168h",
	"rate_limit_rpm":         10,
	"message_rate_limit_rpm": 120,
	"request_timeout":        "10s",
	"cors_origins":           "http://localhost:3000",
	"tls_cert":               "",
	"tls_key":                "",
	"require_tls":            false,
	"health_grpc_port":       "50051",
	"broker":                 BrokerLocal,
	"redis_url":              "",
	"nats_url":               "",
	"enforce_membership":     false,
	"log_level":              "info",
	"shutdown_timeout":       "10s",
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings and cross-field constraints.
func (c *Config) Validate() error {
	if c.MongoURI == "" {
		return errors.New("config: MONGODB_URI must be set")
	}
	if c.JWTKeys == "" && c.JWTSecret == "" {
		return errors.New("config: either JWT_SECRET or JWT_KEYS must be set")
	}
	if c.JWTKeys != "" {
		if _, err := ParseKeys(c.JWTKeys); err != nil {
			return err
		}
	}
	if c.RequireTLS && !c.TLSEnabled() {
		return errors.New("config: REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	switch c.Broker {
	case BrokerLocal:
	case BrokerRedis:
		if c.RedisURL == "" {
			return errors.New("config: BROKER=redis requires REDIS_URL")
		}
	case BrokerNATS:
		if c.NATSURL == "" {
			return errors.New("config: BROKER=nats requires NATS_URL")
		}
	default:
		return fmt.Errorf("config: unknown BROKER %q", c.Broker)
	}
	return nil
}

// TLSEnabled reports whether both certificate and key are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// Origins returns the configured CORS origins.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// ParseKeys parses JWT_KEYS in the form kid:secret,kid2:secret2.
func ParseKeys(raw string) (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(raw, ",") {
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("config: invalid JWT_KEYS entry: %s", p)
		}
		keys[parts[0]] = parts[1]
	}
	if len(keys) == 0 {
		return nil, errors.New("config: JWT_KEYS has no entries")
	}
	return keys, nil
}
