package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Config holds all configuration for the data API service
type Config struct {
	Port        int    `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
	Server      ServerConfig
	Postgres    PostgresConfig
	IAM         IAMConfig
	RabbitMQ    RabbitMQConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PostgresConfig holds the admin database connection configuration.
// Tenant databases share host, port, and credentials with the admin
// database; only the database name differs.
type PostgresConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	AdminDatabase string `mapstructure:"admin_database"`
}

// IAMConfig holds identity service client configuration
type IAMConfig struct {
	Mode                               string `mapstructure:"mode"`
	GRPCEndpoint                       string `mapstructure:"grpc_endpoint"`
	GRPCTimeoutMS                      int    `mapstructure:"grpc_timeout_ms"`
	TokenCacheTTLSeconds               int    `mapstructure:"token_cache_ttl_seconds"`
	GRPCCircuitBreakerFailureThreshold int    `mapstructure:"grpc_circuit_breaker_failure_threshold"`
	GRPCCircuitBreakerOpenSeconds      int    `mapstructure:"grpc_circuit_breaker_open_seconds"`
	LocalJWTSecret                     string `mapstructure:"local_jwt_secret"`
}

// RabbitMQConfig holds the optional audit fanout broker configuration.
// An empty URL disables the fanout.
type RabbitMQConfig struct {
	URL            string        `mapstructure:"url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	MaxRetries     int           `mapstructure:"max_retries"`
	PrefetchCount  int           `mapstructure:"prefetch_count"`
}

// Timeout returns the IAM call timeout (connect and total)
func (c *IAMConfig) Timeout() time.Duration {
	return time.Duration(c.GRPCTimeoutMS) * time.Millisecond
}

// TokenCacheTTL returns the token verification cache TTL
func (c *IAMConfig) TokenCacheTTL() time.Duration {
	return time.Duration(c.TokenCacheTTLSeconds) * time.Second
}

// CircuitOpenDuration returns how long the breaker stays open
func (c *IAMConfig) CircuitOpenDuration() time.Duration {
	return time.Duration(c.GRPCCircuitBreakerOpenSeconds) * time.Second
}

// AdminDatabaseURL returns the connection URL of the admin database
func (c *Config) AdminDatabaseURL() string {
	return c.DatabaseURLFor(c.Postgres.AdminDatabase)
}

// DatabaseURLFor returns the connection URL for a provisioned database name
func (c *Config) DatabaseURLFor(databaseName string) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		databaseName,
	)
}

// Load loads configuration from the environment with development defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.IAM.Mode != "grpc" && cfg.IAM.Mode != "local" {
		return nil, fmt.Errorf("IAM_MODE must be grpc or local, got %q", cfg.IAM.Mode)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8081)
	v.SetDefault("environment", EnvDevelopment)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("postgres.host", "127.0.0.1")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "admin")
	v.SetDefault("postgres.admin_database", "postgres")

	v.SetDefault("iam.mode", "grpc")
	v.SetDefault("iam.grpc_endpoint", "127.0.0.1:50051")
	v.SetDefault("iam.grpc_timeout_ms", 400)
	v.SetDefault("iam.token_cache_ttl_seconds", 45)
	v.SetDefault("iam.grpc_circuit_breaker_failure_threshold", 5)
	v.SetDefault("iam.grpc_circuit_breaker_open_seconds", 30)
	v.SetDefault("iam.local_jwt_secret", "")

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.reconnect_delay", 5*time.Second)
	v.SetDefault("rabbitmq.max_retries", 5)
	v.SetDefault("rabbitmq.prefetch_count", 10)
}
