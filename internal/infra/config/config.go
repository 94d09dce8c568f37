package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envProduction = "production"

type AppConfig struct {
	App        AppSettings        `mapstructure:"app"`
	Postgres   PostgresSettings   `mapstructure:"postgres"`
	Redis      RedisSettings      `mapstructure:"redis"`
	Kafka      KafkaSettings      `mapstructure:"kafka"`
	JWT        JWTSettings        `mapstructure:"jwt"`
	Security   SecuritySettings   `mapstructure:"security"`
	Tokens     TokenSettings      `mapstructure:"tokens"`
	RateLimit  RateLimitSettings  `mapstructure:"rate_limit"`
	Revocation RevocationSettings `mapstructure:"revocation"`
	Telemetry  TelemetrySettings  `mapstructure:"telemetry"`
	Probe      ProbeSettings      `mapstructure:"probe"`
}

// IsProduction reports whether relaxed development behaviour must be disabled.
func (c *AppConfig) IsProduction() bool {
	return c.App.IsProduction()
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// CORSAllowedOrigins lists browser origins allowed to call the API; "*" allows any.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

func (a AppSettings) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(a.Env), envProduction)
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	RunMigrations     bool          `mapstructure:"run_migrations"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	// RateLimitPrefix namespaces the sliding-window sorted sets.
	RateLimitPrefix string `mapstructure:"rate_limit_prefix"`
}

// KafkaSettings configures the producer that hands emails to the mailer.
type KafkaSettings struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

type JWTSettings struct {
	KeyDirectory    string        `mapstructure:"key_directory"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	Issuer          string        `mapstructure:"issuer"`
	Audience        string        `mapstructure:"audience"`
}

// SecuritySettings holds hashing, lockout and password policy knobs.
type SecuritySettings struct {
	BcryptCost              int  `mapstructure:"bcrypt_cost"`
	MaxLoginAttempts        int  `mapstructure:"max_login_attempts"`
	LockoutDurationMinutes  int  `mapstructure:"lockout_duration_minutes"`
	AutoVerifyNonProduction bool `mapstructure:"auto_verify_non_production"`
	MinPasswordLength       int  `mapstructure:"min_password_length"`
	MinPasswordStrength     int  `mapstructure:"min_password_strength"`
}

func (s SecuritySettings) LockoutDuration() time.Duration {
	return time.Duration(s.LockoutDurationMinutes) * time.Minute
}

type TokenSettings struct {
	EmailVerificationTTL time.Duration `mapstructure:"email_verification_ttl"`
	PasswordResetTTL     time.Duration `mapstructure:"password_reset_ttl"`
	PurgeInterval        time.Duration `mapstructure:"purge_interval"`
}

// RateLimitRule is a fixed budget of requests per sliding window.
type RateLimitRule struct {
	Window time.Duration `mapstructure:"window"`
	Max    int           `mapstructure:"max"`
}

// RateLimitSettings configures the per-IP budgets for the auth endpoints.
type RateLimitSettings struct {
	Auth                    RateLimitRule `mapstructure:"auth"`
	PasswordReset           RateLimitRule `mapstructure:"password_reset"`
	NonProductionMultiplier int           `mapstructure:"non_production_multiplier"`
}

// Effective returns the rule budget after applying the non-production multiplier.
func (s RateLimitSettings) Effective(rule RateLimitRule, production bool) RateLimitRule {
	if production || s.NonProductionMultiplier <= 1 {
		return rule
	}
	rule.Max *= s.NonProductionMultiplier
	return rule
}

type RevocationSettings struct {
	Enabled   bool   `mapstructure:"enabled"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type TelemetrySettings struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

type ProbeSettings struct {
	TTL time.Duration `mapstructure:"ttl"`
}

var envKeys = []string{
	"app.name",
	"app.env",
	"app.host",
	"app.port",
	"app.cors_allowed_origins",
	"postgres.host",
	"postgres.port",
	"postgres.user",
	"postgres.password",
	"postgres.database",
	"postgres.ssl_mode",
	"postgres.max_conns",
	"postgres.min_conns",
	"postgres.max_conn_lifetime",
	"postgres.max_conn_idle_time",
	"postgres.health_check_period",
	"postgres.run_migrations",
	"redis.host",
	"redis.port",
	"redis.db",
	"redis.password",
	"redis.tls_enabled",
	"redis.rate_limit_prefix",
	"kafka.enabled",
	"kafka.brokers",
	"kafka.topic_prefix",
	"jwt.key_directory",
	"jwt.access_token_ttl",
	"jwt.refresh_token_ttl",
	"jwt.issuer",
	"jwt.audience",
	"security.bcrypt_cost",
	"security.max_login_attempts",
	"security.lockout_duration_minutes",
	"security.auto_verify_non_production",
	"security.min_password_length",
	"security.min_password_strength",
	"tokens.email_verification_ttl",
	"tokens.password_reset_ttl",
	"tokens.purge_interval",
	"rate_limit.auth.window",
	"rate_limit.auth.max",
	"rate_limit.password_reset.window",
	"rate_limit.password_reset.max",
	"rate_limit.non_production_multiplier",
	"revocation.enabled",
	"revocation.key_prefix",
	"telemetry.tracing_enabled",
	"telemetry.otlp_endpoint",
	"telemetry.service_name",
	"telemetry.sampling_rate",
	"probe.ttl",
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("AUTH")

	setDefaults(v)

	if err := bindEnvs(v, envKeys); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings that would silently disable a security control.
func (c *AppConfig) Validate() error {
	switch {
	case c.Security.MaxLoginAttempts <= 0:
		return fmt.Errorf("config: security.max_login_attempts must be positive")
	case c.Security.LockoutDurationMinutes <= 0:
		return fmt.Errorf("config: security.lockout_duration_minutes must be positive")
	case c.JWT.AccessTokenTTL <= 0 || c.JWT.RefreshTokenTTL <= 0:
		return fmt.Errorf("config: jwt token ttls must be positive")
	case c.Tokens.EmailVerificationTTL <= 0 || c.Tokens.PasswordResetTTL <= 0:
		return fmt.Errorf("config: ephemeral token ttls must be positive")
	case c.RateLimit.Auth.Max <= 0 || c.RateLimit.Auth.Window <= 0:
		return fmt.Errorf("config: rate_limit.auth requires positive max and window")
	case c.RateLimit.PasswordReset.Max <= 0 || c.RateLimit.PasswordReset.Window <= 0:
		return fmt.Errorf("config: rate_limit.password_reset requires positive max and window")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "campus-auth")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.cors_allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "campus")
	v.SetDefault("postgres.password", "campus_password")
	v.SetDefault("postgres.database", "campus")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.run_migrations", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.rate_limit_prefix", "auth:ratelimit")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "campus")

	v.SetDefault("jwt.key_directory", "./secrets")
	v.SetDefault("jwt.access_token_ttl", "15m")
	v.SetDefault("jwt.refresh_token_ttl", "168h")
	v.SetDefault("jwt.issuer", "campus-auth")
	v.SetDefault("jwt.audience", "campus")

	v.SetDefault("security.bcrypt_cost", 12)
	v.SetDefault("security.max_login_attempts", 5)
	v.SetDefault("security.lockout_duration_minutes", 15)
	v.SetDefault("security.auto_verify_non_production", false)
	v.SetDefault("security.min_password_length", 8)
	v.SetDefault("security.min_password_strength", 0)

	v.SetDefault("tokens.email_verification_ttl", "24h")
	v.SetDefault("tokens.password_reset_ttl", "1h")
	v.SetDefault("tokens.purge_interval", "1h")

	v.SetDefault("rate_limit.auth.window", "15m")
	v.SetDefault("rate_limit.auth.max", 5)
	v.SetDefault("rate_limit.password_reset.window", "1h")
	v.SetDefault("rate_limit.password_reset.max", 3)
	v.SetDefault("rate_limit.non_production_multiplier", 20)

	v.SetDefault("revocation.enabled", false)
	v.SetDefault("revocation.key_prefix", "auth:revoked")

	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "campus-auth")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("probe.ttl", "30s")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "AUTH_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
