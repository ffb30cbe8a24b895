package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix = "EXPERTFEED_"

	// InsecureJWTSecret is the development default; Validate rejects it outside
	// development.
	InsecureJWTSecret = "supersecretkey"
)

type Config struct {
	Addr          string        `yaml:"addr"`
	JWTSecret     string        `yaml:"jwt_secret"`
	APITimeout    time.Duration `yaml:"timeout"`
	DatabasePath  string        `yaml:"database_path"`
	TokenDuration time.Duration `yaml:"token_duration"`
	Redis         RedisConfig   `yaml:"redis"`
	Jobs          JobsConfig    `yaml:"jobs"`
	Stream        StreamConfig  `yaml:"stream"`
	Backend       BackendConfig `yaml:"backend"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JobsConfig controls the broadcast worker pool.
type JobsConfig struct {
	Workers     int `yaml:"workers"`
	MaxAttempts int `yaml:"max_attempts"`
}

// StreamConfig controls websocket feed sessions.
type StreamConfig struct {
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	Buffer       int           `yaml:"buffer"`
}

// BackendConfig configures the HTTP client for the profile and feed services.
type BackendConfig struct {
	BaseURL                 string        `yaml:"base_url"`
	Token                   string        `yaml:"token"`
	Timeout                 time.Duration `yaml:"timeout"`
	Retries                 int           `yaml:"retries"`
	Backoff                 time.Duration `yaml:"backoff"`
	CircuitFailureThreshold int           `yaml:"circuit_failure_threshold"`
	CircuitReset            time.Duration `yaml:"circuit_reset"`
}

// DefaultBackendConfig returns the client settings used when none are given.
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		BaseURL:                 "http://localhost:8080",
		Timeout:                 10 * time.Second,
		Retries:                 2,
		Backoff:                 250 * time.Millisecond,
		CircuitFailureThreshold: 5,
		CircuitReset:            30 * time.Second,
	}
}

// WithDefaults returns b with every unset field taken from
// DefaultBackendConfig.
func (b BackendConfig) WithDefaults() BackendConfig {
	def := DefaultBackendConfig()
	if b.BaseURL == "" {
		b.BaseURL = def.BaseURL
	}
	if b.Timeout <= 0 {
		b.Timeout = def.Timeout
	}
	if b.Retries <= 0 {
		b.Retries = def.Retries
	}
	if b.Backoff <= 0 {
		b.Backoff = def.Backoff
	}
	if b.CircuitFailureThreshold <= 0 {
		b.CircuitFailureThreshold = def.CircuitFailureThreshold
	}
	if b.CircuitReset <= 0 {
		b.CircuitReset = def.CircuitReset
	}
	return b
}

// LoadConfig builds a Config from the environment (and a .env file when one
// exists), then applies the YAML file at path on top if path is not empty.
func LoadConfig(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Addr:          getEnv("ADDR", ":8080"),
		JWTSecret:     getEnv("JWT_SECRET", InsecureJWTSecret),
		APITimeout:    getDuration("TIMEOUT", 15*time.Second),
		DatabasePath:  getEnv("DATABASE_PATH", "expertfeed.db"),
		TokenDuration: getDuration("TOKEN_DURATION", time.Hour),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		Backend: BackendConfig{
			BaseURL: getEnv("BACKEND_URL", ""),
			Token:   getEnv("BACKEND_TOKEN", ""),
		},
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	return cfg, nil
}

// Validate checks required settings and fills defaults for the optional ones.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required"))
	} else if c.JWTSecret == InsecureJWTSecret && !IsDevelopment() {
		errs = append(errs, fmt.Errorf("jwt_secret uses the insecure default; set %sJWT_SECRET or %sENV=development", envPrefix, envPrefix))
	}
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if c.APITimeout <= 0 {
		c.APITimeout = 15 * time.Second
	}
	if c.TokenDuration <= 0 {
		c.TokenDuration = time.Hour
	}
	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = 2
	}
	if c.Jobs.MaxAttempts <= 0 {
		c.Jobs.MaxAttempts = 5
	}
	if c.Stream.WriteTimeout <= 0 {
		c.Stream.WriteTimeout = 10 * time.Second
	}
	if c.Stream.PingInterval <= 0 {
		c.Stream.PingInterval = 30 * time.Second
	}
	if c.Stream.Buffer <= 0 {
		c.Stream.Buffer = 64
	}

	c.Backend = c.Backend.WithDefaults()
	return nil
}

// IsDevelopment reports whether EXPERTFEED_ENV is "development".
func IsDevelopment() bool {
	return os.Getenv(envPrefix+"ENV") == "development"
}

func getEnv(key, def string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}

	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getInt(key string, def int) int {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
