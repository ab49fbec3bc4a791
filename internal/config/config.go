package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// Session manager
	TCPPort           int           `env:"TCP_PORT" default:"8080"`
	MaxMessageSize    int           `env:"MAX_MESSAGE_SIZE" default:"1048576"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" default:"5s"`
	ClientIdleTimeout time.Duration `env:"CLIENT_IDLE_TIMEOUT" default:"0"`
	RateLimit         float64       `env:"RATE_LIMIT" default:"200"`
	RateBurst         int           `env:"RATE_BURST" default:"400"`

	// Discovery
	DiscoveryEnabled  bool          `env:"DISCOVERY_ENABLED" default:"true"`
	DiscoveryPort     int           `env:"DISCOVERY_PORT" default:"8079"`
	DiscoveryInterval time.Duration `env:"DISCOVERY_INTERVAL" default:"3s"`
	DiscoveryTargets  []string      `env:"DISCOVERY_TARGETS"`
	ServiceName       string        `env:"SERVICE_NAME" default:"PalmController"`

	// Admin API
	HTTPEnabled bool   `env:"HTTP_ENABLED" default:"false"`
	HTTPAddr    string `env:"HTTP_ADDR" default:"127.0.0.1:8081"`

	// Redis relay and volume state (empty URL disables)
	RedisURL      string `env:"REDIS_URL"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisChannel  string `env:"REDIS_CHANNEL" default:"palm:notify"`

	// Session audit (empty URL disables)
	DatabaseURL string `env:"DATABASE_URL"`

	// Authentication
	JWTSecret           string        `env:"JWT_SECRET"`
	TokenTTL            time.Duration `env:"TOKEN_TTL" default:"24h"`
	PairingPassword     string        `env:"PAIRING_PASSWORD"`
	PairingPasswordHash string        `env:"PAIRING_PASSWORD_HASH"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// a missing .env is fine, the process environment still applies
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: could not read .env file: %v\n", err)
	}

	config := &Config{}

	if err := loadEnvString(&config.GoEnv, "GO_ENV", "development"); err != nil {
		return nil, err
	}

	// Session manager
	if err := loadEnvInt(&config.TCPPort, "TCP_PORT", 8080); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.MaxMessageSize, "MAX_MESSAGE_SIZE", 1<<20); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.WriteTimeout, "WRITE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ClientIdleTimeout, "CLIENT_IDLE_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.RateLimit, "RATE_LIMIT", 200); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.RateBurst, "RATE_BURST", 400); err != nil {
		return nil, err
	}

	// Discovery
	if err := loadEnvBool(&config.DiscoveryEnabled, "DISCOVERY_ENABLED", true); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.DiscoveryPort, "DISCOVERY_PORT", 8079); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.DiscoveryInterval, "DISCOVERY_INTERVAL", 3*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvStringSlice(&config.DiscoveryTargets, "DISCOVERY_TARGETS", nil); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.ServiceName, "SERVICE_NAME", "PalmController"); err != nil {
		return nil, err
	}

	// Admin API
	if err := loadEnvBool(&config.HTTPEnabled, "HTTP_ENABLED", false); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.HTTPAddr, "HTTP_ADDR", "127.0.0.1:8081"); err != nil {
		return nil, err
	}

	// Redis
	if err := loadEnvString(&config.RedisURL, "REDIS_URL", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RedisPassword, "REDIS_PASSWORD", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RedisChannel, "REDIS_CHANNEL", "palm:notify"); err != nil {
		return nil, err
	}

	// Database
	if err := loadEnvString(&config.DatabaseURL, "DATABASE_URL", ""); err != nil {
		return nil, err
	}

	// Authentication
	if err := loadEnvString(&config.JWTSecret, "JWT_SECRET", ""); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.TokenTTL, "TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.PairingPassword, "PAIRING_PASSWORD", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.PairingPasswordHash, "PAIRING_PASSWORD_HASH", ""); err != nil {
		return nil, err
	}

	// Logging
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "text"); err != nil {
		return nil, err
	}
	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvBool(target *bool, key string, defaultValue bool) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvStringSlice(target *[]string, key string, defaultValue []string) error {
	if value := os.Getenv(key); value != "" {
		*target = nil
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				*target = append(*target, v)
			}
		}
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	// TCP_PORT 0 asks the OS for a free port
	if c.TCPPort < 0 || c.TCPPort > 65535 {
		errors = append(errors, "TCP_PORT must be between 0 and 65535")
	}
	if c.DiscoveryPort < 0 || c.DiscoveryPort > 65535 {
		errors = append(errors, "DISCOVERY_PORT must be between 0 and 65535")
	}
	if c.DiscoveryEnabled && c.DiscoveryPort == c.TCPPort && c.TCPPort != 0 {
		// different protocols, but the controller app expects distinct ports
		errors = append(errors, "DISCOVERY_PORT must differ from TCP_PORT")
	}
	if c.DiscoveryInterval <= 0 {
		errors = append(errors, "DISCOVERY_INTERVAL must be positive")
	}
	for _, target := range c.DiscoveryTargets {
		if _, _, err := net.SplitHostPort(target); err != nil {
			errors = append(errors, fmt.Sprintf("DISCOVERY_TARGETS entry %q is not host:port", target))
		}
	}
	if c.MaxMessageSize < 1024 {
		errors = append(errors, "MAX_MESSAGE_SIZE must be at least 1024 bytes")
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		errors = append(errors, "RATE_LIMIT and RATE_BURST must not be negative")
	}
	if c.WriteTimeout < 0 || c.ClientIdleTimeout < 0 {
		errors = append(errors, "WRITE_TIMEOUT and CLIENT_IDLE_TIMEOUT must not be negative")
	}

	if c.HTTPEnabled {
		if _, _, err := net.SplitHostPort(c.HTTPAddr); err != nil {
			errors = append(errors, "HTTP_ADDR must be host:port")
		}
	}

	// the JWT secret is optional, but a short one is worse than none
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		errors = append(errors, "JWT_SECRET should be at least 32 characters long")
	}
	if c.PairingPassword != "" && c.PairingPasswordHash != "" {
		errors = append(errors, "set only one of PAIRING_PASSWORD and PAIRING_PASSWORD_HASH")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// DiscoveryTargetAddrs resolves DISCOVERY_TARGETS.
func (c *Config) DiscoveryTargetAddrs() ([]*net.UDPAddr, error) {
	addrs := make([]*net.UDPAddr, 0, len(c.DiscoveryTargets))
	for _, target := range c.DiscoveryTargets {
		addr, err := net.ResolveUDPAddr("udp4", target)
		if err != nil {
			return nil, fmt.Errorf("resolve discovery target %s: %w", target, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
