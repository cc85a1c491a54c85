// Package config provides configuration management for rulekeeper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/solatis/rulekeeper/internal/types"
)

// DatabaseURLEnv names the environment variable holding the database URL.
// Connection strings carry credentials and are never read from config files.
const DatabaseURLEnv = "RK_DATABASE_URL"

// ServerConfig holds configuration for the gRPC audience service.
type ServerConfig struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
	// MetricsPort serves /metrics over HTTP; 0 disables it.
	MetricsPort int
}

// RulesConfig bounds the recursion of the rules engine.
type RulesConfig struct {
	UserToUserDepthLimit int
	MaxAbilityDepth      int
}

// Config is the complete rulekeeper configuration.
type Config struct {
	Server ServerConfig
	Rules  RulesConfig
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           50061,
			RequestTimeout: 30 * time.Second,
			MetricsPort:    0,
		},
		Rules: RulesConfig{
			UserToUserDepthLimit: types.DefaultUserToUserDepthLimit,
			MaxAbilityDepth:      types.DefaultMaxAbilityDepth,
		},
	}
}

// Addr returns the host:port the gRPC server listens on.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseURL returns the database URL from the environment, or "" when unset.
// Accepted schemes are sqlite:// and postgres:// (or postgresql://).
func DatabaseURL() (string, error) {
	val := strings.TrimSpace(os.Getenv(DatabaseURLEnv))
	if val == "" {
		return "", nil
	}
	scheme, _, ok := strings.Cut(val, "://")
	if !ok {
		return "", fmt.Errorf("%s: format must be <scheme>://<location>", DatabaseURLEnv)
	}
	switch scheme {
	case "sqlite", "postgres", "postgresql":
		return val, nil
	default:
		return "", fmt.Errorf("%s: unsupported scheme %q (use sqlite or postgres)", DatabaseURLEnv, scheme)
	}
}
