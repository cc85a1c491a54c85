package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	d := DefaultConfig()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout.String())
	v.SetDefault("server.metrics_port", d.Server.MetricsPort)
	v.SetDefault("rules.user_to_user_depth_limit", d.Rules.UserToUserDepthLimit)
	v.SetDefault("rules.max_ability_depth", d.Rules.MaxAbilityDepth)

	// RK_SERVER_PORT overrides server.port
	v.SetEnvPrefix("RK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
			MetricsPort:    v.GetInt("server.metrics_port"),
		},
		Rules: RulesConfig{
			UserToUserDepthLimit: v.GetInt("rules.user_to_user_depth_limit"),
			MaxAbilityDepth:      v.GetInt("rules.max_ability_depth"),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks port ranges and positive timeout and depth limits.
func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port must be between 0 and 65535, got %d", cfg.Server.MetricsPort)
	}
	if cfg.Server.MetricsPort != 0 && cfg.Server.MetricsPort == cfg.Server.Port {
		return fmt.Errorf("metrics_port must differ from port %d", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Rules.UserToUserDepthLimit <= 0 {
		return fmt.Errorf("user_to_user_depth_limit must be positive, got %d", cfg.Rules.UserToUserDepthLimit)
	}
	if cfg.Rules.MaxAbilityDepth <= 0 {
		return fmt.Errorf("max_ability_depth must be positive, got %d", cfg.Rules.MaxAbilityDepth)
	}
	return nil
}

// validateNoSecretsInConfig keeps database credentials out of config files.
// InConfig ignores the environment, so RK_DATABASE_URL stays allowed.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("database_url") || v.InConfig("database.url") {
		return fmt.Errorf("database URL not allowed in config files (use RK_DATABASE_URL environment variable)")
	}
	return nil
}
